// Package migrations holds the Postgres schema, applied in file order.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
