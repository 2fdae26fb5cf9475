package math

import (
	"github.com/shopspring/decimal"
)

// UnitConfig describes how a token's integer base units map to display units.
type UnitConfig struct {
	Symbol   string
	Decimals int32
}

var (
	// NAIUnits is the debt token. 1 NAI = 10^18 base units.
	NAIUnits = UnitConfig{Symbol: "NAI", Decimals: 18}
)

// FormatUnits renders a base-unit amount as a decimal string in display units.
// FormatUnits(1500000000000000000, 18) == "1.5".
func FormatUnits(amount U128, decimals int32) string {
	return decimal.NewFromBigInt(amount.BigInt(), -decimals).String()
}
