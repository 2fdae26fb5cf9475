package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeCollateral AccountSubType = iota
	SubTypeBorrowed

	// External sub-types. External accounts mirror value that crossed the vault
	// boundary and are tracked as positive outstanding amounts.
	SubTypeExternalCustody
	SubTypeExternalMinted
)

// DebtToken is the token id under which borrowed NAI is booked.
const DebtToken = "nai"

var ErrInvalidAccountID = errors.New("invalid account id")

// ValidateAccountID checks an account or token contract identifier:
// 2-64 characters of lowercase letters, digits and the separators . _ -
func ValidateAccountID(id string) error {
	if len(id) < 2 || len(id) > 64 {
		return fmt.Errorf("%w: %q: length must be 2..64", ErrInvalidAccountID, id)
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '-':
			if i == 0 || i == len(id)-1 {
				return fmt.Errorf("%w: %q: separator at edge", ErrInvalidAccountID, id)
			}
		default:
			return fmt.Errorf("%w: %q: invalid character %q", ErrInvalidAccountID, id, c)
		}
	}
	return nil
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope   AccountScope
	Owner   string // account id for users, empty for external accounts
	SubType AccountSubType
	Token   string
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(account string, subType AccountSubType, token string) AccountKey {
	return AccountKey{
		Scope:   AccountScopeUser,
		Owner:   account,
		SubType: subType,
		Token:   token,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, token string) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		Token:   token,
	}
}

// IsExternal reports whether the key belongs to the external boundary.
func (k AccountKey) IsExternal() bool {
	return k.Scope == AccountScopeExternal
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.Owner, k.SubType.String(), k.Token)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.SubType.String(), k.Token)
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	switch {
	case len(parts) == 4 && parts[0] == "user":
		st, ok := subTypeFromName(parts[2])
		if !ok || st > SubTypeBorrowed {
			return AccountKey{}, fmt.Errorf("unknown user sub-type in %q", path)
		}
		return NewUserAccountKey(parts[1], st, parts[3]), nil
	case len(parts) == 3 && parts[0] == "external":
		st, ok := subTypeFromName(parts[1])
		if !ok || st < SubTypeExternalCustody {
			return AccountKey{}, fmt.Errorf("unknown external sub-type in %q", path)
		}
		return NewExternalAccountKey(st, parts[2]), nil
	}
	return AccountKey{}, fmt.Errorf("malformed account path %q", path)
}

var subTypeNames = map[AccountSubType]string{
	SubTypeCollateral:      "collateral",
	SubTypeBorrowed:        "borrowed",
	SubTypeExternalCustody: "custody",
	SubTypeExternalMinted:  "minted",
}

func (t AccountSubType) String() string {
	if name, ok := subTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

func subTypeFromName(name string) (AccountSubType, bool) {
	for st, n := range subTypeNames {
		if n == name {
			return st, true
		}
	}
	return 0, false
}
