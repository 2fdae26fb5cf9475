package math

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow  = errors.New("u128: overflow")
	ErrUnderflow = errors.New("u128: underflow")
	ErrInvalid   = errors.New("u128: invalid value")
)

// U128 is an unsigned 128-bit integer. The zero value is 0.
//
// Arithmetic never wraps: Add and Sub return ErrOverflow / ErrUnderflow instead.
// JSON encoding is a quoted base-10 string ("700"), the usual wire form for
// amounts that do not fit a float64.
type U128 struct {
	v uint256.Int
}

// MaxU128 is 2^128 - 1.
var MaxU128 = func() U128 {
	var m U128
	m.v.SetAllOne()
	m.v.Rsh(&m.v, 128)
	return m
}()

func NewU128(x uint64) U128 {
	var a U128
	a.v.SetUint64(x)
	return a
}

// ParseU128 parses a base-10 string. Only ASCII digits are accepted.
func ParseU128(s string) (U128, error) {
	if s == "" || len(s) > 39 {
		return U128{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return U128{}, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
	}

	var a U128
	if err := a.v.SetFromDecimal(s); err != nil {
		return U128{}, fmt.Errorf("%w: %q: %v", ErrInvalid, s, err)
	}
	if a.v.BitLen() > 128 {
		return U128{}, fmt.Errorf("%w: %s exceeds 128 bits", ErrOverflow, s)
	}
	return a, nil
}

// MustParseU128 is ParseU128 for constants and tests.
func MustParseU128(s string) U128 {
	a, err := ParseU128(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromBig converts a non-negative big.Int that fits in 128 bits.
func FromBig(b *big.Int) (U128, error) {
	if b.Sign() < 0 {
		return U128{}, fmt.Errorf("%w: negative value %s", ErrInvalid, b)
	}
	var a U128
	if overflow := a.v.SetFromBig(b); overflow || a.v.BitLen() > 128 {
		return U128{}, fmt.Errorf("%w: %s exceeds 128 bits", ErrOverflow, b)
	}
	return a, nil
}

func (a U128) Add(b U128) (U128, error) {
	var r U128
	r.v.Add(&a.v, &b.v) // both < 2^128, cannot wrap 256 bits
	if r.v.BitLen() > 128 {
		return U128{}, fmt.Errorf("%w: %s + %s", ErrOverflow, a, b)
	}
	return r, nil
}

func (a U128) Sub(b U128) (U128, error) {
	var r U128
	if _, underflow := r.v.SubOverflow(&a.v, &b.v); underflow {
		return U128{}, fmt.Errorf("%w: %s - %s", ErrUnderflow, a, b)
	}
	return r, nil
}

func (a U128) Cmp(b U128) int {
	return a.v.Cmp(&b.v)
}

func (a U128) IsZero() bool {
	return a.v.IsZero()
}

func (a U128) String() string {
	return a.v.Dec()
}

func (a U128) BigInt() *big.Int {
	return a.v.ToBig()
}

// Bytes16 returns the big-endian 16-byte encoding, used for state hashing.
func (a U128) Bytes16() [16]byte {
	full := a.v.Bytes32()
	var out [16]byte
	copy(out[:], full[16:])
	return out
}

func (a U128) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *U128) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: expected quoted decimal string: %v", ErrInvalid, err)
	}
	parsed, err := ParseU128(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseU128JSON parses a JSON document holding exactly one U128 value,
// e.g. the raw reply payload of a mint call.
func ParseU128JSON(payload []byte) (U128, error) {
	var a U128
	if err := json.Unmarshal(payload, &a); err != nil {
		return U128{}, err
	}
	return a, nil
}
