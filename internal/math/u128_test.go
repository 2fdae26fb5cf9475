package math_test

import (
	"encoding/json"
	"testing"

	"NaiVault/internal/math"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test: parsing
// ============================================================================

func TestParseU128_Valid(t *testing.T) {
	cases := map[string]string{
		"0":    "0",
		"700":  "700",
		"0700": "700",
		"340282366920938463463374607431768211455": "340282366920938463463374607431768211455",
	}
	for in, want := range cases {
		got, err := math.ParseU128(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got.String())
	}
}

func TestParseU128_Rejects(t *testing.T) {
	for _, in := range []string{"", "-1", "+5", "1.5", "1e3", " 7", "0x10",
		"340282366920938463463374607431768211456"} {
		_, err := math.ParseU128(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestParseU128JSON(t *testing.T) {
	v, err := math.ParseU128JSON([]byte(`"700"`))
	require.NoError(t, err)
	assert.Equal(t, 0, v.Cmp(math.NewU128(700)))

	for _, payload := range []string{`700`, `"abc"`, `{"amount":"700"}`, ``, `null`, `"-3"`} {
		_, err := math.ParseU128JSON([]byte(payload))
		assert.Error(t, err, "payload %q", payload)
	}
}

// ============================================================================
// Test: arithmetic
// ============================================================================

func TestU128_AddOverflow(t *testing.T) {
	_, err := math.MaxU128.Add(math.NewU128(1))
	assert.ErrorIs(t, err, math.ErrOverflow)

	sum, err := math.NewU128(300).Add(math.NewU128(400))
	require.NoError(t, err)
	assert.Equal(t, "700", sum.String())
}

func TestU128_SubUnderflow(t *testing.T) {
	_, err := math.NewU128(1).Sub(math.NewU128(2))
	assert.ErrorIs(t, err, math.ErrUnderflow)
}

func TestU128_JSONRoundTripIsQuoted(t *testing.T) {
	b, err := json.Marshal(math.NewU128(42))
	require.NoError(t, err)
	assert.Equal(t, `"42"`, string(b))
}

func TestU128_Bytes16BigEndian(t *testing.T) {
	b := math.NewU128(0x0102).Bytes16()
	assert.Equal(t, byte(0x01), b[14])
	assert.Equal(t, byte(0x02), b[15])
}

// ============================================================================
// Test: display units
// ============================================================================

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "1.5", math.FormatUnits(math.MustParseU128("1500000000000000000"), 18))
	assert.Equal(t, "0", math.FormatUnits(math.NewU128(0), 18))
	assert.Equal(t, "12.34", math.FormatUnits(math.NewU128(1234), 2))
}
