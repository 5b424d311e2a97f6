package registry

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// NativeDecimals is the precision of the native gas token on supported chains.
const NativeDecimals = 18

var wei = decimal.New(1, NativeDecimals)

// ParseNative converts a human-readable native-unit amount ("1.5") into the
// chain's smallest unit as a big integer. Used when loading configured
// thresholds; persisted amounts are always already in the smallest unit.
func ParseNative(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid native amount %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("negative native amount %q", s)
	}
	scaled := d.Mul(wei)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("native amount %q has more than %d decimal places", s, NativeDecimals)
	}
	return scaled.BigInt(), nil
}

// FormatNative renders a smallest-unit amount as a native-unit decimal string.
func FormatNative(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, 0).Div(wei).String()
}

// ParseAmount decodes a store-encoded integer amount. The store encodes all
// monetary fields as base-10 strings; anything non-integer or negative is a
// corrupt record and is rejected rather than defaulted.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	return v, nil
}

// FormatAmount encodes an integer amount for the store.
func FormatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
