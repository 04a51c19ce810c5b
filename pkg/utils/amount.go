// Package utils holds small helpers shared across schemes: amount
// conversion, hex checks and envelope validation.
package utils

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToAtomic converts a human-readable decimal amount ("1.50") into the
// asset's smallest unit ("1500000" for 6 decimals). Fractional dust beyond
// the asset's precision is rejected rather than silently truncated.
func ToAtomic(human string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(human)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", human, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: negative", human)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", human, decimals)
	}
	return scaled.BigInt(), nil
}

// FromAtomic converts a smallest-unit amount into its human-readable
// decimal string, trimming trailing zeros.
func FromAtomic(atomic *big.Int, decimals int) string {
	return decimal.NewFromBigInt(atomic, -int32(decimals)).String()
}

// FromAtomicString is FromAtomic over a decimal string in smallest units.
func FromAtomicString(atomic string, decimals int) (string, error) {
	v, ok := new(big.Int).SetString(atomic, 10)
	if !ok {
		return "", fmt.Errorf("invalid atomic amount %q", atomic)
	}
	return FromAtomic(v, decimals), nil
}
