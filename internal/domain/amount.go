package domain

import "math/big"

// ScaleAmount converts a raw integer token amount to units with the given decimals.
func ScaleAmount(raw *big.Int, decimals uint8) float64 {
	if raw == nil {
		return 0
	}
	f := new(big.Float).SetInt(raw)
	if decimals > 0 {
		f.Quo(f, new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)))
	}
	v, _ := f.Float64()
	return v
}

// ParseRawAmount parses a base-10 raw integer amount. Empty strings are zero.
func ParseRawAmount(s string) (*big.Int, bool) {
	if s == "" {
		return new(big.Int), true
	}
	return new(big.Int).SetString(s, 10)
}
