package safemath

import (
	"errors"
	"math/bits"
)

var ErrOverflow = errors.New("number overflow")

// Add64 returns a+b and whether the sum fits in 64 bits. Deposit balances
// and protocol deadlines must never wrap silently.
func Add64(a, b uint64) (uint64, bool) {
	v, carry := bits.Add64(a, b, 0)
	return v, carry == 0
}

// Sub64 returns a-b and whether the subtraction did not underflow.
func Sub64(a, b uint64) (uint64, bool) {
	v, borrow := bits.Sub64(a, b, 0)
	return v, borrow == 0
}

// Mul64 returns a*b and whether the product fits in 64 bits.
func Mul64(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi == 0
}
