// Package bignum bridges the tagged-word small integer range to
// arbitrary-precision integers for the cases arithmetic overflows a
// SMALL_INT: multiplication of two large magnitudes (via bigfft) and the
// add/sub/div fallbacks built directly on math/big.
package bignum

import (
	"math/big"

	"github.com/remyoudompheng/bigfft"
	"modernc.org/mathutil"
)

// fftThresholdWords is the magnitude length (in 64-bit big.Word units)
// above which bigfft's FFT multiplication outperforms math/big's
// schoolbook/Karatsuba multiply; below it we just call big.Int.Mul.
const fftThresholdWords = 32

// Mul multiplies two arbitrary-precision integers, routing through
// bigfft once both operands are large enough for FFT multiplication to
// pay for itself.
func Mul(a, b *big.Int) *big.Int {
	if len(a.Bits()) >= fftThresholdWords && len(b.Bits()) >= fftThresholdWords {
		return bigfft.Mul(a, b)
	}
	return new(big.Int).Mul(a, b)
}

func Add(a, b *big.Int) *big.Int { return new(big.Int).Add(a, b) }
func Sub(a, b *big.Int) *big.Int { return new(big.Int).Sub(a, b) }

// QuoRem implements Erlang-style truncating integer division: quotient
// truncates toward zero, remainder takes the sign of the dividend.
func QuoRem(a, b *big.Int) (q, r *big.Int) {
	q, r = new(big.Int), new(big.Int)
	q.QuoRem(a, b, r)
	return q, r
}

// FitsInt64 reports whether n fits in a native int64, using mathutil's
// platform-width bounds to guard the cast rather than re-deriving them,
// matching the check performed just before a bignum is demoted back to
// a SMALL_INT.
func FitsInt64(n *big.Int) bool {
	if !n.IsInt64() {
		return false
	}
	v := n.Int64()
	return v >= mathutil.MinInt64 && v <= mathutil.MaxInt64
}

// Int64 returns n as an int64; the result is not meaningful unless
// FitsInt64(n), which callers check first.
func Int64(n *big.Int) int64 { return n.Int64() }

// FromInt64 is a convenience wrapper so call sites don't import math/big
// just to box a small overflow result.
func FromInt64(v int64) *big.Int { return big.NewInt(v) }
