package object

import (
	"errors"
	"math"
	"math/big"
	"math/bits"

	"beamrt/internal/bignum"
	"beamrt/internal/heap"
	"beamrt/internal/term"
)

// errDivideByZero is returned by Divide for a zero integer divisor.
var errDivideByZero = errors.New("object: divide by zero")

// --- Float ------------------------------------------------------------

// NewFloat boxes an IEEE-754 double. The header's single payload word
// holds the raw bit pattern, not a wrapped term, since a float64's bits
// are not themselves a valid tagged word.
func NewFloat(h *heap.Heap, v float64) (term.Term, error) {
	ptr, err := h.Alloc(2, heap.FillUninitialized)
	if err != nil {
		return 0, err
	}
	h.SetWord(ptr, term.MakeHeader(1, term.SubtypeFloat))
	h.SetWord(ptr+1, term.Term(math.Float64bits(v)))
	return term.FromBoxed(ptr), nil
}

func IsFloat(h *heap.Heap, t term.Term) bool { return IsBoxedOfSubtype(h, t, term.SubtypeFloat) }

func FloatValue(h *heap.Heap, t term.Term) float64 {
	ptr := term.AsBoxed(t)
	return math.Float64frombits(uint64(h.Word(ptr + 1)))
}

// --- Bignum -------------------------------------------------------------

// NewBignum boxes an arbitrary-precision integer outside the SMALL_INT
// range. The magnitude's big.Word limbs are stored as raw heap words
// following a sign word; this assumes a 64-bit big.Word, true on every
// platform this runtime targets.
func NewBignum(h *heap.Heap, v *big.Int) (term.Term, error) {
	bits := v.Bits()
	n := len(bits)
	ptr, err := h.Alloc(n+2, heap.FillUninitialized)
	if err != nil {
		return 0, err
	}
	h.SetWord(ptr, term.MakeHeader(uint64(n+1), term.SubtypeBignum))
	sign := 0
	if v.Sign() < 0 {
		sign = -1
	} else if v.Sign() > 0 {
		sign = 1
	}
	h.SetWord(ptr+1, term.FromSmall(int64(sign)))
	for i := 0; i < n; i++ {
		h.SetWord(ptr+2+uint64(i), term.Term(uint64(bits[i])))
	}
	return term.FromBoxed(ptr), nil
}

func IsBignum(h *heap.Heap, t term.Term) bool { return IsBoxedOfSubtype(h, t, term.SubtypeBignum) }

// BignumValue reconstructs the big.Int held at t.
func BignumValue(h *heap.Heap, t term.Term) *big.Int {
	ptr := term.AsBoxed(t)
	arity, err := header(h, ptr, term.SubtypeBignum)
	if err != nil {
		panic(err)
	}
	sign := term.AsSmall(h.Word(ptr + 1))
	n := int(arity) - 1
	bits := make([]big.Word, n)
	for i := 0; i < n; i++ {
		bits[i] = big.Word(uint64(h.Word(ptr + 2 + uint64(i))))
	}
	v := new(big.Int).SetBits(bits)
	if sign < 0 {
		v.Neg(v)
	}
	return v
}

// --- generic numeric view -------------------------------------------------

// IsInteger reports whether t is a SMALL_INT or a boxed bignum.
func IsInteger(h *heap.Heap, t term.Term) bool {
	return term.IsSmall(t) || IsBignum(h, t)
}

// IsNumber reports whether t is any integer or a float.
func IsNumber(h *heap.Heap, t term.Term) bool {
	return IsInteger(h, t) || IsFloat(h, t)
}

// BigValue widens any integer term (small or bignum) to a big.Int.
func BigValue(h *heap.Heap, t term.Term) *big.Int {
	if term.IsSmall(t) {
		return big.NewInt(term.AsSmall(t))
	}
	return BignumValue(h, t)
}

// NormalizeInt boxes v as a SMALL_INT when it fits, otherwise allocates
// a bignum; this is the single choke point enforcing the invariant that
// an in-range integer is always a small, never a bignum, after
// arithmetic.
func NormalizeInt(h *heap.Heap, v *big.Int) (term.Term, error) {
	if bignum.FitsInt64(v) {
		iv := bignum.Int64(v)
		if term.FitsSmall(iv) {
			return term.FromSmall(iv), nil
		}
	}
	return NewBignum(h, v)
}

// Add implements the `+` fast path: two smalls add in Go's native int64
// arithmetic and overflow is detected before boxing; any bignum operand
// falls back to math/big.
func Add(h *heap.Heap, a, b term.Term) (term.Term, error) {
	if term.IsSmall(a) && term.IsSmall(b) {
		av, bv := term.AsSmall(a), term.AsSmall(b)
		sum := av + bv
		if term.FitsSmall(sum) && !addOverflows(av, bv, sum) {
			return term.FromSmall(sum), nil
		}
	}
	return NormalizeInt(h, bignum.Add(BigValue(h, a), BigValue(h, b)))
}

func Subtract(h *heap.Heap, a, b term.Term) (term.Term, error) {
	if term.IsSmall(a) && term.IsSmall(b) {
		av, bv := term.AsSmall(a), term.AsSmall(b)
		diff := av - bv
		if term.FitsSmall(diff) && !subOverflows(av, bv, diff) {
			return term.FromSmall(diff), nil
		}
	}
	return NormalizeInt(h, bignum.Sub(BigValue(h, a), BigValue(h, b)))
}

// Multiply widens both smalls to a double-width product check before
// committing to the fast path, matching the spec's "widened-precision
// multiply" strategy; a genuine bignum operand routes through the
// bignum package, which itself picks FFT multiplication once both
// magnitudes are large.
func Multiply(h *heap.Heap, a, b term.Term) (term.Term, error) {
	if term.IsSmall(a) && term.IsSmall(b) {
		av, bv := term.AsSmall(a), term.AsSmall(b)
		hi, lo := mulWide(av, bv)
		if (hi == 0 && lo >= 0) || (hi == -1 && lo < 0) {
			if term.FitsSmall(lo) {
				return term.FromSmall(lo), nil
			}
		}
	}
	return NormalizeInt(h, bignum.Mul(BigValue(h, a), BigValue(h, b)))
}

// Divide implements truncating integer division when both operands are
// integers, promoting to float division when either is a float.
func Divide(h *heap.Heap, a, b term.Term) (term.Term, error) {
	if IsFloat(h, a) || IsFloat(h, b) {
		av, bv := toFloat(h, a), toFloat(h, b)
		return NewFloat(h, av/bv)
	}
	bv := BigValue(h, b)
	if bv.Sign() == 0 {
		return 0, errDivideByZero
	}
	q, _ := bignum.QuoRem(BigValue(h, a), bv)
	return NormalizeInt(h, q)
}

func toFloat(h *heap.Heap, t term.Term) float64 {
	if IsFloat(h, t) {
		return FloatValue(h, t)
	}
	bv := BigValue(h, t)
	f := new(big.Float).SetInt(bv)
	v, _ := f.Float64()
	return v
}

func addOverflows(a, b, sum int64) bool {
	return ((a ^ sum) & (b ^ sum)) < 0
}

func subOverflows(a, b, diff int64) bool {
	return ((a ^ b) & (a ^ diff)) < 0
}

// mulWide returns the 128-bit product of a*b split into high/low int64
// halves, used to detect small*small overflow without allocating.
func mulWide(a, b int64) (hi, lo int64) {
	hiU, loU := bits.Mul64(uint64(a), uint64(b))
	hi = int64(hiU)
	lo = int64(loU)
	if a < 0 {
		hi -= b
	}
	if b < 0 {
		hi -= a
	}
	return hi, lo
}
