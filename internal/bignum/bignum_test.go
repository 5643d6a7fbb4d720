package bignum

import (
	"math/big"
	"testing"
)

func TestAddSubMul(t *testing.T) {
	a := big.NewInt(123456789)
	b := big.NewInt(987654321)
	if Add(a, b).Cmp(big.NewInt(123456789+987654321)) != 0 {
		t.Fatalf("Add mismatch")
	}
	if Sub(b, a).Cmp(big.NewInt(987654321-123456789)) != 0 {
		t.Fatalf("Sub mismatch")
	}
	if Mul(a, b).Cmp(new(big.Int).Mul(a, b)) != 0 {
		t.Fatalf("Mul mismatch")
	}
}

func TestMulLargeUsesFFTPathButMatchesSchoolbook(t *testing.T) {
	a := new(big.Int).Lsh(big.NewInt(1), 4096)
	a.Sub(a, big.NewInt(1))
	b := new(big.Int).Lsh(big.NewInt(1), 4096)
	b.Add(b, big.NewInt(12345))
	want := new(big.Int).Mul(a, b)
	if Mul(a, b).Cmp(want) != 0 {
		t.Fatalf("large Mul result mismatch")
	}
}

func TestQuoRemTruncatesTowardZero(t *testing.T) {
	q, r := QuoRem(big.NewInt(-7), big.NewInt(2))
	if q.Cmp(big.NewInt(-3)) != 0 {
		t.Fatalf("quotient = %v, want -3 (truncation toward zero)", q)
	}
	if r.Cmp(big.NewInt(-1)) != 0 {
		t.Fatalf("remainder = %v, want -1 (sign of dividend)", r)
	}
}

func TestFitsInt64Boundaries(t *testing.T) {
	if !FitsInt64(FromInt64(1234)) {
		t.Fatalf("small value should fit in int64")
	}
	tooBig := new(big.Int).Lsh(big.NewInt(1), 100)
	if FitsInt64(tooBig) {
		t.Fatalf("value far beyond int64 range should not fit")
	}
}

func TestInt64RoundTrip(t *testing.T) {
	n := FromInt64(-42)
	if Int64(n) != -42 {
		t.Fatalf("Int64 round trip = %d, want -42", Int64(n))
	}
}
