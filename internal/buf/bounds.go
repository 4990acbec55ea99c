package buf

import (
	"math"
	"math/bits"
)

// AddOverflowSafe adds a and b, returning ok = false when the result would overflow int.
func AddOverflowSafe(a, b int) (int, bool) {
	switch {
	case b > 0 && a > math.MaxInt-b:
		return 0, false
	case b < 0 && a < math.MinInt-b:
		return 0, false
	default:
		return a + b, true
	}
}

// MulOverflowSafe multiplies a and b, returning ok = false when the result would overflow int.
func MulOverflowSafe(a, b int) (int, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	hi, lo := bits.Mul64(uint64(abs(a)), uint64(abs(b)))
	if hi != 0 || lo > math.MaxInt {
		return 0, false
	}
	if (a < 0) != (b < 0) {
		return -int(lo), true
	}
	return int(lo), true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// IsPow2 reports whether n is a positive power of two.
func IsPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// AlignUp rounds n up to a multiple of align, which must be a power of two.
// ok is false when n is negative or the rounded value overflows int.
func AlignUp(n, align int) (int, bool) {
	if n < 0 {
		return 0, false
	}
	sum, ok := AddOverflowSafe(n, align-1)
	if !ok {
		return 0, false
	}
	return sum &^ (align - 1), true
}

// AlignDown rounds n down to a multiple of align, which must be a power of two.
func AlignDown(n, align int) int {
	return n &^ (align - 1)
}

// NextPow2 returns the smallest power of two >= n. n must be positive and
// at most 1<<62.
func NextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
