package buf

import (
	"math"
	"testing"
)

func TestAddOverflowSafe(t *testing.T) {
	if sum, ok := AddOverflowSafe(10, 5); !ok || sum != 15 {
		t.Fatalf("AddOverflowSafe(10,5)=%d,%v want 15,true", sum, ok)
	}
	if _, ok := AddOverflowSafe(math.MaxInt, 1); ok {
		t.Fatalf("expected overflow when adding to MaxInt")
	}
	if _, ok := AddOverflowSafe(math.MinInt, -1); ok {
		t.Fatalf("expected underflow when subtracting from MinInt")
	}
}

func TestMulOverflowSafe(t *testing.T) {
	tests := []struct {
		a, b   int
		want   int
		wantOK bool
	}{
		{0, 5, 0, true},
		{8, 16, 128, true},
		{-8, 16, -128, true},
		{-8, -16, 128, true},
		{math.MaxInt, 2, 0, false},
		{math.MaxInt / 2, 3, 0, false},
	}
	for _, tt := range tests {
		got, ok := MulOverflowSafe(tt.a, tt.b)
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Fatalf("MulOverflowSafe(%d,%d)=%d,%v want %d,%v", tt.a, tt.b, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestAlignHelpers(t *testing.T) {
	tests := []struct {
		n, align, up, down int
	}{
		{0, 16, 0, 0},
		{1, 16, 16, 0},
		{16, 16, 16, 16},
		{17, 16, 32, 16},
		{4095, 4096, 4096, 0},
	}
	for _, tt := range tests {
		up, ok := AlignUp(tt.n, tt.align)
		if !ok || up != tt.up {
			t.Fatalf("AlignUp(%d,%d)=%d,%v want %d", tt.n, tt.align, up, ok, tt.up)
		}
		if down := AlignDown(tt.n, tt.align); down != tt.down {
			t.Fatalf("AlignDown(%d,%d)=%d want %d", tt.n, tt.align, down, tt.down)
		}
	}
	if _, ok := AlignUp(math.MaxInt, 16); ok {
		t.Fatalf("AlignUp should overflow near MaxInt")
	}
	if _, ok := AlignUp(-1, 16); ok {
		t.Fatalf("AlignUp should reject negative sizes")
	}
}

func TestPow2Helpers(t *testing.T) {
	for _, n := range []int{1, 2, 128, 4096, 1 << 20} {
		if !IsPow2(n) {
			t.Fatalf("IsPow2(%d) = false", n)
		}
	}
	for _, n := range []int{0, -4, 3, 192, 4097} {
		if IsPow2(n) {
			t.Fatalf("IsPow2(%d) = true", n)
		}
	}
	tests := map[int]int{0: 1, 1: 1, 2: 2, 3: 4, 129: 256, 192: 256, 4096: 4096, 4097: 8192}
	for in, want := range tests {
		if got := NextPow2(in); got != want {
			t.Fatalf("NextPow2(%d)=%d want %d", in, got, want)
		}
	}
}
