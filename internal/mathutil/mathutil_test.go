package mathutil

import "testing"

func TestClip3(t *testing.T) {
	tests := []struct {
		lo, hi, v, want int
	}{
		{0, 51, -3, 0},
		{0, 51, 60, 51},
		{0, 51, 22, 22},
		{-128, 127, 127, 127},
	}
	for _, tc := range tests {
		if got := Clip3(tc.lo, tc.hi, tc.v); got != tc.want {
			t.Errorf("Clip3(%d, %d, %d) = %d, want %d", tc.lo, tc.hi, tc.v, got, tc.want)
		}
	}
	if got := Clip3(0.0, 0.5, 0.75); got != 0.5 {
		t.Errorf("Clip3 float = %v, want 0.5", got)
	}
}

func TestLog2(t *testing.T) {
	for i := 0; i < 12; i++ {
		if got := Log2(1 << i); got != i {
			t.Errorf("Log2(%d) = %d, want %d", 1<<i, got, i)
		}
	}
	if got := CeilLog2(5); got != 3 {
		t.Errorf("CeilLog2(5) = %d, want 3", got)
	}
	if got := CeilLog2(1); got != 0 {
		t.Errorf("CeilLog2(1) = %d, want 0", got)
	}
}

func TestRedundantSignBits(t *testing.T) {
	tests := []struct {
		x    int32
		want int
	}{
		{0, 0},
		{-1, 15},
		{1, 14},
		{63, 9},
		{-64, 9},
		{32767, 0},
	}
	for _, tc := range tests {
		if got := RedundantSignBits(tc.x); got != tc.want {
			t.Errorf("RedundantSignBits(%d) = %d, want %d", tc.x, got, tc.want)
		}
	}
}

func TestClipPel(t *testing.T) {
	if got := ClipPel(300, 8); got != 255 {
		t.Errorf("ClipPel(300, 8) = %d", got)
	}
	if got := ClipPel(-4, 10); got != 0 {
		t.Errorf("ClipPel(-4, 10) = %d", got)
	}
	if got := ClipPel(1000, 10); got != 1000 {
		t.Errorf("ClipPel(1000, 10) = %d", got)
	}
}
