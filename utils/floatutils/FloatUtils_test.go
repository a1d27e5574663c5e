package floatutils

import (
	"testing"

	"gonum.org/v1/gonum/spatial/r1"
)

func TestClipInterval(t *testing.T) {
	bounds := r1.Interval{Min: -2, Max: 2}

	tests := []struct {
		value, want float64
	}{
		{0.5, 0.5},
		{-3, -2},
		{3, 2},
	}

	for _, test := range tests {
		if got := ClipInterval(test.value, bounds); got != test.want {
			t.Errorf("ClipInterval(%v, %v): got %v, want %v",
				test.value, bounds, got, test.want)
		}
	}
}

func TestClip(t *testing.T) {
	tests := []struct {
		value, min, max, want float64
	}{
		{0.5, -1, 1, 0.5},
		{-1.5, -1, 1, -1},
		{1.5, -1, 1, 1},
		{-1, -1, 1, -1},
		{1, -1, 1, 1},
	}

	for _, test := range tests {
		if got := Clip(test.value, test.min, test.max); got != test.want {
			t.Errorf("Clip(%v, %v, %v): got %v, want %v", test.value,
				test.min, test.max, got, test.want)
		}
	}
}

func TestMaxSlice(t *testing.T) {
	max, indices := MaxSlice([]float64{1, 3, 2, 3, 0})
	if max != 3 {
		t.Errorf("max: got %v, want 3", max)
	}
	if len(indices) != 2 || indices[0] != 1 || indices[1] != 3 {
		t.Errorf("indices: got %v, want [1 3]", indices)
	}
}

func TestMinMaxVariadic(t *testing.T) {
	if got := Min(3, 1, 2); got != 1 {
		t.Errorf("Min: got %v, want 1", got)
	}
	if got := Max(3, 1, 2); got != 3 {
		t.Errorf("Max: got %v, want 3", got)
	}
}

func TestMean(t *testing.T) {
	if got := Mean(1, 2, 3, 4); got != 2.5 {
		t.Errorf("Mean: got %v, want 2.5", got)
	}
}
