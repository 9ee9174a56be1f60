package main

import (
	"math"
	"testing"
)

func TestReduceOnPlateau(t *testing.T) {
	cases := []struct {
		lr    float64
		minLR float64
		want  float64
	}{
		{0.01, 0.0, 0.002},
		{0.002, 0.0, 0.0004},
		// decay clamps at the floor instead of skipping the reduction
		{0.001, 0.0005, 0.0005},
		{0.0005, 0.0005, 0.0005},
	}

	for _, tc := range cases {
		got := reduceOnPlateau(tc.lr, tc.minLR)
		if math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("lr %v min %v: want %v, got %v", tc.lr, tc.minLR, tc.want, got)
		}
	}
}
