package gpu

import "testing"

// The weighted-sum formulation reproduces both endpoints exactly; the
// add-scaled-difference form loses the upper endpoint for wide ranges.
func TestLerpEndpointsAreExact(t *testing.T) {
	cases := [][2]float32{
		{0.1, 0.3},
		{0.5, 2},
		{1e8, 1},
	}
	for _, c := range cases {
		if got := lerp(c[0], c[1], 0); got != c[0] {
			t.Errorf("lerp(%v, %v, 0) = %v, want %v", c[0], c[1], got, c[0])
		}
		if got := lerp(c[0], c[1], 1); got != c[1] {
			t.Errorf("lerp(%v, %v, 1) = %v, want %v", c[0], c[1], got, c[1])
		}
	}
}
