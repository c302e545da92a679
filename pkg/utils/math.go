package utils

import "math"

// NormalizeL2 scales the vector in place to unit L2 norm. A zero vector
// is left untouched so callers never divide by zero.
func NormalizeL2(v []float32) {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range v {
		v[i] *= inv
	}
}
