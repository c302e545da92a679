package vector

// InnerProduct returns the inner product of two vectors. For L2-normalized
// vectors this equals their cosine similarity.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i] * b[i])
	}
	return dot
}
