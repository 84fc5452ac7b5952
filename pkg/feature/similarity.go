package feature

import "math"

// Epsilon guards the cosine denominator against zero-variance windows
const Epsilon = 1e-12

// Cosine returns dot(a,b) / (|a|*|b| + Epsilon).
// Vectors of different length score 0. Near-flat windows produce small, unstable
// values; callers treat them as low similarity rather than an error.
func Cosine(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	return dot / (math.Sqrt(normA)*math.Sqrt(normB) + Epsilon)
}

// Norm returns the euclidean norm of v
func Norm(v Vector) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// ToFloat32 converts the vector for vector stores that take float32 embeddings
func (v Vector) ToFloat32() []float32 {
	result := make([]float32, len(v))
	for i, x := range v {
		result[i] = float32(x)
	}
	return result
}
