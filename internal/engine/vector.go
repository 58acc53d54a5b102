package engine

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 for mismatched lengths, empty vectors, or zero-magnitude input
// rather than dividing by zero.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	dot := floats.Dot(a, b)
	denom := math.Sqrt(floats.Dot(a, a)) * math.Sqrt(floats.Dot(b, b))
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// normalize performs in-place L2 normalization. A zero vector is left as-is.
func normalize(vec []float64) {
	sum := floats.Dot(vec, vec)
	if sum == 0 {
		return
	}
	floats.Scale(1/math.Sqrt(sum), vec)
}

// normalized returns an L2-normalized copy, or nil for an empty input.
func normalized(vec []float64) []float64 {
	if len(vec) == 0 {
		return nil
	}
	out := make([]float64, len(vec))
	copy(out, vec)
	normalize(out)
	return out
}

func cloneVec(vec []float64) []float64 {
	if vec == nil {
		return nil
	}
	out := make([]float64, len(vec))
	copy(out, vec)
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
