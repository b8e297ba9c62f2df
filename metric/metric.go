// Package metric provides the distance methods used by vector search and
// reranking.
package metric

import (
	"fmt"
	"math"
)

// Method selects how query/vector similarity is computed.
type Method int

const (
	// Cosine scores by cosine similarity.
	Cosine Method = iota
	// L2 scores by euclidean distance, converted to a similarity.
	L2
	// Dot scores by raw dot product.
	Dot
)

// String returns the method name.
func (m Method) String() string {
	switch m {
	case Cosine:
		return "cosine"
	case L2:
		return "l2"
	case Dot:
		return "dot"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseMethod resolves a configured method name.
func ParseMethod(name string) (Method, error) {
	switch name {
	case "", "cosine":
		return Cosine, nil
	case "l2":
		return L2, nil
	case "dot":
		return Dot, nil
	default:
		return 0, fmt.Errorf("metric: unknown distance method %q", name)
	}
}

// DotProduct calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func DotProduct(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// SquaredL2 calculates the squared euclidean distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Magnitude calculates the length of a vector.
func Magnitude(v []float32) float32 {
	return float32(math.Sqrt(float64(DotProduct(v, v))))
}

// CosineSimilarity calculates the cosine similarity of two vectors.
// Zero-magnitude inputs score 0.
func CosineSimilarity(a, b []float32) float32 {
	ma, mb := Magnitude(a), Magnitude(b)
	if ma == 0 || mb == 0 {
		return 0
	}
	return DotProduct(a, b) / (ma * mb)
}

// SimilarityFunc scores two vectors; higher is better.
type SimilarityFunc func(a, b []float32) float32

// Similarity returns the scoring function for the given method.
//
// L2 distances are folded into 1/(1+d) so that identical vectors score 1
// and scores stay comparable across methods (higher is better).
func Similarity(m Method) (SimilarityFunc, error) {
	switch m {
	case Cosine:
		return CosineSimilarity, nil
	case L2:
		return func(a, b []float32) float32 {
			return 1 / (1 + SquaredL2(a, b))
		}, nil
	case Dot:
		return DotProduct, nil
	default:
		return nil, fmt.Errorf("metric: unsupported method %v", m)
	}
}
