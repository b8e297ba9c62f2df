package metric

import (
	"math"
	"testing"
)

func almostEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func TestDotProduct(t *testing.T) {
	if got := DotProduct([]float32{1, 2, 3}, []float32{4, 5, 6}); got != 32 {
		t.Fatalf("DotProduct=%f, want 32", got)
	}
}

func TestSquaredL2(t *testing.T) {
	if got := SquaredL2([]float32{0, 0}, []float32{3, 4}); got != 25 {
		t.Fatalf("SquaredL2=%f, want 25", got)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); !almostEqual(got, 1) {
		t.Fatalf("identical vectors: %f, want 1", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); !almostEqual(got, 0) {
		t.Fatalf("orthogonal vectors: %f, want 0", got)
	}
	if got := CosineSimilarity([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Fatalf("zero magnitude: %f, want 0", got)
	}
}

func TestSimilarity_SelfIsMax(t *testing.T) {
	q := []float32{0.5, -0.25, 1}
	other := []float32{0.1, 0.9, -1}
	for _, m := range []Method{Cosine, L2} {
		fn, err := Similarity(m)
		if err != nil {
			t.Fatal(err)
		}
		if fn(q, q) <= fn(q, other) {
			t.Fatalf("%v: self score should exceed other", m)
		}
	}
}

func TestParseMethod(t *testing.T) {
	for name, want := range map[string]Method{"": Cosine, "cosine": Cosine, "l2": L2, "dot": Dot} {
		got, err := ParseMethod(name)
		if err != nil || got != want {
			t.Fatalf("ParseMethod(%q)=%v,%v", name, got, err)
		}
	}
	if _, err := ParseMethod("hamming"); err == nil {
		t.Fatal("expected error for unknown method")
	}
}
