package search

import (
	"math"
	"testing"
)

func TestCosineSim_IdenticalAndOrthogonal(t *testing.T) {
	a := []float32{1, 2, 3}
	if got := CosineSim(a, a); math.Abs(got-1) > 1e-9 {
		t.Fatalf("cos(a,a) = %v, want 1", got)
	}
	if got := CosineSim([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("orthogonal = %v, want 0", got)
	}
	if got := CosineSim([]float32{1, 1}, []float32{-1, -1}); math.Abs(got+1) > 1e-9 {
		t.Fatalf("opposite = %v, want -1", got)
	}
}

func TestCosineSim_ZeroNorm(t *testing.T) {
	if got := CosineSim([]float32{0, 0, 0}, []float32{1, 2, 3}); got != 0 {
		t.Fatalf("zero norm = %v, want 0", got)
	}
	if got := CosineSim(nil, []float32{1}); got != 0 {
		t.Fatalf("empty = %v, want 0", got)
	}
}

func TestCosineSim_UsesShorterLength(t *testing.T) {
	// Trailing components of the longer vector are ignored.
	got := CosineSim([]float32{1, 0}, []float32{1, 0, 99})
	if math.Abs(got-1) > 1e-9 {
		t.Fatalf("got %v, want 1", got)
	}
}

func TestFallbackEmbed_DeterministicUnitNorm(t *testing.T) {
	a := FallbackEmbed("Thieboudienne au poisson")
	b := FallbackEmbed("Thieboudienne au poisson")
	if len(a) != FallbackDims {
		t.Fatalf("len = %d, want %d", len(a), FallbackDims)
	}
	var norm float64
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("not deterministic at %d", i)
		}
		norm += float64(a[i]) * float64(a[i])
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-6 {
		t.Fatalf("norm = %v, want 1", math.Sqrt(norm))
	}
}

func TestFallbackEmbed_CaseInsensitiveAndEmpty(t *testing.T) {
	if CosineSim(FallbackEmbed("MAFÉ poulet"), FallbackEmbed("mafé poulet")) < 0.999 {
		t.Fatalf("expected case-insensitive embedding")
	}
	z := FallbackEmbed("   ")
	for _, x := range z {
		if x != 0 {
			t.Fatalf("expected zero vector for blank text")
		}
	}
}

func TestFallbackEmbed_SimilarTextsScoreHigher(t *testing.T) {
	q := FallbackEmbed("yassa poulet")
	near := CosineSim(q, FallbackEmbed("yassa poulet citron"))
	far := CosineSim(q, FallbackEmbed("pastels thon"))
	if near <= far {
		t.Fatalf("expected near (%v) > far (%v)", near, far)
	}
}
