package search

import (
	"hash/fnv"
	"math"
	"strings"
)

// FallbackDims is the dimension of vectors produced by FallbackEmbed.
const FallbackDims = 256

// CosineSim returns the cosine similarity of a and b computed over the
// shorter of the two lengths. It is 0 when either vector has zero norm.
func CosineSim(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// FallbackEmbed hashes the lower-cased whitespace tokens of text (FNV-1a)
// into a FallbackDims bag-of-words vector and L2-normalizes it.
// It is pure: the same text always yields the same vector. Text without
// tokens yields the zero vector.
func FallbackEmbed(text string) []float32 {
	v := make([]float64, FallbackDims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		v[h.Sum32()%FallbackDims]++
	}

	var norm float64
	for _, x := range v {
		norm += x * x
	}
	out := make([]float32, FallbackDims)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}
