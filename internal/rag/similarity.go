package rag

import (
	"math"
	"sort"
)

// Cosine returns the cosine similarity of a and b, accumulated in float64.
// Vectors of different length, and vectors with a zero norm, score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
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

// Candidate is a stored chunk together with its embedding, as handed to [Rank].
type Candidate struct {
	Chunk  Chunk
	Vector []float32
}

// Rank scores every candidate against query and returns the first topK in
// descending score order. Equal scores keep their candidate order, so the
// result is deterministic for a given index. topK below 1 is treated as 1.
func Rank(query []float32, candidates []Candidate, topK int) []RetrievedChunk {
	if topK < 1 {
		topK = 1
	}
	scored := make([]RetrievedChunk, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, RetrievedChunk{Chunk: c.Chunk, Score: Cosine(query, c.Vector)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}
