package rag

// ShouldRefuse reports whether an answer must be withheld: there are no
// results, or the best result scores strictly below threshold.
// results must already be in descending score order.
func ShouldRefuse(results []RetrievedChunk, threshold float64) bool {
	if len(results) == 0 {
		return true
	}
	return results[0].Score < threshold
}
