package graph

import (
	"math"

	"github.com/plutolabs/pluto-backend/internal/types"
)

// mmrSelect reranks candidates with maximal marginal relevance,
// score = λ·relevance − (1−λ)·max-similarity-to-selected. Candidates must be
// sorted by retrieval score descending; the top item is always kept first.
func mmrSelect(candidates []types.RetrievedChunk, k int, lambda float64) []types.RetrievedChunk {
	if len(candidates) <= k {
		return candidates
	}
	selected := make([]types.RetrievedChunk, 0, k)
	remaining := make([]types.RetrievedChunk, len(candidates))
	copy(remaining, candidates)

	selected = append(selected, remaining[0])
	remaining = remaining[1:]

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := 0
		bestScore := mmrScore(remaining[0], selected, lambda)
		for i := 1; i < len(remaining); i++ {
			if score := mmrScore(remaining[i], selected, lambda); score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func mmrScore(candidate types.RetrievedChunk, selected []types.RetrievedChunk, lambda float64) float64 {
	penalty := 0.0
	for _, s := range selected {
		if sim := chunkSimilarity(candidate, s); sim > penalty {
			penalty = sim
		}
	}
	return lambda*candidate.Score - (1-lambda)*penalty
}

// chunkSimilarity prefers text-embedding cosine; with vectors absent the
// smaller retrieval score stands in as the diversity proxy.
func chunkSimilarity(a, b types.RetrievedChunk) float64 {
	if len(a.TextVector) > 0 && len(a.TextVector) == len(b.TextVector) {
		return cosine(a.TextVector, b.TextVector)
	}
	if a.Score < b.Score {
		return a.Score
	}
	return b.Score
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
