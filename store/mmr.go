package store

import "github.com/PhilipJohnBasile/vecstore-sub003/internal/vecmath"

// applyMMR re-ranks candidates by Maximal Marginal Relevance, grounded
// on the teacher's hybrid-search diversify stage: greedily pick the
// candidate maximizing lambda*relevance - (1-lambda)*similarity-to-
// already-chosen, using cosine similarity between candidate vectors as
// the diversity signal regardless of the store's configured metric.
func applyMMR(ids []string, scores map[string]float64, vectors map[string][]float32, lambda float64, topK int) []string {
	if topK <= 0 || topK > len(ids) {
		topK = len(ids)
	}
	remaining := make([]string, len(ids))
	copy(remaining, ids)

	chosen := make([]string, 0, topK)
	for len(chosen) < topK && len(remaining) > 0 {
		bestIdx := -1
		bestScore := 0.0
		for i, id := range remaining {
			maxSim := 0.0
			for _, c := range chosen {
				sim := 1 - vecmath.CosineDistance(vectors[id], vectors[c])
				if sim > maxSim {
					maxSim = sim
				}
			}
			mmrScore := lambda*scores[id] - (1-lambda)*maxSim
			if bestIdx == -1 || mmrScore > bestScore {
				bestIdx, bestScore = i, mmrScore
			}
		}
		chosen = append(chosen, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return chosen
}
