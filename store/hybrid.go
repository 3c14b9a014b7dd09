package store

import "sort"

// Fusion selects how HybridQuery combines vector and BM25 rankings
// (SPEC_FULL.md §1.3, supplementing spec.md §4.4's single weighted-sum
// description into a first-class, selectable surface).
type Fusion int

const (
	// FusionWeightedSum computes alpha*vecScore + (1-alpha)*bm25Score
	// over each side's [0,1] max-normalized scores. Default.
	FusionWeightedSum Fusion = iota
	// FusionRRF computes reciprocal rank fusion: sum of 1/(k_rrf+rank)
	// across whichever ranked lists contain the document.
	FusionRRF
	// FusionMax takes the per-document max of the two normalized scores.
	FusionMax
)

// defaultRRFK is the constant used by FusionRRF, matching the teacher's
// hybrid search service default.
const defaultRRFK = 60

// HybridParams configures HybridQuery beyond the required vector/text/k.
type HybridParams struct {
	Alpha      float64
	Fusion     Fusion
	Filter     string
	EfSearch   int
	RRFK       int
	CandidateK int // how many candidates to pull from each side before fusing; defaults to max(k*4, 50)
}

func normalizeByMax(scores map[string]float64) map[string]float64 {
	var max float64
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	out := make(map[string]float64, len(scores))
	if max == 0 {
		for id := range scores {
			out[id] = 0
		}
		return out
	}
	for id, s := range scores {
		out[id] = s / max
	}
	return out
}

// rank returns 1-based rank positions for ids ordered by descending
// score, used by FusionRRF.
func rank(ordered []string) map[string]int {
	out := make(map[string]int, len(ordered))
	for i, id := range ordered {
		out[id] = i + 1
	}
	return out
}

func orderByScoreDesc(scores map[string]float64) []string {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}

// fuse combines vecScores and bm25Scores (both id -> raw score, already
// restricted to ids passing the filter and liveness check) under the
// given strategy, returning the fused id -> score map.
func fuse(vecScores, bm25Scores map[string]float64, alpha float64, strategy Fusion, rrfK int) map[string]float64 {
	if rrfK <= 0 {
		rrfK = defaultRRFK
	}
	switch strategy {
	case FusionRRF:
		vecOrder := rank(orderByScoreDesc(vecScores))
		bmOrder := rank(orderByScoreDesc(bm25Scores))
		out := make(map[string]float64)
		for id, r := range vecOrder {
			out[id] += 1.0 / float64(rrfK+r)
		}
		for id, r := range bmOrder {
			out[id] += 1.0 / float64(rrfK+r)
		}
		return out
	case FusionMax:
		vecNorm := normalizeByMax(vecScores)
		bmNorm := normalizeByMax(bm25Scores)
		out := make(map[string]float64)
		for id, v := range vecNorm {
			out[id] = v
		}
		for id, b := range bmNorm {
			if b > out[id] {
				out[id] = b
			}
		}
		return out
	default: // FusionWeightedSum
		vecNorm := normalizeByMax(vecScores)
		bmNorm := normalizeByMax(bm25Scores)
		out := make(map[string]float64)
		for id, v := range vecNorm {
			out[id] = alpha * v
		}
		for id, b := range bmNorm {
			out[id] += (1 - alpha) * b
		}
		return out
	}
}

// StageKind identifies one stage of a PrefetchPlan.
type StageKind int

const (
	StageVectorSearch StageKind = iota
	StageHybridSearch
	StageFilter
	StageDiversify
)

// PrefetchStage is one step of a multi-stage retrieval pipeline
// (SPEC_FULL.md §1.3). MMRLambda is only meaningful for StageDiversify.
type PrefetchStage struct {
	Kind      StageKind
	Filter    string
	MMRLambda float64
	TopK      int
}

// PrefetchPlan is validated so the first stage is always a search stage
// (spec §4.4 input validation: "Prefetch query plans reject plans whose
// first stage is not a vector or hybrid search stage").
type PrefetchPlan []PrefetchStage

func (p PrefetchPlan) validate() error {
	if len(p) == 0 {
		return newErr(KindInvalidParameters, "prefetch plan must have at least one stage")
	}
	switch p[0].Kind {
	case StageVectorSearch, StageHybridSearch:
		return nil
	default:
		return newErr(KindInvalidParameters, "prefetch plan's first stage must be a vector or hybrid search")
	}
}
