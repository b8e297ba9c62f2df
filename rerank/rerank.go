// Package rerank fuses and reorders candidate lists from the vector,
// lexical and graph retrieval paths.
//
// Two strategies are provided: reciprocal rank fusion, which combines
// multiple ranked lists using only positions, and maximal marginal
// relevance, which trades relevance against diversity using the candidate
// embeddings. Both are deterministic: equal scores order by id bytes.
package rerank

import (
	"bytes"
	"sort"

	"github.com/gravel-db/gravel/metric"
	"github.com/gravel-db/gravel/model"
)

// Ranked is one entry of a ranked list.
type Ranked struct {
	ID    model.ID
	Score float32
}

// DefaultRRFK is the standard rank-offset constant.
const DefaultRRFK = 60

// RRF merges ranked lists by reciprocal rank fusion: each appearance at
// rank r contributes 1/(k+r+1). Scores from the inputs are ignored, only
// positions matter, which is what makes fusion across incomparable score
// scales (cosine vs BM25) sound.
func RRF(k int, lists ...[]Ranked) []Ranked {
	if k <= 0 {
		k = DefaultRRFK
	}
	fused := make(map[model.ID]float32)
	for _, list := range lists {
		for rank, entry := range list {
			fused[entry.ID] += 1 / float32(k+rank+1)
		}
	}

	out := make([]Ranked, 0, len(fused))
	for id, score := range fused {
		out = append(out, Ranked{ID: id, Score: score})
	}
	sortRanked(out)
	return out
}

// Candidate is an MMR input: a retrieval score plus the embedding used for
// the diversity term.
type Candidate struct {
	ID     model.ID
	Score  float32
	Vector []float32
}

// MMR selects up to k candidates by maximal marginal relevance. Lambda in
// [0,1] weighs relevance against novelty: 1 is pure relevance, 0 pure
// diversity. Candidates without an embedding contribute no similarity
// penalty and compete on score alone.
func MMR(candidates []Candidate, lambda float64, m metric.Method, k int) ([]Ranked, error) {
	simFn, err := metric.Similarity(m)
	if err != nil {
		return nil, err
	}
	if k <= 0 || len(candidates) == 0 {
		return nil, nil
	}
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	remaining := make([]Candidate, len(candidates))
	copy(remaining, candidates)
	selected := make([]Ranked, 0, k)
	chosen := make([]Candidate, 0, k)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		var bestScore float64
		for i, c := range remaining {
			redundancy := 0.0
			if len(c.Vector) > 0 {
				for _, s := range chosen {
					if len(s.Vector) == 0 {
						continue
					}
					if sim := float64(simFn(c.Vector, s.Vector)); sim > redundancy {
						redundancy = sim
					}
				}
			}
			score := lambda*float64(c.Score) - (1-lambda)*redundancy
			if bestIdx < 0 || score > bestScore ||
				(score == bestScore && bytes.Compare(c.ID[:], remaining[bestIdx].ID[:]) < 0) {
				bestIdx, bestScore = i, score
			}
		}
		picked := remaining[bestIdx]
		selected = append(selected, Ranked{ID: picked.ID, Score: float32(bestScore)})
		chosen = append(chosen, picked)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected, nil
}

func sortRanked(list []Ranked) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Score != list[j].Score {
			return list[i].Score > list[j].Score
		}
		return bytes.Compare(list[i].ID[:], list[j].ID[:]) < 0
	})
}
