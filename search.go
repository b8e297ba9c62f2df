package gravel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gravel-db/gravel/model"
	"github.com/gravel-db/gravel/rerank"
	"github.com/gravel-db/gravel/storage"
)

// HybridQuery describes one fused retrieval request. The vector leg runs
// when Embedding is set, the keyword leg when Text is set; with both set
// the result lists are fused by reciprocal rank.
//
// Fusion matches by record id, so the convention for hybrid-searchable
// data is to store a node's embedding as a vector record with the node's
// id.
type HybridQuery struct {
	// Collection is the vector collection the embedding is searched in.
	Collection string

	// Embedding is the query vector. Nil skips the vector leg.
	Embedding []float32

	// Label is the node label for the keyword leg.
	Label string

	// Text is the keyword query. Empty skips the keyword leg.
	Text string

	// K bounds the result count. Each leg retrieves K candidates before
	// fusion.
	K int

	// RRFK is the reciprocal-rank offset; DefaultRRFK when zero.
	RRFK int

	// MMRLambda, when positive, reranks the fused list by maximal
	// marginal relevance with this relevance weight (1 is pure
	// relevance, towards 0 favors diversity).
	MMRLambda float64
}

// HybridResult is one fused hit, resolved against the records visible at
// query time.
type HybridResult struct {
	ID    model.ID
	Score float32

	// Node is set when the id resolves to a node, Vector when it
	// resolves to a vector record. Both can be set under the shared-id
	// convention.
	Node   *model.Node
	Vector *model.Vector
}

// HybridSearch retrieves by embedding and keyword in one query, fusing
// the two ranked lists by reciprocal rank and optionally diversifying the
// top of the list with maximal marginal relevance.
func (s *Store) HybridSearch(ctx context.Context, q HybridQuery) ([]HybridResult, error) {
	start := time.Now()
	results, err := s.hybridSearch(ctx, q)
	s.metrics.RecordSearch(q.K, time.Since(start), err)
	s.logger.LogSearch(ctx, q.Collection, q.K, len(results), err)
	return results, err
}

func (s *Store) hybridSearch(_ context.Context, q HybridQuery) ([]HybridResult, error) {
	if q.Embedding == nil && q.Text == "" {
		return nil, fmt.Errorf("gravel: hybrid query needs an embedding or text")
	}
	if q.K <= 0 {
		return nil, fmt.Errorf("gravel: hybrid query needs k > 0")
	}

	read, err := s.env.BeginRead()
	if err != nil {
		return nil, translateError(err)
	}

	var lists [][]rerank.Ranked

	if q.Embedding != nil {
		hits, err := s.vectors.Search(q.Collection, q.Embedding, q.K)
		if err != nil {
			return nil, translateError(err)
		}
		list := make([]rerank.Ranked, 0, len(hits))
		for _, hit := range hits {
			// The index can briefly know vectors a concurrent commit
			// already removed; the pinned view decides.
			if _, err := read.GetVector(hit.ID); err != nil {
				continue
			}
			list = append(list, rerank.Ranked{ID: hit.ID, Score: hit.Score})
		}
		lists = append(lists, list)
	}

	if q.Text != "" {
		if s.lexical == nil {
			return nil, fmt.Errorf("gravel: lexical search not enabled")
		}
		hits := s.lexical.Search(q.Label, q.Text, q.K)
		list := make([]rerank.Ranked, 0, len(hits))
		for _, hit := range hits {
			list = append(list, rerank.Ranked{ID: hit.ID, Score: hit.Score})
		}
		lists = append(lists, list)
	}

	fused := rerank.RRF(q.RRFK, lists...)
	if len(fused) > q.K {
		fused = fused[:q.K]
	}

	if q.MMRLambda > 0 {
		candidates := make([]rerank.Candidate, 0, len(fused))
		for _, entry := range fused {
			c := rerank.Candidate{ID: entry.ID, Score: entry.Score}
			if v, err := read.GetVector(entry.ID); err == nil {
				c.Vector = v.Data
			}
			candidates = append(candidates, c)
		}
		fused, err = rerank.MMR(candidates, q.MMRLambda, s.vectors.Metric(q.Collection), q.K)
		if err != nil {
			return nil, err
		}
	}

	results := make([]HybridResult, 0, len(fused))
	for _, entry := range fused {
		r := HybridResult{ID: entry.ID, Score: entry.Score}
		if n, err := read.GetNode(entry.ID); err == nil {
			r.Node = n
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, translateError(err)
		}
		if v, err := read.GetVector(entry.ID); err == nil {
			r.Vector = v
		}
		results = append(results, r)
	}
	return results, nil
}
