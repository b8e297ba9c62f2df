// Package lexical provides the optional keyword index: BM25 over the
// configured text fields of stored records. It feeds traversal seeds and
// the hybrid reranker; it is not a general-purpose search engine.
package lexical

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/gravel-db/gravel/model"
)

// Okapi BM25 constants.
const (
	k1 = 1.2
	b  = 0.75
)

// Hit is one scored document.
type Hit struct {
	ID    model.ID
	Score float32
}

type posting struct {
	id    model.ID
	count int
}

// Index is an in-memory BM25 index keyed by record id. Safe for
// concurrent use.
type Index struct {
	mu          sync.RWMutex
	inverted    map[string][]posting
	docLengths  map[model.ID]int
	docTerms    map[model.ID][]string
	totalLength int64
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		inverted:   make(map[string][]posting),
		docLengths: make(map[model.ID]int),
		docTerms:   make(map[model.ID][]string),
	}
}

// tokenize lowercases and splits on non-letter/digit boundaries, which
// handles punctuation-glued terms better than whitespace splitting.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r > 127)
	})
}

// Add indexes (or reindexes) the document text for id.
func (ix *Index) Add(id model.ID, text string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.docLengths[id]; ok {
		ix.deleteLocked(id)
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return
	}

	tf := make(map[string]int)
	for _, t := range tokens {
		tf[t]++
	}

	terms := make([]string, 0, len(tf))
	for t, count := range tf {
		ix.inverted[t] = append(ix.inverted[t], posting{id: id, count: count})
		terms = append(terms, t)
	}
	ix.docLengths[id] = len(tokens)
	ix.docTerms[id] = terms
	ix.totalLength += int64(len(tokens))
}

// Delete removes the document for id.
func (ix *Index) Delete(id model.ID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.deleteLocked(id)
}

func (ix *Index) deleteLocked(id model.ID) {
	length, ok := ix.docLengths[id]
	if !ok {
		return
	}
	for _, t := range ix.docTerms[id] {
		postings := ix.inverted[t]
		for i, p := range postings {
			if p.id == id {
				ix.inverted[t] = append(postings[:i], postings[i+1:]...)
				break
			}
		}
		if len(ix.inverted[t]) == 0 {
			delete(ix.inverted, t)
		}
	}
	delete(ix.docLengths, id)
	delete(ix.docTerms, id)
	ix.totalLength -= int64(length)
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docLengths)
}

// Search scores the query against the index and returns the top k hits,
// best first. Ties order by id bytes for stability.
func (ix *Index) Search(query string, k int) []Hit {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	docCount := len(ix.docLengths)
	if docCount == 0 || k <= 0 {
		return nil
	}

	avgDL := float64(ix.totalLength) / float64(docCount)
	scores := make(map[model.ID]float64)

	for _, t := range tokenize(query) {
		postings, ok := ix.inverted[t]
		if !ok {
			continue
		}
		idf := idf(docCount, len(postings))
		for _, p := range postings {
			tf := float64(p.count)
			docLen := float64(ix.docLengths[p.id])
			scores[p.id] += idf * (tf * (k1 + 1)) / (tf + k1*(1-b+b*(docLen/avgDL)))
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, s := range scores {
		hits = append(hits, Hit{ID: id, Score: float32(s)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return lessID(hits[i].ID, hits[j].ID)
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func idf(docCount, df int) float64 {
	n, d := float64(docCount), float64(df)
	return math.Log(1 + (n-d+0.5)/(d+0.5))
}

func lessID(a, b model.ID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
