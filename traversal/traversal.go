// Package traversal implements the composable query pipeline: seed by
// type, id or index, expand along edges, filter, order, paginate, reduce
// and mutate, all evaluated lazily against one transaction snapshot.
//
// A pipeline is a chain of operators over iter.Seq2[model.Item, error].
// Nothing runs until a terminal (Collect, Count, a mutation) materializes
// it. The first operator error aborts the whole pipeline; there is no
// skipping of failed records.
package traversal

import (
	"errors"
	"fmt"
	"iter"
	"sort"

	"github.com/gravel-db/gravel/internal/arena"
	"github.com/gravel-db/gravel/lexical"
	"github.com/gravel-db/gravel/metric"
	"github.com/gravel-db/gravel/model"
	"github.com/gravel-db/gravel/property"
	"github.com/gravel-db/gravel/storage"
	"github.com/gravel-db/gravel/vector"
)

var (
	// ErrAmbiguous is returned when exactly one record was required but
	// several matched.
	ErrAmbiguous = errors.New("traversal: ambiguous match, expected exactly one record")
	// ErrReadOnly is returned when a mutation runs on a read pipeline.
	ErrReadOnly = errors.New("traversal: mutation requires a write transaction")
	// ErrUniqueness is returned by AddN when the composite uniqueness
	// check finds an existing record.
	ErrUniqueness = errors.New("traversal: uniqueness conflict on insert")
)

type stream = iter.Seq2[model.Item, error]

// Source bundles everything a pipeline evaluates against. One Source per
// request; the scratch arena, when set, lives exactly as long as the
// request.
type Source struct {
	Txn     storage.Txn
	Write   *storage.WriteTxn // nil for read-only pipelines
	Vectors *vector.Manager
	Lexical *lexical.Catalog
	Scratch *arena.Arena
}

// G is a traversal pipeline. Operators return a new G sharing the same
// Source; pipelines are single-use once materialized.
type G struct {
	src   *Source
	items stream
}

// New starts an empty pipeline over src.
func New(src *Source) *G {
	return &G{src: src, items: emptyStream()}
}

func emptyStream() stream {
	return func(func(model.Item, error) bool) {}
}

func errStream(err error) stream {
	return func(yield func(model.Item, error) bool) {
		yield(nil, err)
	}
}

func (g *G) with(items stream) *G {
	return &G{src: g.src, items: items}
}

// ---- Seeds ----

// NFromType seeds with all nodes of a label in insertion order.
func (g *G) NFromType(label string) *G {
	txn := g.src.Txn
	return g.with(func(yield func(model.Item, error) bool) {
		for n := range txn.NodesByLabel(label) {
			if !yield(n, nil) {
				return
			}
		}
	})
}

// EFromType seeds with all edges of a label in insertion order.
func (g *G) EFromType(label string) *G {
	txn := g.src.Txn
	return g.with(func(yield func(model.Item, error) bool) {
		for e := range txn.EdgesByLabel(label) {
			if !yield(e, nil) {
				return
			}
		}
	})
}

// VFromType seeds with all vector records of a collection.
func (g *G) VFromType(collection string) *G {
	txn := g.src.Txn
	return g.with(func(yield func(model.Item, error) bool) {
		for v := range txn.VectorsByCollection(collection) {
			if !yield(v, nil) {
				return
			}
		}
	})
}

// NFromID seeds with one node. A missing id surfaces as NotFound.
func (g *G) NFromID(id model.ID) *G {
	txn := g.src.Txn
	return g.with(func(yield func(model.Item, error) bool) {
		n, err := txn.GetNode(id)
		if err != nil {
			yield(nil, err)
			return
		}
		yield(n, nil)
	})
}

// EFromID seeds with one edge.
func (g *G) EFromID(id model.ID) *G {
	txn := g.src.Txn
	return g.with(func(yield func(model.Item, error) bool) {
		e, err := txn.GetEdge(id)
		if err != nil {
			yield(nil, err)
			return
		}
		yield(e, nil)
	})
}

// VFromID seeds with one vector record.
func (g *G) VFromID(id model.ID) *G {
	txn := g.src.Txn
	return g.with(func(yield func(model.Item, error) bool) {
		v, err := txn.GetVector(id)
		if err != nil {
			yield(nil, err)
			return
		}
		yield(v, nil)
	})
}

// NFromIndex seeds from a declared secondary index: zero, one or many
// nodes depending on the index kind, in insertion order.
func (g *G) NFromIndex(label, field string, value property.Value) *G {
	txn := g.src.Txn
	return g.with(func(yield func(model.Item, error) bool) {
		ids, err := txn.LookupIndex(label, field, value)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, id := range ids {
			n, err := txn.GetNode(id)
			if err != nil {
				continue // index may also own edges or vectors
			}
			if !yield(n, nil) {
				return
			}
		}
	})
}

// SearchV seeds with the k most similar vectors in a collection, best
// first. The query is copied into request scratch when an arena is
// attached so callers may reuse their buffer. In a write transaction the
// seed sees the transaction's own staged inserts alongside the shared
// index, like every other seed.
func (g *G) SearchV(collection string, query []float32, k int) *G {
	if g.src.Vectors == nil {
		return g.with(errStream(fmt.Errorf("traversal: no vector index configured")))
	}
	q := query
	if g.src.Scratch != nil {
		if buf, err := g.src.Scratch.AllocFloat32Slice(len(query)); err == nil {
			buf = buf[:len(query)]
			copy(buf, query)
			q = buf
		}
	}
	txn := g.src.Txn
	write := g.src.Write
	vectors := g.src.Vectors
	return g.with(func(yield func(model.Item, error) bool) {
		var staged []*model.Vector
		if write != nil {
			staged = write.StagedVectors(collection)
		}
		results, err := vectors.Search(collection, q, k)
		switch {
		case err == nil:
		case len(staged) > 0 && errors.Is(err, vector.ErrUnknownCollection):
			// The collection exists only in this transaction's staged
			// writes; the shared index learns about it at commit.
			results = nil
		default:
			yield(nil, err)
			return
		}
		if len(staged) > 0 {
			simFn, err := metric.Similarity(vectors.Metric(collection))
			if err != nil {
				yield(nil, err)
				return
			}
			results = overlayStagedVectors(results, staged, simFn, q, k)
		}
		for _, r := range results {
			v, err := txn.GetVector(r.ID)
			if err != nil {
				// Indexed but invisible in this transaction's view
				// (committed after the pin, or deleted here); skip rather
				// than fail the query.
				continue
			}
			if !yield(v, nil) {
				return
			}
		}
	})
}

// overlayStagedVectors rescores the transaction's staged vectors and
// merges them with the shared index results, replacing any copy the index
// still holds for the same record. Ordering matches the index paths:
// score descending, seq ascending on ties.
func overlayStagedVectors(base []vector.Result, staged []*model.Vector, simFn metric.SimilarityFunc, query []float32, k int) []vector.Result {
	stagedIDs := make(map[model.ID]struct{}, len(staged))
	for _, v := range staged {
		stagedIDs[v.ID] = struct{}{}
	}
	merged := make([]vector.Result, 0, len(base)+len(staged))
	for _, r := range base {
		if _, ok := stagedIDs[r.ID]; ok {
			continue
		}
		merged = append(merged, r)
	}
	for _, v := range staged {
		if len(v.Data) != len(query) {
			continue
		}
		merged = append(merged, vector.Result{ID: v.ID, Seq: v.Seq, Score: simFn(query, v.Data)})
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].Seq < merged[j].Seq
	})
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged
}

// SearchBM25 seeds with nodes matched by the lexical index, best first.
func (g *G) SearchBM25(label, query string, k int) *G {
	if g.src.Lexical == nil {
		return g.with(errStream(fmt.Errorf("traversal: lexical search not enabled")))
	}
	txn := g.src.Txn
	lex := g.src.Lexical
	return g.with(func(yield func(model.Item, error) bool) {
		for _, hit := range lex.Search(label, query, k) {
			n, err := txn.GetNode(hit.ID)
			if err != nil {
				continue
			}
			if !yield(n, nil) {
				return
			}
		}
	})
}

// ---- Expansion ----

// Out follows edges with the given label away from each node and yields
// the adjacent nodes. Chains compose: A.Out(x).Out(y) walks two hops.
func (g *G) Out(label string) *G {
	txn := g.src.Txn
	return g.with(func(yield func(model.Item, error) bool) {
		for item, err := range g.items {
			if err != nil {
				yield(nil, err)
				return
			}
			n, ok := item.(*model.Node)
			if !ok {
				yield(nil, fmt.Errorf("traversal: Out(%s) requires nodes, got %T", label, item))
				return
			}
			for e := range txn.OutEdges(n.ID) {
				if e.Label != label {
					continue
				}
				target := e.To
				if target == n.ID && !e.Directed {
					target = e.From
				}
				adj, err := txn.GetNode(target)
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(adj, nil) {
					return
				}
			}
		}
	})
}

// In follows edges with the given label toward each node and yields the
// nodes on the far side.
func (g *G) In(label string) *G {
	txn := g.src.Txn
	return g.with(func(yield func(model.Item, error) bool) {
		for item, err := range g.items {
			if err != nil {
				yield(nil, err)
				return
			}
			n, ok := item.(*model.Node)
			if !ok {
				yield(nil, fmt.Errorf("traversal: In(%s) requires nodes, got %T", label, item))
				return
			}
			for e := range txn.InEdges(n.ID) {
				if e.Label != label {
					continue
				}
				source := e.From
				if source == n.ID && !e.Directed {
					source = e.To
				}
				adj, err := txn.GetNode(source)
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(adj, nil) {
					return
				}
			}
		}
	})
}

// OutE yields the outgoing edges themselves instead of the far nodes.
func (g *G) OutE(label string) *G {
	return g.incident(label, true)
}

// InE yields the incoming edges themselves.
func (g *G) InE(label string) *G {
	return g.incident(label, false)
}

func (g *G) incident(label string, outgoing bool) *G {
	txn := g.src.Txn
	return g.with(func(yield func(model.Item, error) bool) {
		for item, err := range g.items {
			if err != nil {
				yield(nil, err)
				return
			}
			n, ok := item.(*model.Node)
			if !ok {
				yield(nil, fmt.Errorf("traversal: edge expansion requires nodes, got %T", item))
				return
			}
			var edges iter.Seq[*model.Edge]
			if outgoing {
				edges = txn.OutEdges(n.ID)
			} else {
				edges = txn.InEdges(n.ID)
			}
			for e := range edges {
				if e.Label != label {
					continue
				}
				if !yield(e, nil) {
					return
				}
			}
		}
	})
}

// FromN maps edges to their from-side nodes.
func (g *G) FromN() *G {
	return g.endpoint(true)
}

// ToN maps edges to their to-side nodes.
func (g *G) ToN() *G {
	return g.endpoint(false)
}

func (g *G) endpoint(from bool) *G {
	txn := g.src.Txn
	return g.with(func(yield func(model.Item, error) bool) {
		for item, err := range g.items {
			if err != nil {
				yield(nil, err)
				return
			}
			e, ok := item.(*model.Edge)
			if !ok {
				yield(nil, fmt.Errorf("traversal: endpoint requires edges, got %T", item))
				return
			}
			id := e.To
			if from {
				id = e.From
			}
			n, err := txn.GetNode(id)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(n, nil) {
				return
			}
		}
	})
}

// ---- Transformations ----

// Filter keeps records whose properties match every filter in the set.
func (g *G) Filter(fs *property.FilterSet) *G {
	return g.with(func(yield func(model.Item, error) bool) {
		for item, err := range g.items {
			if err != nil {
				yield(nil, err)
				return
			}
			if fs.Matches(item.Properties()) {
				if !yield(item, nil) {
					return
				}
			}
		}
	})
}

// FilterFunc keeps records the predicate accepts. A predicate error
// short-circuits the whole traversal with that error.
func (g *G) FilterFunc(pred func(model.Item) (bool, error)) *G {
	return g.with(func(yield func(model.Item, error) bool) {
		for item, err := range g.items {
			if err != nil {
				yield(nil, err)
				return
			}
			keep, err := pred(item)
			if err != nil {
				yield(nil, err)
				return
			}
			if keep {
				if !yield(item, nil) {
					return
				}
			}
		}
	})
}

// OrderBy sorts by a named property, stably, with nulls sorting low in
// either direction. The pipeline materializes at this operator.
func (g *G) OrderBy(field string, descending bool) *G {
	return g.with(func(yield func(model.Item, error) bool) {
		items, err := collect(g.items)
		if err != nil {
			yield(nil, err)
			return
		}
		sort.SliceStable(items, func(i, j int) bool {
			c := items[i].Properties().GetOr(field).Compare(items[j].Properties().GetOr(field))
			if descending {
				return c > 0
			}
			return c < 0
		})
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	})
}

// Range slices the sequence by absolute indices [start, end). Order is
// whatever the upstream produced; apply OrderBy first for a stable page.
func (g *G) Range(start, end int) *G {
	return g.with(func(yield func(model.Item, error) bool) {
		idx := 0
		for item, err := range g.items {
			if err != nil {
				yield(nil, err)
				return
			}
			if idx >= end {
				return
			}
			if idx >= start {
				if !yield(item, nil) {
					return
				}
			}
			idx++
		}
	})
}

// Dedup drops records already seen by id, keeping first occurrence order.
func (g *G) Dedup() *G {
	return g.with(func(yield func(model.Item, error) bool) {
		seen := make(map[model.ID]struct{})
		for item, err := range g.items {
			if err != nil {
				yield(nil, err)
				return
			}
			id := item.ItemID()
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if !yield(item, nil) {
				return
			}
		}
	})
}

func collect(s stream) ([]model.Item, error) {
	var items []model.Item
	for item, err := range s {
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
