// Package vector maintains the approximate-nearest-neighbor indexes, one
// per collection. Small collections are scanned exactly; past a threshold
// an HNSW graph takes over. Either path returns results ordered by score
// descending with insertion order breaking ties, so a query is
// reproducible across runs and across the two execution paths.
package vector

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gravel-db/gravel/metric"
	"github.com/gravel-db/gravel/model"
)

var (
	// ErrDimension is returned when an embedding does not match the
	// collection's configured dimension.
	ErrDimension = errors.New("vector: embedding dimension mismatch")
	// ErrUnknownCollection is returned when searching a collection with
	// no vectors and no configuration.
	ErrUnknownCollection = errors.New("vector: unknown collection")
)

// Config controls one collection's index.
type Config struct {
	// Dimension fixes the embedding width. Zero adopts the first
	// inserted vector's width.
	Dimension int

	// Metric selects the similarity measure. Defaults to cosine.
	Metric metric.Method

	// M is the number of bidirectional links per HNSW node.
	M int

	// EfConstruction is the candidate-list width during inserts.
	EfConstruction int

	// EfSearch is the candidate-list width during queries.
	EfSearch int

	// BruteForceThreshold is the collection size below which searches
	// scan exactly instead of walking the graph.
	BruteForceThreshold int

	// Seed makes graph construction deterministic. The same seed and
	// insert order produce the same graph.
	Seed int64
}

func (c Config) withDefaults() Config {
	if c.M == 0 {
		c.M = 16
	}
	if c.EfConstruction == 0 {
		c.EfConstruction = 128
	}
	if c.EfSearch == 0 {
		c.EfSearch = 768
	}
	if c.BruteForceThreshold == 0 {
		c.BruteForceThreshold = 256
	}
	return c
}

// Result is one search hit. Score is a similarity, higher is better.
type Result struct {
	ID    model.ID
	Seq   uint32
	Score float32
}

// Manager owns the per-collection indexes. Safe for concurrent use; reads
// take a shared lock, mutations an exclusive one.
type Manager struct {
	mu       sync.RWMutex
	defaults Config
	configs  map[string]Config
	colls    map[string]*collection
}

type collection struct {
	cfg   Config
	simFn metric.SimilarityFunc
	graph *hnswGraph
	ids   map[uint32]model.ID
	vecs  map[uint32][]float32
}

// NewManager creates a manager. Per-collection configs override defaults;
// collections not listed are created lazily with the defaults.
func NewManager(defaults Config, perCollection map[string]Config) (*Manager, error) {
	m := &Manager{
		defaults: defaults.withDefaults(),
		configs:  make(map[string]Config, len(perCollection)),
		colls:    make(map[string]*collection),
	}
	for name, cfg := range perCollection {
		m.configs[name] = cfg.withDefaults()
	}
	// Validate metrics up front so a bad config fails at open, not at
	// first insert.
	if _, err := metric.Similarity(m.defaults.Metric); err != nil {
		return nil, err
	}
	for name, cfg := range m.configs {
		if _, err := metric.Similarity(cfg.Metric); err != nil {
			return nil, fmt.Errorf("collection %s: %w", name, err)
		}
	}
	return m, nil
}

func (m *Manager) collectionLocked(name string) (*collection, error) {
	if c, ok := m.colls[name]; ok {
		return c, nil
	}
	cfg, ok := m.configs[name]
	if !ok {
		cfg = m.defaults
	}
	simFn, err := metric.Similarity(cfg.Metric)
	if err != nil {
		return nil, err
	}
	c := &collection{
		cfg:   cfg,
		simFn: simFn,
		graph: newHNSWGraph(cfg.M, cfg.EfConstruction, simFn, cfg.Seed),
		ids:   make(map[uint32]model.ID),
		vecs:  make(map[uint32][]float32),
	}
	m.colls[name] = c
	return c, nil
}

// Upsert indexes or reindexes one vector record.
func (m *Manager) Upsert(v *model.Vector) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.collectionLocked(v.Collection)
	if err != nil {
		return err
	}
	if c.cfg.Dimension == 0 {
		c.cfg.Dimension = len(v.Data)
	}
	if len(v.Data) != c.cfg.Dimension {
		return fmt.Errorf("%w: collection %s expects %d, got %d",
			ErrDimension, v.Collection, c.cfg.Dimension, len(v.Data))
	}

	c.graph.insert(v.Seq, v.Data)
	c.ids[v.Seq] = v.ID
	c.vecs[v.Seq] = v.Data
	return nil
}

// Delete removes one vector record from its collection index.
func (m *Manager) Delete(v *model.Vector) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.colls[v.Collection]
	if !ok {
		return
	}
	if c.graph.delete(v.Seq) {
		delete(c.ids, v.Seq)
		delete(c.vecs, v.Seq)
	}
	if c.graph.tombstoneRatio() > 0.5 && len(c.vecs) > 0 {
		m.rebuildLocked(c)
	}
}

// rebuildLocked reconstructs the graph from live vectors in seq order,
// dropping accumulated tombstones.
func (m *Manager) rebuildLocked(c *collection) {
	seqs := make([]uint32, 0, len(c.vecs))
	for seq := range c.vecs {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	g := newHNSWGraph(c.cfg.M, c.cfg.EfConstruction, c.simFn, c.cfg.Seed)
	for _, seq := range seqs {
		g.insert(seq, c.vecs[seq])
	}
	c.graph = g
}

// Search returns the k most similar live vectors in the collection.
func (m *Manager) Search(collection string, query []float32, k int) ([]Result, error) {
	return m.SearchWithEf(collection, query, k, 0)
}

// SearchWithEf is Search with an explicit candidate-list width; zero uses
// the collection's configured EfSearch.
func (m *Manager) SearchWithEf(collection string, query []float32, k, ef int) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.colls[collection]
	if !ok {
		if _, configured := m.configs[collection]; configured {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	if c.cfg.Dimension != 0 && len(query) != c.cfg.Dimension {
		return nil, fmt.Errorf("%w: collection %s expects %d, got %d",
			ErrDimension, collection, c.cfg.Dimension, len(query))
	}
	if k <= 0 {
		return nil, nil
	}
	if ef <= 0 {
		ef = c.cfg.EfSearch
	}

	if c.graph.len() <= c.cfg.BruteForceThreshold {
		return m.exact(c, query, k), nil
	}

	cands := c.graph.search(query, k, ef)
	out := make([]Result, 0, len(cands))
	for _, cand := range cands {
		out = append(out, Result{ID: c.ids[cand.seq], Seq: cand.seq, Score: -cand.dist})
	}
	return out, nil
}

// exact scans every live vector. Score-descending, seq-ascending order
// matches what the graph path produces.
func (m *Manager) exact(c *collection, query []float32, k int) []Result {
	scored := make([]Result, 0, len(c.vecs))
	for seq, vec := range c.vecs {
		scored = append(scored, Result{ID: c.ids[seq], Seq: seq, Score: c.simFn(query, vec)})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Seq < scored[j].Seq
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// Len returns the number of live vectors in a collection.
func (m *Manager) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.colls[collection]; ok {
		return c.graph.len()
	}
	return 0
}

// Metric returns the similarity measure a collection is configured with.
func (m *Manager) Metric(collection string) metric.Method {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cfg, ok := m.configs[collection]; ok {
		return cfg.Metric
	}
	return m.defaults.Metric
}

// Collections returns the names of populated collections, sorted.
func (m *Manager) Collections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.colls))
	for name := range m.colls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
