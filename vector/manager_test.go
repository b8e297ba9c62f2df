package vector

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravel-db/gravel/metric"
	"github.com/gravel-db/gravel/model"
)

func newTestManager(t *testing.T, perColl map[string]Config) *Manager {
	t.Helper()
	m, err := NewManager(Config{}, perColl)
	require.NoError(t, err)
	return m
}

func vec(seq uint32, data ...float32) *model.Vector {
	return &model.Vector{ID: model.NewID(), Collection: "embeddings", Seq: seq, Data: data}
}

func TestManager_SelfIsTopResult(t *testing.T) {
	m := newTestManager(t, nil)
	target := vec(1, 1, 0, 0)
	require.NoError(t, m.Upsert(target))
	require.NoError(t, m.Upsert(vec(2, 0, 1, 0)))
	require.NoError(t, m.Upsert(vec(3, 0, 0, 1)))

	res, err := m.Search("embeddings", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, target.ID, res[0].ID)
	require.InDelta(t, 1.0, res[0].Score, 1e-5)
	require.GreaterOrEqual(t, res[0].Score, res[1].Score)
}

func TestManager_DimensionEnforced(t *testing.T) {
	m := newTestManager(t, map[string]Config{"embeddings": {Dimension: 3}})
	require.NoError(t, m.Upsert(vec(1, 1, 2, 3)))

	err := m.Upsert(vec(2, 1, 2))
	require.ErrorIs(t, err, ErrDimension)

	_, err = m.Search("embeddings", []float32{1, 2}, 1)
	require.ErrorIs(t, err, ErrDimension)
}

func TestManager_UnknownCollection(t *testing.T) {
	m := newTestManager(t, map[string]Config{"configured": {}})

	// Configured but empty: no error, no results.
	res, err := m.Search("configured", []float32{1}, 5)
	require.NoError(t, err)
	require.Empty(t, res)

	_, err = m.Search("nonexistent", []float32{1}, 5)
	require.ErrorIs(t, err, ErrUnknownCollection)
}

func TestManager_DeleteHidesVector(t *testing.T) {
	m := newTestManager(t, nil)
	v1 := vec(1, 1, 0)
	v2 := vec(2, 0.9, 0.1)
	require.NoError(t, m.Upsert(v1))
	require.NoError(t, m.Upsert(v2))

	m.Delete(v1)
	require.Equal(t, 1, m.Len("embeddings"))

	res, err := m.Search("embeddings", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, v2.ID, res[0].ID)
}

func TestManager_TieBreakBySeq(t *testing.T) {
	m := newTestManager(t, nil)
	// Same embedding, different seqs; insertion order decides.
	first := vec(5, 1, 1)
	second := vec(9, 1, 1)
	require.NoError(t, m.Upsert(second))
	require.NoError(t, m.Upsert(first))

	res, err := m.Search("embeddings", []float32{1, 1}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, first.ID, res[0].ID)
	require.Equal(t, second.ID, res[1].ID)
}

func TestManager_GraphMatchesExactScan(t *testing.T) {
	// Force the graph path with a tiny brute-force threshold, then
	// compare against an exact manager on the same data.
	graphM := newTestManager(t, map[string]Config{
		"embeddings": {BruteForceThreshold: 1, Metric: metric.Cosine, EfSearch: 400},
	})
	exactM := newTestManager(t, map[string]Config{
		"embeddings": {BruteForceThreshold: 1 << 20, Metric: metric.Cosine},
	})

	rng := rand.New(rand.NewSource(42))
	const dim, n = 16, 300
	for i := 1; i <= n; i++ {
		data := make([]float32, dim)
		for d := range data {
			data[d] = rng.Float32()*2 - 1
		}
		v := vec(uint32(i), data...)
		require.NoError(t, graphM.Upsert(v))
		require.NoError(t, exactM.Upsert(&model.Vector{ID: v.ID, Collection: v.Collection, Seq: v.Seq, Data: v.Data}))
	}

	query := make([]float32, dim)
	for d := range query {
		query[d] = rng.Float32()*2 - 1
	}

	const k = 10
	approx, err := graphM.Search("embeddings", query, k)
	require.NoError(t, err)
	exact, err := exactM.Search("embeddings", query, k)
	require.NoError(t, err)
	require.Len(t, approx, k)

	exactSeqs := make(map[uint32]bool, k)
	for _, r := range exact {
		exactSeqs[r.Seq] = true
	}
	hits := 0
	for _, r := range approx {
		if exactSeqs[r.Seq] {
			hits++
		}
	}
	// High-ef HNSW on 300 points should have near-perfect recall.
	require.GreaterOrEqual(t, hits, k-2, fmt.Sprintf("recall too low: %d/%d", hits, k))
}

func TestManager_RebuildAfterHeavyDeletes(t *testing.T) {
	m := newTestManager(t, map[string]Config{"embeddings": {BruteForceThreshold: 1}})
	vectors := make([]*model.Vector, 0, 40)
	for i := 1; i <= 40; i++ {
		v := vec(uint32(i), float32(i), 1)
		vectors = append(vectors, v)
		require.NoError(t, m.Upsert(v))
	}
	for _, v := range vectors[:30] {
		m.Delete(v)
	}
	require.Equal(t, 10, m.Len("embeddings"))

	res, err := m.Search("embeddings", []float32{40, 1}, 5)
	require.NoError(t, err)
	require.Len(t, res, 5)
	for _, r := range res {
		require.Greater(t, r.Seq, uint32(30), "deleted vectors must not surface")
	}
}

func TestManager_DeterministicAcrossRuns(t *testing.T) {
	build := func() []Result {
		m := newTestManager(t, map[string]Config{"embeddings": {BruteForceThreshold: 1, Seed: 7}})
		rng := rand.New(rand.NewSource(1))
		for i := 1; i <= 100; i++ {
			data := []float32{rng.Float32(), rng.Float32(), rng.Float32()}
			require.NoError(t, m.Upsert(&model.Vector{ID: model.NilID, Collection: "embeddings", Seq: uint32(i), Data: data}))
		}
		res, err := m.Search("embeddings", []float32{0.5, 0.5, 0.5}, 10)
		require.NoError(t, err)
		return res
	}
	require.Equal(t, build(), build())
}
