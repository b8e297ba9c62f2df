package rerank

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravel-db/gravel/metric"
	"github.com/gravel-db/gravel/model"
)

func TestRRF_AgreementWins(t *testing.T) {
	a, b, c := model.NewID(), model.NewID(), model.NewID()

	vectorHits := []Ranked{{ID: a, Score: 0.9}, {ID: b, Score: 0.8}}
	keywordHits := []Ranked{{ID: a, Score: 12.1}, {ID: c, Score: 4.2}}

	fused := RRF(DefaultRRFK, vectorHits, keywordHits)
	require.Len(t, fused, 3)
	require.Equal(t, a, fused[0].ID, "id ranked first in both lists must fuse first")

	// Both b and c appear once at rank 1; order falls back to id bytes.
	require.ElementsMatch(t, []model.ID{b, c}, []model.ID{fused[1].ID, fused[2].ID})
	require.Equal(t, fused[1].Score, fused[2].Score)
}

func TestRRF_PositionsNotScores(t *testing.T) {
	a, b := model.NewID(), model.NewID()
	// Huge raw score does not matter, only the rank does.
	fused := RRF(0, []Ranked{{ID: a, Score: 1e9}}, []Ranked{{ID: b, Score: 0.001}})
	require.Equal(t, fused[0].Score, fused[1].Score)
}

func TestRRF_Deterministic(t *testing.T) {
	ids := []model.ID{model.NewID(), model.NewID(), model.NewID()}
	list := []Ranked{{ID: ids[0]}, {ID: ids[1]}, {ID: ids[2]}}
	first := RRF(60, list)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, RRF(60, list))
	}
}

func TestMMR_PureRelevance(t *testing.T) {
	a := Candidate{ID: model.NewID(), Score: 0.9, Vector: []float32{1, 0}}
	b := Candidate{ID: model.NewID(), Score: 0.8, Vector: []float32{1, 0.01}}
	c := Candidate{ID: model.NewID(), Score: 0.2, Vector: []float32{0, 1}}

	out, err := MMR([]Candidate{a, b, c}, 1, metric.Cosine, 3)
	require.NoError(t, err)
	require.Equal(t, []model.ID{a.ID, b.ID, c.ID}, []model.ID{out[0].ID, out[1].ID, out[2].ID})
}

func TestMMR_DiversityPenalizesNearDuplicates(t *testing.T) {
	top := Candidate{ID: model.NewID(), Score: 0.95, Vector: []float32{1, 0}}
	dup := Candidate{ID: model.NewID(), Score: 0.94, Vector: []float32{1, 0.001}}
	other := Candidate{ID: model.NewID(), Score: 0.5, Vector: []float32{0, 1}}

	out, err := MMR([]Candidate{top, dup, other}, 0.5, metric.Cosine, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, top.ID, out[0].ID)
	require.Equal(t, other.ID, out[1].ID, "near-duplicate of the first pick loses to the diverse candidate")
}

func TestMMR_KLargerThanInput(t *testing.T) {
	a := Candidate{ID: model.NewID(), Score: 1, Vector: []float32{1}}
	out, err := MMR([]Candidate{a}, 0.7, metric.Cosine, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestMMR_MissingVectorsCompeteOnScore(t *testing.T) {
	a := Candidate{ID: model.NewID(), Score: 0.9}
	b := Candidate{ID: model.NewID(), Score: 0.7}
	out, err := MMR([]Candidate{b, a}, 0.5, metric.Cosine, 2)
	require.NoError(t, err)
	require.Equal(t, a.ID, out[0].ID)
}
