package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravel-db/gravel/model"
	"github.com/gravel-db/gravel/property"
	"github.com/gravel-db/gravel/secondary"
	"github.com/gravel-db/gravel/wal"
)

func testCatalog() *secondary.Catalog {
	return secondary.NewCatalog([]secondary.Spec{
		{Label: "User", Field: "external_id", Unique: true},
		{Label: "Entity", Field: "canonical_name"},
	})
}

func newTestEnv(t *testing.T) *Env {
	t.Helper()
	return NewEnv(Options{Catalog: testCatalog()})
}

func putUser(t *testing.T, e *Env, extID string) *model.Node {
	t.Helper()
	n := &model.Node{
		ID:    model.NewID(),
		Label: "User",
		Props: property.Map{"external_id": property.String(extID)},
	}
	require.NoError(t, e.Update(context.Background(), func(txn *WriteTxn) error {
		return txn.PutNode(n)
	}))
	return n
}

func TestEnv_PutGetNode(t *testing.T) {
	e := newTestEnv(t)
	n := putUser(t, e, "u1")

	require.NoError(t, e.View(func(txn *ReadTxn) error {
		got, err := txn.GetNode(n.ID)
		require.NoError(t, err)
		require.Equal(t, "User", got.Label)
		s, _ := got.Props.GetOr("external_id").AsString()
		require.Equal(t, "u1", s)
		require.NotZero(t, got.Seq)
		return nil
	}))
}

func TestEnv_SnapshotIsolation(t *testing.T) {
	e := newTestEnv(t)
	putUser(t, e, "u1")

	before, err := e.BeginRead()
	require.NoError(t, err)

	putUser(t, e, "u2")

	var seen int
	for range before.NodesByLabel("User") {
		seen++
	}
	require.Equal(t, 1, seen, "pinned snapshot must not observe later commits")

	after, err := e.BeginRead()
	require.NoError(t, err)
	seen = 0
	for range after.NodesByLabel("User") {
		seen++
	}
	require.Equal(t, 2, seen)
}

func TestEnv_DiscardLeavesStateUntouched(t *testing.T) {
	e := newTestEnv(t)
	txn, err := e.BeginWrite(context.Background())
	require.NoError(t, err)
	require.NoError(t, txn.PutNode(&model.Node{ID: model.NewID(), Label: "User"}))
	txn.Discard()

	require.Zero(t, e.Stats().Nodes)
	require.Zero(t, e.Version())
}

func TestEnv_UniqueIndexEnforced(t *testing.T) {
	e := newTestEnv(t)
	putUser(t, e, "u1")

	err := e.Update(context.Background(), func(txn *WriteTxn) error {
		return txn.PutNode(&model.Node{
			ID:    model.NewID(),
			Label: "User",
			Props: property.Map{"external_id": property.String("u1")},
		})
	})
	require.ErrorIs(t, err, secondary.ErrUniqueViolation)
	require.Equal(t, 1, e.Stats().Nodes)
}

func TestEnv_UniqueIndexWithinTxn(t *testing.T) {
	e := newTestEnv(t)
	err := e.Update(context.Background(), func(txn *WriteTxn) error {
		if err := txn.PutNode(&model.Node{
			ID: model.NewID(), Label: "User",
			Props: property.Map{"external_id": property.String("dup")},
		}); err != nil {
			return err
		}
		return txn.PutNode(&model.Node{
			ID: model.NewID(), Label: "User",
			Props: property.Map{"external_id": property.String("dup")},
		})
	})
	require.ErrorIs(t, err, secondary.ErrUniqueViolation)
	require.Zero(t, e.Stats().Nodes)
}

func TestEnv_IndexLookupAndUpdate(t *testing.T) {
	e := newTestEnv(t)
	n := putUser(t, e, "u1")

	require.NoError(t, e.View(func(txn *ReadTxn) error {
		ids, err := txn.LookupIndex("User", "external_id", property.String("u1"))
		require.NoError(t, err)
		require.Equal(t, []model.ID{n.ID}, ids)
		return nil
	}))

	// Changing the indexed value moves the posting.
	require.NoError(t, e.Update(context.Background(), func(txn *WriteTxn) error {
		got, err := txn.GetNode(n.ID)
		if err != nil {
			return err
		}
		upd := got.Clone()
		upd.Props = upd.Props.With(property.Map{"external_id": property.String("u1-renamed")})
		return txn.PutNode(upd)
	}))

	require.NoError(t, e.View(func(txn *ReadTxn) error {
		ids, err := txn.LookupIndex("User", "external_id", property.String("u1"))
		require.NoError(t, err)
		require.Empty(t, ids)
		ids, err = txn.LookupIndex("User", "external_id", property.String("u1-renamed"))
		require.NoError(t, err)
		require.Equal(t, []model.ID{n.ID}, ids)
		return nil
	}))
}

func TestEnv_MultiIndexInsertionOrder(t *testing.T) {
	e := newTestEnv(t)
	var ids []model.ID
	require.NoError(t, e.Update(context.Background(), func(txn *WriteTxn) error {
		for i := 0; i < 3; i++ {
			n := &model.Node{
				ID:    model.NewID(),
				Label: "Entity",
				Props: property.Map{"canonical_name": property.String("figma")},
			}
			if err := txn.PutNode(n); err != nil {
				return err
			}
			ids = append(ids, n.ID)
		}
		return nil
	}))

	require.NoError(t, e.View(func(txn *ReadTxn) error {
		got, err := txn.LookupIndex("Entity", "canonical_name", property.String("figma"))
		require.NoError(t, err)
		require.Equal(t, ids, got, "postings resolve in insertion order")
		return nil
	}))
}

func TestEnv_EdgeEndpointsChecked(t *testing.T) {
	e := newTestEnv(t)
	u := putUser(t, e, "u1")

	err := e.Update(context.Background(), func(txn *WriteTxn) error {
		return txn.PutEdge(&model.Edge{
			ID: model.NewID(), Label: "UserOwnsNode",
			From: u.ID, To: model.NewID(), Directed: true,
		})
	})
	require.ErrorIs(t, err, ErrEndpoint)
}

func TestEnv_DeleteNodeCascades(t *testing.T) {
	e := newTestEnv(t)
	u := putUser(t, e, "u1")
	v := putUser(t, e, "u2")

	require.NoError(t, e.Update(context.Background(), func(txn *WriteTxn) error {
		return txn.PutEdge(&model.Edge{
			ID: model.NewID(), Label: "Knows", From: u.ID, To: v.ID, Directed: true,
		})
	}))
	require.Equal(t, 1, e.Stats().Edges)

	require.NoError(t, e.Update(context.Background(), func(txn *WriteTxn) error {
		return txn.DeleteNode(v.ID)
	}))

	st := e.Stats()
	require.Equal(t, 1, st.Nodes)
	require.Zero(t, st.Edges, "incident edges must not outlive an endpoint")

	// The unique posting for the deleted node is gone too.
	require.NoError(t, e.View(func(txn *ReadTxn) error {
		ids, err := txn.LookupIndex("User", "external_id", property.String("u2"))
		require.NoError(t, err)
		require.Empty(t, ids)
		return nil
	}))
}

func TestEnv_AdjacencyAndDirection(t *testing.T) {
	e := newTestEnv(t)
	a := putUser(t, e, "a")
	b := putUser(t, e, "b")
	c := putUser(t, e, "c")

	require.NoError(t, e.Update(context.Background(), func(txn *WriteTxn) error {
		if err := txn.PutEdge(&model.Edge{ID: model.NewID(), Label: "Knows", From: a.ID, To: b.ID, Directed: true}); err != nil {
			return err
		}
		return txn.PutEdge(&model.Edge{ID: model.NewID(), Label: "Near", From: a.ID, To: c.ID})
	}))

	require.NoError(t, e.View(func(txn *ReadTxn) error {
		var outLabels, inLabels []string
		for ed := range txn.OutEdges(a.ID) {
			outLabels = append(outLabels, ed.Label)
		}
		require.Equal(t, []string{"Knows", "Near"}, outLabels)

		// Undirected edges are visible from both sides.
		for ed := range txn.OutEdges(c.ID) {
			inLabels = append(inLabels, ed.Label)
		}
		require.Equal(t, []string{"Near"}, inLabels)

		for ed := range txn.InEdges(b.ID) {
			require.Equal(t, "Knows", ed.Label)
		}
		return nil
	}))
}

func TestEnv_SchemaValidation(t *testing.T) {
	e := NewEnv(Options{
		Schema: Schema{"User": {"age": property.KindInt, "score": property.KindFloat}},
	})

	err := e.Update(context.Background(), func(txn *WriteTxn) error {
		return txn.PutNode(&model.Node{
			ID: model.NewID(), Label: "User",
			Props: property.Map{"age": property.String("forty")},
		})
	})
	require.ErrorIs(t, err, ErrTypeMismatch)

	// Int satisfies a declared float, null satisfies anything.
	require.NoError(t, e.Update(context.Background(), func(txn *WriteTxn) error {
		return txn.PutNode(&model.Node{
			ID: model.NewID(), Label: "User",
			Props: property.Map{"score": property.Int(10), "age": property.Null()},
		})
	}))
}

func TestWriteTxn_ReadOwnWrites(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.Update(context.Background(), func(txn *WriteTxn) error {
		n := &model.Node{ID: model.NewID(), Label: "Session"}
		if err := txn.PutNode(n); err != nil {
			return err
		}
		got, err := txn.GetNode(n.ID)
		require.NoError(t, err)
		require.Equal(t, n.ID, got.ID)
		require.NotZero(t, got.Seq)

		var count int
		for range txn.NodesByLabel("Session") {
			count++
		}
		require.Equal(t, 1, count)
		return nil
	}))
}

func TestWriteTxn_IndexLookupResolvesStagedRecords(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.Update(context.Background(), func(txn *WriteTxn) error {
		n := &model.Node{
			ID:    model.NewID(),
			Label: "User",
			Props: property.Map{"external_id": property.String("u1")},
		}
		if err := txn.PutNode(n); err != nil {
			return err
		}
		ids, err := txn.LookupIndex("User", "external_id", property.String("u1"))
		require.NoError(t, err)
		require.Equal(t, []model.ID{n.ID}, ids)

		if err := txn.DeleteNode(n.ID); err != nil {
			return err
		}
		ids, err = txn.LookupIndex("User", "external_id", property.String("u1"))
		require.NoError(t, err)
		require.Empty(t, ids)
		return nil
	}))
}

func TestEnv_AdjacencyOrderStableAcrossReplay(t *testing.T) {
	dir := t.TempDir()
	openEnv := func() *Env {
		log, err := wal.Open(func(o *wal.Options) { o.Path = dir })
		require.NoError(t, err)
		e := NewEnv(Options{Catalog: testCatalog(), Log: log})
		require.NoError(t, e.ReplayLog(context.Background()))
		return e
	}
	outOrder := func(e *Env, hub model.ID) []model.ID {
		var got []model.ID
		require.NoError(t, e.View(func(txn *ReadTxn) error {
			for ed := range txn.OutEdges(hub) {
				got = append(got, ed.ID)
			}
			return nil
		}))
		return got
	}

	e := openEnv()
	hub := putUser(t, e, "hub")
	var want []model.ID
	require.NoError(t, e.Update(context.Background(), func(txn *WriteTxn) error {
		for i := 0; i < 8; i++ {
			n := &model.Node{ID: model.NewID(), Label: "Session"}
			if err := txn.PutNode(n); err != nil {
				return err
			}
			ed := &model.Edge{ID: model.NewID(), Label: "Owns", From: hub.ID, To: n.ID, Directed: true}
			if err := txn.PutEdge(ed); err != nil {
				return err
			}
			want = append(want, ed.ID)
		}
		return nil
	}))

	require.Equal(t, want, outOrder(e, hub.ID), "edges staged together expand in staging order")
	require.NoError(t, e.Close())

	e2 := openEnv()
	defer e2.Close()
	require.Equal(t, want, outOrder(e2, hub.ID), "replay reproduces the same adjacency order")
}

func TestEnv_WALRecovery(t *testing.T) {
	dir := t.TempDir()
	openEnv := func() *Env {
		log, err := wal.Open(func(o *wal.Options) { o.Path = dir })
		require.NoError(t, err)
		e := NewEnv(Options{Catalog: testCatalog(), Log: log})
		require.NoError(t, e.ReplayLog(context.Background()))
		return e
	}

	e := openEnv()
	n := putUser(t, e, "u1")
	putUser(t, e, "u2")
	require.NoError(t, e.Update(context.Background(), func(txn *WriteTxn) error {
		return txn.DeleteNode(n.ID)
	}))
	require.NoError(t, e.Close())

	e2 := openEnv()
	defer e2.Close()

	st := e2.Stats()
	require.Equal(t, 1, st.Nodes)
	require.NoError(t, e2.View(func(txn *ReadTxn) error {
		ids, err := txn.LookupIndex("User", "external_id", property.String("u2"))
		require.NoError(t, err)
		require.Len(t, ids, 1)
		return nil
	}))
}

func TestEnv_SnapshotSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.snap")

	e := newTestEnv(t)
	u := putUser(t, e, "u1")
	v := putUser(t, e, "u2")
	require.NoError(t, e.Update(context.Background(), func(txn *WriteTxn) error {
		if err := txn.PutEdge(&model.Edge{ID: model.NewID(), Label: "Knows", From: u.ID, To: v.ID, Directed: true}); err != nil {
			return err
		}
		return txn.PutVector(&model.Vector{
			ID: model.NewID(), Collection: "embeddings", Data: []float32{1, 2, 3},
		})
	}))
	require.NoError(t, e.SaveSnapshot(path))

	e2 := NewEnv(Options{Catalog: testCatalog()})
	require.NoError(t, e2.LoadSnapshotFile(path))

	st := e2.Stats()
	require.Equal(t, 2, st.Nodes)
	require.Equal(t, 1, st.Edges)
	require.Equal(t, 1, st.Vectors)
	require.Equal(t, e.Version(), e2.Version())

	// Derived state (indices, adjacency, seq order) is rebuilt.
	require.NoError(t, e2.View(func(txn *ReadTxn) error {
		ids, err := txn.LookupIndex("User", "external_id", property.String("u1"))
		require.NoError(t, err)
		require.Equal(t, []model.ID{u.ID}, ids)

		var labels []string
		for ed := range txn.OutEdges(u.ID) {
			labels = append(labels, ed.Label)
		}
		require.Equal(t, []string{"Knows"}, labels)
		return nil
	}))

	// Sequences continue past the loaded maximum.
	w := putUser(t, e2, "u3")
	require.NoError(t, e2.View(func(txn *ReadTxn) error {
		got, err := txn.GetNode(w.ID)
		require.NoError(t, err)
		require.Greater(t, got.Seq, v.Seq)
		return nil
	}))
}

func TestEnv_CommitHooks(t *testing.T) {
	e := newTestEnv(t)
	var putIDs, delIDs []model.ID
	e.SetHooks(Hooks{
		VectorPut:    func(v, _ *model.Vector) { putIDs = append(putIDs, v.ID) },
		VectorDelete: func(v *model.Vector) { delIDs = append(delIDs, v.ID) },
	})

	vec := &model.Vector{ID: model.NewID(), Collection: "c", Data: []float32{1}}
	require.NoError(t, e.Update(context.Background(), func(txn *WriteTxn) error {
		return txn.PutVector(vec)
	}))
	require.Equal(t, []model.ID{vec.ID}, putIDs)

	require.NoError(t, e.Update(context.Background(), func(txn *WriteTxn) error {
		return txn.DeleteVector(vec.ID)
	}))
	require.Equal(t, []model.ID{vec.ID}, delIDs)
}

func TestEnv_ClosedRejectsWork(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.Close())

	_, err := e.BeginRead()
	require.ErrorIs(t, err, ErrClosed)
	_, err = e.BeginWrite(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
