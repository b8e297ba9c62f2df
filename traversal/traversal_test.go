package traversal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravel-db/gravel/lexical"
	"github.com/gravel-db/gravel/model"
	"github.com/gravel-db/gravel/property"
	"github.com/gravel-db/gravel/secondary"
	"github.com/gravel-db/gravel/storage"
	"github.com/gravel-db/gravel/vector"
)

type fixture struct {
	env     *storage.Env
	vectors *vector.Manager
	lex     *lexical.Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog := secondary.NewCatalog([]secondary.Spec{
		{Label: "User", Field: "external_id", Unique: true},
		{Label: "Entity", Field: "canonical_name"},
	})
	vectors, err := vector.NewManager(vector.Config{}, nil)
	require.NoError(t, err)

	f := &fixture{
		env:     storage.NewEnv(storage.Options{Catalog: catalog}),
		vectors: vectors,
		lex:     lexical.NewCatalog(map[string]string{"Activity": "summary"}),
	}
	f.env.SetHooks(storage.Hooks{
		NodePut:      func(n, _ *model.Node) { f.lex.Observe(n) },
		NodeDelete:   func(n *model.Node) { f.lex.Remove(n) },
		VectorPut:    func(v, _ *model.Vector) { _ = f.vectors.Upsert(v) },
		VectorDelete: func(v *model.Vector) { f.vectors.Delete(v) },
	})
	return f
}

// write runs fn in a write transaction with a mutation-capable pipeline.
func (f *fixture) write(t *testing.T, fn func(*G) error) {
	t.Helper()
	txn, err := f.env.BeginWrite(context.Background())
	require.NoError(t, err)
	g := New(&Source{Txn: txn, Write: txn, Vectors: f.vectors, Lexical: f.lex})
	if err := fn(g); err != nil {
		txn.Discard()
		t.Fatalf("write pipeline: %v", err)
	}
	require.NoError(t, txn.Commit(context.Background()))
}

// writeErr runs fn expecting it to fail, discarding the transaction.
func (f *fixture) writeErr(t *testing.T, fn func(*G) error) error {
	t.Helper()
	txn, err := f.env.BeginWrite(context.Background())
	require.NoError(t, err)
	defer txn.Discard()
	g := New(&Source{Txn: txn, Write: txn, Vectors: f.vectors, Lexical: f.lex})
	err = fn(g)
	require.Error(t, err)
	return err
}

// read builds a read-only pipeline over the current snapshot.
func (f *fixture) read(t *testing.T) *G {
	t.Helper()
	txn, err := f.env.BeginRead()
	require.NoError(t, err)
	return New(&Source{Txn: txn, Vectors: f.vectors, Lexical: f.lex})
}

func TestSeedAndCollect(t *testing.T) {
	f := newFixture(t)
	var userID model.ID
	f.write(t, func(g *G) error {
		u, err := g.AddN("User", property.Map{"external_id": property.String("u1")})
		if err != nil {
			return err
		}
		userID = u.ID
		_, err = g.AddN("Session", property.Map{"summary": property.String("morning work")})
		return err
	})

	users, err := f.read(t).NFromType("User").CollectNodes()
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, userID, users[0].ID)

	one, err := f.read(t).NFromID(userID).CollectOne()
	require.NoError(t, err)
	require.Equal(t, userID, one.ItemID())

	_, err = f.read(t).NFromID(model.NewID()).CollectOne()
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIndexSeed(t *testing.T) {
	f := newFixture(t)
	f.write(t, func(g *G) error {
		_, err := g.AddN("User", property.Map{"external_id": property.String("u1")})
		return err
	})

	one, err := f.read(t).NFromIndex("User", "external_id", property.String("u1")).CollectOne()
	require.NoError(t, err)
	s, _ := one.Properties().GetOr("external_id").AsString()
	require.Equal(t, "u1", s)

	_, err = f.read(t).NFromIndex("User", "external_id", property.String("missing")).CollectOne()
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFanOutLinkThenTraverse(t *testing.T) {
	f := newFixture(t)
	var blockID, toolID model.ID
	f.write(t, func(g *G) error {
		block, err := g.AddN("Block", property.Map{"name": property.String("A")})
		if err != nil {
			return err
		}
		tool, err := g.AddN("Tool", property.Map{"name": property.String("B")})
		if err != nil {
			return err
		}
		blockID, toolID = block.ID, tool.ID
		_, err = g.AddE("BlockUsesTool", block.ID, tool.ID, true, nil)
		return err
	})

	out, err := f.read(t).NFromID(blockID).Out("BlockUsesTool").CollectNodes()
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, toolID, out[0].ID)

	in, err := f.read(t).NFromID(toolID).In("BlockUsesTool").CollectNodes()
	require.NoError(t, err)
	require.Len(t, in, 1)
	require.Equal(t, blockID, in[0].ID)
}

func TestChainedExpansion(t *testing.T) {
	f := newFixture(t)
	var userID model.ID
	f.write(t, func(g *G) error {
		user, err := g.AddN("User", property.Map{"external_id": property.String("u1")})
		if err != nil {
			return err
		}
		userID = user.ID
		for _, day := range []string{"mon", "tue"} {
			node, err := g.AddN("TimelineNode", property.Map{"date": property.String(day)})
			if err != nil {
				return err
			}
			if _, err := g.AddE("UserOwnsNode", user.ID, node.ID, true, nil); err != nil {
				return err
			}
			sess, err := g.AddN("Session", property.Map{"date": property.String(day)})
			if err != nil {
				return err
			}
			if _, err := g.AddE("SessionInNode", sess.ID, node.ID, true, nil); err != nil {
				return err
			}
		}
		return nil
	})

	// User -> TimelineNode -> (in) Session, two hops.
	sessions, err := f.read(t).
		NFromID(userID).
		Out("UserOwnsNode").
		In("SessionInNode").
		CollectNodes()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	for _, s := range sessions {
		require.Equal(t, "Session", s.Label)
	}
}

func TestFilterOrderRange(t *testing.T) {
	f := newFixture(t)
	f.write(t, func(g *G) error {
		for i, rel := range []float64{0.3, 0.9, 0.7, 0.5} {
			_, err := g.AddN("Activity", property.Map{
				"relevance": property.Float(rel),
				"idx":       property.Int(int64(i)),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	run := func() []float64 {
		nodes, err := f.read(t).
			NFromType("Activity").
			Filter(property.NewFilterSet(property.Filter{
				Field: "relevance", Operator: property.OpGreaterThan, Value: property.Float(0.4),
			})).
			OrderBy("relevance", true).
			Range(0, 2).
			CollectNodes()
		require.NoError(t, err)
		out := make([]float64, len(nodes))
		for i, n := range nodes {
			out[i], _ = n.Props.GetOr("relevance").AsFloat64()
		}
		return out
	}

	require.Equal(t, []float64{0.9, 0.7}, run())
	// Stable across repeated evaluation of an unchanged snapshot.
	require.Equal(t, run(), run())
}

func TestOrderByNullsSortLow(t *testing.T) {
	f := newFixture(t)
	f.write(t, func(g *G) error {
		if _, err := g.AddN("Doc", property.Map{"rank": property.Int(5)}); err != nil {
			return err
		}
		if _, err := g.AddN("Doc", nil); err != nil {
			return err
		}
		_, err := g.AddN("Doc", property.Map{"rank": property.Int(1)})
		return err
	})

	nodes, err := f.read(t).NFromType("Doc").OrderBy("rank", false).CollectNodes()
	require.NoError(t, err)
	require.True(t, nodes[0].Props.GetOr("rank").IsNull())
	r1, _ := nodes[1].Props.GetOr("rank").AsInt64()
	r2, _ := nodes[2].Props.GetOr("rank").AsInt64()
	require.Equal(t, []int64{1, 5}, []int64{r1, r2})
}

func TestDedupCountGroupBy(t *testing.T) {
	f := newFixture(t)
	f.write(t, func(g *G) error {
		user, err := g.AddN("User", property.Map{"external_id": property.String("u1")})
		if err != nil {
			return err
		}
		for _, cat := range []string{"tech", "tech", "ops"} {
			a, err := g.AddN("Activity", property.Map{"category": property.String(cat)})
			if err != nil {
				return err
			}
			// Two parallel edges to the same activity produce duplicates on expand.
			if _, err := g.AddE("UserDid", user.ID, a.ID, true, nil); err != nil {
				return err
			}
			if _, err := g.AddE("UserDid", user.ID, a.ID, true, nil); err != nil {
				return err
			}
		}
		return nil
	})

	users, err := f.read(t).NFromType("User").CollectNodes()
	require.NoError(t, err)

	raw, err := f.read(t).NFromID(users[0].ID).Out("UserDid").Count()
	require.NoError(t, err)
	require.Equal(t, 6, raw)

	deduped, err := f.read(t).NFromID(users[0].ID).Out("UserDid").Dedup().Count()
	require.NoError(t, err)
	require.Equal(t, 3, deduped)

	groups, err := f.read(t).NFromType("Activity").GroupBy("category")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	require.Equal(t, "tech", mustString(t, groups[0].Key))
	require.Equal(t, 2, groups[0].Count)
	require.Len(t, groups[0].Items, 2)

	agg, err := f.read(t).NFromType("Activity").Aggregate("category")
	require.NoError(t, err)
	require.Nil(t, agg[0].Items)

	ok, err := f.read(t).NFromType("Activity").Exist()
	require.NoError(t, err)
	require.True(t, ok)
}

func mustString(t *testing.T, v property.Value) string {
	t.Helper()
	s, ok := v.AsString()
	require.True(t, ok)
	return s
}

func TestUpsertRoundTrip(t *testing.T) {
	f := newFixture(t)

	// First upsert inserts.
	var firstID model.ID
	f.write(t, func(g *G) error {
		nodes, err := g.NFromIndex("User", "external_id", property.String("u1")).
			Upsert(UpsertSingle, "User", property.Map{
				"external_id": property.String("u1"),
				"metadata":    property.String("first"),
			})
		if err != nil {
			return err
		}
		firstID = nodes[0].ID
		return nil
	})

	// Second upsert with the same key merges, same id.
	f.write(t, func(g *G) error {
		nodes, err := g.NFromIndex("User", "external_id", property.String("u1")).
			Upsert(UpsertSingle, "User", property.Map{
				"external_id": property.String("u1"),
				"metadata":    property.String("second"),
			})
		if err != nil {
			return err
		}
		require.Equal(t, firstID, nodes[0].ID)
		return nil
	})

	matched, err := f.read(t).NFromIndex("User", "external_id", property.String("u1")).CollectNodes()
	require.NoError(t, err)
	require.Len(t, matched, 1)
	require.Equal(t, firstID, matched[0].ID)
	require.Equal(t, "second", mustString(t, matched[0].Props.GetOr("metadata")))
}

func TestUpsertPreservesUnmentionedFields(t *testing.T) {
	f := newFixture(t)
	f.write(t, func(g *G) error {
		_, err := g.AddN("User", property.Map{
			"external_id": property.String("u1"),
			"timezone":    property.String("UTC"),
		})
		return err
	})
	f.write(t, func(g *G) error {
		_, err := g.NFromIndex("User", "external_id", property.String("u1")).
			Upsert(UpsertSingle, "User", property.Map{"metadata": property.String("m")})
		return err
	})

	one, err := f.read(t).NFromIndex("User", "external_id", property.String("u1")).CollectOne()
	require.NoError(t, err)
	require.Equal(t, "UTC", mustString(t, one.Properties().GetOr("timezone")))
	require.Equal(t, "m", mustString(t, one.Properties().GetOr("metadata")))
}

func TestUpsertAmbiguousModes(t *testing.T) {
	f := newFixture(t)
	// Two WorkflowPattern nodes share the same match key, inserted
	// out-of-band of any uniqueness declaration.
	match := property.NewFilterSet(
		property.Eq("user_id", property.String("u1")),
		property.Eq("intent_category", property.String("review")),
	)
	f.write(t, func(g *G) error {
		for i := 0; i < 2; i++ {
			_, err := g.AddN("WorkflowPattern", property.Map{
				"user_id":         property.String("u1"),
				"intent_category": property.String("review"),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	// Single-match mode refuses.
	err := f.writeErr(t, func(g *G) error {
		_, err := g.NFromType("WorkflowPattern").Filter(match).
			Upsert(UpsertSingle, "WorkflowPattern", property.Map{"strength": property.Float(0.9)})
		return err
	})
	require.ErrorIs(t, err, ErrAmbiguous)

	// Bulk mode updates both and returns both ids.
	var updated []*model.Node
	f.write(t, func(g *G) error {
		var err error
		updated, err = g.NFromType("WorkflowPattern").Filter(match).
			Upsert(UpsertMerge, "WorkflowPattern", property.Map{"strength": property.Float(0.9)})
		return err
	})
	require.Len(t, updated, 2)

	nodes, err := f.read(t).NFromType("WorkflowPattern").CollectNodes()
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	for _, n := range nodes {
		s, _ := n.Props.GetOr("strength").AsFloat64()
		require.Equal(t, 0.9, s)
	}
}

func TestUpsertIdempotence(t *testing.T) {
	f := newFixture(t)
	do := func() model.ID {
		var id model.ID
		f.write(t, func(g *G) error {
			nodes, err := g.NFromIndex("User", "external_id", property.String("u9")).
				Upsert(UpsertSingle, "User", property.Map{
					"external_id": property.String("u9"),
					"metadata":    property.String("same"),
				})
			if err != nil {
				return err
			}
			id = nodes[0].ID
			return nil
		})
		return id
	}

	first := do()
	second := do()
	require.Equal(t, first, second)

	count, err := f.read(t).NFromType("User").Count()
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestAddNCompositeUniqueness(t *testing.T) {
	f := newFixture(t)
	f.write(t, func(g *G) error {
		_, err := g.AddN("Block", property.Map{
			"user_id": property.String("u1"),
			"name":    property.String("focus"),
		}, "user_id", "name")
		return err
	})

	err := f.writeErr(t, func(g *G) error {
		_, err := g.AddN("Block", property.Map{
			"user_id": property.String("u1"),
			"name":    property.String("focus"),
		}, "user_id", "name")
		return err
	})
	require.ErrorIs(t, err, ErrUniqueness)

	// Same name for a different user is fine.
	f.write(t, func(g *G) error {
		_, err := g.AddN("Block", property.Map{
			"user_id": property.String("u2"),
			"name":    property.String("focus"),
		}, "user_id", "name")
		return err
	})
}

func TestUpdateAndDrop(t *testing.T) {
	f := newFixture(t)
	f.write(t, func(g *G) error {
		for i := int64(0); i < 3; i++ {
			if _, err := g.AddN("Session", property.Map{"idx": property.Int(i)}); err != nil {
				return err
			}
		}
		return nil
	})

	f.write(t, func(g *G) error {
		items, err := g.NFromType("Session").Update(property.Map{"archived": property.Bool(true)})
		if err != nil {
			return err
		}
		require.Len(t, items, 3)
		return nil
	})

	count, err := f.read(t).
		NFromType("Session").
		Filter(property.NewFilterSet(property.Eq("archived", property.Bool(true)))).
		Count()
	require.NoError(t, err)
	require.Equal(t, 3, count)

	f.write(t, func(g *G) error {
		dropped, err := g.NFromType("Session").Range(0, 2).Drop()
		if err != nil {
			return err
		}
		require.Equal(t, 2, dropped)
		return nil
	})

	count, err = f.read(t).NFromType("Session").Count()
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestMigrateBackfillsMissingField(t *testing.T) {
	f := newFixture(t)
	f.write(t, func(g *G) error {
		if _, err := g.AddN("Session", property.Map{"device": property.String("laptop")}); err != nil {
			return err
		}
		_, err := g.AddN("Session", nil)
		return err
	})

	f.write(t, func(g *G) error {
		migrated, err := g.NFromType("Session").Migrate("device", property.String("unknown"))
		if err != nil {
			return err
		}
		require.Equal(t, 1, migrated, "only the record missing the field is touched")
		return nil
	})

	// Re-running changes nothing.
	f.write(t, func(g *G) error {
		migrated, err := g.NFromType("Session").Migrate("device", property.String("unknown"))
		if err != nil {
			return err
		}
		require.Zero(t, migrated)
		return nil
	})

	nodes, err := f.read(t).NFromType("Session").OrderBy("device", false).CollectNodes()
	require.NoError(t, err)
	require.Equal(t, "laptop", mustString(t, nodes[0].Props.GetOr("device")))
	require.Equal(t, "unknown", mustString(t, nodes[1].Props.GetOr("device")))
}

func TestDropNodeCascadesEdges(t *testing.T) {
	f := newFixture(t)
	var userID model.ID
	f.write(t, func(g *G) error {
		u, err := g.AddN("User", property.Map{"external_id": property.String("u1")})
		if err != nil {
			return err
		}
		userID = u.ID
		s, err := g.AddN("Session", nil)
		if err != nil {
			return err
		}
		_, err = g.AddE("UserOwnsSession", u.ID, s.ID, true, nil)
		return err
	})

	f.write(t, func(g *G) error {
		_, err := g.NFromID(userID).Drop()
		return err
	})

	edges, err := f.read(t).EFromType("UserOwnsSession").CollectEdges()
	require.NoError(t, err)
	require.Empty(t, edges)
}

func TestMutationOnReadPipelineFails(t *testing.T) {
	f := newFixture(t)
	_, err := f.read(t).AddN("User", nil)
	require.ErrorIs(t, err, ErrReadOnly)
	_, err = f.read(t).NFromType("User").Drop()
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestSearchVSeed(t *testing.T) {
	f := newFixture(t)
	var wantID model.ID
	f.write(t, func(g *G) error {
		v, err := g.InsertV("embeddings", []float32{1, 0, 0}, property.Map{"tag": property.String("a")})
		if err != nil {
			return err
		}
		wantID = v.ID
		if _, err := g.InsertV("embeddings", []float32{0, 1, 0}, nil); err != nil {
			return err
		}
		_, err = g.InsertV("embeddings", []float32{0, 0, 1}, nil)
		return err
	})

	vecs, err := f.read(t).SearchV("embeddings", []float32{1, 0, 0}, 2).CollectVectors()
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	require.Equal(t, wantID, vecs[0].ID)

	// Filters compose after the seed.
	filtered, err := f.read(t).
		SearchV("embeddings", []float32{1, 0, 0}, 3).
		Filter(property.NewFilterSet(property.Eq("tag", property.String("a")))).
		CollectVectors()
	require.NoError(t, err)
	require.Len(t, filtered, 1)
}

func TestSearchVReadOwnWrites(t *testing.T) {
	f := newFixture(t)

	// The collection exists only in this transaction's staged writes; the
	// shared index learns about it at commit.
	txn, err := f.env.BeginWrite(context.Background())
	require.NoError(t, err)
	g := New(&Source{Txn: txn, Write: txn, Vectors: f.vectors, Lexical: f.lex})
	first, err := g.InsertV("embeddings", []float32{1, 0, 0}, nil)
	require.NoError(t, err)

	hits, err := g.SearchV("embeddings", []float32{1, 0, 0}, 2).CollectVectors()
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, first.ID, hits[0].ID)
	require.NoError(t, txn.Commit(context.Background()))

	// Staged vectors rank against committed ones under the same metric.
	f.write(t, func(g *G) error {
		staged, err := g.InsertV("embeddings", []float32{0, 1, 0}, nil)
		if err != nil {
			return err
		}
		hits, err := g.SearchV("embeddings", []float32{0, 1, 0}, 2).CollectVectors()
		if err != nil {
			return err
		}
		require.Len(t, hits, 2)
		require.Equal(t, staged.ID, hits[0].ID)
		require.Equal(t, first.ID, hits[1].ID)
		return nil
	})

	// A vector deleted in the transaction disappears from its own search.
	f.write(t, func(g *G) error {
		if _, err := g.VFromID(first.ID).Drop(); err != nil {
			return err
		}
		hits, err := g.SearchV("embeddings", []float32{1, 0, 0}, 2).CollectVectors()
		if err != nil {
			return err
		}
		require.Len(t, hits, 1)
		require.NotEqual(t, first.ID, hits[0].ID)
		return nil
	})
}

func TestSearchBM25Seed(t *testing.T) {
	f := newFixture(t)
	var wantID model.ID
	f.write(t, func(g *G) error {
		n, err := g.AddN("Activity", property.Map{"summary": property.String("edited screenshots in figma")})
		if err != nil {
			return err
		}
		wantID = n.ID
		_, err = g.AddN("Activity", property.Map{"summary": property.String("replied to email")})
		return err
	})

	nodes, err := f.read(t).SearchBM25("Activity", "figma", 5).CollectNodes()
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Equal(t, wantID, nodes[0].ID)
}

func TestShortestPath(t *testing.T) {
	f := newFixture(t)
	ids := make([]model.ID, 4)
	f.write(t, func(g *G) error {
		for i := range ids {
			n, err := g.AddN("TimelineNode", property.Map{"idx": property.Int(int64(i))})
			if err != nil {
				return err
			}
			ids[i] = n.ID
		}
		// Chain 0->1->2->3 plus a shortcut 0->2.
		pairs := [][2]int{{0, 1}, {1, 2}, {2, 3}, {0, 2}}
		for _, p := range pairs {
			if _, err := g.AddE("Next", ids[p[0]], ids[p[1]], true, nil); err != nil {
				return err
			}
		}
		return nil
	})

	path, err := f.read(t).NFromID(ids[0]).ShortestPath(ids[3], "Next")
	require.NoError(t, err)
	require.Len(t, path, 3, "shortcut 0->2->3 beats 0->1->2->3")
	require.Equal(t, ids[0], path[0].ID)
	require.Equal(t, ids[2], path[1].ID)
	require.Equal(t, ids[3], path[2].ID)

	_, err = f.read(t).NFromID(ids[3]).ShortestPath(ids[0], "Next")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPipelineErrorAbortsWholeTraversal(t *testing.T) {
	f := newFixture(t)
	f.write(t, func(g *G) error {
		_, err := g.AddN("User", property.Map{"external_id": property.String("u1")})
		return err
	})

	boom := func(model.Item) (bool, error) { return false, context.DeadlineExceeded }
	_, err := f.read(t).NFromType("User").FilterFunc(boom).Collect()
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
