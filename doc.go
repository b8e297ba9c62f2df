// Package gravel is an embedded, transactional property-graph and vector
// data engine.
//
// A Store holds typed nodes, edges and vector records with snapshot
// isolation: readers pin an immutable version and never block, a single
// writer at a time commits atomically. On top of the record store sit
// declared secondary indexes (unique or multi-valued), a lazy composable
// traversal pipeline, per-collection HNSW vector search with an exact
// fallback for small collections, optional BM25 keyword search, and a
// reciprocal-rank-fusion / maximal-marginal-relevance reranker for hybrid
// retrieval.
//
// # Quick start
//
//	db, err := gravel.Open(gravel.Config{
//	    Indices: []secondary.Spec{
//	        {Label: "User", Field: "external_id", Unique: true},
//	    },
//	    Vectors: map[string]vector.Config{
//	        "embeddings": {Dimension: 768},
//	    },
//	},
//	    gravel.WithWAL("./data/wal"),
//	    gravel.WithSnapshotPath("./data/snapshot.grvl"),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer db.Close()
//
// Mutate and query through traversal pipelines:
//
//	err = db.Update(ctx, func(g *traversal.G) error {
//	    _, err := g.NFromIndex("User", "external_id", property.String("u1")).
//	        Upsert(traversal.UpsertSingle, "User", property.Map{
//	            "external_id": property.String("u1"),
//	            "timezone":    property.String("UTC"),
//	        })
//	    return err
//	})
//
//	err = db.View(func(g *traversal.G) error {
//	    users, err := g.NFromType("User").
//	        Filter(property.NewFilterSet(property.Eq("timezone", property.String("UTC")))).
//	        CollectNodes()
//	    ...
//	})
//
// Durability: with a WAL configured, every commit is appended as one
// atomic log entry and replayed at Open. With a snapshot path configured,
// the log auto-checkpoints into a compact snapshot file; snapshots can
// additionally be archived to local, S3 or MinIO blob stores.
package gravel
