package traversal

import (
	"errors"
	"fmt"

	"github.com/gravel-db/gravel/model"
	"github.com/gravel-db/gravel/property"
	"github.com/gravel-db/gravel/storage"
)

func isNotFound(err error) bool { return errors.Is(err, storage.ErrNotFound) }

// UpsertMode selects how a multi-record match set is handled.
type UpsertMode int

const (
	// UpsertSingle expects at most one match: merge into it, or insert
	// when absent. More than one match is ErrAmbiguous.
	UpsertSingle UpsertMode = iota
	// UpsertMerge applies the merge to every matched record (bulk
	// upsert), inserting only when the match set is empty.
	UpsertMerge
)

// AddN inserts a new node. When uniqueOn names fields, the insert first
// checks that no existing node of the label carries the same values for
// all of them together (a composite existence check); a hit fails with
// ErrUniqueness and nothing is staged.
func (g *G) AddN(label string, props property.Map, uniqueOn ...string) (*model.Node, error) {
	w := g.src.Write
	if w == nil {
		return nil, ErrReadOnly
	}

	if len(uniqueOn) > 0 {
		for n := range w.NodesByLabel(label) {
			all := true
			for _, field := range uniqueOn {
				if !n.Props.GetOr(field).Equal(props.GetOr(field)) {
					all = false
					break
				}
			}
			if all {
				return nil, fmt.Errorf("%w: %s(%v) already exists as %s", ErrUniqueness, label, uniqueOn, n.ID)
			}
		}
	}

	node := &model.Node{ID: model.NewID(), Label: label, Props: props}
	if err := w.PutNode(node); err != nil {
		return nil, err
	}
	// Re-read so the caller sees the assigned sequence.
	return w.GetNode(node.ID)
}

// AddE inserts an edge between two existing nodes. Missing endpoints fail
// the insert; no edge is ever created dangling.
func (g *G) AddE(label string, from, to model.ID, directed bool, props property.Map) (*model.Edge, error) {
	w := g.src.Write
	if w == nil {
		return nil, ErrReadOnly
	}
	edge := &model.Edge{ID: model.NewID(), Label: label, From: from, To: to, Directed: directed, Props: props}
	if err := w.PutEdge(edge); err != nil {
		return nil, err
	}
	return w.GetEdge(edge.ID)
}

// InsertV inserts a vector record into a collection.
func (g *G) InsertV(collection string, data []float32, props property.Map) (*model.Vector, error) {
	return g.InsertVAs(model.NewID(), collection, data, props)
}

// InsertVAs inserts a vector record with a caller-chosen id. Giving a
// node's embedding the node's own id is what makes the two halves fuse in
// hybrid retrieval.
func (g *G) InsertVAs(id model.ID, collection string, data []float32, props property.Map) (*model.Vector, error) {
	w := g.src.Write
	if w == nil {
		return nil, ErrReadOnly
	}
	vec := &model.Vector{ID: id, Collection: collection, Data: data, Props: props}
	if err := w.PutVector(vec); err != nil {
		return nil, err
	}
	return w.GetVector(vec.ID)
}

// Upsert merges fields into the pipeline's matched nodes, or inserts a
// new node of the label when nothing matched. Fields merge field by
// field; properties not mentioned are preserved. The whole operation is
// staged in the enclosing write transaction, so concurrent readers never
// observe a half-applied upsert.
func (g *G) Upsert(mode UpsertMode, label string, fields property.Map) ([]*model.Node, error) {
	w := g.src.Write
	if w == nil {
		return nil, ErrReadOnly
	}

	matches, err := g.CollectNodes()
	if err != nil {
		return nil, err
	}

	switch {
	case len(matches) == 0:
		node := &model.Node{ID: model.NewID(), Label: label, Props: fields}
		if err := w.PutNode(node); err != nil {
			return nil, err
		}
		inserted, err := w.GetNode(node.ID)
		if err != nil {
			return nil, err
		}
		return []*model.Node{inserted}, nil

	case len(matches) > 1 && mode == UpsertSingle:
		return nil, fmt.Errorf("%w: %d records match the upsert key", ErrAmbiguous, len(matches))

	default:
		out := make([]*model.Node, 0, len(matches))
		for _, n := range matches {
			merged := n.Clone()
			merged.Props = n.Props.With(fields)
			if err := w.PutNode(merged); err != nil {
				return nil, err
			}
			updated, err := w.GetNode(merged.ID)
			if err != nil {
				return nil, err
			}
			out = append(out, updated)
		}
		return out, nil
	}
}

// Update merges fields into every matched record, preserving fields not
// mentioned. Works on nodes, edges and vectors.
func (g *G) Update(fields property.Map) ([]model.Item, error) {
	w := g.src.Write
	if w == nil {
		return nil, ErrReadOnly
	}

	items, err := g.Collect()
	if err != nil {
		return nil, err
	}
	out := make([]model.Item, 0, len(items))
	for _, item := range items {
		switch rec := item.(type) {
		case *model.Node:
			upd := rec.Clone()
			upd.Props = rec.Props.With(fields)
			if err := w.PutNode(upd); err != nil {
				return nil, err
			}
			fresh, err := w.GetNode(upd.ID)
			if err != nil {
				return nil, err
			}
			out = append(out, fresh)
		case *model.Edge:
			upd := rec.Clone()
			upd.Props = rec.Props.With(fields)
			if err := w.PutEdge(upd); err != nil {
				return nil, err
			}
			fresh, err := w.GetEdge(upd.ID)
			if err != nil {
				return nil, err
			}
			out = append(out, fresh)
		case *model.Vector:
			upd := rec.Clone()
			upd.Props = rec.Props.With(fields)
			if err := w.PutVector(upd); err != nil {
				return nil, err
			}
			fresh, err := w.GetVector(upd.ID)
			if err != nil {
				return nil, err
			}
			out = append(out, fresh)
		default:
			return nil, fmt.Errorf("traversal: cannot update %T", item)
		}
	}
	return out, nil
}

// Migrate backfills a field with a default on every matched record that
// does not already carry it. Records that have the field keep their
// value, so the operation is safe to re-run after a partial failure.
func (g *G) Migrate(field string, def property.Value) (int, error) {
	w := g.src.Write
	if w == nil {
		return 0, ErrReadOnly
	}

	items, err := g.Collect()
	if err != nil {
		return 0, err
	}
	patch := property.Map{field: def}
	migrated := 0
	for _, item := range items {
		if _, ok := item.Properties().Get(field); ok {
			continue
		}
		switch rec := item.(type) {
		case *model.Node:
			upd := rec.Clone()
			upd.Props = rec.Props.With(patch)
			err = w.PutNode(upd)
		case *model.Edge:
			upd := rec.Clone()
			upd.Props = rec.Props.With(patch)
			err = w.PutEdge(upd)
		case *model.Vector:
			upd := rec.Clone()
			upd.Props = rec.Props.With(patch)
			err = w.PutVector(upd)
		default:
			return migrated, fmt.Errorf("traversal: cannot migrate %T", item)
		}
		if err != nil {
			return migrated, err
		}
		migrated++
	}
	return migrated, nil
}

// Drop deletes every matched record, returning how many were removed.
// Dropping a node cascades to its incident edges; index postings go with
// their owners.
func (g *G) Drop() (int, error) {
	w := g.src.Write
	if w == nil {
		return 0, ErrReadOnly
	}

	items, err := g.Collect()
	if err != nil {
		return 0, err
	}
	dropped := 0
	for _, item := range items {
		switch rec := item.(type) {
		case *model.Node:
			err = w.DeleteNode(rec.ID)
		case *model.Edge:
			err = w.DeleteEdge(rec.ID)
			// A node drop earlier in the same set may have cascaded
			// this edge away already.
			if err != nil && isNotFound(err) {
				continue
			}
		case *model.Vector:
			err = w.DeleteVector(rec.ID)
		default:
			return dropped, fmt.Errorf("traversal: cannot drop %T", item)
		}
		if err != nil {
			return dropped, err
		}
		dropped++
	}
	return dropped, nil
}
