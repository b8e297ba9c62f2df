package storage

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sort"

	"github.com/gravel-db/gravel/model"
	"github.com/gravel-db/gravel/property"
	"github.com/gravel-db/gravel/secondary"
	"github.com/gravel-db/gravel/wal"
)

// Txn is the read surface shared by read and write transactions. Records
// returned by a transaction are owned by the store; callers must Clone
// before mutating.
type Txn interface {
	GetNode(id model.ID) (*model.Node, error)
	GetEdge(id model.ID) (*model.Edge, error)
	GetVector(id model.ID) (*model.Vector, error)

	// NodesByLabel yields nodes of a label in insertion order.
	NodesByLabel(label string) iter.Seq[*model.Node]
	EdgesByLabel(label string) iter.Seq[*model.Edge]
	VectorsByCollection(collection string) iter.Seq[*model.Vector]

	// LookupIndex resolves a declared secondary index to record ids in
	// insertion order.
	LookupIndex(label, field string, value property.Value) ([]model.ID, error)

	// OutEdges and InEdges yield a node's incident edges in insertion
	// order. Undirected edges show up on both sides.
	OutEdges(id model.ID) iter.Seq[*model.Edge]
	InEdges(id model.ID) iter.Seq[*model.Edge]

	Version() uint64
}

// ReadTxn is a consistent point-in-time view. It holds no locks and never
// blocks writers; dropping it releases the pinned snapshot to the GC.
type ReadTxn struct {
	snap *snapshot
}

var _ Txn = (*ReadTxn)(nil)

// GetNode returns the node with the given id.
func (t *ReadTxn) GetNode(id model.ID) (*model.Node, error) {
	if n, ok := t.snap.nodes[id]; ok {
		return n, nil
	}
	return nil, fmt.Errorf("%w: node %s", ErrNotFound, id)
}

// GetEdge returns the edge with the given id.
func (t *ReadTxn) GetEdge(id model.ID) (*model.Edge, error) {
	if e, ok := t.snap.edges[id]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: edge %s", ErrNotFound, id)
}

// GetVector returns the vector record with the given id.
func (t *ReadTxn) GetVector(id model.ID) (*model.Vector, error) {
	if v, ok := t.snap.vectors[id]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: vector %s", ErrNotFound, id)
}

// NodesByLabel implements Txn.
func (t *ReadTxn) NodesByLabel(label string) iter.Seq[*model.Node] {
	snap := t.snap
	return func(yield func(*model.Node) bool) {
		for _, seq := range snap.nodesByLabel[label] {
			if n, ok := snap.nodes[snap.bySeq[seq]]; ok {
				if !yield(n) {
					return
				}
			}
		}
	}
}

// EdgesByLabel implements Txn.
func (t *ReadTxn) EdgesByLabel(label string) iter.Seq[*model.Edge] {
	snap := t.snap
	return func(yield func(*model.Edge) bool) {
		for _, seq := range snap.edgesByLabel[label] {
			if e, ok := snap.edges[snap.bySeq[seq]]; ok {
				if !yield(e) {
					return
				}
			}
		}
	}
}

// VectorsByCollection implements Txn.
func (t *ReadTxn) VectorsByCollection(collection string) iter.Seq[*model.Vector] {
	snap := t.snap
	return func(yield func(*model.Vector) bool) {
		for _, seq := range snap.vectorsByColl[collection] {
			if v, ok := snap.vectors[snap.bySeq[seq]]; ok {
				if !yield(v) {
					return
				}
			}
		}
	}
}

// LookupIndex implements Txn.
func (t *ReadTxn) LookupIndex(label, field string, value property.Value) ([]model.ID, error) {
	ix, ok := t.snap.indices[indexKey(label, field)]
	if !ok {
		return nil, fmt.Errorf("storage: no index declared on %s.%s", label, field)
	}
	seqs := ix.Lookup(value)
	ids := make([]model.ID, 0, len(seqs))
	for _, seq := range seqs {
		if id, ok := t.snap.bySeq[seq]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// OutEdges implements Txn.
func (t *ReadTxn) OutEdges(id model.ID) iter.Seq[*model.Edge] {
	return edgesOf(t.snap, t.snap.out[id])
}

// InEdges implements Txn.
func (t *ReadTxn) InEdges(id model.ID) iter.Seq[*model.Edge] {
	return edgesOf(t.snap, t.snap.in[id])
}

func edgesOf(snap *snapshot, ids []model.ID) iter.Seq[*model.Edge] {
	return func(yield func(*model.Edge) bool) {
		for _, eid := range ids {
			if e, ok := snap.edges[eid]; ok {
				if !yield(e) {
					return
				}
			}
		}
	}
}

// Version implements Txn.
func (t *ReadTxn) Version() uint64 { return t.snap.version }

// WriteTxn stages mutations against a pinned base snapshot. Reads inside
// the transaction see its own staged writes. Nothing becomes visible to
// other transactions before Commit returns.
type WriteTxn struct {
	env  *Env
	base *snapshot

	nextSeq uint32

	nodes   map[model.ID]*model.Node
	edges   map[model.ID]*model.Edge
	vectors map[model.ID]*model.Vector

	delNodes   map[model.ID]*model.Node
	delEdges   map[model.ID]*model.Edge
	delVectors map[model.ID]*model.Vector

	// stagedBySeq resolves a sequence staged in this transaction to its
	// record id without scanning the staged maps.
	stagedBySeq map[uint32]model.ID

	// indices holds copy-on-write clones of every index touched so far,
	// so uniqueness is checked against the transaction's own view.
	indices map[string]*secondary.Index

	ops []wal.Op

	skipLog  bool
	commitAs uint64
	done     bool
}

var _ Txn = (*WriteTxn)(nil)

func (t *WriteTxn) indexFor(spec secondary.Spec) *secondary.Index {
	key := indexKey(spec.Label, spec.Field)
	if ix, ok := t.indices[key]; ok {
		return ix
	}
	base, ok := t.base.indices[key]
	var clone *secondary.Index
	if ok {
		clone = base.Clone()
	} else {
		clone = secondary.NewIndex(spec)
	}
	t.indices[key] = clone
	return clone
}

func (t *WriteTxn) lookupIndexView(label, field string) (*secondary.Index, bool) {
	key := indexKey(label, field)
	if ix, ok := t.indices[key]; ok {
		return ix, true
	}
	ix, ok := t.base.indices[key]
	return ix, ok
}

// assignSeq picks the insertion sequence for a record. Existing records
// keep theirs; log replay carries pre-assigned sequences.
func (t *WriteTxn) assignSeq(preassigned uint32) uint32 {
	if preassigned != 0 {
		if preassigned >= t.nextSeq {
			t.nextSeq = preassigned + 1
		}
		return preassigned
	}
	seq := t.nextSeq
	t.nextSeq++
	return seq
}

// updateIndexes moves the record's postings from its old property values
// to the new ones. Insertion happens before removal so a unique violation
// leaves the transaction's index view unchanged.
func (t *WriteTxn) updateIndexes(label string, seq uint32, oldProps, newProps property.Map) error {
	if t.env.catalog == nil {
		return nil
	}
	for _, spec := range t.env.catalog.ForLabel(label) {
		oldVal := oldProps.GetOr(spec.Field)
		newVal := newProps.GetOr(spec.Field)
		if oldVal.Equal(newVal) {
			continue
		}
		ix := t.indexFor(spec)
		if !newVal.IsNull() {
			if err := ix.Insert(newVal, seq); err != nil {
				return err
			}
		}
		if !oldVal.IsNull() {
			ix.Remove(oldVal, seq)
		}
	}
	return nil
}

func (t *WriteTxn) dropIndexes(label string, seq uint32, props property.Map) {
	if t.env.catalog == nil {
		return
	}
	for _, spec := range t.env.catalog.ForLabel(label) {
		if v := props.GetOr(spec.Field); !v.IsNull() {
			t.indexFor(spec).Remove(v, seq)
		}
	}
}

// PutNode inserts or replaces a node. The record is cloned on staging, so
// the caller keeps ownership of its argument.
func (t *WriteTxn) PutNode(n *model.Node) error {
	if t.done {
		return ErrTxnDone
	}
	if n.ID == model.NilID {
		return fmt.Errorf("storage: node requires an id")
	}
	if err := t.env.schema.Validate(n.Label, n.Props); err != nil {
		return err
	}

	old, _ := t.GetNode(n.ID)
	staged := n.Clone()
	if old != nil {
		if old.Label != staged.Label {
			return fmt.Errorf("%w: node %s is %s, not %s", ErrTypeMismatch, n.ID, old.Label, n.Label)
		}
		staged.Seq = old.Seq
	} else {
		staged.Seq = t.assignSeq(staged.Seq)
	}

	var oldProps property.Map
	if old != nil {
		oldProps = old.Props
	}
	if err := t.updateIndexes(staged.Label, staged.Seq, oldProps, staged.Props); err != nil {
		return err
	}

	t.nodes[staged.ID] = staged
	t.stagedBySeq[staged.Seq] = staged.ID
	delete(t.delNodes, staged.ID)
	t.ops = append(t.ops, wal.Op{Kind: wal.OpPutNode, Node: staged})
	return nil
}

// DeleteNode removes a node and cascades to every incident edge, keeping
// referential validity: no edge ever outlives its endpoints.
func (t *WriteTxn) DeleteNode(id model.ID) error {
	if t.done {
		return ErrTxnDone
	}
	old, err := t.GetNode(id)
	if err != nil {
		return err
	}

	var incident []model.ID
	for e := range t.OutEdges(id) {
		incident = append(incident, e.ID)
	}
	for e := range t.InEdges(id) {
		if !slices.Contains(incident, e.ID) {
			incident = append(incident, e.ID)
		}
	}
	for _, eid := range incident {
		if err := t.DeleteEdge(eid); err != nil {
			return err
		}
	}

	t.dropIndexes(old.Label, old.Seq, old.Props)
	delete(t.nodes, id)
	delete(t.stagedBySeq, old.Seq)
	t.delNodes[id] = old
	t.ops = append(t.ops, wal.Op{Kind: wal.OpDeleteNode, ID: id, Label: old.Label})
	return nil
}

// PutEdge inserts or replaces an edge. Both endpoints must exist in the
// transaction's view.
func (t *WriteTxn) PutEdge(e *model.Edge) error {
	if t.done {
		return ErrTxnDone
	}
	if e.ID == model.NilID {
		return fmt.Errorf("storage: edge requires an id")
	}
	if err := t.env.schema.Validate(e.Label, e.Props); err != nil {
		return err
	}
	if _, err := t.GetNode(e.From); err != nil {
		return fmt.Errorf("%w: from %s", ErrEndpoint, e.From)
	}
	if _, err := t.GetNode(e.To); err != nil {
		return fmt.Errorf("%w: to %s", ErrEndpoint, e.To)
	}

	old, _ := t.GetEdge(e.ID)
	staged := e.Clone()
	if old != nil {
		if old.Label != staged.Label {
			return fmt.Errorf("%w: edge %s is %s, not %s", ErrTypeMismatch, e.ID, old.Label, e.Label)
		}
		staged.Seq = old.Seq
	} else {
		staged.Seq = t.assignSeq(staged.Seq)
	}

	var oldProps property.Map
	if old != nil {
		oldProps = old.Props
	}
	if err := t.updateIndexes(staged.Label, staged.Seq, oldProps, staged.Props); err != nil {
		return err
	}

	t.edges[staged.ID] = staged
	t.stagedBySeq[staged.Seq] = staged.ID
	delete(t.delEdges, staged.ID)
	t.ops = append(t.ops, wal.Op{Kind: wal.OpPutEdge, Edge: staged})
	return nil
}

// DeleteEdge removes an edge.
func (t *WriteTxn) DeleteEdge(id model.ID) error {
	if t.done {
		return ErrTxnDone
	}
	old, err := t.GetEdge(id)
	if err != nil {
		return err
	}
	t.dropIndexes(old.Label, old.Seq, old.Props)
	delete(t.edges, id)
	delete(t.stagedBySeq, old.Seq)
	t.delEdges[id] = old
	t.ops = append(t.ops, wal.Op{Kind: wal.OpDeleteEdge, ID: id, Label: old.Label})
	return nil
}

// PutVector inserts or replaces a vector record.
func (t *WriteTxn) PutVector(v *model.Vector) error {
	if t.done {
		return ErrTxnDone
	}
	if v.ID == model.NilID {
		return fmt.Errorf("storage: vector requires an id")
	}
	if v.Collection == "" {
		return fmt.Errorf("storage: vector requires a collection")
	}
	if len(v.Data) == 0 {
		return fmt.Errorf("storage: vector requires a non-empty embedding")
	}
	if err := t.env.schema.Validate(v.Collection, v.Props); err != nil {
		return err
	}

	old, _ := t.GetVector(v.ID)
	staged := v.Clone()
	if old != nil {
		if old.Collection != staged.Collection {
			return fmt.Errorf("%w: vector %s is in %s, not %s", ErrTypeMismatch, v.ID, old.Collection, v.Collection)
		}
		staged.Seq = old.Seq
	} else {
		staged.Seq = t.assignSeq(staged.Seq)
	}

	var oldProps property.Map
	if old != nil {
		oldProps = old.Props
	}
	if err := t.updateIndexes(staged.Collection, staged.Seq, oldProps, staged.Props); err != nil {
		return err
	}

	t.vectors[staged.ID] = staged
	t.stagedBySeq[staged.Seq] = staged.ID
	delete(t.delVectors, staged.ID)
	t.ops = append(t.ops, wal.Op{Kind: wal.OpPutVector, Vector: staged})
	return nil
}

// DeleteVector removes a vector record.
func (t *WriteTxn) DeleteVector(id model.ID) error {
	if t.done {
		return ErrTxnDone
	}
	old, err := t.GetVector(id)
	if err != nil {
		return err
	}
	t.dropIndexes(old.Collection, old.Seq, old.Props)
	delete(t.vectors, id)
	delete(t.stagedBySeq, old.Seq)
	t.delVectors[id] = old
	t.ops = append(t.ops, wal.Op{Kind: wal.OpDeleteVector, ID: id, Label: old.Collection})
	return nil
}

// GetNode implements Txn with read-own-writes.
func (t *WriteTxn) GetNode(id model.ID) (*model.Node, error) {
	if _, gone := t.delNodes[id]; gone {
		return nil, fmt.Errorf("%w: node %s", ErrNotFound, id)
	}
	if n, ok := t.nodes[id]; ok {
		return n, nil
	}
	if n, ok := t.base.nodes[id]; ok {
		return n, nil
	}
	return nil, fmt.Errorf("%w: node %s", ErrNotFound, id)
}

// GetEdge implements Txn with read-own-writes.
func (t *WriteTxn) GetEdge(id model.ID) (*model.Edge, error) {
	if _, gone := t.delEdges[id]; gone {
		return nil, fmt.Errorf("%w: edge %s", ErrNotFound, id)
	}
	if e, ok := t.edges[id]; ok {
		return e, nil
	}
	if e, ok := t.base.edges[id]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: edge %s", ErrNotFound, id)
}

// GetVector implements Txn with read-own-writes.
func (t *WriteTxn) GetVector(id model.ID) (*model.Vector, error) {
	if _, gone := t.delVectors[id]; gone {
		return nil, fmt.Errorf("%w: vector %s", ErrNotFound, id)
	}
	if v, ok := t.vectors[id]; ok {
		return v, nil
	}
	if v, ok := t.base.vectors[id]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: vector %s", ErrNotFound, id)
}

// stagedNewSeqs returns the staged records created in this transaction,
// as (seq, id) sorted by seq, filtered by a membership test.
func stagedNewSeqs[R any](staged map[model.ID]R, baseNext uint32, seqOf func(R) uint32) []uint32 {
	var seqs []uint32
	for _, r := range staged {
		if s := seqOf(r); s >= baseNext {
			seqs = append(seqs, s)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

// NodesByLabel implements Txn: the base scan with staged overlays, then
// records created in this transaction, all in insertion order.
func (t *WriteTxn) NodesByLabel(label string) iter.Seq[*model.Node] {
	return func(yield func(*model.Node) bool) {
		for _, seq := range t.base.nodesByLabel[label] {
			id, ok := t.base.bySeq[seq]
			if !ok {
				continue
			}
			if _, gone := t.delNodes[id]; gone {
				continue
			}
			n, ok := t.nodes[id]
			if !ok {
				n = t.base.nodes[id]
			}
			if n == nil || n.Label != label {
				continue
			}
			if !yield(n) {
				return
			}
		}
		newSeqs := stagedNewSeqs(t.nodes, t.base.nextSeq, func(n *model.Node) uint32 { return n.Seq })
		for _, seq := range newSeqs {
			n := t.nodes[t.stagedBySeq[seq]]
			if n == nil || n.Label != label {
				continue
			}
			if !yield(n) {
				return
			}
		}
	}
}

// EdgesByLabel implements Txn.
func (t *WriteTxn) EdgesByLabel(label string) iter.Seq[*model.Edge] {
	return func(yield func(*model.Edge) bool) {
		for _, seq := range t.base.edgesByLabel[label] {
			id, ok := t.base.bySeq[seq]
			if !ok {
				continue
			}
			if _, gone := t.delEdges[id]; gone {
				continue
			}
			e, ok := t.edges[id]
			if !ok {
				e = t.base.edges[id]
			}
			if e == nil || e.Label != label {
				continue
			}
			if !yield(e) {
				return
			}
		}
		newSeqs := stagedNewSeqs(t.edges, t.base.nextSeq, func(e *model.Edge) uint32 { return e.Seq })
		for _, seq := range newSeqs {
			e := t.edges[t.stagedBySeq[seq]]
			if e == nil || e.Label != label {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

// VectorsByCollection implements Txn.
func (t *WriteTxn) VectorsByCollection(collection string) iter.Seq[*model.Vector] {
	return func(yield func(*model.Vector) bool) {
		for _, seq := range t.base.vectorsByColl[collection] {
			id, ok := t.base.bySeq[seq]
			if !ok {
				continue
			}
			if _, gone := t.delVectors[id]; gone {
				continue
			}
			v, ok := t.vectors[id]
			if !ok {
				v = t.base.vectors[id]
			}
			if v == nil || v.Collection != collection {
				continue
			}
			if !yield(v) {
				return
			}
		}
		newSeqs := stagedNewSeqs(t.vectors, t.base.nextSeq, func(v *model.Vector) uint32 { return v.Seq })
		for _, seq := range newSeqs {
			v := t.vectors[t.stagedBySeq[seq]]
			if v == nil || v.Collection != collection {
				continue
			}
			if !yield(v) {
				return
			}
		}
	}
}

// StagedVectors returns this transaction's staged vector puts for a
// collection, in seq order. Similarity seeds overlay them onto the shared
// vector index, which only learns about them at commit.
func (t *WriteTxn) StagedVectors(collection string) []*model.Vector {
	var out []*model.Vector
	for _, v := range t.vectors {
		if v.Collection == collection {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// LookupIndex implements Txn against the transaction's index view.
func (t *WriteTxn) LookupIndex(label, field string, value property.Value) ([]model.ID, error) {
	ix, ok := t.lookupIndexView(label, field)
	if !ok {
		return nil, fmt.Errorf("storage: no index declared on %s.%s", label, field)
	}
	seqs := ix.Lookup(value)
	ids := make([]model.ID, 0, len(seqs))
	for _, seq := range seqs {
		if id, ok := t.resolveSeq(seq); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (t *WriteTxn) resolveSeq(seq uint32) (model.ID, bool) {
	if id, ok := t.base.bySeq[seq]; ok {
		return id, true
	}
	if id, ok := t.stagedBySeq[seq]; ok {
		return id, true
	}
	return model.NilID, false
}

// OutEdges implements Txn.
func (t *WriteTxn) OutEdges(id model.ID) iter.Seq[*model.Edge] {
	return t.incidentEdges(id, true)
}

// InEdges implements Txn.
func (t *WriteTxn) InEdges(id model.ID) iter.Seq[*model.Edge] {
	return t.incidentEdges(id, false)
}

func (t *WriteTxn) incidentEdges(id model.ID, outgoing bool) iter.Seq[*model.Edge] {
	adj := t.base.in[id]
	if outgoing {
		adj = t.base.out[id]
	}
	return func(yield func(*model.Edge) bool) {
		seen := make(map[model.ID]struct{})
		for _, eid := range adj {
			if _, gone := t.delEdges[eid]; gone {
				continue
			}
			e, ok := t.edges[eid]
			if !ok {
				e = t.base.edges[eid]
			}
			if e == nil || !edgeTouches(e, id, outgoing) {
				continue
			}
			seen[eid] = struct{}{}
			if !yield(e) {
				return
			}
		}
		newSeqs := stagedNewSeqs(t.edges, t.base.nextSeq, func(e *model.Edge) uint32 { return e.Seq })
		for _, seq := range newSeqs {
			eid, ok := t.stagedBySeq[seq]
			if !ok {
				continue
			}
			if _, dup := seen[eid]; dup {
				continue
			}
			e := t.edges[eid]
			if e == nil || !edgeTouches(e, id, outgoing) {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

// edgeTouches reports whether the edge is incident to id on the requested
// side. Undirected edges count on both sides.
func edgeTouches(e *model.Edge, id model.ID, outgoing bool) bool {
	if outgoing {
		return e.From == id || (!e.Directed && e.To == id)
	}
	return e.To == id || (!e.Directed && e.From == id)
}

// Version implements Txn: the version this transaction will commit as.
func (t *WriteTxn) Version() uint64 {
	if t.commitAs != 0 {
		return t.commitAs
	}
	return t.base.version + 1
}

// Pending returns the number of staged operations.
func (t *WriteTxn) Pending() int { return len(t.ops) }

// Discard abandons the transaction and releases the writer slot.
func (t *WriteTxn) Discard() {
	if t.done {
		return
	}
	t.done = true
	t.env.writerMu.Unlock()
}

// Commit publishes the staged changes as the next snapshot version. On any
// error nothing is published and the transaction is discarded.
func (t *WriteTxn) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxnDone
	}
	defer t.Discard()

	if len(t.ops) == 0 {
		return nil
	}

	delta := t.sizeDelta()
	if delta > 0 && !t.env.rc.TryReserveData(delta) {
		return fmt.Errorf("%w: commit needs %d more bytes", ErrBudget, delta)
	}

	version := t.base.version + 1
	if t.commitAs != 0 {
		version = t.commitAs
	}

	if t.env.log != nil && !t.skipLog {
		if err := t.env.log.Append(&wal.Entry{Commit: version, Ops: t.ops}); err != nil {
			if delta > 0 {
				t.env.rc.ReleaseData(delta)
			}
			return err
		}
	}

	next := t.buildSnapshot(version)
	t.env.state.Store(next)
	if delta < 0 {
		t.env.rc.ReleaseData(-delta)
	}
	t.fireHooks()

	t.env.logger.Debug("committed transaction",
		"version", version, "ops", len(t.ops), "nodes", len(next.nodes), "edges", len(next.edges))

	if t.env.log != nil && !t.skipLog {
		// Checkpoint thresholds are evaluated only after the publish above,
		// so the snapshot the callback saves always contains the entry the
		// log truncation discards. The commit itself is already durable; a
		// failed checkpoint is reported, not returned.
		if err := t.env.log.MaybeCheckpoint(); err != nil {
			t.env.logger.Error("checkpoint after commit failed", "version", version, "error", err)
		}
	}
	return nil
}

func (t *WriteTxn) buildSnapshot(version uint64) *snapshot {
	next := t.base.shallowClone()
	next.version = version
	next.nextSeq = t.nextSeq

	for id, old := range t.delEdges {
		delete(next.edges, id)
		delete(next.bySeq, old.Seq)
		next.edgesByLabel[old.Label] = removeSeq(next.edgesByLabel[old.Label], old.Seq)
		next.out[old.From] = removeID(next.out[old.From], id)
		next.in[old.To] = removeID(next.in[old.To], id)
		if !old.Directed {
			next.out[old.To] = removeID(next.out[old.To], id)
			next.in[old.From] = removeID(next.in[old.From], id)
		}
	}
	for id, old := range t.delNodes {
		delete(next.nodes, id)
		delete(next.bySeq, old.Seq)
		delete(next.out, id)
		delete(next.in, id)
		next.nodesByLabel[old.Label] = removeSeq(next.nodesByLabel[old.Label], old.Seq)
	}
	for id, old := range t.delVectors {
		delete(next.vectors, id)
		delete(next.bySeq, old.Seq)
		next.vectorsByColl[old.Collection] = removeSeq(next.vectorsByColl[old.Collection], old.Seq)
	}

	// Puts are applied in ascending seq order so derived slices, the
	// adjacency lists in particular, come out identical here and after a
	// log replay or snapshot rebuild.
	for _, n := range recordsInSeqOrder(t.nodes, func(n *model.Node) uint32 { return n.Seq }) {
		next.nodes[n.ID] = n
		next.bySeq[n.Seq] = n.ID
		next.nodesByLabel[n.Label] = insertSorted(next.nodesByLabel[n.Label], n.Seq)
	}
	for _, e := range recordsInSeqOrder(t.edges, func(e *model.Edge) uint32 { return e.Seq }) {
		id := e.ID
		prev := t.base.edges[id]
		next.edges[id] = e
		next.bySeq[e.Seq] = id
		next.edgesByLabel[e.Label] = insertSorted(next.edgesByLabel[e.Label], e.Seq)
		if prev != nil && (prev.From != e.From || prev.To != e.To || prev.Directed != e.Directed) {
			next.out[prev.From] = removeID(next.out[prev.From], id)
			next.in[prev.To] = removeID(next.in[prev.To], id)
			if !prev.Directed {
				next.out[prev.To] = removeID(next.out[prev.To], id)
				next.in[prev.From] = removeID(next.in[prev.From], id)
			}
			prev = nil
		}
		if prev == nil {
			next.out[e.From] = appendID(next.out[e.From], e.ID)
			next.in[e.To] = appendID(next.in[e.To], e.ID)
			if !e.Directed {
				next.out[e.To] = appendID(next.out[e.To], e.ID)
				next.in[e.From] = appendID(next.in[e.From], e.ID)
			}
		}
	}
	for _, v := range recordsInSeqOrder(t.vectors, func(v *model.Vector) uint32 { return v.Seq }) {
		next.vectors[v.ID] = v
		next.bySeq[v.Seq] = v.ID
		next.vectorsByColl[v.Collection] = insertSorted(next.vectorsByColl[v.Collection], v.Seq)
	}

	for key, ix := range t.indices {
		next.indices[key] = ix
	}
	return next
}

func (t *WriteTxn) fireHooks() {
	h := t.env.hooks
	if h.NodeDelete != nil {
		for _, old := range t.delNodes {
			h.NodeDelete(old)
		}
	}
	if h.VectorDelete != nil {
		for _, old := range t.delVectors {
			h.VectorDelete(old)
		}
	}
	// Put hooks fire in seq order; the vector index builds its graph in
	// insertion order, so this keeps the in-process index identical to one
	// rebuilt after a restart.
	if h.NodePut != nil {
		for _, n := range recordsInSeqOrder(t.nodes, func(n *model.Node) uint32 { return n.Seq }) {
			h.NodePut(n, t.base.nodes[n.ID])
		}
	}
	if h.VectorPut != nil {
		for _, v := range recordsInSeqOrder(t.vectors, func(v *model.Vector) uint32 { return v.Seq }) {
			h.VectorPut(v, t.base.vectors[v.ID])
		}
	}
}

// sizeDelta estimates the net byte change of the staged operations against
// the data budget. It is an estimate, not an exact accounting.
func (t *WriteTxn) sizeDelta() int64 {
	var delta int64
	for id, n := range t.nodes {
		delta += nodeSize(n)
		if old, ok := t.base.nodes[id]; ok {
			delta -= nodeSize(old)
		}
	}
	for _, old := range t.delNodes {
		delta -= nodeSize(old)
	}
	for id, e := range t.edges {
		delta += edgeSize(e)
		if old, ok := t.base.edges[id]; ok {
			delta -= edgeSize(old)
		}
	}
	for _, old := range t.delEdges {
		delta -= edgeSize(old)
	}
	for id, v := range t.vectors {
		delta += vectorSize(v)
		if old, ok := t.base.vectors[id]; ok {
			delta -= vectorSize(old)
		}
	}
	for _, old := range t.delVectors {
		delta -= vectorSize(old)
	}
	return delta
}

func propsSize(m property.Map) int64 {
	var size int64
	for k, v := range m {
		size += int64(len(k)) + 16
		if s, ok := v.AsString(); ok {
			size += int64(len(s))
		}
		if a, ok := v.AsArray(); ok {
			size += int64(len(a)) * 24
		}
	}
	return size
}

func nodeSize(n *model.Node) int64 {
	return 64 + int64(len(n.Label)) + propsSize(n.Props)
}

func edgeSize(e *model.Edge) int64 {
	return 96 + int64(len(e.Label)) + propsSize(e.Props)
}

func vectorSize(v *model.Vector) int64 {
	return 64 + int64(len(v.Collection)) + int64(len(v.Data))*4 + propsSize(v.Props)
}
