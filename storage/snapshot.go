package storage

import (
	"sort"

	"github.com/gravel-db/gravel/model"
	"github.com/gravel-db/gravel/secondary"
)

// snapshot is one immutable version of the store. Readers pin a snapshot
// for the lifetime of their transaction; writers build a successor and
// publish it atomically. Nothing in a published snapshot is ever mutated.
type snapshot struct {
	version uint64
	nextSeq uint32

	nodes   map[model.ID]*model.Node
	edges   map[model.ID]*model.Edge
	vectors map[model.ID]*model.Vector

	// Label membership as insertion sequences, kept sorted ascending so
	// scans are stable across runs.
	nodesByLabel  map[string][]uint32
	edgesByLabel  map[string][]uint32
	vectorsByColl map[string][]uint32

	// Adjacency: node id -> incident edge ids in insertion order.
	// Undirected edges appear in both directions.
	out map[model.ID][]model.ID
	in  map[model.ID][]model.ID

	indices map[string]*secondary.Index

	bySeq map[uint32]model.ID
}

func newSnapshot(catalog *secondary.Catalog) *snapshot {
	s := &snapshot{
		version:       0,
		nextSeq:       1,
		nodes:         make(map[model.ID]*model.Node),
		edges:         make(map[model.ID]*model.Edge),
		vectors:       make(map[model.ID]*model.Vector),
		nodesByLabel:  make(map[string][]uint32),
		edgesByLabel:  make(map[string][]uint32),
		vectorsByColl: make(map[string][]uint32),
		out:           make(map[model.ID][]model.ID),
		in:            make(map[model.ID][]model.ID),
		indices:       make(map[string]*secondary.Index),
		bySeq:         make(map[uint32]model.ID),
	}
	if catalog != nil {
		for _, spec := range catalog.Specs() {
			s.indices[indexKey(spec.Label, spec.Field)] = secondary.NewIndex(spec)
		}
	}
	return s
}

func indexKey(label, field string) string { return label + "\x00" + field }

// seqsInOrder returns every live sequence number ascending.
func (s *snapshot) seqsInOrder() []uint32 {
	seqs := make([]uint32, 0, len(s.bySeq))
	for seq := range s.bySeq {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

// shallowClone copies the top-level maps so the successor can be mutated
// without touching the published version. Inner records and slices are
// shared; the writer replaces them copy-on-write as it applies changes.
func (s *snapshot) shallowClone() *snapshot {
	c := &snapshot{
		version:       s.version,
		nextSeq:       s.nextSeq,
		nodes:         make(map[model.ID]*model.Node, len(s.nodes)),
		edges:         make(map[model.ID]*model.Edge, len(s.edges)),
		vectors:       make(map[model.ID]*model.Vector, len(s.vectors)),
		nodesByLabel:  make(map[string][]uint32, len(s.nodesByLabel)),
		edgesByLabel:  make(map[string][]uint32, len(s.edgesByLabel)),
		vectorsByColl: make(map[string][]uint32, len(s.vectorsByColl)),
		out:           make(map[model.ID][]model.ID, len(s.out)),
		in:            make(map[model.ID][]model.ID, len(s.in)),
		indices:       make(map[string]*secondary.Index, len(s.indices)),
		bySeq:         make(map[uint32]model.ID, len(s.bySeq)),
	}
	for k, v := range s.nodes {
		c.nodes[k] = v
	}
	for k, v := range s.edges {
		c.edges[k] = v
	}
	for k, v := range s.vectors {
		c.vectors[k] = v
	}
	for k, v := range s.nodesByLabel {
		c.nodesByLabel[k] = v
	}
	for k, v := range s.edgesByLabel {
		c.edgesByLabel[k] = v
	}
	for k, v := range s.vectorsByColl {
		c.vectorsByColl[k] = v
	}
	for k, v := range s.out {
		c.out[k] = v
	}
	for k, v := range s.in {
		c.in[k] = v
	}
	for k, v := range s.indices {
		c.indices[k] = v
	}
	for k, v := range s.bySeq {
		c.bySeq[k] = v
	}
	return c
}

// insertSorted inserts seq into a sorted slice, returning a fresh slice so
// the shared original stays untouched.
func insertSorted(seqs []uint32, seq uint32) []uint32 {
	i := len(seqs)
	for i > 0 && seqs[i-1] > seq {
		i--
	}
	if i < len(seqs) && seqs[i] == seq {
		return seqs
	}
	next := make([]uint32, 0, len(seqs)+1)
	next = append(next, seqs[:i]...)
	next = append(next, seq)
	next = append(next, seqs[i:]...)
	return next
}

// removeSeq removes seq from a sorted slice copy-on-write.
func removeSeq(seqs []uint32, seq uint32) []uint32 {
	for i, s := range seqs {
		if s == seq {
			next := make([]uint32, 0, len(seqs)-1)
			next = append(next, seqs[:i]...)
			next = append(next, seqs[i+1:]...)
			return next
		}
	}
	return seqs
}

// appendID appends id to an adjacency slice copy-on-write.
func appendID(ids []model.ID, id model.ID) []model.ID {
	next := make([]model.ID, 0, len(ids)+1)
	next = append(next, ids...)
	next = append(next, id)
	return next
}

// removeID removes id from an adjacency slice copy-on-write.
func removeID(ids []model.ID, id model.ID) []model.ID {
	for i, v := range ids {
		if v == id {
			next := make([]model.ID, 0, len(ids)-1)
			next = append(next, ids[:i]...)
			next = append(next, ids[i+1:]...)
			return next
		}
	}
	return ids
}
