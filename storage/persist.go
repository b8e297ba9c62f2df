package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/pierrec/lz4/v4"

	"github.com/gravel-db/gravel/codec"
	"github.com/gravel-db/gravel/internal/mmap"
	"github.com/gravel-db/gravel/model"
	"github.com/gravel-db/gravel/property"
	"github.com/gravel-db/gravel/resource"
)

// Snapshot file layout: a fixed header followed by named sections, each an
// lz4 frame of codec-encoded records. Sections are independent so a loader
// can skip ones it does not know, which is what keeps old files readable
// after additive format changes.
var snapMagic = [8]byte{'G', 'R', 'V', 'L', 'S', 'N', 'P', '1'}

const (
	sectionMeta    = "meta"
	sectionNodes   = "nodes"
	sectionEdges   = "edges"
	sectionVectors = "vectors"
)

type snapMeta struct {
	Version uint64 `json:"version"`
	NextSeq uint32 `json:"next_seq"`
}

// SaveSnapshot writes the current published state to path, atomically via
// a temp file rename. Concurrent commits are not blocked; the file
// captures the snapshot current at call time.
func (e *Env) SaveSnapshot(path string) error {
	if e.closed.Load() {
		return ErrClosed
	}
	snap := e.state.Load()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".gravel-snap-*")
	if err != nil {
		return fmt.Errorf("storage: create snapshot temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	// Snapshot writes are background IO; honor the controller's limit so
	// they do not starve foreground commits of disk bandwidth.
	var w io.Writer = tmp
	if e.rc != nil {
		w = resource.NewThrottledWriter(context.Background(), tmp, e.rc)
	}
	if err := writeSnapshot(w, snap, codec.Default); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("storage: publish snapshot file: %w", err)
	}
	e.logger.Info("saved snapshot", "path", path, "version", snap.version,
		"nodes", len(snap.nodes), "edges", len(snap.edges), "vectors", len(snap.vectors))
	return nil
}

func writeSnapshot(w io.Writer, snap *snapshot, c codec.Codec) error {
	name := c.Name()
	hdr := make([]byte, 0, 13+len(name))
	hdr = append(hdr, snapMagic[:]...)
	hdr = append(hdr, byte(len(name)))
	hdr = append(hdr, name...)
	hdr = binary.LittleEndian.AppendUint32(hdr, 4) // section count
	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("storage: write snapshot header: %w", err)
	}

	meta := snapMeta{Version: snap.version, NextSeq: snap.nextSeq}
	if err := writeSection(w, c, sectionMeta, meta); err != nil {
		return err
	}
	if err := writeSection(w, c, sectionNodes, recordsInSeqOrder(snap.nodes, func(n *model.Node) uint32 { return n.Seq })); err != nil {
		return err
	}
	if err := writeSection(w, c, sectionEdges, recordsInSeqOrder(snap.edges, func(e *model.Edge) uint32 { return e.Seq })); err != nil {
		return err
	}
	return writeSection(w, c, sectionVectors, recordsInSeqOrder(snap.vectors, func(v *model.Vector) uint32 { return v.Seq }))
}

func recordsInSeqOrder[R any](m map[model.ID]R, seqOf func(R) uint32) []R {
	out := make([]R, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return seqOf(out[i]) < seqOf(out[j]) })
	return out
}

func writeSection(w io.Writer, c codec.Codec, name string, v any) error {
	raw, err := c.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode section %s: %w", name, err)
	}

	var comp bytes.Buffer
	zw := lz4.NewWriter(&comp)
	if _, err := zw.Write(raw); err != nil {
		return fmt.Errorf("storage: compress section %s: %w", name, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("storage: compress section %s: %w", name, err)
	}

	hdr := make([]byte, 0, 1+len(name)+20)
	hdr = append(hdr, byte(len(name)))
	hdr = append(hdr, name...)
	hdr = binary.LittleEndian.AppendUint64(hdr, uint64(len(raw)))
	hdr = binary.LittleEndian.AppendUint64(hdr, uint64(comp.Len()))
	hdr = binary.LittleEndian.AppendUint32(hdr, crc32.ChecksumIEEE(comp.Bytes()))
	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("storage: write section %s header: %w", name, err)
	}
	if _, err := w.Write(comp.Bytes()); err != nil {
		return fmt.Errorf("storage: write section %s: %w", name, err)
	}
	return nil
}

// LoadSnapshotFile replaces the store state with the contents of a
// snapshot file. Only valid during open, before the environment is shared.
// The file is mapped rather than read so loading large stores does not
// double their memory footprint.
func (e *Env) LoadSnapshotFile(path string) error {
	m, err := mmap.Open(path)
	if err != nil {
		return fmt.Errorf("storage: map snapshot file: %w", err)
	}
	defer m.Close()

	snap, err := e.decodeSnapshot(m.Bytes())
	if err != nil {
		return err
	}
	e.state.Store(snap)
	e.logger.Info("loaded snapshot", "path", path, "version", snap.version,
		"nodes", len(snap.nodes), "edges", len(snap.edges), "vectors", len(snap.vectors))
	return nil
}

func (e *Env) decodeSnapshot(data []byte) (*snapshot, error) {
	if len(data) < 13 || [8]byte(data[:8]) != snapMagic {
		return nil, errors.New("storage: not a gravel snapshot file")
	}
	pos := 8
	nameLen := int(data[pos])
	pos++
	if pos+nameLen+4 > len(data) {
		return nil, errors.New("storage: truncated snapshot header")
	}
	c, ok := codec.ByName(string(data[pos : pos+nameLen]))
	if !ok {
		return nil, fmt.Errorf("storage: snapshot uses unknown codec %q", data[pos:pos+nameLen])
	}
	pos += nameLen
	count := int(binary.LittleEndian.Uint32(data[pos:]))
	pos += 4

	var (
		meta    snapMeta
		nodes   []*model.Node
		edges   []*model.Edge
		vectors []*model.Vector
	)
	for i := 0; i < count; i++ {
		name, payload, rawLen, next, err := readSection(data, pos)
		if err != nil {
			return nil, err
		}
		pos = next

		raw := make([]byte, 0, rawLen)
		zr := lz4.NewReader(bytes.NewReader(payload))
		buf := bytes.NewBuffer(raw)
		if _, err := io.Copy(buf, zr); err != nil {
			return nil, fmt.Errorf("storage: decompress section %s: %w", name, err)
		}

		switch name {
		case sectionMeta:
			err = c.Unmarshal(buf.Bytes(), &meta)
		case sectionNodes:
			err = c.Unmarshal(buf.Bytes(), &nodes)
		case sectionEdges:
			err = c.Unmarshal(buf.Bytes(), &edges)
		case sectionVectors:
			err = c.Unmarshal(buf.Bytes(), &vectors)
		default:
			// Unknown sections are skipped for forward compatibility.
		}
		if err != nil {
			return nil, fmt.Errorf("storage: decode section %s: %w", name, err)
		}
	}

	return e.rebuild(meta, nodes, edges, vectors)
}

func readSection(data []byte, pos int) (name string, payload []byte, rawLen uint64, next int, err error) {
	if pos >= len(data) {
		return "", nil, 0, 0, errors.New("storage: truncated snapshot section")
	}
	nameLen := int(data[pos])
	pos++
	if pos+nameLen+20 > len(data) {
		return "", nil, 0, 0, errors.New("storage: truncated snapshot section header")
	}
	name = string(data[pos : pos+nameLen])
	pos += nameLen
	rawLen = binary.LittleEndian.Uint64(data[pos:])
	compLen := binary.LittleEndian.Uint64(data[pos+8:])
	sum := binary.LittleEndian.Uint32(data[pos+16:])
	pos += 20
	if uint64(len(data)-pos) < compLen {
		return "", nil, 0, 0, fmt.Errorf("storage: section %s truncated", name)
	}
	payload = data[pos : pos+int(compLen)]
	if crc32.ChecksumIEEE(payload) != sum {
		return "", nil, 0, 0, fmt.Errorf("storage: section %s checksum mismatch", name)
	}
	return name, payload, rawLen, pos + int(compLen), nil
}

// rebuild reconstructs the derived structures (label lists, adjacency,
// secondary indices, seq map) from the persisted records.
func (e *Env) rebuild(meta snapMeta, nodes []*model.Node, edges []*model.Edge, vectors []*model.Vector) (*snapshot, error) {
	snap := newSnapshot(e.catalog)
	snap.version = meta.Version
	snap.nextSeq = meta.NextSeq

	var reserved int64
	index := func(label string, seq uint32, props property.Map) error {
		if e.catalog == nil {
			return nil
		}
		for _, spec := range e.catalog.ForLabel(label) {
			if v := props.GetOr(spec.Field); !v.IsNull() {
				if err := snap.indices[indexKey(spec.Label, spec.Field)].Insert(v, seq); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, n := range nodes {
		snap.nodes[n.ID] = n
		snap.bySeq[n.Seq] = n.ID
		snap.nodesByLabel[n.Label] = insertSorted(snap.nodesByLabel[n.Label], n.Seq)
		if err := index(n.Label, n.Seq, n.Props); err != nil {
			return nil, err
		}
		reserved += nodeSize(n)
		if n.Seq >= snap.nextSeq {
			snap.nextSeq = n.Seq + 1
		}
	}
	for _, ed := range edges {
		if _, ok := snap.nodes[ed.From]; !ok {
			return nil, fmt.Errorf("%w: persisted edge %s from %s", ErrEndpoint, ed.ID, ed.From)
		}
		if _, ok := snap.nodes[ed.To]; !ok {
			return nil, fmt.Errorf("%w: persisted edge %s to %s", ErrEndpoint, ed.ID, ed.To)
		}
		snap.edges[ed.ID] = ed
		snap.bySeq[ed.Seq] = ed.ID
		snap.edgesByLabel[ed.Label] = insertSorted(snap.edgesByLabel[ed.Label], ed.Seq)
		snap.out[ed.From] = appendID(snap.out[ed.From], ed.ID)
		snap.in[ed.To] = appendID(snap.in[ed.To], ed.ID)
		if !ed.Directed {
			snap.out[ed.To] = appendID(snap.out[ed.To], ed.ID)
			snap.in[ed.From] = appendID(snap.in[ed.From], ed.ID)
		}
		if err := index(ed.Label, ed.Seq, ed.Props); err != nil {
			return nil, err
		}
		reserved += edgeSize(ed)
		if ed.Seq >= snap.nextSeq {
			snap.nextSeq = ed.Seq + 1
		}
	}
	for _, v := range vectors {
		snap.vectors[v.ID] = v
		snap.bySeq[v.Seq] = v.ID
		snap.vectorsByColl[v.Collection] = insertSorted(snap.vectorsByColl[v.Collection], v.Seq)
		if err := index(v.Collection, v.Seq, v.Props); err != nil {
			return nil, err
		}
		reserved += vectorSize(v)
		if v.Seq >= snap.nextSeq {
			snap.nextSeq = v.Seq + 1
		}
	}

	if reserved > 0 && !e.rc.TryReserveData(reserved) {
		return nil, fmt.Errorf("%w: snapshot needs %d bytes", ErrBudget, reserved)
	}
	return snap, nil
}
