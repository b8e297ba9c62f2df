// Package storage is the transactional record store: an in-memory
// multiversion state with a write-ahead log for durability and snapshot
// files for fast restarts.
//
// Concurrency model: readers pin the current immutable snapshot and never
// block. A single writer at a time builds a successor snapshot from staged
// changes and publishes it with one atomic pointer swap at commit. Writes
// that fail validation leave the published state untouched.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gravel-db/gravel/model"
	"github.com/gravel-db/gravel/resource"
	"github.com/gravel-db/gravel/secondary"
	"github.com/gravel-db/gravel/wal"
)

var (
	// ErrNotFound is returned when a record id does not resolve.
	ErrNotFound = errors.New("storage: record not found")
	// ErrClosed is returned by operations on a closed environment.
	ErrClosed = errors.New("storage: environment closed")
	// ErrTxnDone is returned when a transaction is used after commit or
	// discard.
	ErrTxnDone = errors.New("storage: transaction already finished")
	// ErrEndpoint is returned when an edge references a missing node.
	ErrEndpoint = errors.New("storage: edge endpoint does not exist")
	// ErrTypeMismatch is returned when a property value violates the
	// declared schema kind.
	ErrTypeMismatch = errors.New("storage: property kind mismatch")
	// ErrBudget is returned when a commit would exceed the configured
	// data-size budget.
	ErrBudget = errors.New("storage: data size budget exceeded")
)

// Hooks are callbacks fired after a commit is published, in commit order,
// while the writer lock is still held. The vector and lexical indexes hang
// off these so they observe every mutation exactly once.
type Hooks struct {
	NodePut      func(n, old *model.Node)
	NodeDelete   func(n *model.Node)
	VectorPut    func(v, old *model.Vector)
	VectorDelete func(v *model.Vector)
}

// Options configures an environment.
type Options struct {
	// Schema declares property kinds per label. Optional.
	Schema Schema

	// Catalog declares the secondary indices. Optional.
	Catalog *secondary.Catalog

	// Log is the write-ahead log for durability. Nil disables logging
	// (volatile store).
	Log *wal.Log

	// Controller enforces the data-size budget. Nil disables enforcement.
	Controller *resource.Controller

	// Logger receives structured engine events. Nil discards them.
	Logger *slog.Logger
}

// Env owns the store state: the published snapshot, the writer lock, the
// log and the commit hooks.
type Env struct {
	state atomic.Pointer[snapshot]

	writerMu sync.Mutex

	schema  Schema
	catalog *secondary.Catalog
	log     *wal.Log
	rc      *resource.Controller
	logger  *slog.Logger
	hooks   Hooks

	closed atomic.Bool
}

// NewEnv creates an environment with an empty initial snapshot.
func NewEnv(opts Options) *Env {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Env{
		schema:  opts.Schema,
		catalog: opts.Catalog,
		log:     opts.Log,
		rc:      opts.Controller,
		logger:  logger,
	}
	e.state.Store(newSnapshot(opts.Catalog))
	return e
}

// SetHooks installs the commit hooks. Must be called before the first
// write transaction begins.
func (e *Env) SetHooks(h Hooks) { e.hooks = h }

// Logger returns the environment's structured logger.
func (e *Env) Logger() *slog.Logger { return e.logger }

// BeginRead pins the current snapshot. Never blocks.
func (e *Env) BeginRead() (*ReadTxn, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	return &ReadTxn{snap: e.state.Load()}, nil
}

// BeginWrite starts a write transaction, blocking until the single writer
// slot is free or ctx is canceled.
func (e *Env) BeginWrite(ctx context.Context) (*WriteTxn, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	locked := make(chan struct{})
	go func() {
		e.writerMu.Lock()
		close(locked)
	}()
	select {
	case <-locked:
	case <-ctx.Done():
		// The goroutine will still take the lock; release it when it
		// does so the next writer is not wedged.
		go func() {
			<-locked
			e.writerMu.Unlock()
		}()
		return nil, ctx.Err()
	}

	if e.closed.Load() {
		e.writerMu.Unlock()
		return nil, ErrClosed
	}

	base := e.state.Load()
	return &WriteTxn{
		env:         e,
		base:        base,
		nextSeq:     base.nextSeq,
		nodes:       make(map[model.ID]*model.Node),
		edges:       make(map[model.ID]*model.Edge),
		vectors:     make(map[model.ID]*model.Vector),
		delNodes:    make(map[model.ID]*model.Node),
		delEdges:    make(map[model.ID]*model.Edge),
		delVectors:  make(map[model.ID]*model.Vector),
		stagedBySeq: make(map[uint32]model.ID),
		indices:     make(map[string]*secondary.Index),
	}, nil
}

// Update runs fn inside a write transaction, committing on success and
// discarding on error.
func (e *Env) Update(ctx context.Context, fn func(*WriteTxn) error) error {
	txn, err := e.BeginWrite(ctx)
	if err != nil {
		return err
	}
	if err := fn(txn); err != nil {
		txn.Discard()
		return err
	}
	return txn.Commit(ctx)
}

// View runs fn against a pinned read snapshot.
func (e *Env) View(fn func(*ReadTxn) error) error {
	txn, err := e.BeginRead()
	if err != nil {
		return err
	}
	return fn(txn)
}

// Version returns the current published commit version.
func (e *Env) Version() uint64 { return e.state.Load().version }

// ForEachNode visits every node in the published snapshot in sequence
// order. Used to rebuild derived indexes after a snapshot load or log
// replay; sequence order keeps the rebuild deterministic.
func (e *Env) ForEachNode(fn func(*model.Node) bool) {
	s := e.state.Load()
	for _, seq := range s.seqsInOrder() {
		if n, ok := s.nodes[s.bySeq[seq]]; ok {
			if !fn(n) {
				return
			}
		}
	}
}

// ForEachVector visits every vector record in the published snapshot in
// sequence order.
func (e *Env) ForEachVector(fn func(*model.Vector) bool) {
	s := e.state.Load()
	for _, seq := range s.seqsInOrder() {
		if v, ok := s.vectors[s.bySeq[seq]]; ok {
			if !fn(v) {
				return
			}
		}
	}
}

// Stats summarizes the published state.
type Stats struct {
	Nodes   int
	Edges   int
	Vectors int
	Version uint64
	Bytes   int64
}

// Stats returns counts for the published snapshot.
func (e *Env) Stats() Stats {
	s := e.state.Load()
	return Stats{
		Nodes:   len(s.nodes),
		Edges:   len(s.edges),
		Vectors: len(s.vectors),
		Version: s.version,
		Bytes:   e.rc.DataUsage(),
	}
}

// Close marks the environment closed and closes the log. In-flight readers
// keep their pinned snapshots.
func (e *Env) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	// Wait for an in-flight writer to finish.
	e.writerMu.Lock()
	defer e.writerMu.Unlock()
	if e.log != nil {
		return e.log.Close()
	}
	return nil
}

// ReplayLog applies all committed log entries to the store state. Called
// once at open, before hooks are installed and before the environment is
// shared.
func (e *Env) ReplayLog(ctx context.Context) error {
	if e.log != nil && e.log.LastCommit() <= e.Version() {
		return nil
	}
	if e.log == nil {
		return nil
	}
	replayed := 0
	err := e.log.Replay(func(entry *wal.Entry) error {
		if entry.Commit <= e.Version() {
			return nil
		}
		replayed++
		return e.applyEntry(ctx, entry)
	})
	if err != nil {
		return fmt.Errorf("storage: log replay: %w", err)
	}
	if replayed > 0 {
		e.logger.Info("replayed write-ahead log", "entries", replayed, "version", e.Version())
	}
	return nil
}

func (e *Env) applyEntry(ctx context.Context, entry *wal.Entry) error {
	txn, err := e.BeginWrite(ctx)
	if err != nil {
		return err
	}
	txn.skipLog = true
	txn.commitAs = entry.Commit
	for _, op := range entry.Ops {
		var opErr error
		switch op.Kind {
		case wal.OpPutNode:
			opErr = txn.PutNode(op.Node.Clone())
		case wal.OpDeleteNode:
			opErr = txn.DeleteNode(op.ID)
		case wal.OpPutEdge:
			opErr = txn.PutEdge(op.Edge.Clone())
		case wal.OpDeleteEdge:
			opErr = txn.DeleteEdge(op.ID)
		case wal.OpPutVector:
			opErr = txn.PutVector(op.Vector.Clone())
		case wal.OpDeleteVector:
			opErr = txn.DeleteVector(op.ID)
		default:
			opErr = fmt.Errorf("storage: unknown log op %d", op.Kind)
		}
		if opErr != nil {
			txn.Discard()
			return opErr
		}
	}
	return txn.Commit(ctx)
}
