package gravel

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gravel-db/gravel/blobstore"
	"github.com/gravel-db/gravel/internal/arena"
	"github.com/gravel-db/gravel/internal/mmap"
	"github.com/gravel-db/gravel/lexical"
	"github.com/gravel-db/gravel/model"
	"github.com/gravel-db/gravel/resource"
	"github.com/gravel-db/gravel/secondary"
	"github.com/gravel-db/gravel/storage"
	"github.com/gravel-db/gravel/traversal"
	"github.com/gravel-db/gravel/vector"
	"github.com/gravel-db/gravel/wal"
)

// scratchChunkSize is the arena chunk backing per-transaction scratch
// allocations.
const scratchChunkSize = 64 << 10

// Store is the embedded database: the transactional record store plus
// the derived vector, lexical and secondary indexes, kept in sync through
// commit hooks. Safe for concurrent use.
type Store struct {
	env     *storage.Env
	log     *wal.Log
	vectors *vector.Manager
	lexical *lexical.Catalog
	rc      *resource.Controller

	logger  *Logger
	metrics MetricsCollector

	snapshotPath   string
	archiveStores  []blobstore.Store
	archivePointer blobstore.Pointer
	toolProtocol   bool

	// Serializes auto-checkpoints triggered by the log.
	checkpointMu sync.Mutex
	closed       atomic.Bool
}

// Open creates or reopens a store. With a snapshot path the snapshot file
// is loaded first; with a WAL the log is then replayed on top, so the
// published state is exactly what the last crash or shutdown left
// durable.
func Open(cfg Config, optFns ...Option) (*Store, error) {
	opts := applyOptions(optFns)

	var rc *resource.Controller
	if cfg.MaxSizeBytes > 0 || opts.resourceCfg != (resource.Config{}) {
		rcCfg := opts.resourceCfg
		if cfg.MaxSizeBytes > 0 {
			rcCfg.DataLimitBytes = cfg.MaxSizeBytes
		}
		rc = resource.NewController(rcCfg)
	}

	var log *wal.Log
	if opts.walDir != "" {
		walOptFns := append([]func(*wal.Options){
			func(o *wal.Options) { o.Path = opts.walDir },
		}, opts.walOptions...)
		var err error
		log, err = wal.Open(walOptFns...)
		if err != nil {
			return nil, fmt.Errorf("gravel: open log: %w", err)
		}
	}

	vectors, err := vector.NewManager(cfg.VectorDefaults, cfg.Vectors)
	if err != nil {
		if log != nil {
			_ = log.Close()
		}
		return nil, fmt.Errorf("gravel: vector config: %w", err)
	}

	env := storage.NewEnv(storage.Options{
		Schema:     cfg.Schema,
		Catalog:    secondary.NewCatalog(cfg.Indices),
		Log:        log,
		Controller: rc,
		Logger:     opts.logger.Logger,
	})

	s := &Store{
		env:            env,
		log:            log,
		vectors:        vectors,
		rc:             rc,
		logger:         opts.logger,
		metrics:        opts.metrics,
		snapshotPath:   opts.snapshotPath,
		archiveStores:  opts.archiveStores,
		archivePointer: opts.archivePointer,
		toolProtocol:   cfg.ToolProtocol,
	}
	if cfg.Lexical != nil {
		s.lexical = lexical.NewCatalog(cfg.Lexical)
	}

	if err := s.recover(context.Background()); err != nil {
		if log != nil {
			_ = log.Close()
		}
		return nil, err
	}

	// Hooks go in after recovery: replay rebuilds the derived indexes in
	// one pass instead of replaying through them entry by entry.
	env.SetHooks(storage.Hooks{
		NodePut: func(n, _ *model.Node) {
			if s.lexical != nil {
				s.lexical.Observe(n)
			}
		},
		NodeDelete: func(n *model.Node) {
			if s.lexical != nil {
				s.lexical.Remove(n)
			}
		},
		VectorPut: func(v, _ *model.Vector) {
			if err := s.vectors.Upsert(v); err != nil {
				s.logger.Error("vector index update failed", "id", v.ID, "error", err)
			}
		},
		VectorDelete: func(v *model.Vector) {
			s.vectors.Delete(v)
		},
	})

	if log != nil && s.snapshotPath != "" {
		log.SetCheckpointCallback(s.autoCheckpoint)
	}
	return s, nil
}

// recover loads the snapshot file, replays the log on top and rebuilds
// the derived indexes from the recovered state.
func (s *Store) recover(ctx context.Context) error {
	if s.snapshotPath != "" {
		if _, err := os.Stat(s.snapshotPath); err == nil {
			if err := s.env.LoadSnapshotFile(s.snapshotPath); err != nil {
				return fmt.Errorf("%w: load snapshot %s: %w", ErrSerialization, s.snapshotPath, err)
			}
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("gravel: stat snapshot: %w", err)
		}
	}

	if err := s.env.ReplayLog(ctx); err != nil {
		err = fmt.Errorf("%w: %w", ErrSerialization, err)
		s.logger.LogRecovery(ctx, s.env.Version(), err)
		return err
	}

	var rebuildErr error
	s.env.ForEachVector(func(v *model.Vector) bool {
		if err := s.vectors.Upsert(v); err != nil {
			rebuildErr = fmt.Errorf("gravel: rebuild vector index: %w", err)
			return false
		}
		return true
	})
	if rebuildErr != nil {
		return rebuildErr
	}
	if s.lexical != nil {
		s.env.ForEachNode(func(n *model.Node) bool {
			s.lexical.Observe(n)
			return true
		})
	}

	s.logger.LogRecovery(ctx, s.env.Version(), nil)
	return nil
}

// Txn is one transaction's handle: a factory for traversal pipelines over
// a single consistent view, plus commit/discard for write transactions.
type Txn struct {
	src   *traversal.Source
	write *storage.WriteTxn
	store *Store
	done  bool
}

// G starts a traversal pipeline in this transaction. Pipelines are
// single-use; call G again for each query.
func (t *Txn) G() *traversal.G {
	return traversal.New(t.src)
}

// Commit publishes a write transaction. On a read transaction it only
// releases the scratch space.
func (t *Txn) Commit(ctx context.Context) error {
	if t.done {
		return translateError(storage.ErrTxnDone)
	}
	t.done = true
	defer t.release()
	if t.write == nil {
		return nil
	}
	start := time.Now()
	err := translateError(t.write.Commit(ctx))
	t.store.metrics.RecordCommit(time.Since(start), err)
	t.store.logger.LogCommit(ctx, t.store.env.Version(), err)
	return err
}

// Discard abandons the transaction. Safe to call after Commit.
func (t *Txn) Discard() {
	if t.done {
		return
	}
	t.done = true
	defer t.release()
	if t.write != nil {
		t.write.Discard()
	}
}

func (t *Txn) release() {
	if t.src.Scratch != nil {
		t.src.Scratch.Free()
		t.src.Scratch = nil
	}
}

// BeginRead pins the current published version. Never blocks.
func (s *Store) BeginRead() (*Txn, error) {
	read, err := s.env.BeginRead()
	if err != nil {
		return nil, translateError(err)
	}
	return &Txn{
		src: &traversal.Source{
			Txn:     read,
			Vectors: s.vectors,
			Lexical: s.lexical,
			Scratch: arena.New(scratchChunkSize),
		},
		store: s,
	}, nil
}

// BeginWrite takes the single writer slot, blocking until it is free or
// ctx is canceled.
func (s *Store) BeginWrite(ctx context.Context) (*Txn, error) {
	write, err := s.env.BeginWrite(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	return &Txn{
		src: &traversal.Source{
			Txn:     write,
			Write:   write,
			Vectors: s.vectors,
			Lexical: s.lexical,
			Scratch: arena.New(scratchChunkSize),
		},
		write: write,
		store: s,
	}, nil
}

// View runs fn against a read-only pipeline over one consistent version.
func (s *Store) View(fn func(g *traversal.G) error) error {
	txn, err := s.BeginRead()
	if err != nil {
		return err
	}
	defer txn.Discard()
	return translateError(fn(txn.G()))
}

// Update runs fn with a mutation-capable pipeline in one transaction,
// committing on success and discarding on error.
func (s *Store) Update(ctx context.Context, fn func(g *traversal.G) error) error {
	txn, err := s.BeginWrite(ctx)
	if err != nil {
		return err
	}
	if err := fn(txn.G()); err != nil {
		txn.Discard()
		return translateError(err)
	}
	return txn.Commit(ctx)
}

// SaveToFile writes the current published state to a snapshot file,
// atomically via temp file rename.
func (s *Store) SaveToFile(path string) error {
	start := time.Now()
	err := translateError(s.env.SaveSnapshot(path))
	s.metrics.RecordSnapshot(time.Since(start), err)
	s.logger.LogSnapshot(context.Background(), path, err)
	return err
}

// Checkpoint truncates the write-ahead log. Call after the current state
// has been saved to a snapshot; a no-op without a WAL.
func (s *Store) Checkpoint() error {
	if s.log == nil {
		return nil
	}
	return s.log.Checkpoint()
}

// autoCheckpoint runs when the log crosses its checkpoint thresholds:
// save a fresh snapshot, then truncate the log.
func (s *Store) autoCheckpoint() error {
	s.checkpointMu.Lock()
	defer s.checkpointMu.Unlock()

	if err := s.rc.AcquireBackground(context.Background()); err != nil {
		return err
	}
	defer s.rc.ReleaseBackground()

	if err := s.SaveToFile(s.snapshotPath); err != nil {
		return fmt.Errorf("gravel: auto-checkpoint snapshot: %w", err)
	}
	if err := s.Checkpoint(); err != nil {
		return fmt.Errorf("gravel: auto-checkpoint truncate: %w", err)
	}
	return nil
}

// Archive saves the current state to the snapshot path and uploads it to
// the configured blob stores concurrently, committing the archive name to
// the pointer once every upload succeeded. The archive name encodes the
// published version.
func (s *Store) Archive(ctx context.Context) (string, error) {
	if len(s.archiveStores) == 0 {
		return "", fmt.Errorf("gravel: no archive stores configured")
	}
	if s.snapshotPath == "" {
		return "", fmt.Errorf("gravel: archiving requires a snapshot path")
	}
	start := time.Now()
	name, err := s.archive(ctx)
	s.metrics.RecordArchive(time.Since(start), err)
	s.logger.LogArchive(ctx, name, len(s.archiveStores), err)
	return name, err
}

func (s *Store) archive(ctx context.Context) (string, error) {
	if err := s.rc.AcquireBackground(ctx); err != nil {
		return "", err
	}
	defer s.rc.ReleaseBackground()

	if err := s.SaveToFile(s.snapshotPath); err != nil {
		return "", err
	}
	name := fmt.Sprintf("snapshot-%016d.grvl", s.env.Version())

	m, err := mmap.Open(s.snapshotPath)
	if err != nil {
		return name, fmt.Errorf("gravel: map snapshot for archive: %w", err)
	}
	defer m.Close()
	data := m.Bytes()

	if err := blobstore.Archive(ctx, name, bytes.NewReader(data), int64(len(data)), s.archiveStores...); err != nil {
		return name, err
	}
	if s.archivePointer != nil {
		if err := s.archivePointer.Commit(ctx, name); err != nil {
			return name, fmt.Errorf("gravel: commit archive pointer: %w", err)
		}
	}
	return name, nil
}

// StoreStats summarizes the published state.
type StoreStats struct {
	Nodes        int
	Edges        int
	Vectors      int
	Version      uint64
	Bytes        int64
	Collections  []string
	ToolProtocol bool
}

// Stats returns counts for the current published version.
func (s *Store) Stats() StoreStats {
	st := s.env.Stats()
	return StoreStats{
		Nodes:        st.Nodes,
		Edges:        st.Edges,
		Vectors:      st.Vectors,
		Version:      st.Version,
		Bytes:        st.Bytes,
		Collections:  s.vectors.Collections(),
		ToolProtocol: s.toolProtocol,
	}
}

// Close shuts the store down: waits for an in-flight writer, closes the
// log. In-flight readers keep their pinned versions. Idempotent.
func (s *Store) Close() error {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.env.Close()
}
