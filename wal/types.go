package wal

import (
	"github.com/gravel-db/gravel/model"
)

// OpKind identifies the record mutation carried by an Op.
type OpKind uint8

const (
	// OpPutNode inserts or replaces a node.
	OpPutNode OpKind = iota
	// OpDeleteNode removes a node.
	OpDeleteNode
	// OpPutEdge inserts or replaces an edge.
	OpPutEdge
	// OpDeleteEdge removes an edge.
	OpDeleteEdge
	// OpPutVector inserts or replaces a vector record.
	OpPutVector
	// OpDeleteVector removes a vector record.
	OpDeleteVector
)

// Op is one record mutation inside a committed transaction.
type Op struct {
	Kind   OpKind        `json:"k"`
	Node   *model.Node   `json:"n,omitempty"`
	Edge   *model.Edge   `json:"e,omitempty"`
	Vector *model.Vector `json:"v,omitempty"`
	// ID and Label identify the target of delete ops; puts carry the
	// full record instead.
	ID    model.ID `json:"id,omitempty"`
	Label string   `json:"l,omitempty"`
}

// Entry is one committed transaction. Recovery replays entries in commit
// order; a transaction is either fully present or absent, partial tail
// frames are discarded.
type Entry struct {
	Commit uint64 `json:"c"` // commit version
	Ops    []Op   `json:"o"`
}

// SyncMode controls fsync behavior on append.
type SyncMode int

const (
	// SyncEveryCommit fsyncs after every appended transaction. Slowest,
	// strongest guarantee.
	SyncEveryCommit SyncMode = iota
	// SyncNone leaves flushing to the OS. Fastest, commits may be lost
	// on crash.
	SyncNone
)

// Options configures the log.
type Options struct {
	// Path is the directory where the log file lives.
	Path string

	// Compress enables zstd compression of entry payloads.
	Compress bool

	// CompressionLevel is the zstd level (1-22); 3 when zero.
	CompressionLevel int

	// SyncMode controls fsync on append.
	SyncMode SyncMode

	// CheckpointEveryOps triggers the checkpoint callback after N
	// committed transactions. Zero disables op-based checkpoints.
	CheckpointEveryOps int

	// CheckpointEveryBytes triggers the checkpoint callback when the log
	// file exceeds this size. Zero disables size-based checkpoints.
	CheckpointEveryBytes int64
}

// DefaultOptions are the log defaults.
var DefaultOptions = Options{
	Path:                 ".",
	Compress:             true,
	CompressionLevel:     3,
	SyncMode:             SyncEveryCommit,
	CheckpointEveryOps:   10000,
	CheckpointEveryBytes: 128 << 20,
}
