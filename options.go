package gravel

import (
	"log/slog"

	"github.com/gravel-db/gravel/blobstore"
	"github.com/gravel-db/gravel/resource"
	"github.com/gravel-db/gravel/secondary"
	"github.com/gravel-db/gravel/storage"
	"github.com/gravel-db/gravel/vector"
	"github.com/gravel-db/gravel/wal"
)

// Config declares the shape of a store: schema, indexes, vector
// collections and feature flags. It is consumed once at Open and is
// immutable afterwards.
type Config struct {
	// Schema declares property kinds per label. Writes with a value of
	// the wrong kind fail; labels and fields not declared are
	// unconstrained. Optional.
	Schema storage.Schema

	// Indices declares the secondary indexes, unique or multi-valued.
	Indices []secondary.Spec

	// Vectors configures the vector collections. Collections not listed
	// are created lazily with VectorDefaults.
	Vectors map[string]vector.Config

	// VectorDefaults applies to collections absent from Vectors.
	VectorDefaults vector.Config

	// Lexical enables BM25 keyword search: label to the property field
	// indexed for that label. Nil disables lexical search.
	Lexical map[string]string

	// MaxSizeBytes bounds the store's resident data size. A commit that
	// would exceed it fails whole; zero means unbounded.
	MaxSizeBytes int64

	// ToolProtocol marks the store as reachable over the external tool
	// protocol. The flag is carried and reported; the wire protocol
	// itself lives outside this module.
	ToolProtocol bool
}

type options struct {
	logger         *Logger
	metrics        MetricsCollector
	walDir         string
	walOptions     []func(*wal.Options)
	snapshotPath   string
	resourceCfg    resource.Config
	archiveStores  []blobstore.Store
	archivePointer blobstore.Pointer
}

// Option configures Open behavior beyond the Config declaration.
type Option func(*options)

// WithLogger sets the structured logger. Nil disables logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel installs a stderr text logger at the given level.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector sets the metrics sink. Nil disables collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metrics = mc
	}
}

// WithWAL enables write-ahead logging in the given directory. Committed
// transactions are appended before they publish and replayed at the next
// Open.
//
//	gravel.WithWAL("./data/wal", func(o *wal.Options) {
//	    o.SyncMode = wal.SyncNone
//	})
func WithWAL(dir string, optFns ...func(*wal.Options)) Option {
	return func(o *options) {
		o.walDir = dir
		o.walOptions = optFns
	}
}

// WithSnapshotPath sets the snapshot file. When it exists at Open the
// store loads it before replaying the log; when the log crosses its
// checkpoint thresholds the store rewrites it and truncates the log.
func WithSnapshotPath(path string) Option {
	return func(o *options) {
		o.snapshotPath = path
	}
}

// WithResourceLimits bounds background work and IO beyond the data-size
// budget from Config.MaxSizeBytes.
func WithResourceLimits(cfg resource.Config) Option {
	return func(o *options) {
		o.resourceCfg = cfg
	}
}

// WithArchiveStores sets the blob stores Archive uploads snapshots to.
func WithArchiveStores(stores ...blobstore.Store) Option {
	return func(o *options) {
		o.archiveStores = stores
	}
}

// WithArchivePointer sets the latest-snapshot pointer Archive commits to
// after a successful upload.
func WithArchivePointer(p blobstore.Pointer) Option {
	return func(o *options) {
		o.archivePointer = p
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:  NoopLogger(),
		metrics: NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metrics == nil {
		o.metrics = NoopMetricsCollector{}
	}
	return o
}
