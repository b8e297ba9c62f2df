package gravel

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives operational measurements. Implement it to
// feed a monitoring system; the default is a no-op.
type MetricsCollector interface {
	// RecordCommit is called after each write transaction attempt.
	RecordCommit(duration time.Duration, err error)

	// RecordSearch is called after each vector or hybrid search.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordSnapshot is called after each snapshot save.
	RecordSnapshot(duration time.Duration, err error)

	// RecordArchive is called after each archive upload.
	RecordArchive(duration time.Duration, err error)
}

// NoopMetricsCollector discards all measurements.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordCommit(time.Duration, error)      {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordSnapshot(time.Duration, error)    {}
func (NoopMetricsCollector) RecordArchive(time.Duration, error)     {}

// BasicMetricsCollector counts operations in memory with atomics. Useful
// for tests and debugging without an external monitoring stack.
type BasicMetricsCollector struct {
	CommitCount      atomic.Int64
	CommitErrors     atomic.Int64
	CommitTotalNanos atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	SnapshotCount    atomic.Int64
	SnapshotErrors   atomic.Int64
	ArchiveCount     atomic.Int64
	ArchiveErrors    atomic.Int64
}

func (b *BasicMetricsCollector) RecordCommit(duration time.Duration, err error) {
	b.CommitCount.Add(1)
	b.CommitTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CommitErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordSearch(_ int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordSnapshot(_ time.Duration, err error) {
	b.SnapshotCount.Add(1)
	if err != nil {
		b.SnapshotErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordArchive(_ time.Duration, err error) {
	b.ArchiveCount.Add(1)
	if err != nil {
		b.ArchiveErrors.Add(1)
	}
}

// BasicMetricsStats is a point-in-time snapshot of the collected
// counters.
type BasicMetricsStats struct {
	CommitCount    int64
	CommitErrors   int64
	CommitAvgNanos int64
	SearchCount    int64
	SearchErrors   int64
	SearchAvgNanos int64
	SnapshotCount  int64
	SnapshotErrors int64
	ArchiveCount   int64
	ArchiveErrors  int64
}

// GetStats returns the current counter values.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	s := BasicMetricsStats{
		CommitCount:    b.CommitCount.Load(),
		CommitErrors:   b.CommitErrors.Load(),
		SearchCount:    b.SearchCount.Load(),
		SearchErrors:   b.SearchErrors.Load(),
		SnapshotCount:  b.SnapshotCount.Load(),
		SnapshotErrors: b.SnapshotErrors.Load(),
		ArchiveCount:   b.ArchiveCount.Load(),
		ArchiveErrors:  b.ArchiveErrors.Load(),
	}
	if s.CommitCount > 0 {
		s.CommitAvgNanos = b.CommitTotalNanos.Load() / s.CommitCount
	}
	if s.SearchCount > 0 {
		s.SearchAvgNanos = b.SearchTotalNanos.Load() / s.SearchCount
	}
	return s
}
