// Package arena provides a bump allocator for traversal-scoped scratch memory.
//
// An Arena's lifetime is exactly one request: create it when a traversal
// pipeline starts, allocate intermediates from it, and Free it when the
// pipeline is materialized or aborted. References into the arena must not
// escape the request.
//
// Memory is reserved in large chunks backed by anonymous mappings so scratch
// regions stay off the Go heap. Only pointer-free data (byte, uint32,
// float32 slices) may live in arena memory.
package arena

import (
	"fmt"
	"unsafe"

	"github.com/gravel-db/gravel/internal/mmap"
)

// DefaultChunkSize is the default chunk reservation (256 KiB).
const DefaultChunkSize = 256 * 1024

const alignment = 8

// Stats tracks arena memory usage.
type Stats struct {
	BytesReserved uint64
	BytesUsed     uint64
	Chunks        int
	Allocs        uint64
}

type chunk struct {
	mapping *mmap.Mapping
	data    []byte
	offset  int
}

// Arena is a chunked bump allocator. It is not safe for concurrent use;
// each traversal owns its own arena.
type Arena struct {
	chunkSize int
	chunks    []*chunk
	stats     Stats
}

// New creates an arena with the given chunk size (0 means DefaultChunkSize).
func New(chunkSize int) *Arena {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Arena{chunkSize: chunkSize}
}

func (a *Arena) grow(minSize int) (*chunk, error) {
	size := a.chunkSize
	for size < minSize {
		size *= 2
	}
	m, err := mmap.MapAnon(size)
	if err != nil {
		return nil, fmt.Errorf("arena: chunk reservation failed: %w", err)
	}
	c := &chunk{mapping: m, data: m.Bytes()}
	a.chunks = append(a.chunks, c)
	a.stats.BytesReserved += uint64(size)
	a.stats.Chunks = len(a.chunks)
	return c, nil
}

// AllocBytes allocates a zeroed byte slice of the given size.
func (a *Arena) AllocBytes(size int) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	aligned := (size + alignment - 1) &^ (alignment - 1)

	var c *chunk
	if n := len(a.chunks); n > 0 && a.chunks[n-1].offset+aligned <= len(a.chunks[n-1].data) {
		c = a.chunks[n-1]
	} else {
		grown, err := a.grow(aligned)
		if err != nil {
			return nil, err
		}
		c = grown
	}

	start := c.offset
	c.offset += aligned
	a.stats.BytesUsed += uint64(size)
	a.stats.Allocs++
	return c.data[start : start+size : start+size], nil
}

// AllocUint32Slice allocates an empty uint32 slice with the given capacity.
func (a *Arena) AllocUint32Slice(capacity int) ([]uint32, error) {
	if capacity <= 0 {
		return nil, nil
	}
	b, err := a.AllocBytes(capacity * 4)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), capacity)[:0:capacity], nil
}

// AllocFloat32Slice allocates an empty float32 slice with the given capacity.
func (a *Arena) AllocFloat32Slice(capacity int) ([]float32, error) {
	if capacity <= 0 {
		return nil, nil
	}
	b, err := a.AllocBytes(capacity * 4)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), capacity)[:0:capacity], nil
}

// Stats returns current usage counters.
func (a *Arena) Stats() Stats { return a.stats }

// Reset discards all allocations but keeps the first chunk for reuse.
// All slices handed out before Reset become invalid.
func (a *Arena) Reset() {
	if len(a.chunks) == 0 {
		return
	}
	first := a.chunks[0]
	for _, c := range a.chunks[1:] {
		_ = c.mapping.Close()
	}
	first.offset = 0
	a.chunks = a.chunks[:1]
	a.chunks[0] = first
	a.stats.BytesReserved = uint64(len(first.data))
	a.stats.BytesUsed = 0
	a.stats.Chunks = 1
}

// Free releases all chunks. The arena cannot be reused afterwards.
func (a *Arena) Free() {
	for _, c := range a.chunks {
		_ = c.mapping.Close()
	}
	a.chunks = nil
	a.stats = Stats{}
}
