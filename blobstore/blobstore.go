// Package blobstore provides durable off-box storage for snapshot
// archives. A Store holds immutable named blobs; Archive fans a single
// snapshot out to several stores at once so a local copy and a remote
// copy land together.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// ErrNotFound is returned when a named blob does not exist.
//
// Implementations return an error that satisfies
// errors.Is(err, ErrNotFound).
var ErrNotFound = errors.New("blobstore: blob not found")

// Store is a destination for immutable snapshot archives.
type Store interface {
	// Put writes a blob under name, replacing any existing blob of the
	// same name. size is the exact number of bytes r will yield, or -1
	// when unknown.
	Put(ctx context.Context, name string, r io.Reader, size int64) error

	// Get opens a blob for reading. The caller closes the returned
	// reader.
	Get(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the names of all blobs with the given prefix, in
	// lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Pointer tracks which archived snapshot is the latest one. Backends
// with compare-and-swap semantics make the commit safe against
// concurrent archivers.
type Pointer interface {
	// Commit records name as the latest snapshot.
	Commit(ctx context.Context, name string) error

	// Latest returns the most recently committed snapshot name.
	// ErrNotFound when nothing has been committed yet.
	Latest(ctx context.Context) (string, error)
}

// Archive writes one snapshot to every store concurrently. Each store
// reads the source independently, so src must support overlapping
// section reads (files and byte slices both do). The first failure
// cancels the remaining uploads.
func Archive(ctx context.Context, name string, src io.ReaderAt, size int64, stores ...Store) error {
	if len(stores) == 0 {
		return errors.New("blobstore: no stores to archive to")
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, store := range stores {
		g.Go(func() error {
			if err := store.Put(ctx, name, io.NewSectionReader(src, 0, size), size); err != nil {
				return fmt.Errorf("blobstore: archive %q: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}
