package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// ErrConcurrentModification is returned by a Committer when another writer
// committed the same version first.
var ErrConcurrentModification = errors.New("blobstore: concurrent modification detected")

// BlobStore is an abstraction for storing immutable data blobs (page
// commits, snapshots). Implementations must be safe for concurrent use.
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Put writes a blob atomically, replacing any previous content.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names of all blobs with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a data blob.
type Blob interface {
	io.Closer
	// ReadAt reads len(p) bytes starting at off.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	// Size returns the size of the blob in bytes.
	Size() int64
}

// Committer is implemented by stores that can advance a version pointer with
// compare-and-swap semantics. Stores without it fall back to a plain Put of
// a pointer blob, which is only safe for a single writer.
type Committer interface {
	// LatestVersion returns the newest committed version and its reference,
	// or version 0 if nothing was committed yet.
	LatestVersion(ctx context.Context) (uint64, string, error)
	// CommitVersion records version with ref. It fails with
	// ErrConcurrentModification if version already exists.
	CommitVersion(ctx context.Context, version uint64, ref string) error
}

// ReadAll reads a whole blob into memory.
func ReadAll(ctx context.Context, s BlobStore, name string) ([]byte, error) {
	b, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = b.Close() }()

	buf := make([]byte, b.Size())
	n, err := b.ReadAt(ctx, buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read blob %s: %w", name, err)
	}
	if int64(n) != b.Size() {
		return nil, fmt.Errorf("read blob %s: short read (%d of %d bytes)", name, n, b.Size())
	}
	return buf, nil
}
