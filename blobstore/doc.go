// Package blobstore provides the storage abstraction under the blob-backed
// page store.
//
// BlobStore is the interface for reading and writing data blobs (page
// commits, snapshots, commit pointers). Implementations must be safe for
// concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process, for tests
//   - LocalStore: local filesystem with atomic rename-on-write
//   - s3.Store: Amazon S3, with s3.DDBCommitStore for conditional commits
//   - minio.Store: MinIO and other S3-compatible services
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Stores that can compare-and-swap a version number should also implement
// Committer so that concurrent writers are detected.
package blobstore
