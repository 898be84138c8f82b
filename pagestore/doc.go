// Package pagestore provides durable fixed-size pages with atomic
// multi-page commit, the storage substrate of the buffer log.
//
// A Store exposes committed page images by address and applies a set of
// page writes as one unit: after Commit returns nil every write is visible,
// after it returns an error none is. Writes may extend the store, but new
// pages must be contiguous with the current end.
//
// Pager wraps a Store with per-page latches and a Txn type that stages
// writes and allocates new pages.
//
// # Implementations
//
//   - MemoryStore: growable slice of pages with commit-failure injection
//   - BadgerStore: pages in BadgerDB, one badger transaction per commit
//   - BlobStore: compressed commit deltas in a blobstore.BlobStore (local
//     disk, S3, MinIO) published through a version pointer
package pagestore
