// Package minio provides a BlobStore implementation using the MinIO client.
//
// MinIO is an S3-compatible object storage system. This package uses the
// official MinIO Go client and also works against Ceph, SeaweedFS and Garage,
// which makes it the usual backend for self-hosted blob page stores.
//
// # Basic Usage
//
//	store, err := minioblob.New("localhost:9000", "minioadmin", "minioadmin", "vecbuf",
//	    minioblob.WithPrefix("indexes/items/"))
//	pages, err := pagestore.OpenBlob(ctx, store)
package minio
