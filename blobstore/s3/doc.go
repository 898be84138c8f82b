// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("indexes/items/"),
//	    s3.WithRegion("us-east-1"),
//	)
//	pages, err := pagestore.OpenBlob(ctx, store, pagestore.WithPageSize(8192))
//
// Plain S3 has no compare-and-swap, so a single Store is only safe for one
// writer. Wrap it in a DDBCommitStore to publish commit versions through
// DynamoDB conditional writes; a second writer then fails with
// blobstore.ErrConcurrentModification instead of silently forking the log.
package s3
