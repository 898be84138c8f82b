// Package model defines the core value types shared across vecbuf.
//
// # Identity Types
//
//   - TupleID: address of a row in the base record store (block, offset)
//   - PageAddr: number of a fixed-size page in the page store
//
// # Protocol Types
//
//   - Checkpoint: immutable barrier in the buffer's insertion order
//
// # Data Types
//
//   - Record: vector with optional metadata, as fetched from the base store
//   - Candidate: search result with origin and recheck flags
package model
