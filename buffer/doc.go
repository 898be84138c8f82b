// Package buffer implements the write-back log that sits in front of a
// remote ANN service.
//
// The log is a singly linked chain of fixed-size pages holding tuple ids in
// arrival order. Every BatchSize tuples the append path closes a checkpoint
// on a fresh page. The buffer metadata page tracks three checkpoints:
//
//   - Latest: the newest checkpoint created locally.
//   - Flush: the newest checkpoint whose batch was uploaded.
//   - Ready: the newest checkpoint confirmed visible remotely.
//
// Ready.Seq <= Flush.Seq <= Latest.Seq holds after every operation, and none
// of the three ever moves backwards. Appends are serialized by the append
// lock; Flush and Ready advance through AdvanceFlush and AdvanceReady, which
// re-read the metadata under an exclusive latch and only ever move forward.
//
// Page latches are taken data page first, then the metadata page. Readers
// never hold two latches at once.
package buffer
