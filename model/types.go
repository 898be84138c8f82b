package model

import (
	"fmt"
	"strconv"
)

// PageAddr is the number of a page in the page store.
type PageAddr uint32

// InvalidPageAddr marks a missing link (no next page, no previous checkpoint).
const InvalidPageAddr PageAddr = ^PageAddr(0)

// IsValid reports whether a is a real page address.
func (a PageAddr) IsValid() bool { return a != InvalidPageAddr }

func (a PageAddr) String() string {
	if !a.IsValid() {
		return "invalid"
	}
	return strconv.FormatUint(uint64(a), 10)
}

// TupleID identifies a row in the base record store by block number and
// line offset within that block.
type TupleID uint64

// NewTupleID packs a (block, offset) pair.
func NewTupleID(block uint32, offset uint16) TupleID {
	return TupleID(uint64(block)<<16 | uint64(offset))
}

// Block returns the block number.
func (t TupleID) Block() uint32 { return uint32(t >> 16) }

// Offset returns the line offset within the block.
func (t TupleID) Offset() uint16 { return uint16(t) }

func (t TupleID) String() string {
	return fmt.Sprintf("(%d,%d)", t.Block(), t.Offset())
}

// Hex renders the id as three 16-bit hex groups (block high, block low, offset).
func (t TupleID) Hex() string {
	b := t.Block()
	return fmt.Sprintf("%04x%04x%04x", b>>16, b&0xffff, t.Offset())
}

// ParseHexTupleID parses the output of Hex.
func ParseHexTupleID(s string) (TupleID, error) {
	if len(s) != 12 {
		return 0, fmt.Errorf("invalid tuple id %q: want 12 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid tuple id %q: %w", s, err)
	}
	return NewTupleID(uint32(v>>16), uint16(v)), nil
}

// Checkpoint marks a position in the buffer's insertion order. Every tuple
// appended before Representative has been assigned to a batch ending at
// Position. Checkpoints are immutable and ordered by Seq.
type Checkpoint struct {
	Seq             int64
	Position        PageAddr
	Representative  TupleID
	PrecedingTuples int64
	Valid           bool
}

// InvalidCheckpoint is the sentinel stored on pages that do not close a
// checkpoint.
var InvalidCheckpoint = Checkpoint{Position: InvalidPageAddr}

func (c Checkpoint) String() string {
	if !c.Valid {
		return "checkpoint(invalid)"
	}
	return fmt.Sprintf("checkpoint(seq=%d page=%s tid=%s preceding=%d)",
		c.Seq, c.Position, c.Representative, c.PrecedingTuples)
}

// Record is a row as returned by the base record store.
type Record struct {
	ID       TupleID
	Vector   []float32
	Metadata map[string]any
}

// Origin tells where a search candidate came from.
type Origin uint8

const (
	// OriginLocal candidates come from the unconfirmed buffer tail.
	OriginLocal Origin = iota
	// OriginRemote candidates come from the remote ANN service.
	OriginRemote
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	default:
		return fmt.Sprintf("Origin(%d)", o)
	}
}

// Candidate represents a potential match found during search.
type Candidate struct {
	ID TupleID
	// Distance is recomputed locally from the base record, lower is closer.
	Distance float32
	// RemoteScore is the provider's own score for remote candidates.
	RemoteScore float32
	Origin      Origin
	// Approx indicates the candidate was ranked by the remote's approximate index.
	Approx bool
	// Recheck indicates the caller must verify the distance exactly.
	Recheck bool
}
