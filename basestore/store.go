// Package basestore defines the base record store the buffer log indexes:
// the authoritative table that owns vectors and their metadata, addressed
// by tuple id.
package basestore

import (
	"context"
	"errors"

	"github.com/hupe1980/vecbuf/model"
)

// Status is the visibility of a tuple in the base store.
type Status uint8

const (
	// StatusFound means the tuple is live.
	StatusFound Status = iota
	// StatusNotFound means the store has no trace of the tuple. For an id
	// taken from the buffer log this signals drift between index and table.
	StatusNotFound
	// StatusDead means the tuple was deleted and is awaiting cleanup.
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNotFound:
		return "not-found"
	case StatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

// ErrStopScan can be returned by a ScanFunc to end a scan early without error.
var ErrStopScan = errors.New("basestore: stop scan")

// ScanFunc receives every live record of a scan.
type ScanFunc func(rec model.Record) error

// Store is read access to the base records.
type Store interface {
	// Fetch returns the current version of the tuple.
	Fetch(ctx context.Context, id model.TupleID) (model.Record, Status, error)
	// Scan visits every live record in tuple id order.
	Scan(ctx context.Context, fn ScanFunc) error
}

// Inserter is implemented by stores that accept new records and assign
// their tuple ids.
type Inserter interface {
	Insert(ctx context.Context, vector []float32, metadata map[string]any) (model.TupleID, error)
}
