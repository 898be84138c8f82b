package remote

import (
	"context"
	"errors"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vecbuf/distance"
	"github.com/hupe1980/vecbuf/model"
)

var errBatchEnded = errors.New("remote: append to ended batch")

// Vector is one upload entry.
type Vector struct {
	ID       model.TupleID
	Values   []float32
	Metadata map[string]any
}

// Batch accumulates vectors for one BulkUpsert. Append is rejected after
// End; Discard drops everything.
type Batch struct {
	vectors []Vector
	ended   bool
}

// NewBatch returns an empty batch.
func NewBatch() *Batch { return &Batch{} }

// Append adds a record. All-zero vectors are rejected with ErrZeroVector.
func (b *Batch) Append(rec model.Record) error {
	if b.ended {
		return errBatchEnded
	}
	if distance.IsZero(rec.Vector) {
		return ErrZeroVector
	}
	b.vectors = append(b.vectors, Vector{
		ID:       rec.ID,
		Values:   slices.Clone(rec.Vector),
		Metadata: rec.Metadata,
	})
	return nil
}

// End seals the batch.
func (b *Batch) End() { b.ended = true }

// Ended reports whether End was called.
func (b *Batch) Ended() bool { return b.ended }

// Discard drops all vectors and unseals the batch.
func (b *Batch) Discard() {
	b.vectors = nil
	b.ended = false
}

// Len returns the number of vectors.
func (b *Batch) Len() int { return len(b.vectors) }

// Vectors returns the batch contents. The slice must not be modified.
func (b *Batch) Vectors() []Vector { return b.vectors }

// IDs returns the tuple ids in append order.
func (b *Batch) IDs() []model.TupleID {
	ids := make([]model.TupleID, len(b.vectors))
	for i, v := range b.vectors {
		ids[i] = v.ID
	}
	return ids
}

// Chunks splits the batch into runs of at most size vectors.
func (b *Batch) Chunks(size int) [][]Vector {
	if size <= 0 {
		size = len(b.vectors)
	}
	var out [][]Vector
	for chunk := range slices.Chunk(b.vectors, max(size, 1)) {
		out = append(out, chunk)
	}
	return out
}

// SendFunc uploads one chunk.
type SendFunc func(ctx context.Context, chunk []Vector) error

// Upload sends b in chunks of vectorsPerRequest with at most parallel
// requests in flight. The first failure cancels the rest.
func Upload(ctx context.Context, b *Batch, vectorsPerRequest, parallel int, send SendFunc) error {
	if b.Len() == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallel, 1))
	for _, chunk := range b.Chunks(vectorsPerRequest) {
		g.Go(func() error { return send(gctx, chunk) })
	}
	return g.Wait()
}
