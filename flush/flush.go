// Package flush uploads closed checkpoint batches of the buffer log to the
// remote ANN service and advances the flush checkpoint.
package flush

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hupe1980/vecbuf/basestore"
	"github.com/hupe1980/vecbuf/buffer"
	"github.com/hupe1980/vecbuf/internal/page"
	"github.com/hupe1980/vecbuf/model"
	"github.com/hupe1980/vecbuf/remote"
)

// Observer receives one call per uploaded batch.
type Observer interface {
	RecordBatchUpload(vectors int, duration time.Duration, err error)
}

type noopObserver struct{}

func (noopObserver) RecordBatchUpload(int, time.Duration, error) {}

// Option configures a Flusher.
type Option func(*Flusher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Flusher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithObserver sets the batch upload observer.
func WithObserver(o Observer) Option {
	return func(f *Flusher) {
		if o != nil {
			f.observer = o
		}
	}
}

// Flusher drives uploads for one index.
type Flusher struct {
	log      *buffer.Log
	provider remote.Provider
	base     basestore.Store
	host     string
	logger   *slog.Logger
	observer Observer
}

// New returns a Flusher that reads tuples from base and upserts them into
// the collection at host.
func New(log *buffer.Log, provider remote.Provider, base basestore.Store, host string, opts ...Option) *Flusher {
	f := &Flusher{
		log:      log,
		provider: provider,
		base:     base,
		host:     host,
		logger:   slog.New(slog.DiscardHandler),
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Flush uploads every batch between the flush checkpoint and the latest
// checkpoint of a metadata snapshot. It returns nil without doing anything
// when another flush holds the lock. After each successful upload the flush
// checkpoint advances to the checkpoint closing that batch, so a failed
// upload leaves earlier progress intact and the next call resumes there.
func (f *Flusher) Flush(ctx context.Context) error {
	locks := f.log.Locks()
	if !locks.TryLockFlush() {
		f.logger.Info("flush already in progress")
		return nil
	}
	defer locks.UnlockFlush()

	m, err := f.log.Meta(ctx)
	if err != nil {
		return err
	}
	if m.Flush.Seq == m.Latest.Seq {
		return nil
	}

	start := time.Now()
	f.logger.Info("flush started", "from", m.Flush.Seq, "to", m.Latest.Seq, "tuples", m.Unflushed())

	var (
		batch    = f.provider.BeginBatch()
		uploaded int
		advanced int
	)
	defer func() { batch.Discard() }()

	err = f.log.Walk(ctx, m.Flush.Position, func(addr model.PageAddr, p page.BufferPage) (bool, error) {
		if addr != m.Flush.Position && p.Checkpoint.Valid {
			n, err := f.upload(ctx, batch, p.Checkpoint)
			if err != nil {
				return false, err
			}
			uploaded += n
			advanced++
			if addr == m.Latest.Position {
				return false, nil
			}
			batch.Discard()
			batch = f.provider.BeginBatch()
		}
		return true, f.collect(ctx, batch, p.Entries)
	})
	if err != nil {
		f.logger.Error("flush failed", "error", err, "checkpoints", advanced)
		return err
	}

	f.logger.Info("flush completed",
		"checkpoints", advanced, "vectors", uploaded, "duration", time.Since(start))
	return nil
}

func (f *Flusher) collect(ctx context.Context, batch *remote.Batch, ids []model.TupleID) error {
	for _, id := range ids {
		rec, status, err := f.base.Fetch(ctx, id)
		if err != nil {
			return err
		}
		switch status {
		case basestore.StatusNotFound:
			f.logger.Warn("buffered tuple missing from base store", "tid", id)
			continue
		case basestore.StatusDead:
			f.logger.Warn("buffered tuple is dead, not uploading", "tid", id)
			continue
		}
		if err := batch.Append(rec); err != nil {
			if errors.Is(err, remote.ErrZeroVector) {
				f.logger.Warn("skipping zero vector", "tid", id)
				continue
			}
			return err
		}
	}
	return nil
}

func (f *Flusher) upload(ctx context.Context, batch *remote.Batch, cp model.Checkpoint) (int, error) {
	batch.End()
	n := batch.Len()
	var err error
	if n > 0 {
		start := time.Now()
		err = f.provider.BulkUpsert(ctx, f.host, batch)
		f.observer.RecordBatchUpload(n, time.Since(start), err)
	}
	if err != nil {
		if !errors.Is(err, remote.ErrRemote) {
			err = fmt.Errorf("%w: %v", remote.ErrRemote, err)
		}
		return 0, fmt.Errorf("flush: upload batch ending at %s: %w", cp, err)
	}
	if _, err := f.log.AdvanceFlush(ctx, cp); err != nil {
		return 0, err
	}
	f.logger.Debug("batch uploaded", "checkpoint", cp.Seq, "vectors", n)
	return n, nil
}
