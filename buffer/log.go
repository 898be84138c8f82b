package buffer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hupe1980/vecbuf/internal/latch"
	"github.com/hupe1980/vecbuf/internal/page"
	"github.com/hupe1980/vecbuf/model"
	"github.com/hupe1980/vecbuf/pagestore"
)

// ErrCorrupt reports a violated storage invariant. It is never retried.
var ErrCorrupt = errors.New("buffer: corrupt")

// ErrNotEmpty is returned by Init on a store that already has pages.
var ErrNotEmpty = errors.New("buffer: page store is not empty")

// DefaultBatchSize is the number of tuples per checkpoint.
const DefaultBatchSize = 1000

// InitialCheckpoint is the checkpoint every chain starts from.
var InitialCheckpoint = model.Checkpoint{
	Seq:      0,
	Position: page.BufferHeadAddr,
	Valid:    true,
}

// Option configures a Log.
type Option func(*Log)

// WithBatchSize sets the number of tuples per checkpoint.
func WithBatchSize(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.batchSize = int64(n)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLocks shares a lock set with other components of the same index.
func WithLocks(locks *latch.Locks) Option {
	return func(l *Log) {
		if locks != nil {
			l.locks = locks
		}
	}
}

// Log is the buffer log of one index.
type Log struct {
	pager     *pagestore.Pager
	locks     *latch.Locks
	static    page.StaticMeta
	batchSize int64
	logger    *slog.Logger
}

// Init writes the static metadata, the buffer metadata and the empty head
// page in one commit. The store must be empty.
func Init(ctx context.Context, pager *pagestore.Pager, static page.StaticMeta) error {
	n, err := pager.Store().NumPages(ctx)
	if err != nil {
		return err
	}
	if n != 0 {
		return fmt.Errorf("%w: %d pages", ErrNotEmpty, n)
	}

	size := pager.PageSize()
	staticImg, err := page.EncodeStaticMeta(size, static)
	if err != nil {
		return err
	}
	head := page.NewBufferPage()
	head.Checkpoint = InitialCheckpoint
	headImg, err := page.EncodeBufferPage(size, head)
	if err != nil {
		return err
	}
	metaImg := page.EncodeBufferMeta(size, page.BufferMeta{
		Ready:      InitialCheckpoint,
		Flush:      InitialCheckpoint,
		Latest:     InitialCheckpoint,
		InsertPage: page.BufferHeadAddr,
	})

	txn := pager.Begin()
	for _, want := range []model.PageAddr{page.StaticMetaAddr, page.BufferMetaAddr, page.BufferHeadAddr} {
		addr, err := txn.Extend(ctx)
		if err != nil {
			return err
		}
		if addr != want {
			return fmt.Errorf("%w: allocated page %s, want %s", ErrCorrupt, addr, want)
		}
	}
	txn.Put(page.StaticMetaAddr, staticImg)
	txn.Put(page.BufferMetaAddr, metaImg)
	txn.Put(page.BufferHeadAddr, headImg)
	return txn.Commit(ctx)
}

// Open attaches to an initialized store.
func Open(ctx context.Context, pager *pagestore.Pager, opts ...Option) (*Log, error) {
	l := &Log{
		pager:     pager,
		batchSize: DefaultBatchSize,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.locks == nil {
		l.locks = latch.NewLocks()
	}

	img, err := l.read(ctx, page.StaticMetaAddr)
	if err != nil {
		return nil, err
	}
	static, err := page.DecodeStaticMeta(img)
	if err != nil {
		return nil, corrupt(page.StaticMetaAddr, err)
	}
	l.static = static

	// Fail early on a damaged metadata page.
	if _, err := l.Meta(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func corrupt(addr model.PageAddr, err error) error {
	return fmt.Errorf("%w: page %s: %v", ErrCorrupt, addr, err)
}

func (l *Log) read(ctx context.Context, addr model.PageAddr) ([]byte, error) {
	release := l.pager.Share(addr)
	defer release()
	img, err := l.pager.Read(ctx, addr)
	if errors.Is(err, pagestore.ErrPageNotFound) {
		return nil, corrupt(addr, err)
	}
	return img, err
}

// Static returns the write-once index metadata.
func (l *Log) Static() page.StaticMeta { return l.static }

// BatchSize returns the number of tuples per checkpoint.
func (l *Log) BatchSize() int { return int(l.batchSize) }

// Locks returns the append and flush locks of the index.
func (l *Log) Locks() *latch.Locks { return l.locks }

// Meta returns a snapshot of the buffer metadata.
func (l *Log) Meta(ctx context.Context) (page.BufferMeta, error) {
	img, err := l.read(ctx, page.BufferMetaAddr)
	if err != nil {
		return page.BufferMeta{}, err
	}
	m, err := page.DecodeBufferMeta(img)
	if err != nil {
		return page.BufferMeta{}, corrupt(page.BufferMetaAddr, err)
	}
	return m, nil
}

// Page returns a snapshot of the buffer page at addr.
func (l *Log) Page(ctx context.Context, addr model.PageAddr) (page.BufferPage, error) {
	if addr < page.BufferHeadAddr {
		return page.BufferPage{}, fmt.Errorf("%w: %s is not a buffer page", ErrCorrupt, addr)
	}
	img, err := l.read(ctx, addr)
	if err != nil {
		return page.BufferPage{}, err
	}
	p, err := page.DecodeBufferPage(img)
	if err != nil {
		return page.BufferPage{}, corrupt(addr, err)
	}
	return p, nil
}

// NumPages returns the number of pages in the store, metadata included.
func (l *Log) NumPages(ctx context.Context) (uint32, error) {
	return l.pager.Store().NumPages(ctx)
}
