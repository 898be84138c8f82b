package vecbuf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync/atomic"
	"time"

	"github.com/hupe1980/vecbuf/basestore"
	"github.com/hupe1980/vecbuf/buffer"
	"github.com/hupe1980/vecbuf/flush"
	"github.com/hupe1980/vecbuf/internal/page"
	"github.com/hupe1980/vecbuf/model"
	"github.com/hupe1980/vecbuf/pagestore"
	"github.com/hupe1980/vecbuf/remote"
	"github.com/hupe1980/vecbuf/scan"
)

// Candidate is one search result. Distance is exact and lower is closer;
// callers should recheck it against their own visibility rules.
type Candidate = model.Candidate

// Index is a buffered write-back index in front of one remote collection.
// It is safe for concurrent use.
type Index struct {
	cfg      Config
	opts     options
	logger   *Logger
	store    pagestore.Store
	log      *buffer.Log
	provider remote.Provider
	base     basestore.Store
	flusher  *flush.Flusher
	scanner  *scan.Scanner
	closed   atomic.Bool
}

// Create builds a new index on an empty page store. It checks the
// credentials, creates or attaches to the remote collection, uploads the
// existing base records unless cfg.SkipBuild is set, and finally writes the
// buffer metadata. Nothing is written to store if any earlier step fails.
func Create(ctx context.Context, cfg Config, store pagestore.Store, base basestore.Store, optFns ...Option) (*Index, error) {
	o := applyOptions(optFns)
	if err := cfg.validateCreate(); err != nil {
		return nil, err
	}
	metric, _ := cfg.metric()
	provider, err := openProvider(ctx, cfg, o)
	if err != nil {
		return nil, err
	}
	wrap := func(op string, err error) error {
		return translateError(op, cfg.Remote.Provider, err)
	}

	host := cfg.Remote.Host
	collection := ""
	if host != "" {
		if err := provider.ValidateSchema(ctx, host, cfg.Dimensions, metric); err != nil {
			return nil, wrap("validate schema", err)
		}
		if !cfg.SkipBuild {
			n, err := provider.CountLive(ctx, host)
			if err != nil {
				return nil, wrap("count", err)
			}
			if n != 0 {
				return nil, configError("remote.host",
					fmt.Sprintf("collection holds %d vectors; set skip_build to attach anyway", n), nil)
			}
		}
	} else {
		collection = remote.CollectionName(cfg.Name)
		host, err = provider.CreateCollection(ctx, remote.CollectionSpec{
			Name:       collection,
			Dimensions: cfg.Dimensions,
			Metric:     metric,
			Params:     cfg.Remote.Spec,
		})
		if err != nil {
			return nil, wrap("create collection", err)
		}
		if err := remote.ValidateHost(host); err != nil {
			return nil, configError("remote.host", err.Error(), err)
		}
		o.logger.InfoContext(ctx, "remote collection created", "collection", collection, "host", host)
	}

	if !cfg.SkipBuild {
		if err := build(ctx, cfg, o, provider, host, base); err != nil {
			return nil, wrap("build", err)
		}
	}

	pager := pagestore.NewPager(store)
	if err := buffer.Init(ctx, pager, page.StaticMeta{
		Dimensions: cfg.Dimensions,
		Metric:     metric,
		Provider:   cfg.Remote.Provider,
		Host:       host,
		Collection: collection,
	}); err != nil {
		return nil, err
	}
	return open(ctx, cfg, o, pager, provider, base)
}

// Open attaches to an index previously written by Create. The provider
// named in cfg must match the one stored in the index.
func Open(ctx context.Context, cfg Config, store pagestore.Store, base basestore.Store, optFns ...Option) (*Index, error) {
	o := applyOptions(optFns)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	provider, err := openProvider(ctx, cfg, o)
	if err != nil {
		return nil, err
	}
	return open(ctx, cfg, o, pagestore.NewPager(store), provider, base)
}

func openProvider(ctx context.Context, cfg Config, o options) (remote.Provider, error) {
	provider, err := o.registry.Open(cfg.Remote.Provider, cfg.providerConfig(o.logger))
	if err != nil {
		if errors.Is(err, remote.ErrUnknownProvider) {
			return nil, configError("remote.provider", err.Error(), err)
		}
		return nil, err
	}
	if err := provider.CheckCredentials(ctx); err != nil {
		return nil, translateError("check credentials", cfg.Remote.Provider, err)
	}
	return provider, nil
}

func open(ctx context.Context, cfg Config, o options, pager *pagestore.Pager, provider remote.Provider, base basestore.Store) (*Index, error) {
	log, err := buffer.Open(ctx, pager,
		buffer.WithBatchSize(cfg.BatchSize),
		buffer.WithLogger(o.logger.WithComponent("buffer")))
	if err != nil {
		return nil, err
	}
	static := log.Static()
	if static.Provider != cfg.Remote.Provider {
		return nil, configError("remote.provider",
			fmt.Sprintf("index was created for %q", static.Provider), nil)
	}
	if cfg.Dimensions != 0 && cfg.Dimensions != static.Dimensions {
		return nil, configError("dimensions",
			fmt.Sprintf("index has %d dimensions", static.Dimensions), nil)
	}
	cfg.Dimensions = static.Dimensions

	logger := o.logger.WithIndex(cfg.Name, static.Host)
	scanner, err := scan.New(log, provider, base, static.Host,
		scan.WithLogger(logger.WithComponent("scan")))
	if err != nil {
		return nil, err
	}
	return &Index{
		cfg:      cfg,
		opts:     o,
		logger:   logger,
		store:    pager.Store(),
		log:      log,
		provider: provider,
		base:     base,
		flusher: flush.New(log, provider, base, static.Host,
			flush.WithLogger(logger.WithComponent("flush")),
			flush.WithObserver(o.metricsCollector)),
		scanner: scanner,
	}, nil
}

// build uploads every base record in batches and optionally waits until the
// remote reports them.
func build(ctx context.Context, cfg Config, o options, provider remote.Provider, host string, base basestore.Store) error {
	start := time.Now()
	perBatch := cfg.Remote.VectorsPerRequest * cfg.Remote.RequestsPerBatch
	var uploaded, skipped int

	batch := provider.BeginBatch()
	send := func() error {
		batch.End()
		n := batch.Len()
		if n > 0 {
			t := time.Now()
			err := provider.BulkUpsert(ctx, host, batch)
			o.metricsCollector.RecordBatchUpload(n, time.Since(t), err)
			if err != nil {
				return err
			}
			uploaded += n
		}
		batch = provider.BeginBatch()
		return nil
	}

	err := base.Scan(ctx, func(rec model.Record) error {
		if err := batch.Append(rec); err != nil {
			if errors.Is(err, remote.ErrZeroVector) {
				skipped++
				o.logger.WarnContext(ctx, "skipping zero vector", "tid", rec.ID)
				return nil
			}
			return err
		}
		if batch.Len() >= perBatch {
			return send()
		}
		return nil
	})
	if err == nil {
		err = send()
	}
	o.logger.LogBuild(ctx, uploaded, skipped, time.Since(start), err)
	if err != nil || cfg.BuildWaitTimeout <= 0 {
		return err
	}
	return waitVisible(ctx, o, provider, host, int64(uploaded), cfg.BuildWaitTimeout)
}

func waitVisible(ctx context.Context, o options, provider remote.Provider, host string, want int64, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(o.buildPoll)
	defer ticker.Stop()
	for {
		n, err := provider.CountLive(ctx, host)
		if err == nil && n >= want {
			return nil
		}
		select {
		case <-ctx.Done():
			o.logger.Warn("remote did not report all uploaded vectors in time",
				"want", want, "have", n, "timeout", timeout)
			return nil
		case <-ticker.C:
		}
	}
}

func (ix *Index) checkOpen() error {
	if ix.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Host returns the remote host identifier of the index.
func (ix *Index) Host() string { return ix.log.Static().Host }

// Insert appends a tuple id that already exists in the base store. It is
// searchable as soon as Insert returns. When the insert closes a checkpoint
// and auto flush is enabled, the finished batches are uploaded before
// returning; a RemoteError then means the tuple is buffered but the upload
// will be retried by the next flush.
func (ix *Index) Insert(ctx context.Context, id model.TupleID) error {
	if err := ix.checkOpen(); err != nil {
		return err
	}
	start := time.Now()
	created, err := ix.log.Append(ctx, id)
	ix.opts.metricsCollector.RecordInsert(time.Since(start), created, err)
	ix.logger.LogInsert(ctx, id.String(), created, err)
	if err != nil {
		return translateError("insert", ix.cfg.Remote.Provider, err)
	}
	if created && ix.opts.autoFlush {
		return ix.Flush(ctx)
	}
	return nil
}

// InsertRecord stores a new record in the base store and buffers its id.
// The base store must implement basestore.Inserter.
func (ix *Index) InsertRecord(ctx context.Context, vector []float32, metadata map[string]any) (model.TupleID, error) {
	if err := ix.checkOpen(); err != nil {
		return 0, err
	}
	ins, ok := ix.base.(basestore.Inserter)
	if !ok {
		return 0, errors.New("vecbuf: base store does not accept inserts")
	}
	if len(vector) != ix.cfg.Dimensions {
		return 0, fmt.Errorf("%w: got %d values, want %d", remote.ErrDimensions, len(vector), ix.cfg.Dimensions)
	}
	id, err := ins.Insert(ctx, vector, metadata)
	if err != nil {
		return 0, err
	}
	return id, ix.Insert(ctx, id)
}

// Flush uploads every closed batch that is not flushed yet. It returns nil
// immediately when another flush is running.
func (ix *Index) Flush(ctx context.Context) error {
	if err := ix.checkOpen(); err != nil {
		return err
	}
	start := time.Now()
	err := ix.flusher.Flush(ctx)
	ix.opts.metricsCollector.RecordFlush(time.Since(start), err)
	return translateError("flush", ix.cfg.Remote.Provider, err)
}

// SearchOption overrides per-query limits of the index configuration.
type SearchOption func(*searchOptions)

type searchOptions struct {
	req   scan.Request
	limit int
}

// WithTopK sets the number of results requested from the remote.
func WithTopK(k int) SearchOption {
	return func(o *searchOptions) { o.req.TopK = k }
}

// WithFilter restricts results to tuples whose metadata matches f.
func WithFilter(f remote.Filter) SearchOption {
	return func(o *searchOptions) { o.req.Filter = f }
}

// WithMaxBufferScan caps the number of buffered tuples scored locally.
func WithMaxBufferScan(n int) SearchOption {
	return func(o *searchOptions) { o.req.MaxBufferScan = n }
}

// WithMaxFetchedForLiveness caps the checkpoints probed for visibility.
func WithMaxFetchedForLiveness(n int) SearchOption {
	return func(o *searchOptions) { o.req.MaxFetchedForLiveness = n }
}

// WithLimit truncates the merged result list. Zero keeps every result.
func WithLimit(n int) SearchOption {
	return func(o *searchOptions) { o.limit = n }
}

func (ix *Index) scan(ctx context.Context, query []float32, optFns []SearchOption) (*scan.Iterator, searchOptions, error) {
	so := searchOptions{req: scan.Request{
		TopK:                  ix.cfg.TopK,
		MaxBufferScan:         ix.cfg.MaxBufferScan,
		MaxFetchedForLiveness: ix.cfg.MaxFetchedForLiveness,
	}}
	for _, fn := range optFns {
		fn(&so)
	}
	if err := ix.checkOpen(); err != nil {
		return nil, so, err
	}
	it, err := ix.scanner.Scan(ctx, query, so.req)
	return it, so, translateError("search", ix.cfg.Remote.Provider, err)
}

// Search returns the merged candidates in non-decreasing distance order.
// When the remote fails the results cover only the buffered tail and no
// error is returned.
func (ix *Index) Search(ctx context.Context, query []float32, optFns ...SearchOption) ([]Candidate, error) {
	start := time.Now()
	it, so, err := ix.scan(ctx, query, optFns)
	if err != nil {
		ix.opts.metricsCollector.RecordSearch(so.req.TopK, 0, false, time.Since(start), err)
		ix.logger.LogSearch(ctx, so.req.TopK, 0, false, err)
		return nil, err
	}
	results := it.Collect()
	if so.limit > 0 && len(results) > so.limit {
		results = results[:so.limit]
	}
	degraded := it.Stats().RemoteErr != nil
	ix.opts.metricsCollector.RecordSearch(so.req.TopK, len(results), degraded, time.Since(start), nil)
	ix.logger.LogSearch(ctx, so.req.TopK, len(results), degraded, nil)
	return results, nil
}

// Stream is like Search but yields candidates one at a time, so callers can
// stop early.
func (ix *Index) Stream(ctx context.Context, query []float32, optFns ...SearchOption) iter.Seq2[Candidate, error] {
	return func(yield func(Candidate, error) bool) {
		it, so, err := ix.scan(ctx, query, optFns)
		if err != nil {
			yield(Candidate{}, err)
			return
		}
		for n := 0; so.limit <= 0 || n < so.limit; n++ {
			c, ok := it.Next()
			if !ok || !yield(c, nil) {
				return
			}
		}
	}
}

// Stats is a snapshot of the buffer state.
type Stats struct {
	Provider    string
	Host        string
	Collection  string
	Dimensions  int
	Ready       model.Checkpoint
	Flush       model.Checkpoint
	Latest      model.Checkpoint
	InsertPage  model.PageAddr
	Unflushed   int64
	Unconfirmed int64
	Pages       uint32
}

// Stats reports checkpoint positions and buffered tuple counts.
func (ix *Index) Stats(ctx context.Context) (Stats, error) {
	if err := ix.checkOpen(); err != nil {
		return Stats{}, err
	}
	m, err := ix.log.Meta(ctx)
	if err != nil {
		return Stats{}, err
	}
	pages, err := ix.log.NumPages(ctx)
	if err != nil {
		return Stats{}, err
	}
	static := ix.log.Static()
	return Stats{
		Provider:    static.Provider,
		Host:        static.Host,
		Collection:  static.Collection,
		Dimensions:  static.Dimensions,
		Ready:       m.Ready,
		Flush:       m.Flush,
		Latest:      m.Latest,
		InsertPage:  m.InsertPage,
		Unflushed:   m.Unflushed(),
		Unconfirmed: m.Unconfirmed(),
		Pages:       pages,
	}, nil
}

// Inspect writes a human-readable dump of the metadata and every buffer
// page to w.
func (ix *Index) Inspect(ctx context.Context, w io.Writer) error {
	if err := ix.checkOpen(); err != nil {
		return err
	}
	return ix.log.Dump(ctx, w)
}

// Close waits for a running flush and closes the page store. The base
// store and the remote are owned by the caller.
func (ix *Index) Close() error {
	if ix == nil || !ix.closed.CompareAndSwap(false, true) {
		return nil
	}
	locks := ix.log.Locks()
	if err := locks.LockFlush(context.Background()); err != nil {
		return err
	}
	defer locks.UnlockFlush()
	return ix.store.Close()
}
