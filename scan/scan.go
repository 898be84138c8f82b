// Package scan answers nearest-neighbor queries by merging the remote ANN
// service's results with the part of the buffer log the remote has not
// confirmed yet.
//
// A scan runs in three steps. The liveness probe asks the remote whether the
// representatives of flushed but unconfirmed checkpoints are visible and
// moves the ready checkpoint forward to the newest confirmed one, in the same
// request as the top-k query. The tail scan then reads every tuple from the
// ready checkpoint to the end of the log and scores it exactly. Finally the
// two candidate lists are merged in distance order with duplicates removed.
package scan

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/vecbuf/basestore"
	"github.com/hupe1980/vecbuf/buffer"
	"github.com/hupe1980/vecbuf/distance"
	"github.com/hupe1980/vecbuf/internal/page"
	"github.com/hupe1980/vecbuf/model"
	"github.com/hupe1980/vecbuf/remote"
)

// Request carries the per-query limits.
type Request struct {
	// TopK is the number of results requested from the remote.
	TopK int
	// Filter restricts both remote and local candidates.
	Filter remote.Filter
	// MaxBufferScan caps the number of tail tuples scored locally.
	MaxBufferScan int
	// MaxFetchedForLiveness caps the number of checkpoints probed.
	MaxFetchedForLiveness int
}

// Stats describes how a scan was answered.
type Stats struct {
	Local          int
	Remote         int
	Probed         int
	ReadyAdvanced  bool
	ProbeTruncated bool
	TailTruncated  bool
	Drift          int
	// RemoteErr is the remote failure the scan degraded on, if any.
	RemoteErr error
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Scanner runs queries for one index.
type Scanner struct {
	log      *buffer.Log
	provider remote.Provider
	base     basestore.Store
	host     string
	dims     int
	dist     distance.Func
	logger   *slog.Logger
}

// New returns a Scanner using the metric recorded in the log's static
// metadata.
func New(log *buffer.Log, provider remote.Provider, base basestore.Store, host string, opts ...Option) (*Scanner, error) {
	static := log.Static()
	dist, err := distance.Provider(static.Metric)
	if err != nil {
		return nil, err
	}
	s := &Scanner{
		log:      log,
		provider: provider,
		base:     base,
		host:     host,
		dims:     static.Dimensions,
		dist:     dist,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Scan runs the query. A failing remote degrades the result to the buffer
// tail; validation errors and storage corruption are returned.
func (s *Scanner) Scan(ctx context.Context, query []float32, req Request) (*Iterator, error) {
	if err := remote.CheckVector(query, s.dims); err != nil {
		return nil, err
	}
	if req.TopK <= 0 {
		return nil, fmt.Errorf("scan: top_k must be positive, got %d", req.TopK)
	}
	if err := req.Filter.Validate(); err != nil {
		return nil, err
	}
	q, err := s.provider.PrepareQuery(req.Filter, query, req.TopK)
	if err != nil {
		return nil, err
	}

	var stats Stats
	matches, err := s.probe(ctx, q, req, &stats)
	if err != nil {
		return nil, err
	}
	local, err := s.tail(ctx, query, req, &stats)
	if err != nil {
		return nil, err
	}
	rescored, err := s.rescore(ctx, query, req.Filter, matches)
	if err != nil {
		return nil, err
	}
	stats.Local, stats.Remote = len(local), len(rescored)

	byDistance := func(a, b model.Candidate) int {
		return cmp.Or(cmp.Compare(a.Distance, b.Distance), cmp.Compare(a.ID, b.ID))
	}
	slices.SortFunc(local, byDistance)
	slices.SortFunc(rescored, byDistance)

	return &Iterator{
		local:  local,
		remote: rescored,
		seen:   roaring64.New(),
		stats:  stats,
	}, nil
}

// probe runs the remote query together with the liveness check and advances
// the ready checkpoint. Remote failures are logged and yield no matches.
func (s *Scanner) probe(ctx context.Context, q remote.PreparedQuery, req Request, stats *Stats) ([]remote.Match, error) {
	m, err := s.log.Meta(ctx)
	if err != nil {
		return nil, err
	}
	cps, truncated, err := s.log.CheckpointsBetween(ctx, m, req.MaxFetchedForLiveness)
	if err != nil {
		return nil, err
	}
	if truncated {
		s.logger.Warn("liveness probe truncated, ready checkpoint will lag",
			"unconfirmed_checkpoints", m.Flush.Seq-m.Ready.Seq-1, "max_fetched", req.MaxFetchedForLiveness)
	}
	stats.Probed, stats.ProbeTruncated = len(cps), truncated

	ids := make([]model.TupleID, len(cps))
	for i, cp := range cps {
		ids[i] = cp.Representative
	}
	res, err := s.provider.QueryWithFetch(ctx, s.host, q, ids)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("remote query failed, returning buffered results only", "error", err)
		stats.RemoteErr = err
		return nil, nil
	}

	present := roaring64.New()
	for _, id := range res.Present {
		present.Add(uint64(id))
	}
	for i := len(cps) - 1; i >= 0; i-- {
		if !present.Contains(uint64(cps[i].Representative)) {
			continue
		}
		advanced, err := s.log.AdvanceReady(ctx, cps[i])
		if err != nil {
			return nil, err
		}
		stats.ReadyAdvanced = advanced
		if advanced {
			s.logger.Debug("ready checkpoint advanced", "checkpoint", cps[i].Seq)
		}
		break
	}
	return res.Matches, nil
}

// tail scores every tuple from the ready checkpoint to the end of the log.
func (s *Scanner) tail(ctx context.Context, query []float32, req Request, stats *Stats) ([]model.Candidate, error) {
	m, err := s.log.Meta(ctx)
	if err != nil {
		return nil, err
	}
	limit := max(req.MaxBufferScan, 0)
	if n := m.Unconfirmed(); n > int64(limit) {
		s.logger.Warn("buffer tail exceeds scan limit, results are incomplete",
			"unconfirmed", n, "max_buffer_scan", limit)
	}

	var (
		out     []model.Candidate
		scanned int
	)
	err = s.log.Walk(ctx, m.Ready.Position, func(_ model.PageAddr, p page.BufferPage) (bool, error) {
		for _, id := range p.Entries {
			if scanned >= limit {
				stats.TailTruncated = true
				return false, nil
			}
			scanned++

			rec, status, err := s.base.Fetch(ctx, id)
			if err != nil {
				return false, err
			}
			switch status {
			case basestore.StatusNotFound:
				stats.Drift++
				s.logger.Warn("buffered tuple missing from base store", "tid", id)
				continue
			case basestore.StatusDead:
				continue
			}
			if !req.Filter.Match(rec.Metadata) {
				continue
			}
			out = append(out, model.Candidate{
				ID:       id,
				Distance: s.dist(query, rec.Vector),
				Origin:   model.OriginLocal,
				Recheck:  true,
			})
		}
		return true, nil
	})
	return out, err
}

// rescore replaces remote scores with exact distances so both candidate
// lists share one scale.
func (s *Scanner) rescore(ctx context.Context, query []float32, filter remote.Filter, matches []remote.Match) ([]model.Candidate, error) {
	out := make([]model.Candidate, 0, len(matches))
	for _, mt := range matches {
		rec, status, err := s.base.Fetch(ctx, mt.ID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			s.logger.Warn("fetching remote match failed", "tid", mt.ID, "error", err)
			continue
		}
		if status != basestore.StatusFound || !filter.Match(rec.Metadata) {
			continue
		}
		out = append(out, model.Candidate{
			ID:          mt.ID,
			Distance:    s.dist(query, rec.Vector),
			RemoteScore: mt.Score,
			Origin:      model.OriginRemote,
			Approx:      true,
			Recheck:     true,
		})
	}
	return out, nil
}

// Iterator yields merged candidates in non-decreasing distance order, each
// tuple id at most once.
type Iterator struct {
	local, remote []model.Candidate
	li, ri        int
	seen          *roaring64.Bitmap
	stats         Stats
}

// Next returns the next candidate; ok is false once both lists are exhausted.
func (it *Iterator) Next() (c model.Candidate, ok bool) {
	for {
		switch {
		case it.li < len(it.local) && it.ri < len(it.remote):
			l, r := it.local[it.li], it.remote[it.ri]
			switch {
			case l.ID == r.ID:
				c = r
				it.li++
				it.ri++
			case l.Distance < r.Distance || (l.Distance == r.Distance && l.ID < r.ID):
				c = l
				it.li++
			default:
				c = r
				it.ri++
			}
		case it.li < len(it.local):
			c = it.local[it.li]
			it.li++
		case it.ri < len(it.remote):
			c = it.remote[it.ri]
			it.ri++
		default:
			return model.Candidate{}, false
		}
		if it.seen.CheckedAdd(uint64(c.ID)) {
			return c, true
		}
	}
}

// Collect drains the iterator.
func (it *Iterator) Collect() []model.Candidate {
	var out []model.Candidate
	for {
		c, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, c)
	}
}

// Stats reports how the scan was answered.
func (it *Iterator) Stats() Stats { return it.stats }
