// Package memory is an in-process remote provider. It behaves like an
// eventually consistent service: an upserted batch becomes visible only
// after Lag further upserts or an explicit Settle. Failures can be injected
// per operation.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/vecbuf/distance"
	"github.com/hupe1980/vecbuf/model"
	"github.com/hupe1980/vecbuf/remote"
)

// Name is the registry name of the provider.
const Name = "memory"

const hostPrefix = "memory://"

// Operation names accepted by FailNext.
const (
	OpCreate = "create"
	OpUpsert = "upsert"
	OpQuery  = "query"
	OpCount  = "count"
)

// Options configures a Provider.
type Options struct {
	// Lag is the number of later upserts a batch waits before it becomes
	// visible.
	Lag int
	// APIKey, when set, must match the key in remote.Config.
	APIKey string
}

type collection struct {
	dims    int
	metric  distance.Metric
	vectors map[model.TupleID]remote.Vector
	live    *roaring64.Bitmap
	pending [][]remote.Vector
}

// Provider implements remote.Provider in memory.
type Provider struct {
	mu          sync.Mutex
	opts        Options
	key         string
	collections map[string]*collection
	failures    map[string][]error
	upserts     map[model.TupleID]int
	queries     int
}

// New returns an empty provider.
func New(opts Options) *Provider {
	return &Provider{
		opts:        opts,
		collections: make(map[string]*collection),
		failures:    make(map[string][]error),
		upserts:     make(map[model.TupleID]int),
	}
}

// Factory registers p itself, so every Open of the returned factory shares
// its collections.
func Factory(p *Provider) remote.Factory {
	return func(cfg remote.Config) (remote.Provider, error) {
		p.mu.Lock()
		p.key = cfg.APIKey
		p.mu.Unlock()
		return p, nil
	}
}

func (p *Provider) Name() string { return Name }

// FailNext makes the next call of op fail with err. Calls queue.
func (p *Provider) FailNext(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = append(p.failures[op], err)
}

func (p *Provider) injected(op string) error {
	q := p.failures[op]
	if len(q) == 0 {
		return nil
	}
	p.failures[op] = q[1:]
	return fmt.Errorf("%w: %s: %w", remote.ErrRemote, op, q[0])
}

// Settle makes every pending batch of host visible.
func (p *Provider) Settle(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.collections[host]; ok {
		for len(c.pending) > 0 {
			c.applyOldest()
		}
	}
}

// Pending returns the number of batches of host not yet visible.
func (p *Provider) Pending(host string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.collections[host]; ok {
		return len(c.pending)
	}
	return 0
}

// UpsertCount returns how often id was uploaded.
func (p *Provider) UpsertCount(id model.TupleID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.upserts[id]
}

// Queries returns the number of QueryWithFetch calls that reached the service.
func (p *Provider) Queries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queries
}

func (p *Provider) CheckCredentials(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.opts.APIKey != "" && p.key != p.opts.APIKey {
		return fmt.Errorf("%w: memory provider requires an API key", remote.ErrCredentials)
	}
	return nil
}

func (p *Provider) CreateCollection(_ context.Context, spec remote.CollectionSpec) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected(OpCreate); err != nil {
		return "", err
	}
	if spec.Dimensions <= 0 || spec.Name == "" {
		return "", fmt.Errorf("memory: invalid collection spec %+v", spec)
	}
	host := hostPrefix + spec.Name
	if _, ok := p.collections[host]; ok {
		return "", fmt.Errorf("%w: collection %q exists", remote.ErrRemote, spec.Name)
	}
	p.collections[host] = &collection{
		dims:    spec.Dimensions,
		metric:  spec.Metric,
		vectors: make(map[model.TupleID]remote.Vector),
		live:    roaring64.New(),
	}
	return host, nil
}

func (p *Provider) collection(host string) (*collection, error) {
	c, ok := p.collections[host]
	if !ok || !strings.HasPrefix(host, hostPrefix) {
		return nil, fmt.Errorf("%w: no collection at %q", remote.ErrRemote, host)
	}
	return c, nil
}

func (p *Provider) ValidateSchema(_ context.Context, host string, dims int, metric distance.Metric) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, err := p.collection(host)
	if err != nil {
		return err
	}
	if c.dims != dims || c.metric != metric {
		return fmt.Errorf("%w: collection has %d dims/%s, index has %d/%s",
			remote.ErrSchema, c.dims, c.metric, dims, metric)
	}
	return nil
}

func (p *Provider) CountLive(_ context.Context, host string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected(OpCount); err != nil {
		return 0, err
	}
	c, err := p.collection(host)
	if err != nil {
		return 0, err
	}
	return int64(c.live.GetCardinality()), nil
}

func (p *Provider) BeginBatch() *remote.Batch { return remote.NewBatch() }

func (p *Provider) BulkUpsert(_ context.Context, host string, b *remote.Batch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected(OpUpsert); err != nil {
		return err
	}
	c, err := p.collection(host)
	if err != nil {
		return err
	}
	for _, v := range b.Vectors() {
		if len(v.Values) != c.dims {
			return fmt.Errorf("%w: vector %s has %d dims, want %d", remote.ErrRemote, v.ID, len(v.Values), c.dims)
		}
	}
	if b.Len() == 0 {
		return nil
	}

	c.pending = append(c.pending, slices.Clone(b.Vectors()))
	for _, v := range b.Vectors() {
		p.upserts[v.ID]++
	}
	for len(c.pending) > p.opts.Lag {
		c.applyOldest()
	}
	return nil
}

func (c *collection) applyOldest() {
	for _, v := range c.pending[0] {
		c.vectors[v.ID] = v
		c.live.Add(uint64(v.ID))
	}
	c.pending = c.pending[1:]
}

func (p *Provider) PrepareQuery(filter remote.Filter, vector []float32, topK int) (remote.PreparedQuery, error) {
	if err := remote.CheckVector(vector, 0); err != nil {
		return remote.PreparedQuery{}, err
	}
	if topK <= 0 {
		return remote.PreparedQuery{}, fmt.Errorf("memory: top_k must be positive, got %d", topK)
	}
	if err := filter.Validate(); err != nil {
		return remote.PreparedQuery{}, err
	}
	return remote.PreparedQuery{Vector: slices.Clone(vector), TopK: topK, Filter: filter}, nil
}

// QueryWithFetch scores every visible vector exactly; Score is the metric
// distance, so lower is better.
func (p *Provider) QueryWithFetch(_ context.Context, host string, q remote.PreparedQuery, ids []model.TupleID) (remote.QueryResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected(OpQuery); err != nil {
		return remote.QueryResult{}, err
	}
	c, err := p.collection(host)
	if err != nil {
		return remote.QueryResult{}, err
	}
	if len(q.Vector) != c.dims {
		return remote.QueryResult{}, fmt.Errorf("%w: query has %d dims, want %d", remote.ErrRemote, len(q.Vector), c.dims)
	}
	p.queries++

	dist, err := distance.Provider(c.metric)
	if err != nil {
		return remote.QueryResult{}, err
	}
	matches := make([]remote.Match, 0, len(c.vectors))
	for id, v := range c.vectors {
		if !q.Filter.Match(v.Metadata) {
			continue
		}
		matches = append(matches, remote.Match{ID: id, Score: dist(q.Vector, v.Values)})
	}
	slices.SortFunc(matches, func(a, b remote.Match) int {
		return cmp.Or(cmp.Compare(a.Score, b.Score), cmp.Compare(a.ID, b.ID))
	})
	if len(matches) > q.TopK {
		matches = matches[:q.TopK]
	}

	var present []model.TupleID
	for _, id := range ids {
		if c.live.Contains(uint64(id)) {
			present = append(present, id)
		}
	}
	return remote.QueryResult{Matches: matches, Present: present}, nil
}

var _ remote.Provider = (*Provider)(nil)
