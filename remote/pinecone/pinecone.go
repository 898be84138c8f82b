// Package pinecone is a remote provider for Pinecone serverless indexes,
// spoken to over its REST API.
package pinecone

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vecbuf/distance"
	"github.com/hupe1980/vecbuf/model"
	"github.com/hupe1980/vecbuf/remote"
)

// Name is the registry name of the provider.
const Name = "pinecone"

const (
	defaultEndpoint = "https://api.pinecone.io"
	apiVersion      = "2024-07"
	defaultCloud    = "aws"
	defaultRegion   = "us-east-1"
)

// Option configures a Provider.
type Option func(*Provider)

// WithPollInterval sets how often CreateCollection polls for readiness.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// Provider implements remote.Provider for Pinecone.
type Provider struct {
	cfg          remote.Config
	endpoint     string
	client       *remote.HTTPClient
	pollInterval time.Duration
	logger       *slog.Logger
}

// New returns a provider for cfg.
func New(cfg remote.Config, opts ...Option) *Provider {
	cfg = cfg.WithDefaults()
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	p := &Provider{
		cfg:      cfg,
		endpoint: strings.TrimRight(endpoint, "/"),
		client: remote.NewHTTPClient(cfg, http.Header{
			"Api-Key":                []string{cfg.APIKey},
			"X-Pinecone-Api-Version": []string{apiVersion},
		}),
		pollInterval: 2 * time.Second,
		logger:       cfg.Logger.With("provider", Name),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Factory is the remote.Factory of the provider.
func Factory(cfg remote.Config) (remote.Provider, error) {
	return New(cfg), nil
}

func (p *Provider) Name() string { return Name }

func (p *Provider) CheckCredentials(context.Context) error {
	if p.cfg.APIKey == "" {
		return fmt.Errorf("%w: pinecone API key is not set", remote.ErrCredentials)
	}
	return nil
}

func metricName(m distance.Metric) (string, error) {
	switch m {
	case distance.MetricL2:
		return "euclidean", nil
	case distance.MetricCosine:
		return "cosine", nil
	case distance.MetricDot:
		return "dotproduct", nil
	}
	return "", fmt.Errorf("pinecone: unsupported metric %s", m)
}

func dataURL(host, path string) string {
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return strings.TrimRight(host, "/") + path
}

func (p *Provider) CreateCollection(ctx context.Context, spec remote.CollectionSpec) (string, error) {
	metric, err := metricName(spec.Metric)
	if err != nil {
		return "", err
	}
	cloud, region := spec.Params["cloud"], spec.Params["region"]
	if cloud == "" {
		cloud = defaultCloud
	}
	if region == "" {
		region = defaultRegion
	}

	req := createIndexRequest{Name: spec.Name, Dimension: spec.Dimensions, Metric: metric}
	req.Spec.Serverless = &serverlessSpec{Cloud: cloud, Region: region}

	var desc indexDescription
	if err := p.client.Do(ctx, http.MethodPost, p.endpoint+"/indexes", req, &desc); err != nil {
		return "", err
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for !desc.Status.Ready {
		p.logger.Debug("waiting for index", "name", spec.Name, "state", desc.Status.State)
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: waiting for index %q: %v", remote.ErrRemote, spec.Name, ctx.Err())
		case <-ticker.C:
		}
		if err := p.client.Do(ctx, http.MethodGet, p.endpoint+"/indexes/"+url.PathEscape(spec.Name), nil, &desc); err != nil {
			return "", err
		}
	}
	if err := remote.ValidateHost(desc.Host); err != nil {
		return "", err
	}
	return desc.Host, nil
}

func (p *Provider) ValidateSchema(ctx context.Context, host string, dims int, metric distance.Metric) error {
	want, err := metricName(metric)
	if err != nil {
		return err
	}
	var list listIndexesResponse
	if err := p.client.Do(ctx, http.MethodGet, p.endpoint+"/indexes", nil, &list); err != nil {
		return err
	}
	bare := strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	for _, idx := range list.Indexes {
		if idx.Host != bare && idx.Host != host {
			continue
		}
		if idx.Dimension != dims || idx.Metric != want {
			return fmt.Errorf("%w: index %q has dimension %d and metric %s, want %d and %s",
				remote.ErrSchema, idx.Name, idx.Dimension, idx.Metric, dims, want)
		}
		return nil
	}
	return fmt.Errorf("%w: no index with host %q", remote.ErrSchema, host)
}

func (p *Provider) CountLive(ctx context.Context, host string) (int64, error) {
	var stats describeStatsResponse
	if err := p.client.Do(ctx, http.MethodPost, dataURL(host, "/describe_index_stats"), struct{}{}, &stats); err != nil {
		return 0, err
	}
	return stats.TotalVectorCount, nil
}

func (p *Provider) BeginBatch() *remote.Batch { return remote.NewBatch() }

func (p *Provider) BulkUpsert(ctx context.Context, host string, b *remote.Batch) error {
	target := dataURL(host, "/vectors/upsert")
	return remote.Upload(ctx, b, p.cfg.VectorsPerRequest, p.cfg.RequestsPerBatch,
		func(ctx context.Context, chunk []remote.Vector) error {
			req := upsertRequest{Vectors: make([]wireVector, len(chunk))}
			for i, v := range chunk {
				req.Vectors[i] = wireVector{ID: v.ID.Hex(), Values: v.Values, Metadata: cleanMetadata(v.Metadata)}
			}
			return p.client.Do(ctx, http.MethodPost, target, req, nil)
		})
}

// cleanMetadata drops null values, which the service rejects.
func cleanMetadata(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

func (p *Provider) PrepareQuery(filter remote.Filter, vector []float32, topK int) (remote.PreparedQuery, error) {
	if err := remote.CheckVector(vector, 0); err != nil {
		return remote.PreparedQuery{}, err
	}
	if topK <= 0 || topK > 10000 {
		return remote.PreparedQuery{}, fmt.Errorf("pinecone: top_k must be in [1, 10000], got %d", topK)
	}
	if err := filter.Validate(); err != nil {
		return remote.PreparedQuery{}, err
	}
	return remote.PreparedQuery{Vector: vector, TopK: topK, Filter: filter}, nil
}

// QueryWithFetch issues the query and the fetch of ids concurrently.
func (p *Provider) QueryWithFetch(ctx context.Context, host string, q remote.PreparedQuery, ids []model.TupleID) (remote.QueryResult, error) {
	var (
		qres queryResponse
		fres fetchResponse
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		req := queryRequest{Vector: q.Vector, TopK: q.TopK, Filter: buildFilter(q.Filter)}
		return p.client.Do(gctx, http.MethodPost, dataURL(host, "/query"), req, &qres)
	})
	if len(ids) > 0 {
		g.Go(func() error {
			params := url.Values{}
			for _, id := range ids {
				params.Add("ids", id.Hex())
			}
			return p.client.Do(gctx, http.MethodGet, dataURL(host, "/vectors/fetch?"+params.Encode()), nil, &fres)
		})
	}
	if err := g.Wait(); err != nil {
		return remote.QueryResult{}, err
	}

	res := remote.QueryResult{Matches: make([]remote.Match, 0, len(qres.Matches))}
	for _, m := range qres.Matches {
		id, err := model.ParseHexTupleID(m.ID)
		if err != nil {
			p.logger.Warn("skipping match with foreign id", "id", m.ID)
			continue
		}
		res.Matches = append(res.Matches, remote.Match{ID: id, Score: m.Score})
	}
	for _, id := range ids {
		if _, ok := fres.Vectors[id.Hex()]; ok {
			res.Present = append(res.Present, id)
		}
	}
	return res, nil
}

// buildFilter renders a conjunction as {"$and": [{field: {"$op": value}}]}.
func buildFilter(f remote.Filter) map[string]any {
	if len(f) == 0 {
		return nil
	}
	terms := make([]map[string]any, len(f))
	for i, c := range f {
		terms[i] = map[string]any{c.Field: map[string]any{"$" + string(c.Op): c.Value}}
	}
	return map[string]any{"$and": terms}
}

var _ remote.Provider = (*Provider)(nil)
