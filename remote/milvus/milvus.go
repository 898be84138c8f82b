// Package milvus is a remote provider for Milvus and Zilliz Cloud, spoken to
// over the RESTful v2 API. The host identifier of a collection is its name;
// the server address comes from remote.Config.Endpoint.
package milvus

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vecbuf/distance"
	"github.com/hupe1980/vecbuf/model"
	"github.com/hupe1980/vecbuf/remote"
)

// Name is the registry name of the provider.
const Name = "milvus"

const (
	defaultEndpoint = "http://localhost:19530"
	idField         = "id"
	vectorField     = "vector"
)

// Provider implements remote.Provider for Milvus.
type Provider struct {
	cfg      remote.Config
	endpoint string
	client   *remote.HTTPClient
	logger   *slog.Logger
}

// New returns a provider for cfg. An empty APIKey connects without
// authentication, which self-hosted Milvus allows.
func New(cfg remote.Config) *Provider {
	cfg = cfg.WithDefaults()
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return &Provider{
		cfg:      cfg,
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   remote.NewHTTPClient(cfg, header),
		logger:   cfg.Logger.With("provider", Name),
	}
}

// Factory is the remote.Factory of the provider.
func Factory(cfg remote.Config) (remote.Provider, error) {
	return New(cfg), nil
}

func (p *Provider) Name() string { return Name }

// CheckCredentials requires an API key only for Zilliz Cloud endpoints.
func (p *Provider) CheckCredentials(context.Context) error {
	if p.cfg.APIKey == "" && strings.Contains(p.endpoint, "zillizcloud.com") {
		return fmt.Errorf("%w: Zilliz Cloud needs an API key", remote.ErrCredentials)
	}
	return nil
}

// call posts to a v2 endpoint and unwraps the {code, message, data}
// envelope. Milvus reports most failures with HTTP 200 and code != 0.
func (p *Provider) call(ctx context.Context, path string, req, data any) error {
	var env envelope
	if err := p.client.Do(ctx, http.MethodPost, p.endpoint+"/v2/vectordb"+path, req, &env); err != nil {
		return err
	}
	if env.Code != 0 {
		return fmt.Errorf("%w: %s: code %d: %s", remote.ErrRemote, path, env.Code, env.Message)
	}
	if data == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, data); err != nil {
		return fmt.Errorf("%w: decode %s: %v", remote.ErrRemote, path, err)
	}
	return nil
}

func metricType(m distance.Metric) (string, error) {
	switch m {
	case distance.MetricL2:
		return "L2", nil
	case distance.MetricCosine:
		return "COSINE", nil
	case distance.MetricDot:
		return "IP", nil
	}
	return "", fmt.Errorf("milvus: unsupported metric %s", m)
}

func (p *Provider) CreateCollection(ctx context.Context, spec remote.CollectionSpec) (string, error) {
	metric, err := metricType(spec.Metric)
	if err != nil {
		return "", err
	}
	// Milvus collection names allow letters, digits and underscores only.
	name := strings.ReplaceAll(spec.Name, "-", "_")
	req := createRequest{
		CollectionName:     name,
		Dimension:          spec.Dimensions,
		MetricType:         metric,
		PrimaryFieldName:   idField,
		IDType:             "Int64",
		VectorFieldName:    vectorField,
		AutoID:             false,
		EnableDynamicField: true,
	}
	if err := p.call(ctx, "/collections/create", req, nil); err != nil {
		return "", err
	}
	return name, nil
}

func (p *Provider) ValidateSchema(ctx context.Context, host string, dims int, metric distance.Metric) error {
	want, err := metricType(metric)
	if err != nil {
		return err
	}
	var desc describeResponse
	if err := p.call(ctx, "/collections/describe", collectionRequest{CollectionName: host}, &desc); err != nil {
		return err
	}

	gotDims := -1
	for _, f := range desc.Fields {
		if f.Name != vectorField {
			continue
		}
		for _, kv := range f.Params {
			if kv.Key == "dim" {
				gotDims, _ = strconv.Atoi(fmt.Sprint(kv.Value))
			}
		}
	}
	if gotDims != dims {
		return fmt.Errorf("%w: collection %q has dimension %d, want %d", remote.ErrSchema, host, gotDims, dims)
	}
	for _, idx := range desc.Indexes {
		if idx.FieldName == vectorField && !strings.EqualFold(idx.MetricType, want) {
			return fmt.Errorf("%w: collection %q uses metric %s, want %s", remote.ErrSchema, host, idx.MetricType, want)
		}
	}
	return nil
}

func (p *Provider) CountLive(ctx context.Context, host string) (int64, error) {
	var stats statsResponse
	if err := p.call(ctx, "/collections/get_stats", collectionRequest{CollectionName: host}, &stats); err != nil {
		return 0, err
	}
	return stats.RowCount, nil
}

func (p *Provider) BeginBatch() *remote.Batch { return remote.NewBatch() }

func (p *Provider) BulkUpsert(ctx context.Context, host string, b *remote.Batch) error {
	return remote.Upload(ctx, b, p.cfg.VectorsPerRequest, p.cfg.RequestsPerBatch,
		func(ctx context.Context, chunk []remote.Vector) error {
			rows := make([]map[string]any, len(chunk))
			for i, v := range chunk {
				row := make(map[string]any, len(v.Metadata)+2)
				for k, val := range v.Metadata {
					if k != idField && k != vectorField && val != nil {
						row[k] = val
					}
				}
				row[idField] = int64(v.ID)
				row[vectorField] = v.Values
				rows[i] = row
			}
			return p.call(ctx, "/entities/upsert", upsertRequest{CollectionName: host, Data: rows}, nil)
		})
}

func (p *Provider) PrepareQuery(filter remote.Filter, vector []float32, topK int) (remote.PreparedQuery, error) {
	if err := remote.CheckVector(vector, 0); err != nil {
		return remote.PreparedQuery{}, err
	}
	if topK <= 0 || topK > 16384 {
		return remote.PreparedQuery{}, fmt.Errorf("milvus: top_k must be in [1, 16384], got %d", topK)
	}
	if err := filter.Validate(); err != nil {
		return remote.PreparedQuery{}, err
	}
	return remote.PreparedQuery{Vector: vector, TopK: topK, Filter: filter}, nil
}

func (p *Provider) QueryWithFetch(ctx context.Context, host string, q remote.PreparedQuery, ids []model.TupleID) (remote.QueryResult, error) {
	var (
		hits []searchHit
		got  []searchHit
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		req := searchRequest{
			CollectionName: host,
			Data:           [][]float32{q.Vector},
			AnnsField:      vectorField,
			Limit:          q.TopK,
			Filter:         Expression(q.Filter),
			OutputFields:   []string{idField},
		}
		return p.call(gctx, "/entities/search", req, &hits)
	})
	if len(ids) > 0 {
		g.Go(func() error {
			keys := make([]int64, len(ids))
			for i, id := range ids {
				keys[i] = int64(id)
			}
			req := getRequest{CollectionName: host, ID: keys, OutputFields: []string{idField}}
			return p.call(gctx, "/entities/get", req, &got)
		})
	}
	if err := g.Wait(); err != nil {
		return remote.QueryResult{}, err
	}

	res := remote.QueryResult{Matches: make([]remote.Match, len(hits))}
	for i, h := range hits {
		res.Matches[i] = remote.Match{ID: model.TupleID(h.ID), Score: h.Distance}
	}
	found := make(map[model.TupleID]bool, len(got))
	for _, h := range got {
		found[model.TupleID(h.ID)] = true
	}
	for _, id := range ids {
		if found[id] {
			res.Present = append(res.Present, id)
		}
	}
	return res, nil
}

// Expression renders a filter as a Milvus boolean expression.
func Expression(f remote.Filter) string {
	parts := make([]string, 0, len(f))
	for _, c := range f {
		var op string
		switch c.Op {
		case remote.OpEq:
			op = "=="
		case remote.OpNe:
			op = "!="
		case remote.OpGt:
			op = ">"
		case remote.OpGte:
			op = ">="
		case remote.OpLt:
			op = "<"
		case remote.OpLte:
			op = "<="
		case remote.OpIn:
			op = "in"
		case remote.OpNin:
			op = "not in"
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", c.Field, op, literal(c.Value)))
	}
	return strings.Join(parts, " and ")
}

func literal(v any) string {
	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return "null"
	}
	if list := remote.List(v); list != nil {
		items := make([]string, len(list))
		for i, item := range list {
			items[i] = literal(item)
		}
		return "[" + strings.Join(items, ", ") + "]"
	}
	return fmt.Sprint(v)
}

var _ remote.Provider = (*Provider)(nil)
