package milvus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecbuf/distance"
	"github.com/hupe1980/vecbuf/model"
	"github.com/hupe1980/vecbuf/remote"
)

type fakeMilvus struct {
	mu       sync.Mutex
	srv      *httptest.Server
	rows     map[int64]map[string]any
	upserts  int
	search   searchRequest
	auth     string
	failCode int
}

func newFake(t *testing.T) *fakeMilvus {
	f := &fakeMilvus{rows: make(map[int64]map[string]any)}
	mux := http.NewServeMux()
	handle := func(path string, fn func(body []byte) any) {
		mux.HandleFunc("POST /v2/vectordb"+path, func(w http.ResponseWriter, r *http.Request) {
			var raw json.RawMessage
			require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
			f.mu.Lock()
			f.auth = r.Header.Get("Authorization")
			code := f.failCode
			f.mu.Unlock()
			if code != 0 {
				writeJSON(w, map[string]any{"code": code, "message": "collection not loaded"})
				return
			}
			writeJSON(w, map[string]any{"code": 0, "data": fn(raw)})
		})
	}
	handle("/collections/create", func(body []byte) any {
		var req createRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "Int64", req.IDType)
		assert.Equal(t, "L2", req.MetricType)
		assert.False(t, req.AutoID)
		return map[string]any{}
	})
	handle("/collections/describe", func([]byte) any {
		return map[string]any{
			"collectionName": "idx",
			"fields": []map[string]any{
				{"name": "id", "type": "Int64"},
				{"name": "vector", "type": "FloatVector", "params": []map[string]any{{"key": "dim", "value": "2"}}},
			},
			"indexes": []map[string]any{{"fieldName": "vector", "metricType": "L2"}},
		}
	})
	handle("/collections/get_stats", func([]byte) any {
		f.mu.Lock()
		defer f.mu.Unlock()
		return map[string]any{"rowCount": len(f.rows)}
	})
	handle("/entities/upsert", func(body []byte) any {
		var req upsertRequest
		require.NoError(t, json.Unmarshal(body, &req))
		f.mu.Lock()
		defer f.mu.Unlock()
		f.upserts++
		for _, row := range req.Data {
			f.rows[int64(row["id"].(float64))] = row
		}
		return map[string]any{"upsertCount": len(req.Data)}
	})
	handle("/entities/search", func(body []byte) any {
		var req searchRequest
		require.NoError(t, json.Unmarshal(body, &req))
		f.mu.Lock()
		f.search = req
		f.mu.Unlock()
		return []map[string]any{{"id": int64(model.NewTupleID(0, 2)), "distance": 0.25}}
	})
	handle("/entities/get", func(body []byte) any {
		var req getRequest
		require.NoError(t, json.Unmarshal(body, &req))
		f.mu.Lock()
		defer f.mu.Unlock()
		out := []map[string]any{}
		for _, id := range req.ID {
			if _, ok := f.rows[id]; ok {
				out = append(out, map[string]any{"id": id})
			}
		}
		return out
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newProvider(f *fakeMilvus) *Provider {
	return New(remote.Config{
		APIKey:            "root:Milvus",
		Endpoint:          f.srv.URL + "/",
		VectorsPerRequest: 2,
		RequestsPerBatch:  2,
	})
}

func TestProvider_CreateAndValidate(t *testing.T) {
	ctx := context.Background()
	f := newFake(t)
	p := newProvider(f)

	require.NoError(t, p.CheckCredentials(ctx))
	host, err := p.CreateCollection(ctx, remote.CollectionSpec{Name: "vecbuf-idx-a1b2", Dimensions: 2, Metric: distance.MetricL2})
	require.NoError(t, err)
	assert.Equal(t, "vecbuf_idx_a1b2", host)
	assert.Equal(t, "Bearer root:Milvus", f.auth)

	require.NoError(t, p.ValidateSchema(ctx, host, 2, distance.MetricL2))
	require.ErrorIs(t, p.ValidateSchema(ctx, host, 3, distance.MetricL2), remote.ErrSchema)
	require.ErrorIs(t, p.ValidateSchema(ctx, host, 2, distance.MetricDot), remote.ErrSchema)

	cloud := New(remote.Config{Endpoint: "https://in01-abc.api.gcp-us-west1.zillizcloud.com"})
	require.ErrorIs(t, cloud.CheckCredentials(ctx), remote.ErrCredentials)
}

func TestProvider_UpsertQueryFetch(t *testing.T) {
	ctx := context.Background()
	f := newFake(t)
	p := newProvider(f)

	b := p.BeginBatch()
	for i := 1; i <= 5; i++ {
		require.NoError(t, b.Append(model.Record{
			ID:       model.NewTupleID(0, uint16(i)),
			Vector:   []float32{float32(i), 1},
			Metadata: map[string]any{"color": "red", "id": "shadowed"},
		}))
	}
	b.End()
	require.NoError(t, p.BulkUpsert(ctx, "idx", b))
	assert.Equal(t, 3, f.upserts)
	assert.Equal(t, float64(model.NewTupleID(0, 1)), f.rows[int64(model.NewTupleID(0, 1))]["id"])

	n, err := p.CountLive(ctx, "idx")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	filter := remote.Filter{
		{Field: "color", Op: remote.OpEq, Value: "red"},
		{Field: "n", Op: remote.OpIn, Value: []int{1, 2}},
	}
	q, err := p.PrepareQuery(filter, []float32{1, 1}, 10)
	require.NoError(t, err)
	res, err := p.QueryWithFetch(ctx, "idx", q, []model.TupleID{model.NewTupleID(0, 3), model.NewTupleID(7, 7)})
	require.NoError(t, err)

	require.Len(t, res.Matches, 1)
	assert.Equal(t, model.NewTupleID(0, 2), res.Matches[0].ID)
	assert.Equal(t, float32(0.25), res.Matches[0].Score)
	assert.Equal(t, []model.TupleID{model.NewTupleID(0, 3)}, res.Present)
	assert.Equal(t, `color == "red" and n in [1, 2]`, f.search.Filter)
	assert.Equal(t, 10, f.search.Limit)
}

func TestProvider_ErrorEnvelope(t *testing.T) {
	f := newFake(t)
	f.failCode = 101
	p := newProvider(f)

	_, err := p.CountLive(context.Background(), "idx")
	require.ErrorIs(t, err, remote.ErrRemote)
	assert.Contains(t, err.Error(), "collection not loaded")
}

func TestExpression(t *testing.T) {
	assert.Equal(t, "", Expression(nil))
	assert.Equal(t,
		`a != "x" and b >= 2.5 and c not in ["p", "q"] and d == true`,
		Expression(remote.Filter{
			{Field: "a", Op: remote.OpNe, Value: "x"},
			{Field: "b", Op: remote.OpGte, Value: 2.5},
			{Field: "c", Op: remote.OpNin, Value: []string{"p", "q"}},
			{Field: "d", Op: remote.OpEq, Value: true},
		}))
}

func TestPrepareQuery_RejectsOperatorInFieldName(t *testing.T) {
	p := New(remote.Config{Endpoint: "http://localhost:19530"})
	filter := remote.Filter{{Field: `tenant == "a" or tenant`, Op: remote.OpEq, Value: "b"}}

	_, err := p.PrepareQuery(filter, []float32{1, 0}, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter field")
}
