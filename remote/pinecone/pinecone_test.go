package pinecone

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecbuf/distance"
	"github.com/hupe1980/vecbuf/model"
	"github.com/hupe1980/vecbuf/remote"
)

type fakePinecone struct {
	mu       sync.Mutex
	srv      *httptest.Server
	vectors  map[string]wireVector
	polls    int
	upserts  int
	lastBody map[string]any
}

func newFake(t *testing.T) *fakePinecone {
	f := &fakePinecone{vectors: make(map[string]wireVector)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /indexes", func(w http.ResponseWriter, r *http.Request) {
		var req createIndexRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "aws", req.Spec.Serverless.Cloud)
		writeJSON(w, map[string]any{"name": req.Name, "status": map[string]any{"ready": false, "state": "Initializing"}})
	})
	mux.HandleFunc("GET /indexes/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.polls++
		f.mu.Unlock()
		writeJSON(w, map[string]any{
			"name": r.PathValue("name"), "host": f.host(),
			"status": map[string]any{"ready": true, "state": "Ready"},
		})
	})
	mux.HandleFunc("GET /indexes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"indexes": []map[string]any{
			{"name": "idx", "dimension": 2, "metric": "euclidean", "host": f.host()},
		}})
	})
	mux.HandleFunc("POST /describe_index_stats", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, map[string]any{"dimension": 2, "totalVectorCount": len(f.vectors)})
	})
	mux.HandleFunc("POST /vectors/upsert", func(w http.ResponseWriter, r *http.Request) {
		var req upsertRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		defer f.mu.Unlock()
		f.upserts++
		for _, v := range req.Vectors {
			f.vectors[v.ID] = v
		}
		writeJSON(w, map[string]any{"upsertedCount": len(req.Vectors)})
	})
	mux.HandleFunc("POST /query", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.lastBody = body
		f.mu.Unlock()
		writeJSON(w, map[string]any{"matches": []map[string]any{
			{"id": model.NewTupleID(0, 2).Hex(), "score": 0.5},
			{"id": "not-a-tuple", "score": 0.9},
		}})
	})
	mux.HandleFunc("GET /vectors/fetch", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		out := map[string]any{}
		for _, id := range r.URL.Query()["ids"] {
			if _, ok := f.vectors[id]; ok {
				out[id] = map[string]any{"id": id}
			}
		}
		writeJSON(w, map[string]any{"vectors": out})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakePinecone) host() string { return f.srv.URL }

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newProvider(f *fakePinecone) *Provider {
	return New(remote.Config{
		APIKey:            "key",
		Endpoint:          f.srv.URL,
		VectorsPerRequest: 2,
		RequestsPerBatch:  2,
	}, WithPollInterval(time.Millisecond))
}

func TestProvider_CreateAndValidate(t *testing.T) {
	ctx := context.Background()
	f := newFake(t)
	p := newProvider(f)

	require.NoError(t, p.CheckCredentials(ctx))
	host, err := p.CreateCollection(ctx, remote.CollectionSpec{Name: "idx", Dimensions: 2, Metric: distance.MetricL2})
	require.NoError(t, err)
	assert.Equal(t, f.host(), host)
	assert.Equal(t, 1, f.polls)

	require.NoError(t, p.ValidateSchema(ctx, host, 2, distance.MetricL2))
	require.ErrorIs(t, p.ValidateSchema(ctx, host, 2, distance.MetricCosine), remote.ErrSchema)
	require.ErrorIs(t, p.ValidateSchema(ctx, "other.host", 2, distance.MetricL2), remote.ErrSchema)

	require.ErrorIs(t, New(remote.Config{}).CheckCredentials(ctx), remote.ErrCredentials)
}

func TestProvider_UpsertQueryFetch(t *testing.T) {
	ctx := context.Background()
	f := newFake(t)
	p := newProvider(f)
	host := f.host()

	b := p.BeginBatch()
	for i := 1; i <= 5; i++ {
		require.NoError(t, b.Append(model.Record{
			ID:       model.NewTupleID(0, uint16(i)),
			Vector:   []float32{float32(i), 1},
			Metadata: map[string]any{"n": i, "skip": nil},
		}))
	}
	b.End()
	require.NoError(t, p.BulkUpsert(ctx, host, b))
	assert.Equal(t, 3, f.upserts, "5 vectors in chunks of 2")

	n, err := p.CountLive(ctx, host)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	q, err := p.PrepareQuery(remote.Filter{{Field: "n", Op: remote.OpGt, Value: 1}}, []float32{1, 1}, 10)
	require.NoError(t, err)
	res, err := p.QueryWithFetch(ctx, host, q, []model.TupleID{model.NewTupleID(0, 3), model.NewTupleID(9, 9)})
	require.NoError(t, err)

	require.Len(t, res.Matches, 1)
	assert.Equal(t, model.NewTupleID(0, 2), res.Matches[0].ID)
	assert.Equal(t, float32(0.5), res.Matches[0].Score)
	assert.Equal(t, []model.TupleID{model.NewTupleID(0, 3)}, res.Present)

	filter := f.lastBody["filter"].(map[string]any)
	and := filter["$and"].([]any)
	require.Len(t, and, 1)
	assert.Equal(t, map[string]any{"n": map[string]any{"$gt": float64(1)}}, and[0])

	_, err = p.PrepareQuery(nil, []float32{0, 0}, 10)
	require.ErrorIs(t, err, remote.ErrZeroVector)
}

func TestDataURL(t *testing.T) {
	assert.Equal(t, "https://idx.svc.pinecone.io/query", dataURL("idx.svc.pinecone.io", "/query"))
	assert.Equal(t, "http://localhost:1/query", dataURL("http://localhost:1/", "/query"))
}
