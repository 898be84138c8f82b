package vecbuf_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecbuf"
	"github.com/hupe1980/vecbuf/basestore"
	"github.com/hupe1980/vecbuf/distance"
	"github.com/hupe1980/vecbuf/model"
	"github.com/hupe1980/vecbuf/pagestore"
	"github.com/hupe1980/vecbuf/remote"
	"github.com/hupe1980/vecbuf/remote/memory"
	"github.com/hupe1980/vecbuf/testutil"
)

func testConfig() vecbuf.Config {
	cfg := vecbuf.DefaultConfig()
	cfg.Name = "docs"
	cfg.Dimensions = 2
	cfg.BatchSize = 3
	cfg.Remote.Provider = memory.Name
	cfg.Remote.Spec = map[string]string{}
	return cfg
}

func testRegistry(t *testing.T, prov *memory.Provider) *remote.Registry {
	t.Helper()
	reg := remote.NewRegistry()
	require.NoError(t, reg.Register(memory.Name, memory.Factory(prov)))
	require.NoError(t, reg.Register("other", memory.Factory(prov)))
	return reg
}

func vec(i int) []float32 { return []float32{float32(i), 1} }

var query = []float32{0, 1}

func TestCreate_BuildsExistingRecords(t *testing.T) {
	ctx := context.Background()
	prov := memory.New(memory.Options{})
	base := basestore.NewMemory()
	for i := 1; i <= 5; i++ {
		_, err := base.Insert(ctx, vec(i), nil)
		require.NoError(t, err)
	}
	_, err := base.Insert(ctx, []float32{0, 0}, nil)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.BuildWaitTimeout = time.Second
	metrics := &vecbuf.BasicMetricsCollector{}
	idx, err := vecbuf.Create(ctx, cfg, pagestore.NewMemoryStore(0), base,
		vecbuf.WithRegistry(testRegistry(t, prov)),
		vecbuf.WithMetricsCollector(metrics),
		vecbuf.WithBuildPollInterval(time.Millisecond))
	require.NoError(t, err)
	defer idx.Close()

	assert.True(t, strings.HasPrefix(idx.Host(), "memory://vecbuf-docs-"))
	n, err := prov.CountLive(ctx, idx.Host())
	require.NoError(t, err)
	assert.Equal(t, int64(5), n, "zero vector is skipped")
	assert.Equal(t, int64(5), metrics.GetStats().UploadVectors)

	st, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, memory.Name, st.Provider)
	assert.Equal(t, int64(0), st.Latest.Seq)
	assert.Equal(t, uint32(3), st.Pages)

	got, err := idx.Search(ctx, query)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	for _, c := range got {
		assert.Equal(t, model.OriginRemote, c.Origin)
	}
}

func TestCreate_AttachToExistingCollection(t *testing.T) {
	ctx := context.Background()
	prov := memory.New(memory.Options{})
	host, err := prov.CreateCollection(ctx, remote.CollectionSpec{Name: "existing", Dimensions: 2, Metric: distance.MetricL2})
	require.NoError(t, err)
	b := prov.BeginBatch()
	require.NoError(t, b.Append(model.Record{ID: 99, Vector: vec(1)}))
	b.End()
	require.NoError(t, prov.BulkUpsert(ctx, host, b))

	cfg := testConfig()
	cfg.Remote.Spec = nil
	cfg.Remote.Host = host
	reg := vecbuf.WithRegistry(testRegistry(t, prov))

	_, err = vecbuf.Create(ctx, cfg, pagestore.NewMemoryStore(0), basestore.NewMemory(), reg)
	require.ErrorIs(t, err, vecbuf.ErrInvalidConfig, "collection is not empty")

	wrongDims := cfg
	wrongDims.Dimensions = 3
	wrongDims.SkipBuild = true
	_, err = vecbuf.Create(ctx, wrongDims, pagestore.NewMemoryStore(0), basestore.NewMemory(), reg)
	require.ErrorIs(t, err, vecbuf.ErrInvalidConfig)

	cfg.SkipBuild = true
	store := pagestore.NewMemoryStore(0)
	idx, err := vecbuf.Create(ctx, cfg, store, basestore.NewMemory(), reg)
	require.NoError(t, err)
	assert.Equal(t, host, idx.Host())
	require.NoError(t, idx.Close())
}

func TestCreate_RejectsBeforeWriting(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*vecbuf.Config)
		prov   memory.Options
		want   error
	}{
		{"host and spec", func(c *vecbuf.Config) { c.Remote.Host = "memory://x" }, memory.Options{}, vecbuf.ErrInvalidConfig},
		{"neither host nor spec", func(c *vecbuf.Config) { c.Remote.Spec = nil }, memory.Options{}, vecbuf.ErrInvalidConfig},
		{"no dimensions", func(c *vecbuf.Config) { c.Dimensions = 0 }, memory.Options{}, vecbuf.ErrInvalidConfig},
		{"unknown provider", func(c *vecbuf.Config) { c.Remote.Provider = "faiss" }, memory.Options{}, vecbuf.ErrInvalidConfig},
		{"batch size", func(c *vecbuf.Config) { c.BatchSize = 0 }, memory.Options{}, vecbuf.ErrInvalidConfig},
		{"bad key", func(c *vecbuf.Config) { c.Remote.APIKey = "wrong" }, memory.Options{APIKey: "secret"}, vecbuf.ErrCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			store := pagestore.NewMemoryStore(0)
			prov := memory.New(tt.prov)
			_, err := vecbuf.Create(ctx, cfg, store, basestore.NewMemory(), vecbuf.WithRegistry(testRegistry(t, prov)))
			require.ErrorIs(t, err, tt.want)
			assert.Zero(t, store.Commits())
		})
	}
}

func TestIndex_InsertFlushSearch(t *testing.T) {
	ctx := context.Background()
	prov := memory.New(memory.Options{Lag: 1})
	metrics := &vecbuf.BasicMetricsCollector{}
	idx, err := vecbuf.Create(ctx, testConfig(), pagestore.NewMemoryStore(0), basestore.NewMemory(),
		vecbuf.WithRegistry(testRegistry(t, prov)),
		vecbuf.WithMetricsCollector(metrics))
	require.NoError(t, err)
	defer idx.Close()

	var ids []model.TupleID
	for i := 1; i <= 9; i++ {
		id, err := idx.InsertRecord(ctx, vec(i), map[string]any{"n": i})
		require.NoError(t, err)
		ids = append(ids, id)

		got, err := idx.Search(ctx, query)
		require.NoError(t, err)
		require.Len(t, got, i, "every insert is visible immediately")
	}

	st, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Latest.Seq)
	assert.Equal(t, st.Latest, st.Flush, "inserts closing a checkpoint flush")
	assert.Equal(t, int64(1), st.Ready.Seq)

	got, err := idx.Search(ctx, query, vecbuf.WithLimit(3))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, ids[:3], []model.TupleID{got[0].ID, got[1].ID, got[2].ID})

	got, err = idx.Search(ctx, query, vecbuf.WithFilter(remote.Filter{{Field: "n", Op: remote.OpGte, Value: 6}}))
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, ids[5], got[0].ID)

	var streamed []model.TupleID
	for c, err := range idx.Stream(ctx, query, vecbuf.WithLimit(4)) {
		require.NoError(t, err)
		streamed = append(streamed, c.ID)
	}
	assert.Equal(t, ids[:4], streamed)

	_, err = idx.InsertRecord(ctx, []float32{1, 2, 3}, nil)
	require.ErrorIs(t, err, remote.ErrDimensions)
	_, err = idx.Search(ctx, []float32{0, 0})
	require.ErrorIs(t, err, remote.ErrZeroVector)

	stats := metrics.GetStats()
	assert.Equal(t, int64(9), stats.InsertCount)
	assert.Equal(t, int64(3), stats.CheckpointCount)
	assert.Equal(t, int64(3), stats.FlushCount)
	assert.Equal(t, int64(8), stats.UploadVectors)
}

func TestIndex_FlushFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	prov := memory.New(memory.Options{})
	idx, err := vecbuf.Create(ctx, testConfig(), pagestore.NewMemoryStore(0), basestore.NewMemory(),
		vecbuf.WithRegistry(testRegistry(t, prov)))
	require.NoError(t, err)
	defer idx.Close()

	_, err = idx.InsertRecord(ctx, vec(1), nil)
	require.NoError(t, err)
	_, err = idx.InsertRecord(ctx, vec(2), nil)
	require.NoError(t, err)

	prov.FailNext(memory.OpUpsert, errors.New("throttled"))
	_, err = idx.InsertRecord(ctx, vec(3), nil)
	require.ErrorIs(t, err, vecbuf.ErrRemote)
	var re *vecbuf.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "flush", re.Op)
	assert.Equal(t, memory.Name, re.Provider)

	st, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Flush.Seq)
	assert.Equal(t, int64(1), st.Latest.Seq)

	got, err := idx.Search(ctx, query)
	require.NoError(t, err)
	assert.Len(t, got, 3, "buffered tuples stay searchable")

	require.NoError(t, idx.Flush(ctx))
	st, err = idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Flush.Seq)
}

func TestIndex_ManualFlush(t *testing.T) {
	ctx := context.Background()
	prov := memory.New(memory.Options{})
	idx, err := vecbuf.Create(ctx, testConfig(), pagestore.NewMemoryStore(0), basestore.NewMemory(),
		vecbuf.WithRegistry(testRegistry(t, prov)), vecbuf.WithAutoFlush(false))
	require.NoError(t, err)
	defer idx.Close()

	for i := 1; i <= 3; i++ {
		_, err := idx.InsertRecord(ctx, vec(i), nil)
		require.NoError(t, err)
	}
	st, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Flush.Seq)
	assert.Equal(t, int64(2), st.Unflushed)

	require.NoError(t, idx.Flush(ctx))
	st, err = idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Flush.Seq)
	assert.Zero(t, st.Unflushed)
}

func TestOpen_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	prov := memory.New(memory.Options{})
	reg := vecbuf.WithRegistry(testRegistry(t, prov))
	base := basestore.NewMemory()

	store, err := pagestore.OpenBadger(pagestore.BadgerOptions{Dir: dir})
	require.NoError(t, err)
	idx, err := vecbuf.Create(ctx, testConfig(), store, base, reg)
	require.NoError(t, err)
	for i := 1; i <= 4; i++ {
		_, err := idx.InsertRecord(ctx, vec(i), nil)
		require.NoError(t, err)
	}
	host := idx.Host()
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	_, err = idx.Stats(ctx)
	require.ErrorIs(t, err, vecbuf.ErrClosed)
	require.ErrorIs(t, idx.Insert(ctx, 1), vecbuf.ErrClosed)

	cfg := testConfig()
	cfg.Dimensions = 0
	cfg.Remote.Spec = nil

	store, err = pagestore.OpenBadger(pagestore.BadgerOptions{Dir: dir})
	require.NoError(t, err)
	other := cfg
	other.Remote.Provider = "other"
	_, err = vecbuf.Open(ctx, other, store, base, reg)
	require.ErrorIs(t, err, vecbuf.ErrInvalidConfig)

	idx, err = vecbuf.Open(ctx, cfg, store, base, reg)
	require.NoError(t, err)
	defer idx.Close()

	assert.Equal(t, host, idx.Host())
	st, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Dimensions)
	assert.Equal(t, int64(1), st.Flush.Seq)

	got, err := idx.Search(ctx, query)
	require.NoError(t, err)
	assert.Len(t, got, 4)

	var buf bytes.Buffer
	require.NoError(t, idx.Inspect(ctx, &buf))
	assert.Contains(t, buf.String(), "provider=memory")
	assert.Contains(t, buf.String(), "checkpoint=")
}

func TestIndex_SearchMatchesExactTopK(t *testing.T) {
	ctx := context.Background()
	prov := memory.New(memory.Options{})
	base := basestore.NewMemory()

	cfg := testConfig()
	cfg.Dimensions = 8
	cfg.TopK = 10
	idx, err := vecbuf.Create(ctx, cfg, pagestore.NewMemoryStore(0), base,
		vecbuf.WithRegistry(testRegistry(t, prov)))
	require.NoError(t, err)
	defer idx.Close()

	rng := testutil.NewRNG(42)
	for range 50 {
		_, err := idx.InsertRecord(ctx, rng.Vector(8), rng.Metadata())
		require.NoError(t, err)
	}

	var records []model.Record
	require.NoError(t, base.Scan(ctx, func(rec model.Record) error {
		records = append(records, rec)
		return nil
	}))
	require.Len(t, records, 50)

	for range 5 {
		q := rng.Vector(8)
		truth := testutil.ExactTopK(q, records, 10, distance.SquaredL2)

		got, err := idx.Search(ctx, q, vecbuf.WithLimit(10))
		require.NoError(t, err)
		require.Len(t, got, 10)
		assert.Equal(t, 1.0, testutil.ComputeRecall(truth, got))
		assert.Equal(t, truth[0].ID, got[0].ID)
	}
}
