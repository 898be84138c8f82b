package scan

import (
	"context"
	"errors"
	"testing"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecbuf/basestore"
	"github.com/hupe1980/vecbuf/buffer"
	"github.com/hupe1980/vecbuf/distance"
	"github.com/hupe1980/vecbuf/flush"
	"github.com/hupe1980/vecbuf/internal/page"
	"github.com/hupe1980/vecbuf/model"
	"github.com/hupe1980/vecbuf/pagestore"
	"github.com/hupe1980/vecbuf/remote"
	"github.com/hupe1980/vecbuf/remote/memory"
)

type fixture struct {
	log     *buffer.Log
	prov    *memory.Provider
	base    *basestore.Memory
	host    string
	scanner *Scanner
	flusher *flush.Flusher
	next    int
}

func newFixture(t *testing.T, batchSize, lag int) *fixture {
	t.Helper()
	ctx := context.Background()

	prov := memory.New(memory.Options{Lag: lag})
	host, err := prov.CreateCollection(ctx, remote.CollectionSpec{Name: "scan", Dimensions: 2, Metric: distance.MetricL2})
	require.NoError(t, err)

	pager := pagestore.NewPager(pagestore.NewMemoryStore(256))
	require.NoError(t, buffer.Init(ctx, pager, page.StaticMeta{
		Dimensions: 2, Metric: distance.MetricL2, Provider: memory.Name, Host: host, Collection: "scan",
	}))
	l, err := buffer.Open(ctx, pager, buffer.WithBatchSize(batchSize))
	require.NoError(t, err)

	base := basestore.NewMemory()
	s, err := New(l, prov, base, host)
	require.NoError(t, err)
	return &fixture{
		log:     l,
		prov:    prov,
		base:    base,
		host:    host,
		scanner: s,
		flusher: flush.New(l, prov, base, host),
	}
}

// insert adds n tuples whose squared L2 distance to the query {0, 1}
// grows with their insertion index.
func (f *fixture) insert(t *testing.T, n int) []model.TupleID {
	t.Helper()
	ctx := context.Background()
	ids := make([]model.TupleID, n)
	for i := range ids {
		f.next++
		id, err := f.base.Insert(ctx, []float32{float32(f.next), 1}, map[string]any{"even": i%2 == 0})
		require.NoError(t, err)
		_, err = f.log.Append(ctx, id)
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func (f *fixture) meta(t *testing.T) page.BufferMeta {
	t.Helper()
	m, err := f.log.Meta(context.Background())
	require.NoError(t, err)
	return m
}

var query = []float32{0, 1}

func defaultRequest() Request {
	return Request{TopK: 100, MaxBufferScan: 10000, MaxFetchedForLiveness: 10}
}

func ids(cs []model.Candidate) []model.TupleID {
	out := make([]model.TupleID, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestScan_InsertVisibleBeforeFlush(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 0)
	inserted := f.insert(t, 1)

	it, err := f.scanner.Scan(ctx, query, defaultRequest())
	require.NoError(t, err)
	got := it.Collect()

	require.Len(t, got, 1)
	assert.Equal(t, inserted[0], got[0].ID)
	assert.Equal(t, model.OriginLocal, got[0].Origin)
	assert.True(t, got[0].Recheck)
	assert.False(t, got[0].Approx)
	assert.Equal(t, float32(1), got[0].Distance)
	assert.Equal(t, 1, it.Stats().Local)
}

func TestScan_ReadyAdvancesToConfirmedCheckpoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 1)
	f.insert(t, 9)
	require.NoError(t, f.flusher.Flush(ctx))
	require.Equal(t, int64(3), f.meta(t).Flush.Seq)
	require.Equal(t, 1, f.prov.Pending(f.host))

	it, err := f.scanner.Scan(ctx, query, defaultRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, it.Stats().Probed)
	assert.True(t, it.Stats().ReadyAdvanced)
	assert.Equal(t, int64(1), f.meta(t).Ready.Seq, "representative of checkpoint 2 is not visible yet")

	f.prov.Settle(f.host)
	_, err = f.scanner.Scan(ctx, query, defaultRequest())
	require.NoError(t, err)
	m := f.meta(t)
	assert.Equal(t, int64(2), m.Ready.Seq)
	assert.Equal(t, int64(3), m.Flush.Seq, "flush checkpoint is never probed")

	it, err = f.scanner.Scan(ctx, query, defaultRequest())
	require.NoError(t, err)
	assert.Zero(t, it.Stats().Probed)
	assert.False(t, it.Stats().ReadyAdvanced)
}

func TestScan_CompleteDedupedAndOrdered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 1)
	inserted := f.insert(t, 9)
	require.NoError(t, f.flusher.Flush(ctx))

	for _, settle := range []bool{false, true} {
		if settle {
			f.prov.Settle(f.host)
		}
		it, err := f.scanner.Scan(ctx, query, defaultRequest())
		require.NoError(t, err)
		got := it.Collect()

		assert.Equal(t, inserted, ids(got), "settled=%v", settle)
		for i := 1; i < len(got); i++ {
			assert.LessOrEqual(t, got[i-1].Distance, got[i].Distance)
		}
		for _, c := range got {
			assert.True(t, c.Recheck)
			if c.Origin == model.OriginRemote {
				assert.True(t, c.Approx)
				assert.Equal(t, c.Distance, c.RemoteScore, "memory provider scores with the same metric")
			}
		}
		// Tuples in both lists are reported once, as remote results.
		assert.Equal(t, model.OriginRemote, got[0].Origin)
		assert.Equal(t, model.OriginLocal, got[8].Origin)
	}
}

func TestScan_RemoteFailureDegradesToLocal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 0)
	inserted := f.insert(t, 9)
	require.NoError(t, f.flusher.Flush(ctx))

	f.prov.FailNext(memory.OpQuery, errors.New("timeout"))
	it, err := f.scanner.Scan(ctx, query, defaultRequest())
	require.NoError(t, err)
	got := it.Collect()

	require.ErrorIs(t, it.Stats().RemoteErr, remote.ErrRemote)
	assert.Equal(t, inserted, ids(got), "nothing is confirmed, so the whole log is the tail")
	for _, c := range got {
		assert.Equal(t, model.OriginLocal, c.Origin)
	}
	assert.Equal(t, int64(0), f.meta(t).Ready.Seq)
}

func TestScan_Limits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 5)
	f.insert(t, 9)
	require.NoError(t, f.flusher.Flush(ctx))
	f.prov.Settle(f.host)

	req := defaultRequest()
	req.MaxFetchedForLiveness = 1
	req.MaxBufferScan = 2
	it, err := f.scanner.Scan(ctx, query, req)
	require.NoError(t, err)

	st := it.Stats()
	assert.True(t, st.ProbeTruncated)
	assert.Equal(t, 1, st.Probed)
	assert.Equal(t, int64(2), f.meta(t).Ready.Seq, "newest checkpoints are probed first")
	assert.True(t, st.TailTruncated)
	assert.Equal(t, 2, st.Local)

	req.MaxFetchedForLiveness = 0
	req.MaxBufferScan = 0
	it, err = f.scanner.Scan(ctx, query, req)
	require.NoError(t, err)
	assert.Zero(t, it.Stats().Local)
	assert.Equal(t, 8, it.Stats().Remote)
}

func TestScan_TopKBoundsRemote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 0)
	f.insert(t, 7)
	require.NoError(t, f.flusher.Flush(ctx))

	req := defaultRequest()
	req.TopK = 2
	it, err := f.scanner.Scan(ctx, query, req)
	require.NoError(t, err)
	got := it.Collect()
	assert.LessOrEqual(t, len(got), it.Stats().Local+req.TopK)
	assert.Equal(t, 2, it.Stats().Remote)
}

func TestScan_SkipsDeadAndDrift(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, 0)
	inserted := f.insert(t, 3)
	f.base.Delete(inserted[0])
	f.base.Forget(inserted[1])

	it, err := f.scanner.Scan(ctx, query, defaultRequest())
	require.NoError(t, err)
	assert.Equal(t, []model.TupleID{inserted[2]}, ids(it.Collect()))
	assert.Equal(t, 1, it.Stats().Drift)
}

func TestScan_Filter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 0)
	inserted := f.insert(t, 7)
	require.NoError(t, f.flusher.Flush(ctx))

	req := defaultRequest()
	req.Filter = remote.Filter{{Field: "even", Op: remote.OpEq, Value: true}}
	it, err := f.scanner.Scan(ctx, query, req)
	require.NoError(t, err)
	assert.Equal(t, []model.TupleID{inserted[0], inserted[2], inserted[4], inserted[6]}, ids(it.Collect()))

	req.Filter = remote.Filter{{Field: "even", Op: remote.OpIn, Value: true}}
	_, err = f.scanner.Scan(ctx, query, req)
	require.Error(t, err)
}

func TestScan_InvalidQuery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 0)

	_, err := f.scanner.Scan(ctx, []float32{0, 0}, defaultRequest())
	require.ErrorIs(t, err, remote.ErrZeroVector)
	_, err = f.scanner.Scan(ctx, []float32{1, 2, 3}, defaultRequest())
	require.ErrorIs(t, err, remote.ErrDimensions)

	req := defaultRequest()
	req.TopK = 0
	_, err = f.scanner.Scan(ctx, query, req)
	require.Error(t, err)
}

func TestIterator_MergePrefersRemoteOnTie(t *testing.T) {
	c := func(id int, d float32, o model.Origin) model.Candidate {
		return model.Candidate{ID: model.TupleID(id), Distance: d, Origin: o}
	}
	it := &Iterator{
		local:  []model.Candidate{c(1, 1, model.OriginLocal), c(3, 2, model.OriginLocal), c(2, 3, model.OriginLocal)},
		remote: []model.Candidate{c(1, 1, model.OriginRemote), c(2, 2, model.OriginRemote), c(4, 5, model.OriginRemote)},
	}
	it.seen = roaring64.New()
	got := it.Collect()

	assert.Equal(t, []model.TupleID{1, 2, 3, 4}, ids(got))
	assert.Equal(t, model.OriginRemote, got[0].Origin)
	assert.Equal(t, model.OriginRemote, got[1].Origin, "later local duplicate of 2 is dropped")
	assert.Equal(t, model.OriginLocal, got[2].Origin)
}
