package promcollector

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg, prometheus.Labels{"index": "docs"})

	c.RecordInsert(time.Millisecond, false, nil)
	c.RecordInsert(time.Millisecond, true, nil)
	c.RecordInsert(time.Millisecond, false, errors.New("corrupt"))
	c.RecordBatchUpload(100, time.Second, nil)
	c.RecordBatchUpload(100, time.Second, errors.New("503"))
	c.RecordFlush(time.Second, nil)
	c.RecordSearch(10, 7, false, time.Millisecond, nil)
	c.RecordSearch(10, 3, true, time.Millisecond, nil)

	assert.Equal(t, 2.0, counterValue(t, c.inserts.WithLabelValues("ok")))
	assert.Equal(t, 1.0, counterValue(t, c.inserts.WithLabelValues("error")))
	assert.Equal(t, 1.0, counterValue(t, c.checkpoints))
	assert.Equal(t, 100.0, counterValue(t, c.uploadVectors))
	assert.Equal(t, 1.0, counterValue(t, c.uploads.WithLabelValues("error")))
	assert.Equal(t, 1.0, counterValue(t, c.searches.WithLabelValues("degraded")))

	families, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() != "vecbuf_searches_total" {
			continue
		}
		found = true
		assert.Len(t, mf.GetMetric(), 2)
		for _, m := range mf.GetMetric() {
			require.Len(t, m.GetLabel(), 2)
		}
	}
	assert.True(t, found)

	require.Panics(t, func() { New(reg, prometheus.Labels{"index": "docs"}) }, "duplicate registration")
}
