// Package promcollector exports vecbuf metrics to Prometheus.
package promcollector

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/vecbuf"
)

const namespace = "vecbuf"

// Collector implements vecbuf.MetricsCollector.
type Collector struct {
	inserts        *prometheus.CounterVec
	checkpoints    prometheus.Counter
	flushes        *prometheus.CounterVec
	flushDuration  prometheus.Histogram
	uploads        *prometheus.CounterVec
	uploadVectors  prometheus.Counter
	uploadDuration prometheus.Histogram
	searches       *prometheus.CounterVec
	searchDuration prometheus.Histogram
	searchResults  prometheus.Histogram
}

// New registers the vecbuf metrics with reg. constLabels are attached to
// every series, typically the index name.
func New(reg prometheus.Registerer, constLabels prometheus.Labels) *Collector {
	f := promauto.With(reg)
	return &Collector{
		inserts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "inserts_total",
			Help:        "Buffered inserts by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		checkpoints: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "checkpoints_total",
			Help:        "Checkpoints closed by inserts.",
			ConstLabels: constLabels,
		}),
		flushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "flushes_total",
			Help:        "Flush runs by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		flushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "flush_duration_seconds",
			Help:        "Duration of flush runs.",
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 12),
			ConstLabels: constLabels,
		}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "upload_batches_total",
			Help:        "Batches sent to the remote by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		uploadVectors: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "uploaded_vectors_total",
			Help:        "Vectors accepted by the remote.",
			ConstLabels: constLabels,
		}),
		uploadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "upload_duration_seconds",
			Help:        "Duration of one batch upload.",
			Buckets:     prometheus.ExponentialBuckets(0.005, 2, 12),
			ConstLabels: constLabels,
		}),
		searches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "searches_total",
			Help:        "Searches by result; degraded searches were answered from the buffer only.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		searchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "search_duration_seconds",
			Help:        "Duration of searches.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			ConstLabels: constLabels,
		}),
		searchResults: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "search_results",
			Help:        "Number of merged results per search.",
			Buckets:     prometheus.ExponentialBuckets(1, 4, 8),
			ConstLabels: constLabels,
		}),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (c *Collector) RecordInsert(_ time.Duration, checkpoint bool, err error) {
	c.inserts.WithLabelValues(result(err)).Inc()
	if checkpoint {
		c.checkpoints.Inc()
	}
}

func (c *Collector) RecordFlush(d time.Duration, err error) {
	c.flushes.WithLabelValues(result(err)).Inc()
	c.flushDuration.Observe(d.Seconds())
}

func (c *Collector) RecordBatchUpload(vectors int, d time.Duration, err error) {
	c.uploads.WithLabelValues(result(err)).Inc()
	c.uploadDuration.Observe(d.Seconds())
	if err == nil {
		c.uploadVectors.Add(float64(vectors))
	}
}

func (c *Collector) RecordSearch(_, results int, degraded bool, d time.Duration, err error) {
	label := result(err)
	if err == nil && degraded {
		label = "degraded"
	}
	c.searches.WithLabelValues(label).Inc()
	c.searchDuration.Observe(d.Seconds())
	if err == nil {
		c.searchResults.Observe(float64(results))
	}
}

var _ vecbuf.MetricsCollector = (*Collector)(nil)
