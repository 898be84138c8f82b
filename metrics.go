package vecbuf

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// The promcollector package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordInsert is called after each buffered insert. checkpoint reports
	// whether the insert closed a checkpoint.
	RecordInsert(duration time.Duration, checkpoint bool, err error)

	// RecordFlush is called after each flush run.
	RecordFlush(duration time.Duration, err error)

	// RecordBatchUpload is called after each batch sent to the remote.
	RecordBatchUpload(vectors int, duration time.Duration, err error)

	// RecordSearch is called after each search. degraded reports that the
	// remote failed and only buffered tuples were searched.
	RecordSearch(k, results int, degraded bool, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(time.Duration, bool, error)            {}
func (NoopMetricsCollector) RecordFlush(time.Duration, error)                   {}
func (NoopMetricsCollector) RecordBatchUpload(int, time.Duration, error)        {}
func (NoopMetricsCollector) RecordSearch(int, int, bool, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and tests without external dependencies.
type BasicMetricsCollector struct {
	InsertCount      atomic.Int64
	InsertErrors     atomic.Int64
	CheckpointCount  atomic.Int64
	FlushCount       atomic.Int64
	FlushErrors      atomic.Int64
	FlushTotalNanos  atomic.Int64
	UploadBatches    atomic.Int64
	UploadVectors    atomic.Int64
	UploadErrors     atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchDegraded   atomic.Int64
	SearchResults    atomic.Int64
	SearchTotalNanos atomic.Int64
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(_ time.Duration, checkpoint bool, err error) {
	b.InsertCount.Add(1)
	if err != nil {
		b.InsertErrors.Add(1)
	}
	if checkpoint {
		b.CheckpointCount.Add(1)
	}
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(duration time.Duration, err error) {
	b.FlushCount.Add(1)
	b.FlushTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FlushErrors.Add(1)
	}
}

// RecordBatchUpload implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBatchUpload(vectors int, _ time.Duration, err error) {
	b.UploadBatches.Add(1)
	if err != nil {
		b.UploadErrors.Add(1)
		return
	}
	b.UploadVectors.Add(int64(vectors))
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_, results int, degraded bool, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	switch {
	case err != nil:
		b.SearchErrors.Add(1)
	case degraded:
		b.SearchDegraded.Add(1)
	}
	b.SearchResults.Add(int64(results))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InsertCount:     b.InsertCount.Load(),
		InsertErrors:    b.InsertErrors.Load(),
		CheckpointCount: b.CheckpointCount.Load(),
		FlushCount:      b.FlushCount.Load(),
		FlushErrors:     b.FlushErrors.Load(),
		FlushAvgNanos:   avg(b.FlushTotalNanos.Load(), b.FlushCount.Load()),
		UploadBatches:   b.UploadBatches.Load(),
		UploadVectors:   b.UploadVectors.Load(),
		UploadErrors:    b.UploadErrors.Load(),
		SearchCount:     b.SearchCount.Load(),
		SearchErrors:    b.SearchErrors.Load(),
		SearchDegraded:  b.SearchDegraded.Load(),
		SearchAvgNanos:  avg(b.SearchTotalNanos.Load(), b.SearchCount.Load()),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	InsertCount     int64
	InsertErrors    int64
	CheckpointCount int64
	FlushCount      int64
	FlushErrors     int64
	FlushAvgNanos   int64
	UploadBatches   int64
	UploadVectors   int64
	UploadErrors    int64
	SearchCount     int64
	SearchErrors    int64
	SearchDegraded  int64
	SearchAvgNanos  int64
}
