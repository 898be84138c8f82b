package vecbuf

import (
	"log/slog"
	"time"

	"github.com/hupe1980/vecbuf/remote"
	"github.com/hupe1980/vecbuf/remote/memory"
	"github.com/hupe1980/vecbuf/remote/milvus"
	"github.com/hupe1980/vecbuf/remote/pinecone"
)

type options struct {
	registry         *remote.Registry
	metricsCollector MetricsCollector
	logger           *Logger
	buildPoll        time.Duration
	autoFlush        bool
}

// Option configures Create and Open.
type Option func(*options)

// WithRegistry replaces the provider registry. Tests use it to share one
// memory provider between Create and Open.
func WithRegistry(r *remote.Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging. Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithBuildPollInterval sets how often Create polls the remote count while
// waiting for the initial build to become visible.
func WithBuildPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.buildPoll = d
		}
	}
}

// WithAutoFlush controls whether an insert that closes a checkpoint flushes
// right away. It is on by default; without it the caller runs Flush.
func WithAutoFlush(enabled bool) Option {
	return func(o *options) {
		o.autoFlush = enabled
	}
}

// DefaultRegistry returns a registry with the built-in providers. Every call
// creates a fresh memory provider.
func DefaultRegistry() *remote.Registry {
	r := remote.NewRegistry()
	_ = r.Register(memory.Name, memory.Factory(memory.New(memory.Options{})))
	_ = r.Register(pinecone.Name, pinecone.Factory)
	_ = r.Register(milvus.Name, milvus.Factory)
	return r
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		buildPoll:        time.Second,
		autoFlush:        true,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.registry == nil {
		o.registry = DefaultRegistry()
	}
	return o
}
