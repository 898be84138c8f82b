package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hupe1980/vecbuf/distance"
	"github.com/hupe1980/vecbuf/model"
	"github.com/hupe1980/vecbuf/resource"
)

var (
	// ErrRemote wraps every failure reported by or while reaching a remote
	// service.
	ErrRemote = errors.New("remote: request failed")
	// ErrCredentials is returned when a provider lacks usable credentials.
	ErrCredentials = errors.New("remote: missing or rejected credentials")
	// ErrSchema is returned when an existing collection does not match the
	// index dimensions or metric.
	ErrSchema = errors.New("remote: collection schema mismatch")
	// ErrZeroVector is returned for all-zero vectors, which cosine indexes
	// cannot score.
	ErrZeroVector = errors.New("remote: zero vector")
	// ErrDimensions is returned for vectors of the wrong length.
	ErrDimensions = errors.New("remote: dimension mismatch")
)

// CollectionSpec describes a collection to create.
type CollectionSpec struct {
	Name       string
	Dimensions int
	Metric     distance.Metric
	// Params carries provider-specific settings such as cloud and region.
	Params map[string]string
}

// Match is one ranked result of a remote query. Score is the provider's
// own similarity or distance value and is only approximate.
type Match struct {
	ID    model.TupleID
	Score float32
}

// QueryResult is the answer of QueryWithFetch.
type QueryResult struct {
	// Matches are ranked best first.
	Matches []Match
	// Present lists the probed ids the service confirmed to hold.
	Present []model.TupleID
}

// PreparedQuery is a validated query ready to be sent.
type PreparedQuery struct {
	Vector []float32
	TopK   int
	Filter Filter
}

// Provider is a remote ANN service.
type Provider interface {
	// Name is the registry name of the provider.
	Name() string
	// CheckCredentials fails with ErrCredentials when no usable credentials
	// are configured. It does not contact the service.
	CheckCredentials(ctx context.Context) error
	// CreateCollection creates a collection and returns its host identifier.
	CreateCollection(ctx context.Context, spec CollectionSpec) (string, error)
	// ValidateSchema checks an existing collection against the index.
	ValidateSchema(ctx context.Context, host string, dims int, metric distance.Metric) error
	// CountLive returns the number of vectors visible in the collection.
	CountLive(ctx context.Context, host string) (int64, error)
	// BeginBatch starts a bulk-insert preparation.
	BeginBatch() *Batch
	// BulkUpsert uploads a finished batch. Upserting an id twice is a no-op
	// apart from replacing its values.
	BulkUpsert(ctx context.Context, host string, b *Batch) error
	// PrepareQuery validates a query.
	PrepareQuery(filter Filter, vector []float32, topK int) (PreparedQuery, error)
	// QueryWithFetch runs the top-k query and reports which of ids exist.
	QueryWithFetch(ctx context.Context, host string, q PreparedQuery, ids []model.TupleID) (QueryResult, error)
}

// Config is passed to provider factories.
type Config struct {
	// APIKey authenticates against the service.
	APIKey string
	// Endpoint overrides the control plane URL.
	Endpoint string
	// VectorsPerRequest is the upsert chunk size.
	VectorsPerRequest int
	// RequestsPerBatch is the number of concurrent upsert requests.
	RequestsPerBatch int
	// RequestsPerSecond caps the request rate. Zero means unlimited.
	RequestsPerSecond float64
	// MaxPendingBytes bounds the request bodies in flight. Zero means
	// unlimited.
	MaxPendingBytes int64
	// Timeout bounds each HTTP request.
	Timeout time.Duration
	// HTTPClient replaces the default client.
	HTTPClient *http.Client
	// Logger receives provider diagnostics.
	Logger *slog.Logger
}

// WithDefaults returns cfg with zero fields filled in.
func (cfg Config) WithDefaults() Config {
	if cfg.VectorsPerRequest <= 0 {
		cfg.VectorsPerRequest = 100
	}
	if cfg.RequestsPerBatch <= 0 {
		cfg.RequestsPerBatch = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return cfg
}

// Controller returns the request budget described by cfg.
func (cfg Config) Controller() *resource.Controller {
	return resource.NewController(resource.Config{
		MaxInFlight:       int64(max(cfg.RequestsPerBatch, 1)),
		RequestsPerSecond: cfg.RequestsPerSecond,
		MaxPendingBytes:   cfg.MaxPendingBytes,
	})
}

// CheckVector rejects vectors of the wrong length and all-zero vectors.
// dims <= 0 skips the length check.
func CheckVector(v []float32, dims int) error {
	if dims > 0 && len(v) != dims {
		return fmt.Errorf("%w: got %d values, want %d", ErrDimensions, len(v), dims)
	}
	if distance.IsZero(v) {
		return ErrZeroVector
	}
	return nil
}
