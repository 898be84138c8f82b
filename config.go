package vecbuf

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/vecbuf/distance"
	"github.com/hupe1980/vecbuf/remote"
)

// Config describes one index. It is passed explicitly to Create and Open and
// can be loaded from YAML with LoadConfig.
type Config struct {
	// Name is used to derive the remote collection name.
	Name string `yaml:"name" validate:"required,max=64"`
	// Dimensions of every vector. Open accepts zero and takes the stored value.
	Dimensions int `yaml:"dimensions" validate:"min=0,max=20000"`
	// Metric is l2, cosine or dot.
	Metric string `yaml:"metric"`
	// BatchSize is the number of tuples between checkpoints.
	BatchSize int `yaml:"batch_size" validate:"min=1,max=10000"`
	// TopK is the default number of remote results per search.
	TopK int `yaml:"top_k" validate:"min=1,max=10000"`
	// MaxBufferScan caps the number of buffered tuples scored per search.
	MaxBufferScan int `yaml:"max_buffer_scan" validate:"min=0,max=100000"`
	// MaxFetchedForLiveness caps the checkpoints probed per search.
	MaxFetchedForLiveness int `yaml:"max_fetched_for_liveness" validate:"min=0,max=100"`
	// SkipBuild skips uploading existing base records on Create and allows
	// attaching to a non-empty collection.
	SkipBuild bool `yaml:"skip_build"`
	// BuildWaitTimeout bounds how long Create waits for the initial upload to
	// become visible. Zero does not wait.
	BuildWaitTimeout time.Duration `yaml:"build_wait_timeout"`

	Remote  RemoteConfig  `yaml:"remote"`
	Storage StorageConfig `yaml:"storage"`
	Base    BaseConfig    `yaml:"base"`
}

// RemoteConfig selects and configures the remote ANN provider.
type RemoteConfig struct {
	Provider string `yaml:"provider" validate:"required"`
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
	// Host attaches to an existing collection.
	Host string `yaml:"host" validate:"omitempty,max=100"`
	// Spec creates a new collection with provider-specific parameters.
	Spec map[string]string `yaml:"spec"`

	RequestsPerBatch  int           `yaml:"requests_per_batch" validate:"min=1,max=100"`
	VectorsPerRequest int           `yaml:"vectors_per_request" validate:"min=1,max=1000"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"min=0"`
	MaxPendingBytes   int64         `yaml:"max_pending_bytes" validate:"min=0"`
	Timeout           time.Duration `yaml:"timeout"`
}

// StorageConfig selects the durable page store used by the command line
// tool. Library callers pass a pagestore.Store directly.
type StorageConfig struct {
	// Kind is memory, badger, local, s3 or minio.
	Kind        string `yaml:"kind" validate:"omitempty,oneof=memory badger local s3 minio"`
	Dir         string `yaml:"dir" validate:"required_if=Kind badger,required_if=Kind local"`
	PageSize    int    `yaml:"page_size" validate:"omitempty,min=256,max=65536"`
	Compression string `yaml:"compression" validate:"omitempty,oneof=none lz4 zstd"`

	Bucket    string `yaml:"bucket" validate:"required_if=Kind s3,required_if=Kind minio"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	TLS       bool   `yaml:"tls"`
	// DynamoTable enables conditional commits through DynamoDB for s3.
	DynamoTable string `yaml:"dynamo_table"`
}

// BaseConfig selects the base record store used by the command line tool.
type BaseConfig struct {
	// Kind is memory or postgres.
	Kind           string `yaml:"kind" validate:"omitempty,oneof=memory postgres"`
	DSN            string `yaml:"dsn" validate:"required_if=Kind postgres"`
	Table          string `yaml:"table" validate:"required_if=Kind postgres"`
	VectorColumn   string `yaml:"vector_column"`
	MetadataColumn string `yaml:"metadata_column"`
}

// DefaultConfig returns a configuration with every limit at its default.
func DefaultConfig() Config {
	return Config{
		Metric:                distance.MetricL2.String(),
		BatchSize:             1000,
		TopK:                  500,
		MaxBufferScan:         10000,
		MaxFetchedForLiveness: 10,
		Remote: RemoteConfig{
			RequestsPerBatch:  10,
			VectorsPerRequest: 100,
			Timeout:           30 * time.Second,
		},
		Storage: StorageConfig{Kind: "memory"},
		Base:    BaseConfig{Kind: "memory"},
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Environment variables
// written as ${NAME} are expanded first, so secrets need not live in the
// file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig([]byte(os.ExpandEnv(string(data))))
}

// ParseConfig decodes YAML over DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, configError("", "parse yaml", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = sync.OnceValue(func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
})

// Validate checks every field range. Errors match ErrInvalidConfig.
func (c Config) Validate() error {
	if err := validate().Struct(c); err != nil {
		return formatValidationError(err)
	}
	if _, err := c.metric(); err != nil {
		return configError("metric", err.Error(), err)
	}
	if c.BuildWaitTimeout < 0 {
		return configError("build_wait_timeout", "must not be negative", nil)
	}
	if c.Remote.Host != "" {
		if err := remote.ValidateHost(c.Remote.Host); err != nil {
			return configError("remote.host", err.Error(), err)
		}
	}
	return nil
}

// validateCreate adds the checks that only apply to a new index.
func (c Config) validateCreate() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Dimensions < 1 {
		return configError("dimensions", "must be at least 1", nil)
	}
	if (c.Remote.Host == "") == (c.Remote.Spec == nil) {
		return configError("remote", "exactly one of host and spec must be set", nil)
	}
	return nil
}

func (c Config) metric() (distance.Metric, error) {
	if c.Metric == "" {
		return distance.MetricL2, nil
	}
	return distance.ParseMetric(c.Metric)
}

func (c Config) providerConfig(logger *Logger) remote.Config {
	return remote.Config{
		APIKey:            c.Remote.APIKey,
		Endpoint:          c.Remote.Endpoint,
		VectorsPerRequest: c.Remote.VectorsPerRequest,
		RequestsPerBatch:  c.Remote.RequestsPerBatch,
		RequestsPerSecond: c.Remote.RequestsPerSecond,
		MaxPendingBytes:   c.Remote.MaxPendingBytes,
		Timeout:           c.Remote.Timeout,
		Logger:            logger.WithComponent("remote"),
	}
}

func formatValidationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return configError("", err.Error(), err)
	}
	e := errs[0]
	field := strings.TrimPrefix(e.Namespace(), "Config.")
	switch e.Tag() {
	case "required", "required_if":
		return configError(field, "field is required", err)
	case "min":
		return configError(field, "must be at least "+e.Param(), err)
	case "max":
		return configError(field, "must not exceed "+e.Param(), err)
	case "oneof":
		return configError(field, fmt.Sprintf("must be one of [%s]", e.Param()), err)
	default:
		return configError(field, fmt.Sprintf("validation failed (%s)", e.Tag()), err)
	}
}
