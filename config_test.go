package vecbuf

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	t.Setenv("VECBUF_TEST_KEY", "s3cr3t")
	path := filepath.Join(t.TempDir(), "vecbuf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: docs
dimensions: 768
metric: cosine
batch_size: 250
build_wait_timeout: 2m
remote:
  provider: pinecone
  api_key: ${VECBUF_TEST_KEY}
  max_pending_bytes: 1048576
  spec:
    cloud: gcp
    region: us-central1
storage:
  kind: badger
  dir: /var/lib/vecbuf
base:
  kind: postgres
  dsn: postgres://localhost/app
  table: items
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "docs", cfg.Name)
	assert.Equal(t, 768, cfg.Dimensions)
	assert.Equal(t, 250, cfg.BatchSize)
	assert.Equal(t, 500, cfg.TopK, "defaults survive")
	assert.Equal(t, 2*time.Minute, cfg.BuildWaitTimeout)
	assert.Equal(t, "s3cr3t", cfg.Remote.APIKey)
	assert.Equal(t, "gcp", cfg.Remote.Spec["cloud"])
	assert.Equal(t, 10, cfg.Remote.RequestsPerBatch)
	assert.Equal(t, int64(1<<20), cfg.providerConfig(NoopLogger()).MaxPendingBytes)
	require.NoError(t, cfg.validateCreate())
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.Name = "docs"
		cfg.Dimensions = 4
		cfg.Remote.Provider = "memory"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing name", func(c *Config) { c.Name = "" }, "name"},
		{"batch size zero", func(c *Config) { c.BatchSize = 0 }, "batch_size"},
		{"batch size too large", func(c *Config) { c.BatchSize = 10001 }, "batch_size"},
		{"top k", func(c *Config) { c.TopK = 0 }, "top_k"},
		{"max buffer scan", func(c *Config) { c.MaxBufferScan = 100001 }, "max_buffer_scan"},
		{"liveness", func(c *Config) { c.MaxFetchedForLiveness = 101 }, "max_fetched_for_liveness"},
		{"requests per batch", func(c *Config) { c.Remote.RequestsPerBatch = 101 }, "remote.requests_per_batch"},
		{"vectors per request", func(c *Config) { c.Remote.VectorsPerRequest = 0 }, "remote.vectors_per_request"},
		{"provider", func(c *Config) { c.Remote.Provider = "" }, "remote.provider"},
		{"metric", func(c *Config) { c.Metric = "hamming" }, "metric"},
		{"long host", func(c *Config) { c.Remote.Host = string(make([]byte, 101)) }, "remote.host"},
		{"storage kind", func(c *Config) { c.Storage.Kind = "tape" }, "storage.kind"},
		{"badger without dir", func(c *Config) { c.Storage.Kind = "badger" }, "storage.dir"},
		{"s3 without bucket", func(c *Config) { c.Storage.Kind = "s3" }, "storage.bucket"},
		{"postgres without dsn", func(c *Config) { c.Base = BaseConfig{Kind: "postgres", Table: "t"} }, "base.dsn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalidConfig)
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestConfig_ValidateCreate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Name = "docs"
	cfg.Dimensions = 4
	cfg.Remote.Provider = "memory"
	require.ErrorIs(t, cfg.validateCreate(), ErrInvalidConfig)

	cfg.Remote.Host = "memory://docs"
	require.NoError(t, cfg.validateCreate())

	cfg.Remote.Spec = map[string]string{}
	require.ErrorIs(t, cfg.validateCreate(), ErrInvalidConfig)
}

func TestParseConfig_Invalid(t *testing.T) {
	_, err := ParseConfig([]byte("name: [unterminated"))
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ParseConfig([]byte("name: x\nremote: {provider: memory}\nbatch_size: -1\n"))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTranslateError(t *testing.T) {
	assert.Nil(t, translateError("op", "p", nil))

	plain := errors.New("boom")
	assert.Same(t, plain, translateError("op", "p", plain))

	ce := configError("x", "bad", nil)
	assert.Equal(t, ce, translateError("op", "p", ce))
}
