package distance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDot(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Simple", []float32{1, 2, 3}, []float32{4, 5, 6}, 32},
		{"Zero", []float32{0, 0, 0}, []float32{0, 0, 0}, 0},
		{"Mixed", []float32{1, -1, 2}, []float32{1, 1, -2}, -4},
		{"Empty", []float32{}, []float32{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Dot(tt.a, tt.b), 1e-5)
			assert.InDelta(t, -tt.expected, NegativeDot(tt.a, tt.b), 1e-5)
		})
	}
}

func TestSquaredL2(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Simple", []float32{1, 2, 3}, []float32{4, 5, 6}, 27},
		{"Identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"Mixed", []float32{1, -1}, []float32{-1, 1}, 8},
		{"Empty", []float32{}, []float32{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, SquaredL2(tt.a, tt.b), 1e-5)
		})
	}
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, CosineDistance([]float32{1, 0}, []float32{2, 0}), 1e-6)
	assert.InDelta(t, 1, CosineDistance([]float32{1, 0}, []float32{0, 3}), 1e-6)
	assert.InDelta(t, 2, CosineDistance([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.InDelta(t, 1, CosineDistance([]float32{0, 0}, []float32{1, 0}), 1e-6)
}

func TestIsZero(t *testing.T) {
	assert.True(t, IsZero([]float32{0, 0}))
	assert.True(t, IsZero(nil))
	assert.False(t, IsZero([]float32{0, 1e-9}))
}

func TestParseMetric(t *testing.T) {
	for in, want := range map[string]Metric{
		"l2":         MetricL2,
		"Euclidean":  MetricL2,
		"cosine":     MetricCosine,
		"dotproduct": MetricDot,
		" ip ":       MetricDot,
	} {
		got, err := ParseMetric(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMetric("manhattan")
	require.Error(t, err)
}

func TestMetricText(t *testing.T) {
	text, err := MetricCosine.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "cosine", string(text))

	var m Metric
	require.NoError(t, m.UnmarshalText([]byte("dot")))
	assert.Equal(t, MetricDot, m)

	_, err = Metric(42).MarshalText()
	require.Error(t, err)
}

func TestProvider(t *testing.T) {
	a := []float32{1, 2}
	b := []float32{2, 4}

	fn, err := Provider(MetricL2)
	require.NoError(t, err)
	assert.InDelta(t, 5, fn(a, b), 1e-5)

	fn, err = Provider(MetricCosine)
	require.NoError(t, err)
	assert.InDelta(t, 0, fn(a, b), 1e-5)

	fn, err = Provider(MetricDot)
	require.NoError(t, err)
	assert.InDelta(t, -10, fn(a, b), 1e-5)

	_, err = Provider(Metric(99))
	require.Error(t, err)
}
