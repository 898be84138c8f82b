package testutil

import (
	"math"
	"math/rand"
	"slices"
	"sync"

	"github.com/hupe1980/vecbuf/distance"
	"github.com/hupe1980/vecbuf/model"
)

// RNG wraps math/rand with a fixed seed so test data is reproducible.
// It is safe for concurrent use.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset rewinds the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// FillUniform fills dst with random values in range [0, 1).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// Vector returns a fresh vector with values in [0, 1). The result is never
// the zero vector, which the buffer refuses to index.
func (r *RNG) Vector(dimensions int) []float32 {
	vec := make([]float32, dimensions)
	for {
		r.FillUniform(vec)
		if !distance.IsZero(vec) {
			return vec
		}
	}
}

// UniformVectors generates random vectors with values in range [0, 1).
// Uses a single backing array.
func (r *RNG) UniformVectors(num int, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dimensions)
	vectors := make([][]float32, num)

	for i := range num {
		vec := data[i*dimensions : (i+1)*dimensions]
		for j := range vec {
			vec[j] = r.rand.Float32()
		}
		vectors[i] = vec
	}

	return vectors
}

// UnitVectors generates L2-normalized random vectors on the hypersphere.
func (r *RNG) UnitVectors(num int, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([][]float32, num)
	for i := range num {
		vectors[i] = r.unitLocked(dimensions)
	}

	return vectors
}

func (r *RNG) unitLocked(dimensions int) []float32 {
	vec := make([]float32, dimensions)

	var norm float64
	for j := range vec {
		v := r.rand.NormFloat64()
		vec[j] = float32(v)
		norm += v * v
	}

	if norm == 0 {
		norm = 1
	}

	inv := float32(1.0 / math.Sqrt(norm))
	for j := range vec {
		vec[j] *= inv
	}

	return vec
}

// ClusteredVectors generates vectors clustered around random unit centroids.
func (r *RNG) ClusteredVectors(num, dim, clusters int, spread float32) [][]float32 {
	centroids := r.UnitVectors(clusters, dim)

	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([][]float32, num)
	for i := range num {
		centroid := centroids[i%clusters]
		vec := make([]float32, dim)
		for j := range dim {
			vec[j] = centroid[j] + float32(r.rand.NormFloat64())*spread
		}
		vectors[i] = vec
	}

	return vectors
}

// Metadata returns a small attribute map with a categorical "color" and a
// numeric "n" field, for filter tests.
func (r *RNG) Metadata() map[string]any {
	colors := [...]string{"red", "green", "blue"}

	r.mu.Lock()
	defer r.mu.Unlock()

	return map[string]any{
		"color": colors[r.rand.Intn(len(colors))],
		"n":     r.rand.Intn(10),
	}
}

// ExactTopK computes the ground-truth k nearest records to query by brute
// force. Zero vectors are skipped. Ties are broken by tuple id.
func ExactTopK(query []float32, records []model.Record, k int, fn distance.Func) []model.Candidate {
	out := make([]model.Candidate, 0, len(records))
	for _, rec := range records {
		if distance.IsZero(rec.Vector) {
			continue
		}
		out = append(out, model.Candidate{
			ID:       rec.ID,
			Distance: fn(query, rec.Vector),
			Origin:   model.OriginLocal,
		})
	}

	slices.SortFunc(out, func(a, b model.Candidate) int {
		if a.Distance != b.Distance {
			if a.Distance < b.Distance {
				return -1
			}
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})

	if len(out) > k {
		out = out[:k]
	}

	return out
}

// ComputeRecall computes recall@k of approximate against groundTruth.
func ComputeRecall(groundTruth, approximate []model.Candidate) float64 {
	if len(groundTruth) == 0 || len(approximate) == 0 {
		if len(groundTruth) == 0 && len(approximate) == 0 {
			return 1.0
		}
		return 0.0
	}

	k := min(len(approximate), len(groundTruth))

	truth := make(map[model.TupleID]struct{}, k)
	for i := range k {
		truth[groundTruth[i].ID] = struct{}{}
	}

	hits := 0
	for _, c := range approximate[:k] {
		if _, ok := truth[c.ID]; ok {
			hits++
		}
	}

	return float64(hits) / float64(k)
}
