// Package distance provides the vector distance primitives used to score the
// local buffer tail and to rescore remote candidates.
//
// All functions return a distance where lower means closer, so results from
// different metrics can be merged with a single ascending ordering.
//
// # Supported Metrics
//
//   - MetricL2: Squared Euclidean distance (default)
//   - MetricCosine: 1 - cosine similarity
//   - MetricDot: Negated inner product
//
// # Usage
//
//	fn, err := distance.Provider(distance.MetricCosine)
//	d := fn(query, vec)
package distance
