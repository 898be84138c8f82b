// Package testutil provides testing utilities for vecbuf.
//
// This package is intended for use in tests only. It generates
// reproducible vectors, computes exact nearest neighbors and measures
// search recall against them.
//
//	rng := testutil.NewRNG(seed)
//	vec := rng.Vector(128)
//	truth := testutil.ExactTopK(query, records, k, distance.SquaredL2)
//	recall := testutil.ComputeRecall(truth, results)
package testutil
