// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package random is the deterministic source of randomness shared by the
// mutators and the corpus. Two Rands created with the same seed produce the
// same stream.
package random

import (
	"math/rand/v2"
	"sort"
)

type Rand struct {
	seed uint64
	r    *rand.Rand
}

func New(seed uint64) *Rand {
	return &Rand{
		seed: seed,
		r:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Seed returns the seed the generator was created with.
func (r *Rand) Seed() uint64 { return r.seed }

func (r *Rand) Uint64() uint64 { return r.r.Uint64() }

// Intn returns a value in [0, n). It panics if n <= 0.
func (r *Rand) Intn(n int) int { return r.r.IntN(n) }

// Between returns a value in [lo, hi].
func (r *Rand) Between(lo, hi int) int { return lo + r.r.IntN(hi-lo+1) }

func (r *Rand) Float64() float64 { return r.r.Float64() }

func (r *Rand) Bool() bool { return r.r.Uint64()&1 == 1 }

// Chance reports true with probability p.
func (r *Rand) Chance(p float64) bool { return r.r.Float64() < p }

// Shuffle permutes n elements with Fisher-Yates.
func (r *Rand) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := r.r.IntN(i + 1)
		swap(i, j)
	}
}

// WeightedIndex picks an index with probability proportional to its weight,
// given the running sums of the weights. Among equal running sums the lowest
// index wins, so zero-weight entries are never picked. It panics if the total
// weight is not positive.
func (r *Rand) WeightedIndex(cumulative []float64) int {
	if len(cumulative) == 0 || cumulative[len(cumulative)-1] <= 0 {
		panic("random: weighted pick with no positive weight")
	}
	return pick(cumulative, r.r.Float64()*cumulative[len(cumulative)-1])
}

// pick finds the entry whose weight covers x. Rounding can make x reach the
// total, which falls to the last entry with positive weight.
func pick(cumulative []float64, x float64) int {
	total := cumulative[len(cumulative)-1]
	if x >= total {
		return sort.SearchFloat64s(cumulative, total)
	}
	return sort.Search(len(cumulative), func(i int) bool {
		return cumulative[i] > x
	})
}

// Weighted is WeightedIndex over raw weights.
func (r *Rand) Weighted(weights []float64) int {
	return r.WeightedIndex(Cumulative(weights))
}

// Cumulative returns the running sums of weights.
func Cumulative(weights []float64) []float64 {
	sums := make([]float64, len(weights))
	total := 0.0
	for i, w := range weights {
		total += w
		sums[i] = total
	}
	return sums
}
