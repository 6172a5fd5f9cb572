// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package mutate declares weighted sets of mutators and the built-in
// generators for integers, slices, strings, graphs and arbitrary structs.
package mutate

import (
	"fmt"
	"slices"

	"github.com/bradleyjkemp/fuzzcheck/random"
)

// Mutator is one named transformation. Apply either changes *v and returns
// true, or returns false and leaves *v untouched.
type Mutator[T any] struct {
	Name   string
	Weight float64
	Apply  func(v *T, r *random.Rand) bool
}

// Stat counts how often a mutator was picked and how often it applied.
type Stat struct {
	Name      string
	Executed  uint64
	Succeeded uint64
}

// Set is a weighted collection of mutators for one type.
type Set[T any] struct {
	mutators   []Mutator[T]
	cumulative []float64
	stats      []Stat
}

func NewSet[T any](ms ...Mutator[T]) *Set[T] {
	weights := make([]float64, len(ms))
	stats := make([]Stat, len(ms))
	for i, m := range ms {
		if m.Weight <= 0 {
			panic(fmt.Sprintf("mutate: mutator %q has non-positive weight %v", m.Name, m.Weight))
		}
		weights[i] = m.Weight
		stats[i].Name = m.Name
	}
	return &Set[T]{
		mutators:   ms,
		cumulative: random.Cumulative(weights),
		stats:      stats,
	}
}

// Mutate applies one randomly chosen mutator that succeeds. Mutators are
// sampled by weight, at most once per member of the set, so the call returns
// false when nothing applies instead of looping.
func (s *Set[T]) Mutate(v *T, r *random.Rand) bool {
	if len(s.mutators) == 0 {
		return false
	}
	for iter := 0; iter < len(s.mutators); iter++ {
		k := r.WeightedIndex(s.cumulative)
		s.stats[k].Executed++
		if s.mutators[k].Apply(v, r) {
			s.stats[k].Succeeded++
			return true
		}
	}
	return false
}

// Only returns a set restricted to the named mutators.
func (s *Set[T]) Only(names ...string) *Set[T] {
	var ms []Mutator[T]
	for _, m := range s.mutators {
		if slices.Contains(names, m.Name) {
			ms = append(ms, m)
		}
	}
	return NewSet(ms...)
}

// With returns a set extended with ms.
func (s *Set[T]) With(ms ...Mutator[T]) *Set[T] {
	return NewSet(append(slices.Clone(s.mutators), ms...)...)
}

func (s *Set[T]) Names() []string {
	names := make([]string, len(s.mutators))
	for i, m := range s.mutators {
		names[i] = m.Name
	}
	return names
}

func (s *Set[T]) Stats() []Stat {
	return slices.Clone(s.stats)
}

// Generator is everything the fuzzer needs to know about a unit type.
type Generator[T any] interface {
	// Base is the simplest value of the type.
	Base() T
	// New returns a random value.
	New(r *random.Rand) T
	// Mutate changes *v in place and reports whether it did.
	Mutate(v *T, r *random.Rand) bool
	Complexity(v T) float64
	// Clone returns a copy that shares no mutable state with v.
	Clone(v T) T
}
