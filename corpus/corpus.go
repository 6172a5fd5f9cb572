// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package corpus keeps the set of inputs that together cover every feature
// seen so far, each at the lowest known complexity.
//
// Every feature remembers the complexity of the simplest input that triggered
// it. An input's claim on a feature is the square of that complexity divided by
// its own; the feature's importance is split among its holders in proportion to
// their claims, and an input that is not the simplest holder of any of its
// features is evicted. The resulting scores drive weighted selection.
//
// The corpus never does I/O. Operations that change membership return a
// SideEffect describing what the caller has to persist or delete.
package corpus

import (
	"fmt"
	"slices"

	"github.com/bradleyjkemp/fuzzcheck/coverage"
	"github.com/bradleyjkemp/fuzzcheck/random"
)

// Index addresses either a regular entry or the favored entry.
type Index struct {
	favored bool
	i       int
}

func Normal(i int) Index { return Index{i: i} }

// Favored addresses the pinned entry used while minimizing.
var Favored = Index{favored: true}

func (x Index) IsFavored() bool { return x.favored }

// Position returns the slot of a regular entry.
func (x Index) Position() (int, bool) { return x.i, !x.favored }

func (x Index) String() string {
	if x.favored {
		return "favored"
	}
	return fmt.Sprintf("normal(%d)", x.i)
}

type Entry[T any] struct {
	Unit       T
	Complexity float64
	// Features is sorted and free of duplicates.
	Features []coverage.Feature
	Score    float64

	MutationsExecuted  uint64
	MutationsSucceeded uint64
	Reduced            bool
}

// SideEffect lists units to persist and units whose persisted copy must go.
type SideEffect[T any] struct {
	Added   []T
	Removed []T
}

func (e SideEffect[T]) Empty() bool {
	return len(e.Added) == 0 && len(e.Removed) == 0
}

func (e *SideEffect[T]) Merge(o SideEffect[T]) {
	e.Added = append(e.Added, o.Added...)
	e.Removed = append(e.Removed, o.Removed...)
}

type owner struct {
	complexity float64
	index      int
}

type Options struct {
	// FavoredProbability is how often ChooseIndex picks the favored entry
	// when there is one.
	FavoredProbability float64
}

var DefaultOptions = Options{FavoredProbability: 0.25}

type Corpus[T any] struct {
	opts       Options
	entries    []*Entry[T]
	favored    *Entry[T]
	owners     map[coverage.Feature]owner
	cumulative []float64
}

func New[T any](opts Options) *Corpus[T] {
	return &Corpus[T]{
		opts:   opts,
		owners: make(map[coverage.Feature]owner),
	}
}

func (c *Corpus[T]) Len() int { return len(c.entries) }

// FeatureCount is the number of distinct features ever added.
func (c *Corpus[T]) FeatureCount() int { return len(c.owners) }

// TotalScore is the sum of all entry scores.
func (c *Corpus[T]) TotalScore() float64 {
	if len(c.cumulative) == 0 {
		return 0
	}
	return c.cumulative[len(c.cumulative)-1]
}

// CoverageScore is the summed importance of every feature the corpus holds.
func (c *Corpus[T]) CoverageScore() float64 {
	s := 0.0
	for f := range c.owners {
		s += f.Score()
	}
	return s
}

func (c *Corpus[T]) HasFavored() bool { return c.favored != nil }

// SetFavored pins u as the favored entry.
func (c *Corpus[T]) SetFavored(u T, complexity float64) {
	c.favored = &Entry[T]{Unit: u, Complexity: complexity}
}

// Entry returns the entry at idx. It panics on an index that does not exist.
func (c *Corpus[T]) Entry(idx Index) *Entry[T] {
	if idx.favored {
		if c.favored == nil {
			panic("corpus: no favored entry")
		}
		return c.favored
	}
	if idx.i < 0 || idx.i >= len(c.entries) {
		panic(fmt.Sprintf("corpus: index %d out of range [0,%d)", idx.i, len(c.entries)))
	}
	return c.entries[idx.i]
}

// Units returns the regular entries' units in index order.
func (c *Corpus[T]) Units() []T {
	us := make([]T, len(c.entries))
	for i, e := range c.entries {
		us[i] = e.Unit
	}
	return us
}

// Interesting reports whether a unit with these features and complexity would
// become the simplest known holder of at least one feature.
func (c *Corpus[T]) Interesting(features []coverage.Feature, complexity float64) bool {
	for _, f := range features {
		o, ok := c.owners[f]
		if !ok || complexity < o.complexity {
			return true
		}
	}
	return false
}

// AddEntry inserts u and rescores the corpus.
func (c *Corpus[T]) AddEntry(u T, complexity float64, features []coverage.Feature) SideEffect[T] {
	if !(complexity >= 0) {
		panic(fmt.Sprintf("corpus: invalid complexity %v", complexity))
	}
	e := &Entry[T]{
		Unit:       u,
		Complexity: complexity,
		Features:   coverage.SortUnique(slices.Clone(features)),
	}
	idx := len(c.entries)
	c.entries = append(c.entries, e)
	for _, f := range e.Features {
		if o, ok := c.owners[f]; !ok || complexity <= o.complexity {
			c.owners[f] = owner{complexity: complexity, index: idx}
		}
	}

	var fx SideEffect[T]
	added := true
	for _, ev := range c.recompute() {
		if ev == e {
			// Never persisted, nothing to delete.
			added = false
			continue
		}
		fx.Removed = append(fx.Removed, ev.Unit)
	}
	if added {
		fx.Added = append(fx.Added, u)
	}
	return fx
}

// RecomputeScores redistributes every feature's importance and evicts entries
// that are no longer the simplest holder of anything.
func (c *Corpus[T]) RecomputeScores() SideEffect[T] {
	var fx SideEffect[T]
	for _, ev := range c.recompute() {
		fx.Removed = append(fx.Removed, ev.Unit)
	}
	return fx
}

func (c *Corpus[T]) recompute() (evicted []*Entry[T]) {
	remap := make([]int, len(c.entries))
	kept := make([]*Entry[T], 0, len(c.entries))
	for i, e := range c.entries {
		remap[i] = -1
		survives := false
		for _, f := range e.Features {
			if c.ratio(f, e) == 1 {
				survives = true
			}
		}
		if survives {
			remap[i] = len(kept)
			kept = append(kept, e)
		} else {
			evicted = append(evicted, e)
		}
	}
	c.entries = kept
	if len(evicted) > 0 {
		for f, o := range c.owners {
			n := remap[o.index]
			if n < 0 {
				panic(fmt.Sprintf("corpus: simplest holder of %v was evicted", f))
			}
			c.owners[f] = owner{complexity: o.complexity, index: n}
		}
	}

	sums := make(map[coverage.Feature]float64, len(c.owners))
	for _, e := range c.entries {
		for _, f := range e.Features {
			sums[f] += c.ratio(f, e)
		}
	}
	c.cumulative = c.cumulative[:0]
	total := 0.0
	for _, e := range c.entries {
		score := 0.0
		for _, f := range e.Features {
			score += f.Score() / sums[f] * c.ratio(f, e)
		}
		e.Score = score
		total += score
		c.cumulative = append(c.cumulative, total)
	}
	return evicted
}

// ratio is e's claim on f, 1 for the simplest holders and below 1 otherwise.
func (c *Corpus[T]) ratio(f coverage.Feature, e *Entry[T]) float64 {
	o := c.owners[f]
	if o.complexity == e.Complexity {
		return 1
	}
	r := o.complexity / e.Complexity
	r *= r
	if !(r < 1) {
		panic(fmt.Sprintf("corpus: complexity ratio %v of feature %v exceeds 1", r, f))
	}
	return r
}

// ChooseIndex picks the entry to mutate next.
func (c *Corpus[T]) ChooseIndex(r *random.Rand) Index {
	if c.favored != nil && r.Chance(c.opts.FavoredProbability) {
		return Favored
	}
	if len(c.entries) == 0 {
		if c.favored != nil {
			return Favored
		}
		panic("corpus: choosing from an empty corpus without a favored entry")
	}
	return Normal(r.WeightedIndex(c.cumulative))
}

// Replace swaps the unit at idx for a strictly simpler one.
func (c *Corpus[T]) Replace(idx Index, u T, complexity float64) SideEffect[T] {
	e := c.Entry(idx)
	if !(complexity < e.Complexity) {
		panic(fmt.Sprintf("corpus: replacement complexity %v is not below %v", complexity, e.Complexity))
	}
	fx := SideEffect[T]{
		Added:   []T{u},
		Removed: []T{e.Unit},
	}
	e.Unit = u
	e.Complexity = complexity
	e.Reduced = true
	if i, ok := idx.Position(); ok {
		for _, f := range e.Features {
			if complexity <= c.owners[f].complexity {
				c.owners[f] = owner{complexity: complexity, index: i}
			}
		}
		for _, ev := range c.recompute() {
			fx.Removed = append(fx.Removed, ev.Unit)
		}
	}
	return fx
}
