// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bradleyjkemp/fuzzcheck/coverage"
	"github.com/bradleyjkemp/fuzzcheck/random"
)

func edge(n int) coverage.Feature { return coverage.Edge(uint32(n), 1) }

func edges(ns ...int) []coverage.Feature {
	fs := make([]coverage.Feature, len(ns))
	for i, n := range ns {
		fs[i] = edge(n)
	}
	return fs
}

// share is the part of f's importance credited to e.
func share[T any](c *Corpus[T], f coverage.Feature, e *Entry[T]) float64 {
	if !slices.Contains(e.Features, f) {
		return 0
	}
	sum := 0.0
	for _, other := range c.entries {
		if slices.Contains(other.Features, f) {
			sum += c.ratio(f, other)
		}
	}
	return f.Score() / sum * c.ratio(f, e)
}

func TestScoringScenario(t *testing.T) {
	const (
		A = iota
		B
		C
		D
		E
		F
		G
		H
	)
	c := New[string](DefaultOptions)
	c.AddEntry("u0", 10, edges(A, B, C, D))
	c.AddEntry("u1", 5, edges(E))
	c.AddEntry("u2", 5, edges(F))
	c.AddEntry("u3", 2, edges(G, H))
	fx := c.AddEntry("u4", 1, edges(G))
	assert.Equal(t, []string{"u4"}, fx.Added)
	assert.Empty(t, fx.Removed)
	require.Equal(t, 5, c.Len())

	score := func(i int) float64 { return c.Entry(Normal(i)).Score }
	assert.InDelta(t, 4.0, score(0), 1e-9)
	assert.Equal(t, score(1), score(2))

	// G is split 1 : (1/2)^2 between the simpler and the more complex holder.
	g := edge(G)
	assert.Greater(t, share(c, g, c.Entry(Normal(4))), share(c, g, c.Entry(Normal(3))))
	assert.InDelta(t, 0.8, share(c, g, c.Entry(Normal(4))), 1e-9)
	assert.InDelta(t, 0.2, share(c, g, c.Entry(Normal(3))), 1e-9)
	assert.InDelta(t, 1.2, score(3), 1e-9)
	assert.InDelta(t, 0.8, score(4), 1e-9)
	assert.InDelta(t, 8.0, c.TotalScore(), 1e-9)
}

func TestDominatedEntryIsEvicted(t *testing.T) {
	c := New[string](DefaultOptions)
	c.AddEntry("big", 5, edges(1))
	fx := c.AddEntry("small", 3, edges(1))
	assert.Equal(t, []string{"small"}, fx.Added)
	assert.Equal(t, []string{"big"}, fx.Removed)
	require.Equal(t, 1, c.Len())
	assert.Equal(t, "small", c.Entry(Normal(0)).Unit)
	assert.Equal(t, 1.0, c.Entry(Normal(0)).Score)
}

func TestAddingDominatedUnitHasNoEffect(t *testing.T) {
	c := New[string](DefaultOptions)
	c.AddEntry("small", 1, edges(1, 2))
	assert.False(t, c.Interesting(edges(1), 2))
	fx := c.AddEntry("big", 2, edges(1))
	assert.True(t, fx.Empty())
	assert.Equal(t, []string{"small"}, c.Units())
}

func TestTiedHoldersShareEqually(t *testing.T) {
	c := New[string](DefaultOptions)
	c.AddEntry("a", 3, edges(1))
	c.AddEntry("b", 3, edges(1, 2))
	require.Equal(t, 2, c.Len())
	f := edge(1)
	assert.Equal(t, 0.5, share(c, f, c.Entry(Normal(0))))
	assert.Equal(t, 0.5, share(c, f, c.Entry(Normal(1))))
	assert.Equal(t, 1.5, c.Entry(Normal(1)).Score)
}

func TestInteresting(t *testing.T) {
	c := New[int](DefaultOptions)
	assert.True(t, c.Interesting(edges(1), 10))
	c.AddEntry(1, 10, edges(1))
	assert.False(t, c.Interesting(edges(1), 10))
	assert.False(t, c.Interesting(nil, 1))
	assert.True(t, c.Interesting(edges(1), 9))
	assert.True(t, c.Interesting(edges(1, 2), 50))
}

// randomCorpus builds a corpus from a reproducible stream of additions over a
// small feature pool that mixes importances.
func randomCorpus(t *testing.T, seed uint64, steps int) *Corpus[int] {
	t.Helper()
	r := random.New(seed)
	pool := make([]coverage.Feature, 0, 30)
	for i := 0; i < 20; i++ {
		pool = append(pool, edge(i))
	}
	for i := 0; i < 10; i++ {
		pool = append(pool, coverage.Comparison(uint64(i), 0, uint64(i)))
	}
	c := New[int](DefaultOptions)
	for i := 0; i < steps; i++ {
		var fs []coverage.Feature
		for n := r.Between(1, 5); n > 0; n-- {
			fs = append(fs, pool[r.Intn(len(pool))])
		}
		complexity := float64(r.Between(1, 12))
		if r.Bool() {
			complexity += 0.5
		}
		c.AddEntry(i, complexity, fs)
	}
	return c
}

func TestScoreConservation(t *testing.T) {
	for seed := uint64(0); seed < 20; seed++ {
		c := randomCorpus(t, seed, 60)
		sum := 0.0
		for i := 0; i < c.Len(); i++ {
			sum += c.Entry(Normal(i)).Score
		}
		assert.InDelta(t, c.CoverageScore(), sum, 1e-9, "seed %d", seed)
		assert.InDelta(t, c.TotalScore(), sum, 1e-9, "seed %d", seed)
	}
}

func TestSharesAreMonotonicInComplexity(t *testing.T) {
	for seed := uint64(0); seed < 20; seed++ {
		c := randomCorpus(t, seed, 60)
		for f := range c.owners {
			for i := 0; i < c.Len(); i++ {
				a := c.Entry(Normal(i))
				for j := 0; j < c.Len(); j++ {
					b := c.Entry(Normal(j))
					sa, sb := share(c, f, a), share(c, f, b)
					if sa == 0 || sb == 0 {
						continue
					}
					switch {
					case a.Complexity < b.Complexity:
						assert.Greater(t, sa, sb)
					case a.Complexity == b.Complexity:
						assert.Equal(t, sa, sb)
					}
				}
			}
		}
	}
}

func TestEverySurvivorIsASimplestHolder(t *testing.T) {
	c := randomCorpus(t, 99, 200)
	for i := 0; i < c.Len(); i++ {
		e := c.Entry(Normal(i))
		best := false
		for _, f := range e.Features {
			if c.owners[f].complexity == e.Complexity {
				best = true
			}
		}
		assert.True(t, best, "entry %d", i)
		assert.Greater(t, e.Score, 0.0)
	}
	for f, o := range c.owners {
		assert.Contains(t, c.Entry(Normal(o.index)).Features, f)
		assert.Equal(t, o.complexity, c.Entry(Normal(o.index)).Complexity)
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	c := randomCorpus(t, 5, 80)
	before := make([]float64, c.Len())
	for i := range before {
		before[i] = c.Entry(Normal(i)).Score
	}
	first := c.RecomputeScores()
	second := c.RecomputeScores()
	assert.True(t, first.Empty())
	assert.Equal(t, first, second)
	after := make([]float64, c.Len())
	for i := range after {
		after[i] = c.Entry(Normal(i)).Score
	}
	assert.Equal(t, before, after)
}

func TestChooseIndexFollowsScores(t *testing.T) {
	c := New[int](DefaultOptions)
	next := 0
	for i := 1; i <= 4; i++ {
		var fs []coverage.Feature
		for j := 0; j < i; j++ {
			fs = append(fs, edge(next))
			next++
		}
		c.AddEntry(i, 1, fs)
	}
	for i := 0; i < 4; i++ {
		require.Equal(t, float64(i+1), c.Entry(Normal(i)).Score)
	}

	r := random.New(1234)
	counts := make([]int, 4)
	const draws = 10000
	for i := 0; i < draws; i++ {
		idx := c.ChooseIndex(r)
		pos, ok := idx.Position()
		require.True(t, ok)
		counts[pos]++
	}
	for i, n := range counts {
		assert.InDelta(t, float64(i+1)/10, float64(n)/draws, 0.02, "index %d", i)
	}
}

func TestChooseIndexFavored(t *testing.T) {
	c := New[int](DefaultOptions)
	assert.Panics(t, func() { c.ChooseIndex(random.New(1)) })

	c.SetFavored(42, 7)
	r := random.New(2)
	for i := 0; i < 100; i++ {
		assert.Equal(t, Favored, c.ChooseIndex(r))
	}
	assert.Equal(t, 42, c.Entry(Favored).Unit)

	c.AddEntry(1, 1, edges(1))
	favored := 0
	const draws = 10000
	for i := 0; i < draws; i++ {
		if c.ChooseIndex(r).IsFavored() {
			favored++
		}
	}
	assert.InDelta(t, 0.25, float64(favored)/draws, 0.02)
}

func TestFavoredIsNeverEvicted(t *testing.T) {
	c := New[int](Options{FavoredProbability: 0.5})
	c.SetFavored(0, 100)
	c.AddEntry(1, 5, edges(1))
	c.AddEntry(2, 1, edges(1))
	c.RecomputeScores()
	assert.True(t, c.HasFavored())
	assert.Equal(t, 0, c.Entry(Favored).Unit)
}

func TestReplace(t *testing.T) {
	c := New[string](DefaultOptions)
	c.AddEntry("wide", 10, edges(1, 2))
	c.AddEntry("narrow", 5, edges(2))
	require.Equal(t, 2, c.Len())

	assert.Panics(t, func() { c.Replace(Normal(0), "same", 10) })

	fx := c.Replace(Normal(0), "wide-reduced", 2)
	assert.Equal(t, []string{"wide-reduced"}, fx.Added)
	assert.ElementsMatch(t, []string{"wide", "narrow"}, fx.Removed)
	require.Equal(t, 1, c.Len())
	e := c.Entry(Normal(0))
	assert.True(t, e.Reduced)
	assert.Equal(t, 2.0, e.Complexity)
	assert.Equal(t, 2.0, e.Score)
}

func TestReplaceFavored(t *testing.T) {
	c := New[string](DefaultOptions)
	c.SetFavored("crash", 8)
	fx := c.Replace(Favored, "smaller crash", 3)
	assert.Equal(t, []string{"smaller crash"}, fx.Added)
	assert.Equal(t, []string{"crash"}, fx.Removed)
	assert.True(t, c.Entry(Favored).Reduced)
	assert.Panics(t, func() { c.Replace(Favored, "bigger", 4) })
}

func TestEntryPanicsOnBadIndex(t *testing.T) {
	c := New[int](DefaultOptions)
	assert.Panics(t, func() { c.Entry(Normal(0)) })
	assert.Panics(t, func() { c.Entry(Favored) })
	assert.Panics(t, func() { c.AddEntry(1, -1, edges(1)) })
}
