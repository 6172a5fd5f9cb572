// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutate

import (
	"slices"

	"github.com/bradleyjkemp/fuzzcheck/random"
)

const (
	AppendNew      = "append-new"
	AppendRecycled = "append-recycled"
	InsertNew      = "insert-new"
	InsertRecycled = "insert-recycled"
	MutateElement  = "mutate-element"
	Swap           = "swap"
	RemoveLast     = "remove-last"
	RemoveRandom   = "remove-random"
)

// Slice generates slices whose elements come from Elem.
type Slice[T any] struct {
	Elem Generator[T]
	// MaxLen caps growth. Zero means unbounded.
	MaxLen   int
	Mutators *Set[[]T]
}

func NewSlice[T any](elem Generator[T]) *Slice[T] {
	g := &Slice[T]{Elem: elem}
	g.Mutators = NewSet(
		Mutator[[]T]{Name: AppendNew, Weight: 30, Apply: g.appendNew},
		Mutator[[]T]{Name: AppendRecycled, Weight: 10, Apply: g.appendRecycled},
		Mutator[[]T]{Name: InsertNew, Weight: 20, Apply: g.insertNew},
		Mutator[[]T]{Name: InsertRecycled, Weight: 10, Apply: g.insertRecycled},
		Mutator[[]T]{Name: MutateElement, Weight: 40, Apply: g.mutateElement},
		Mutator[[]T]{Name: Swap, Weight: 10, Apply: g.swap},
		Mutator[[]T]{Name: RemoveLast, Weight: 10, Apply: g.removeLast},
		Mutator[[]T]{Name: RemoveRandom, Weight: 10, Apply: g.removeRandom},
	)
	return g
}

func (g *Slice[T]) Base() []T { return []T{} }

func (g *Slice[T]) New(r *random.Rand) []T {
	n := r.Intn(r.Intn(16) + 1)
	if g.MaxLen > 0 && n > g.MaxLen {
		n = g.MaxLen
	}
	v := make([]T, n)
	for i := range v {
		v[i] = g.Elem.New(r)
	}
	return v
}

func (g *Slice[T]) Mutate(v *[]T, r *random.Rand) bool { return g.Mutators.Mutate(v, r) }

func (g *Slice[T]) MutatorStats() []Stat { return g.Mutators.Stats() }

func (g *Slice[T]) Complexity(v []T) float64 {
	c := 1.0
	for _, e := range v {
		c += g.Elem.Complexity(e)
	}
	return c
}

func (g *Slice[T]) Clone(v []T) []T {
	if v == nil {
		return nil
	}
	out := make([]T, len(v))
	for i, e := range v {
		out[i] = g.Elem.Clone(e)
	}
	return out
}

func (g *Slice[T]) full(v []T) bool {
	return g.MaxLen > 0 && len(v) >= g.MaxLen
}

func (g *Slice[T]) appendNew(v *[]T, r *random.Rand) bool {
	if g.full(*v) {
		return false
	}
	*v = append(*v, g.Elem.New(r))
	return true
}

func (g *Slice[T]) appendRecycled(v *[]T, r *random.Rand) bool {
	if len(*v) == 0 || g.full(*v) {
		return false
	}
	*v = append(*v, g.Elem.Clone((*v)[r.Intn(len(*v))]))
	return true
}

func (g *Slice[T]) insertNew(v *[]T, r *random.Rand) bool {
	if g.full(*v) {
		return false
	}
	*v = slices.Insert(*v, r.Intn(len(*v)+1), g.Elem.New(r))
	return true
}

func (g *Slice[T]) insertRecycled(v *[]T, r *random.Rand) bool {
	if len(*v) == 0 || g.full(*v) {
		return false
	}
	e := g.Elem.Clone((*v)[r.Intn(len(*v))])
	*v = slices.Insert(*v, r.Intn(len(*v)+1), e)
	return true
}

func (g *Slice[T]) mutateElement(v *[]T, r *random.Rand) bool {
	if len(*v) == 0 {
		return false
	}
	return g.Elem.Mutate(&(*v)[r.Intn(len(*v))], r)
}

func (g *Slice[T]) swap(v *[]T, r *random.Rand) bool {
	n := len(*v)
	if n < 2 {
		return false
	}
	i := r.Intn(n)
	j := r.Intn(n - 1)
	if j >= i {
		j++
	}
	(*v)[i], (*v)[j] = (*v)[j], (*v)[i]
	return true
}

func (g *Slice[T]) removeLast(v *[]T, _ *random.Rand) bool {
	if len(*v) == 0 {
		return false
	}
	*v = (*v)[:len(*v)-1]
	return true
}

func (g *Slice[T]) removeRandom(v *[]T, r *random.Rand) bool {
	if len(*v) == 0 {
		return false
	}
	i := r.Intn(len(*v))
	*v = slices.Delete(*v, i, i+1)
	return true
}
