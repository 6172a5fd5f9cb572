// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutate

import (
	"unsafe"

	"github.com/bradleyjkemp/fuzzcheck/random"
)

type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

const (
	Nudge       = "nudge"
	RandomValue = "random"
	Special     = "special"
	Flip        = "flip"
)

// Int generates integers of type T.
type Int[T Integer] struct {
	Mutators *Set[T]
}

func NewInt[T Integer]() *Int[T] {
	return &Int[T]{
		Mutators: NewSet(
			Mutator[T]{Name: Nudge, Weight: 10, Apply: nudge[T]},
			Mutator[T]{Name: RandomValue, Weight: 1, Apply: randomValue[T]},
			Mutator[T]{Name: Special, Weight: 2, Apply: special[T]},
		),
	}
}

func (g *Int[T]) Base() T { return 0 }

func (g *Int[T]) New(r *random.Rand) T {
	if r.Bool() {
		return T(r.Intn(16))
	}
	return T(r.Uint64())
}

func (g *Int[T]) Mutate(v *T, r *random.Rand) bool { return g.Mutators.Mutate(v, r) }

// Complexity is the width of T in bytes.
func (g *Int[T]) Complexity(v T) float64 { return float64(unsafe.Sizeof(v)) }

func (g *Int[T]) Clone(v T) T { return v }

func (g *Int[T]) MutatorStats() []Stat { return g.Mutators.Stats() }

func nudge[T Integer](v *T, r *random.Rand) bool {
	d := T(r.Between(1, 10))
	if r.Bool() {
		*v += d
	} else {
		*v -= d
	}
	return true
}

func randomValue[T Integer](v *T, r *random.Rand) bool {
	n := T(r.Uint64())
	if n == *v {
		return false
	}
	*v = n
	return true
}

func special[T Integer](v *T, r *random.Rand) bool {
	lo, hi := limits[T]()
	values := []T{0, 1, hi, lo, hi - 1, lo + 1}
	if lo < 0 {
		values = append(values, lo/2, hi/2, lo+hi)
	}
	n := values[r.Intn(len(values))]
	if n == *v {
		return false
	}
	*v = n
	return true
}

func limits[T Integer]() (lo, hi T) {
	var zero T
	width := unsafe.Sizeof(zero) * 8
	if zero-1 < zero {
		hi = T(^uint64(0) >> (65 - width))
		return -hi - 1, hi
	}
	return 0, ^T(0)
}

// Bool generates booleans.
type Bool struct{}

func (Bool) Base() bool              { return false }
func (Bool) New(r *random.Rand) bool { return r.Bool() }
func (Bool) Complexity(bool) float64 { return 1 }
func (Bool) Clone(v bool) bool       { return v }
func (Bool) Mutate(v *bool, _ *random.Rand) bool {
	*v = !*v
	return true
}
