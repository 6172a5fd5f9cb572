// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutate

import (
	"bytes"
	"reflect"

	fuzz "github.com/google/gofuzz"

	"github.com/bradleyjkemp/fuzzcheck/random"
	"github.com/bradleyjkemp/fuzzcheck/unit"
)

const (
	Refuzz      = "refuzz"
	RefuzzField = "refuzz-field"
)

// Reflect generates arbitrary values by walking their structure with gofuzz.
// It suits struct inputs that have no dedicated generator. Complexity is the
// size of the encoded value.
type Reflect[T any] struct {
	MaxElements int
	Mutators    *Set[T]
}

func NewReflect[T any]() *Reflect[T] {
	g := &Reflect[T]{MaxElements: 4}
	g.Mutators = NewSet(
		Mutator[T]{Name: Refuzz, Weight: 1, Apply: g.refuzz},
		Mutator[T]{Name: RefuzzField, Weight: 4, Apply: g.refuzzField},
	)
	return g
}

func (g *Reflect[T]) fuzzer(r *random.Rand) *fuzz.Fuzzer {
	return fuzz.NewWithSeed(int64(r.Uint64())).NilChance(0).NumElements(0, g.MaxElements)
}

func (g *Reflect[T]) Base() T {
	var v T
	return v
}

func (g *Reflect[T]) New(r *random.Rand) T {
	var v T
	g.fuzzer(r).Fuzz(&v)
	return v
}

func (g *Reflect[T]) Mutate(v *T, r *random.Rand) bool { return g.Mutators.Mutate(v, r) }

func (g *Reflect[T]) MutatorStats() []Stat { return g.Mutators.Stats() }

func (g *Reflect[T]) Complexity(v T) float64 {
	data, err := unit.Marshal(v)
	if err != nil {
		panic(err)
	}
	return float64(len(data))
}

func (g *Reflect[T]) Clone(v T) T {
	c, err := unit.Clone(v)
	if err != nil {
		panic(err)
	}
	return c
}

func (g *Reflect[T]) refuzz(v *T, r *random.Rand) bool {
	n := g.New(r)
	if equalEncoding(*v, n) {
		return false
	}
	*v = n
	return true
}

func (g *Reflect[T]) refuzzField(v *T, r *random.Rand) bool {
	rv := reflect.ValueOf(v).Elem()
	if rv.Kind() != reflect.Struct {
		return false
	}
	var fields []reflect.Value
	for i := 0; i < rv.NumField(); i++ {
		if f := rv.Field(i); f.CanSet() {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		return false
	}
	field := fields[r.Intn(len(fields))]
	old := reflect.New(field.Type()).Elem()
	old.Set(field)
	fresh := reflect.New(field.Type())
	g.fuzzer(r).Fuzz(fresh.Interface())
	if equalEncoding(old.Interface(), fresh.Elem().Interface()) {
		return false
	}
	field.Set(fresh.Elem())
	return true
}

func equalEncoding(a, b any) bool {
	da, errA := unit.Marshal(a)
	db, errB := unit.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(da, db)
}
