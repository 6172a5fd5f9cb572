// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutate

import (
	"slices"
	"unicode/utf8"

	"github.com/bradleyjkemp/fuzzcheck/random"
)

const (
	AppendRune  = "append-rune"
	InsertRune  = "insert-rune"
	ReplaceRune = "replace-rune"
	RemoveRune  = "remove-rune"
)

// String generates valid UTF-8 strings, rune by rune.
type String struct {
	// MaxLen caps the number of runes. Zero means unbounded.
	MaxLen   int
	Mutators *Set[string]
}

func NewString() *String {
	g := &String{}
	g.Mutators = NewSet(
		Mutator[string]{Name: AppendRune, Weight: 30, Apply: g.appendRune},
		Mutator[string]{Name: InsertRune, Weight: 20, Apply: g.insertRune},
		Mutator[string]{Name: ReplaceRune, Weight: 30, Apply: g.replaceRune},
		Mutator[string]{Name: RemoveRune, Weight: 20, Apply: g.removeRune},
	)
	return g
}

func (g *String) Base() string { return "" }

func (g *String) New(r *random.Rand) string {
	n := r.Intn(r.Intn(16) + 1)
	if g.MaxLen > 0 && n > g.MaxLen {
		n = g.MaxLen
	}
	rs := make([]rune, n)
	for i := range rs {
		rs[i] = Rune(r)
	}
	return string(rs)
}

func (g *String) Mutate(v *string, r *random.Rand) bool { return g.Mutators.Mutate(v, r) }

func (g *String) Complexity(v string) float64 {
	return 1 + float64(utf8.RuneCountInString(v))
}

func (g *String) Clone(v string) string { return v }

func (g *String) MutatorStats() []Stat { return g.Mutators.Stats() }

func (g *String) full(v string) bool {
	return g.MaxLen > 0 && utf8.RuneCountInString(v) >= g.MaxLen
}

func (g *String) appendRune(v *string, r *random.Rand) bool {
	if g.full(*v) {
		return false
	}
	*v += string(Rune(r))
	return true
}

func (g *String) insertRune(v *string, r *random.Rand) bool {
	if g.full(*v) {
		return false
	}
	rs := []rune(*v)
	*v = string(slices.Insert(rs, r.Intn(len(rs)+1), Rune(r)))
	return true
}

func (g *String) replaceRune(v *string, r *random.Rand) bool {
	rs := []rune(*v)
	if len(rs) == 0 {
		return false
	}
	i := r.Intn(len(rs))
	c := Rune(r)
	if rs[i] == c {
		return false
	}
	rs[i] = c
	*v = string(rs)
	return true
}

func (g *String) removeRune(v *string, r *random.Rand) bool {
	rs := []rune(*v)
	if len(rs) == 0 {
		return false
	}
	i := r.Intn(len(rs))
	*v = string(slices.Delete(rs, i, i+1))
	return true
}

// Rune draws a code point, mostly printable ASCII. Surrogates are never returned.
func Rune(r *random.Rand) rune {
	switch p := r.Float64(); {
	case p < 0.90:
		return rune(r.Between(0x20, 0x7e))
	case p < 0.95:
		return rune(r.Intn(0x80))
	case p < 0.99:
		c := rune(r.Between(0x80, 0xffff-0x800))
		if c >= 0xd800 {
			c += 0x800
		}
		return c
	default:
		return rune(r.Between(0x10000, utf8.MaxRune))
	}
}
