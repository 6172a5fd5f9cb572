// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutate

import (
	"slices"

	"github.com/bradleyjkemp/fuzzcheck/random"
)

const InsertLiteral = "insert-literal"

// Bytes generates byte slices. When a dictionary of literals gathered from the
// target is available, they are spliced in at random positions.
type Bytes struct {
	*Slice[uint8]
	Dictionary [][]byte
}

func NewBytes(dictionary [][]byte) *Bytes {
	g := &Bytes{
		Slice:      NewSlice[uint8](NewInt[uint8]()),
		Dictionary: dictionary,
	}
	if len(dictionary) > 0 {
		g.Mutators = g.Mutators.With(Mutator[[]uint8]{Name: InsertLiteral, Weight: 20, Apply: g.insertLiteral})
	}
	return g
}

func (g *Bytes) insertLiteral(v *[]uint8, r *random.Rand) bool {
	lit := g.Dictionary[r.Intn(len(g.Dictionary))]
	if len(lit) == 0 || (g.MaxLen > 0 && len(*v)+len(lit) > g.MaxLen) {
		return false
	}
	*v = slices.Insert(*v, r.Intn(len(*v)+1), lit...)
	return true
}
