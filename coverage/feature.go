// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package coverage

import (
	"fmt"
	"math/bits"
	"slices"
	"strconv"
	"strings"
)

// Kind is the family a Feature belongs to. It is the primary sort key of a Feature.
type Kind uint8

const (
	KindEdge Kind = iota
	KindIndirect
	KindComparison
)

var kindNames = [...]string{
	KindEdge:       "edge",
	KindIndirect:   "indirect",
	KindComparison: "cmp",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Feature identifies one coverage signal observed during a run.
//
// For edges PC is the guard id and Arg the bucketed hit count; for indirect calls
// PC and Arg are the caller and callee; for comparisons PC is the comparison site
// and Arg the bucketed distance between the operands.
type Feature struct {
	Kind Kind
	PC   uint64
	Arg  uint64
}

func Edge(guard uint32, count uint16) Feature {
	return Feature{Kind: KindEdge, PC: uint64(guard), Arg: uint64(bucket(count))}
}

func Indirect(caller, callee uintptr) Feature {
	return Feature{Kind: KindIndirect, PC: uint64(caller), Arg: uint64(callee)}
}

func Comparison(site, a, b uint64) Feature {
	return Feature{Kind: KindComparison, PC: site, Arg: uint64(distance(a, b))}
}

// Score is the fixed importance of the feature. It is always positive.
func (f Feature) Score() float64 {
	switch f.Kind {
	case KindEdge, KindIndirect:
		return 1
	case KindComparison:
		return 0.1
	}
	panic(fmt.Sprintf("coverage: unknown feature kind %d", f.Kind))
}

// Compare orders features by kind, then PC, then Arg.
func (f Feature) Compare(o Feature) int {
	switch {
	case f.Kind != o.Kind:
		if f.Kind < o.Kind {
			return -1
		}
		return 1
	case f.PC != o.PC:
		if f.PC < o.PC {
			return -1
		}
		return 1
	case f.Arg != o.Arg:
		if f.Arg < o.Arg {
			return -1
		}
		return 1
	}
	return 0
}

func (f Feature) Less(o Feature) bool { return f.Compare(o) < 0 }

func (f Feature) String() string {
	return fmt.Sprintf("%v:%d:%d", f.Kind, f.PC, f.Arg)
}

func (f Feature) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Feature) UnmarshalText(text []byte) error {
	parts := strings.Split(string(text), ":")
	if len(parts) != 3 {
		return fmt.Errorf("malformed feature %q", text)
	}
	kind := -1
	for k, name := range kindNames {
		if name == parts[0] {
			kind = k
		}
	}
	if kind < 0 {
		return fmt.Errorf("malformed feature %q: unknown kind", text)
	}
	pc, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return fmt.Errorf("malformed feature %q: %w", text, err)
	}
	arg, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return fmt.Errorf("malformed feature %q: %w", text, err)
	}
	*f = Feature{Kind: Kind(kind), PC: pc, Arg: arg}
	return nil
}

// SortUnique sorts fs in place and drops duplicates.
func SortUnique(fs []Feature) []Feature {
	slices.SortFunc(fs, Feature.Compare)
	return slices.Compact(fs)
}

// Quantize the counters. Otherwise we get too inflated corpus.
func bucket(x uint16) uint8 {
	switch {
	case x <= 3:
		return uint8(x)
	case x <= 7:
		return 4
	case x <= 15:
		return 5
	case x <= 31:
		return 6
	case x <= 127:
		return 7
	}
	return 8
}

func distance(a, b uint64) uint8 {
	return uint8(bits.OnesCount64(a ^ b))
}
