// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package coverage

import (
	"math"
	"slices"
	"sync"
)

// Sensor reports the features triggered by the most recent run.
type Sensor interface {
	// Reset clears per-run state. Cumulative totals survive.
	Reset()
	// IterateFeatures calls visit once per unique feature seen since the last
	// Reset, in an order that only depends on which features were seen.
	IterateFeatures(visit func(Feature))
}

// Collect drains s into a sorted slice.
func Collect(s Sensor) []Feature {
	var fs []Feature
	s.IterateFeatures(func(f Feature) {
		fs = append(fs, f)
	})
	return fs
}

// maxRecords bounds the indirect-call and comparison tables of a single run.
const maxRecords = 1 << 16

// Arena is the counter storage for one process. It implements Sensor.
//
// A run abandoned after a timeout may keep calling the hooks from its own
// goroutine, so all state is guarded by mu and nothing is recorded once
// SetRecording(false) has returned.
type Arena struct {
	mu        sync.Mutex
	recording bool

	counters []uint16
	touched  []uint32
	indirect []Feature
	cmps     []Feature

	seen  []bool
	edges int
}

// NewArena allocates counters for guard ids 1..guards.
func NewArena(guards int) *Arena {
	return &Arena{
		counters: make([]uint16, guards+1),
		seen:     make([]bool, guards+1),
	}
}

// Guards returns the number of guard ids the arena has counters for.
func (a *Arena) Guards() int { return len(a.counters) - 1 }

func (a *Arena) SetRecording(on bool) {
	a.mu.Lock()
	a.recording = on
	a.mu.Unlock()
}

func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range a.touched {
		a.counters[id] = 0
	}
	a.touched = a.touched[:0]
	a.indirect = a.indirect[:0]
	a.cmps = a.cmps[:0]
}

func (a *Arena) IterateFeatures(visit func(Feature)) {
	for _, f := range a.snapshot() {
		visit(f)
	}
}

func (a *Arena) snapshot() []Feature {
	a.mu.Lock()
	defer a.mu.Unlock()
	slices.Sort(a.touched)
	a.indirect = SortUnique(a.indirect)
	a.cmps = SortUnique(a.cmps)
	fs := make([]Feature, 0, len(a.touched)+len(a.indirect)+len(a.cmps))
	for _, id := range a.touched {
		fs = append(fs, Edge(id, a.counters[id]))
	}
	fs = append(fs, a.indirect...)
	return append(fs, a.cmps...)
}

// TotalEdges is the number of distinct guards hit since the arena was created.
func (a *Arena) TotalEdges() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.edges
}

func (a *Arena) TraceGuard(id uint32) {
	if id == 0 || int(id) >= len(a.counters) {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.recording {
		return
	}
	c := a.counters[id]
	if c == 0 {
		a.touched = append(a.touched, id)
		if !a.seen[id] {
			a.seen[id] = true
			a.edges++
		}
	}
	if c != math.MaxUint16 {
		a.counters[id] = c + 1
	}
}

func (a *Arena) TraceIndirect(caller, callee uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.recording || len(a.indirect) >= maxRecords {
		return
	}
	a.indirect = append(a.indirect, Indirect(caller, callee))
}

func (a *Arena) TraceCmp1(site uint64, x, y uint8)  { a.TraceCmp8(site, uint64(x), uint64(y)) }
func (a *Arena) TraceCmp2(site uint64, x, y uint16) { a.TraceCmp8(site, uint64(x), uint64(y)) }
func (a *Arena) TraceCmp4(site uint64, x, y uint32) { a.TraceCmp8(site, uint64(x), uint64(y)) }

func (a *Arena) TraceCmp8(site, x, y uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.recording || len(a.cmps) >= maxRecords {
		return
	}
	a.cmps = append(a.cmps, Comparison(site, x, y))
}

// Constant comparisons are folded into the same table: the constant operand
// only changes how the compiler calls us, not the feature.
func (a *Arena) TraceConstCmp1(site uint64, x, y uint8)  { a.TraceCmp1(site, x, y) }
func (a *Arena) TraceConstCmp2(site uint64, x, y uint16) { a.TraceCmp2(site, x, y) }
func (a *Arena) TraceConstCmp4(site uint64, x, y uint32) { a.TraceCmp4(site, x, y) }
func (a *Arena) TraceConstCmp8(site, x, y uint64)        { a.TraceCmp8(site, x, y) }

// TraceSwitch records v against every case; each case is its own site.
func (a *Arena) TraceSwitch(site, v uint64, cases []uint64) {
	for i, c := range cases {
		a.TraceCmp8(site+uint64(i), v, c)
	}
}

func (a *Arena) TraceDiv4(site uint64, v uint32) { a.TraceCmp8(site, uint64(v), 0) }
func (a *Arena) TraceDiv8(site, v uint64)        { a.TraceCmp8(site, v, 0) }
