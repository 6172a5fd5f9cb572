// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package coverage holds the feature model and the sensor that instrumented
// code reports to.
//
// Instrumented packages call InitGuards from their init functions, which hands
// out guard ids. Once the runner calls FreezeGuards the id space is fixed, the
// counter arena is allocated with NewArena and installed with Install so that
// the package-level hooks below have somewhere to write to.
package coverage

import (
	"sync"
	"sync/atomic"
)

// Registry hands out guard ids. Instrumented code uses the process-wide one
// through InitGuards and FreezeGuards.
type Registry struct {
	mu     sync.Mutex
	next   uint32
	frozen bool
}

var guards Registry

// Init assigns sequential ids to every guard in table that does not have one yet.
// Id 0 is never assigned: hooks ignore guards that are still zero.
func (r *Registry) Init(table []uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range table {
		if table[i] != 0 {
			continue
		}
		if r.frozen {
			panic("coverage: guard table initialized after instrumentation started")
		}
		r.next++
		table[i] = r.next
	}
}

// Freeze ends registration and returns the number of ids handed out.
func (r *Registry) Freeze() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
	return int(r.next)
}

func InitGuards(table []uint32) { guards.Init(table) }

func FreezeGuards() int { return guards.Freeze() }

var active atomic.Pointer[Arena]

// Install makes a the target of the package-level hooks. Passing nil disables them.
func Install(a *Arena) {
	active.Store(a)
}

func TracePCGuard(guard *uint32) {
	if a := active.Load(); a != nil {
		a.TraceGuard(*guard)
	}
}

func TraceIndirect(caller, callee uintptr) {
	if a := active.Load(); a != nil {
		a.TraceIndirect(caller, callee)
	}
}

// TraceCmp8 records a comparison and always returns true, so that instrumented
// code can prefix a condition with it: TraceCmp8(site, uint64(x), 42) && x == 42.
func TraceCmp8(site, x, y uint64) bool {
	if a := active.Load(); a != nil {
		a.TraceCmp8(site, x, y)
	}
	return true
}

func TraceSwitch(site, v uint64, cases []uint64) {
	if a := active.Load(); a != nil {
		a.TraceSwitch(site, v, cases)
	}
}

func TraceDiv8(site, v uint64) {
	if a := active.Load(); a != nil {
		a.TraceDiv8(site, v)
	}
}
