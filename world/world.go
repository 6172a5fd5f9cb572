// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package world is everything the fuzzer does outside of memory: reading seed
// inputs, keeping the output corpus folder in sync with the in-memory corpus,
// writing artifacts and reporting progress.
package world

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/bradleyjkemp/fuzzcheck/artifact"
	"github.com/bradleyjkemp/fuzzcheck/corpus"
	"github.com/bradleyjkemp/fuzzcheck/coverage"
)

type Event int

const (
	Start Event = iota
	DidReadCorpus
	New
	Deleted
	Pulse
	Replace
	TestFailure
	Crash
	Timeout
	Interrupted
	Done
)

var eventNames = [...]string{
	Start:         "start",
	DidReadCorpus: "read-corpus",
	New:           "new",
	Deleted:       "deleted",
	Pulse:         "pulse",
	Replace:       "replace",
	TestFailure:   "test-failure",
	Crash:         "crash",
	Timeout:       "timeout",
	Interrupted:   "interrupted",
	Done:          "done",
}

func (e Event) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Stats is a snapshot of the fuzzer's progress.
type Stats struct {
	Runs          uint64
	ExecsPerSec   float64
	CorpusSize    int
	TotalScore    float64
	CoverageScore float64
	TotalEdges    int
	Memory        uint64
	Elapsed       time.Duration
}

// Artifact is a unit worth keeping together with what was observed about it.
type Artifact[T any] struct {
	Unit       T
	Features   []coverage.Feature
	Score      float64
	Complexity float64
	Kind       artifact.Kind
}

type World[T any] interface {
	Now() time.Time
	// MemoryUsage is the number of bytes of heap in use.
	MemoryUsage() uint64

	ReadInputCorpus() ([]T, error)
	ReadInputFile() (T, error)

	AddToOutputCorpus(u T) error
	RemoveFromOutputCorpus(u T) error

	// SaveArtifact writes a and returns the path it was written to.
	SaveArtifact(a Artifact[T]) (string, error)

	ReportEvent(ev Event, stats Stats)
}

// Apply performs the deletions and then the additions described by fx.
// Every operation is attempted; the failures are combined.
func Apply[T any](w World[T], fx corpus.SideEffect[T]) error {
	var err error
	for _, u := range fx.Removed {
		err = multierr.Append(err, w.RemoveFromOutputCorpus(u))
	}
	for _, u := range fx.Added {
		err = multierr.Append(err, w.AddToOutputCorpus(u))
	}
	return err
}
