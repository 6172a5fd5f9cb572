// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"fmt"
	"time"
)

type State int

const (
	Initial State = iota
	ReadingSeedCorpus
	MutateAndTest
	Minimizing
	Done
)

var stateNames = [...]string{
	Initial:           "initial",
	ReadingSeedCorpus: "reading-seed-corpus",
	MutateAndTest:     "mutate-and-test",
	Minimizing:        "minimizing",
	Done:              "done",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Settings struct {
	// MaxRuns and MaxDuration bound the session; zero means unbounded.
	MaxRuns     uint64
	MaxDuration time.Duration
	// MutationDepth is how many successful mutations are stacked on a unit
	// picked from the corpus, running the target after each.
	MutationDepth int
	// Units more complex than MaxComplexity are never run.
	MaxComplexity float64
	// IterationTimeout is the hang limit for a single run; zero disables it.
	IterationTimeout   time.Duration
	FavoredProbability float64
	PulseEvery         time.Duration
	// RandomSeeds is how many random units are tried next to the base unit
	// when reading the seed corpus.
	RandomSeeds int
}

func DefaultSettings() Settings {
	return Settings{
		MutationDepth:      3,
		MaxComplexity:      256,
		IterationTimeout:   10 * time.Second,
		FavoredProbability: 0.25,
		PulseEvery:         3 * time.Second,
		RandomSeeds:        10,
	}
}

// Status is how a session ended. Its value is the process exit code.
type Status int

const (
	Clean Status = iota
	Crash
	TestFailure
	UnknownSignal
)

func (s Status) ExitCode() int { return int(s) }

func (s Status) String() string {
	switch s {
	case Clean:
		return "clean"
	case Crash:
		return "crash"
	case TestFailure:
		return "test-failure"
	case UnknownSignal:
		return "unknown-signal"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

type Result struct {
	Status Status
	// Artifact is the path of the artifact that ended the session, if any.
	Artifact string
	Runs     uint64
}
