// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fuzzer drives a fuzzing session: it reads the seed corpus, then
// repeatedly mutates corpus members, runs the target on them and keeps the
// ones that reach new features, until a budget runs out, the target fails or
// the process is told to stop.
package fuzzer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bradleyjkemp/fuzzcheck/corpus"
	"github.com/bradleyjkemp/fuzzcheck/coverage"
	"github.com/bradleyjkemp/fuzzcheck/mutate"
	"github.com/bradleyjkemp/fuzzcheck/random"
	"github.com/bradleyjkemp/fuzzcheck/unit"
	"github.com/bradleyjkemp/fuzzcheck/world"
)

// Target is the function under test. It returns false when the property it
// checks does not hold.
type Target[T any] func(T) bool

type Fuzzer[T any] struct {
	settings Settings
	gen      mutate.Generator[T]
	target   Target[T]
	sensor   coverage.Sensor
	world    world.World[T]
	rng      *random.Rand
	log      *zap.Logger

	corpus *corpus.Corpus[T]
	state  State

	signals     chan Signal
	interrupted bool
	pending     Signal

	runs      uint64
	start     time.Time
	lastPulse time.Time

	// Read by the hang watcher.
	runStart atomic.Int64
	runSeq   atomic.Uint64
}

func New[T any](
	settings Settings,
	gen mutate.Generator[T],
	target Target[T],
	sensor coverage.Sensor,
	w world.World[T],
	rng *random.Rand,
	log *zap.Logger,
) *Fuzzer[T] {
	if settings.MutationDepth < 1 {
		settings.MutationDepth = 1
	}
	if settings.MaxComplexity <= 0 {
		settings.MaxComplexity = math.Inf(1)
	}
	if settings.PulseEvery <= 0 {
		settings.PulseEvery = DefaultSettings().PulseEvery
	}
	return &Fuzzer[T]{
		settings: settings,
		gen:      gen,
		target:   target,
		sensor:   sensor,
		world:    w,
		rng:      rng,
		log:      log.Named("fuzzer"),
		corpus:   corpus.New[T](corpus.Options{FavoredProbability: settings.FavoredProbability}),
		signals:  make(chan Signal, 16),
	}
}

func (f *Fuzzer[T]) State() State { return f.state }

func (f *Fuzzer[T]) Corpus() *corpus.Corpus[T] { return f.corpus }

func (f *Fuzzer[T]) Runs() uint64 { return f.runs }

// Fuzz runs a full session and reports how it ended. The error is set for
// configuration and persistence problems.
func (f *Fuzzer[T]) Fuzz(ctx context.Context) (Result, error) {
	ctx, cancel := f.begin(ctx)
	defer cancel()

	f.state = ReadingSeedCorpus
	seeds, err := f.world.ReadInputCorpus()
	if err != nil {
		return f.end(nil, err)
	}
	seeds = append(seeds, f.gen.Base())
	for i := 0; i < f.settings.RandomSeeds; i++ {
		seeds = append(seeds, f.gen.New(f.rng))
	}
	for _, u := range seeds {
		if f.stopping(ctx) {
			return f.end(nil, nil)
		}
		c := f.gen.Complexity(u)
		if c > f.settings.MaxComplexity {
			continue
		}
		if _, res, err := f.test(u, c); res != nil || err != nil {
			return f.end(res, err)
		}
	}
	f.report(world.DidReadCorpus)
	if f.corpus.Len() == 0 {
		return f.end(nil, errors.New("no coverage features observed, is the target instrumented?"))
	}

	f.state = MutateAndTest
	for !f.stopping(ctx) {
		if res, err := f.mutateBatch(ctx); res != nil || err != nil {
			return f.end(res, err)
		}
	}
	return f.end(nil, nil)
}

func (f *Fuzzer[T]) mutateBatch(ctx context.Context) (*Result, error) {
	idx := f.corpus.ChooseIndex(f.rng)
	entry := f.corpus.Entry(idx)
	u := f.gen.Clone(entry.Unit)
	for depth := 0; depth < f.settings.MutationDepth; depth++ {
		if depth > 0 && f.stopping(ctx) {
			break
		}
		if !f.gen.Mutate(&u, f.rng) {
			break
		}
		entry.MutationsExecuted++
		c := f.gen.Complexity(u)
		if c > f.settings.MaxComplexity {
			break
		}
		added, res, err := f.test(u, c)
		if res != nil || err != nil {
			return res, err
		}
		if added {
			entry.MutationsSucceeded++
			// The corpus owns u now.
			u = f.gen.Clone(u)
		}
	}
	return nil, nil
}

// test runs u and files the outcome: failures become artifacts and end the
// session, interesting units join the corpus.
func (f *Fuzzer[T]) test(u T, complexity float64) (bool, *Result, error) {
	ex := f.run(u)
	f.pulse()
	if ex.status != Clean {
		res, err := f.failure(u, complexity, ex)
		return false, res, err
	}
	if !f.corpus.Interesting(ex.features, complexity) {
		return false, nil, nil
	}
	fx := f.corpus.AddEntry(u, complexity, ex.features)
	if err := world.Apply(f.world, fx); err != nil {
		return false, nil, fmt.Errorf("failed to update output corpus: %w", err)
	}
	if len(fx.Removed) > 0 {
		f.report(world.Deleted)
	}
	if len(fx.Added) == 0 {
		return false, nil, nil
	}
	f.report(world.New)
	return true, nil, nil
}

func (f *Fuzzer[T]) failure(u T, complexity float64, ex execution) (*Result, error) {
	res := &Result{Status: ex.status}
	if ex.status == UnknownSignal {
		f.log.Warn("stopping on unexpected signal")
		return res, nil
	}
	f.log.Error("target failed",
		zap.Stringer("status", ex.status),
		zap.Stringer("kind", ex.kind),
		zap.Any("panic", ex.panic),
		zap.String("signature", ex.signature),
		zap.Duration("elapsed", ex.elapsed),
		zap.Int("features", len(ex.features)))
	path, err := f.save(u, complexity, ex)
	res.Artifact = path
	return res, err
}

func (f *Fuzzer[T]) save(u T, complexity float64, ex execution) (string, error) {
	score := 0.0
	for _, ft := range ex.features {
		score += ft.Score()
	}
	path, err := f.world.SaveArtifact(world.Artifact[T]{
		Unit:       u,
		Features:   ex.features,
		Score:      score,
		Complexity: complexity,
		Kind:       ex.kind,
	})
	if err != nil {
		return "", err
	}
	switch {
	case ex.status == TestFailure:
		f.report(world.TestFailure)
	case ex.signal == SignalTimeout:
		f.report(world.Timeout)
	default:
		f.report(world.Crash)
	}
	return path, nil
}

// Minimize looks for units simpler than input that still make the target
// fail. Every one found is saved as an artifact and becomes the new favored
// unit. It stops on the budgets, an interrupt, or a failure the process
// cannot survive, such as a hang.
func (f *Fuzzer[T]) Minimize(ctx context.Context, input T) (Result, error) {
	ctx, cancel := f.begin(ctx)
	defer cancel()

	f.state = Minimizing
	ceiling := f.gen.Complexity(input)
	f.corpus.SetFavored(input, ceiling)
	f.log.Info("minimizing", zap.Float64("complexity", ceiling))

	for !f.stopping(ctx) {
		entry := f.corpus.Entry(f.corpus.ChooseIndex(f.rng))
		u := f.gen.Clone(entry.Unit)
		for depth := 0; depth < f.settings.MutationDepth; depth++ {
			if !f.gen.Mutate(&u, f.rng) {
				break
			}
			entry.MutationsExecuted++
			c := f.gen.Complexity(u)
			if c >= ceiling {
				break
			}
			ex := f.run(u)
			f.pulse()
			if ex.status == Clean {
				if f.corpus.Interesting(ex.features, c) {
					f.corpus.AddEntry(u, c, ex.features)
					entry.MutationsSucceeded++
					u = f.gen.Clone(u)
				}
				continue
			}
			if ex.status == UnknownSignal {
				return f.end(&Result{Status: UnknownSignal}, nil)
			}
			path, err := f.save(u, c, ex)
			if ex.hard() || err != nil {
				return f.end(&Result{Status: ex.status, Artifact: path}, err)
			}
			f.corpus.Replace(corpus.Favored, u, c)
			ceiling = c
			entry.MutationsSucceeded++
			f.log.Info("found simpler failing unit", zap.Float64("complexity", c), zap.String("artifact", path))
			f.report(world.Replace)
			break
		}
	}
	return f.end(nil, nil)
}

// Read runs the target once on input and reports what it observed.
func (f *Fuzzer[T]) Read(ctx context.Context, input T) (Result, error) {
	_, cancel := f.begin(ctx)
	defer cancel()

	c := f.gen.Complexity(input)
	ex := f.run(input)
	h, err := unit.Hash(input)
	if err != nil {
		return f.end(nil, err)
	}
	f.log.Info("read unit",
		zap.String("hash", unit.FormatHash(h)),
		zap.Float64("complexity", c),
		zap.Stringer("status", ex.status),
		zap.Duration("elapsed", ex.elapsed),
		zap.Stringers("features", ex.features))
	if ex.status == Clean {
		return f.end(nil, nil)
	}
	res, err := f.failure(input, c, ex)
	return f.end(res, err)
}

func (f *Fuzzer[T]) begin(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	f.state = Initial
	f.start = f.world.Now()
	f.lastPulse = f.start
	if f.settings.IterationTimeout > 0 {
		go f.watchHangs(ctx)
	}
	f.report(world.Start)
	return ctx, cancel
}

// stopping drains queued signals and reports whether the session is over.
func (f *Fuzzer[T]) stopping(ctx context.Context) bool {
drain:
	for {
		select {
		case s := <-f.signals:
			switch s {
			case SignalInterrupt:
				f.interrupted = true
			case SignalFault, SignalUnknown:
				if f.pending == noSignal {
					f.pending = s
				}
			}
			// A timeout between runs was posted for a run that has
			// since returned.
		default:
			break drain
		}
	}
	switch {
	case f.interrupted, f.pending != noSignal, ctx.Err() != nil:
		return true
	case f.settings.MaxRuns > 0 && f.runs >= f.settings.MaxRuns:
		return true
	case f.settings.MaxDuration > 0 && f.world.Now().Sub(f.start) >= f.settings.MaxDuration:
		return true
	}
	return false
}

func (f *Fuzzer[T]) end(res *Result, err error) (Result, error) {
	f.state = Done
	var r Result
	if res != nil {
		r = *res
	} else if err == nil {
		switch f.pending {
		case SignalFault:
			r.Status = Crash
			f.report(world.Crash)
		case SignalUnknown:
			r.Status = UnknownSignal
		}
	}
	if f.interrupted {
		f.report(world.Interrupted)
	}
	r.Runs = f.runs
	f.logMutationStats()
	f.report(world.Done)
	return r, err
}

func (f *Fuzzer[T]) pulse() {
	now := f.world.Now()
	if now.Sub(f.lastPulse) < f.settings.PulseEvery {
		return
	}
	f.lastPulse = now
	f.report(world.Pulse)
}

type edgeCounter interface {
	TotalEdges() int
}

func (f *Fuzzer[T]) report(ev world.Event) {
	now := f.world.Now()
	s := world.Stats{
		Runs:          f.runs,
		CorpusSize:    f.corpus.Len(),
		TotalScore:    f.corpus.TotalScore(),
		CoverageScore: f.corpus.CoverageScore(),
		Elapsed:       now.Sub(f.start),
	}
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.ExecsPerSec = float64(f.runs) / secs
	}
	if ec, ok := f.sensor.(edgeCounter); ok {
		s.TotalEdges = ec.TotalEdges()
	}
	if ev == world.Pulse || ev == world.Done {
		s.Memory = f.world.MemoryUsage()
	}
	f.world.ReportEvent(ev, s)
}

type mutatorStats interface {
	MutatorStats() []mutate.Stat
}

func (f *Fuzzer[T]) logMutationStats() {
	if !f.log.Core().Enabled(zap.DebugLevel) {
		return
	}
	if ms, ok := f.gen.(mutatorStats); ok {
		for _, s := range ms.MutatorStats() {
			f.log.Debug("mutator", zap.String("name", s.Name),
				zap.Uint64("executed", s.Executed), zap.Uint64("succeeded", s.Succeeded))
		}
	}
	for i := 0; i < f.corpus.Len(); i++ {
		e := f.corpus.Entry(corpus.Normal(i))
		f.log.Debug("corpus entry", zap.Int("index", i),
			zap.Float64("complexity", e.Complexity), zap.Float64("score", e.Score),
			zap.Uint64("mutations", e.MutationsExecuted), zap.Uint64("successes", e.MutationsSucceeded))
	}
}
