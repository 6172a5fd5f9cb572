// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package supervisor drives worker binaries from the outside. A worker stops at
// the first failure it cannot recover from, so fuzzing relaunches it and
// minimization restarts it from the simplest artifact found so far.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bradleyjkemp/fuzzcheck/config"
	"github.com/bradleyjkemp/fuzzcheck/fuzzer"
	"github.com/bradleyjkemp/fuzzcheck/runner"
)

var ErrShutdown = errors.New("supervisor is shut down")

type Options struct {
	Stdout io.Writer
	Stderr io.Writer
	// Env is appended to the environment of every worker.
	Env []string
	// MaxRestarts bounds how often fuzzing relaunches a failed worker.
	MaxRestarts int
	// Grace is how long a worker may take to exit after an interrupt.
	Grace time.Duration
}

func DefaultOptions() Options {
	return Options{
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		MaxRestarts: 16,
		Grace:       5 * time.Second,
	}
}

type Supervisor struct {
	cfg  *config.Config
	opts Options
	log  *zap.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	shutdown bool
}

func New(cfg *config.Config, opts Options, log *zap.Logger) (*Supervisor, error) {
	if cfg.Target == "" {
		return nil, errors.New("-target must name the fuzz binary")
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	return &Supervisor{cfg: cfg, opts: opts, log: log.Named("supervisor")}, nil
}

// Run performs the configured command and returns the exit code of the last
// worker. The global timeout, when set, bounds the whole run.
func (s *Supervisor) Run(ctx context.Context) (int, error) {
	if s.cfg.GlobalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.GlobalTimeout)
		defer cancel()
	}
	switch s.cfg.Command {
	case config.CommandFuzz:
		return s.Fuzz(ctx)
	case config.CommandMinimize:
		return s.Minimize(ctx, s.cfg.InputFile)
	case config.CommandRead:
		return s.run(ctx, s.cfg.WorkerArgs(config.CommandRead, s.cfg.InputFile))
	}
	return 0, fmt.Errorf("unknown command %q", s.cfg.Command)
}

// Fuzz runs fuzz workers until one exits cleanly, ctx is done or the restart
// budget is spent.
func (s *Supervisor) Fuzz(ctx context.Context) (int, error) {
	cfg := *s.cfg
	for restarts := 0; ; restarts++ {
		code, err := s.run(ctx, cfg.WorkerArgs(config.CommandFuzz, ""))
		if err != nil || !relaunch(code) || ctx.Err() != nil {
			return code, err
		}
		if restarts >= s.opts.MaxRestarts {
			s.log.Warn("giving up after repeated failures", zap.Int("restarts", restarts))
			return code, nil
		}
		if cfg.Seed != 0 {
			// Same seed, same failure.
			cfg.Seed++
		}
		s.log.Info("relaunching worker", zap.Int("exit_code", code), zap.Int("restart", restarts+1))
	}
}

// Minimize keeps a minimize worker running on the simplest failing unit in the
// artifact folder, starting from input.
func (s *Supervisor) Minimize(ctx context.Context, input string) (int, error) {
	dir, err := filepath.Abs(s.cfg.ArtifactFolder)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	cs := newCandidates()
	cs.load(input)
	if _, ok := cs.best(); !ok {
		return 0, fmt.Errorf("failed to read %v", input)
	}

	wctx, stop := context.WithCancel(ctx)
	defer stop()
	changes := make(chan change)
	if _, err := newWatchdog(wctx, dir, changes, s.log); err != nil {
		return 0, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for c := range changes {
			if c.removed {
				cs.remove(c.path)
			} else {
				cs.load(c.path)
			}
		}
	}()
	defer func() {
		stop()
		<-done
	}()
	if err := cs.scan(dir); err != nil {
		return 0, err
	}

	for {
		best, _ := cs.best()
		s.log.Info("minimizing", zap.String("input", best.path), zap.Float64("complexity", best.complexity))
		code, err := s.run(ctx, s.cfg.WorkerArgs(config.CommandMinimize, best.path))
		if err != nil || ctx.Err() != nil {
			return code, err
		}
		if code != fuzzer.Clean.ExitCode() && !relaunch(code) {
			return code, nil
		}
		// Events for the last files may still be in flight.
		if err := cs.scan(dir); err != nil {
			return code, err
		}
		next, ok := cs.best()
		if !ok {
			return code, nil
		}
		if code == fuzzer.Clean.ExitCode() && next == best {
			// The worker ran out of budget without finding anything simpler.
			return code, nil
		}
	}
}

func relaunch(code int) bool {
	return code == fuzzer.Crash.ExitCode() || code == fuzzer.TestFailure.ExitCode()
}

// Shutdown interrupts the running worker and refuses to start new ones.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	s.interruptLocked()
}

func (s *Supervisor) interruptLocked() {
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Signal(os.Interrupt)
	}
}

func (s *Supervisor) spawn(args []string) (*exec.Cmd, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return nil, ErrShutdown
	}
	cmd := exec.Command(s.cfg.Target, args...)
	cmd.Stdout = s.opts.Stdout
	cmd.Stderr = s.opts.Stderr
	cmd.Env = append(os.Environ(), s.opts.Env...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %v: %w", s.cfg.Target, err)
	}
	s.cmd = cmd
	return cmd, nil
}

// run starts one worker and waits for it. When ctx is done the worker is
// interrupted, and killed if it outlives the grace period.
func (s *Supervisor) run(ctx context.Context, args []string) (int, error) {
	id := uuid.NewString()
	log := s.log.With(zap.String("worker", id))
	cmd, err := s.spawn(args)
	if err != nil {
		if errors.Is(err, ErrShutdown) {
			return 0, nil
		}
		return 0, err
	}
	log.Debug("started worker", zap.Int("pid", cmd.Process.Pid), zap.Strings("args", args))

	exited := make(chan struct{})
	go func() {
		select {
		case <-exited:
			return
		case <-ctx.Done():
		}
		s.Shutdown()
		select {
		case <-exited:
		case <-time.After(s.opts.Grace):
			log.Warn("worker did not exit in time, killing it")
			cmd.Process.Kill()
		}
	}()

	err = cmd.Wait()
	close(exited)
	s.mu.Lock()
	if s.cmd == cmd {
		s.cmd = nil
	}
	s.mu.Unlock()

	code, err := exitCode(err)
	log.Info("worker exited", zap.Int("exit_code", code), zap.Error(err))
	return code, err
}

// exitCode maps the result of Wait to the worker's exit code. A worker killed
// by a signal reports UnknownSignal.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return 0, err
	}
	if code := ee.ExitCode(); code >= 0 {
		return code, nil
	}
	return fuzzer.UnknownSignal.ExitCode(), nil
}

// Fatal reports whether code means the worker could not run at all.
func Fatal(code int) bool { return code == runner.ExitConfig }
