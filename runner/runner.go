// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package runner is the main function of instrumented fuzz binaries. It picks
// the function to fuzz, wires the fuzzer to the coverage arena and the file
// system, and runs one of the fuzz, minimize and read commands.
package runner

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/bradleyjkemp/fuzzcheck/config"
	"github.com/bradleyjkemp/fuzzcheck/coverage"
	"github.com/bradleyjkemp/fuzzcheck/fuzzer"
	"github.com/bradleyjkemp/fuzzcheck/logger"
	"github.com/bradleyjkemp/fuzzcheck/mutate"
	"github.com/bradleyjkemp/fuzzcheck/random"
	"github.com/bradleyjkemp/fuzzcheck/world"
)

// ExitConfig is the exit code for unusable configuration, distinct from the
// codes a fuzzing session ends with.
const ExitConfig = 4

// Main runs the command line of the process and exits.
func Main[T any](gen mutate.Generator[T], targets map[string]fuzzer.Target[T]) {
	os.Exit(Run(os.Args[0], os.Args[1:], os.Stderr, gen, targets))
}

// MainBytes is Main for targets taking raw bytes, with literals from the
// target's source as the mutation dictionary.
func MainBytes(targets map[string]func([]byte) bool, literals []string) {
	os.Exit(RunBytes(os.Args[0], os.Args[1:], os.Stderr, targets, literals))
}

func RunBytes(name string, args []string, stderr io.Writer, targets map[string]func([]byte) bool, literals []string) int {
	dict := make([][]byte, 0, len(literals))
	for _, lit := range literals {
		dict = append(dict, []byte(lit))
	}
	wrapped := make(map[string]fuzzer.Target[[]byte], len(targets))
	for k, fn := range targets {
		wrapped[k] = fn
	}
	return Run[[]byte](name, args, stderr, mutate.NewBytes(dict), wrapped)
}

// Run is Main without the exit. It returns the process exit code.
func Run[T any](name string, args []string, stderr io.Writer, gen mutate.Generator[T], targets map[string]fuzzer.Target[T]) int {
	cfg, err := config.Load(name, args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "%v: %v\n", name, err)
		return ExitConfig
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "%v: %v\n", name, err)
		return ExitConfig
	}
	defer log.Sync()

	target, err := pick(cfg, targets, log)
	if err != nil {
		log.Error("bad configuration", zap.Error(err))
		return ExitConfig
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := world.ServeMetrics(ctx, cfg.MetricsAddr, reg, log); err != nil {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}
	w, err := world.NewFileWorld[T](world.Options{
		InputFolder:     cfg.InputFolder,
		OutputFolder:    cfg.OutputFolder,
		InputFile:       cfg.InputFile,
		ArtifactFolder:  cfg.ArtifactFolder,
		ArtifactName:    cfg.NameSchema(),
		ArtifactContent: cfg.ContentSchema(),
	}, world.NewMetrics(reg), log)
	if err != nil {
		log.Error("bad configuration", zap.Error(err))
		return ExitConfig
	}

	guards := coverage.FreezeGuards()
	arena := coverage.NewArena(guards)
	coverage.Install(arena)

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	log.Info("starting",
		zap.String("command", cfg.Command),
		zap.String("func", cfg.Func),
		zap.Int("guards", guards),
		zap.Uint64("seed", seed))

	f := fuzzer.New(settings(cfg), gen, target, arena, w, random.New(seed), log)
	f.Listen(ctx)

	var res fuzzer.Result
	switch cfg.Command {
	case config.CommandFuzz:
		res, err = f.Fuzz(ctx)
	case config.CommandMinimize, config.CommandRead:
		var input T
		input, err = w.ReadInputFile()
		if err != nil {
			break
		}
		if cfg.Command == config.CommandMinimize {
			res, err = f.Minimize(ctx, input)
		} else {
			res, err = f.Read(ctx, input)
		}
	}
	if err != nil {
		log.Error("fuzzing failed", zap.Error(err))
		return ExitConfig
	}
	log.Info("finished",
		zap.Stringer("status", res.Status),
		zap.Uint64("runs", res.Runs),
		zap.String("artifact", res.Artifact))
	return res.Status.ExitCode()
}

// pick resolves -func, defaulting to the first target by name.
func pick[T any](cfg *config.Config, targets map[string]fuzzer.Target[T], log *zap.Logger) (fuzzer.Target[T], error) {
	if len(targets) == 0 {
		return nil, errors.New("no functions available to fuzz")
	}
	if cfg.Func == "" {
		var funcs []string
		for name := range targets {
			funcs = append(funcs, name)
		}
		sort.Strings(funcs)
		log.Info("functions available to fuzz", zap.Strings("funcs", funcs))
		cfg.Func = funcs[0]
	}
	target, ok := targets[cfg.Func]
	if !ok {
		return nil, fmt.Errorf("function %s not available to fuzz", cfg.Func)
	}
	return target, nil
}

func settings(cfg *config.Config) fuzzer.Settings {
	s := fuzzer.DefaultSettings()
	s.MaxRuns = cfg.MaxRuns
	s.MaxDuration = cfg.MaxDuration
	s.MutationDepth = cfg.MutationDepth
	s.MaxComplexity = cfg.MaxComplexity
	s.IterationTimeout = cfg.IterationTimeout
	s.FavoredProbability = cfg.FavoredProbability
	return s
}
