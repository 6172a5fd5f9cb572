// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bradleyjkemp/fuzzcheck/artifact"
	"github.com/bradleyjkemp/fuzzcheck/config"
)

const (
	workerEnv = "FUZZCHECK_TEST_WORKER"
	logEnv    = "FUZZCHECK_TEST_LOG"
)

// The test binary doubles as the worker when workerEnv is set.
func TestMain(m *testing.M) {
	if mode := os.Getenv(workerEnv); mode != "" {
		os.Exit(fakeWorker(mode, os.Args[1:]))
	}
	os.Exit(m.Run())
}

func fakeWorker(mode string, args []string) int {
	cfg, err := config.Load("worker", args, io.Discard)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 4
	}
	f, err := os.OpenFile(os.Getenv(logEnv), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 4
	}
	fmt.Fprintf(f, "%v:%v\n", cfg.Command, cfg.InputFile)
	f.Close()

	switch mode {
	case "crash-twice":
		entries, _ := os.ReadDir(cfg.ArtifactFolder)
		if len(entries) >= 2 {
			return 0
		}
		writeArtifact(cfg.ArtifactFolder, float64(10-len(entries)))
		return 1
	case "always-crash":
		return 1
	case "broken":
		return 4
	case "test-failure":
		return 2
	case "wait-for-interrupt":
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		<-c
		return 0
	case "stubborn":
		signal.Ignore(os.Interrupt)
		time.Sleep(time.Minute)
		return 0
	case "shrink":
		c := 5.0
		if data, err := os.ReadFile(cfg.InputFile); err == nil {
			if r, err := artifact.Decode(data); err == nil && r.Complexity != nil {
				c = *r.Complexity
			}
		}
		if c <= 2 {
			return 0
		}
		writeArtifact(cfg.ArtifactFolder, c-1)
		return 1
	}
	return 4
}

func writeArtifact(dir string, complexity float64) {
	r := artifact.NewRecord(artifact.DefaultContentSchema, artifact.Parts{
		Unit:       []byte(`"x"`),
		Complexity: complexity,
		Kind:       artifact.KindCrash,
	})
	data, _ := r.Encode()
	os.WriteFile(filepath.Join(dir, fmt.Sprintf("crash-%v.json", complexity)), data, 0o644)
}

type fixture struct {
	sup *Supervisor
	cfg *config.Config
	log string
}

func newFixture(t *testing.T, mode string, modify func(*config.Config, *Options)) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Target = os.Args[0]
	cfg.ArtifactFolder = filepath.Join(dir, "artifacts")
	cfg.IterationTimeout = time.Second
	opts := DefaultOptions()
	opts.Stdout, opts.Stderr = io.Discard, io.Discard
	opts.Grace = 200 * time.Millisecond
	logFile := filepath.Join(dir, "launches")
	opts.Env = []string{workerEnv + "=" + mode, logEnv + "=" + logFile}
	if modify != nil {
		modify(cfg, &opts)
	}
	require.NoError(t, os.MkdirAll(cfg.ArtifactFolder, 0o755))
	sup, err := New(cfg, opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	return &fixture{sup: sup, cfg: cfg, log: logFile}
}

func (f *fixture) launches(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(f.log)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestNewNeedsTarget(t *testing.T) {
	_, err := New(config.Default(), DefaultOptions(), zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestFuzzRelaunchesAfterFailures(t *testing.T) {
	f := newFixture(t, "crash-twice", nil)
	code, err := f.sup.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"fuzz:", "fuzz:", "fuzz:"}, f.launches(t))
}

func TestFuzzGivesUp(t *testing.T) {
	f := newFixture(t, "always-crash", func(_ *config.Config, o *Options) {
		o.MaxRestarts = 2
	})
	code, err := f.sup.Fuzz(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Len(t, f.launches(t), 3)
}

func TestFuzzStopsOnBrokenWorker(t *testing.T) {
	f := newFixture(t, "broken", nil)
	code, err := f.sup.Fuzz(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, code)
	assert.True(t, Fatal(code))
	assert.Len(t, f.launches(t), 1)
}

func TestReadPassesExitCode(t *testing.T) {
	f := newFixture(t, "test-failure", func(c *config.Config, _ *Options) {
		c.Command = config.CommandRead
		c.InputFile = "unit.json"
	})
	code, err := f.sup.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, code)
	assert.Equal(t, []string{"read:unit.json"}, f.launches(t))
}

func TestMinimizeRestartsFromSimplestArtifact(t *testing.T) {
	f := newFixture(t, "shrink", nil)
	input := filepath.Join(t.TempDir(), "input")
	require.NoError(t, os.WriteFile(input, []byte("not json"), 0o644))

	code, err := f.sup.Minimize(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	dir := f.cfg.ArtifactFolder
	assert.Equal(t, []string{
		"minimize:" + input,
		"minimize:" + filepath.Join(dir, "crash-4.json"),
		"minimize:" + filepath.Join(dir, "crash-3.json"),
		"minimize:" + filepath.Join(dir, "crash-2.json"),
	}, f.launches(t))
}

func TestMinimizeMissingInput(t *testing.T) {
	f := newFixture(t, "shrink", nil)
	_, err := f.sup.Minimize(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
	assert.Empty(t, f.launches(t))
}

func TestCancelInterruptsWorker(t *testing.T) {
	f := newFixture(t, "wait-for-interrupt", func(_ *config.Config, o *Options) {
		// A kill after the grace period would surface as exit code 3.
		o.Grace = 10 * time.Second
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		// The worker has installed its handler once it logged its launch.
		for len(f.launches(t)) == 0 {
			time.Sleep(10 * time.Millisecond)
		}
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	code, err := f.sup.Fuzz(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Len(t, f.launches(t), 1)
}

func TestGlobalTimeoutKillsStubbornWorker(t *testing.T) {
	f := newFixture(t, "stubborn", func(c *config.Config, _ *Options) {
		c.GlobalTimeout = 300 * time.Millisecond
	})
	start := time.Now()
	code, err := f.sup.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestShutdownRefusesNewWorkers(t *testing.T) {
	f := newFixture(t, "always-crash", nil)
	f.sup.Shutdown()
	code, err := f.sup.Fuzz(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Empty(t, f.launches(t))
}

func TestCandidateOrdering(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(dir, 7)
	writeArtifact(dir, 3)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "raw"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("a"), 0o644))

	cs := newCandidates()
	require.NoError(t, cs.scan(dir))
	assert.Len(t, cs.m, 3)
	best, ok := cs.best()
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "crash-3.json"), best.path)

	cs.remove(best.path)
	best, _ = cs.best()
	assert.Equal(t, filepath.Join(dir, "crash-7.json"), best.path)
}
