// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package world

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bradleyjkemp/fuzzcheck/artifact"
	"github.com/bradleyjkemp/fuzzcheck/unit"
)

type Options struct {
	InputFolder     string
	OutputFolder    string
	InputFile       string
	ArtifactFolder  string
	ArtifactName    artifact.NameSchema
	ArtifactContent artifact.ContentSchema
}

// FileWorld keeps corpora and artifacts in plain folders.
type FileWorld[T any] struct {
	opts    Options
	log     *zap.Logger
	metrics *Metrics
	runID   string
}

func NewFileWorld[T any](opts Options, metrics *Metrics, log *zap.Logger) (*FileWorld[T], error) {
	if opts.ArtifactFolder == "" {
		return nil, errors.New("artifact folder is not set")
	}
	if opts.ArtifactName.String() == "" {
		opts.ArtifactName = artifact.MustParseNameSchema(artifact.DefaultNameSchema)
	}
	for _, dir := range []string{opts.OutputFolder, opts.ArtifactFolder} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %v: %w", dir, err)
		}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	runID := uuid.NewString()
	return &FileWorld[T]{
		opts:    opts,
		log:     log.Named("world").With(zap.String("run", runID)),
		metrics: metrics,
		runID:   runID,
	}, nil
}

func (w *FileWorld[T]) RunID() string { return w.runID }

func (w *FileWorld[T]) Now() time.Time { return time.Now() }

func (w *FileWorld[T]) MemoryUsage() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// ReadInputCorpus reads every regular file of the input folder in name order.
// A file that does not hold a unit is an error.
func (w *FileWorld[T]) ReadInputCorpus() ([]T, error) {
	if w.opts.InputFolder == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(w.opts.InputFolder)
	if err != nil {
		return nil, fmt.Errorf("failed to read input corpus: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	var units []T
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		u, err := w.readUnit(filepath.Join(w.opts.InputFolder, e.Name()))
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	w.log.Debug("read input corpus", zap.String("dir", w.opts.InputFolder), zap.Int("units", len(units)))
	return units, nil
}

func (w *FileWorld[T]) ReadInputFile() (T, error) {
	if w.opts.InputFile == "" {
		var zero T
		return zero, errors.New("input file is not set")
	}
	return w.readUnit(w.opts.InputFile)
}

// readUnit accepts both a bare serialized unit and an artifact record that
// embeds one.
func (w *FileWorld[T]) readUnit(path string) (T, error) {
	var zero T
	data, err := os.ReadFile(path)
	if err != nil {
		return zero, fmt.Errorf("failed to read %v: %w", path, err)
	}
	if r, err := artifact.Decode(data); err == nil && len(r.Unit) > 0 {
		data = r.Unit
	}
	u, err := unit.Unmarshal[T](data)
	if err != nil {
		return zero, fmt.Errorf("%v: %w", path, err)
	}
	return u, nil
}

func (w *FileWorld[T]) AddToOutputCorpus(u T) error {
	if w.opts.OutputFolder == "" {
		return nil
	}
	data, err := unit.Marshal(u)
	if err != nil {
		return err
	}
	name := filepath.Join(w.opts.OutputFolder, unit.Key(data))
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return fmt.Errorf("failed to add corpus file: %w", err)
	}
	return nil
}

func (w *FileWorld[T]) RemoveFromOutputCorpus(u T) error {
	if w.opts.OutputFolder == "" {
		return nil
	}
	data, err := unit.Marshal(u)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(w.opts.OutputFolder, unit.Key(data)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove corpus file: %w", err)
	}
	return nil
}

func (w *FileWorld[T]) SaveArtifact(a Artifact[T]) (string, error) {
	data, err := unit.Marshal(a.Unit)
	if err != nil {
		return "", err
	}
	parts := artifact.Parts{
		Unit:       data,
		Features:   a.Features,
		Score:      a.Score,
		Complexity: a.Complexity,
		Hash:       unit.Sum(data),
		Kind:       a.Kind,
	}
	content, err := artifact.NewRecord(w.opts.ArtifactContent, parts).Encode()
	if err != nil {
		return "", err
	}
	name, err := w.opts.ArtifactName.UniqueName(w.opts.ArtifactFolder, artifact.Values{
		Hash:       parts.Hash,
		Complexity: parts.Complexity,
		Kind:       parts.Kind,
	})
	if err != nil {
		return "", err
	}
	path := filepath.Join(w.opts.ArtifactFolder, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to save artifact: %w", err)
	}
	w.metrics.Artifacts.WithLabelValues(a.Kind.String()).Inc()
	w.log.Info("saved artifact", zap.Stringer("kind", a.Kind), zap.String("path", path),
		zap.Float64("complexity", a.Complexity))
	return path, nil
}

func (w *FileWorld[T]) ReportEvent(ev Event, stats Stats) {
	w.metrics.observe(stats)
	level := zapcore.InfoLevel
	switch ev {
	case Deleted:
		level = zapcore.DebugLevel
	case TestFailure, Crash, Timeout:
		level = zapcore.ErrorLevel
	}
	if ce := w.log.Check(level, ev.String()); ce != nil {
		ce.Write(
			zap.Uint64("runs", stats.Runs),
			zap.Float64("execs_per_sec", stats.ExecsPerSec),
			zap.Int("corpus", stats.CorpusSize),
			zap.Float64("score", stats.TotalScore),
			zap.Float64("cov", stats.CoverageScore),
			zap.Int("edges", stats.TotalEdges),
			zap.Uint64("mem", stats.Memory),
			zap.Duration("uptime", stats.Elapsed.Truncate(time.Second)),
		)
	}
}
