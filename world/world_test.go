// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package world

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"

	"github.com/bradleyjkemp/fuzzcheck/artifact"
	"github.com/bradleyjkemp/fuzzcheck/corpus"
	"github.com/bradleyjkemp/fuzzcheck/coverage"
	"github.com/bradleyjkemp/fuzzcheck/unit"
)

func newTestWorld(t *testing.T, opts Options) (*FileWorld[[]int], *Metrics) {
	t.Helper()
	if opts.ArtifactFolder == "" {
		opts.ArtifactFolder = filepath.Join(t.TempDir(), "artifacts")
	}
	opts.ArtifactContent = artifact.DefaultContentSchema
	m := NewMetrics(prometheus.NewRegistry())
	w, err := NewFileWorld[[]int](opts, m, zaptest.NewLogger(t))
	require.NoError(t, err)
	return w, m
}

func corpusName(t *testing.T, u []int) string {
	t.Helper()
	data, err := unit.Marshal(u)
	require.NoError(t, err)
	return unit.Key(data)
}

func TestOutputCorpusFollowsSideEffects(t *testing.T) {
	out := filepath.Join(t.TempDir(), "corpus")
	w, _ := newTestWorld(t, Options{OutputFolder: out})

	require.NoError(t, Apply[[]int](w, corpus.SideEffect[[]int]{Added: [][]int{{1}, {2, 3}}}))
	names := listDir(t, out)
	assert.ElementsMatch(t, []string{corpusName(t, []int{1}), corpusName(t, []int{2, 3})}, names)

	data, err := os.ReadFile(filepath.Join(out, corpusName(t, []int{2, 3})))
	require.NoError(t, err)
	assert.JSONEq(t, `[2,3]`, string(data))

	require.NoError(t, Apply[[]int](w, corpus.SideEffect[[]int]{
		Added:   [][]int{{4}},
		Removed: [][]int{{1}, {7}},
	}))
	assert.ElementsMatch(t, []string{corpusName(t, []int{2, 3}), corpusName(t, []int{4})}, listDir(t, out))
}

func TestApplyCombinesErrors(t *testing.T) {
	out := filepath.Join(t.TempDir(), "corpus")
	w, _ := newTestWorld(t, Options{OutputFolder: out})
	require.NoError(t, os.RemoveAll(out))
	require.NoError(t, os.WriteFile(out, nil, 0o644))

	err := Apply[[]int](w, corpus.SideEffect[[]int]{Added: [][]int{{1}, {2}}})
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
}

func TestReadInputCorpus(t *testing.T) {
	in := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(in, "b"), []byte(`[2]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(in, "a"), []byte(`[1,1]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(in, ".hidden"), []byte(`garbage`), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(in, "sub"), 0o755))

	w, _ := newTestWorld(t, Options{InputFolder: in})
	units, err := w.ReadInputCorpus()
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 1}, {2}}, units)

	require.NoError(t, os.WriteFile(filepath.Join(in, "c"), []byte(`{"not":"a list"}`), 0o644))
	_, err = w.ReadInputCorpus()
	assert.ErrorContains(t, err, filepath.Join(in, "c"))
}

func TestNoInputFolder(t *testing.T) {
	w, _ := newTestWorld(t, Options{})
	units, err := w.ReadInputCorpus()
	require.NoError(t, err)
	assert.Empty(t, units)
	_, err = w.ReadInputFile()
	assert.Error(t, err)
}

func TestSaveArtifactAndReadItBack(t *testing.T) {
	w, m := newTestWorld(t, Options{})
	a := Artifact[[]int]{
		Unit:       []int{5, 6},
		Features:   []coverage.Feature{coverage.Edge(1, 1), coverage.Edge(2, 9)},
		Score:      2,
		Complexity: 3,
		Kind:       artifact.KindCrash,
	}
	first, err := w.SaveArtifact(a)
	require.NoError(t, err)
	second, err := w.SaveArtifact(a)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, "crash-"+corpusName(t, []int{5, 6})+".json", filepath.Base(first))
	assert.Equal(t, "crash-"+corpusName(t, []int{5, 6})+"-1.json", filepath.Base(second))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Artifacts.WithLabelValues("crash")))

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	r, err := artifact.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, a.Features, r.Features)

	reader, _ := newTestWorld(t, Options{InputFile: first})
	u, err := reader.ReadInputFile()
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6}, u)
}

func TestReportEventUpdatesMetrics(t *testing.T) {
	w, m := newTestWorld(t, Options{})
	w.ReportEvent(Pulse, Stats{Runs: 10, CorpusSize: 3, CoverageScore: 4.5})
	w.ReportEvent(New, Stats{Runs: 25, CorpusSize: 4, CoverageScore: 5})
	w.ReportEvent(Done, Stats{Runs: 25, CorpusSize: 4, CoverageScore: 5})
	assert.Equal(t, 25.0, testutil.ToFloat64(m.Runs))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.CorpusSize))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.CoverageScore))
}

func TestEventNames(t *testing.T) {
	assert.Equal(t, "test-failure", TestFailure.String())
	assert.Equal(t, "event(42)", Event(42).String())
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
