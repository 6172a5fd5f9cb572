// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package runner

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bradleyjkemp/fuzzcheck/artifact"
	"github.com/bradleyjkemp/fuzzcheck/fuzzer"
	"github.com/bradleyjkemp/fuzzcheck/unit"
)

var targets = map[string]func([]byte) bool{
	"FuzzNoX": func(b []byte) bool { return !bytes.Contains(b, []byte("x")) },
	"FuzzAny": func([]byte) bool { return true },
}

func writeUnit(t *testing.T, dir string, v []byte) string {
	t.Helper()
	data, err := unit.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(dir, "input.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func artifacts(t *testing.T, dir string) []artifact.Record {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var records []artifact.Record
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		r, err := artifact.Decode(data)
		require.NoError(t, err)
		records = append(records, r)
	}
	return records
}

func TestReadReportsTestFailure(t *testing.T) {
	dir := t.TempDir()
	input := writeUnit(t, dir, []byte("axb"))
	out := filepath.Join(dir, "artifacts")

	code := RunBytes("fuzz", []string{"read", "-func", "FuzzNoX", "-input-file", input,
		"-artifact-folder", out, "-log-level", "error"}, io.Discard, targets, nil)
	assert.Equal(t, fuzzer.TestFailure.ExitCode(), code)

	records := artifacts(t, out)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Kind)
	assert.Equal(t, artifact.KindCrash, *records[0].Kind)
	u, err := unit.Unmarshal[[]byte](records[0].Unit)
	require.NoError(t, err)
	assert.Equal(t, []byte("axb"), u)

	code = RunBytes("fuzz", []string{"read", "-func", "FuzzAny", "-input-file", input,
		"-artifact-folder", out, "-log-level", "error"}, io.Discard, targets, nil)
	assert.Equal(t, 0, code)
}

func TestMinimizeShrinksInput(t *testing.T) {
	dir := t.TempDir()
	input := writeUnit(t, dir, []byte("axbc"))
	out := filepath.Join(dir, "artifacts")

	code := RunBytes("fuzz", []string{"minimize", "-func", "FuzzNoX", "-input-file", input,
		"-artifact-folder", out, "-max-runs", "2000", "-max-duration", "10s", "-seed", "7",
		"-log-level", "error"}, io.Discard, targets, nil)
	assert.Equal(t, 0, code)

	records := artifacts(t, out)
	require.NotEmpty(t, records)
	for _, r := range records {
		require.NotNil(t, r.Complexity)
		assert.Less(t, *r.Complexity, 5.0)
		u, err := unit.Unmarshal[[]byte](r.Unit)
		require.NoError(t, err)
		assert.Contains(t, string(u), "x")
	}
}

func TestConfigurationErrors(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "artifacts")
	for name, args := range map[string][]string{
		"unknown func":   {"fuzz", "-func", "FuzzMissing", "-artifact-folder", out},
		"bad flag":       {"fuzz", "-mutation-depth", "zero"},
		"missing input":  {"read", "-input-file", filepath.Join(dir, "nope"), "-artifact-folder", out},
		"no instruments": {"fuzz", "-func", "FuzzAny", "-artifact-folder", out, "-max-runs", "100", "-log-level", "error"},
	} {
		code := RunBytes("fuzz", args, io.Discard, targets, nil)
		assert.Equal(t, ExitConfig, code, name)
	}
}

func TestHelp(t *testing.T) {
	assert.Equal(t, 0, RunBytes("fuzz", []string{"-h"}, io.Discard, targets, nil))
}
