// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package supervisor

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bradleyjkemp/fuzzcheck/artifact"
)

// candidate is a failing unit minimization can restart from.
type candidate struct {
	path       string
	complexity float64
	size       int64
}

func (c candidate) less(o candidate) bool {
	if c.complexity != o.complexity {
		return c.complexity < o.complexity
	}
	if c.size != o.size {
		return c.size < o.size
	}
	return c.path < o.path
}

// candidates tracks the artifact files of a folder.
type candidates struct {
	mu sync.Mutex
	m  map[string]candidate
}

func newCandidates() *candidates {
	return &candidates{m: make(map[string]candidate)}
}

// load (re)reads path. A file without a recorded complexity ranks behind
// every file with one.
func (cs *candidates) load(path string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() {
		delete(cs.m, path)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		delete(cs.m, path)
		return
	}
	c := candidate{path: path, complexity: math.Inf(1), size: st.Size()}
	if r, err := artifact.Decode(data); err == nil && len(r.Unit) > 0 && r.Complexity != nil {
		c.complexity = *r.Complexity
	}
	cs.m[path] = c
}

func (cs *candidates) remove(path string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.m, path)
}

func (cs *candidates) scan(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		cs.load(filepath.Join(dir, e.Name()))
	}
	return nil
}

func (cs *candidates) best() (candidate, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	var (
		best  candidate
		found bool
	)
	for _, c := range cs.m {
		if !found || c.less(best) {
			best, found = c, true
		}
	}
	return best, found
}
