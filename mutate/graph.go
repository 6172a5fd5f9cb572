// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutate

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/bradleyjkemp/fuzzcheck/random"
)

const (
	AddVertex          = "add-vertex"
	RemoveVertex       = "remove-vertex"
	AddEdge            = "add-edge"
	RemoveEdge         = "remove-edge"
	SplitEdge          = "split-edge"
	DuplicateReachable = "duplicate-reachable"
	MutateVertex       = "mutate-vertex"
)

// Graph is a directed graph with a payload on every vertex.
// Edges[i] lists the successors of vertex i; it always has len(Vertices) entries.
type Graph[V any] struct {
	Vertices []V     `json:"vertices"`
	Edges    [][]int `json:"edges"`
}

// Validate checks that Edges has one list per vertex and that every edge ends
// at an existing vertex, at most once per source.
func (g *Graph[V]) Validate() error {
	if len(g.Edges) != len(g.Vertices) {
		return fmt.Errorf("graph has %d vertices but %d adjacency lists", len(g.Vertices), len(g.Edges))
	}
	for from, succ := range g.Edges {
		for i, to := range succ {
			if to < 0 || to >= len(g.Vertices) {
				return fmt.Errorf("edge %d->%d points outside the %d vertices", from, to, len(g.Vertices))
			}
			if slices.Contains(succ[:i], to) {
				return fmt.Errorf("duplicate edge %d->%d", from, to)
			}
		}
	}
	return nil
}

// graphFields has the fields of Graph without its methods.
type graphFields[V any] Graph[V]

func (g *Graph[V]) UnmarshalJSON(data []byte) error {
	var fields graphFields[V]
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	v := Graph[V](fields)
	if err := v.Validate(); err != nil {
		return err
	}
	*g = v
	return nil
}

func (g *Graph[V]) NumEdges() int {
	n := 0
	for _, succ := range g.Edges {
		n += len(succ)
	}
	return n
}

func (g *Graph[V]) HasEdge(from, to int) bool {
	return slices.Contains(g.Edges[from], to)
}

// Reachable returns the vertices reachable from start, start first, in
// breadth-first order.
func (g *Graph[V]) Reachable(start int) []int {
	seen := make([]bool, len(g.Vertices))
	seen[start] = true
	order := []int{start}
	for i := 0; i < len(order); i++ {
		for _, s := range g.Edges[order[i]] {
			if !seen[s] {
				seen[s] = true
				order = append(order, s)
			}
		}
	}
	return order
}

// RemoveVertex deletes vertex k with all edges touching it and renumbers the
// vertices after it.
func (g *Graph[V]) RemoveVertex(k int) {
	g.Vertices = slices.Delete(g.Vertices, k, k+1)
	g.Edges = slices.Delete(g.Edges, k, k+1)
	for i, succ := range g.Edges {
		succ = slices.DeleteFunc(succ, func(s int) bool { return s == k })
		for j, s := range succ {
			if s > k {
				succ[j] = s - 1
			}
		}
		g.Edges[i] = succ
	}
}

// edgeAt returns the k-th edge in adjacency order.
func (g *Graph[V]) edgeAt(k int) (int, int) {
	for u, succ := range g.Edges {
		if k < len(succ) {
			return u, k
		}
		k -= len(succ)
	}
	panic("mutate: edge index out of range")
}

// GraphGenerator generates graphs whose vertex payloads come from Vertex.
type GraphGenerator[V any] struct {
	Vertex Generator[V]
	// MaxVertices caps growth. Zero means unbounded.
	MaxVertices int
	Mutators    *Set[Graph[V]]
}

func NewGraph[V any](vertex Generator[V]) *GraphGenerator[V] {
	g := &GraphGenerator[V]{Vertex: vertex}
	g.Mutators = NewSet(
		Mutator[Graph[V]]{Name: AddVertex, Weight: 20, Apply: g.addVertex},
		Mutator[Graph[V]]{Name: RemoveVertex, Weight: 10, Apply: g.removeVertex},
		Mutator[Graph[V]]{Name: AddEdge, Weight: 30, Apply: g.addEdge},
		Mutator[Graph[V]]{Name: RemoveEdge, Weight: 15, Apply: g.removeEdge},
		Mutator[Graph[V]]{Name: SplitEdge, Weight: 10, Apply: g.splitEdge},
		Mutator[Graph[V]]{Name: DuplicateReachable, Weight: 5, Apply: g.duplicateReachable},
		Mutator[Graph[V]]{Name: MutateVertex, Weight: 30, Apply: g.mutateVertex},
	)
	return g
}

func (g *GraphGenerator[V]) Base() Graph[V] { return Graph[V]{} }

func (g *GraphGenerator[V]) New(r *random.Rand) Graph[V] {
	var v Graph[V]
	n := r.Intn(5)
	if g.MaxVertices > 0 && n > g.MaxVertices {
		n = g.MaxVertices
	}
	for i := 0; i < n; i++ {
		g.push(&v, g.Vertex.New(r))
	}
	for i := r.Intn(n + 1); i > 0; i-- {
		g.addEdge(&v, r)
	}
	return v
}

func (g *GraphGenerator[V]) Mutate(v *Graph[V], r *random.Rand) bool {
	return g.Mutators.Mutate(v, r)
}

func (g *GraphGenerator[V]) MutatorStats() []Stat { return g.Mutators.Stats() }

func (g *GraphGenerator[V]) Complexity(v Graph[V]) float64 {
	c := 1.0
	for _, x := range v.Vertices {
		c += g.Vertex.Complexity(x)
	}
	return c + float64(v.NumEdges())
}

func (g *GraphGenerator[V]) Clone(v Graph[V]) Graph[V] {
	out := Graph[V]{}
	if v.Vertices != nil {
		out.Vertices = make([]V, len(v.Vertices))
		for i, x := range v.Vertices {
			out.Vertices[i] = g.Vertex.Clone(x)
		}
	}
	if v.Edges != nil {
		out.Edges = make([][]int, len(v.Edges))
		for i, succ := range v.Edges {
			out.Edges[i] = slices.Clone(succ)
		}
	}
	return out
}

func (g *GraphGenerator[V]) full(v *Graph[V]) bool {
	return g.MaxVertices > 0 && len(v.Vertices) >= g.MaxVertices
}

func (g *GraphGenerator[V]) push(v *Graph[V], x V) int {
	v.Vertices = append(v.Vertices, x)
	v.Edges = append(v.Edges, nil)
	return len(v.Vertices) - 1
}

func (g *GraphGenerator[V]) addVertex(v *Graph[V], r *random.Rand) bool {
	if g.full(v) {
		return false
	}
	g.push(v, g.Vertex.New(r))
	return true
}

func (g *GraphGenerator[V]) removeVertex(v *Graph[V], r *random.Rand) bool {
	if len(v.Vertices) == 0 {
		return false
	}
	v.RemoveVertex(r.Intn(len(v.Vertices)))
	return true
}

func (g *GraphGenerator[V]) addEdge(v *Graph[V], r *random.Rand) bool {
	n := len(v.Vertices)
	if n == 0 {
		return false
	}
	from, to := r.Intn(n), r.Intn(n)
	if v.HasEdge(from, to) {
		return false
	}
	v.Edges[from] = append(v.Edges[from], to)
	return true
}

func (g *GraphGenerator[V]) removeEdge(v *Graph[V], r *random.Rand) bool {
	m := v.NumEdges()
	if m == 0 {
		return false
	}
	from, idx := v.edgeAt(r.Intn(m))
	v.Edges[from] = slices.Delete(v.Edges[from], idx, idx+1)
	return true
}

// splitEdge replaces u->w with u->x->w for a new vertex x.
func (g *GraphGenerator[V]) splitEdge(v *Graph[V], r *random.Rand) bool {
	m := v.NumEdges()
	if m == 0 || g.full(v) {
		return false
	}
	from, idx := v.edgeAt(r.Intn(m))
	to := v.Edges[from][idx]
	x := g.push(v, g.Vertex.New(r))
	v.Edges[from][idx] = x
	v.Edges[x] = []int{to}
	return true
}

// duplicateReachable copies the subgraph reachable from a random vertex.
// Edges inside the copied set point at the copies; edges leaving it keep
// their original targets.
func (g *GraphGenerator[V]) duplicateReachable(v *Graph[V], r *random.Rand) bool {
	n := len(v.Vertices)
	if n == 0 {
		return false
	}
	set := v.Reachable(r.Intn(n))
	if g.MaxVertices > 0 {
		room := g.MaxVertices - n
		if room < 1 {
			return false
		}
		if len(set) > room {
			set = set[:room]
		}
	}
	copies := make(map[int]int, len(set))
	for _, u := range set {
		copies[u] = g.push(v, g.Vertex.Clone(v.Vertices[u]))
	}
	for _, u := range set {
		var succ []int
		for _, s := range v.Edges[u] {
			if c, ok := copies[s]; ok {
				s = c
			}
			succ = append(succ, s)
		}
		v.Edges[copies[u]] = succ
	}
	return true
}

func (g *GraphGenerator[V]) mutateVertex(v *Graph[V], r *random.Rand) bool {
	if len(v.Vertices) == 0 {
		return false
	}
	return g.Vertex.Mutate(&v.Vertices[r.Intn(len(v.Vertices))], r)
}
