package compiler

import (
	"errors"
	"fmt"
	"strings"
)

// CycleError reports recipes whose references form a loop.
type CycleError struct {
	Path []string // e.g. ["a", "b", "a"]
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("recipe reference cycle: %s", strings.Join(e.Path, " → "))
}

// IsCycleError reports whether err is or wraps a *CycleError.
func IsCycleError(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}

// referenceGraph maps a recipe name to the defined recipes it references.
// References to recipes outside the set (such as the registry's default)
// are not edges.
type referenceGraph struct {
	nodes []string // definition order
	edges map[string][]string
}

func buildReferenceGraph(defs []RecipeDef) referenceGraph {
	g := referenceGraph{edges: make(map[string][]string, len(defs))}
	defined := make(map[string]bool, len(defs))
	for _, d := range defs {
		defined[d.Name] = true
	}
	for _, d := range defs {
		g.nodes = append(g.nodes, d.Name)
		g.edges[d.Name] = []string{}
		if d.Reference != "" && defined[d.Reference] {
			g.edges[d.Name] = append(g.edges[d.Name], d.Reference)
		}
	}
	return g
}

// OrderRecipes returns defs ordered so that every recipe follows the
// recipe it references. Independent recipes keep their definition order.
// Names must already be unique; see Validate.
func OrderRecipes(defs []RecipeDef) ([]RecipeDef, error) {
	g := buildReferenceGraph(defs)
	sccs := tarjanSCC(g)

	byName := make(map[string]RecipeDef, len(defs))
	for _, d := range defs {
		byName[d.Name] = d
	}

	// Tarjan emits a component only after everything it reaches, so
	// referenced recipes come out first.
	ordered := make([]RecipeDef, 0, len(defs))
	for _, scc := range sccs {
		if len(scc) > 1 || hasSelfLoop(scc[0], g) {
			return nil, &CycleError{Path: cyclePath(scc, g)}
		}
		ordered = append(ordered, byName[scc[0]])
	}
	return ordered, nil
}

func hasSelfLoop(node string, g referenceGraph) bool {
	for _, n := range g.edges[node] {
		if n == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm,
// visiting roots in definition order so the result is deterministic.
func tarjanSCC(g referenceGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.edges[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range g.nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// cyclePath follows references from the component's earliest defined
// member until it returns to it.
func cyclePath(scc []string, g referenceGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}
	start := scc[0]
	for _, n := range g.nodes {
		if members[n] {
			start = n
			break
		}
	}
	path := []string{start}
	for cur := start; ; {
		next := ""
		for _, n := range g.edges[cur] {
			if members[n] {
				next = n
				break
			}
		}
		if next == "" {
			return path
		}
		path = append(path, next)
		if next == start {
			return path
		}
		cur = next
	}
}
