// Package validation checks build configuration dependency graphs before any
// build task is created.
package validation

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
)

// ErrCircularDependency is returned when a configuration graph contains a cycle.
var ErrCircularDependency = errors.New("circular dependency")

// CycleError reports the configurations forming a cycle, first node repeated last.
type CycleError struct {
	Path []int
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = strconv.Itoa(id)
	}
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(parts, " -> "))
}

func (e *CycleError) Unwrap() error {
	return ErrCircularDependency
}

// DependencyValidator validates configuration dependencies for cycles and self-references.
type DependencyValidator struct {
	logger *slog.Logger
}

// NewDependencyValidator creates a new DependencyValidator.
func NewDependencyValidator(logger *slog.Logger) *DependencyValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &DependencyValidator{logger: logger}
}

// Order validates graph (configuration id -> prerequisite ids) and returns its
// nodes in dependency order, prerequisites first. Prerequisites that are not
// keys of graph are ignored. Ties are broken by ascending id so the order is
// deterministic.
func (v *DependencyValidator) Order(graph map[int][]int) ([]int, error) {
	for node, deps := range graph {
		for _, dep := range deps {
			if dep == node {
				return nil, &CycleError{Path: []int{node, node}}
			}
		}
	}

	nodes := make([]int, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	sort.Ints(nodes)

	inDegree := make(map[int]int, len(nodes))
	forward := make(map[int][]int)
	for _, n := range nodes {
		for _, dep := range graph[n] {
			if _, known := graph[dep]; !known {
				continue
			}
			inDegree[n]++
			forward[dep] = append(forward[dep], n)
		}
	}

	var ready []int
	for _, n := range nodes {
		if inDegree[n] == 0 {
			ready = append(ready, n)
		}
	}

	sorted := make([]int, 0, len(nodes))
	for len(ready) > 0 {
		node := ready[0]
		ready = ready[1:]
		sorted = append(sorted, node)

		dependents := forward[node]
		sort.Ints(dependents)
		for _, d := range dependents {
			inDegree[d]--
			if inDegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(sorted) == len(nodes) {
		return sorted, nil
	}

	cycle := v.detectCycle(nodes, graph)
	v.logger.Warn("rejected cyclic configuration graph", "cycle", cycle)
	return nil, &CycleError{Path: cycle}
}

// Validate reports whether graph is acyclic.
func (v *DependencyValidator) Validate(graph map[int][]int) error {
	_, err := v.Order(graph)
	return err
}

// detectCycle performs a depth-first search and returns the first cycle found.
func (v *DependencyValidator) detectCycle(nodes []int, graph map[int][]int) []int {
	visited := make(map[int]bool)
	recStack := make(map[int]bool)

	var dfs func(node int, path []int) []int
	dfs = func(node int, path []int) []int {
		visited[node] = true
		recStack[node] = true
		currentPath := append(path, node)

		for _, neighbor := range graph[node] {
			if _, exists := graph[neighbor]; !exists {
				continue
			}

			if !visited[neighbor] {
				if cycle := dfs(neighbor, currentPath); cycle != nil {
					return cycle
				}
			} else if recStack[neighbor] {
				cycleStart := 0
				for i, n := range currentPath {
					if n == neighbor {
						cycleStart = i
						break
					}
				}
				cycle := append([]int(nil), currentPath[cycleStart:]...)
				return append(cycle, neighbor)
			}
		}

		recStack[node] = false
		return nil
	}

	for _, node := range nodes {
		if !visited[node] {
			if cycle := dfs(node, nil); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
