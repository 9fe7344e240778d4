package validation

import (
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// **Circular Dependency Detection**
// Acyclic configuration graphs are ordered prerequisites first; graphs with a
// back edge are rejected with the cycle path.

const maxNodes = 12

// genDAG generates a random acyclic graph where node i may only depend on nodes < i.
func genDAG() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(1, maxNodes),
		gen.SliceOfN(maxNodes*maxNodes, gen.Bool()),
	).Map(func(values []interface{}) map[int][]int {
		n := values[0].(int)
		edges := values[1].([]bool)
		graph := make(map[int][]int, n)
		for i := 0; i < n; i++ {
			graph[i] = nil
			for j := 0; j < i; j++ {
				if edges[i*maxNodes+j] {
					graph[i] = append(graph[i], j)
				}
			}
		}
		return graph
	})
}

func newTestValidator() *DependencyValidator {
	return NewDependencyValidator(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func TestOrderProperty(t *testing.T) {
	v := newTestValidator()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every prerequisite precedes its dependent", prop.ForAll(
		func(graph map[int][]int) bool {
			order, err := v.Order(graph)
			if err != nil || len(order) != len(graph) {
				return false
			}
			pos := make(map[int]int, len(order))
			for i, n := range order {
				pos[n] = i
			}
			for node, deps := range graph {
				for _, d := range deps {
					if pos[d] >= pos[node] {
						return false
					}
				}
			}
			return true
		},
		genDAG(),
	))

	properties.Property("adding a back edge creates a reported cycle", prop.ForAll(
		func(graph map[int][]int) bool {
			// Find any edge i -> j and add j -> i.
			for i, deps := range graph {
				if len(deps) == 0 {
					continue
				}
				j := deps[0]
				graph[j] = append(graph[j], i)
				err := v.Validate(graph)
				var cycleErr *CycleError
				if !errors.As(err, &cycleErr) || !errors.Is(err, ErrCircularDependency) {
					return false
				}
				path := cycleErr.Path
				return len(path) >= 2 && path[0] == path[len(path)-1]
			}
			return true
		},
		genDAG(),
	))

	properties.TestingRun(t)
}

func TestSelfDependencyRejected(t *testing.T) {
	v := newTestValidator()
	err := v.Validate(map[int][]int{1: {1}})
	if !errors.Is(err, ErrCircularDependency) {
		t.Fatalf("expected circular dependency, got %v", err)
	}
}

func TestUnknownPrerequisitesIgnored(t *testing.T) {
	v := newTestValidator()
	order, err := v.Order(map[int][]int{1: {99}, 2: {1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("unexpected order %v", order)
	}
}
