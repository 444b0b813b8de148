package manifest

import (
	"sort"
)

// Graph holds the dependency and incompatibility relations over
// component indexes. Edges point from a component to its dependencies.
// The incompatibility relation is symmetric.
type Graph struct {
	deps       [][]int
	dependents [][]int
	incompat   []map[int]bool
}

func newGraph(n int) *Graph {
	g := &Graph{
		deps:       make([][]int, n),
		dependents: make([][]int, n),
		incompat:   make([]map[int]bool, n),
	}
	for i := range g.incompat {
		g.incompat[i] = make(map[int]bool)
	}
	return g
}

// addDependency adds from→to unless it would close a cycle, in which
// case the cycle (from, to, ..., from) is returned.
func (g *Graph) addDependency(from, to int) []int {
	for _, d := range g.deps[from] {
		if d == to {
			return nil
		}
	}
	if cycle := g.path(to, from); cycle != nil {
		return append([]int{from}, cycle...)
	}
	g.deps[from] = append(g.deps[from], to)
	g.dependents[to] = append(g.dependents[to], from)
	return nil
}

func (g *Graph) addIncompatibility(a, b int) {
	g.incompat[a][b] = true
	g.incompat[b][a] = true
}

// path returns the nodes of a dependency path from src to dst inclusive,
// or nil if dst is unreachable. BFS keeps the path shortest.
func (g *Graph) path(src, dst int) []int {
	if src == dst {
		return []int{src}
	}
	parent := map[int]int{src: -1}
	queue := []int{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.deps[cur] {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur
			if next == dst {
				var rev []int
				for n := dst; n != -1; n = parent[n] {
					rev = append(rev, n)
				}
				for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
					rev[i], rev[j] = rev[j], rev[i]
				}
				return rev
			}
			queue = append(queue, next)
		}
	}
	return nil
}

// Dependencies returns the direct dependencies of i in declaration order
// of the dependency list
func (g *Graph) Dependencies(i int) []int {
	return append([]int(nil), g.deps[i]...)
}

// Dependents returns the components that directly depend on i
func (g *Graph) Dependents(i int) []int {
	return append([]int(nil), g.dependents[i]...)
}

// Incompatible reports whether a and b are declared incompatible
func (g *Graph) Incompatible(a, b int) bool {
	return g.incompat[a][b]
}

// IncompatibleWith returns the sorted indexes incompatible with i
func (g *Graph) IncompatibleWith(i int) []int {
	out := make([]int, 0, len(g.incompat[i]))
	for j := range g.incompat[i] {
		out = append(out, j)
	}
	sort.Ints(out)
	return out
}

// Closure returns the transitive dependency closure of roots, roots
// included, as a sorted index set.
func (g *Graph) Closure(roots ...int) []int {
	seen := make(map[int]bool, len(roots))
	stack := append([]int(nil), roots...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, g.deps[n]...)
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// ReverseClosure returns every component that transitively depends on
// one of roots, roots included, sorted.
func (g *Graph) ReverseClosure(roots ...int) []int {
	seen := make(map[int]bool, len(roots))
	stack := append([]int(nil), roots...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, g.dependents[n]...)
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
