// Package dag holds the graph algorithms shared by the task and pass
// schedulers. Nodes are dense integers; edges are adjacency lists.
package dag

import "container/heap"

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopoOrder returns a topological order of the nodes. Among ready nodes the
// smallest index is emitted first. A result shorter than len(incoming) means
// the graph has a cycle.
func TopoOrder(incoming, outgoing [][]int) []int {
	indeg := make([]int, len(incoming))
	ready := &intMinHeap{}
	for i := range incoming {
		indeg[i] = len(incoming[i])
		if indeg[i] == 0 {
			*ready = append(*ready, i)
		}
	}
	heap.Init(ready)

	out := make([]int, 0, len(incoming))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// FindCycle returns one cycle as a closed path [a, b, ..., a], or nil if the
// graph is acyclic. The search visits nodes in ascending order so the
// witness is stable.
func FindCycle(outgoing [][]int) []int {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(outgoing))
	var stack []int
	var cycle []int

	var visit func(u int) bool
	visit = func(u int) bool {
		color[u] = gray
		stack = append(stack, u)
		for _, v := range outgoing[u] {
			switch color[v] {
			case white:
				if visit(v) {
					return true
				}
			case gray:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == v {
						cycle = append(cycle, stack[i:]...)
						cycle = append(cycle, v)
						return true
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[u] = black
		return false
	}

	for i := range outgoing {
		if color[i] == white && visit(i) {
			break
		}
	}
	return cycle
}

// Reachable marks every node reachable from roots by following edges,
// roots included.
func Reachable(edges [][]int, roots []int) []bool {
	seen := make([]bool, len(edges))
	stack := make([]int, 0, len(roots))
	for _, r := range roots {
		if !seen[r] {
			seen[r] = true
			stack = append(stack, r)
		}
	}
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, v := range edges[u] {
			if !seen[v] {
				seen[v] = true
				stack = append(stack, v)
			}
		}
	}
	return seen
}
