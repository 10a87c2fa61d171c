package dag

import (
	"slices"
	"testing"
)

// edges converts a list of (from, to) pairs over n nodes into adjacency
// lists.
func edges(n int, pairs ...[2]int) (incoming, outgoing [][]int) {
	incoming = make([][]int, n)
	outgoing = make([][]int, n)
	for _, p := range pairs {
		outgoing[p[0]] = append(outgoing[p[0]], p[1])
		incoming[p[1]] = append(incoming[p[1]], p[0])
	}
	return incoming, outgoing
}

func TestTopoOrder(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		pairs [][2]int
		want  []int
	}{
		{"empty", 0, nil, []int{}},
		{"independent", 3, nil, []int{0, 1, 2}},
		{"reversed chain", 3, [][2]int{{2, 1}, {1, 0}}, []int{2, 1, 0}},
		{"diamond", 4, [][2]int{{3, 1}, {3, 2}, {1, 0}, {2, 0}}, []int{3, 1, 2, 0}},
		{"smallest ready first", 4, [][2]int{{3, 0}}, []int{1, 2, 3, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, out := edges(tt.n, tt.pairs...)
			if got := TopoOrder(in, out); !slices.Equal(got, tt.want) {
				t.Errorf("TopoOrder() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTopoOrderCycle(t *testing.T) {
	in, out := edges(3, [2]int{0, 1}, [2]int{1, 2}, [2]int{2, 1})
	if got := TopoOrder(in, out); len(got) == 3 {
		t.Fatalf("TopoOrder() = %v on a cyclic graph", got)
	}
	if got, want := FindCycle(out), []int{1, 2, 1}; !slices.Equal(got, want) {
		t.Errorf("FindCycle() = %v, want %v", got, want)
	}
}

func TestFindCycleAcyclic(t *testing.T) {
	_, out := edges(3, [2]int{0, 1}, [2]int{0, 2}, [2]int{1, 2})
	if got := FindCycle(out); got != nil {
		t.Errorf("FindCycle() = %v, want nil", got)
	}
}

func TestReachable(t *testing.T) {
	_, out := edges(5, [2]int{0, 1}, [2]int{1, 2}, [2]int{3, 4})
	got := Reachable(out, []int{0})
	want := []bool{true, true, true, false, false}
	if !slices.Equal(got, want) {
		t.Errorf("Reachable() = %v, want %v", got, want)
	}
}
