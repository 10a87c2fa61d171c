package taskman

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/internal/dag"
)

// BuilderOption configures a GraphBuilder.
type BuilderOption func(*builderOptions)

type builderOptions struct {
	label    string
	executor Executor
}

func defaultBuilderOptions() builderOptions {
	return builderOptions{
		label:    "graph",
		executor: SerialExecutor{},
	}
}

// WithLabel names the graph in logs.
func WithLabel(label string) BuilderOption {
	return func(o *builderOptions) {
		o.label = label
	}
}

// WithExecutor selects how the built graph runs its tasks. The default is
// SerialExecutor.
//
// Example:
//
//	pool := taskman.NewPoolExecutor(0)
//	defer pool.Close()
//	b := taskman.NewGraphBuilder(taskman.WithExecutor(pool))
func WithExecutor(e Executor) BuilderOption {
	return func(o *builderOptions) {
		if e != nil {
			o.executor = e
		}
	}
}

// GraphBuilder accumulates cells and tasks and validates them into a Graph.
// It is not safe for concurrent use.
type GraphBuilder struct {
	serial uint32
	opts   builderOptions
	cells  []cell
	tasks  []TaskInfo
	built  bool
}

// NewGraphBuilder returns an empty builder.
func NewGraphBuilder(opts ...BuilderOption) *GraphBuilder {
	o := defaultBuilderOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &GraphBuilder{
		serial: builderSerial.Add(1),
		opts:   o,
	}
}

// DefineTask registers a task and returns its reference. The uses are
// validated by Build, not here.
func (b *GraphBuilder) DefineTask(info TaskInfo) TaskRef {
	b.mustNotBeBuilt()
	if info.Task == nil {
		panic("taskman: TaskInfo.Task is nil")
	}
	info.CellUses = append([]CellUse(nil), info.CellUses...)
	b.tasks = append(b.tasks, info)
	return TaskRef(len(b.tasks) - 1)
}

// NumCells returns the number of cells defined so far.
func (b *GraphBuilder) NumCells() int { return len(b.cells) }

// NumTasks returns the number of tasks defined so far.
func (b *GraphBuilder) NumTasks() int { return len(b.tasks) }

func (b *GraphBuilder) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "GraphBuilder %q: %d cells, %d tasks\n", b.opts.label, len(b.cells), len(b.tasks))
	for i := range b.tasks {
		info := &b.tasks[i]
		fmt.Fprintf(&sb, "  %s %q", TaskRef(i), info.Label)
		for _, u := range info.CellUses {
			sb.WriteString(" ")
			sb.WriteString(u.String())
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (b *GraphBuilder) mustNotBeBuilt() {
	if b.built {
		panic("taskman: GraphBuilder used after Build")
	}
}

func (b *GraphBuilder) owns(id CellID) bool {
	return id.graph == b.serial && id.index >= 0 && id.index < len(b.cells)
}

func (b *GraphBuilder) label(i int) string { return taskLabel(&b.tasks[i], TaskRef(i)) }

// Build validates the graph and computes its execution order.
//
// When outputs is empty every task is kept. Otherwise only the producers of
// the output cells and the tasks they transitively depend on are kept.
//
// Build consumes the builder: further calls to DefineCell, DefineTask or
// Build are invalid.
func (b *GraphBuilder) Build(outputs ...CellID) (*Graph, error) {
	if b.built {
		return nil, ErrBuilderConsumed
	}
	b.built = true

	n := len(b.tasks)
	producer := make([]int, len(b.cells))
	for i := range producer {
		producer[i] = -1
	}

	for i := range b.tasks {
		for _, u := range b.tasks[i].CellUses {
			if !b.owns(u.Cell) {
				return nil, buildErrorf(ErrUndefinedCell, "task %q uses %s", b.label(i), u.Cell)
			}
			if u.Kind != Producer {
				continue
			}
			switch p := producer[u.Cell.index]; {
			case p < 0:
				producer[u.Cell.index] = i
			case p != i:
				return nil, buildErrorf(ErrMultipleProducers, "%s is produced by %q and %q",
					u.Cell, b.label(p), b.label(i))
			}
		}
	}

	for _, out := range outputs {
		if !b.owns(out) {
			return nil, buildErrorf(ErrUndefinedCell, "output %s", out)
		}
	}

	// incoming[c] lists the producers c consumes from, ascending.
	incoming := make([][]int, n)
	outgoing := make([][]int, n)
	mark := make([]int, n)
	for c := range b.tasks {
		for _, u := range b.tasks[c].CellUses {
			if u.Kind != Consumer {
				continue
			}
			p := producer[u.Cell.index]
			switch {
			case p < 0:
				continue
			case p == c:
				l := b.label(c)
				return nil, cycleError([]string{l, l})
			case mark[p] == c+1:
				continue
			}
			mark[p] = c + 1
			incoming[c] = append(incoming[c], p)
		}
		slices.Sort(incoming[c])
		for _, p := range incoming[c] {
			outgoing[p] = append(outgoing[p], c)
		}
	}

	order := dag.TopoOrder(incoming, outgoing)
	if len(order) != n {
		path := dag.FindCycle(outgoing)
		labels := make([]string, len(path))
		for i, t := range path {
			labels[i] = b.label(t)
		}
		return nil, cycleError(labels)
	}

	var keep []bool
	if len(outputs) == 0 {
		keep = make([]bool, n)
		for i := range keep {
			keep[i] = true
		}
	} else {
		var roots []int
		for _, out := range outputs {
			if p := producer[out.index]; p >= 0 {
				roots = append(roots, p)
			}
		}
		keep = dag.Reachable(incoming, roots)
	}

	g := b.newGraph(order, keep, incoming, outgoing)

	framegraph.Logger().Debug("taskman: graph built",
		"graph", b.opts.label,
		"cells", len(b.cells),
		"tasks", len(g.tasks),
		"pruned", n-len(g.tasks),
		"layers", len(g.layers))
	return g, nil
}

func (b *GraphBuilder) newGraph(order []int, keep []bool, incoming, outgoing [][]int) *Graph {
	pos := make([]int, len(b.tasks))
	kept := 0
	for _, t := range order {
		pos[t] = -1
		if keep[t] {
			pos[t] = kept
			kept++
		}
	}

	g := &Graph{
		serial:   b.serial,
		label:    b.opts.label,
		executor: b.opts.executor,
		cells:    b.cells,
		tasks:    make([]graphTask, 0, kept),
	}

	for _, t := range order {
		if !keep[t] {
			continue
		}
		info := &b.tasks[t]
		gt := graphTask{
			ref:   TaskRef(t),
			label: b.label(t),
			task:  info.Task,
			uses:  make(map[int]UseKind, len(info.CellUses)),
		}
		for _, u := range info.CellUses {
			if k, ok := gt.uses[u.Cell.index]; !ok || k < u.Kind {
				gt.uses[u.Cell.index] = u.Kind
			}
		}
		for _, p := range incoming[t] {
			gt.deps = append(gt.deps, pos[p])
			if d := g.tasks[pos[p]].depth + 1; d > gt.depth {
				gt.depth = d
			}
		}
		for _, c := range outgoing[t] {
			if keep[c] {
				gt.dependents = append(gt.dependents, pos[c])
			}
		}
		g.tasks = append(g.tasks, gt)
	}

	// Dependents were collected in registration order; execution positions
	// are what executors index by.
	for i := range g.tasks {
		slices.Sort(g.tasks[i].deps)
		slices.Sort(g.tasks[i].dependents)
		d := g.tasks[i].depth
		for len(g.layers) <= d {
			g.layers = append(g.layers, nil)
		}
		g.layers[d] = append(g.layers[d], i)
	}
	return g
}
