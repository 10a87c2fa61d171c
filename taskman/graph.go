package taskman

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gogpu/framegraph"
	"github.com/google/uuid"
)

// RunState is the lifecycle state of a Graph.
type RunState int32

const (
	// StateBuilt means the graph has never been run.
	StateBuilt RunState = iota
	// StateRunning means a Run is in progress.
	StateRunning
	// StateCompleted means the last Run executed every task successfully.
	StateCompleted
	// StateFailed means the last Run stopped early because a task returned an
	// error or panicked, or the context was cancelled.
	StateFailed
)

func (s RunState) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("RunState(%d)", int32(s))
	}
}

type graphTask struct {
	ref        TaskRef
	label      string
	task       Task
	uses       map[int]UseKind
	deps       []int
	dependents []int
	depth      int
}

// Graph is a validated, ordered set of tasks together with the storage of
// its cells. The structure is immutable; cell values persist between runs.
//
// A Graph may be run any number of times, but not concurrently with itself.
type Graph struct {
	serial   uint32
	label    string
	executor Executor
	cells    []cell
	tasks    []graphTask // execution order
	layers   [][]int

	running atomic.Bool
	state   atomic.Int32
}

// Len returns the number of tasks kept in the graph.
func (g *Graph) Len() int { return len(g.tasks) }

// State returns the current lifecycle state.
func (g *Graph) State() RunState { return RunState(g.state.Load()) }

// Order returns the tasks in execution order.
func (g *Graph) Order() []TaskRef {
	refs := make([]TaskRef, len(g.tasks))
	for i := range g.tasks {
		refs[i] = g.tasks[i].ref
	}
	return refs
}

// Layers groups the tasks by dependency depth. Tasks in one layer do not
// depend on each other.
func (g *Graph) Layers() [][]TaskRef {
	out := make([][]TaskRef, len(g.layers))
	for d, layer := range g.layers {
		out[d] = make([]TaskRef, len(layer))
		for i, p := range layer {
			out[d][i] = g.tasks[p].ref
		}
	}
	return out
}

// Label returns the label of a task kept in the graph, or "" if the task was
// pruned.
func (g *Graph) Label(ref TaskRef) string {
	for i := range g.tasks {
		if g.tasks[i].ref == ref {
			return g.tasks[i].label
		}
	}
	return ""
}

// Run executes every task once, in dependency order, using the graph's
// executor.
//
// If a task returns an error no further task is started and the error is
// returned unchanged. A panic in a task is re-raised on the calling
// goroutine. ctx is checked between tasks only; a running task is never
// interrupted.
func (g *Graph) Run(ctx context.Context) (err error) {
	if !g.running.CompareAndSwap(false, true) {
		return ErrGraphRunning
	}
	g.state.Store(int32(StateRunning))

	log := framegraph.Logger()
	runID := uuid.New()
	start := time.Now()

	completed := false
	defer func() {
		if completed {
			g.state.Store(int32(StateCompleted))
		} else {
			g.state.Store(int32(StateFailed))
		}
		g.running.Store(false)
	}()

	err = g.executor.Execute(ctx, &Plan{graph: g})
	if err != nil {
		log.Warn("taskman: run aborted",
			"graph", g.label,
			"run", runID.String(),
			"error", err)
		return err
	}
	completed = true
	log.Debug("taskman: run completed",
		"graph", g.label,
		"run", runID.String(),
		"tasks", len(g.tasks),
		"elapsed", time.Since(start))
	return nil
}

// CellValue returns a pointer to the value of a cell so the caller can
// populate cells without a producer before Run, or read results after it.
// It panics if the graph is running or ref belongs to another graph.
func CellValue[T any](g *Graph, ref CellRef[T]) *T {
	if g.running.Load() {
		panic("taskman: CellValue called while the graph is running")
	}
	return &lookupCell(g.serial, g.cells, ref).value
}
