package taskman

import "fmt"

// Task is a unit of work run by a Graph.
//
// Execute may only access the cells declared in the TaskInfo it was
// registered with, and only through ctx. A non-nil error aborts the run.
type Task interface {
	Execute(ctx *GraphContext) error
}

// TaskFunc adapts an ordinary function to the Task interface.
type TaskFunc func(ctx *GraphContext) error

// Execute calls f(ctx).
func (f TaskFunc) Execute(ctx *GraphContext) error { return f(ctx) }

// NewTask returns a Task that calls fn with data on every execution.
func NewTask[D any](data D, fn func(data D, ctx *GraphContext) error) Task {
	return &dataTask[D]{data: data, fn: fn}
}

type dataTask[D any] struct {
	data D
	fn   func(D, *GraphContext) error
}

func (t *dataTask[D]) Execute(ctx *GraphContext) error { return t.fn(t.data, ctx) }

// TaskInfo describes a task to register with GraphBuilder.DefineTask.
type TaskInfo struct {
	// Label names the task in errors and logs. Optional.
	Label string

	// CellUses lists every cell the task touches. It is fixed at build time.
	CellUses []CellUse

	Task Task
}

// TaskRef identifies a registered task. Tasks are numbered in registration
// order starting at zero.
type TaskRef int

func (r TaskRef) String() string { return fmt.Sprintf("task#%d", int(r)) }

func taskLabel(info *TaskInfo, ref TaskRef) string {
	if info.Label != "" {
		return info.Label
	}
	return ref.String()
}
