package taskman

import "context"

// Executor runs the tasks of a Plan.
//
// Implementations must start a task only after all of its dependencies have
// returned successfully, must not start new tasks once one has failed, and
// must return the first task error unchanged.
type Executor interface {
	Execute(ctx context.Context, p *Plan) error
}

// Plan is the view of a Graph given to an Executor. Tasks are addressed by
// their position in the execution order.
type Plan struct {
	graph *Graph
}

// Len returns the number of tasks.
func (p *Plan) Len() int { return len(p.graph.tasks) }

// Label returns the label of task i.
func (p *Plan) Label(i int) string { return p.graph.tasks[i].label }

// Dependencies returns the positions of the tasks that task i waits for.
// The slice must not be modified.
func (p *Plan) Dependencies(i int) []int { return p.graph.tasks[i].deps }

// Dependents returns the positions of the tasks waiting for task i.
// The slice must not be modified.
func (p *Plan) Dependents(i int) []int { return p.graph.tasks[i].dependents }

// Layers groups task positions by dependency depth.
func (p *Plan) Layers() [][]int { return p.graph.layers }

// RunTask executes task i on the calling goroutine.
func (p *Plan) RunTask(ctx context.Context, i int) error {
	t := &p.graph.tasks[i]
	gc := &GraphContext{ctx: ctx, graph: p.graph, task: t}
	defer gc.done.Store(true)
	return t.task.Execute(gc)
}

// SerialExecutor runs tasks one at a time on the goroutine calling Run, in
// execution order.
type SerialExecutor struct{}

// Execute implements Executor.
func (SerialExecutor) Execute(ctx context.Context, p *Plan) error {
	for i := range p.Len() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.RunTask(ctx, i); err != nil {
			return err
		}
	}
	return nil
}
