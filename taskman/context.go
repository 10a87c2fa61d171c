package taskman

import (
	"context"
	"fmt"
	"sync/atomic"
)

// GraphContext is the view of the graph handed to a running task. It grants
// access to the cells the task declared, in the declared mode, and only until
// Execute returns.
type GraphContext struct {
	ctx   context.Context
	graph *Graph
	task  *graphTask
	done  atomic.Bool
}

// Context returns the context passed to Graph.Run.
func (c *GraphContext) Context() context.Context { return c.ctx }

// TaskLabel returns the label of the running task.
func (c *GraphContext) TaskLabel() string { return c.task.label }

// TaskRef returns the reference of the running task.
func (c *GraphContext) TaskRef() TaskRef { return c.task.ref }

func (c *GraphContext) check(id CellID, mutable bool) {
	if c.done.Load() {
		panic(fmt.Sprintf("taskman: %s accessed after task %q returned", id, c.task.label))
	}
	if id.graph != c.graph.serial {
		panic(fmt.Sprintf("taskman: task %q accessed %s of another graph", c.task.label, id))
	}
	kind, ok := c.task.uses[id.index]
	if !ok {
		panic(fmt.Sprintf("taskman: task %q accessed undeclared %s", c.task.label, id))
	}
	if mutable && kind != Producer {
		panic(fmt.Sprintf("taskman: task %q borrowed %s mutably but declared it as %s", c.task.label, id, kind))
	}
}

// Borrow returns the value of a cell the running task declared as consumed
// or produced.
func Borrow[T any](c *GraphContext, ref CellRef[T]) T {
	c.check(ref.id, false)
	return lookupCell(c.graph.serial, c.graph.cells, ref).value
}

// BorrowMut returns a pointer to a cell the running task declared as
// produced. The pointer must not be retained after Execute returns.
func BorrowMut[T any](c *GraphContext, ref CellRef[T]) *T {
	c.check(ref.id, true)
	return &lookupCell(c.graph.serial, c.graph.cells, ref).value
}
