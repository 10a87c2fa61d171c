// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package ring adds taskman tasks that pick a slot of a fixed-size ring
// buffer for every run of a graph.
//
// The ring itself (argument tables, uniform buffers, staging memory) is
// allocated by the client; this package only hands out indices. A slot is
// not handed out again until the command buffer submitted in the run that
// last used it has completed, so the CPU never writes an entry the GPU may
// still read.
package ring

import (
	"fmt"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/gfx"
	"github.com/gogpu/framegraph/taskman"
)

// Builder defines the ring index cell and, through AddToGraph, the tasks
// that maintain it.
type Builder struct {
	n     int
	index taskman.CellRef[int]
	added bool
}

// NewBuilder defines the index cell in gb. It panics if n is not positive.
func NewBuilder(gb *taskman.GraphBuilder, n int) *Builder {
	if n <= 0 {
		panic(fmt.Sprintf("ring: invalid length %d", n))
	}
	return &Builder{n: n, index: taskman.DefineCell(gb, 0)}
}

// Len returns the number of slots.
func (b *Builder) Len() int { return b.n }

// Index returns the cell holding the slot of the current run, in
// [0, Len()). Tasks that access the ring consume it.
func (b *Builder) Index() taskman.CellRef[int] { return b.index }

// AddToGraph registers two tasks with gb:
//
//   - the acquire task selects the least recently used slot, waits for the
//     command buffer stored in it and publishes the slot through Index;
//   - the store task records the command buffer result of the current run
//     in that slot.
//
// result must be produced by the task that commits the command buffer, for
// example a cell of cbtasks.CmdBufferTaskCellSet.CmdBufferResults. A failed
// command buffer makes the acquire task of a later run return its error.
// AddToGraph panics when called twice.
func (b *Builder) AddToGraph(gb *taskman.GraphBuilder, result taskman.CellRef[*gfx.CmdBufferResult]) {
	if b.added {
		panic("ring: AddToGraph called twice")
	}
	b.added = true

	st := taskman.DefineCell(gb, &state{results: make([]*gfx.CmdBufferResult, b.n)})
	gb.DefineTask(taskman.TaskInfo{
		Label:    "ring.acquire",
		CellUses: []taskman.CellUse{st.UseAsProducer(), b.index.UseAsProducer()},
		Task:     &acquireTask{state: st, index: b.index},
	})
	gb.DefineTask(taskman.TaskInfo{
		Label:    "ring.store",
		CellUses: []taskman.CellUse{st.UseAsConsumer(), b.index.UseAsConsumer(), result.UseAsConsumer()},
		Task:     &storeTask{state: st, index: b.index, result: result},
	})
}

// state is shared through a pointer cell and carries results from one run
// to the next, an edge the task graph cannot express. The store task
// mutates it while declared as a consumer. It also consumes the index, so
// it always runs after the acquire task of the same run, and runs of a
// graph never overlap.
type state struct {
	results []*gfx.CmdBufferResult
	next    int
}

type acquireTask struct {
	state taskman.CellRef[*state]
	index taskman.CellRef[int]
}

func (t *acquireTask) Execute(ctx *taskman.GraphContext) error {
	st := taskman.Borrow(ctx, t.state)
	i := st.next
	if r := st.results[i]; r != nil {
		if done, _ := r.Poll(); !done {
			framegraph.Logger().Debug("ring: waiting for slot", "slot", i)
		}
		if err := r.Wait(ctx.Context()); err != nil {
			if done, _ := r.Poll(); done {
				st.results[i] = nil
			}
			return fmt.Errorf("ring: slot %d: %w", i, err)
		}
		st.results[i] = nil
	}
	*taskman.BorrowMut(ctx, t.index) = i
	return nil
}

type storeTask struct {
	state  taskman.CellRef[*state]
	index  taskman.CellRef[int]
	result taskman.CellRef[*gfx.CmdBufferResult]
}

func (t *storeTask) Execute(ctx *taskman.GraphContext) error {
	r := taskman.Borrow(ctx, t.result)
	if r == nil {
		panic("ring: command buffer result is missing")
	}
	st := taskman.Borrow(ctx, t.state)
	i := taskman.Borrow(ctx, t.index)
	st.results[i] = r
	st.next = (i + 1) % len(st.results)
	return nil
}
