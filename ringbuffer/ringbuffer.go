// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package ringbuffer adds taskman tasks that allocate byte ranges of a ring
// buffer for every run of a graph.
//
// The buffer itself is supplied by the client; this package only manages
// offsets in a byte-addressed space of a fixed size. A run goes through
// these steps:
//
//  1. Clients compute how much memory they need and write allocation
//     requests into their request cell.
//  2. The allocate task processes the requests of every client. While the
//     space is exhausted it waits for the command buffers of earlier runs.
//  3. Clients read their ranges from the allocation cell, write the data
//     and reference the buffer from the command buffer.
//  4. The command buffer is submitted, and the post-submission task ties
//     the ranges allocated in this run to its result.
//
// Ranges stay valid until that command buffer has completed.
package ringbuffer

import (
	"errors"
	"fmt"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/gfx"
	"github.com/gogpu/framegraph/taskman"
)

var (
	// ErrTooLarge is returned when a single request exceeds the ring size.
	ErrTooLarge = errors.New("ringbuffer: request larger than the ring")

	// ErrExhausted is returned when the requests of one run do not fit in
	// the ring even after every earlier run has completed.
	ErrExhausted = errors.New("ringbuffer: ring exhausted")
)

// AllocReq is an allocation request. Align of 0 or 1 means no alignment.
type AllocReq struct {
	Size  uint32
	Align uint32
}

// Alloc is the byte range [Start, End) of an allocation.
type Alloc struct {
	Start uint64
	End   uint64
}

// Len returns the size of the range in bytes.
func (a Alloc) Len() uint64 { return a.End - a.Start }

// Client is the pair of cells through which a client talks to the allocate
// task.
type Client struct {
	// Requests is produced by the client and consumed by the allocate task.
	Requests taskman.CellRef[[]AllocReq]

	// Allocs receives one range per request, in request order.
	Allocs taskman.CellRef[[]Alloc]
}

// Builder collects clients until AddToGraph registers the tasks.
type Builder struct {
	size    uint64
	clients []Client
	added   bool
}

// NewBuilder returns a builder for a ring of size bytes. It panics if size
// is zero.
func NewBuilder(size uint64) *Builder {
	if size == 0 {
		panic("ringbuffer: zero size")
	}
	return &Builder{size: size}
}

// Size returns the size of the ring in bytes.
func (b *Builder) Size() uint64 { return b.size }

// DefineClient defines the request and allocation cells of a new client.
func (b *Builder) DefineClient(gb *taskman.GraphBuilder) Client {
	if b.added {
		panic("ringbuffer: DefineClient called after AddToGraph")
	}
	c := Client{
		Requests: taskman.DefineCell[[]AllocReq](gb, nil),
		Allocs:   taskman.DefineCell[[]Alloc](gb, nil),
	}
	b.clients = append(b.clients, c)
	return c
}

// AddToGraph registers the allocate and post-submission tasks with gb.
// result must be produced by the task that commits the command buffer
// referencing the ring, for example a cell of
// cbtasks.CmdBufferTaskCellSet.CmdBufferResults. AddToGraph panics when
// called twice.
func (b *Builder) AddToGraph(gb *taskman.GraphBuilder, result taskman.CellRef[*gfx.CmdBufferResult]) {
	if b.added {
		panic("ringbuffer: AddToGraph called twice")
	}
	b.added = true

	ring := taskman.DefineCell(gb, newAllocator(b.size))
	sender := taskman.DefineCell[chan<- *gfx.CmdBufferResult](gb, nil)

	uses := []taskman.CellUse{ring.UseAsProducer(), sender.UseAsProducer()}
	for _, c := range b.clients {
		uses = append(uses, c.Requests.UseAsConsumer(), c.Allocs.UseAsProducer())
	}
	gb.DefineTask(taskman.TaskInfo{
		Label:    "ringbuffer.allocate",
		CellUses: uses,
		Task:     &allocateTask{ring: ring, sender: sender, clients: b.clients},
	})
	gb.DefineTask(taskman.TaskInfo{
		Label:    "ringbuffer.post",
		CellUses: []taskman.CellUse{sender.UseAsConsumer(), result.UseAsConsumer()},
		Task:     &postTask{sender: sender, result: result},
	})

	framegraph.Logger().Debug("ringbuffer: tasks added", "size", b.size, "clients", len(b.clients))
}

type allocateTask struct {
	ring    taskman.CellRef[*allocator]
	sender  taskman.CellRef[chan<- *gfx.CmdBufferResult]
	clients []Client
}

func (t *allocateTask) Execute(ctx *taskman.GraphContext) error {
	a := *taskman.BorrowMut(ctx, t.ring)

	// The result of this run only exists after submission; the
	// post-submission task delivers it through the channel.
	ch := make(chan *gfx.CmdBufferResult, 1)
	*taskman.BorrowMut(ctx, t.sender) = ch
	a.begin(ch)

	for i, c := range t.clients {
		out := taskman.BorrowMut(ctx, c.Allocs)
		*out = (*out)[:0]
		for _, req := range taskman.Borrow(ctx, c.Requests) {
			off, err := a.alloc(ctx.Context(), uint64(req.Size), uint64(req.Align))
			if err != nil {
				return fmt.Errorf("ringbuffer: client %d: %w", i, err)
			}
			*out = append(*out, Alloc{Start: off, End: off + uint64(req.Size)})
		}
	}
	return nil
}

type postTask struct {
	sender taskman.CellRef[chan<- *gfx.CmdBufferResult]
	result taskman.CellRef[*gfx.CmdBufferResult]
}

func (t *postTask) Execute(ctx *taskman.GraphContext) error {
	r := taskman.Borrow(ctx, t.result)
	if r == nil {
		panic("ringbuffer: command buffer result is missing")
	}
	taskman.Borrow(ctx, t.sender) <- r
	return nil
}
