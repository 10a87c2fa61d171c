// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package cbtasks turns a pass schedule into two taskman tasks: one that
// encodes a command buffer and one that submits it.
//
// Clients register GPU passes through ScheduleBuilder. Passes receive the
// running *taskman.GraphContext as their context and may borrow the cells
// registered with AddEncodingDependency. Cells registered with
// AddSubmissionDependency are produced before the command buffer is
// committed, which suits host writes into mappable buffers.
//
// Successive runs of the graph are chained: each frame waits on the output
// fence of the previous one.
package cbtasks

import (
	"errors"
	"fmt"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/gfx"
	"github.com/gogpu/framegraph/passman"
	"github.com/gogpu/framegraph/taskman"
)

// ErrOutputFenceCount is returned by AddToGraph when the scheduled passes
// do not have exactly one output fence.
var ErrOutputFenceCount = errors.New("cbtasks: schedule must have exactly one output fence")

// PassContext is the context handed to passes: the context of the encode
// task.
type PassContext = *taskman.GraphContext

// LateResourceBinder binds per-frame resources, such as swapchain images,
// to a run before it is encoded.
type LateResourceBinder func(run *passman.Run[PassContext])

type options struct {
	label       string
	resultCells int
}

// Option configures a CmdBufferTaskBuilder.
type Option func(*options)

// WithLabel prefixes the labels of the generated tasks.
func WithLabel(label string) Option {
	return func(o *options) { o.label = label }
}

// WithResultCells sets how many cells receive the command buffer result.
// Each consumer of the result needs its own cell. The default is one.
func WithResultCells(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.resultCells = n
		}
	}
}

// CmdBufferTaskBuilder collects passes and task dependencies until
// AddToGraph registers the encode and submit tasks.
type CmdBufferTaskBuilder struct {
	opts       options
	schedule   *passman.ScheduleBuilder[PassContext]
	encodeUses []taskman.CellUse
	submitUses []taskman.CellUse
	added      bool
}

// NewCmdBufferTaskBuilder returns an empty builder.
func NewCmdBufferTaskBuilder(opts ...Option) *CmdBufferTaskBuilder {
	o := options{label: "cb", resultCells: 1}
	for _, opt := range opts {
		opt(&o)
	}
	return &CmdBufferTaskBuilder{
		opts:     o,
		schedule: passman.NewScheduleBuilder[PassContext](),
	}
}

// ScheduleBuilder returns the builder of the GPU pass graph.
func (b *CmdBufferTaskBuilder) ScheduleBuilder() *passman.ScheduleBuilder[PassContext] {
	return b.schedule
}

// AddEncodingDependency makes the encode task consume id, so passes may
// borrow it during encoding.
func (b *CmdBufferTaskBuilder) AddEncodingDependency(id taskman.CellID) {
	b.encodeUses = append(b.encodeUses, id.UseAsConsumer())
}

// AddSubmissionDependency makes the submit task consume id, delaying the
// commit until it is produced.
func (b *CmdBufferTaskBuilder) AddSubmissionDependency(id taskman.CellID) {
	b.submitUses = append(b.submitUses, id.UseAsConsumer())
}

// CmdBufferTaskCellSet holds the cells through which the caller talks to
// the generated tasks.
type CmdBufferTaskCellSet struct {
	// UpdateFence, if set before a run, replaces the output fence of that
	// run. The encode task clears it.
	UpdateFence taskman.CellRef[gfx.Fence]

	// LateResourceBinder, if set before a run, is called with the run before
	// encoding. The encode task clears it.
	LateResourceBinder taskman.CellRef[LateResourceBinder]

	// PrevFence holds the output fence of the last encoded frame. The next
	// frame waits on it.
	PrevFence taskman.CellRef[gfx.Fence]

	// CmdBufferResults receive the result of the submitted command buffer.
	CmdBufferResults []taskman.CellRef[*gfx.CmdBufferResult]

	runner *passman.ScheduleRunner[PassContext]
}

// Release releases the images, buffers and heaps of the schedule. Runs of
// the graph after Release fail with passman.ErrReleased. Wait for the last
// command buffer result before calling it.
func (s *CmdBufferTaskCellSet) Release() {
	s.runner.Release()
}

// AddToGraph schedules and instantiates the passes and registers the encode
// and submit tasks with gb. outputs selects the resources whose producers
// are kept; none keeps every pass. The builder cannot be reused.
func (b *CmdBufferTaskBuilder) AddToGraph(
	device gfx.Device,
	queue gfx.CmdQueue,
	gb *taskman.GraphBuilder,
	outputs []passman.ResourceID,
) (*CmdBufferTaskCellSet, error) {
	if b.added {
		return nil, passman.ErrBuilderConsumed
	}
	b.added = true

	schedule, err := b.schedule.Schedule(outputs...)
	if err != nil {
		return nil, err
	}
	runner, err := schedule.Instantiate(device, queue)
	if err != nil {
		return nil, err
	}
	if n := runner.NumOutputFences(); n != 1 {
		runner.Release()
		return nil, fmt.Errorf("%w, got %d", ErrOutputFenceCount, n)
	}

	set := &CmdBufferTaskCellSet{
		UpdateFence:        taskman.DefineCell[gfx.Fence](gb, nil),
		LateResourceBinder: taskman.DefineCell[LateResourceBinder](gb, nil),
		PrevFence:          taskman.DefineCell[gfx.Fence](gb, nil),
		runner:             runner,
	}
	for range b.opts.resultCells {
		set.CmdBufferResults = append(set.CmdBufferResults, taskman.DefineCell[*gfx.CmdBufferResult](gb, nil))
	}
	runnerCell := taskman.DefineCell(gb, runner)
	cbCell := taskman.DefineCell[gfx.CmdBuffer](gb, nil)

	enc := &encodeTask{
		queue:  queue,
		runner: runnerCell,
		cb:     cbCell,
		prev:   set.PrevFence,
		update: set.UpdateFence,
		binder: set.LateResourceBinder,
	}
	gb.DefineTask(taskman.TaskInfo{
		Label: b.opts.label + ".encode",
		CellUses: append(b.encodeUses,
			runnerCell.UseAsProducer(),
			cbCell.UseAsProducer(),
			set.PrevFence.UseAsProducer(),
			set.UpdateFence.UseAsProducer(),
			set.LateResourceBinder.UseAsProducer(),
		),
		Task: enc,
	})

	submitUses := append(b.submitUses, cbCell.UseAsConsumer())
	for _, r := range set.CmdBufferResults {
		submitUses = append(submitUses, r.UseAsProducer())
	}
	gb.DefineTask(taskman.TaskInfo{
		Label:    b.opts.label + ".submit",
		CellUses: submitUses,
		Task:     &submitTask{cb: cbCell, results: set.CmdBufferResults},
	})

	framegraph.Logger().Info("cbtasks: command buffer tasks added",
		"label", b.opts.label,
		"passes", len(schedule.Passes()),
		"resultCells", len(set.CmdBufferResults))
	return set, nil
}

type encodeTask struct {
	queue  gfx.CmdQueue
	runner taskman.CellRef[*passman.ScheduleRunner[PassContext]]
	cb     taskman.CellRef[gfx.CmdBuffer]
	prev   taskman.CellRef[gfx.Fence]
	update taskman.CellRef[gfx.Fence]
	binder taskman.CellRef[LateResourceBinder]
}

func (t *encodeTask) Execute(ctx *taskman.GraphContext) error {
	cbSlot := taskman.BorrowMut(ctx, t.cb)
	*cbSlot = nil

	cb, err := t.queue.NewCmdBuffer()
	if err != nil {
		return err
	}
	run, err := taskman.Borrow(ctx, t.runner).Run()
	if err != nil {
		cb.Discard()
		return err
	}

	update := taskman.BorrowMut(ctx, t.update)
	if *update != nil {
		run.SetOutputFence(0, *update)
		*update = nil
	}
	output := run.OutputFences()[0]

	binder := taskman.BorrowMut(ctx, t.binder)
	if *binder != nil {
		(*binder)(run)
		*binder = nil
	}

	prev := taskman.BorrowMut(ctx, t.prev)
	var input []gfx.Fence
	if *prev != nil {
		input = []gfx.Fence{*prev}
	}
	if err := run.Encode(cb, input, ctx); err != nil {
		cb.Discard()
		return err
	}
	*prev = output
	*cbSlot = cb
	return nil
}

type submitTask struct {
	cb      taskman.CellRef[gfx.CmdBuffer]
	results []taskman.CellRef[*gfx.CmdBufferResult]
}

func (t *submitTask) Execute(ctx *taskman.GraphContext) error {
	cb := taskman.Borrow(ctx, t.cb)
	if cb == nil {
		panic("cbtasks: cb is missing")
	}
	for _, r := range t.results {
		*taskman.BorrowMut(ctx, r) = cb.Result()
	}
	return cb.Commit()
}
