// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package passman

import (
	"fmt"

	"github.com/gogpu/framegraph/gfx"
)

type runnerPass[C any] struct {
	label  string
	pass   Pass[C]
	waitOn []int
	output bool

	// fences[fenceStart:fenceEnd] are the update fences of the current run.
	fenceStart int
	fenceEnd   int
}

// ScheduleRunner owns the instantiated resources and passes of a schedule
// and encodes them once per Run. It is not safe for concurrent use.
type ScheduleRunner[C any] struct {
	serial    uint32
	queue     gfx.CmdQueue
	passes    []runnerPass[C]
	resources []Resource
	heaps     []gfx.Heap

	// fences are recreated by every Run; the slice is reused.
	fences   []gfx.Fence
	gen      uint64
	released bool
}

// NumOutputFences returns the total number of update fences of the output
// passes.
func (r *ScheduleRunner[C]) NumOutputFences() int {
	n := 0
	for _, p := range r.passes {
		if p.output {
			n += p.pass.NumUpdateFences()
		}
	}
	return n
}

// Run prepares one evaluation of the schedule: it creates the update fences
// of every pass. The returned Run must be encoded before Run is called
// again; starting a new run invalidates the previous one.
func (r *ScheduleRunner[C]) Run() (*Run[C], error) {
	if r.released {
		return nil, ErrReleased
	}
	total := 0
	for i := range r.passes {
		p := &r.passes[i]
		n := p.pass.NumUpdateFences()
		if n < 0 {
			return nil, fmt.Errorf("passman: pass %q has %d update fences", p.label, n)
		}
		p.fenceStart, p.fenceEnd = total, total+n
		total += n
	}

	r.fences = r.fences[:0]
	for range total {
		f, err := r.queue.NewFence()
		if err != nil {
			return nil, fmt.Errorf("passman: new fence: %w", err)
		}
		r.fences = append(r.fences, f)
	}

	r.gen++
	return &Run[C]{runner: r, gen: r.gen}, nil
}

// Release releases the passes, resources and heaps that implement
// Release() and makes the runner unusable: Run returns ErrReleased.
// Further calls do nothing.
func (r *ScheduleRunner[C]) Release() {
	type releaser interface{ Release() }
	for _, p := range r.passes {
		if rel, ok := p.pass.(releaser); ok {
			rel.Release()
		}
	}
	for _, res := range r.resources {
		if rel, ok := res.(releaser); ok {
			rel.Release()
		}
	}
	for _, h := range r.heaps {
		h.Release()
	}
	r.passes, r.resources, r.heaps, r.fences = nil, nil, nil, nil
	r.released = true
	r.gen++
}

// Run is a single evaluation of a schedule.
type Run[C any] struct {
	runner *ScheduleRunner[C]
	gen    uint64
	late   map[int]Resource
	done   bool
}

// NumOutputFences returns the runner's NumOutputFences.
func (run *Run[C]) NumOutputFences() int { return run.runner.NumOutputFences() }

func (run *Run[C]) outputSlots() []int {
	var slots []int
	for _, p := range run.runner.passes {
		if p.output {
			for i := p.fenceStart; i < p.fenceEnd; i++ {
				slots = append(slots, i)
			}
		}
	}
	return slots
}

// OutputFences returns the update fences of the output passes. Waiting on
// all of them ensures every output is ready; the next frame typically
// passes them to Encode as input fences.
func (run *Run[C]) OutputFences() []gfx.Fence {
	slots := run.outputSlots()
	fences := make([]gfx.Fence, len(slots))
	for i, s := range slots {
		fences[i] = run.runner.fences[s]
	}
	return fences
}

// SetOutputFence replaces output fence i with f, so that a fence owned by
// the caller can be reused across frames. It panics if i is out of range.
func (run *Run[C]) SetOutputFence(i int, f gfx.Fence) {
	slots := run.outputSlots()
	if i < 0 || i >= len(slots) {
		panic(fmt.Sprintf("passman: output fence %d out of range [0, %d)", i, len(slots)))
	}
	run.runner.fences[slots[i]] = f
}

// BindResource substitutes res for the resource id during this run, for
// resources known only per frame such as swapchain images. Passes see it
// through PassEncodingContext.
func (run *Run[C]) BindResource(id ResourceID, res Resource) {
	r := run.runner
	if id.sched != r.serial || id.index < 0 || id.index >= len(r.resources) {
		panic(fmt.Sprintf("passman: %s does not belong to this schedule", id))
	}
	if run.late == nil {
		run.late = make(map[int]Resource)
	}
	run.late[id.index] = res
}

// Encode records every pass into cb in schedule order. Passes that wait on
// no other pass wait on inputFences; the others wait on the update fences
// of the passes they depend on.
//
// An error from a pass stops encoding and is returned wrapped with the pass
// label. A Run can be encoded once.
func (run *Run[C]) Encode(cb gfx.CmdBuffer, inputFences []gfx.Fence, context C) error {
	r := run.runner
	if run.done || run.gen != r.gen {
		return ErrRunConsumed
	}
	run.done = true

	enc := &PassEncodingContext{serial: r.serial, resources: r.resources, late: run.late}
	var waitBuf []gfx.Fence
	for i := range r.passes {
		p := &r.passes[i]
		wait := inputFences
		if len(p.waitOn) > 0 {
			waitBuf = waitBuf[:0]
			for _, k := range p.waitOn {
				q := &r.passes[k]
				waitBuf = append(waitBuf, r.fences[q.fenceStart:q.fenceEnd]...)
			}
			wait = waitBuf
		}
		update := r.fences[p.fenceStart:p.fenceEnd:p.fenceEnd]

		if err := p.pass.Encode(cb, wait, update, context, enc); err != nil {
			return fmt.Errorf("passman: encode pass %q: %w", p.label, err)
		}
	}
	return nil
}

// PassEncodingContext gives Pass.Encode access to the resources of the
// current run, including late-bound ones.
type PassEncodingContext struct {
	serial    uint32
	resources []Resource
	late      map[int]Resource
}

// Resource implements ResourceSource. A resource bound with
// Run.BindResource takes precedence over the instantiated one.
func (c *PassEncodingContext) Resource(id ResourceID) Resource {
	if id.sched == c.serial {
		if res, ok := c.late[id.index]; ok {
			return res
		}
	}
	return lookup(c.serial, c.resources, id)
}
