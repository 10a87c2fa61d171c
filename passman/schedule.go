// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package passman

import (
	"fmt"
	"slices"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/gfx"
)

type schedulePass[C any] struct {
	ref     PassRef
	label   string
	factory PassFactory[C]
	waitOn  []int // positions of the passes this one waits on
	bind    []int // resources whose lifetime starts here
	unbind  []int // resources whose lifetime ends here
	output  bool
}

// Schedule is the execution plan computed by ScheduleBuilder.Schedule.
type Schedule[C any] struct {
	serial    uint32
	passes    []schedulePass[C] // chronological order
	resources []ResourceInfo    // nil for resources no kept pass uses
	lifetimes []lifetime
	consumed  bool
}

// PassSummary describes a scheduled pass.
type PassSummary struct {
	Ref   PassRef
	Label string

	// WaitOn holds the positions of the passes whose update fences this pass
	// waits on.
	WaitOn []int

	// Bind and Unbind list the resources whose lifetime starts or ends at
	// this pass.
	Bind   []ResourceID
	Unbind []ResourceID

	// Output is set for passes whose completion means the outputs are ready.
	Output bool
}

// Passes returns the scheduled passes in execution order.
func (s *Schedule[C]) Passes() []PassSummary {
	out := make([]PassSummary, len(s.passes))
	for i, p := range s.passes {
		out[i] = PassSummary{
			Ref:    p.ref,
			Label:  p.label,
			WaitOn: slices.Clone(p.waitOn),
			Bind:   s.ids(p.bind),
			Unbind: s.ids(p.unbind),
			Output: p.output,
		}
	}
	return out
}

func (s *Schedule[C]) ids(indices []int) []ResourceID {
	if len(indices) == 0 {
		return nil
	}
	ids := make([]ResourceID, len(indices))
	for i, r := range indices {
		ids[i] = ResourceID{sched: s.serial, index: r}
	}
	return ids
}

// Lifetime returns the range [start, end) of pass positions during which
// the resource must stay alive. An empty range means no kept pass uses it.
func (s *Schedule[C]) Lifetime(id ResourceID) (start, end int) {
	if id.sched != s.serial || id.index < 0 || id.index >= len(s.lifetimes) {
		panic(fmt.Sprintf("passman: %s does not belong to this schedule", id))
	}
	l := s.lifetimes[id.index]
	return l.start, l.end
}

// Instantiate creates the resources, binds them to heaps and creates the
// passes. The schedule cannot be instantiated twice.
//
// Resources are bound in the order their lifetimes start, into one heap per
// memory type.
func (s *Schedule[C]) Instantiate(device gfx.Device, queue gfx.CmdQueue) (_ *ScheduleRunner[C], err error) {
	if s.consumed {
		return nil, ErrInstantiated
	}
	s.consumed = true

	r := &ScheduleRunner[C]{
		serial:    s.serial,
		queue:     queue,
		resources: make([]Resource, len(s.resources)),
	}
	defer func() {
		if err != nil {
			r.Release()
		}
	}()

	rctx := &ResourceInstantiationContext{device: device, queue: queue}
	for i, info := range s.resources {
		if info == nil {
			continue
		}
		res, err := info.Build(rctx)
		if err != nil {
			return nil, fmt.Errorf("passman: build resource#%d: %w", i, err)
		}
		r.resources[i] = res
	}

	heaps := make(map[gfx.MemoryType]gfx.Heap)
	var heapOrder []gfx.MemoryType
	for _, p := range s.passes {
		for _, i := range p.bind {
			obj, mt, ok := r.resources[i].ResourceBind()
			if !ok {
				continue
			}
			h, exists := heaps[mt]
			if !exists {
				h, err = device.NewHeap(gfx.HeapDesc{Label: fmt.Sprintf("passman heap %d", mt), MemoryType: mt})
				if err != nil {
					return nil, fmt.Errorf("passman: new heap: %w", err)
				}
				heaps[mt] = h
				heapOrder = append(heapOrder, mt)
				r.heaps = append(r.heaps, h)
			}
			if err := h.Bind(obj); err != nil {
				return nil, fmt.Errorf("passman: bind %q: %w", obj.Label(), err)
			}
		}
	}
	slices.Sort(heapOrder)
	for _, mt := range heapOrder {
		if err := heaps[mt].Build(); err != nil {
			return nil, fmt.Errorf("passman: build heap: %w", err)
		}
	}

	pctx := &PassInstantiationContext{serial: s.serial, resources: r.resources, device: device, queue: queue}
	r.passes = make([]runnerPass[C], 0, len(s.passes))
	for _, p := range s.passes {
		pass, err := p.factory(pctx)
		if err != nil {
			return nil, fmt.Errorf("passman: instantiate pass %q: %w", p.label, err)
		}
		r.passes = append(r.passes, runnerPass[C]{
			label:  p.label,
			pass:   pass,
			waitOn: p.waitOn,
			output: p.output,
		})
	}

	framegraph.Logger().Info("passman: schedule instantiated",
		"passes", len(r.passes),
		"heaps", len(r.heaps),
		"outputFences", r.NumOutputFences())
	return r, nil
}

// PassInstantiationContext gives pass factories access to the instantiated
// resources and to the device, for creating pipelines.
type PassInstantiationContext struct {
	serial    uint32
	resources []Resource
	device    gfx.Device
	queue     gfx.CmdQueue
}

func (c *PassInstantiationContext) Device() gfx.Device  { return c.device }
func (c *PassInstantiationContext) Queue() gfx.CmdQueue { return c.queue }

// Resource implements ResourceSource.
func (c *PassInstantiationContext) Resource(id ResourceID) Resource {
	return lookup(c.serial, c.resources, id)
}

func lookup(serial uint32, resources []Resource, id ResourceID) Resource {
	if id.sched != serial || id.index < 0 || id.index >= len(resources) {
		panic(fmt.Sprintf("passman: %s does not belong to this schedule", id))
	}
	res := resources[id.index]
	if res == nil {
		panic(fmt.Sprintf("passman: %s is not used by any scheduled pass", id))
	}
	return res
}
