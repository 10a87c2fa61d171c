// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package passman

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/gfx"
	"github.com/gogpu/framegraph/internal/dag"
)

var builderSerial atomic.Uint32

// Pass encodes the commands of one node of a schedule.
type Pass[C any] interface {
	// NumUpdateFences returns the number of fences Encode updates, usually
	// the number of command encoders it opens. Embed SingleFence for the
	// common value of one.
	NumUpdateFences() int

	// Encode records the pass into cb.
	//
	// Before encoding a command pass that produces an image, the image must
	// be invalidated with CmdBuffer.InvalidateImages. Every encoder must wait
	// on every fence in waitFences with both read and write accesses, and
	// update the fences in updateFences after its last command. There are
	// exactly NumUpdateFences update fences. The slices must not be retained.
	Encode(cb gfx.CmdBuffer, waitFences, updateFences []gfx.Fence, context C, enc *PassEncodingContext) error
}

// SingleFence provides NumUpdateFences for passes that update one fence.
type SingleFence struct{}

// NumUpdateFences returns 1.
func (SingleFence) NumUpdateFences() int { return 1 }

// PassFactory creates the pass object once resources exist.
type PassFactory[C any] func(ctx *PassInstantiationContext) (Pass[C], error)

// PassInfo describes a pass to register with ScheduleBuilder.DefinePass.
type PassInfo[C any] struct {
	// Label names the pass in errors and logs. Optional.
	Label string

	ResourceUses []ResourceUse
	Factory      PassFactory[C]
}

// PassRef identifies a registered pass, in registration order from zero.
type PassRef int

func (r PassRef) String() string { return fmt.Sprintf("pass#%d", int(r)) }

// ScheduleBuilder collects resources and passes. C is the type of the
// per-run context handed to every pass. It is not safe for concurrent use.
type ScheduleBuilder[C any] struct {
	serial    uint32
	resources []ResourceInfo
	passes    []PassInfo[C]
	consumed  bool
}

// NewScheduleBuilder returns an empty builder.
func NewScheduleBuilder[C any]() *ScheduleBuilder[C] {
	return &ScheduleBuilder[C]{serial: builderSerial.Add(1)}
}

func (b *ScheduleBuilder[C]) mustNotBeConsumed() {
	if b.consumed {
		panic("passman: ScheduleBuilder used after Schedule")
	}
}

func (b *ScheduleBuilder[C]) owns(id ResourceID) bool {
	return id.sched == b.serial && id.index >= 0 && id.index < len(b.resources)
}

// DefineResource registers a resource whose instantiated form has type R.
// info.Build must return an R.
func DefineResource[R Resource, C any](b *ScheduleBuilder[C], info ResourceInfo) ResourceRef[R] {
	b.mustNotBeConsumed()
	if info == nil {
		panic("passman: ResourceInfo is nil")
	}
	id := ResourceID{sched: b.serial, index: len(b.resources)}
	b.resources = append(b.resources, info)
	return ResourceRef[R]{id: id}
}

// DefineImage registers an image resource.
func (b *ScheduleBuilder[C]) DefineImage(info *ImageResourceInfo) ResourceRef[*ImageResource] {
	return DefineResource[*ImageResource](b, info)
}

// DefineBuffer registers a buffer resource.
func (b *ScheduleBuilder[C]) DefineBuffer(info *BufferResourceInfo) ResourceRef[*BufferResource] {
	return DefineResource[*BufferResource](b, info)
}

// ResourceInfoOf returns the info registered for id so that it can be
// adjusted before scheduling. It panics if the info is not an I.
func ResourceInfoOf[I ResourceInfo, C any](b *ScheduleBuilder[C], id ResourceID) I {
	b.mustNotBeConsumed()
	if !b.owns(id) {
		panic(fmt.Sprintf("passman: %s does not belong to this builder", id))
	}
	info, ok := b.resources[id.index].(I)
	if !ok {
		var zero I
		panic(fmt.Sprintf("passman: %s is described by %T, not %T", id, b.resources[id.index], zero))
	}
	return info
}

// DefinePass registers a pass.
func (b *ScheduleBuilder[C]) DefinePass(info PassInfo[C]) PassRef {
	b.mustNotBeConsumed()
	if info.Factory == nil {
		panic("passman: PassInfo.Factory is nil")
	}
	info.ResourceUses = slices.Clone(info.ResourceUses)
	b.passes = append(b.passes, info)
	return PassRef(len(b.passes) - 1)
}

// NumPasses returns the number of passes defined so far.
func (b *ScheduleBuilder[C]) NumPasses() int { return len(b.passes) }

func (b *ScheduleBuilder[C]) label(p int) string {
	if l := b.passes[p].Label; l != "" {
		return l
	}
	return PassRef(p).String()
}

// Schedule validates the passes and computes the pass order, resource
// lifetimes and pass dependencies.
//
// When outputs is empty every pass is kept. Otherwise only the producers of
// the output resources and the passes they transitively depend on are kept;
// the factories of the other passes are never called.
//
// Schedule consumes the builder.
func (b *ScheduleBuilder[C]) Schedule(outputs ...ResourceID) (*Schedule[C], error) {
	if b.consumed {
		return nil, ErrBuilderConsumed
	}
	b.consumed = true

	producer, err := b.validate(outputs)
	if err != nil {
		return nil, err
	}

	// incoming[p] lists the producers of the resources p consumes.
	incoming := make([][]int, len(b.passes))
	outgoing := make([][]int, len(b.passes))
	for p := range b.passes {
		for _, u := range b.passes[p].ResourceUses {
			if u.Produce {
				continue
			}
			q := producer[u.Resource.index]
			if !slices.Contains(incoming[p], q) {
				incoming[p] = append(incoming[p], q)
				outgoing[q] = append(outgoing[q], p)
			}
		}
	}

	var keep []bool
	if len(outputs) == 0 {
		keep = make([]bool, len(b.passes))
		for i := range keep {
			keep[i] = true
		}
	} else {
		roots := make([]int, 0, len(outputs))
		for _, out := range outputs {
			roots = append(roots, producer[out.index])
		}
		keep = dag.Reachable(incoming, roots)
	}

	order, output, err := b.order(keep)
	if err != nil {
		return nil, err
	}
	s := b.plan(order, output, producer)

	log := framegraph.Logger()
	log.Debug("passman: scheduled",
		"passes", len(order),
		"pruned", len(b.passes)-len(order),
		"resources", len(b.resources))
	for i, sp := range s.passes {
		log.Debug("passman: pass",
			"pos", i,
			"pass", sp.label,
			"waitOn", sp.waitOn,
			"bind", sp.bind,
			"unbind", sp.unbind,
			"output", sp.output)
	}
	return s, nil
}

// validate checks every use and output and returns the producing pass of
// each resource, or -1.
func (b *ScheduleBuilder[C]) validate(outputs []ResourceID) ([]int, error) {
	producer := make([]int, len(b.resources))
	for i := range producer {
		producer[i] = -1
	}
	for p := range b.passes {
		for _, u := range b.passes[p].ResourceUses {
			if !b.owns(u.Resource) {
				return nil, scheduleErrorf(ErrUndefinedResource, "pass %q uses %s", b.label(p), u.Resource)
			}
			if !u.Aliasable && !u.Produce {
				return nil, scheduleErrorf(ErrInvalidUse, "pass %q uses %s as a non-aliasable consumer", b.label(p), u.Resource)
			}
			if !u.Produce {
				continue
			}
			switch q := producer[u.Resource.index]; {
			case q < 0:
				producer[u.Resource.index] = p
			case q != p:
				return nil, scheduleErrorf(ErrMultipleProducers, "%s is produced by %q and %q",
					u.Resource, b.label(q), b.label(p))
			}
		}
	}
	for p := range b.passes {
		for _, u := range b.passes[p].ResourceUses {
			if u.Produce {
				continue
			}
			switch q := producer[u.Resource.index]; q {
			case -1:
				return nil, scheduleErrorf(ErrInvalidUse, "pass %q consumes %s which no pass produces", b.label(p), u.Resource)
			case p:
				l := b.label(p)
				return nil, cycleError([]string{l, l})
			}
		}
	}
	for _, out := range outputs {
		if !b.owns(out) {
			return nil, scheduleErrorf(ErrUndefinedResource, "output %s", out)
		}
		if producer[out.index] < 0 {
			return nil, scheduleErrorf(ErrInvalidUse, "output %s has no producer", out)
		}
	}
	return producer, nil
}

// order arranges the kept passes chronologically. It works backwards from
// the passes nothing depends on. Among the passes that may be placed next
// (i.e. earlier), it picks the one whose products are consumed soonest
// after it, counted from the end, so that a long-running producer is placed
// as far as possible from its consumers. Ties go to the pass registered last.
//
// output[p] is set for the passes that had no dependents at the start.
func (b *ScheduleBuilder[C]) order(keep []bool) (order []int, output []bool, err error) {
	n := len(b.passes)
	numConsuming := make([]int, len(b.resources))
	// earliest[r] is the reverse position of the earliest consumer of r,
	// plus one, among the passes placed so far.
	earliest := make([]int, len(b.resources))
	remaining := 0
	for p := range n {
		if !keep[p] {
			continue
		}
		remaining++
		for _, u := range b.passes[p].ResourceUses {
			if !u.Produce {
				numConsuming[u.Resource.index]++
			}
		}
	}

	scheduled := make([]bool, n)
	output = make([]bool, n)
	order = make([]int, 0, remaining)

	for remaining > 0 {
		best, bestKey := -1, 0
		for p := range n {
			if !keep[p] || scheduled[p] || !b.isMaximal(p, numConsuming) {
				continue
			}
			if len(order) == 0 {
				output[p] = true
			}
			key := 0
			for _, u := range b.passes[p].ResourceUses {
				if u.Produce {
					key = max(key, earliest[u.Resource.index])
				}
			}
			if best < 0 || key <= bestKey {
				best, bestKey = p, key
			}
		}
		if best < 0 {
			return nil, nil, b.cycle(keep, scheduled)
		}

		scheduled[best] = true
		order = append(order, best)
		remaining--
		for _, u := range b.passes[best].ResourceUses {
			if !u.Produce {
				numConsuming[u.Resource.index]--
				earliest[u.Resource.index] = len(order)
			}
		}
	}

	slices.Reverse(order)
	return order, output, nil
}

// isMaximal reports whether no unscheduled pass consumes a product of p.
func (b *ScheduleBuilder[C]) isMaximal(p int, numConsuming []int) bool {
	for _, u := range b.passes[p].ResourceUses {
		if u.Produce && numConsuming[u.Resource.index] > 0 {
			return false
		}
	}
	return true
}

func (b *ScheduleBuilder[C]) cycle(keep, scheduled []bool) error {
	// Restrict the graph to the passes that could not be placed.
	rest := make([]int, 0)
	index := make([]int, len(b.passes))
	for p := range b.passes {
		index[p] = -1
		if keep[p] && !scheduled[p] {
			index[p] = len(rest)
			rest = append(rest, p)
		}
	}
	producer := make(map[int]int)
	for _, p := range rest {
		for _, u := range b.passes[p].ResourceUses {
			if u.Produce {
				producer[u.Resource.index] = p
			}
		}
	}
	outgoing := make([][]int, len(rest))
	for i, p := range rest {
		for _, u := range b.passes[p].ResourceUses {
			if u.Produce {
				continue
			}
			if q, ok := producer[u.Resource.index]; ok && !slices.Contains(outgoing[index[q]], i) {
				outgoing[index[q]] = append(outgoing[index[q]], i)
			}
		}
	}
	path := dag.FindCycle(outgoing)
	labels := make([]string, len(path))
	for i, v := range path {
		labels[i] = b.label(rest[v])
	}
	return cycleError(labels)
}

type lifetime struct{ start, end int }

// plan computes lifetimes, pass dependencies and bind lists for a
// chronological order.
func (b *ScheduleBuilder[C]) plan(order []int, output []bool, producer []int) *Schedule[C] {
	n := len(order)
	pos := make([]int, len(b.passes))
	for i, p := range order {
		pos[p] = i
	}

	life := make([]lifetime, len(b.resources))
	fixed := make([]bool, len(b.resources))
	for i, p := range order {
		for _, u := range b.passes[p].ResourceUses {
			r := u.Resource.index
			switch {
			case !u.Aliasable:
				life[r] = lifetime{0, n}
				fixed[r] = true
			case fixed[r]:
			case u.Produce:
				life[r] = lifetime{i, i + 1}
			default:
				life[r].end = max(life[r].end, i+1)
			}
		}
	}

	// A consumer waits on the producer of each resource it consumes.
	waitOn := make([][]int, n)
	next := make([][]int, n)
	for i, p := range order {
		for _, u := range b.passes[p].ResourceUses {
			if u.Produce {
				continue
			}
			k := pos[producer[u.Resource.index]]
			if !slices.Contains(waitOn[i], k) {
				waitOn[i] = append(waitOn[i], k)
				next[k] = append(next[k], i)
			}
		}
		slices.Sort(waitOn[i])
	}

	// Extend lifetimes so that a pass never needs an aliasing barrier
	// against a later pass it is not ordered with: every resource of pass i
	// stays alive past the last such pass.
	for i, p := range order {
		reach := dag.Reachable(next, []int{i})
		uses := b.passes[p].ResourceUses
		endMin := n
		for _, u := range uses {
			endMin = min(endMin, life[u.Resource.index].end)
		}
		newEnd := endMin
		for k := endMin; k < n; k++ {
			if !reach[k] {
				newEnd = k + 1
			}
		}
		for _, u := range uses {
			r := u.Resource.index
			life[r].end = max(life[r].end, newEnd)
		}
	}

	s := &Schedule[C]{
		serial:    b.serial,
		resources: make([]ResourceInfo, len(b.resources)),
		lifetimes: life,
		passes:    make([]schedulePass[C], n),
	}
	for i, p := range order {
		s.passes[i] = schedulePass[C]{
			ref:     PassRef(p),
			label:   b.label(p),
			factory: b.passes[p].Factory,
			waitOn:  waitOn[i],
			output:  output[p],
		}
	}
	for r, l := range life {
		if l.end > l.start {
			s.resources[r] = b.resources[r]
			s.passes[l.start].bind = append(s.passes[l.start].bind, r)
			s.passes[l.end-1].unbind = append(s.passes[l.end-1].unbind, r)
		}
	}
	return s
}
