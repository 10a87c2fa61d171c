// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ringbuffer

import (
	"context"
	"fmt"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/gfx"
)

// region is the memory allocated during one run. It is freed as a whole
// once the command buffer of that run has completed.
type region struct {
	end    uint64 // back offset after the last allocation of the run
	posted <-chan *gfx.CmdBufferResult
	result *gfx.CmdBufferResult
}

// allocator hands out byte ranges from the back of a circular space and
// frees them from the front, one region at a time.
//
// Live bytes are [head, tail) when tail > head, and [head, size) plus
// [0, tail) otherwise. head == tail means empty when there are no regions
// and full otherwise.
type allocator struct {
	size    uint64
	head    uint64
	tail    uint64
	regions []*region

	current *region
	posted  <-chan *gfx.CmdBufferResult
}

func newAllocator(size uint64) *allocator {
	return &allocator{size: size}
}

// begin starts the region of a new run. posted delivers the run's command
// buffer result.
func (a *allocator) begin(posted <-chan *gfx.CmdBufferResult) {
	a.current = nil
	a.posted = posted
}

func alignUp(x, align uint64) uint64 {
	if align <= 1 {
		return x
	}
	return (x + align - 1) / align * align
}

// tryAlloc allocates size bytes at the back without freeing anything.
func (a *allocator) tryAlloc(size, align uint64) (uint64, bool) {
	if size == 0 {
		return a.tail, true
	}
	wrapped := len(a.regions) > 0 && a.tail <= a.head
	if !wrapped {
		if off := alignUp(a.tail, align); off+size <= a.size {
			a.tail = off + size
			return off, true
		}
		// Wrap around to the start, leaving the rest of the space unused
		// until head passes it.
		limit := a.head
		if len(a.regions) == 0 {
			limit = a.size
		}
		if size <= limit {
			a.tail = size
			return 0, true
		}
		return 0, false
	}
	if off := alignUp(a.tail, align); off+size <= a.head {
		a.tail = off + size
		return off, true
	}
	return 0, false
}

// alloc allocates size bytes aligned to align, waiting for earlier runs to
// complete while there is not enough free space.
func (a *allocator) alloc(ctx context.Context, size, align uint64) (uint64, error) {
	if size > a.size {
		return 0, fmt.Errorf("%w: %d bytes requested from a %d byte ring", ErrTooLarge, size, a.size)
	}
	for {
		if off, ok := a.tryAlloc(size, align); ok {
			if size > 0 {
				a.record()
			}
			return off, nil
		}
		if err := a.freeFront(ctx); err != nil {
			return 0, err
		}
	}
}

func (a *allocator) record() {
	if a.current == nil {
		a.current = &region{posted: a.posted}
		a.regions = append(a.regions, a.current)
	}
	a.current.end = a.tail
}

// freeFront waits for the oldest region of an earlier run and frees it.
func (a *allocator) freeFront(ctx context.Context) error {
	if len(a.regions) == 0 || a.regions[0] == a.current {
		return ErrExhausted
	}
	front := a.regions[0]
	if front.result == nil {
		select {
		case front.result = <-front.posted:
		default:
			// The run ended without submitting; nothing references the
			// region.
		}
	}
	if front.result != nil {
		if done, _ := front.result.Poll(); !done {
			framegraph.Logger().Debug("ringbuffer: waiting for space", "regions", len(a.regions))
		}
		if err := front.result.Wait(ctx); err != nil {
			if done, _ := front.result.Poll(); !done {
				return err
			}
			a.pop()
			return fmt.Errorf("earlier command buffer: %w", err)
		}
	}
	a.pop()
	return nil
}

func (a *allocator) pop() {
	front := a.regions[0]
	a.regions[0] = nil
	a.regions = a.regions[1:]
	if len(a.regions) == 0 {
		a.head, a.tail = 0, 0
		return
	}
	a.head = front.end
}
