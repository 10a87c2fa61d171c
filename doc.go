// Package framegraph is a frame task graph and GPU pass scheduler for Go.
//
// # Overview
//
// A frame is described as a set of cells (typed, frame-scoped storage slots)
// and tasks (units of work declaring which cells they produce and consume).
// The graph is validated once, ordered deterministically, and then run once
// per frame. A GPU specialization on top of it orders render and compute
// passes, plans transient resource lifetimes, and threads fences between
// passes and across frames.
//
// # Packages
//
//   - taskman: cells, tasks, graph builder, graph runner and executors
//   - passman: GPU resources, passes, schedule builder and schedule runner
//   - cbtasks: command buffer encode and submit tasks bridging passman into taskman
//   - ring: ring-buffer slot tracking for frames in flight
//   - ringbuffer: per-run byte range allocation in a ring buffer
//   - gfx: the GPU capabilities the scheduler needs (devices, queues, fences)
//   - gfx/halgfx: gfx over the wgpu HAL (github.com/gogpu/wgpu/hal)
//   - gfx/gfxtest: a recording gfx backend for tests
//   - testpass: a sample render pass drawing into a late-bound image
//   - cmd/fgdemo: a command running frames through the whole stack
//
// # Quick Start
//
//	b := taskman.NewGraphBuilder()
//	counter := taskman.DefineCell(b, 0)
//	b.DefineTask(taskman.TaskInfo{
//	    Label:    "write",
//	    CellUses: []taskman.CellUse{counter.UseAsProducer()},
//	    Task: taskman.TaskFunc(func(ctx *taskman.GraphContext) error {
//	        *taskman.BorrowMut(ctx, counter) = 5
//	        return nil
//	    }),
//	})
//	g, err := b.Build()
//	if err != nil {
//	    return err
//	}
//	err = g.Run(context.Background())
//
// # Logging
//
// All packages log through [Logger], which is silent until [SetLogger] is
// called.
package framegraph
