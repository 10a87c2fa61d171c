package ringbuffer

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/gogpu/framegraph/gfx"
	"github.com/gogpu/framegraph/gfx/gfxtest"
	"github.com/gogpu/framegraph/taskman"
)

// frameGraph has one client requesting reqs every run, a task recording the
// ranges it receives and a task committing an empty command buffer.
type frameGraph struct {
	graph  *taskman.Graph
	allocs [][]Alloc
}

func newFrameGraph(t *testing.T, queue gfx.CmdQueue, size uint64, reqs ...AllocReq) *frameGraph {
	t.Helper()
	gb := taskman.NewGraphBuilder(taskman.WithLabel("ringbuffer-test"))
	rb := NewBuilder(size)
	client := rb.DefineClient(gb)
	f := &frameGraph{}

	gb.DefineTask(taskman.TaskInfo{
		Label:    "request",
		CellUses: []taskman.CellUse{client.Requests.UseAsProducer()},
		Task: taskman.TaskFunc(func(ctx *taskman.GraphContext) error {
			*taskman.BorrowMut(ctx, client.Requests) = reqs
			return nil
		}),
	})

	written := taskman.DefineCell(gb, false)
	gb.DefineTask(taskman.TaskInfo{
		Label:    "write",
		CellUses: []taskman.CellUse{client.Allocs.UseAsConsumer(), written.UseAsProducer()},
		Task: taskman.TaskFunc(func(ctx *taskman.GraphContext) error {
			f.allocs = append(f.allocs, slices.Clone(taskman.Borrow(ctx, client.Allocs)))
			*taskman.BorrowMut(ctx, written) = true
			return nil
		}),
	})

	result := taskman.DefineCell[*gfx.CmdBufferResult](gb, nil)
	gb.DefineTask(taskman.TaskInfo{
		Label:    "submit",
		CellUses: []taskman.CellUse{written.UseAsConsumer(), result.UseAsProducer()},
		Task: taskman.TaskFunc(func(ctx *taskman.GraphContext) error {
			cb, err := queue.NewCmdBuffer()
			if err != nil {
				return err
			}
			*taskman.BorrowMut(ctx, result) = cb.Result()
			return cb.Commit()
		}),
	})

	rb.AddToGraph(gb, result)
	g, err := gb.Build()
	if err != nil {
		t.Fatal(err)
	}
	f.graph = g
	return f
}

func TestAllocationsPerRun(t *testing.T) {
	_, _, queue := gfxtest.New()
	f := newFrameGraph(t, queue, 256, AllocReq{Size: 20, Align: 1}, AllocReq{Size: 8, Align: 32})

	for range 3 {
		if err := f.graph.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	// Completed regions are only freed when space runs out.
	want := [][]Alloc{
		{{0, 20}, {32, 40}},
		{{40, 60}, {64, 72}},
		{{72, 92}, {96, 104}},
	}
	for i := range want {
		if !slices.Equal(f.allocs[i], want[i]) {
			t.Errorf("run %d allocs = %v, want %v", i, f.allocs[i], want[i])
		}
	}
	if got := f.allocs[0][1].Len(); got != 8 {
		t.Errorf("Len() = %d, want 8", got)
	}
}

func TestWaitsForEarlierRun(t *testing.T) {
	_, _, queue := gfxtest.New()
	queue.SetManualCompletion(true)
	f := newFrameGraph(t, queue, 100, AllocReq{Size: 40, Align: 16})

	for range 2 {
		if err := f.graph.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if want := [][]Alloc{{{0, 40}}, {{48, 88}}}; !slices.EqualFunc(f.allocs, want, slices.Equal) {
		t.Fatalf("allocs = %v, want %v", f.allocs, want)
	}

	done := make(chan error, 1)
	go func() { done <- f.graph.Run(context.Background()) }()
	select {
	case err := <-done:
		t.Fatalf("third run finished while the ring was full: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if n := queue.CompletePending(1, nil); n != 1 {
		t.Fatalf("CompletePending = %d", n)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("third run still blocked after the first command buffer completed")
	}
	if got, want := f.allocs[2], []Alloc{{0, 40}}; !slices.Equal(got, want) {
		t.Errorf("third run allocs = %v, want %v", got, want)
	}
	queue.CompletePending(-1, nil)
}

func TestFailedCommandBuffer(t *testing.T) {
	_, _, queue := gfxtest.New()
	queue.SetManualCompletion(true)
	f := newFrameGraph(t, queue, 64, AllocReq{Size: 64})

	if err := f.graph.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	errGPU := errors.New("device fault")
	queue.CompletePending(-1, errGPU)
	if err := f.graph.Run(context.Background()); !errors.Is(err, errGPU) {
		t.Fatalf("Run() = %v, want %v", err, errGPU)
	}

	// The failed region is freed and the aborted run never submitted.
	if err := f.graph.Run(context.Background()); err != nil {
		t.Fatalf("Run() after failure = %v", err)
	}
	if n := len(f.allocs); n != 2 {
		t.Errorf("writes = %d, want 2", n)
	}
	queue.CompletePending(-1, nil)
}

func TestRequestErrors(t *testing.T) {
	_, _, queue := gfxtest.New()
	f := newFrameGraph(t, queue, 64, AllocReq{Size: 65})
	if err := f.graph.Run(context.Background()); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Run() = %v, want ErrTooLarge", err)
	}

	f = newFrameGraph(t, queue, 64, AllocReq{Size: 40}, AllocReq{Size: 40})
	if err := f.graph.Run(context.Background()); !errors.Is(err, ErrExhausted) {
		t.Errorf("Run() = %v, want ErrExhausted", err)
	}
}

func TestBuilderMisuse(t *testing.T) {
	panics := func(name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Errorf("%s did not panic", name)
			}
		}()
		fn()
	}

	panics("NewBuilder(0)", func() { NewBuilder(0) })

	gb := taskman.NewGraphBuilder()
	rb := NewBuilder(16)
	if rb.Size() != 16 {
		t.Errorf("Size() = %d", rb.Size())
	}
	rb.AddToGraph(gb, taskman.DefineCell[*gfx.CmdBufferResult](gb, nil))
	panics("DefineClient after AddToGraph", func() { rb.DefineClient(gb) })
	panics("second AddToGraph", func() { rb.AddToGraph(gb, taskman.DefineCell[*gfx.CmdBufferResult](gb, nil)) })
}
