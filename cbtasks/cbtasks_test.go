package cbtasks

import (
	"context"
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/gfx"
	"github.com/gogpu/framegraph/gfx/gfxtest"
	"github.com/gogpu/framegraph/passman"
	"github.com/gogpu/framegraph/taskman"
)

// drawPass clears target and draws vertices into it. The vertex count is
// read from the vertices cell when it is set.
type drawPass struct {
	passman.SingleFence
	target   passman.ResourceRef[*passman.ImageResource]
	vertices taskman.CellRef[int]
	failure  error
}

func (p *drawPass) Encode(cb gfx.CmdBuffer, wait, update []gfx.Fence, ctx PassContext, enc *passman.PassEncodingContext) error {
	if p.failure != nil {
		return p.failure
	}
	img := passman.GetResource(enc, p.target).Image
	cb.InvalidateImages(img)
	re, err := cb.EncodeRender(gfx.RenderTarget{Color: img})
	if err != nil {
		return err
	}
	for _, f := range wait {
		re.WaitFence(f, gfx.AccessAll)
	}
	n := 3
	if p.vertices.ID().Valid() {
		n = taskman.Borrow(ctx, p.vertices)
	}
	re.Draw(uint32(n), 1)
	for _, f := range update {
		re.UpdateFence(f, gfx.AccessColorWrite)
	}
	return re.End()
}

func target(b *CmdBufferTaskBuilder, label string) passman.ResourceRef[*passman.ImageResource] {
	return b.ScheduleBuilder().DefineImage(passman.NewImageResourceInfo(label, [2]uint32{32, 32}, gputypes.TextureFormatRGBA8Unorm))
}

func addDraw(b *CmdBufferTaskBuilder, label string, pass *drawPass) {
	b.ScheduleBuilder().DefinePass(passman.PassInfo[PassContext]{
		Label:        label,
		ResourceUses: []passman.ResourceUse{pass.target.UseAsProducer()},
		Factory: func(*passman.PassInstantiationContext) (passman.Pass[PassContext], error) {
			return pass, nil
		},
	})
}

// setup builds a graph holding a single draw pass into "target".
func setup(t *testing.T, opts ...Option) (*gfxtest.Recorder, *taskman.Graph, *CmdBufferTaskCellSet, passman.ResourceRef[*passman.ImageResource]) {
	t.Helper()
	rec, dev, queue := gfxtest.New()
	gb := taskman.NewGraphBuilder(taskman.WithLabel("frame"))
	b := NewCmdBufferTaskBuilder(opts...)
	tgt := target(b, "target")
	addDraw(b, "draw", &drawPass{target: tgt})
	set, err := b.AddToGraph(dev, queue, gb, nil)
	if err != nil {
		t.Fatal(err)
	}
	g, err := gb.Build()
	if err != nil {
		t.Fatal(err)
	}
	return rec, g, set, tgt
}

func run(t *testing.T, g *taskman.Graph) {
	t.Helper()
	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestFramesAreChained(t *testing.T) {
	rec, g, set, _ := setup(t)

	run(t, g)
	if w := rec.Filter(gfxtest.CmdWaitFence); len(w) != 0 {
		t.Fatalf("first frame waits on %d fences, want 0", len(w))
	}
	updates := rec.Filter(gfxtest.CmdUpdateFence)
	if len(updates) != 1 {
		t.Fatalf("first frame updates %d fences, want 1", len(updates))
	}
	first := updates[0].Fence
	if prev := *taskman.CellValue(g, set.PrevFence); prev != first {
		t.Fatalf("PrevFence = %v, want %v", prev, first)
	}

	rec.Reset()
	run(t, g)
	waits := rec.Filter(gfxtest.CmdWaitFence)
	if len(waits) != 1 || waits[0].Fence != first {
		t.Fatalf("second frame waits = %v, want [%v]", waits, first)
	}
	second := rec.Filter(gfxtest.CmdUpdateFence)[0].Fence
	if second == first {
		t.Error("second frame reused the first frame's output fence")
	}
	if prev := *taskman.CellValue(g, set.PrevFence); prev != second {
		t.Errorf("PrevFence = %v, want %v", prev, second)
	}
	if n := len(rec.Filter(gfxtest.CmdCommit)); n != 1 {
		t.Errorf("commits = %d, want 1", n)
	}
}

func TestResultCells(t *testing.T) {
	_, g, set, _ := setup(t, WithResultCells(2), WithLabel("main"))
	if len(set.CmdBufferResults) != 2 {
		t.Fatalf("result cells = %d, want 2", len(set.CmdBufferResults))
	}
	run(t, g)

	r0 := *taskman.CellValue(g, set.CmdBufferResults[0])
	r1 := *taskman.CellValue(g, set.CmdBufferResults[1])
	if r0 == nil || r0 != r1 {
		t.Fatalf("results = %p, %p, want the same non-nil result", r0, r1)
	}
	if done, err := r0.Poll(); !done || err != nil {
		t.Errorf("Poll() = %v, %v, want true, nil", done, err)
	}

	var labels []string
	for _, ref := range g.Order() {
		labels = append(labels, g.Label(ref))
	}
	if len(labels) != 2 || labels[0] != "main.encode" || labels[1] != "main.submit" {
		t.Errorf("tasks = %v, want [main.encode main.submit]", labels)
	}
}

func TestUpdateFenceOverride(t *testing.T) {
	rec, g, set, _ := setup(t)
	present := gfxtest.NewFence("present")
	*taskman.CellValue(g, set.UpdateFence) = present

	run(t, g)
	updates := rec.Filter(gfxtest.CmdUpdateFence)
	if got := updates[len(updates)-1].Fence; got != present {
		t.Errorf("output fence = %v, want present", got)
	}
	if f := *taskman.CellValue(g, set.UpdateFence); f != nil {
		t.Errorf("UpdateFence not cleared: %v", f)
	}
	if f := *taskman.CellValue(g, set.PrevFence); f != present {
		t.Errorf("PrevFence = %v, want present", f)
	}

	rec.Reset()
	run(t, g)
	if w := rec.Filter(gfxtest.CmdWaitFence); len(w) != 1 || w[0].Fence != present {
		t.Errorf("next frame waits = %v, want [present]", w)
	}
	if u := rec.Filter(gfxtest.CmdUpdateFence); u[0].Fence == present {
		t.Error("override applied to a second frame")
	}
}

func TestLateResourceBinder(t *testing.T) {
	rec, g, set, tgt := setup(t)
	swapchain := gfxtest.NewExternalImage(gfx.ImageDesc{
		Label:  "swapchain",
		Width:  32,
		Height: 32,
		Format: gputypes.TextureFormatBGRA8Unorm,
	})
	calls := 0
	*taskman.CellValue(g, set.LateResourceBinder) = func(run *passman.Run[PassContext]) {
		calls++
		run.BindResource(tgt.ID(), passman.NewExternalImageResource(swapchain))
	}

	run(t, g)
	if calls != 1 {
		t.Fatalf("binder called %d times, want 1", calls)
	}
	if b := rec.Filter(gfxtest.CmdBeginRender); len(b) != 1 || b[0].Label != "swapchain" {
		t.Errorf("render targets = %v, want swapchain", b)
	}
	if *taskman.CellValue(g, set.LateResourceBinder) != nil {
		t.Error("LateResourceBinder not cleared")
	}

	rec.Reset()
	run(t, g)
	if b := rec.Filter(gfxtest.CmdBeginRender); len(b) != 1 || b[0].Label != "target" {
		t.Errorf("render targets = %v, want target", b)
	}
}

func TestTaskDependencies(t *testing.T) {
	rec, dev, queue := gfxtest.New()
	gb := taskman.NewGraphBuilder()

	vertices := taskman.DefineCell(gb, 0)
	gb.DefineTask(taskman.TaskInfo{
		Label:    "geometry",
		CellUses: []taskman.CellUse{vertices.UseAsProducer()},
		Task: taskman.TaskFunc(func(ctx *taskman.GraphContext) error {
			*taskman.BorrowMut(ctx, vertices) = 6
			return nil
		}),
	})

	uploaded := taskman.DefineCell(gb, false)
	commitsAtUpload := -1
	gb.DefineTask(taskman.TaskInfo{
		Label:    "upload",
		CellUses: []taskman.CellUse{uploaded.UseAsProducer()},
		Task: taskman.TaskFunc(func(ctx *taskman.GraphContext) error {
			commitsAtUpload = len(rec.Filter(gfxtest.CmdCommit))
			*taskman.BorrowMut(ctx, uploaded) = true
			return nil
		}),
	})

	b := NewCmdBufferTaskBuilder()
	addDraw(b, "draw", &drawPass{target: target(b, "target"), vertices: vertices})
	b.AddEncodingDependency(vertices.ID())
	b.AddSubmissionDependency(uploaded.ID())
	if _, err := b.AddToGraph(dev, queue, gb, nil); err != nil {
		t.Fatal(err)
	}
	g, err := gb.Build()
	if err != nil {
		t.Fatal(err)
	}
	run(t, g)

	draws := rec.Filter(gfxtest.CmdDraw)
	if len(draws) != 1 || draws[0].Args[0] != 6 {
		t.Errorf("draws = %v, want 6 vertices", draws)
	}
	if commitsAtUpload != 0 {
		t.Errorf("upload ran after %d commits, want before the commit", commitsAtUpload)
	}
	if n := len(rec.Filter(gfxtest.CmdCommit)); n != 1 {
		t.Errorf("commits = %d, want 1", n)
	}
}

func TestEncodeErrorSkipsSubmit(t *testing.T) {
	errBroken := errors.New("broken pass")
	rec, dev, queue := gfxtest.New()
	gb := taskman.NewGraphBuilder()
	b := NewCmdBufferTaskBuilder()
	pass := &drawPass{target: target(b, "target"), failure: errBroken}
	addDraw(b, "draw", pass)
	set, err := b.AddToGraph(dev, queue, gb, nil)
	if err != nil {
		t.Fatal(err)
	}
	g, err := gb.Build()
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Run(context.Background()); !errors.Is(err, errBroken) {
		t.Fatalf("Run() = %v, want %v", err, errBroken)
	}
	if n := len(rec.Filter(gfxtest.CmdCommit)); n != 0 {
		t.Errorf("commits = %d, want 0", n)
	}
	if r := *taskman.CellValue(g, set.CmdBufferResults[0]); r != nil {
		t.Errorf("result set after a failed encode")
	}
	if n := len(rec.Filter(gfxtest.CmdDiscard)); n != 1 {
		t.Errorf("discards = %d, want 1", n)
	}

	// The next frame encodes into a new command buffer.
	pass.failure = nil
	if err := g.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	commits := rec.Filter(gfxtest.CmdCommit)
	discards := rec.Filter(gfxtest.CmdDiscard)
	if len(commits) != 1 || len(discards) != 1 {
		t.Fatalf("commits = %d, discards = %d, want 1 and 1", len(commits), len(discards))
	}
	if commits[0].CmdBuffer == discards[0].CmdBuffer {
		t.Errorf("committed the discarded command buffer cb%d", commits[0].CmdBuffer)
	}
	if r := *taskman.CellValue(g, set.CmdBufferResults[0]); r == nil || r.Err() != nil {
		t.Errorf("result after retry = %v", r)
	}
}

func TestAddToGraphErrors(t *testing.T) {
	_, dev, queue := gfxtest.New()
	gb := taskman.NewGraphBuilder()
	b := NewCmdBufferTaskBuilder()
	addDraw(b, "left", &drawPass{target: target(b, "left")})
	addDraw(b, "right", &drawPass{target: target(b, "right")})

	_, err := b.AddToGraph(dev, queue, gb, nil)
	if !errors.Is(err, ErrOutputFenceCount) {
		t.Fatalf("AddToGraph() = %v, want ErrOutputFenceCount", err)
	}
	for _, img := range dev.Images() {
		if !img.Released() {
			t.Errorf("image %q not released", img.Label())
		}
	}
	if gb.NumTasks() != 0 {
		t.Errorf("tasks defined after failure: %d", gb.NumTasks())
	}

	if _, err := b.AddToGraph(dev, queue, gb, nil); !errors.Is(err, passman.ErrBuilderConsumed) {
		t.Errorf("second AddToGraph() = %v, want ErrBuilderConsumed", err)
	}
}

func TestReleaseSchedule(t *testing.T) {
	rec, dev, queue := gfxtest.New()
	gb := taskman.NewGraphBuilder()
	b := NewCmdBufferTaskBuilder()
	addDraw(b, "draw", &drawPass{target: target(b, "target")})
	set, err := b.AddToGraph(dev, queue, gb, nil)
	if err != nil {
		t.Fatal(err)
	}
	g, err := gb.Build()
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	set.Release()
	set.Release()
	for _, img := range dev.Images() {
		if !img.Released() {
			t.Errorf("image %q not released", img.Label())
		}
	}
	if err := g.Run(context.Background()); !errors.Is(err, passman.ErrReleased) {
		t.Errorf("Run() after Release = %v, want passman.ErrReleased", err)
	}
	if n := len(rec.Filter(gfxtest.CmdDiscard)); n != 1 {
		t.Errorf("discards = %d, want 1", n)
	}
}
