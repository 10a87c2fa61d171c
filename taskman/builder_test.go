package taskman

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
)

// noop returns a task that does nothing.
func noop() Task { return TaskFunc(func(*GraphContext) error { return nil }) }

func TestBuildCounterScenario(t *testing.T) {
	b := NewGraphBuilder()
	counter := DefineCell(b, 0)
	var seen int

	b.DefineTask(TaskInfo{
		Label:    "T1",
		CellUses: []CellUse{counter.UseAsProducer()},
		Task: TaskFunc(func(ctx *GraphContext) error {
			*BorrowMut(ctx, counter) = 5
			return nil
		}),
	})
	b.DefineTask(TaskInfo{
		Label:    "T2",
		CellUses: []CellUse{counter.UseAsConsumer()},
		Task: TaskFunc(func(ctx *GraphContext) error {
			seen = Borrow(ctx, counter)
			return nil
		}),
	})

	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if seen != 5 {
		t.Errorf("T2 saw %d, want 5", seen)
	}
}

func TestBuildMultipleProducers(t *testing.T) {
	b := NewGraphBuilder()
	counter := DefineCell(b, 0)
	ran := false
	mark := TaskFunc(func(*GraphContext) error { ran = true; return nil })

	b.DefineTask(TaskInfo{Label: "T1", CellUses: []CellUse{counter.UseAsProducer()}, Task: mark})
	b.DefineTask(TaskInfo{Label: "T2", CellUses: []CellUse{counter.UseAsConsumer()}, Task: mark})
	b.DefineTask(TaskInfo{Label: "T3", CellUses: []CellUse{counter.UseAsProducer()}, Task: mark})

	g, err := b.Build()
	if g != nil {
		t.Fatal("Build() returned a graph despite two producers")
	}
	if !errors.Is(err, ErrMultipleProducers) {
		t.Fatalf("Build() error = %v, want ErrMultipleProducers", err)
	}
	var be *BuildError
	if !errors.As(err, &be) {
		t.Fatalf("error %T is not *BuildError", err)
	}
	if !strings.Contains(be.Msg, `"T1"`) || !strings.Contains(be.Msg, `"T3"`) {
		t.Errorf("message %q should name both producers", be.Msg)
	}
	if ran {
		t.Error("a task ran although the build failed")
	}
}

func TestBuildCycle(t *testing.T) {
	b := NewGraphBuilder()
	x := DefineCell(b, 0)
	y := DefineCell(b, 0)

	b.DefineTask(TaskInfo{Label: "A", CellUses: []CellUse{x.UseAsProducer(), y.UseAsConsumer()}, Task: noop()})
	b.DefineTask(TaskInfo{Label: "B", CellUses: []CellUse{x.UseAsConsumer(), y.UseAsProducer()}, Task: noop()})

	_, err := b.Build()
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("Build() error = %v, want ErrCycle", err)
	}
	if !strings.Contains(err.Error(), "A -> B -> A") {
		t.Errorf("error %q should contain the witness A -> B -> A", err)
	}
}

func TestBuildSelfCycle(t *testing.T) {
	b := NewGraphBuilder()
	x := DefineCell(b, 0)
	b.DefineTask(TaskInfo{Label: "loop", CellUses: []CellUse{x.UseAsProducer(), x.UseAsConsumer()}, Task: noop()})

	if _, err := b.Build(); !errors.Is(err, ErrCycle) {
		t.Fatalf("Build() error = %v, want ErrCycle", err)
	}
}

func TestBuildUndefinedCell(t *testing.T) {
	other := NewGraphBuilder()
	foreign := DefineCell(other, "x")

	tests := []struct {
		name string
		use  CellUse
	}{
		{"foreign", foreign.UseAsConsumer()},
		{"zero", CellID{}.UseAsProducer()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewGraphBuilder()
			DefineCell(b, 0)
			b.DefineTask(TaskInfo{Label: "t", CellUses: []CellUse{tt.use}, Task: noop()})
			if _, err := b.Build(); !errors.Is(err, ErrUndefinedCell) {
				t.Fatalf("Build() error = %v, want ErrUndefinedCell", err)
			}
		})
	}

	b := NewGraphBuilder()
	if _, err := b.Build(foreign.ID()); !errors.Is(err, ErrUndefinedCell) {
		t.Fatalf("Build(foreign output) error = %v, want ErrUndefinedCell", err)
	}
}

func TestBuildTwice(t *testing.T) {
	b := NewGraphBuilder()
	if _, err := b.Build(); err != nil {
		t.Fatalf("first Build() error = %v", err)
	}
	if _, err := b.Build(); !errors.Is(err, ErrBuilderConsumed) {
		t.Fatalf("second Build() error = %v, want ErrBuilderConsumed", err)
	}
}

// diamond registers a -> {b, c} -> d in the order d, c, b, a so the
// registration order disagrees with the dependency order.
func diamond(b *GraphBuilder) {
	ab := DefineCell(b, 0)
	ac := DefineCell(b, 0)
	bd := DefineCell(b, 0)
	cd := DefineCell(b, 0)
	b.DefineTask(TaskInfo{Label: "d", CellUses: []CellUse{bd.UseAsConsumer(), cd.UseAsConsumer()}, Task: noop()})
	b.DefineTask(TaskInfo{Label: "c", CellUses: []CellUse{ac.UseAsConsumer(), cd.UseAsProducer()}, Task: noop()})
	b.DefineTask(TaskInfo{Label: "b", CellUses: []CellUse{ab.UseAsConsumer(), bd.UseAsProducer()}, Task: noop()})
	b.DefineTask(TaskInfo{Label: "a", CellUses: []CellUse{ab.UseAsProducer(), ac.UseAsProducer()}, Task: noop()})
}

func TestBuildTopologicalOrder(t *testing.T) {
	b := NewGraphBuilder()
	diamond(b)
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	var labels []string
	for _, ref := range g.Order() {
		labels = append(labels, g.Label(ref))
	}
	// b and c are independent; c was registered first.
	want := []string{"a", "c", "b", "d"}
	if !slices.Equal(labels, want) {
		t.Errorf("order = %v, want %v", labels, want)
	}

	layers := g.Layers()
	if len(layers) != 3 || len(layers[1]) != 2 {
		t.Errorf("layers = %v, want 3 layers with 2 tasks in the middle", layers)
	}
}

func TestBuildIndependentTasksKeepRegistrationOrder(t *testing.T) {
	b := NewGraphBuilder()
	for range 5 {
		b.DefineTask(TaskInfo{Task: noop()})
	}
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	want := []TaskRef{0, 1, 2, 3, 4}
	if got := g.Order(); !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestBuildDeterministic(t *testing.T) {
	build := func() []TaskRef {
		b := NewGraphBuilder()
		diamond(b)
		x := DefineCell(b, "")
		b.DefineTask(TaskInfo{CellUses: []CellUse{x.UseAsConsumer()}, Task: noop()})
		b.DefineTask(TaskInfo{CellUses: []CellUse{x.UseAsProducer()}, Task: noop()})
		g, err := b.Build()
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		return g.Order()
	}
	first := build()
	for range 10 {
		if got := build(); !slices.Equal(got, first) {
			t.Fatalf("order %v differs from %v", got, first)
		}
	}
}

func TestBuildProducerPrecedesConsumer(t *testing.T) {
	// A chain registered backwards: t0 consumes c0 produced by t1, ...
	const n = 8
	b := NewGraphBuilder()
	cells := make([]CellRef[int], n)
	for i := range cells {
		cells[i] = DefineCell(b, 0)
	}
	for i := range n {
		uses := []CellUse{cells[i].UseAsConsumer()}
		if i > 0 {
			uses = append(uses, cells[i-1].UseAsProducer())
		}
		b.DefineTask(TaskInfo{CellUses: uses, Task: noop()})
	}
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	order := g.Order()
	for i := 1; i < n; i++ {
		// Task i produces cell i-1 which task i-1 consumes.
		if slices.Index(order, TaskRef(i)) > slices.Index(order, TaskRef(i-1)) {
			t.Errorf("producer task#%d runs after its consumer task#%d: %v", i, i-1, order)
		}
	}
}

func TestBuildPruning(t *testing.T) {
	b := NewGraphBuilder()
	a := DefineCell(b, 0)
	out := DefineCell(b, 0)
	side := DefineCell(b, 0)
	var ran []string
	record := func(name string) Task {
		return TaskFunc(func(*GraphContext) error { ran = append(ran, name); return nil })
	}

	b.DefineTask(TaskInfo{Label: "A", CellUses: []CellUse{a.UseAsProducer()}, Task: record("A")})
	b.DefineTask(TaskInfo{Label: "B", CellUses: []CellUse{a.UseAsConsumer(), out.UseAsProducer()}, Task: record("B")})
	b.DefineTask(TaskInfo{Label: "D", CellUses: []CellUse{a.UseAsConsumer(), side.UseAsProducer()}, Task: record("D")})

	g, err := b.Build(out.ID())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if g.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", g.Len())
	}
	if g.Label(2) != "" {
		t.Errorf("pruned task still has label %q", g.Label(2))
	}
	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !slices.Equal(ran, []string{"A", "B"}) {
		t.Errorf("ran %v, want [A B]", ran)
	}
}

func TestBuildPanicsAfterBuild(t *testing.T) {
	b := NewGraphBuilder()
	if _, err := b.Build(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if recover() == nil {
			t.Error("DefineCell after Build should panic")
		}
	}()
	DefineCell(b, 1)
}

func TestGraphBuilderString(t *testing.T) {
	b := NewGraphBuilder(WithLabel("frame"))
	c := DefineCell(b, 0)
	b.DefineTask(TaskInfo{Label: "w", CellUses: []CellUse{c.UseAsProducer()}, Task: noop()})

	s := b.String()
	for _, want := range []string{`"frame"`, `"w"`, "cell#0:producer"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
	if b.NumCells() != 1 || b.NumTasks() != 1 {
		t.Errorf("NumCells/NumTasks = %d/%d, want 1/1", b.NumCells(), b.NumTasks())
	}
}
