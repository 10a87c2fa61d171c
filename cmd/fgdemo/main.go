// Command fgdemo renders frames through a frame graph on the HAL noop
// backend and reports how long the graph took per frame.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/cbtasks"
	"github.com/gogpu/framegraph/gfx"
	"github.com/gogpu/framegraph/gfx/halgfx"
	"github.com/gogpu/framegraph/passman"
	"github.com/gogpu/framegraph/ring"
	"github.com/gogpu/framegraph/ringbuffer"
	"github.com/gogpu/framegraph/taskman"
	"github.com/gogpu/framegraph/testpass"
)

// uniformBlock is the size and alignment of the per-frame uniforms.
const uniformBlock = 256

// frameParams stands in for per-frame uniforms written into a ring slot.
type frameParams struct {
	frame    int
	slot     int
	uniforms ringbuffer.Alloc
}

func main() {
	var (
		backend  = flag.String("backend", "", "gfx backend (default: first available)")
		frames   = flag.Int("frames", 120, "number of frames to run")
		width    = flag.Int("width", 800, "target width")
		height   = flag.Int("height", 600, "target height")
		inFlight = flag.Int("inflight", 3, "frames in flight (ring length)")
		executor = flag.String("executor", "serial", "task executor: serial, pool or layered")
		workers  = flag.Int("workers", 0, "workers of the pool executor (0: GOMAXPROCS)")
		verbose  = flag.Bool("v", false, "log graph construction and runs")
	)
	flag.Parse()

	if *verbose {
		framegraph.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	registry := gfx.NewRegistry(halgfx.NoopBackend)
	halgfx.Register(registry, halgfx.WithWaitTimeout(2*time.Second))

	var (
		dev   gfx.Device
		queue gfx.CmdQueue
		err   error
		name  = *backend
	)
	if name == "" {
		name, dev, queue, err = registry.Default()
	} else {
		dev, queue, err = registry.Open(name)
	}
	if err != nil {
		log.Fatalf("Failed to open backend: %v", err)
	}
	defer dev.Close()

	exec, closeExec, err := newExecutor(*executor, *workers)
	if err != nil {
		log.Fatal(err)
	}
	defer closeExec()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stats, err := run(ctx, dev, queue, exec, config{
		frames:   *frames,
		extents:  [2]uint32{uint32(*width), uint32(*height)},
		inFlight: *inFlight,
	})
	if err != nil {
		log.Fatalf("Frame graph failed: %v", err)
	}

	log.Printf("%s: %d frames in %v (%.1f frames/s), last slot %d",
		name, stats.frames, stats.elapsed.Round(time.Millisecond), stats.rate(), stats.lastSlot)
	if hd, ok := dev.(*halgfx.Device); ok {
		cs := hd.ShaderCacheStats()
		log.Printf("shader cache: %d entries, %d hits, %d misses", cs.Len, cs.Hits, cs.Misses)
	}
}

func newExecutor(kind string, workers int) (taskman.Executor, func(), error) {
	switch kind {
	case "serial":
		return taskman.SerialExecutor{}, func() {}, nil
	case "pool":
		e := taskman.NewPoolExecutor(workers)
		return e, e.Close, nil
	case "layered":
		return taskman.LayeredExecutor{Limit: workers}, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown executor %q", kind)
}

type config struct {
	frames   int
	extents  [2]uint32
	inFlight int
}

type runStats struct {
	frames      int
	elapsed     time.Duration
	lastSlot    int
	lastUniform ringbuffer.Alloc
}

func (s runStats) rate() float64 {
	if s.elapsed <= 0 {
		return 0
	}
	return float64(s.frames) / s.elapsed.Seconds()
}

// run builds the frame graph:
//
//	ring.acquire -----------------------> params -> frame.encode -> frame.submit -> ring.store
//	uniforms -> ringbuffer.allocate ---'                                   '---> ringbuffer.post
//
// and runs it cfg.frames times.
func run(ctx context.Context, dev gfx.Device, queue gfx.CmdQueue, exec taskman.Executor, cfg config) (runStats, error) {
	gb := taskman.NewGraphBuilder(taskman.WithLabel("fgdemo"), taskman.WithExecutor(exec))
	rb := ring.NewBuilder(gb, cfg.inFlight)
	ub := ringbuffer.NewBuilder(uint64(cfg.inFlight) * uniformBlock)
	uniforms := ub.DefineClient(gb)

	gb.DefineTask(taskman.TaskInfo{
		Label:    "uniforms",
		CellUses: []taskman.CellUse{uniforms.Requests.UseAsProducer()},
		Task: taskman.TaskFunc(func(c *taskman.GraphContext) error {
			reqs := taskman.BorrowMut(c, uniforms.Requests)
			*reqs = append((*reqs)[:0], ringbuffer.AllocReq{Size: 64, Align: uniformBlock})
			return nil
		}),
	})

	frameNo := taskman.DefineCell(gb, 0)
	params := taskman.DefineCell(gb, frameParams{})
	slots := make([]frameParams, rb.Len())
	gb.DefineTask(taskman.TaskInfo{
		Label: "params",
		CellUses: []taskman.CellUse{
			frameNo.UseAsConsumer(),
			rb.Index().UseAsConsumer(),
			uniforms.Allocs.UseAsConsumer(),
			params.UseAsProducer(),
		},
		Task: taskman.TaskFunc(func(c *taskman.GraphContext) error {
			p := frameParams{
				frame:    taskman.Borrow(c, frameNo),
				slot:     taskman.Borrow(c, rb.Index()),
				uniforms: taskman.Borrow(c, uniforms.Allocs)[0],
			}
			slots[p.slot] = p
			*taskman.BorrowMut(c, params) = p
			return nil
		}),
	})

	renderer, err := testpass.NewRenderer(dev, testpass.DefaultFormat)
	if err != nil {
		return runStats{}, err
	}
	defer renderer.Release()

	cbb := cbtasks.NewCmdBufferTaskBuilder(cbtasks.WithLabel("frame"), cbtasks.WithResultCells(2))
	output := testpass.DefinePass(renderer, cbb.ScheduleBuilder(), cfg.extents)
	cbb.AddEncodingDependency(params.ID())
	set, err := cbb.AddToGraph(dev, queue, gb, []passman.ResourceID{output.ID()})
	if err != nil {
		return runStats{}, err
	}
	rb.AddToGraph(gb, set.CmdBufferResults[0])
	ub.AddToGraph(gb, set.CmdBufferResults[1])

	g, err := gb.Build()
	if err != nil {
		set.Release()
		return runStats{}, err
	}
	defer func() {
		// The schedule's images may still be in use by the last frame.
		if last := *taskman.CellValue(g, set.CmdBufferResults[0]); last != nil {
			_ = last.WaitTimeout(5 * time.Second)
		}
		set.Release()
	}()

	stats := runStats{}
	start := time.Now()
	for i := range cfg.frames {
		*taskman.CellValue(g, frameNo) = i
		if err := g.Run(ctx); err != nil {
			return stats, fmt.Errorf("frame %d: %w", i, err)
		}
		stats.frames++
		p := taskman.CellValue(g, params)
		stats.lastSlot, stats.lastUniform = p.slot, p.uniforms
	}
	if last := *taskman.CellValue(g, set.CmdBufferResults[0]); last != nil {
		if err := last.Wait(ctx); err != nil {
			return stats, err
		}
	}
	stats.elapsed = time.Since(start)
	return stats, nil
}
