package taskman

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// LayeredExecutor runs one dependency layer at a time, running the tasks of a
// layer concurrently. A layer starts only after the previous one has
// finished, which is coarser than PoolExecutor but needs no bookkeeping.
type LayeredExecutor struct {
	// Limit caps the number of tasks running at once. Zero or negative
	// means no limit.
	Limit int
}

// Execute implements Executor.
func (e LayeredExecutor) Execute(ctx context.Context, p *Plan) error {
	for _, layer := range p.Layers() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.runLayer(ctx, p, layer); err != nil {
			return err
		}
	}
	return nil
}

func (e LayeredExecutor) runLayer(ctx context.Context, p *Plan, layer []int) error {
	if len(layer) == 1 {
		return p.RunTask(ctx, layer[0])
	}

	var g errgroup.Group
	if e.Limit > 0 {
		g.SetLimit(e.Limit)
	}

	var (
		mu       sync.Mutex
		failed   bool
		panicked *taskPanic
	)
	for _, i := range layer {
		g.Go(func() error {
			mu.Lock()
			skip := failed
			mu.Unlock()
			if skip {
				return nil
			}
			pv, err := runRecovered(ctx, p, i)
			if pv != nil || err != nil {
				mu.Lock()
				failed = true
				if pv != nil && panicked == nil {
					panicked = pv
				}
				mu.Unlock()
			}
			return err
		})
	}
	err := g.Wait()
	if panicked != nil {
		panic(panicked.value)
	}
	return err
}
