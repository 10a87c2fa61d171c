package taskman

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gogpu/framegraph/internal/parallel"
)

// PoolExecutor runs independent tasks concurrently on a worker pool.
//
// Every task keeps a count of unfinished dependencies; the task finishing
// last starts it. Task errors and panics stop the spawning of new tasks.
// Run returns once the tasks already started have returned, with a panic
// taking precedence over an error.
type PoolExecutor struct {
	pool *parallel.Pool
}

// NewPoolExecutor starts a pool of workers goroutines. If workers is 0 or
// negative, GOMAXPROCS is used. Call Close when the executor is no longer
// needed.
func NewPoolExecutor(workers int) *PoolExecutor {
	return &PoolExecutor{pool: parallel.New(workers)}
}

// Workers returns the number of worker goroutines.
func (e *PoolExecutor) Workers() int { return e.pool.Workers() }

// Close stops the workers. Graphs using a closed executor still run, but on
// the calling goroutine.
func (e *PoolExecutor) Close() { e.pool.Close() }

// Execute implements Executor.
func (e *PoolExecutor) Execute(ctx context.Context, p *Plan) error {
	n := p.Len()
	if n == 0 {
		return nil
	}

	remaining := make([]atomic.Int32, n)
	for i := range n {
		remaining[i].Store(int32(len(p.Dependencies(i))))
	}

	var (
		wg       sync.WaitGroup
		stop     atomic.Bool
		mu       sync.Mutex
		firstErr error
		panicked *taskPanic
	)

	fail := func(err error, pv *taskPanic) {
		mu.Lock()
		if pv != nil && panicked == nil {
			panicked = pv
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		stop.Store(true)
	}

	var spawn func(i int)
	run := func(i int) {
		defer wg.Done()
		if stop.Load() {
			return
		}
		if err := ctx.Err(); err != nil {
			fail(err, nil)
			return
		}
		if pv, err := runRecovered(ctx, p, i); pv != nil || err != nil {
			fail(err, pv)
			return
		}
		for _, d := range p.Dependents(i) {
			if remaining[d].Add(-1) == 0 {
				spawn(d)
			}
		}
	}
	spawn = func(i int) {
		wg.Add(1)
		if !e.pool.TryGo(func() { run(i) }) {
			run(i)
		}
	}

	for i := range n {
		if len(p.Dependencies(i)) == 0 {
			spawn(i)
		}
	}
	wg.Wait()

	if panicked != nil {
		panic(panicked.value)
	}
	return firstErr
}

type taskPanic struct {
	value any
}

// runRecovered runs task i and converts a panic into a *taskPanic so that it
// can be re-raised on the goroutine that called Run.
func runRecovered(ctx context.Context, p *Plan, i int) (pv *taskPanic, err error) {
	defer func() {
		if r := recover(); r != nil {
			pv = &taskPanic{value: r}
		}
	}()
	return nil, p.RunTask(ctx, i)
}
