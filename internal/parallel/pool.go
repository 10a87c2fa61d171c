// Package parallel provides the worker pool behind taskman's concurrent
// executor.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// minQueueLen is the smallest per-worker queue capacity.
const minQueueLen = 8

// Pool is a fixed set of goroutines running submitted functions.
//
// Every worker owns a bounded queue. A worker whose queue is empty steals
// from its siblings before it blocks, so a frame with a few slow tasks still
// keeps every worker busy.
//
// Pool is safe for concurrent use. Functions running on the pool that submit
// more work should use TryGo and run the work inline when it reports false;
// Go may block on a full queue.
type Pool struct {
	queues []chan func()
	quit   chan struct{}
	wg     sync.WaitGroup

	// mu is held for reading by submissions and for writing by Close, so no
	// function lands in a queue whose worker has exited.
	mu        sync.RWMutex
	closed    atomic.Bool
	cursor    atomic.Uint32
	completed atomic.Uint64
}

// New starts a pool of workers goroutines. If workers is 0 or negative,
// GOMAXPROCS is used.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	qlen := max(workers*4, minQueueLen)

	p := &Pool{
		queues: make([]chan func(), workers),
		quit:   make(chan struct{}),
	}
	for i := range p.queues {
		p.queues[i] = make(chan func(), qlen)
	}
	p.wg.Add(workers)
	for i := range workers {
		go p.loop(i)
	}
	return p
}

func (p *Pool) loop(id int) {
	defer p.wg.Done()
	for {
		fn, ok := p.take(id)
		if !ok {
			return
		}
		fn()
		p.completed.Add(1)
	}
}

// take returns the next function for worker id. ok is false once the pool
// is closed and the worker's queue is empty.
func (p *Pool) take(id int) (fn func(), ok bool) {
	own := p.queues[id]
	select {
	case fn = <-own:
		return fn, true
	default:
	}
	if fn = p.steal(id); fn != nil {
		return fn, true
	}
	select {
	case fn = <-own:
		return fn, true
	case <-p.quit:
		select {
		case fn = <-own:
			return fn, true
		default:
			return nil, false
		}
	}
}

func (p *Pool) steal(id int) func() {
	n := len(p.queues)
	for k := 1; k < n; k++ {
		select {
		case fn := <-p.queues[(id+k)%n]:
			return fn
		default:
		}
	}
	return nil
}

// Go queues fn on the least loaded worker, blocking while its queue is
// full. Nil functions and calls after Close are ignored.
func (p *Pool) Go(fn func()) {
	if fn == nil {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return
	}
	p.queues[p.leastLoaded()] <- fn
}

// TryGo queues fn without blocking. It reports false, leaving fn to the
// caller, when every queue is full or the pool is closed or closing.
func (p *Pool) TryGo(fn func()) bool {
	if fn == nil || !p.mu.TryRLock() {
		return false
	}
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return false
	}
	n := len(p.queues)
	start := int(p.cursor.Add(1) % uint32(n))
	for k := range n {
		select {
		case p.queues[(start+k)%n] <- fn:
			return true
		default:
		}
	}
	return false
}

func (p *Pool) leastLoaded() int {
	best := 0
	for i := 1; i < len(p.queues); i++ {
		if len(p.queues[i]) < len(p.queues[best]) {
			best = i
		}
	}
	return best
}

// Close stops accepting work, runs what is already queued and waits for
// the workers to exit. Further calls do nothing.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		return
	}
	p.closed.Store(true)
	close(p.quit)
	p.mu.Unlock()
	p.wg.Wait()
}

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool { return p.closed.Load() }

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return len(p.queues) }

// Pending returns an approximate number of queued functions.
func (p *Pool) Pending() int {
	n := 0
	for _, q := range p.queues {
		n += len(q)
	}
	return n
}

// Completed returns the number of functions the workers have run.
func (p *Pool) Completed() uint64 { return p.completed.Load() }
