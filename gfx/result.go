package gfx

import (
	"context"
	"sync"
	"time"
)

// CmdBufferResult is the completion future of a command buffer. The zero
// value is not usable; create one with NewCmdBufferResult.
type CmdBufferResult struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewCmdBufferResult returns a pending result.
func NewCmdBufferResult() *CmdBufferResult {
	return &CmdBufferResult{done: make(chan struct{})}
}

// CompletedResult returns a result that is already complete with err.
func CompletedResult(err error) *CmdBufferResult {
	r := NewCmdBufferResult()
	r.Complete(err)
	return r
}

// Complete resolves the result. Only the first call has an effect; it
// reports whether this call resolved the result.
func (r *CmdBufferResult) Complete(err error) bool {
	resolved := false
	r.once.Do(func() {
		r.err = err
		close(r.done)
		resolved = true
	})
	return resolved
}

// Done returns a channel closed once the command buffer has completed.
func (r *CmdBufferResult) Done() <-chan struct{} { return r.done }

// Poll reports whether the command buffer has completed and, if so, its
// error.
func (r *CmdBufferResult) Poll() (bool, error) {
	select {
	case <-r.done:
		return true, r.err
	default:
		return false, nil
	}
}

// Err returns the completion error, or nil while pending.
func (r *CmdBufferResult) Err() error {
	_, err := r.Poll()
	return err
}

// Wait blocks until the command buffer has completed or ctx is done.
func (r *CmdBufferResult) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout blocks for at most d. It returns ErrTimeout if the command
// buffer is still pending. A completed result never reports ErrTimeout.
func (r *CmdBufferResult) WaitTimeout(d time.Duration) error {
	if done, err := r.Poll(); done {
		return err
	}
	if d <= 0 {
		return ErrTimeout
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-r.done:
		return r.err
	case <-t.C:
		return ErrTimeout
	}
}
