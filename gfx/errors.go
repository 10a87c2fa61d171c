package gfx

import (
	"errors"
	"fmt"
)

// Error kinds reported by backends.
var (
	// ErrOutOfMemory means an allocation failed.
	ErrOutOfMemory = errors.New("gfx: out of memory")

	// ErrDeviceLost means the device stopped accepting work.
	ErrDeviceLost = errors.New("gfx: device lost")

	// ErrNotSupported means the backend cannot perform the operation.
	ErrNotSupported = errors.New("gfx: not supported")

	// ErrCommitted is returned when a command buffer is used after Commit.
	ErrCommitted = errors.New("gfx: command buffer already committed")

	// ErrDiscarded completes the result of a discarded command buffer and is
	// returned when one is used afterwards.
	ErrDiscarded = errors.New("gfx: command buffer discarded")

	// ErrEncoderOpen is returned when an encoder is started, or the command
	// buffer committed, while another encoder is still open.
	ErrEncoderOpen = errors.New("gfx: an encoder is still open")

	// ErrNotBound is returned when a bindable resource is used before it
	// received memory.
	ErrNotBound = errors.New("gfx: resource has no memory bound")

	// ErrTimeout is returned by CmdBufferResult.WaitTimeout.
	ErrTimeout = errors.New("gfx: timed out waiting for command buffer")

	// ErrBackendNotAvailable is returned by Registry when no factory matches.
	ErrBackendNotAvailable = errors.New("gfx: backend not available")
)

// Error records a failed backend operation.
type Error struct {
	Kind error  // one of the Err* kinds, or nil
	Op   string // operation, e.g. "NewImage"
	Err  error  // underlying backend error, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Kind != nil && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind.Error(), e.Err)
	case e.Kind != nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind.Error())
	case e.Err != nil:
		return fmt.Sprintf("gfx: %s: %v", e.Op, e.Err)
	default:
		return "gfx: " + e.Op + " failed"
	}
}

// Unwrap makes both the kind and the underlying error visible to errors.Is
// and errors.As.
func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewError returns an *Error for op.
func NewError(op string, kind, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}
