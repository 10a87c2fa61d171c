package taskman

import (
	"errors"
	"fmt"
	"strings"
)

// Build error kinds.
var (
	// ErrMultipleProducers means two tasks declare the same cell as produced.
	ErrMultipleProducers = errors.New("taskman: cell has more than one producer")

	// ErrUndefinedCell means a cell use or an output refers to a cell that
	// was not defined by the builder.
	ErrUndefinedCell = errors.New("taskman: undefined cell")

	// ErrCycle means the producer/consumer relation between tasks is cyclic.
	ErrCycle = errors.New("taskman: cyclic dependency")

	// ErrBuilderConsumed is returned by Build when called a second time.
	ErrBuilderConsumed = errors.New("taskman: builder already built")
)

// Run errors.
var (
	// ErrGraphRunning is returned by Run while another Run of the same graph
	// is in progress.
	ErrGraphRunning = errors.New("taskman: graph is already running")
)

// BuildError describes why a graph could not be built.
type BuildError struct {
	Kind error
	Msg  string
}

func (e *BuildError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *BuildError) Unwrap() error { return e.Kind }

func buildErrorf(kind error, format string, args ...any) error {
	return &BuildError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	if len(path) == 0 {
		return &BuildError{Kind: ErrCycle}
	}
	return &BuildError{Kind: ErrCycle, Msg: strings.Join(path, " -> ")}
}
