// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package passman

import (
	"errors"
	"fmt"
	"strings"
)

// Schedule error kinds.
var (
	// ErrMultipleProducers means two passes produce the same resource.
	ErrMultipleProducers = errors.New("passman: resource has more than one producer")

	// ErrUndefinedResource means a use or an output refers to a resource
	// that was not defined by the builder.
	ErrUndefinedResource = errors.New("passman: undefined resource")

	// ErrInvalidUse means a resource use is malformed: a non-aliasable use
	// that does not produce, or a consumed resource with no producer.
	ErrInvalidUse = errors.New("passman: invalid resource use")

	// ErrCycle means the passes depend on each other cyclically.
	ErrCycle = errors.New("passman: cyclic dependency")

	// ErrBuilderConsumed is returned by Schedule when called a second time.
	ErrBuilderConsumed = errors.New("passman: builder already scheduled")
)

// Runtime errors.
var (
	// ErrInstantiated is returned by Instantiate when called a second time.
	ErrInstantiated = errors.New("passman: schedule already instantiated")

	// ErrRunConsumed is returned by Run.Encode when the run was already
	// encoded or a newer run was started on the same runner.
	ErrRunConsumed = errors.New("passman: run already encoded or superseded")

	// ErrReleased is returned by ScheduleRunner.Run after Release.
	ErrReleased = errors.New("passman: schedule runner released")
)

// ScheduleError describes why a schedule could not be built.
type ScheduleError struct {
	Kind error
	Msg  string
}

func (e *ScheduleError) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Msg
}

func (e *ScheduleError) Unwrap() error { return e.Kind }

func scheduleErrorf(kind error, format string, args ...any) error {
	return &ScheduleError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	return &ScheduleError{Kind: ErrCycle, Msg: strings.Join(path, " -> ")}
}
