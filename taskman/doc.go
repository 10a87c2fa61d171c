// Package taskman implements a dependency graph of cells and tasks.
//
// A cell is a typed storage slot that lives as long as the graph. A task
// declares, through [CellUse] values, which cells it produces (exclusive
// write) and which it consumes (read-only). [GraphBuilder.Build] validates
// the declarations, orders the tasks and returns an immutable [Graph] that
// can be run once per frame.
//
// # Rules
//
//   - A cell has at most one producer task. It may have none, in which case
//     its value is supplied by the caller (see [CellValue]).
//   - A producer runs to completion before any consumer of the same cell
//     starts, whatever the [Executor].
//   - Tasks registered earlier run earlier when the dependencies allow
//     either order, so two identical build sequences yield identical orders.
//   - Accessing a cell that the running task did not declare, or writing a
//     cell declared only as consumed, panics. These are programming errors.
//
// # Errors
//
// Build errors are reported as *[BuildError] and match [ErrMultipleProducers],
// [ErrUndefinedCell] or [ErrCycle] with errors.Is. Errors returned by tasks
// are passed through [Graph.Run] unchanged.
package taskman
