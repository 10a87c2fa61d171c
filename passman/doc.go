// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package passman schedules GPU passes.
//
// A ScheduleBuilder collects transient resources (images, buffers) and
// passes declaring how they use them. Schedule validates the declarations,
// drops passes that do not contribute to the requested outputs, and orders
// the remaining passes to keep the GPU busy: among the passes that may run
// last, the one whose products are needed soonest is placed last, so
// independent work fills the gaps.
//
// Scheduling also computes a lifetime for every resource, the range of
// passes during which its memory must stay valid. Lifetimes are extended
// where that removes the need for aliasing barriers between unordered
// passes. Resources used through UseAsNonAliasable live for the whole
// schedule.
//
// # Instantiation and encoding
//
// Schedule.Instantiate creates the resources, binds them into one heap per
// memory type and calls every pass factory. The resulting ScheduleRunner is
// driven once per frame:
//
//	run, err := runner.Run()
//	run.BindResource(target.ID(), passman.NewExternalImageResource(swapchainImage))
//	err = run.Encode(cb, prevFrameFences, frameData)
//
// Each pass receives the fences of the passes it depends on as wait fences
// (or the input fences, if it depends on none) and NumUpdateFences fresh
// fences to update. The update fences of the output passes are the run's
// output fences; the next frame passes them as input fences.
package passman
