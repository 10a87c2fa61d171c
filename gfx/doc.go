// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gfx defines the GPU capabilities consumed by the pass scheduler.
//
// The interfaces are deliberately small: a Device creates images, buffers,
// heaps, shader libraries and pipelines; a CmdQueue creates command buffers
// and fences; a CmdBuffer hands out render, compute and copy encoders whose
// work is ordered with fences.
//
// # Fences
//
// A Fence orders work between encoders of the same queue. An encoder that
// reads or writes resources produced by another encoder calls WaitFence
// before its first dependent command; the producing encoder calls
// UpdateFence after its last command. Fences are reusable: the same fence is
// updated once per frame.
//
// # Completion
//
// CmdBuffer.Commit submits the recorded work. Completion is reported through
// the CmdBufferResult returned by CmdBuffer.Result, a one-shot future that
// can be polled, waited on with a context or a timeout, or selected on via
// Done.
//
// # Backends
//
// Implementations live in sub-packages: gfx/halgfx adapts
// github.com/gogpu/wgpu/hal, gfx/gfxtest records commands for tests. A
// Registry maps backend names to factories and picks the preferred available
// one.
package gfx
