// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package halgfx implements the gfx interfaces on github.com/gogpu/wgpu/hal.
//
// A Device either wraps a HAL device owned by the application (New,
// NewFromProvider) or opens its own on the noop backend (NewNoop), which
// accepts all commands and completes them immediately.
//
// Images and buffers receive their HAL objects when the heap they are bound
// to is built. Each CmdBuffer records into one HAL command encoder; Commit
// submits it with a dedicated HAL fence and completes the CmdBufferResult
// from a goroutine once the fence signals.
//
// Shader libraries are WGSL compiled to SPIR-V by naga. Compiled modules
// are cached per device, keyed by source.
package halgfx
