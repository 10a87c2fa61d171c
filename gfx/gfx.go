// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gfx

import "github.com/gogpu/gputypes"

// MemoryType identifies a class of device memory a heap allocates from.
type MemoryType uint32

const (
	// MemoryTypePrivate is device-local memory not visible to the host.
	MemoryTypePrivate MemoryType = iota

	// MemoryTypeShared is host-visible memory for mappable buffers.
	MemoryTypeShared
)

// ImageDesc describes a 2D image.
type ImageDesc struct {
	Label  string
	Width  uint32
	Height uint32
	Format gputypes.TextureFormat
	Usage  gputypes.TextureUsage
}

// BufferDesc describes a linear buffer.
type BufferDesc struct {
	Label string
	Size  uint64
	Usage gputypes.BufferUsage
}

// HeapDesc describes a heap that backs bindable resources of one memory type.
type HeapDesc struct {
	Label      string
	MemoryType MemoryType
}

// Bindable is a resource that needs memory from a Heap before use.
type Bindable interface {
	Label() string

	// Bound reports whether the resource has memory attached.
	Bound() bool

	// Release frees the resource. It is safe to call more than once.
	Release()
}

// Image is a 2D texture usable as a render target or sampled image.
type Image interface {
	Bindable
	Desc() ImageDesc
}

// Buffer is a linear memory range.
type Buffer interface {
	Bindable
	Desc() BufferDesc
}

// Heap allocates memory for bindable resources. Resources are attached with
// Bind and receive memory when Build is called.
type Heap interface {
	Bind(res Bindable) error
	Build() error
	Release()
}

// Library is a compiled shader module.
type Library interface {
	Label() string
	Release()
}

// RenderPipelineDesc describes a render pipeline drawing into one color
// target.
type RenderPipelineDesc struct {
	Label         string
	Library       Library
	VertexEntry   string
	FragmentEntry string
	ColorFormat   gputypes.TextureFormat
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	Label   string
	Library Library
	Entry   string
}

// RenderPipeline is a compiled render pipeline state.
type RenderPipeline interface {
	Label() string
	Release()
}

// ComputePipeline is a compiled compute pipeline state.
type ComputePipeline interface {
	Label() string
	Release()
}

// Device creates GPU objects.
type Device interface {
	NewImage(desc ImageDesc) (Image, error)
	NewBuffer(desc BufferDesc) (Buffer, error)

	// ChooseMemoryType returns the memory type res should be bound to. The
	// second result is false if res does not need binding.
	ChooseMemoryType(res Bindable) (MemoryType, bool)

	NewHeap(desc HeapDesc) (Heap, error)
	NewLibrary(label, wgsl string) (Library, error)
	NewRenderPipeline(desc RenderPipelineDesc) (RenderPipeline, error)
	NewComputePipeline(desc ComputePipelineDesc) (ComputePipeline, error)

	Close() error
}

// Fence orders encoders of one queue. Fences are opaque and may be shared
// between goroutines.
type Fence interface {
	Label() string
}

// CmdQueue creates command buffers and fences.
type CmdQueue interface {
	NewCmdBuffer() (CmdBuffer, error)
	NewFence() (Fence, error)
}

// RenderTarget is the color attachment of a render encoder. The image is
// cleared to ClearColor when the encoder begins.
type RenderTarget struct {
	Label      string
	Color      Image
	ClearColor gputypes.Color
}

// CmdBuffer records encoders and submits them with Commit. At most one
// encoder may be open at a time. A CmdBuffer is used by one goroutine.
type CmdBuffer interface {
	EncodeRender(target RenderTarget) (RenderCmdEncoder, error)
	EncodeCompute() (ComputeCmdEncoder, error)
	EncodeCopy() (CopyCmdEncoder, error)

	// InvalidateImages marks the contents of images as undefined so the
	// next pass may skip loading them.
	InvalidateImages(images ...Image)

	// Result returns the completion future of this command buffer. It is
	// valid before Commit.
	Result() *CmdBufferResult

	// Commit submits the recorded work. A second call returns ErrCommitted.
	Commit() error

	// Discard drops the recorded work and releases the command buffer
	// without submitting it. The result completes with ErrDiscarded. It does
	// nothing after Commit or a previous Discard.
	Discard()
}

// CmdEncoder is the part common to all encoders.
type CmdEncoder interface {
	// WaitFence delays commands of this encoder that perform the given
	// accesses until f is updated.
	WaitFence(f Fence, dst AccessTypeFlags)

	// UpdateFence signals f once the given accesses of all previous
	// commands of this encoder are complete.
	UpdateFence(f Fence, src AccessTypeFlags)

	End() error
}

// RenderCmdEncoder records draw commands.
type RenderCmdEncoder interface {
	CmdEncoder
	BindPipeline(p RenderPipeline)
	Draw(vertexCount, instanceCount uint32)
}

// ComputeCmdEncoder records dispatches.
type ComputeCmdEncoder interface {
	CmdEncoder
	BindPipeline(p ComputePipeline)
	Dispatch(x, y, z uint32)
}

// CopyCmdEncoder records transfers.
type CopyCmdEncoder interface {
	CmdEncoder
	CopyBuffer(src Buffer, srcOffset uint64, dst Buffer, dstOffset, size uint64)
}
