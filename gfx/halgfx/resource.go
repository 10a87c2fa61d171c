// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package halgfx

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/gfx"
)

// Image is a gfx.Image backed by a HAL texture and a default view.
type Image struct {
	device   *Device
	desc     gfx.ImageDesc
	external bool

	tex  hal.Texture
	view hal.TextureView
}

var _ gfx.Image = (*Image)(nil)

// WrapImage returns an already bound image for a texture owned by the
// caller, such as a surface texture. Release does not destroy it.
func (d *Device) WrapImage(desc gfx.ImageDesc, tex hal.Texture, view hal.TextureView) *Image {
	return &Image{device: d, desc: desc, external: true, tex: tex, view: view}
}

func (i *Image) Label() string       { return i.desc.Label }
func (i *Image) Desc() gfx.ImageDesc { return i.desc }
func (i *Image) Bound() bool         { return i.view != nil }

// View returns the texture view used as render attachment, or nil before
// the image is bound.
func (i *Image) View() hal.TextureView { return i.view }

func (i *Image) allocate() error {
	tex, err := i.device.dev.CreateTexture(&hal.TextureDescriptor{
		Label: i.desc.Label,
		Size: hal.Extent3D{
			Width:              i.desc.Width,
			Height:             i.desc.Height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        i.desc.Format,
		Usage:         i.desc.Usage,
	})
	if err != nil {
		return gfx.NewError("allocate image "+i.desc.Label, gfx.ErrOutOfMemory, err)
	}
	view, err := i.device.dev.CreateTextureView(tex, &hal.TextureViewDescriptor{Label: i.desc.Label + "_view"})
	if err != nil {
		i.device.dev.DestroyTexture(tex)
		return gfx.NewError("allocate image "+i.desc.Label, nil, err)
	}
	i.tex, i.view = tex, view
	return nil
}

// Release destroys the texture unless the image is external.
func (i *Image) Release() {
	if i.external || i.tex == nil {
		return
	}
	i.device.dev.DestroyTextureView(i.view)
	i.device.dev.DestroyTexture(i.tex)
	i.tex, i.view = nil, nil
}

// Buffer is a gfx.Buffer backed by a HAL buffer.
type Buffer struct {
	device *Device
	desc   gfx.BufferDesc
	buf    hal.Buffer
}

var _ gfx.Buffer = (*Buffer)(nil)

func (b *Buffer) Label() string        { return b.desc.Label }
func (b *Buffer) Desc() gfx.BufferDesc { return b.desc }
func (b *Buffer) Bound() bool          { return b.buf != nil }

func (b *Buffer) allocate() error {
	buf, err := b.device.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: b.desc.Label,
		Size:  b.desc.Size,
		Usage: b.desc.Usage,
	})
	if err != nil {
		return gfx.NewError("allocate buffer "+b.desc.Label, gfx.ErrOutOfMemory, err)
	}
	b.buf = buf
	return nil
}

// Release destroys the buffer.
func (b *Buffer) Release() {
	if b.buf == nil {
		return
	}
	b.device.dev.DestroyBuffer(b.buf)
	b.buf = nil
}

// Heap allocates its bound resources when built. HAL manages the backing
// memory per object, so a heap is the unit of allocation and release rather
// than a single memory block.
type Heap struct {
	device *Device
	desc   gfx.HeapDesc
	bound  []gfx.Bindable
	built  bool
}

var _ gfx.Heap = (*Heap)(nil)

type allocatable interface {
	gfx.Bindable
	allocate() error
}

// Bind implements gfx.Heap.
func (h *Heap) Bind(res gfx.Bindable) error {
	if h.built {
		return gfx.NewError("Bind", nil, fmt.Errorf("heap %q is already built", h.desc.Label))
	}
	mt, ok := h.device.ChooseMemoryType(res)
	if !ok || mt != h.desc.MemoryType {
		return gfx.NewError("Bind", gfx.ErrNotSupported,
			fmt.Errorf("%q cannot be bound to heap %q", res.Label(), h.desc.Label))
	}
	h.bound = append(h.bound, res)
	return nil
}

// Build implements gfx.Heap. On failure the resources allocated so far are
// released.
func (h *Heap) Build() error {
	if h.built {
		return gfx.NewError("Build", nil, fmt.Errorf("heap %q is already built", h.desc.Label))
	}
	for i, res := range h.bound {
		a, ok := res.(allocatable)
		if !ok {
			return gfx.NewError("Build", gfx.ErrNotSupported, errors.New("foreign resource"))
		}
		if err := a.allocate(); err != nil {
			for _, done := range h.bound[:i] {
				done.Release()
			}
			return err
		}
	}
	h.built = true
	framegraph.Logger().Debug("halgfx: heap built",
		"heap", h.desc.Label,
		"memoryType", h.desc.MemoryType,
		"resources", len(h.bound))
	return nil
}

// Release implements gfx.Heap. Bound resources lose their memory.
func (h *Heap) Release() {
	for _, res := range h.bound {
		res.Release()
	}
	h.bound = nil
}

// Library is a compiled shader module.
type Library struct {
	device *Device
	label  string
	module hal.ShaderModule
}

func (l *Library) Label() string { return l.label }

func (l *Library) Release() {
	if l.module != nil {
		l.device.dev.DestroyShaderModule(l.module)
		l.module = nil
	}
}

// RenderPipeline is a HAL render pipeline with an empty layout.
type RenderPipeline struct {
	device   *Device
	label    string
	layout   hal.PipelineLayout
	pipeline hal.RenderPipeline
}

func (p *RenderPipeline) Label() string { return p.label }

func (p *RenderPipeline) Release() {
	if p.pipeline != nil {
		p.device.dev.DestroyRenderPipeline(p.pipeline)
		p.device.dev.DestroyPipelineLayout(p.layout)
		p.pipeline, p.layout = nil, nil
	}
}

// ComputePipeline is a HAL compute pipeline with an empty layout.
type ComputePipeline struct {
	device   *Device
	label    string
	layout   hal.PipelineLayout
	pipeline hal.ComputePipeline
}

func (p *ComputePipeline) Label() string { return p.label }

func (p *ComputePipeline) Release() {
	if p.pipeline != nil {
		p.device.dev.DestroyComputePipeline(p.pipeline)
		p.device.dev.DestroyPipelineLayout(p.layout)
		p.pipeline, p.layout = nil, nil
	}
}
