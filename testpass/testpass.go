// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package testpass provides a render pass that fills its output image with
// a fullscreen gradient. It exercises the pass and fence plumbing end to
// end without any scene data.
package testpass

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/gfx"
	"github.com/gogpu/framegraph/passman"
)

//go:embed shaders/fullscreen.wgsl
var fullscreenWGSL string

var errReleased = errors.New("testpass: renderer released")

// DefaultFormat is the format of the output image.
const DefaultFormat = gputypes.TextureFormatRGBA8Unorm

// Renderer owns the pipeline shared by every pass it defines.
type Renderer struct {
	format   gputypes.TextureFormat
	library  gfx.Library
	pipeline gfx.RenderPipeline
}

// NewRenderer compiles the shader and creates the pipeline for format.
func NewRenderer(device gfx.Device, format gputypes.TextureFormat) (*Renderer, error) {
	lib, err := device.NewLibrary("testpass", fullscreenWGSL)
	if err != nil {
		return nil, fmt.Errorf("testpass: %w", err)
	}
	pipe, err := device.NewRenderPipeline(gfx.RenderPipelineDesc{
		Label:         "testpass",
		Library:       lib,
		VertexEntry:   "vs_main",
		FragmentEntry: "fs_main",
		ColorFormat:   format,
	})
	if err != nil {
		lib.Release()
		return nil, fmt.Errorf("testpass: %w", err)
	}
	return &Renderer{format: format, library: lib, pipeline: pipe}, nil
}

// Format returns the color format the pipeline renders to.
func (r *Renderer) Format() gputypes.TextureFormat { return r.format }

// Release destroys the pipeline and shader library. Passes defined by r
// must not be encoded afterwards.
func (r *Renderer) Release() {
	if r.pipeline != nil {
		r.pipeline.Release()
		r.library.Release()
		r.pipeline, r.library = nil, nil
	}
}

// DefinePass adds a pass producing an image of the given extents and
// returns the image. The image is usually replaced per frame with
// Run.BindResource, for example by a swapchain image.
func DefinePass[C any](r *Renderer, b *passman.ScheduleBuilder[C], extents [2]uint32) passman.ResourceRef[*passman.ImageResource] {
	output := b.DefineImage(passman.NewImageResourceInfo("testpass.output", extents, r.format))
	b.DefinePass(passman.PassInfo[C]{
		Label:        "testpass",
		ResourceUses: []passman.ResourceUse{output.UseAsProducer()},
		Factory: func(*passman.PassInstantiationContext) (passman.Pass[C], error) {
			return &pass[C]{renderer: r, output: output}, nil
		},
	})
	return output
}

type pass[C any] struct {
	passman.SingleFence
	renderer *Renderer
	output   passman.ResourceRef[*passman.ImageResource]
}

func (p *pass[C]) Encode(cb gfx.CmdBuffer, wait, update []gfx.Fence, _ C, enc *passman.PassEncodingContext) error {
	if p.renderer.pipeline == nil {
		return errReleased
	}
	img := passman.GetResource(enc, p.output).Image
	cb.InvalidateImages(img)

	e, err := cb.EncodeRender(gfx.RenderTarget{
		Label:      "testpass",
		Color:      img,
		ClearColor: gputypes.Color{A: 1},
	})
	if err != nil {
		return err
	}
	for _, f := range wait {
		e.WaitFence(f, gfx.AccessColorWrite)
	}
	e.BindPipeline(p.renderer.pipeline)
	e.Draw(3, 1)
	e.UpdateFence(update[0], gfx.AccessColorWrite)
	return e.End()
}
