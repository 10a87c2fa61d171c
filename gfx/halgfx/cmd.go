// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package halgfx

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/gfx"
)

// Queue implements gfx.CmdQueue on the device's HAL queue.
type Queue struct {
	device *Device
	fences atomic.Uint64
}

var _ gfx.CmdQueue = (*Queue)(nil)

// Fence orders encoders within the HAL queue. The queue executes submissions
// in order, so a fence only tracks how often it was waited on and updated.
type Fence struct {
	label   string
	waits   atomic.Uint64
	updates atomic.Uint64
}

func (f *Fence) Label() string { return f.label }

// Updates returns the number of UpdateFence calls recorded for f.
func (f *Fence) Updates() uint64 { return f.updates.Load() }

// Waits returns the number of WaitFence calls recorded for f.
func (f *Fence) Waits() uint64 { return f.waits.Load() }

// NewFence implements gfx.CmdQueue.
func (q *Queue) NewFence() (gfx.Fence, error) {
	n := q.fences.Add(1)
	return &Fence{label: fmt.Sprintf("fence#%d", n)}, nil
}

// NewCmdBuffer implements gfx.CmdQueue. The buffer must be committed or
// discarded; dropping it leaks its HAL command encoder.
func (q *Queue) NewCmdBuffer() (gfx.CmdBuffer, error) {
	d := q.device
	if err := d.checkOpen("NewCmdBuffer"); err != nil {
		return nil, err
	}
	enc, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "framegraph_encoder"})
	if err != nil {
		return nil, gfx.NewError("NewCmdBuffer", nil, fmt.Errorf("create command encoder: %w", err))
	}
	if err := enc.BeginEncoding("framegraph_frame"); err != nil {
		enc.Destroy()
		return nil, gfx.NewError("NewCmdBuffer", nil, fmt.Errorf("begin encoding: %w", err))
	}
	return &CmdBuffer{device: d, enc: enc, result: gfx.NewCmdBufferResult()}, nil
}

// CmdBuffer records into a single HAL command encoder and submits it with
// its own HAL fence.
type CmdBuffer struct {
	device    *Device
	enc       hal.CommandEncoder
	result    *gfx.CmdBufferResult
	open      bool
	committed bool
	discarded bool
}

var _ gfx.CmdBuffer = (*CmdBuffer)(nil)

func (cb *CmdBuffer) begin(op string) error {
	switch {
	case cb.discarded:
		return gfx.NewError(op, gfx.ErrDiscarded, nil)
	case cb.committed:
		return gfx.NewError(op, gfx.ErrCommitted, nil)
	case cb.open:
		return gfx.NewError(op, gfx.ErrEncoderOpen, nil)
	}
	cb.open = true
	return nil
}

// EncodeRender implements gfx.CmdBuffer. The color target is cleared to
// target.ClearColor.
func (cb *CmdBuffer) EncodeRender(target gfx.RenderTarget) (gfx.RenderCmdEncoder, error) {
	img, ok := target.Color.(*Image)
	if !ok || img == nil || img.device != cb.device {
		return nil, gfx.NewError("EncodeRender", gfx.ErrNotSupported, errors.New("color target was not created by this device"))
	}
	if !img.Bound() {
		return nil, gfx.NewError("EncodeRender", gfx.ErrNotBound, fmt.Errorf("color target %q", img.Label()))
	}
	if err := cb.begin("EncodeRender"); err != nil {
		return nil, err
	}
	label := target.Label
	if label == "" {
		label = img.Label()
	}
	pass := cb.enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: label,
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       img.view,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: target.ClearColor,
		}},
	})
	return &renderEncoder{encoder: encoder{cb: cb}, pass: pass}, nil
}

// EncodeCompute implements gfx.CmdBuffer.
func (cb *CmdBuffer) EncodeCompute() (gfx.ComputeCmdEncoder, error) {
	if err := cb.begin("EncodeCompute"); err != nil {
		return nil, err
	}
	pass := cb.enc.BeginComputePass(&hal.ComputePassDescriptor{Label: "framegraph_compute"})
	return &computeEncoder{encoder: encoder{cb: cb}, pass: pass}, nil
}

// EncodeCopy implements gfx.CmdBuffer.
func (cb *CmdBuffer) EncodeCopy() (gfx.CopyCmdEncoder, error) {
	if err := cb.begin("EncodeCopy"); err != nil {
		return nil, err
	}
	return &copyEncoder{encoder: encoder{cb: cb}}, nil
}

// InvalidateImages implements gfx.CmdBuffer. Render encoders always clear
// their target, so there is nothing to record.
func (cb *CmdBuffer) InvalidateImages(...gfx.Image) {}

// Result implements gfx.CmdBuffer.
func (cb *CmdBuffer) Result() *gfx.CmdBufferResult { return cb.result }

// Commit implements gfx.CmdBuffer. The result completes when the HAL fence
// signals, or with gfx.ErrTimeout after the device's wait timeout.
func (cb *CmdBuffer) Commit() error {
	switch {
	case cb.discarded:
		return gfx.NewError("Commit", gfx.ErrDiscarded, nil)
	case cb.committed:
		return gfx.NewError("Commit", gfx.ErrCommitted, nil)
	case cb.open:
		return gfx.NewError("Commit", gfx.ErrEncoderOpen, nil)
	}
	cb.committed = true

	d := cb.device
	fail := func(err error) error {
		cb.result.Complete(err)
		return err
	}
	if err := d.checkOpen("Commit"); err != nil {
		cb.enc.DiscardEncoding()
		return fail(err)
	}

	cmdBuf, err := cb.enc.EndEncoding()
	if err != nil {
		cb.enc.Destroy()
		return fail(gfx.NewError("Commit", nil, fmt.Errorf("end encoding: %w", err)))
	}
	fence, err := d.dev.CreateFence()
	if err != nil {
		d.dev.FreeCommandBuffer(cmdBuf)
		cb.enc.Destroy()
		return fail(gfx.NewError("Commit", nil, fmt.Errorf("create fence: %w", err)))
	}
	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		d.dev.DestroyFence(fence)
		d.dev.FreeCommandBuffer(cmdBuf)
		cb.enc.Destroy()
		return fail(gfx.NewError("Commit", gfx.ErrDeviceLost, fmt.Errorf("submit: %w", err)))
	}

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		ok, err := d.dev.Wait(fence, 1, d.cfg.waitTimeout)
		switch {
		case err != nil:
			cb.result.Complete(gfx.NewError("Commit", gfx.ErrDeviceLost, fmt.Errorf("wait: %w", err)))
		case !ok:
			// The GPU may still use the command buffer; leak it rather than
			// free it under the device.
			framegraph.Logger().Warn("halgfx: command buffer timed out", "timeout", d.cfg.waitTimeout)
			cb.result.Complete(gfx.ErrTimeout)
			return
		default:
			cb.result.Complete(nil)
		}
		d.dev.DestroyFence(fence)
		d.dev.FreeCommandBuffer(cmdBuf)
		cb.enc.Destroy()
	}()
	return nil
}

// Discard implements gfx.CmdBuffer. The HAL encoder is discarded and
// destroyed; a closed device keeps ownership of it.
func (cb *CmdBuffer) Discard() {
	if cb.committed || cb.discarded {
		return
	}
	cb.discarded = true
	cb.open = false
	cb.result.Complete(gfx.ErrDiscarded)
	if cb.device.checkOpen("Discard") != nil {
		return
	}
	cb.enc.DiscardEncoding()
	cb.enc.Destroy()
	framegraph.Logger().Debug("halgfx: command buffer discarded")
}

// encoder implements the fence and lifetime part of gfx.CmdEncoder.
type encoder struct {
	cb    *CmdBuffer
	ended bool
	err   error // first misuse, returned by End
}

func (e *encoder) WaitFence(f gfx.Fence, _ gfx.AccessTypeFlags) {
	if hf, ok := f.(*Fence); ok {
		hf.waits.Add(1)
	}
}

func (e *encoder) UpdateFence(f gfx.Fence, _ gfx.AccessTypeFlags) {
	if hf, ok := f.(*Fence); ok {
		hf.updates.Add(1)
	}
}

func (e *encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *encoder) end() error {
	if e.ended {
		return gfx.NewError("End", nil, errors.New("encoder already ended"))
	}
	e.ended = true
	e.cb.open = false
	return e.err
}

type renderEncoder struct {
	encoder
	pass  hal.RenderPassEncoder
	bound bool
}

func (e *renderEncoder) BindPipeline(p gfx.RenderPipeline) {
	rp, ok := p.(*RenderPipeline)
	if !ok || rp == nil || rp.pipeline == nil {
		e.fail(gfx.NewError("BindPipeline", gfx.ErrNotSupported, errors.New("foreign or released render pipeline")))
		return
	}
	e.pass.SetPipeline(rp.pipeline)
	e.bound = true
}

func (e *renderEncoder) Draw(vertexCount, instanceCount uint32) {
	if !e.bound {
		e.fail(gfx.NewError("Draw", nil, errors.New("no pipeline bound")))
		return
	}
	e.pass.Draw(vertexCount, instanceCount, 0, 0)
}

func (e *renderEncoder) End() error {
	if !e.ended {
		e.pass.End()
	}
	return e.end()
}

type computeEncoder struct {
	encoder
	pass  hal.ComputePassEncoder
	bound bool
}

func (e *computeEncoder) BindPipeline(p gfx.ComputePipeline) {
	cp, ok := p.(*ComputePipeline)
	if !ok || cp == nil || cp.pipeline == nil {
		e.fail(gfx.NewError("BindPipeline", gfx.ErrNotSupported, errors.New("foreign or released compute pipeline")))
		return
	}
	e.pass.SetPipeline(cp.pipeline)
	e.bound = true
}

func (e *computeEncoder) Dispatch(x, y, z uint32) {
	if !e.bound {
		e.fail(gfx.NewError("Dispatch", nil, errors.New("no pipeline bound")))
		return
	}
	e.pass.Dispatch(x, y, z)
}

func (e *computeEncoder) End() error {
	if !e.ended {
		e.pass.End()
	}
	return e.end()
}

type copyEncoder struct {
	encoder
}

func (e *copyEncoder) CopyBuffer(src gfx.Buffer, srcOffset uint64, dst gfx.Buffer, dstOffset, size uint64) {
	s, ok1 := src.(*Buffer)
	d, ok2 := dst.(*Buffer)
	if !ok1 || !ok2 || !s.Bound() || !d.Bound() {
		e.fail(gfx.NewError("CopyBuffer", gfx.ErrNotBound, errors.New("source and destination must be bound device buffers")))
		return
	}
	e.cb.enc.CopyBufferToBuffer(s.buf, d.buf, []hal.BufferCopy{{
		SrcOffset: srcOffset,
		DstOffset: dstOffset,
		Size:      size,
	}})
}

func (e *copyEncoder) End() error { return e.end() }
