// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package halgfx

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/gfx"
	"github.com/gogpu/framegraph/internal/shadercache"
)

// NoopBackend is the registry name of the backend created by NewNoop.
const NoopBackend = "hal-noop"

// DefaultWaitTimeout bounds how long a committed command buffer may take
// before its result completes with gfx.ErrTimeout.
const DefaultWaitTimeout = 5 * time.Second

type config struct {
	waitTimeout time.Duration
	cacheSize   int
}

// Option configures a Device.
type Option func(*config)

// WithWaitTimeout sets the completion timeout of committed command buffers.
func WithWaitTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.waitTimeout = d
		}
	}
}

// WithShaderCacheSize sets the number of compiled shaders kept per cache
// shard.
func WithShaderCacheSize(n int) Option {
	return func(c *config) { c.cacheSize = n }
}

// Device implements gfx.Device on a HAL device.
type Device struct {
	dev   hal.Device
	queue hal.Queue
	cfg   config

	shaders *shadercache.Cache

	// Set when the device was opened by this package and must be destroyed
	// by Close.
	instance hal.Instance
	owned    bool

	// inflight counts committed command buffers whose completion is still
	// being waited on.
	inflight sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

var _ gfx.Device = (*Device)(nil)

// New wraps an existing HAL device and queue. Close does not destroy them.
func New(device hal.Device, queue hal.Queue, opts ...Option) (*Device, *Queue) {
	cfg := config{waitTimeout: DefaultWaitTimeout}
	for _, o := range opts {
		o(&cfg)
	}
	d := &Device{
		dev:     device,
		queue:   queue,
		cfg:     cfg,
		shaders: shadercache.New(cfg.cacheSize),
	}
	return d, &Queue{device: d}
}

// NewFromProvider wraps the HAL device of a gpucontext.DeviceProvider, such
// as a gogpu application window. The provider keeps ownership of the device.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Device, *Queue, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, nil, gfx.NewError("NewFromProvider", gfx.ErrNotSupported,
			errors.New("provider does not expose HAL types"))
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, nil, gfx.NewError("NewFromProvider", gfx.ErrNotSupported,
			errors.New("HalDevice is not a hal.Device"))
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, nil, gfx.NewError("NewFromProvider", gfx.ErrNotSupported,
			errors.New("HalQueue is not a hal.Queue"))
	}
	d, q := New(device, queue, opts...)
	return d, q, nil
}

// NewNoop opens a device on the noop HAL backend. Commands are accepted and
// complete immediately, which is useful for tests and headless runs.
func NewNoop(opts ...Option) (*Device, *Queue, error) {
	instance, err := noop.API{}.CreateInstance(nil)
	if err != nil {
		return nil, nil, gfx.NewError("NewNoop", gfx.ErrBackendNotAvailable, err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, nil, gfx.NewError("NewNoop", gfx.ErrBackendNotAvailable, errors.New("no adapters"))
	}
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, nil, gfx.NewError("NewNoop", gfx.ErrBackendNotAvailable, err)
	}
	d, q := New(openDev.Device, openDev.Queue, opts...)
	d.instance = instance
	d.owned = true
	framegraph.Logger().Info("halgfx: noop device opened")
	return d, q, nil
}

// Register adds the noop backend to r under NoopBackend.
func Register(r *gfx.Registry, opts ...Option) {
	r.Register(NoopBackend, func() (gfx.Device, gfx.CmdQueue, error) {
		d, q, err := NewNoop(opts...)
		if err != nil {
			return nil, nil, err
		}
		return d, q, nil
	})
}

// HalDevice returns the wrapped HAL device.
func (d *Device) HalDevice() hal.Device { return d.dev }

// ShaderCacheStats reports the activity of the compiled shader cache.
func (d *Device) ShaderCacheStats() shadercache.Stats { return d.shaders.Stats() }

func (d *Device) checkOpen(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gfx.NewError(op, gfx.ErrDeviceLost, errors.New("device is closed"))
	}
	return nil
}

// NewImage implements gfx.Device. Memory is allocated when the image's heap
// is built.
func (d *Device) NewImage(desc gfx.ImageDesc) (gfx.Image, error) {
	if err := d.checkOpen("NewImage"); err != nil {
		return nil, err
	}
	if desc.Width == 0 || desc.Height == 0 {
		return nil, gfx.NewError("NewImage", nil, fmt.Errorf("image %q has zero extent", desc.Label))
	}
	return &Image{device: d, desc: desc}, nil
}

// NewBuffer implements gfx.Device. Memory is allocated when the buffer's
// heap is built.
func (d *Device) NewBuffer(desc gfx.BufferDesc) (gfx.Buffer, error) {
	if err := d.checkOpen("NewBuffer"); err != nil {
		return nil, err
	}
	if desc.Size == 0 {
		return nil, gfx.NewError("NewBuffer", nil, fmt.Errorf("buffer %q has zero size", desc.Label))
	}
	return &Buffer{device: d, desc: desc}, nil
}

// ChooseMemoryType implements gfx.Device. Mappable buffers go to shared
// memory; external images and resources of other devices need no binding.
func (d *Device) ChooseMemoryType(res gfx.Bindable) (gfx.MemoryType, bool) {
	switch r := res.(type) {
	case *Image:
		if r.device != d || r.external {
			return 0, false
		}
		return gfx.MemoryTypePrivate, true
	case *Buffer:
		if r.device != d {
			return 0, false
		}
		if r.desc.Usage&(gputypes.BufferUsageMapRead|gputypes.BufferUsageMapWrite) != 0 {
			return gfx.MemoryTypeShared, true
		}
		return gfx.MemoryTypePrivate, true
	default:
		return 0, false
	}
}

// NewHeap implements gfx.Device.
func (d *Device) NewHeap(desc gfx.HeapDesc) (gfx.Heap, error) {
	if err := d.checkOpen("NewHeap"); err != nil {
		return nil, err
	}
	return &Heap{device: d, desc: desc}, nil
}

// NewLibrary implements gfx.Device. WGSL is compiled to SPIR-V with naga;
// compiled modules are cached by source.
func (d *Device) NewLibrary(label, wgsl string) (gfx.Library, error) {
	if err := d.checkOpen("NewLibrary"); err != nil {
		return nil, err
	}
	spirv, hit, err := d.shaders.GetOrCompile(wgsl, compileWGSL)
	if err != nil {
		return nil, gfx.NewError("NewLibrary "+label, gfx.ErrNotSupported, err)
	}
	module, err := d.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, gfx.NewError("NewLibrary "+label, nil, err)
	}
	framegraph.Logger().Debug("halgfx: library created", "label", label, "cached", hit, "words", len(spirv))
	return &Library{device: d, label: label, module: module}, nil
}

// compileWGSL compiles WGSL to little-endian SPIR-V words.
func compileWGSL(src string) ([]uint32, error) {
	b, err := naga.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("compile shader: %w", err)
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = uint32(b[i*4]) |
			uint32(b[i*4+1])<<8 |
			uint32(b[i*4+2])<<16 |
			uint32(b[i*4+3])<<24
	}
	return words, nil
}

func (d *Device) library(op string, l gfx.Library) (*Library, error) {
	lib, ok := l.(*Library)
	if !ok || lib == nil || lib.device != d {
		return nil, gfx.NewError(op, gfx.ErrNotSupported, errors.New("library was not created by this device"))
	}
	if lib.module == nil {
		return nil, gfx.NewError(op, nil, fmt.Errorf("library %q is released", lib.label))
	}
	return lib, nil
}

// NewRenderPipeline implements gfx.Device. The pipeline draws a triangle
// list without vertex buffers or bind groups.
func (d *Device) NewRenderPipeline(desc gfx.RenderPipelineDesc) (gfx.RenderPipeline, error) {
	op := "NewRenderPipeline " + desc.Label
	if err := d.checkOpen(op); err != nil {
		return nil, err
	}
	lib, err := d.library(op, desc.Library)
	if err != nil {
		return nil, err
	}
	layout, err := d.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{Label: desc.Label + "_layout"})
	if err != nil {
		return nil, gfx.NewError(op, nil, err)
	}
	pipeline, err := d.dev.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: layout,
		Vertex: hal.VertexState{
			Module:     lib.module,
			EntryPoint: desc.VertexEntry,
		},
		Fragment: &hal.FragmentState{
			Module:     lib.module,
			EntryPoint: desc.FragmentEntry,
			Targets: []gputypes.ColorTargetState{{
				Format:    desc.ColorFormat,
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		d.dev.DestroyPipelineLayout(layout)
		return nil, gfx.NewError(op, nil, err)
	}
	return &RenderPipeline{device: d, label: desc.Label, layout: layout, pipeline: pipeline}, nil
}

// NewComputePipeline implements gfx.Device.
func (d *Device) NewComputePipeline(desc gfx.ComputePipelineDesc) (gfx.ComputePipeline, error) {
	op := "NewComputePipeline " + desc.Label
	if err := d.checkOpen(op); err != nil {
		return nil, err
	}
	lib, err := d.library(op, desc.Library)
	if err != nil {
		return nil, err
	}
	layout, err := d.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{Label: desc.Label + "_layout"})
	if err != nil {
		return nil, gfx.NewError(op, nil, err)
	}
	pipeline, err := d.dev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: layout,
		Compute: hal.ComputeState{
			Module:     lib.module,
			EntryPoint: desc.Entry,
		},
	})
	if err != nil {
		d.dev.DestroyPipelineLayout(layout)
		return nil, gfx.NewError(op, nil, err)
	}
	return &ComputePipeline{device: d, label: desc.Label, layout: layout, pipeline: pipeline}, nil
}

// Close implements gfx.Device. It waits for committed command buffers to
// complete. Devices opened by NewNoop are destroyed; wrapped devices are
// left to their owner. Objects created by the device must be released
// first.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.inflight.Wait()
	d.shaders.Clear()
	if d.owned {
		d.dev.Destroy()
		d.instance.Destroy()
	}
	return nil
}
