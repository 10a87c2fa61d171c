package gfxtest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/framegraph/gfx"
)

// Device implements gfx.Device with in-memory objects.
type Device struct {
	mu     sync.Mutex
	images []*Image
	heaps  []*Heap
	closed bool

	// FailNewImage, if set, is returned by NewImage.
	FailNewImage error
}

// NewDevice returns an empty device.
func NewDevice() *Device { return &Device{} }

// Images returns every image created by NewImage, in creation order.
func (d *Device) Images() []*Image {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Image(nil), d.images...)
}

// Heaps returns every heap created by NewHeap, in creation order.
func (d *Device) Heaps() []*Heap {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Heap(nil), d.heaps...)
}

// Closed reports whether Close was called.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// NewImage implements gfx.Device.
func (d *Device) NewImage(desc gfx.ImageDesc) (gfx.Image, error) {
	if d.FailNewImage != nil {
		return nil, gfx.NewError("NewImage", gfx.ErrOutOfMemory, d.FailNewImage)
	}
	if desc.Width == 0 || desc.Height == 0 {
		return nil, gfx.NewError("NewImage", nil, fmt.Errorf("image %q has zero extent", desc.Label))
	}
	img := &Image{desc: desc}
	d.mu.Lock()
	d.images = append(d.images, img)
	d.mu.Unlock()
	return img, nil
}

// NewBuffer implements gfx.Device.
func (d *Device) NewBuffer(desc gfx.BufferDesc) (gfx.Buffer, error) {
	if desc.Size == 0 {
		return nil, gfx.NewError("NewBuffer", nil, fmt.Errorf("buffer %q has zero size", desc.Label))
	}
	return &Buffer{desc: desc}, nil
}

// ChooseMemoryType implements gfx.Device. Resources created by this device
// use MemoryTypePrivate; external images need no binding.
func (d *Device) ChooseMemoryType(res gfx.Bindable) (gfx.MemoryType, bool) {
	if img, ok := res.(*Image); ok && img.external {
		return 0, false
	}
	return gfx.MemoryTypePrivate, true
}

// NewHeap implements gfx.Device.
func (d *Device) NewHeap(desc gfx.HeapDesc) (gfx.Heap, error) {
	h := &Heap{desc: desc}
	d.mu.Lock()
	d.heaps = append(d.heaps, h)
	d.mu.Unlock()
	return h, nil
}

// NewLibrary implements gfx.Device. The source is not compiled.
func (d *Device) NewLibrary(label, wgsl string) (gfx.Library, error) {
	if wgsl == "" {
		return nil, gfx.NewError("NewLibrary", nil, errors.New("empty shader source"))
	}
	return &object{label: label}, nil
}

// NewRenderPipeline implements gfx.Device.
func (d *Device) NewRenderPipeline(desc gfx.RenderPipelineDesc) (gfx.RenderPipeline, error) {
	if desc.Library == nil {
		return nil, gfx.NewError("NewRenderPipeline", nil, errors.New("no library"))
	}
	return &object{label: desc.Label}, nil
}

// NewComputePipeline implements gfx.Device.
func (d *Device) NewComputePipeline(desc gfx.ComputePipelineDesc) (gfx.ComputePipeline, error) {
	if desc.Library == nil {
		return nil, gfx.NewError("NewComputePipeline", nil, errors.New("no library"))
	}
	return &object{label: desc.Label}, nil
}

// Close implements gfx.Device.
func (d *Device) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

type object struct {
	label    string
	released bool
}

func (o *object) Label() string { return o.label }
func (o *object) Release()      { o.released = true }

// Image implements gfx.Image.
type Image struct {
	desc     gfx.ImageDesc
	bound    bool
	external bool
	released bool
}

// NewExternalImage returns an image that is already bound, standing in for
// a swapchain image or another image owned outside the schedule.
func NewExternalImage(desc gfx.ImageDesc) *Image {
	return &Image{desc: desc, bound: true, external: true}
}

func (i *Image) Label() string       { return i.desc.Label }
func (i *Image) Bound() bool         { return i.bound }
func (i *Image) Desc() gfx.ImageDesc { return i.desc }
func (i *Image) Release()            { i.released = true }

// Released reports whether Release was called.
func (i *Image) Released() bool { return i.released }

// Buffer implements gfx.Buffer.
type Buffer struct {
	desc  gfx.BufferDesc
	bound bool
}

func (b *Buffer) Label() string        { return b.desc.Label }
func (b *Buffer) Bound() bool          { return b.bound }
func (b *Buffer) Desc() gfx.BufferDesc { return b.desc }
func (b *Buffer) Release()             {}

// Heap implements gfx.Heap.
type Heap struct {
	desc     gfx.HeapDesc
	bound    []gfx.Bindable
	built    bool
	released bool
}

// MemoryType returns the memory type the heap was created for.
func (h *Heap) MemoryType() gfx.MemoryType { return h.desc.MemoryType }

// Built reports whether Build was called.
func (h *Heap) Built() bool { return h.built }

// Labels returns the labels of the bound resources, in bind order.
func (h *Heap) Labels() []string {
	labels := make([]string, len(h.bound))
	for i, r := range h.bound {
		labels[i] = r.Label()
	}
	return labels
}

// Bind implements gfx.Heap.
func (h *Heap) Bind(res gfx.Bindable) error {
	if h.built {
		return gfx.NewError("Bind", nil, fmt.Errorf("heap %q is already built", h.desc.Label))
	}
	h.bound = append(h.bound, res)
	return nil
}

// Build implements gfx.Heap.
func (h *Heap) Build() error {
	if h.built {
		return gfx.NewError("Build", nil, fmt.Errorf("heap %q is already built", h.desc.Label))
	}
	h.built = true
	for _, res := range h.bound {
		switch r := res.(type) {
		case *Image:
			r.bound = true
		case *Buffer:
			r.bound = true
		}
	}
	return nil
}

// Release implements gfx.Heap.
func (h *Heap) Release() { h.released = true }
