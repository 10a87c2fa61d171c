// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package passman

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/gfx"
)

// ResourceID identifies a resource within the builder that defined it.
type ResourceID struct {
	sched uint32
	index int
}

// Valid reports whether id was returned by a Define function.
func (id ResourceID) Valid() bool { return id.sched != 0 }

// UseAsProducer declares that the pass produces the contents of the
// resource. A resource has at most one producer.
func (id ResourceID) UseAsProducer() ResourceUse {
	return ResourceUse{Resource: id, Produce: true, Aliasable: true}
}

// UseAsConsumer declares that the pass reads the resource.
func (id ResourceID) UseAsConsumer() ResourceUse {
	return ResourceUse{Resource: id, Produce: false, Aliasable: true}
}

// UseAsNonAliasable declares that the pass produces the resource and that
// its memory must not be shared with any other resource.
func (id ResourceID) UseAsNonAliasable() ResourceUse {
	return ResourceUse{Resource: id, Produce: true, Aliasable: false}
}

func (id ResourceID) String() string {
	if !id.Valid() {
		return "resource(invalid)"
	}
	return fmt.Sprintf("resource#%d", id.index)
}

// ResourceRef is a ResourceID that remembers the type of the resource built
// from it.
type ResourceRef[R Resource] struct {
	id ResourceID
}

// ID returns the untyped identifier.
func (r ResourceRef[R]) ID() ResourceID { return r.id }

func (r ResourceRef[R]) UseAsProducer() ResourceUse     { return r.id.UseAsProducer() }
func (r ResourceRef[R]) UseAsConsumer() ResourceUse     { return r.id.UseAsConsumer() }
func (r ResourceRef[R]) UseAsNonAliasable() ResourceUse { return r.id.UseAsNonAliasable() }

// ResourceUse declares how a pass uses a resource. Aliasable must be true
// unless Produce is.
type ResourceUse struct {
	Resource  ResourceID
	Produce   bool
	Aliasable bool
}

func (u ResourceUse) String() string {
	kind := "consumer"
	switch {
	case !u.Aliasable:
		kind = "non-aliasable"
	case u.Produce:
		kind = "producer"
	}
	return u.Resource.String() + ":" + kind
}

// ResourceInfo describes a transient resource and builds it when the
// schedule is instantiated. Building creates the object; binding it to
// memory is done by the scheduler through Resource.ResourceBind.
type ResourceInfo interface {
	Build(ctx *ResourceInstantiationContext) (Resource, error)
}

// Resource is an instantiated transient resource.
type Resource interface {
	// ResourceBind returns the object to bind to a heap and the memory type
	// of that heap. ok is false if the resource needs no binding.
	ResourceBind() (res gfx.Bindable, memoryType gfx.MemoryType, ok bool)
}

// ResourceInstantiationContext gives ResourceInfo.Build access to the device.
type ResourceInstantiationContext struct {
	device gfx.Device
	queue  gfx.CmdQueue
}

func (c *ResourceInstantiationContext) Device() gfx.Device  { return c.device }
func (c *ResourceInstantiationContext) Queue() gfx.CmdQueue { return c.queue }

// ImageResourceInfo describes a 2D image.
type ImageResourceInfo struct {
	Label   string
	Extents [2]uint32
	Format  gputypes.TextureFormat
	Usage   gputypes.TextureUsage
}

// NewImageResourceInfo returns an image usable as a render target and for
// sampling.
func NewImageResourceInfo(label string, extents [2]uint32, format gputypes.TextureFormat) *ImageResourceInfo {
	return &ImageResourceInfo{
		Label:   label,
		Extents: extents,
		Format:  format,
		Usage:   gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
	}
}

// WithUsage returns a copy of i with the usage replaced.
func (i *ImageResourceInfo) WithUsage(usage gputypes.TextureUsage) *ImageResourceInfo {
	c := *i
	c.Usage = usage
	return &c
}

// AddUsage adds usage flags in place. Passes call it through
// ResourceInfoOf to request the usage they need.
func (i *ImageResourceInfo) AddUsage(usage gputypes.TextureUsage) { i.Usage |= usage }

// Build implements ResourceInfo.
func (i *ImageResourceInfo) Build(ctx *ResourceInstantiationContext) (Resource, error) {
	img, err := ctx.Device().NewImage(gfx.ImageDesc{
		Label:  i.Label,
		Width:  i.Extents[0],
		Height: i.Extents[1],
		Format: i.Format,
		Usage:  i.Usage,
	})
	if err != nil {
		return nil, err
	}
	mt, ok := ctx.Device().ChooseMemoryType(img)
	if !ok {
		img.Release()
		return nil, gfx.NewError("ChooseMemoryType", gfx.ErrNotSupported, fmt.Errorf("no memory type for image %q", i.Label))
	}
	return &ImageResource{Image: img, MemoryType: mt, Bind: true}, nil
}

// ImageResource is an instantiated image.
type ImageResource struct {
	Image      gfx.Image
	MemoryType gfx.MemoryType

	// Bind is false for images whose memory is owned elsewhere.
	Bind bool
}

// NewExternalImageResource wraps an image owned outside the schedule, such
// as a swapchain image, for Run.BindResource.
func NewExternalImageResource(img gfx.Image) *ImageResource {
	return &ImageResource{Image: img}
}

// ResourceBind implements Resource.
func (r *ImageResource) ResourceBind() (gfx.Bindable, gfx.MemoryType, bool) {
	if !r.Bind {
		return nil, 0, false
	}
	return r.Image, r.MemoryType, true
}

// Release releases the image if the schedule owns it.
func (r *ImageResource) Release() {
	if r.Bind {
		r.Image.Release()
	}
}

// BufferResourceInfo describes a buffer.
type BufferResourceInfo struct {
	Label string
	Size  uint64
	Usage gputypes.BufferUsage
}

// NewBufferResourceInfo returns a storage buffer of size bytes.
func NewBufferResourceInfo(label string, size uint64) *BufferResourceInfo {
	return &BufferResourceInfo{Label: label, Size: size, Usage: gputypes.BufferUsageStorage}
}

// WithUsage returns a copy of i with the usage replaced.
func (i *BufferResourceInfo) WithUsage(usage gputypes.BufferUsage) *BufferResourceInfo {
	c := *i
	c.Usage = usage
	return &c
}

// AddUsage adds usage flags in place.
func (i *BufferResourceInfo) AddUsage(usage gputypes.BufferUsage) { i.Usage |= usage }

// Build implements ResourceInfo.
func (i *BufferResourceInfo) Build(ctx *ResourceInstantiationContext) (Resource, error) {
	buf, err := ctx.Device().NewBuffer(gfx.BufferDesc{Label: i.Label, Size: i.Size, Usage: i.Usage})
	if err != nil {
		return nil, err
	}
	mt, ok := ctx.Device().ChooseMemoryType(buf)
	if !ok {
		buf.Release()
		return nil, gfx.NewError("ChooseMemoryType", gfx.ErrNotSupported, fmt.Errorf("no memory type for buffer %q", i.Label))
	}
	return &BufferResource{Buffer: buf, MemoryType: mt, Bind: true}, nil
}

// BufferResource is an instantiated buffer.
type BufferResource struct {
	Buffer     gfx.Buffer
	MemoryType gfx.MemoryType
	Bind       bool
}

// NewExternalBufferResource wraps a buffer owned outside the schedule.
func NewExternalBufferResource(buf gfx.Buffer) *BufferResource {
	return &BufferResource{Buffer: buf}
}

// ResourceBind implements Resource.
func (r *BufferResource) ResourceBind() (gfx.Bindable, gfx.MemoryType, bool) {
	if !r.Bind {
		return nil, 0, false
	}
	return r.Buffer, r.MemoryType, true
}

// Release releases the buffer if the schedule owns it.
func (r *BufferResource) Release() {
	if r.Bind {
		r.Buffer.Release()
	}
}

// ResourceSource resolves resource IDs to instantiated resources.
// PassInstantiationContext and PassEncodingContext implement it.
type ResourceSource interface {
	Resource(id ResourceID) Resource
}

// GetResource returns the resource ref refers to, with its static type.
// It panics if the resource has a different type.
func GetResource[R Resource](src ResourceSource, ref ResourceRef[R]) R {
	res := src.Resource(ref.id)
	r, ok := res.(R)
	if !ok {
		var zero R
		panic(fmt.Sprintf("passman: %s is %T, not %T", ref.id, res, zero))
	}
	return r
}
