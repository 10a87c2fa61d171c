// Package gfxtest provides a gfx implementation that records commands
// instead of executing them.
//
// A Recorder collects the commands of every command buffer created by its
// Queue, in call order. Objects are plain structs so tests can inspect them:
// images report whether a heap bound them, heaps list what was bound.
//
// Command buffers complete on Commit unless the queue is in manual mode, in
// which case CompletePending resolves them.
//
//	rec, dev, queue := gfxtest.New()
//	cb, _ := queue.NewCmdBuffer()
//	...
//	for _, c := range rec.Commands() {
//		fmt.Println(c)
//	}
package gfxtest

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/framegraph/gfx"
)

// Recorder is the shared command log.
type Recorder struct {
	mu     sync.Mutex
	cmds   []Command
	nextCB int
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// New returns a recorder with a device and a queue attached to it.
func New() (*Recorder, *Device, *Queue) {
	rec := NewRecorder()
	return rec, NewDevice(), NewQueue(rec)
}

func (r *Recorder) record(c Command) {
	r.mu.Lock()
	r.cmds = append(r.cmds, c)
	r.mu.Unlock()
}

func (r *Recorder) newCmdBuffer() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextCB++
	return r.nextCB
}

// Commands returns a copy of the log.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.cmds)
}

// Filter returns the recorded commands of the given types.
func (r *Recorder) Filter(types ...CommandType) []Command {
	var out []Command
	for _, c := range r.Commands() {
		if slices.Contains(types, c.Type) {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears the log. Command buffer numbering continues.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.cmds = nil
	r.mu.Unlock()
}

// Fence is a recorded fence.
type Fence struct {
	label string
}

// NewFence returns a fence that is not owned by any queue, for use as a
// caller-supplied fence.
func NewFence(label string) *Fence { return &Fence{label: label} }

func (f *Fence) Label() string { return f.label }

// Queue implements gfx.CmdQueue.
type Queue struct {
	rec *Recorder

	mu      sync.Mutex
	fences  int
	manual  bool
	pending []*gfx.CmdBufferResult
}

// NewQueue returns a queue recording into rec.
func NewQueue(rec *Recorder) *Queue { return &Queue{rec: rec} }

// SetManualCompletion controls whether committed command buffers stay
// pending until CompletePending is called.
func (q *Queue) SetManualCompletion(manual bool) {
	q.mu.Lock()
	q.manual = manual
	q.mu.Unlock()
}

// Pending returns the number of committed, unresolved command buffers.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// CompletePending resolves the oldest n pending command buffers with err,
// or all of them if n is negative. It returns how many were resolved.
func (q *Queue) CompletePending(n int, err error) int {
	q.mu.Lock()
	if n < 0 || n > len(q.pending) {
		n = len(q.pending)
	}
	done := q.pending[:n]
	q.pending = slices.Clone(q.pending[n:])
	q.mu.Unlock()

	for _, r := range done {
		r.Complete(err)
	}
	return len(done)
}

func (q *Queue) commit(r *gfx.CmdBufferResult) {
	q.mu.Lock()
	if q.manual {
		q.pending = append(q.pending, r)
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()
	r.Complete(nil)
}

// NewFence implements gfx.CmdQueue. Fences are labeled fence#1, fence#2, ...
func (q *Queue) NewFence() (gfx.Fence, error) {
	q.mu.Lock()
	q.fences++
	n := q.fences
	q.mu.Unlock()
	return &Fence{label: fmt.Sprintf("fence#%d", n)}, nil
}

// NumFences returns the number of fences created by NewFence.
func (q *Queue) NumFences() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fences
}

// NewCmdBuffer implements gfx.CmdQueue.
func (q *Queue) NewCmdBuffer() (gfx.CmdBuffer, error) {
	return &CmdBuffer{
		queue:  q,
		id:     q.rec.newCmdBuffer(),
		result: gfx.NewCmdBufferResult(),
	}, nil
}

// CmdBuffer implements gfx.CmdBuffer.
type CmdBuffer struct {
	queue     *Queue
	id        int
	encoders  int
	open      bool
	committed bool
	discarded bool
	result    *gfx.CmdBufferResult
}

// ID returns the sequence number used in Command.CmdBuffer.
func (cb *CmdBuffer) ID() int { return cb.id }

func (cb *CmdBuffer) record(c Command) {
	c.CmdBuffer = cb.id
	cb.queue.rec.record(c)
}

func (cb *CmdBuffer) begin(t CommandType, label string) (encoder, error) {
	switch {
	case cb.discarded:
		return encoder{}, gfx.NewError(t.String(), gfx.ErrDiscarded, nil)
	case cb.committed:
		return encoder{}, gfx.NewError(t.String(), gfx.ErrCommitted, nil)
	case cb.open:
		return encoder{}, gfx.NewError(t.String(), gfx.ErrEncoderOpen, nil)
	}
	cb.open = true
	e := encoder{cb: cb, index: cb.encoders}
	cb.encoders++
	cb.record(Command{Type: t, Encoder: e.index, Label: label})
	return e, nil
}

// EncodeRender implements gfx.CmdBuffer.
func (cb *CmdBuffer) EncodeRender(target gfx.RenderTarget) (gfx.RenderCmdEncoder, error) {
	if target.Color == nil {
		return nil, gfx.NewError("EncodeRender", nil, fmt.Errorf("render target %q has no color image", target.Label))
	}
	if !target.Color.Bound() {
		return nil, gfx.NewError("EncodeRender", gfx.ErrNotBound, fmt.Errorf("image %q", target.Color.Label()))
	}
	e, err := cb.begin(CmdBeginRender, target.Color.Label())
	if err != nil {
		return nil, err
	}
	return &renderEncoder{encoder: e}, nil
}

// EncodeCompute implements gfx.CmdBuffer.
func (cb *CmdBuffer) EncodeCompute() (gfx.ComputeCmdEncoder, error) {
	e, err := cb.begin(CmdBeginCompute, "")
	if err != nil {
		return nil, err
	}
	return &computeEncoder{encoder: e}, nil
}

// EncodeCopy implements gfx.CmdBuffer.
func (cb *CmdBuffer) EncodeCopy() (gfx.CopyCmdEncoder, error) {
	e, err := cb.begin(CmdBeginCopy, "")
	if err != nil {
		return nil, err
	}
	return &copyEncoder{encoder: e}, nil
}

// InvalidateImages implements gfx.CmdBuffer.
func (cb *CmdBuffer) InvalidateImages(images ...gfx.Image) {
	for _, img := range images {
		cb.record(Command{Type: CmdInvalidateImage, Encoder: -1, Label: img.Label()})
	}
}

// Result implements gfx.CmdBuffer.
func (cb *CmdBuffer) Result() *gfx.CmdBufferResult { return cb.result }

// Commit implements gfx.CmdBuffer.
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
	cb.record(Command{Type: CmdCommit, Encoder: -1})
	cb.queue.commit(cb.result)
	return nil
}

// Discard implements gfx.CmdBuffer.
func (cb *CmdBuffer) Discard() {
	if cb.committed || cb.discarded {
		return
	}
	cb.discarded = true
	cb.open = false
	cb.record(Command{Type: CmdDiscard, Encoder: -1})
	cb.result.Complete(gfx.ErrDiscarded)
}

type encoder struct {
	cb    *CmdBuffer
	index int
}

func (e encoder) record(c Command) {
	c.Encoder = e.index
	e.cb.record(c)
}

func (e encoder) WaitFence(f gfx.Fence, dst gfx.AccessTypeFlags) {
	e.record(Command{Type: CmdWaitFence, Fence: f, Access: dst})
}

func (e encoder) UpdateFence(f gfx.Fence, src gfx.AccessTypeFlags) {
	e.record(Command{Type: CmdUpdateFence, Fence: f, Access: src})
}

func (e encoder) End() error {
	if !e.cb.open {
		return gfx.NewError("End", nil, fmt.Errorf("encoder %d is not open", e.index))
	}
	e.cb.open = false
	e.record(Command{Type: CmdEnd})
	return nil
}

type renderEncoder struct{ encoder }

func (e *renderEncoder) BindPipeline(p gfx.RenderPipeline) {
	e.record(Command{Type: CmdBindPipeline, Label: p.Label()})
}

func (e *renderEncoder) Draw(vertexCount, instanceCount uint32) {
	e.record(Command{Type: CmdDraw, Args: [3]uint32{vertexCount, instanceCount, 0}})
}

type computeEncoder struct{ encoder }

func (e *computeEncoder) BindPipeline(p gfx.ComputePipeline) {
	e.record(Command{Type: CmdBindPipeline, Label: p.Label()})
}

func (e *computeEncoder) Dispatch(x, y, z uint32) {
	e.record(Command{Type: CmdDispatch, Args: [3]uint32{x, y, z}})
}

type copyEncoder struct{ encoder }

func (e *copyEncoder) CopyBuffer(src gfx.Buffer, srcOffset uint64, dst gfx.Buffer, dstOffset, size uint64) {
	e.record(Command{Type: CmdCopyBuffer, Label: dst.Label(), Args: [3]uint32{uint32(srcOffset), uint32(dstOffset), uint32(size)}})
}
