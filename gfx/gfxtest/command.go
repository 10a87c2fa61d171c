package gfxtest

import (
	"fmt"

	"github.com/gogpu/framegraph/gfx"
)

// CommandType identifies a recorded command.
type CommandType uint8

const (
	// Encoder boundaries
	CmdBeginRender  CommandType = iota // EncodeRender
	CmdBeginCompute                    // EncodeCompute
	CmdBeginCopy                       // EncodeCopy
	CmdEnd                             // CmdEncoder.End

	// Synchronization
	CmdWaitFence   // CmdEncoder.WaitFence
	CmdUpdateFence // CmdEncoder.UpdateFence

	// Work
	CmdBindPipeline // Render or compute BindPipeline
	CmdDraw         // RenderCmdEncoder.Draw
	CmdDispatch     // ComputeCmdEncoder.Dispatch
	CmdCopyBuffer   // CopyCmdEncoder.CopyBuffer

	// Command buffer
	CmdInvalidateImage // CmdBuffer.InvalidateImages, one per image
	CmdCommit          // CmdBuffer.Commit
	CmdDiscard         // CmdBuffer.Discard
)

var commandTypeNames = [...]string{
	CmdBeginRender:     "BeginRender",
	CmdBeginCompute:    "BeginCompute",
	CmdBeginCopy:       "BeginCopy",
	CmdEnd:             "End",
	CmdWaitFence:       "WaitFence",
	CmdUpdateFence:     "UpdateFence",
	CmdBindPipeline:    "BindPipeline",
	CmdDraw:            "Draw",
	CmdDispatch:        "Dispatch",
	CmdCopyBuffer:      "CopyBuffer",
	CmdInvalidateImage: "InvalidateImage",
	CmdCommit:          "Commit",
	CmdDiscard:         "Discard",
}

// String returns the name of the command type.
func (t CommandType) String() string {
	if int(t) < len(commandTypeNames) {
		return commandTypeNames[t]
	}
	return fmt.Sprintf("CommandType(%d)", t)
}

// Command is one recorded call.
type Command struct {
	Type CommandType

	// CmdBuffer is the sequence number of the command buffer, starting at 1.
	CmdBuffer int

	// Encoder is the index of the encoder within its command buffer,
	// or -1 for command buffer level commands.
	Encoder int

	// Fence and Access are set for fence commands.
	Fence  gfx.Fence
	Access gfx.AccessTypeFlags

	// Label names the object the command refers to: the render target
	// image, pipeline, invalidated image or copy destination.
	Label string

	// Args holds vertex/instance counts or dispatch sizes.
	Args [3]uint32
}

func (c Command) String() string {
	s := fmt.Sprintf("cb%d", c.CmdBuffer)
	if c.Encoder >= 0 {
		s += fmt.Sprintf("/e%d", c.Encoder)
	}
	s += " " + c.Type.String()
	if c.Fence != nil {
		s += " " + c.Fence.Label() + " " + c.Access.String()
	}
	if c.Label != "" {
		s += " " + c.Label
	}
	return s
}
