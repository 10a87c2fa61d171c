package gfx

import (
	"fmt"
	"strings"
)

// AccessTypeFlags is a set of memory access kinds guarded by a fence.
type AccessTypeFlags uint32

const (
	AccessColorRead AccessTypeFlags = 1 << iota
	AccessColorWrite
	AccessDepthRead
	AccessDepthWrite
	AccessShaderRead
	AccessShaderWrite
	AccessCopyRead
	AccessCopyWrite
	AccessVertexRead
	AccessIndexRead

	AccessNone AccessTypeFlags = 0
)

// Common combinations.
const (
	AccessColor  = AccessColorRead | AccessColorWrite
	AccessDepth  = AccessDepthRead | AccessDepthWrite
	AccessShader = AccessShaderRead | AccessShaderWrite
	AccessCopy   = AccessCopyRead | AccessCopyWrite
	AccessAll    = AccessColor | AccessDepth | AccessShader | AccessCopy | AccessVertexRead | AccessIndexRead
)

var accessNames = [...]string{
	"ColorRead",
	"ColorWrite",
	"DepthRead",
	"DepthWrite",
	"ShaderRead",
	"ShaderWrite",
	"CopyRead",
	"CopyWrite",
	"VertexRead",
	"IndexRead",
}

// Has reports whether every flag in other is set in f.
func (f AccessTypeFlags) Has(other AccessTypeFlags) bool { return f&other == other }

// String returns the set flags joined by "|", or "None".
func (f AccessTypeFlags) String() string {
	if f == AccessNone {
		return "None"
	}
	var parts []string
	for i, name := range accessNames {
		if f&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if rest := f &^ AccessAll; rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}
