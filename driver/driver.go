// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package driver defines the boundary between the binding core and a
// concrete GPU backend. The core issues the minimal set of calls
// through Device; backends translate them to their API. All Device
// methods must be called from the rendering thread.
package driver

import "errors"

var (
	// ErrUnsupported is returned by creation methods when the device
	// cannot satisfy the request at all, as opposed to a transient
	// failure.
	ErrUnsupported = errors.New("driver: unsupported")
	// ErrTextureTooLarge is returned by NewTexture for dimensions over
	// Caps.MaxTextureSize. The texture cache downscales before hitting
	// it; seeing this error escape means a caller bypassed the cache.
	ErrTextureTooLarge = errors.New("driver: texture exceeds device limits")
)

// Device is implemented by GPU backends. Creation methods report
// failure through errors; state-setting and draw methods cannot fail
// under correct usage and backends must treat violations as programmer
// errors.
type Device interface {
	Caps() Caps

	// BeginFrame and EndFrame bracket one frame's worth of state and
	// draw calls.
	BeginFrame()
	EndFrame()

	NewBuffer(kind BufferKind, size int, usage Usage) (Buffer, error)
	// WriteBuffer replaces size bytes of buf starting at byte offset
	// off.
	WriteBuffer(buf Buffer, off int, data []byte)
	DestroyBuffer(buf Buffer)

	NewTexture(desc TextureDesc) (Texture, error)
	// WriteTexture replaces the texels of region within layer. data is
	// tightly packed rows.
	WriteTexture(tex Texture, layer int, region Rect, data []byte)
	DestroyTexture(tex Texture)
	NewSampler(desc SamplerDesc) (Sampler, error)
	DestroySampler(s Sampler)

	// NewVertexArray is only valid when Caps().VertexArrays is set.
	NewVertexArray() (VertexArray, error)
	// BindVertexArray switches the vertex-state context that subsequent
	// attribute calls mutate. The zero handle binds the default
	// context.
	BindVertexArray(va VertexArray)
	DestroyVertexArray(va VertexArray)
	EnableAttribute(slot int)
	DisableAttribute(slot int)
	SetAttribute(slot int, buf Buffer, layout AttribLayout)
	// SetDivisor is only valid when Caps().InstancedArrays is set.
	SetDivisor(slot int, divisor int)
	BindIndexBuffer(buf Buffer)

	NewBindGroupLayout(slots []BindingSlot) (BindGroupLayout, error)
	DestroyBindGroupLayout(l BindGroupLayout)
	NewBindGroup(layout BindGroupLayout, entries []BindingEntry) (BindGroup, error)
	DestroyBindGroup(bg BindGroup)
	SetBindGroup(index int, bg BindGroup)

	NewRenderTarget(desc TargetDesc) (RenderTarget, error)
	DestroyRenderTarget(t RenderTarget)
	// SetRenderTarget directs subsequent draws into one layer of t.
	// The zero handle targets the output surface, whose only layer is
	// 0.
	SetRenderTarget(t RenderTarget, layer int)
	Viewport(r Rect)
	// BlitLayer stretches layer of src over the to rectangle of dst.
	// The zero dst handle blits to the output surface.
	BlitLayer(src RenderTarget, layer int, dst RenderTarget, to Rect)

	// UseProgram selects the shading program for subsequent draws.
	// Programs are compiled and registered outside this interface;
	// the core only ever switches between them by ID.
	UseProgram(id ProgramID)
	Draw(call DrawCall)
}

// ProgramID identifies a shading program registered with a backend.
type ProgramID uint64

// Opaque backend handles. Backends assign nonzero values and map them
// to their own objects; the zero value means "none". The core compares
// handles only for identity.
type (
	Buffer          uint64
	Texture         uint64
	Sampler         uint64
	VertexArray     uint64
	BindGroupLayout uint64
	BindGroup       uint64
	RenderTarget    uint64
)

// Caps describes what a device can do. The core degrades to documented
// fallbacks when a capability is absent; it never errors on one.
type Caps struct {
	// VertexArrays reports hardware vertex-array contexts. Without
	// them the core rebinds attributes through the default context
	// every draw.
	VertexArrays bool
	// InstancedArrays reports per-attribute divisor support.
	InstancedArrays bool
	// NPOT reports support for sampling non-power-of-two textures.
	NPOT bool

	MaxAttributes  int
	MaxTextureSize int
	// MaxViews is the number of layers a multiview target may have.
	// 1 means multiview rendering is unavailable.
	MaxViews int
	// UniformAlignWords is the required alignment of uniform buffer
	// sizes, in 4-byte words.
	UniformAlignWords int
}
