// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package driver

import "fmt"

type BufferKind uint8

const (
	VertexBuffer BufferKind = iota
	IndexBuffer
	UniformBuffer
)

func (k BufferKind) String() string {
	switch k {
	case VertexBuffer:
		return "vertex"
	case IndexBuffer:
		return "index"
	case UniformBuffer:
		return "uniform"
	default:
		panic("unreachable")
	}
}

// Usage hints how often buffer contents will be rewritten.
type Usage uint8

const (
	StaticDraw Usage = iota
	DynamicDraw
)

// DataType classifies the element type of buffer data, both for
// attribute layouts and index buffers.
type DataType uint8

const (
	Float32 DataType = iota
	Float16
	Uint32
	Uint16
	Uint8
	Int32
	Int16
	Int8
)

// ByteWidth returns the size of one element in bytes.
func (t DataType) ByteWidth() int {
	switch t {
	case Float32, Uint32, Int32:
		return 4
	case Float16, Uint16, Int16:
		return 2
	case Uint8, Int8:
		return 1
	default:
		panic(fmt.Sprintf("invalid DataType %d", t))
	}
}

func (t DataType) String() string {
	switch t {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Uint32:
		return "uint32"
	case Uint16:
		return "uint16"
	case Uint8:
		return "uint8"
	case Int32:
		return "int32"
	case Int16:
		return "int16"
	case Int8:
		return "int8"
	default:
		panic("unreachable")
	}
}

// AttribLayout describes how a vertex attribute reads from its buffer.
// Stride and Offset are in bytes.
type AttribLayout struct {
	Size       int
	Type       DataType
	Normalized bool
	Stride     int
	Offset     int
}

type PrimMode uint8

const (
	Triangles PrimMode = iota
	TriangleStrip
	Lines
	LineStrip
	Points
)

// DrawCall describes one submission. For indexed draws, Offset counts
// elements into the bound index buffer; otherwise it is the first
// vertex.
type DrawCall struct {
	Mode      PrimMode
	Count     int
	Offset    int
	Instances int
	Indexed   bool
	IndexType DataType
}

type TextureFormat uint8

const (
	RGBA8Unorm TextureFormat = iota
	RGBA8Srgb
	BGRA8Unorm
	Depth32Float
)

// BytesPerTexel returns the storage size of one texel.
func (f TextureFormat) BytesPerTexel() int {
	switch f {
	case RGBA8Unorm, RGBA8Srgb, BGRA8Unorm, Depth32Float:
		return 4
	default:
		panic("unreachable")
	}
}

type TextureDesc struct {
	Width  int
	Height int
	Format TextureFormat
}

type Filter uint8

const (
	Nearest Filter = iota
	Linear
)

type Wrap uint8

const (
	ClampToEdge Wrap = iota
	Repeat
	MirrorRepeat
)

type SamplerDesc struct {
	MinFilter Filter
	MagFilter Filter
	WrapU     Wrap
	WrapV     Wrap
}

// TargetDesc describes an off-screen render target. Layers > 1
// allocates a layered target for multiview rendering.
type TargetDesc struct {
	Width  int
	Height int
	Layers int
	Format TextureFormat
	Depth  bool
}

type Rect struct {
	X, Y, W, H int
}

func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

type BindingType uint8

const (
	UniformBinding BindingType = iota
	SamplerBinding
	TextureBinding
)

type Stage uint8

const (
	StageVertex Stage = 1 << iota
	StageFragment
)

// BindingSlot is one entry of a bind-group layout.
type BindingSlot struct {
	Binding    int
	Type       BindingType
	Visibility Stage
}

// BindingEntry supplies the resource for one slot when building a bind
// group. Exactly one of Buffer, Sampler, and Texture is set, matching
// the slot's type.
type BindingEntry struct {
	Binding int
	Buffer  Buffer
	Size    int
	Sampler Sampler
	Texture Texture
}
