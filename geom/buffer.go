// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package geom models the CPU side of vertex data: versioned data
// buffers, the attributes that view them, and geometries that bundle
// attributes for drawing. Owners mutate data in place and bump
// versions; the caches in package engine observe versions to decide
// what to upload.
package geom

import (
	"fmt"
	"sync/atomic"

	"honnef.co/go/safeish"
	"honnef.co/go/trine/driver"
	"honnef.co/go/trine/internal/diag"
)

// ID uniquely identifies a resource for the lifetime of the process.
// Caches key on IDs instead of pointers so that entries are dropped by
// the explicit dispose paths, not by finalizer magic.
type ID uint64

var nextID atomic.Uint64

func NextID() ID {
	return ID(nextID.Add(1))
}

// Range is a pending partial update, in elements.
type Range struct {
	Offset int
	Count  int
}

// DataBuffer is one uploadable unit of CPU-side data. Several
// interleaved attributes may view a single DataBuffer.
//
// The data is aliased, not copied: mutating the slice passed to the
// constructor mutates the buffer. After mutating, call MarkChanged,
// optionally preceded by SetUpdateRange to limit the next upload.
// Changing the length of the underlying data is not supported; build a
// new DataBuffer instead.
type DataBuffer struct {
	id    ID
	data  []byte
	typ   driver.DataType
	count int
	usage driver.Usage

	version   uint64
	updOffset int
	updCount  int // -1 when no partial range is pending

	external driver.Buffer

	// OnUpload, if set, runs once after the first full upload,
	// letting the owner drop CPU-side staging memory.
	OnUpload func()
}

func newBuffer(data []byte, typ driver.DataType, count int, usage driver.Usage) *DataBuffer {
	return &DataBuffer{
		id:       NextID(),
		data:     data,
		typ:      typ,
		count:    count,
		usage:    usage,
		version:  1,
		updCount: -1,
	}
}

func NewFloat32Buffer(data []float32, usage driver.Usage) *DataBuffer {
	return newBuffer(safeish.SliceCast[[]byte](data), driver.Float32, len(data), usage)
}

// NewFloat16Buffer interprets data as packed IEEE-754 binary16, one
// uint16 per element. See tmath.Float16slice.
func NewFloat16Buffer(data []uint16, usage driver.Usage) *DataBuffer {
	return newBuffer(safeish.SliceCast[[]byte](data), driver.Float16, len(data), usage)
}

func NewUint32Buffer(data []uint32, usage driver.Usage) *DataBuffer {
	return newBuffer(safeish.SliceCast[[]byte](data), driver.Uint32, len(data), usage)
}

func NewUint16Buffer(data []uint16, usage driver.Usage) *DataBuffer {
	return newBuffer(safeish.SliceCast[[]byte](data), driver.Uint16, len(data), usage)
}

func NewUint8Buffer(data []uint8, usage driver.Usage) *DataBuffer {
	return newBuffer(data, driver.Uint8, len(data), usage)
}

func NewInt32Buffer(data []int32, usage driver.Usage) *DataBuffer {
	return newBuffer(safeish.SliceCast[[]byte](data), driver.Int32, len(data), usage)
}

func NewInt16Buffer(data []int16, usage driver.Usage) *DataBuffer {
	return newBuffer(safeish.SliceCast[[]byte](data), driver.Int16, len(data), usage)
}

func NewInt8Buffer(data []int8, usage driver.Usage) *DataBuffer {
	return newBuffer(safeish.SliceCast[[]byte](data), driver.Int8, len(data), usage)
}

// FromSlice builds a buffer from any supported numeric slice.
// Element types without a GPU equivalent (float64 and the int/uint
// word types) fall back to float32 with a one-time warning; anything
// else is a programmer error.
func FromSlice(data any, usage driver.Usage) *DataBuffer {
	switch d := data.(type) {
	case []float32:
		return NewFloat32Buffer(d, usage)
	case []uint32:
		return NewUint32Buffer(d, usage)
	case []uint16:
		return NewUint16Buffer(d, usage)
	case []uint8:
		return NewUint8Buffer(d, usage)
	case []int32:
		return NewInt32Buffer(d, usage)
	case []int16:
		return NewInt16Buffer(d, usage)
	case []int8:
		return NewInt8Buffer(d, usage)
	case []float64:
		diag.WarnOnce("geom-fallback-float64",
			"no GPU equivalent for element type, falling back to float32", "type", "float64")
		return NewFloat32Buffer(narrow(d), usage)
	case []int:
		diag.WarnOnce("geom-fallback-int",
			"no GPU equivalent for element type, falling back to float32", "type", "int")
		return NewFloat32Buffer(narrow(d), usage)
	case []uint:
		diag.WarnOnce("geom-fallback-uint",
			"no GPU equivalent for element type, falling back to float32", "type", "uint")
		return NewFloat32Buffer(narrow(d), usage)
	case []int64:
		diag.WarnOnce("geom-fallback-int64",
			"no GPU equivalent for element type, falling back to float32", "type", "int64")
		return NewFloat32Buffer(narrow(d), usage)
	case []uint64:
		diag.WarnOnce("geom-fallback-uint64",
			"no GPU equivalent for element type, falling back to float32", "type", "uint64")
		return NewFloat32Buffer(narrow(d), usage)
	default:
		panic(fmt.Sprintf("geom: unsupported attribute data type %T", data))
	}
}

func narrow[T ~float64 | ~int | ~uint | ~int64 | ~uint64](data []T) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v)
	}
	return out
}

// NewExternalBuffer wraps a GPU buffer that is created, uploaded, and
// freed outside the caches. The caches only track its version; they
// never issue uploads for it and never destroy it. count and typ
// describe the externally uploaded contents.
func NewExternalBuffer(handle driver.Buffer, typ driver.DataType, count int) *DataBuffer {
	if handle == 0 {
		panic("geom: external buffer without a handle")
	}
	b := newBuffer(nil, typ, count, driver.StaticDraw)
	b.external = handle
	return b
}

func (b *DataBuffer) ID() ID {
	return b.id
}

// Bytes returns the live backing bytes. Nil for external buffers.
func (b *DataBuffer) Bytes() []byte {
	return b.data
}

func (b *DataBuffer) Type() driver.DataType {
	return b.typ
}

// Len returns the number of elements.
func (b *DataBuffer) Len() int {
	return b.count
}

func (b *DataBuffer) ByteLen() int {
	return b.count * b.typ.ByteWidth()
}

func (b *DataBuffer) Usage() driver.Usage {
	return b.usage
}

func (b *DataBuffer) Version() uint64 {
	return b.version
}

// MarkChanged records that the backing data was mutated. Versions only
// ever grow.
func (b *DataBuffer) MarkChanged() {
	b.version++
}

// SetUpdateRange limits the next upload to count elements starting at
// offset. count == -1 requests a whole-buffer upload, which is also
// the state after the range is consumed. Call MarkChanged afterwards
// to trigger the upload.
func (b *DataBuffer) SetUpdateRange(offset, count int) {
	if count == -1 {
		b.updOffset = 0
		b.updCount = -1
		return
	}
	if offset < 0 || count <= 0 || offset+count > b.count {
		panic(fmt.Sprintf("geom: update range [%d, %d) out of bounds of buffer of %d elements", offset, offset+count, b.count))
	}
	b.updOffset = offset
	b.updCount = count
}

// TakeUpdateRange consumes the pending partial range. It reports
// ok == false when no range is pending, in which case the whole buffer
// is due. A pending range is returned exactly once.
func (b *DataBuffer) TakeUpdateRange() (r Range, ok bool) {
	if b.updCount == -1 {
		return Range{}, false
	}
	r = Range{Offset: b.updOffset, Count: b.updCount}
	b.updOffset = 0
	b.updCount = -1
	return r, true
}

// ExternalHandle returns the externally managed GPU buffer, if any.
func (b *DataBuffer) ExternalHandle() (driver.Buffer, bool) {
	return b.external, b.external != 0
}
