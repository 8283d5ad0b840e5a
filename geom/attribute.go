// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package geom

import "fmt"

// Attribute is a logical vertex attribute: a view of a DataBuffer plus
// its interpretation. ItemSize, Offset, and Stride are in elements,
// not bytes. Interleaved attributes share one DataBuffer under
// distinct offsets and a common stride; the caches upload such a
// buffer once per version no matter how many attributes view it.
type Attribute struct {
	id  ID
	buf *DataBuffer

	ItemSize   int
	Normalized bool
	// Stride between consecutive vertices. 0 means tightly packed
	// (ItemSize).
	Stride int
	Offset int
	// Divisor 0 advances the attribute per vertex; n > 0 advances it
	// once per n instances.
	Divisor int
}

// NewAttribute views all of buf as consecutive items of itemSize
// elements.
func NewAttribute(buf *DataBuffer, itemSize int) *Attribute {
	if itemSize <= 0 || buf.Len()%itemSize != 0 {
		panic(fmt.Sprintf("geom: buffer of %d elements does not divide into items of %d", buf.Len(), itemSize))
	}
	return &Attribute{
		id:       NextID(),
		buf:      buf,
		ItemSize: itemSize,
	}
}

// NewInterleavedAttribute views buf starting at offset, reading
// itemSize elements every stride elements.
func NewInterleavedAttribute(buf *DataBuffer, itemSize, offset, stride int) *Attribute {
	if itemSize <= 0 || stride < itemSize || offset < 0 || offset+itemSize > stride {
		panic(fmt.Sprintf("geom: invalid interleaved layout itemSize=%d offset=%d stride=%d", itemSize, offset, stride))
	}
	return &Attribute{
		id:       NextID(),
		buf:      buf,
		ItemSize: itemSize,
		Offset:   offset,
		Stride:   stride,
	}
}

func (a *Attribute) ID() ID {
	return a.id
}

func (a *Attribute) Buffer() *DataBuffer {
	return a.buf
}

// Count returns the number of vertices this attribute provides.
func (a *Attribute) Count() int {
	if a.Stride != 0 {
		return a.buf.Len() / a.Stride
	}
	return a.buf.Len() / a.ItemSize
}

// ByteStride returns the stride in bytes as a backend consumes it; 0
// stays 0 (tightly packed).
func (a *Attribute) ByteStride() int {
	return a.Stride * a.buf.Type().ByteWidth()
}

// ByteOffset returns the view's starting offset in bytes.
func (a *Attribute) ByteOffset() int {
	return a.Offset * a.buf.Type().ByteWidth()
}
