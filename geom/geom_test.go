// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package geom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"honnef.co/go/safeish"
	"honnef.co/go/trine/driver"
)

func TestVersionMonotonic(t *testing.T) {
	buf := NewFloat32Buffer(make([]float32, 8), driver.StaticDraw)
	v0 := buf.Version()
	buf.MarkChanged()
	assert.Greater(t, buf.Version(), v0)
	buf.MarkChanged()
	buf.MarkChanged()
	assert.Equal(t, v0+3, buf.Version())
}

func TestUpdateRangeConsumedOnce(t *testing.T) {
	buf := NewFloat32Buffer(make([]float32, 8), driver.DynamicDraw)

	_, ok := buf.TakeUpdateRange()
	assert.False(t, ok, "fresh buffer has no pending range")

	buf.SetUpdateRange(4, 2)
	r, ok := buf.TakeUpdateRange()
	assert.True(t, ok)
	assert.Equal(t, Range{Offset: 4, Count: 2}, r)

	_, ok = buf.TakeUpdateRange()
	assert.False(t, ok, "range must be consumed exactly once")
}

func TestUpdateRangeSentinel(t *testing.T) {
	buf := NewFloat32Buffer(make([]float32, 8), driver.DynamicDraw)
	buf.SetUpdateRange(2, 3)
	buf.SetUpdateRange(0, -1)
	_, ok := buf.TakeUpdateRange()
	assert.False(t, ok, "count -1 clears back to whole-buffer uploads")
}

func TestUpdateRangeBounds(t *testing.T) {
	buf := NewFloat32Buffer(make([]float32, 8), driver.DynamicDraw)
	assert.Panics(t, func() { buf.SetUpdateRange(6, 4) })
	assert.Panics(t, func() { buf.SetUpdateRange(-1, 2) })
	assert.Panics(t, func() { buf.SetUpdateRange(0, 0) })
}

func TestDataAliasing(t *testing.T) {
	src := []float32{1, 2, 3, 4}
	buf := NewFloat32Buffer(src, driver.DynamicDraw)
	src[2] = 42
	view := safeish.SliceCast[[]float32](buf.Bytes())
	assert.Equal(t, float32(42), view[2], "buffer views the caller's data, no copy")
}

func TestFromSlice(t *testing.T) {
	cases := []struct {
		name string
		data any
		typ  driver.DataType
		len  int
	}{
		{"float32", []float32{1, 2}, driver.Float32, 2},
		{"uint16", []uint16{1, 2, 3}, driver.Uint16, 3},
		{"int8", []int8{1}, driver.Int8, 1},
		{"uint32", []uint32{9}, driver.Uint32, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			buf := FromSlice(c.data, driver.StaticDraw)
			assert.Equal(t, c.typ, buf.Type())
			assert.Equal(t, c.len, buf.Len())
		})
	}
}

func TestFromSliceFallback(t *testing.T) {
	buf := FromSlice([]float64{1.5, 2.5}, driver.StaticDraw)
	assert.Equal(t, driver.Float32, buf.Type())
	view := safeish.SliceCast[[]float32](buf.Bytes())
	assert.Equal(t, []float32{1.5, 2.5}, view)

	assert.Panics(t, func() { FromSlice("not a slice", driver.StaticDraw) })
	assert.Panics(t, func() { FromSlice([]string{"x"}, driver.StaticDraw) })
}

func TestExternalBuffer(t *testing.T) {
	buf := NewExternalBuffer(driver.Buffer(7), driver.Uint16, 10)
	h, ok := buf.ExternalHandle()
	assert.True(t, ok)
	assert.Equal(t, driver.Buffer(7), h)
	assert.Nil(t, buf.Bytes())
	assert.Equal(t, 10, buf.Len())

	assert.Panics(t, func() { NewExternalBuffer(0, driver.Uint16, 10) })

	plain := NewFloat32Buffer(make([]float32, 4), driver.StaticDraw)
	_, ok = plain.ExternalHandle()
	assert.False(t, ok)
}

func TestInterleavedAttributes(t *testing.T) {
	// 3 vertices of [pos.xyz, uv.xy] packed into one buffer with a
	// stride of 5 elements.
	buf := NewFloat32Buffer(make([]float32, 15), driver.StaticDraw)
	pos := NewInterleavedAttribute(buf, 3, 0, 5)
	uv := NewInterleavedAttribute(buf, 2, 3, 5)

	assert.Equal(t, 3, pos.Count())
	assert.Equal(t, 3, uv.Count())
	assert.Equal(t, 20, pos.ByteStride())
	assert.Equal(t, 12, uv.ByteOffset())
	assert.Same(t, buf, pos.Buffer())
	assert.Same(t, buf, uv.Buffer())
	assert.NotEqual(t, pos.ID(), uv.ID())

	assert.Panics(t, func() { NewInterleavedAttribute(buf, 3, 3, 5) })
}

func TestAttributeItemSize(t *testing.T) {
	buf := NewFloat32Buffer(make([]float32, 10), driver.StaticDraw)
	assert.Panics(t, func() { NewAttribute(buf, 3) }, "10 elements do not divide into vec3s")
	a := NewAttribute(buf, 2)
	assert.Equal(t, 5, a.Count())
}

func TestGeometry(t *testing.T) {
	g := NewGeometry()
	pos := NewAttribute(NewFloat32Buffer(make([]float32, 9), driver.StaticDraw), 3)
	uv := NewAttribute(NewFloat32Buffer(make([]float32, 6), driver.StaticDraw), 2)
	g.SetAttribute("position", pos)
	g.SetAttribute("uv", uv)
	g.SetAttribute("uv", uv) // re-set must not duplicate the name

	assert.Equal(t, []string{"position", "uv"}, g.Names())
	assert.Same(t, uv, g.Attribute("uv"))
	assert.Nil(t, g.Attribute("normal"))

	count, indexed := g.DrawCount()
	assert.False(t, indexed)
	assert.Equal(t, 3, count)

	idx := NewAttribute(NewUint16Buffer([]uint16{0, 1, 2, 2, 1, 0}, driver.StaticDraw), 1)
	g.SetIndex(idx)
	count, indexed = g.DrawCount()
	assert.True(t, indexed)
	assert.Equal(t, 6, count)
}

func TestGeometryDrawCountFallback(t *testing.T) {
	g := NewGeometry()
	count, indexed := g.DrawCount()
	assert.Zero(t, count)
	assert.False(t, indexed)

	col := NewAttribute(NewFloat32Buffer(make([]float32, 8), driver.StaticDraw), 4)
	g.SetAttribute("color", col)
	count, _ = g.DrawCount()
	assert.Equal(t, 2, count, "falls back to the first attribute when position is absent")
}
