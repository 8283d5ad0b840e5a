// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"honnef.co/go/trine/driver"
	"honnef.co/go/trine/geom"
)

func TestEnsureVersionGating(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	buf := geom.NewFloat32Buffer([]float32{1, 2, 3, 4}, driver.StaticDraw)

	h1, err := eng.Buffers.Ensure(buf, driver.VertexBuffer)
	require.NoError(t, err)
	h2, err := eng.Buffers.Ensure(buf, driver.VertexBuffer)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, dev.Count("NewBuffer"))
	assert.Equal(t, 1, dev.Count("WriteBuffer"), "unchanged version must not re-upload")

	buf.MarkChanged()
	_, err = eng.Buffers.Ensure(buf, driver.VertexBuffer)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.Count("NewBuffer"))
	assert.Equal(t, 2, dev.Count("WriteBuffer"))

	_, err = eng.Buffers.Ensure(buf, driver.VertexBuffer)
	require.NoError(t, err)
	assert.Equal(t, 2, dev.Count("WriteBuffer"))
}

func TestEnsureUploadsContents(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	data := []float32{1, 2, 3, 4}
	buf := geom.NewFloat32Buffer(data, driver.StaticDraw)

	h, err := eng.Buffers.Ensure(buf, driver.VertexBuffer)
	require.NoError(t, err)
	assert.Equal(t, data, dev.BufferFloat32s(h))

	data[2] = 9
	buf.MarkChanged()
	_, err = eng.Buffers.Ensure(buf, driver.VertexBuffer)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 9, 4}, dev.BufferFloat32s(h))
}

func TestPartialUpload(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	data := []float32{0, 1, 2, 3, 4, 5, 6, 7}
	buf := geom.NewFloat32Buffer(data, driver.DynamicDraw)

	h, err := eng.Buffers.Ensure(buf, driver.VertexBuffer)
	require.NoError(t, err)
	dev.ResetLog()

	data[4] = 40
	data[5] = 50
	buf.SetUpdateRange(4, 2)
	buf.MarkChanged()
	_, err = eng.Buffers.Ensure(buf, driver.VertexBuffer)
	require.NoError(t, err)

	writes := dev.WritesTo(h)
	require.Len(t, writes, 1)
	assert.Equal(t, 4*4, writes[0].Off)
	assert.Len(t, writes[0].Data, 2*4)
	assert.Equal(t, []float32{0, 1, 2, 3, 40, 50, 6, 7}, dev.BufferFloat32s(h))

	// The range is consumed; the next change uploads everything.
	dev.ResetLog()
	buf.MarkChanged()
	_, err = eng.Buffers.Ensure(buf, driver.VertexBuffer)
	require.NoError(t, err)
	writes = dev.WritesTo(h)
	require.Len(t, writes, 1)
	assert.Equal(t, 0, writes[0].Off)
	assert.Len(t, writes[0].Data, 8*4)
}

func TestRangeNotConsumedWithoutUpload(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	data := []float32{0, 1, 2, 3}
	buf := geom.NewFloat32Buffer(data, driver.DynamicDraw)

	_, err := eng.Buffers.Ensure(buf, driver.VertexBuffer)
	require.NoError(t, err)
	dev.ResetLog()

	// Range set but no version bump: nothing may happen, and the
	// range must survive for the upload that does observe the bump.
	buf.SetUpdateRange(1, 2)
	h, err := eng.Buffers.Ensure(buf, driver.VertexBuffer)
	require.NoError(t, err)
	assert.Empty(t, dev.Writes())

	buf.MarkChanged()
	_, err = eng.Buffers.Ensure(buf, driver.VertexBuffer)
	require.NoError(t, err)
	writes := dev.WritesTo(h)
	require.Len(t, writes, 1)
	assert.Equal(t, 1*4, writes[0].Off)
	assert.Len(t, writes[0].Data, 2*4)
}

func TestSharedInterleavedBuffer(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	// position (3 elements) and uv (2) interleaved in one buffer,
	// stride 5.
	data := make([]float32, 5*4)
	buf := geom.NewFloat32Buffer(data, driver.StaticDraw)
	pos := geom.NewInterleavedAttribute(buf, 3, 0, 5)
	uv := geom.NewInterleavedAttribute(buf, 2, 3, 5)

	h1, err := eng.Buffers.Retain(pos, driver.VertexBuffer)
	require.NoError(t, err)
	h2, err := eng.Buffers.Retain(uv, driver.VertexBuffer)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "one underlying buffer, one GPU buffer")
	assert.Equal(t, 1, dev.Count("NewBuffer"))
	assert.Equal(t, 1, dev.Count("WriteBuffer"), "one upload per version, not per attribute")

	buf.MarkChanged()
	_, err = eng.Buffers.Retain(pos, driver.VertexBuffer)
	require.NoError(t, err)
	_, err = eng.Buffers.Retain(uv, driver.VertexBuffer)
	require.NoError(t, err)
	assert.Equal(t, 2, dev.Count("WriteBuffer"))

	eng.Buffers.Release(pos)
	assert.Zero(t, dev.Count("DestroyBuffer"), "still held by uv")
	assert.Equal(t, h1, eng.Buffers.Get(buf))

	eng.Buffers.Release(uv)
	assert.Equal(t, 1, dev.Count("DestroyBuffer"))
	assert.Zero(t, eng.Buffers.Get(buf))
	assert.Zero(t, dev.LiveBuffers())
}

func TestReleaseUnknownBuffer(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	buf := geom.NewFloat32Buffer([]float32{1, 2, 3}, driver.StaticDraw)
	attr := geom.NewAttribute(buf, 3)
	eng.Buffers.Release(attr)
	assert.Empty(t, dev.Calls())
}

func TestExternalBufferBypass(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	// The owner manages this buffer directly on the device.
	external, err := dev.NewBuffer(driver.VertexBuffer, 6*4, driver.StaticDraw)
	require.NoError(t, err)
	dev.ResetLog()

	buf := geom.NewExternalBuffer(external, driver.Float32, 6)
	attr := geom.NewAttribute(buf, 3)

	h, err := eng.Buffers.Retain(attr, driver.VertexBuffer)
	require.NoError(t, err)
	assert.Equal(t, external, h)
	assert.Zero(t, dev.Count("NewBuffer"))
	assert.Zero(t, dev.Count("WriteBuffer"), "the cache never uploads external contents")

	buf.MarkChanged()
	_, err = eng.Buffers.Ensure(buf, driver.VertexBuffer)
	require.NoError(t, err)
	assert.Zero(t, dev.Count("WriteBuffer"))

	eng.Buffers.Release(attr)
	assert.Zero(t, dev.Count("DestroyBuffer"), "external handles outlive the cache")
	assert.Equal(t, 1, dev.LiveBuffers())
}

func TestOnUploadRunsOnce(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	buf := geom.NewFloat32Buffer([]float32{1, 2, 3}, driver.StaticDraw)
	calls := 0
	buf.OnUpload = func() { calls++ }

	_, err := eng.Buffers.Ensure(buf, driver.VertexBuffer)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	buf.MarkChanged()
	_, err = eng.Buffers.Ensure(buf, driver.VertexBuffer)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "only the initial full upload reports")
}

func TestEnsureConsumesPreCreationRange(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	data := []float32{0, 1, 2, 3}
	buf := geom.NewFloat32Buffer(data, driver.DynamicDraw)
	buf.SetUpdateRange(1, 1)

	// Creation uploads everything and supersedes the pending range.
	h, err := eng.Buffers.Ensure(buf, driver.VertexBuffer)
	require.NoError(t, err)
	writes := dev.WritesTo(h)
	require.Len(t, writes, 1)
	assert.Len(t, writes[0].Data, 4*4)

	dev.ResetLog()
	buf.MarkChanged()
	_, err = eng.Buffers.Ensure(buf, driver.VertexBuffer)
	require.NoError(t, err)
	writes = dev.WritesTo(h)
	require.Len(t, writes, 1)
	assert.Len(t, writes[0].Data, 4*4, "stale pre-creation range must not shrink this upload")
}
