// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"honnef.co/go/trine/driver"
	"honnef.co/go/trine/driver/drivertest"
	"honnef.co/go/trine/geom"
	"honnef.co/go/trine/gfx"
)

func noVertexArrays(dev *drivertest.Device) {
	dev.DevCaps.VertexArrays = false
}

// syncGeometry pushes all of geo's buffers through the buffer cache so
// binding can look their handles up.
func syncGeometry(t *testing.T, eng *Engine, geo *geom.Geometry) {
	t.Helper()
	if idx := geo.Index(); idx != nil {
		_, err := eng.Buffers.Retain(idx, driver.IndexBuffer)
		require.NoError(t, err)
	}
	for _, name := range geo.Names() {
		_, err := eng.Buffers.Retain(geo.Attribute(name), driver.VertexBuffer)
		require.NoError(t, err)
	}
}

// drawBindings runs one draw's worth of attribute binding: bind the
// state, init flags, enable the program's attributes, bind the index,
// disable leftovers.
func drawBindings(t *testing.T, eng *Engine, prog *gfx.Program, geo *geom.Geometry) {
	t.Helper()
	_, err := eng.States.Bind(prog, geo)
	require.NoError(t, err)
	eng.States.InitAttributes()
	for _, as := range prog.Attributes() {
		attr := geo.Attribute(as.Name)
		if attr == nil {
			continue
		}
		eng.States.EnableAttribute(as.Slot, attr, eng.Buffers.Get(attr.Buffer()))
	}
	if idx := geo.Index(); idx != nil {
		eng.States.EnableIndex(eng.Buffers.Get(idx.Buffer()))
	}
	eng.States.DisableUnusedAttributes()
}

func TestEnableAttributeIdempotent(t *testing.T) {
	for _, fast := range []bool{true, false} {
		name := "fast"
		if !fast {
			name = "slow"
		}
		t.Run(name, func(t *testing.T) {
			var mod func(*drivertest.Device)
			if !fast {
				mod = noVertexArrays
			}
			eng, dev := newTestEngine(t, mod)
			geo := quadGeometry()
			prog := testProgram()
			syncGeometry(t, eng, geo)

			drawBindings(t, eng, prog, geo)
			assert.Equal(t, 2, dev.Count("EnableAttribute"))
			assert.Equal(t, 2, dev.Count("SetAttribute"))
			assert.Equal(t, 1, dev.Count("BindIndexBuffer"))

			// The identical draw issues nothing new.
			drawBindings(t, eng, prog, geo)
			assert.Equal(t, 2, dev.Count("EnableAttribute"))
			assert.Equal(t, 2, dev.Count("SetAttribute"))
			assert.Equal(t, 1, dev.Count("BindIndexBuffer"))
			assert.Zero(t, dev.Count("DisableAttribute"))

			// One descriptor field changes, one new pointer call.
			geo.Attribute("uv").Normalized = true
			drawBindings(t, eng, prog, geo)
			assert.Equal(t, 2, dev.Count("EnableAttribute"))
			assert.Equal(t, 3, dev.Count("SetAttribute"))
		})
	}
}

func TestDisableUnusedAttributes(t *testing.T) {
	eng, dev := newTestEngine(t, noVertexArrays)
	geo := quadGeometry()
	normals := geom.NewFloat32Buffer(make([]float32, 4*3), driver.StaticDraw)
	geo.SetAttribute("normal", geom.NewAttribute(normals, 3))
	syncGeometry(t, eng, geo)

	wide := gfx.NewProgram("wide",
		[]gfx.AttributeSlot{
			{Name: "position", Slot: 0},
			{Name: "uv", Slot: 1},
			{Name: "normal", Slot: 2},
		}, nil)
	narrow := gfx.NewProgram("narrow",
		[]gfx.AttributeSlot{
			{Name: "position", Slot: 0},
			{Name: "uv", Slot: 1},
		}, nil)

	drawBindings(t, eng, wide, geo)
	assert.Equal(t, 3, dev.Count("EnableAttribute"))
	assert.Zero(t, dev.Count("DisableAttribute"))

	drawBindings(t, eng, narrow, geo)
	assert.Equal(t, 3, dev.Count("EnableAttribute"), "0 and 1 stay enabled without re-issue")
	assert.Equal(t, 1, dev.Count("DisableAttribute"), "slot 2 leaked from the wider draw")

	disabled := dev.CallsOf("DisableAttribute")
	assert.Equal(t, 2, disabled[0].Slot)

	st := dev.BoundState()
	assert.True(t, st.Enabled[0])
	assert.True(t, st.Enabled[1])
	assert.False(t, st.Enabled[2])
}

// assertBound checks the effective vertex state of the device's bound
// context against the attributes a draw should have left there.
func assertBound(t *testing.T, eng *Engine, dev *drivertest.Device, want map[int]*geom.Attribute, index *geom.DataBuffer) {
	t.Helper()
	st := dev.BoundState()
	assert.Len(t, st.Enabled, len(want))
	for slot, attr := range want {
		assert.True(t, st.Enabled[slot], "slot %d enabled", slot)
		assert.Equal(t, eng.Buffers.Get(attr.Buffer()), st.Buffers[slot], "slot %d buffer", slot)
		assert.Equal(t, driver.AttribLayout{
			Size:       attr.ItemSize,
			Type:       attr.Buffer().Type(),
			Normalized: attr.Normalized,
			Stride:     attr.ByteStride(),
			Offset:     attr.ByteOffset(),
		}, st.Attribs[slot], "slot %d layout", slot)
	}
	if index != nil {
		assert.Equal(t, eng.Buffers.Get(index), st.Index)
	}
}

func TestFastSlowPathEquivalence(t *testing.T) {
	// The same draw sequence must leave the same effective GPU state
	// behind with and without hardware vertex arrays.
	run := func(t *testing.T, mod func(*drivertest.Device)) {
		eng, dev := newTestEngine(t, mod)
		quad := quadGeometry()
		tri := geom.NewGeometry()
		pos := geom.NewFloat32Buffer(make([]float32, 3*3), driver.StaticDraw)
		tri.SetAttribute("position", geom.NewAttribute(pos, 3))
		prog := testProgram()
		syncGeometry(t, eng, quad)
		syncGeometry(t, eng, tri)

		drawBindings(t, eng, prog, quad)
		assertBound(t, eng, dev, map[int]*geom.Attribute{
			0: quad.Attribute("position"),
			1: quad.Attribute("uv"),
		}, quad.Index().Buffer())

		drawBindings(t, eng, prog, tri)
		assertBound(t, eng, dev, map[int]*geom.Attribute{
			0: tri.Attribute("position"),
		}, nil)

		drawBindings(t, eng, prog, quad)
		assertBound(t, eng, dev, map[int]*geom.Attribute{
			0: quad.Attribute("position"),
			1: quad.Attribute("uv"),
		}, quad.Index().Buffer())
	}
	t.Run("fast", func(t *testing.T) { run(t, nil) })
	t.Run("slow", func(t *testing.T) { run(t, noVertexArrays) })
}

func TestSlowPathUsesNoVertexArrays(t *testing.T) {
	eng, dev := newTestEngine(t, noVertexArrays)
	geo := quadGeometry()
	prog := testProgram()
	syncGeometry(t, eng, geo)
	drawBindings(t, eng, prog, geo)
	drawBindings(t, eng, prog, geo)
	assert.Zero(t, dev.Count("NewVertexArray"))
	assert.Zero(t, dev.Count("BindVertexArray"))
}

func TestVertexArraySwitching(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	g1 := quadGeometry()
	g2 := quadGeometry()
	prog := testProgram()
	syncGeometry(t, eng, g1)
	syncGeometry(t, eng, g2)

	_, err := eng.States.Bind(prog, g1)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.Count("NewVertexArray"))
	assert.Equal(t, 1, dev.Count("BindVertexArray"))

	// Rebinding the active state is free.
	_, err = eng.States.Bind(prog, g1)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.Count("BindVertexArray"))

	_, err = eng.States.Bind(prog, g2)
	require.NoError(t, err)
	assert.Equal(t, 2, dev.Count("NewVertexArray"))
	assert.Equal(t, 2, dev.Count("BindVertexArray"))

	_, err = eng.States.Bind(prog, g1)
	require.NoError(t, err)
	assert.Equal(t, 2, dev.Count("NewVertexArray"), "states are cached per pair")
	assert.Equal(t, 3, dev.Count("BindVertexArray"))
}

func TestDivisorOnlyOnChange(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	geo := quadGeometry()
	offsets := geom.NewFloat32Buffer(make([]float32, 8*3), driver.StaticDraw)
	inst := geom.NewAttribute(offsets, 3)
	inst.Divisor = 1
	geo.SetAttribute("offset", inst)
	geo.SetInstanceCount(8)
	syncGeometry(t, eng, geo)

	prog := gfx.NewProgram("instanced",
		[]gfx.AttributeSlot{
			{Name: "position", Slot: 0},
			{Name: "offset", Slot: 1},
		}, nil)

	drawBindings(t, eng, prog, geo)
	assert.Equal(t, 1, dev.Count("SetDivisor"))
	drawBindings(t, eng, prog, geo)
	assert.Equal(t, 1, dev.Count("SetDivisor"), "unchanged divisor is not re-issued")

	inst.Divisor = 2
	drawBindings(t, eng, prog, geo)
	assert.Equal(t, 2, dev.Count("SetDivisor"))
}

func TestDivisorSkippedWithoutInstancing(t *testing.T) {
	eng, dev := newTestEngine(t, func(dev *drivertest.Device) {
		dev.DevCaps.InstancedArrays = false
	})
	geo := quadGeometry()
	offsets := geom.NewFloat32Buffer(make([]float32, 8*3), driver.StaticDraw)
	inst := geom.NewAttribute(offsets, 3)
	inst.Divisor = 1
	geo.SetAttribute("offset", inst)
	syncGeometry(t, eng, geo)

	prog := gfx.NewProgram("instanced",
		[]gfx.AttributeSlot{
			{Name: "position", Slot: 0},
			{Name: "offset", Slot: 1},
		}, nil)

	// The fake panics on SetDivisor without the capability; reaching
	// the assertion proves the call was skipped.
	drawBindings(t, eng, prog, geo)
	assert.Zero(t, dev.Count("SetDivisor"))
}

func TestEnableIndexCached(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	g1 := quadGeometry()
	g2 := quadGeometry()
	prog := testProgram()
	syncGeometry(t, eng, g1)
	syncGeometry(t, eng, g2)

	drawBindings(t, eng, prog, g1)
	drawBindings(t, eng, prog, g2)
	assert.Equal(t, 2, dev.Count("BindIndexBuffer"))

	// Each context remembered its index buffer.
	drawBindings(t, eng, prog, g1)
	drawBindings(t, eng, prog, g2)
	assert.Equal(t, 2, dev.Count("BindIndexBuffer"))
}

func TestDisposeGeometryDropsStates(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	g1 := quadGeometry()
	g2 := quadGeometry()
	prog := testProgram()
	syncGeometry(t, eng, g1)
	syncGeometry(t, eng, g2)

	drawBindings(t, eng, prog, g1)
	drawBindings(t, eng, prog, g2)
	assert.Equal(t, 2, dev.LiveVertexArrays())

	eng.States.DisposeGeometry(g1)
	assert.Equal(t, 1, dev.Count("DestroyVertexArray"))
	assert.Equal(t, 1, dev.LiveVertexArrays())

	// A later draw of the disposed geometry transparently recreates
	// its state.
	drawBindings(t, eng, prog, g1)
	assert.Equal(t, 3, dev.Count("NewVertexArray"))
	assertBound(t, eng, dev, map[int]*geom.Attribute{
		0: g1.Attribute("position"),
		1: g1.Attribute("uv"),
	}, g1.Index().Buffer())
}

func TestDisposeProgramDropsStates(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	geo := quadGeometry()
	p1 := testProgram()
	p2 := testProgram()
	syncGeometry(t, eng, geo)

	drawBindings(t, eng, p1, geo)
	drawBindings(t, eng, p2, geo)
	assert.Equal(t, 2, dev.LiveVertexArrays())

	eng.States.DisposeProgram(p1)
	assert.Equal(t, 1, dev.LiveVertexArrays())
	eng.States.DisposeProgram(p2)
	assert.Zero(t, dev.LiveVertexArrays())
}

func TestUnbindRestoresDefaultContext(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	geo := quadGeometry()
	prog := testProgram()
	syncGeometry(t, eng, geo)

	drawBindings(t, eng, prog, geo)
	eng.States.Unbind()
	calls := dev.CallsOf("BindVertexArray")
	require.NotEmpty(t, calls)
	assert.Zero(t, calls[len(calls)-1].Handle)

	eng.States.Unbind()
	assert.Len(t, dev.CallsOf("BindVertexArray"), len(calls), "unbinding twice is free")
}
