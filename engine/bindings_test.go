// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package engine

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"honnef.co/go/trine/driver/drivertest"
	"honnef.co/go/trine/gfx"
	"honnef.co/go/trine/tmath"
)

// countingGroup wraps a single-mat4 group whose callback counts its
// invocations and writes the camera's view matrix.
func countingGroup(name string, calls *int) *gfx.UniformsGroup {
	grp := gfx.NewUniformsGroup(name, []gfx.Uniform{
		{Name: "view", Kind: gfx.UniformMat4},
	})
	grp.Update = func(dst []float32, st gfx.DrawState) bool {
		*calls++
		return grp.SetMat4(dst, 0, st.View)
	}
	return grp
}

func TestSharedGroupOncePerFrame(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	var calls int
	shared := countingGroup("camera", &calls)
	shared.Shared = true
	eng.Bindings.Provide(shared)

	cam := newTestCamera()
	ob1 := newTestObject(quadGeometry(), testMaterial())
	ob2 := newTestObject(quadGeometry(), testMaterial())

	eng.BeginFrame()
	_, err := eng.Bindings.Update(ob1, cam)
	require.NoError(t, err)
	set, err := eng.Bindings.Update(ob2, cam)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "both drawables see the group, one refresh")
	buf := set.groups[0].buf
	assert.Len(t, dev.WritesTo(buf), 1)

	// The camera moved, so the next frame refreshes again, once.
	cam.view = tmath.Translation(tmath.Vec3{X: 1})
	eng.BeginFrame()
	_, err = eng.Bindings.Update(ob1, cam)
	require.NoError(t, err)
	_, err = eng.Bindings.Update(ob2, cam)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, dev.WritesTo(buf), 2)

	// Unchanged state still runs the callback once per frame but skips
	// the write.
	eng.BeginFrame()
	_, err = eng.Bindings.Update(ob1, cam)
	require.NoError(t, err)
	_, err = eng.Bindings.Update(ob2, cam)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, dev.WritesTo(buf), 2)
}

func TestSharedGroupBeforeFirstFrame(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	var calls int
	shared := countingGroup("camera", &calls)
	shared.Shared = true
	eng.Bindings.Provide(shared)

	// No frame has begun. The group must still refresh exactly once,
	// not zero times and not twice.
	cam := newTestCamera()
	_, err := eng.Bindings.Update(newTestObject(quadGeometry(), testMaterial()), cam)
	require.NoError(t, err)
	_, err = eng.Bindings.Update(newTestObject(quadGeometry(), testMaterial()), cam)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestBindGroupRebuildOnTextureChange(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	eng.Bindings.Provide(cameraGroup())
	tex := gfx.NewTexture()
	mat := testMaterial()
	mat.Props["map"] = tex
	ob := newTestObject(quadGeometry(), mat)
	cam := newTestCamera()

	eng.BeginFrame()
	_, err := eng.Bindings.Update(ob, cam)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.Count("NewBindGroupLayout"))
	assert.Equal(t, 1, dev.Count("NewBindGroup"))

	eng.BeginFrame()
	_, err = eng.Bindings.Update(ob, cam)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.Count("NewBindGroup"), "stable handles, no rebuild")
	assert.Zero(t, dev.Count("DestroyBindGroup"))

	// The image arriving swaps the placeholder for a real texture,
	// which rebuilds the group against the existing layout.
	tex.SetImage(solidRGBA(2, 2, color.RGBA{R: 0xff, A: 0xff}))
	eng.BeginFrame()
	_, err = eng.Bindings.Update(ob, cam)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.Count("DestroyBindGroup"))
	assert.Equal(t, 2, dev.Count("NewBindGroup"))
	assert.Equal(t, 1, dev.Count("NewBindGroupLayout"), "the layout is never rebuilt")
	assert.Equal(t, 1, eng.Stats().BindGroupRebuilds)

	eng.BeginFrame()
	_, err = eng.Bindings.Update(ob, cam)
	require.NoError(t, err)
	assert.Equal(t, 2, dev.Count("NewBindGroup"))
}

func TestSamplerChangeRebuildsGroup(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	eng.Bindings.Provide(cameraGroup())
	tex := gfx.NewTextureFromImage(solidRGBA(2, 2, color.RGBA{A: 0xff}))
	mat := testMaterial()
	mat.Props["map"] = tex
	ob := newTestObject(quadGeometry(), mat)
	cam := newTestCamera()

	eng.BeginFrame()
	_, err := eng.Bindings.Update(ob, cam)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.Count("NewBindGroup"))

	p := tex.Sampler()
	p.WrapU = gfx.Repeat
	tex.SetSampler(p)
	eng.BeginFrame()
	_, err = eng.Bindings.Update(ob, cam)
	require.NoError(t, err)
	assert.Equal(t, 2, dev.Count("NewBindGroup"))
	assert.Equal(t, 1, dev.Count("DestroyBindGroup"))
}

func TestGroupBufferContents(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	grp := gfx.NewUniformsGroup("object", []gfx.Uniform{
		{Name: "opacity", Kind: gfx.UniformFloat},
		{Name: "tint", Kind: gfx.UniformVec3},
		{Name: "model", Kind: gfx.UniformMat4},
	})
	grp.Update = func(dst []float32, st gfx.DrawState) bool {
		changed := grp.SetFloat(dst, 0, 0.25)
		changed = grp.SetVec3(dst, 1, tmath.Vec3{X: 1, Y: 0.5, Z: 0.25}) || changed
		return grp.SetMat4(dst, 2, st.World) || changed
	}

	prog := gfx.NewProgram("packed", nil, []gfx.BindingDecl{
		{Binding: 0, Kind: gfx.GroupBinding, Name: "object"},
	})
	mat := gfx.NewMaterial(prog)
	mat.Groups = append(mat.Groups, grp)
	ob := newTestObject(quadGeometry(), mat)
	world := tmath.Translation(tmath.Vec3{X: 2, Y: 3, Z: 4})
	ob.world = world

	eng.BeginFrame()
	set, err := eng.Bindings.Update(ob, newTestCamera())
	require.NoError(t, err)

	words := dev.BufferFloat32s(set.groups[0].buf)
	require.Len(t, words, 32)
	assert.EqualValues(t, 0.25, words[0])
	assert.Equal(t, []float32{1, 0.5, 0.25}, words[3:6])
	assert.Equal(t, world[:], words[16:32])
	assert.Zero(t, words[1], "padding stays zero")
	assert.Zero(t, words[2])
	assert.Equal(t, make([]float32, 10), words[6:16])
}

func TestUnchangedGroupSkipsWrite(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	eng.Bindings.Provide(cameraGroup())
	ob := newTestObject(quadGeometry(), testMaterial())
	cam := newTestCamera()

	eng.BeginFrame()
	set, err := eng.Bindings.Update(ob, cam)
	require.NoError(t, err)
	objBuf := set.groups[1].buf
	assert.Len(t, dev.WritesTo(objBuf), 1)
	assert.Equal(t, 2, eng.Stats().GroupUpdates, "camera and object groups both wrote")

	// Same world matrix, no write.
	eng.BeginFrame()
	_, err = eng.Bindings.Update(ob, cam)
	require.NoError(t, err)
	assert.Len(t, dev.WritesTo(objBuf), 1)
	assert.Zero(t, eng.Stats().GroupUpdates)

	ob.world = tmath.Translation(tmath.Vec3{Y: -2})
	eng.BeginFrame()
	_, err = eng.Bindings.Update(ob, cam)
	require.NoError(t, err)
	assert.Len(t, dev.WritesTo(objBuf), 2)
}

func TestGroupRefcounting(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	eng.Bindings.Provide(cameraGroup())
	mat := testMaterial()
	ob1 := newTestObject(quadGeometry(), mat)
	ob2 := newTestObject(quadGeometry(), mat)

	_, err := eng.Bindings.Get(ob1)
	require.NoError(t, err)
	_, err = eng.Bindings.Get(ob2)
	require.NoError(t, err)
	assert.Equal(t, 2, dev.Count("NewBuffer"), "camera and object buffers, shared by both sets")
	assert.Equal(t, 2, dev.LiveBindGroups())

	eng.Bindings.Dispose(ob1)
	assert.Zero(t, dev.Count("DestroyBuffer"), "ob2 still references both groups")
	assert.Equal(t, 1, dev.Count("DestroyBindGroup"))
	assert.Equal(t, 1, dev.Count("DestroyBindGroupLayout"))

	eng.Bindings.Dispose(ob2)
	assert.Equal(t, 2, dev.Count("DestroyBuffer"))
	assert.Zero(t, dev.LiveBindGroups())

	// Disposing an unknown drawable is a no-op.
	eng.Bindings.Dispose(ob1)
	assert.Equal(t, 2, dev.Count("DestroyBuffer"))
}

func TestMissingGroupError(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	mat := gfx.NewMaterial(testProgram())
	ob := newTestObject(quadGeometry(), mat)

	_, err := eng.Bindings.Update(ob, newTestCamera())
	assert.ErrorContains(t, err, `uniforms group "camera"`)
}

func TestMaterialGroupBeatsProvided(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	var matCalls, provCalls int
	eng.Bindings.Provide(countingGroup("object", &provCalls))

	prog := gfx.NewProgram("single", nil, []gfx.BindingDecl{
		{Binding: 0, Kind: gfx.GroupBinding, Name: "object"},
	})
	mat := gfx.NewMaterial(prog)
	mat.Groups = append(mat.Groups, countingGroup("object", &matCalls))
	ob := newTestObject(quadGeometry(), mat)

	eng.BeginFrame()
	_, err := eng.Bindings.Update(ob, newTestCamera())
	require.NoError(t, err)
	assert.Equal(t, 1, matCalls)
	assert.Zero(t, provCalls)
}

func TestUniformBufferAlignment(t *testing.T) {
	eng, dev := newTestEngine(t, func(dev *drivertest.Device) {
		dev.DevCaps.UniformAlignWords = 16
	})
	grp := gfx.NewUniformsGroup("object", []gfx.Uniform{
		{Name: "opacity", Kind: gfx.UniformFloat},
	})
	grp.Update = func(dst []float32, st gfx.DrawState) bool {
		return grp.SetFloat(dst, 0, 1)
	}
	prog := gfx.NewProgram("single", nil, []gfx.BindingDecl{
		{Binding: 0, Kind: gfx.GroupBinding, Name: "object"},
	})
	mat := gfx.NewMaterial(prog)
	mat.Groups = append(mat.Groups, grp)

	eng.BeginFrame()
	set, err := eng.Bindings.Update(newTestObject(quadGeometry(), mat), newTestCamera())
	require.NoError(t, err)

	// One word of payload padded to the device's alignment; writes
	// cover the whole padded buffer.
	assert.Len(t, dev.BufferData(set.groups[0].buf), 64)
	writes := dev.WritesTo(set.groups[0].buf)
	require.Len(t, writes, 1)
	assert.Len(t, writes[0].Data, 64)
}

func TestDisposeMaterial(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	eng.Bindings.Provide(cameraGroup())
	mat := testMaterial()
	ob1 := newTestObject(quadGeometry(), mat)
	ob2 := newTestObject(quadGeometry(), mat)

	_, err := eng.Bindings.Get(ob1)
	require.NoError(t, err)
	_, err = eng.Bindings.Get(ob2)
	require.NoError(t, err)
	assert.Equal(t, 2, dev.LiveBindGroups())

	eng.Bindings.DisposeMaterial(mat)
	assert.Zero(t, dev.LiveBindGroups())
	assert.Equal(t, 2, dev.Count("DestroyBuffer"), "both group buffers freed")

	// Sets are rebuilt on demand after disposal.
	_, err = eng.Bindings.Get(ob1)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.LiveBindGroups())
}
