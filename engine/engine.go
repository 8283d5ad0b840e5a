// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package engine synchronizes CPU-side scene resources with their GPU
// counterparts. It owns four caches: Buffers uploads versioned vertex
// and index data, States tracks vertex-attribute bindings, Textures
// uploads images and samplers, and Bindings composes uniform buffers
// and bind groups. Multiview manages layered render targets.
//
// All state lives on an Engine instance; two engines on one device
// share nothing. Every method must be called from the rendering
// thread. The caches never block: resources that are still loading
// resolve to placeholders until their owner delivers the data.
package engine

import (
	"honnef.co/go/trine/driver"
	"honnef.co/go/trine/geom"
	"honnef.co/go/trine/gfx"
	"honnef.co/go/trine/tmath"
)

// Drawable is one renderable scene object. Implemented by the scene
// layer; the engine only reads it.
type Drawable interface {
	ID() geom.ID
	Geometry() *geom.Geometry
	Material() *gfx.Material
	WorldMatrix() tmath.Mat4
	Visible() bool
}

// Camera supplies the view and projection transforms of a draw.
type Camera interface {
	ID() geom.ID
	ViewMatrix() tmath.Mat4
	ProjectionMatrix() tmath.Mat4
}

// View is one rendered viewpoint: a camera plus the destination
// region its layer is blitted to.
type View struct {
	Camera
	Viewport driver.Rect
}

// ArrayCamera renders several views in one pass, one layer per view.
type ArrayCamera interface {
	Camera
	Views() []View
}

// Engine owns all GPU-side caches for one device.
type Engine struct {
	Device driver.Device

	Buffers   *Buffers
	States    *BindingStates
	Textures  *Textures
	Bindings  *Bindings
	Multiview *Multiview

	caps  driver.Caps
	frame uint64
	stats Stats
}

func New(dev driver.Device) *Engine {
	eng := &Engine{
		Device: dev,
		caps:   dev.Caps(),
	}
	eng.Buffers = newBuffers(eng)
	eng.States = newBindingStates(eng)
	eng.Textures = newTextures(eng)
	eng.Bindings = newBindings(eng)
	eng.Multiview = newMultiview(eng)
	return eng
}

func (eng *Engine) Caps() driver.Caps {
	return eng.caps
}

// Frame returns the current frame number. Frame numbers start at 1;
// 0 means no frame has begun.
func (eng *Engine) Frame() uint64 {
	return eng.frame
}

// BeginFrame advances the frame counter, resets the per-frame
// counters, and opens a frame on the device.
func (eng *Engine) BeginFrame() {
	eng.frame++
	eng.stats.resetFrame(eng.frame)
	eng.Device.BeginFrame()
}

func (eng *Engine) EndFrame() {
	eng.Device.EndFrame()
}

// DrawState assembles the per-draw state passed to uniform update
// callbacks.
func (eng *Engine) DrawState(ob Drawable, cam Camera) gfx.DrawState {
	return gfx.DrawState{
		World:      ob.WorldMatrix(),
		View:       cam.ViewMatrix(),
		Projection: cam.ProjectionMatrix(),
		Frame:      eng.frame,
	}
}

// Draw submits one draw call for the drawable's geometry. Buffers,
// attributes, and bindings must have been synced first; see the
// package ordering contract.
func (eng *Engine) Draw(ob Drawable) {
	g := ob.Geometry()
	count, indexed := g.DrawCount()
	if count == 0 {
		return
	}
	call := driver.DrawCall{
		Mode:      ob.Material().Mode,
		Count:     count,
		Instances: g.InstanceCount(),
		Indexed:   indexed,
	}
	if indexed {
		call.IndexType = g.Index().Buffer().Type()
	}
	eng.Device.Draw(call)

	eng.stats.DrawCalls++
	if call.Mode == driver.Triangles {
		n := count / 3
		if call.Instances > 0 {
			n *= call.Instances
		}
		eng.stats.Triangles += n
	}
}

// Destroy frees every GPU resource the engine holds. The engine must
// not be used afterwards.
func (eng *Engine) Destroy() {
	eng.Bindings.destroyAll()
	eng.States.destroyAll()
	eng.Buffers.destroyAll()
	eng.Textures.destroyAll()
	eng.Multiview.destroy()
}
