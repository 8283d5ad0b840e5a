// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package trine

import (
	"honnef.co/go/trine/driver"
	"honnef.co/go/trine/engine"
	"honnef.co/go/trine/geom"
	"honnef.co/go/trine/gfx"
	"honnef.co/go/trine/mem"
	"honnef.co/go/trine/profiler"
)

type RendererOptions struct {
	// Profiler receives per-frame timing spans. Nil disables
	// profiling.
	Profiler profiler.Profiler
}

// Renderer drives the engine's caches through whole frames: it builds
// a draw order, runs the four per-drawable steps, and routes output to
// the surface or to a layered target for multi-view cameras.
type Renderer struct {
	eng   *engine.Engine
	arena *mem.Arena
	prof  profiler.Profiler

	// prog is the program selected on the device, zero at the start
	// of each frame.
	prog driver.ProgramID
}

func New(dev driver.Device, options RendererOptions) *Renderer {
	prof := options.Profiler
	if prof == nil {
		prof = profiler.Nop()
	}
	return &Renderer{
		eng:   engine.New(dev),
		arena: mem.NewArena(),
		prof:  prof,
	}
}

func (r *Renderer) Caps() driver.Caps {
	return r.eng.Caps()
}

// Stats returns the counters of the most recently finished frame and
// the current live-resource gauges.
func (r *Renderer) Stats() Stats {
	return r.eng.Stats()
}

// ProvideGroup registers a renderer-level uniforms group, the usual
// home of camera and lighting blocks that programs declare without
// each material carrying them.
func (r *Renderer) ProvideGroup(grp *gfx.UniformsGroup) {
	r.eng.Bindings.Provide(grp)
}

// BeginFrame starts a frame: the frame arena and cached program reset
// and the engine's frame counter advances. Render brackets itself;
// callers driving the four steps directly bracket them with BeginFrame
// and EndFrame.
func (r *Renderer) BeginFrame() {
	r.arena.Reset()
	r.prog = 0
	r.eng.BeginFrame()
}

// EndFrame restores default binding state and closes the frame.
func (r *Renderer) EndFrame() {
	r.eng.States.Unbind()
	r.eng.EndFrame()
}

// Render draws objects from cam's point of view. Invisible objects are
// skipped, opaque ones draw sorted by program and geometry, transparent
// ones after them in the given order. Cameras with multiple views
// render once per view into a layered target that is then blitted to
// the surface.
func (r *Renderer) Render(objects []Object, cam Camera) error {
	r.BeginFrame()
	defer r.EndFrame()
	frame := r.prof.Frame(r.eng.Frame())
	defer frame.End()

	list := buildRenderList(r.arena, objects)
	views := r.eng.Multiview.ViewsOf(cam)
	if len(views) > 1 {
		return r.renderLayered(frame, list, views)
	}

	r.eng.Device.SetRenderTarget(0, 0)
	v := views[0]
	if v.Viewport != (driver.Rect{}) {
		r.eng.Device.Viewport(v.Viewport)
	}
	return r.drawList(frame, list, v.Camera)
}

func (r *Renderer) renderLayered(frame profiler.Group, list renderList, views []engine.View) error {
	w, h := viewExtent(views)
	if _, err := r.eng.Multiview.Ensure(len(views), w, h); err != nil {
		return err
	}
	for layer, v := range views {
		span := frame.Nest("view")
		r.eng.Device.SetRenderTarget(r.eng.Multiview.Target(), layer)
		err := r.drawList(span, list, v.Camera)
		span.End()
		if err != nil {
			return err
		}
	}
	r.eng.Multiview.Flush(0, views)
	return nil
}

func (r *Renderer) drawList(span profiler.Group, list renderList, cam Camera) error {
	draw := span.Nest("draw")
	defer draw.End()
	for ob := range list.items() {
		if err := r.EnsureBuffersCurrent(ob); err != nil {
			return err
		}
		if err := r.BindAttributes(ob.Material(), ob.Geometry()); err != nil {
			return err
		}
		if err := r.SyncBindings(ob, cam); err != nil {
			return err
		}
		r.Draw(ob)
	}
	return nil
}

// viewExtent returns the layer size covering every view's destination
// region.
func viewExtent(views []engine.View) (w, h int) {
	for _, v := range views {
		w = max(w, v.Viewport.W)
		h = max(h, v.Viewport.H)
	}
	return max(w, 1), max(h, 1)
}

// EnsureBuffersCurrent is step one of a draw: it brings the GPU copies
// of the geometry's index and vertex buffers up to date.
func (r *Renderer) EnsureBuffersCurrent(ob Object) error {
	g := ob.Geometry()
	if idx := g.Index(); idx != nil {
		if _, err := r.eng.Buffers.Retain(idx, driver.IndexBuffer); err != nil {
			return err
		}
	}
	for _, name := range g.Names() {
		if _, err := r.eng.Buffers.Retain(g.Attribute(name), driver.VertexBuffer); err != nil {
			return err
		}
	}
	return nil
}

// BindAttributes is step two: it selects the binding state for the
// (program, geometry) pair, routes the program's attributes to the
// geometry's buffers, and disables leftover slots. The shading program
// switches here when it differs from the previous draw's.
func (r *Renderer) BindAttributes(mat *gfx.Material, g *geom.Geometry) error {
	if id := mat.Program.ID(); r.prog != id {
		r.eng.Device.UseProgram(id)
		r.prog = id
	}
	sts := r.eng.States
	if _, err := sts.Bind(mat.Program, g); err != nil {
		return err
	}
	sts.InitAttributes()
	for _, as := range mat.Program.Attributes() {
		attr := g.Attribute(as.Name)
		if attr == nil {
			continue
		}
		sts.EnableAttribute(as.Slot, attr, r.eng.Buffers.Get(attr.Buffer()))
	}
	if idx := g.Index(); idx != nil {
		sts.EnableIndex(r.eng.Buffers.Get(idx.Buffer()))
	}
	sts.DisableUnusedAttributes()
	return nil
}

// SyncBindings is step three: it refreshes the drawable's uniforms,
// textures, and samplers, rebuilds its bind group if any handle
// changed, and binds the group for the draw.
func (r *Renderer) SyncBindings(ob Object, cam Camera) error {
	set, err := r.eng.Bindings.Update(ob, cam)
	if err != nil {
		return err
	}
	r.eng.Device.SetBindGroup(0, set.Group())
	return nil
}

// Draw is step four: it submits the draw call assembled from the
// geometry and material.
func (r *Renderer) Draw(ob Object) {
	r.eng.Draw(ob)
}

// ReleaseGeometry drops the GPU resources backing g: each attribute's
// hold on its buffer and every binding state built from g. Calling it
// for a geometry that never rendered is a no-op.
func (r *Renderer) ReleaseGeometry(g *geom.Geometry) {
	for _, name := range g.Names() {
		r.eng.Buffers.Release(g.Attribute(name))
	}
	if idx := g.Index(); idx != nil {
		r.eng.Buffers.Release(idx)
	}
	r.eng.States.DisposeGeometry(g)
}

// ReleaseTexture frees the GPU texture and sampler cached for t.
func (r *Renderer) ReleaseTexture(t *gfx.Texture) {
	r.eng.Textures.Release(t)
}

// Dispose frees what a retired (material, geometry) pairing held: the
// binding sets of every drawable using mat and the GPU resources of g.
func (r *Renderer) Dispose(mat *gfx.Material, g *geom.Geometry) {
	r.eng.Bindings.DisposeMaterial(mat)
	r.ReleaseGeometry(g)
}

// DisposeObject releases ob's composed binding set. Its geometry and
// material stay cached for other drawables.
func (r *Renderer) DisposeObject(ob Object) {
	r.eng.Bindings.Dispose(ob)
}

// Destroy frees every GPU resource the renderer holds.
func (r *Renderer) Destroy() {
	r.eng.Destroy()
}
