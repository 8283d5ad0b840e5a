// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package engine

import (
	"fmt"

	"honnef.co/go/safeish"
	"honnef.co/go/trine/driver"
	"honnef.co/go/trine/geom"
	"honnef.co/go/trine/gfx"
)

// never is the frame stamp of a group that has not been updated yet.
// Frame numbers count up from 1, so this can never collide.
const never = ^uint64(0)

// groupRecord backs one uniforms group with a GPU buffer. Records are
// engine-wide: every binding set referencing a group shares its record
// and refcounts it, which is what makes shared groups update once per
// frame.
type groupRecord struct {
	group *gfx.UniformsGroup
	buf   driver.Buffer
	back  []float32
	size  int
	last  uint64
	refs  int
}

// BindingSet is the composed GPU binding state of one drawable: a
// bind-group layout derived from its program's declarations and a bind
// group built from the current resource handles. The layout is built
// once; the group is rebuilt whenever a handle changes identity.
type BindingSet struct {
	ob      geom.ID
	mat     *gfx.Material
	prog    *gfx.Program
	layout  driver.BindGroupLayout
	group   driver.BindGroup
	groups  []*groupRecord
	entries []driver.BindingEntry
	dirty   bool
}

// Group returns the current bind group to bind for a draw.
func (set *BindingSet) Group() driver.BindGroup {
	return set.group
}

// Bindings composes uniform buffers, textures, and samplers into bind
// groups, one set per drawable.
type Bindings struct {
	eng      *Engine
	sets     map[geom.ID]*BindingSet
	groups   map[geom.ID]*groupRecord
	provided map[string]*gfx.UniformsGroup
}

func newBindings(eng *Engine) *Bindings {
	return &Bindings{
		eng:      eng,
		sets:     make(map[geom.ID]*BindingSet),
		groups:   make(map[geom.ID]*groupRecord),
		provided: make(map[string]*gfx.UniformsGroup),
	}
}

// Provide registers a renderer-level uniforms group that programs may
// declare without every material carrying it, the usual home of
// shared camera and lighting groups. A material group with the same
// name wins.
func (bs *Bindings) Provide(grp *gfx.UniformsGroup) {
	bs.provided[grp.Name] = grp
}

// Get returns the drawable's binding set, composing it on first use.
func (bs *Bindings) Get(ob Drawable) (*BindingSet, error) {
	if set := bs.sets[ob.ID()]; set != nil {
		return set, nil
	}
	mat := ob.Material()
	prog := mat.Program
	decls := prog.Bindings()
	set := &BindingSet{
		ob:      ob.ID(),
		mat:     mat,
		prog:    prog,
		groups:  make([]*groupRecord, len(decls)),
		entries: make([]driver.BindingEntry, len(decls)),
	}
	slots := make([]driver.BindingSlot, len(decls))
	for i, decl := range decls {
		switch decl.Kind {
		case gfx.GroupBinding:
			grp := mat.Group(decl.Name)
			if grp == nil {
				grp = bs.provided[decl.Name]
			}
			if grp == nil {
				return nil, fmt.Errorf("engine: program %q declares uniforms group %q, provided by neither material nor renderer", prog.Name, decl.Name)
			}
			rec, err := bs.acquire(grp)
			if err != nil {
				return nil, err
			}
			set.groups[i] = rec
			slots[i] = driver.BindingSlot{
				Binding:    decl.Binding,
				Type:       driver.UniformBinding,
				Visibility: grp.Visibility,
			}
			set.entries[i] = driver.BindingEntry{
				Binding: decl.Binding,
				Buffer:  rec.buf,
				Size:    rec.size,
			}
		case gfx.TextureBinding:
			tex, _ := mat.ResolveTexture(decl.Name)
			handle, err := bs.eng.Textures.GetOrCreate(tex)
			if err != nil {
				return nil, err
			}
			slots[i] = driver.BindingSlot{
				Binding:    decl.Binding,
				Type:       driver.TextureBinding,
				Visibility: declVisibility(decl),
			}
			set.entries[i] = driver.BindingEntry{Binding: decl.Binding, Texture: handle}
		case gfx.SamplerBinding:
			tex, _ := mat.ResolveTexture(decl.Name)
			handle, err := bs.eng.Textures.UpdateSampler(tex)
			if err != nil {
				return nil, err
			}
			slots[i] = driver.BindingSlot{
				Binding:    decl.Binding,
				Type:       driver.SamplerBinding,
				Visibility: declVisibility(decl),
			}
			set.entries[i] = driver.BindingEntry{Binding: decl.Binding, Sampler: handle}
		default:
			panic("unreachable")
		}
	}

	layout, err := bs.eng.Device.NewBindGroupLayout(slots)
	if err != nil {
		return nil, fmt.Errorf("creating bind group layout for program %q: %w", prog.Name, err)
	}
	group, err := bs.eng.Device.NewBindGroup(layout, set.entries)
	if err != nil {
		return nil, fmt.Errorf("creating bind group for program %q: %w", prog.Name, err)
	}
	set.layout = layout
	set.group = group
	bs.sets[ob.ID()] = set
	return set, nil
}

func declVisibility(decl gfx.BindingDecl) driver.Stage {
	if decl.Visibility == 0 {
		return driver.StageFragment
	}
	return decl.Visibility
}

func (bs *Bindings) acquire(grp *gfx.UniformsGroup) (*groupRecord, error) {
	if rec := bs.groups[grp.ID()]; rec != nil {
		rec.refs++
		return rec, nil
	}
	words := padWords(grp.Words(), bs.eng.caps.UniformAlignWords)
	buf, err := bs.eng.Device.NewBuffer(driver.UniformBuffer, words*4, driver.DynamicDraw)
	if err != nil {
		return nil, fmt.Errorf("allocating uniform buffer for group %q: %w", grp.Name, err)
	}
	rec := &groupRecord{
		group: grp,
		buf:   buf,
		back:  make([]float32, words),
		size:  words * 4,
		last:  never,
		refs:  1,
	}
	bs.groups[grp.ID()] = rec
	return rec, nil
}

// padWords rounds n up to the device's uniform size alignment.
func padWords(n, align int) int {
	if align <= 1 {
		return n
	}
	if rem := n % align; rem != 0 {
		n += align - rem
	}
	return n
}

// Update brings the drawable's binding set up to date for this frame:
// uniforms groups run their update callbacks (shared groups at most
// once per frame) and write their backing arrays on change, texture
// and sampler bindings are re-resolved and compared by handle
// identity. Any identity change rebuilds the bind group against the
// existing layout.
func (bs *Bindings) Update(ob Drawable, cam Camera) (*BindingSet, error) {
	set, err := bs.Get(ob)
	if err != nil {
		return nil, err
	}
	st := bs.eng.DrawState(ob, cam)
	frame := bs.eng.frame
	for i, decl := range set.prog.Bindings() {
		switch decl.Kind {
		case gfx.GroupBinding:
			rec := set.groups[i]
			if rec.group.Shared && rec.last == frame {
				continue
			}
			if rec.group.Update != nil && rec.group.Update(rec.back, st) {
				bs.eng.Device.WriteBuffer(rec.buf, 0, safeish.SliceCast[[]byte](rec.back))
				bs.eng.stats.GroupUpdates++
			}
			rec.last = frame
		case gfx.TextureBinding:
			tex, _ := set.mat.ResolveTexture(decl.Name)
			handle, err := bs.eng.Textures.GetOrCreate(tex)
			if err != nil {
				return nil, err
			}
			if set.entries[i].Texture != handle {
				set.entries[i].Texture = handle
				set.dirty = true
			}
		case gfx.SamplerBinding:
			tex, _ := set.mat.ResolveTexture(decl.Name)
			handle, err := bs.eng.Textures.UpdateSampler(tex)
			if err != nil {
				return nil, err
			}
			if set.entries[i].Sampler != handle {
				set.entries[i].Sampler = handle
				set.dirty = true
			}
		}
	}
	if set.dirty {
		bs.eng.Device.DestroyBindGroup(set.group)
		group, err := bs.eng.Device.NewBindGroup(set.layout, set.entries)
		if err != nil {
			return nil, fmt.Errorf("rebuilding bind group for program %q: %w", set.prog.Name, err)
		}
		set.group = group
		set.dirty = false
		bs.eng.stats.BindGroupRebuilds++
	}
	return set, nil
}

// Dispose releases the drawable's binding set and the group records it
// references. Group buffers are freed when their last referencing set
// goes.
func (bs *Bindings) Dispose(ob Drawable) {
	set := bs.sets[ob.ID()]
	if set == nil {
		return
	}
	bs.release(set)
	delete(bs.sets, ob.ID())
}

// DisposeMaterial releases every binding set composed from mat.
func (bs *Bindings) DisposeMaterial(mat *gfx.Material) {
	for id, set := range bs.sets {
		if set.mat != mat {
			continue
		}
		bs.release(set)
		delete(bs.sets, id)
	}
}

func (bs *Bindings) release(set *BindingSet) {
	for _, rec := range set.groups {
		if rec == nil {
			continue
		}
		rec.refs--
		if rec.refs == 0 {
			bs.eng.Device.DestroyBuffer(rec.buf)
			delete(bs.groups, rec.group.ID())
		}
	}
	bs.eng.Device.DestroyBindGroup(set.group)
	bs.eng.Device.DestroyBindGroupLayout(set.layout)
}

func (bs *Bindings) destroyAll() {
	for id, set := range bs.sets {
		bs.release(set)
		delete(bs.sets, id)
	}
}
