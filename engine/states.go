// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package engine

import (
	"fmt"

	"honnef.co/go/trine/driver"
	"honnef.co/go/trine/geom"
	"honnef.co/go/trine/gfx"
)

type attribRecord struct {
	buf     driver.Buffer
	layout  driver.AttribLayout
	divisor int
}

// BindingState mirrors the attribute state of one vertex-array
// context. On the fast path there is one per (program, geometry) pair,
// each backed by its own hardware context; on the slow path a single
// state mirrors the default context and every decision is re-derived
// per draw. Either way the device state each draw sees is the same.
type BindingState struct {
	va      driver.VertexArray
	enabled []bool
	used    []bool
	attribs []attribRecord
	index   driver.Buffer
}

func newBindingState(va driver.VertexArray, slots int) *BindingState {
	return &BindingState{
		va:      va,
		enabled: make([]bool, slots),
		used:    make([]bool, slots),
		attribs: make([]attribRecord, slots),
	}
}

type stateKey struct {
	prog driver.ProgramID
	geom geom.ID
}

// BindingStates decides, per draw, which attribute calls actually
// reach the device. Enable calls are issued only on flag transitions,
// pointer binds only when the descriptor differs from the cached one,
// and divisor calls only on change.
type BindingStates struct {
	eng    *Engine
	fast   bool
	states map[stateKey]*BindingState
	def    *BindingState
	active *BindingState
}

func newBindingStates(eng *Engine) *BindingStates {
	def := newBindingState(0, eng.caps.MaxAttributes)
	return &BindingStates{
		eng:    eng,
		fast:   eng.caps.VertexArrays,
		states: make(map[stateKey]*BindingState),
		def:    def,
		active: def,
	}
}

// Bind makes the state for (prog, g) active, lazily creating its
// hardware context on the fast path. The context switch is issued only
// when the active state actually changes. Without vertex-array support
// the shared default state is used and no switch is ever issued.
func (sts *BindingStates) Bind(prog *gfx.Program, g *geom.Geometry) (*BindingState, error) {
	if !sts.fast {
		sts.active = sts.def
		return sts.def, nil
	}
	key := stateKey{prog.ID(), g.ID()}
	st := sts.states[key]
	if st == nil {
		va, err := sts.eng.Device.NewVertexArray()
		if err != nil {
			return nil, fmt.Errorf("creating vertex array: %w", err)
		}
		st = newBindingState(va, sts.eng.caps.MaxAttributes)
		sts.states[key] = st
	}
	if sts.active != st {
		sts.eng.Device.BindVertexArray(st.va)
		sts.active = st
	}
	return st, nil
}

// InitAttributes clears the per-draw used flags. Call before the
// draw's enables.
func (sts *BindingStates) InitAttributes() {
	used := sts.active.used
	for i := range used {
		used[i] = false
	}
}

// EnableAttribute routes one attribute to a shader slot. buf must be
// the current GPU handle of the attribute's underlying buffer.
func (sts *BindingStates) EnableAttribute(slot int, attr *geom.Attribute, buf driver.Buffer) {
	st := sts.active
	if slot < 0 || slot >= len(st.enabled) {
		panic(fmt.Sprintf("engine: attribute slot %d out of range, device supports %d", slot, len(st.enabled)))
	}
	st.used[slot] = true
	if !st.enabled[slot] {
		sts.eng.Device.EnableAttribute(slot)
		st.enabled[slot] = true
	}
	rec := &st.attribs[slot]
	if sts.eng.caps.InstancedArrays && rec.divisor != attr.Divisor {
		sts.eng.Device.SetDivisor(slot, attr.Divisor)
		rec.divisor = attr.Divisor
	}
	layout := driver.AttribLayout{
		Size:       attr.ItemSize,
		Type:       attr.Buffer().Type(),
		Normalized: attr.Normalized,
		Stride:     attr.ByteStride(),
		Offset:     attr.ByteOffset(),
	}
	if rec.buf != buf || rec.layout != layout {
		sts.eng.Device.SetAttribute(slot, buf, layout)
		rec.buf = buf
		rec.layout = layout
	}
}

// EnableIndex binds the index buffer, skipping the call when it is
// already bound in the active context.
func (sts *BindingStates) EnableIndex(buf driver.Buffer) {
	st := sts.active
	if st.index != buf {
		sts.eng.Device.BindIndexBuffer(buf)
		st.index = buf
	}
}

// DisableUnusedAttributes disables every slot that is enabled but was
// not used by this draw. Call after all of the draw's enables; this
// keeps slots from a previous draw's larger layout from leaking into
// this one.
func (sts *BindingStates) DisableUnusedAttributes() {
	st := sts.active
	for slot, on := range st.enabled {
		if on && !st.used[slot] {
			sts.eng.Device.DisableAttribute(slot)
			st.enabled[slot] = false
		}
	}
}

// Unbind restores the default context. Call at the end of a frame so
// code outside the engine cannot mutate a cached context by accident.
func (sts *BindingStates) Unbind() {
	if sts.active != sts.def {
		sts.eng.Device.BindVertexArray(0)
		sts.active = sts.def
	}
}

// DisposeGeometry drops every binding state of g, destroying the
// hardware contexts.
func (sts *BindingStates) DisposeGeometry(g *geom.Geometry) {
	for key, st := range sts.states {
		if key.geom != g.ID() {
			continue
		}
		sts.release(key, st)
	}
}

// DisposeProgram drops every binding state of prog.
func (sts *BindingStates) DisposeProgram(prog *gfx.Program) {
	for key, st := range sts.states {
		if key.prog != prog.ID() {
			continue
		}
		sts.release(key, st)
	}
}

func (sts *BindingStates) release(key stateKey, st *BindingState) {
	if sts.active == st {
		// Destroying the bound context falls back to the default one.
		sts.active = sts.def
	}
	sts.eng.Device.DestroyVertexArray(st.va)
	delete(sts.states, key)
}

func (sts *BindingStates) destroyAll() {
	for key, st := range sts.states {
		sts.release(key, st)
	}
}
