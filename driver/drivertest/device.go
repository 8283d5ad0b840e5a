// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package drivertest provides an in-memory driver.Device that records
// every call it receives, for tests that assert exactly which GPU
// operations the core issued. It also mirrors the state a real device
// would hold, so misuse (writes to destroyed handles, out-of-range
// slots) panics in tests instead of corrupting rendering in
// production.
package drivertest

import (
	"fmt"

	"honnef.co/go/safeish"
	"honnef.co/go/trine/driver"
)

// Call is one recorded device call. Slot holds the integer argument of
// attribute- and layer-level calls; Handle holds the primary handle
// argument, when there is one.
type Call struct {
	Method string
	Slot   int
	Handle uint64
}

// BufferWrite is one recorded WriteBuffer payload.
type BufferWrite struct {
	Buf  driver.Buffer
	Off  int
	Data []byte
}

type bufferState struct {
	kind  driver.BufferKind
	usage driver.Usage
	data  []byte
}

type textureState struct {
	desc driver.TextureDesc
	data []byte
}

type attribState struct {
	buf    driver.Buffer
	layout driver.AttribLayout
}

// ContextState is a snapshot of one vertex-state context, used to
// compare the effective GPU state produced by different call
// sequences.
type ContextState struct {
	Enabled  map[int]bool
	Attribs  map[int]driver.AttribLayout
	Buffers  map[int]driver.Buffer
	Divisors map[int]int
	Index    driver.Buffer
}

type context struct {
	enabled  map[int]bool
	attribs  map[int]attribState
	divisors map[int]int
	index    driver.Buffer
}

func newContext() *context {
	return &context{
		enabled:  make(map[int]bool),
		attribs:  make(map[int]attribState),
		divisors: make(map[int]int),
	}
}

var _ driver.Device = (*Device)(nil)

// Device implements driver.Device against in-memory state.
type Device struct {
	// DevCaps is returned by Caps. Tests may adjust it before first
	// use.
	DevCaps driver.Caps

	calls  []Call
	counts map[string]int
	writes []BufferWrite

	nextHandle uint64

	buffers  map[driver.Buffer]*bufferState
	textures map[driver.Texture]*textureState
	samplers map[driver.Sampler]driver.SamplerDesc
	layouts  map[driver.BindGroupLayout][]driver.BindingSlot
	groups   map[driver.BindGroup][]driver.BindingEntry
	targets  map[driver.RenderTarget]driver.TargetDesc
	contexts map[driver.VertexArray]*context

	bound   driver.VertexArray
	program driver.ProgramID
}

func New() *Device {
	d := &Device{
		DevCaps: driver.Caps{
			VertexArrays:      true,
			InstancedArrays:   true,
			NPOT:              true,
			MaxAttributes:     16,
			MaxTextureSize:    2048,
			MaxViews:          4,
			UniformAlignWords: 1,
		},
		counts:   make(map[string]int),
		buffers:  make(map[driver.Buffer]*bufferState),
		textures: make(map[driver.Texture]*textureState),
		samplers: make(map[driver.Sampler]driver.SamplerDesc),
		layouts:  make(map[driver.BindGroupLayout][]driver.BindingSlot),
		groups:   make(map[driver.BindGroup][]driver.BindingEntry),
		targets:  make(map[driver.RenderTarget]driver.TargetDesc),
		contexts: make(map[driver.VertexArray]*context),
	}
	d.contexts[0] = newContext()
	return d
}

func (d *Device) record(c Call) {
	d.calls = append(d.calls, c)
	d.counts[c.Method]++
}

func (d *Device) handle() uint64 {
	d.nextHandle++
	return d.nextHandle
}

// Count returns how many times method has been called since the last
// ResetLog.
func (d *Device) Count(method string) int {
	return d.counts[method]
}

// Calls returns the ordered call log.
func (d *Device) Calls() []Call {
	return d.calls
}

// CallsOf returns the log entries for one method.
func (d *Device) CallsOf(method string) []Call {
	var out []Call
	for _, c := range d.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// ResetLog clears the call log, counters, and captured writes while
// keeping all live handles and state.
func (d *Device) ResetLog() {
	d.calls = nil
	d.counts = make(map[string]int)
	d.writes = nil
}

// Writes returns all captured WriteBuffer payloads.
func (d *Device) Writes() []BufferWrite {
	return d.writes
}

// WritesTo returns the captured writes against one buffer.
func (d *Device) WritesTo(buf driver.Buffer) []BufferWrite {
	var out []BufferWrite
	for _, w := range d.writes {
		if w.Buf == buf {
			out = append(out, w)
		}
	}
	return out
}

// BufferData returns the current contents of buf.
func (d *Device) BufferData(buf driver.Buffer) []byte {
	return d.buffer(buf).data
}

// BufferFloat32s views the contents of buf as float32s.
func (d *Device) BufferFloat32s(buf driver.Buffer) []float32 {
	return safeish.SliceCast[[]float32](d.buffer(buf).data)
}

// TextureDesc returns the descriptor tex was created with.
func (d *Device) TextureDesc(tex driver.Texture) driver.TextureDesc {
	return d.texture(tex).desc
}

// TextureData returns the current texel contents of tex, tightly
// packed rows of layer 0.
func (d *Device) TextureData(tex driver.Texture) []byte {
	return d.texture(tex).data
}

func (d *Device) LiveBuffers() int      { return len(d.buffers) }
func (d *Device) LiveTextures() int     { return len(d.textures) }
func (d *Device) LiveSamplers() int     { return len(d.samplers) }
func (d *Device) LiveBindGroups() int   { return len(d.groups) }
func (d *Device) LiveVertexArrays() int { return len(d.contexts) - 1 }
func (d *Device) LiveTargets() int      { return len(d.targets) }

// State snapshots the vertex-state context va (0 for the default
// context).
func (d *Device) State(va driver.VertexArray) ContextState {
	ctx, ok := d.contexts[va]
	if !ok {
		panic(fmt.Sprintf("drivertest: unknown vertex array %d", va))
	}
	out := ContextState{
		Enabled:  make(map[int]bool),
		Attribs:  make(map[int]driver.AttribLayout),
		Buffers:  make(map[int]driver.Buffer),
		Divisors: make(map[int]int),
		Index:    ctx.index,
	}
	for slot, on := range ctx.enabled {
		if on {
			out.Enabled[slot] = true
		}
	}
	for slot, a := range ctx.attribs {
		out.Attribs[slot] = a.layout
		out.Buffers[slot] = a.buf
	}
	for slot, div := range ctx.divisors {
		out.Divisors[slot] = div
	}
	return out
}

// BoundState snapshots the currently bound context.
func (d *Device) BoundState() ContextState {
	return d.State(d.bound)
}

func (d *Device) buffer(buf driver.Buffer) *bufferState {
	b, ok := d.buffers[buf]
	if !ok {
		panic(fmt.Sprintf("drivertest: unknown or destroyed buffer %d", buf))
	}
	return b
}

func (d *Device) texture(tex driver.Texture) *textureState {
	t, ok := d.textures[tex]
	if !ok {
		panic(fmt.Sprintf("drivertest: unknown or destroyed texture %d", tex))
	}
	return t
}

func (d *Device) current() *context {
	return d.contexts[d.bound]
}

func (d *Device) checkSlot(slot int) {
	if slot < 0 || slot >= d.DevCaps.MaxAttributes {
		panic(fmt.Sprintf("drivertest: attribute slot %d out of range", slot))
	}
}

func (d *Device) Caps() driver.Caps {
	return d.DevCaps
}

func (d *Device) BeginFrame() {
	d.record(Call{Method: "BeginFrame"})
}

func (d *Device) EndFrame() {
	d.record(Call{Method: "EndFrame"})
}

func (d *Device) NewBuffer(kind driver.BufferKind, size int, usage driver.Usage) (driver.Buffer, error) {
	buf := driver.Buffer(d.handle())
	d.buffers[buf] = &bufferState{
		kind:  kind,
		usage: usage,
		data:  make([]byte, size),
	}
	d.record(Call{Method: "NewBuffer", Handle: uint64(buf)})
	return buf, nil
}

func (d *Device) WriteBuffer(buf driver.Buffer, off int, data []byte) {
	b := d.buffer(buf)
	if off < 0 || off+len(data) > len(b.data) {
		panic(fmt.Sprintf("drivertest: write [%d, %d) out of bounds of buffer of size %d", off, off+len(data), len(b.data)))
	}
	copy(b.data[off:], data)
	d.writes = append(d.writes, BufferWrite{
		Buf:  buf,
		Off:  off,
		Data: append([]byte(nil), data...),
	})
	d.record(Call{Method: "WriteBuffer", Handle: uint64(buf)})
}

func (d *Device) DestroyBuffer(buf driver.Buffer) {
	d.buffer(buf)
	delete(d.buffers, buf)
	d.record(Call{Method: "DestroyBuffer", Handle: uint64(buf)})
}

func (d *Device) NewTexture(desc driver.TextureDesc) (driver.Texture, error) {
	if desc.Width > d.DevCaps.MaxTextureSize || desc.Height > d.DevCaps.MaxTextureSize {
		return 0, fmt.Errorf("%w: %dx%d", driver.ErrTextureTooLarge, desc.Width, desc.Height)
	}
	tex := driver.Texture(d.handle())
	d.textures[tex] = &textureState{
		desc: desc,
		data: make([]byte, desc.Width*desc.Height*desc.Format.BytesPerTexel()),
	}
	d.record(Call{Method: "NewTexture", Handle: uint64(tex)})
	return tex, nil
}

func (d *Device) WriteTexture(tex driver.Texture, layer int, region driver.Rect, data []byte) {
	st := d.texture(tex)
	desc := st.desc
	if region.X < 0 || region.Y < 0 || region.X+region.W > desc.Width || region.Y+region.H > desc.Height {
		panic(fmt.Sprintf("drivertest: texture write region %+v out of bounds of %dx%d", region, desc.Width, desc.Height))
	}
	bpt := desc.Format.BytesPerTexel()
	if want := region.W * region.H * bpt; len(data) != want {
		panic(fmt.Sprintf("drivertest: texture write of %d bytes, want %d", len(data), want))
	}
	for row := 0; row < region.H; row++ {
		dst := ((region.Y+row)*desc.Width + region.X) * bpt
		src := row * region.W * bpt
		copy(st.data[dst:dst+region.W*bpt], data[src:src+region.W*bpt])
	}
	d.record(Call{Method: "WriteTexture", Slot: layer, Handle: uint64(tex)})
}

func (d *Device) DestroyTexture(tex driver.Texture) {
	d.texture(tex)
	delete(d.textures, tex)
	d.record(Call{Method: "DestroyTexture", Handle: uint64(tex)})
}

func (d *Device) NewSampler(desc driver.SamplerDesc) (driver.Sampler, error) {
	s := driver.Sampler(d.handle())
	d.samplers[s] = desc
	d.record(Call{Method: "NewSampler", Handle: uint64(s)})
	return s, nil
}

func (d *Device) DestroySampler(s driver.Sampler) {
	if _, ok := d.samplers[s]; !ok {
		panic(fmt.Sprintf("drivertest: unknown or destroyed sampler %d", s))
	}
	delete(d.samplers, s)
	d.record(Call{Method: "DestroySampler", Handle: uint64(s)})
}

func (d *Device) NewVertexArray() (driver.VertexArray, error) {
	if !d.DevCaps.VertexArrays {
		return 0, fmt.Errorf("%w: vertex arrays", driver.ErrUnsupported)
	}
	va := driver.VertexArray(d.handle())
	d.contexts[va] = newContext()
	d.record(Call{Method: "NewVertexArray", Handle: uint64(va)})
	return va, nil
}

func (d *Device) BindVertexArray(va driver.VertexArray) {
	if _, ok := d.contexts[va]; !ok {
		panic(fmt.Sprintf("drivertest: unknown or destroyed vertex array %d", va))
	}
	d.bound = va
	d.record(Call{Method: "BindVertexArray", Handle: uint64(va)})
}

func (d *Device) DestroyVertexArray(va driver.VertexArray) {
	if va == 0 {
		panic("drivertest: cannot destroy the default context")
	}
	if _, ok := d.contexts[va]; !ok {
		panic(fmt.Sprintf("drivertest: unknown or destroyed vertex array %d", va))
	}
	delete(d.contexts, va)
	if d.bound == va {
		d.bound = 0
	}
	d.record(Call{Method: "DestroyVertexArray", Handle: uint64(va)})
}

func (d *Device) EnableAttribute(slot int) {
	d.checkSlot(slot)
	d.current().enabled[slot] = true
	d.record(Call{Method: "EnableAttribute", Slot: slot})
}

func (d *Device) DisableAttribute(slot int) {
	d.checkSlot(slot)
	delete(d.current().enabled, slot)
	d.record(Call{Method: "DisableAttribute", Slot: slot})
}

func (d *Device) SetAttribute(slot int, buf driver.Buffer, layout driver.AttribLayout) {
	d.checkSlot(slot)
	d.buffer(buf)
	d.current().attribs[slot] = attribState{buf: buf, layout: layout}
	d.record(Call{Method: "SetAttribute", Slot: slot, Handle: uint64(buf)})
}

func (d *Device) SetDivisor(slot, divisor int) {
	if !d.DevCaps.InstancedArrays {
		panic("drivertest: SetDivisor without instanced-array support")
	}
	d.checkSlot(slot)
	d.current().divisors[slot] = divisor
	d.record(Call{Method: "SetDivisor", Slot: slot})
}

func (d *Device) BindIndexBuffer(buf driver.Buffer) {
	d.buffer(buf)
	d.current().index = buf
	d.record(Call{Method: "BindIndexBuffer", Handle: uint64(buf)})
}

func (d *Device) NewBindGroupLayout(slots []driver.BindingSlot) (driver.BindGroupLayout, error) {
	l := driver.BindGroupLayout(d.handle())
	d.layouts[l] = append([]driver.BindingSlot(nil), slots...)
	d.record(Call{Method: "NewBindGroupLayout", Handle: uint64(l)})
	return l, nil
}

func (d *Device) DestroyBindGroupLayout(l driver.BindGroupLayout) {
	if _, ok := d.layouts[l]; !ok {
		panic(fmt.Sprintf("drivertest: unknown or destroyed bind group layout %d", l))
	}
	delete(d.layouts, l)
	d.record(Call{Method: "DestroyBindGroupLayout", Handle: uint64(l)})
}

func (d *Device) NewBindGroup(layout driver.BindGroupLayout, entries []driver.BindingEntry) (driver.BindGroup, error) {
	slots, ok := d.layouts[layout]
	if !ok {
		panic(fmt.Sprintf("drivertest: unknown or destroyed bind group layout %d", layout))
	}
	if len(entries) != len(slots) {
		panic(fmt.Sprintf("drivertest: %d bind group entries for a layout of %d slots", len(entries), len(slots)))
	}
	for i, e := range entries {
		slot := slots[i]
		if e.Binding != slot.Binding {
			panic(fmt.Sprintf("drivertest: entry %d binds %d, layout expects %d", i, e.Binding, slot.Binding))
		}
		switch slot.Type {
		case driver.UniformBinding:
			d.buffer(e.Buffer)
		case driver.SamplerBinding:
			if _, ok := d.samplers[e.Sampler]; !ok {
				panic(fmt.Sprintf("drivertest: unknown or destroyed sampler %d", e.Sampler))
			}
		case driver.TextureBinding:
			if _, ok := d.textures[e.Texture]; !ok {
				panic(fmt.Sprintf("drivertest: unknown or destroyed texture %d", e.Texture))
			}
		default:
			panic("unreachable")
		}
	}
	bg := driver.BindGroup(d.handle())
	d.groups[bg] = append([]driver.BindingEntry(nil), entries...)
	d.record(Call{Method: "NewBindGroup", Handle: uint64(bg)})
	return bg, nil
}

func (d *Device) DestroyBindGroup(bg driver.BindGroup) {
	if _, ok := d.groups[bg]; !ok {
		panic(fmt.Sprintf("drivertest: unknown or destroyed bind group %d", bg))
	}
	delete(d.groups, bg)
	d.record(Call{Method: "DestroyBindGroup", Handle: uint64(bg)})
}

func (d *Device) SetBindGroup(index int, bg driver.BindGroup) {
	if _, ok := d.groups[bg]; !ok {
		panic(fmt.Sprintf("drivertest: unknown or destroyed bind group %d", bg))
	}
	d.record(Call{Method: "SetBindGroup", Slot: index, Handle: uint64(bg)})
}

func (d *Device) NewRenderTarget(desc driver.TargetDesc) (driver.RenderTarget, error) {
	if desc.Layers > d.DevCaps.MaxViews {
		return 0, fmt.Errorf("%w: %d layers, device supports %d", driver.ErrUnsupported, desc.Layers, d.DevCaps.MaxViews)
	}
	t := driver.RenderTarget(d.handle())
	d.targets[t] = desc
	d.record(Call{Method: "NewRenderTarget", Handle: uint64(t)})
	return t, nil
}

func (d *Device) DestroyRenderTarget(t driver.RenderTarget) {
	if _, ok := d.targets[t]; !ok {
		panic(fmt.Sprintf("drivertest: unknown or destroyed render target %d", t))
	}
	delete(d.targets, t)
	d.record(Call{Method: "DestroyRenderTarget", Handle: uint64(t)})
}

func (d *Device) SetRenderTarget(t driver.RenderTarget, layer int) {
	if t == 0 {
		if layer != 0 {
			panic(fmt.Sprintf("drivertest: layer %d of the output surface", layer))
		}
	} else {
		desc, ok := d.targets[t]
		if !ok {
			panic(fmt.Sprintf("drivertest: unknown or destroyed render target %d", t))
		}
		if layer < 0 || layer >= max(desc.Layers, 1) {
			panic(fmt.Sprintf("drivertest: layer %d of a target with %d layers", layer, desc.Layers))
		}
	}
	d.record(Call{Method: "SetRenderTarget", Slot: layer, Handle: uint64(t)})
}

func (d *Device) Viewport(r driver.Rect) {
	d.record(Call{Method: "Viewport"})
}

func (d *Device) BlitLayer(src driver.RenderTarget, layer int, dst driver.RenderTarget, to driver.Rect) {
	if _, ok := d.targets[src]; !ok {
		panic(fmt.Sprintf("drivertest: unknown or destroyed render target %d", src))
	}
	if dst != 0 {
		if _, ok := d.targets[dst]; !ok {
			panic(fmt.Sprintf("drivertest: unknown or destroyed render target %d", dst))
		}
	}
	d.record(Call{Method: "BlitLayer", Slot: layer, Handle: uint64(src)})
}

func (d *Device) UseProgram(id driver.ProgramID) {
	d.program = id
	d.record(Call{Method: "UseProgram", Handle: uint64(id)})
}

func (d *Device) Draw(call driver.DrawCall) {
	if call.Indexed && d.current().index == 0 {
		panic("drivertest: indexed draw without a bound index buffer")
	}
	d.record(Call{Method: "Draw"})
}
