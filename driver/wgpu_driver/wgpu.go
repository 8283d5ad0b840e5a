// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package wgpu_driver implements the driver interface on top of wgpu.
//
// The device records draws into lazily opened render passes, one per
// render-target switch, and submits them at the end of the frame.
// Vertex-array contexts are kept CPU-side and materialized into
// cached render pipelines at draw time, since wgpu bakes vertex
// layouts into pipeline state.
package wgpu_driver

import (
	"fmt"
	"math"
	"math/bits"

	"honnef.co/go/safeish"
	"honnef.co/go/trine/driver"
	"honnef.co/go/trine/mem"
	"honnef.co/go/wgpu"
)

const (
	maxAttribs    = 16
	maxBindGroups = 4
)

type bufferProperties struct {
	size   uint64
	usages wgpu.BufferUsage
}

// resourcePool recycles buffers by size class and usage, so
// frame-churned allocations hit the pool instead of the device.
type resourcePool struct {
	bufs map[bufferProperties][]*wgpu.Buffer
}

func (pool *resourcePool) getBuf(
	size uint64,
	name string,
	usage wgpu.BufferUsage,
	dev *wgpu.Device,
) *wgpu.Buffer {
	const sizeClassBits = 1

	roundedSize := poolSizeClass(size, sizeClassBits)
	props := bufferProperties{
		size:   roundedSize,
		usages: usage,
	}
	if bufVec, ok := pool.bufs[props]; ok {
		if len(bufVec) > 0 {
			buf := bufVec[len(bufVec)-1]
			bufVec = bufVec[:len(bufVec)-1]
			pool.bufs[props] = bufVec
			return buf
		}
	}
	return dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: name,
		Size:  roundedSize,
		Usage: usage,
	})
}

func (pool *resourcePool) put(buf *wgpu.Buffer) {
	props := bufferProperties{
		size:   buf.Size(),
		usages: buf.Usage(),
	}
	pool.bufs[props] = append(pool.bufs[props], buf)
}

func (pool *resourcePool) release() {
	for _, bufs := range pool.bufs {
		for _, buf := range bufs {
			buf.Release()
		}
	}
	clear(pool.bufs)
}

func poolSizeClass(x uint64, numBits uint32) uint64 {
	if x > 1<<numBits {
		a := bits.LeadingZeros64(x - 1)
		b := (x - 1) | (((math.MaxUint64 / 2) >> numBits) >> a)
		return b + 1
	} else {
		return 1 << numBits
	}
}

// ProgramDesc describes a shading program for registration. Layouts
// must name bind-group layouts created on the same device, in set
// order.
type ProgramDesc struct {
	Label         string
	WGSL          []byte
	VertexEntry   string
	FragmentEntry string
	Layouts       []driver.BindGroupLayout
}

type program struct {
	label   string
	module  *wgpu.ShaderModule
	layout  *wgpu.PipelineLayout
	vsEntry string
	fsEntry string
}

type attribKey struct {
	used    bool
	layout  driver.AttribLayout
	divisor int
}

type pipelineKey struct {
	prog    driver.ProgramID
	mode    driver.PrimMode
	format  wgpu.TextureFormat
	depth   bool
	strip   option[wgpu.IndexFormat]
	attribs [maxAttribs]attribKey
}

type attribSlot struct {
	enabled bool
	buf     driver.Buffer
	layout  driver.AttribLayout
	divisor int
}

// vertexState is one emulated vertex-array context.
type vertexState struct {
	attribs [maxAttribs]attribSlot
	index   driver.Buffer
}

type textureRecord struct {
	tex    *wgpu.Texture
	view   *wgpu.TextureView
	format wgpu.TextureFormat
}

type bindGroupRecord struct {
	bg *wgpu.BindGroup
	// resources referenced by the group, for write-after-read
	// tracking
	bufs []driver.Buffer
	texs []driver.Texture
}

type targetRecord struct {
	color      *wgpu.Texture
	layerViews []*wgpu.TextureView
	arrayView  *wgpu.TextureView
	depth      *wgpu.Texture
	depthViews []*wgpu.TextureView
	format     wgpu.TextureFormat
	layers     int
}

type targetLayer struct {
	target driver.RenderTarget
	layer  int
}

// applied tracks what the open render pass has already been told, so
// consecutive draws only re-set what changed.
type appliedState struct {
	pipeline *wgpu.RenderPipeline
	groups   [maxBindGroups]driver.BindGroup
	vbufs    [maxAttribs]driver.Buffer
	ibuf     driver.Buffer
	ifmt     wgpu.IndexFormat
}

type Device struct {
	dev   *wgpu.Device
	queue *wgpu.Queue
	caps  driver.Caps
	arena *mem.Arena

	surfaceFormat wgpu.TextureFormat
	canvas        *canvas
	blit          *blitPipeline

	pool      resourcePool
	buffers   map[driver.Buffer]*wgpu.Buffer
	textures  map[driver.Texture]textureRecord
	samplers  map[driver.Sampler]*wgpu.Sampler
	varrays   map[driver.VertexArray]*vertexState
	layouts   map[driver.BindGroupLayout]*wgpu.BindGroupLayout
	groups    map[driver.BindGroup]*bindGroupRecord
	targets   map[driver.RenderTarget]*targetRecord
	programs  []program
	pipelines map[pipelineKey]*wgpu.RenderPipeline
	next      uint64

	frame     uint64
	encoder   *wgpu.CommandEncoder
	rpass     *wgpu.RenderPassEncoder
	applied   appliedState
	cleared   map[targetLayer]struct{}
	viewport  option[driver.Rect]
	curTarget driver.RenderTarget
	curLayer  int

	defState vertexState
	cur      *vertexState
	curVA    driver.VertexArray
	prog     driver.ProgramID
	bound    [maxBindGroups]driver.BindGroup

	// buffers read by commands recorded since the last submit. A
	// write to one of these forces a submit first, because queue
	// writes land before any not-yet-submitted command.
	pendingBufs map[driver.Buffer]struct{}
	pendingTexs map[driver.Texture]struct{}
	blitBufs    []*wgpu.Buffer

	profiler *Profiler
	pgroup   *ProfilerGroup
}

var _ driver.Device = (*Device)(nil)

func New(dev *wgpu.Device, queue *wgpu.Queue, options Options) *Device {
	maxViews := options.MaxViews
	if maxViews == 0 {
		maxViews = 4
	}
	d := &Device{
		dev:           dev,
		queue:         queue,
		arena:         mem.NewArena(),
		surfaceFormat: options.SurfaceFormat,
		pool: resourcePool{
			bufs: make(map[bufferProperties][]*wgpu.Buffer),
		},
		buffers:     make(map[driver.Buffer]*wgpu.Buffer),
		textures:    make(map[driver.Texture]textureRecord),
		samplers:    make(map[driver.Sampler]*wgpu.Sampler),
		varrays:     make(map[driver.VertexArray]*vertexState),
		layouts:     make(map[driver.BindGroupLayout]*wgpu.BindGroupLayout),
		groups:      make(map[driver.BindGroup]*bindGroupRecord),
		targets:     make(map[driver.RenderTarget]*targetRecord),
		programs:    make([]program, 1),
		pipelines:   make(map[pipelineKey]*wgpu.RenderPipeline),
		cleared:     make(map[targetLayer]struct{}),
		pendingBufs: make(map[driver.Buffer]struct{}),
		pendingTexs: make(map[driver.Texture]struct{}),
		profiler:    options.Profiler,
		caps: driver.Caps{
			VertexArrays:      true,
			InstancedArrays:   true,
			NPOT:              true,
			MaxAttributes:     maxAttribs,
			MaxTextureSize:    8192,
			MaxViews:          maxViews,
			UniformAlignWords: 4,
		},
	}
	d.cur = &d.defState
	d.canvas = newCanvas(dev, options.SurfaceFormat, options.Width, options.Height)
	d.blit = newBlitPipeline(dev, options.SurfaceFormat)
	return d
}

func (d *Device) Caps() driver.Caps {
	return d.caps
}

// RegisterProgram compiles a WGSL module into a program the core can
// select with UseProgram. Entry points default to vs_main and
// fs_main.
func (d *Device) RegisterProgram(desc ProgramDesc) driver.ProgramID {
	module := d.dev.CreateShaderModule(wgpu.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: wgpu.ShaderSourceWGSL(desc.WGSL),
	})
	layouts := make([]*wgpu.BindGroupLayout, len(desc.Layouts))
	for i, l := range desc.Layouts {
		layouts[i] = d.layouts[l]
	}
	layout := d.dev.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            desc.Label,
		BindGroupLayouts: layouts,
	})
	vs := desc.VertexEntry
	if vs == "" {
		vs = "vs_main"
	}
	fs := desc.FragmentEntry
	if fs == "" {
		fs = "fs_main"
	}
	id := driver.ProgramID(len(d.programs))
	d.programs = append(d.programs, program{
		label:   desc.Label,
		module:  module,
		layout:  layout,
		vsEntry: vs,
		fsEntry: fs,
	})
	return id
}

func (d *Device) handle() uint64 {
	d.next++
	return d.next
}

func (d *Device) BeginFrame() {
	d.arena.Reset()
	d.frame++
	d.pgroup = d.profiler.Start(d.frame)
	clear(d.cleared)
	d.viewport.clear()
	d.curTarget = 0
	d.curLayer = 0
	d.prog = 0
	d.bound = [maxBindGroups]driver.BindGroup{}
}

func (d *Device) EndFrame() {
	d.closePass()
	if d.profiler != nil {
		d.profiler.Resolve(d.ensureEncoder())
	}
	d.flush()
	d.profiler.Map()
	d.pgroup.End()
	d.pgroup = nil
}

func (d *Device) ensureEncoder() *wgpu.CommandEncoder {
	if d.encoder == nil {
		d.encoder = d.dev.CreateCommandEncoder(mem.Make(d.arena, wgpu.CommandEncoderDescriptor{Label: "frame"}))
	}
	return d.encoder
}

// flush submits everything recorded so far. Afterwards queue writes
// are ordered after the submitted commands again.
func (d *Device) flush() {
	d.closePass()
	if d.encoder != nil {
		cmd := d.encoder.Finish(nil)
		d.encoder.Release()
		d.encoder = nil
		d.queue.Submit(cmd)
		cmd.Release()
	}
	for _, buf := range d.blitBufs {
		d.pool.put(buf)
	}
	d.blitBufs = d.blitBufs[:0]
	clear(d.pendingBufs)
	clear(d.pendingTexs)
}

func (d *Device) closePass() {
	if d.rpass == nil {
		return
	}
	d.rpass.End()
	d.rpass.Release()
	d.rpass = nil
	d.applied = appliedState{}
}

// attachment returns the color view, format, and optional depth view
// of the current render target.
func (d *Device) attachment() (*wgpu.TextureView, wgpu.TextureFormat, *wgpu.TextureView) {
	if d.curTarget == 0 {
		return d.canvas.view, d.surfaceFormat, nil
	}
	rec, ok := d.targets[d.curTarget]
	if !ok {
		panic(fmt.Sprintf("wgpu: unknown or destroyed render target %d", d.curTarget))
	}
	var depth *wgpu.TextureView
	if rec.depthViews != nil {
		depth = rec.depthViews[d.curLayer]
	}
	return rec.layerViews[d.curLayer], rec.format, depth
}

// loadOp clears a layer on its first pass of the frame and loads it
// afterwards.
func (d *Device) loadOp(t driver.RenderTarget, layer int) wgpu.LoadOp {
	key := targetLayer{t, layer}
	if _, ok := d.cleared[key]; ok {
		return wgpu.LoadOpLoad
	}
	d.cleared[key] = struct{}{}
	return wgpu.LoadOpClear
}

func (d *Device) pass() *wgpu.RenderPassEncoder {
	if d.rpass != nil {
		return d.rpass
	}
	enc := d.ensureEncoder()
	view, _, depthView := d.attachment()
	desc := wgpu.RenderPassDescriptor{
		ColorAttachments: mem.Varargs(d.arena, wgpu.RenderPassColorAttachment{
			View:       view,
			LoadOp:     d.loadOp(d.curTarget, d.curLayer),
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{},
		}),
		TimestampWrites: d.pgroup.Render(d.arena, "pass"),
	}
	if depthView != nil {
		desc.DepthStencilAttachment = mem.Make(d.arena, wgpu.RenderPassDepthStencilAttachment{
			View:            depthView,
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    wgpu.StoreOpStore,
			DepthClearValue: 1,
		})
	}
	d.rpass = enc.BeginRenderPass(mem.Make(d.arena, desc))
	if d.viewport.isSet {
		r := d.viewport.value
		d.rpass.SetViewport(float32(r.X), float32(r.Y), float32(r.W), float32(r.H), 0, 1)
	}
	return d.rpass
}

func (d *Device) NewBuffer(kind driver.BufferKind, size int, usage driver.Usage) (driver.Buffer, error) {
	var usages wgpu.BufferUsage
	switch kind {
	case driver.VertexBuffer:
		usages = wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst
	case driver.IndexBuffer:
		usages = wgpu.BufferUsageIndex | wgpu.BufferUsageCopyDst
	case driver.UniformBuffer:
		usages = wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst
	default:
		panic("unreachable")
	}
	buf := d.pool.getBuf(uint64(size), kind.String(), usages, d.dev)
	h := driver.Buffer(d.handle())
	d.buffers[h] = buf
	return h, nil
}

func (d *Device) WriteBuffer(buf driver.Buffer, off int, data []byte) {
	if _, ok := d.pendingBufs[buf]; ok {
		d.flush()
	}
	d.queue.WriteBuffer(d.buffer(buf), uint64(off), data)
}

func (d *Device) DestroyBuffer(buf driver.Buffer) {
	if _, ok := d.pendingBufs[buf]; ok {
		d.flush()
	}
	d.pool.put(d.buffer(buf))
	delete(d.buffers, buf)
}

func (d *Device) buffer(buf driver.Buffer) *wgpu.Buffer {
	b, ok := d.buffers[buf]
	if !ok {
		panic(fmt.Sprintf("wgpu: unknown or destroyed buffer %d", buf))
	}
	return b
}

func textureFormat(f driver.TextureFormat) wgpu.TextureFormat {
	switch f {
	case driver.RGBA8Unorm:
		return wgpu.TextureFormatRGBA8Unorm
	case driver.RGBA8Srgb:
		return wgpu.TextureFormatRGBA8UnormSrgb
	case driver.BGRA8Unorm:
		return wgpu.TextureFormatBGRA8Unorm
	case driver.Depth32Float:
		return wgpu.TextureFormatDepth32Float
	default:
		panic("unreachable")
	}
}

func (d *Device) NewTexture(desc driver.TextureDesc) (driver.Texture, error) {
	if desc.Width > d.caps.MaxTextureSize || desc.Height > d.caps.MaxTextureSize {
		return 0, fmt.Errorf("%dx%d: %w", desc.Width, desc.Height, driver.ErrTextureTooLarge)
	}
	format := textureFormat(desc.Format)
	tex := d.dev.CreateTexture(&wgpu.TextureDescriptor{
		Size: wgpu.Extent3D{
			Width:              uint32(desc.Width),
			Height:             uint32(desc.Height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		Format:        format,
	})
	view := tex.CreateView(nil)
	h := driver.Texture(d.handle())
	d.textures[h] = textureRecord{tex: tex, view: view, format: format}
	return h, nil
}

func (d *Device) WriteTexture(tex driver.Texture, layer int, region driver.Rect, data []byte) {
	if _, ok := d.pendingTexs[tex]; ok {
		d.flush()
	}
	rec := d.texture(tex)
	blockSize, ok := rec.format.BlockCopySize(wgpu.TextureAspectAll)
	if !ok {
		panic("texture format must have a valid block size")
	}
	d.queue.WriteTexture(
		mem.Make(d.arena, wgpu.ImageCopyTexture{
			Texture:  rec.tex,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{X: uint32(region.X), Y: uint32(region.Y), Z: uint32(layer)},
			Aspect:   wgpu.TextureAspectAll,
		}),
		data,
		mem.Make(d.arena, wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(region.W) * blockSize,
			RowsPerImage: 0,
		}),
		mem.Make(d.arena, wgpu.Extent3D{
			Width:              uint32(region.W),
			Height:             uint32(region.H),
			DepthOrArrayLayers: 1,
		}),
	)
}

func (d *Device) DestroyTexture(tex driver.Texture) {
	if _, ok := d.pendingTexs[tex]; ok {
		d.flush()
	}
	rec := d.texture(tex)
	rec.view.Release()
	rec.tex.Release()
	delete(d.textures, tex)
}

func (d *Device) texture(tex driver.Texture) textureRecord {
	rec, ok := d.textures[tex]
	if !ok {
		panic(fmt.Sprintf("wgpu: unknown or destroyed texture %d", tex))
	}
	return rec
}

func filterMode(f driver.Filter) wgpu.FilterMode {
	switch f {
	case driver.Nearest:
		return wgpu.FilterModeNearest
	case driver.Linear:
		return wgpu.FilterModeLinear
	default:
		panic("unreachable")
	}
}

func addressMode(w driver.Wrap) wgpu.AddressMode {
	switch w {
	case driver.ClampToEdge:
		return wgpu.AddressModeClampToEdge
	case driver.Repeat:
		return wgpu.AddressModeRepeat
	case driver.MirrorRepeat:
		return wgpu.AddressModeMirrorRepeat
	default:
		panic("unreachable")
	}
}

func (d *Device) NewSampler(desc driver.SamplerDesc) (driver.Sampler, error) {
	s := d.dev.CreateSampler(&wgpu.SamplerDescriptor{
		AddressModeU:  addressMode(desc.WrapU),
		AddressModeV:  addressMode(desc.WrapV),
		AddressModeW:  wgpu.AddressModeClampToEdge,
		MagFilter:     filterMode(desc.MagFilter),
		MinFilter:     filterMode(desc.MinFilter),
		MipmapFilter:  wgpu.MipmapFilterModeNearest,
		LodMinClamp:   0,
		LodMaxClamp:   32,
		MaxAnisotropy: 1,
	})
	h := driver.Sampler(d.handle())
	d.samplers[h] = s
	return h, nil
}

func (d *Device) DestroySampler(s driver.Sampler) {
	samp, ok := d.samplers[s]
	if !ok {
		panic(fmt.Sprintf("wgpu: unknown or destroyed sampler %d", s))
	}
	samp.Release()
	delete(d.samplers, s)
}

func (d *Device) NewVertexArray() (driver.VertexArray, error) {
	h := driver.VertexArray(d.handle())
	d.varrays[h] = &vertexState{}
	return h, nil
}

func (d *Device) BindVertexArray(va driver.VertexArray) {
	if va == 0 {
		d.cur = &d.defState
		d.curVA = 0
		return
	}
	vs, ok := d.varrays[va]
	if !ok {
		panic(fmt.Sprintf("wgpu: unknown or destroyed vertex array %d", va))
	}
	d.cur = vs
	d.curVA = va
}

func (d *Device) DestroyVertexArray(va driver.VertexArray) {
	if _, ok := d.varrays[va]; !ok {
		panic(fmt.Sprintf("wgpu: unknown or destroyed vertex array %d", va))
	}
	delete(d.varrays, va)
	if d.curVA == va {
		d.cur = &d.defState
		d.curVA = 0
	}
}

func (d *Device) EnableAttribute(slot int) {
	d.cur.attribs[slot].enabled = true
}

func (d *Device) DisableAttribute(slot int) {
	d.cur.attribs[slot].enabled = false
}

func (d *Device) SetAttribute(slot int, buf driver.Buffer, layout driver.AttribLayout) {
	a := &d.cur.attribs[slot]
	a.buf = buf
	a.layout = layout
}

func (d *Device) SetDivisor(slot int, divisor int) {
	if divisor > 1 {
		panic(fmt.Sprintf("wgpu: instance divisor %d, only 0 and 1 are representable", divisor))
	}
	d.cur.attribs[slot].divisor = divisor
}

func (d *Device) BindIndexBuffer(buf driver.Buffer) {
	d.cur.index = buf
}

func stageMask(s driver.Stage) wgpu.ShaderStage {
	if s == 0 {
		return wgpu.ShaderStageVertex | wgpu.ShaderStageFragment
	}
	var mask wgpu.ShaderStage
	if s&driver.StageVertex != 0 {
		mask |= wgpu.ShaderStageVertex
	}
	if s&driver.StageFragment != 0 {
		mask |= wgpu.ShaderStageFragment
	}
	return mask
}

func (d *Device) NewBindGroupLayout(slots []driver.BindingSlot) (driver.BindGroupLayout, error) {
	entries := make([]wgpu.BindGroupLayoutEntry, len(slots))
	for i, s := range slots {
		e := wgpu.BindGroupLayoutEntry{
			Binding:    uint32(s.Binding),
			Visibility: stageMask(s.Visibility),
		}
		switch s.Type {
		case driver.UniformBinding:
			e.Buffer = &wgpu.BufferBindingLayout{
				Type:             wgpu.BufferBindingTypeUniform,
				HasDynamicOffset: false,
				MinBindingSize:   0,
			}
		case driver.SamplerBinding:
			e.Sampler = &wgpu.SamplerBindingLayout{
				Type: wgpu.SamplerBindingTypeFiltering,
			}
		case driver.TextureBinding:
			e.Texture = &wgpu.TextureBindingLayout{
				SampleType:    wgpu.TextureSampleTypeFloat,
				ViewDimension: wgpu.TextureViewDimension2D,
				Multisampled:  false,
			}
		default:
			panic("unreachable")
		}
		entries[i] = e
	}
	l := d.dev.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Entries: entries,
	})
	h := driver.BindGroupLayout(d.handle())
	d.layouts[h] = l
	return h, nil
}

func (d *Device) DestroyBindGroupLayout(l driver.BindGroupLayout) {
	layout, ok := d.layouts[l]
	if !ok {
		panic(fmt.Sprintf("wgpu: unknown or destroyed bind group layout %d", l))
	}
	layout.Release()
	delete(d.layouts, l)
}

func (d *Device) NewBindGroup(layout driver.BindGroupLayout, entries []driver.BindingEntry) (driver.BindGroup, error) {
	l, ok := d.layouts[layout]
	if !ok {
		panic(fmt.Sprintf("wgpu: unknown or destroyed bind group layout %d", layout))
	}
	rec := &bindGroupRecord{}
	wentries := make([]wgpu.BindGroupEntry, len(entries))
	for i, e := range entries {
		we := wgpu.BindGroupEntry{Binding: uint32(e.Binding)}
		switch {
		case e.Buffer != 0:
			we.Buffer = d.buffer(e.Buffer)
			if e.Size > 0 {
				we.Size = uint64(e.Size)
			} else {
				we.Size = ^uint64(0)
			}
			rec.bufs = append(rec.bufs, e.Buffer)
		case e.Sampler != 0:
			samp, ok := d.samplers[e.Sampler]
			if !ok {
				panic(fmt.Sprintf("wgpu: unknown or destroyed sampler %d", e.Sampler))
			}
			we.Sampler = samp
		case e.Texture != 0:
			we.TextureView = d.texture(e.Texture).view
			rec.texs = append(rec.texs, e.Texture)
		default:
			panic(fmt.Sprintf("wgpu: binding %d supplies no resource", e.Binding))
		}
		wentries[i] = we
	}
	rec.bg = d.dev.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Layout:  l,
		Entries: wentries,
	})
	h := driver.BindGroup(d.handle())
	d.groups[h] = rec
	return h, nil
}

func (d *Device) DestroyBindGroup(bg driver.BindGroup) {
	rec, ok := d.groups[bg]
	if !ok {
		panic(fmt.Sprintf("wgpu: unknown or destroyed bind group %d", bg))
	}
	rec.bg.Release()
	delete(d.groups, bg)
}

func (d *Device) SetBindGroup(index int, bg driver.BindGroup) {
	d.bound[index] = bg
}

func (d *Device) NewRenderTarget(desc driver.TargetDesc) (driver.RenderTarget, error) {
	layers := max(desc.Layers, 1)
	if layers > d.caps.MaxViews {
		return 0, fmt.Errorf("%d layers: %w", layers, driver.ErrUnsupported)
	}
	if desc.Width > d.caps.MaxTextureSize || desc.Height > d.caps.MaxTextureSize {
		return 0, fmt.Errorf("%dx%d: %w", desc.Width, desc.Height, driver.ErrTextureTooLarge)
	}
	format := textureFormat(desc.Format)
	rec := &targetRecord{
		format: format,
		layers: layers,
	}
	rec.color = d.dev.CreateTexture(&wgpu.TextureDescriptor{
		Label: "render target",
		Size: wgpu.Extent3D{
			Width:              uint32(desc.Width),
			Height:             uint32(desc.Height),
			DepthOrArrayLayers: uint32(layers),
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Usage:         wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding,
		Format:        format,
	})
	rec.layerViews = make([]*wgpu.TextureView, layers)
	for i := range layers {
		rec.layerViews[i] = rec.color.CreateView(&wgpu.TextureViewDescriptor{
			Dimension:       wgpu.TextureViewDimension2D,
			Aspect:          wgpu.TextureAspectAll,
			MipLevelCount:   ^uint32(0),
			BaseMipLevel:    0,
			BaseArrayLayer:  uint32(i),
			ArrayLayerCount: 1,
			Format:          format,
		})
	}
	rec.arrayView = rec.color.CreateView(&wgpu.TextureViewDescriptor{
		Dimension:       wgpu.TextureViewDimension2DArray,
		Aspect:          wgpu.TextureAspectAll,
		MipLevelCount:   ^uint32(0),
		BaseMipLevel:    0,
		BaseArrayLayer:  0,
		ArrayLayerCount: ^uint32(0),
		Format:          format,
	})
	if desc.Depth {
		rec.depth = d.dev.CreateTexture(&wgpu.TextureDescriptor{
			Label: "render target depth",
			Size: wgpu.Extent3D{
				Width:              uint32(desc.Width),
				Height:             uint32(desc.Height),
				DepthOrArrayLayers: uint32(layers),
			},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     wgpu.TextureDimension2D,
			Usage:         wgpu.TextureUsageRenderAttachment,
			Format:        wgpu.TextureFormatDepth32Float,
		})
		rec.depthViews = make([]*wgpu.TextureView, layers)
		for i := range layers {
			rec.depthViews[i] = rec.depth.CreateView(&wgpu.TextureViewDescriptor{
				Dimension:       wgpu.TextureViewDimension2D,
				Aspect:          wgpu.TextureAspectAll,
				MipLevelCount:   ^uint32(0),
				BaseMipLevel:    0,
				BaseArrayLayer:  uint32(i),
				ArrayLayerCount: 1,
				Format:          wgpu.TextureFormatDepth32Float,
			})
		}
	}
	h := driver.RenderTarget(d.handle())
	d.targets[h] = rec
	return h, nil
}

func (d *Device) DestroyRenderTarget(t driver.RenderTarget) {
	rec, ok := d.targets[t]
	if !ok {
		panic(fmt.Sprintf("wgpu: unknown or destroyed render target %d", t))
	}
	if d.curTarget == t {
		d.closePass()
		d.curTarget = 0
		d.curLayer = 0
	}
	for _, v := range rec.layerViews {
		v.Release()
	}
	rec.arrayView.Release()
	rec.color.Release()
	if rec.depth != nil {
		for _, v := range rec.depthViews {
			v.Release()
		}
		rec.depth.Release()
	}
	delete(d.targets, t)
}

func (d *Device) SetRenderTarget(t driver.RenderTarget, layer int) {
	if d.curTarget == t && d.curLayer == layer {
		return
	}
	d.closePass()
	d.curTarget = t
	d.curLayer = layer
}

func (d *Device) Viewport(r driver.Rect) {
	d.viewport.set(r)
	if d.rpass != nil {
		d.rpass.SetViewport(float32(r.X), float32(r.Y), float32(r.W), float32(r.H), 0, 1)
	}
}

// blitTo records a pass that stretches one layer of src over the
// viewport region of dst.
func (d *Device) blitTo(dst, src *wgpu.TextureView, layer int, load wgpu.LoadOp, viewport *driver.Rect) {
	d.closePass()
	enc := d.ensureEncoder()

	ubuf := d.pool.getBuf(16, "blit params", wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst, d.dev)
	d.queue.WriteBuffer(ubuf, 0, safeish.SliceCast[[]byte](mem.Varargs(d.arena, int32(layer), 0, 0, 0)))
	d.blitBufs = append(d.blitBufs, ubuf)

	bindGroup := d.dev.CreateBindGroup(mem.Make(d.arena, wgpu.BindGroupDescriptor{
		Layout: d.blit.BindLayout,
		Entries: mem.Varargs(d.arena,
			wgpu.BindGroupEntry{
				Binding:     0,
				TextureView: src,
			},
			wgpu.BindGroupEntry{
				Binding: 1,
				Sampler: d.blit.Sampler,
			},
			wgpu.BindGroupEntry{
				Binding: 2,
				Buffer:  ubuf,
				Size:    16,
			},
		),
	}))
	defer bindGroup.Release()

	pass := enc.BeginRenderPass(mem.Make(d.arena, wgpu.RenderPassDescriptor{
		ColorAttachments: mem.Varargs(d.arena, wgpu.RenderPassColorAttachment{
			View:       dst,
			LoadOp:     load,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{},
		}),
		TimestampWrites: d.pgroup.Render(d.arena, "blit"),
	}))
	defer pass.Release()
	pass.SetPipeline(d.blit.Pipeline)
	if viewport != nil {
		pass.SetViewport(float32(viewport.X), float32(viewport.Y), float32(viewport.W), float32(viewport.H), 0, 1)
	}
	pass.SetBindGroup(0, bindGroup, nil)
	pass.Draw(6, 1, 0, 0)
	pass.End()
}

func (d *Device) BlitLayer(src driver.RenderTarget, layer int, dst driver.RenderTarget, to driver.Rect) {
	srcRec, ok := d.targets[src]
	if !ok {
		panic(fmt.Sprintf("wgpu: unknown or destroyed render target %d", src))
	}
	var dstView *wgpu.TextureView
	if dst == 0 {
		dstView = d.canvas.view
	} else {
		dstRec, ok := d.targets[dst]
		if !ok {
			panic(fmt.Sprintf("wgpu: unknown or destroyed render target %d", dst))
		}
		dstView = dstRec.layerViews[0]
	}
	d.blitTo(dstView, srcRec.arrayView, layer, d.loadOp(dst, 0), &to)
}

func (d *Device) UseProgram(id driver.ProgramID) {
	if id == 0 || int(id) >= len(d.programs) {
		panic(fmt.Sprintf("wgpu: unknown program %d", id))
	}
	d.prog = id
}

func topology(m driver.PrimMode) wgpu.PrimitiveTopology {
	switch m {
	case driver.Triangles:
		return wgpu.PrimitiveTopologyTriangleList
	case driver.TriangleStrip:
		return wgpu.PrimitiveTopologyTriangleStrip
	case driver.Lines:
		return wgpu.PrimitiveTopologyLineList
	case driver.LineStrip:
		return wgpu.PrimitiveTopologyLineStrip
	case driver.Points:
		return wgpu.PrimitiveTopologyPointList
	default:
		panic("unreachable")
	}
}

func indexFormat(t driver.DataType) wgpu.IndexFormat {
	switch t {
	case driver.Uint16:
		return wgpu.IndexFormatUint16
	case driver.Uint32:
		return wgpu.IndexFormatUint32
	default:
		panic(fmt.Sprintf("wgpu: no index format for %v", t))
	}
}

func vertexFormat(l driver.AttribLayout) wgpu.VertexFormat {
	switch l.Type {
	case driver.Float32:
		switch l.Size {
		case 1:
			return wgpu.VertexFormatFloat32
		case 2:
			return wgpu.VertexFormatFloat32x2
		case 3:
			return wgpu.VertexFormatFloat32x3
		case 4:
			return wgpu.VertexFormatFloat32x4
		}
	case driver.Float16:
		switch l.Size {
		case 2:
			return wgpu.VertexFormatFloat16x2
		case 4:
			return wgpu.VertexFormatFloat16x4
		}
	case driver.Uint8:
		switch l.Size {
		case 2:
			if l.Normalized {
				return wgpu.VertexFormatUnorm8x2
			}
			return wgpu.VertexFormatUint8x2
		case 4:
			if l.Normalized {
				return wgpu.VertexFormatUnorm8x4
			}
			return wgpu.VertexFormatUint8x4
		}
	case driver.Int8:
		switch l.Size {
		case 2:
			if l.Normalized {
				return wgpu.VertexFormatSnorm8x2
			}
			return wgpu.VertexFormatSint8x2
		case 4:
			if l.Normalized {
				return wgpu.VertexFormatSnorm8x4
			}
			return wgpu.VertexFormatSint8x4
		}
	case driver.Uint16:
		switch l.Size {
		case 2:
			if l.Normalized {
				return wgpu.VertexFormatUnorm16x2
			}
			return wgpu.VertexFormatUint16x2
		case 4:
			if l.Normalized {
				return wgpu.VertexFormatUnorm16x4
			}
			return wgpu.VertexFormatUint16x4
		}
	case driver.Int16:
		switch l.Size {
		case 2:
			if l.Normalized {
				return wgpu.VertexFormatSnorm16x2
			}
			return wgpu.VertexFormatSint16x2
		case 4:
			if l.Normalized {
				return wgpu.VertexFormatSnorm16x4
			}
			return wgpu.VertexFormatSint16x4
		}
	case driver.Uint32:
		switch l.Size {
		case 1:
			return wgpu.VertexFormatUint32
		case 2:
			return wgpu.VertexFormatUint32x2
		case 3:
			return wgpu.VertexFormatUint32x3
		case 4:
			return wgpu.VertexFormatUint32x4
		}
	case driver.Int32:
		switch l.Size {
		case 1:
			return wgpu.VertexFormatSint32
		case 2:
			return wgpu.VertexFormatSint32x2
		case 3:
			return wgpu.VertexFormatSint32x3
		case 4:
			return wgpu.VertexFormatSint32x4
		}
	}
	panic(fmt.Sprintf("wgpu: no vertex format for %v x%d", l.Type, l.Size))
}

func (d *Device) pipelineKey(call driver.DrawCall) pipelineKey {
	_, format, depthView := d.attachment()
	key := pipelineKey{
		prog:   d.prog,
		mode:   call.Mode,
		format: format,
		depth:  depthView != nil,
	}
	if call.Indexed && (call.Mode == driver.TriangleStrip || call.Mode == driver.LineStrip) {
		key.strip = some(indexFormat(call.IndexType))
	}
	for slot, a := range d.cur.attribs {
		if !a.enabled {
			continue
		}
		key.attribs[slot] = attribKey{
			used:    true,
			layout:  a.layout,
			divisor: a.divisor,
		}
	}
	return key
}

func (d *Device) pipeline(key pipelineKey) *wgpu.RenderPipeline {
	if p, ok := d.pipelines[key]; ok {
		return p
	}
	prog := d.programs[key.prog]
	var buffers []wgpu.VertexBufferLayout
	for slot, a := range key.attribs {
		if !a.used {
			continue
		}
		step := wgpu.VertexStepModeVertex
		if a.divisor > 0 {
			step = wgpu.VertexStepModeInstance
		}
		buffers = append(buffers, wgpu.VertexBufferLayout{
			ArrayStride: uint64(a.layout.Stride),
			StepMode:    step,
			Attributes: []wgpu.VertexAttribute{
				{
					Format:         vertexFormat(a.layout),
					Offset:         uint64(a.layout.Offset),
					ShaderLocation: uint32(slot),
				},
			},
		})
	}
	desc := wgpu.RenderPipelineDescriptor{
		Label:  prog.label,
		Layout: prog.layout,
		Vertex: &wgpu.VertexState{
			Module:     prog.module,
			EntryPoint: prog.vsEntry,
			Buffers:    buffers,
		},
		Fragment: &wgpu.FragmentState{
			Module:     prog.module,
			EntryPoint: prog.fsEntry,
			Targets: []wgpu.ColorTargetState{
				{
					Format:    key.format,
					WriteMask: wgpu.ColorWriteMaskAll,
				},
			},
		},
		Primitive: &wgpu.PrimitiveState{
			Topology:         topology(key.mode),
			StripIndexFormat: key.strip.unwrapOr(^wgpu.IndexFormat(0)),
			FrontFace:        wgpu.FrontFaceCCW,
			CullMode:         wgpu.CullModeNone,
		},
		Multisample: &wgpu.MultisampleState{
			Count:                  1,
			Mask:                   ^uint32(0),
			AlphaToCoverageEnabled: false,
		},
	}
	if key.depth {
		desc.DepthStencil = &wgpu.DepthStencilState{
			Format:            wgpu.TextureFormatDepth32Float,
			DepthWriteEnabled: true,
			DepthCompare:      wgpu.CompareFunctionLess,
		}
	}
	p := d.dev.CreateRenderPipeline(&desc)
	d.pipelines[key] = p
	return p
}

func (d *Device) Draw(call driver.DrawCall) {
	if d.prog == 0 {
		panic("wgpu: draw without a program")
	}
	pass := d.pass()
	pipe := d.pipeline(d.pipelineKey(call))
	if d.applied.pipeline != pipe {
		pass.SetPipeline(pipe)
		d.applied.pipeline = pipe
	}
	for i, bg := range d.bound {
		if bg == 0 || d.applied.groups[i] == bg {
			continue
		}
		rec, ok := d.groups[bg]
		if !ok {
			panic(fmt.Sprintf("wgpu: unknown or destroyed bind group %d", bg))
		}
		pass.SetBindGroup(uint32(i), rec.bg, nil)
		d.applied.groups[i] = bg
		for _, b := range rec.bufs {
			d.pendingBufs[b] = struct{}{}
		}
		for _, t := range rec.texs {
			d.pendingTexs[t] = struct{}{}
		}
	}
	vslot := 0
	for slot := range d.cur.attribs {
		a := &d.cur.attribs[slot]
		if !a.enabled {
			continue
		}
		if d.applied.vbufs[vslot] != a.buf {
			pass.SetVertexBuffer(uint32(vslot), d.buffer(a.buf), 0, ^uint64(0))
			d.applied.vbufs[vslot] = a.buf
		}
		d.pendingBufs[a.buf] = struct{}{}
		vslot++
	}
	instances := uint32(call.Instances)
	if instances == 0 {
		instances = 1
	}
	if call.Indexed {
		format := indexFormat(call.IndexType)
		if d.applied.ibuf != d.cur.index || d.applied.ifmt != format {
			pass.SetIndexBuffer(d.buffer(d.cur.index), format, 0, ^uint64(0))
			d.applied.ibuf = d.cur.index
			d.applied.ifmt = format
		}
		d.pendingBufs[d.cur.index] = struct{}{}
		pass.DrawIndexed(uint32(call.Count), instances, uint32(call.Offset), 0, 0)
	} else {
		pass.Draw(uint32(call.Count), instances, uint32(call.Offset), 0)
	}
}

// Release frees every wgpu object the device still holds. The device
// must not be used afterwards.
func (d *Device) Release() {
	d.flush()
	for _, buf := range d.buffers {
		buf.Release()
	}
	clear(d.buffers)
	for _, rec := range d.textures {
		rec.view.Release()
		rec.tex.Release()
	}
	clear(d.textures)
	for _, s := range d.samplers {
		s.Release()
	}
	clear(d.samplers)
	for _, rec := range d.groups {
		rec.bg.Release()
	}
	clear(d.groups)
	for _, l := range d.layouts {
		l.Release()
	}
	clear(d.layouts)
	for t := range d.targets {
		d.DestroyRenderTarget(t)
	}
	for _, p := range d.pipelines {
		p.Release()
	}
	clear(d.pipelines)
	for _, p := range d.programs[1:] {
		p.module.Release()
		p.layout.Release()
	}
	d.programs = d.programs[:1]
	d.pool.release()
	d.blit.Sampler.Release()
	d.blit.Pipeline.Release()
	d.blit.BindLayout.Release()
	d.canvas.release()
}
