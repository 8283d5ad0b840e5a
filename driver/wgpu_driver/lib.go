// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package wgpu_driver

import (
	"honnef.co/go/wgpu"
)

type Options struct {
	// SurfaceFormat is the texture format of the output surface the
	// canvas is presented to.
	SurfaceFormat wgpu.TextureFormat
	// Width and Height size the canvas backing render-target handle
	// zero.
	Width  int
	Height int
	// MaxViews caps the layer count of multiview targets. Zero means
	// the default of 4.
	MaxViews int
	// Profiler, if set, collects GPU timestamps for every pass.
	Profiler *Profiler
}

type option[T any] struct {
	isSet bool
	value T
}

func (opt *option[T]) set(v T) {
	opt.isSet = true
	opt.value = v
}

func (opt *option[T]) clear() {
	opt.isSet = false
	opt.value = *new(T)
}

func (opt option[T]) unwrapOr(alt T) T {
	if opt.isSet {
		return opt.value
	} else {
		return alt
	}
}

func some[T any](v T) option[T] {
	return option[T]{
		isSet: true,
		value: v,
	}
}

// blitPipeline stretches one layer of an array texture over a region
// of a color attachment. It serves both layer flushes and surface
// presentation.
type blitPipeline struct {
	BindLayout *wgpu.BindGroupLayout
	Pipeline   *wgpu.RenderPipeline
	Sampler    *wgpu.Sampler
}

func newBlitPipeline(dev *wgpu.Device, format wgpu.TextureFormat) *blitPipeline {
	const src = `
			struct BlitParams {
				layer: i32,
			}

			@group(0) @binding(0)
			var src: texture_2d_array<f32>;
			@group(0) @binding(1)
			var samp: sampler;
			@group(0) @binding(2)
			var<uniform> params: BlitParams;

			struct VertexOutput {
				@builtin(position) pos: vec4<f32>,
				@location(0) uv: vec2<f32>,
			}

			@vertex
			fn vs_main(@builtin(vertex_index) ix: u32) -> VertexOutput {
				// Two triangles covering the viewport in normalized
				// device coordinates.
				var vertex = vec2(-1.0, 1.0);
				switch ix {
					case 1u: {
						vertex = vec2(-1.0, -1.0);
					}
					case 2u, 4u: {
						vertex = vec2(1.0, -1.0);
					}
					case 5u: {
						vertex = vec2(1.0, 1.0);
					}
					default: {}
				}
				var out: VertexOutput;
				out.pos = vec4(vertex, 0.0, 1.0);
				out.uv = vertex * vec2(0.5, -0.5) + 0.5;
				return out;
			}

			@fragment
			fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
				return textureSampleLevel(src, samp, in.uv, params.layer, 0.0);
			}`

	shader := dev.CreateShaderModule(wgpu.ShaderModuleDescriptor{
		Label:  "blit shaders",
		Source: wgpu.ShaderSourceWGSL(src),
	})
	bindLayout := dev.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Visibility: wgpu.ShaderStageFragment,
				Binding:    0,
				Texture: &wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeFloat,
					ViewDimension: wgpu.TextureViewDimension2DArray,
					Multisampled:  false,
				},
			},
			{
				Visibility: wgpu.ShaderStageFragment,
				Binding:    1,
				Sampler: &wgpu.SamplerBindingLayout{
					Type: wgpu.SamplerBindingTypeFiltering,
				},
			},
			{
				Visibility: wgpu.ShaderStageFragment,
				Binding:    2,
				Buffer: &wgpu.BufferBindingLayout{
					Type:             wgpu.BufferBindingTypeUniform,
					HasDynamicOffset: false,
					MinBindingSize:   0,
				},
			},
		},
	})
	pipelineLayout := dev.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "blit pipeline layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{bindLayout},
	})
	pipeline := dev.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "blit pipeline",
		Layout: pipelineLayout,
		Vertex: &wgpu.VertexState{
			Module:     shader,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     shader,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{
				{
					Format:    format,
					WriteMask: wgpu.ColorWriteMaskAll,
				},
			},
		},
		Primitive: &wgpu.PrimitiveState{
			Topology:         wgpu.PrimitiveTopologyTriangleList,
			StripIndexFormat: ^wgpu.IndexFormat(0),
			FrontFace:        wgpu.FrontFaceCCW,
			CullMode:         wgpu.CullModeBack,
		},
		Multisample: &wgpu.MultisampleState{
			Count:                  1,
			Mask:                   ^uint32(0),
			AlphaToCoverageEnabled: false,
		},
	})
	sampler := dev.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "blit sampler",
		AddressModeU:  wgpu.AddressModeClampToEdge,
		AddressModeV:  wgpu.AddressModeClampToEdge,
		AddressModeW:  wgpu.AddressModeClampToEdge,
		MagFilter:     wgpu.FilterModeLinear,
		MinFilter:     wgpu.FilterModeLinear,
		MipmapFilter:  wgpu.MipmapFilterModeNearest,
		LodMinClamp:   0,
		LodMaxClamp:   32,
		MaxAnisotropy: 1,
	})
	return &blitPipeline{
		BindLayout: bindLayout,
		Pipeline:   pipeline,
		Sampler:    sampler,
	}
}

// canvas is the texture behind render-target handle zero. Frames draw
// and flush into it; Present copies it to a real surface.
type canvas struct {
	tex       *wgpu.Texture
	view      *wgpu.TextureView
	arrayView *wgpu.TextureView
	width     int
	height    int
}

func newCanvas(dev *wgpu.Device, format wgpu.TextureFormat, width, height int) *canvas {
	tex := dev.CreateTexture(&wgpu.TextureDescriptor{
		Label: "canvas",
		Size: wgpu.Extent3D{
			Width:              uint32(width),
			Height:             uint32(height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Usage:         wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding,
		Format:        format,
	})
	view := tex.CreateView(nil)
	arrayView := tex.CreateView(&wgpu.TextureViewDescriptor{
		Dimension:       wgpu.TextureViewDimension2DArray,
		Aspect:          wgpu.TextureAspectAll,
		MipLevelCount:   ^uint32(0),
		ArrayLayerCount: ^uint32(0),
		BaseMipLevel:    0,
		BaseArrayLayer:  0,
		Format:          format,
	})
	return &canvas{
		tex:       tex,
		view:      view,
		arrayView: arrayView,
		width:     width,
		height:    height,
	}
}

func (c *canvas) release() {
	c.arrayView.Release()
	c.view.Release()
	c.tex.Release()
}

// Resize recreates the canvas at the given size. Call between frames.
func (d *Device) Resize(width, height int) {
	if d.canvas.width == width && d.canvas.height == height {
		return
	}
	d.canvas.release()
	d.canvas = newCanvas(d.dev, d.surfaceFormat, width, height)
}

// Present stretches the canvas over the surface texture. Call after
// EndFrame.
func (d *Device) Present(surface *wgpu.SurfaceTexture) {
	surfaceView := surface.Texture.CreateView(nil)
	defer surfaceView.Release()
	d.blitTo(surfaceView, d.canvas.arrayView, 0, wgpu.LoadOpClear, nil)
	d.flush()
}
