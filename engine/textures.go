// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package engine

import (
	"fmt"
	"image"
	"math/bits"

	xdraw "golang.org/x/image/draw"
	"honnef.co/go/trine/driver"
	"honnef.co/go/trine/geom"
	"honnef.co/go/trine/gfx"
	"honnef.co/go/trine/internal/diag"
)

type textureRecord struct {
	handle  driver.Texture
	version uint64
	w, h    int
}

type samplerRecord struct {
	handle  driver.Sampler
	version uint64
}

// Textures uploads logical textures and samplers on demand. A texture
// whose image has not arrived yet resolves to a shared 1x1 placeholder
// so draws never wait on loads; when the image lands, the next sync
// returns a different handle and dependent bind groups notice the
// identity change.
type Textures struct {
	eng   *Engine
	texs  map[geom.ID]*textureRecord
	samps map[geom.ID]*samplerRecord

	defaultTex  driver.Texture
	defaultSamp driver.Sampler
}

func newTextures(eng *Engine) *Textures {
	return &Textures{
		eng:   eng,
		texs:  make(map[geom.ID]*textureRecord),
		samps: make(map[geom.ID]*samplerRecord),
	}
}

// GetOrCreate returns the GPU texture for t, uploading if the content
// version advanced. While t has no image yet it returns the shared
// placeholder.
func (texs *Textures) GetOrCreate(t *gfx.Texture) (driver.Texture, error) {
	if t == nil || t.Image() == nil {
		return texs.DefaultTexture()
	}
	rec := texs.texs[t.ID()]
	if rec != nil && rec.version == t.Version() {
		return rec.handle, nil
	}

	img := texs.prepare(t)
	w := img.Rect.Dx()
	h := img.Rect.Dy()
	if rec == nil || rec.w != w || rec.h != h {
		handle, err := texs.eng.Device.NewTexture(driver.TextureDesc{
			Width:  w,
			Height: h,
			Format: driver.RGBA8Unorm,
		})
		if err != nil {
			return 0, fmt.Errorf("creating %dx%d texture: %w", w, h, err)
		}
		if rec == nil {
			rec = &textureRecord{}
			texs.texs[t.ID()] = rec
		} else {
			texs.eng.Device.DestroyTexture(rec.handle)
		}
		rec.handle = handle
		rec.w = w
		rec.h = h
	}
	texs.eng.Device.WriteTexture(rec.handle, 0, driver.Rect{W: w, H: h}, img.Pix)
	texs.eng.stats.TextureUploads++
	rec.version = t.Version()
	return rec.handle, nil
}

// prepare converts the texture's image to tightly packed RGBA at the
// dimensions the device can take, downscaling when it cannot.
func (texs *Textures) prepare(t *gfx.Texture) *image.RGBA {
	src := t.Image()
	b := src.Bounds()
	w := b.Dx()
	h := b.Dy()

	tw, th := w, h
	if limit := texs.eng.caps.MaxTextureSize; tw > limit || th > limit {
		for tw > limit || th > limit {
			tw = (tw + 1) / 2
			th = (th + 1) / 2
		}
		diag.WarnOnce("texture-too-large",
			"image exceeds device texture limits, downscaling",
			"from", fmt.Sprintf("%dx%d", w, h), "to", fmt.Sprintf("%dx%d", tw, th))
	}
	if !texs.eng.caps.NPOT && (tw&(tw-1) != 0 || th&(th-1) != 0) {
		tw = floorPow2(tw)
		th = floorPow2(th)
		diag.WarnOnce("texture-npot",
			"device cannot sample non-power-of-two textures, downscaling",
			"from", fmt.Sprintf("%dx%d", w, h), "to", fmt.Sprintf("%dx%d", tw, th))
	}

	if rgba, ok := src.(*image.RGBA); ok &&
		tw == w && th == h && !t.FlipY &&
		rgba.Rect.Min == (image.Point{}) && rgba.Stride == 4*w {
		return rgba
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	if tw == w && th == h {
		xdraw.Draw(dst, dst.Rect, src, b.Min, xdraw.Src)
	} else {
		xdraw.BiLinear.Scale(dst, dst.Rect, src, b, xdraw.Src, nil)
	}
	if t.FlipY {
		flipRows(dst)
	}
	return dst
}

func floorPow2(n int) int {
	return 1 << (bits.Len(uint(n)) - 1)
}

func flipRows(img *image.RGBA) {
	h := img.Rect.Dy()
	tmp := make([]byte, img.Stride)
	for y := 0; y < h/2; y++ {
		top := img.Pix[y*img.Stride : (y+1)*img.Stride]
		bot := img.Pix[(h-1-y)*img.Stride : (h-y)*img.Stride]
		copy(tmp, top)
		copy(top, bot)
		copy(bot, tmp)
	}
}

// UpdateSampler returns the GPU sampler for t's current sampling
// parameters, recreating it only when the parameter version advanced.
func (texs *Textures) UpdateSampler(t *gfx.Texture) (driver.Sampler, error) {
	if t == nil {
		return texs.DefaultSampler()
	}
	rec := texs.samps[t.ID()]
	if rec != nil && rec.version == t.SamplerVersion() {
		return rec.handle, nil
	}
	handle, err := texs.eng.Device.NewSampler(samplerDesc(t.Sampler()))
	if err != nil {
		return 0, fmt.Errorf("creating sampler: %w", err)
	}
	if rec == nil {
		rec = &samplerRecord{}
		texs.samps[t.ID()] = rec
	} else {
		texs.eng.Device.DestroySampler(rec.handle)
	}
	rec.handle = handle
	rec.version = t.SamplerVersion()
	return rec.handle, nil
}

func samplerDesc(p gfx.SamplerParams) driver.SamplerDesc {
	conv := func(f gfx.Filter) driver.Filter {
		if f == gfx.Nearest {
			return driver.Nearest
		}
		return driver.Linear
	}
	wrap := func(e gfx.Extend) driver.Wrap {
		switch e {
		case gfx.Repeat:
			return driver.Repeat
		case gfx.Reflect:
			return driver.MirrorRepeat
		default:
			return driver.ClampToEdge
		}
	}
	return driver.SamplerDesc{
		MinFilter: conv(p.MinFilter),
		MagFilter: conv(p.MagFilter),
		WrapU:     wrap(p.WrapU),
		WrapV:     wrap(p.WrapV),
	}
}

// DefaultTexture returns the shared placeholder: 1x1 opaque white, so
// multiplicative maps read as identity until the real image lands.
func (texs *Textures) DefaultTexture() (driver.Texture, error) {
	if texs.defaultTex != 0 {
		return texs.defaultTex, nil
	}
	handle, err := texs.eng.Device.NewTexture(driver.TextureDesc{
		Width:  1,
		Height: 1,
		Format: driver.RGBA8Unorm,
	})
	if err != nil {
		return 0, fmt.Errorf("creating placeholder texture: %w", err)
	}
	texs.eng.Device.WriteTexture(handle, 0, driver.Rect{W: 1, H: 1}, []byte{0xff, 0xff, 0xff, 0xff})
	texs.defaultTex = handle
	return handle, nil
}

// DefaultSampler returns the shared nearest/clamp sampler used
// alongside the placeholder texture.
func (texs *Textures) DefaultSampler() (driver.Sampler, error) {
	if texs.defaultSamp != 0 {
		return texs.defaultSamp, nil
	}
	handle, err := texs.eng.Device.NewSampler(driver.SamplerDesc{
		MinFilter: driver.Nearest,
		MagFilter: driver.Nearest,
		WrapU:     driver.ClampToEdge,
		WrapV:     driver.ClampToEdge,
	})
	if err != nil {
		return 0, fmt.Errorf("creating placeholder sampler: %w", err)
	}
	texs.defaultSamp = handle
	return handle, nil
}

// Release frees the GPU texture and sampler cached for t. The shared
// defaults are never released.
func (texs *Textures) Release(t *gfx.Texture) {
	if rec := texs.texs[t.ID()]; rec != nil {
		texs.eng.Device.DestroyTexture(rec.handle)
		delete(texs.texs, t.ID())
	}
	if rec := texs.samps[t.ID()]; rec != nil {
		texs.eng.Device.DestroySampler(rec.handle)
		delete(texs.samps, t.ID())
	}
}

func (texs *Textures) destroyAll() {
	for id, rec := range texs.texs {
		texs.eng.Device.DestroyTexture(rec.handle)
		delete(texs.texs, id)
	}
	for id, rec := range texs.samps {
		texs.eng.Device.DestroySampler(rec.handle)
		delete(texs.samps, id)
	}
	if texs.defaultTex != 0 {
		texs.eng.Device.DestroyTexture(texs.defaultTex)
		texs.defaultTex = 0
	}
	if texs.defaultSamp != 0 {
		texs.eng.Device.DestroySampler(texs.defaultSamp)
		texs.defaultSamp = 0
	}
}
