// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package engine

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"honnef.co/go/trine/driver/drivertest"
	"honnef.co/go/trine/gfx"
)

func solidRGBA(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
	return img
}

func TestPlaceholderUntilImageArrives(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	tex := gfx.NewTexture()

	handle, err := eng.Textures.GetOrCreate(tex)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.Count("NewTexture"))
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, dev.TextureData(handle))

	// Every unloaded texture shares the one placeholder.
	other, err := eng.Textures.GetOrCreate(gfx.NewTexture())
	require.NoError(t, err)
	assert.Equal(t, handle, other)
	assert.Equal(t, 1, dev.Count("NewTexture"))

	// The loader delivering pixels is what changes the handle.
	tex.SetImage(solidRGBA(2, 2, color.RGBA{R: 0xff, A: 0xff}))
	loaded, err := eng.Textures.GetOrCreate(tex)
	require.NoError(t, err)
	assert.NotEqual(t, handle, loaded)
	assert.Equal(t, 2, dev.Count("NewTexture"))
}

func TestTextureVersionGating(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	img := solidRGBA(2, 1, color.RGBA{R: 0xff, A: 0xff})
	tex := gfx.NewTextureFromImage(img)

	handle, err := eng.Textures.GetOrCreate(tex)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.Count("NewTexture"))
	assert.Equal(t, 1, dev.Count("WriteTexture"))
	assert.Equal(t, img.Pix, dev.TextureData(handle))

	// Same version, not even a lookup on the device.
	again, err := eng.Textures.GetOrCreate(tex)
	require.NoError(t, err)
	assert.Equal(t, handle, again)
	assert.Equal(t, 1, dev.Count("WriteTexture"))

	// In-place mutation rewrites into the same texture.
	img.Pix[0] = 0x00
	img.Pix[1] = 0xff
	tex.MarkChanged()
	again, err = eng.Textures.GetOrCreate(tex)
	require.NoError(t, err)
	assert.Equal(t, handle, again)
	assert.Equal(t, 1, dev.Count("NewTexture"))
	assert.Equal(t, 2, dev.Count("WriteTexture"))
	assert.Equal(t, img.Pix, dev.TextureData(handle))
}

func TestTextureResizeRecreates(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	tex := gfx.NewTextureFromImage(solidRGBA(2, 2, color.RGBA{A: 0xff}))

	small, err := eng.Textures.GetOrCreate(tex)
	require.NoError(t, err)

	tex.SetImage(solidRGBA(4, 4, color.RGBA{A: 0xff}))
	big, err := eng.Textures.GetOrCreate(tex)
	require.NoError(t, err)
	assert.NotEqual(t, small, big)
	assert.Equal(t, 2, dev.Count("NewTexture"))
	assert.Equal(t, 1, dev.Count("DestroyTexture"))
	assert.Equal(t, 1, dev.LiveTextures())
	assert.Equal(t, 4, dev.TextureDesc(big).Width)
	assert.Equal(t, 4, dev.TextureDesc(big).Height)
}

func TestOversizedImageDownscaled(t *testing.T) {
	eng, dev := newTestEngine(t, func(dev *drivertest.Device) {
		dev.DevCaps.MaxTextureSize = 4
	})
	tex := gfx.NewTextureFromImage(solidRGBA(16, 8, color.RGBA{G: 0xff, A: 0xff}))

	handle, err := eng.Textures.GetOrCreate(tex)
	require.NoError(t, err)
	desc := dev.TextureDesc(handle)
	assert.Equal(t, 4, desc.Width)
	assert.Equal(t, 2, desc.Height)
	assert.Len(t, dev.TextureData(handle), 4*2*4)
}

func TestNPOTImageFloored(t *testing.T) {
	eng, dev := newTestEngine(t, func(dev *drivertest.Device) {
		dev.DevCaps.NPOT = false
	})
	tex := gfx.NewTextureFromImage(solidRGBA(6, 5, color.RGBA{B: 0xff, A: 0xff}))

	handle, err := eng.Textures.GetOrCreate(tex)
	require.NoError(t, err)
	desc := dev.TextureDesc(handle)
	assert.Equal(t, 4, desc.Width)
	assert.Equal(t, 4, desc.Height)
}

func TestFlipYReversesRows(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	img := image.NewRGBA(image.Rect(0, 0, 1, 2))
	copy(img.Pix[0:4], []byte{0xff, 0x00, 0x00, 0xff})
	copy(img.Pix[4:8], []byte{0x00, 0x00, 0xff, 0xff})
	tex := gfx.NewTextureFromImage(img)
	tex.FlipY = true

	handle, err := eng.Textures.GetOrCreate(tex)
	require.NoError(t, err)
	data := dev.TextureData(handle)
	assert.Equal(t, []byte{0x00, 0x00, 0xff, 0xff}, data[0:4])
	assert.Equal(t, []byte{0xff, 0x00, 0x00, 0xff}, data[4:8])
}

func TestSamplerVersionGating(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	tex := gfx.NewTexture()

	handle, err := eng.Textures.UpdateSampler(tex)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.Count("NewSampler"))

	again, err := eng.Textures.UpdateSampler(tex)
	require.NoError(t, err)
	assert.Equal(t, handle, again)
	assert.Equal(t, 1, dev.Count("NewSampler"))

	// Setting identical parameters is not a change.
	tex.SetSampler(tex.Sampler())
	again, err = eng.Textures.UpdateSampler(tex)
	require.NoError(t, err)
	assert.Equal(t, handle, again)
	assert.Equal(t, 1, dev.Count("NewSampler"))

	p := tex.Sampler()
	p.MagFilter = gfx.Nearest
	tex.SetSampler(p)
	fresh, err := eng.Textures.UpdateSampler(tex)
	require.NoError(t, err)
	assert.NotEqual(t, handle, fresh)
	assert.Equal(t, 2, dev.Count("NewSampler"))
	assert.Equal(t, 1, dev.Count("DestroySampler"))
	assert.Equal(t, 1, dev.LiveSamplers())
}

func TestNilTextureUsesDefaults(t *testing.T) {
	eng, dev := newTestEngine(t, nil)

	tex, err := eng.Textures.GetOrCreate(nil)
	require.NoError(t, err)
	samp, err := eng.Textures.UpdateSampler(nil)
	require.NoError(t, err)

	tex2, err := eng.Textures.GetOrCreate(nil)
	require.NoError(t, err)
	samp2, err := eng.Textures.UpdateSampler(nil)
	require.NoError(t, err)
	assert.Equal(t, tex, tex2)
	assert.Equal(t, samp, samp2)
	assert.Equal(t, 1, dev.Count("NewTexture"))
	assert.Equal(t, 1, dev.Count("NewSampler"))
}

func TestReleaseKeepsDefaults(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	tex := gfx.NewTextureFromImage(solidRGBA(2, 2, color.RGBA{A: 0xff}))

	_, err := eng.Textures.GetOrCreate(tex)
	require.NoError(t, err)
	_, err = eng.Textures.UpdateSampler(tex)
	require.NoError(t, err)
	_, err = eng.Textures.GetOrCreate(nil)
	require.NoError(t, err)
	_, err = eng.Textures.UpdateSampler(nil)
	require.NoError(t, err)
	assert.Equal(t, 2, dev.LiveTextures())
	assert.Equal(t, 2, dev.LiveSamplers())

	eng.Textures.Release(tex)
	assert.Equal(t, 1, dev.Count("DestroyTexture"))
	assert.Equal(t, 1, dev.Count("DestroySampler"))
	assert.Equal(t, 1, dev.LiveTextures(), "the placeholder survives")
	assert.Equal(t, 1, dev.LiveSamplers())

	// Releasing again is a no-op.
	eng.Textures.Release(tex)
	assert.Equal(t, 1, dev.Count("DestroyTexture"))
	assert.Equal(t, 1, dev.Count("DestroySampler"))
}
