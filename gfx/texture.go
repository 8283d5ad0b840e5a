// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package gfx

import (
	"image"

	"honnef.co/go/trine/geom"
)

// Extend selects how sampling behaves outside [0, 1] texture
// coordinates.
type Extend int

const (
	Pad Extend = iota
	Repeat
	Reflect
)

// SamplerParams describes how a texture is sampled. Changing any field
// requires a new sampler object on the GPU, which is why they carry
// their own version, separate from the texture contents.
type SamplerParams struct {
	MinFilter Filter
	MagFilter Filter
	WrapU     Extend
	WrapV     Extend
}

type Filter uint8

const (
	Linear Filter = iota
	Nearest
)

// Texture is a logical texture. Its pixel source may be absent while
// an asynchronous load is in flight; the caches substitute a
// placeholder until SetImage delivers the pixels. Failed loads simply
// never call SetImage and the placeholder remains.
type Texture struct {
	id  geom.ID
	img image.Image
	// FlipY mirrors the image vertically at upload, for sources whose
	// row order is top-down while texture space is bottom-up. Changing
	// it after the first upload requires MarkChanged.
	FlipY bool

	version        uint64
	sampler        SamplerParams
	samplerVersion uint64
}

// NewTexture returns a texture with no pixels yet.
func NewTexture() *Texture {
	return &Texture{
		id:             geom.NextID(),
		version:        0,
		samplerVersion: 1,
	}
}

// NewTextureFromImage returns a texture whose pixels are already
// available.
func NewTextureFromImage(img image.Image) *Texture {
	t := NewTexture()
	t.SetImage(img)
	return t
}

func (t *Texture) ID() geom.ID {
	return t.id
}

// Image returns the pixel source, or nil while loading.
func (t *Texture) Image() image.Image {
	return t.img
}

// SetImage delivers pixels and bumps the content version. This is the
// handoff point for asynchronous loaders: the next frame's cache sync
// observes the new version.
func (t *Texture) SetImage(img image.Image) {
	t.img = img
	t.version++
}

// MarkChanged records an in-place mutation of the current image.
func (t *Texture) MarkChanged() {
	t.version++
}

func (t *Texture) Version() uint64 {
	return t.version
}

func (t *Texture) Sampler() SamplerParams {
	return t.sampler
}

// SetSampler replaces the sampling parameters and bumps their version.
func (t *Texture) SetSampler(p SamplerParams) {
	if t.sampler == p {
		return
	}
	t.sampler = p
	t.samplerVersion++
}

func (t *Texture) SamplerVersion() uint64 {
	return t.samplerVersion
}
