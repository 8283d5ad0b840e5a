// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package engine

import (
	"fmt"

	"honnef.co/go/trine/driver"
)

// Multiview keeps a layered off-screen target sized to the active
// camera rig. Reallocation is an expensive storage operation, so the
// target is only rebuilt when the requested per-view dimensions or the
// view count differ from the last-applied ones.
type Multiview struct {
	eng    *Engine
	target driver.RenderTarget
	views  int
	w, h   int
}

func newMultiview(eng *Engine) *Multiview {
	return &Multiview{eng: eng}
}

// Supported reports whether the device can render more than one view
// into a layered target. When it cannot, rigs degrade to single-view
// rendering; that is not an error.
func (mv *Multiview) Supported() bool {
	return mv.eng.caps.MaxViews > 1
}

// Ensure sizes the layered target to views layers of w by h texels,
// reallocating only when those differ from the last-applied values.
// It reports whether a reallocation happened.
func (mv *Multiview) Ensure(views, w, h int) (bool, error) {
	if mv.target != 0 && mv.views == views && mv.w == w && mv.h == h {
		return false, nil
	}
	if mv.target != 0 {
		mv.eng.Device.DestroyRenderTarget(mv.target)
		mv.target = 0
	}
	target, err := mv.eng.Device.NewRenderTarget(driver.TargetDesc{
		Width:  w,
		Height: h,
		Layers: views,
		Format: driver.RGBA8Unorm,
		Depth:  true,
	})
	if err != nil {
		return false, fmt.Errorf("allocating %d-view render target of %dx%d: %w", views, w, h, err)
	}
	mv.target = target
	mv.views = views
	mv.w = w
	mv.h = h
	return true, nil
}

// Target returns the current layered target, or 0 before the first
// Ensure.
func (mv *Multiview) Target() driver.RenderTarget {
	return mv.target
}

// ViewsOf expands a camera rig into its views. An array camera on a
// capable device yields one view per sub-camera, each carrying its
// destination viewport; anything else is a single view covering the
// whole destination (an empty viewport rect).
func (mv *Multiview) ViewsOf(cam Camera) []View {
	if rig, ok := cam.(ArrayCamera); ok && mv.Supported() {
		views := rig.Views()
		if len(views) > mv.eng.caps.MaxViews {
			views = views[:mv.eng.caps.MaxViews]
		}
		return views
	}
	return []View{{Camera: cam}}
}

// Flush blits each rendered layer into its view's destination region
// of dst. Call after the frame's draws.
func (mv *Multiview) Flush(dst driver.RenderTarget, views []View) {
	for i, v := range views {
		if v.Viewport.Empty() {
			continue
		}
		mv.eng.Device.BlitLayer(mv.target, i, dst, v.Viewport)
	}
}

func (mv *Multiview) destroy() {
	if mv.target != 0 {
		mv.eng.Device.DestroyRenderTarget(mv.target)
		mv.target = 0
		mv.views = 0
		mv.w = 0
		mv.h = 0
	}
}
