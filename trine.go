// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package trine keeps GPU state in sync with a CPU-side scene and
// issues the minimal set of device calls to draw it. The scene layer
// owns objects, cameras, and resource contents; trine owns what the
// GPU has seen of them: which buffer versions are uploaded, which
// attributes are enabled, which bind groups are current.
//
// The Renderer drives one frame as four steps per drawable: sync the
// geometry's buffers, bind its attributes, compose its resource
// bindings, draw. Render runs all four over a sorted render list;
// frame drivers that interleave their own work call the steps
// directly between BeginFrame and EndFrame.
//
// All methods must be called from the rendering thread.
package trine

import (
	"honnef.co/go/trine/engine"
)

// Object is one renderable scene object, implemented by the scene
// layer. The renderer only reads it.
type Object = engine.Drawable

// Camera supplies the view and projection transforms of a draw.
type Camera = engine.Camera

// ArrayCamera renders several views in one pass, one target layer per
// view.
type ArrayCamera = engine.ArrayCamera

// View is one rendered viewpoint: a camera plus the destination
// region its layer is blitted to.
type View = engine.View

// Stats is a per-frame counter snapshot; see Renderer.Stats.
type Stats = engine.Stats
