// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package gfx holds the scene-facing descriptors the binding core
// consumes: programs (which resources a draw needs), materials (which
// concrete resources satisfy them), logical textures, uniforms groups,
// and colors. Nothing in this package talks to the GPU.
package gfx

import (
	"strings"

	"honnef.co/go/trine/driver"
	"honnef.co/go/trine/geom"
)

// Material pairs a program with the concrete resources its bindings
// name. Props holds arbitrary material state; texture bindings resolve
// through it by dotted paths (see ResolveTexture).
type Material struct {
	id      geom.ID
	Program *Program
	// Groups are matched to the program's group bindings by name.
	Groups []*UniformsGroup
	Props  map[string]any
	// Mode selects how vertices assemble into primitives.
	Mode driver.PrimMode
	// Transparent materials draw after opaque ones, in submission
	// order.
	Transparent bool
}

func NewMaterial(prog *Program) *Material {
	return &Material{
		id:      geom.NextID(),
		Program: prog,
		Props:   make(map[string]any),
	}
}

func (m *Material) ID() geom.ID {
	return m.id
}

// Group returns the material's uniforms group with the given name, or
// nil.
func (m *Material) Group(name string) *UniformsGroup {
	for _, g := range m.Groups {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// ResolveTexture looks up a logical texture in Props by a dotted path:
// "map" reads Props["map"], "env.map" reads Props["env"]["map"] where
// the intermediate steps are map[string]any values.
func (m *Material) ResolveTexture(path string) (*Texture, bool) {
	var cur any = m.Props
	for {
		head, rest, more := strings.Cut(path, ".")
		step, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = step[head]
		if !ok {
			return nil, false
		}
		if !more {
			tex, ok := cur.(*Texture)
			return tex, ok
		}
		path = rest
	}
}
