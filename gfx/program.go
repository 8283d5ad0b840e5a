// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package gfx

import (
	"fmt"

	"honnef.co/go/trine/driver"
	"honnef.co/go/trine/geom"
)

// AttributeSlot maps a geometry attribute name to a shader input slot.
type AttributeSlot struct {
	Name string
	Slot int
}

type BindingKind uint8

const (
	GroupBinding BindingKind = iota
	SamplerBinding
	TextureBinding
)

// BindingDecl declares one resource slot of a program. For group
// bindings, Name names a uniforms group provided by the material or
// the renderer; for sampler and texture bindings it is the dotted path
// of a logical texture in the material's Props.
type BindingDecl struct {
	Binding    int
	Kind       BindingKind
	Name       string
	Visibility driver.Stage
}

// Program describes which resources a shading program consumes. The
// core never compiles shaders; it binds resources to match this
// declaration, and switches compiled programs by ID through the
// backend.
type Program struct {
	id         driver.ProgramID
	Name       string
	attributes []AttributeSlot
	bindings   []BindingDecl
}

// NewProgram builds a program descriptor. Attribute slots and binding
// indices must be unique within the program.
func NewProgram(name string, attributes []AttributeSlot, bindings []BindingDecl) *Program {
	slots := make(map[int]string, len(attributes))
	for _, a := range attributes {
		if prev, dup := slots[a.Slot]; dup {
			panic(fmt.Sprintf("gfx: program %q: attributes %q and %q share slot %d", name, prev, a.Name, a.Slot))
		}
		slots[a.Slot] = a.Name
	}
	seen := make(map[int]bool, len(bindings))
	for _, b := range bindings {
		if seen[b.Binding] {
			panic(fmt.Sprintf("gfx: program %q: duplicate binding %d", name, b.Binding))
		}
		seen[b.Binding] = true
	}
	return &Program{
		id:         driver.ProgramID(geom.NextID()),
		Name:       name,
		attributes: attributes,
		bindings:   bindings,
	}
}

func (p *Program) ID() driver.ProgramID {
	return p.id
}

// Attributes returns the attribute slots in declaration order. The
// returned slice is shared; callers must not mutate it.
func (p *Program) Attributes() []AttributeSlot {
	return p.attributes
}

// Bindings returns the binding declarations in declaration order. The
// returned slice is shared; callers must not mutate it.
func (p *Program) Bindings() []BindingDecl {
	return p.bindings
}
