// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package gfx

import (
	"fmt"

	"honnef.co/go/trine/driver"
	"honnef.co/go/trine/geom"
	"honnef.co/go/trine/tmath"
)

type UniformKind uint8

const (
	UniformFloat UniformKind = iota
	UniformVec2
	UniformVec3
	UniformVec4
	UniformMat3
	UniformMat4
)

// Words returns the component count of the kind in 4-byte words.
func (k UniformKind) Words() int {
	switch k {
	case UniformFloat:
		return 1
	case UniformVec2:
		return 2
	case UniformVec3:
		return 3
	case UniformVec4:
		return 4
	case UniformMat3:
		return 9
	case UniformMat4:
		return 16
	default:
		panic("unreachable")
	}
}

// Uniform is one declared field of a uniforms group.
type Uniform struct {
	Name string
	Kind UniformKind
}

// DrawState is the numeric state an update callback may read: the
// drawable's world matrix, the camera's matrices, and the current
// frame number. Material-specific inputs reach callbacks by closure
// instead.
type DrawState struct {
	World      tmath.Mat4
	View       tmath.Mat4
	Projection tmath.Mat4
	Frame      uint64
}

// UniformsGroup declares a fixed layout of numeric uniforms backed by
// one GPU buffer. Fields pack in declaration order at word offsets
// aligned to their component count (scalar=1, vec3=3, mat4=16); the
// GPU-side struct must be declared to match.
//
// The Update callback recomputes the backing array in place through
// the typed setters and reports whether anything changed; the caches
// skip the buffer write when it returns false. A Shared group is
// updated at most once per frame no matter how many drawables
// reference it.
type UniformsGroup struct {
	id   geom.ID
	Name string
	// Shared groups (camera matrices, lighting) are deduplicated
	// across drawables within a frame.
	Shared     bool
	Visibility driver.Stage
	Update     func(dst []float32, st DrawState) bool

	uniforms []Uniform
	offsets  []int
	words    int
}

// NewUniformsGroup computes the layout of the declared uniforms.
// Visibility defaults to both stages.
func NewUniformsGroup(name string, uniforms []Uniform) *UniformsGroup {
	g := &UniformsGroup{
		id:         geom.NextID(),
		Name:       name,
		Visibility: driver.StageVertex | driver.StageFragment,
		uniforms:   uniforms,
		offsets:    make([]int, len(uniforms)),
	}
	off := 0
	for i, u := range uniforms {
		w := u.Kind.Words()
		off = alignTo(off, w)
		g.offsets[i] = off
		off += w
	}
	g.words = off
	return g
}

func alignTo(off, align int) int {
	if rem := off % align; rem != 0 {
		off += align - rem
	}
	return off
}

func (g *UniformsGroup) ID() geom.ID {
	return g.id
}

// Uniforms returns the declared fields. The returned slice is shared;
// callers must not mutate it.
func (g *UniformsGroup) Uniforms() []Uniform {
	return g.uniforms
}

// Words returns the total layout size in 4-byte words.
func (g *UniformsGroup) Words() int {
	return g.words
}

// Offset returns the word offset of the i'th declared uniform.
func (g *UniformsGroup) Offset(i int) int {
	return g.offsets[i]
}

func (g *UniformsGroup) check(i int, kind UniformKind) int {
	u := g.uniforms[i]
	if u.Kind != kind {
		panic(fmt.Sprintf("gfx: group %q uniform %q is %d, not %d", g.Name, u.Name, u.Kind, kind))
	}
	return g.offsets[i]
}

// SetFloat writes the i'th uniform, which must be declared
// UniformFloat. It reports whether the value changed.
func (g *UniformsGroup) SetFloat(dst []float32, i int, v float32) bool {
	off := g.check(i, UniformFloat)
	if dst[off] == v {
		return false
	}
	dst[off] = v
	return true
}

func (g *UniformsGroup) SetVec2(dst []float32, i int, v tmath.Vec2) bool {
	off := g.check(i, UniformVec2)
	return writeWords(dst[off:off+2], []float32{v.X, v.Y})
}

func (g *UniformsGroup) SetVec3(dst []float32, i int, v tmath.Vec3) bool {
	off := g.check(i, UniformVec3)
	return writeWords(dst[off:off+3], []float32{v.X, v.Y, v.Z})
}

func (g *UniformsGroup) SetVec4(dst []float32, i int, v [4]float32) bool {
	off := g.check(i, UniformVec4)
	return writeWords(dst[off:off+4], v[:])
}

func (g *UniformsGroup) SetMat3(dst []float32, i int, m tmath.Mat3) bool {
	off := g.check(i, UniformMat3)
	return writeWords(dst[off:off+9], m[:])
}

func (g *UniformsGroup) SetMat4(dst []float32, i int, m tmath.Mat4) bool {
	off := g.check(i, UniformMat4)
	return writeWords(dst[off:off+16], m[:])
}

func writeWords(dst, src []float32) bool {
	changed := false
	for i, v := range src {
		if dst[i] != v {
			dst[i] = v
			changed = true
		}
	}
	return changed
}
