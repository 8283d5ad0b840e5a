// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package shape builds common parametric geometries as geom bundles:
// indexed triangles with position, normal, and uv attributes. The
// builders only produce CPU-side data; uploading is the engine's job,
// triggered by the usual version tracking.
package shape

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"
	"honnef.co/go/safeish"
	"honnef.co/go/trine/driver"
	"honnef.co/go/trine/geom"
	"honnef.co/go/trine/tmath"
)

// builder accumulates vertices and indices for a geometry under
// construction.
type builder struct {
	positions []float32
	normals   []float32
	uvs       []float32
	indices   []uint32
}

func (b *builder) vertexCount() uint32 {
	return uint32(len(b.positions) / 3)
}

func (b *builder) vertex(p, n tmath.Vec3, u, v float32) {
	b.positions = append(b.positions, p.X, p.Y, p.Z)
	b.normals = append(b.normals, n.X, n.Y, n.Z)
	b.uvs = append(b.uvs, u, v)
}

// quad emits two triangles for the corners a-b-c-d, where a-b and d-c
// are opposite edges.
func (b *builder) quad(a, bb, c, d uint32) {
	b.indices = append(b.indices, a, bb, d, bb, c, d)
}

func (b *builder) build() *geom.Geometry {
	g := geom.NewGeometry()
	g.SetAttribute("position", geom.NewAttribute(geom.NewFloat32Buffer(b.positions, driver.StaticDraw), 3))
	g.SetAttribute("normal", geom.NewAttribute(geom.NewFloat32Buffer(b.normals, driver.StaticDraw), 3))
	g.SetAttribute("uv", geom.NewAttribute(geom.NewFloat32Buffer(b.uvs, driver.StaticDraw), 2))
	g.SetIndex(newIndex(b.indices, len(b.positions)/3))
	return g
}

// newIndex stores indices in the narrowest type the vertex count
// allows.
func newIndex(indices []uint32, vertexCount int) *geom.Attribute {
	if vertexCount > math.MaxUint16+1 {
		return geom.NewAttribute(geom.NewUint32Buffer(indices, driver.StaticDraw), 1)
	}
	small := make([]uint16, len(indices))
	for i, ix := range indices {
		small[i] = uint16(ix)
	}
	return geom.NewAttribute(geom.NewUint16Buffer(small, driver.StaticDraw), 1)
}

// Plane builds a grid of widthSegments by heightSegments quads in the
// XY plane, centered on the origin and facing +Z.
func Plane(width, height float32, widthSegments, heightSegments int) *geom.Geometry {
	gridX := max(widthSegments, 1)
	gridY := max(heightSegments, 1)
	segW := width / float32(gridX)
	segH := height / float32(gridY)

	var b builder
	for iy := 0; iy <= gridY; iy++ {
		y := float32(iy)*segH - height/2
		for ix := 0; ix <= gridX; ix++ {
			x := float32(ix)*segW - width/2
			b.vertex(
				tmath.Vec3{X: x, Y: -y},
				tmath.Vec3{Z: 1},
				float32(ix)/float32(gridX),
				1-float32(iy)/float32(gridY),
			)
		}
	}
	for iy := 0; iy < gridY; iy++ {
		for ix := 0; ix < gridX; ix++ {
			a := uint32(ix + (gridX+1)*iy)
			bb := uint32(ix + (gridX+1)*(iy+1))
			c := uint32(ix + 1 + (gridX+1)*(iy+1))
			d := uint32(ix + 1 + (gridX+1)*iy)
			b.quad(a, bb, c, d)
		}
	}
	return b.build()
}

// Box builds an axis-aligned box centered on the origin, one quad per
// face with per-face normals and uvs.
func Box(width, height, depth float32) *geom.Geometry {
	hw, hh, hd := width/2, height/2, depth/2

	faces := []struct {
		center tmath.Vec3
		udir   tmath.Vec3
		vdir   tmath.Vec3
		normal tmath.Vec3
	}{
		{tmath.Vec3{X: hw}, tmath.Vec3{Z: -hd}, tmath.Vec3{Y: -hh}, tmath.Vec3{X: 1}},
		{tmath.Vec3{X: -hw}, tmath.Vec3{Z: hd}, tmath.Vec3{Y: -hh}, tmath.Vec3{X: -1}},
		{tmath.Vec3{Y: hh}, tmath.Vec3{X: hw}, tmath.Vec3{Z: hd}, tmath.Vec3{Y: 1}},
		{tmath.Vec3{Y: -hh}, tmath.Vec3{X: hw}, tmath.Vec3{Z: -hd}, tmath.Vec3{Y: -1}},
		{tmath.Vec3{Z: hd}, tmath.Vec3{X: hw}, tmath.Vec3{Y: -hh}, tmath.Vec3{Z: 1}},
		{tmath.Vec3{Z: -hd}, tmath.Vec3{X: -hw}, tmath.Vec3{Y: -hh}, tmath.Vec3{Z: -1}},
	}

	var b builder
	for _, f := range faces {
		base := b.vertexCount()
		for iv := 0; iv < 2; iv++ {
			for iu := 0; iu < 2; iu++ {
				p := f.center.
					Add(f.udir.Scale(float32(2*iu - 1))).
					Add(f.vdir.Scale(float32(2*iv - 1)))
				b.vertex(p, f.normal, float32(iu), 1-float32(iv))
			}
		}
		b.quad(base, base+2, base+3, base+1)
	}
	return b.build()
}

// UVSphere builds a sphere from latitude and longitude bands. The
// poles collapse each band into triangles; seam and pole vertices are
// duplicated so uvs stay continuous.
func UVSphere(radius float32, widthSegments, heightSegments int) *geom.Geometry {
	ws := max(widthSegments, 3)
	hs := max(heightSegments, 2)

	var b builder
	for iy := 0; iy <= hs; iy++ {
		v := float32(iy) / float32(hs)
		theta := v * math.Pi

		// Nudge pole uvs to the cell center so the texture doesn't
		// pinch.
		var uOffset float32
		switch iy {
		case 0:
			uOffset = 0.5 / float32(ws)
		case hs:
			uOffset = -0.5 / float32(ws)
		}

		for ix := 0; ix <= ws; ix++ {
			u := float32(ix) / float32(ws)
			phi := u * 2 * math.Pi
			n := tmath.Vec3{
				X: -math32.Cos(phi) * math32.Sin(theta),
				Y: math32.Cos(theta),
				Z: math32.Sin(phi) * math32.Sin(theta),
			}
			b.vertex(n.Scale(radius), n, u+uOffset, 1-v)
		}
	}
	for iy := 0; iy < hs; iy++ {
		for ix := 0; ix < ws; ix++ {
			a := uint32(iy*(ws+1) + ix + 1)
			bb := uint32(iy*(ws+1) + ix)
			c := uint32((iy+1)*(ws+1) + ix)
			d := uint32((iy+1)*(ws+1) + ix + 1)
			if iy != 0 {
				b.indices = append(b.indices, a, bb, d)
			}
			if iy != hs-1 {
				b.indices = append(b.indices, bb, c, d)
			}
		}
	}
	return b.build()
}

// Interleave repacks the named float32 attributes of g into one shared
// buffer, in the given order, and returns a new geometry using the
// interleaved views. Attributes not named, the index, and the instance
// count carry over unchanged. The named attributes must exist, hold
// float32 data, and agree on their vertex count.
func Interleave(g *geom.Geometry, names ...string) *geom.Geometry {
	if len(names) == 0 {
		panic("shape: nothing to interleave")
	}
	attrs := make([]*geom.Attribute, len(names))
	stride := 0
	count := -1
	for i, name := range names {
		a := g.Attribute(name)
		if a == nil {
			panic(fmt.Sprintf("shape: no attribute %q to interleave", name))
		}
		if a.Buffer().Type() != driver.Float32 {
			panic(fmt.Sprintf("shape: attribute %q is %v, interleaving needs float32", name, a.Buffer().Type()))
		}
		if count == -1 {
			count = a.Count()
		} else if a.Count() != count {
			panic(fmt.Sprintf("shape: attribute %q has %d vertices, want %d", name, a.Count(), count))
		}
		attrs[i] = a
		stride += a.ItemSize
	}

	packed := make([]float32, count*stride)
	offset := 0
	for i, a := range attrs {
		src := safeish.SliceCast[[]float32](a.Buffer().Bytes())
		srcStride := a.Stride
		if srcStride == 0 {
			srcStride = a.ItemSize
		}
		for v := 0; v < count; v++ {
			copy(
				packed[v*stride+offset:v*stride+offset+a.ItemSize],
				src[v*srcStride+a.Offset:v*srcStride+a.Offset+a.ItemSize],
			)
		}
		offset += attrs[i].ItemSize
	}

	buf := geom.NewFloat32Buffer(packed, driver.StaticDraw)
	ng := geom.NewGeometry()
	offset = 0
	byName := make(map[string]*geom.Attribute, len(names))
	for i, a := range attrs {
		na := geom.NewInterleavedAttribute(buf, a.ItemSize, offset, stride)
		na.Normalized = a.Normalized
		na.Divisor = a.Divisor
		byName[names[i]] = na
		offset += a.ItemSize
	}
	for _, name := range g.Names() {
		if na, ok := byName[name]; ok {
			ng.SetAttribute(name, na)
		} else {
			ng.SetAttribute(name, g.Attribute(name))
		}
	}
	if idx := g.Index(); idx != nil {
		ng.SetIndex(idx)
	}
	ng.SetInstanceCount(g.InstanceCount())
	return ng
}
