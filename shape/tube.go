// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package shape

import (
	"iter"
	"math"

	"honnef.co/go/curve"
	"honnef.co/go/trine/geom"
	"honnef.co/go/trine/tmath"
)

// Tube sweeps a circle of the given radius along shape. The path is
// flattened to tolerance in the XY plane; ring frames combine the
// planar curve normal with the Z axis. Closed subpaths produce closed
// tubes, open ones are left uncapped. Each subpath becomes its own run
// of rings within one geometry.
func Tube(shape curve.Shape, tolerance float64, radius float32, radialSegments int) *geom.Geometry {
	if tolerance <= 0 {
		tolerance = 0.1
	}
	return TubeElements(shape.PathElements(tolerance), tolerance, radius, radialSegments)
}

// TubeElements is Tube for an already materialized element stream.
func TubeElements(path iter.Seq[curve.PathElement], tolerance float64, radius float32, radialSegments int) *geom.Geometry {
	if tolerance <= 0 {
		tolerance = 0.1
	}
	radial := max(radialSegments, 3)

	var b builder
	for _, poly := range flatten(path, tolerance) {
		sweep(&b, poly, radius, radial)
	}
	return b.build()
}

func sweep(b *builder, poly *polyline, radius float32, radial int) {
	rings := len(poly.pts)
	base := b.vertexCount()

	segments := rings - 1
	if poly.closed {
		segments = rings
	}

	for i, p := range poly.pts {
		t := tangentAt(poly, i)
		// In-plane normal of the tangent; together with Z it spans
		// the ring plane.
		n := tmath.Vec3{X: -t.Y, Y: t.X}
		u := float32(i) / float32(segments)
		for j := 0; j <= radial; j++ {
			s64, c64 := math.Sincos(2 * math.Pi * float64(j) / float64(radial))
			s, c := float32(s64), float32(c64)
			normal := tmath.Vec3{X: c * n.X, Y: c * n.Y, Z: s}
			pos := tmath.Vec3{X: float32(p.X), Y: float32(p.Y)}.Add(normal.Scale(radius))
			b.vertex(pos, normal, u, float32(j)/float32(radial))
		}
	}

	for i := 0; i < segments; i++ {
		r0 := base + uint32(i)*uint32(radial+1)
		r1 := base + uint32((i+1)%rings)*uint32(radial+1)
		for j := 0; j < radial; j++ {
			a := r0 + uint32(j)
			bb := r1 + uint32(j)
			b.quad(a, bb, bb+1, a+1)
		}
	}
}

// tangentAt averages the directions of the segments meeting at point
// i, respecting wraparound on closed polylines.
func tangentAt(poly *polyline, i int) tmath.Vec2 {
	pts := poly.pts
	n := len(pts)
	prev, next := i-1, i+1
	if poly.closed {
		prev, next = (i-1+n)%n, (i+1)%n
	} else {
		prev, next = max(prev, 0), min(next, n-1)
	}
	dx := pts[next].X - pts[prev].X
	dy := pts[next].Y - pts[prev].Y
	l := math.Hypot(dx, dy)
	if l == 0 {
		return tmath.Vec2{X: 1}
	}
	return tmath.Vec2{X: float32(dx / l), Y: float32(dy / l)}
}

// polyline is one flattened subpath.
type polyline struct {
	pts    []curve.Point
	closed bool
}

// flatten approximates path with polylines whose deviation stays
// within tolerance. Curved elements are sampled uniformly at a segment
// count from Wang's formula, which bounds the subdivision a tolerance
// needs by the curve's second differences.
func flatten(path iter.Seq[curve.PathElement], tolerance float64) []*polyline {
	rsqrtTol := 1 / math.Sqrt(tolerance)
	var polys []*polyline
	var cur *polyline
	pt := func(p curve.Point) {
		if n := len(cur.pts); n > 0 && cur.pts[n-1] == p {
			return
		}
		cur.pts = append(cur.pts, p)
	}
	last := func() curve.Point {
		return cur.pts[len(cur.pts)-1]
	}
	for el := range path {
		switch el.Kind {
		case curve.MoveToKind:
			cur = &polyline{pts: []curve.Point{el.P0}}
			polys = append(polys, cur)
		case curve.LineToKind:
			pt(el.P0)
		case curve.QuadToKind:
			p0 := last()
			n := wangQuadratic(rsqrtTol, p0, el.P0, el.P1)
			for i := 1; i <= n; i++ {
				pt(evalQuad(p0, el.P0, el.P1, float64(i)/float64(n)))
			}
		case curve.CubicToKind:
			p0 := last()
			n := wangCubic(rsqrtTol, p0, el.P0, el.P1, el.P2)
			for i := 1; i <= n; i++ {
				pt(evalCubic(p0, el.P0, el.P1, el.P2, float64(i)/float64(n)))
			}
		case curve.ClosePathKind:
			if n := len(cur.pts); n > 1 && cur.pts[n-1] == cur.pts[0] {
				cur.pts = cur.pts[:n-1]
			}
			cur.closed = true
		}
	}
	out := polys[:0]
	for _, p := range polys {
		if len(p.pts) >= 2 {
			out = append(out, p)
		}
	}
	return out
}

// The degree term of Wang's formula, sqrt(n * (n - 1) / 8), for cubics
// and quadratics.
const (
	wangDegreeCubic = 0.86602540378
	wangDegreeQuad  = 0.5
)

func wangQuadratic(rsqrtTol float64, p0, p1, p2 curve.Point) int {
	m := math.Hypot(p0.X-2*p1.X+p2.X, p0.Y-2*p1.Y+p2.Y)
	return max(1, int(math.Ceil(wangDegreeQuad*math.Sqrt(m)*rsqrtTol)))
}

func wangCubic(rsqrtTol float64, p0, p1, p2, p3 curve.Point) int {
	m1 := math.Hypot(p0.X-2*p1.X+p2.X, p0.Y-2*p1.Y+p2.Y)
	m2 := math.Hypot(p1.X-2*p2.X+p3.X, p1.Y-2*p2.Y+p3.Y)
	return max(1, int(math.Ceil(wangDegreeCubic*math.Sqrt(max(m1, m2))*rsqrtTol)))
}

func lerpPoint(a, b curve.Point, t float64) curve.Point {
	return curve.Point{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t}
}

func evalQuad(p0, p1, p2 curve.Point, t float64) curve.Point {
	return lerpPoint(lerpPoint(p0, p1, t), lerpPoint(p1, p2, t), t)
}

func evalCubic(p0, p1, p2, p3 curve.Point, t float64) curve.Point {
	q0 := lerpPoint(p0, p1, t)
	q1 := lerpPoint(p1, p2, t)
	q2 := lerpPoint(p2, p3, t)
	return lerpPoint(lerpPoint(q0, q1, t), lerpPoint(q1, q2, t), t)
}
