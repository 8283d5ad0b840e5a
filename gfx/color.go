// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package gfx

import (
	"honnef.co/go/color"
)

// PremulVec4 converts a color to premultiplied linear sRGB, laid out
// for a vec4 uniform.
func PremulVec4(c *color.Color) [4]float32 {
	cc := c.Convert(color.LinearSRGB)
	r := cc.Values[0]
	g := cc.Values[1]
	b := cc.Values[2]
	a := cc.Alpha

	return [4]float32{
		float32(r * a),
		float32(g * a),
		float32(b * a),
		float32(a),
	}
}

// PremulRGBA8 converts a color to premultiplied 8-bit linear sRGB,
// laid out for RGBA texel data.
func PremulRGBA8(c *color.Color) [4]uint8 {
	v := PremulVec4(c)
	return [4]uint8{
		uint8(v[0]*255 + 0.5),
		uint8(v[1]*255 + 0.5),
		uint8(v[2]*255 + 0.5),
		uint8(v[3]*255 + 0.5),
	}
}
