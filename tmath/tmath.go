package tmath

import (
	"math"

	"golang.org/x/exp/constraints"
)

const Epsilon = 1e-7

func Abs32(f float32) float32 {
	return float32(math.Abs(float64(f)))
}

func AlignUp[T constraints.Integer](n T, alignment T) T {
	return (n + alignment - 1) & -alignment
}

func Lerp[T constraints.Float](a, b, t T) T {
	return a + (b-a)*t
}

func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// / Converts an f32 to IEEE-754 binary16 format represented as the bits of a u16.
// / This implementation was adapted from Fabian Giesen's `float_to_half_fast3`()
// / function which can be found at <https://gist.github.com/rygorous/2156668#file-gistfile1-cpp-L285>
func Float16bits(val float32) uint16 {
	const inf32 uint32 = 255 << 23
	const inf16 uint32 = 31 << 23
	const magic uint32 = 15 << 23
	const signMask uint32 = 0x8000_0000
	const roundMask uint32 = 0xF000

	u := math.Float32bits(val)
	sign := u & signMask
	u = u ^ sign

	// NOTE all the integer compares in this function can be safely
	// compiled into signed compares since all operands are below
	// 0x80000000. Important if you want fast straight SSE2 code
	// (since there's no unsigned PCMPGTD).

	// Inf or NaN (all exponent bits set)
	var output uint16
	if u >= inf32 {
		// NaN -> qNaN and Inf->Inf
		if u > inf32 {
			output = 0x7E00
		} else {
			output = 0x7C00
		}
	} else {
		// (De)normalized number or zero
		u := u & roundMask
		u = math.Float32bits(math.Float32frombits(u) * math.Float32frombits(magic))
		u = u - roundMask

		// Clamp to signed infinity if exponent overflowed
		if u > inf16 {
			u = inf16
		}
		output = uint16(u >> 13) // Take the bits!
	}
	return output | uint16(sign>>16)
}

// Float16slice converts float32 data to packed binary16, one uint16 per
// element.
func Float16slice(vals []float32) []uint16 {
	out := make([]uint16, len(vals))
	for i, v := range vals {
		out[i] = Float16bits(v)
	}
	return out
}
