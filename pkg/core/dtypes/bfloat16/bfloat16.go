// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package bfloat16 is a trivial implementation for the bfloat16 type, enough to reduce
// bfloat16 tensors on the host: values are widened to float32, reduced, and narrowed back.
package bfloat16

import (
	"math"
	"strconv"
)

// BFloat16 (brain floating point) occupies 16 bits: it is the upper half of an IEEE 754 float32,
// so it has the same dynamic range with a much shorter mantissa.
type BFloat16 uint16

// Float32 widens the value to a float32. This conversion is exact.
func (f BFloat16) Float32() float32 {
	return math.Float32frombits(uint32(f) << 16)
}

// FromFloat32 converts a float32 to a BFloat16, rounding to nearest-even.
// NaNs are kept as (quiet) NaNs.
func FromFloat32(x float32) BFloat16 {
	bits := math.Float32bits(x)
	if math.IsNaN(float64(x)) {
		return BFloat16((bits >> 16) | 0x0040)
	}
	rounding := uint32(0x7FFF) + ((bits >> 16) & 1)
	return BFloat16((bits + rounding) >> 16)
}

// FromFloat64 converts a float64 to a BFloat16.
func FromFloat64(x float64) BFloat16 {
	return FromFloat32(float32(x))
}

// Bits returns the raw bits of the value.
func (f BFloat16) Bits() uint16 {
	return uint16(f)
}

// String implements fmt.Stringer, and prints a float representation of the BFloat16.
func (f BFloat16) String() string {
	return strconv.FormatFloat(float64(f.Float32()), 'f', -1, 32)
}

// Inf returns a BFloat16 with an infinity value with the specified sign.
// A sign >= 0 returns positive infinity, a sign < 0 returns negative infinity.
func Inf(sign int) BFloat16 {
	return FromFloat32(float32(math.Inf(sign)))
}
