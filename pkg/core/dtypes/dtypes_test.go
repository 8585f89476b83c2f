// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

import (
	"reflect"
	"testing"

	"github.com/gomcrdl/gomcrdl/pkg/core/dtypes/bfloat16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestMapOfNames(t *testing.T) {
	if MapOfNames["Float16"] != Float16 {
		t.Fatalf("expected MapOfNames[\"Float16\"] to be Float16, got %v", MapOfNames["Float16"])
	}
	if MapOfNames["float16"] != Float16 {
		t.Fatalf("expected MapOfNames[\"float16\"] to be Float16, got %v", MapOfNames["float16"])
	}
	if MapOfNames["F16"] != Float16 {
		t.Fatalf("expected MapOfNames[\"F16\"] to be Float16, got %v", MapOfNames["F16"])
	}
	assert.Equal(t, Float16, MapOfNames["half"])
	assert.Equal(t, BFloat16, MapOfNames["bf16"])
	assert.Equal(t, Float32, MapOfNames["float"])
}

func TestParse(t *testing.T) {
	dtype, err := Parse("FLOAT32")
	require.NoError(t, err)
	assert.Equal(t, Float32, dtype)
	_, err = Parse("float128")
	require.Error(t, err)
}

func TestSize(t *testing.T) {
	for dtype, want := range map[DType]int{
		Bool: 1, Int8: 1, Uint8: 1, Int16: 2, Float16: 2, BFloat16: 2,
		Int32: 4, Float32: 4, Int64: 8, Float64: 8, Complex64: 8, Complex128: 16,
	} {
		assert.Equalf(t, want, dtype.Size(), "%s.Size()", dtype)
	}
	assert.Equal(t, 24, Float32.SizeForDimensions(2, 3))
	assert.Equal(t, 8, Float64.SizeForDimensions())
}

func TestFromGenericsAndGoTypes(t *testing.T) {
	assert.Equal(t, Float16, FromGenericsType[float16.Float16]())
	assert.Equal(t, BFloat16, FromGenericsType[bfloat16.BFloat16]())
	assert.Equal(t, Int64, FromGenericsType[int64]())
	assert.Equal(t, Complex128, FromAny(complex128(1)))
	assert.Equal(t, InvalidDType, FromGoType(reflect.TypeOf("")))
	assert.Equal(t, reflect.TypeOf(uint16(0)), Uint16.GoType())
	assert.False(t, InvalidDType.IsValid())
	assert.Panics(t, func() { _ = InvalidDType.GoType() })
}

func TestBFloat16RoundTrip(t *testing.T) {
	for _, v := range []float32{0, 1, -2, 0.5, 1024} {
		assert.Equal(t, v, bfloat16.FromFloat32(v).Float32())
	}
}
