// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes includes the DType enum for the element types that can travel over a collective.
//
// The numeric values follow the XLA/PJRT buffer-type enum, so they can be exchanged with other tools
// that use the same numbering. It includes converters to/from Go native types (and reflect.Type), and
// the per-element byte width used to compute message sizes.
package dtypes

import (
	"maps"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/gomcrdl/gomcrdl/pkg/core/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DType is an enum that represents the data type of a tensor element.
type DType int32

const (
	// InvalidDType is the zero value, used to represent an unknown or unsupported type.
	InvalidDType DType = 0
	Bool         DType = 1
	Int8         DType = 2
	Int16        DType = 3
	Int32        DType = 4
	Int64        DType = 5
	Uint8        DType = 6
	Uint16       DType = 7
	Uint32       DType = 8
	Uint64       DType = 9
	Float16      DType = 10
	Float32      DType = 11
	Float64      DType = 12

	// BFloat16 is the "brain float": 1 bit sign, 8 bits exponent and 7 bits mantissa.
	BFloat16   DType = 13
	Complex64  DType = 14
	Complex128 DType = 15
)

// panicf panics with the formatted description.
//
// It is only used for "bugs in the code" -- when parameters don't follow the specifications.
func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

var dtypeNames = map[DType]string{
	InvalidDType: "InvalidDType",
	Bool:         "Bool",
	Int8:         "Int8",
	Int16:        "Int16",
	Int32:        "Int32",
	Int64:        "Int64",
	Uint8:        "Uint8",
	Uint16:       "Uint16",
	Uint32:       "Uint32",
	Uint64:       "Uint64",
	Float16:      "Float16",
	Float32:      "Float32",
	Float64:      "Float64",
	BFloat16:     "BFloat16",
	Complex64:    "Complex64",
	Complex128:   "Complex128",
}

// MapOfNames maps names (and common aliases used by training frameworks, like "fp16" or "half") to DType.
// Lower-case versions of every name are also included.
var MapOfNames = map[string]DType{
	"PRED": Bool,
	"S8":   Int8,
	"S16":  Int16,
	"S32":  Int32,
	"S64":  Int64,
	"U8":   Uint8,
	"U16":  Uint16,
	"U32":  Uint32,
	"U64":  Uint64,
	"F16":  Float16,
	"F32":  Float32,
	"F64":  Float64,
	"BF16": BFloat16,
	"C64":  Complex64,
	"C128": Complex128,

	"float":  Float32,
	"fp32":   Float32,
	"double": Float64,
	"fp64":   Float64,
	"half":   Float16,
	"fp16":   Float16,
	"int":    Int32,
	"long":   Int64,
	"short":  Int16,
	"byte":   Uint8,
	"char":   Int8,
}

func init() {
	// Only works for 32 and 64 bits platforms.
	if strconv.IntSize != 32 && strconv.IntSize != 64 {
		panicf("cannot use int of %d bits -- only platforms with int32 or int64 are supported", strconv.IntSize)
	}
	for dtype, name := range dtypeNames {
		if dtype == InvalidDType {
			continue
		}
		MapOfNames[name] = dtype
	}

	// Add a mapping to the lower-case version of dtypes.
	keys := slices.Collect(maps.Keys(MapOfNames))
	for _, key := range keys {
		lowerKey := strings.ToLower(key)
		if _, found := MapOfNames[lowerKey]; found {
			continue
		}
		MapOfNames[lowerKey] = MapOfNames[key]
	}
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if name, found := dtypeNames[dtype]; found {
		return name
	}
	return "DType(" + strconv.Itoa(int(dtype)) + ")"
}

// Parse returns the DType for the given name (see MapOfNames), or an error if it is not known.
func Parse(name string) (DType, error) {
	if dtype, found := MapOfNames[name]; found {
		return dtype, nil
	}
	if dtype, found := MapOfNames[strings.ToLower(name)]; found {
		return dtype, nil
	}
	return InvalidDType, errors.Errorf("unknown dtype %q", name)
}

// FromGenericsType returns the DType enum for the given type that this package knows about.
func FromGenericsType[T Supported]() DType {
	var t T
	switch (any(t)).(type) {
	case float64:
		return Float64
	case float32:
		return Float32
	case float16.Float16:
		return Float16
	case bfloat16.BFloat16:
		return BFloat16
	case int64:
		return Int64
	case int32:
		return Int32
	case int16:
		return Int16
	case int8:
		return Int8
	case bool:
		return Bool
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	case complex64:
		return Complex64
	case complex128:
		return Complex128
	}
	return InvalidDType
}

// Pre-generate constant reflect.TypeOf for convenience.
var (
	float16Type  = reflect.TypeOf(float16.Float16(0))
	bfloat16Type = reflect.TypeOf(bfloat16.BFloat16(0))

	goTypes = map[DType]reflect.Type{
		Bool:       reflect.TypeOf(true),
		Int8:       reflect.TypeOf(int8(0)),
		Int16:      reflect.TypeOf(int16(0)),
		Int32:      reflect.TypeOf(int32(0)),
		Int64:      reflect.TypeOf(int64(0)),
		Uint8:      reflect.TypeOf(uint8(0)),
		Uint16:     reflect.TypeOf(uint16(0)),
		Uint32:     reflect.TypeOf(uint32(0)),
		Uint64:     reflect.TypeOf(uint64(0)),
		Float16:    float16Type,
		Float32:    reflect.TypeOf(float32(0)),
		Float64:    reflect.TypeOf(float64(0)),
		BFloat16:   bfloat16Type,
		Complex64:  reflect.TypeOf(complex64(0)),
		Complex128: reflect.TypeOf(complex128(0)),
	}
)

// FromGoType returns the DType for the given "reflect.Type", or InvalidDType if not supported.
//
// Go's `int` and `uint` are not supported, since their width is platform dependent and collectives
// need a fixed wire width.
func FromGoType(t reflect.Type) DType {
	if t == float16Type {
		return Float16
	} else if t == bfloat16Type {
		return BFloat16
	}
	switch t.Kind() {
	case reflect.Int64:
		return Int64
	case reflect.Int32:
		return Int32
	case reflect.Int16:
		return Int16
	case reflect.Int8:
		return Int8
	case reflect.Uint64:
		return Uint64
	case reflect.Uint32:
		return Uint32
	case reflect.Uint16:
		return Uint16
	case reflect.Uint8:
		return Uint8
	case reflect.Bool:
		return Bool
	case reflect.Float32:
		return Float32
	case reflect.Float64:
		return Float64
	case reflect.Complex64:
		return Complex64
	case reflect.Complex128:
		return Complex128
	default:
		return InvalidDType
	}
}

// FromAny introspects the underlying type of value and returns the corresponding DType.
func FromAny(value any) DType {
	return FromGoType(reflect.TypeOf(value))
}

// GoType returns the Go `reflect.Type` corresponding to the DType.
// It panics for invalid dtypes.
func (dtype DType) GoType() reflect.Type {
	t, found := goTypes[dtype]
	if !found {
		panicf("unknown dtype %s in DType.GoType", dtype)
	}
	return t
}

// IsValid returns whether dtype is one of the supported DType values.
func (dtype DType) IsValid() bool {
	_, found := goTypes[dtype]
	return found
}

// Size returns the number of bytes of one element of the given DType.
// This is the "element size" used to compute the payload of a collective.
func (dtype DType) Size() int {
	return int(dtype.GoType().Size())
}

// Bits returns the number of bits for the given DType.
func (dtype DType) Bits() int {
	return dtype.Size() * 8
}

// Memory returns the number of bytes for the given DType, as an uintptr.
func (dtype DType) Memory() uintptr {
	return uintptr(dtype.Size())
}

// SizeForDimensions returns the size in bytes used for the given dimensions.
// It works also for scalar (one element) shapes where the list of dimensions is empty.
func (dtype DType) SizeForDimensions(dimensions ...int) int {
	numElements := 1
	for _, dim := range dimensions {
		if dim < 0 {
			panicf("dim cannot be negative for SizeForDimensions, got %v", dimensions)
		}
		numElements *= dim
	}
	return numElements * dtype.Size()
}

// IsFloat returns whether dtype is a float type. It returns false for complex numbers.
func (dtype DType) IsFloat() bool {
	return dtype == Float32 || dtype == Float64 || dtype == Float16 || dtype == BFloat16
}

// IsFloat16 returns whether dtype is a float with 16 bits: Float16 or BFloat16.
func (dtype DType) IsFloat16() bool {
	return dtype == Float16 || dtype == BFloat16
}

// IsComplex returns whether dtype is a complex number type.
func (dtype DType) IsComplex() bool {
	return dtype == Complex64 || dtype == Complex128
}

// IsInt returns whether dtype is an integer type (signed or unsigned).
func (dtype DType) IsInt() bool {
	return dtype == Int64 || dtype == Int32 || dtype == Int16 || dtype == Int8 ||
		dtype == Uint8 || dtype == Uint16 || dtype == Uint32 || dtype == Uint64
}

// IsUnsigned returns whether dtype is one of the unsigned integer types.
func (dtype DType) IsUnsigned() bool {
	return dtype == Uint8 || dtype == Uint16 || dtype == Uint32 || dtype == Uint64
}

// Supported lists the Go types that can be held by a tensor.
// Used as traits for generics.
type Supported interface {
	bool | float16.Float16 | bfloat16.BFloat16 |
		float32 | float64 | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 |
		complex64 | complex128
}

// Number represents the native Go numeric types corresponding to supported DType's.
// It doesn't include float16.Float16 or bfloat16.BFloat16 because they are not native number types.
type Number interface {
	float32 | float64 | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | complex64 | complex128
}

// NumberNotComplex represents the ordered native Go numeric types.
type NumberNotComplex interface {
	float32 | float64 | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64
}
