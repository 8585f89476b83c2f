// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a host `Tensor`, the unit of data moved by collectives.
//
// A Tensor is a flat Go slice of one of the supported dtypes plus its dimensions (row-major).
// There are a few ways to construct one:
//
//   - FromShape(dtype, dimensions...): creates a tensor with the given shape and zero values.
//
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): wraps the given flat
//     data (it is not copied). Example:
//
//     t := FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2) // Tensor with [[1,2], [3,4]]
//
//   - FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int): filled with value.
//
// Views created with Chunk, Split or Slice share the underlying storage with their parent, so writing
// to a view writes to the parent. This is what allows a list-based collective to fill a flat output
// tensor in place.
package tensors

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/gomcrdl/gomcrdl/pkg/core/dtypes"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Tensor is a multidimensional array stored on the host.
//
// It is not safe for concurrent writes: the collective engine only writes to a tensor from one
// goroutine at a time, and callers shouldn't touch a tensor while an asynchronous operation on it
// is pending.
type Tensor struct {
	dtype      dtypes.DType
	dimensions []int

	// flat is a slice of the Go type corresponding to dtype, with as many elements as the shape.
	flat any
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
func FromShape(dtype dtypes.DType, dimensions ...int) *Tensor {
	if !dtype.IsValid() {
		exceptions.Panicf("tensors.FromShape(): invalid dtype %s", dtype)
	}
	size := checkedSize(dimensions)
	sliceT := reflect.SliceOf(dtype.GoType())
	return &Tensor{
		dtype:      dtype,
		dimensions: slices.Clone(dimensions),
		flat:       reflect.MakeSlice(sliceT, size, size).Interface(),
	}
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, backed by data.
// The data is not copied, so later changes to data are visible in the tensor.
//
// If no dimensions are given, the tensor is 1-dimensional with len(data) elements.
// It panics if the number of elements in data doesn't match the dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	if len(dimensions) == 0 {
		dimensions = []int{len(data)}
	}
	size := checkedSize(dimensions)
	if size != len(data) {
		exceptions.Panicf("FromFlatDataAndDimensions(): len(data)=%d, but dimensions %v require %d elements",
			len(data), dimensions, size)
	}
	return &Tensor{
		dtype:      dtypes.FromGenericsType[T](),
		dimensions: slices.Clone(dimensions),
		flat:       data,
	}
}

// FromScalarAndDimensions creates a tensor with the given dimensions, filled with value.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) *Tensor {
	size := checkedSize(dimensions)
	data := make([]T, size)
	for ii := range data {
		data[ii] = value
	}
	return &Tensor{
		dtype:      dtypes.FromGenericsType[T](),
		dimensions: slices.Clone(dimensions),
		flat:       data,
	}
}

// FromAnyFlatData is the non-generic version of FromFlatDataAndDimensions: flat must be a slice of
// a supported type.
func FromAnyFlatData(flat any, dimensions ...int) (*Tensor, error) {
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice {
		return nil, errors.Errorf("tensors.FromAnyFlatData() requires a slice, got %T", flat)
	}
	dtype := dtypes.FromGoType(flatV.Type().Elem())
	if dtype == dtypes.InvalidDType {
		return nil, errors.Errorf("tensors.FromAnyFlatData(): unsupported element type in %T", flat)
	}
	if len(dimensions) == 0 {
		dimensions = []int{flatV.Len()}
	}
	size := checkedSize(dimensions)
	if size != flatV.Len() {
		return nil, errors.Errorf("tensors.FromAnyFlatData(): %d elements given, dimensions %v require %d",
			flatV.Len(), dimensions, size)
	}
	return &Tensor{dtype: dtype, dimensions: slices.Clone(dimensions), flat: flat}, nil
}

func checkedSize(dimensions []int) int {
	size := 1
	for _, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("tensors: negative dimension in %v", dimensions)
		}
		size *= dim
	}
	return size
}

// DType returns the element type of the tensor.
func (t *Tensor) DType() dtypes.DType {
	return t.dtype
}

// Shape returns a copy of the dimensions of the tensor.
func (t *Tensor) Shape() []int {
	return slices.Clone(t.dimensions)
}

// Rank returns the number of axes.
func (t *Tensor) Rank() int {
	return len(t.dimensions)
}

// Size returns the number of elements.
func (t *Tensor) Size() int {
	return reflect.ValueOf(t.flat).Len()
}

// ElementSize returns the number of bytes of each element.
func (t *Tensor) ElementSize() int {
	return t.dtype.Size()
}

// Memory returns the number of bytes used by the tensor data.
// This is the "message size" of a collective on this tensor.
func (t *Tensor) Memory() int64 {
	return int64(t.Size()) * int64(t.ElementSize())
}

// FlatData returns the underlying flat slice (shared, not a copy) as an `any`.
func (t *Tensor) FlatData() any {
	return t.flat
}

// Flat returns the underlying flat slice (shared, not a copy).
// It panics if T doesn't match the tensor dtype.
func Flat[T dtypes.Supported](t *Tensor) []T {
	flat, ok := t.flat.([]T)
	if !ok {
		var zero T
		exceptions.Panicf("tensors.Flat[%T]() on a tensor of dtype %s", zero, t.dtype)
	}
	return flat
}

// CopyFlatData returns a copy of the flat data.
// It panics if T doesn't match the tensor dtype.
func CopyFlatData[T dtypes.Supported](t *Tensor) []T {
	return slices.Clone(Flat[T](t))
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	flatV := reflect.ValueOf(t.flat)
	cloned := reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
	reflect.Copy(cloned, flatV)
	return &Tensor{dtype: t.dtype, dimensions: slices.Clone(t.dimensions), flat: cloned.Interface()}
}

// CopyFrom copies the contents of src into t. They must have the same dtype and number of elements;
// dimensions may differ.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if src.dtype != t.dtype {
		return errors.Errorf("tensors.CopyFrom(): dtype mismatch, %s <- %s", t.dtype, src.dtype)
	}
	if src.Size() != t.Size() {
		return errors.Errorf("tensors.CopyFrom(): size mismatch, %d <- %d elements", t.Size(), src.Size())
	}
	reflect.Copy(reflect.ValueOf(t.flat), reflect.ValueOf(src.flat))
	return nil
}

// Equal returns whether both tensors have the same dtype, dimensions and values.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == other {
		return true
	}
	if t == nil || other == nil {
		return false
	}
	return t.dtype == other.dtype && slices.Equal(t.dimensions, other.dimensions) &&
		reflect.DeepEqual(t.flat, other.flat)
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	if t == nil {
		return "<nil tensor>"
	}
	return fmt.Sprintf("%s%v: %v", t.dtype, t.dimensions, t.flat)
}
