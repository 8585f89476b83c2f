// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"bytes"
	"encoding/binary"
	"reflect"
	"slices"

	"github.com/gomcrdl/gomcrdl/pkg/core/dtypes"
	"github.com/pkg/errors"
)

// leadingDim returns the dimension of axis 0 and the number of elements per row of axis 0.
// Scalars are treated as a single row.
func (t *Tensor) leadingDim() (rows, rowSize int) {
	if len(t.dimensions) == 0 {
		return 1, 1
	}
	rows = t.dimensions[0]
	if rows == 0 {
		return 0, checkedSize(t.dimensions[1:])
	}
	return rows, t.Size() / rows
}

// Slice returns a view of rows [from, to) of axis 0. The view shares storage with t.
func (t *Tensor) Slice(from, to int) (*Tensor, error) {
	rows, rowSize := t.leadingDim()
	if from < 0 || to > rows || from > to {
		return nil, errors.Errorf("tensors.Slice(%d, %d) out of range for axis 0 of dimension %d", from, to, rows)
	}
	flatV := reflect.ValueOf(t.flat)
	start, end := from*rowSize, to*rowSize
	dims := slices.Clone(t.dimensions)
	if len(dims) == 0 {
		dims = []int{1}
	}
	dims[0] = to - from
	return &Tensor{
		dtype:      t.dtype,
		dimensions: dims,
		flat:       flatV.Slice3(start, end, end).Interface(),
	}, nil
}

// Split returns views of consecutive pieces of axis 0 with the given number of rows each.
// The sizes must add up to the dimension of axis 0.
func (t *Tensor) Split(sizes []int) ([]*Tensor, error) {
	rows, _ := t.leadingDim()
	total := 0
	for _, size := range sizes {
		if size < 0 {
			return nil, errors.Errorf("tensors.Split(): negative size in %v", sizes)
		}
		total += size
	}
	if total != rows {
		return nil, errors.Errorf("tensors.Split(): sizes %v add up to %d, but axis 0 has dimension %d",
			sizes, total, rows)
	}
	parts := make([]*Tensor, len(sizes))
	from := 0
	for ii, size := range sizes {
		part, err := t.Slice(from, from+size)
		if err != nil {
			return nil, err
		}
		parts[ii] = part
		from += size
	}
	return parts, nil
}

// Chunk splits the tensor into n contiguous equal views along axis 0, sharing storage with t.
//
// A 1-dimensional tensor of 8 elements chunked in 4 yields 4 views of 2 elements. It returns an
// error if the dimension of axis 0 is not divisible by n.
func (t *Tensor) Chunk(n int) ([]*Tensor, error) {
	if n <= 0 {
		return nil, errors.Errorf("tensors.Chunk(%d): number of chunks must be positive", n)
	}
	rows, _ := t.leadingDim()
	if rows%n != 0 {
		return nil, errors.Errorf("tensors.Chunk(%d): axis 0 dimension %d (shape %v) is not divisible by %d",
			n, rows, t.dimensions, n)
	}
	sizes := make([]int, n)
	for ii := range sizes {
		sizes[ii] = rows / n
	}
	return t.Split(sizes)
}

// Reshape returns a view of the tensor with new dimensions, and the same number of elements.
func (t *Tensor) Reshape(dimensions ...int) (*Tensor, error) {
	if checkedSize(dimensions) != t.Size() {
		return nil, errors.Errorf("tensors.Reshape(%v): tensor of shape %v has %d elements",
			dimensions, t.dimensions, t.Size())
	}
	return &Tensor{dtype: t.dtype, dimensions: slices.Clone(dimensions), flat: t.flat}, nil
}

// Concatenate returns a new tensor with the tensors concatenated along axis 0.
// All tensors must have the same dtype and the same dimensions on the other axes.
func Concatenate(parts ...*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, errors.New("tensors.Concatenate() requires at least one tensor")
	}
	first := parts[0]
	var inner []int
	if first.Rank() > 0 {
		inner = first.dimensions[1:]
	}
	rows := 0
	for ii, part := range parts {
		if part.dtype != first.dtype {
			return nil, errors.Errorf("tensors.Concatenate(): part #%d has dtype %s, expected %s",
				ii, part.dtype, first.dtype)
		}
		partRows, _ := part.leadingDim()
		var partInner []int
		if part.Rank() > 0 {
			partInner = part.dimensions[1:]
		}
		if !slices.Equal(inner, partInner) {
			return nil, errors.Errorf("tensors.Concatenate(): part #%d has shape %v, incompatible with %v",
				ii, part.dimensions, first.dimensions)
		}
		rows += partRows
	}
	dims := append([]int{rows}, inner...)
	result := FromShape(first.dtype, dims...)
	resultV := reflect.ValueOf(result.flat)
	pos := 0
	for _, part := range parts {
		partV := reflect.ValueOf(part.flat)
		pos += reflect.Copy(resultV.Slice(pos, resultV.Len()), partV)
	}
	return result, nil
}

// Bytes returns a little-endian encoding of the tensor data.
func (t *Tensor) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(int(t.Memory()))
	// Writes to a bytes.Buffer of fixed-size values never fail.
	_ = binary.Write(&buf, binary.LittleEndian, t.flat)
	return buf.Bytes()
}

// SetBytes overwrites the tensor data with the little-endian encoded data. The number of bytes must
// match Memory().
func (t *Tensor) SetBytes(data []byte) error {
	if int64(len(data)) != t.Memory() {
		return errors.Errorf("tensors.SetBytes(): got %d bytes, tensor %s%v requires %d",
			len(data), t.dtype, t.dimensions, t.Memory())
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, t.flat); err != nil {
		return errors.Wrapf(err, "tensors.SetBytes() failed to decode %s data", t.dtype)
	}
	return nil
}

// FromBytes decodes a new tensor of the given dtype and dimensions from little-endian data.
func FromBytes(dtype dtypes.DType, data []byte, dimensions ...int) (*Tensor, error) {
	t := FromShape(dtype, dimensions...)
	if err := t.SetBytes(data); err != nil {
		return nil, err
	}
	return t, nil
}
