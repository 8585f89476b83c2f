// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors_test

import (
	"testing"

	"github.com/gomcrdl/gomcrdl/pkg/core/dtypes"
	"github.com/gomcrdl/gomcrdl/pkg/core/dtypes/bfloat16"
	. "github.com/gomcrdl/gomcrdl/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestConstructors(t *testing.T) {
	tensor := FromShape(dtypes.Float32, 2, 3)
	assert.Equal(t, dtypes.Float32, tensor.DType())
	assert.Equal(t, []int{2, 3}, tensor.Shape())
	assert.Equal(t, 6, tensor.Size())
	assert.Equal(t, int64(24), tensor.Memory())
	assert.Equal(t, make([]float32, 6), Flat[float32](tensor))

	tensor = FromFlatDataAndDimensions([]int8{1, 2, 3, 4})
	assert.Equal(t, []int{4}, tensor.Shape())
	assert.Equal(t, 1, tensor.ElementSize())

	tensor = FromScalarAndDimensions(int64(7), 2, 2)
	assert.Equal(t, []int64{7, 7, 7, 7}, Flat[int64](tensor))
	assert.Equal(t, 2, tensor.Rank())

	assert.Panics(t, func() { FromFlatDataAndDimensions([]float64{1, 2, 3}, 2, 2) })
	assert.Panics(t, func() { Flat[float64](FromShape(dtypes.Float32, 1)) })

	tensor, err := FromAnyFlatData([]uint16{1, 2, 3, 4}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Uint16, tensor.DType())
	_, err = FromAnyFlatData([]string{"a"})
	require.Error(t, err)
}

func TestChunkAliasing(t *testing.T) {
	data := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	tensor := FromFlatDataAndDimensions(data)
	chunks, err := tensor.Chunk(4)
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	for ii, chunk := range chunks {
		assert.Equal(t, []int{2}, chunk.Shape())
		assert.Equal(t, data[2*ii:2*ii+2], Flat[float32](chunk))
	}

	// Writes to a chunk are visible in the parent.
	Flat[float32](chunks[2])[1] = 100
	assert.Equal(t, float32(100), data[5])

	_, err = tensor.Chunk(3)
	require.Error(t, err)

	// Multi-dimensional tensors are chunked along axis 0.
	tensor = FromFlatDataAndDimensions([]int32{1, 2, 3, 4, 5, 6}, 3, 2)
	chunks, err = tensor.Chunk(3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, chunks[1].Shape())
	assert.Equal(t, []int32{3, 4}, Flat[int32](chunks[1]))
}

func TestSplitAndConcatenate(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]int32{1, 2, 3, 4, 5, 6}, 3, 2)
	parts, err := tensor.Split([]int{1, 0, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, parts[1].Shape())
	assert.Equal(t, []int32{3, 4, 5, 6}, Flat[int32](parts[2]))

	_, err = tensor.Split([]int{1, 1})
	require.Error(t, err)

	joined, err := Concatenate(parts...)
	require.NoError(t, err)
	assert.True(t, joined.Equal(tensor), "got %s", joined)

	_, err = Concatenate(tensor, FromShape(dtypes.Float32, 1, 2))
	require.Error(t, err)
	_, err = Concatenate(tensor, FromShape(dtypes.Int32, 1, 3))
	require.Error(t, err)
}

func TestCloneAndCopyFrom(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float64{1, 2, 3})
	cloned := tensor.Clone()
	Flat[float64](cloned)[0] = 10
	assert.Equal(t, []float64{1, 2, 3}, Flat[float64](tensor))

	require.NoError(t, tensor.CopyFrom(cloned))
	assert.Equal(t, []float64{10, 2, 3}, Flat[float64](tensor))
	require.Error(t, tensor.CopyFrom(FromShape(dtypes.Float64, 2)))
	require.Error(t, tensor.CopyFrom(FromShape(dtypes.Float32, 3)))

	reshaped, err := tensor.Reshape(3, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1}, reshaped.Shape())
	_, err = tensor.Reshape(2)
	require.Error(t, err)
}

func TestBytes(t *testing.T) {
	t.Run("int32", func(t *testing.T) {
		tensor := FromFlatDataAndDimensions([]int32{1, -1})
		encoded := tensor.Bytes()
		assert.Equal(t, []byte{1, 0, 0, 0, 0xff, 0xff, 0xff, 0xff}, encoded)
		decoded, err := FromBytes(dtypes.Int32, encoded, 2)
		require.NoError(t, err)
		assert.True(t, decoded.Equal(tensor))
	})

	t.Run("half floats", func(t *testing.T) {
		tensor := FromFlatDataAndDimensions([]float16.Float16{float16.Fromfloat32(1.5), float16.Fromfloat32(-2)})
		decoded, err := FromBytes(dtypes.Float16, tensor.Bytes(), 2)
		require.NoError(t, err)
		assert.True(t, decoded.Equal(tensor))

		bf := FromFlatDataAndDimensions([]bfloat16.BFloat16{bfloat16.FromFloat32(3)})
		decoded, err = FromBytes(dtypes.BFloat16, bf.Bytes(), 1)
		require.NoError(t, err)
		assert.Equal(t, float32(3), Flat[bfloat16.BFloat16](decoded)[0].Float32())
	})

	t.Run("bool and complex", func(t *testing.T) {
		tensor := FromFlatDataAndDimensions([]bool{true, false, true})
		decoded, err := FromBytes(dtypes.Bool, tensor.Bytes(), 3)
		require.NoError(t, err)
		assert.Equal(t, []bool{true, false, true}, Flat[bool](decoded))

		cTensor := FromFlatDataAndDimensions([]complex64{1 + 2i})
		assert.Len(t, cTensor.Bytes(), 8)
	})

	t.Run("size mismatch", func(t *testing.T) {
		tensor := FromShape(dtypes.Float32, 2)
		require.Error(t, tensor.SetBytes([]byte{1, 2, 3}))
	})
}
