// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package collective

import (
	"testing"

	"github.com/gomcrdl/gomcrdl/backends"
	"github.com/gomcrdl/gomcrdl/pkg/core/dtypes"
	"github.com/gomcrdl/gomcrdl/pkg/core/dtypes/bfloat16"
	"github.com/gomcrdl/gomcrdl/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestCheckReduceOp(t *testing.T) {
	assert.NoError(t, CheckReduceOp(dtypes.Float32, backends.ReduceOpAvg))
	assert.NoError(t, CheckReduceOp(dtypes.Int8, backends.ReduceOpBXor))
	assert.NoError(t, CheckReduceOp(dtypes.Bool, backends.ReduceOpBAnd))
	assert.NoError(t, CheckReduceOp(dtypes.Complex64, backends.ReduceOpProduct))

	assert.Error(t, CheckReduceOp(dtypes.Float64, backends.ReduceOpBOr))
	assert.Error(t, CheckReduceOp(dtypes.Complex128, backends.ReduceOpMax))
	assert.Error(t, CheckReduceOp(dtypes.Bool, backends.ReduceOpAvg))
	assert.Error(t, CheckReduceOp(dtypes.Int32, backends.ReduceOpUndefined))
	assert.Error(t, CheckReduceOp(dtypes.InvalidDType, backends.ReduceOpSum))
}

func TestReduceInto(t *testing.T) {
	t.Run("Integers", func(t *testing.T) {
		for op, want := range map[backends.ReduceOp][]uint16{
			backends.ReduceOpSum:     {0b1101, 0b0111},
			backends.ReduceOpProduct: {0b1100 * 0b0001, 0b0110 * 0b0001},
			backends.ReduceOpMin:     {0b0001, 0b0001},
			backends.ReduceOpMax:     {0b1100, 0b0110},
			backends.ReduceOpBAnd:    {0b0000, 0b0000},
			backends.ReduceOpBOr:     {0b1101, 0b0111},
			backends.ReduceOpBXor:    {0b1101, 0b0111},
		} {
			acc := tensors.FromFlatDataAndDimensions([]uint16{0b1100, 0b0110})
			x := tensors.FromFlatDataAndDimensions([]uint16{0b0001, 0b0001})
			require.NoError(t, ReduceInto(acc, x, op))
			assert.Equal(t, want, tensors.Flat[uint16](acc), "op %s", op)
		}
	})

	t.Run("Bools", func(t *testing.T) {
		for op, want := range map[backends.ReduceOp][]bool{
			backends.ReduceOpSum:  {true, true, false},
			backends.ReduceOpMin:  {true, false, false},
			backends.ReduceOpBXor: {false, true, false},
		} {
			acc := tensors.FromFlatDataAndDimensions([]bool{true, true, false})
			x := tensors.FromFlatDataAndDimensions([]bool{true, false, false})
			require.NoError(t, ReduceInto(acc, x, op))
			assert.Equal(t, want, tensors.Flat[bool](acc), "op %s", op)
		}
	})

	t.Run("HalfPrecision", func(t *testing.T) {
		acc := tensors.FromFlatDataAndDimensions([]float16.Float16{float16.Fromfloat32(1.5), float16.Fromfloat32(-2)})
		x := tensors.FromFlatDataAndDimensions([]float16.Float16{float16.Fromfloat32(0.5), float16.Fromfloat32(4)})
		require.NoError(t, ReduceInto(acc, x, backends.ReduceOpSum))
		got := tensors.Flat[float16.Float16](acc)
		assert.Equal(t, float32(2), got[0].Float32())
		assert.Equal(t, float32(2), got[1].Float32())

		bAcc := tensors.FromFlatDataAndDimensions([]bfloat16.BFloat16{bfloat16.FromFloat32(3), bfloat16.FromFloat32(1)})
		bX := tensors.FromFlatDataAndDimensions([]bfloat16.BFloat16{bfloat16.FromFloat32(2), bfloat16.FromFloat32(5)})
		require.NoError(t, ReduceInto(bAcc, bX, backends.ReduceOpMax))
		bGot := tensors.Flat[bfloat16.BFloat16](bAcc)
		assert.Equal(t, float32(3), bGot[0].Float32())
		assert.Equal(t, float32(5), bGot[1].Float32())
	})

	t.Run("Complex", func(t *testing.T) {
		acc := tensors.FromFlatDataAndDimensions([]complex64{1 + 1i})
		x := tensors.FromFlatDataAndDimensions([]complex64{1 - 1i})
		require.NoError(t, ReduceInto(acc, x, backends.ReduceOpProduct))
		assert.Equal(t, []complex64{2}, tensors.Flat[complex64](acc))
		require.NoError(t, Average(acc, 4))
		assert.Equal(t, []complex64{0.5}, tensors.Flat[complex64](acc))
	})

	t.Run("Mismatch", func(t *testing.T) {
		acc := tensors.FromShape(dtypes.Float32, 3)
		assert.Error(t, ReduceInto(acc, tensors.FromShape(dtypes.Float64, 3), backends.ReduceOpSum))
		assert.Error(t, ReduceInto(acc, tensors.FromShape(dtypes.Float32, 2), backends.ReduceOpSum))
	})
}

func TestAverage(t *testing.T) {
	ints := tensors.FromFlatDataAndDimensions([]int32{7, -7, 8})
	require.NoError(t, Average(ints, 2))
	assert.Equal(t, []int32{3, -3, 4}, tensors.Flat[int32](ints))

	floats := tensors.FromFlatDataAndDimensions([]float64{1, 3})
	require.NoError(t, Average(floats, 4))
	assert.Equal(t, []float64{0.25, 0.75}, tensors.Flat[float64](floats))

	assert.Error(t, Average(floats, 0))
	assert.Error(t, Average(tensors.FromShape(dtypes.Bool, 1), 2))
}

func TestReduceReceivedHalfPrecision(t *testing.T) {
	// Pairwise half-precision sums would round every 2048+1 (256+1 for bfloat16) back down.
	t.Run("Float16", func(t *testing.T) {
		values := []float32{2048, 1, 1, 1, 1}
		received := make([][]byte, len(values))
		for ii, v := range values {
			received[ii] = tensors.FromFlatDataAndDimensions([]float16.Float16{float16.Fromfloat32(v)}).Bytes()
		}
		dst := tensors.FromShape(dtypes.Float16, 1)
		require.NoError(t, reduceReceived(dst, received, backends.ReduceOpSum))
		assert.Equal(t, float32(2052), tensors.Flat[float16.Float16](dst)[0].Float32())

		require.NoError(t, reduceReceived(dst, received, backends.ReduceOpAvg))
		assert.Equal(t, float16.Fromfloat32(2052.0/5), tensors.Flat[float16.Float16](dst)[0])
	})

	t.Run("BFloat16", func(t *testing.T) {
		values := []float32{256, 1, 1, 1, 1}
		received := make([][]byte, len(values))
		for ii, v := range values {
			received[ii] = tensors.FromFlatDataAndDimensions([]bfloat16.BFloat16{bfloat16.FromFloat32(v)}).Bytes()
		}
		dst := tensors.FromShape(dtypes.BFloat16, 1)
		require.NoError(t, reduceReceived(dst, received, backends.ReduceOpSum))
		assert.Equal(t, float32(260), tensors.Flat[bfloat16.BFloat16](dst)[0].Float32())
	})

	t.Run("InvalidOp", func(t *testing.T) {
		received := [][]byte{
			tensors.FromShape(dtypes.Float16, 1).Bytes(),
			tensors.FromShape(dtypes.Float16, 1).Bytes(),
		}
		assert.Error(t, reduceReceived(tensors.FromShape(dtypes.Float16, 1), received, backends.ReduceOpBXor))
	})
}
