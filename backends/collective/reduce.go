// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package collective

import (
	"github.com/gomcrdl/gomcrdl/backends"
	"github.com/gomcrdl/gomcrdl/pkg/core/dtypes"
	"github.com/gomcrdl/gomcrdl/pkg/core/dtypes/bfloat16"
	"github.com/gomcrdl/gomcrdl/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// CheckReduceOp returns an error if op can't be used to reduce values of dtype.
//
// Bitwise operations require integer (or boolean) types, complex numbers only support SUM, AVG and
// PRODUCT, and booleans can't be averaged.
func CheckReduceOp(dtype dtypes.DType, op backends.ReduceOp) error {
	switch {
	case op <= backends.ReduceOpUndefined || op > backends.ReduceOpBXor:
		return errors.Errorf("invalid reduce operation %s", op)
	case !dtype.IsValid():
		return errors.Errorf("invalid dtype %s", dtype)
	case op.IsBitwise() && (dtype.IsFloat() || dtype.IsComplex()):
		return errors.Errorf("bitwise reduce operation %s not supported for dtype %s", op, dtype)
	case dtype.IsComplex() && (op == backends.ReduceOpMin || op == backends.ReduceOpMax):
		return errors.Errorf("reduce operation %s not supported for complex dtype %s", op, dtype)
	case dtype == dtypes.Bool && op == backends.ReduceOpAvg:
		return errors.Errorf("reduce operation %s not supported for dtype %s", op, dtype)
	}
	return nil
}

// ReduceInto combines x into acc element-wise with op: acc = op(acc, x).
//
// For ReduceOpAvg it sums: call Average once all values are reduced.
func ReduceInto(acc, x *tensors.Tensor, op backends.ReduceOp) error {
	if acc.DType() != x.DType() || acc.Size() != x.Size() {
		return errors.Errorf("cannot reduce %s%v into %s%v", x.DType(), x.Shape(), acc.DType(), acc.Shape())
	}
	if err := CheckReduceOp(acc.DType(), op); err != nil {
		return err
	}
	switch acc.DType() {
	case dtypes.Float32:
		reduceNumbers(tensors.Flat[float32](acc), tensors.Flat[float32](x), op)
	case dtypes.Float64:
		reduceNumbers(tensors.Flat[float64](acc), tensors.Flat[float64](x), op)
	case dtypes.Float16:
		reduceAsFloat32(tensors.Flat[float16.Float16](acc), tensors.Flat[float16.Float16](x), op,
			float16.Float16.Float32, float16.Fromfloat32)
	case dtypes.BFloat16:
		reduceAsFloat32(tensors.Flat[bfloat16.BFloat16](acc), tensors.Flat[bfloat16.BFloat16](x), op,
			bfloat16.BFloat16.Float32, bfloat16.FromFloat32)
	case dtypes.Int8:
		reduceIntegers(tensors.Flat[int8](acc), tensors.Flat[int8](x), op)
	case dtypes.Int16:
		reduceIntegers(tensors.Flat[int16](acc), tensors.Flat[int16](x), op)
	case dtypes.Int32:
		reduceIntegers(tensors.Flat[int32](acc), tensors.Flat[int32](x), op)
	case dtypes.Int64:
		reduceIntegers(tensors.Flat[int64](acc), tensors.Flat[int64](x), op)
	case dtypes.Uint8:
		reduceIntegers(tensors.Flat[uint8](acc), tensors.Flat[uint8](x), op)
	case dtypes.Uint16:
		reduceIntegers(tensors.Flat[uint16](acc), tensors.Flat[uint16](x), op)
	case dtypes.Uint32:
		reduceIntegers(tensors.Flat[uint32](acc), tensors.Flat[uint32](x), op)
	case dtypes.Uint64:
		reduceIntegers(tensors.Flat[uint64](acc), tensors.Flat[uint64](x), op)
	case dtypes.Complex64:
		reduceComplex(tensors.Flat[complex64](acc), tensors.Flat[complex64](x), op)
	case dtypes.Complex128:
		reduceComplex(tensors.Flat[complex128](acc), tensors.Flat[complex128](x), op)
	case dtypes.Bool:
		reduceBools(tensors.Flat[bool](acc), tensors.Flat[bool](x), op)
	default:
		return errors.Errorf("reduce not supported for dtype %s", acc.DType())
	}
	return nil
}

// Average divides every element of acc by n. Integer division truncates.
func Average(acc *tensors.Tensor, n int) error {
	if n <= 0 {
		return errors.Errorf("cannot average over %d values", n)
	}
	switch acc.DType() {
	case dtypes.Float32:
		divide(tensors.Flat[float32](acc), n)
	case dtypes.Float64:
		divide(tensors.Flat[float64](acc), n)
	case dtypes.Float16:
		flat := tensors.Flat[float16.Float16](acc)
		for ii, v := range flat {
			flat[ii] = float16.Fromfloat32(v.Float32() / float32(n))
		}
	case dtypes.BFloat16:
		flat := tensors.Flat[bfloat16.BFloat16](acc)
		for ii, v := range flat {
			flat[ii] = bfloat16.FromFloat32(v.Float32() / float32(n))
		}
	case dtypes.Int8:
		divide(tensors.Flat[int8](acc), n)
	case dtypes.Int16:
		divide(tensors.Flat[int16](acc), n)
	case dtypes.Int32:
		divide(tensors.Flat[int32](acc), n)
	case dtypes.Int64:
		divide(tensors.Flat[int64](acc), n)
	case dtypes.Uint8:
		divide(tensors.Flat[uint8](acc), n)
	case dtypes.Uint16:
		divide(tensors.Flat[uint16](acc), n)
	case dtypes.Uint32:
		divide(tensors.Flat[uint32](acc), n)
	case dtypes.Uint64:
		divide(tensors.Flat[uint64](acc), n)
	case dtypes.Complex64:
		divideComplex(tensors.Flat[complex64](acc), n)
	case dtypes.Complex128:
		divideComplex(tensors.Flat[complex128](acc), n)
	default:
		return errors.Errorf("average not supported for dtype %s", acc.DType())
	}
	return nil
}

// reduceReceived decodes the payloads (one per group rank, in group order) and reduces them into dst.
//
// Half-precision values are accumulated in float32 across all payloads and narrowed once at the end.
func reduceReceived(dst *tensors.Tensor, received [][]byte, op backends.ReduceOp) error {
	shape := dst.Shape()
	acc, err := tensors.FromBytes(dst.DType(), received[0], shape...)
	if err != nil {
		return err
	}
	switch dst.DType() {
	case dtypes.Float16:
		if err = reduceWidened(acc, received, op, float16.Float16.Float32, float16.Fromfloat32); err != nil {
			return err
		}
		return dst.CopyFrom(acc)
	case dtypes.BFloat16:
		if err = reduceWidened(acc, received, op, bfloat16.BFloat16.Float32, bfloat16.FromFloat32); err != nil {
			return err
		}
		return dst.CopyFrom(acc)
	}
	for _, data := range received[1:] {
		x, err := tensors.FromBytes(dst.DType(), data, shape...)
		if err != nil {
			return err
		}
		if err = ReduceInto(acc, x, op); err != nil {
			return err
		}
	}
	if op == backends.ReduceOpAvg {
		if err = Average(acc, len(received)); err != nil {
			return err
		}
	}
	return dst.CopyFrom(acc)
}

func reduceNumbers[T constraints.Integer | constraints.Float](acc, x []T, op backends.ReduceOp) {
	switch op {
	case backends.ReduceOpSum, backends.ReduceOpAvg:
		for ii := range acc {
			acc[ii] += x[ii]
		}
	case backends.ReduceOpProduct:
		for ii := range acc {
			acc[ii] *= x[ii]
		}
	case backends.ReduceOpMin:
		for ii := range acc {
			acc[ii] = min(acc[ii], x[ii])
		}
	case backends.ReduceOpMax:
		for ii := range acc {
			acc[ii] = max(acc[ii], x[ii])
		}
	}
}

func reduceIntegers[T constraints.Integer](acc, x []T, op backends.ReduceOp) {
	switch op {
	case backends.ReduceOpBAnd:
		for ii := range acc {
			acc[ii] &= x[ii]
		}
	case backends.ReduceOpBOr:
		for ii := range acc {
			acc[ii] |= x[ii]
		}
	case backends.ReduceOpBXor:
		for ii := range acc {
			acc[ii] ^= x[ii]
		}
	default:
		reduceNumbers(acc, x, op)
	}
}

func reduceComplex[T constraints.Complex](acc, x []T, op backends.ReduceOp) {
	switch op {
	case backends.ReduceOpSum, backends.ReduceOpAvg:
		for ii := range acc {
			acc[ii] += x[ii]
		}
	case backends.ReduceOpProduct:
		for ii := range acc {
			acc[ii] *= x[ii]
		}
	}
}

// reduceBools treats SUM and MAX as "or", PRODUCT and MIN as "and".
func reduceBools(acc, x []bool, op backends.ReduceOp) {
	for ii := range acc {
		switch op {
		case backends.ReduceOpSum, backends.ReduceOpMax, backends.ReduceOpBOr:
			acc[ii] = acc[ii] || x[ii]
		case backends.ReduceOpProduct, backends.ReduceOpMin, backends.ReduceOpBAnd:
			acc[ii] = acc[ii] && x[ii]
		case backends.ReduceOpBXor:
			acc[ii] = acc[ii] != x[ii]
		}
	}
}

// reduceAsFloat32 reduces half-precision values by widening them to float32 and narrowing the result back.
func reduceAsFloat32[T any](acc, x []T, op backends.ReduceOp, toFloat32 func(T) float32, fromFloat32 func(float32) T) {
	wideAcc := make([]float32, len(acc))
	wideX := make([]float32, len(x))
	for ii := range acc {
		wideAcc[ii] = toFloat32(acc[ii])
		wideX[ii] = toFloat32(x[ii])
	}
	reduceNumbers(wideAcc, wideX, op)
	for ii, v := range wideAcc {
		acc[ii] = fromFloat32(v)
	}
}

// reduceWidened reduces all payloads of a half-precision dtype into acc, keeping the running value
// (and the average) in float32.
func reduceWidened[T dtypes.Supported](acc *tensors.Tensor, received [][]byte, op backends.ReduceOp,
	toFloat32 func(T) float32, fromFloat32 func(float32) T) error {
	if err := CheckReduceOp(acc.DType(), op); err != nil {
		return err
	}
	shape := acc.Shape()
	wide := make([]float32, acc.Size())
	wideX := make([]float32, acc.Size())
	for ii, data := range received {
		x, err := tensors.FromBytes(acc.DType(), data, shape...)
		if err != nil {
			return err
		}
		target := wideX
		if ii == 0 {
			target = wide
		}
		for jj, v := range tensors.Flat[T](x) {
			target[jj] = toFloat32(v)
		}
		if ii > 0 {
			reduceNumbers(wide, wideX, op)
		}
	}
	if op == backends.ReduceOpAvg {
		divide(wide, len(received))
	}
	flat := tensors.Flat[T](acc)
	for ii, v := range wide {
		flat[ii] = fromFloat32(v)
	}
	return nil
}

func divide[T constraints.Integer | constraints.Float](acc []T, n int) {
	d := T(n)
	for ii := range acc {
		acc[ii] /= d
	}
}

func divideComplex[T constraints.Complex](acc []T, n int) {
	d := T(complex(float64(n), 0))
	for ii := range acc {
		acc[ii] /= d
	}
}
