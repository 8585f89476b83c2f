// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package comm

import (
	"context"

	"github.com/gomcrdl/gomcrdl/backends"
	"github.com/gomcrdl/gomcrdl/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ReduceScatterFn reduce-scatters input into output, with ReduceScatterTensor if the backend supports
// it. Otherwise, it splits input in group size chunks and uses the list-based ReduceScatter.
//
// Axis 0 of input must be divisible by the group size.
func (c *Comm) ReduceScatterFn(ctx context.Context, output, input *tensors.Tensor, op backends.ReduceOp,
	options ...CallOption) (backends.Work, error) {
	b, err := c.active()
	if err != nil {
		return nil, err
	}
	if b.HasReduceScatterTensor() {
		return c.ReduceScatterTensor(ctx, output, input, op, options...)
	}
	c.warnFallback(b, "reduce_scatter_tensor", "reduce_scatter")
	call := newCallConfig("", options)
	inputs, err := input.Chunk(b.GetWorldSize(call.Group))
	if err != nil {
		return nil, errors.WithMessage(err, "ReduceScatterFn failed to split input")
	}
	return c.ReduceScatter(ctx, output, inputs, op, options...)
}

// AllGatherFn gathers input of every rank into output, with AllGatherIntoTensor if the backend supports
// it. Otherwise, it splits output in group size chunks and uses the list-based AllGather.
//
// Axis 0 of output must be divisible by the group size.
func (c *Comm) AllGatherFn(ctx context.Context, output, input *tensors.Tensor, options ...CallOption) (backends.Work, error) {
	b, err := c.active()
	if err != nil {
		return nil, err
	}
	if b.HasAllGatherIntoTensor() {
		return c.AllGatherIntoTensor(ctx, output, input, options...)
	}
	c.warnFallback(b, "all_gather_into_tensor", "all_gather")
	call := newCallConfig("", options)
	outputs, err := output.Chunk(b.GetWorldSize(call.Group))
	if err != nil {
		return nil, errors.WithMessage(err, "AllGatherFn failed to split output")
	}
	return c.AllGather(ctx, outputs, input, options...)
}

// AllReduceCoalesced all-reduces each of the tensors. If the backend can't do it in one operation, it
// issues one AllReduce per tensor. It is recorded as "all_reduce".
func (c *Comm) AllReduceCoalesced(ctx context.Context, tensorList []*tensors.Tensor, op backends.ReduceOp,
	options ...CallOption) (backends.Work, error) {
	return c.dispatch(ctx, opDescriptor{"all_reduce_coalesced", payload(tensorList...)}, "all_reduce", options,
		func(b backends.Backend, opts backends.CallOptions) (backends.Work, error) {
			if b.HasAllReduceCoalesced() {
				return b.AllReduceCoalesced(ctx, tensorList, op, opts)
			}
			c.warnFallback(b, "all_reduce_coalesced", "all_reduce")
			works := make(workList, 0, len(tensorList))
			for _, tensor := range tensorList {
				work, err := b.AllReduce(ctx, tensor, op, opts)
				if err != nil {
					return works, err
				}
				works = append(works, work)
			}
			return works, nil
		})
}

// warnFallback warns, once per primitive and only on rank 0, that a slower fallback is used.
func (c *Comm) warnFallback(b backends.Backend, primitive, fallback string) {
	c.muWarned.Lock()
	defer c.muWarned.Unlock()
	if c.warned.Has(primitive) {
		return
	}
	c.warned.Insert(primitive)
	if b.GetRank(nil) == 0 {
		klog.Warningf("%s backend doesn't support %s, falling back to %s, which will result in suboptimal performance",
			b.Name(), primitive, fallback)
	}
}

// workList is the Work of a list of operations.
type workList []backends.Work

var _ backends.Work = workList(nil)

// Wait for all operations, and return the first error.
func (w workList) Wait(ctx context.Context) error {
	var firstErr error
	for _, work := range w {
		if err := work.Wait(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IsCompleted returns whether all operations completed.
func (w workList) IsCompleted() bool {
	for _, work := range w {
		if !work.IsCompleted() {
			return false
		}
	}
	return true
}
