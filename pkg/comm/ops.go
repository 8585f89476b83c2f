// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package comm

import (
	"context"
	"time"

	"github.com/gomcrdl/gomcrdl/backends"
	"github.com/gomcrdl/gomcrdl/pkg/core/tensors"
)

// callConfig holds the options of one operation.
type callConfig struct {
	backends.CallOptions
	prof    bool
	logName string
}

// CallOption configures one operation.
type CallOption func(call *callConfig)

// WithGroup runs the operation on the group, instead of the world group.
func WithGroup(group *backends.ProcessGroup) CallOption {
	return func(call *callConfig) { call.Group = group }
}

// Async returns as soon as the operation is issued: use the returned backends.Work to wait for it.
func Async() CallOption {
	return func(call *callConfig) { call.Async = true }
}

// WithTag sets the tag that matches point-to-point sends and receives.
func WithTag(tag int) CallOption {
	return func(call *callConfig) { call.Tag = tag }
}

// Prof profiles this call, even if the operation is not configured to be profiled.
// Instrumentation must still be enabled.
func Prof() CallOption {
	return func(call *callConfig) { call.prof = true }
}

// LogName sets the name the call is recorded under, and matched against the profiled operations.
func LogName(name string) CallOption {
	return func(call *callConfig) { call.logName = name }
}

func newCallConfig(defaultLogName string, options []CallOption) *callConfig {
	call := &callConfig{logName: defaultLogName}
	for _, option := range options {
		option(call)
	}
	return call
}

// dispatch checks the Comm is initialized, and runs fn instrumented as the operation op.
func (c *Comm) dispatch(ctx context.Context, op opDescriptor, defaultLogName string, options []CallOption,
	fn func(b backends.Backend, opts backends.CallOptions) (backends.Work, error)) (backends.Work, error) {
	b, err := c.active()
	if err != nil {
		return nil, err
	}
	call := newCallConfig(defaultLogName, options)
	var work backends.Work
	err = c.instrument(ctx, b, op, call, func() error {
		var err error
		work, err = fn(b, call.CallOptions)
		return err
	})
	return work, err
}

// Broadcast copies tensor from rank src to all ranks of the group.
func (c *Comm) Broadcast(ctx context.Context, tensor *tensors.Tensor, src int, options ...CallOption) (backends.Work, error) {
	return c.dispatch(ctx, opDescriptor{"broadcast", payload(tensor)}, "broadcast", options,
		func(b backends.Backend, opts backends.CallOptions) (backends.Work, error) {
			return b.Broadcast(ctx, tensor, src, opts)
		})
}

// AllReduce reduces tensor across all ranks of the group, leaving the result in tensor on every rank.
func (c *Comm) AllReduce(ctx context.Context, tensor *tensors.Tensor, op backends.ReduceOp, options ...CallOption) (backends.Work, error) {
	return c.dispatch(ctx, opDescriptor{"all_reduce", payload(tensor)}, "all_reduce", options,
		func(b backends.Backend, opts backends.CallOptions) (backends.Work, error) {
			return b.AllReduce(ctx, tensor, op, opts)
		})
}

// InferenceAllReduce is an AllReduce issued from inference code. It is recorded as "all_reduce".
func (c *Comm) InferenceAllReduce(ctx context.Context, tensor *tensors.Tensor, op backends.ReduceOp,
	options ...CallOption) (backends.Work, error) {
	return c.dispatch(ctx, opDescriptor{"inference_all_reduce", payload(tensor)}, "all_reduce", options,
		func(b backends.Backend, opts backends.CallOptions) (backends.Work, error) {
			return b.AllReduce(ctx, tensor, op, opts)
		})
}

// Reduce reduces tensor across all ranks of the group, leaving the result in tensor of rank dst.
func (c *Comm) Reduce(ctx context.Context, tensor *tensors.Tensor, dst int, op backends.ReduceOp,
	options ...CallOption) (backends.Work, error) {
	return c.dispatch(ctx, opDescriptor{"reduce", payload(tensor)}, "reduce", options,
		func(b backends.Backend, opts backends.CallOptions) (backends.Work, error) {
			return b.Reduce(ctx, tensor, dst, op, opts)
		})
}

// AllGather collects input of every rank: outputs[i] receives the input of group rank i.
func (c *Comm) AllGather(ctx context.Context, outputs []*tensors.Tensor, input *tensors.Tensor,
	options ...CallOption) (backends.Work, error) {
	return c.dispatch(ctx, opDescriptor{"all_gather", payload(input)}, "all_gather", options,
		func(b backends.Backend, opts backends.CallOptions) (backends.Work, error) {
			return b.AllGather(ctx, outputs, input, opts)
		})
}

// AllGatherIntoTensor collects input of every rank into output, split along axis 0 in group size chunks.
// It fails with backends.ErrNotImplemented if the backend doesn't support it: see AllGatherFn.
func (c *Comm) AllGatherIntoTensor(ctx context.Context, output, input *tensors.Tensor, options ...CallOption) (backends.Work, error) {
	return c.dispatch(ctx, opDescriptor{"all_gather_into_tensor", payload(input)}, "all_gather_into_tensor", options,
		func(b backends.Backend, opts backends.CallOptions) (backends.Work, error) {
			return b.AllGatherIntoTensor(ctx, output, input, opts)
		})
}

// AllGatherCoalesced all-gathers a list of tensors: outputs[i][j] receives inputs[j] of group rank i.
func (c *Comm) AllGatherCoalesced(ctx context.Context, outputs [][]*tensors.Tensor, inputs []*tensors.Tensor,
	options ...CallOption) (backends.Work, error) {
	return c.dispatch(ctx, opDescriptor{"all_gather_coalesced", payload(inputs...)}, "all_gather_coalesced", options,
		func(b backends.Backend, opts backends.CallOptions) (backends.Work, error) {
			return b.AllGatherCoalesced(ctx, outputs, inputs, opts)
		})
}

// ReduceScatter reduces inputs[i] of all ranks into output of group rank i.
func (c *Comm) ReduceScatter(ctx context.Context, output *tensors.Tensor, inputs []*tensors.Tensor, op backends.ReduceOp,
	options ...CallOption) (backends.Work, error) {
	return c.dispatch(ctx, opDescriptor{"reduce_scatter", payload(output)}, "reduce_scatter", options,
		func(b backends.Backend, opts backends.CallOptions) (backends.Work, error) {
			return b.ReduceScatter(ctx, output, inputs, op, opts)
		})
}

// ReduceScatterTensor is like ReduceScatter with input split along axis 0 in group size chunks.
// It fails with backends.ErrNotImplemented if the backend doesn't support it: see ReduceScatterFn.
func (c *Comm) ReduceScatterTensor(ctx context.Context, output, input *tensors.Tensor, op backends.ReduceOp,
	options ...CallOption) (backends.Work, error) {
	return c.dispatch(ctx, opDescriptor{"reduce_scatter_tensor", payload(output)}, "reduce_scatter_tensor", options,
		func(b backends.Backend, opts backends.CallOptions) (backends.Work, error) {
			return b.ReduceScatterTensor(ctx, output, input, op, opts)
		})
}

// AllToAll sends inputs[i] to group rank i, and receives outputs[i] from group rank i.
func (c *Comm) AllToAll(ctx context.Context, outputs, inputs []*tensors.Tensor, options ...CallOption) (backends.Work, error) {
	return c.dispatch(ctx, opDescriptor{"all_to_all", payload(inputs...)}, "all_to_all", options,
		func(b backends.Backend, opts backends.CallOptions) (backends.Work, error) {
			return b.AllToAll(ctx, outputs, inputs, opts)
		})
}

// AllToAllSingle is like AllToAll with single tensors split along axis 0, in the given split sizes
// (or in group size equal chunks, if empty).
func (c *Comm) AllToAllSingle(ctx context.Context, output, input *tensors.Tensor, outputSplitSizes, inputSplitSizes []int,
	options ...CallOption) (backends.Work, error) {
	return c.dispatch(ctx, opDescriptor{"all_to_all_single", payload(input)}, "all_to_all_single", options,
		func(b backends.Backend, opts backends.CallOptions) (backends.Work, error) {
			return b.AllToAllSingle(ctx, output, input, outputSplitSizes, inputSplitSizes, opts)
		})
}

// Gather collects tensor of every rank into gatherList on rank dst.
func (c *Comm) Gather(ctx context.Context, tensor *tensors.Tensor, gatherList []*tensors.Tensor, dst int,
	options ...CallOption) (backends.Work, error) {
	return c.dispatch(ctx, opDescriptor{"gather", payload(tensor)}, "gather", options,
		func(b backends.Backend, opts backends.CallOptions) (backends.Work, error) {
			return b.Gather(ctx, tensor, gatherList, dst, opts)
		})
}

// Scatter sends scatterList[i] of rank src to group rank i, into tensor.
func (c *Comm) Scatter(ctx context.Context, tensor *tensors.Tensor, scatterList []*tensors.Tensor, src int,
	options ...CallOption) (backends.Work, error) {
	return c.dispatch(ctx, opDescriptor{"scatter", payload(tensor)}, "scatter", options,
		func(b backends.Backend, opts backends.CallOptions) (backends.Work, error) {
			return b.Scatter(ctx, tensor, scatterList, src, opts)
		})
}

// Send tensor to rank dst.
func (c *Comm) Send(ctx context.Context, tensor *tensors.Tensor, dst int, options ...CallOption) error {
	_, err := c.dispatch(ctx, opDescriptor{"send", payload(tensor)}, "send", options,
		func(b backends.Backend, opts backends.CallOptions) (backends.Work, error) {
			return nil, b.Send(ctx, tensor, dst, opts)
		})
	return err
}

// Recv receives tensor from rank src, or from any rank if src is -1. It returns the sender rank.
func (c *Comm) Recv(ctx context.Context, tensor *tensors.Tensor, src int, options ...CallOption) (int, error) {
	sender := -1
	_, err := c.dispatch(ctx, opDescriptor{"recv", payload(tensor)}, "recv", options,
		func(b backends.Backend, opts backends.CallOptions) (backends.Work, error) {
			var err error
			sender, err = b.Recv(ctx, tensor, src, opts)
			return nil, err
		})
	return sender, err
}

// ISend sends tensor to rank dst asynchronously.
func (c *Comm) ISend(ctx context.Context, tensor *tensors.Tensor, dst int, options ...CallOption) (backends.Work, error) {
	return c.dispatch(ctx, opDescriptor{"isend", payload(tensor)}, "isend", options,
		func(b backends.Backend, opts backends.CallOptions) (backends.Work, error) {
			return b.ISend(ctx, tensor, dst, opts)
		})
}

// IRecv receives tensor from rank src (or any rank, if -1) asynchronously.
func (c *Comm) IRecv(ctx context.Context, tensor *tensors.Tensor, src int, options ...CallOption) (backends.Work, error) {
	return c.dispatch(ctx, opDescriptor{"irecv", payload(tensor)}, "irecv", options,
		func(b backends.Backend, opts backends.CallOptions) (backends.Work, error) {
			return b.IRecv(ctx, tensor, src, opts)
		})
}

// Barrier blocks until all ranks of the group reach it.
func (c *Comm) Barrier(ctx context.Context, options ...CallOption) (backends.Work, error) {
	return c.dispatch(ctx, opDescriptor{name: "barrier"}, "barrier", options,
		func(b backends.Backend, opts backends.CallOptions) (backends.Work, error) {
			return b.Barrier(ctx, opts)
		})
}

// MonitoredBarrier is a barrier that fails if some rank doesn't reach it within timeout. If timeout is
// 0, the timeout of the backend is used. If waitAllRanks, the error lists all the missing ranks.
func (c *Comm) MonitoredBarrier(ctx context.Context, timeout time.Duration, waitAllRanks bool, options ...CallOption) error {
	_, err := c.dispatch(ctx, opDescriptor{name: "monitored_barrier"}, "monitored_barrier", options,
		func(b backends.Backend, opts backends.CallOptions) (backends.Work, error) {
			return nil, b.MonitoredBarrier(ctx, timeout, waitAllRanks, opts)
		})
	return err
}
