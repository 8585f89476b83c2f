// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"context"
	"time"

	"github.com/gomcrdl/gomcrdl/pkg/core/tensors"
)

// CallOptions are the options shared by every collective.
type CallOptions struct {
	// Group the operation runs on. If nil, the world group is used.
	Group *ProcessGroup

	// Async makes the operation return before it completes: use the returned Work to wait for it.
	// Tensors involved must not be touched until then.
	Async bool

	// Tag matches point-to-point sends and receives.
	Tag int
}

// CollectiveOps is the interface for collective operations, that is, operations executed by all the
// ranks of a process group.
//
// All ranks of the group must issue the same collectives in the same order. Ranks given as source or
// destination (src, dst) are global ranks. Tensors are modified in place.
type CollectiveOps interface {
	// Broadcast copies tensor from rank src to all other ranks of the group.
	Broadcast(ctx context.Context, tensor *tensors.Tensor, src int, opts CallOptions) (Work, error)

	// AllReduce reduces tensor across all ranks, and leaves the result in tensor on every rank.
	AllReduce(ctx context.Context, tensor *tensors.Tensor, op ReduceOp, opts CallOptions) (Work, error)

	// AllReduceCoalesced all-reduces each of the tensors as one operation.
	// Optional: see Capabilities.AllReduceCoalesced.
	AllReduceCoalesced(ctx context.Context, tensorList []*tensors.Tensor, op ReduceOp, opts CallOptions) (Work, error)

	// Reduce reduces tensor across all ranks, leaving the result only in rank dst.
	Reduce(ctx context.Context, tensor *tensors.Tensor, dst int, op ReduceOp, opts CallOptions) (Work, error)

	// AllGather collects input from every rank: outputs[i] receives the input of group rank i.
	AllGather(ctx context.Context, outputs []*tensors.Tensor, input *tensors.Tensor, opts CallOptions) (Work, error)

	// AllGatherIntoTensor is like AllGather, but output is one tensor whose axis 0 is split in
	// group-size equal chunks. Optional: see Capabilities.AllGatherIntoTensor.
	AllGatherIntoTensor(ctx context.Context, output, input *tensors.Tensor, opts CallOptions) (Work, error)

	// AllGatherCoalesced all-gathers a list of tensors: outputs[i][j] receives inputs[j] of group rank i.
	AllGatherCoalesced(ctx context.Context, outputs [][]*tensors.Tensor, inputs []*tensors.Tensor, opts CallOptions) (Work, error)

	// ReduceScatter reduces inputs[i] of all ranks into output of group rank i.
	ReduceScatter(ctx context.Context, output *tensors.Tensor, inputs []*tensors.Tensor, op ReduceOp, opts CallOptions) (Work, error)

	// ReduceScatterTensor is like ReduceScatter, but input is one tensor whose axis 0 is split in
	// group-size equal chunks. Optional: see Capabilities.ReduceScatterTensor.
	ReduceScatterTensor(ctx context.Context, output, input *tensors.Tensor, op ReduceOp, opts CallOptions) (Work, error)

	// AllToAll sends inputs[i] to group rank i, and receives outputs[i] from group rank i.
	AllToAll(ctx context.Context, outputs, inputs []*tensors.Tensor, opts CallOptions) (Work, error)

	// AllToAllSingle is like AllToAll with single input/output tensors split along axis 0.
	// If the split sizes are empty, the tensors are split in group-size equal chunks.
	AllToAllSingle(ctx context.Context, output, input *tensors.Tensor, outputSplitSizes, inputSplitSizes []int,
		opts CallOptions) (Work, error)

	// Gather collects tensor from every rank into gatherList (indexed by group rank) on rank dst.
	// gatherList is only used on rank dst.
	Gather(ctx context.Context, tensor *tensors.Tensor, gatherList []*tensors.Tensor, dst int, opts CallOptions) (Work, error)

	// Scatter sends scatterList[i] from rank src to group rank i, which receives it in tensor.
	// scatterList is only used on rank src.
	Scatter(ctx context.Context, tensor *tensors.Tensor, scatterList []*tensors.Tensor, src int, opts CallOptions) (Work, error)

	// Send tensor to rank dst, blocking until it is handed to the transport.
	Send(ctx context.Context, tensor *tensors.Tensor, dst int, opts CallOptions) error

	// Recv receives into tensor from rank src (or from any rank, if src is -1).
	// It returns the rank that sent it.
	Recv(ctx context.Context, tensor *tensors.Tensor, src int, opts CallOptions) (int, error)

	// ISend is the asynchronous version of Send.
	ISend(ctx context.Context, tensor *tensors.Tensor, dst int, opts CallOptions) (Work, error)

	// IRecv is the asynchronous version of Recv.
	IRecv(ctx context.Context, tensor *tensors.Tensor, src int, opts CallOptions) (Work, error)

	// Barrier blocks until all ranks of the group reach it.
	Barrier(ctx context.Context, opts CallOptions) (Work, error)

	// MonitoredBarrier is a synchronous barrier that fails if not every rank reaches it within timeout.
	// If waitAllRanks, the error lists all ranks that failed to reach it, and not only the first one.
	MonitoredBarrier(ctx context.Context, timeout time.Duration, waitAllRanks bool, opts CallOptions) error
}
