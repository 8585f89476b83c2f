// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package notimplemented implements a backends.Backend that returns a "not implemented" error for all
// the collective operations.
//
// It is a world of one rank, with no capabilities. Embed it to create mock backends that override
// only the operations they need.
package notimplemented

import (
	"context"
	"time"

	"github.com/gomcrdl/gomcrdl/backends"
	"github.com/gomcrdl/gomcrdl/pkg/core/tensors"
	"github.com/pkg/errors"
)

// NotImplementedError is returned by every collective operation.
//
// It doesn't contain a stack, attach a stack to it with errors.Wrapf(NotImplementedError, "...") when using it.
var NotImplementedError = backends.ErrNotImplemented

// Backend is a dummy backend that can be embedded to create mock backends.
type Backend struct {
	initialized bool
	world       *backends.ProcessGroup
}

var _ backends.Backend = &Backend{}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return "notimplemented"
}

// InitProcessGroup marks the backend as initialized.
func (b *Backend) InitProcessGroup(context.Context) error {
	if b.world == nil {
		world, err := backends.NewProcessGroup(0, []int{0})
		if err != nil {
			return err
		}
		b.world = world
	}
	b.initialized = true
	return nil
}

// IsInitialized returns whether InitProcessGroup was called, and the backend not destroyed.
func (b *Backend) IsInitialized() bool {
	return b.initialized
}

// UsingMPI returns false.
func (b *Backend) UsingMPI() bool { return false }

// Capabilities returns empty capabilities.
func (b *Backend) Capabilities() backends.Capabilities { return backends.Capabilities{} }

func (b *Backend) HasAllGatherIntoTensor() bool { return false }
func (b *Backend) HasReduceScatterTensor() bool { return false }
func (b *Backend) HasAllReduceCoalesced() bool  { return false }
func (b *Backend) HasCoalescingManager() bool   { return false }

// GetRank returns 0 for the world group.
func (b *Backend) GetRank(group *backends.ProcessGroup) int {
	if group == nil {
		return 0
	}
	return group.GroupRank(0)
}

// GetWorldSize returns 1 for the world group.
func (b *Backend) GetWorldSize(group *backends.ProcessGroup) int {
	if group == nil {
		return 1
	}
	if !group.Has(0) {
		return -1
	}
	return group.Size()
}

// GetGlobalRank converts the group rank using the group.
func (b *Backend) GetGlobalRank(group *backends.ProcessGroup, groupRank int) (int, error) {
	if group == nil {
		group = b.WorldGroup()
	}
	if group == nil {
		return -1, errors.Wrapf(backends.ErrNotInitialized, "notimplemented backend")
	}
	return group.GlobalRank(groupRank)
}

// WorldGroup returns the group with the only rank, or nil if not initialized.
func (b *Backend) WorldGroup() *backends.ProcessGroup {
	return b.world
}

func (b *Backend) NewGroup(context.Context, []int) (*backends.ProcessGroup, error) {
	return nil, errors.Wrapf(NotImplementedError, "in NewGroup()")
}

// DestroyProcessGroup with a nil group marks the backend as not initialized.
func (b *Backend) DestroyProcessGroup(group *backends.ProcessGroup) error {
	if group == nil {
		b.initialized = false
	}
	return nil
}

// Synchronize returns immediately: there is never pending work.
func (b *Backend) Synchronize(context.Context) error {
	return nil
}

func (b *Backend) Broadcast(context.Context, *tensors.Tensor, int, backends.CallOptions) (backends.Work, error) {
	return nil, errors.Wrapf(NotImplementedError, "in Broadcast()")
}

func (b *Backend) AllReduce(context.Context, *tensors.Tensor, backends.ReduceOp, backends.CallOptions) (backends.Work, error) {
	return nil, errors.Wrapf(NotImplementedError, "in AllReduce()")
}

func (b *Backend) AllReduceCoalesced(context.Context, []*tensors.Tensor, backends.ReduceOp,
	backends.CallOptions) (backends.Work, error) {
	return nil, errors.Wrapf(NotImplementedError, "in AllReduceCoalesced()")
}

func (b *Backend) Reduce(context.Context, *tensors.Tensor, int, backends.ReduceOp, backends.CallOptions) (backends.Work, error) {
	return nil, errors.Wrapf(NotImplementedError, "in Reduce()")
}

func (b *Backend) AllGather(context.Context, []*tensors.Tensor, *tensors.Tensor, backends.CallOptions) (backends.Work, error) {
	return nil, errors.Wrapf(NotImplementedError, "in AllGather()")
}

func (b *Backend) AllGatherIntoTensor(context.Context, *tensors.Tensor, *tensors.Tensor, backends.CallOptions) (backends.Work, error) {
	return nil, errors.Wrapf(NotImplementedError, "in AllGatherIntoTensor()")
}

func (b *Backend) AllGatherCoalesced(context.Context, [][]*tensors.Tensor, []*tensors.Tensor,
	backends.CallOptions) (backends.Work, error) {
	return nil, errors.Wrapf(NotImplementedError, "in AllGatherCoalesced()")
}

func (b *Backend) ReduceScatter(context.Context, *tensors.Tensor, []*tensors.Tensor, backends.ReduceOp,
	backends.CallOptions) (backends.Work, error) {
	return nil, errors.Wrapf(NotImplementedError, "in ReduceScatter()")
}

func (b *Backend) ReduceScatterTensor(context.Context, *tensors.Tensor, *tensors.Tensor, backends.ReduceOp,
	backends.CallOptions) (backends.Work, error) {
	return nil, errors.Wrapf(NotImplementedError, "in ReduceScatterTensor()")
}

func (b *Backend) AllToAll(context.Context, []*tensors.Tensor, []*tensors.Tensor, backends.CallOptions) (backends.Work, error) {
	return nil, errors.Wrapf(NotImplementedError, "in AllToAll()")
}

func (b *Backend) AllToAllSingle(context.Context, *tensors.Tensor, *tensors.Tensor, []int, []int,
	backends.CallOptions) (backends.Work, error) {
	return nil, errors.Wrapf(NotImplementedError, "in AllToAllSingle()")
}

func (b *Backend) Gather(context.Context, *tensors.Tensor, []*tensors.Tensor, int, backends.CallOptions) (backends.Work, error) {
	return nil, errors.Wrapf(NotImplementedError, "in Gather()")
}

func (b *Backend) Scatter(context.Context, *tensors.Tensor, []*tensors.Tensor, int, backends.CallOptions) (backends.Work, error) {
	return nil, errors.Wrapf(NotImplementedError, "in Scatter()")
}

func (b *Backend) Send(context.Context, *tensors.Tensor, int, backends.CallOptions) error {
	return errors.Wrapf(NotImplementedError, "in Send()")
}

func (b *Backend) Recv(context.Context, *tensors.Tensor, int, backends.CallOptions) (int, error) {
	return -1, errors.Wrapf(NotImplementedError, "in Recv()")
}

func (b *Backend) ISend(context.Context, *tensors.Tensor, int, backends.CallOptions) (backends.Work, error) {
	return nil, errors.Wrapf(NotImplementedError, "in ISend()")
}

func (b *Backend) IRecv(context.Context, *tensors.Tensor, int, backends.CallOptions) (backends.Work, error) {
	return nil, errors.Wrapf(NotImplementedError, "in IRecv()")
}

func (b *Backend) Barrier(context.Context, backends.CallOptions) (backends.Work, error) {
	return nil, errors.Wrapf(NotImplementedError, "in Barrier()")
}

func (b *Backend) MonitoredBarrier(context.Context, time.Duration, bool, backends.CallOptions) error {
	return errors.Wrapf(NotImplementedError, "in MonitoredBarrier()")
}
