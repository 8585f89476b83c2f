// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package collective

import (
	"context"

	"github.com/gomcrdl/gomcrdl/backends"
	"github.com/gomcrdl/gomcrdl/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Backend is an Engine tagged with a fixed set of capabilities. The optional primitives it doesn't
// have return backends.ErrNotImplemented.
//
// Backend variants are built by embedding it.
type Backend struct {
	*Engine
	capabilities backends.Capabilities
	usingMPI     bool
}

var _ backends.Backend = (*Backend)(nil)

// NewBackend returns a backend with the given capabilities. Call InitProcessGroup to connect it.
func NewBackend(name string, config backends.Config, capabilities backends.Capabilities, usingMPI bool) *Backend {
	return &Backend{
		Engine:       New(name, config),
		capabilities: capabilities,
		usingMPI:     usingMPI,
	}
}

// UsingMPI implements backends.Backend.
func (b *Backend) UsingMPI() bool { return b.usingMPI }

// Capabilities implements backends.Backend.
func (b *Backend) Capabilities() backends.Capabilities { return b.capabilities }

// HasAllGatherIntoTensor implements backends.Backend.
func (b *Backend) HasAllGatherIntoTensor() bool { return b.capabilities.AllGatherIntoTensor }

// HasReduceScatterTensor implements backends.Backend.
func (b *Backend) HasReduceScatterTensor() bool { return b.capabilities.ReduceScatterTensor }

// HasAllReduceCoalesced implements backends.Backend.
func (b *Backend) HasAllReduceCoalesced() bool { return b.capabilities.AllReduceCoalesced }

// HasCoalescingManager implements backends.Backend.
func (b *Backend) HasCoalescingManager() bool { return b.capabilities.CoalescingManager }

func (b *Backend) notImplemented(op string) error {
	return errors.Wrapf(backends.ErrNotImplemented, "%s backend doesn't support %s", b.Name(), op)
}

// AllGatherIntoTensor implements backends.CollectiveOps, if the backend has the capability.
func (b *Backend) AllGatherIntoTensor(ctx context.Context, output, input *tensors.Tensor, opts backends.CallOptions) (backends.Work, error) {
	if !b.capabilities.AllGatherIntoTensor {
		return nil, b.notImplemented("AllGatherIntoTensor")
	}
	return b.Engine.AllGatherIntoTensor(ctx, output, input, opts)
}

// ReduceScatterTensor implements backends.CollectiveOps, if the backend has the capability.
func (b *Backend) ReduceScatterTensor(ctx context.Context, output, input *tensors.Tensor, op backends.ReduceOp,
	opts backends.CallOptions) (backends.Work, error) {
	if !b.capabilities.ReduceScatterTensor {
		return nil, b.notImplemented("ReduceScatterTensor")
	}
	return b.Engine.ReduceScatterTensor(ctx, output, input, op, opts)
}

// AllReduceCoalesced implements backends.CollectiveOps, if the backend has the capability.
func (b *Backend) AllReduceCoalesced(ctx context.Context, tensorList []*tensors.Tensor, op backends.ReduceOp,
	opts backends.CallOptions) (backends.Work, error) {
	if !b.capabilities.AllReduceCoalesced {
		return nil, b.notImplemented("AllReduceCoalesced")
	}
	return b.Engine.AllReduceCoalesced(ctx, tensorList, op, opts)
}
