// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package native implements the "native" backend: the distributed runtime's own process groups, over
// one of its transports ("nccl", "gloo" or "mpi").
//
// It supports all the optional primitives, so the dispatch layer never falls back when using it.
//
// To use it simply include:
//
//	import _ "github.com/gomcrdl/gomcrdl/backends/native"
package native

import (
	"slices"

	"github.com/gomcrdl/gomcrdl/backends"
	"github.com/gomcrdl/gomcrdl/backends/collective"
	"github.com/pkg/errors"
)

// BackendName to be used with backends.New to select this backend.
const BackendName = "native"

// DefaultTransport is used when backends.Config.Transport is empty.
const DefaultTransport = "nccl"

// Transports supported by the native backend.
var Transports = []string{"nccl", "gloo", "mpi"}

// Capabilities of the native backend: everything is supported.
var Capabilities = backends.Capabilities{
	AllGatherIntoTensor: true,
	ReduceScatterTensor: true,
	CoalescingManager:   true,
	AllReduceCoalesced:  true,
}

func init() {
	backends.Register(BackendName, New)
}

// Backend implements backends.Backend for the native runtime.
type Backend struct {
	*collective.Backend
	transport string
}

var _ backends.Backend = (*Backend)(nil)

// New returns a native backend over the transport named in config.Transport.
func New(config backends.Config) (backends.Backend, error) {
	transport := config.Transport
	if transport == "" {
		transport = DefaultTransport
	}
	if !slices.Contains(Transports, transport) {
		return nil, errors.Errorf("native backend doesn't support transport %q, valid values are %v", transport, Transports)
	}
	config.Transport = transport
	return &Backend{
		Backend:   collective.NewBackend(BackendName, config, Capabilities, transport == "mpi"),
		transport: transport,
	}, nil
}

// Transport returns the name of the transport used by the backend.
func (b *Backend) Transport() string {
	return b.transport
}
