// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package nccl implements the "nccl" backend, talking directly to the high-performance interconnect
// library instead of going through the native runtime.
//
// Of the optional primitives it only has AllGatherIntoTensor: reduce-scatter of flat tensors and
// coalesced all-reduce go through the fallbacks of the dispatch layer.
package nccl

import (
	"github.com/gomcrdl/gomcrdl/backends"
	"github.com/gomcrdl/gomcrdl/backends/collective"
)

// BackendName to be used with backends.New to select this backend.
const BackendName = "nccl"

// Capabilities of the nccl backend.
var Capabilities = backends.Capabilities{
	AllGatherIntoTensor: true,
}

func init() {
	backends.Register(BackendName, New)
}

// New returns a nccl backend. config.Transport is ignored.
func New(config backends.Config) (backends.Backend, error) {
	config.Transport = BackendName
	return collective.NewBackend(BackendName, config, Capabilities, false), nil
}
