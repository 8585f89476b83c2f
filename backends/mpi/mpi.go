// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package mpi implements the "mpi" backend, with MPI semantics: operations are complete only after a
// barrier, which is what the instrumentation of the dispatch layer does when timing them.
//
// It has none of the optional primitives.
package mpi

import (
	"github.com/gomcrdl/gomcrdl/backends"
	"github.com/gomcrdl/gomcrdl/backends/collective"
)

// BackendName to be used with backends.New to select this backend.
const BackendName = "mpi"

func init() {
	backends.Register(BackendName, New)
}

// New returns an mpi backend. config.Transport is ignored.
func New(config backends.Config) (backends.Backend, error) {
	config.Transport = BackendName
	return collective.NewBackend(BackendName, config, backends.Capabilities{}, true), nil
}
