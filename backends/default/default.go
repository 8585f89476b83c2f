// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package _default includes the default backends, namely native, nccl and mpi.
//
// To use it simply include:
//
//	import _ "github.com/gomcrdl/gomcrdl/backends/default"
package _default

import (
	_ "github.com/gomcrdl/gomcrdl/backends/mpi"
	_ "github.com/gomcrdl/gomcrdl/backends/native"
	_ "github.com/gomcrdl/gomcrdl/backends/nccl"
)
