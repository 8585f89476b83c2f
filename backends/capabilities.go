// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"strings"
)

// Capabilities holds the optional primitives supported by a backend.
// If not set, it's assumed to be false, hence not supported, and the dispatch layer uses a fallback.
type Capabilities struct {
	// AllGatherIntoTensor gathers into one flat output tensor (vs. a list of per-rank outputs).
	AllGatherIntoTensor bool

	// ReduceScatterTensor reduce-scatters one flat input tensor (vs. a list of per-rank inputs).
	ReduceScatterTensor bool

	// CoalescingManager batches several collectives into one launch.
	CoalescingManager bool

	// AllReduceCoalesced all-reduces a list of tensors in one operation.
	AllReduceCoalesced bool
}

// String lists the supported capabilities.
func (c Capabilities) String() string {
	var parts []string
	for _, capability := range []struct {
		name      string
		supported bool
	}{
		{"all_gather_into_tensor", c.AllGatherIntoTensor},
		{"reduce_scatter_tensor", c.ReduceScatterTensor},
		{"coalescing_manager", c.CoalescingManager},
		{"all_reduce_coalesced", c.AllReduceCoalesced},
	} {
		if capability.supported {
			parts = append(parts, capability.name)
		}
	}
	return fmt.Sprintf("Capabilities{%s}", strings.Join(parts, ", "))
}
