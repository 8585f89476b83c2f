// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI tools for benchmarks on the command line: a progress
// display for scans over message sizes, and formatting of benchmark results.
package commandline

import "fmt"

// FormatBandwidth formats a bandwidth, already in the unit of choice (Gbps or GBps).
func FormatBandwidth(bw float64) string {
	return fmt.Sprintf("%.3f", bw)
}
