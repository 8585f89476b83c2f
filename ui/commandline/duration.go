// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"time"
)

// FormatLatency pretty prints the latency of an operation: in microseconds if below one millisecond,
// in milliseconds otherwise. If raw, it is always printed in microseconds, without the unit.
func FormatLatency(d time.Duration, raw bool) string {
	us := float64(d) / float64(time.Microsecond)
	switch {
	case raw:
		return fmt.Sprintf("%.3f", us)
	case us < 1e3:
		return fmt.Sprintf("%.3f us", us)
	default:
		return fmt.Sprintf("%.3f ms", us/1e3)
	}
}
