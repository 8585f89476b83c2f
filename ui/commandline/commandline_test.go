// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatLatency(t *testing.T) {
	assert.Equal(t, "12.500 us", FormatLatency(12500*time.Nanosecond, false))
	assert.Equal(t, "12.500", FormatLatency(12500*time.Nanosecond, true))
	assert.Equal(t, "3.250 ms", FormatLatency(3250*time.Microsecond, false))
	assert.Equal(t, "3250.000", FormatLatency(3250*time.Microsecond, true))
}

func TestScanProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewScanProgress(&buf, 2, "all_reduce")
	p.Step(Metric{"Message size", "1.0 KiB"}, Metric{"BusBW (Gbps)", FormatBandwidth(1.5)})
	p.Step(Metric{"Message size", "2.0 KiB"}, Metric{"BusBW (Gbps)", FormatBandwidth(2.25)})
	p.Done()
	assert.Contains(t, buf.String(), "Message size")
	assert.Contains(t, buf.String(), "KiB")
}
