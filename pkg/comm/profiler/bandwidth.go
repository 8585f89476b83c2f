// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package profiler

import (
	"math"
	"slices"
	"time"

	"github.com/pkg/errors"
)

// BandwidthUnit selects how bandwidths are reported.
type BandwidthUnit int

const (
	// Gbps is gigabits per second.
	Gbps BandwidthUnit = iota

	// GBps is gigabytes per second.
	GBps
)

// String implements fmt.Stringer.
func (u BandwidthUnit) String() string {
	if u == GBps {
		return "GBps"
	}
	return "Gbps"
}

// ParseBandwidthUnit parses "Gbps" or "GBps".
func ParseBandwidthUnit(s string) (BandwidthUnit, error) {
	switch s {
	case "Gbps":
		return Gbps, nil
	case "GBps":
		return GBps, nil
	}
	return Gbps, errors.Errorf("invalid bandwidth unit %q, valid values are \"Gbps\" and \"GBps\"", s)
}

// Bandwidth returns the algorithmic bandwidth (throughput) and the bus bandwidth of the operation with the
// given raw name, moving size bytes per rank in the given duration, in a group of worldSize ranks.
//
// The bus bandwidth normalizes the algorithmic one by the fraction of data each rank must send over the
// bus for the operation, so it is comparable across operations and world sizes.
func Bandwidth(op string, size int64, duration time.Duration, worldSize int, unit BandwidthUnit) (algbw, busbw float64, err error) {
	seconds := duration.Seconds()
	if seconds <= 0 {
		return 0, 0, nil
	}
	n := float64(max(worldSize, 1))
	bytes := float64(size)
	switch op {
	case "all_to_all", "all_to_all_single":
		algbw = bytes / seconds
		busbw = algbw * (n - 1) / n
	case "all_gather", "all_gather_into_tensor", "all_gather_coalesced", "reduce_scatter", "reduce_scatter_tensor":
		algbw = bytes * n / seconds
		busbw = algbw * (n - 1) / n
	case "all_reduce", "all_reduce_coalesced", "inference_all_reduce":
		algbw = 2 * bytes / seconds
		busbw = bytes / seconds * 2 * (n - 1) / n
	case "send", "recv", "isend", "irecv", "broadcast", "reduce", "gather", "scatter", "barrier", "pt2pt",
		"monitored_barrier":
		algbw = bytes / seconds
		busbw = algbw
	default:
		return 0, 0, errors.Errorf("unknown operation %q to compute bandwidth", op)
	}
	if unit == Gbps {
		algbw *= 8
		busbw *= 8
	}
	return algbw / 1e9, busbw / 1e9, nil
}

// TrimMean returns the mean of values after discarding the fraction trim of the smallest and of the
// largest values. E.g. trim=0.1 discards the lowest and highest 10%.
func TrimMean(values []float64, trim float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	n := len(sorted)
	k := int(math.Round(float64(n) * trim))
	if 2*k >= n {
		k = (n - 1) / 2
	}
	sum := 0.0
	for _, v := range sorted[k : n-k] {
		sum += v
	}
	return sum / float64(n-2*k)
}
