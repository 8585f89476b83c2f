// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package profiler records the latency and bandwidth of communication operations, and prints summaries.
//
// The CommsLogger aggregates samples per record name (usually the log name of the operation) and
// message size. Summaries use trimmed means to be robust to outliers such as the first (warm-up) call.
package profiler

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomcrdl/gomcrdl/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultTrim is the fraction of lowest and highest values discarded when averaging samples.
const DefaultTrim = 0.1

// Stats accumulated for one record name and message size.
type Stats struct {
	Count     int
	Latencies []time.Duration
	// AlgBW and BusBW in Gbps, one per sample.
	AlgBW, BusBW []float64
}

// MinReducer computes the element-wise minimum of values across all ranks. It is a collective:
// every rank must call it with the same number of values, in the same order.
type MinReducer func(ctx context.Context, values []float64) ([]float64, error)

// CommsLogger aggregates the samples of the profiled communication operations.
// It is safe for concurrent use.
type CommsLogger struct {
	mu        sync.Mutex
	config    Config
	profOps   sets.Set[string]
	worldSize int
	records   map[string]map[int64]*Stats
}

// NewCommsLogger returns a logger with the default configuration, for a world of one rank.
func NewCommsLogger() *CommsLogger {
	l := &CommsLogger{worldSize: 1, records: make(map[string]map[int64]*Stats)}
	l.Configure(DefaultConfig())
	return l
}

// Configure replaces the configuration of the logger.
func (l *CommsLogger) Configure(config Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config = config
	l.config.ProfOps = slices.Clone(config.ProfOps)
	l.profOps = sets.MakeWith(config.ProfOps...)
}

// Config returns a copy of the current configuration.
func (l *CommsLogger) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	config := l.config
	config.ProfOps = slices.Clone(l.config.ProfOps)
	return config
}

// SetWorldSize sets the number of ranks used to compute bus bandwidths.
func (l *CommsLogger) SetWorldSize(worldSize int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.worldSize = max(worldSize, 1)
}

// Enabled returns whether instrumentation is enabled.
func (l *CommsLogger) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.config.Enabled
}

// ShouldProfile returns whether an operation with the given log name should be profiled: if prof is
// set for the call, if all operations are profiled, or if logName is one of the configured operations.
func (l *CommsLogger) ShouldProfile(logName string, prof bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.config.Enabled {
		return false
	}
	return prof || l.config.ProfAll || l.profOps.Has(logName)
}

// Debug returns whether record names should include the caller.
func (l *CommsLogger) Debug() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.config.Debug
}

// Append a sample of the operation rawName (e.g. "all_reduce"), recorded under recordName.
// size is the payload of the operation, in bytes.
func (l *CommsLogger) Append(rawName, recordName string, latency time.Duration, size int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	algbw, busbw, err := Bandwidth(rawName, size, latency, l.worldSize, Gbps)
	if err != nil {
		klog.Warningf("comms logger: %v", err)
	}
	bySize, found := l.records[recordName]
	if !found {
		bySize = make(map[int64]*Stats)
		l.records[recordName] = bySize
	}
	stats, found := bySize[size]
	if !found {
		stats = &Stats{}
		bySize[size] = stats
	}
	stats.Count++
	stats.Latencies = append(stats.Latencies, latency)
	stats.AlgBW = append(stats.AlgBW, algbw)
	stats.BusBW = append(stats.BusBW, busbw)
	if l.config.Verbose {
		klog.Infof("comm op: %s | time (ms): %.2f | msg size: %s | algbw (Gbps): %.2f | busbw (Gbps): %.2f",
			recordName, milliseconds(latency), humanize.IBytes(uint64(size)), algbw, busbw)
	}
}

// RecordNames returns the sorted names of the records.
func (l *CommsLogger) RecordNames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Sorted(maps.Keys(l.records))
}

// Stats returns a copy of the statistics of a record name and message size.
func (l *CommsLogger) Stats(recordName string, size int64) (Stats, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stats, found := l.records[recordName][size]
	if !found {
		return Stats{}, false
	}
	return Stats{
		Count:     stats.Count,
		Latencies: slices.Clone(stats.Latencies),
		AlgBW:     slices.Clone(stats.AlgBW),
		BusBW:     slices.Clone(stats.BusBW),
	}, true
}

// Reset discards all the samples.
func (l *CommsLogger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make(map[string]map[int64]*Stats)
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func formatMs(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// summaryRow is one line of the summary: one record name and message size.
type summaryRow struct {
	name  string
	size  int64
	stats *Stats
}

// LogAll writes the summary of all the samples to w, if printLog is set.
//
// If showStraggler is set, it also computes, for each sample, how much longer this rank took than the
// fastest rank: that requires minReducer, which is a collective, so every rank must call LogAll with
// showStraggler set (even those that don't print) and with the same records.
func (l *CommsLogger) LogAll(ctx context.Context, w io.Writer, printLog, showStraggler bool, minReducer MinReducer) error {
	l.mu.Lock()
	var rows []summaryRow
	for _, name := range slices.Sorted(maps.Keys(l.records)) {
		for _, size := range slices.Sorted(maps.Keys(l.records[name])) {
			stats := l.records[name][size]
			rows = append(rows, summaryRow{name: name, size: size, stats: &Stats{
				Count:     stats.Count,
				Latencies: slices.Clone(stats.Latencies),
				AlgBW:     slices.Clone(stats.AlgBW),
				BusBW:     slices.Clone(stats.BusBW),
			}})
		}
	}
	l.mu.Unlock()

	if printLog {
		table := NewTable(lipgloss.Left, lipgloss.Right).
			Headers("Comm. Op", "Message Size", "Count", "Total Latency(ms)", "Avg Latency(ms)",
				"tput_avg (Gbps)", "busbw_avg (Gbps)")
		previous := ""
		for _, row := range rows {
			latencies := toMilliseconds(row.stats.Latencies)
			name := row.name
			if name == previous {
				name = ""
			}
			previous = row.name
			table.Row(name, humanize.IBytes(uint64(row.size)), strconv.Itoa(row.stats.Count),
				formatMs(sum(latencies)), formatMs(TrimMean(latencies, DefaultTrim)),
				formatMs(TrimMean(row.stats.AlgBW, DefaultTrim)), formatMs(TrimMean(row.stats.BusBW, DefaultTrim)))
		}
		if _, err := fmt.Fprintln(w, table.Render()); err != nil {
			return errors.Wrap(err, "failed to write comms summary")
		}
	}
	if !showStraggler {
		return nil
	}
	if minReducer == nil {
		return errors.New("comms logger: straggler statistics require a MinReducer")
	}

	table := NewTable(lipgloss.Left, lipgloss.Right).
		Headers("Comm. Op", "Message Size", "Count", "Total comm lat(ms)", "Total straggler(ms)",
			"Avg comm lat(ms)", "Avg straggler(ms)")
	previous := ""
	for _, row := range rows {
		latencies := toMilliseconds(row.stats.Latencies)
		minLatencies, err := minReducer(ctx, latencies)
		if err != nil {
			return errors.WithMessagef(err, "comms logger: failed to reduce latencies of %q", row.name)
		}
		if len(minLatencies) != len(latencies) {
			return errors.Errorf("comms logger: reduced %d latencies of %q, got %d back",
				len(latencies), row.name, len(minLatencies))
		}
		stragglers := make([]float64, len(latencies))
		commLatencies := make([]float64, len(latencies))
		for ii := range latencies {
			stragglers[ii] = latencies[ii] - minLatencies[ii]
			commLatencies[ii] = minLatencies[ii]
		}
		name := row.name
		if name == previous {
			name = ""
		}
		previous = row.name
		table.Row(name, humanize.IBytes(uint64(row.size)), strconv.Itoa(row.stats.Count),
			formatMs(sum(commLatencies)), formatMs(sum(stragglers)),
			formatMs(TrimMean(commLatencies, DefaultTrim)), formatMs(TrimMean(stragglers, DefaultTrim)))
	}
	if printLog {
		if _, err := fmt.Fprintln(w, table.Render()); err != nil {
			return errors.Wrap(err, "failed to write straggler summary")
		}
	}
	return nil
}

func toMilliseconds(durations []time.Duration) []float64 {
	values := make([]float64, len(durations))
	for ii, d := range durations {
		values[ii] = milliseconds(d)
	}
	return values
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}
