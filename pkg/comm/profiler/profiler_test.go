// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package profiler_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/janpfeifer/must"
	. "github.com/gomcrdl/gomcrdl/pkg/comm/profiler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	config, err := ParseConfig([]byte(`{"train_batch_size": 8}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), config)
	assert.False(t, config.Enabled)
	assert.True(t, config.ProfAll)

	config, err = ParseConfig([]byte(`{"comms_logger": {"enabled": true, "prof_all": false, "prof_ops": ["all_reduce"]}}`))
	require.NoError(t, err)
	assert.Equal(t, Config{Enabled: true, ProfOps: []string{"all_reduce"}}, config)

	_, err = ParseConfig([]byte(`{"comms_logger": {"enabled": "maybe"}}`))
	require.Error(t, err)

	dir := t.TempDir()
	files := map[string]string{
		"config.json": `{"comms_logger": {"enabled": true, "verbose": true, "prof_ops": ["broadcast"]}}`,
		"config.yaml": "comms_logger:\n  enabled: true\n  verbose: true\n  prof_ops: [broadcast]\n",
		"config.toml": "[comms_logger]\nenabled = true\nverbose = true\nprof_ops = [\"broadcast\"]\n",
	}
	for name, contents := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
		config := must.M1(LoadConfig(path))
		assert.Equal(t, Config{Enabled: true, Verbose: true, ProfAll: true, ProfOps: []string{"broadcast"}}, config,
			"loading %s", name)
	}
	_, err = LoadConfig(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}

func TestTimers(t *testing.T) {
	timers := NewTimers()
	timer := timers.Get("all_reduce")
	assert.Same(t, timer, timers.Get("all_reduce"))
	assert.Equal(t, time.Duration(0), timer.Stop())

	timer.Start()
	time.Sleep(2 * time.Millisecond)
	first := timer.Stop()
	assert.GreaterOrEqual(t, first, 2*time.Millisecond)
	assert.Equal(t, first, timer.Last())
	timer.Start()
	second := timer.Stop()
	assert.Equal(t, first+second, timer.Elapsed(true))
	assert.Equal(t, time.Duration(0), timer.Elapsed(false))
}

func TestBandwidth(t *testing.T) {
	// 1e9 bytes in one second, among 4 ranks.
	algbw, busbw, err := Bandwidth("all_reduce", 1e9, time.Second, 4, GBps)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, algbw, 1e-9)
	assert.InDelta(t, 1.5, busbw, 1e-9)

	algbw, busbw, err = Bandwidth("all_gather", 1e9, time.Second, 4, Gbps)
	require.NoError(t, err)
	assert.InDelta(t, 32.0, algbw, 1e-9)
	assert.InDelta(t, 24.0, busbw, 1e-9)

	algbw, busbw, err = Bandwidth("broadcast", 1e9, time.Second, 4, GBps)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, algbw, 1e-9)
	assert.InDelta(t, 1.0, busbw, 1e-9)

	_, _, err = Bandwidth("teleport", 1, time.Second, 4, GBps)
	require.Error(t, err)

	unit, err := ParseBandwidthUnit("GBps")
	require.NoError(t, err)
	assert.Equal(t, GBps, unit)
	_, err = ParseBandwidthUnit("bps")
	require.Error(t, err)
}

func TestTrimMean(t *testing.T) {
	assert.Equal(t, 0.0, TrimMean(nil, 0.1))
	assert.Equal(t, 3.0, TrimMean([]float64{3}, 0.1))
	// 10 values: 1 discarded on each side.
	values := []float64{100, 1, 2, 3, 4, 5, 6, 7, 8, -100}
	assert.InDelta(t, 4.5, TrimMean(values, 0.1), 1e-9)
	assert.InDelta(t, 5.5, TrimMean([]float64{1, 10}, 0.5), 1e-9)
}

func TestCommsLogger(t *testing.T) {
	logger := NewCommsLogger()
	assert.False(t, logger.ShouldProfile("all_reduce", true), "disabled by default")

	logger.Configure(Config{Enabled: true, ProfOps: []string{"my_all_reduce"}})
	assert.True(t, logger.ShouldProfile("my_all_reduce", false))
	assert.False(t, logger.ShouldProfile("all_reduce", false))
	assert.True(t, logger.ShouldProfile("all_reduce", true))

	logger.SetWorldSize(4)
	logger.Append("all_reduce", "my_all_reduce", 2*time.Millisecond, 1024)
	logger.Append("all_reduce", "my_all_reduce", 4*time.Millisecond, 1024)
	logger.Append("all_reduce", "my_all_reduce", 4*time.Millisecond, 4096)
	logger.Append("broadcast", "broadcast", time.Millisecond, 16)
	assert.Equal(t, []string{"broadcast", "my_all_reduce"}, logger.RecordNames())
	stats, found := logger.Stats("my_all_reduce", 1024)
	require.True(t, found)
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, []time.Duration{2 * time.Millisecond, 4 * time.Millisecond}, stats.Latencies)

	var buf bytes.Buffer
	minReducer := func(_ context.Context, values []float64) ([]float64, error) {
		mins := make([]float64, len(values))
		for ii, v := range values {
			mins[ii] = v / 2
		}
		return mins, nil
	}
	require.NoError(t, logger.LogAll(context.Background(), &buf, true, true, minReducer))
	out := buf.String()
	assert.Contains(t, out, "my_all_reduce")
	assert.Contains(t, out, "1.0 KiB")
	assert.Contains(t, out, "4.0 KiB")
	assert.Contains(t, out, "Avg straggler(ms)")
	assert.Contains(t, out, "6.00", "total latency of my_all_reduce with 1 KiB")

	// Not printing writes nothing, but still needs the reducer for stragglers.
	buf.Reset()
	require.NoError(t, logger.LogAll(context.Background(), &buf, false, false, nil))
	assert.Empty(t, buf.String())
	require.Error(t, logger.LogAll(context.Background(), &buf, false, true, nil))

	logger.Reset()
	assert.Empty(t, logger.RecordNames())
}
