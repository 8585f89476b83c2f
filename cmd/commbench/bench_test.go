// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gomcrdl/gomcrdl/pkg/comm/profiler"
	"github.com/gomcrdl/gomcrdl/pkg/core/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	config := DefaultConfig()
	config.Trials = 3
	config.Warmups = 1
	config.MaxSize = 4
	config.Progress = io.Discard
	return config
}

func TestConfig(t *testing.T) {
	config := testConfig()
	require.NoError(t, config.Validate())
	assert.Equal(t, []int{8}, config.Sizes())
	config.Scan = true
	assert.Equal(t, []int{2, 4, 8}, config.Sizes())

	bad := testConfig()
	bad.Trials = 0
	assert.Error(t, bad.Validate())
	bad = testConfig()
	bad.Ops = []string{"all_things"}
	assert.Error(t, bad.Validate())
	bad = testConfig()
	bad.DType = dtypes.InvalidDType
	assert.Error(t, bad.Validate())
}

func TestRunInProcess(t *testing.T) {
	for _, native := range []bool{false, true} {
		for _, backend := range []string{"nccl", "mpi"} {
			t.Run(backend, func(t *testing.T) {
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()
				config := testConfig()
				config.Backend = backend
				config.UseNativeRuntime = native
				config.Scan = true
				config.Raw = true
				var buf bytes.Buffer
				require.NoError(t, runInProcess(ctx, config, 2, &buf))
				output := buf.String()
				for _, op := range AllOps {
					assert.Contains(t, output, "---- Performance of "+op+" on 2 devices")
				}
				// Raw sizes: 2 rows of 8 float32 elements.
				assert.Contains(t, output, "64")
				assert.Contains(t, output, "16x4")
				assert.Contains(t, output, "pt2pt")
				assert.Contains(t, output, "Avg straggler(ms)")
			})
		}
	}
}

func TestPt2PtWithIdleRanks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	config := testConfig()
	config.Ops = []string{OpAllReduce, OpPt2Pt}
	var buf bytes.Buffer
	require.NoError(t, runInProcess(ctx, config, 3, &buf))
	output := buf.String()
	assert.Contains(t, output, "---- Performance of all_reduce on 3 devices")
	assert.Contains(t, output, "---- Performance of pt2pt on 2 devices")
	assert.NotContains(t, output, "Avg straggler(ms)")

	buf.Reset()
	config.Backend = "mpi"
	config.UseNativeRuntime = true
	require.NoError(t, runInProcess(ctx, config, 3, &buf))
	assert.Contains(t, buf.String(), "Skipping pt2pt")
}

func TestRunAsync(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	config := testConfig()
	config.Async = true
	config.Ops = []string{OpAllReduce, OpPt2Pt}
	config.BWUnit = profiler.GBps
	config.CommsLogger = &profiler.Config{Enabled: true, ProfOps: []string{"all_reduce"}}
	var buf bytes.Buffer
	require.NoError(t, runInProcess(ctx, config, 2, &buf))
	output := buf.String()
	assert.Contains(t, output, "Throughput (GBps)")
	assert.Contains(t, output, "64 B")
}

func TestSingleRankSkipsPt2Pt(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	config := testConfig()
	config.Ops = []string{OpPt2Pt, OpBroadcast}
	var buf bytes.Buffer
	require.NoError(t, runInProcess(ctx, config, 1, &buf))
	assert.Contains(t, buf.String(), "Skipping pt2pt")
	assert.Contains(t, buf.String(), "---- Performance of broadcast on 1 devices")
}

func TestConfigFromFlagsLoggerConfig(t *testing.T) {
	setFlag := func(name, value string) {
		previous := flag.Lookup(name).Value.String()
		require.NoError(t, flag.Set(name, value))
		t.Cleanup(func() { _ = flag.Set(name, previous) })
	}

	setFlag("config", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := configFromFlags()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.yaml")

	path := filepath.Join(t.TempDir(), "comms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("comms_logger:\n  enabled: true\n  verbose: true\n"), 0o644))
	setFlag("config", path)
	config, err := configFromFlags()
	require.NoError(t, err)
	require.NotNil(t, config.CommsLogger)
	assert.True(t, config.CommsLogger.Enabled)
	assert.True(t, config.CommsLogger.Verbose)
}
