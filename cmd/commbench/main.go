// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// commbench measures the latency and bandwidth of the collectives, on a range of message sizes.
//
// It runs either as one rank of a world started by a launcher (torchrun, mpirun, slurm, ...), connecting
// to the other ranks over TCP, or with -np as a world of in-process ranks:
//
//	$ commbench -np 4 -scan -all-reduce
//	$ mpirun -n 8 commbench -backend mpi -maxsize 20
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gomcrdl/gomcrdl/backends/fabric/local"
	"github.com/gomcrdl/gomcrdl/pkg/comm"
	"github.com/gomcrdl/gomcrdl/pkg/comm/profiler"
	"github.com/gomcrdl/gomcrdl/pkg/core/dtypes"
	"github.com/gomcrdl/gomcrdl/pkg/support/xslices"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

var (
	flagTrials  = flag.Int("trials", 50, "Number of timed iterations of each message size.")
	flagWarmups = flag.Int("warmups", 5, "Number of warmup (non-timed) iterations of each message size.")
	flagMaxSize = flag.Int("maxsize", 24, "Max message size, in number of elements per row, as a power of 2.")
	flagAsync   = flag.Bool("async", false, "Issue the operations asynchronously, and wait for all at the end of the trials.")
	flagBWUnit  = flag.String("bw-unit", "Gbps", "Unit of the bandwidths: \"Gbps\" or \"GBps\".")
	flagBackend = flag.String("backend", "nccl", "Backend (with -native) or transport of the native backend: \"nccl\" or \"mpi\".")
	flagNative  = flag.Bool("native", false, "Use the backend selected by -backend directly, instead of the native backend.")
	flagScan    = flag.Bool("scan", false, "Scan all message sizes up to -maxsize, instead of only the largest.")
	flagRaw     = flag.Bool("raw", false, "Print message sizes and latencies without units.")
	flagDType   = flag.String("dtype", "float32", "Data type of the messages.")
	flagNP      = flag.Int("np", 0, "If > 0, run a world of this many in-process ranks, instead of using the launcher environment.")
	flagDebug   = flag.Bool("debug", false, "Append the calling function to the names of the profiled operations.")
	flagConfig  = flag.String("config", "", "Configuration file (JSON, YAML or TOML) of the comms logger.")
	flagProfOps = xslices.StringsFlag(nil, "prof-ops", nil,
		"Comma-separated log names of the operations to profile. If empty, all operations are profiled.")

	flagAllReduce = flag.Bool("all-reduce", false, "Benchmark all_reduce.")
	flagAllGather = flag.Bool("all-gather", false, "Benchmark all_gather.")
	flagAllToAll  = flag.Bool("all-to-all", false, "Benchmark all_to_all.")
	flagPt2Pt     = flag.Bool("pt2pt", false, "Benchmark point-to-point send/recv.")
	flagBroadcast = flag.Bool("broadcast", false, "Benchmark broadcast.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	config, err := configFromFlags()
	if err != nil {
		klog.Exitf("Invalid flags: %+v", err)
	}

	ctx := context.Background()
	if *flagNP > 0 {
		err = runInProcess(ctx, config, *flagNP, os.Stdout)
	} else {
		err = runRank(ctx, config, comm.DefaultInitOptions(), os.Stdout)
	}
	if err != nil {
		klog.Fatalf("Benchmark failed: %+v", err)
	}
}

// configFromFlags builds the benchmark configuration, and validates the flags.
func configFromFlags() (Config, error) {
	config := DefaultConfig()
	config.Trials = *flagTrials
	config.Warmups = *flagWarmups
	config.MaxSize = *flagMaxSize
	config.Async = *flagAsync
	config.Scan = *flagScan
	config.Raw = *flagRaw
	config.Backend = *flagBackend
	config.UseNativeRuntime = *flagNative
	config.Debug = *flagDebug

	var err error
	config.BWUnit, err = profiler.ParseBandwidthUnit(*flagBWUnit)
	if err != nil {
		return config, err
	}
	config.DType, err = dtypes.Parse(*flagDType)
	if err != nil {
		return config, err
	}
	if *flagConfig != "" {
		loggerConfig, err := profiler.LoadConfig(*flagConfig)
		if err != nil {
			return config, errors.WithMessagef(err, "failed to load -config=%q", *flagConfig)
		}
		config.CommsLogger = &loggerConfig
	}
	if len(*flagProfOps) > 0 {
		if config.CommsLogger == nil {
			loggerConfig := profiler.DefaultConfig()
			loggerConfig.Enabled = true
			config.CommsLogger = &loggerConfig
		}
		config.CommsLogger.ProfAll = false
		config.CommsLogger.ProfOps = *flagProfOps
	}

	selected := map[string]bool{
		OpAllReduce: *flagAllReduce,
		OpAllGather: *flagAllGather,
		OpAllToAll:  *flagAllToAll,
		OpPt2Pt:     *flagPt2Pt,
		OpBroadcast: *flagBroadcast,
	}
	config.Ops = nil
	for _, op := range AllOps {
		if selected[op] {
			config.Ops = append(config.Ops, op)
		}
	}
	if len(config.Ops) == 0 {
		config.Ops = AllOps
	}
	return config, config.Validate()
}

// runInProcess runs a world of np in-process ranks, one goroutine per rank. Only rank 0 writes to w.
func runInProcess(ctx context.Context, config Config, np int, w io.Writer) error {
	fabrics := local.NewWorld(np)
	g, ctx := errgroup.WithContext(ctx)
	for rank, f := range fabrics {
		g.Go(func() error {
			opts := comm.DefaultInitOptions()
			opts.AutoDiscover = false
			opts.Verbose = rank == 0
			opts.Fabric = f
			opts.Rank, opts.WorldSize = rank, np
			out := io.Discard
			if rank == 0 {
				out = w
			}
			return errors.WithMessagef(runRank(ctx, config, opts, out), "rank %d", rank)
		})
	}
	return g.Wait()
}

// runRank initializes the communication of one rank, and runs the selected benchmarks.
func runRank(ctx context.Context, config Config, opts comm.InitOptions, w io.Writer) error {
	c := comm.New(comm.WithOutput(w))
	opts.Backend = strings.ToLower(config.Backend)
	opts.UseNativeRuntime = config.UseNativeRuntime
	if err := c.InitDistributed(ctx, opts); err != nil {
		return err
	}
	defer func() {
		if err := c.DestroyProcessGroup(nil); err != nil {
			klog.Errorf("Failed to destroy process group: %+v", err)
		}
	}()
	if config.CommsLogger != nil {
		c.Configure(comm.WithConfig(*config.CommsLogger))
	} else {
		c.Configure(comm.WithEnabled(true), comm.WithProfAll(true))
	}
	if config.Debug {
		c.Configure(comm.WithDebug(true))
	}
	runner, err := NewRunner(c, config, w)
	if err != nil {
		return err
	}
	if err := runner.Run(ctx); err != nil {
		return err
	}
	return c.LogSummary(ctx, runner.ShowStraggler())
}

func init() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s [flags]:\n", os.Args[0])
		flag.PrintDefaults()
	}
}
