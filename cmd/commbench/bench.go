// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomcrdl/gomcrdl/backends"
	"github.com/gomcrdl/gomcrdl/pkg/comm"
	"github.com/gomcrdl/gomcrdl/pkg/comm/profiler"
	"github.com/gomcrdl/gomcrdl/pkg/core/dtypes"
	"github.com/gomcrdl/gomcrdl/pkg/core/tensors"
	"github.com/gomcrdl/gomcrdl/ui/commandline"
	"github.com/pkg/errors"
)

// Benchmarked operations.
const (
	OpAllReduce = "all_reduce"
	OpAllGather = "all_gather"
	OpAllToAll  = "all_to_all"
	OpPt2Pt     = "pt2pt"
	OpBroadcast = "broadcast"
)

// AllOps are run when none is selected.
var AllOps = []string{OpAllReduce, OpAllGather, OpAllToAll, OpPt2Pt, OpBroadcast}

// Config of a benchmark run.
type Config struct {
	Trials, Warmups int

	// MaxSize is the log2 of the largest number of elements per row. Messages have one row per rank.
	MaxSize int

	// Async issues all the trials before waiting for them.
	Async bool

	// Scan all the sizes 2^1 ... 2^(MaxSize-1), instead of only 2^(MaxSize-1).
	Scan bool

	// Raw prints sizes in bytes and latencies in microseconds, without units.
	Raw bool

	BWUnit profiler.BandwidthUnit
	DType  dtypes.DType
	Ops    []string

	// Backend and UseNativeRuntime select the backend, see comm.InitOptions.
	Backend          string
	UseNativeRuntime bool

	// Debug appends the calling function to the names of the profiled operations.
	Debug bool

	// CommsLogger configuration. If nil all operations are profiled.
	CommsLogger *profiler.Config

	// Progress is where the scan progress is displayed. Defaults to os.Stderr.
	Progress io.Writer
}

// DefaultConfig returns the configuration of a run with the default flags.
func DefaultConfig() Config {
	return Config{
		Trials:  50,
		Warmups: 5,
		MaxSize: 24,
		BWUnit:  profiler.Gbps,
		DType:   dtypes.Float32,
		Ops:     AllOps,
		Backend: "nccl",
	}
}

// Validate returns an error if the configuration can't be run.
func (c Config) Validate() error {
	if c.Trials <= 0 {
		return errors.Errorf("trials must be > 0, got %d", c.Trials)
	}
	if c.Warmups < 0 {
		return errors.Errorf("warmups must be >= 0, got %d", c.Warmups)
	}
	if c.MaxSize < 2 || c.MaxSize > 40 {
		return errors.Errorf("maxsize must be between 2 and 40, got %d", c.MaxSize)
	}
	if !c.DType.IsValid() {
		return errors.Errorf("invalid dtype %s", c.DType)
	}
	for _, op := range c.Ops {
		switch op {
		case OpAllReduce, OpAllGather, OpAllToAll, OpPt2Pt, OpBroadcast:
		default:
			return errors.Errorf("unknown operation %q to benchmark", op)
		}
	}
	return nil
}

// Sizes returns the number of elements per row of each message size benchmarked.
func (c Config) Sizes() []int {
	if !c.Scan {
		return []int{1 << (c.MaxSize - 1)}
	}
	sizes := make([]int, 0, c.MaxSize-1)
	for p := 1; p < c.MaxSize; p++ {
		sizes = append(sizes, 1<<p)
	}
	return sizes
}

// Result of one message size.
type Result struct {
	Size        int64
	Description string
	Duration    time.Duration
	AlgBW       float64
	BusBW       float64
}

// Runner runs the benchmarks of one rank.
type Runner struct {
	c         *comm.Comm
	config    Config
	w         io.Writer
	rank      int
	worldSize int
}

// NewRunner returns a runner of the configured benchmarks, writing the results (on rank 0) to w.
func NewRunner(c *comm.Comm, config Config, w io.Writer) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	rank, err := c.GetRank(nil)
	if err != nil {
		return nil, err
	}
	worldSize, err := c.GetWorldSize(nil)
	if err != nil {
		return nil, err
	}
	return &Runner{c: c, config: config, w: w, rank: rank, worldSize: worldSize}, nil
}

// ShowStraggler returns whether every rank records the same operations, which is required to compute
// the straggler statistics of the summary. Ranks other than 0 and 1 don't take part in pt2pt.
func (r *Runner) ShowStraggler() bool {
	return r.worldSize <= 2 || !slices.Contains(r.config.Ops, OpPt2Pt)
}

// Run all the configured benchmarks, printing one table per operation.
func (r *Runner) Run(ctx context.Context) error {
	for _, op := range r.config.Ops {
		if op == OpPt2Pt && r.worldSize < 2 {
			r.printf("Skipping %s: it requires at least 2 ranks\n", op)
			continue
		}
		if op == OpPt2Pt && r.worldSize > 2 && r.c.Backend().UsingMPI() {
			// Profiled operations end with a world barrier on MPI backends, which the idle ranks never join.
			r.printf("Skipping %s: MPI backends support it only on 2 ranks\n", op)
			continue
		}
		results, err := r.RunOp(ctx, op)
		if err != nil {
			return errors.WithMessagef(err, "benchmark of %s failed", op)
		}
		r.printResults(op, results)
	}
	return nil
}

// RunOp benchmarks one operation on all the configured sizes.
func (r *Runner) RunOp(ctx context.Context, op string) ([]Result, error) {
	sizes := r.config.Sizes()
	var progress *commandline.ScanProgress
	if r.config.Scan && r.rank == 0 {
		out := r.config.Progress
		if out == nil {
			out = os.Stderr
		}
		progress = commandline.NewScanProgress(out, len(sizes), op)
		defer progress.Done()
	}

	results := make([]Result, 0, len(sizes))
	for _, numElements := range sizes {
		result, err := r.runSize(ctx, op, numElements)
		if err != nil {
			return results, err
		}
		results = append(results, result)
		if progress != nil {
			progress.Step(
				commandline.Metric{Name: "Message size", Value: humanize.IBytes(uint64(result.Size))},
				commandline.Metric{Name: "Duration", Value: commandline.FormatLatency(result.Duration, false)},
				commandline.Metric{Name: fmt.Sprintf("BusBW (%s)", r.config.BWUnit),
					Value: commandline.FormatBandwidth(result.BusBW)})
		}
	}
	return results, nil
}

// runSize times the operation on messages of numElements per row, one row per rank.
func (r *Runner) runSize(ctx context.Context, op string, numElements int) (Result, error) {
	input := tensors.FromShape(r.config.DType, r.worldSize*numElements)
	run, err := r.prepare(op, input)
	if err != nil {
		return Result{}, err
	}
	for range r.config.Warmups {
		if err := r.trials(ctx, run, 1); err != nil {
			return Result{}, err
		}
	}
	if _, err := r.c.Barrier(ctx); err != nil {
		return Result{}, err
	}
	start := time.Now()
	if err := r.trials(ctx, run, r.config.Trials); err != nil {
		return Result{}, err
	}
	if _, err := r.c.Barrier(ctx); err != nil {
		return Result{}, err
	}
	duration := time.Since(start) / time.Duration(r.config.Trials)

	size := input.Memory()
	bwWorldSize := r.worldSize
	if op == OpPt2Pt {
		bwWorldSize = 2
	}
	algbw, busbw, err := profiler.Bandwidth(op, size, duration, bwWorldSize, r.config.BWUnit)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Size:        size,
		Description: fmt.Sprintf("%dx%d", input.Size(), input.ElementSize()),
		Duration:    duration,
		AlgBW:       algbw,
		BusBW:       busbw,
	}, nil
}

// trials issues the operation n times. If async, all are issued before waiting for them.
func (r *Runner) trials(ctx context.Context, run opFn, n int) error {
	var options []comm.CallOption
	if r.config.Async {
		options = append(options, comm.Async())
	}
	works := make([]backends.Work, 0, n)
	for range n {
		work, err := run(ctx, options)
		if err != nil {
			return err
		}
		if work != nil {
			works = append(works, work)
		}
	}
	for _, work := range works {
		if err := work.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// opFn issues the benchmarked operation once.
type opFn func(ctx context.Context, options []comm.CallOption) (backends.Work, error)

// prepare allocates the buffers of the operation on the input, and returns the function that issues it.
func (r *Runner) prepare(op string, input *tensors.Tensor) (opFn, error) {
	c := r.c
	switch op {
	case OpAllReduce:
		return func(ctx context.Context, options []comm.CallOption) (backends.Work, error) {
			return c.AllReduce(ctx, input, backends.ReduceOpSum, options...)
		}, nil

	case OpAllGather:
		output := tensors.FromShape(input.DType(), input.Size()*r.worldSize)
		return func(ctx context.Context, options []comm.CallOption) (backends.Work, error) {
			return c.AllGatherFn(ctx, output, input, options...)
		}, nil

	case OpAllToAll:
		output := tensors.FromShape(input.DType(), input.Size())
		return func(ctx context.Context, options []comm.CallOption) (backends.Work, error) {
			return c.AllToAllSingle(ctx, output, input, nil, nil, options...)
		}, nil

	case OpPt2Pt:
		return func(ctx context.Context, options []comm.CallOption) (backends.Work, error) {
			options = append(options, comm.LogName(OpPt2Pt))
			switch r.rank {
			case 0:
				return c.ISend(ctx, input, 1, options...)
			case 1:
				return c.IRecv(ctx, input, 0, options...)
			}
			return nil, nil
		}, nil

	case OpBroadcast:
		return func(ctx context.Context, options []comm.CallOption) (backends.Work, error) {
			return c.Broadcast(ctx, input, 0, options...)
		}, nil
	}
	return nil, errors.Errorf("unknown operation %q to benchmark", op)
}

func (r *Runner) printf(format string, args ...any) {
	if r.rank == 0 {
		_, _ = fmt.Fprintf(r.w, format, args...)
	}
}

var headerStyle = lipgloss.NewStyle().Bold(true)

// printResults prints, on rank 0, the table of results of one operation.
func (r *Runner) printResults(op string, results []Result) {
	if r.rank != 0 {
		return
	}
	worldSize := r.worldSize
	if op == OpPt2Pt {
		worldSize = 2
	}
	r.printf("\n%s\n", headerStyle.Render(fmt.Sprintf("---- Performance of %s on %d devices ----", op, worldSize)))
	unit := r.config.BWUnit.String()
	table := profiler.NewTable(lipgloss.Right, lipgloss.Left, lipgloss.Right).
		Headers("Size (Bytes)", "Description", "Duration", "Throughput ("+unit+")", "BusBW ("+unit+")")
	for _, result := range results {
		size := humanize.IBytes(uint64(result.Size))
		if r.config.Raw {
			size = strconv.FormatInt(result.Size, 10)
		}
		table.Row(size, result.Description, commandline.FormatLatency(result.Duration, r.config.Raw),
			commandline.FormatBandwidth(result.AlgBW), commandline.FormatBandwidth(result.BusBW))
	}
	r.printf("%s\n", table.Render())
}
