// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package comm is the dispatch layer of collective communication: a Comm forwards broadcast,
// all-reduce, all-gather, all-to-all, reduce-scatter, point-to-point and barrier operations to the
// active backend (see package backends), while handling:
//
//   - Environment discovery: rank, world size and master address from the launcher (torchrun-like
//     launchers, MPI implementations, SLURM, AzureML or SageMaker), see package launcher.
//   - Backend selection by name, from the registered backends.
//   - Fallbacks to list-based primitives when the backend lacks an optional one (ReduceScatterFn,
//     AllGatherFn, AllReduceCoalesced).
//   - Optional timing of every operation, aggregated in a profiler.CommsLogger and printed with LogSummary.
//
// Typical usage, on every rank:
//
//	c := comm.New()
//	if err := c.InitDistributed(ctx, comm.DefaultInitOptions()); err != nil { ... }
//	defer c.DestroyProcessGroup(nil)
//	_, err := c.AllReduce(ctx, gradients, backends.ReduceOpSum)
//
// A Comm is not safe for concurrent use: like the underlying collectives, operations must be issued by
// one goroutine per rank, in the same order on every rank.
package comm

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/gomcrdl/gomcrdl/backends"
	"github.com/gomcrdl/gomcrdl/pkg/comm/launcher"
	"github.com/gomcrdl/gomcrdl/pkg/comm/profiler"
	"github.com/gomcrdl/gomcrdl/pkg/core/tensors"
	"github.com/gomcrdl/gomcrdl/pkg/support/sets"
	"github.com/pkg/errors"

	// Register the default backends.
	_ "github.com/gomcrdl/gomcrdl/backends/default"
)

// ErrNotInitialized is returned by every operation issued before InitDistributed, or after the
// backend was destroyed.
var ErrNotInitialized = backends.ErrNotInitialized

// ErrUnsupportedBackend is returned by InitDistributed for backend names that can't be constructed.
var ErrUnsupportedBackend = errors.New("unsupported backend")

// ErrRankMismatch is returned by InitDistributed when the discovered rank or world size disagree with
// the ones of an already initialized backend.
var ErrRankMismatch = errors.New("discovered rank or world size don't match the initialized backend")

// Accelerator is the device whose pending work is waited for before stopping the timer of a profiled
// operation.
type Accelerator interface {
	Synchronize(ctx context.Context) error
}

// Comm holds the active backend and the instrumentation state. Create it with New.
type Comm struct {
	backend     backends.Backend
	accelerator Accelerator
	logger      *profiler.CommsLogger
	timers      *profiler.Timers
	output      io.Writer

	muWarned sync.Mutex
	warned   sets.Set[string]
}

// Option configures a Comm at creation.
type Option func(c *Comm)

// WithBackend makes b the active backend. InitDistributed initializes it if it isn't yet.
// Mostly useful to use mock backends.
func WithBackend(b backends.Backend) Option {
	return func(c *Comm) {
		c.backend = b
	}
}

// WithAccelerator sets the device synchronized by profiled operations. By default, profiled operations
// wait for all the pending work of the backend.
func WithAccelerator(accelerator Accelerator) Option {
	return func(c *Comm) {
		c.accelerator = accelerator
	}
}

// WithOutput sets where LogSummary writes the summary tables. The default is os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(c *Comm) {
		c.output = w
	}
}

// WithCommsLogger shares a CommsLogger (and its configuration) with the Comm.
func WithCommsLogger(logger *profiler.CommsLogger) Option {
	return func(c *Comm) {
		c.logger = logger
	}
}

// New creates a Comm without an active backend: call InitDistributed before any other operation.
func New(options ...Option) *Comm {
	c := &Comm{
		output: os.Stdout,
		warned: sets.Make[string](),
	}
	for _, option := range options {
		option(c)
	}
	if c.logger == nil {
		c.logger = profiler.NewCommsLogger()
	}
	c.timers = profiler.NewTimers()
	return c
}

// active returns the active backend, or an error if there is none or it is not initialized.
func (c *Comm) active() (backends.Backend, error) {
	if c.backend == nil || !c.backend.IsInitialized() {
		return nil, errors.Wrap(ErrNotInitialized, "backend not set, please initialize it using InitDistributed()")
	}
	return c.backend, nil
}

// Backend returns the active backend, or nil if none was set.
func (c *Comm) Backend() backends.Backend {
	return c.backend
}

// CommsLogger returns the logger where profiled operations are recorded.
func (c *Comm) CommsLogger() *profiler.CommsLogger {
	return c.logger
}

// IsInitialized returns whether there is an active and initialized backend.
func (c *Comm) IsInitialized() bool {
	return c.backend != nil && c.backend.IsInitialized()
}

// IsAvailable returns whether distributed communication is available. It always is: the backends are
// compiled in.
func (c *Comm) IsAvailable() bool {
	return true
}

// ConfigOption changes the instrumentation configuration, see Configure.
type ConfigOption func(config *profiler.Config)

// WithConfig replaces the whole instrumentation configuration. Options after it amend it.
func WithConfig(config profiler.Config) ConfigOption {
	return func(c *profiler.Config) {
		*c = config
	}
}

// WithEnabled enables or disables instrumentation.
func WithEnabled(enabled bool) ConfigOption {
	return func(c *profiler.Config) { c.Enabled = enabled }
}

// WithProfAll selects whether all operations are profiled.
func WithProfAll(profAll bool) ConfigOption {
	return func(c *profiler.Config) { c.ProfAll = profAll }
}

// WithProfOps sets the log names of the operations profiled when not all are.
func WithProfOps(logNames ...string) ConfigOption {
	return func(c *profiler.Config) { c.ProfOps = logNames }
}

// WithVerbose logs every profiled operation as it completes.
func WithVerbose(verbose bool) ConfigOption {
	return func(c *profiler.Config) { c.Verbose = verbose }
}

// WithDebug appends the calling function to the record names.
func WithDebug(debug bool) ConfigOption {
	return func(c *profiler.Config) { c.Debug = debug }
}

// Configure changes the instrumentation configuration. It doesn't affect the backend.
func (c *Comm) Configure(options ...ConfigOption) {
	config := c.logger.Config()
	for _, option := range options {
		option(&config)
	}
	c.logger.Configure(config)
}

// GetRank returns the rank of the caller in the group (nil for the world group), or -1 if it is not a member.
func (c *Comm) GetRank(group *backends.ProcessGroup) (int, error) {
	b, err := c.active()
	if err != nil {
		return -1, err
	}
	return b.GetRank(group), nil
}

// GetWorldSize returns the number of ranks in the group (nil for the world group), or -1 if the caller
// is not a member.
func (c *Comm) GetWorldSize(group *backends.ProcessGroup) (int, error) {
	b, err := c.active()
	if err != nil {
		return -1, err
	}
	return b.GetWorldSize(group), nil
}

// GetLocalRank returns the rank of the caller among the ranks of its host, as set by the launcher.
func (c *Comm) GetLocalRank() (int, error) {
	if _, err := c.active(); err != nil {
		return -1, err
	}
	return launcher.LocalRankFromLauncher(), nil
}

// GetGlobalRank converts a rank within the group to a rank in the world group.
func (c *Comm) GetGlobalRank(group *backends.ProcessGroup, groupRank int) (int, error) {
	b, err := c.active()
	if err != nil {
		return -1, err
	}
	return b.GetGlobalRank(group, groupRank)
}

// GetWorldGroup returns the group with all ranks.
func (c *Comm) GetWorldGroup() (*backends.ProcessGroup, error) {
	b, err := c.active()
	if err != nil {
		return nil, err
	}
	return b.WorldGroup(), nil
}

// GetAllRanksFromGroup returns the global ranks of the members of the group, in group order.
func (c *Comm) GetAllRanksFromGroup(group *backends.ProcessGroup) ([]int, error) {
	b, err := c.active()
	if err != nil {
		return nil, err
	}
	var ranks []int
	for groupRank := 0; ; groupRank++ {
		rank, err := b.GetGlobalRank(group, groupRank)
		if err != nil {
			break
		}
		ranks = append(ranks, rank)
	}
	return ranks, nil
}

// NewGroup creates a process group with the given global ranks. Every rank must call it, in the same order.
func (c *Comm) NewGroup(ctx context.Context, ranks []int) (*backends.ProcessGroup, error) {
	b, err := c.active()
	if err != nil {
		return nil, err
	}
	return b.NewGroup(ctx, ranks)
}

// DestroyProcessGroup forgets the group. With a nil group it tears down the active backend, and the
// Comm must be initialized again before being used.
func (c *Comm) DestroyProcessGroup(group *backends.ProcessGroup) error {
	b, err := c.active()
	if err != nil {
		return err
	}
	if err := b.DestroyProcessGroup(group); err != nil {
		return err
	}
	if group == nil {
		c.backend = nil
	}
	return nil
}

// HasAllGatherIntoTensor returns whether the active backend implements AllGatherIntoTensor.
func (c *Comm) HasAllGatherIntoTensor() (bool, error) {
	b, err := c.active()
	if err != nil {
		return false, err
	}
	return b.HasAllGatherIntoTensor(), nil
}

// HasReduceScatterTensor returns whether the active backend implements ReduceScatterTensor.
func (c *Comm) HasReduceScatterTensor() (bool, error) {
	b, err := c.active()
	if err != nil {
		return false, err
	}
	return b.HasReduceScatterTensor(), nil
}

// HasAllReduceCoalesced returns whether the active backend implements AllReduceCoalesced.
func (c *Comm) HasAllReduceCoalesced() (bool, error) {
	b, err := c.active()
	if err != nil {
		return false, err
	}
	return b.HasAllReduceCoalesced(), nil
}

// HasCoalescingManager returns whether the active backend can batch collectives.
func (c *Comm) HasCoalescingManager() (bool, error) {
	b, err := c.active()
	if err != nil {
		return false, err
	}
	return b.HasCoalescingManager(), nil
}

// payload returns the function that computes the number of bytes of the given tensors.
func payload(ts ...*tensors.Tensor) func() int64 {
	return func() int64 {
		var total int64
		for _, t := range ts {
			if t != nil {
				total += t.Memory()
			}
		}
		return total
	}
}
