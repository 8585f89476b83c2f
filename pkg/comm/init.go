// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package comm

import (
	"context"
	"time"

	"github.com/gomcrdl/gomcrdl/backends"
	"github.com/gomcrdl/gomcrdl/backends/fabric"
	"github.com/gomcrdl/gomcrdl/backends/native"
	"github.com/gomcrdl/gomcrdl/pkg/comm/launcher"
	"github.com/gomcrdl/gomcrdl/pkg/comm/profiler"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// EnvTimeout is the environment variable with the default timeout, in minutes.
const EnvTimeout = "MCRDL_TIMEOUT"

// DefaultTimeoutMinutes is used when EnvTimeout is not set.
const DefaultTimeoutMinutes = 30

// InitOptions configure InitDistributed. Start from DefaultInitOptions.
type InitOptions struct {
	// Backend is the name of the backend (with UseNativeRuntime) or of the transport of the native
	// backend. If empty, native.DefaultTransport is used.
	Backend string

	// AutoDiscover the rank, world size and master address when the launcher didn't set them.
	AutoDiscover bool

	// Port used for the rendezvous when it is discovered.
	Port int

	// Verbose logs the discovery and initialization.
	Verbose bool

	// Timeout of the rendezvous, and default timeout of MonitoredBarrier.
	Timeout time.Duration

	// InitMethod of the rendezvous: only "env://" (or empty) is supported.
	InitMethod string

	// DistInitRequired, if set to false, requires the backend to be already initialized. If nil, it
	// defaults to whether there is no initialized backend.
	DistInitRequired *bool

	// Config of the instrumentation. If nil, the current configuration is kept.
	Config *profiler.Config

	// Rank and WorldSize override the values of the launcher, if >= 0.
	Rank, WorldSize int

	// UseNativeRuntime constructs the backend named Backend itself (e.g. "nccl" or "mpi"), instead
	// of the native backend over the transport named Backend.
	UseNativeRuntime bool

	// Fabric is an already connected fabric. If there is no active backend and no Backend name is
	// given, the fabric is adopted as is: it is wrapped in the native backend, without rendezvous.
	// It is also used for discovery, and as the transport of the constructed backend.
	Fabric fabric.Fabric
}

// DefaultTimeout returns the timeout set in the environment (EnvTimeout, in minutes), or 30 minutes.
func DefaultTimeout() time.Duration {
	minutes := launcher.EnvToInt([]string{EnvTimeout}, DefaultTimeoutMinutes)
	return time.Duration(minutes) * time.Minute
}

// DefaultInitOptions returns the default options: auto-discovery on port 29500, verbose, and rank and
// world size from the launcher.
func DefaultInitOptions() InitOptions {
	return InitOptions{
		AutoDiscover: true,
		Port:         launcher.DefaultMasterPort,
		Verbose:      true,
		Timeout:      DefaultTimeout(),
		Rank:         -1,
		WorldSize:    -1,
	}
}

// InitDistributed initializes the active backend, discovering the environment if needed.
//
// It is idempotent: if the backend is already initialized, it only applies opts.Config.
func (c *Comm) InitDistributed(ctx context.Context, opts InitOptions) error {
	if opts.Config != nil {
		c.Configure(WithConfig(*opts.Config))
	}
	required := !c.IsInitialized()
	if opts.DistInitRequired != nil {
		required = *opts.DistInitRequired
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout()
	}

	if c.backend == nil && opts.Fabric != nil && opts.Backend == "" {
		return c.adopt(ctx, opts)
	}

	if !required {
		if !c.IsInitialized() {
			return errors.Wrap(ErrNotInitialized, "distributed initialization not required, but backend "+
				"is not initialized: set DistInitRequired to true, or initialize it before")
		}
		return nil
	}

	if opts.AutoDiscover && !launcher.HasRequiredEnv() {
		if err := c.discover(ctx, opts); err != nil {
			return err
		}
	}

	if c.IsInitialized() {
		if launcher.RankFromLauncher() == 0 {
			klog.Infof("Distributed backend already initialized")
		}
		return nil
	}

	b := c.backend
	if b == nil {
		var err error
		b, err = c.construct(opts)
		if err != nil {
			return err
		}
	}
	if err := b.InitProcessGroup(ctx); err != nil {
		return err
	}
	c.setActive(b)
	return nil
}

// adopt wraps the already connected fabric in the native backend.
func (c *Comm) adopt(ctx context.Context, opts InitOptions) error {
	fab := opts.Fabric
	b, err := native.New(backends.Config{
		Rank:      fab.Rank(),
		WorldSize: fab.Size(),
		Timeout:   opts.Timeout,
		Fabric:    fab,
	})
	if err != nil {
		return err
	}
	if err := b.InitProcessGroup(ctx); err != nil {
		return err
	}
	if opts.Verbose && fab.Rank() == 0 {
		klog.Infof("Adopted an already connected fabric of %d ranks in the %s backend", fab.Size(), b.Name())
	}
	c.setActive(b)
	return nil
}

// discover sets the environment of the launcher when it is missing, and cross-checks it with the
// initialized backend, if any.
func (c *Comm) discover(ctx context.Context, opts InitOptions) error {
	if opts.Verbose {
		klog.Infof("Not using a distributed launcher, attempting to detect the environment...")
	}
	var (
		resolved launcher.Resolved
		err      error
	)
	switch {
	case launcher.InAzureML() && !launcher.InDLTS():
		resolved, err = launcher.PatchAzureML(opts.Port, opts.Verbose)
	case launcher.InSageMaker():
		resolved, err = launcher.PatchSageMaker(opts.Verbose)
	default:
		resolved, err = c.mpiDiscovery(ctx, opts)
	}
	if err != nil {
		return err
	}
	if c.IsInitialized() {
		rank, size := c.backend.GetRank(nil), c.backend.GetWorldSize(nil)
		if resolved.Rank != rank || resolved.WorldSize != size {
			return errors.Wrapf(ErrRankMismatch, "discovered rank %d of %d, but backend is rank %d of %d",
				resolved.Rank, resolved.WorldSize, rank, size)
		}
	}
	return nil
}

// mpiDiscovery maps the variables of MPI launchers to the native ones. If the launcher didn't set
// any, and a fabric is given, it discovers the environment talking to the other ranks.
func (c *Comm) mpiDiscovery(ctx context.Context, opts InitOptions) (launcher.Resolved, error) {
	if !launcher.HasIdentifyingVars() && opts.Fabric != nil {
		return launcher.Discover(ctx, opts.Fabric, opts.Port, opts.Verbose)
	}
	resolved := launcher.SetupMPIEnv("")
	if opts.Verbose {
		klog.Infof("Discovered MPI settings of %s", resolved)
	}
	return resolved, nil
}

// construct the backend selected by the options, not yet initialized.
func (c *Comm) construct(opts InitOptions) (backends.Backend, error) {
	name := opts.Backend
	if name == "" {
		name = native.DefaultTransport
	}
	resolved := launcher.FromEnv()
	config := backends.Config{
		Rank:       resolved.Rank,
		WorldSize:  resolved.WorldSize,
		MasterAddr: resolved.MasterAddr,
		MasterPort: resolved.MasterPort,
		InitMethod: opts.InitMethod,
		Timeout:    opts.Timeout,
		Fabric:     opts.Fabric,
	}
	if opts.Fabric != nil {
		config.Rank, config.WorldSize = opts.Fabric.Rank(), opts.Fabric.Size()
	}
	if opts.Rank >= 0 {
		config.Rank = opts.Rank
	}
	if opts.WorldSize >= 0 {
		config.WorldSize = opts.WorldSize
	}

	isRankZero := config.Rank == 0
	var (
		b   backends.Backend
		err error
	)
	if opts.UseNativeRuntime {
		if isRankZero {
			klog.Infof("Initializing %s backend", name)
		}
		b, err = backends.New(name, config)
	} else {
		if isRankZero {
			klog.Infof("Initializing %s backend with transport %s", native.BackendName, name)
		}
		config.Transport = name
		b, err = backends.New(native.BackendName, config)
	}
	if err != nil {
		return nil, errors.Wrapf(ErrUnsupportedBackend, "backend %q: %v", name, err)
	}
	return b, nil
}

func (c *Comm) setActive(b backends.Backend) {
	c.backend = b
	c.logger.SetWorldSize(b.GetWorldSize(nil))
}
