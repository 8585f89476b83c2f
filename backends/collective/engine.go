// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package collective implements the collective operations shared by all backends, as naive
// exchanges over a fabric.Fabric.
//
// Every collective is one personalized exchange among the members of the process group: each rank sends
// to each member the bytes it needs, and then combines what it received. No effort is made to optimize
// the communication pattern (rings, trees, pipelining): that's the job of the transport.
//
// Collectives run in issue order in one worker goroutine per Engine, so asynchronous operations complete
// in the order they were issued. Point-to-point operations run outside of that queue.
package collective

import (
	"context"
	"fmt"
	"sync"

	"github.com/gomcrdl/gomcrdl/backends"
	"github.com/gomcrdl/gomcrdl/backends/fabric"
	"github.com/gomcrdl/gomcrdl/backends/fabric/local"
	"github.com/gomcrdl/gomcrdl/backends/fabric/tcp"
	"github.com/gomcrdl/gomcrdl/pkg/support/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// queueSize is the number of collectives that can be issued before the issuer blocks.
const queueSize = 1024

type task struct {
	ctx  context.Context
	run  func(ctx context.Context) error
	work *backends.PendingWork
}

// Engine implements the collective operations (backends.CollectiveOps) and the process group
// management of a backend. Backends embed it and add their capabilities.
type Engine struct {
	name   string
	config backends.Config

	mu            sync.Mutex
	initialized   bool
	singleProcess bool
	fabric        fabric.Fabric
	rank, size    int
	world         *backends.ProcessGroup
	groupOrdinal  int
	sequences     map[string]int // Next exchange sequence number per group id.
	queue         chan task
	workerDone    chan struct{}
	pending       *xsync.DynamicWaitGroup
}

// New creates an engine for the backend with the given name. It connects only when InitProcessGroup is called.
func New(name string, config backends.Config) *Engine {
	return &Engine{
		name:    name,
		config:  config,
		rank:    -1,
		size:    -1,
		pending: xsync.NewDynamicWaitGroup(),
	}
}

// Name returns the name of the backend.
func (e *Engine) Name() string {
	return e.name
}

// Config returns the configuration the engine was created with.
func (e *Engine) Config() backends.Config {
	return e.config
}

// connect returns the fabric to use, and whether it is single-process mode.
func (e *Engine) connect(ctx context.Context) (fabric.Fabric, bool, error) {
	cfg := e.config
	if cfg.Fabric != nil {
		if cfg.WorldSize > 0 && cfg.Fabric.Size() != cfg.WorldSize {
			return nil, false, errors.Errorf("given fabric has %d ranks, but world size is %d",
				cfg.Fabric.Size(), cfg.WorldSize)
		}
		if cfg.WorldSize > 0 && cfg.Rank >= 0 && cfg.Fabric.Rank() != cfg.Rank {
			return nil, false, errors.Errorf("given fabric is rank %d, but rank is %d", cfg.Fabric.Rank(), cfg.Rank)
		}
		return cfg.Fabric, false, nil
	}
	if cfg.WorldSize <= 0 {
		klog.V(1).Infof("%s backend: world size %d, running in single-process mode", e.name, cfg.WorldSize)
		return local.NewWorld(1)[0], true, nil
	}
	if cfg.WorldSize == 1 {
		return local.NewWorld(1)[0], false, nil
	}
	if cfg.InitMethod != "" && cfg.InitMethod != "env://" {
		return nil, false, errors.Errorf("%s backend: unsupported init method %q, only \"env://\" is supported",
			e.name, cfg.InitMethod)
	}
	f, err := tcp.Connect(ctx, tcp.Config{
		Rank:       cfg.Rank,
		Size:       cfg.WorldSize,
		MasterAddr: cfg.MasterAddr,
		MasterPort: cfg.MasterPort,
		Timeout:    cfg.Timeout,
	})
	if err != nil {
		return nil, false, err
	}
	return f, false, nil
}

// InitProcessGroup implements backends.Backend. It is idempotent.
func (e *Engine) InitProcessGroup(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}
	f, singleProcess, err := e.connect(ctx)
	if err != nil {
		return errors.WithMessagef(err, "%s backend failed to initialize process group", e.name)
	}
	ranks := make([]int, f.Size())
	for ii := range ranks {
		ranks[ii] = ii
	}
	world, err := backends.NewProcessGroup(0, ranks)
	if err != nil {
		return err
	}
	e.fabric = f
	e.singleProcess = singleProcess
	e.rank, e.size = f.Rank(), f.Size()
	e.world = world
	e.groupOrdinal = 0
	e.sequences = map[string]int{world.ID(): 0}
	e.queue = make(chan task, queueSize)
	e.workerDone = make(chan struct{})
	go e.worker(e.queue, e.workerDone)
	e.initialized = true
	klog.V(1).Infof("%s backend initialized: rank %d of %d", e.name, e.rank, e.size)
	return nil
}

// worker runs the collectives in issue order.
func (e *Engine) worker(queue <-chan task, done chan<- struct{}) {
	defer close(done)
	for t := range queue {
		err := t.run(t.ctx)
		t.work.Complete(err)
		e.pending.Done()
	}
}

// IsInitialized implements backends.Backend.
func (e *Engine) IsInitialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// SingleProcess returns whether the engine runs in single-process mode (world size <= 0).
func (e *Engine) SingleProcess() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.singleProcess
}

// Fabric returns the fabric the engine is connected through, or nil if it was never initialized.
func (e *Engine) Fabric() fabric.Fabric {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fabric
}

// WorldGroup implements backends.Backend.
func (e *Engine) WorldGroup() *backends.ProcessGroup {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.world
}

// GetRank implements backends.Backend.
func (e *Engine) GetRank(group *backends.ProcessGroup) int {
	if !e.IsInitialized() {
		return -1
	}
	if group == nil {
		return e.rank
	}
	return group.GroupRank(e.rank)
}

// GetWorldSize implements backends.Backend.
func (e *Engine) GetWorldSize(group *backends.ProcessGroup) int {
	if !e.IsInitialized() {
		return -1
	}
	if group == nil {
		return e.size
	}
	if !group.Has(e.rank) {
		return -1
	}
	return group.Size()
}

// GetGlobalRank implements backends.Backend.
func (e *Engine) GetGlobalRank(group *backends.ProcessGroup, groupRank int) (int, error) {
	if !e.IsInitialized() {
		return -1, errors.Wrapf(backends.ErrNotInitialized, "%s backend", e.name)
	}
	if group == nil {
		group = e.WorldGroup()
	}
	return group.GlobalRank(groupRank)
}

// NewGroup implements backends.Backend. If ranks is empty, the group has all ranks.
func (e *Engine) NewGroup(_ context.Context, ranks []int) (*backends.ProcessGroup, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil, errors.Wrapf(backends.ErrNotInitialized, "%s backend", e.name)
	}
	if len(ranks) == 0 {
		ranks = e.world.Ranks()
	}
	for _, rank := range ranks {
		if rank < 0 || rank >= e.size {
			return nil, errors.Errorf("rank %d out of range for new group in world of size %d", rank, e.size)
		}
	}
	e.groupOrdinal++
	group, err := backends.NewProcessGroup(e.groupOrdinal, ranks)
	if err != nil {
		return nil, err
	}
	e.sequences[group.ID()] = 0
	klog.V(2).Infof("%s backend rank %d: created %s", e.name, e.rank, group)
	return group, nil
}

// DestroyProcessGroup implements backends.Backend. Destroying the backend (nil group) waits for the
// pending collectives to finish, and closes the fabric.
func (e *Engine) DestroyProcessGroup(group *backends.ProcessGroup) error {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return nil
	}
	if group != nil {
		defer e.mu.Unlock()
		if group.ID() == e.world.ID() {
			return errors.New("cannot destroy the world group, destroy the backend instead (nil group)")
		}
		delete(e.sequences, group.ID())
		return nil
	}
	e.initialized = false
	close(e.queue)
	done, f := e.workerDone, e.fabric
	e.queue = nil
	e.mu.Unlock()

	<-done
	klog.V(1).Infof("%s backend rank %d destroyed", e.name, e.rank)
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "%s backend failed to close fabric", e.name)
	}
	return nil
}

// Synchronize implements backends.Backend: it waits for all pending operations of this rank.
func (e *Engine) Synchronize(ctx context.Context) error {
	return e.pending.Wait(ctx)
}

// group returns the process group to use for the call, after checking the caller is a member.
func (e *Engine) group(opts backends.CallOptions) (*backends.ProcessGroup, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil, errors.Wrapf(backends.ErrNotInitialized, "%s backend", e.name)
	}
	group := opts.Group
	if group == nil {
		return e.world, nil
	}
	if _, found := e.sequences[group.ID()]; !found {
		return nil, errors.Errorf("%s backend: unknown (or destroyed) %s", e.name, group)
	}
	if !group.Has(e.rank) {
		return nil, errors.Wrapf(backends.ErrNotMember, "rank %d, %s", e.rank, group)
	}
	return group, nil
}

// submit reserves the next exchange key of the group and queues run. Synchronous calls wait for it.
func (e *Engine) submit(ctx context.Context, group *backends.ProcessGroup, async bool,
	run func(ctx context.Context, key string) error) (backends.Work, error) {
	work := backends.NewPendingWork()
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return nil, errors.Wrapf(backends.ErrNotInitialized, "%s backend", e.name)
	}
	seq, found := e.sequences[group.ID()]
	if !found {
		e.mu.Unlock()
		return nil, errors.Errorf("%s backend: unknown (or destroyed) %s", e.name, group)
	}
	e.sequences[group.ID()] = seq + 1
	key := fmt.Sprintf("%s/%d", group.ID(), seq)
	e.pending.Add(1)
	e.queue <- task{
		ctx:  ctx,
		run:  func(ctx context.Context) error { return run(ctx, key) },
		work: work,
	}
	e.mu.Unlock()

	if async {
		return work, nil
	}
	if err := work.Wait(ctx); err != nil {
		return work, err
	}
	return work, nil
}

// exchange runs the exchange among the group members.
func (e *Engine) exchange(ctx context.Context, group *backends.ProcessGroup, key string, payloads [][]byte) ([][]byte, error) {
	received, err := e.fabric.Exchange(ctx, key, group.Ranks(), payloads)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s backend rank %d", e.name, e.rank)
	}
	return received, nil
}

// async runs fn in its own goroutine (outside the collectives queue), tracked as pending work.
func (e *Engine) async(ctx context.Context, fn func(ctx context.Context) error) backends.Work {
	work := backends.NewPendingWork()
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		work.Complete(fn(ctx))
	}()
	return work
}
