// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface a collective-communication backend needs to implement to be
// used by the dispatch layer (package github.com/gomcrdl/gomcrdl/pkg/comm).
//
// A backend moves tensors among the ranks of a job: broadcast, all-reduce, all-gather, all-to-all,
// reduce-scatter, point-to-point send/recv and barriers. Backends advertise which optional primitives
// they implement with Capabilities, and the dispatch layer falls back to equivalent list-based
// primitives when one is missing.
//
// A backend that doesn't implement an optional primitive returns ErrNotImplemented for it.
//
// Backends are registered by name with Register, usually during package initialization. Import
// github.com/gomcrdl/gomcrdl/backends/default to register all the backends in this module.
package backends

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/gomcrdl/gomcrdl/backends/fabric"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// ErrNotImplemented is returned by a backend for primitives it doesn't support.
//
// It doesn't contain a stack, attach a stack to it with errors.Wrapf(ErrNotImplemented, "...") when using it.
var ErrNotImplemented = errors.New("not implemented")

// ErrNotMember is returned when the calling rank is not part of the process group used in a collective.
var ErrNotMember = errors.New("rank is not a member of the process group")

// ErrNotInitialized is returned by operations issued before a backend is initialized, or after it is destroyed.
var ErrNotInitialized = errors.New("distributed backend is not initialized")

// ErrUnknownBackend is returned by New for names that were never registered.
var ErrUnknownBackend = errors.New("unknown backend")

// Backend is the API that needs to be implemented by a collective-communication backend.
//
// Rank and size queries take a process group: a nil group means the world group.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "nccl", "mpi" or "native".
	Name() string

	// InitProcessGroup connects this rank to the others. It is idempotent.
	//
	// If the configured world size is <= 0, the backend enters single-process mode, where all
	// collectives run on a world of one rank: they leave their inputs unchanged.
	InitProcessGroup(ctx context.Context) error

	// IsInitialized returns whether InitProcessGroup succeeded and the backend wasn't destroyed.
	IsInitialized() bool

	// UsingMPI returns whether operations follow MPI completion semantics, in which case timing
	// an operation requires a barrier after it.
	UsingMPI() bool

	// Capabilities returns the optional primitives supported by the backend. It never changes after construction.
	Capabilities() Capabilities

	HasAllGatherIntoTensor() bool
	HasReduceScatterTensor() bool
	HasAllReduceCoalesced() bool
	HasCoalescingManager() bool

	// GetRank returns the rank of the caller within the group, or -1 if it is not a member.
	GetRank(group *ProcessGroup) int

	// GetWorldSize returns the number of ranks in the group, or -1 if the caller is not a member.
	GetWorldSize(group *ProcessGroup) int

	// GetGlobalRank converts a rank within group to a rank in the world group.
	GetGlobalRank(group *ProcessGroup, groupRank int) (int, error)

	// WorldGroup returns the group with all the ranks.
	WorldGroup() *ProcessGroup

	// NewGroup creates a process group with the given (global) ranks.
	//
	// Like every collective, it must be called by every rank (members or not) in the same order, since
	// the groups are identified by their creation order.
	NewGroup(ctx context.Context, ranks []int) (*ProcessGroup, error)

	// DestroyProcessGroup forgets the group. If group is nil, it tears down the backend: after that
	// IsInitialized returns false.
	DestroyProcessGroup(group *ProcessGroup) error

	// Synchronize waits for all pending operations issued by this rank to complete.
	Synchronize(ctx context.Context) error

	CollectiveOps
}

// Config is passed to a backend Constructor.
type Config struct {
	// Transport is the name of the transport used by backends that wrap one (e.g. "native" over "nccl").
	Transport string

	// Rank and WorldSize of this process. A WorldSize <= 0 selects single-process mode.
	Rank, WorldSize int

	// MasterAddr and MasterPort point to the rendezvous server run by rank 0.
	MasterAddr string
	MasterPort int

	// InitMethod is informative: only "env://" (or empty) rendezvous is supported.
	InitMethod string

	// Timeout for the rendezvous and for operations that take a timeout by default.
	Timeout time.Duration

	// Fabric is an already connected fabric to use, instead of connecting a new one.
	// The backend takes ownership: it is closed when the backend is destroyed.
	Fabric fabric.Fabric
}

// Constructor takes a Config and returns a (not yet initialized) Backend.
type Constructor func(config Config) (Backend, error)

var (
	muRegistry             sync.Mutex
	registeredConstructors = make(map[string]Constructor)
)

// Register backend with the given name, and a constructor.
//
// To be safe, call Register during initialization of a package. Registering the same name twice
// replaces the previous constructor.
func Register(name string, constructor Constructor) {
	if name == "" || constructor == nil {
		exceptions.Panicf("backends.Register(%q): name and constructor must be given", name)
	}
	muRegistry.Lock()
	defer muRegistry.Unlock()
	registeredConstructors[name] = constructor
}

// IsRegistered returns whether a backend with the given name was registered.
func IsRegistered(name string) bool {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	_, found := registeredConstructors[name]
	return found
}

// Registered returns the sorted names of the registered backends.
func Registered() []string {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// New constructs the backend registered under name.
// It returns an error wrapping ErrUnknownBackend if no backend with that name was registered.
func New(name string, config Config) (Backend, error) {
	muRegistry.Lock()
	constructor, found := registeredConstructors[name]
	muRegistry.Unlock()
	if !found {
		return nil, errors.Wrapf(ErrUnknownBackend, "backend %q (registered backends: %v) -- "+
			"maybe import the default ones with import _ \"github.com/gomcrdl/gomcrdl/backends/default\"?",
			name, Registered())
	}
	backend, err := constructor(config)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to construct backend %q", name)
	}
	return backend, nil
}

// MustNew is like New, but panics on errors.
func MustNew(name string, config Config) Backend {
	backend, err := New(name, config)
	if err != nil {
		exceptions.Panicf("backends.MustNew(%q): %+v", name, err)
	}
	return backend
}
