// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package launcher resolves the identity of this process in a distributed job (rank, local rank,
// world size and rendezvous address) from the environment variables set by the various launchers
// (torchrun-style, Open MPI, MVAPICH, Intel MPI, Slurm, AzureML, SageMaker), or by active discovery over
// an already connected fabric.
//
// The native variables (RANK, LOCAL_RANK, WORLD_SIZE, MASTER_ADDR, MASTER_PORT) always take precedence.
package launcher

import (
	"fmt"
	"os"
	"strconv"

	"k8s.io/klog/v2"
)

// Native environment variables, read by the backends to connect.
const (
	EnvRank       = "RANK"
	EnvLocalRank  = "LOCAL_RANK"
	EnvWorldSize  = "WORLD_SIZE"
	EnvMasterAddr = "MASTER_ADDR"
	EnvMasterPort = "MASTER_PORT"
)

// DefaultMasterAddr and DefaultMasterPort are used when MASTER_ADDR or MASTER_PORT are not set.
const (
	DefaultMasterAddr = "127.0.0.1"
	DefaultMasterPort = 29500
)

var (
	// RankVars lists, in order of priority, the variables holding the rank of the process.
	RankVars = []string{EnvRank, "MPI_RANKID", "OMPI_COMM_WORLD_RANK", "MV2_COMM_WORLD_RANK", "SLURM_PROCID",
		"MVP_COMM_WORLD_RANK"}

	// LocalRankVars lists, in order of priority, the variables holding the rank of the process within its node.
	LocalRankVars = []string{EnvLocalRank, "MPI_LOCALRANKID", "OMPI_COMM_WORLD_LOCAL_RANK", "MV2_COMM_WORLD_LOCAL_RANK",
		"SLURM_LOCALID", "MVP_COMM_WORLD_LOCAL_RANK"}

	// WorldSizeVars lists, in order of priority, the variables holding the number of processes of the job.
	WorldSizeVars = []string{EnvWorldSize, "OMPI_COMM_WORLD_SIZE", "MV2_COMM_WORLD_SIZE", "SLURM_NPROCS",
		"MVP_COMM_WORLD_SIZE"}

	// RequiredVars are the variables needed to rendezvous without any discovery.
	RequiredVars = []string{EnvRank, EnvWorldSize, EnvMasterAddr, EnvMasterPort, EnvLocalRank}
)

// Resolved holds the identity of the process in the job.
type Resolved struct {
	Rank, LocalRank, WorldSize int
	MasterAddr                 string
	MasterPort                 int
}

// EnvToInt returns the value of the first variable in names that is set to a non-negative integer.
// Variables that are unset, or not parseable, or negative are skipped. If none is found it returns defaultValue.
func EnvToInt(names []string, defaultValue int) int {
	for _, name := range names {
		value, found := os.LookupEnv(name)
		if !found {
			continue
		}
		v, err := strconv.Atoi(value)
		if err != nil {
			klog.V(2).Infof("launcher: ignoring %s=%q: not an integer", name, value)
			continue
		}
		if v >= 0 {
			return v
		}
	}
	return defaultValue
}

// RankFromLauncher returns the rank set by the launcher, or 0 for a single process job.
func RankFromLauncher() int {
	return EnvToInt(RankVars, 0)
}

// LocalRankFromLauncher returns the local rank set by the launcher, or 0 for a single process job.
func LocalRankFromLauncher() int {
	return EnvToInt(LocalRankVars, 0)
}

// WorldSizeFromLauncher returns the world size set by the launcher, or 1 for a single process job.
func WorldSizeFromLauncher() int {
	return EnvToInt(WorldSizeVars, 1)
}

// MasterAddr returns MASTER_ADDR, or DefaultMasterAddr if not set.
func MasterAddr() string {
	if addr, found := os.LookupEnv(EnvMasterAddr); found && addr != "" {
		return addr
	}
	return DefaultMasterAddr
}

// MasterPort returns MASTER_PORT, or DefaultMasterPort if not set (or invalid).
func MasterPort() int {
	return EnvToInt([]string{EnvMasterPort}, DefaultMasterPort)
}

// FromEnv returns the identity of the process as currently set in the environment, without changing it.
func FromEnv() Resolved {
	return Resolved{
		Rank:       RankFromLauncher(),
		LocalRank:  LocalRankFromLauncher(),
		WorldSize:  WorldSizeFromLauncher(),
		MasterAddr: MasterAddr(),
		MasterPort: MasterPort(),
	}
}

// setIfAbsent sets the variable only if it is not yet set: values set explicitly by the operator are
// never overwritten.
func setIfAbsent(name, value string) {
	if _, found := os.LookupEnv(name); found {
		return
	}
	if err := os.Setenv(name, value); err != nil {
		klog.Errorf("launcher: failed to set %s=%q: %v", name, value, err)
	}
}

// SetupMPIEnv resolves rank, local rank and world size from the MPI-flavored variables and writes them
// back as the native variables, when these are not set. If masterAddr is not empty, it is set as MASTER_ADDR.
func SetupMPIEnv(masterAddr string) Resolved {
	if masterAddr != "" {
		if err := os.Setenv(EnvMasterAddr, masterAddr); err != nil {
			klog.Errorf("launcher: failed to set %s=%q: %v", EnvMasterAddr, masterAddr, err)
		}
	}
	localRank := EnvToInt(LocalRankVars, 0)
	setIfAbsent(EnvLocalRank, strconv.Itoa(localRank))
	rank := EnvToInt(RankVars, 0)
	setIfAbsent(EnvRank, strconv.Itoa(rank))
	worldSize := EnvToInt(WorldSizeVars, 1)
	setIfAbsent(EnvWorldSize, strconv.Itoa(worldSize))
	return FromEnv()
}

// HasRequiredEnv returns whether all the variables required for the rendezvous are set.
func HasRequiredEnv() bool {
	for _, name := range RequiredVars {
		if _, found := os.LookupEnv(name); !found {
			return false
		}
	}
	return true
}

// HasIdentifyingVars returns whether any of the rank or world size variables (native or aliases) is set.
func HasIdentifyingVars() bool {
	for _, names := range [][]string{RankVars, WorldSizeVars} {
		for _, name := range names {
			if _, found := os.LookupEnv(name); found {
				return true
			}
		}
	}
	return false
}

// String implements fmt.Stringer.
func (r Resolved) String() string {
	return fmt.Sprintf("world_rank=%d, local_rank=%d, world_size=%d, master_addr=%s, master_port=%d",
		r.Rank, r.LocalRank, r.WorldSize, r.MasterAddr, r.MasterPort)
}
