// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// DefaultAzureMLMasterPort is the rendezvous port used for single-node AzureML jobs.
	DefaultAzureMLMasterPort = 54965

	// DefaultAzureMLSocketIfName excludes the docker and loopback interfaces from NCCL.
	DefaultAzureMLSocketIfName = "^docker0,lo"
)

// InAzureML returns whether the process runs inside an Azure Machine Learning job.
func InAzureML() bool {
	_, found := os.LookupEnv("AZUREML_EXPERIMENT_ID")
	return found
}

// InDLTS returns whether the process runs inside a DLTS job.
func InDLTS() bool {
	_, found := os.LookupEnv("DLTS_JOB_ID")
	return found
}

// InSageMaker returns whether the process runs inside an AWS SageMaker training job.
func InSageMaker() bool {
	_, found := os.LookupEnv("SM_TRAINING_ENV")
	return found
}

// envMapper reads source variables and writes native ones, remembering the first error.
type envMapper struct {
	err error
}

func (m *envMapper) get(name string) string {
	value, found := os.LookupEnv(name)
	if !found && m.err == nil {
		m.err = errors.Errorf("launcher: required environment variable %s is not set", name)
	}
	return value
}

func (m *envMapper) set(name, value string) {
	if m.err != nil {
		return
	}
	if err := os.Setenv(name, value); err != nil {
		m.err = errors.Wrapf(err, "launcher: failed to set %s", name)
	}
}

// PatchAzureML maps the Open MPI variables set by AzureML into the native variables.
//
// For multi-node jobs MASTER_ADDR comes from AZ_BATCH_MASTER_NODE, and MASTER_PORT is set to masterPort
// if not yet set. For single-node jobs the master is AZ_BATCHAI_MPI_MASTER_NODE, on port
// DefaultAzureMLMasterPort.
func PatchAzureML(masterPort int, verbose bool) (Resolved, error) {
	m := &envMapper{}
	rank := m.get("OMPI_COMM_WORLD_RANK")
	worldSize := m.get("OMPI_COMM_WORLD_SIZE")
	localSize := m.get("OMPI_COMM_WORLD_LOCAL_SIZE")
	localRank := m.get("OMPI_COMM_WORLD_LOCAL_RANK")
	if m.err != nil {
		return Resolved{}, m.err
	}
	localSizeInt, err := strconv.Atoi(localSize)
	if err != nil {
		return Resolved{}, errors.Wrapf(err, "launcher: invalid OMPI_COMM_WORLD_LOCAL_SIZE=%q", localSize)
	}
	worldSizeInt, err := strconv.Atoi(worldSize)
	if err != nil {
		return Resolved{}, errors.Wrapf(err, "launcher: invalid OMPI_COMM_WORLD_SIZE=%q", worldSize)
	}
	singleNode := localSizeInt == worldSizeInt

	var masterAddr string
	if singleNode {
		masterAddr = m.get("AZ_BATCHAI_MPI_MASTER_NODE")
	} else {
		masterNode := m.get("AZ_BATCH_MASTER_NODE")
		masterAddr, _, _ = strings.Cut(masterNode, ":")
	}
	if m.err != nil {
		return Resolved{}, m.err
	}

	m.set(EnvRank, rank)
	m.set(EnvWorldSize, worldSize)
	m.set(EnvLocalRank, localRank)
	m.set(EnvMasterAddr, masterAddr)
	if singleNode {
		m.set(EnvMasterPort, strconv.Itoa(DefaultAzureMLMasterPort))
	} else if _, found := os.LookupEnv(EnvMasterPort); !found {
		m.set(EnvMasterPort, strconv.Itoa(masterPort))
	}
	if previous, found := os.LookupEnv("NCCL_SOCKET_IFNAME"); found && verbose {
		klog.Infof("NCCL_SOCKET_IFNAME previous value = %s", previous)
	}
	m.set("NCCL_SOCKET_IFNAME", DefaultAzureMLSocketIfName)
	if m.err != nil {
		return Resolved{}, m.err
	}
	resolved := FromEnv()
	if verbose {
		klog.Infof("Discovered AzureML settings of %s", resolved)
	}
	return resolved, nil
}

// PatchSageMaker maps the Open MPI variables set by SageMaker into the native rank variables.
func PatchSageMaker(verbose bool) (Resolved, error) {
	m := &envMapper{}
	rank := m.get("OMPI_COMM_WORLD_RANK")
	localRank := m.get("OMPI_COMM_WORLD_LOCAL_RANK")
	worldSize := m.get("OMPI_COMM_WORLD_SIZE")
	m.set(EnvRank, rank)
	m.set(EnvLocalRank, localRank)
	m.set(EnvWorldSize, worldSize)
	if m.err != nil {
		return Resolved{}, m.err
	}
	resolved := FromEnv()
	if verbose {
		klog.Infof("Discovered SageMaker settings of %s", resolved)
	}
	return resolved, nil
}
