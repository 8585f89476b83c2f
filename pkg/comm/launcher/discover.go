// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"context"
	"net"
	"os"
	"strconv"

	"github.com/gomcrdl/gomcrdl/backends/fabric"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrNoFabric is returned by Discover when there is no connected fabric to discover the job through.
var ErrNoFabric = errors.New("launcher: discovery requires an already connected fabric")

const (
	discoverMasterKey = "launcher/discover/master"
	discoverHostsKey  = "launcher/discover/hosts"
)

// Discover resolves the identity of the process by talking to the other ranks over fab, and writes it
// to the native environment variables. Rank, local rank and world size are overwritten; MASTER_ADDR and
// MASTER_PORT are only set when absent, and the returned Resolved reports the values in effect.
//
// Rank and world size come from the fabric. Rank 0 broadcasts its first non-loopback IPv4 address
// as the master address, and the local rank is the number of lower ranks running on the same host.
// It must be called by every rank of the fabric.
func Discover(ctx context.Context, fab fabric.Fabric, port int, verbose bool) (Resolved, error) {
	if fab == nil {
		return Resolved{}, errors.WithStack(ErrNoFabric)
	}
	rank, size := fab.Rank(), fab.Size()
	members := make([]int, size)
	for ii := range members {
		members[ii] = ii
	}

	payloads := make([][]byte, size)
	if rank == 0 {
		addr := []byte(firstIPv4())
		for ii := range payloads {
			payloads[ii] = addr
		}
	}
	received, err := fab.Exchange(ctx, discoverMasterKey, members, payloads)
	if err != nil {
		return Resolved{}, errors.WithMessage(err, "launcher: failed to broadcast master address")
	}
	masterAddr := string(received[0])

	hostname, err := os.Hostname()
	if err != nil {
		return Resolved{}, errors.Wrap(err, "launcher: failed to get hostname")
	}
	for ii := range payloads {
		payloads[ii] = []byte(hostname)
	}
	received, err = fab.Exchange(ctx, discoverHostsKey, members, payloads)
	if err != nil {
		return Resolved{}, errors.WithMessage(err, "launcher: failed to all-gather hostnames")
	}
	hostnames := make([]string, size)
	for ii, data := range received {
		hostnames[ii] = string(data)
	}

	resolved := Resolved{
		Rank:       rank,
		LocalRank:  LocalRank(hostnames, rank),
		WorldSize:  size,
		MasterAddr: masterAddr,
		MasterPort: port,
	}
	for name, value := range map[string]string{
		EnvRank:      strconv.Itoa(resolved.Rank),
		EnvWorldSize: strconv.Itoa(resolved.WorldSize),
		EnvLocalRank: strconv.Itoa(resolved.LocalRank),
	} {
		if err := os.Setenv(name, value); err != nil {
			return Resolved{}, errors.Wrapf(err, "launcher: failed to set %s", name)
		}
	}
	// An explicitly configured rendezvous point wins over the discovered one.
	setIfAbsent(EnvMasterAddr, resolved.MasterAddr)
	setIfAbsent(EnvMasterPort, strconv.Itoa(resolved.MasterPort))
	resolved.MasterAddr = MasterAddr()
	resolved.MasterPort = MasterPort()
	if verbose {
		klog.Infof("Discovered MPI settings of %s", resolved)
	}
	return resolved, nil
}

// LocalRank returns the number of ranks lower than rank with the same hostname. hostnames is indexed by rank.
func LocalRank(hostnames []string, rank int) int {
	localRank := 0
	for _, host := range hostnames[:rank] {
		if host == hostnames[rank] {
			localRank++
		}
	}
	return localRank
}

// firstIPv4 returns the first non-loopback IPv4 address of the host, or DefaultMasterAddr if there is none.
func firstIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		klog.Warningf("launcher: failed to list interface addresses, using %s: %v", DefaultMasterAddr, err)
		return DefaultMasterAddr
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return DefaultMasterAddr
}
