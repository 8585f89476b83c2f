// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package _default_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gomcrdl/gomcrdl/backends"
	_ "github.com/gomcrdl/gomcrdl/backends/default"
	"github.com/gomcrdl/gomcrdl/backends/fabric/local"
	"github.com/gomcrdl/gomcrdl/pkg/core/dtypes"
	"github.com/gomcrdl/gomcrdl/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistered(t *testing.T) {
	for _, name := range []string{"native", "nccl", "mpi"} {
		assert.True(t, backends.IsRegistered(name), "backend %q not registered", name)
	}
	_, err := backends.New("ucc", backends.Config{})
	require.ErrorIs(t, err, backends.ErrUnknownBackend)
}

func TestCapabilities(t *testing.T) {
	for _, tc := range []struct {
		name, transport string
		capabilities    backends.Capabilities
		usingMPI        bool
	}{
		{"native", "", backends.Capabilities{AllGatherIntoTensor: true, ReduceScatterTensor: true,
			CoalescingManager: true, AllReduceCoalesced: true}, false},
		{"native", "mpi", backends.Capabilities{AllGatherIntoTensor: true, ReduceScatterTensor: true,
			CoalescingManager: true, AllReduceCoalesced: true}, true},
		{"nccl", "", backends.Capabilities{AllGatherIntoTensor: true}, false},
		{"mpi", "", backends.Capabilities{}, true},
	} {
		t.Run(tc.name+"/"+tc.transport, func(t *testing.T) {
			backend, err := backends.New(tc.name, backends.Config{Transport: tc.transport})
			require.NoError(t, err)
			assert.Equal(t, tc.name, backend.Name())
			assert.Equal(t, tc.capabilities, backend.Capabilities())
			assert.Equal(t, tc.capabilities.AllGatherIntoTensor, backend.HasAllGatherIntoTensor())
			assert.Equal(t, tc.capabilities.ReduceScatterTensor, backend.HasReduceScatterTensor())
			assert.Equal(t, tc.capabilities.AllReduceCoalesced, backend.HasAllReduceCoalesced())
			assert.Equal(t, tc.capabilities.CoalescingManager, backend.HasCoalescingManager())
			assert.Equal(t, tc.usingMPI, backend.UsingMPI())
			assert.False(t, backend.IsInitialized())
		})
	}

	_, err := backends.New("native", backends.Config{Transport: "carrier-pigeon"})
	require.Error(t, err)
}

func TestMissingPrimitives(t *testing.T) {
	ctx := context.Background()
	backend := backends.MustNew("mpi", backends.Config{WorldSize: 0})
	require.NoError(t, backend.InitProcessGroup(ctx))
	defer func() { require.NoError(t, backend.DestroyProcessGroup(nil)) }()

	x := tensors.FromShape(dtypes.Float32, 4)
	_, err := backend.AllGatherIntoTensor(ctx, x, x, backends.CallOptions{})
	require.ErrorIs(t, err, backends.ErrNotImplemented)
	_, err = backend.ReduceScatterTensor(ctx, x, x, backends.ReduceOpSum, backends.CallOptions{})
	require.ErrorIs(t, err, backends.ErrNotImplemented)
	_, err = backend.AllReduceCoalesced(ctx, []*tensors.Tensor{x}, backends.ReduceOpSum, backends.CallOptions{})
	require.ErrorIs(t, err, backends.ErrNotImplemented)

	// Guaranteed primitives work.
	_, err = backend.AllReduce(ctx, x, backends.ReduceOpSum, backends.CallOptions{})
	require.NoError(t, err)
}

// TestAllReduceSum checks that with every rank contributing rank+1 the sum is n(n+1)/2, for every backend.
func TestAllReduceSum(t *testing.T) {
	const n = 4
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, name := range []string{"native", "nccl", "mpi"} {
		t.Run(name, func(t *testing.T) {
			fabrics := local.NewWorld(n)
			var wg sync.WaitGroup
			for rank, f := range fabrics {
				wg.Add(1)
				go func() {
					defer wg.Done()
					backend, err := backends.New(name, backends.Config{Rank: rank, WorldSize: n, Fabric: f})
					if !assert.NoError(t, err) {
						return
					}
					if !assert.NoError(t, backend.InitProcessGroup(ctx)) {
						return
					}
					defer func() { assert.NoError(t, backend.DestroyProcessGroup(nil)) }()
					assert.Equal(t, rank, backend.GetRank(nil))
					assert.Equal(t, n, backend.GetWorldSize(nil))
					x := tensors.FromScalarAndDimensions(float32(rank+1), 3)
					_, err = backend.AllReduce(ctx, x, backends.ReduceOpSum, backends.CallOptions{})
					assert.NoError(t, err)
					assert.Equal(t, []float32{10, 10, 10}, tensors.Flat[float32](x))
				}()
			}
			wg.Wait()
		})
	}
}
