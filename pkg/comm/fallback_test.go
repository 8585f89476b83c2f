// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package comm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gomcrdl/gomcrdl/backends"
	"github.com/gomcrdl/gomcrdl/backends/fabric/local"
	"github.com/gomcrdl/gomcrdl/pkg/core/dtypes"
	"github.com/gomcrdl/gomcrdl/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWarnFallbackOnce(t *testing.T) {
	const n = 4
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fabrics := local.NewWorld(n)
	comms := make([]*Comm, n)
	for rank, f := range fabrics {
		comms[rank] = New()
		opts := DefaultInitOptions()
		opts.AutoDiscover = false
		opts.Backend = "nccl"
		opts.UseNativeRuntime = true
		opts.Fabric = f
		require.NoError(t, comms[rank].InitDistributed(ctx, opts))
	}

	var wg sync.WaitGroup
	for rank, c := range comms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { assert.NoError(t, c.DestroyProcessGroup(nil)) }()
			for range 3 {
				output := tensors.FromShape(dtypes.Float32, 1)
				_, err := c.ReduceScatterFn(ctx, output, tensors.FromScalarAndDimensions(float32(rank), n),
					backends.ReduceOpSum)
				assert.NoError(t, err)
				assert.Equal(t, []float32{6}, tensors.Flat[float32](output))

				// nccl has AllGatherIntoTensor: no fallback.
				gathered := tensors.FromShape(dtypes.Float32, n)
				_, err = c.AllGatherFn(ctx, gathered, tensors.FromScalarAndDimensions(float32(rank), 1))
				assert.NoError(t, err)
			}
			assert.Equal(t, 1, len(c.warned))
			assert.True(t, c.warned.Has("reduce_scatter_tensor"))
		}()
	}
	wg.Wait()
}

func TestPayload(t *testing.T) {
	a := tensors.FromShape(dtypes.Float32, 3)
	b := tensors.FromShape(dtypes.Int64, 2, 2)
	assert.Equal(t, int64(12+32), payload(a, nil, b)())
	assert.Zero(t, payload()())
}

func TestCallerName(t *testing.T) {
	assert.Contains(t, callerName(1), "TestCallerName")
}
