// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fabrictest has a battery of tests that any fabric.Fabric implementation should pass.
package fabrictest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gomcrdl/gomcrdl/backends/fabric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunRanks calls fn concurrently for every fabric, one goroutine per rank, and waits for all of them.
func RunRanks(t *testing.T, fabrics []fabric.Fabric, fn func(f fabric.Fabric)) {
	t.Helper()
	var wg sync.WaitGroup
	for _, f := range fabrics {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(f)
		}()
	}
	wg.Wait()
}

// TestWorld runs the battery of tests over fabrics, a connected world: fabrics[i] must be rank i.
func TestWorld(t *testing.T, fabrics []fabric.Fabric) {
	size := len(fabrics)
	for rank, f := range fabrics {
		require.Equal(t, rank, f.Rank())
		require.Equal(t, size, f.Size())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	t.Run("Exchange", func(t *testing.T) {
		members := make([]int, size)
		for ii := range members {
			members[ii] = ii
		}
		RunRanks(t, fabrics, func(f fabric.Fabric) {
			for round := range 3 {
				payloads := make([][]byte, size)
				for dst := range size {
					payloads[dst] = []byte(fmt.Sprintf("%d->%d@%d", f.Rank(), dst, round))
				}
				results, err := f.Exchange(ctx, fmt.Sprintf("all/%d", round), members, payloads)
				if !assert.NoError(t, err) {
					return
				}
				for src, payload := range results {
					assert.Equal(t, fmt.Sprintf("%d->%d@%d", src, f.Rank(), round), string(payload))
				}
			}
		})
	})

	t.Run("SubsetExchange", func(t *testing.T) {
		if size < 2 {
			t.Skip("requires at least 2 ranks")
		}
		// Only the last two ranks, in reverse order.
		members := []int{size - 1, size - 2}
		RunRanks(t, fabrics, func(f fabric.Fabric) {
			if f.Rank() < size-2 {
				return
			}
			payload := []byte{byte(f.Rank())}
			results, err := f.Exchange(ctx, "subset", members, [][]byte{payload, payload})
			if assert.NoError(t, err) {
				assert.Equal(t, [][]byte{{byte(size - 1)}, {byte(size - 2)}}, results)
			}
		})
	})

	t.Run("PointToPoint", func(t *testing.T) {
		// Every rank sends 2 messages to the next one; the order per (source, tag) is preserved.
		RunRanks(t, fabrics, func(f fabric.Fabric) {
			next := (f.Rank() + 1) % size
			prev := (f.Rank() + size - 1) % size
			for ii := range 2 {
				assert.NoError(t, f.Send(ctx, next, 7, []byte{byte(f.Rank()), byte(ii)}))
			}
			for ii := range 2 {
				payload, from, err := f.Recv(ctx, prev, 7)
				if assert.NoError(t, err) {
					assert.Equal(t, prev, from)
					assert.Equal(t, []byte{byte(prev), byte(ii)}, payload)
				}
			}
			assert.NoError(t, f.Send(ctx, 0, 8, []byte{byte(f.Rank())}))
			if f.Rank() == 0 {
				seen := make(map[int]bool)
				for range size {
					payload, from, err := f.Recv(ctx, fabric.AnySource, 8)
					if assert.NoError(t, err) {
						assert.Equal(t, []byte{byte(from)}, payload)
						seen[from] = true
					}
				}
				assert.Len(t, seen, size)
			}
		})
	})

	t.Run("InvalidArguments", func(t *testing.T) {
		f := fabrics[0]
		_, err := f.Exchange(ctx, "bad", []int{size}, [][]byte{nil})
		require.Error(t, err)
		require.Error(t, f.Send(ctx, -1, 0, nil))
		_, _, err = f.Recv(ctx, size, 0)
		require.Error(t, err)
	})
}
