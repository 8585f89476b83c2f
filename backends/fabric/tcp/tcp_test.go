// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gomcrdl/gomcrdl/backends/fabric"
	"github.com/gomcrdl/gomcrdl/backends/fabric/fabrictest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freePort returns a port that was free a moment ago.
func freePort(t *testing.T) int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}

func connectWorld(t *testing.T, size int) []fabric.Fabric {
	port := freePort(t)
	fabrics := make([]fabric.Fabric, size)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for rank := range size {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Ranks other than 0 start first, to exercise the retries while the hub is not up.
			if rank == 0 {
				time.Sleep(50 * time.Millisecond)
			}
			f, err := Connect(context.Background(), Config{
				Rank: rank, Size: size,
				MasterAddr: "127.0.0.1", MasterPort: port,
				Timeout:        10 * time.Second,
				HubGracePeriod: time.Second,
			})
			fabrics[rank], errs[rank] = f, err
		}()
	}
	wg.Wait()
	for rank, err := range errs {
		require.NoErrorf(t, err, "rank %d failed to connect", rank)
	}
	return fabrics
}

func TestFrameCodec(t *testing.T) {
	codec := frameCodec{}
	in := &frame{Kind: kindData, Src: 3, Dst: 1, Channel: "x/abc/7", Payload: []byte{1, 2, 3}}
	data, err := codec.Marshal(in)
	require.NoError(t, err)
	var out frame
	require.NoError(t, codec.Unmarshal(data, &out))
	assert.Equal(t, *in, out)

	require.Error(t, codec.Unmarshal(data[:len(data)-1], &out))
	_, err = codec.Marshal("not a frame")
	require.Error(t, err)
	assert.Equal(t, codecName, codec.Name())
}

func TestWorld(t *testing.T) {
	fabrics := connectWorld(t, 3)
	sessionID := fabrics[0].(*Fabric).SessionID()
	assert.NotEmpty(t, sessionID)
	for _, f := range fabrics {
		assert.Equal(t, sessionID, f.(*Fabric).SessionID())
	}
	fabrictest.TestWorld(t, fabrics)

	// Close the hub (rank 0) last.
	for rank := len(fabrics) - 1; rank >= 0; rank-- {
		require.NoError(t, fabrics[rank].Close())
	}
	_, _, err := fabrics[1].Recv(context.Background(), 0, 0)
	require.ErrorIs(t, err, fabric.ErrClosed)
}

func TestConnectTimeout(t *testing.T) {
	// Rank 1 of 2 with no hub running.
	start := time.Now()
	_, err := Connect(context.Background(), Config{
		Rank: 1, Size: 2, MasterAddr: "127.0.0.1", MasterPort: freePort(t),
		Timeout: 200 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	_, err = Connect(context.Background(), Config{Rank: 2, Size: 2})
	require.Error(t, err)
}
