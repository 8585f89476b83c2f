// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package local_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/gomcrdl/gomcrdl/backends/fabric"
	"github.com/gomcrdl/gomcrdl/backends/fabric/fabrictest"
	"github.com/gomcrdl/gomcrdl/backends/fabric/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorld(t *testing.T) {
	for _, size := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			world := local.NewWorld(size)
			fabrictest.TestWorld(t, world)
			for _, f := range world {
				require.NoError(t, f.Close())
			}
		})
	}
}

func TestClose(t *testing.T) {
	world := local.NewWorld(2)
	require.NoError(t, world[0].Close())
	require.NoError(t, world[0].Close())
	ctx := context.Background()
	require.ErrorIs(t, world[0].Send(ctx, 1, 0, nil), fabric.ErrClosed)
	_, _, err := world[0].Recv(ctx, 1, 0)
	require.ErrorIs(t, err, fabric.ErrClosed)

	// The other rank still works until it is closed.
	require.NoError(t, world[1].Send(ctx, 1, 0, []byte("self")))
	payload, from, err := world[1].Recv(ctx, fabric.AnySource, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, from)
	assert.Equal(t, []byte("self"), payload)
	require.NoError(t, world[1].Close())

	assert.Panics(t, func() { local.NewWorld(0) })
}
