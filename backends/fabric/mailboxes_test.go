// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fabric_test

import (
	"context"
	"testing"
	"time"

	"github.com/gomcrdl/gomcrdl/backends/fabric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailboxes(t *testing.T) {
	ctx := context.Background()
	boxes := fabric.NewMailboxes()
	require.NoError(t, boxes.Post("c", 1, 0, []byte("a")))
	require.NoError(t, boxes.Post("c", 1, 2, []byte("b")))
	require.NoError(t, boxes.Post("c", 1, 0, []byte("c")))
	assert.Equal(t, 3, boxes.Pending())

	// Selecting by source keeps the order of the remaining messages.
	envelope, err := boxes.Take(ctx, "c", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, fabric.Envelope{Src: 2, Payload: []byte("b")}, envelope)
	envelope, err = boxes.Take(ctx, "c", 1, fabric.AnySource)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), envelope.Payload)

	results, err := boxes.Collect(ctx, "c", 1, []int{0})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("c")}, results)
	assert.Equal(t, 0, boxes.Pending())

	// Waiting is cancellable.
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = boxes.Take(timeoutCtx, "c", 1, 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// A delivery wakes up the waiter.
	done := make(chan fabric.Envelope)
	go func() {
		envelope, err := boxes.Take(ctx, "other", 0, 3)
		assert.NoError(t, err)
		done <- envelope
	}()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, boxes.Post("other", 0, 3, []byte("late")))
	assert.Equal(t, []byte("late"), (<-done).Payload)

	boxes.Close()
	_, err = boxes.Take(ctx, "c", 1, 0)
	require.ErrorIs(t, err, fabric.ErrClosed)
	require.ErrorIs(t, boxes.Post("c", 1, 0, nil), fabric.ErrClosed)
}

func TestCheckExchange(t *testing.T) {
	idx, err := fabric.CheckExchange(2, 4, []int{3, 2}, [][]byte{nil, nil})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	_, err = fabric.CheckExchange(2, 4, []int{3, 2}, [][]byte{nil})
	require.Error(t, err)
	_, err = fabric.CheckExchange(0, 4, []int{3, 2}, [][]byte{nil, nil})
	require.Error(t, err)
	_, err = fabric.CheckExchange(2, 3, []int{3, 2}, [][]byte{nil, nil})
	require.Error(t, err)

	require.NoError(t, fabric.CheckPeer(fabric.AnySource, 2, true))
	require.Error(t, fabric.CheckPeer(fabric.AnySource, 2, false))
	require.Error(t, fabric.CheckPeer(2, 2, false))
}
