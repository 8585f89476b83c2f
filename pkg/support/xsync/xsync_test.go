// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatch(t *testing.T) {
	l := NewLatch()
	assert.False(t, l.Test())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)

	want := errors.New("failed")
	go l.Trigger(want)
	<-l.WaitChan()
	assert.True(t, l.Test())
	require.ErrorIs(t, l.Wait(context.Background()), want)

	// Second trigger is discarded.
	l.Trigger(nil)
	require.ErrorIs(t, l.Wait(context.Background()), want)

	require.NoError(t, NewTriggeredLatch(nil).Wait(context.Background()))
}

func TestDynamicWaitGroup(t *testing.T) {
	wg := NewDynamicWaitGroup()
	require.NoError(t, wg.Wait(context.Background()))

	wg.Add(2)
	assert.Equal(t, 2, wg.Count())
	done := make(chan error)
	go func() { done <- wg.Wait(context.Background()) }()
	wg.Done()
	wg.Add(1)
	wg.Done()
	select {
	case <-done:
		t.Fatal("Wait returned before the counter reached zero")
	case <-time.After(10 * time.Millisecond):
	}
	wg.Done()
	require.NoError(t, <-done)

	wg.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, wg.Wait(ctx), context.Canceled)
	assert.Panics(t, func() { wg.Add(-2) })
}
