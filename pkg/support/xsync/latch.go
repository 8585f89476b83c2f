// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements some extra synchronization tools, used to complete asynchronous
// collectives.
package xsync

import (
	"context"
	"sync"
)

// Latch implements a "latch" synchronization mechanism, with an error associated with its triggering.
//
// A Latch is a signal that can be waited for until it is triggered.
// Once triggered it never changes state, it's forever triggered.
type Latch struct {
	mu   sync.Mutex
	err  error
	wait chan struct{}
}

// NewLatch returns an un-triggered latch.
func NewLatch() *Latch {
	return &Latch{wait: make(chan struct{})}
}

// NewTriggeredLatch returns a latch already triggered with err.
func NewTriggeredLatch(err error) *Latch {
	l := NewLatch()
	l.Trigger(err)
	return l
}

// Trigger the latch, saving the associated error (it can be nil).
// Triggering an already triggered latch is a no-op, and the new error is discarded.
func (l *Latch) Trigger(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Test() {
		return
	}
	l.err = err
	close(l.wait)
}

// Test checks whether the latch has been triggered.
func (l *Latch) Test() bool {
	select {
	case <-l.wait:
		return true
	default:
		return false
	}
}

// Wait waits for the latch to be triggered, and returns the error it was triggered with.
// If ctx is done first, it returns ctx.Err().
func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.wait:
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitChan returns the channel that one can use on a `select` to check when
// the latch triggers.
// The returned channel is closed when the latch is triggered.
func (l *Latch) WaitChan() <-chan struct{} {
	return l.wait
}
