// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"context"
	"sync"

	"github.com/gomlx/exceptions"
)

// DynamicWaitGroup is a WaitGroup-like counter of pending work that allows new work to be
// added while someone is waiting for it, and whose Wait can be cancelled.
//
// Waiters are released every time the counter reaches zero.
type DynamicWaitGroup struct {
	mu      sync.Mutex
	count   int64
	drained chan struct{}
}

// NewDynamicWaitGroup creates a new DynamicWaitGroup with a zero count.
func NewDynamicWaitGroup() *DynamicWaitGroup {
	wg := &DynamicWaitGroup{drained: make(chan struct{})}
	close(wg.drained)
	return wg
}

// Add changes the counter by the given delta. It panics if the counter goes negative.
func (wg *DynamicWaitGroup) Add(delta int) {
	wg.mu.Lock()
	defer wg.mu.Unlock()
	previous := wg.count
	if previous+int64(delta) < 0 {
		exceptions.Panicf("DynamicWaitGroup: negative counter")
	}
	wg.count += int64(delta)
	switch {
	case previous == 0 && wg.count > 0:
		wg.drained = make(chan struct{})
	case previous > 0 && wg.count == 0:
		close(wg.drained)
	}
}

// Done decrements the counter by one.
func (wg *DynamicWaitGroup) Done() {
	wg.Add(-1)
}

// Count returns the current value of the counter.
func (wg *DynamicWaitGroup) Count() int {
	wg.mu.Lock()
	defer wg.mu.Unlock()
	return int(wg.count)
}

// Wait blocks until the counter is zero, or ctx is done.
func (wg *DynamicWaitGroup) Wait(ctx context.Context) error {
	for {
		wg.mu.Lock()
		if wg.count == 0 {
			wg.mu.Unlock()
			return nil
		}
		drained := wg.drained
		wg.mu.Unlock()
		select {
		case <-drained:
			// Loop: new work may have been added after draining.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
