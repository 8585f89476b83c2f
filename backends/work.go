// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"context"

	"github.com/gomcrdl/gomcrdl/pkg/support/xsync"
)

// Work is the completion handle of a collective. Operations issued synchronously return a Work
// that is already completed.
type Work interface {
	// Wait blocks until the operation completes and returns its error, or until ctx is done.
	Wait(ctx context.Context) error

	// IsCompleted returns whether the operation completed (successfully or not).
	IsCompleted() bool
}

// PendingWork is a Work completed by calling Complete.
type PendingWork struct {
	latch *xsync.Latch
}

var _ Work = (*PendingWork)(nil)

// NewPendingWork returns a Work that is not yet completed.
func NewPendingWork() *PendingWork {
	return &PendingWork{latch: xsync.NewLatch()}
}

// CompletedWork returns a Work already completed with the given error.
func CompletedWork(err error) *PendingWork {
	return &PendingWork{latch: xsync.NewTriggeredLatch(err)}
}

// Complete marks the work as completed with the given error. Only the first call has an effect.
func (w *PendingWork) Complete(err error) {
	w.latch.Trigger(err)
}

// Wait implements Work.
func (w *PendingWork) Wait(ctx context.Context) error {
	return w.latch.Wait(ctx)
}

// IsCompleted implements Work.
func (w *PendingWork) IsCompleted() bool {
	return w.latch.Test()
}

// Done returns a channel closed when the work completes.
func (w *PendingWork) Done() <-chan struct{} {
	return w.latch.WaitChan()
}
