// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package local implements an in-process fabric: each rank is driven by its own goroutine, and
// messages are delivered through shared mailboxes.
//
// It is used for tests, for single-process mode and by the benchmark tool to simulate a job.
package local

import (
	"context"
	"slices"
	"sync/atomic"

	"github.com/gomcrdl/gomcrdl/backends/fabric"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Fabric is the view of one rank of an in-process world.
type Fabric struct {
	rank, size int
	boxes      *fabric.Mailboxes
	world      *world
	closed     atomic.Bool
}

type world struct {
	boxes *fabric.Mailboxes
	open  atomic.Int32
}

var _ fabric.Fabric = (*Fabric)(nil)

// NewWorld creates n connected ranks. The i-th fabric returned is rank i.
//
// The mailboxes are released when all ranks are closed.
func NewWorld(n int) []fabric.Fabric {
	if n <= 0 {
		exceptions.Panicf("local.NewWorld(%d): number of ranks must be positive", n)
	}
	w := &world{boxes: fabric.NewMailboxes()}
	w.open.Store(int32(n))
	fabrics := make([]fabric.Fabric, n)
	for rank := range n {
		fabrics[rank] = &Fabric{rank: rank, size: n, boxes: w.boxes, world: w}
	}
	return fabrics
}

// Rank implements fabric.Fabric.
func (f *Fabric) Rank() int { return f.rank }

// Size implements fabric.Fabric.
func (f *Fabric) Size() int { return f.size }

// Exchange implements fabric.Fabric.
func (f *Fabric) Exchange(ctx context.Context, key string, members []int, payloads [][]byte) ([][]byte, error) {
	if f.closed.Load() {
		return nil, fabric.ErrClosed
	}
	if _, err := fabric.CheckExchange(f.rank, f.size, members, payloads); err != nil {
		return nil, err
	}
	channel := fabric.ExchangeChannel(key)
	for ii, member := range members {
		// Payloads are copied, so the sender can reuse its buffers.
		if err := f.boxes.Post(channel, member, f.rank, slices.Clone(payloads[ii])); err != nil {
			return nil, err
		}
	}
	results, err := f.boxes.Collect(ctx, channel, f.rank, members)
	if err != nil {
		return nil, errors.WithMessagef(err, "local fabric rank %d: exchange %q", f.rank, key)
	}
	return results, nil
}

// Send implements fabric.Fabric.
func (f *Fabric) Send(_ context.Context, dst, tag int, payload []byte) error {
	if f.closed.Load() {
		return fabric.ErrClosed
	}
	if err := fabric.CheckPeer(dst, f.size, false); err != nil {
		return err
	}
	return f.boxes.Post(fabric.TagChannel(tag), dst, f.rank, slices.Clone(payload))
}

// Recv implements fabric.Fabric.
func (f *Fabric) Recv(ctx context.Context, src, tag int) ([]byte, int, error) {
	if f.closed.Load() {
		return nil, -1, fabric.ErrClosed
	}
	if err := fabric.CheckPeer(src, f.size, true); err != nil {
		return nil, -1, err
	}
	envelope, err := f.boxes.Take(ctx, fabric.TagChannel(tag), f.rank, src)
	if err != nil {
		return nil, -1, errors.WithMessagef(err, "local fabric rank %d: recv from %d, tag %d", f.rank, src, tag)
	}
	return envelope.Payload, envelope.Src, nil
}

// Close implements fabric.Fabric.
func (f *Fabric) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	if f.world.open.Add(-1) == 0 {
		f.boxes.Close()
	}
	return nil
}
