// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fabric

import (
	"context"
	"strconv"
	"sync"

	"github.com/unixpickle/essentials"
)

// Envelope is a message waiting in a mailbox.
type Envelope struct {
	Src     int
	Payload []byte
}

type mailboxKey struct {
	channel string
	dst     int
}

// Mailboxes hold the messages delivered to ranks but not yet taken, per channel and destination.
//
// It is safe for concurrent use. Waits are context-aware: waiters are woken up on every delivery
// and re-scan their mailbox.
type Mailboxes struct {
	mu      sync.Mutex
	boxes   map[mailboxKey][]Envelope
	changed chan struct{}
	closed  bool
}

// NewMailboxes returns an empty set of mailboxes.
func NewMailboxes() *Mailboxes {
	return &Mailboxes{
		boxes:   make(map[mailboxKey][]Envelope),
		changed: make(chan struct{}),
	}
}

// ExchangeChannel returns the channel name used by the exchange with the given key.
func ExchangeChannel(key string) string {
	return "x/" + key
}

// TagChannel returns the channel name used by point-to-point messages with the given tag.
func TagChannel(tag int) string {
	return "p/" + strconv.Itoa(tag)
}

// Post delivers a message from src to the dst mailbox of channel.
func (m *Mailboxes) Post(channel string, dst, src int, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	key := mailboxKey{channel, dst}
	m.boxes[key] = append(m.boxes[key], Envelope{Src: src, Payload: payload})
	close(m.changed)
	m.changed = make(chan struct{})
	return nil
}

// Take removes and returns the oldest message in the dst mailbox of channel sent by src (or by
// anyone if src is AnySource). It blocks until one arrives, ctx is done or the mailboxes are closed.
func (m *Mailboxes) Take(ctx context.Context, channel string, dst, src int) (Envelope, error) {
	key := mailboxKey{channel, dst}
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return Envelope{}, ErrClosed
		}
		box := m.boxes[key]
		for idx, envelope := range box {
			if src == AnySource || envelope.Src == src {
				essentials.OrderedDelete(&box, idx)
				if len(box) == 0 {
					delete(m.boxes, key)
				} else {
					m.boxes[key] = box
				}
				m.mu.Unlock()
				return envelope, nil
			}
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		}
	}
}

// Pending returns the number of messages not yet taken.
func (m *Mailboxes) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, box := range m.boxes {
		count += len(box)
	}
	return count
}

// Close wakes up all waiters, which fail with ErrClosed.
func (m *Mailboxes) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.changed)
}

// Collect takes one message from each of the members, in order, from the dst mailbox of channel.
// result[j] is the payload sent by members[j].
func (m *Mailboxes) Collect(ctx context.Context, channel string, dst int, members []int) ([][]byte, error) {
	results := make([][]byte, len(members))
	for ii, member := range members {
		envelope, err := m.Take(ctx, channel, dst, member)
		if err != nil {
			return nil, err
		}
		results[ii] = envelope.Payload
	}
	return results, nil
}
