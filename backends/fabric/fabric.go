// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fabric defines the minimal transport a collective backend moves bytes over.
//
// A Fabric connects the ranks of a job. It offers a personalized exchange among a list of members
// (every collective is built on top of it) and tagged point-to-point messages.
//
// Implementations: package local (in-process ranks, one per goroutine) and package tcp (one process
// per rank, connected through a hub run by rank 0).
package fabric

import (
	"context"
	"slices"

	"github.com/pkg/errors"
)

// AnySource can be given as the source rank to Recv to receive from any rank.
const AnySource = -1

// ErrClosed is returned by operations on a closed fabric.
var ErrClosed = errors.New("fabric closed")

// Fabric is the transport connecting the ranks of a job.
//
// Messages between a given pair of ranks on the same tag (or exchange key) are delivered in order.
type Fabric interface {
	// Rank of this process, in [0, Size).
	Rank() int

	// Size is the number of ranks.
	Size() int

	// Exchange sends payloads[i] to members[i] and returns the payloads received: result[j] is what
	// members[j] sent to this rank. It includes this rank itself, which must be a member.
	//
	// Every member must call Exchange with the same key and members; the key must not be reused.
	Exchange(ctx context.Context, key string, members []int, payloads [][]byte) ([][]byte, error)

	// Send payload to rank dst with the given tag.
	Send(ctx context.Context, dst, tag int, payload []byte) error

	// Recv receives a payload with the given tag from src (or from any rank if src is AnySource).
	// It returns the payload and the rank that sent it.
	Recv(ctx context.Context, src, tag int) (payload []byte, from int, err error)

	// Close releases the resources of this rank. Pending and later operations fail with ErrClosed.
	Close() error
}

// CheckExchange validates the arguments of Fabric.Exchange for the given rank and world size,
// and returns the position of rank in members.
func CheckExchange(rank, size int, members []int, payloads [][]byte) (int, error) {
	if len(members) != len(payloads) {
		return -1, errors.Errorf("exchange with %d members but %d payloads", len(members), len(payloads))
	}
	for _, member := range members {
		if member < 0 || member >= size {
			return -1, errors.Errorf("exchange member %d out of range for world of size %d", member, size)
		}
	}
	idx := slices.Index(members, rank)
	if idx < 0 {
		return -1, errors.Errorf("rank %d is not a member of the exchange %v", rank, members)
	}
	return idx, nil
}

// CheckPeer validates the peer rank of a point-to-point operation.
func CheckPeer(peer, size int, allowAny bool) error {
	if allowAny && peer == AnySource {
		return nil
	}
	if peer < 0 || peer >= size {
		return errors.Errorf("peer rank %d out of range for world of size %d", peer, size)
	}
	return nil
}
