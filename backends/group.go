// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// groupNamespace is the UUID namespace of process group ids.
var groupNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/gomcrdl/gomcrdl/process-group"))

// ProcessGroup is an ordered subset of the world ranks that take part in a collective.
//
// It is immutable. Its id is derived from the creation ordinal and the member list, so every rank
// computes the same id without communication, as long as groups are created in the same order.
type ProcessGroup struct {
	id        string
	ranks     []int
	groupRank map[int]int
}

// NewProcessGroup creates the process group with the given ordinal (0 is the world group) and members.
// Ranks must be unique and non-negative; their order defines the rank within the group.
func NewProcessGroup(ordinal int, ranks []int) (*ProcessGroup, error) {
	if len(ranks) == 0 {
		return nil, errors.New("process group requires at least one rank")
	}
	g := &ProcessGroup{
		ranks:     slices.Clone(ranks),
		groupRank: make(map[int]int, len(ranks)),
	}
	for ii, rank := range ranks {
		if rank < 0 {
			return nil, errors.Errorf("invalid negative rank %d in process group %v", rank, ranks)
		}
		if _, found := g.groupRank[rank]; found {
			return nil, errors.Errorf("rank %d repeated in process group %v", rank, ranks)
		}
		g.groupRank[rank] = ii
	}
	g.id = uuid.NewSHA1(groupNamespace, []byte(fmt.Sprintf("%d:%v", ordinal, ranks))).String()
	return g, nil
}

// ID returns the unique identifier of the group.
func (g *ProcessGroup) ID() string {
	return g.id
}

// Ranks returns a copy of the global ranks of the members, in group order.
func (g *ProcessGroup) Ranks() []int {
	return slices.Clone(g.ranks)
}

// Size returns the number of members.
func (g *ProcessGroup) Size() int {
	return len(g.ranks)
}

// Has returns whether the global rank is a member of the group.
func (g *ProcessGroup) Has(globalRank int) bool {
	_, found := g.groupRank[globalRank]
	return found
}

// GroupRank converts a global rank to a rank within the group. It returns -1 if it is not a member.
func (g *ProcessGroup) GroupRank(globalRank int) int {
	if groupRank, found := g.groupRank[globalRank]; found {
		return groupRank
	}
	return -1
}

// GlobalRank converts a rank within the group to a global rank.
func (g *ProcessGroup) GlobalRank(groupRank int) (int, error) {
	if groupRank < 0 || groupRank >= len(g.ranks) {
		return -1, errors.Errorf("group rank %d out of range for process group of size %d", groupRank, len(g.ranks))
	}
	return g.ranks[groupRank], nil
}

// String implements fmt.Stringer.
func (g *ProcessGroup) String() string {
	return fmt.Sprintf("ProcessGroup(%s, ranks=%v)", g.id[:8], g.ranks)
}
