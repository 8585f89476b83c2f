// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := Make[string](4)
	assert.Len(t, s, 0)

	s.Insert("all_reduce", "broadcast")
	assert.True(t, s.Has("all_reduce"))
	assert.False(t, s.Has("barrier"))
	assert.Equal(t, []string{"all_reduce", "broadcast"}, Sorted(s))

	cloned := s.Clone()
	cloned.Delete("broadcast", "not_there")
	assert.True(t, s.Has("broadcast"))
	assert.False(t, cloned.Has("broadcast"))
	assert.False(t, s.Equal(cloned))
	assert.True(t, cloned.Equal(MakeWith("all_reduce")))

	var empty Set[int]
	assert.False(t, empty.Has(1))
	assert.Equal(t, []int{1, 2, 3}, Sorted(MakeWith(3, 1, 2)))
}
