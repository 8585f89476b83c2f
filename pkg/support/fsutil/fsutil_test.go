// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("MCRDL_TEST_DIR", "configs")

	got, err := ExpandPath("~/$MCRDL_TEST_DIR/comms.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "configs", "comms.yaml"), got)

	got, err = ExpandPath("~")
	require.NoError(t, err)
	assert.Equal(t, home, got)

	got, err = ExpandPath("/etc/comms.json")
	require.NoError(t, err)
	assert.Equal(t, "/etc/comms.json", got)

	_, err = ExpandPath("~no-such-user-for-sure/comms.json")
	assert.Error(t, err)
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "comms.json")
	exists, err := FileExists(path)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	exists, err = FileExists(path)
	require.NoError(t, err)
	assert.True(t, exists)
}
