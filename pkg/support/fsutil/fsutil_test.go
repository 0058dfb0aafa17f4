// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandHome(t *testing.T) {
	usr, err := user.Current()
	require.NoError(t, err)

	got, err := ExpandHome("~/state.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(usr.HomeDir, "state.json"), got)

	got, err = ExpandHome("~")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(usr.HomeDir), got)

	got, err = ExpandHome("/tmp/~state.json")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/~state.json", got)

	_, err = ExpandHome("~no_such_user_qcalib/state.json")
	assert.Error(t, err)
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "state.json")
	exists, err := FileExists(filePath)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, os.WriteFile(filePath, []byte("{}"), 0o644))
	exists, err = FileExists(filePath)
	require.NoError(t, err)
	assert.True(t, exists)
}
