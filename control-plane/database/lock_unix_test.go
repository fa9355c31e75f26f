//go:build unix

package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockDir_Exclusive(t *testing.T) {
	dir := t.TempDir()

	first, err := LockDir(dir)
	require.NoError(t, err)

	_, err = LockDir(dir)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Unlock())

	second, err := LockDir(dir)
	require.NoError(t, err)
	require.NoError(t, second.Unlock())
}
