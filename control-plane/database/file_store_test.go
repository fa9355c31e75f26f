package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ngojclee/proxy-farm-system/shared/models"
)

func TestFileStore_LoadMissingFile(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "dcom", "user_assignments.json"))
	require.NoError(t, err)

	var index models.AssignmentIndex
	found, err := store.Load(&index)

	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, index.UserAssignments)
}

func TestFileStore_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_assignments.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	updated := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	index := models.AssignmentIndex{
		UserAssignments:   map[string]string{"alice": "dcom1", "bob": "dcom2"},
		DeviceAssignments: map[string][]string{"dcom1": {"alice"}, "dcom2": {"bob"}, "dcom3": {}},
		LastUpdated:       updated,
	}
	require.NoError(t, store.Save(index))

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err), "temporary file must not be left behind")

	reopened, err := NewFileStore(path)
	require.NoError(t, err)

	var loaded models.AssignmentIndex
	found, err := reopened.Load(&loaded)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, index.UserAssignments, loaded.UserAssignments)
	require.Equal(t, index.DeviceAssignments, loaded.DeviceAssignments)
	require.True(t, updated.Equal(loaded.LastUpdated))
}

func TestFileStore_SaveReplacesPreviousDocument(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "ip_history.json"))
	require.NoError(t, err)

	require.NoError(t, store.Save(models.IPHistory{"dcom1": {{ID: "a"}}}))
	require.NoError(t, store.Save(models.IPHistory{"dcom2": {{ID: "b"}}}))

	var history models.IPHistory
	found, err := store.Load(&history)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, history, 1)
	require.Equal(t, "b", history["dcom2"][0].ID)
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ip_history.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store, err := NewFileStore(path)
	require.NoError(t, err)

	var history models.IPHistory
	_, err = store.Load(&history)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode")
}

func TestFileStore_SaveFailsWhenDirectoryMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "sub", "state.json"))
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "sub")))

	err = store.Save(map[string]string{"a": "b"})
	require.Error(t, err)
}

func TestNewFileStore_RequiresPath(t *testing.T) {
	_, err := NewFileStore("")
	require.Error(t, err)
}
