package storage

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveOpenDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	name, err := store.Save("receipts/sub-1/pay-1.pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "receipts/sub-1/pay-1.pdf", name)
	assert.True(t, store.Exists(name))

	f, err := store.Open(name)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, f.Close())
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), data)

	require.NoError(t, store.Delete(name))
	assert.False(t, store.Exists(name))
	require.NoError(t, store.Delete(name))
}

func TestLocalStorageSaveStreamLimit(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	n, err := store.SaveStream("proofs/a.png", bytes.NewReader([]byte("12345")), 5)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	_, err = store.SaveStream("proofs/b.png", bytes.NewReader([]byte("123456")), 5)
	require.Error(t, err)
	assert.False(t, store.Exists("proofs/b.png"))
}

func TestLocalStorageRejectsEscapingPaths(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save("../outside.txt", []byte("x"))
	assert.ErrorIs(t, err, ErrPathEscapes)
	_, err = store.Open("/etc/passwd")
	assert.ErrorIs(t, err, ErrPathEscapes)
}

func TestLocalStorageCleanupOlderThan(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save("exports/old.csv", []byte("a"))
	require.NoError(t, err)
	_, err = store.Save("keep/old.csv", []byte("a"))
	require.NoError(t, err)
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(store.baseDir, "exports", "old.csv"), past, past))
	_, err = store.Save("exports/new.csv", []byte("b"))
	require.NoError(t, err)

	deleted, err := store.CleanupOlderThan("exports", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"exports/old.csv"}, deleted)
	assert.True(t, store.Exists("exports/new.csv"))
	assert.True(t, store.Exists("keep/old.csv"))

	deleted, err = store.CleanupOlderThan("missing", time.Hour)
	require.NoError(t, err)
	assert.Empty(t, deleted)
}
