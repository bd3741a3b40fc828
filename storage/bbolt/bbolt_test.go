package bbolt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/publicpass/publicpass/storage"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "publicpass-test-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	s, err := NewRepositoryFromFile(filepath.Join(tempDir, "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutGet(t *testing.T) {
	s := newTestStore(t)

	in := record{Name: "alpha", Count: 3}
	require.NoError(t, s.Put("users", "alpha", in))

	var out record
	require.NoError(t, s.Get("users", "alpha", &out))
	require.Equal(t, in, out)

	// Overwrite replaces the record.
	in.Count = 4
	require.NoError(t, s.Put("users", "alpha", in))
	require.NoError(t, s.Get("users", "alpha", &out))
	require.Equal(t, 4, out.Count)
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)

	var out record
	err := s.Get("users", "nope", &out)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Bucket exists, key does not.
	require.NoError(t, s.Put("users", "alpha", record{}))
	err = s.Get("users", "nope", &out)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Put("users", "alpha", record{Name: "alpha"}))
	require.NoError(t, s.Delete("users", "alpha"))

	var out record
	require.ErrorIs(t, s.Get("users", "alpha", &out), storage.ErrNotFound)

	// Deleting absent records, even in absent buckets, is a no-op.
	require.NoError(t, s.Delete("users", "alpha"))
	require.NoError(t, s.Delete("ghosts", "alpha"))
}

func TestStore_List(t *testing.T) {
	s := newTestStore(t)

	keys, err := s.List("empty")
	require.NoError(t, err)
	require.Empty(t, keys)

	require.NoError(t, s.Put("users", "bravo", record{}))
	require.NoError(t, s.Put("users", "alpha", record{}))
	require.NoError(t, s.Put("users", "charlie", record{}))

	keys, err = s.List("users")
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "bravo", "charlie"}, keys)
}

func TestStore_Persistence(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "publicpass-test-")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	path := filepath.Join(tempDir, "test.db")

	s, err := NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put("users", "alpha", record{Name: "alpha", Count: 7}))
	require.NoError(t, s.Close())

	s, err = NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	defer s.Close()

	var out record
	require.NoError(t, s.Get("users", "alpha", &out))
	require.Equal(t, record{Name: "alpha", Count: 7}, out)
}
