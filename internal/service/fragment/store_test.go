package fragment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(t.TempDir(), ".webm")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestListOrderedEmptyBeforeAnyFragment(t *testing.T) {
	store := newTestStore(t)

	frags, err := store.ListOrdered("never-created")
	require.NoError(t, err)
	assert.Empty(t, frags)

	_, err = store.CreateSession("s1")
	require.NoError(t, err)
	frags, err = store.ListOrdered("s1")
	require.NoError(t, err)
	assert.Empty(t, frags)
}

func TestAppendAndListOrdered(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateSession("s1")
	require.NoError(t, err)

	payloads := [][]byte{[]byte("zero"), []byte("one"), []byte("two")}
	for i, p := range payloads {
		frag, err := store.Append("s1", i, p)
		require.NoError(t, err)
		assert.Equal(t, i, frag.Sequence)
		assert.Equal(t, int64(len(p)), frag.Size)
	}

	frags, err := store.ListOrdered("s1")
	require.NoError(t, err)
	require.Len(t, frags, 3)
	for i, frag := range frags {
		assert.Equal(t, i, frag.Sequence)
		data, err := os.ReadFile(frag.Path)
		require.NoError(t, err)
		assert.Equal(t, payloads[i], data)
	}
}

func TestListOrderedSortsBySequenceNotWriteOrder(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateSession("s1")
	require.NoError(t, err)

	for _, seq := range []int{2, 0, 11, 1, 10} {
		_, err := store.Append("s1", seq, []byte{byte(seq)})
		require.NoError(t, err)
	}
	// A sequence wider than the padding still sorts numerically.
	_, err = store.Append("s1", 1000000, []byte("wide"))
	require.NoError(t, err)

	frags, err := store.ListOrdered("s1")
	require.NoError(t, err)

	var got []int
	for _, f := range frags {
		got = append(got, f.Sequence)
	}
	assert.Equal(t, []int{0, 1, 2, 10, 11, 1000000}, got)
}

func TestListOrderedIgnoresForeignFiles(t *testing.T) {
	store := newTestStore(t)
	dir, err := store.CreateSession("s1")
	require.NoError(t, err)

	_, err = store.Append("s1", 0, []byte("a"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".incoming-123"), []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chunk_abc.webm"), []byte("x"), 0o644))

	frags, err := store.ListOrdered("s1")
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, 0, frags[0].Sequence)
}

func TestFileNameIsZeroPadded(t *testing.T) {
	store := newTestStore(t)
	assert.Equal(t, "chunk_000000.webm", store.FileName(0))
	assert.Equal(t, "chunk_000042.webm", store.FileName(42))
	assert.Less(t, store.FileName(9), store.FileName(10))
}

func TestAppendWithoutSessionDirectoryFailsWithWriteError(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Append("missing", 0, []byte("data"))
	require.ErrorIs(t, err, ErrWrite)
}

func TestCreateSessionRejectsDuplicatesAndTraversal(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreateSession("s1")
	require.NoError(t, err)
	_, err = store.CreateSession("s1")
	require.Error(t, err)

	for _, id := range []string{"", "..", "../escape", "a/b", ".hidden"} {
		_, err := store.CreateSession(id)
		require.ErrorIs(t, err, ErrInvalidSession, "id %q", id)
	}
}

func TestOpenLocksRoot(t *testing.T) {
	root := t.TempDir()
	first, err := Open(root, ".webm")
	require.NoError(t, err)

	_, err = Open(root, ".webm")
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Close())
	second, err := Open(root, ".webm")
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestSessionsAndRemove(t *testing.T) {
	store := newTestStore(t)
	for _, id := range []string{"b", "a"} {
		_, err := store.CreateSession(id)
		require.NoError(t, err)
	}

	ids, err := store.Sessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, store.Remove("a"))
	ids, err = store.Sessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestOpenReadOnlyWhileLocked(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateSession("s1")
	require.NoError(t, err)
	_, err = store.Append("s1", 0, []byte("x"))
	require.NoError(t, err)

	ro := OpenReadOnly(store.Root(), ".webm")
	frags, err := ro.ListOrdered("s1")
	require.NoError(t, err)
	assert.Len(t, frags, 1)
	require.NoError(t, ro.Close())
}
