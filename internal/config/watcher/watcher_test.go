package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReportsWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keyweave.toml")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o600))

	w, err := New(WithDebounce(20 * time.Millisecond))
	require.NoError(t, err)
	defer w.Close()

	events := make(chan Event, 16)
	w.OnChange(func(e Event) { events <- e })
	require.NoError(t, w.Watch(path))

	require.NoError(t, os.WriteFile(path, []byte("b"), 0o600))

	select {
	case e := <-events:
		abs, _ := filepath.Abs(path)
		assert.Equal(t, abs, e.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keyweave.toml")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o600))

	w, err := New(WithDebounce(0))
	require.NoError(t, err)
	defer w.Close()

	events := make(chan Event, 16)
	w.OnChange(func(e Event) { events <- e })
	require.NoError(t, w.Watch(path))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x"), 0o600))

	select {
	case e := <-events:
		t.Fatalf("unexpected event for %s", e.Path)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatchTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyweave.toml")

	w, err := New()
	require.NoError(t, err)

	require.NoError(t, w.Watch(path))
	assert.ErrorIs(t, w.Watch(path), ErrAlreadyWatching)
	assert.Len(t, w.Files(), 1)

	require.NoError(t, w.Unwatch(path))
	assert.Empty(t, w.Files())

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Watch(path), ErrWatcherClosed)
}

func TestOperationString(t *testing.T) {
	assert.Equal(t, "write", OpWrite.String())
	assert.Equal(t, "rename", OpRename.String())
	assert.Equal(t, "unknown", Operation(99).String())
}
