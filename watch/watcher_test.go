package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filecourier/courier/transfer"
)

func startWatcher(t *testing.T, srcRoot, dstRoot string, q *transfer.Queue) {
	t.Helper()
	w, err := New(srcRoot, dstRoot, q, 50*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher a moment to register its watches.
	time.Sleep(100 * time.Millisecond)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcherEnqueuesSettledFile(t *testing.T) {
	tmpDir := t.TempDir()
	srcRoot := filepath.Join(tmpDir, "in")
	dstRoot := filepath.Join(tmpDir, "out")
	require.NoError(t, os.MkdirAll(srcRoot, 0o755))

	q := transfer.NewQueue(nil, transfer.Options{})
	startWatcher(t, srcRoot, dstRoot, q)

	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "new.txt"), []byte("watched"), 0o644))

	waitFor(t, 5*time.Second, func() bool {
		data, err := os.ReadFile(filepath.Join(dstRoot, "new.txt"))
		return err == nil && string(data) == "watched"
	})

	p := q.OverallProgress()
	assert.Equal(t, 1, p.Completed)
}

func TestWatcherMirrorsNewSubdirectories(t *testing.T) {
	tmpDir := t.TempDir()
	srcRoot := filepath.Join(tmpDir, "in")
	dstRoot := filepath.Join(tmpDir, "out")
	require.NoError(t, os.MkdirAll(srcRoot, 0o755))

	q := transfer.NewQueue(nil, transfer.Options{})
	startWatcher(t, srcRoot, dstRoot, q)

	sub := filepath.Join(srcRoot, "nested")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	time.Sleep(100 * time.Millisecond) // let the new directory get a watch
	require.NoError(t, os.WriteFile(filepath.Join(sub, "deep.txt"), []byte("deep"), 0o644))

	waitFor(t, 5*time.Second, func() bool {
		_, err := os.Stat(filepath.Join(dstRoot, "nested", "deep.txt"))
		return err == nil
	})
}

func TestWatcherRemovedFileIsNotEnqueued(t *testing.T) {
	tmpDir := t.TempDir()
	srcRoot := filepath.Join(tmpDir, "in")
	dstRoot := filepath.Join(tmpDir, "out")
	require.NoError(t, os.MkdirAll(srcRoot, 0o755))

	q := transfer.NewQueue(nil, transfer.Options{})

	w, err := New(srcRoot, dstRoot, q, 500*time.Millisecond)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(srcRoot, "gone.txt")
	require.NoError(t, os.WriteFile(path, []byte("short lived"), 0o644))
	// Remove before the settling delay elapses.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.Remove(path))

	time.Sleep(time.Second)
	assert.Zero(t, q.OverallProgress().Total, "removed file must not be enqueued")
}
