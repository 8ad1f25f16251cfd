package transfer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filecourier/courier/checksum"
	"github.com/filecourier/courier/event"
)

func newTestFileCopier(policy ConflictPolicy) *fileCopier {
	return &fileCopier{
		bus:       event.NewBus(),
		control:   newControl(),
		chunkSize: 1024,
		verify:    true,
		algorithm: checksum.SHA256,
		policy:    policy,
	}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestFileCopierRoundTripIntegrity(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "src", "data.bin")
	dst := filepath.Join(tmpDir, "dst", "data.bin")
	data := bytes.Repeat([]byte("payload-"), 10_000) // several chunks
	writeFile(t, src, data)

	fc := newTestFileCopier(SkipExisting)
	item := newItem(src, dst, false)
	require.NoError(t, fc.copy(item))

	snap := item.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, uint64(len(data)), snap.BytesTransferred)
	assert.Equal(t, uint64(len(data)), snap.TotalBytes)

	srcSum, err := checksum.File(src, checksum.SHA256, checksum.DefaultBlockSize)
	require.NoError(t, err)
	dstSum, err := checksum.File(dst, checksum.SHA256, checksum.DefaultBlockSize)
	require.NoError(t, err)
	assert.Equal(t, srcSum, dstSum)
}

func TestFileCopierPropagatesPermissions(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "script.sh")
	dst := filepath.Join(tmpDir, "out", "script.sh")
	writeFile(t, src, []byte("#!/bin/sh\n"))
	require.NoError(t, os.Chmod(src, 0o755))

	fc := newTestFileCopier(SkipExisting)
	require.NoError(t, fc.copy(newItem(src, dst, false)))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestFileCopierSkipsExistingDestination(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "a.txt")
	dst := filepath.Join(tmpDir, "b.txt")
	writeFile(t, src, []byte("new content"))
	writeFile(t, dst, []byte("old content"))

	fc := newTestFileCopier(SkipExisting)
	item := newItem(src, dst, false)
	require.NoError(t, fc.copy(item))

	snap := item.Snapshot()
	assert.Equal(t, StatusSkipped, snap.Status)
	assert.Equal(t, uint64(0), snap.BytesTransferred, "skip must move no bytes")
	assert.NotEmpty(t, snap.Error, "skip carries a reason")

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("old content"), got, "existing destination untouched")
}

func TestFileCopierOverwritePolicy(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "a.txt")
	dst := filepath.Join(tmpDir, "b.txt")
	writeFile(t, src, []byte("new content"))
	writeFile(t, dst, []byte("previous content, longer than the source"))

	fc := newTestFileCopier(OverwriteExisting)
	item := newItem(src, dst, false)
	require.NoError(t, fc.copy(item))

	assert.Equal(t, StatusCompleted, item.Snapshot().Status)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("new content"), got)
}

func TestFileCopierRenamePolicy(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "a.txt")
	dst := filepath.Join(tmpDir, "b.txt")
	writeFile(t, src, []byte("new content"))
	writeFile(t, dst, []byte("old content"))

	fc := newTestFileCopier(RenameExisting)
	item := newItem(src, dst, false)
	require.NoError(t, fc.copy(item))

	snap := item.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, filepath.Join(tmpDir, "b (1).txt"), snap.Destination)

	got, err := os.ReadFile(snap.Destination)
	require.NoError(t, err)
	assert.Equal(t, []byte("new content"), got)

	old, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("old content"), old, "original destination untouched")
}

func TestFileCopierMissingSourceLeavesNoDestination(t *testing.T) {
	tmpDir := t.TempDir()
	dst := filepath.Join(tmpDir, "out", "gone.txt")

	fc := newTestFileCopier(SkipExisting)
	item := newItem(filepath.Join(tmpDir, "gone.txt"), dst, false)
	require.Error(t, fc.copy(item))

	_, err := os.Stat(dst)
	assert.True(t, os.IsNotExist(err))
}

func TestFileCopierCancelledMidCopyRemovesPartial(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "big.bin")
	dst := filepath.Join(tmpDir, "out", "big.bin")
	writeFile(t, src, bytes.Repeat([]byte{0xAB}, 64*1024))

	fc := newTestFileCopier(SkipExisting)
	fc.control.Cancel()

	item := newItem(src, dst, false)
	err := fc.copy(item)
	require.ErrorIs(t, err, ErrCancelled)

	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr), "partial destination must be removed")
}

func TestDirCopierMirrorsTree(t *testing.T) {
	tmpDir := t.TempDir()
	srcRoot := filepath.Join(tmpDir, "src")
	dstRoot := filepath.Join(tmpDir, "dst")

	// Mixed sizes: small, empty, and multi-chunk files.
	writeFile(t, filepath.Join(srcRoot, "small.dat"), bytes.Repeat([]byte("s"), 10*1024))
	writeFile(t, filepath.Join(srcRoot, "empty.dat"), nil)
	writeFile(t, filepath.Join(srcRoot, "nested", "large.dat"), bytes.Repeat([]byte("L"), 1024*1024))

	dc := &dirCopier{bus: event.NewBus(), control: newControl()}
	item := newItem(srcRoot, dstRoot, true)
	require.NoError(t, dc.copy(item))

	snap := item.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, uint64(10*1024+1024*1024), snap.BytesTransferred)
	assert.Equal(t, snap.TotalBytes, snap.BytesTransferred)

	for _, rel := range []string{"small.dat", "empty.dat", filepath.Join("nested", "large.dat")} {
		srcSum, err := checksum.File(filepath.Join(srcRoot, rel), checksum.SHA256, 0)
		require.NoError(t, err)
		dstSum, err := checksum.File(filepath.Join(dstRoot, rel), checksum.SHA256, 0)
		require.NoError(t, err)
		assert.Equal(t, srcSum, dstSum, rel)
	}
}

func TestDirCopierToleratesPerFileFailure(t *testing.T) {
	tmpDir := t.TempDir()
	srcRoot := filepath.Join(tmpDir, "src")
	dstRoot := filepath.Join(tmpDir, "dst")

	for i := 0; i < 9; i++ {
		writeFile(t, filepath.Join(srcRoot, "file"+string(rune('0'+i))+".txt"), []byte("content"))
	}
	// A dangling symlink fails its copy without stopping the walk.
	require.NoError(t, os.Symlink(filepath.Join(tmpDir, "missing"), filepath.Join(srcRoot, "broken.txt")))

	dc := &dirCopier{bus: event.NewBus(), control: newControl()}
	item := newItem(srcRoot, dstRoot, true)
	require.NoError(t, dc.copy(item))

	assert.Equal(t, StatusCompleted, item.Snapshot().Status)

	entries, err := os.ReadDir(dstRoot)
	require.NoError(t, err)
	assert.Len(t, entries, 9, "the nine healthy files must all arrive")
}

func TestDirCopierSkipsExistingFiles(t *testing.T) {
	tmpDir := t.TempDir()
	srcRoot := filepath.Join(tmpDir, "src")
	dstRoot := filepath.Join(tmpDir, "dst")
	writeFile(t, filepath.Join(srcRoot, "keep.txt"), []byte("new"))
	writeFile(t, filepath.Join(dstRoot, "keep.txt"), []byte("old"))

	dc := &dirCopier{bus: event.NewBus(), control: newControl()}
	item := newItem(srcRoot, dstRoot, true)
	require.NoError(t, dc.copy(item))

	got, err := os.ReadFile(filepath.Join(dstRoot, "keep.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got)
	assert.Equal(t, uint64(0), item.Snapshot().BytesTransferred)
}

func TestDirCopierCancelledRemovesDestinationRoot(t *testing.T) {
	tmpDir := t.TempDir()
	srcRoot := filepath.Join(tmpDir, "src")
	dstRoot := filepath.Join(tmpDir, "dst")
	writeFile(t, filepath.Join(srcRoot, "a.txt"), []byte("a"))

	dc := &dirCopier{bus: event.NewBus(), control: newControl()}
	dc.control.Cancel()

	item := newItem(srcRoot, dstRoot, true)
	require.ErrorIs(t, dc.copy(item), ErrCancelled)

	_, err := os.Stat(dstRoot)
	assert.True(t, os.IsNotExist(err), "cancelled directory copy leaves no destination root")
}
