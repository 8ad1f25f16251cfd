package transfer

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/filecourier/courier/event"
)

// dirCopier mirrors a directory tree. Individual file failures are logged
// and tolerated; the item still completes with the files that did copy. A
// fatal failure (cancellation, unreadable root) removes the destination
// tree that was created and propagates.
type dirCopier struct {
	bus     *event.Bus
	control *control
}

// copy runs the full directory pipeline, mutating item in place.
func (c *dirCopier) copy(item *Item) error {
	destination := item.destination()

	if err := os.MkdirAll(destination, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", destination, err)
	}

	item.setTotalBytes(treeSize(item.SourcePath))
	item.markTransferring()

	if err := c.walk(item, destination); err != nil {
		c.removeTree(item.ID, destination)
		return err
	}

	item.complete()

	logrus.WithFields(logrus.Fields{
		"function":    "copy",
		"item_id":     item.ID,
		"source":      item.SourcePath,
		"destination": destination,
		"bytes":       item.Snapshot().BytesTransferred,
	}).Info("Directory transfer completed")

	return nil
}

// walk mirrors the source tree top-down into destination. The control token
// is checked once per directory level and once per file.
func (c *dirCopier) walk(item *Item, destination string) error {
	return filepath.WalkDir(item.SourcePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == item.SourcePath {
				return fmt.Errorf("failed to walk source tree: %w", err)
			}
			logrus.WithFields(logrus.Fields{
				"function": "walk",
				"item_id":  item.ID,
				"path":     path,
				"error":    err.Error(),
			}).Warn("Skipping unreadable path during directory transfer")
			return nil
		}

		if ctrlErr := c.control.checkpoint(); ctrlErr != nil {
			return ctrlErr
		}

		rel, err := filepath.Rel(item.SourcePath, path)
		if err != nil {
			return fmt.Errorf("failed to resolve relative path for %s: %w", path, err)
		}
		target := filepath.Join(destination, rel)

		if d.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "walk",
					"item_id":  item.ID,
					"path":     target,
					"error":    err.Error(),
				}).Warn("Failed to create subdirectory, skipping subtree")
				return filepath.SkipDir
			}
			return nil
		}

		// Existing destination files are left alone; this mirrors the
		// single-file skip behavior without failing the directory.
		if _, err := os.Stat(target); err == nil {
			return nil
		}

		size, err := copyLeafFile(path, target)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "walk",
				"item_id":     item.ID,
				"source":      path,
				"destination": target,
				"error":       err.Error(),
			}).Warn("Failed to copy file, continuing directory transfer")
			return nil
		}

		item.addBytes(size)
		c.publishProgress(item)
		return nil
	})
}

// copyLeafFile copies one file inside a directory transfer, propagating
// permission bits and modification time, and returns the bytes written.
func copyLeafFile(source, destination string) (uint64, error) {
	info, err := os.Stat(source)
	if err != nil {
		return 0, fmt.Errorf("failed to stat source: %w", err)
	}

	src, err := os.Open(source)
	if err != nil {
		return 0, fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(destination)
	if err != nil {
		return 0, fmt.Errorf("failed to create destination: %w", err)
	}

	written, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(destination)
		return 0, fmt.Errorf("failed to copy data: %w", err)
	}

	if err := os.Chmod(destination, info.Mode().Perm()); err != nil {
		return 0, fmt.Errorf("failed to propagate permissions: %w", err)
	}
	if err := os.Chtimes(destination, info.ModTime(), info.ModTime()); err != nil {
		return 0, fmt.Errorf("failed to propagate modification time: %w", err)
	}

	return uint64(written), nil
}

// treeSize sums the sizes of all regular files under root. Unreadable
// entries are ignored; the total exists to make progress fractions
// meaningful, not to gate correctness.
func treeSize(root string) uint64 {
	var total uint64
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += uint64(info.Size())
		}
		return nil
	})
	return total
}

// removeTree deletes the destination tree after a fatal failure,
// best-effort.
func (c *dirCopier) removeTree(itemID, destination string) {
	if err := os.RemoveAll(destination); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "removeTree",
			"item_id":     itemID,
			"destination": destination,
			"error":       err.Error(),
		}).Warn("Failed to remove partial destination tree")
	}
}

// publishProgress emits a progress event from the item's current snapshot.
func (c *dirCopier) publishProgress(item *Item) {
	snap := item.Snapshot()
	c.bus.Publish(event.Event{
		Type:             event.Progress,
		ItemID:           snap.ID,
		Source:           snap.Source,
		Destination:      snap.Destination,
		Status:           snap.Status.String(),
		BytesTransferred: snap.BytesTransferred,
		TotalBytes:       snap.TotalBytes,
	})
}
