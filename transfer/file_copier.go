package transfer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/filecourier/courier/checksum"
	"github.com/filecourier/courier/event"
)

// DefaultChunkSize is the copy buffer size used when none is configured
// (1 MiB).
const DefaultChunkSize = 1024 * 1024

// fileCopier copies a single file in fixed-size chunks, publishing a
// progress event after each chunk and checking the control token between
// chunks. After the copy it verifies sizes, optionally verifies checksums,
// and propagates the source's permission bits.
type fileCopier struct {
	bus       *event.Bus
	control   *control
	chunkSize int
	verify    bool
	algorithm checksum.Algorithm
	policy    ConflictPolicy
}

// copy runs the full single-file pipeline, mutating item in place. A nil
// return means the item reached Completed or Skipped; any error leaves the
// partial destination removed and the item untouched for the worker to mark
// Failed.
func (c *fileCopier) copy(item *Item) error {
	destination := item.destination()

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	if _, err := os.Stat(destination); err == nil {
		switch c.policy(item.SourcePath, destination) {
		case DecisionSkip:
			logrus.WithFields(logrus.Fields{
				"function":    "copy",
				"item_id":     item.ID,
				"destination": destination,
			}).Info("Destination exists, skipping transfer")
			item.skip(ErrAlreadyExists.Error())
			return nil
		case DecisionRename:
			renamed, err := renamedDestination(destination)
			if err != nil {
				return fmt.Errorf("failed to pick rename destination: %w", err)
			}
			destination = renamed
			item.setDestination(destination)
		case DecisionOverwrite:
			// os.Create below truncates the existing file.
		}
	}

	info, err := os.Stat(item.SourcePath)
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}
	item.setTotalBytes(uint64(info.Size()))
	item.markTransferring()

	if err := c.copyData(item, destination); err != nil {
		c.removePartial(item.ID, destination)
		return err
	}

	if err := c.verifyCopy(item, destination); err != nil {
		c.removePartial(item.ID, destination)
		return err
	}

	if err := os.Chmod(destination, info.Mode().Perm()); err != nil {
		c.removePartial(item.ID, destination)
		return fmt.Errorf("failed to propagate permissions: %w", err)
	}

	item.complete()

	logrus.WithFields(logrus.Fields{
		"function":    "copy",
		"item_id":     item.ID,
		"source":      item.SourcePath,
		"destination": destination,
		"bytes":       item.Snapshot().BytesTransferred,
	}).Info("File transfer completed")

	return nil
}

// copyData streams the source to the destination in chunks, checking the
// control token and publishing a progress event per chunk.
func (c *fileCopier) copyData(item *Item, destination string) error {
	src, err := os.Open(item.SourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	defer dst.Close()

	chunkSize := c.chunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)

	for {
		if err := c.control.checkpoint(); err != nil {
			return err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("failed to write chunk: %w", writeErr)
			}

			item.addBytes(uint64(n))
			c.publishProgress(item)
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("failed to read chunk: %w", readErr)
		}
	}

	if err := dst.Sync(); err != nil {
		return fmt.Errorf("failed to sync destination: %w", err)
	}

	return nil
}

// verifyCopy compares source and destination sizes and, when enabled,
// their digests.
func (c *fileCopier) verifyCopy(item *Item, destination string) error {
	srcInfo, err := os.Stat(item.SourcePath)
	if err != nil {
		return fmt.Errorf("failed to stat source for verification: %w", err)
	}
	dstInfo, err := os.Stat(destination)
	if err != nil {
		return fmt.Errorf("failed to stat destination for verification: %w", err)
	}

	if srcInfo.Size() != dstInfo.Size() {
		logrus.WithFields(logrus.Fields{
			"function":         "verifyCopy",
			"item_id":          item.ID,
			"source_size":      srcInfo.Size(),
			"destination_size": dstInfo.Size(),
		}).Error("Size mismatch after copy")
		return ErrSizeMismatch
	}

	if !c.verify {
		return nil
	}

	srcSum, err := checksum.File(item.SourcePath, c.algorithm, checksum.DefaultBlockSize)
	if err != nil {
		return fmt.Errorf("failed to digest source: %w", err)
	}
	dstSum, err := checksum.File(destination, c.algorithm, checksum.DefaultBlockSize)
	if err != nil {
		return fmt.Errorf("failed to digest destination: %w", err)
	}

	if srcSum != dstSum {
		logrus.WithFields(logrus.Fields{
			"function":           "verifyCopy",
			"item_id":            item.ID,
			"source_digest":      srcSum[:8],
			"destination_digest": dstSum[:8],
		}).Error("Checksum mismatch after copy")
		return ErrChecksumMismatch
	}

	return nil
}

// removePartial deletes a partially written destination, best-effort.
func (c *fileCopier) removePartial(itemID, destination string) {
	if err := os.Remove(destination); err != nil && !os.IsNotExist(err) {
		logrus.WithFields(logrus.Fields{
			"function":    "removePartial",
			"item_id":     itemID,
			"destination": destination,
			"error":       err.Error(),
		}).Warn("Failed to remove partial destination file")
	}
}

// publishProgress emits a progress event from the item's current snapshot.
func (c *fileCopier) publishProgress(item *Item) {
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
