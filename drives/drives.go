// Package drives enumerates mounted volumes so callers can pick a transfer
// destination: list everything, filter down to external media, or find the
// external volume with the most free space.
package drives

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/sirupsen/logrus"
)

// ErrNoExternalDrives indicates that no external volume is mounted.
var ErrNoExternalDrives = errors.New("no external drives detected")

// Volume describes one mounted filesystem and its usage.
type Volume struct {
	Device      string
	Mountpoint  string
	Fstype      string
	Total       uint64
	Used        uint64
	Free        uint64
	PercentUsed float64
	System      bool
}

// externalMountPrefixes are the mount locations where removable media shows
// up on the supported platforms. Anything mounted elsewhere is treated as a
// system volume.
var externalMountPrefixes = []string{
	"/media/",
	"/run/media/",
	"/mnt/",
	"/Volumes/",
}

// List returns every mounted volume with its usage. Volumes whose usage
// cannot be read are logged and omitted.
func List() ([]Volume, error) {
	partitions, err := disk.Partitions(false)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate partitions: %w", err)
	}

	volumes := make([]Volume, 0, len(partitions))
	for _, p := range partitions {
		usage, err := disk.Usage(p.Mountpoint)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "List",
				"mountpoint": p.Mountpoint,
				"error":      err.Error(),
			}).Warn("Failed to read volume usage, skipping")
			continue
		}

		volumes = append(volumes, Volume{
			Device:      p.Device,
			Mountpoint:  p.Mountpoint,
			Fstype:      p.Fstype,
			Total:       usage.Total,
			Used:        usage.Used,
			Free:        usage.Free,
			PercentUsed: usage.UsedPercent,
			System:      !isExternalMount(p.Mountpoint),
		})
	}

	return volumes, nil
}

// External returns only the volumes mounted at removable-media locations.
func External() ([]Volume, error) {
	all, err := List()
	if err != nil {
		return nil, err
	}

	external := make([]Volume, 0, len(all))
	for _, v := range all {
		if !v.System {
			external = append(external, v)
		}
	}
	return external, nil
}

// BestDestination returns the external volume with the most free space.
func BestDestination() (Volume, error) {
	external, err := External()
	if err != nil {
		return Volume{}, err
	}
	if len(external) == 0 {
		return Volume{}, ErrNoExternalDrives
	}

	sort.Slice(external, func(i, j int) bool {
		return external[i].Free > external[j].Free
	})
	return external[0], nil
}

// SpaceFor returns the free bytes on the volume containing path.
func SpaceFor(path string) (uint64, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve path: %w", err)
	}

	usage, err := disk.Usage(abs)
	if err != nil {
		return 0, fmt.Errorf("failed to read usage for %s: %w", abs, err)
	}
	return usage.Free, nil
}

// ForPath returns the volume whose mountpoint contains path, picking the
// longest matching mountpoint when several nest.
func ForPath(path string) (Volume, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Volume{}, fmt.Errorf("failed to resolve path: %w", err)
	}

	all, err := List()
	if err != nil {
		return Volume{}, err
	}

	var best Volume
	bestLen := -1
	for _, v := range all {
		if underMount(abs, v.Mountpoint) && len(v.Mountpoint) > bestLen {
			best = v
			bestLen = len(v.Mountpoint)
		}
	}
	if bestLen < 0 {
		return Volume{}, fmt.Errorf("no volume contains %s", abs)
	}
	return best, nil
}

func isExternalMount(mountpoint string) bool {
	for _, prefix := range externalMountPrefixes {
		if strings.HasPrefix(mountpoint, prefix) {
			return true
		}
	}
	return false
}

func underMount(path, mountpoint string) bool {
	if mountpoint == string(filepath.Separator) {
		return true
	}
	return path == mountpoint || strings.HasPrefix(path, mountpoint+string(filepath.Separator))
}
