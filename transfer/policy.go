package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Decision is the outcome of a conflict policy evaluation for a destination
// that already exists.
type Decision uint8

const (
	// DecisionSkip leaves the existing destination untouched; the item is
	// marked Skipped.
	DecisionSkip Decision = iota
	// DecisionOverwrite replaces the existing destination.
	DecisionOverwrite
	// DecisionRename copies to a numbered sibling of the destination,
	// leaving the existing file in place.
	DecisionRename
)

// ConflictPolicy decides what to do when the destination of a copy already
// exists. It is invoked before each copy, never after bytes have moved.
type ConflictPolicy func(source, destination string) Decision

// SkipExisting always skips, matching the engine's historical behavior.
func SkipExisting(source, destination string) Decision { return DecisionSkip }

// OverwriteExisting always replaces the destination.
func OverwriteExisting(source, destination string) Decision { return DecisionOverwrite }

// RenameExisting always copies to a numbered sibling.
func RenameExisting(source, destination string) Decision { return DecisionRename }

// PolicyFromName maps a configuration string to a ConflictPolicy. The empty
// string selects skip.
func PolicyFromName(name string) (ConflictPolicy, error) {
	switch name {
	case "", "skip":
		return SkipExisting, nil
	case "overwrite":
		return OverwriteExisting, nil
	case "rename":
		return RenameExisting, nil
	default:
		return nil, fmt.Errorf("unknown overwrite policy %q", name)
	}
}

// maxRenameAttempts bounds the search for a free numbered sibling.
const maxRenameAttempts = 10000

// renamedDestination returns the first "name (n).ext" sibling of path that
// does not exist yet. A stat failure other than not-exist is an error, not
// a taken slot; retrying it would never terminate.
func renamedDestination(path string) (string, error) {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)

	for n := 1; n <= maxRenameAttempts; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		_, err := os.Stat(candidate)
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to stat rename candidate %s: %w", candidate, err)
		}
	}
	return "", fmt.Errorf("no free rename candidate for %s within %d attempts", path, maxRenameAttempts)
}
