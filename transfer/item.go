package transfer

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Status represents the lifecycle state of a transfer item.
type Status uint8

const (
	// StatusPending indicates the item is waiting in the queue.
	StatusPending Status = iota
	// StatusTransferring indicates a worker is actively copying the item.
	StatusTransferring
	// StatusCompleted indicates the item finished successfully.
	StatusCompleted
	// StatusFailed indicates the item failed with a recorded reason.
	StatusFailed
	// StatusSkipped indicates the destination already existed and the
	// conflict policy chose to leave it untouched.
	StatusSkipped
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusTransferring:
		return "transferring"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further status transition can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Item is one enqueued file-or-directory transfer request together with its
// mutable progress and state. Exactly one worker mutates an in-flight item;
// everyone else reads through Snapshot, which copies the fields out under
// the item's lock so readers never observe a torn write.
type Item struct {
	ID              string
	SourcePath      string
	DestinationPath string
	IsDir           bool

	mu               sync.Mutex
	status           Status
	bytesTransferred uint64
	totalBytes       uint64
	errReason        string
	startedAt        time.Time
	finishedAt       time.Time
}

// newItem creates a Pending item with a fresh identifier.
func newItem(source, destination string, isDir bool) *Item {
	item := &Item{
		ID:              uuid.New().String(),
		SourcePath:      source,
		DestinationPath: destination,
		IsDir:           isDir,
		status:          StatusPending,
	}

	logrus.WithFields(logrus.Fields{
		"function":    "newItem",
		"item_id":     item.ID,
		"source":      source,
		"destination": destination,
		"is_dir":      isDir,
	}).Debug("Transfer item created")

	return item
}

// markTransferring transitions the item out of Pending and records the
// start time.
func (i *Item) markTransferring() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.status.Terminal() {
		return
	}

	i.status = StatusTransferring
	i.startedAt = time.Now()
}

// complete transitions the item to Completed and records the end time.
// Terminal states are final; calling complete on a finished item is a no-op.
func (i *Item) complete() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.status.Terminal() {
		return
	}

	i.status = StatusCompleted
	i.finishedAt = time.Now()
}

// fail transitions the item to Failed with the given reason.
func (i *Item) fail(reason string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.status.Terminal() {
		return
	}

	i.status = StatusFailed
	i.errReason = reason
	i.finishedAt = time.Now()
}

// skip transitions the item to Skipped with the given reason.
func (i *Item) skip(reason string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.status.Terminal() {
		return
	}

	i.status = StatusSkipped
	i.errReason = reason
	i.finishedAt = time.Now()
}

// setTotalBytes records the expected byte count once it is known.
func (i *Item) setTotalBytes(n uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.totalBytes = n
}

// addBytes advances the transferred byte count. The count is monotone while
// the item is Transferring.
func (i *Item) addBytes(n uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.bytesTransferred += n
}

// setDestination updates the destination path, used when a rename conflict
// decision redirects the copy.
func (i *Item) setDestination(path string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.DestinationPath = path
}

// destination returns the current destination path.
func (i *Item) destination() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.DestinationPath
}

// Snapshot is an immutable copy of an item's state, safe to hand to
// concurrent readers.
type Snapshot struct {
	ID               string
	Source           string
	Destination      string
	IsDir            bool
	Status           Status
	BytesTransferred uint64
	TotalBytes       uint64
	Error            string
	StartedAt        time.Time
	FinishedAt       time.Time
}

// Snapshot copies the item's current state out under its lock.
func (i *Item) Snapshot() Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()

	return Snapshot{
		ID:               i.ID,
		Source:           i.SourcePath,
		Destination:      i.DestinationPath,
		IsDir:            i.IsDir,
		Status:           i.status,
		BytesTransferred: i.bytesTransferred,
		TotalBytes:       i.totalBytes,
		Error:            i.errReason,
		StartedAt:        i.startedAt,
		FinishedAt:       i.finishedAt,
	}
}

// ProgressFraction returns the completed fraction in [0, 1], or 0 when the
// total is not yet known.
func (s Snapshot) ProgressFraction() float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return float64(s.BytesTransferred) / float64(s.TotalBytes)
}

// Duration returns the elapsed transfer time, or 0 if the item has not both
// started and finished.
func (s Snapshot) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Speed returns the average transfer speed in bytes per second, or 0 when
// the duration is zero or unset.
func (s Snapshot) Speed() float64 {
	d := s.Duration().Seconds()
	if d <= 0 {
		return 0
	}
	return float64(s.BytesTransferred) / d
}
