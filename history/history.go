// Package history persists a journal of finished transfers in a local
// BoltDB file. It records outcomes for later inspection; it never resumes
// or replays transfers.
package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/filecourier/courier/event"
)

var bucketTransfers = []byte("transfers")

// Record is one terminal transfer outcome.
type Record struct {
	ItemID           string    `json:"item_id"`
	Source           string    `json:"source"`
	Destination      string    `json:"destination"`
	Status           string    `json:"status"`
	BytesTransferred uint64    `json:"bytes_transferred"`
	TotalBytes       uint64    `json:"total_bytes"`
	Error            string    `json:"error,omitempty"`
	RecordedAt       time.Time `json:"recorded_at"`
}

// Store is the Bolt-backed transfer journal. Keys are big-endian sequence
// numbers so cursor order is chronological.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the journal at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTransfers)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append writes a record at the next sequence number. RecordedAt is filled
// in when unset.
func (s *Store) Append(r Record) error {
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now()
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal history record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransfers)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, data)
	})
}

// Recent returns up to n records, newest first.
func (s *Store) Recent(n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}

	var records []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTransfers).Cursor()
		for k, v := c.Last(); k != nil && len(records) < n; k, v = c.Prev() {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("failed to decode history record: %w", err)
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Len returns the number of stored records.
func (s *Store) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketTransfers).Stats().KeyN
		return nil
	})
	return n, err
}

// Attach subscribes the store to the bus's complete channel so every
// terminal item is journaled. Append failures are logged, never surfaced
// to the engine.
func (s *Store) Attach(bus *event.Bus) {
	bus.Subscribe(event.Complete, func(e event.Event) {
		r := Record{
			ItemID:           e.ItemID,
			Source:           e.Source,
			Destination:      e.Destination,
			Status:           e.Status,
			BytesTransferred: e.BytesTransferred,
			TotalBytes:       e.TotalBytes,
			Error:            e.Err,
			RecordedAt:       e.Timestamp,
		}
		if err := s.Append(r); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Attach",
				"item_id":  e.ItemID,
				"error":    err.Error(),
			}).Warn("Failed to record transfer in history")
		}
	})
}
