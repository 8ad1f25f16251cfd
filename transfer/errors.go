package transfer

import "errors"

// ErrAlreadyExists indicates that the destination path is already present
// and the conflict policy chose not to touch it. Items hitting this are
// marked Skipped, never Failed.
var ErrAlreadyExists = errors.New("destination already exists")

// ErrSizeMismatch indicates that source and destination sizes differ after
// a completed copy.
var ErrSizeMismatch = errors.New("file size mismatch after copy")

// ErrChecksumMismatch indicates that source and destination digests differ
// after a completed copy.
var ErrChecksumMismatch = errors.New("checksum verification failed")

// ErrCancelled indicates that cooperative cancellation was observed at a
// checkpoint. It is distinct from I/O failures so callers can tell a
// user-initiated abort from a genuine error.
var ErrCancelled = errors.New("transfer cancelled")
