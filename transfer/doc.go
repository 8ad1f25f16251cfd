// Package transfer implements the queued file and directory transfer
// engine: a FIFO of transfer items drained by a background worker pool,
// with chunked copying, progress reporting, integrity verification, and
// cooperative pause and cancellation.
//
// # Overview
//
// The package provides three primary pieces:
//
//   - Item / Snapshot: one enqueued source-to-destination unit of work and
//     the read-only copies handed to observers
//   - Queue: owns all items, runs the worker pool, and aggregates overall
//     progress
//   - ConflictPolicy: the pluggable decision point for destinations that
//     already exist
//
// # Usage
//
// Enqueue work, start the pool, and observe progress through the event bus:
//
//	q := transfer.NewQueue(nil, transfer.Options{VerifyChecksum: true})
//
//	q.Subscribe(event.Progress, func(e event.Event) {
//	    fmt.Printf("%s: %d/%d bytes\n", e.ItemID, e.BytesTransferred, e.TotalBytes)
//	})
//
//	id := q.Enqueue("/data/photos", "/mnt/backup/photos", true)
//	q.Start()
//	q.Wait(time.Minute)
//
//	snap, _ := q.StatusOf(id)
//	fmt.Println(snap.Status, snap.BytesTransferred)
//
// # Item States
//
// Items move through a monotone state machine:
//
//	Pending → Transferring → {Completed, Failed, Skipped}
//
// All three right-hand states are terminal. Skipped is reached only when
// the destination already exists and the conflict policy declines to touch
// it; it counts as a completed outcome, not a failure.
//
// # Cancellation and Pause
//
// Cancellation is cooperative: workers check a shared token between copy
// chunks, between files, and between directory levels, and never interrupt
// an in-progress I/O call. Pause blocks workers on a condition variable at
// the same checkpoints; Resume releases them. A cancelled file copy removes
// its partial destination; a cancelled directory copy removes the whole
// destination tree it created.
//
// # Directory Semantics
//
// Directory transfers are best-effort per file: a single file's failure is
// logged and the walk continues, and the item still reaches Completed.
// Only root-level failures and cancellation are fatal.
package transfer
