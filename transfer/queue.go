package transfer

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/filecourier/courier/checksum"
	"github.com/filecourier/courier/event"
)

// DefaultStopTimeout bounds how long Stop waits for the worker pool to
// observe cancellation before abandoning it.
const DefaultStopTimeout = 5 * time.Second

// Options configures a Queue. The zero value selects one worker, the
// default chunk size, no checksum verification, and the skip conflict
// policy.
type Options struct {
	// Workers is the worker pool size. Values below 1 select 1, which
	// processes items strictly in enqueue order.
	Workers int
	// ChunkSize is the file copy buffer size in bytes.
	ChunkSize int
	// VerifyChecksum enables post-copy digest comparison for file items.
	VerifyChecksum bool
	// Algorithm selects the digest algorithm when verification is on.
	Algorithm checksum.Algorithm
	// Policy decides what happens when a destination already exists.
	Policy ConflictPolicy
	// StopTimeout bounds the wait in Stop.
	StopTimeout time.Duration
}

// Progress aggregates the queue's item counts. Total always equals
// Queued + Active + Completed + Failed.
type Progress struct {
	Total           int
	Completed       int
	Failed          int
	Active          int
	Queued          int
	PercentComplete float64
}

// Queue owns all transfer items and runs the worker pool that executes
// them. Items are processed in enqueue order; external callers interact
// through ids and snapshots, never live item references.
type Queue struct {
	bus  *event.Bus
	opts Options

	mu        sync.Mutex
	pending   []*Item
	active    map[string]*Item
	completed []*Item
	failed    []*Item
	running   bool
	ctl       *control
	done      chan struct{}
}

// NewQueue creates an idle queue publishing to bus. A nil bus gets a
// private one, reachable through Subscribe.
func NewQueue(bus *event.Bus, opts Options) *Queue {
	if bus == nil {
		bus = event.NewBus()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Algorithm == "" {
		opts.Algorithm = checksum.SHA256
	}
	if opts.Policy == nil {
		opts.Policy = SkipExisting
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}

	return &Queue{
		bus:    bus,
		opts:   opts,
		active: make(map[string]*Item),
		ctl:    newControl(),
	}
}

// Subscribe registers a handler on the queue's event bus.
func (q *Queue) Subscribe(t event.Type, h event.Handler) {
	q.bus.Subscribe(t, h)
}

// Enqueue adds a transfer request and returns its id. Nothing about the
// paths is validated here; existence checks are deferred to execution.
func (q *Queue) Enqueue(source, destination string, isDir bool) string {
	item := newItem(source, destination, isDir)

	q.mu.Lock()
	q.pending = append(q.pending, item)
	q.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "Enqueue",
		"item_id":     item.ID,
		"source":      source,
		"destination": destination,
		"is_dir":      isDir,
	}).Info("Transfer enqueued")

	return item.ID
}

// Start spawns the worker pool if it is not already running. The pool
// drains the pending queue and exits when it is empty; call Start again
// for items enqueued after the drain finished. An enqueue that raced the
// final drain restarts the pool rather than sitting stranded.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	paused := q.ctl.Paused()
	q.ctl = newControl()
	if paused {
		// A Pause issued before Start applies to the run it precedes.
		q.ctl.paused = true
	}
	q.done = make(chan struct{})
	ctl := q.ctl
	done := q.done
	workers := q.opts.Workers
	q.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"workers":  workers,
	}).Info("Starting transfer workers")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.runWorker(ctl)
		}()
	}

	go func() {
		wg.Wait()
		cancelled := ctl.Cancelled()
		q.mu.Lock()
		q.running = false
		stranded := len(q.pending) > 0
		q.mu.Unlock()
		close(done)

		// An Enqueue+Start that landed while the pool was draining its
		// last item saw running=true and did nothing. Pick it up here.
		if stranded && !cancelled {
			q.Start()
		}
	}()
}

// Stop requests cooperative cancellation and waits for the worker pool to
// exit, up to the configured timeout. An in-flight item is left in
// whatever state its copier reached; workers that exceed the bound are
// abandoned, not killed.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	ctl := q.ctl
	done := q.done
	q.mu.Unlock()

	ctl.Cancel()

	select {
	case <-done:
		logrus.WithField("function", "Stop").Info("Transfer workers stopped")
	case <-time.After(q.opts.StopTimeout):
		logrus.WithFields(logrus.Fields{
			"function": "Stop",
			"timeout":  q.opts.StopTimeout,
		}).Warn("Timed out waiting for transfer workers, abandoning")
	}
}

// Pause blocks workers at their next checkpoint without busy-waiting.
func (q *Queue) Pause() {
	q.mu.Lock()
	ctl := q.ctl
	q.mu.Unlock()
	ctl.Pause()
}

// Resume releases workers blocked by Pause.
func (q *Queue) Resume() {
	q.mu.Lock()
	ctl := q.ctl
	q.mu.Unlock()
	ctl.Resume()
}

// Wait blocks until the worker pool has drained and exited, or the timeout
// elapses. It reports whether the pool exited.
func (q *Queue) Wait(timeout time.Duration) bool {
	q.mu.Lock()
	running := q.running
	done := q.done
	q.mu.Unlock()

	if !running || done == nil {
		return true
	}

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// StatusOf returns a snapshot of the item with the given id, searching the
// pending, in-flight, and terminal collections.
func (q *Queue) StatusOf(id string) (Snapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item, ok := q.active[id]; ok {
		return item.Snapshot(), true
	}
	for _, list := range [][]*Item{q.pending, q.completed, q.failed} {
		for _, item := range list {
			if item.ID == id {
				return item.Snapshot(), true
			}
		}
	}
	return Snapshot{}, false
}

// OverallProgress aggregates item counts across all collections. Skipped
// items count as completed; they are a policy outcome, not a failure.
func (q *Queue) OverallProgress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := Progress{
		Completed: len(q.completed),
		Failed:    len(q.failed),
		Active:    len(q.active),
		Queued:    len(q.pending),
	}
	p.Total = p.Queued + p.Active + p.Completed + p.Failed
	if p.Total > 0 {
		p.PercentComplete = float64(p.Completed) / float64(p.Total) * 100
	}
	return p
}

// runWorker drains the pending queue until it is empty or cancellation is
// observed.
func (q *Queue) runWorker(ctl *control) {
	fc := &fileCopier{
		bus:       q.bus,
		control:   ctl,
		chunkSize: q.opts.ChunkSize,
		verify:    q.opts.VerifyChecksum,
		algorithm: q.opts.Algorithm,
		policy:    q.opts.Policy,
	}
	dc := &dirCopier{bus: q.bus, control: ctl}

	for !ctl.Cancelled() {
		item := q.pop()
		if item == nil {
			return
		}
		q.process(item, fc, dc)
	}
}

// pop moves the oldest pending item into the in-flight map. The worker
// owns the item exclusively until process returns it to a terminal list.
func (q *Queue) pop() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	item := q.pending[0]
	q.pending = q.pending[1:]
	q.active[item.ID] = item
	return item
}

// process dispatches one item to the matching copier, records the outcome,
// and publishes the lifecycle events. A failed item never stops the queue.
func (q *Queue) process(item *Item, fc *fileCopier, dc *dirCopier) {
	q.publish(event.Start, item, "")

	var err error
	if item.IsDir {
		err = dc.copy(item)
	} else {
		err = fc.copy(item)
	}

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "process",
			"item_id":  item.ID,
			"source":   item.SourcePath,
			"error":    err.Error(),
		}).Error("Transfer failed")

		item.fail(err.Error())
		if errors.Is(err, ErrCancelled) {
			q.publish(event.Cancel, item, err.Error())
		} else {
			q.publish(event.Error, item, err.Error())
		}
	}

	q.mu.Lock()
	delete(q.active, item.ID)
	if item.Snapshot().Status == StatusFailed {
		q.failed = append(q.failed, item)
	} else {
		q.completed = append(q.completed, item)
	}
	q.mu.Unlock()

	q.publish(event.Complete, item, item.Snapshot().Error)
}

// publish emits an event carrying the item's current snapshot.
func (q *Queue) publish(t event.Type, item *Item, reason string) {
	snap := item.Snapshot()
	q.bus.Publish(event.Event{
		Type:             t,
		ItemID:           snap.ID,
		Source:           snap.Source,
		Destination:      snap.Destination,
		Status:           snap.Status.String(),
		BytesTransferred: snap.BytesTransferred,
		TotalBytes:       snap.TotalBytes,
		Err:              reason,
	})
}
