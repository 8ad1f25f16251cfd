package transfer

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// control is the cooperative cancellation and pause token shared by the
// queue and its workers. Workers call checkpoint between copy chunks,
// between files, and between directory levels; while paused they block on
// the condition variable rather than polling, and Resume or Cancel wakes
// them.
type control struct {
	mu        sync.Mutex
	cond      *sync.Cond
	cancelled bool
	paused    bool
}

func newControl() *control {
	c := &control{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Cancel sets the cancellation flag and wakes any paused workers so they
// can observe it promptly.
func (c *control) Cancel() {
	c.mu.Lock()
	c.cancelled = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Pause makes subsequent checkpoint calls block until Resume or Cancel.
func (c *control) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()

	logrus.WithField("function", "Pause").Info("Transfer workers paused")
}

// Resume releases workers blocked in checkpoint.
func (c *control) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	c.cond.Broadcast()

	logrus.WithField("function", "Resume").Info("Transfer workers resumed")
}

// Paused reports whether the pause gate is closed.
func (c *control) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Cancelled reports whether cancellation has been requested.
func (c *control) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// checkpoint is called at each suspension point. It blocks while paused and
// returns ErrCancelled once cancellation has been requested.
func (c *control) checkpoint() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.paused && !c.cancelled {
		c.cond.Wait()
	}

	if c.cancelled {
		return ErrCancelled
	}
	return nil
}
