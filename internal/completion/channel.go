// Package completion carries pending conversion results from the worker
// pool to the poll loop.
package completion

import (
	"sync"

	"github.com/hochfrequenz/replay-orchestrator/internal/domain"
)

// Pending is a result that may not be known yet. Both methods must be
// non-blocking.
type Pending interface {
	Started() bool
	Result() (domain.ConversionResult, bool)
}

// Entry pairs a job with its pending result
type Entry struct {
	JobID   domain.JobID
	BatchID string
	Handle  Pending
}

// Channel is an unbounded multi-producer, single-consumer queue. Push never
// blocks. The consumer takes everything queued with Drain and hands back
// unfinished entries with Requeue.
type Channel struct {
	mu      sync.Mutex
	entries []Entry
}

// New creates an empty channel
func New() *Channel {
	return &Channel{}
}

// Push enqueues one entry
func (c *Channel) Push(e Entry) {
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()
}

// Drain removes and returns every queued entry. It returns nil when the
// channel is empty.
func (c *Channel) Drain() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return nil
	}
	out := c.entries
	c.entries = nil
	return out
}

// Requeue puts entries back for the next drain
func (c *Channel) Requeue(entries ...Entry) {
	if len(entries) == 0 {
		return
	}
	c.mu.Lock()
	c.entries = append(c.entries, entries...)
	c.mu.Unlock()
}

// Len returns the number of queued entries
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
