// Package queue serializes remote writes per entity id. Each id owns a
// mailbox whose tasks run strictly one at a time, and each task receives the
// version produced by the immediately preceding write in that chain, never
// a stale version captured before an earlier concurrent write. Writes to
// different ids are independent and may complete in any order.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopsync/shopsync/entity"
	"github.com/shopsync/shopsync/logging"
)

// Task performs one remote write. prev is the version the write must carry
// as originalLastUpdated. It returns the version for the next write in the
// chain: the newly confirmed version on success, or the version it attempted
// (unchanged) on conflict or failure, so a later retry still supplies a
// coherent version.
type Task func(ctx context.Context, prev entity.Version) (entity.Version, error)

// DefaultWriteTimeout bounds a single queued write so a dropped response
// cannot wedge an id's chain forever.
const DefaultWriteTimeout = 30 * time.Second

type queued struct {
	task Task
	done chan result
}

type result struct {
	version entity.Version
	err     error
}

// mailbox is the per-id chain state. Guarded by WriteQueue.mu.
type mailbox struct {
	pending []queued
	running bool
	version entity.Version
	seeded  bool
}

// WriteQueue owns one mailbox per entity id. Construct once per session and
// inject into every component that issues writes; there is no package-level
// instance.
type WriteQueue struct {
	mu      sync.Mutex
	boxes   map[string]*mailbox
	timeout time.Duration
	logger  *logging.Logger

	wg sync.WaitGroup
}

// Option configures a WriteQueue.
type Option func(*WriteQueue)

// WithTimeout overrides the per-write timeout.
func WithTimeout(d time.Duration) Option {
	return func(q *WriteQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithLogger overrides the queue's logger.
func WithLogger(l *logging.Logger) Option {
	return func(q *WriteQueue) {
		q.logger = l
	}
}

// New creates an empty WriteQueue.
func New(opts ...Option) *WriteQueue {
	q := &WriteQueue{
		boxes:   make(map[string]*mailbox),
		timeout: DefaultWriteTimeout,
		logger:  logging.WithComponent("write_queue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue chains task after the current tail of id's mailbox and blocks
// until the task completes or ctx is done. seed is the version known to the
// caller; it starts the chain only when no earlier entry exists for id.
//
// The task itself runs under the queue's own timeout context, detached from
// ctx: a caller that gives up does not abort an in-flight write, because the
// chain's next version must still be settled.
func (q *WriteQueue) Enqueue(ctx context.Context, id string, seed entity.Version, task Task) (entity.Version, error) {
	entry := queued{task: task, done: make(chan result, 1)}

	q.mu.Lock()
	box, ok := q.boxes[id]
	if !ok {
		box = &mailbox{}
		q.boxes[id] = box
	}
	if !box.seeded {
		box.version = seed
		box.seeded = true
	}
	box.pending = append(box.pending, entry)
	if !box.running {
		box.running = true
		q.wg.Add(1)
		go q.run(id, box)
	}
	q.mu.Unlock()

	select {
	case res := <-entry.done:
		return res.version, res.err
	case <-ctx.Done():
		// The write still settles in the background; only the wait ends.
		return entity.Unversioned(), ctx.Err()
	}
}

// run drains one mailbox. Exactly one run goroutine exists per mailbox at a
// time; it exits when the mailbox is empty.
func (q *WriteQueue) run(id string, box *mailbox) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(box.pending) == 0 {
			// Possible when a new entry was claimed by a racing goroutine.
			box.running = false
			q.mu.Unlock()
			return
		}
		entry := box.pending[0]
		box.pending = box.pending[1:]
		prev := box.version
		q.mu.Unlock()

		taskCtx, cancel := context.WithTimeout(context.Background(), q.timeout)
		next, err := entry.task(taskCtx, prev)
		cancel()

		if err != nil {
			q.logger.Debug("queued write failed",
				slog.String("entity_id", id),
				slog.String("error", err.Error()),
			)
		}

		// Settle the mailbox before delivering the result, so a caller that
		// resumes and asks PendingFor sees this write as finished.
		q.mu.Lock()
		box.version = next
		more := len(box.pending) > 0
		if !more {
			box.running = false
		}
		q.mu.Unlock()

		entry.done <- result{version: next, err: err}
		if !more {
			return
		}
	}
}

// Reset replaces the chain version for id with one adopted outside the
// chain, e.g. after a discard-local resync where the server's version
// supersedes whatever the last write attempted. No-op while writes for id
// are still queued or running.
func (q *WriteQueue) Reset(id string, version entity.Version) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	box, ok := q.boxes[id]
	if !ok {
		box = &mailbox{}
		q.boxes[id] = box
	}
	if box.running || len(box.pending) > 0 {
		return false
	}
	box.version = version
	box.seeded = true
	return true
}

// PendingFor reports how many writes are queued or running for id.
func (q *WriteQueue) PendingFor(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	box, ok := q.boxes[id]
	if !ok {
		return 0
	}
	n := len(box.pending)
	if box.running {
		n++
	}
	return n
}

// Wait blocks until every mailbox has drained. Intended for shutdown and tests.
func (q *WriteQueue) Wait() {
	q.wg.Wait()
}
