// Package conflict holds the operator-facing state machine for version
// conflicts. A write rejected by the remote store parks here until a human
// decides: discard the local edit, or force-overwrite the remote record.
// There is no automatic resolution path.
package conflict

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	syncErrors "github.com/shopsync/shopsync/errors"
	"github.com/shopsync/shopsync/gateway"
	"github.com/shopsync/shopsync/logging"
)

var (
	errNoConflict = errors.New("no active conflict to resolve")
	errNoHandler  = errors.New("no resolution handler installed")
)

// State of the coordinator.
type State string

const (
	StateClean      State = "clean"
	StateConflicted State = "conflicted"
)

// Descriptor captures the write that failed with a version mismatch: the
// remote action, its full payload (so it can be resubmitted with force), and
// a human-readable description for the operator.
type Descriptor struct {
	Action      gateway.Action
	Payload     any
	Description string

	// EntityID is the record the failed write addressed.
	EntityID string
}

// Handlers are the resolution callbacks the owning engine installs.
type Handlers struct {
	// Discard drops the pending local mutation for the descriptor's record,
	// resyncs from the remote store, and closes any editor surfaces
	// referencing the discarded record.
	Discard func(ctx context.Context, d Descriptor) error

	// Force resubmits the descriptor's payload with the version check
	// bypassed.
	Force func(ctx context.Context, d Descriptor) error
}

// Coordinator is the Clean → Conflicted → Clean state machine. Safe for
// concurrent use.
type Coordinator struct {
	mu       sync.Mutex
	state    State
	current  *Descriptor
	seq      uint64 // bumped on every Raise, so resolve only clears its own
	handlers Handlers
	onChange func(State, *Descriptor)
	logger   *logging.Logger
}

// New creates a clean coordinator with the given resolution handlers.
// onChange, if non-nil, is invoked after every state transition.
func New(handlers Handlers, onChange func(State, *Descriptor)) *Coordinator {
	return &Coordinator{
		state:    StateClean,
		handlers: handlers,
		onChange: onChange,
		logger:   logging.WithComponent("conflict"),
	}
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the active descriptor, if any.
func (c *Coordinator) Current() (Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Descriptor{}, false
	}
	return *c.current, true
}

// Raise moves the coordinator to Conflicted with the given descriptor. A
// conflict raised while one is already active supersedes it; the operator
// always resolves the most recent failure.
func (c *Coordinator) Raise(d Descriptor) {
	c.mu.Lock()
	if c.current != nil {
		c.logger.Warn("conflict superseded before resolution",
			slog.String("entity_id", c.current.EntityID),
			slog.String("action", string(c.current.Action)),
		)
	}
	c.state = StateConflicted
	c.current = &d
	c.seq++
	onChange := c.onChange
	c.mu.Unlock()

	c.logger.Info("version conflict raised",
		slog.String("entity_id", d.EntityID),
		slog.String("action", string(d.Action)),
	)
	if onChange != nil {
		onChange(StateConflicted, &d)
	}
}

// DiscardLocal resolves the active conflict by dropping the local mutation.
func (c *Coordinator) DiscardLocal(ctx context.Context) error {
	return c.resolve(ctx, c.handlers.Discard, "discard_local")
}

// ForceOverwrite resolves the active conflict by resubmitting the payload
// with the remote version check bypassed. On failure the coordinator stays
// Conflicted.
func (c *Coordinator) ForceOverwrite(ctx context.Context) error {
	return c.resolve(ctx, c.handlers.Force, "force_overwrite")
}

func (c *Coordinator) resolve(ctx context.Context, handler func(context.Context, Descriptor) error, decision string) error {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return syncErrors.New(syncErrors.OpResolve, errNoConflict)
	}
	d := *c.current
	seq := c.seq
	c.mu.Unlock()

	if handler == nil {
		return syncErrors.New(syncErrors.OpResolve, errNoHandler)
	}

	if err := handler(ctx, d); err != nil {
		c.logger.LogError(ctx, err, "conflict resolution failed",
			slog.String("decision", decision),
			slog.String("entity_id", d.EntityID),
		)
		return err
	}

	c.mu.Lock()
	// A newer conflict may have been raised while resolving; only clear the
	// one we resolved.
	cleared := false
	if c.current != nil && c.seq == seq {
		c.current = nil
		c.state = StateClean
		cleared = true
	}
	onChange := c.onChange
	c.mu.Unlock()

	c.logger.Info("conflict resolved",
		slog.String("decision", decision),
		slog.String("entity_id", d.EntityID),
	)
	if cleared && onChange != nil {
		onChange(StateClean, nil)
	}
	return nil
}
