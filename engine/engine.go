// Package engine orchestrates user-intended changes end-to-end: validate,
// apply optimistically to the entity store, serialize the remote write
// through the per-entity queue, interpret the result, and route version
// conflicts to the operator-facing coordinator. The local view updates
// instantly; the remote store catches up or the failure is surfaced.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shopsync/shopsync/conflict"
	"github.com/shopsync/shopsync/entity"
	syncErrors "github.com/shopsync/shopsync/errors"
	"github.com/shopsync/shopsync/gateway"
	"github.com/shopsync/shopsync/logging"
	"github.com/shopsync/shopsync/queue"
	"github.com/shopsync/shopsync/store"
)

// Gateway is the remote-store surface the engine needs. *gateway.Client
// implements it.
type Gateway interface {
	Pull(ctx context.Context, startDate time.Time) (*gateway.Dataset, error)
	Write(ctx context.Context, action gateway.Action, payload any) (*gateway.WriteResult, error)
}

// Cache persists the dataset across sessions so the client starts warm.
// Implemented by store/sqlite; optional.
type Cache interface {
	Persist(snapshot store.Snapshot) error
	Restore() (store.Snapshot, bool, error)
}

// Options configures an Engine.
type Options struct {
	// DebounceWindow collapses rapid status changes on the same order into
	// one remote call carrying only the final status.
	DebounceWindow time.Duration

	// OrderWindow bounds how far back resync pulls order rows.
	OrderWindow time.Duration

	// Cache, when set, receives a snapshot after every accepted change.
	Cache Cache

	// CloseEditor, when set, is invoked with a record id whose editor
	// surfaces must close after a discard-local resolution.
	CloseEditor func(entityID string)

	// OnConflictChange is forwarded to the conflict coordinator.
	OnConflictChange func(conflict.State, *conflict.Descriptor)

	Logger *logging.Logger
}

// DefaultOptions returns the production defaults.
func DefaultOptions() *Options {
	return &Options{
		DebounceWindow: 500 * time.Millisecond,
		OrderWindow:    30 * 24 * time.Hour,
	}
}

type statusDebounce struct {
	timer  *time.Timer
	status entity.OrderStatus
}

// Engine is the mutation pipeline. Construct one per session.
type Engine struct {
	store     *store.Store
	gw        Gateway
	queue     *queue.WriteQueue
	conflicts *conflict.Coordinator
	opts      Options
	logger    *logging.Logger

	debounceMu sync.Mutex
	debounce   map[string]*statusDebounce
}

// New creates an Engine around the given store, gateway and write queue.
func New(st *store.Store, gw Gateway, q *queue.WriteQueue, opts *Options) *Engine {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = 500 * time.Millisecond
	}
	if opts.OrderWindow <= 0 {
		opts.OrderWindow = 30 * 24 * time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.WithComponent("engine")
	}

	e := &Engine{
		store:    st,
		gw:       gw,
		queue:    q,
		opts:     *opts,
		logger:   logger,
		debounce: make(map[string]*statusDebounce),
	}
	e.conflicts = conflict.New(conflict.Handlers{
		Discard: e.discardLocal,
		Force:   e.forceOverwrite,
	}, opts.OnConflictChange)
	return e
}

// Conflicts exposes the coordinator for the operator surface.
func (e *Engine) Conflicts() *conflict.Coordinator {
	return e.conflicts
}

// WarmStart preloads the store from the cache, if one is configured and
// holds data. Unsynced records are restored with their status intact.
func (e *Engine) WarmStart() error {
	if e.opts.Cache == nil {
		return nil
	}
	snap, ok, err := e.opts.Cache.Restore()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	e.store.ReplaceAllCustomers(snap.Customers)
	e.store.ReplaceAllProducts(snap.Products)
	e.store.ReplaceAllOrders(snap.Orders)
	return nil
}

// newID generates a client-side record id: time-prefixed for rough sheet
// ordering, uuid-suffixed for global uniqueness.
func newID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// persist pushes the current dataset to the cache, best effort.
func (e *Engine) persist() {
	if e.opts.Cache == nil {
		return
	}
	if err := e.opts.Cache.Persist(e.store.Snapshot()); err != nil {
		e.logger.Warn("cache persist failed", slog.String("error", err.Error()))
	}
}

// submit chains one write for id through the queue. build converts the
// chain's previous version into the wire payload; describe is the operator
// text attached to the conflict descriptor if the remote store rejects the
// write as stale. The descriptor is raised from inside the task so the
// conflict is recorded even when the enqueueing caller has gone away.
func (e *Engine) submit(ctx context.Context, id string, seed entity.Version, action gateway.Action, describe string, build func(prev entity.Version) any) (entity.Version, error) {
	return e.queue.Enqueue(ctx, id, seed, func(taskCtx context.Context, prev entity.Version) (entity.Version, error) {
		payload := build(prev)
		result, werr := e.gw.Write(taskCtx, action, payload)
		if werr != nil {
			if syncErrors.IsConflict(werr) {
				e.conflicts.Raise(conflict.Descriptor{
					Action:      action,
					Payload:     payload,
					Description: describe,
					EntityID:    id,
				})
			}
			// Conflict or failure: the chain keeps the attempted version.
			return prev, werr
		}
		return result.LastUpdated, nil
	})
}
