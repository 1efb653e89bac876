// Package reconcile keeps the local dataset converged with the remote store.
// A periodic pull (plus on-demand triggers from the realtime feed) diffs the
// remote dataset against local state on business fields only; records with
// in-flight local writes are left alone. When the local dataset is clean the
// incoming state merges immediately; when unsynced edits exist, or the
// operator is mid-edit, the incoming state is staged and applied only on
// request, so a background refresh never yanks work out from under a form.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopsync/shopsync/entity"
	"github.com/shopsync/shopsync/gateway"
	"github.com/shopsync/shopsync/logging"
	"github.com/shopsync/shopsync/store"
)

// Source is the pull side of the remote gateway.
type Source interface {
	Pull(ctx context.Context, startDate time.Time) (*gateway.Dataset, error)
}

// Options configures a Reconciler.
type Options struct {
	// Interval between periodic pulls.
	Interval time.Duration

	// OrderWindow bounds how far back order rows are pulled.
	OrderWindow time.Duration

	// OnStaged, when set, fires after an incoming snapshot is staged for
	// operator review (and again with applied=true once it lands).
	OnStaged func(applied bool)

	Logger *logging.Logger
}

// DefaultInterval is the production pull cadence.
const DefaultInterval = 60 * time.Second

// Reconciler runs the background convergence loop.
type Reconciler struct {
	store  *store.Store
	src    Source
	opts   Options
	logger *logging.Logger

	trigger chan struct{}
	editing atomic.Bool

	mu     sync.Mutex
	staged *store.Snapshot
}

// New creates a Reconciler. Call Run to start the loop, or Reconcile for a
// single on-demand pass.
func New(st *store.Store, src Source, opts *Options) *Reconciler {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.OrderWindow <= 0 {
		o.OrderWindow = 30 * 24 * time.Hour
	}
	logger := o.Logger
	if logger == nil {
		logger = logging.WithComponent("reconcile")
	}
	return &Reconciler{
		store:   st,
		src:     src,
		opts:    o,
		logger:  logger,
		trigger: make(chan struct{}, 1),
	}
}

// Trigger requests an immediate pass. Coalesces: triggering while a request
// is already queued is a no-op.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// SetEditing marks whether an operator is mid-edit. While set, incoming
// changes are always staged, never fast-merged.
func (r *Reconciler) SetEditing(on bool) {
	r.editing.Store(on)
}

// Run drives the periodic loop until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.trigger:
		}
		if err := r.Reconcile(ctx); err != nil {
			r.logger.Warn("background pull failed", slog.String("error", err.Error()))
		}
	}
}

// Reconcile performs one pull-and-converge pass.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	ds, err := r.src.Pull(ctx, time.Now().Add(-r.opts.OrderWindow))
	if err != nil {
		return err
	}

	snap := r.store.Snapshot()
	if !hasRemoteChanges(ds, snap) {
		return nil
	}

	incoming := store.Snapshot{
		Customers: ds.Customers,
		Products:  ds.Products,
		Orders:    ds.Orders,
	}

	if r.editing.Load() || anyUnsynced(snap) {
		r.mu.Lock()
		// A newer snapshot supersedes any staged one outright.
		r.staged = &incoming
		r.mu.Unlock()
		r.logger.Info("remote changes staged for review")
		if r.opts.OnStaged != nil {
			r.opts.OnStaged(false)
		}
		return nil
	}

	r.apply(incoming)
	r.logger.Info("remote changes merged")
	if r.opts.OnStaged != nil {
		r.opts.OnStaged(true)
	}
	return nil
}

// Pending returns the staged incoming snapshot, if one awaits the operator.
func (r *Reconciler) Pending() (store.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.staged == nil {
		return store.Snapshot{}, false
	}
	return *r.staged, true
}

// Apply installs the staged snapshot. Orders with unconfirmed local writes
// survive the replacement.
func (r *Reconciler) Apply() bool {
	r.mu.Lock()
	staged := r.staged
	r.staged = nil
	r.mu.Unlock()
	if staged == nil {
		return false
	}
	r.apply(*staged)
	if r.opts.OnStaged != nil {
		r.opts.OnStaged(true)
	}
	return true
}

// DiscardPending drops the staged snapshot without applying it. The next
// pass will stage it again if the remote state still differs.
func (r *Reconciler) DiscardPending() {
	r.mu.Lock()
	r.staged = nil
	r.mu.Unlock()
}

func (r *Reconciler) apply(incoming store.Snapshot) {
	r.store.ReplaceAllCustomers(incoming.Customers)
	r.store.ReplaceAllProducts(incoming.Products)

	unsynced := r.store.UnsyncedOrders()
	r.store.ReplaceAllOrders(incoming.Orders)
	for _, o := range unsynced {
		r.store.UpsertOrder(o)
	}
}

func anyUnsynced(snap store.Snapshot) bool {
	for _, c := range snap.Customers {
		if c.SyncStatus.Unsynced() {
			return true
		}
	}
	for _, p := range snap.Products {
		if p.SyncStatus.Unsynced() {
			return true
		}
	}
	for _, o := range snap.Orders {
		if o.SyncStatus.Unsynced() {
			return true
		}
	}
	return false
}

// hasRemoteChanges reports whether the pulled dataset differs from local
// state on business fields. Records with in-flight local writes are excluded
// from the comparison entirely; their divergence is expected.
func hasRemoteChanges(ds *gateway.Dataset, snap store.Snapshot) bool {
	if customersDiffer(ds.Customers, snap.Customers) {
		return true
	}
	if productsDiffer(ds.Products, snap.Products) {
		return true
	}
	return ordersDiffer(ds.Orders, snap.Orders)
}

func customersDiffer(incoming, local []entity.Customer) bool {
	in := make(map[string]entity.Customer, len(incoming))
	for _, c := range incoming {
		in[c.ID] = c
	}
	seen := make(map[string]bool, len(local))
	for _, c := range local {
		seen[c.ID] = true
		if c.SyncStatus.Unsynced() {
			continue
		}
		remote, ok := in[c.ID]
		if !ok || !remote.SameBusiness(c) {
			return true
		}
	}
	for id := range in {
		if !seen[id] {
			return true
		}
	}
	return false
}

func productsDiffer(incoming, local []entity.Product) bool {
	in := make(map[string]entity.Product, len(incoming))
	for _, p := range incoming {
		in[p.ID] = p
	}
	seen := make(map[string]bool, len(local))
	for _, p := range local {
		seen[p.ID] = true
		if p.SyncStatus.Unsynced() {
			continue
		}
		remote, ok := in[p.ID]
		if !ok || !remote.SameBusiness(p) {
			return true
		}
	}
	for id := range in {
		if !seen[id] {
			return true
		}
	}
	return false
}

func ordersDiffer(incoming, local []entity.Order) bool {
	in := make(map[string]entity.Order, len(incoming))
	for _, o := range incoming {
		in[o.ID] = o
	}
	seen := make(map[string]bool, len(local))
	for _, o := range local {
		seen[o.ID] = true
		if o.SyncStatus.Unsynced() {
			continue
		}
		remote, ok := in[o.ID]
		if !ok || !remote.SameBusiness(o) {
			return true
		}
	}
	for id := range in {
		if !seen[id] {
			return true
		}
	}
	return false
}
