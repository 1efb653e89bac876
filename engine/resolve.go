package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopsync/shopsync/conflict"
	"github.com/shopsync/shopsync/entity"
	syncErrors "github.com/shopsync/shopsync/errors"
	"github.com/shopsync/shopsync/gateway"
)

// Resync pulls the remote dataset and applies it, preserving local orders
// whose writes are still unconfirmed. Customers and products are replaced
// wholesale.
func (e *Engine) Resync(ctx context.Context) error {
	ds, err := e.gw.Pull(ctx, time.Now().Add(-e.opts.OrderWindow))
	if err != nil {
		return err
	}
	e.applyDataset(ds, "")
	e.persist()
	return nil
}

// applyDataset installs a pulled dataset. Local unsynced orders survive the
// replacement, except the one named by discarded, whose local state yields
// to whatever the server returned (including absence).
func (e *Engine) applyDataset(ds *gateway.Dataset, discarded string) {
	e.store.ReplaceAllCustomers(ds.Customers)
	e.store.ReplaceAllProducts(ds.Products)

	unsynced := e.store.UnsyncedOrders()
	e.store.ReplaceAllOrders(ds.Orders)
	for _, o := range unsynced {
		if o.ID == discarded {
			continue
		}
		// A confirmed server row for this id would have arrived in ds with a
		// stale business view; the local in-flight version stays on top.
		e.store.UpsertOrder(o)
	}
}

// discardLocal is the conflict handler for the "keep theirs" decision: the
// pending local mutation is dropped, the dataset is refreshed from the
// server, and the write chain for the record adopts the server's version so
// later edits start from confirmed state.
func (e *Engine) discardLocal(ctx context.Context, d conflict.Descriptor) error {
	// A scheduled status flush for this record would re-raise the same
	// conflict; drop it.
	e.debounceMu.Lock()
	if dbc, ok := e.debounce[d.EntityID]; ok {
		dbc.timer.Stop()
		delete(e.debounce, d.EntityID)
	}
	e.debounceMu.Unlock()

	ds, err := e.gw.Pull(ctx, time.Now().Add(-e.opts.OrderWindow))
	if err != nil {
		return syncErrors.NewWithComponent(syncErrors.OpResolve, "engine", err)
	}
	e.applyDataset(ds, d.EntityID)

	serverVersion := entity.Unversioned()
	for _, o := range ds.Orders {
		if o.ID == d.EntityID {
			serverVersion = o.LastUpdated
			break
		}
	}
	for _, c := range ds.Customers {
		if c.ID == d.EntityID {
			serverVersion = c.LastUpdated
			break
		}
	}
	for _, p := range ds.Products {
		if p.ID == d.EntityID {
			serverVersion = p.LastUpdated
			break
		}
	}
	if !e.queue.Reset(d.EntityID, serverVersion) {
		e.logger.Warn("write chain busy during discard, version not adopted",
			slog.String("entity_id", d.EntityID),
		)
	}

	if e.opts.CloseEditor != nil {
		e.opts.CloseEditor(d.EntityID)
	}
	e.persist()
	return nil
}

// forceOverwrite is the conflict handler for the "keep mine" decision: the
// rejected payload is resubmitted with the version check bypassed.
func (e *Engine) forceOverwrite(ctx context.Context, d conflict.Descriptor) error {
	forceable, ok := d.Payload.(gateway.Forceable)
	if !ok {
		return syncErrors.New(syncErrors.OpResolve, fmt.Errorf("action %s cannot be forced", d.Action))
	}
	payload := forceable.Forced()

	v, err := e.queue.Enqueue(ctx, d.EntityID, entity.Unversioned(),
		func(taskCtx context.Context, prev entity.Version) (entity.Version, error) {
			result, werr := e.gw.Write(taskCtx, d.Action, payload)
			if werr != nil {
				return prev, werr
			}
			return result.LastUpdated, nil
		})
	if err != nil {
		return err
	}

	switch d.Action {
	case gateway.ActionCreateOrder, gateway.ActionUpdateOrderContent, gateway.ActionUpdateOrderStatus:
		return e.finishOrderWrite(d.EntityID, v, nil, nil)
	case gateway.ActionDeleteOrder:
		e.store.RemoveOrder(d.EntityID)
		e.persist()
		return nil
	case gateway.ActionUpdateCustomer:
		return e.finishCustomerWrite(d.EntityID, v, nil, nil)
	case gateway.ActionDeleteCustomer:
		e.store.RemoveCustomer(d.EntityID)
		e.persist()
		return nil
	case gateway.ActionUpdateProduct:
		return e.finishProductWrite(d.EntityID, v, nil, nil)
	case gateway.ActionDeleteProduct:
		e.store.RemoveProduct(d.EntityID)
		e.persist()
		return nil
	default:
		e.persist()
		return nil
	}
}
