package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopsync/shopsync/entity"
	syncErrors "github.com/shopsync/shopsync/errors"
	"github.com/shopsync/shopsync/gateway"
)

func validateOrder(o entity.Order, op syncErrors.Operation) error {
	if o.CustomerName == "" {
		return syncErrors.NewValidationError(op, fmt.Errorf("customer name is required"))
	}
	if o.DeliveryDate == "" {
		return syncErrors.NewValidationError(op, fmt.Errorf("delivery date is required"))
	}
	if len(o.Items) == 0 {
		return syncErrors.NewValidationError(op, fmt.Errorf("order needs at least one item"))
	}
	for _, it := range o.Items {
		if it.ProductName == "" {
			return syncErrors.NewValidationError(op, fmt.Errorf("order item needs a product name"))
		}
		if it.Quantity <= 0 {
			return syncErrors.NewValidationError(op, fmt.Errorf("order item quantity must be positive"))
		}
	}
	return nil
}

// finishOrderWrite applies the outcome of a settled order write to the
// store. restore, when non-nil, is the pre-mutation record to put back on a
// non-conflict failure (the delete case, where nothing is left to retry
// from otherwise).
func (e *Engine) finishOrderWrite(id string, v entity.Version, err error, restore *entity.Order) error {
	switch {
	case err == nil:
		if rec, ok := e.store.GetOrder(id); ok {
			rec.LastUpdated = v
			// Only settle the status when no later write is chasing this one.
			if e.queue.PendingFor(id) == 0 {
				rec.SyncStatus = entity.StatusSynced
				rec.PendingAction = entity.ActionNone
				rec.ErrorMessage = ""
			}
			e.store.UpsertOrder(rec)
		}
		e.persist()
		return nil

	case syncErrors.IsConflict(err):
		// The optimistic value stays visible, still pending, until the
		// operator resolves the conflict. The descriptor was already raised.
		return err

	default:
		if restore != nil {
			r := *restore
			r.SyncStatus = entity.StatusError
			r.PendingAction = entity.ActionDelete
			r.ErrorMessage = err.Error()
			e.store.UpsertOrder(r)
		} else if rec, ok := e.store.GetOrder(id); ok {
			rec.SyncStatus = entity.StatusError
			rec.ErrorMessage = err.Error()
			e.store.UpsertOrder(rec)
		}
		e.persist()
		return err
	}
}

// CreateOrder validates and creates a new order. The record is visible
// locally at once; the returned id is assigned client-side when o.ID is
// empty.
func (e *Engine) CreateOrder(ctx context.Context, o entity.Order) (string, error) {
	if err := validateOrder(o, syncErrors.OpCreate); err != nil {
		return "", err
	}
	if o.ID == "" {
		o.ID = newID()
	}

	o.LastUpdated = entity.Unversioned()
	o.SyncStatus = entity.StatusPending
	o.PendingAction = entity.ActionCreate
	o.ErrorMessage = ""
	e.store.UpsertOrder(o)

	snapshot := o // payload source, not re-read: later edits queue separately
	v, err := e.submit(ctx, o.ID, entity.Unversioned(), gateway.ActionCreateOrder,
		fmt.Sprintf("create order for %s on %s", o.CustomerName, o.DeliveryDate),
		func(prev entity.Version) any {
			p := gateway.OrderPayloadFrom(snapshot)
			p.OriginalLastUpdated = prev
			return p
		})
	return o.ID, e.finishOrderWrite(o.ID, v, err, nil)
}

// UpdateOrder replaces an order's content.
func (e *Engine) UpdateOrder(ctx context.Context, o entity.Order) error {
	if err := validateOrder(o, syncErrors.OpUpdate); err != nil {
		return err
	}
	existing, ok := e.store.GetOrder(o.ID)
	if !ok {
		return syncErrors.NewValidationError(syncErrors.OpUpdate, fmt.Errorf("order %s not found", o.ID))
	}

	o.LastUpdated = existing.LastUpdated
	o.SyncStatus = entity.StatusPending
	o.PendingAction = entity.ActionUpdate
	o.ErrorMessage = ""
	e.store.UpsertOrder(o)

	snapshot := o
	v, err := e.submit(ctx, o.ID, existing.LastUpdated, gateway.ActionUpdateOrderContent,
		fmt.Sprintf("update order for %s on %s", o.CustomerName, o.DeliveryDate),
		func(prev entity.Version) any {
			p := gateway.OrderPayloadFrom(snapshot)
			p.OriginalLastUpdated = prev
			return p
		})
	return e.finishOrderWrite(o.ID, v, err, nil)
}

// UpdateOrderStatus changes an order's delivery status. The store updates
// immediately on every call; bursts of calls on the same order within the
// debounce window collapse into one remote write carrying the final status.
func (e *Engine) UpdateOrderStatus(ctx context.Context, id string, status entity.OrderStatus) error {
	rec, ok := e.store.GetOrder(id)
	if !ok {
		return syncErrors.NewValidationError(syncErrors.OpStatus, fmt.Errorf("order %s not found", id))
	}

	rec.Status = status
	rec.SyncStatus = entity.StatusPending
	rec.PendingAction = entity.ActionStatusUpdate
	rec.ErrorMessage = ""
	e.store.UpsertOrder(rec)

	e.debounceMu.Lock()
	defer e.debounceMu.Unlock()
	if d, ok := e.debounce[id]; ok {
		// Supersede the scheduled call; only the final status is sent.
		d.timer.Stop()
		d.status = status
		d.timer.Reset(e.opts.DebounceWindow)
		return nil
	}
	d := &statusDebounce{status: status}
	d.timer = time.AfterFunc(e.opts.DebounceWindow, func() {
		e.flushStatus(id)
	})
	e.debounce[id] = d
	return nil
}

// flushStatus fires the single debounced status write for id.
func (e *Engine) flushStatus(id string) {
	e.debounceMu.Lock()
	d, ok := e.debounce[id]
	if !ok {
		e.debounceMu.Unlock()
		return
	}
	delete(e.debounce, id)
	status := d.status
	e.debounceMu.Unlock()

	rec, ok := e.store.GetOrder(id)
	if !ok {
		return
	}

	v, err := e.submit(context.Background(), id, rec.LastUpdated, gateway.ActionUpdateOrderStatus,
		fmt.Sprintf("set order status to %s", status),
		func(prev entity.Version) any {
			return gateway.StatusPayload{ID: id, Status: status, OriginalLastUpdated: prev}
		})
	if ferr := e.finishOrderWrite(id, v, err, nil); ferr != nil {
		e.logger.LogError(context.Background(), ferr, "status write failed",
			slog.String("order_id", id),
		)
	}
}

// DeleteOrder removes an order. The record disappears locally at once; if
// the remote delete fails for a non-conflict reason the record is restored
// marked error so the deletion can be retried.
func (e *Engine) DeleteOrder(ctx context.Context, id string) error {
	existing, ok := e.store.GetOrder(id)
	if !ok {
		return syncErrors.NewValidationError(syncErrors.OpDelete, fmt.Errorf("order %s not found", id))
	}

	e.store.RemoveOrder(id)

	prior := existing
	v, err := e.submit(ctx, id, existing.LastUpdated, gateway.ActionDeleteOrder,
		fmt.Sprintf("delete order for %s on %s", existing.CustomerName, existing.DeliveryDate),
		func(prev entity.Version) any {
			return gateway.DeletePayload{ID: id, OriginalLastUpdated: prev}
		})
	if err == nil {
		e.persist()
		return nil
	}
	if syncErrors.IsConflict(err) {
		// The local intent (absence) stays until the operator resolves.
		return err
	}
	return e.finishOrderWrite(id, v, err, &prior)
}

// RetryOrder re-attempts the outstanding write of an order stuck in error.
func (e *Engine) RetryOrder(ctx context.Context, id string) error {
	rec, ok := e.store.GetOrder(id)
	if !ok {
		return syncErrors.NewValidationError(syncErrors.OpUpdate, fmt.Errorf("order %s not found", id))
	}
	if rec.SyncStatus != entity.StatusError {
		return syncErrors.NewValidationError(syncErrors.OpUpdate, fmt.Errorf("order %s has no failed write to retry", id))
	}

	switch rec.PendingAction {
	case entity.ActionCreate:
		rec.SyncStatus = entity.StatusPending
		rec.ErrorMessage = ""
		e.store.UpsertOrder(rec)
		snapshot := rec
		v, err := e.submit(ctx, id, entity.Unversioned(), gateway.ActionCreateOrder,
			fmt.Sprintf("create order for %s on %s", rec.CustomerName, rec.DeliveryDate),
			func(prev entity.Version) any {
				p := gateway.OrderPayloadFrom(snapshot)
				p.OriginalLastUpdated = prev
				return p
			})
		return e.finishOrderWrite(id, v, err, nil)

	case entity.ActionUpdate:
		rec.SyncStatus = entity.StatusPending
		rec.ErrorMessage = ""
		e.store.UpsertOrder(rec)
		snapshot := rec
		v, err := e.submit(ctx, id, rec.LastUpdated, gateway.ActionUpdateOrderContent,
			fmt.Sprintf("update order for %s on %s", rec.CustomerName, rec.DeliveryDate),
			func(prev entity.Version) any {
				p := gateway.OrderPayloadFrom(snapshot)
				p.OriginalLastUpdated = prev
				return p
			})
		return e.finishOrderWrite(id, v, err, nil)

	case entity.ActionStatusUpdate:
		rec.SyncStatus = entity.StatusPending
		rec.ErrorMessage = ""
		e.store.UpsertOrder(rec)
		status := rec.Status
		v, err := e.submit(ctx, id, rec.LastUpdated, gateway.ActionUpdateOrderStatus,
			fmt.Sprintf("set order status to %s", status),
			func(prev entity.Version) any {
				return gateway.StatusPayload{ID: id, Status: status, OriginalLastUpdated: prev}
			})
		return e.finishOrderWrite(id, v, err, nil)

	case entity.ActionDelete:
		// The record was restored only so the deletion could be retried.
		e.store.RemoveOrder(id)
		prior := rec
		v, err := e.submit(ctx, id, rec.LastUpdated, gateway.ActionDeleteOrder,
			fmt.Sprintf("delete order for %s on %s", rec.CustomerName, rec.DeliveryDate),
			func(prev entity.Version) any {
				return gateway.DeletePayload{ID: id, OriginalLastUpdated: prev}
			})
		if err == nil {
			e.persist()
			return nil
		}
		if syncErrors.IsConflict(err) {
			return err
		}
		return e.finishOrderWrite(id, v, err, &prior)

	default:
		return syncErrors.NewValidationError(syncErrors.OpUpdate, fmt.Errorf("order %s has no pending action", id))
	}
}

// BatchUpdatePaymentStatus settles payment for many orders in one
// best-effort call. It bypasses the per-id queues: the batch carries no
// version check, and the response is interpreted per row. Rows the server
// does not confirm are rolled back individually; a failed call rolls back
// every row.
func (e *Engine) BatchUpdatePaymentStatus(ctx context.Context, ids []string, status entity.PaymentStatus) error {
	if len(ids) == 0 {
		return syncErrors.NewValidationError(syncErrors.OpBatchStatus, fmt.Errorf("no orders selected"))
	}

	prior := make(map[string]entity.Order, len(ids))
	for _, id := range ids {
		rec, ok := e.store.GetOrder(id)
		if !ok {
			continue
		}
		prior[id] = rec
		rec.PaymentStatus = status
		rec.SyncStatus = entity.StatusPending
		rec.PendingAction = entity.ActionStatusUpdate
		e.store.UpsertOrder(rec)
	}
	if len(prior) == 0 {
		return syncErrors.NewValidationError(syncErrors.OpBatchStatus, fmt.Errorf("none of the selected orders exist"))
	}

	result, err := e.gw.Write(ctx, gateway.ActionBatchUpdatePaymentStatus, gateway.BatchPaymentPayload{
		IDs:           ids,
		PaymentStatus: status,
	})
	if err != nil {
		// Total failure: every row returns to its pre-batch state.
		for _, rec := range prior {
			e.store.UpsertOrder(rec)
		}
		return err
	}

	for id, before := range prior {
		if v, ok := result.Results[id]; ok {
			rec, ok := e.store.GetOrder(id)
			if !ok {
				continue
			}
			rec.LastUpdated = v
			rec.SyncStatus = entity.StatusSynced
			rec.PendingAction = entity.ActionNone
			rec.ErrorMessage = ""
			e.store.UpsertOrder(rec)
			e.queue.Reset(id, v)
		} else {
			// Unconfirmed row: roll back.
			e.store.UpsertOrder(before)
		}
	}
	e.persist()
	return nil
}
