package engine

import (
	"context"
	"fmt"

	"github.com/shopsync/shopsync/entity"
	syncErrors "github.com/shopsync/shopsync/errors"
	"github.com/shopsync/shopsync/gateway"
)

// Customers and products share one remote action for create and update; a
// record without a confirmed version is a create from the store's side.

func (e *Engine) finishCustomerWrite(id string, v entity.Version, err error, restore *entity.Customer) error {
	switch {
	case err == nil:
		if rec, ok := e.store.GetCustomer(id); ok {
			rec.LastUpdated = v
			if e.queue.PendingFor(id) == 0 {
				rec.SyncStatus = entity.StatusSynced
				rec.PendingAction = entity.ActionNone
				rec.ErrorMessage = ""
			}
			e.store.UpsertCustomer(rec)
		}
		e.persist()
		return nil
	case syncErrors.IsConflict(err):
		return err
	default:
		if restore != nil {
			r := *restore
			r.SyncStatus = entity.StatusError
			r.PendingAction = entity.ActionDelete
			r.ErrorMessage = err.Error()
			e.store.UpsertCustomer(r)
		} else if rec, ok := e.store.GetCustomer(id); ok {
			rec.SyncStatus = entity.StatusError
			rec.ErrorMessage = err.Error()
			e.store.UpsertCustomer(rec)
		}
		e.persist()
		return err
	}
}

// UpdateCustomer creates or updates a customer record.
func (e *Engine) UpdateCustomer(ctx context.Context, c entity.Customer) (string, error) {
	if c.Name == "" {
		return "", syncErrors.NewValidationError(syncErrors.OpUpdate, fmt.Errorf("customer name is required"))
	}

	action := entity.ActionUpdate
	seed := entity.Unversioned()
	if c.ID == "" {
		c.ID = newID()
		action = entity.ActionCreate
	} else if existing, ok := e.store.GetCustomer(c.ID); ok {
		c.LastUpdated = existing.LastUpdated
		seed = existing.LastUpdated
	} else {
		action = entity.ActionCreate
	}

	c.SyncStatus = entity.StatusPending
	c.PendingAction = action
	c.ErrorMessage = ""
	e.store.UpsertCustomer(c)

	snapshot := c
	v, err := e.submit(ctx, c.ID, seed, gateway.ActionUpdateCustomer,
		fmt.Sprintf("save customer %s", c.Name),
		func(prev entity.Version) any {
			p := gateway.CustomerPayloadFrom(snapshot)
			p.OriginalLastUpdated = prev
			return p
		})
	return c.ID, e.finishCustomerWrite(c.ID, v, err, nil)
}

// DeleteCustomer removes a customer record.
func (e *Engine) DeleteCustomer(ctx context.Context, id string) error {
	existing, ok := e.store.GetCustomer(id)
	if !ok {
		return syncErrors.NewValidationError(syncErrors.OpDelete, fmt.Errorf("customer %s not found", id))
	}

	e.store.RemoveCustomer(id)

	prior := existing
	v, err := e.submit(ctx, id, existing.LastUpdated, gateway.ActionDeleteCustomer,
		fmt.Sprintf("delete customer %s", existing.Name),
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
	return e.finishCustomerWrite(id, v, err, &prior)
}

func (e *Engine) finishProductWrite(id string, v entity.Version, err error, restore *entity.Product) error {
	switch {
	case err == nil:
		if rec, ok := e.store.GetProduct(id); ok {
			rec.LastUpdated = v
			if e.queue.PendingFor(id) == 0 {
				rec.SyncStatus = entity.StatusSynced
				rec.PendingAction = entity.ActionNone
				rec.ErrorMessage = ""
			}
			e.store.UpsertProduct(rec)
		}
		e.persist()
		return nil
	case syncErrors.IsConflict(err):
		return err
	default:
		if restore != nil {
			r := *restore
			r.SyncStatus = entity.StatusError
			r.PendingAction = entity.ActionDelete
			r.ErrorMessage = err.Error()
			e.store.UpsertProduct(r)
		} else if rec, ok := e.store.GetProduct(id); ok {
			rec.SyncStatus = entity.StatusError
			rec.ErrorMessage = err.Error()
			e.store.UpsertProduct(rec)
		}
		e.persist()
		return err
	}
}

// UpdateProduct creates or updates a product record.
func (e *Engine) UpdateProduct(ctx context.Context, p entity.Product) (string, error) {
	if p.Name == "" {
		return "", syncErrors.NewValidationError(syncErrors.OpUpdate, fmt.Errorf("product name is required"))
	}

	action := entity.ActionUpdate
	seed := entity.Unversioned()
	if p.ID == "" {
		p.ID = newID()
		action = entity.ActionCreate
	} else if existing, ok := e.store.GetProduct(p.ID); ok {
		p.LastUpdated = existing.LastUpdated
		seed = existing.LastUpdated
	} else {
		action = entity.ActionCreate
	}

	p.SyncStatus = entity.StatusPending
	p.PendingAction = action
	p.ErrorMessage = ""
	e.store.UpsertProduct(p)

	snapshot := p
	v, err := e.submit(ctx, p.ID, seed, gateway.ActionUpdateProduct,
		fmt.Sprintf("save product %s", p.Name),
		func(prev entity.Version) any {
			pl := gateway.ProductPayloadFrom(snapshot)
			pl.OriginalLastUpdated = prev
			return pl
		})
	return p.ID, e.finishProductWrite(p.ID, v, err, nil)
}

// DeleteProduct removes a product record.
func (e *Engine) DeleteProduct(ctx context.Context, id string) error {
	existing, ok := e.store.GetProduct(id)
	if !ok {
		return syncErrors.NewValidationError(syncErrors.OpDelete, fmt.Errorf("product %s not found", id))
	}

	e.store.RemoveProduct(id)

	prior := existing
	v, err := e.submit(ctx, id, existing.LastUpdated, gateway.ActionDeleteProduct,
		fmt.Sprintf("delete product %s", existing.Name),
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
	return e.finishProductWrite(id, v, err, &prior)
}

// ReorderProducts applies a new display ordering. The reorder is optimistic
// and fires one direct call; on failure the previous ordering is restored.
func (e *Engine) ReorderProducts(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return syncErrors.NewValidationError(syncErrors.OpUpdate, fmt.Errorf("no product ordering given"))
	}

	prior := e.store.Products()
	for i, id := range ids {
		if rec, ok := e.store.GetProduct(id); ok {
			rec.SortOrder = i
			e.store.UpsertProduct(rec)
		}
	}

	_, err := e.gw.Write(ctx, gateway.ActionReorderProducts, gateway.ReorderPayload{IDs: ids})
	if err != nil {
		for _, rec := range prior {
			e.store.UpsertProduct(rec)
		}
		return err
	}
	e.persist()
	return nil
}
