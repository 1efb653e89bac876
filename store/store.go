// Package store holds the in-memory authoritative collections of customers,
// products and orders. It is the single source of UI truth; every consumer
// reads and writes through it using the status transitions defined by the
// mutation pipeline.
package store

import (
	"sync"

	"github.com/shopsync/shopsync/entity"
)

// collection is a mutex-free keyed map guarded by the owning Store.
type collection[T any] struct {
	recs map[string]T
}

func newCollection[T any]() collection[T] {
	return collection[T]{recs: make(map[string]T)}
}

func (c *collection[T]) get(id string) (T, bool) {
	r, ok := c.recs[id]
	return r, ok
}

func (c *collection[T]) upsert(id string, rec T) {
	c.recs[id] = rec
}

func (c *collection[T]) remove(id string) {
	delete(c.recs, id)
}

func (c *collection[T]) all() []T {
	out := make([]T, 0, len(c.recs))
	for _, r := range c.recs {
		out = append(out, r)
	}
	return out
}

// Store is the in-memory entity store. All methods are safe for concurrent
// use. At most one record exists per id per collection.
type Store struct {
	mu        sync.RWMutex
	customers collection[entity.Customer]
	products  collection[entity.Product]
	orders    collection[entity.Order]
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		customers: newCollection[entity.Customer](),
		products:  newCollection[entity.Product](),
		orders:    newCollection[entity.Order](),
	}
}

func (s *Store) GetCustomer(id string) (entity.Customer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.customers.get(id)
}

func (s *Store) UpsertCustomer(c entity.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers.upsert(c.ID, c)
}

func (s *Store) RemoveCustomer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers.remove(id)
}

func (s *Store) Customers() []entity.Customer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.customers.all()
}

// ReplaceAllCustomers swaps the whole collection for the given records.
func (s *Store) ReplaceAllCustomers(recs []entity.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers = newCollection[entity.Customer]()
	for _, r := range recs {
		s.customers.upsert(r.ID, r)
	}
}

func (s *Store) GetProduct(id string) (entity.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.products.get(id)
}

func (s *Store) UpsertProduct(p entity.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products.upsert(p.ID, p)
}

func (s *Store) RemoveProduct(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products.remove(id)
}

func (s *Store) Products() []entity.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.products.all()
}

func (s *Store) ReplaceAllProducts(recs []entity.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = newCollection[entity.Product]()
	for _, r := range recs {
		s.products.upsert(r.ID, r)
	}
}

func (s *Store) GetOrder(id string) (entity.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orders.get(id)
}

func (s *Store) UpsertOrder(o entity.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders.upsert(o.ID, o)
}

func (s *Store) RemoveOrder(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders.remove(id)
}

func (s *Store) Orders() []entity.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orders.all()
}

func (s *Store) ReplaceAllOrders(recs []entity.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = newCollection[entity.Order]()
	for _, r := range recs {
		s.orders.upsert(r.ID, r)
	}
}

// UnsyncedOrders returns the orders whose local state has not been confirmed
// by the remote store (pending or error).
func (s *Store) UnsyncedOrders() []entity.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []entity.Order
	for _, o := range s.orders.recs {
		if o.SyncStatus.Unsynced() {
			out = append(out, o)
		}
	}
	return out
}

// Snapshot is a full copy of the three collections, either captured from the
// live store or staged from a background pull.
type Snapshot struct {
	Customers []entity.Customer
	Products  []entity.Product
	Orders    []entity.Order
}

// Snapshot captures a consistent copy of all three collections.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Customers: s.customers.all(),
		Products:  s.products.all(),
		Orders:    s.orders.all(),
	}
}
