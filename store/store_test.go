package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopsync/shopsync/entity"
)

func TestUpsertGetRemove(t *testing.T) {
	s := New()

	_, ok := s.GetOrder("o1")
	assert.False(t, ok)

	s.UpsertOrder(entity.Order{Meta: entity.Meta{ID: "o1"}, CustomerName: "Wang"})
	o, ok := s.GetOrder("o1")
	require.True(t, ok)
	assert.Equal(t, "Wang", o.CustomerName)

	// Upsert with the same id replaces, never duplicates.
	s.UpsertOrder(entity.Order{Meta: entity.Meta{ID: "o1"}, CustomerName: "Chen"})
	assert.Len(t, s.Orders(), 1)
	o, _ = s.GetOrder("o1")
	assert.Equal(t, "Chen", o.CustomerName)

	s.RemoveOrder("o1")
	_, ok = s.GetOrder("o1")
	assert.False(t, ok)
}

func TestReplaceAll(t *testing.T) {
	s := New()
	s.UpsertCustomer(entity.Customer{Meta: entity.Meta{ID: "c1"}, Name: "old"})

	s.ReplaceAllCustomers([]entity.Customer{
		{Meta: entity.Meta{ID: "c2"}, Name: "new"},
	})

	_, ok := s.GetCustomer("c1")
	assert.False(t, ok)
	c, ok := s.GetCustomer("c2")
	require.True(t, ok)
	assert.Equal(t, "new", c.Name)
}

func TestUnsyncedOrders(t *testing.T) {
	s := New()
	s.UpsertOrder(entity.Order{Meta: entity.Meta{ID: "a", SyncStatus: entity.StatusSynced}})
	s.UpsertOrder(entity.Order{Meta: entity.Meta{ID: "b", SyncStatus: entity.StatusPending}})
	s.UpsertOrder(entity.Order{Meta: entity.Meta{ID: "c", SyncStatus: entity.StatusError}})

	unsynced := s.UnsyncedOrders()
	assert.Len(t, unsynced, 2)
	for _, o := range unsynced {
		assert.True(t, o.SyncStatus.Unsynced())
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New()
	s.UpsertProduct(entity.Product{Meta: entity.Meta{ID: "p1"}, Name: "Tofu"})

	snap := s.Snapshot()
	require.Len(t, snap.Products, 1)

	// Mutating the store after the snapshot must not change the snapshot.
	s.UpsertProduct(entity.Product{Meta: entity.Meta{ID: "p1"}, Name: "changed"})
	assert.Equal(t, "Tofu", snap.Products[0].Name)
}
