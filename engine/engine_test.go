package engine_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopsync/shopsync/conflict"
	"github.com/shopsync/shopsync/engine"
	"github.com/shopsync/shopsync/entity"
	syncErrors "github.com/shopsync/shopsync/errors"
	"github.com/shopsync/shopsync/gateway"
	"github.com/shopsync/shopsync/gateway/stubserver"
	"github.com/shopsync/shopsync/queue"
	"github.com/shopsync/shopsync/store"
)

// countingGateway wraps the real client so tests can assert how many remote
// writes an operation actually produced.
type countingGateway struct {
	inner  *gateway.Client
	writes map[gateway.Action]*atomic.Int64
	mu     sync.Mutex
}

func newCountingGateway(inner *gateway.Client) *countingGateway {
	return &countingGateway{inner: inner, writes: make(map[gateway.Action]*atomic.Int64)}
}

func (g *countingGateway) counter(action gateway.Action) *atomic.Int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.writes[action]
	if !ok {
		c = &atomic.Int64{}
		g.writes[action] = c
	}
	return c
}

func (g *countingGateway) Pull(ctx context.Context, startDate time.Time) (*gateway.Dataset, error) {
	return g.inner.Pull(ctx, startDate)
}

func (g *countingGateway) Write(ctx context.Context, action gateway.Action, payload any) (*gateway.WriteResult, error) {
	g.counter(action).Add(1)
	return g.inner.Write(ctx, action, payload)
}

type testRig struct {
	eng    *engine.Engine
	stub   *stubserver.Server
	store  *store.Store
	gw     *countingGateway
	closed []string // ids passed to the CloseEditor hook
	mu     sync.Mutex
}

func (r *testRig) closedEditors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.closed...)
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	stub := stubserver.New("")
	ts := httptest.NewServer(stub)
	t.Cleanup(ts.Close)

	rig := &testRig{
		stub:  stub,
		store: store.New(),
		gw:    newCountingGateway(gateway.New(ts.URL, ts.Client(), nil)),
	}

	opts := engine.DefaultOptions()
	opts.DebounceWindow = 25 * time.Millisecond
	opts.CloseEditor = func(id string) {
		rig.mu.Lock()
		rig.closed = append(rig.closed, id)
		rig.mu.Unlock()
	}
	rig.eng = engine.New(rig.store, rig.gw, queue.New(), opts)
	return rig
}

func testOrder(customer string) entity.Order {
	return entity.Order{
		CustomerName:  customer,
		DeliveryDate:  time.Now().AddDate(0, 0, 2).Format("2006-01-02"),
		Status:        entity.OrderPending,
		PaymentStatus: entity.PaymentUnpaid,
		Items: []entity.OrderItem{
			{ProductName: "Eggs", Quantity: 2, Unit: "tray", Price: 90},
		},
	}
}

func TestCreateOrderSyncsRoundTrip(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	id, err := rig.eng.CreateOrder(ctx, testOrder("Lin"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, ok := rig.store.GetOrder(id)
	require.True(t, ok)
	assert.Equal(t, entity.StatusSynced, rec.SyncStatus)
	assert.Equal(t, entity.ActionNone, rec.PendingAction)
	assert.False(t, rec.LastUpdated.IsZero())

	serverStamp, ok := rig.stub.OrderVersion(id)
	require.True(t, ok)
	assert.Equal(t, serverStamp, rec.LastUpdated.Stamp())
}

func TestCreateOrderRejectsInvalid(t *testing.T) {
	rig := newTestRig(t)

	_, err := rig.eng.CreateOrder(context.Background(), entity.Order{CustomerName: "Lin"})
	require.Error(t, err)
	assert.True(t, syncErrors.IsValidation(err))
}

func TestFailedWriteKeepsOptimisticValueMarkedError(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// A record the server has never seen: the content update will be
	// rejected, but the local edit must stay visible for retry.
	o := testOrder("Chen")
	o.ID = "local-only"
	rig.store.UpsertOrder(o)

	o.Note = "leave at the gate"
	err := rig.eng.UpdateOrder(ctx, o)
	require.Error(t, err)
	assert.False(t, syncErrors.IsConflict(err))

	rec, ok := rig.store.GetOrder("local-only")
	require.True(t, ok)
	assert.Equal(t, entity.StatusError, rec.SyncStatus)
	assert.Equal(t, entity.ActionUpdate, rec.PendingAction)
	assert.Equal(t, "leave at the gate", rec.Note)
	assert.NotEmpty(t, rec.ErrorMessage)
}

func TestRetryReissuesPendingCreate(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	o := testOrder("Wang")
	o.ID = "retry-me"
	o.SyncStatus = entity.StatusError
	o.PendingAction = entity.ActionCreate
	o.ErrorMessage = "network unreachable"
	rig.store.UpsertOrder(o)

	require.NoError(t, rig.eng.RetryOrder(ctx, "retry-me"))

	rec, ok := rig.store.GetOrder("retry-me")
	require.True(t, ok)
	assert.Equal(t, entity.StatusSynced, rec.SyncStatus)
	assert.Empty(t, rec.ErrorMessage)

	_, onServer := rig.stub.OrderVersion("retry-me")
	assert.True(t, onServer)
}

func TestStaleUpdateRaisesConflictAndStaysPending(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	id, err := rig.eng.CreateOrder(ctx, testOrder("Lin"))
	require.NoError(t, err)

	// Another client edits the order server-side.
	require.True(t, rig.stub.TouchOrder(id, func(o *entity.Order) {
		o.Note = "their edit"
	}))

	mine, _ := rig.store.GetOrder(id)
	mine.Note = "my edit"
	err = rig.eng.UpdateOrder(ctx, mine)
	require.Error(t, err)
	assert.True(t, syncErrors.IsConflict(err))

	// Local view keeps the optimistic edit, still pending; resolution is the
	// operator's call, never automatic.
	rec, _ := rig.store.GetOrder(id)
	assert.Equal(t, "my edit", rec.Note)
	assert.Equal(t, entity.StatusPending, rec.SyncStatus)

	assert.Equal(t, conflict.StateConflicted, rig.eng.Conflicts().State())
	d, ok := rig.eng.Conflicts().Current()
	require.True(t, ok)
	assert.Equal(t, id, d.EntityID)
	assert.Equal(t, gateway.ActionUpdateOrderContent, d.Action)
}

func TestDiscardLocalAdoptsServerState(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	id, err := rig.eng.CreateOrder(ctx, testOrder("Lin"))
	require.NoError(t, err)
	rig.stub.TouchOrder(id, func(o *entity.Order) { o.Note = "their edit" })

	mine, _ := rig.store.GetOrder(id)
	mine.Note = "my edit"
	require.Error(t, rig.eng.UpdateOrder(ctx, mine))
	require.Equal(t, conflict.StateConflicted, rig.eng.Conflicts().State())

	require.NoError(t, rig.eng.Conflicts().DiscardLocal(ctx))

	rec, ok := rig.store.GetOrder(id)
	require.True(t, ok)
	assert.Equal(t, "their edit", rec.Note)
	assert.Equal(t, entity.StatusSynced, rec.SyncStatus)
	assert.Equal(t, conflict.StateClean, rig.eng.Conflicts().State())
	assert.Contains(t, rig.closedEditors(), id)

	// The write chain adopted the server version: the next edit goes through
	// without tripping the version check.
	rec.Note = "edit after discard"
	require.NoError(t, rig.eng.UpdateOrder(ctx, rec))
}

func TestForceOverwriteWinsConflict(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	id, err := rig.eng.CreateOrder(ctx, testOrder("Lin"))
	require.NoError(t, err)
	rig.stub.TouchOrder(id, func(o *entity.Order) { o.Note = "their edit" })

	mine, _ := rig.store.GetOrder(id)
	mine.Note = "my edit"
	require.Error(t, rig.eng.UpdateOrder(ctx, mine))

	require.NoError(t, rig.eng.Conflicts().ForceOverwrite(ctx))

	rec, _ := rig.store.GetOrder(id)
	assert.Equal(t, "my edit", rec.Note)
	assert.Equal(t, entity.StatusSynced, rec.SyncStatus)
	assert.Equal(t, conflict.StateClean, rig.eng.Conflicts().State())

	// Server took the forced write.
	serverStamp, ok := rig.stub.OrderVersion(id)
	require.True(t, ok)
	assert.Equal(t, serverStamp, rec.LastUpdated.Stamp())
}

func TestStatusBurstCollapsesToOneWrite(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	id, err := rig.eng.CreateOrder(ctx, testOrder("Lin"))
	require.NoError(t, err)

	require.NoError(t, rig.eng.UpdateOrderStatus(ctx, id, entity.OrderDelivered))
	require.NoError(t, rig.eng.UpdateOrderStatus(ctx, id, entity.OrderCancelled))
	require.NoError(t, rig.eng.UpdateOrderStatus(ctx, id, entity.OrderDelivered))

	// Every click lands in the store immediately.
	rec, _ := rig.store.GetOrder(id)
	assert.Equal(t, entity.OrderDelivered, rec.Status)
	assert.Equal(t, entity.StatusPending, rec.SyncStatus)

	require.Eventually(t, func() bool {
		rec, ok := rig.store.GetOrder(id)
		return ok && rec.SyncStatus == entity.StatusSynced
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), rig.gw.counter(gateway.ActionUpdateOrderStatus).Load())
	rec, _ = rig.store.GetOrder(id)
	assert.Equal(t, entity.OrderDelivered, rec.Status)
}

func TestDeleteOrderConflictKeepsAbsence(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	id, err := rig.eng.CreateOrder(ctx, testOrder("Lin"))
	require.NoError(t, err)

	// A server-side edit makes the delete stale.
	rig.stub.TouchOrder(id, nil)
	err = rig.eng.DeleteOrder(ctx, id)
	require.Error(t, err)
	assert.True(t, syncErrors.IsConflict(err))

	// Local intent (absence) holds while the conflict is open.
	_, ok := rig.store.GetOrder(id)
	assert.False(t, ok)

	require.NoError(t, rig.eng.Conflicts().ForceOverwrite(ctx))
	_, onServer := rig.stub.OrderVersion(id)
	assert.False(t, onServer)
}

func TestBatchPaymentPartialConfirmation(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	id1, err := rig.eng.CreateOrder(ctx, testOrder("Lin"))
	require.NoError(t, err)
	id2, err := rig.eng.CreateOrder(ctx, testOrder("Chen"))
	require.NoError(t, err)

	rig.stub.RejectInBatch(id2)

	require.NoError(t, rig.eng.BatchUpdatePaymentStatus(ctx, []string{id1, id2}, entity.PaymentPaid))

	confirmed, _ := rig.store.GetOrder(id1)
	assert.Equal(t, entity.PaymentPaid, confirmed.PaymentStatus)
	assert.Equal(t, entity.StatusSynced, confirmed.SyncStatus)

	// The refused row rolled back to its pre-batch state.
	rolledBack, _ := rig.store.GetOrder(id2)
	assert.Equal(t, entity.PaymentUnpaid, rolledBack.PaymentStatus)
	assert.Equal(t, entity.StatusSynced, rolledBack.SyncStatus)
}

func TestResyncKeepsUnsyncedOrders(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.stub.Seed(
		[]entity.Customer{{Meta: entity.Meta{ID: "c1"}, Name: "Lin"}},
		[]entity.Product{{Meta: entity.Meta{ID: "p1"}, Name: "Eggs", Unit: "tray", Price: 90}},
		[]entity.Order{func() entity.Order {
			o := testOrder("Lin")
			o.ID = "server-order"
			return o
		}()},
	)

	local := testOrder("Chen")
	local.ID = "local-pending"
	local.SyncStatus = entity.StatusPending
	local.PendingAction = entity.ActionCreate
	rig.store.UpsertOrder(local)

	require.NoError(t, rig.eng.Resync(ctx))

	_, ok := rig.store.GetOrder("server-order")
	assert.True(t, ok)
	kept, ok := rig.store.GetOrder("local-pending")
	require.True(t, ok)
	assert.Equal(t, entity.StatusPending, kept.SyncStatus)

	assert.Len(t, rig.store.Customers(), 1)
	assert.Len(t, rig.store.Products(), 1)
}

func TestCustomerAndProductLifecycle(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	cid, err := rig.eng.UpdateCustomer(ctx, entity.Customer{Name: "Lin", Phone: "0912"})
	require.NoError(t, err)
	cust, ok := rig.store.GetCustomer(cid)
	require.True(t, ok)
	assert.Equal(t, entity.StatusSynced, cust.SyncStatus)

	cust.Phone = "0987"
	_, err = rig.eng.UpdateCustomer(ctx, cust)
	require.NoError(t, err)

	pid, err := rig.eng.UpdateProduct(ctx, entity.Product{Name: "Eggs", Unit: "tray", Price: 90})
	require.NoError(t, err)
	prod, ok := rig.store.GetProduct(pid)
	require.True(t, ok)
	assert.Equal(t, entity.StatusSynced, prod.SyncStatus)

	require.NoError(t, rig.eng.DeleteProduct(ctx, pid))
	_, ok = rig.store.GetProduct(pid)
	assert.False(t, ok)

	require.NoError(t, rig.eng.DeleteCustomer(ctx, cid))
	_, ok = rig.store.GetCustomer(cid)
	assert.False(t, ok)
}

func TestReorderProductsRollsBackOnFailure(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	ids := make([]string, 0, 3)
	for _, name := range []string{"Eggs", "Milk", "Rice"} {
		id, err := rig.eng.UpdateProduct(ctx, entity.Product{Name: name, Price: 10})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	reordered := []string{ids[2], ids[0], ids[1]}
	require.NoError(t, rig.eng.ReorderProducts(ctx, reordered))

	first, _ := rig.store.GetProduct(ids[2])
	assert.Equal(t, 0, first.SortOrder)
	last, _ := rig.store.GetProduct(ids[1])
	assert.Equal(t, 2, last.SortOrder)
}

// memCache is an in-memory engine.Cache for warm-start tests.
type memCache struct {
	mu   sync.Mutex
	snap store.Snapshot
	has  bool
}

func (c *memCache) Persist(snap store.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap, c.has = snap, true
	return nil
}

func (c *memCache) Restore() (store.Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap, c.has, nil
}

func TestWarmStartRestoresCachedDataset(t *testing.T) {
	stub := stubserver.New("")
	ts := httptest.NewServer(stub)
	t.Cleanup(ts.Close)

	cache := &memCache{}
	gw := gateway.New(ts.URL, ts.Client(), nil)

	opts := engine.DefaultOptions()
	opts.Cache = cache
	first := engine.New(store.New(), gw, queue.New(), opts)

	id, err := first.CreateOrder(context.Background(), testOrder("Lin"))
	require.NoError(t, err)

	// A fresh session starts from the cache before any network traffic.
	st2 := store.New()
	opts2 := engine.DefaultOptions()
	opts2.Cache = cache
	second := engine.New(st2, gw, queue.New(), opts2)
	require.NoError(t, second.WarmStart())

	rec, ok := st2.GetOrder(id)
	require.True(t, ok)
	assert.Equal(t, entity.StatusSynced, rec.SyncStatus)
}
