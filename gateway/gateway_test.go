package gateway_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopsync/shopsync/entity"
	syncErrors "github.com/shopsync/shopsync/errors"
	"github.com/shopsync/shopsync/gateway"
	"github.com/shopsync/shopsync/gateway/stubserver"
)

func newTestGateway(t *testing.T) (*gateway.Client, *stubserver.Server) {
	t.Helper()
	stub := stubserver.New("")
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	return gateway.New(srv.URL, srv.Client(), nil), stub
}

func TestPullGroupsOrderRows(t *testing.T) {
	client, stub := newTestGateway(t)
	stub.Seed(
		[]entity.Customer{{Meta: entity.Meta{ID: "c1"}, Name: "Wang"}},
		[]entity.Product{{Meta: entity.Meta{ID: "p1"}, Name: "Tofu", Price: 35}},
		[]entity.Order{{
			Meta:         entity.Meta{ID: "o1"},
			CustomerName: "Wang", DeliveryDate: "2026-08-30",
			Status: entity.OrderPending, PaymentStatus: entity.PaymentUnpaid,
			Items: []entity.OrderItem{
				{ProductName: "Tofu", Quantity: 2, Price: 35},
				{ProductName: "Soy milk", Quantity: 1, Price: 20},
			},
		}},
	)

	ds, err := client.Pull(context.Background(), time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.Len(t, ds.Customers, 1)
	assert.Equal(t, "Wang", ds.Customers[0].Name)
	assert.False(t, ds.Customers[0].LastUpdated.IsZero())

	require.Len(t, ds.Orders, 1)
	assert.Len(t, ds.Orders[0].Items, 2)
	assert.Equal(t, entity.StatusSynced, ds.Orders[0].SyncStatus)
}

func TestPullHonorsStartDate(t *testing.T) {
	client, stub := newTestGateway(t)
	stub.Seed(nil, nil, []entity.Order{
		{Meta: entity.Meta{ID: "old"}, CustomerName: "Wang", DeliveryDate: "2026-01-05",
			Items: []entity.OrderItem{{ProductName: "Tofu", Quantity: 1}}},
		{Meta: entity.Meta{ID: "new"}, CustomerName: "Wang", DeliveryDate: "2026-08-29",
			Items: []entity.OrderItem{{ProductName: "Tofu", Quantity: 1}}},
	})

	ds, err := client.Pull(context.Background(), time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, ds.Orders, 1)
	assert.Equal(t, "new", ds.Orders[0].ID)
}

func TestWriteCreateAndUpdate(t *testing.T) {
	client, _ := newTestGateway(t)
	ctx := context.Background()

	order := entity.Order{
		Meta:         entity.Meta{ID: "o1"},
		CustomerName: "Wang", DeliveryDate: "2026-08-30",
		Status: entity.OrderPending, PaymentStatus: entity.PaymentUnpaid,
		Items: []entity.OrderItem{{ProductName: "Tofu", Quantity: 2, Price: 35}},
	}

	created, err := client.Write(ctx, gateway.ActionCreateOrder, gateway.OrderPayloadFrom(order))
	require.NoError(t, err)
	require.False(t, created.LastUpdated.IsZero())

	// Update carrying the confirmed version succeeds and bumps it.
	order.LastUpdated = created.LastUpdated
	order.Note = "extra firm"
	updated, err := client.Write(ctx, gateway.ActionUpdateOrderContent, gateway.OrderPayloadFrom(order))
	require.NoError(t, err)
	assert.Equal(t, 1, updated.LastUpdated.Compare(created.LastUpdated))
}

func TestWriteStaleVersionIsConflict(t *testing.T) {
	client, stub := newTestGateway(t)
	ctx := context.Background()
	stub.Seed(nil, nil, []entity.Order{{
		Meta: entity.Meta{ID: "o1"}, CustomerName: "Wang", DeliveryDate: "2026-08-30",
	}})

	// Server moves on; our claimed version goes stale.
	require.True(t, stub.TouchOrder("o1", nil))

	payload := gateway.StatusPayload{
		ID: "o1", Status: entity.OrderDelivered,
		OriginalLastUpdated: entity.At(1),
	}
	_, err := client.Write(ctx, gateway.ActionUpdateOrderStatus, payload)
	require.Error(t, err)
	assert.True(t, syncErrors.IsConflict(err))

	// The same payload with force set bypasses the check.
	forced, err := client.Write(ctx, gateway.ActionUpdateOrderStatus, payload.Forced())
	require.NoError(t, err)
	assert.False(t, forced.LastUpdated.IsZero())
}

func TestWriteNetworkErrorIsRetryable(t *testing.T) {
	stub := stubserver.New("")
	srv := httptest.NewServer(stub)
	client := gateway.New(srv.URL, srv.Client(), nil)
	srv.Close() // connection refused from here on

	_, err := client.Write(context.Background(), gateway.ActionUpdateOrderStatus, gateway.StatusPayload{ID: "o1"})
	require.Error(t, err)
	assert.True(t, syncErrors.IsRetryable(err))
	assert.False(t, syncErrors.IsConflict(err))
}

func TestLogin(t *testing.T) {
	stub := stubserver.New("secret")
	srv := httptest.NewServer(stub)
	defer srv.Close()
	client := gateway.New(srv.URL, srv.Client(), nil)
	ctx := context.Background()

	t.Run("wrong password rejected", func(t *testing.T) {
		_, err := client.Login(ctx, "op", "nope")
		require.Error(t, err)
	})

	t.Run("correct password yields token", func(t *testing.T) {
		token, err := client.Login(ctx, "op", "secret")
		require.NoError(t, err)
		assert.NotEmpty(t, token)
	})

	t.Run("change password", func(t *testing.T) {
		require.NoError(t, client.ChangePassword(ctx, "secret", "rotated"))
		_, err := client.Login(ctx, "op", "secret")
		require.Error(t, err)
		_, err = client.Login(ctx, "op", "rotated")
		require.NoError(t, err)
	})
}

func TestBatchResultsPerRow(t *testing.T) {
	client, stub := newTestGateway(t)
	stub.Seed(nil, nil, []entity.Order{
		{Meta: entity.Meta{ID: "o1"}, CustomerName: "Wang", DeliveryDate: "2026-08-30"},
		{Meta: entity.Meta{ID: "o2"}, CustomerName: "Chen", DeliveryDate: "2026-08-30"},
	})
	stub.RejectInBatch("o2")

	result, err := client.Write(context.Background(), gateway.ActionBatchUpdatePaymentStatus,
		gateway.BatchPaymentPayload{IDs: []string{"o1", "o2"}, PaymentStatus: entity.PaymentPaid})
	require.NoError(t, err)

	assert.Contains(t, result.Results, "o1")
	assert.NotContains(t, result.Results, "o2")
}
