package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/fjod/sellr/internal/docstore"
	"github.com/fjod/sellr/internal/domain"
	"github.com/fjod/sellr/internal/notice"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckout_PlacesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "user123", "HRD001", "HRD002", "HRD005", "HRD005")

	result, err := f.checkout.Checkout(ctx, "user123", "")
	require.NoError(t, err)
	require.NotNil(t, result.Order)
	assert.Equal(t, domain.CheckoutCommitted, result.State)
	assert.False(t, result.Replayed)

	order := result.Order
	assert.Equal(t, int64(76000), order.TotalPrice)
	assert.Equal(t, fixedNow.UnixMilli(), order.CreatedAt)
	assert.Len(t, order.Items, 3)

	f.drain(t)

	stored, err := f.orders.GetOrder(ctx, "user123", order.ID)
	require.NoError(t, err)
	assert.Equal(t, order, stored)

	cart, err := f.carts.GetCart(ctx, "user123")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())

	assert.Equal(t, []string{"user123"}, f.history.Users())
	require.Len(t, f.events.Published(), 1)
	assert.Equal(t, order.ID, f.events.Published()[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OrdersPlaced))
}

func TestCheckout_TwoLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "user123", "HRD001", "HRD001", "HRD003")

	result, err := f.checkout.Checkout(ctx, "user123", "")
	require.NoError(t, err)
	require.NotNil(t, result.Order)
	assert.Equal(t, int64(76000), result.Order.TotalPrice)
	assert.Len(t, result.Order.Items, 2)

	f.drain(t)

	cart, err := f.carts.GetCart(ctx, "user123")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
}

func TestCheckout_OrderKeepsPricesAfterCartChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "user123", "HRD003")

	result, err := f.checkout.Checkout(ctx, "user123", "")
	require.NoError(t, err)
	f.drain(t)

	f.add(t, "user123", "HRD003", "HRD003")

	stored, err := f.orders.GetOrder(ctx, "user123", result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Items[0].Quantity)
	assert.Equal(t, int64(20000), stored.TotalPrice)
}

func TestCheckout_EmptyCartRejectedBeforeKeyGeneration(t *testing.T) {
	f := newFixture(t)

	result, err := f.checkout.Checkout(context.Background(), "user123", "")
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Nil(t, result)
	assert.Equal(t, 0, f.store.KeyCalls())

	orders, err := f.orders.ListOrders(context.Background(), "user123")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCheckout_KeyGenerationFailure(t *testing.T) {
	f := newFixture(t, docstore.WithKeyGenerator(func(string) (string, error) {
		return "", docstore.ErrKeyGeneration
	}))
	notices, stop := f.hub.Subscribe("user123")
	defer stop()
	f.add(t, "user123", "HRD001")

	_, err := f.checkout.Checkout(context.Background(), "user123", "")
	assert.ErrorIs(t, err, ErrKeyGeneration)
	assert.Equal(t, notice.KindCheckoutFailed, nextNotice(t, notices).Kind)

	orders, err := f.orders.ListOrders(context.Background(), "user123")
	require.NoError(t, err)
	assert.Empty(t, orders, "nothing is written without an id")

	cart, err := f.carts.GetCart(context.Background(), "user123")
	require.NoError(t, err)
	assert.Len(t, cart.Lines, 1)
}

func TestCheckout_WriteFailureLeavesCartIntact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	notices, stop := f.hub.Subscribe("user123")
	defer stop()
	f.add(t, "user123", "HRD001", "HRD004")
	f.store.failTransactUnder("orders/")

	_, err := f.checkout.Checkout(ctx, "user123", "")
	assert.ErrorIs(t, err, ErrOrderWrite)
	f.drain(t)

	cart, err := f.carts.GetCart(ctx, "user123")
	require.NoError(t, err)
	assert.Len(t, cart.Lines, 2)
	assert.Equal(t, int64(50000), cart.Total())

	assert.Equal(t, notice.KindCheckoutFailed, nextNotice(t, notices).Kind)
	assert.Empty(t, f.events.Published())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CheckoutFailures.WithLabelValues("write")))

	// a retry after the store recovers goes through with a fresh id
	f.store.failTransactUnder("")
	result, err := f.checkout.Checkout(ctx, "user123", "")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), result.Order.TotalPrice)
}

func TestCheckout_ClearFailureDoesNotFailOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	notices, stop := f.hub.Subscribe("user123")
	defer stop()
	f.add(t, "user123", "HRD002")
	f.store.failDeletes()

	result, err := f.checkout.Checkout(ctx, "user123", "")
	require.NoError(t, err)
	f.drain(t)

	_, err = f.orders.GetOrder(ctx, "user123", result.Order.ID)
	require.NoError(t, err)

	kinds := map[string]string{}
	for i := 0; i < 2; i++ {
		n := nextNotice(t, notices)
		kinds[n.Kind] = n.Op
	}
	assert.Contains(t, kinds, notice.KindOrderPlaced)
	assert.Equal(t, opClear, kinds[notice.KindWriteFailed])
}

func TestCheckout_IdempotencyKeyReplays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "user123", "HRD001")

	first, err := f.checkout.Checkout(ctx, "user123", "tap-1")
	require.NoError(t, err)
	f.drain(t)

	second, err := f.checkout.Checkout(ctx, "user123", "tap-1")
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 0, f.store.KeyCalls())

	orders, err := f.orders.ListOrders(ctx, "user123")
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestCheckout_ConcurrentSameKeyWritesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "user123", "HRD001")

	var wg sync.WaitGroup
	results := make([]*domain.CheckoutResult, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.checkout.Checkout(ctx, "user123", "double-tap")
		}(i)
	}
	wg.Wait()
	f.drain(t)

	var ids []string
	for i := range results {
		if errors.Is(errs[i], ErrEmptyCart) {
			continue // the cart was already cleared by the winner
		}
		require.NoError(t, errs[i])
		ids = append(ids, results[i].Order.ID)
	}
	require.NotEmpty(t, ids)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	orders, err := f.orders.ListOrders(ctx, "user123")
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.checkout.Preview(ctx, "user123")
	assert.ErrorIs(t, err, ErrEmptyCart)

	f.add(t, "user123", "HRD005", "HRD006")
	preview, err := f.checkout.Preview(ctx, "user123")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutConfirming, preview.State)
	assert.Equal(t, int64(34000), preview.TotalPrice)
	assert.Len(t, preview.Lines, 2)
	assert.Equal(t, 0, f.store.KeyCalls(), "preview never reserves an order id")
}
