package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(id string, price int64, qty int) CartLine {
	return CartLine{Item: CatalogItem{ID: id, Name: id, UnitPrice: price}, Quantity: qty}
}

func TestCart_Total(t *testing.T) {
	cart := NewCart("u1", []CartLine{line("HRD002", 32000, 1), line("HRD001", 28000, 1), line("HRD005", 8000, 2)})

	assert.Equal(t, int64(76000), cart.Total())
	assert.False(t, cart.IsEmpty())
	assert.Equal(t, "HRD001", cart.Lines[0].Item.ID)
}

func TestCart_Empty(t *testing.T) {
	var nilCart *Cart
	assert.True(t, nilCart.IsEmpty())
	assert.Equal(t, int64(0), nilCart.Total())
	assert.True(t, NewCart("u1", nil).IsEmpty())
}

func TestCart_SnapshotIsDetached(t *testing.T) {
	cart := NewCart("u1", []CartLine{line("HRD001", 28000, 1)})
	snap := cart.Snapshot()

	cart.Lines[0].Quantity = 9
	assert.Equal(t, 1, snap[0].Quantity)
}

func TestNewOrder(t *testing.T) {
	lines := []CartLine{line("HRD001", 28000, 1), line("HRD005", 8000, 2)}
	now := time.UnixMilli(1_700_000_000_123)

	order := NewOrder("o1", "u1", lines, now)
	lines[0].Quantity = 5

	assert.Equal(t, int64(44000), order.TotalPrice)
	assert.Equal(t, int64(1_700_000_000_123), order.CreatedAt)
	assert.Equal(t, 1, order.Items[0].Quantity)
	assert.Equal(t, 3, order.ItemCount())
	assert.True(t, order.CreatedTime().Equal(now))
}

func TestCheckoutAttempt_HappyPath(t *testing.T) {
	a := NewCheckoutAttempt()
	require.NoError(t, a.TransitionTo(CheckoutConfirming))
	require.NoError(t, a.TransitionTo(CheckoutWriting))
	require.NoError(t, a.TransitionTo(CheckoutCommitted))

	assert.True(t, a.State().IsTerminal())
	assert.Equal(t, []CheckoutState{CheckoutIdle, CheckoutConfirming, CheckoutWriting, CheckoutCommitted}, a.History())
}

func TestCheckoutAttempt_IllegalTransitions(t *testing.T) {
	tests := []struct {
		from, to CheckoutState
	}{
		{CheckoutIdle, CheckoutWriting},
		{CheckoutIdle, CheckoutCommitted},
		{CheckoutConfirming, CheckoutCommitted},
		{CheckoutCommitted, CheckoutIdle},
		{CheckoutWriting, CheckoutIdle},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.False(t, CanTransitionTo(tt.from, tt.to))
		})
	}

	a := NewCheckoutAttempt()
	err := a.TransitionTo(CheckoutWriting)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, CheckoutIdle, a.State())
}

func TestCheckoutAttempt_FailedReturnsToIdle(t *testing.T) {
	assert.True(t, CanTransitionTo(CheckoutFailed, CheckoutIdle))
	assert.True(t, CanTransitionTo(CheckoutConfirming, CheckoutIdle))
}
