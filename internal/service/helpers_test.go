package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fjod/sellr/internal/docstore"
	"github.com/fjod/sellr/internal/domain"
	"github.com/fjod/sellr/internal/logger"
	"github.com/fjod/sellr/internal/metrics"
	"github.com/fjod/sellr/internal/notice"
	"github.com/fjod/sellr/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("store unavailable")

// faultyStore wraps a MemoryStore and fails selected operations.
type faultyStore struct {
	docstore.Store

	mu             sync.Mutex
	transactPrefix string
	deleteFails    bool
	keyCalls       int
}

func (f *faultyStore) Transact(ctx context.Context, path string, fn docstore.TransactFunc) (docstore.Document, error) {
	f.mu.Lock()
	prefix := f.transactPrefix
	f.mu.Unlock()
	if prefix != "" && strings.HasPrefix(path, prefix) {
		return nil, errStoreDown
	}
	return f.Store.Transact(ctx, path, fn)
}

func (f *faultyStore) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	fails := f.deleteFails
	f.mu.Unlock()
	if fails {
		return errStoreDown
	}
	return f.Store.Delete(ctx, path)
}

func (f *faultyStore) NewKey(parent string) (string, error) {
	f.mu.Lock()
	f.keyCalls++
	f.mu.Unlock()
	return f.Store.NewKey(parent)
}

func (f *faultyStore) failTransactUnder(prefix string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactPrefix = prefix
}

func (f *faultyStore) failDeletes() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteFails = true
}

func (f *faultyStore) KeyCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keyCalls
}

type recordingEvents struct {
	mu     sync.Mutex
	orders []*domain.Order
}

func (r *recordingEvents) PublishOrderPlaced(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, order)
	return nil
}

func (r *recordingEvents) Published() []*domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.Order(nil), r.orders...)
}

type recordingInvalidator struct {
	mu    sync.Mutex
	users []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	return nil
}

func (r *recordingInvalidator) Users() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.users...)
}

type fixture struct {
	store    *faultyStore
	hub      *notice.Hub
	metrics  *metrics.Metrics
	carts    *CartService
	checkout *CheckoutService
	orders   repository.OrderRepository
	events   *recordingEvents
	history  *recordingInvalidator
}

var fixedNow = time.UnixMilli(1_700_000_000_000)

func newFixture(t *testing.T, storeOpts ...docstore.MemoryOption) *fixture {
	t.Helper()
	mem := docstore.NewMemoryStore(storeOpts...)
	store := &faultyStore{Store: mem}

	f := &fixture{
		store:   store,
		hub:     notice.NewHub(),
		metrics: metrics.New(prometheus.NewRegistry()),
		orders:  repository.NewOrderRepository(store),
		events:  &recordingEvents{},
		history: &recordingInvalidator{},
	}
	log := logger.Nop()
	f.carts = NewCartService(repository.NewCartRepository(store), f.hub, f.metrics, log, time.Second)
	f.checkout = NewCheckoutService(f.carts, f.orders, f.hub, f.metrics, log, time.Second,
		WithOrderEvents(f.events),
		WithHistoryInvalidator(f.history),
		WithClock(func() time.Time { return fixedNow }),
	)

	t.Cleanup(func() {
		ctx := context.Background()
		_ = f.checkout.Close(ctx)
		_ = f.carts.Close(ctx)
		_ = mem.Close(ctx)
	})
	return f
}

// add puts one of each item id into the cart and waits for every write.
func (f *fixture) add(t *testing.T, userID string, itemIDs ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range itemIDs {
		p, err := f.carts.AddToCart(ctx, userID, id)
		require.NoError(t, err)
		_, err = p.Wait(ctx)
		require.NoError(t, err)
	}
}

// drain waits for fire-and-forget writes and post-commit work.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.checkout.Close(ctx))
	require.NoError(t, f.carts.Close(ctx))
}

func nextNotice(t *testing.T, ch <-chan notice.Notice) notice.Notice {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("no notice delivered")
		return notice.Notice{}
	}
}

// assertNoNotice expects nothing on ch. Failures are published before the
// pending write completes, so a short wait is enough.
func assertNoNotice(t *testing.T, ch <-chan notice.Notice) {
	t.Helper()
	select {
	case n := <-ch:
		t.Fatalf("unexpected notice: %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}
