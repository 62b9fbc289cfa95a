package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreSuite checks behaviour every Store implementation must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("GetAbsent", func(t *testing.T) {
		s := newStore(t)
		snap, err := s.Get(context.Background(), "carts/nobody", Query{})
		require.NoError(t, err)
		assert.False(t, snap.Exists())
		assert.Empty(t, snap.Children)
	})

	t.Run("SetGetChildren", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "carts/u1/HRD002", Document{"quantity": 1}))
		require.NoError(t, s.Set(ctx, "carts/u1/HRD001", Document{"quantity": 3}))

		snap, err := s.Get(ctx, "carts/u1", Query{})
		require.NoError(t, err)
		require.True(t, snap.Exists())
		require.Len(t, snap.Children, 2)
		assert.Equal(t, "HRD001", snap.Children[0].Key)
		assert.Equal(t, "carts/u1/HRD001", snap.Children[0].Path)
		assert.EqualValues(t, 3, snap.Children[0].Value["quantity"])
	})

	t.Run("OrderByChild", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "orders/u1/a", Document{"created_at": 300}))
		require.NoError(t, s.Set(ctx, "orders/u1/b", Document{"created_at": 100}))
		require.NoError(t, s.Set(ctx, "orders/u1/c", Document{"created_at": 200}))

		snap, err := s.Get(ctx, "orders/u1", Query{OrderByChild: "created_at"})
		require.NoError(t, err)
		keys := make([]string, 0, len(snap.Children))
		for _, c := range snap.Children {
			keys = append(keys, c.Key)
		}
		assert.Equal(t, []string{"b", "c", "a"}, keys)
	})

	t.Run("UpdateMergesAndCreates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "carts/u1/HRD001", Document{
			"item":     map[string]any{"id": "HRD001", "price": 28000},
			"quantity": 1,
		}))
		require.NoError(t, s.Update(ctx, "carts/u1/HRD001", Document{"quantity": 4}))
		require.NoError(t, s.Update(ctx, "carts/u1/HRD009", Document{"quantity": 2}))

		snap, err := s.Get(ctx, "carts/u1/HRD001", Query{})
		require.NoError(t, err)
		assert.EqualValues(t, 4, snap.Value["quantity"])
		item, ok := snap.Value["item"].(map[string]any)
		require.True(t, ok, "item should stay a nested document, got %T", snap.Value["item"])
		assert.EqualValues(t, 28000, item["price"])

		created, err := s.Get(ctx, "carts/u1/HRD009", Query{})
		require.NoError(t, err)
		assert.EqualValues(t, 2, created.Value["quantity"])
	})

	t.Run("DeleteSubtree", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "carts/u1/HRD001", Document{"quantity": 1}))
		require.NoError(t, s.Set(ctx, "carts/u1/HRD002", Document{"quantity": 1}))
		require.NoError(t, s.Set(ctx, "carts/u10/HRD001", Document{"quantity": 1}))

		require.NoError(t, s.Delete(ctx, "carts/u1"))

		snap, err := s.Get(ctx, "carts/u1", Query{})
		require.NoError(t, err)
		assert.False(t, snap.Exists())

		other, err := s.Get(ctx, "carts/u10", Query{})
		require.NoError(t, err)
		assert.Len(t, other.Children, 1)
	})

	t.Run("NewKeyUniqueAndOrdered", func(t *testing.T) {
		s := newStore(t)
		prev := ""
		for i := 0; i < 50; i++ {
			key, err := s.NewKey("orders/u1")
			require.NoError(t, err)
			require.NotEmpty(t, key)
			assert.Greater(t, key, prev)
			prev = key
		}
	})

	t.Run("TransactCreateUpdateDelete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		path := "carts/u1/HRD001"

		got, err := s.Transact(ctx, path, func(cur Document) (Document, error) {
			assert.Nil(t, cur)
			return Document{"quantity": 1}, nil
		})
		require.NoError(t, err)
		assert.EqualValues(t, 1, got["quantity"])

		_, err = s.Transact(ctx, path, func(cur Document) (Document, error) {
			return Document{"quantity": toFloat(cur["quantity"]) + 1}, nil
		})
		require.NoError(t, err)

		snap, err := s.Get(ctx, path, Query{})
		require.NoError(t, err)
		assert.EqualValues(t, 2, snap.Value["quantity"])

		_, err = s.Transact(ctx, path, func(Document) (Document, error) { return nil, nil })
		require.NoError(t, err)
		snap, err = s.Get(ctx, path, Query{})
		require.NoError(t, err)
		assert.False(t, snap.Exists())
	})

	t.Run("TransactAbort", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "orders/u1/o1", Document{"total_price": 10}))

		_, err := s.Transact(ctx, "orders/u1/o1", func(cur Document) (Document, error) {
			if cur != nil {
				return nil, ErrAbort
			}
			return Document{"total_price": 99}, nil
		})
		assert.ErrorIs(t, err, ErrAbort)

		snap, err := s.Get(ctx, "orders/u1/o1", Query{})
		require.NoError(t, err)
		assert.EqualValues(t, 10, snap.Value["total_price"])
	})

	t.Run("TransactConcurrentIncrements", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		const workers = 10

		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Transact(ctx, "counters/c", func(cur Document) (Document, error) {
					return Document{"n": toFloat(cur["n"]) + 1}, nil
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		snap, err := s.Get(ctx, "counters/c", Query{})
		require.NoError(t, err)
		assert.EqualValues(t, workers, snap.Value["n"])
	})

	t.Run("SubscribeDeliversInitialAndChanges", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "carts/u1/HRD001", Document{"quantity": 1}))

		var (
			mu   sync.Mutex
			last Snapshot
			hits int
		)
		sub, err := s.Subscribe("carts/u1", Query{}, func(snap Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			last = snap
			hits++
		}, nil)
		require.NoError(t, err)
		defer sub.Close()

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return hits >= 1 && len(last.Children) == 1
		}, 5*time.Second, 10*time.Millisecond)

		require.NoError(t, s.Set(ctx, "carts/u1/HRD005", Document{"quantity": 2}))
		require.NoError(t, s.Update(ctx, "carts/u1/HRD001", Document{"quantity": 7}))

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			if len(last.Children) != 2 {
				return false
			}
			return toFloat(last.Children[0].Value["quantity"]) == 7
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("SubscribeIgnoresSiblings", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var (
			mu   sync.Mutex
			seen []Snapshot
		)
		sub, err := s.Subscribe("carts/u1", Query{}, func(snap Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, snap)
		}, nil)
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, s.Set(ctx, "carts/u2/HRD001", Document{"quantity": 1}))
		require.NoError(t, s.Set(ctx, "carts/u1/HRD001", Document{"quantity": 1}))

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(seen) > 0 && len(seen[len(seen)-1].Children) == 1
		}, 5*time.Second, 10*time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		for _, snap := range seen {
			for _, c := range snap.Children {
				assert.Equal(t, "carts/u1/HRD001", c.Path)
			}
		}
	})

	t.Run("InvalidPath", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, p := range []string{"", "carts//x", "carts/a.b", "carts/$x"} {
			err := s.Set(ctx, p, Document{"x": 1})
			assert.True(t, errors.Is(err, ErrInvalidPath), "path %q", p)
		}
	})
}
