package docstore

import "sync"

// memorySubscription delivers snapshots from its own goroutine. Writes only
// mark it dirty, so a burst of changes collapses into one re-read.
type memorySubscription struct {
	store    *MemoryStore
	path     string
	query    Query
	onChange func(Snapshot)
	onCancel func(error)

	dirty chan struct{}
	stop  chan struct{}
	once  sync.Once
	err   error
}

// Subscribe delivers the current snapshot at path, then a fresh one after
// changes at or below it. onCancel fires once if the store shuts down.
func (s *MemoryStore) Subscribe(path string, q Query, onChange func(Snapshot), onCancel func(error)) (Subscription, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	sub := &memorySubscription{
		store:    s,
		path:     path,
		query:    q,
		onChange: onChange,
		onCancel: onCancel,
		dirty:    make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.subs[sub] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	sub.markDirty()
	go sub.run()
	return sub, nil
}

func (sub *memorySubscription) run() {
	defer sub.store.wg.Done()

	for {
		select {
		case <-sub.stop:
			if sub.err != nil && sub.onCancel != nil {
				sub.onCancel(sub.err)
			}
			return
		case <-sub.dirty:
		}

		sub.store.mu.RLock()
		closed := sub.store.closed
		var snap Snapshot
		if !closed {
			snap = sub.store.snapshotLocked(sub.path, sub.query)
		}
		sub.store.mu.RUnlock()

		// a stop that raced with the write wins
		select {
		case <-sub.stop:
			if sub.err != nil && sub.onCancel != nil {
				sub.onCancel(sub.err)
			}
			return
		default:
		}
		if !closed && sub.onChange != nil {
			sub.onChange(snap)
		}
	}
}

func (sub *memorySubscription) markDirty() {
	select {
	case sub.dirty <- struct{}{}:
	default:
	}
}

func (sub *memorySubscription) cancel(err error) {
	sub.once.Do(func() {
		sub.err = err
		close(sub.stop)
	})
}

// Close detaches the subscription. No callback fires after Close returns
// except one already in progress.
func (sub *memorySubscription) Close() {
	sub.store.mu.Lock()
	delete(sub.store.subs, sub)
	sub.store.mu.Unlock()
	sub.cancel(nil)
}
