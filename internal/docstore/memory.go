package docstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type node struct {
	value   Document
	version int64
}

// KeyGenerator returns a new child key under parent.
type KeyGenerator func(parent string) (string, error)

type MemoryOption func(*MemoryStore)

// WithKeyGenerator replaces the default UUIDv7 key generator.
func WithKeyGenerator(gen KeyGenerator) MemoryOption {
	return func(s *MemoryStore) {
		s.newKey = gen
	}
}

// MemoryStore implements Store with an in-process tree. Only nodes holding a
// value are stored; intermediate nodes exist implicitly through descendants.
type MemoryStore struct {
	mu     sync.RWMutex
	nodes  map[string]*node
	subs   map[*memorySubscription]struct{}
	newKey KeyGenerator
	seq    int64 // last version handed out; versions never repeat
	closed bool

	wg sync.WaitGroup
}

// NewMemoryStore creates an empty in-memory document store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		nodes:  make(map[string]*node),
		subs:   make(map[*memorySubscription]struct{}),
		newKey: uuidKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// uuidKey keys sort by creation time since UUIDv7 leads with a millisecond
// timestamp and a monotonic counter.
func uuidKey(string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return id.String(), nil
}

// Get returns the node at path with its direct children
func (s *MemoryStore) Get(_ context.Context, path string, q Query) (Snapshot, error) {
	if err := ValidatePath(path); err != nil {
		return Snapshot{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Snapshot{}, ErrClosed
	}
	return s.snapshotLocked(path, q), nil
}

func (s *MemoryStore) snapshotLocked(path string, q Query) Snapshot {
	snap := Snapshot{Path: path, Key: KeyOf(path)}
	if n, ok := s.nodes[path]; ok {
		snap.Value = cloneDocument(n.value)
	}

	prefix := path + "/"
	seen := make(map[string]bool)
	for p := range s.nodes {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		key, _, _ := strings.Cut(p[len(prefix):], "/")
		if seen[key] {
			continue
		}
		seen[key] = true

		childPath := prefix + key
		child := Snapshot{Path: childPath, Key: key}
		if n, ok := s.nodes[childPath]; ok {
			child.Value = cloneDocument(n.value)
		}
		snap.Children = append(snap.Children, child)
	}
	sortChildren(snap.Children, q)
	return snap
}

// Set replaces the value at path
func (s *MemoryStore) Set(ctx context.Context, path string, doc Document) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	if doc == nil {
		return s.Delete(ctx, path)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.putLocked(path, cloneDocument(doc))
	s.mu.Unlock()

	s.notify(path)
	return nil
}

// Update merges fields into the value at path, creating it if absent
func (s *MemoryStore) Update(_ context.Context, path string, fields Document) error {
	if err := ValidatePath(path); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	merged := Document{}
	if n, ok := s.nodes[path]; ok {
		merged = cloneDocument(n.value)
	}
	for k, v := range fields {
		merged[k] = cloneValue(v)
	}
	s.putLocked(path, merged)
	s.mu.Unlock()

	s.notify(path)
	return nil
}

// Delete removes the node at path and all of its descendants
func (s *MemoryStore) Delete(_ context.Context, path string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.deleteLocked(path)
	s.mu.Unlock()

	s.notify(path)
	return nil
}

func (s *MemoryStore) putLocked(path string, doc Document) {
	s.seq++
	if n, ok := s.nodes[path]; ok {
		n.value = doc
		n.version = s.seq
		return
	}
	s.nodes[path] = &node{value: doc, version: s.seq}
}

func (s *MemoryStore) deleteLocked(path string) {
	prefix := path + "/"
	for p := range s.nodes {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(s.nodes, p)
		}
	}
}

// NewKey returns a fresh, time-ordered child key under parent
func (s *MemoryStore) NewKey(parent string) (string, error) {
	key, err := s.newKey(parent)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", ErrKeyGeneration
	}
	return key, nil
}

// Transact runs fn against the current value and commits its result only if
// no other write touched the node in between. fn runs outside the lock and may
// be called more than once.
func (s *MemoryStore) Transact(ctx context.Context, path string, fn TransactFunc) (Document, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < MaxTransactAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.mu.RLock()
		if s.closed {
			s.mu.RUnlock()
			return nil, ErrClosed
		}
		var (
			current Document
			version int64
		)
		if n, ok := s.nodes[path]; ok {
			current = cloneDocument(n.value)
			version = n.version
		}
		s.mu.RUnlock()

		next, err := fn(current)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		var now int64
		if n, ok := s.nodes[path]; ok {
			now = n.version
		}
		if now != version {
			s.mu.Unlock()
			continue
		}
		if next == nil {
			s.deleteLocked(path)
		} else {
			s.putLocked(path, cloneDocument(next))
		}
		s.mu.Unlock()

		s.notify(path)
		return cloneDocument(next), nil
	}
	return nil, ErrTooManyRetries
}

// Ping reports whether the store still accepts operations
func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close cancels every live subscription and waits for delivery goroutines
func (s *MemoryStore) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*memorySubscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[*memorySubscription]struct{})
	s.mu.Unlock()

	for _, sub := range subs {
		sub.cancel(ErrClosed)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemoryStore) notify(path string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for sub := range s.subs {
		if related(sub.path, path) {
			sub.markDirty()
		}
	}
}
