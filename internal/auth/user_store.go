package auth

import (
	"context"
	"sync"
	"time"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// UserStore persists accounts. CreateUser returns ErrEmailTaken for a
// duplicate email; GetUserByEmail returns ErrUserNotFound.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

type MemoryUserStore struct {
	mu      sync.RWMutex
	byEmail map[string]User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{byEmail: make(map[string]User)}
}

func (m *MemoryUserStore) CreateUser(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byEmail[user.Email]; exists {
		return ErrEmailTaken
	}
	m.byEmail[user.Email] = *user
	return nil
}

func (m *MemoryUserStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}
