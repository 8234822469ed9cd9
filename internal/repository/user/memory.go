package user

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Additional-Code/pharmadesk/internal/entity"
)

// MemoryRepository keeps accounts in process, keyed by username.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]entity.User
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]entity.User)}
}

func (m *MemoryRepository) FindByUsername(ctx context.Context, username string) (*entity.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *MemoryRepository) Insert(ctx context.Context, u *entity.User) error {
	if u == nil {
		return errors.New("nil user")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[u.Username]; exists {
		return fmt.Errorf("username %q already taken", u.Username)
	}
	if u.ID == "" {
		u.ID = primitive.NewObjectID().Hex()
	}
	m.users[u.Username] = *u
	return nil
}
