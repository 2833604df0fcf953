// internal/service/account/infrastructure/memory.go
package infrastructure

import (
	"context"
	"sync"

	"flashmart/internal/service/account/domain"
)

// MemoryUserRepository 是 UserRepository 的进程内实现。
// Mutate 在仓储锁内执行，保证余额读改写的原子性。
type MemoryUserRepository struct {
	lock  sync.RWMutex
	users map[int64]*domain.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[int64]*domain.User)}
}

func cloneUser(u *domain.User) *domain.User {
	c := *u
	return &c
}

func (r *MemoryUserRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return cloneUser(user), nil
}

func (r *MemoryUserRepository) Save(ctx context.Context, user *domain.User) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.users[user.ID] = cloneUser(user)
	return nil
}

func (r *MemoryUserRepository) Mutate(ctx context.Context, id int64, fn func(user *domain.User) error) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	user, ok := r.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	candidate := cloneUser(user)
	if err := fn(candidate); err != nil {
		return err
	}
	r.users[id] = candidate
	return nil
}

var _ domain.UserRepository = (*MemoryUserRepository)(nil)
