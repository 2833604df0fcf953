// internal/pkg/lock/keymutex.go
package lock

import (
	"context"
	"sync"
)

// KeyMutex 是 KeyLocker 的进程内实现。
// 每个 key 对应一个容量为 1 的信号量，等待方可以被 ctx 取消。
type KeyMutex struct {
	lock sync.Mutex
	sems map[string]chan struct{}
}

func NewKeyMutex() *KeyMutex {
	return &KeyMutex{sems: make(map[string]chan struct{})}
}

func (m *KeyMutex) sem(key string) chan struct{} {
	m.lock.Lock()
	defer m.lock.Unlock()
	s, ok := m.sems[key]
	if !ok {
		s = make(chan struct{}, 1)
		m.sems[key] = s
	}
	return s
}

func (m *KeyMutex) Acquire(ctx context.Context, key string) (func(), error) {
	s := m.sem(key)
	select {
	case s <- struct{}{}:
		return func() { <-s }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var _ KeyLocker = (*KeyMutex)(nil)
