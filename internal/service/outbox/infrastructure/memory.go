// internal/service/outbox/infrastructure/memory.go
package infrastructure

import (
	"context"
	"sort"
	"sync"

	"flashmart/internal/service/outbox/domain"
)

// MemoryOutboxRepository 是 Repository 的进程内实现。
type MemoryOutboxRepository struct {
	lock    sync.RWMutex
	entries map[string]*domain.Entry
}

func NewMemoryOutboxRepository() *MemoryOutboxRepository {
	return &MemoryOutboxRepository{entries: make(map[string]*domain.Entry)}
}

func cloneEntry(e *domain.Entry) *domain.Entry {
	c := *e
	if e.LastAttempt != nil {
		at := *e.LastAttempt
		c.LastAttempt = &at
	}
	if e.SentAt != nil {
		at := *e.SentAt
		c.SentAt = &at
	}
	c.Payload = append([]byte(nil), e.Payload...)
	return &c
}

func (r *MemoryOutboxRepository) Append(ctx context.Context, entry *domain.Entry) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.entries[entry.MessageID] = cloneEntry(entry)
	return nil
}

func (r *MemoryOutboxRepository) FetchDeliverable(ctx context.Context, limit, maxRetries int) ([]*domain.Entry, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	var out []*domain.Entry
	for _, e := range r.entries {
		if e.Status == domain.StatusSent {
			continue
		}
		if e.Status == domain.StatusFailed && e.RetryCount >= maxRetries {
			continue
		}
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryOutboxRepository) Update(ctx context.Context, entry *domain.Entry) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.entries[entry.MessageID]; !ok {
		return domain.ErrEntryNotFound
	}
	r.entries[entry.MessageID] = cloneEntry(entry)
	return nil
}

func (r *MemoryOutboxRepository) FindByOrder(ctx context.Context, orderID string) ([]*domain.Entry, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	var out []*domain.Entry
	for _, e := range r.entries {
		if e.OrderID == orderID {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var _ domain.Repository = (*MemoryOutboxRepository)(nil)
