// internal/service/inventory/infrastructure/memory.go
package infrastructure

import (
	"context"
	"sync"

	"flashmart/internal/service/inventory/domain"
)

// MemoryOptionRepository 是 OptionRepository 的进程内实现。
// 核心引擎不要求真实的关系库（参见取舍说明），测试也用它做夹具。
type MemoryOptionRepository struct {
	lock    sync.RWMutex
	options map[int64]*domain.ProductOption
}

func NewMemoryOptionRepository() *MemoryOptionRepository {
	return &MemoryOptionRepository{options: make(map[int64]*domain.ProductOption)}
}

func clone(o *domain.ProductOption) *domain.ProductOption {
	c := *o
	return &c
}

func (r *MemoryOptionRepository) FindByID(ctx context.Context, id int64) (*domain.ProductOption, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	option, ok := r.options[id]
	if !ok {
		return nil, domain.ErrOptionNotFound
	}
	return clone(option), nil
}

func (r *MemoryOptionRepository) Save(ctx context.Context, option *domain.ProductOption) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.options[option.ID] = clone(option)
	return nil
}

func (r *MemoryOptionRepository) UpdateWithVersion(ctx context.Context, option *domain.ProductOption, expectedVersion int64) (bool, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	current, ok := r.options[option.ID]
	if !ok {
		return false, domain.ErrOptionNotFound
	}
	if current.Version != expectedVersion {
		return false, nil
	}
	r.options[option.ID] = clone(option)
	return true, nil
}

func (r *MemoryOptionRepository) TotalStockByProduct(ctx context.Context, productID int64) (int, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	total := 0
	for _, option := range r.options {
		if option.ProductID == productID {
			total += option.Stock
		}
	}
	return total, nil
}

var _ domain.OptionRepository = (*MemoryOptionRepository)(nil)
