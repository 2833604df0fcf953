// internal/service/order/infrastructure/memory.go
package infrastructure

import (
	"context"
	"sort"
	"sync"

	"flashmart/internal/service/order/domain"
	outboxdomain "flashmart/internal/service/outbox/domain"
)

// MemoryOrderRepository 是 OrderRepository 的进程内实现。
type MemoryOrderRepository struct {
	lock   sync.RWMutex
	orders map[string]*domain.Order
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[string]*domain.Order)}
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = append([]domain.OrderItem(nil), o.Items...)
	return &c
}

func (r *MemoryOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if existing, ok := r.orders[order.ID]; ok && existing.Status == domain.StatusCompleted && order.Status == domain.StatusCompleted {
		return domain.ErrDuplicateOrder
	}
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *MemoryOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (r *MemoryOrderRepository) FindByUser(ctx context.Context, userID int64) ([]*domain.Order, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	var out []*domain.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var _ domain.OrderRepository = (*MemoryOrderRepository)(nil)

// MemoryFailedCompensationRepository 是补偿死信的进程内实现。
type MemoryFailedCompensationRepository struct {
	lock   sync.RWMutex
	failed map[string]*domain.FailedCompensation
}

func NewMemoryFailedCompensationRepository() *MemoryFailedCompensationRepository {
	return &MemoryFailedCompensationRepository{failed: make(map[string]*domain.FailedCompensation)}
}

func (r *MemoryFailedCompensationRepository) Save(ctx context.Context, failed *domain.FailedCompensation) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	c := *failed
	r.failed[failed.ID] = &c
	return nil
}

func (r *MemoryFailedCompensationRepository) ListUnresolved(ctx context.Context) ([]*domain.FailedCompensation, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	var out []*domain.FailedCompensation
	for _, f := range r.failed {
		if f.Status == domain.CompensationPending {
			c := *f
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var _ domain.FailedCompensationRepository = (*MemoryFailedCompensationRepository)(nil)

// MemoryTxManager 在进程内模拟原子工作单元：
// 工作单元全程持有全局互斥锁，fn 成功才把暂存的写操作一次性应用，
// 失败则什么都不落。AfterCommit 回调在锁释放之后执行。
type MemoryTxManager struct {
	lock   sync.Mutex
	orders *MemoryOrderRepository
	outbox outboxdomain.Repository
}

func NewMemoryTxManager(orders *MemoryOrderRepository, outbox outboxdomain.Repository) *MemoryTxManager {
	return &MemoryTxManager{orders: orders, outbox: outbox}
}

type memoryUnitOfWork struct {
	tx     *MemoryTxManager
	ops    []func() error
	hooks  []func()
	orders *stagedOrderRepo
	outbox *stagedOutboxRepo
}

func (u *memoryUnitOfWork) Orders() domain.OrderRepository  { return u.orders }
func (u *memoryUnitOfWork) Outbox() outboxdomain.Repository { return u.outbox }
func (u *memoryUnitOfWork) AfterCommit(fn func())           { u.hooks = append(u.hooks, fn) }

// stagedOrderRepo 把写操作暂存为闭包，读操作直接穿透。
type stagedOrderRepo struct {
	uow *memoryUnitOfWork
}

func (r *stagedOrderRepo) Save(ctx context.Context, order *domain.Order) error {
	staged := cloneOrder(order)
	r.uow.ops = append(r.uow.ops, func() error {
		return r.uow.tx.orders.Save(ctx, staged)
	})
	return nil
}

func (r *stagedOrderRepo) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.uow.tx.orders.FindByID(ctx, id)
}

func (r *stagedOrderRepo) FindByUser(ctx context.Context, userID int64) ([]*domain.Order, error) {
	return r.uow.tx.orders.FindByUser(ctx, userID)
}

type stagedOutboxRepo struct {
	uow *memoryUnitOfWork
}

func (r *stagedOutboxRepo) Append(ctx context.Context, entry *outboxdomain.Entry) error {
	staged := *entry
	staged.Payload = append([]byte(nil), entry.Payload...)
	r.uow.ops = append(r.uow.ops, func() error {
		return r.uow.tx.outbox.Append(ctx, &staged)
	})
	return nil
}

func (r *stagedOutboxRepo) FetchDeliverable(ctx context.Context, limit, maxRetries int) ([]*outboxdomain.Entry, error) {
	return r.uow.tx.outbox.FetchDeliverable(ctx, limit, maxRetries)
}

func (r *stagedOutboxRepo) Update(ctx context.Context, entry *outboxdomain.Entry) error {
	return r.uow.tx.outbox.Update(ctx, entry)
}

func (r *stagedOutboxRepo) FindByOrder(ctx context.Context, orderID string) ([]*outboxdomain.Entry, error) {
	return r.uow.tx.outbox.FindByOrder(ctx, orderID)
}

// Do 执行一个工作单元。暂存的写操作在 fn 成功返回后统一应用；
// 应用阶段任何一步失败都让整个单元失败，已应用的部分不回滚 ——
// 进程内实现的写入（map 赋值）不会失败，这个分支只防御编程错误。
func (m *MemoryTxManager) Do(ctx context.Context, fn func(uow domain.UnitOfWork) error) error {
	m.lock.Lock()

	uow := &memoryUnitOfWork{tx: m}
	uow.orders = &stagedOrderRepo{uow: uow}
	uow.outbox = &stagedOutboxRepo{uow: uow}

	if err := fn(uow); err != nil {
		m.lock.Unlock()
		return err
	}
	for _, op := range uow.ops {
		if err := op(); err != nil {
			m.lock.Unlock()
			return err
		}
	}
	m.lock.Unlock()

	for _, hook := range uow.hooks {
		hook()
	}
	return nil
}

var _ domain.TxManager = (*MemoryTxManager)(nil)
