// internal/service/order/domain/repository.go
package domain

import (
	"context"

	outboxdomain "flashmart/internal/service/outbox/domain"
)

// OrderRepository 定义了订单聚合的持久化接口。
type OrderRepository interface {
	Save(ctx context.Context, order *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	FindByUser(ctx context.Context, userID int64) ([]*Order, error)
}

// FailedCompensationRepository 定义了补偿死信的持久化接口。
type FailedCompensationRepository interface {
	Save(ctx context.Context, failed *FailedCompensation) error
	ListUnresolved(ctx context.Context) ([]*FailedCompensation, error)
}

// UnitOfWork 是一个显式的原子工作单元。
// 订单行和 outbox 行必须落在同一个单元里（事务性 outbox 模式）。
// AfterCommit 注册的回调只在提交成功之后按注册顺序执行，
// 用于发布事件等不允许影响已提交结果的副作用。
type UnitOfWork interface {
	Orders() OrderRepository
	Outbox() outboxdomain.Repository
	AfterCommit(fn func())
}

// TxManager 执行一个工作单元：fn 返回错误则整体回滚，
// 成功则整体提交并触发 AfterCommit 回调。
type TxManager interface {
	Do(ctx context.Context, fn func(uow UnitOfWork) error) error
}
