// internal/service/account/application/ledger.go
package application

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"flashmart/internal/service/account/domain"
)

// BalanceLedger 是用户余额台账。
// 变更通过仓储的 Mutate 串行执行，余额不变量（≥0）由聚合自身守护。
type BalanceLedger struct {
	users  domain.UserRepository
	tracer trace.Tracer
}

func NewBalanceLedger(users domain.UserRepository, tracer trace.Tracer) *BalanceLedger {
	return &BalanceLedger{users: users, tracer: tracer}
}

// Balance 读取当前余额。
func (l *BalanceLedger) Balance(ctx context.Context, userID int64) (int64, error) {
	user, err := l.users.FindByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.Balance, nil
}

// Debit 扣减余额。余额不足返回 ErrInsufficientBalance，
// 非正金额返回 ErrInvalidAmount，两者都不产生任何变更。
func (l *BalanceLedger) Debit(ctx context.Context, userID, amount int64) error {
	ctx, span := l.tracer.Start(ctx, "account.Debit")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("user.id", userID),
		attribute.Int64("amount", amount),
	)

	err := l.users.Mutate(ctx, userID, func(user *domain.User) error {
		return user.Debit(amount)
	})
	if err != nil {
		span.SetStatus(codes.Error, "debit rejected")
		span.RecordError(err)
	}
	return err
}

// Credit 增加余额（退款 / 补偿）。非正金额返回 ErrInvalidAmount。
func (l *BalanceLedger) Credit(ctx context.Context, userID, amount int64) error {
	ctx, span := l.tracer.Start(ctx, "account.Credit")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("user.id", userID),
		attribute.Int64("amount", amount),
	)

	err := l.users.Mutate(ctx, userID, func(user *domain.User) error {
		return user.Credit(amount)
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}
