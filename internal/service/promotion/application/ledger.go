// internal/service/promotion/application/ledger.go
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"flashmart/internal/pkg/lock"
	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/metrics"
	"flashmart/internal/service/promotion/domain"
)

// CouponLedger 是优惠券台账。
//
// 发放走悲观串行：每个券 ID 一把锁，同一张券同一时刻只有一次发放在进行。
// "先到先得、绝不超发第 N 张" 的业务承诺在秒杀尖峰下用完全串行来保证，
// 比乐观重试风暴便宜得多。库存那边相反（读写比高，乐观版本检查更合适），
// 两种并发策略的取舍见各自的台账实现。
type CouponLedger struct {
	coupons     domain.CouponRepository
	userCoupons domain.UserCouponRepository
	locks       lock.KeyLocker
	rules       domain.RuleEngine
	tracer      trace.Tracer
}

func NewCouponLedger(
	coupons domain.CouponRepository,
	userCoupons domain.UserCouponRepository,
	locks lock.KeyLocker,
	rules domain.RuleEngine,
	tracer trace.Tracer,
) *CouponLedger {
	return &CouponLedger{
		coupons:     coupons,
		userCoupons: userCoupons,
		locks:       locks,
		rules:       rules,
		tracer:      tracer,
	}
}

func couponLockKey(couponID int64) string {
	return fmt.Sprintf("coupon:%d", couponID)
}

// IssueNext 为用户发放一张券。整个校验-扣减-建券过程持有该券的串行锁。
func (l *CouponLedger) IssueNext(ctx context.Context, couponID, userID int64) (*domain.UserCoupon, error) {
	ctx, span := l.tracer.Start(ctx, "promotion.IssueNext")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("coupon.id", couponID),
		attribute.Int64("user.id", userID),
	)

	release, err := l.locks.Acquire(ctx, couponLockKey(couponID))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to acquire coupon lock: %w", err)
	}
	defer release()

	coupon, err := l.coupons.FindByID(ctx, couponID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	now := time.Now()
	if err := coupon.TakeOne(now); err != nil {
		span.SetStatus(codes.Error, "coupon not issuable")
		return nil, err
	}

	userCoupon := &domain.UserCoupon{
		ID:       uuid.New().String(),
		UserID:   userID,
		CouponID: couponID,
		Status:   domain.StatusUnused,
		IssuedAt: now,
	}

	if err := l.coupons.Save(ctx, coupon); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to save coupon quota: %w", err)
	}
	if err := l.userCoupons.Save(ctx, userCoupon); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to save user coupon: %w", err)
	}

	metrics.CouponsIssued.Inc()
	logger.Ctx(ctx).Info().
		Int64("coupon_id", couponID).
		Int64("user_id", userID).
		Int("remaining", coupon.RemainingQty).
		Msg("coupon issued")
	span.AddEvent("coupon issued")
	return userCoupon, nil
}

// PeekDiscount 在不做任何变更的前提下，返回这张券应用到小计上的折扣。
// 下单校验阶段用它提前算出应付金额；真正的状态流转发生在 Consume。
func (l *CouponLedger) PeekDiscount(ctx context.Context, userCouponID string, subtotal int64) (int64, error) {
	userCoupon, err := l.userCoupons.FindByID(ctx, userCouponID)
	if err != nil {
		return 0, err
	}
	if userCoupon.Status != domain.StatusUnused {
		return 0, domain.ErrCouponAlreadyUsed
	}
	coupon, err := l.coupons.FindByID(ctx, userCoupon.CouponID)
	if err != nil {
		return 0, err
	}
	if !coupon.WindowContains(time.Now()) {
		return 0, domain.ErrCouponUnavailable
	}
	return coupon.Discount(subtotal), nil
}

// Consume 核销一张券：UNUSED -> USED。
// 核销前先求值券上的适用规则（如有），不满足返回 ErrCouponNotEligible。
// 状态流转和发放 / 回滚共用同一把串行锁：锁外读到的快照只用来定位锁键，
// UNUSED 判定必须在锁内重读后进行，否则并发核销会让一张券抵两单。
func (l *CouponLedger) Consume(ctx context.Context, userCouponID, orderID string, fact domain.Fact) error {
	ctx, span := l.tracer.Start(ctx, "promotion.Consume")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_coupon.id", userCouponID),
		attribute.String("order.id", orderID),
	)

	snapshot, err := l.userCoupons.FindByID(ctx, userCouponID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	release, err := l.locks.Acquire(ctx, couponLockKey(snapshot.CouponID))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to acquire coupon lock: %w", err)
	}
	defer release()

	userCoupon, err := l.userCoupons.FindByID(ctx, userCouponID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	coupon, err := l.coupons.FindByID(ctx, userCoupon.CouponID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if coupon.EligibilityRule != "" {
		ok, err := l.rules.Evaluate(coupon.EligibilityRule, fact)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to evaluate coupon rule: %w", err)
		}
		if !ok {
			span.SetStatus(codes.Error, "rule rejected")
			return domain.ErrCouponNotEligible
		}
	}

	if err := userCoupon.MarkUsed(orderID, time.Now()); err != nil {
		span.SetStatus(codes.Error, "not consumable")
		return err
	}
	if err := l.userCoupons.Save(ctx, userCoupon); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save user coupon: %w", err)
	}

	span.AddEvent("coupon consumed")
	return nil
}

// Restore 回滚核销：USED -> UNUSED，并把配额还给模板。
// 配额变更和发放共用同一把串行锁，避免和正在进行的发放互相踩踏。
func (l *CouponLedger) Restore(ctx context.Context, userCouponID string) error {
	ctx, span := l.tracer.Start(ctx, "promotion.Restore")
	defer span.End()
	span.SetAttributes(attribute.String("user_coupon.id", userCouponID))

	snapshot, err := l.userCoupons.FindByID(ctx, userCouponID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	release, err := l.locks.Acquire(ctx, couponLockKey(snapshot.CouponID))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to acquire coupon lock: %w", err)
	}
	defer release()

	// 锁内重读，和 Consume 对称：USED 判定不能基于锁外快照
	userCoupon, err := l.userCoupons.FindByID(ctx, userCouponID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := userCoupon.MarkUnused(); err != nil {
		span.SetStatus(codes.Error, "not restorable")
		return err
	}

	coupon, err := l.coupons.FindByID(ctx, userCoupon.CouponID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	coupon.ReturnOne(time.Now())

	if err := l.userCoupons.Save(ctx, userCoupon); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save user coupon: %w", err)
	}
	if err := l.coupons.Save(ctx, coupon); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save coupon quota: %w", err)
	}

	span.AddEvent("coupon restored")
	return nil
}
