package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"flashmart/internal/pkg/lock"
	"flashmart/internal/service/promotion/domain"
	"flashmart/internal/service/promotion/infrastructure"
	"flashmart/internal/service/promotion/infrastructure/rule"
)

type fixture struct {
	ledger      *CouponLedger
	coupons     *infrastructure.MemoryCouponRepository
	userCoupons *infrastructure.MemoryUserCouponRepository
}

func newFixture(t *testing.T, coupons ...*domain.Coupon) *fixture {
	t.Helper()
	couponRepo := infrastructure.NewMemoryCouponRepository()
	userCouponRepo := infrastructure.NewMemoryUserCouponRepository()
	for _, c := range coupons {
		require.NoError(t, couponRepo.Save(context.Background(), c))
	}
	rules, err := rule.NewCELRuleEngineAdapter()
	require.NoError(t, err)
	return &fixture{
		ledger:      NewCouponLedger(couponRepo, userCouponRepo, lock.NewKeyMutex(), rules, otel.Tracer("test")),
		coupons:     couponRepo,
		userCoupons: userCouponRepo,
	}
}

func activeCoupon(id int64, remaining int) *domain.Coupon {
	return &domain.Coupon{
		ID:            id,
		Name:          "test coupon",
		DiscountType:  domain.DiscountFixedAmount,
		DiscountValue: 500,
		RemainingQty:  remaining,
		TotalQty:      remaining,
		ValidFrom:     time.Now().Add(-time.Hour),
		ValidUntil:    time.Now().Add(time.Hour),
		IsActive:      true,
	}
}

func TestIssueNext(t *testing.T) {
	ctx := context.Background()

	t.Run("issues and decrements quota", func(t *testing.T) {
		f := newFixture(t, activeCoupon(1, 3))

		userCoupon, err := f.ledger.IssueNext(ctx, 1, 100)
		require.NoError(t, err)
		assert.NotEmpty(t, userCoupon.ID)
		assert.Equal(t, domain.StatusUnused, userCoupon.Status)

		coupon, err := f.coupons.FindByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, coupon.RemainingQty)
		assert.True(t, coupon.IsActive)
	})

	t.Run("exhausting quota deactivates", func(t *testing.T) {
		f := newFixture(t, activeCoupon(1, 1))

		_, err := f.ledger.IssueNext(ctx, 1, 100)
		require.NoError(t, err)

		coupon, err := f.coupons.FindByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 0, coupon.RemainingQty)
		assert.False(t, coupon.IsActive)
		assert.NotNil(t, coupon.ExhaustedAt)

		_, err = f.ledger.IssueNext(ctx, 1, 101)
		assert.ErrorIs(t, err, domain.ErrCouponUnavailable)
	})

	t.Run("expired window", func(t *testing.T) {
		expired := activeCoupon(1, 5)
		expired.ValidUntil = time.Now().Add(-time.Minute)
		f := newFixture(t, expired)

		_, err := f.ledger.IssueNext(ctx, 1, 100)
		assert.ErrorIs(t, err, domain.ErrCouponUnavailable)
	})

	t.Run("unknown coupon", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.ledger.IssueNext(ctx, 9, 100)
		assert.ErrorIs(t, err, domain.ErrCouponNotFound)
	})
}

func TestIssueNextLastCouponRace(t *testing.T) {
	// 剩最后一张时两个用户同时领取：恰好一人领到，绝不超发。
	ctx := context.Background()
	f := newFixture(t, activeCoupon(1, 1))

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.ledger.IssueNext(ctx, 1, int64(100+i))
		}(i)
	}
	wg.Wait()

	successes, unavailable := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case assert.ErrorIs(t, err, domain.ErrCouponUnavailable):
			unavailable++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, unavailable)

	coupon, err := f.coupons.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, coupon.RemainingQty)
	assert.False(t, coupon.IsActive)
}

func TestPeekDiscount(t *testing.T) {
	ctx := context.Background()

	t.Run("fixed amount capped at subtotal", func(t *testing.T) {
		f := newFixture(t, activeCoupon(1, 3))
		userCoupon, err := f.ledger.IssueNext(ctx, 1, 100)
		require.NoError(t, err)

		discount, err := f.ledger.PeekDiscount(ctx, userCoupon.ID, 300)
		require.NoError(t, err)
		assert.Equal(t, int64(300), discount, "discount never exceeds subtotal")

		discount, err = f.ledger.PeekDiscount(ctx, userCoupon.ID, 2000)
		require.NoError(t, err)
		assert.Equal(t, int64(500), discount)
	})

	t.Run("percentage", func(t *testing.T) {
		coupon := activeCoupon(1, 3)
		coupon.DiscountType = domain.DiscountPercentage
		coupon.DiscountValue = 10
		f := newFixture(t, coupon)
		userCoupon, err := f.ledger.IssueNext(ctx, 1, 100)
		require.NoError(t, err)

		discount, err := f.ledger.PeekDiscount(ctx, userCoupon.ID, 2000)
		require.NoError(t, err)
		assert.Equal(t, int64(200), discount)
	})

	t.Run("used coupon is rejected", func(t *testing.T) {
		f := newFixture(t, activeCoupon(1, 3))
		userCoupon, err := f.ledger.IssueNext(ctx, 1, 100)
		require.NoError(t, err)
		require.NoError(t, f.ledger.Consume(ctx, userCoupon.ID, "order-1", domain.Fact{UserID: 100}))

		_, err = f.ledger.PeekDiscount(ctx, userCoupon.ID, 2000)
		assert.ErrorIs(t, err, domain.ErrCouponAlreadyUsed)
	})
}

func TestConsumeAndRestore(t *testing.T) {
	ctx := context.Background()

	t.Run("consume marks used", func(t *testing.T) {
		f := newFixture(t, activeCoupon(1, 1))
		userCoupon, err := f.ledger.IssueNext(ctx, 1, 100)
		require.NoError(t, err)

		require.NoError(t, f.ledger.Consume(ctx, userCoupon.ID, "order-1", domain.Fact{UserID: 100, Subtotal: 1000}))

		stored, err := f.userCoupons.FindByID(ctx, userCoupon.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusUsed, stored.Status)
		assert.Equal(t, "order-1", stored.OrderID)

		assert.ErrorIs(t, f.ledger.Consume(ctx, userCoupon.ID, "order-2", domain.Fact{UserID: 100}),
			domain.ErrCouponAlreadyUsed)
	})

	t.Run("restore returns quota and reopens exhausted coupon", func(t *testing.T) {
		f := newFixture(t, activeCoupon(1, 1))
		userCoupon, err := f.ledger.IssueNext(ctx, 1, 100)
		require.NoError(t, err)
		require.NoError(t, f.ledger.Consume(ctx, userCoupon.ID, "order-1", domain.Fact{UserID: 100}))

		require.NoError(t, f.ledger.Restore(ctx, userCoupon.ID))

		stored, err := f.userCoupons.FindByID(ctx, userCoupon.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusUnused, stored.Status)
		assert.Empty(t, stored.OrderID)

		coupon, err := f.coupons.FindByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, coupon.RemainingQty)
		assert.True(t, coupon.IsActive, "exhaustion-caused deactivation is undone by restore")
		assert.Nil(t, coupon.ExhaustedAt)
	})

	t.Run("restore does not reopen operator-deactivated coupon", func(t *testing.T) {
		f := newFixture(t, activeCoupon(1, 5))
		userCoupon, err := f.ledger.IssueNext(ctx, 1, 100)
		require.NoError(t, err)
		require.NoError(t, f.ledger.Consume(ctx, userCoupon.ID, "order-1", domain.Fact{UserID: 100}))

		coupon, err := f.coupons.FindByID(ctx, 1)
		require.NoError(t, err)
		coupon.Deactivate()
		require.NoError(t, f.coupons.Save(ctx, coupon))

		require.NoError(t, f.ledger.Restore(ctx, userCoupon.ID))

		coupon, err = f.coupons.FindByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 5, coupon.RemainingQty)
		assert.False(t, coupon.IsActive, "manual deactivation sticks")
	})

	t.Run("restore of unused coupon fails", func(t *testing.T) {
		f := newFixture(t, activeCoupon(1, 3))
		userCoupon, err := f.ledger.IssueNext(ctx, 1, 100)
		require.NoError(t, err)

		assert.ErrorIs(t, f.ledger.Restore(ctx, userCoupon.ID), domain.ErrCouponNotUsed)
	})
}

func TestConsumeSameCouponRace(t *testing.T) {
	// 多个订单同时核销同一张券：恰好一单核销成功，其余拿到 AlreadyUsed。
	ctx := context.Background()
	f := newFixture(t, activeCoupon(1, 1))

	userCoupon, err := f.ledger.IssueNext(ctx, 1, 100)
	require.NoError(t, err)

	const consumers = 8
	errs := make([]error, consumers)
	var wg sync.WaitGroup
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.ledger.Consume(ctx, userCoupon.ID, fmt.Sprintf("order-%d", i), domain.Fact{UserID: 100})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrCouponAlreadyUsed)
	}
	assert.Equal(t, 1, successes, "a coupon discounts exactly one order")

	stored, err := f.userCoupons.FindByID(ctx, userCoupon.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUsed, stored.Status)
	assert.NotEmpty(t, stored.OrderID)
}

func TestConsumeEligibilityRule(t *testing.T) {
	ctx := context.Background()

	coupon := activeCoupon(1, 3)
	coupon.EligibilityRule = "subtotal >= 1000 && item_count >= 2"
	f := newFixture(t, coupon)

	userCoupon, err := f.ledger.IssueNext(ctx, 1, 100)
	require.NoError(t, err)

	err = f.ledger.Consume(ctx, userCoupon.ID, "order-1", domain.Fact{UserID: 100, Subtotal: 500, ItemCount: 3})
	assert.ErrorIs(t, err, domain.ErrCouponNotEligible)

	stored, err := f.userCoupons.FindByID(ctx, userCoupon.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnused, stored.Status, "rejected consumption leaves coupon untouched")

	require.NoError(t, f.ledger.Consume(ctx, userCoupon.ID, "order-1", domain.Fact{UserID: 100, Subtotal: 1500, ItemCount: 2}))
}
