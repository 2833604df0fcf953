// internal/service/promotion/infrastructure/memory.go
package infrastructure

import (
	"context"
	"sync"

	"flashmart/internal/service/promotion/domain"
)

// MemoryCouponRepository 是 CouponRepository 的进程内实现。
type MemoryCouponRepository struct {
	lock    sync.RWMutex
	coupons map[int64]*domain.Coupon
}

func NewMemoryCouponRepository() *MemoryCouponRepository {
	return &MemoryCouponRepository{coupons: make(map[int64]*domain.Coupon)}
}

func cloneCoupon(c *domain.Coupon) *domain.Coupon {
	cc := *c
	if c.ExhaustedAt != nil {
		at := *c.ExhaustedAt
		cc.ExhaustedAt = &at
	}
	return &cc
}

func (r *MemoryCouponRepository) FindByID(ctx context.Context, id int64) (*domain.Coupon, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	coupon, ok := r.coupons[id]
	if !ok {
		return nil, domain.ErrCouponNotFound
	}
	return cloneCoupon(coupon), nil
}

func (r *MemoryCouponRepository) Save(ctx context.Context, coupon *domain.Coupon) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.coupons[coupon.ID] = cloneCoupon(coupon)
	return nil
}

var _ domain.CouponRepository = (*MemoryCouponRepository)(nil)

// MemoryUserCouponRepository 是 UserCouponRepository 的进程内实现。
type MemoryUserCouponRepository struct {
	lock        sync.RWMutex
	userCoupons map[string]*domain.UserCoupon
}

func NewMemoryUserCouponRepository() *MemoryUserCouponRepository {
	return &MemoryUserCouponRepository{userCoupons: make(map[string]*domain.UserCoupon)}
}

func cloneUserCoupon(uc *domain.UserCoupon) *domain.UserCoupon {
	cc := *uc
	if uc.UsedAt != nil {
		at := *uc.UsedAt
		cc.UsedAt = &at
	}
	return &cc
}

func (r *MemoryUserCouponRepository) FindByID(ctx context.Context, id string) (*domain.UserCoupon, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	userCoupon, ok := r.userCoupons[id]
	if !ok {
		return nil, domain.ErrUserCouponNotFound
	}
	return cloneUserCoupon(userCoupon), nil
}

func (r *MemoryUserCouponRepository) Save(ctx context.Context, userCoupon *domain.UserCoupon) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.userCoupons[userCoupon.ID] = cloneUserCoupon(userCoupon)
	return nil
}

func (r *MemoryUserCouponRepository) CountByCoupon(ctx context.Context, couponID int64) (int, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	count := 0
	for _, uc := range r.userCoupons {
		if uc.CouponID == couponID {
			count++
		}
	}
	return count, nil
}

var _ domain.UserCouponRepository = (*MemoryUserCouponRepository)(nil)
