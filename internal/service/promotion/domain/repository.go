// internal/service/promotion/domain/repository.go
package domain

import "context"

// CouponRepository 定义了优惠券模板的持久化接口。
type CouponRepository interface {
	FindByID(ctx context.Context, id int64) (*Coupon, error)
	Save(ctx context.Context, coupon *Coupon) error
}

// UserCouponRepository 定义了用户持有券的持久化接口。
type UserCouponRepository interface {
	FindByID(ctx context.Context, id string) (*UserCoupon, error)
	Save(ctx context.Context, userCoupon *UserCoupon) error
	CountByCoupon(ctx context.Context, couponID int64) (int, error)
}
