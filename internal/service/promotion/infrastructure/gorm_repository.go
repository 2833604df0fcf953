// internal/service/promotion/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"

	"flashmart/internal/service/promotion/domain"
)

// GormCouponRepository 是 CouponRepository 的 GORM 实现。
type GormCouponRepository struct {
	db *gorm.DB
}

func NewGormCouponRepository(db *gorm.DB) *GormCouponRepository {
	return &GormCouponRepository{db: db}
}

func (r *GormCouponRepository) FindByID(ctx context.Context, id int64) (*domain.Coupon, error) {
	var model CouponModel
	err := r.db.WithContext(ctx).First(&model, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCouponNotFound
		}
		return nil, pkgerrors.Wrap(err, "find coupon")
	}
	return toDomainCoupon(&model), nil
}

func (r *GormCouponRepository) Save(ctx context.Context, coupon *domain.Coupon) error {
	err := r.db.WithContext(ctx).Save(toCouponModel(coupon)).Error
	return pkgerrors.Wrap(err, "save coupon")
}

var _ domain.CouponRepository = (*GormCouponRepository)(nil)

// GormUserCouponRepository 是 UserCouponRepository 的 GORM 实现。
type GormUserCouponRepository struct {
	db *gorm.DB
}

func NewGormUserCouponRepository(db *gorm.DB) *GormUserCouponRepository {
	return &GormUserCouponRepository{db: db}
}

func (r *GormUserCouponRepository) FindByID(ctx context.Context, id string) (*domain.UserCoupon, error) {
	var model UserCouponModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserCouponNotFound
		}
		return nil, pkgerrors.Wrap(err, "find user coupon")
	}
	return toDomainUserCoupon(&model), nil
}

func (r *GormUserCouponRepository) Save(ctx context.Context, userCoupon *domain.UserCoupon) error {
	err := r.db.WithContext(ctx).Save(toUserCouponModel(userCoupon)).Error
	return pkgerrors.Wrap(err, "save user coupon")
}

func (r *GormUserCouponRepository) CountByCoupon(ctx context.Context, couponID int64) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&UserCouponModel{}).
		Where("coupon_id = ?", couponID).
		Count(&count).Error
	if err != nil {
		return 0, pkgerrors.Wrap(err, "count user coupons")
	}
	return int(count), nil
}

var _ domain.UserCouponRepository = (*GormUserCouponRepository)(nil)
