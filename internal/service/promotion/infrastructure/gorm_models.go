// internal/service/promotion/infrastructure/gorm_models.go
package infrastructure

import (
	"time"

	"flashmart/internal/service/promotion/domain"
)

// CouponModel 是优惠券模板的数据库模型。
type CouponModel struct {
	ID              int64      `gorm:"primaryKey"`
	Name            string     `gorm:"type:varchar(255);not null"`
	DiscountType    string     `gorm:"type:varchar(32);not null"`
	DiscountValue   int64      `gorm:"not null"`
	RemainingQty    int        `gorm:"not null"`
	TotalQty        int        `gorm:"not null"`
	ValidFrom       time.Time  `gorm:"not null"`
	ValidUntil      time.Time  `gorm:"not null"`
	IsActive        bool       `gorm:"not null;default:true"`
	ExhaustedAt     *time.Time `gorm:""`
	EligibilityRule string     `gorm:"type:text"`
	Version         int64      `gorm:"not null;default:1"`
}

func (CouponModel) TableName() string { return "coupons" }

// UserCouponModel 是用户持有券的数据库模型。
type UserCouponModel struct {
	ID       string     `gorm:"primaryKey;type:varchar(36)"`
	UserID   int64      `gorm:"index;not null"`
	CouponID int64      `gorm:"index;not null"`
	Status   string     `gorm:"type:varchar(16);not null"`
	IssuedAt time.Time  `gorm:"not null"`
	UsedAt   *time.Time `gorm:""`
	OrderID  string     `gorm:"type:varchar(36);index"`
}

func (UserCouponModel) TableName() string { return "user_coupons" }

func toDomainCoupon(m *CouponModel) *domain.Coupon {
	return &domain.Coupon{
		ID:              m.ID,
		Name:            m.Name,
		DiscountType:    domain.DiscountType(m.DiscountType),
		DiscountValue:   m.DiscountValue,
		RemainingQty:    m.RemainingQty,
		TotalQty:        m.TotalQty,
		ValidFrom:       m.ValidFrom,
		ValidUntil:      m.ValidUntil,
		IsActive:        m.IsActive,
		ExhaustedAt:     m.ExhaustedAt,
		EligibilityRule: m.EligibilityRule,
		Version:         m.Version,
	}
}

func toCouponModel(c *domain.Coupon) *CouponModel {
	return &CouponModel{
		ID:              c.ID,
		Name:            c.Name,
		DiscountType:    string(c.DiscountType),
		DiscountValue:   c.DiscountValue,
		RemainingQty:    c.RemainingQty,
		TotalQty:        c.TotalQty,
		ValidFrom:       c.ValidFrom,
		ValidUntil:      c.ValidUntil,
		IsActive:        c.IsActive,
		ExhaustedAt:     c.ExhaustedAt,
		EligibilityRule: c.EligibilityRule,
		Version:         c.Version,
	}
}

func toDomainUserCoupon(m *UserCouponModel) *domain.UserCoupon {
	return &domain.UserCoupon{
		ID:       m.ID,
		UserID:   m.UserID,
		CouponID: m.CouponID,
		Status:   domain.UserCouponStatus(m.Status),
		IssuedAt: m.IssuedAt,
		UsedAt:   m.UsedAt,
		OrderID:  m.OrderID,
	}
}

func toUserCouponModel(uc *domain.UserCoupon) *UserCouponModel {
	return &UserCouponModel{
		ID:       uc.ID,
		UserID:   uc.UserID,
		CouponID: uc.CouponID,
		Status:   string(uc.Status),
		IssuedAt: uc.IssuedAt,
		UsedAt:   uc.UsedAt,
		OrderID:  uc.OrderID,
	}
}
