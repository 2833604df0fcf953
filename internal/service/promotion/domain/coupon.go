// internal/service/promotion/domain/coupon.go
package domain

import (
	"errors"
	"time"
)

var (
	ErrCouponNotFound     = errors.New("coupon not found")
	ErrUserCouponNotFound = errors.New("user coupon not found")
	ErrCouponUnavailable  = errors.New("coupon unavailable")
	ErrCouponNotEligible  = errors.New("coupon not eligible for this order")
	ErrCouponAlreadyUsed  = errors.New("coupon already used")
	ErrCouponNotUsed      = errors.New("coupon is not in used state")
)

// DiscountType 定义了优惠券的折扣方式。
type DiscountType string

const (
	DiscountFixedAmount DiscountType = "FIXED_AMOUNT"
	DiscountPercentage  DiscountType = "PERCENTAGE"
)

// Coupon 是优惠券模板聚合：定义折扣规则和发放配额。
// remainingQty 归零时 isActive 自动翻为 false；
// exhaustedAt 记录这次下架是否来自配额耗尽，用于和运营手动下架区分开 ——
// 只有因耗尽而关闭的券才会在回补配额时自动重新开放。
type Coupon struct {
	ID            int64
	Name          string
	DiscountType  DiscountType
	DiscountValue int64 // FIXED_AMOUNT: 金额; PERCENTAGE: 百分比(0-100)
	RemainingQty  int
	TotalQty      int
	ValidFrom     time.Time
	ValidUntil    time.Time
	IsActive      bool
	ExhaustedAt   *time.Time
	// EligibilityRule 是可选的 CEL 表达式，核销前用订单事实求值。
	// 为空表示无门槛。
	EligibilityRule string
	Version         int64
}

// WindowContains 判断时间点是否落在有效期内。
func (c *Coupon) WindowContains(now time.Time) bool {
	return !now.Before(c.ValidFrom) && !now.After(c.ValidUntil)
}

// Issuable 校验当前是否还能发放。
func (c *Coupon) Issuable(now time.Time) error {
	if !c.IsActive {
		return ErrCouponUnavailable
	}
	if !c.WindowContains(now) {
		return ErrCouponUnavailable
	}
	if c.RemainingQty <= 0 {
		return ErrCouponUnavailable
	}
	return nil
}

// TakeOne 扣减一张配额。配额耗尽时自动下架并记录耗尽时间。
// 调用方必须持有该券的串行锁。
func (c *Coupon) TakeOne(now time.Time) error {
	if err := c.Issuable(now); err != nil {
		return err
	}
	c.RemainingQty--
	if c.RemainingQty == 0 {
		c.IsActive = false
		at := now
		c.ExhaustedAt = &at
	}
	return nil
}

// ReturnOne 回补一张配额（核销回滚 / 订单取消）。
// 仅当下架原因是配额耗尽、且有效期仍然成立时，才会自动重新开放。
func (c *Coupon) ReturnOne(now time.Time) {
	if c.RemainingQty < c.TotalQty {
		c.RemainingQty++
	}
	if !c.IsActive && c.ExhaustedAt != nil && c.WindowContains(now) {
		c.IsActive = true
		c.ExhaustedAt = nil
	}
}

// Deactivate 运营手动下架。不记录 exhaustedAt，
// 因此后续配额回补不会让它重新上架。
func (c *Coupon) Deactivate() {
	c.IsActive = false
	c.ExhaustedAt = nil
}

// Discount 计算折扣金额，结果不超过小计。
func (c *Coupon) Discount(subtotal int64) int64 {
	var d int64
	switch c.DiscountType {
	case DiscountFixedAmount:
		d = c.DiscountValue
	case DiscountPercentage:
		d = subtotal * c.DiscountValue / 100
	}
	if d > subtotal {
		d = subtotal
	}
	if d < 0 {
		d = 0
	}
	return d
}

// UserCouponStatus 定义了用户优惠券的生命周期状态。
type UserCouponStatus string

const (
	StatusUnused  UserCouponStatus = "UNUSED"
	StatusUsed    UserCouponStatus = "USED"
	StatusExpired UserCouponStatus = "EXPIRED"
)

// UserCoupon 代表发放给某个用户的一张具体的券。
type UserCoupon struct {
	ID       string // uuid
	UserID   int64
	CouponID int64
	Status   UserCouponStatus
	IssuedAt time.Time
	UsedAt   *time.Time
	OrderID  string
}

// MarkUsed 核销：UNUSED -> USED，并记录关联订单。
func (uc *UserCoupon) MarkUsed(orderID string, now time.Time) error {
	if uc.Status != StatusUnused {
		return ErrCouponAlreadyUsed
	}
	uc.Status = StatusUsed
	uc.OrderID = orderID
	at := now
	uc.UsedAt = &at
	return nil
}

// MarkUnused 回滚核销：USED -> UNUSED（订单取消 / Saga 补偿）。
func (uc *UserCoupon) MarkUnused() error {
	if uc.Status != StatusUsed {
		return ErrCouponNotUsed
	}
	uc.Status = StatusUnused
	uc.OrderID = ""
	uc.UsedAt = nil
	return nil
}
