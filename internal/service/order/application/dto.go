// internal/service/order/application/dto.go
package application

import (
	"errors"

	accountdomain "flashmart/internal/service/account/domain"
	inventorydomain "flashmart/internal/service/inventory/domain"
	"flashmart/internal/service/order/domain"
	promotiondomain "flashmart/internal/service/promotion/domain"
)

// ItemInput 是下单请求里的一个购买条目。
// ProductID 可选；传了则校验选项确实属于该商品。
type ItemInput struct {
	ProductID int64 `json:"productId,omitempty"`
	OptionID  int64 `json:"optionId"`
	Qty       int   `json:"qty"`
}

// CreateOrderCommand 是下单命令。UserCouponID 为空表示不使用优惠券。
type CreateOrderCommand struct {
	UserID       int64       `json:"userId"`
	Items        []ItemInput `json:"items"`
	UserCouponID string      `json:"userCouponId,omitempty"`
}

// OrderResult 是下单 / 查单的统一返回。
// 失败时 Status 为 FAILED，Reason 给出机器可读的失败原因码。
type OrderResult struct {
	OrderID     string        `json:"orderId"`
	Status      domain.Status `json:"status"`
	Subtotal    int64         `json:"subtotal"`
	Discount    int64         `json:"discount"`
	FinalAmount int64         `json:"finalAmount"`
	Reason      string        `json:"reason,omitempty"`
}

// CancelResult 是取消订单的返回。
type CancelResult struct {
	OrderID string        `json:"orderId"`
	Status  domain.Status `json:"status"`
}

// 失败原因码。对外暴露的是分类而不是内部错误文本。
const (
	ReasonValidation          = "VALIDATION"
	ReasonNotFound            = "NOT_FOUND"
	ReasonConflict            = "CONFLICT"
	ReasonInsufficientStock   = "INSUFFICIENT_STOCK"
	ReasonInsufficientBalance = "INSUFFICIENT_BALANCE"
	ReasonCouponUnavailable   = "COUPON_UNAVAILABLE"
	ReasonInternal            = "INTERNAL"
)

// FailureReason 把领域错误折叠成原因码。
func FailureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, inventorydomain.ErrInvalidQuantity),
		errors.Is(err, accountdomain.ErrInvalidAmount):
		return ReasonValidation
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, inventorydomain.ErrOptionNotFound),
		errors.Is(err, accountdomain.ErrUserNotFound),
		errors.Is(err, promotiondomain.ErrCouponNotFound),
		errors.Is(err, promotiondomain.ErrUserCouponNotFound):
		return ReasonNotFound
	case errors.Is(err, inventorydomain.ErrVersionConflict),
		errors.Is(err, domain.ErrDuplicateOrder):
		return ReasonConflict
	case errors.Is(err, inventorydomain.ErrInsufficientStock):
		return ReasonInsufficientStock
	case errors.Is(err, accountdomain.ErrInsufficientBalance):
		return ReasonInsufficientBalance
	case errors.Is(err, promotiondomain.ErrCouponUnavailable),
		errors.Is(err, promotiondomain.ErrCouponAlreadyUsed),
		errors.Is(err, promotiondomain.ErrCouponNotEligible):
		return ReasonCouponUnavailable
	default:
		return ReasonInternal
	}
}
