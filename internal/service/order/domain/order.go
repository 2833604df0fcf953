// internal/service/order/domain/order.go
package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation 输入不合法，任何变更发生之前就被拒绝。
	ErrValidation = errors.New("invalid order request")

	ErrOrderNotFound  = errors.New("order not found")
	ErrDuplicateOrder = errors.New("order with this ID already exists")
	// ErrNotCancellable 只有 COMPLETED 状态的订单可以取消。
	ErrNotCancellable = errors.New("order is not in a cancellable status")
)

// Status 定义了订单的生命周期状态。
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

// OrderItem 是订单行的值对象。单价在下单时刻快照进订单。
type OrderItem struct {
	ProductID int64
	OptionID  int64
	Qty       int
	UnitPrice int64
}

// LineTotal 返回订单行小计。
func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Qty)
}

// Order 是订单聚合的根实体。
// 编排器只在所有前置步骤全部成功后创建并持久化它一次；
// 之后唯一合法的状态流转是 COMPLETED -> CANCELLED（取消流程）。
type Order struct {
	ID           string
	UserID       int64
	Status       Status
	Items        []OrderItem
	Subtotal     int64
	Discount     int64
	FinalAmount  int64
	UserCouponID string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewOrder 创建一个待完成的订单实例。
func NewOrder(id string, userID int64, items []OrderItem, subtotal, discount int64, userCouponID string) (*Order, error) {
	if id == "" || userID <= 0 || len(items) == 0 {
		return nil, fmt.Errorf("%w: missing required fields", ErrValidation)
	}
	final := subtotal - discount
	if final < 0 {
		final = 0
	}
	now := time.Now()
	return &Order{
		ID:           id,
		UserID:       userID,
		Status:       StatusPending,
		Items:        items,
		Subtotal:     subtotal,
		Discount:     discount,
		FinalAmount:  final,
		UserCouponID: userCouponID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Complete 将订单置为完成态。
func (o *Order) Complete() error {
	if o.Status != StatusPending {
		return fmt.Errorf("order %s cannot complete from status %s", o.ID, o.Status)
	}
	o.Status = StatusCompleted
	o.UpdatedAt = time.Now()
	return nil
}

// Cancel 取消订单。只有 COMPLETED 的订单可以取消。
func (o *Order) Cancel() error {
	if o.Status != StatusCompleted {
		return ErrNotCancellable
	}
	o.Status = StatusCancelled
	o.UpdatedAt = time.Now()
	return nil
}

// Fail 将订单标记为失败。
func (o *Order) Fail() {
	o.Status = StatusFailed
	o.UpdatedAt = time.Now()
}
