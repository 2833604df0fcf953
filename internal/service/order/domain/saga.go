// internal/service/order/domain/saga.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// StepType 标识购买 Saga 的一个前向步骤。
type StepType string

const (
	StepStockDeduct   StepType = "STOCK_DEDUCT"
	StepBalanceDeduct StepType = "BALANCE_DEDUCT"
	StepCouponConsume StepType = "COUPON_CONSUME"
)

// StepStatus 是步骤记录的状态。
type StepStatus string

const (
	StepPending     StepStatus = "PENDING"
	StepCompleted   StepStatus = "COMPLETED"
	StepFailed      StepStatus = "FAILED"
	StepCompensated StepStatus = "COMPENSATED"
)

// StepRecord 记录一次 Saga 执行中每个已尝试的步骤。
// 补偿阶段据此精确地知道哪些步骤需要回滚、哪些已经回滚。
type StepRecord struct {
	OrderID string
	Step    StepType
	Status  StepStatus
	Detail  string
	At      time.Time
}

// FailedCompensationStatus 是死信条目的处理状态。
type FailedCompensationStatus string

const (
	CompensationPending   FailedCompensationStatus = "PENDING"
	CompensationResolved  FailedCompensationStatus = "RESOLVED"
	CompensationAbandoned FailedCompensationStatus = "ABANDONED"
)

// FailedCompensation 是补偿死信：只在补偿动作本身失败时产生。
// 永远不自动重试 —— 对一个已经失败过的补偿做自动重试，
// 要么造成二次补偿，要么掩盖更深的缺陷，只能人工对账解决。
type FailedCompensation struct {
	ID           string
	OrderID      string
	UserID       int64
	Step         StepType
	ErrorMessage string
	Status       FailedCompensationStatus
	CreatedAt    time.Time
}

// NewFailedCompensation 创建一条待人工处理的死信。
func NewFailedCompensation(orderID string, userID int64, step StepType, cause error) *FailedCompensation {
	return &FailedCompensation{
		ID:           uuid.New().String(),
		OrderID:      orderID,
		UserID:       userID,
		Step:         step,
		ErrorMessage: cause.Error(),
		Status:       CompensationPending,
		CreatedAt:    time.Now(),
	}
}
