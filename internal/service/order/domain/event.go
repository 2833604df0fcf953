// internal/service/order/domain/event.go
package domain

import "time"

// 进程内事件 topic。订阅方（告警、审计）通过 eventbus 消费，
// 发布都发生在事务提交之后，属于 fire-and-forget。
const (
	TopicOrderCreated       = "order.created"
	TopicOrderCancelled     = "order.cancelled"
	TopicSagaCompleted      = "saga.completed"
	TopicSagaFailed         = "saga.failed"
	TopicCompensationFailed = "saga.compensation_failed"
)

// OrderCreated 订单创建成功（Saga 全部步骤完成并已提交）。
type OrderCreated struct {
	OrderID     string
	UserID      int64
	FinalAmount int64
	At          time.Time
}

// OrderCancelled 订单取消成功。
type OrderCancelled struct {
	OrderID string
	UserID  int64
	At      time.Time
}

// SagaCompleted 一次购买 Saga 以 COMPLETED 终止。
type SagaCompleted struct {
	OrderID string
	At      time.Time
}

// SagaFailed 一次购买 Saga 以 FAILED 终止。
type SagaFailed struct {
	OrderID string
	Reason  string
	At      time.Time
}

// CompensationFailed 某个补偿动作失败并已写入死信。
type CompensationFailed struct {
	OrderID string
	Step    StepType
	Error   string
	At      time.Time
}
