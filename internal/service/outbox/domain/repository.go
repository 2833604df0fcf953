// internal/service/outbox/domain/repository.go
package domain

import "context"

// Repository 定义了 outbox 的持久化接口。
// Append 必须能参与订单持久化所在的原子单元（见订单侧的 TxManager）。
type Repository interface {
	// Append 追加一条消息。
	Append(ctx context.Context, entry *Entry) error

	// FetchDeliverable 按创建时间从旧到新取一批可投递的条目：
	// PENDING 的、以及重试次数未到上限的 FAILED 的。
	FetchDeliverable(ctx context.Context, limit, maxRetries int) ([]*Entry, error)

	// Update 写回投递结果。
	Update(ctx context.Context, entry *Entry) error

	// FindByOrder 查询一个订单关联的全部消息（对账用）。
	FindByOrder(ctx context.Context, orderID string) ([]*Entry, error)
}

// NotificationPublisher 是外部通知端口。
// 投递 worker 通过它把消息交给下游（Kafka、webhook 等）。
type NotificationPublisher interface {
	Publish(ctx context.Context, entry *Entry) error
}
