// internal/service/outbox/infrastructure/adapter/notification_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"flashmart/internal/pkg/mq"
	"flashmart/internal/service/outbox/domain"
)

// NotificationKafkaAdapter 实现了 domain.NotificationPublisher 接口。
// outbox relay 通过它把订单通知写入 Kafka；按用户 ID 作 key，
// 保证同一用户的通知在分区内有序。
type NotificationKafkaAdapter struct {
	writer *kafka.Writer
}

func NewNotificationKafkaAdapter(writer *kafka.Writer) *NotificationKafkaAdapter {
	return &NotificationKafkaAdapter{writer: writer}
}

// envelope 是通知消息在 topic 上的统一外层结构。
type envelope struct {
	MessageID string          `json:"messageId"`
	OrderID   string          `json:"orderId"`
	UserID    int64           `json:"userId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func (a *NotificationKafkaAdapter) Publish(ctx context.Context, entry *domain.Entry) error {
	body, err := json.Marshal(envelope{
		MessageID: entry.MessageID,
		OrderID:   entry.OrderID,
		UserID:    entry.UserID,
		Type:      string(entry.Type),
		Payload:   entry.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification envelope: %w", err)
	}

	key := []byte(strconv.FormatInt(entry.UserID, 10))
	return mq.ProduceMessage(ctx, a.writer, key, body)
}

// Close 关闭底层的 Kafka writer。
func (a *NotificationKafkaAdapter) Close() error {
	return a.writer.Close()
}

var _ domain.NotificationPublisher = (*NotificationKafkaAdapter)(nil)
