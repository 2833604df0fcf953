// internal/service/outbox/domain/entry.go
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrEntryNotFound = errors.New("outbox entry not found")

// Status 是 outbox 消息的投递状态机。
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// EntryType 区分消息种类。
type EntryType string

const (
	TypeOrderCompleted EntryType = "ORDER_COMPLETED"
	TypeOrderCancelled EntryType = "ORDER_CANCELLED"
)

// Entry 是事务性 outbox 的一行：与业务变更在同一个原子单元内写入，
// 之后只由投递 worker 变更。这保证了"订单成功但通知从未入队"
// 和"通知入队但订单没发生"都不可能出现。
type Entry struct {
	MessageID   string
	OrderID     string
	UserID      int64
	Type        EntryType
	Payload     []byte
	Status      Status
	RetryCount  int
	LastAttempt *time.Time
	SentAt      *time.Time
	CreatedAt   time.Time
}

// NewEntry 创建一条待投递消息。
func NewEntry(orderID string, userID int64, entryType EntryType, payload []byte) *Entry {
	return &Entry{
		MessageID: uuid.New().String(),
		OrderID:   orderID,
		UserID:    userID,
		Type:      entryType,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

// MarkSent 投递成功。
func (e *Entry) MarkSent(now time.Time) {
	e.Status = StatusSent
	at := now
	e.SentAt = &at
}

// MarkFailed 记一次投递失败。超过重试上限的条目会停留在 FAILED，
// 交给人工或批处理兜底，而不是无限重试。
func (e *Entry) MarkFailed(now time.Time) {
	e.Status = StatusFailed
	e.RetryCount++
	at := now
	e.LastAttempt = &at
}
