// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersCreated 成功完成的订单数。
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flashmart_orders_created_total",
		Help: "Number of orders that completed the purchase saga.",
	})

	// OrdersFailed 以失败终止的订单数，按原因分类。
	OrdersFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashmart_orders_failed_total",
		Help: "Number of purchase sagas that terminated in FAILED.",
	}, []string{"reason"})

	// OrdersCancelled 取消成功的订单数。
	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flashmart_orders_cancelled_total",
		Help: "Number of orders cancelled after completion.",
	})

	// CompensationsExecuted 执行的补偿动作数，按步骤分类。
	CompensationsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashmart_saga_compensations_total",
		Help: "Number of compensation actions executed.",
	}, []string{"step"})

	// CompensationFailures 补偿本身失败、进入死信的次数。
	CompensationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashmart_saga_compensation_failures_total",
		Help: "Number of compensation actions that failed and were dead-lettered.",
	}, []string{"step"})

	// CouponsIssued 发放成功的优惠券数。
	CouponsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flashmart_coupons_issued_total",
		Help: "Number of user coupons issued.",
	})

	// OutboxDelivered 投递成功的 outbox 消息数。
	OutboxDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flashmart_outbox_delivered_total",
		Help: "Number of outbox entries delivered to the notification channel.",
	})

	// OutboxRetries outbox 投递失败后的重试计数。
	OutboxRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flashmart_outbox_delivery_retries_total",
		Help: "Number of failed outbox delivery attempts.",
	})
)
