package saga

import (
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/metrics"
	"flashmart/internal/service/order/domain"
	outboxdomain "flashmart/internal/service/outbox/domain"
)

// PersistHandler 是 Saga 的收尾：订单行和 outbox 通知在同一个
// 原子单元里落库。走到这里之前所有资源步骤都已成功，
// 这一步失败则整个前向链被补偿。
type PersistHandler struct {
	NextHandler
}

// completedPayload 是 ORDER_COMPLETED 通知的业务载荷。
type completedPayload struct {
	OrderID     string `json:"orderId"`
	UserID      int64  `json:"userId"`
	Subtotal    int64  `json:"subtotal"`
	Discount    int64  `json:"discount"`
	FinalAmount int64  `json:"finalAmount"`
}

func (h *PersistHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.PersistOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderCtx.OrderID),
		attribute.Int64("order.final_amount", orderCtx.FinalAmount()),
	)

	order, err := domain.NewOrder(
		orderCtx.OrderID,
		orderCtx.UserID,
		orderCtx.OrderItems,
		orderCtx.Subtotal,
		orderCtx.Discount,
		orderCtx.UserCouponID,
	)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := order.Complete(); err != nil {
		span.RecordError(err)
		return err
	}

	payload, err := json.Marshal(completedPayload{
		OrderID:     order.ID,
		UserID:      order.UserID,
		Subtotal:    order.Subtotal,
		Discount:    order.Discount,
		FinalAmount: order.FinalAmount,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal order notification payload: %w", err)
	}

	err = orderCtx.Tx.Do(ctx, func(uow domain.UnitOfWork) error {
		if err := uow.Orders().Save(ctx, order); err != nil {
			return err
		}
		entry := outboxdomain.NewEntry(order.ID, order.UserID, outboxdomain.TypeOrderCompleted, payload)
		if err := uow.Outbox().Append(ctx, entry); err != nil {
			return err
		}

		uow.AfterCommit(func() {
			metrics.OrdersCreated.Inc()
			logger.Ctx(ctx).Info().
				Str("order_id", order.ID).
				Int64("user_id", order.UserID).
				Int64("final_amount", order.FinalAmount).
				Msg("order completed")
			if orderCtx.Bus != nil {
				now := time.Now()
				orderCtx.Bus.Publish(ctx, domain.TopicOrderCreated, domain.OrderCreated{
					OrderID:     order.ID,
					UserID:      order.UserID,
					FinalAmount: order.FinalAmount,
					At:          now,
				})
				orderCtx.Bus.Publish(ctx, domain.TopicSagaCompleted, domain.SagaCompleted{
					OrderID: order.ID,
					At:      now,
				})
			}
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order persistence failed")
		return err
	}

	span.AddEvent("order and outbox entry committed")
	return h.executeNext(orderCtx)
}
