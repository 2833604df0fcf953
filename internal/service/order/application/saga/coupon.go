package saga

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"flashmart/internal/service/order/domain"
	promotiondomain "flashmart/internal/service/promotion/domain"
)

// CouponConsumeHandler 核销订单使用的优惠券。没带券的订单直接跳过。
type CouponConsumeHandler struct {
	NextHandler
}

func (h *CouponConsumeHandler) Handle(orderCtx *OrderContext) error {
	if orderCtx.UserCouponID == "" {
		return h.executeNext(orderCtx)
	}

	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.CouponConsume")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderCtx.OrderID),
		attribute.String("user_coupon.id", orderCtx.UserCouponID),
	)

	record := orderCtx.RecordStep(domain.StepCouponConsume)

	itemCount := 0
	for _, item := range orderCtx.OrderItems {
		itemCount += item.Qty
	}
	fact := promotiondomain.Fact{
		UserID:    orderCtx.UserID,
		Subtotal:  orderCtx.Subtotal,
		ItemCount: itemCount,
	}

	if err := orderCtx.Coupons.Consume(ctx, orderCtx.UserCouponID, orderCtx.OrderID, fact); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "coupon consumption failed")
		record.Status = domain.StepFailed
		record.Detail = err.Error()
		return err
	}

	userCouponID := orderCtx.UserCouponID
	orderCtx.AddCompensation(domain.StepCouponConsume, func(compCtx context.Context) error {
		compCtx, compSpan := orderCtx.Tracer.Start(compCtx, "saga.compensation.RestoreCoupon")
		defer compSpan.End()
		compSpan.SetAttributes(attribute.String("user_coupon.id", userCouponID))
		return orderCtx.Coupons.Restore(compCtx, userCouponID)
	})

	record.Status = domain.StepCompleted
	span.AddEvent("coupon consumed")
	return h.executeNext(orderCtx)
}
