package saga

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"flashmart/internal/service/order/domain"
)

// BalanceDeductHandler 扣减用户余额，金额是折扣后的应付金额。
// 全额抵扣（应付为 0）时跳过扣款，也不注册补偿。
type BalanceDeductHandler struct {
	NextHandler
}

func (h *BalanceDeductHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.BalanceDeduct")
	defer span.End()

	amount := orderCtx.FinalAmount()
	span.SetAttributes(
		attribute.String("order.id", orderCtx.OrderID),
		attribute.Int64("amount", amount),
	)

	if amount == 0 {
		span.AddEvent("fully discounted, skipping debit")
		return h.executeNext(orderCtx)
	}

	record := orderCtx.RecordStep(domain.StepBalanceDeduct)

	if err := orderCtx.Balance.Debit(ctx, orderCtx.UserID, amount); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "balance deduction failed")
		record.Status = domain.StepFailed
		record.Detail = err.Error()
		return err
	}

	userID := orderCtx.UserID
	orderCtx.AddCompensation(domain.StepBalanceDeduct, func(compCtx context.Context) error {
		compCtx, compSpan := orderCtx.Tracer.Start(compCtx, "saga.compensation.RefundBalance")
		defer compSpan.End()
		compSpan.SetAttributes(
			attribute.Int64("user.id", userID),
			attribute.Int64("amount", amount),
		)
		return orderCtx.Balance.Credit(compCtx, userID, amount)
	})

	record.Status = domain.StepCompleted
	span.AddEvent("balance debited")
	return h.executeNext(orderCtx)
}
