package saga

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"flashmart/internal/service/order/domain"
)

// StockDeductHandler 逐项扣减库存。
// 每扣成功一项立刻注册该项的回补闭包：后面任何一项失败时，
// 已扣的项都能被逆序补回来，不会出现半扣状态遗留。
type StockDeductHandler struct {
	NextHandler
}

func (h *StockDeductHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.StockDeduct")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderCtx.OrderID))

	record := orderCtx.RecordStep(domain.StepStockDeduct)

	for _, item := range orderCtx.OrderItems {
		option := orderCtx.Options[item.OptionID]
		if _, err := orderCtx.Inventory.DeductStock(ctx, item.OptionID, item.Qty, option.Version); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "stock deduction failed")
			record.Status = domain.StepFailed
			record.Detail = err.Error()
			return err
		}

		optionID, qty := item.OptionID, item.Qty
		orderCtx.AddCompensation(domain.StepStockDeduct, func(compCtx context.Context) error {
			compCtx, compSpan := orderCtx.Tracer.Start(compCtx, "saga.compensation.RestoreStock")
			defer compSpan.End()
			compSpan.SetAttributes(
				attribute.Int64("option.id", optionID),
				attribute.Int("qty", qty),
			)
			return orderCtx.Inventory.RestoreStock(compCtx, optionID, qty)
		})
	}

	record.Status = domain.StepCompleted
	span.AddEvent("all items deducted")
	return h.executeNext(orderCtx)
}
