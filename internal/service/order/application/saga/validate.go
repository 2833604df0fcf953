package saga

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	inventorydomain "flashmart/internal/service/inventory/domain"
	"flashmart/internal/service/order/domain"
)

// ValidateHandler 是 Saga 的第一步：纯读校验。
// 这里不做任何变更，所以失败时没有东西需要补偿。
// 校验通过后把订单行（含单价快照）、小计和折扣写进上下文。
type ValidateHandler struct {
	NextHandler
}

func (h *ValidateHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.Validate")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderCtx.OrderID),
		attribute.Int64("user.id", orderCtx.UserID),
		attribute.Int("items.count", len(orderCtx.Items)),
	)

	if orderCtx.UserID <= 0 {
		span.SetStatus(codes.Error, "invalid user")
		return fmt.Errorf("%w: user id must be positive", domain.ErrValidation)
	}
	if len(orderCtx.Items) == 0 {
		span.SetStatus(codes.Error, "empty items")
		return fmt.Errorf("%w: order must contain at least one item", domain.ErrValidation)
	}

	// 用户存在性检查（顺带拿到余额快照没有意义，扣款时才是权威判断）
	if _, err := orderCtx.Balance.Balance(ctx, orderCtx.UserID); err != nil {
		span.RecordError(err)
		return err
	}

	orderCtx.Options = make(map[int64]*inventorydomain.ProductOption, len(orderCtx.Items))
	orderCtx.OrderItems = make([]domain.OrderItem, 0, len(orderCtx.Items))
	orderCtx.Subtotal = 0

	for _, item := range orderCtx.Items {
		if item.Qty <= 0 {
			span.SetStatus(codes.Error, "invalid quantity")
			return fmt.Errorf("%w: quantity for option %d must be positive", domain.ErrValidation, item.OptionID)
		}
		option, err := orderCtx.Inventory.Option(ctx, item.OptionID)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if item.ProductID != 0 && option.ProductID != item.ProductID {
			span.SetStatus(codes.Error, "option/product mismatch")
			return fmt.Errorf("%w: option %d does not belong to product %d",
				domain.ErrValidation, item.OptionID, item.ProductID)
		}
		if !option.HasStock(item.Qty) {
			span.SetStatus(codes.Error, "insufficient stock")
			return fmt.Errorf("%w: option %d has %d left, want %d",
				inventorydomain.ErrInsufficientStock, option.ID, option.Stock, item.Qty)
		}

		orderCtx.Options[option.ID] = option
		line := domain.OrderItem{
			ProductID: option.ProductID,
			OptionID:  option.ID,
			Qty:       item.Qty,
			UnitPrice: option.UnitPrice,
		}
		orderCtx.OrderItems = append(orderCtx.OrderItems, line)
		orderCtx.Subtotal += line.LineTotal()
	}

	// 折扣在校验阶段就定下来：应付金额必须在扣款之前确定
	if orderCtx.UserCouponID != "" {
		discount, err := orderCtx.Coupons.PeekDiscount(ctx, orderCtx.UserCouponID, orderCtx.Subtotal)
		if err != nil {
			span.RecordError(err)
			return err
		}
		orderCtx.Discount = discount
	}

	span.SetAttributes(
		attribute.Int64("order.subtotal", orderCtx.Subtotal),
		attribute.Int64("order.discount", orderCtx.Discount),
	)
	span.AddEvent("validation passed")
	return h.executeNext(orderCtx)
}
