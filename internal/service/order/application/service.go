// internal/service/order/application/service.go
package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"flashmart/internal/pkg/eventbus"
	"flashmart/internal/pkg/lock"
	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/metrics"
	accountapp "flashmart/internal/service/account/application"
	inventoryapp "flashmart/internal/service/inventory/application"
	"flashmart/internal/service/order/application/saga"
	"flashmart/internal/service/order/domain"
	outboxdomain "flashmart/internal/service/outbox/domain"
	promotionapp "flashmart/internal/service/promotion/application"
	promotiondomain "flashmart/internal/service/promotion/domain"
)

// OrderApplicationService 是订单上下文的应用服务：
// 下单走 Saga 责任链，取消走逆向恢复，优惠券领取直接代理到台账。
type OrderApplicationService struct {
	inventory *inventoryapp.InventoryLedger
	balance   *accountapp.BalanceLedger
	coupons   *promotionapp.CouponLedger

	orders      domain.OrderRepository
	deadLetters domain.FailedCompensationRepository
	tx          domain.TxManager
	locks       lock.KeyLocker

	bus    *eventbus.Bus
	tracer trace.Tracer
}

func NewOrderApplicationService(
	inventory *inventoryapp.InventoryLedger,
	balance *accountapp.BalanceLedger,
	coupons *promotionapp.CouponLedger,
	orders domain.OrderRepository,
	deadLetters domain.FailedCompensationRepository,
	tx domain.TxManager,
	locks lock.KeyLocker,
	bus *eventbus.Bus,
	tracer trace.Tracer,
) *OrderApplicationService {
	return &OrderApplicationService{
		inventory:   inventory,
		balance:     balance,
		coupons:     coupons,
		orders:      orders,
		deadLetters: deadLetters,
		tx:          tx,
		locks:       locks,
		bus:         bus,
		tracer:      tracer,
	}
}

func orderLockKey(orderID string) string {
	return "order:" + orderID
}

// CreateOrder 执行一次购买 Saga。
// 任何步骤失败都会触发已完成步骤的逆序补偿，然后返回 FAILED 结果；
// 补偿期间的新失败进死信，不会掩盖首因错误。
func (s *OrderApplicationService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*OrderResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateOrder")
	defer span.End()

	orderID := uuid.New().String()
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.Int64("user.id", cmd.UserID),
	)

	items := make([]saga.ItemRequest, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		items = append(items, saga.ItemRequest{ProductID: item.ProductID, OptionID: item.OptionID, Qty: item.Qty})
	}

	orderCtx := &saga.OrderContext{
		Ctx:          ctx,
		Tracer:       s.tracer,
		OrderID:      orderID,
		UserID:       cmd.UserID,
		Items:        items,
		UserCouponID: cmd.UserCouponID,
		Inventory:    s.inventory,
		Balance:      s.balance,
		Coupons:      s.coupons,
		Tx:           s.tx,
		DeadLetters:  s.deadLetters,
		Bus:          s.bus,
	}

	validate := &saga.ValidateHandler{}
	validate.
		SetNext(&saga.StockDeductHandler{}).
		SetNext(&saga.BalanceDeductHandler{}).
		SetNext(&saga.CouponConsumeHandler{}).
		SetNext(&saga.PersistHandler{})

	if err := validate.Handle(orderCtx); err != nil {
		reason := FailureReason(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "saga failed")
		logger.Ctx(ctx).Warn().
			Err(err).
			Str("order_id", orderID).
			Str("reason", reason).
			Msg("order saga failed, compensating")

		orderCtx.TriggerCompensation(ctx)

		metrics.OrdersFailed.WithLabelValues(reason).Inc()
		s.bus.Publish(ctx, domain.TopicSagaFailed, domain.SagaFailed{
			OrderID: orderID,
			Reason:  reason,
			At:      time.Now(),
		})

		return &OrderResult{
			OrderID: orderID,
			Status:  domain.StatusFailed,
			Reason:  reason,
		}, err
	}

	return &OrderResult{
		OrderID:     orderID,
		Status:      domain.StatusCompleted,
		Subtotal:    orderCtx.Subtotal,
		Discount:    orderCtx.Discount,
		FinalAmount: orderCtx.FinalAmount(),
	}, nil
}

// cancelledPayload 是 ORDER_CANCELLED 通知的业务载荷。
type cancelledPayload struct {
	OrderID  string `json:"orderId"`
	UserID   int64  `json:"userId"`
	Refunded int64  `json:"refunded"`
}

// CancelOrder 取消一个 COMPLETED 的订单并恢复它占用的全部资源：
// 回补库存、退还余额、回滚优惠券，全部成功后订单才落为 CANCELLED。
// 任何一步恢复失败都让取消整体失败，订单保持 COMPLETED，调用方可重试。
// 整个取消过程持有该订单的串行锁：状态校验和资源回补之间不允许插入
// 第二次取消，否则同一单的库存和余额会被重复回补。
func (s *OrderApplicationService) CancelOrder(ctx context.Context, orderID string, userID int64) (*CancelResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.CancelOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.Int64("user.id", userID),
	)

	release, err := s.locks.Acquire(ctx, orderLockKey(orderID))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to acquire order lock: %w", err)
	}
	defer release()

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if order.UserID != userID {
		// 不属于请求者的订单对外表现为不存在
		span.SetStatus(codes.Error, "ownership mismatch")
		return nil, domain.ErrOrderNotFound
	}
	if err := order.Cancel(); err != nil {
		span.SetStatus(codes.Error, "not cancellable")
		return nil, err
	}

	for _, item := range order.Items {
		if err := s.inventory.RestoreStock(ctx, item.OptionID, item.Qty); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to restore stock for option %d: %w", item.OptionID, err)
		}
	}
	if order.FinalAmount > 0 {
		if err := s.balance.Credit(ctx, order.UserID, order.FinalAmount); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to refund balance: %w", err)
		}
	}
	if order.UserCouponID != "" {
		if err := s.coupons.Restore(ctx, order.UserCouponID); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to restore coupon: %w", err)
		}
	}

	payload, err := json.Marshal(cancelledPayload{
		OrderID:  order.ID,
		UserID:   order.UserID,
		Refunded: order.FinalAmount,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to marshal cancellation payload: %w", err)
	}

	err = s.tx.Do(ctx, func(uow domain.UnitOfWork) error {
		if err := uow.Orders().Save(ctx, order); err != nil {
			return err
		}
		entry := outboxdomain.NewEntry(order.ID, order.UserID, outboxdomain.TypeOrderCancelled, payload)
		if err := uow.Outbox().Append(ctx, entry); err != nil {
			return err
		}
		uow.AfterCommit(func() {
			metrics.OrdersCancelled.Inc()
			logger.Ctx(ctx).Info().
				Str("order_id", order.ID).
				Int64("user_id", order.UserID).
				Msg("order cancelled")
			s.bus.Publish(ctx, domain.TopicOrderCancelled, domain.OrderCancelled{
				OrderID: order.ID,
				UserID:  order.UserID,
				At:      time.Now(),
			})
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return &CancelResult{OrderID: order.ID, Status: order.Status}, nil
}

// ClaimCoupon 为用户领取一张优惠券。
func (s *OrderApplicationService) ClaimCoupon(ctx context.Context, couponID, userID int64) (*promotiondomain.UserCoupon, error) {
	ctx, span := s.tracer.Start(ctx, "order.ClaimCoupon")
	defer span.End()
	return s.coupons.IssueNext(ctx, couponID, userID)
}

// GetOrder 按 ID 读取订单。
func (s *OrderApplicationService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.orders.FindByID(ctx, orderID)
}

// ListOrders 列出一个用户的全部订单。
func (s *OrderApplicationService) ListOrders(ctx context.Context, userID int64) ([]*domain.Order, error) {
	return s.orders.FindByUser(ctx, userID)
}

// ListFailedCompensations 列出待人工处理的补偿死信（对账接口）。
func (s *OrderApplicationService) ListFailedCompensations(ctx context.Context) ([]*domain.FailedCompensation, error) {
	return s.deadLetters.ListUnresolved(ctx)
}
