package saga

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"flashmart/internal/pkg/eventbus"
	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/metrics"
	accountapp "flashmart/internal/service/account/application"
	inventoryapp "flashmart/internal/service/inventory/application"
	inventorydomain "flashmart/internal/service/inventory/domain"
	"flashmart/internal/service/order/domain"
	promotionapp "flashmart/internal/service/promotion/application"
)

// OrderContext 在购买 Saga 的各个步骤之间传递上下文数据。
// 前向步骤把算出的中间结果（订单行、小计、折扣）写进来，
// 补偿闭包在步骤成功后立刻注册，失败时逆序执行。
type OrderContext struct {
	Ctx    context.Context
	Tracer trace.Tracer

	OrderID      string
	UserID       int64
	Items        []ItemRequest
	UserCouponID string

	// 校验步骤填充，后续步骤消费
	Options    map[int64]*inventorydomain.ProductOption
	OrderItems []domain.OrderItem
	Subtotal   int64
	Discount   int64

	// 依赖的各上下文台账与基础设施
	Inventory *inventoryapp.InventoryLedger
	Balance   *accountapp.BalanceLedger
	Coupons   *promotionapp.CouponLedger
	Tx        domain.TxManager

	DeadLetters domain.FailedCompensationRepository
	Bus         *eventbus.Bus

	steps []*domain.StepRecord

	compensations []compensation
	compLock      sync.Mutex
}

// ItemRequest 是调用方传入的一个购买条目。
// ProductID 为 0 时跳过归属校验。
type ItemRequest struct {
	ProductID int64
	OptionID  int64
	Qty       int
}

// FinalAmount 返回应付金额（折扣封顶到小计）。
func (c *OrderContext) FinalAmount() int64 {
	final := c.Subtotal - c.Discount
	if final < 0 {
		final = 0
	}
	return final
}

// RecordStep 追加一条步骤记录并返回它，步骤完成 / 失败时由调用方更新状态。
func (c *OrderContext) RecordStep(step domain.StepType) *domain.StepRecord {
	record := &domain.StepRecord{
		OrderID: c.OrderID,
		Step:    step,
		Status:  domain.StepPending,
		At:      time.Now(),
	}
	c.steps = append(c.steps, record)
	return record
}

// Steps 返回本次执行的步骤记录（诊断用）。
func (c *OrderContext) Steps() []*domain.StepRecord {
	return c.steps
}

type compensation struct {
	step domain.StepType
	run  func(ctx context.Context) error
}

// AddCompensation 注册一个补偿动作。头插保证触发时按注册的逆序执行。
func (c *OrderContext) AddCompensation(step domain.StepType, run func(ctx context.Context) error) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	c.compensations = append([]compensation{{step: step, run: run}}, c.compensations...)
}

// TriggerCompensation 逆序执行所有已注册的补偿。
// 单个补偿失败被隔离：记录死信、发事件，然后继续执行剩余补偿 ——
// 一个回补卡住不能连累其它资源也回不去。
func (c *OrderContext) TriggerCompensation(ctx context.Context) {
	c.compLock.Lock()
	comps := c.compensations
	c.compensations = nil
	c.compLock.Unlock()

	if len(comps) == 0 {
		return
	}

	ctx, span := c.Tracer.Start(ctx, "saga.TriggerCompensation")
	defer span.End()

	logger.Ctx(ctx).Warn().
		Str("order_id", c.OrderID).
		Int("compensations", len(comps)).
		Msg("rolling back saga")

	for _, comp := range comps {
		if err := comp.run(ctx); err != nil {
			metrics.CompensationFailures.WithLabelValues(string(comp.step)).Inc()
			logger.Ctx(ctx).Error().
				Err(err).
				Str("order_id", c.OrderID).
				Str("step", string(comp.step)).
				Msg("compensation failed, dead-lettering for manual reconciliation")

			failed := domain.NewFailedCompensation(c.OrderID, c.UserID, comp.step, err)
			if saveErr := c.DeadLetters.Save(ctx, failed); saveErr != nil {
				// 死信都写不进去只剩日志兜底
				logger.Ctx(ctx).Error().
					Err(saveErr).
					Str("order_id", c.OrderID).
					Str("step", string(comp.step)).
					Msg("failed to persist dead-lettered compensation")
			}
			if c.Bus != nil {
				c.Bus.Publish(ctx, domain.TopicCompensationFailed, domain.CompensationFailed{
					OrderID: c.OrderID,
					Step:    comp.step,
					Error:   err.Error(),
					At:      time.Now(),
				})
			}
			continue
		}
		metrics.CompensationsExecuted.WithLabelValues(string(comp.step)).Inc()
		c.markCompensated(comp.step)
	}
}

func (c *OrderContext) markCompensated(step domain.StepType) {
	for i := len(c.steps) - 1; i >= 0; i-- {
		if c.steps[i].Step == step && c.steps[i].Status == domain.StepCompleted {
			c.steps[i].Status = domain.StepCompensated
			c.steps[i].At = time.Now()
			return
		}
	}
}

// Handler 是 Saga 步骤的责任链接口。
type Handler interface {
	SetNext(handler Handler) Handler
	Handle(orderCtx *OrderContext) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(orderCtx *OrderContext) error {
	if h.next != nil {
		return h.next.Handle(orderCtx)
	}
	return nil
}
