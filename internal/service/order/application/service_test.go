package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"flashmart/internal/pkg/eventbus"
	"flashmart/internal/pkg/lock"
	accountapp "flashmart/internal/service/account/application"
	accountdomain "flashmart/internal/service/account/domain"
	accountinfra "flashmart/internal/service/account/infrastructure"
	inventoryapp "flashmart/internal/service/inventory/application"
	inventorydomain "flashmart/internal/service/inventory/domain"
	inventoryinfra "flashmart/internal/service/inventory/infrastructure"
	"flashmart/internal/service/order/domain"
	orderinfra "flashmart/internal/service/order/infrastructure"
	outboxdomain "flashmart/internal/service/outbox/domain"
	outboxinfra "flashmart/internal/service/outbox/infrastructure"
	promotionapp "flashmart/internal/service/promotion/application"
	promotiondomain "flashmart/internal/service/promotion/domain"
	promotioninfra "flashmart/internal/service/promotion/infrastructure"
	"flashmart/internal/service/promotion/infrastructure/rule"
)

type env struct {
	service     *OrderApplicationService
	options     *inventoryinfra.MemoryOptionRepository
	users       *accountinfra.MemoryUserRepository
	coupons     *promotioninfra.MemoryCouponRepository
	userCoupons *promotioninfra.MemoryUserCouponRepository
	orders      *orderinfra.MemoryOrderRepository
	deadLetters *orderinfra.MemoryFailedCompensationRepository
	outbox      *outboxinfra.MemoryOutboxRepository
	bus         *eventbus.Bus
	ledger      *promotionapp.CouponLedger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	tracer := otel.Tracer("test")

	options := inventoryinfra.NewMemoryOptionRepository()
	users := accountinfra.NewMemoryUserRepository()
	coupons := promotioninfra.NewMemoryCouponRepository()
	userCoupons := promotioninfra.NewMemoryUserCouponRepository()
	orders := orderinfra.NewMemoryOrderRepository()
	deadLetters := orderinfra.NewMemoryFailedCompensationRepository()
	outbox := outboxinfra.NewMemoryOutboxRepository()
	bus := eventbus.New()

	rules, err := rule.NewCELRuleEngineAdapter()
	require.NoError(t, err)

	couponLedger := promotionapp.NewCouponLedger(coupons, userCoupons, lock.NewKeyMutex(), rules, tracer)
	service := NewOrderApplicationService(
		inventoryapp.NewInventoryLedger(options, tracer),
		accountapp.NewBalanceLedger(users, tracer),
		couponLedger,
		orders,
		deadLetters,
		orderinfra.NewMemoryTxManager(orders, outbox),
		lock.NewKeyMutex(),
		bus,
		tracer,
	)

	return &env{
		service:     service,
		options:     options,
		users:       users,
		coupons:     coupons,
		userCoupons: userCoupons,
		orders:      orders,
		deadLetters: deadLetters,
		outbox:      outbox,
		bus:         bus,
		ledger:      couponLedger,
	}
}

func (e *env) seedOption(t *testing.T, id, productID int64, price int64, stock int) {
	t.Helper()
	require.NoError(t, e.options.Save(context.Background(), &inventorydomain.ProductOption{
		ID: id, ProductID: productID, UnitPrice: price, Stock: stock, Version: 1,
	}))
}

func (e *env) seedUser(t *testing.T, id, balance int64) {
	t.Helper()
	require.NoError(t, e.users.Save(context.Background(), &accountdomain.User{ID: id, Balance: balance}))
}

func (e *env) seedCoupon(t *testing.T, id int64, value int64, remaining int) {
	t.Helper()
	require.NoError(t, e.coupons.Save(context.Background(), &promotiondomain.Coupon{
		ID:            id,
		DiscountType:  promotiondomain.DiscountFixedAmount,
		DiscountValue: value,
		RemainingQty:  remaining,
		TotalQty:      remaining,
		ValidFrom:     time.Now().Add(-time.Hour),
		ValidUntil:    time.Now().Add(time.Hour),
		IsActive:      true,
	}))
}

func (e *env) stock(t *testing.T, optionID int64) int {
	t.Helper()
	option, err := e.options.FindByID(context.Background(), optionID)
	require.NoError(t, err)
	return option.Stock
}

func (e *env) balance(t *testing.T, userID int64) int64 {
	t.Helper()
	user, err := e.users.FindByID(context.Background(), userID)
	require.NoError(t, err)
	return user.Balance
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path commits order and outbox entry atomically", func(t *testing.T) {
		e := newEnv(t)
		e.seedOption(t, 1, 10, 300, 5)
		e.seedUser(t, 100, 1000)

		var completed []string
		e.bus.Subscribe(domain.TopicSagaCompleted, func(ctx context.Context, event any) {
			completed = append(completed, event.(domain.SagaCompleted).OrderID)
		})

		result, err := e.service.CreateOrder(ctx, CreateOrderCommand{
			UserID: 100,
			Items:  []ItemInput{{OptionID: 1, Qty: 2}},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, result.Status)
		assert.Equal(t, int64(600), result.Subtotal)
		assert.Equal(t, int64(600), result.FinalAmount)

		assert.Equal(t, 3, e.stock(t, 1))
		assert.Equal(t, int64(400), e.balance(t, 100))

		order, err := e.orders.FindByID(ctx, result.OrderID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, order.Status)
		require.Len(t, order.Items, 1)
		assert.Equal(t, int64(300), order.Items[0].UnitPrice, "unit price is snapshotted on the order line")

		entries, err := e.outbox.FindByOrder(ctx, result.OrderID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, outboxdomain.TypeOrderCompleted, entries[0].Type)
		assert.Equal(t, outboxdomain.StatusPending, entries[0].Status)
		assert.Equal(t, int64(100), entries[0].UserID)

		assert.Equal(t, []string{result.OrderID}, completed)
	})

	t.Run("insufficient balance rolls back deducted stock", func(t *testing.T) {
		e := newEnv(t)
		e.seedOption(t, 1, 10, 300, 5)
		e.seedUser(t, 100, 100)

		var failures []domain.SagaFailed
		e.bus.Subscribe(domain.TopicSagaFailed, func(ctx context.Context, event any) {
			failures = append(failures, event.(domain.SagaFailed))
		})

		result, err := e.service.CreateOrder(ctx, CreateOrderCommand{
			UserID: 100,
			Items:  []ItemInput{{OptionID: 1, Qty: 2}},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, accountdomain.ErrInsufficientBalance)
		assert.Equal(t, domain.StatusFailed, result.Status)
		assert.Equal(t, ReasonInsufficientBalance, result.Reason)

		assert.Equal(t, 5, e.stock(t, 1), "stock deduction must be compensated")
		assert.Equal(t, int64(100), e.balance(t, 100))

		_, err = e.orders.FindByID(ctx, result.OrderID)
		assert.ErrorIs(t, err, domain.ErrOrderNotFound, "failed saga persists no order")

		entries, err := e.outbox.FindByOrder(ctx, result.OrderID)
		require.NoError(t, err)
		assert.Empty(t, entries, "failed saga enqueues no notification")

		require.Len(t, failures, 1)
		assert.Equal(t, ReasonInsufficientBalance, failures[0].Reason)

		failed, err := e.deadLetters.ListUnresolved(ctx)
		require.NoError(t, err)
		assert.Empty(t, failed, "successful compensations produce no dead letters")
	})

	t.Run("insufficient stock fails during validation", func(t *testing.T) {
		e := newEnv(t)
		e.seedOption(t, 1, 10, 300, 1)
		e.seedUser(t, 100, 1000)

		result, err := e.service.CreateOrder(ctx, CreateOrderCommand{
			UserID: 100,
			Items:  []ItemInput{{OptionID: 1, Qty: 2}},
		})
		require.Error(t, err)
		assert.Equal(t, ReasonInsufficientStock, result.Reason)
		assert.Equal(t, 1, e.stock(t, 1))
		assert.Equal(t, int64(1000), e.balance(t, 100))
	})

	t.Run("validation failures", func(t *testing.T) {
		e := newEnv(t)
		e.seedOption(t, 1, 10, 300, 5)
		e.seedUser(t, 100, 1000)

		tests := []struct {
			name   string
			cmd    CreateOrderCommand
			reason string
		}{
			{"empty items", CreateOrderCommand{UserID: 100}, ReasonValidation},
			{"zero quantity", CreateOrderCommand{UserID: 100, Items: []ItemInput{{OptionID: 1, Qty: 0}}}, ReasonValidation},
			{"unknown option", CreateOrderCommand{UserID: 100, Items: []ItemInput{{OptionID: 9, Qty: 1}}}, ReasonNotFound},
			{"option not in product", CreateOrderCommand{UserID: 100, Items: []ItemInput{{ProductID: 99, OptionID: 1, Qty: 1}}}, ReasonValidation},
			{"unknown user", CreateOrderCommand{UserID: 999, Items: []ItemInput{{OptionID: 1, Qty: 1}}}, ReasonNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				result, err := e.service.CreateOrder(ctx, tt.cmd)
				require.Error(t, err)
				assert.Equal(t, domain.StatusFailed, result.Status)
				assert.Equal(t, tt.reason, result.Reason)
			})
		}
	})

	t.Run("coupon discount is applied before debit", func(t *testing.T) {
		e := newEnv(t)
		e.seedOption(t, 1, 10, 300, 5)
		e.seedUser(t, 100, 500)
		e.seedCoupon(t, 7, 200, 1)

		userCoupon, err := e.ledger.IssueNext(ctx, 7, 100)
		require.NoError(t, err)

		// 小计 600 超出余额 500，但券抵掉 200 后应付 400，订单应当成功
		result, err := e.service.CreateOrder(ctx, CreateOrderCommand{
			UserID:       100,
			Items:        []ItemInput{{OptionID: 1, Qty: 2}},
			UserCouponID: userCoupon.ID,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(600), result.Subtotal)
		assert.Equal(t, int64(200), result.Discount)
		assert.Equal(t, int64(400), result.FinalAmount)
		assert.Equal(t, int64(100), e.balance(t, 100))

		stored, err := e.userCoupons.FindByID(ctx, userCoupon.ID)
		require.NoError(t, err)
		assert.Equal(t, promotiondomain.StatusUsed, stored.Status)
		assert.Equal(t, result.OrderID, stored.OrderID)
	})

	t.Run("used coupon fails the saga before any deduction", func(t *testing.T) {
		e := newEnv(t)
		e.seedOption(t, 1, 10, 300, 5)
		e.seedUser(t, 100, 1000)
		e.seedCoupon(t, 7, 200, 1)

		userCoupon, err := e.ledger.IssueNext(ctx, 7, 100)
		require.NoError(t, err)
		require.NoError(t, e.ledger.Consume(ctx, userCoupon.ID, "other-order", promotiondomain.Fact{UserID: 100}))

		result, err := e.service.CreateOrder(ctx, CreateOrderCommand{
			UserID:       100,
			Items:        []ItemInput{{OptionID: 1, Qty: 1}},
			UserCouponID: userCoupon.ID,
		})
		require.Error(t, err)
		assert.Equal(t, ReasonCouponUnavailable, result.Reason)
		assert.Equal(t, 5, e.stock(t, 1))
		assert.Equal(t, int64(1000), e.balance(t, 100))
	})
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("restores stock, balance and coupon", func(t *testing.T) {
		e := newEnv(t)
		e.seedOption(t, 1, 10, 300, 5)
		e.seedUser(t, 100, 1000)
		e.seedCoupon(t, 7, 200, 1)

		userCoupon, err := e.ledger.IssueNext(ctx, 7, 100)
		require.NoError(t, err)

		created, err := e.service.CreateOrder(ctx, CreateOrderCommand{
			UserID:       100,
			Items:        []ItemInput{{OptionID: 1, Qty: 2}},
			UserCouponID: userCoupon.ID,
		})
		require.NoError(t, err)
		require.Equal(t, 3, e.stock(t, 1))
		require.Equal(t, int64(600), e.balance(t, 100))

		cancelled, err := e.service.CancelOrder(ctx, created.OrderID, 100)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCancelled, cancelled.Status)

		assert.Equal(t, 5, e.stock(t, 1))
		assert.Equal(t, int64(1000), e.balance(t, 100), "only the discounted amount is refunded")

		stored, err := e.userCoupons.FindByID(ctx, userCoupon.ID)
		require.NoError(t, err)
		assert.Equal(t, promotiondomain.StatusUnused, stored.Status)

		coupon, err := e.coupons.FindByID(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, 1, coupon.RemainingQty, "cancellation returns the coupon quota")
		assert.True(t, coupon.IsActive)

		entries, err := e.outbox.FindByOrder(ctx, created.OrderID)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, outboxdomain.TypeOrderCancelled, entries[1].Type)
	})

	t.Run("cancel is not repeatable", func(t *testing.T) {
		e := newEnv(t)
		e.seedOption(t, 1, 10, 300, 5)
		e.seedUser(t, 100, 1000)

		created, err := e.service.CreateOrder(ctx, CreateOrderCommand{
			UserID: 100,
			Items:  []ItemInput{{OptionID: 1, Qty: 1}},
		})
		require.NoError(t, err)

		_, err = e.service.CancelOrder(ctx, created.OrderID, 100)
		require.NoError(t, err)

		_, err = e.service.CancelOrder(ctx, created.OrderID, 100)
		assert.ErrorIs(t, err, domain.ErrNotCancellable)

		assert.Equal(t, 5, e.stock(t, 1), "second cancel must not restore twice")
		assert.Equal(t, int64(1000), e.balance(t, 100))
	})

	t.Run("concurrent cancels restore exactly once", func(t *testing.T) {
		e := newEnv(t)
		e.seedOption(t, 1, 10, 300, 5)
		e.seedUser(t, 100, 1000)

		created, err := e.service.CreateOrder(ctx, CreateOrderCommand{
			UserID: 100,
			Items:  []ItemInput{{OptionID: 1, Qty: 2}},
		})
		require.NoError(t, err)
		require.Equal(t, 3, e.stock(t, 1))

		const cancellers = 4
		errs := make([]error, cancellers)
		var wg sync.WaitGroup
		for i := 0; i < cancellers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = e.service.CancelOrder(ctx, created.OrderID, 100)
			}(i)
		}
		wg.Wait()

		successes := 0
		for _, err := range errs {
			if err == nil {
				successes++
				continue
			}
			assert.ErrorIs(t, err, domain.ErrNotCancellable)
		}
		assert.Equal(t, 1, successes, "exactly one cancellation proceeds")

		assert.Equal(t, 5, e.stock(t, 1), "stock returns exactly to its pre-order value")
		assert.Equal(t, int64(1000), e.balance(t, 100), "balance is refunded exactly once")

		entries, err := e.outbox.FindByOrder(ctx, created.OrderID)
		require.NoError(t, err)
		require.Len(t, entries, 2, "a single cancellation notification is enqueued")
		assert.Equal(t, outboxdomain.TypeOrderCancelled, entries[1].Type)
	})

	t.Run("ownership is enforced", func(t *testing.T) {
		e := newEnv(t)
		e.seedOption(t, 1, 10, 300, 5)
		e.seedUser(t, 100, 1000)

		created, err := e.service.CreateOrder(ctx, CreateOrderCommand{
			UserID: 100,
			Items:  []ItemInput{{OptionID: 1, Qty: 1}},
		})
		require.NoError(t, err)

		_, err = e.service.CancelOrder(ctx, created.OrderID, 200)
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})

	t.Run("unknown order", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.service.CancelOrder(ctx, "missing", 100)
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})
}

func TestListOrders(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedOption(t, 1, 10, 100, 10)
	e.seedUser(t, 100, 10_000)
	e.seedUser(t, 200, 10_000)

	first, err := e.service.CreateOrder(ctx, CreateOrderCommand{UserID: 100, Items: []ItemInput{{OptionID: 1, Qty: 1}}})
	require.NoError(t, err)
	second, err := e.service.CreateOrder(ctx, CreateOrderCommand{UserID: 100, Items: []ItemInput{{OptionID: 1, Qty: 2}}})
	require.NoError(t, err)
	_, err = e.service.CreateOrder(ctx, CreateOrderCommand{UserID: 200, Items: []ItemInput{{OptionID: 1, Qty: 1}}})
	require.NoError(t, err)

	orders, err := e.service.ListOrders(ctx, 100)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, first.OrderID, orders[0].ID)
	assert.Equal(t, second.OrderID, orders[1].ID)
}
