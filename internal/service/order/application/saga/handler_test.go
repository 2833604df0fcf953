package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"flashmart/internal/pkg/eventbus"
	"flashmart/internal/service/order/domain"
	"flashmart/internal/service/order/infrastructure"
)

func TestTriggerCompensationRunsInReverseOrder(t *testing.T) {
	orderCtx := &OrderContext{
		Ctx:         context.Background(),
		Tracer:      otel.Tracer("test"),
		OrderID:     "order-1",
		UserID:      1,
		DeadLetters: infrastructure.NewMemoryFailedCompensationRepository(),
	}

	var order []string
	orderCtx.AddCompensation(domain.StepStockDeduct, func(ctx context.Context) error {
		order = append(order, "stock")
		return nil
	})
	orderCtx.AddCompensation(domain.StepBalanceDeduct, func(ctx context.Context) error {
		order = append(order, "balance")
		return nil
	})
	orderCtx.AddCompensation(domain.StepCouponConsume, func(ctx context.Context) error {
		order = append(order, "coupon")
		return nil
	})

	orderCtx.TriggerCompensation(context.Background())

	assert.Equal(t, []string{"coupon", "balance", "stock"}, order,
		"compensations run in reverse registration order")
}

func TestTriggerCompensationIsolatesFailures(t *testing.T) {
	// 一个补偿失败进死信，剩余补偿照常执行。
	deadLetters := infrastructure.NewMemoryFailedCompensationRepository()
	orderCtx := &OrderContext{
		Ctx:         context.Background(),
		Tracer:      otel.Tracer("test"),
		OrderID:     "order-1",
		UserID:      7,
		DeadLetters: deadLetters,
		Bus:         eventbus.New(),
	}

	stockRestored := false
	orderCtx.AddCompensation(domain.StepStockDeduct, func(ctx context.Context) error {
		stockRestored = true
		return nil
	})
	orderCtx.AddCompensation(domain.StepBalanceDeduct, func(ctx context.Context) error {
		return errors.New("refund endpoint down")
	})

	orderCtx.TriggerCompensation(context.Background())

	assert.True(t, stockRestored, "failure of one compensation must not block the rest")

	failed, err := deadLetters.ListUnresolved(context.Background())
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "order-1", failed[0].OrderID)
	assert.Equal(t, int64(7), failed[0].UserID)
	assert.Equal(t, domain.StepBalanceDeduct, failed[0].Step)
	assert.Equal(t, domain.CompensationPending, failed[0].Status)
	assert.Contains(t, failed[0].ErrorMessage, "refund endpoint down")
}

func TestTriggerCompensationRunsOnce(t *testing.T) {
	orderCtx := &OrderContext{
		Ctx:         context.Background(),
		Tracer:      otel.Tracer("test"),
		OrderID:     "order-1",
		DeadLetters: infrastructure.NewMemoryFailedCompensationRepository(),
	}

	runs := 0
	orderCtx.AddCompensation(domain.StepStockDeduct, func(ctx context.Context) error {
		runs++
		return nil
	})

	orderCtx.TriggerCompensation(context.Background())
	orderCtx.TriggerCompensation(context.Background())

	assert.Equal(t, 1, runs, "a registered compensation runs exactly once")
}
