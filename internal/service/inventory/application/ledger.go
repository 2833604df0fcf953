// internal/service/inventory/application/ledger.go
package application

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"flashmart/internal/pkg/logger"
	"flashmart/internal/service/inventory/domain"
)

// InventoryLedger 是库存台账，封装所有库存变更操作。
//
// 扣减走乐观并发（版本检查）：读多写少的场景下大量读者可以无锁并行，
// 输掉竞争的写者拿到 ErrVersionConflict，由上层 Saga 决定整单失败重提。
// 回补是无条件成功的（内部 CAS 自旋），因为补偿和取消不允许失败于并发。
type InventoryLedger struct {
	options domain.OptionRepository
	tracer  trace.Tracer
}

func NewInventoryLedger(options domain.OptionRepository, tracer trace.Tracer) *InventoryLedger {
	return &InventoryLedger{options: options, tracer: tracer}
}

// Option 读取一个商品选项（校验、定价用）。
func (l *InventoryLedger) Option(ctx context.Context, optionID int64) (*domain.ProductOption, error) {
	return l.options.FindByID(ctx, optionID)
}

// HasStock 判断选项剩余库存是否满足数量。
func (l *InventoryLedger) HasStock(ctx context.Context, optionID int64, qty int) (bool, error) {
	option, err := l.options.FindByID(ctx, optionID)
	if err != nil {
		return false, err
	}
	return option.HasStock(qty), nil
}

// DeductStock 按预期版本扣减库存，成功时返回新版本号。
// expectedVersion 与当前版本不一致、或在写入竞争中落败时返回 ErrVersionConflict；
// 库存不足时返回 ErrInsufficientStock。
func (l *InventoryLedger) DeductStock(ctx context.Context, optionID int64, qty int, expectedVersion int64) (int64, error) {
	ctx, span := l.tracer.Start(ctx, "inventory.DeductStock")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("option.id", optionID),
		attribute.Int("deduct.qty", qty),
		attribute.Int64("expected.version", expectedVersion),
	)

	option, err := l.options.FindByID(ctx, optionID)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if option.Version != expectedVersion {
		span.SetStatus(codes.Error, "stale version")
		return 0, fmt.Errorf("%w: option %d has version %d, expected %d",
			domain.ErrVersionConflict, optionID, option.Version, expectedVersion)
	}
	if err := option.Deduct(qty); err != nil {
		span.RecordError(err)
		return 0, err
	}
	option.Version = expectedVersion + 1

	ok, err := l.options.UpdateWithVersion(ctx, option, expectedVersion)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if !ok {
		// 读到写入之间被别人抢先，和读时版本过期同等对待
		span.SetStatus(codes.Error, "lost write race")
		return 0, fmt.Errorf("%w: option %d write race lost", domain.ErrVersionConflict, optionID)
	}

	if option.Stock == 0 {
		// 派生的商品售罄状态：整个商品的剩余库存归零时记录一条事件日志
		total, terr := l.options.TotalStockByProduct(ctx, option.ProductID)
		if terr == nil && total == 0 {
			logger.Ctx(ctx).Info().
				Int64("product_id", option.ProductID).
				Msg("product sold out across all options")
			span.AddEvent("product sold out")
		}
	}

	return option.Version, nil
}

// RestoreStock 回补库存。对合法的选项永远成功：
// 版本竞争时内部自旋重试，而不是把冲突抛给补偿方。
func (l *InventoryLedger) RestoreStock(ctx context.Context, optionID int64, qty int) error {
	ctx, span := l.tracer.Start(ctx, "inventory.RestoreStock")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("option.id", optionID),
		attribute.Int("restore.qty", qty),
	)

	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	for {
		option, err := l.options.FindByID(ctx, optionID)
		if err != nil {
			span.RecordError(err)
			return err
		}
		expected := option.Version
		if err := option.Restore(qty); err != nil {
			span.RecordError(err)
			return err
		}
		option.Version = expected + 1

		ok, err := l.options.UpdateWithVersion(ctx, option, expected)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// ProductSoldOut 返回一个商品是否已经全选项售罄（派生状态）。
func (l *InventoryLedger) ProductSoldOut(ctx context.Context, productID int64) (bool, error) {
	total, err := l.options.TotalStockByProduct(ctx, productID)
	if err != nil {
		return false, err
	}
	return total == 0, nil
}
