// internal/service/inventory/domain/repository.go
package domain

import "context"

// OptionRepository 定义了库存聚合的持久化接口。
// 它位于领域层，由基础设施层实现。
type OptionRepository interface {
	// FindByID 根据 ID 查找一个商品选项。
	FindByID(ctx context.Context, id int64) (*ProductOption, error)

	// Save 保存一个商品选项（用于创建或无条件更新）。
	Save(ctx context.Context, option *ProductOption) error

	// UpdateWithVersion 带版本条件地更新：只有当存储中的版本仍等于
	// expectedVersion 时写入才生效，并把版本推进为 option.Version。
	// 版本不匹配时返回 ok=false，调用方据此判定并发冲突。
	UpdateWithVersion(ctx context.Context, option *ProductOption, expectedVersion int64) (ok bool, err error)

	// TotalStockByProduct 汇总一个商品所有选项的剩余库存。
	// 商品的售罄状态由此派生，不单独存储。
	TotalStockByProduct(ctx context.Context, productID int64) (int, error)
}
