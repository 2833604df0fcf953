// internal/service/inventory/domain/option.go
package domain

import (
	"errors"
	"time"
)

var (
	ErrOptionNotFound    = errors.New("product option not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrVersionConflict   = errors.New("stock version conflict")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

// ProductOption 是库存聚合的根实体。
// 库存采用乐观并发：每次变更都会推进 Version，
// 带着过期版本号的写入会被仓储层拒绝（见 OptionRepository.UpdateWithVersion）。
type ProductOption struct {
	ID        int64
	ProductID int64
	Name      string
	UnitPrice int64 // 单价，最小货币单位
	Stock     int
	Version   int64
	UpdatedAt time.Time
}

// HasStock 判断剩余库存是否满足请求数量。
func (o *ProductOption) HasStock(qty int) bool {
	return o.Stock >= qty
}

// Deduct 扣减库存。库存永远不会为负。
func (o *ProductOption) Deduct(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if o.Stock < qty {
		return ErrInsufficientStock
	}
	o.Stock -= qty
	o.UpdatedAt = time.Now()
	return nil
}

// Restore 回补库存，用于补偿和取消流程。
func (o *ProductOption) Restore(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	o.Stock += qty
	o.UpdatedAt = time.Now()
	return nil
}
