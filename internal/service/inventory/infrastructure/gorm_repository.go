// internal/service/inventory/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"

	"flashmart/internal/service/inventory/domain"
)

// ProductOptionModel 是商品选项的数据库模型。
type ProductOptionModel struct {
	ID        int64     `gorm:"primaryKey"`
	ProductID int64     `gorm:"index;not null"`
	Name      string    `gorm:"type:varchar(255);not null"`
	UnitPrice int64     `gorm:"not null"`
	Stock     int       `gorm:"not null"`
	Version   int64     `gorm:"not null;default:1"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (ProductOptionModel) TableName() string { return "product_options" }

func toDomainOption(m *ProductOptionModel) *domain.ProductOption {
	return &domain.ProductOption{
		ID:        m.ID,
		ProductID: m.ProductID,
		Name:      m.Name,
		UnitPrice: m.UnitPrice,
		Stock:     m.Stock,
		Version:   m.Version,
		UpdatedAt: m.UpdatedAt,
	}
}

func toOptionModel(o *domain.ProductOption) *ProductOptionModel {
	return &ProductOptionModel{
		ID:        o.ID,
		ProductID: o.ProductID,
		Name:      o.Name,
		UnitPrice: o.UnitPrice,
		Stock:     o.Stock,
		Version:   o.Version,
		UpdatedAt: o.UpdatedAt,
	}
}

// GormOptionRepository 是 OptionRepository 的 GORM 实现。
type GormOptionRepository struct {
	db *gorm.DB
}

func NewGormOptionRepository(db *gorm.DB) *GormOptionRepository {
	return &GormOptionRepository{db: db}
}

func (r *GormOptionRepository) FindByID(ctx context.Context, id int64) (*domain.ProductOption, error) {
	var model ProductOptionModel
	err := r.db.WithContext(ctx).First(&model, id).Error
	if err != nil {
		if pkgerrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOptionNotFound
		}
		return nil, pkgerrors.Wrap(err, "find product option")
	}
	return toDomainOption(&model), nil
}

func (r *GormOptionRepository) Save(ctx context.Context, option *domain.ProductOption) error {
	err := r.db.WithContext(ctx).Save(toOptionModel(option)).Error
	return pkgerrors.Wrap(err, "save product option")
}

// UpdateWithVersion 用版本号做条件更新，天然对应
// UPDATE ... WHERE id = ? AND version = ? 的乐观锁写法。
func (r *GormOptionRepository) UpdateWithVersion(ctx context.Context, option *domain.ProductOption, expectedVersion int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&ProductOptionModel{}).
		Where("id = ? AND version = ?", option.ID, expectedVersion).
		Updates(map[string]interface{}{
			"stock":      option.Stock,
			"version":    option.Version,
			"updated_at": option.UpdatedAt,
		})
	if result.Error != nil {
		return false, pkgerrors.Wrap(result.Error, "update product option")
	}
	return result.RowsAffected == 1, nil
}

func (r *GormOptionRepository) TotalStockByProduct(ctx context.Context, productID int64) (int, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&ProductOptionModel{}).
		Where("product_id = ?", productID).
		Select("COALESCE(SUM(stock), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, pkgerrors.Wrap(err, "sum product stock")
	}
	return int(total), nil
}

var _ domain.OptionRepository = (*GormOptionRepository)(nil)
