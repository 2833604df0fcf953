// internal/service/order/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"

	"flashmart/internal/service/order/domain"
	outboxdomain "flashmart/internal/service/outbox/domain"
	outboxinfra "flashmart/internal/service/outbox/infrastructure"
)

// OrderModel 是订单头的数据库模型。
type OrderModel struct {
	ID           string           `gorm:"primaryKey;type:varchar(36)"`
	UserID       int64            `gorm:"index;not null"`
	Status       string           `gorm:"type:varchar(16);index;not null"`
	Subtotal     int64            `gorm:"not null"`
	Discount     int64            `gorm:"not null"`
	FinalAmount  int64            `gorm:"not null"`
	UserCouponID string           `gorm:"type:varchar(36)"`
	Items        []OrderItemModel `gorm:"foreignKey:OrderID;references:ID"`
	CreatedAt    time.Time        `gorm:"not null"`
	UpdatedAt    time.Time        `gorm:"not null"`
}

func (OrderModel) TableName() string { return "orders" }

// OrderItemModel 是订单行的数据库模型。
type OrderItemModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	OrderID   string `gorm:"index;type:varchar(36);not null"`
	ProductID int64  `gorm:"not null"`
	OptionID  int64  `gorm:"not null"`
	Qty       int    `gorm:"not null"`
	UnitPrice int64  `gorm:"not null"`
}

func (OrderItemModel) TableName() string { return "order_items" }

func toDomainOrder(m *OrderModel) *domain.Order {
	items := make([]domain.OrderItem, 0, len(m.Items))
	for _, im := range m.Items {
		items = append(items, domain.OrderItem{
			ProductID: im.ProductID,
			OptionID:  im.OptionID,
			Qty:       im.Qty,
			UnitPrice: im.UnitPrice,
		})
	}
	return &domain.Order{
		ID:           m.ID,
		UserID:       m.UserID,
		Status:       domain.Status(m.Status),
		Items:        items,
		Subtotal:     m.Subtotal,
		Discount:     m.Discount,
		FinalAmount:  m.FinalAmount,
		UserCouponID: m.UserCouponID,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func toOrderModel(o *domain.Order) *OrderModel {
	items := make([]OrderItemModel, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItemModel{
			OrderID:   o.ID,
			ProductID: item.ProductID,
			OptionID:  item.OptionID,
			Qty:       item.Qty,
			UnitPrice: item.UnitPrice,
		})
	}
	return &OrderModel{
		ID:           o.ID,
		UserID:       o.UserID,
		Status:       string(o.Status),
		Subtotal:     o.Subtotal,
		Discount:     o.Discount,
		FinalAmount:  o.FinalAmount,
		UserCouponID: o.UserCouponID,
		Items:        items,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

// GormOrderRepository 是 OrderRepository 的 GORM 实现。
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	model := toOrderModel(order)
	err := r.db.WithContext(ctx).Save(model).Error
	if err != nil {
		var mysqlErr *gomysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return domain.ErrDuplicateOrder
		}
		return pkgerrors.Wrap(err, "save order")
	}
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Preload("Items").First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, pkgerrors.Wrap(err, "find order by id")
	}
	return toDomainOrder(&model), nil
}

func (r *GormOrderRepository) FindByUser(ctx context.Context, userID int64) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, pkgerrors.Wrap(err, "find orders by user")
	}
	out := make([]*domain.Order, 0, len(models))
	for i := range models {
		out = append(out, toDomainOrder(&models[i]))
	}
	return out, nil
}

var _ domain.OrderRepository = (*GormOrderRepository)(nil)

// FailedCompensationModel 是补偿死信的数据库模型。
type FailedCompensationModel struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)"`
	OrderID      string    `gorm:"index;type:varchar(36);not null"`
	UserID       int64     `gorm:"not null"`
	Step         string    `gorm:"type:varchar(32);not null"`
	ErrorMessage string    `gorm:"type:text"`
	Status       string    `gorm:"type:varchar(16);index;not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (FailedCompensationModel) TableName() string { return "failed_compensations" }

// GormFailedCompensationRepository 是补偿死信的 GORM 实现。
type GormFailedCompensationRepository struct {
	db *gorm.DB
}

func NewGormFailedCompensationRepository(db *gorm.DB) *GormFailedCompensationRepository {
	return &GormFailedCompensationRepository{db: db}
}

func (r *GormFailedCompensationRepository) Save(ctx context.Context, failed *domain.FailedCompensation) error {
	model := &FailedCompensationModel{
		ID:           failed.ID,
		OrderID:      failed.OrderID,
		UserID:       failed.UserID,
		Step:         string(failed.Step),
		ErrorMessage: failed.ErrorMessage,
		Status:       string(failed.Status),
		CreatedAt:    failed.CreatedAt,
	}
	return pkgerrors.Wrap(r.db.WithContext(ctx).Save(model).Error, "save failed compensation")
}

func (r *GormFailedCompensationRepository) ListUnresolved(ctx context.Context) ([]*domain.FailedCompensation, error) {
	var models []FailedCompensationModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(domain.CompensationPending)).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list unresolved compensations")
	}
	out := make([]*domain.FailedCompensation, 0, len(models))
	for i := range models {
		m := models[i]
		out = append(out, &domain.FailedCompensation{
			ID:           m.ID,
			OrderID:      m.OrderID,
			UserID:       m.UserID,
			Step:         domain.StepType(m.Step),
			ErrorMessage: m.ErrorMessage,
			Status:       domain.FailedCompensationStatus(m.Status),
			CreatedAt:    m.CreatedAt,
		})
	}
	return out, nil
}

var _ domain.FailedCompensationRepository = (*GormFailedCompensationRepository)(nil)

// GormTxManager 用数据库事务实现工作单元：
// 订单写入和 outbox 写入落在同一个事务里，提交后再跑 AfterCommit 回调。
type GormTxManager struct {
	db *gorm.DB
}

func NewGormTxManager(db *gorm.DB) *GormTxManager {
	return &GormTxManager{db: db}
}

type gormUnitOfWork struct {
	orders domain.OrderRepository
	outbox outboxdomain.Repository
	hooks  []func()
}

func (u *gormUnitOfWork) Orders() domain.OrderRepository  { return u.orders }
func (u *gormUnitOfWork) Outbox() outboxdomain.Repository { return u.outbox }
func (u *gormUnitOfWork) AfterCommit(fn func())           { u.hooks = append(u.hooks, fn) }

func (m *GormTxManager) Do(ctx context.Context, fn func(uow domain.UnitOfWork) error) error {
	var hooks []func()
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		uow := &gormUnitOfWork{
			orders: NewGormOrderRepository(tx),
			outbox: outboxinfra.NewGormOutboxRepository(tx),
		}
		if err := fn(uow); err != nil {
			return err
		}
		hooks = uow.hooks
		return nil
	})
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		hook()
	}
	return nil
}

var _ domain.TxManager = (*GormTxManager)(nil)
