// internal/service/account/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"flashmart/internal/service/account/domain"
)

// UserModel 是用户余额的数据库模型。
type UserModel struct {
	ID        int64     `gorm:"primaryKey"`
	Balance   int64     `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

func toDomainUser(m *UserModel) *domain.User {
	return &domain.User{ID: m.ID, Balance: m.Balance, UpdatedAt: m.UpdatedAt}
}

// GormUserRepository 是 UserRepository 的 GORM 实现。
// Mutate 用事务内的 SELECT ... FOR UPDATE 实现读改写的串行化。
type GormUserRepository struct {
	db *gorm.DB
}

func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

func (r *GormUserRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	var model UserModel
	err := r.db.WithContext(ctx).First(&model, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, pkgerrors.Wrap(err, "find user")
	}
	return toDomainUser(&model), nil
}

func (r *GormUserRepository) Save(ctx context.Context, user *domain.User) error {
	model := &UserModel{ID: user.ID, Balance: user.Balance, UpdatedAt: user.UpdatedAt}
	err := r.db.WithContext(ctx).Save(model).Error
	return pkgerrors.Wrap(err, "save user")
}

func (r *GormUserRepository) Mutate(ctx context.Context, id int64, fn func(user *domain.User) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model UserModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, id).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrUserNotFound
			}
			return pkgerrors.Wrap(err, "lock user row")
		}
		user := toDomainUser(&model)
		if err := fn(user); err != nil {
			return err
		}
		model.Balance = user.Balance
		model.UpdatedAt = user.UpdatedAt
		return pkgerrors.Wrap(tx.Save(&model).Error, "save user")
	})
}

var _ domain.UserRepository = (*GormUserRepository)(nil)
