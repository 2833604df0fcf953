// internal/service/account/domain/user.go
package domain

import (
	"errors"
	"time"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// User 是余额聚合。余额永远不为负。
type User struct {
	ID        int64
	Balance   int64
	UpdatedAt time.Time
}

// Debit 扣减余额。
func (u *User) Debit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if u.Balance < amount {
		return ErrInsufficientBalance
	}
	u.Balance -= amount
	u.UpdatedAt = time.Now()
	return nil
}

// Credit 增加余额。
func (u *User) Credit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	u.Balance += amount
	u.UpdatedAt = time.Now()
	return nil
}
