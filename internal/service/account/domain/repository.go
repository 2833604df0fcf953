// internal/service/account/domain/repository.go
package domain

import "context"

// UserRepository 定义了余额聚合的持久化接口。
// Mutate 在仓储自身的串行化保证下原子地读取-修改-写回一个用户，
// 余额变更全部走这条路径，避免丢失更新。
type UserRepository interface {
	FindByID(ctx context.Context, id int64) (*User, error)
	Save(ctx context.Context, user *User) error
	Mutate(ctx context.Context, id int64, fn func(user *User) error) error
}
