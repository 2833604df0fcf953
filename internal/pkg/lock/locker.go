// internal/pkg/lock/locker.go
package lock

import "context"

// KeyLocker 提供按 key 串行化的互斥访问。
//
// 优惠券发放要求 "先到先得" 的严格串行语义（见 CouponLedger），
// 这里只约定语义，不约定实现：单机部署用进程内互斥锁，
// 多实例部署可以换成 Redis 或 ZooKeeper 实现。
type KeyLocker interface {
	// Acquire 阻塞直到拿到 key 对应的锁或 ctx 结束。
	// 成功时返回释放函数，调用方必须在临界区结束时调用它。
	Acquire(ctx context.Context, key string) (release func(), err error)
}
