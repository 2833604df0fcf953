// internal/pkg/lock/redis.go
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"flashmart/internal/pkg/logger"
)

const (
	redisLockPrefix = "lock:"
	redisLockTTL    = 10 * time.Second
	redisRetryDelay = 20 * time.Millisecond
)

// releaseScript 只删除仍然由自己持有的锁，避免误删他人持有的锁。
var releaseScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
else
    return 0
end
`)

// RedisLocker 是 KeyLocker 的 Redis 实现（SET NX PX + Lua 释放）。
// 用于多实例部署时跨节点串行化优惠券发放。
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := redisLockPrefix + key
	token := uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, redisLockTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-time.After(redisRetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	release := func() {
		// 释放用独立的超时上下文：调用方的 ctx 可能已经结束
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			logger.Logger().Error().Err(err).Str("key", key).Msg("failed to release redis lock")
		}
	}
	return release, nil
}

var _ KeyLocker = (*RedisLocker)(nil)
