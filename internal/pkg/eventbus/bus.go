// internal/pkg/eventbus/bus.go
package eventbus

import (
	"context"
	"sync"

	"flashmart/internal/pkg/logger"
)

// Handler 处理一条进程内事件。
type Handler func(ctx context.Context, event any)

// Bus 是一个同步的进程内事件总线。
// 编排器在事务提交之后通过它发布领域事件（fire-and-forget）：
// 订阅者的 panic 和错误都不会影响已经提交的业务结果。
type Bus struct {
	lock     sync.RWMutex
	handlers map[string][]Handler
}

func New() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe 注册一个 topic 的订阅者。
func (b *Bus) Subscribe(topic string, h Handler) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish 同步地把事件分发给所有订阅者。
// 单个订阅者 panic 只会被记录，不会中断其余订阅者。
func (b *Bus) Publish(ctx context.Context, topic string, event any) {
	b.lock.RLock()
	hs := b.handlers[topic]
	b.lock.RUnlock()

	for _, h := range hs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Ctx(ctx).Error().
						Str("topic", topic).
						Interface("panic", r).
						Msg("event subscriber panicked")
				}
			}()
			h(ctx, event)
		}()
	}
}
