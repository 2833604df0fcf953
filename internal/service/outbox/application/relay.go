// internal/service/outbox/application/relay.go
package application

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/metrics"
	"flashmart/internal/service/outbox/domain"
)

// RelayConfig 控制投递节奏。
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
	Concurrency  int
}

func (c *RelayConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
}

// Relay 是 outbox 投递 worker：独立于请求路径运行，
// 定时拉取待投递条目并调用外部通知端口。
// 它的任何失败都不会回滚已经提交的订单 —— 投递与下单是设计上解耦的。
type Relay struct {
	repo      domain.Repository
	publisher domain.NotificationPublisher
	cfg       RelayConfig
	tracer    trace.Tracer

	wg sync.WaitGroup
}

func NewRelay(repo domain.Repository, publisher domain.NotificationPublisher, cfg RelayConfig, tracer trace.Tracer) *Relay {
	cfg.applyDefaults()
	return &Relay{repo: repo, publisher: publisher, cfg: cfg, tracer: tracer}
}

// Start 启动轮询循环，ctx 结束后退出。
func (r *Relay) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.PollInterval)
		defer ticker.Stop()

		logger.Logger().Info().
			Dur("interval", r.cfg.PollInterval).
			Int("batch", r.cfg.BatchSize).
			Msg("outbox relay started")

		for {
			select {
			case <-ctx.Done():
				logger.Logger().Info().Msg("outbox relay stopped")
				return
			case <-ticker.C:
				if err := r.DrainOnce(ctx); err != nil && ctx.Err() == nil {
					logger.Logger().Error().Err(err).Msg("outbox drain failed")
				}
			}
		}
	}()
}

// Wait 阻塞到轮询循环退出，优雅关停用。
func (r *Relay) Wait() {
	r.wg.Wait()
}

// DrainOnce 拉取一批可投递条目并并行投递（并发有上界）。
// 单条投递失败只影响该条目的重试计数，不影响同批其他条目。
func (r *Relay) DrainOnce(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "outbox.DrainOnce")
	defer span.End()

	entries, err := r.repo.FetchDeliverable(ctx, r.cfg.BatchSize, r.cfg.MaxRetries)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	span.SetAttributes(attribute.Int("batch.size", len(entries)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			r.deliver(gctx, entry)
			return nil
		})
	}
	return g.Wait()
}

func (r *Relay) deliver(ctx context.Context, entry *domain.Entry) {
	ctx, span := r.tracer.Start(ctx, "outbox.Deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("message.id", entry.MessageID),
		attribute.String("message.type", string(entry.Type)),
		attribute.Int("retry.count", entry.RetryCount),
	)

	now := time.Now()
	if err := r.publisher.Publish(ctx, entry); err != nil {
		span.RecordError(err)
		entry.MarkFailed(now)
		metrics.OutboxRetries.Inc()

		evt := logger.Ctx(ctx).Warn()
		if entry.RetryCount >= r.cfg.MaxRetries {
			// 到达上限：停留在 FAILED，等待人工对账
			evt = logger.Ctx(ctx).Error()
		}
		evt.Err(err).
			Str("message_id", entry.MessageID).
			Int("retry_count", entry.RetryCount).
			Msg("outbox delivery failed")
	} else {
		entry.MarkSent(now)
		metrics.OutboxDelivered.Inc()
	}

	if err := r.repo.Update(ctx, entry); err != nil {
		// 写回失败下一轮会重新拉到该条目，投递语义是 at-least-once
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).
			Str("message_id", entry.MessageID).
			Msg("failed to persist outbox delivery result")
	}
}
