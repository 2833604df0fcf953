// cmd/notification-service/main.go
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"flashmart/internal/pkg/bootstrap"
	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/mq"
	"flashmart/internal/pkg/tracing"
)

const (
	serviceName     = "notification-service"
	consumerGroupID = "notification-group"
)

var tracer = otel.Tracer(serviceName)

// NotificationEvent 是 outbox relay 投递到 Kafka 的消息结构。
type NotificationEvent struct {
	MessageID string          `json:"messageId"`
	OrderID   string          `json:"orderId"`
	UserID    int64           `json:"userId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func main() {
	logger.Init(serviceName)
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

	tp, err := tracing.InitTracerProvider(serviceName, cfg.Infra.Jaeger.Endpoint, cfg.Infra.Jaeger.SamplerRatio)
	if err != nil {
		logger.Logger().Fatal().Err(err).Msg("failed to initialize tracer provider")
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Logger().Error().Err(err).Msg("error shutting down tracer provider")
		}
	}()

	reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.NotificationTopic, consumerGroupID)
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	logger.Logger().Info().
		Str("topic", cfg.Infra.Kafka.NotificationTopic).
		Msg("notification service consuming")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Logger().Info().Msg("notification service stopped")
				return
			}
			logger.Logger().Error().Err(err).Msg("could not read message")
			continue
		}
		processNotification(msg)
	}
}

// processNotification 处理从 Kafka 收到的单条通知消息。
// 这里只做投递记录（日志 + span），真实的渠道推送交给 push-gateway。
func processNotification(msg kafka.Message) {
	ctx := mq.ExtractContext(context.Background(), msg)

	spanOpts := []trace.SpanStartOption{
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.message.offset", msg.Offset),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	}
	ctx, span := tracer.Start(ctx, "notification.Process", spanOpts...)
	defer span.End()

	var event NotificationEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unmarshal failed")
		logger.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal notification")
		return
	}

	span.SetAttributes(
		attribute.String("message.id", event.MessageID),
		attribute.String("order.id", event.OrderID),
		attribute.Int64("user.id", event.UserID),
		attribute.String("notification.type", event.Type),
	)

	logger.Ctx(ctx).Info().
		Str("message_id", event.MessageID).
		Str("order_id", event.OrderID).
		Int64("user_id", event.UserID).
		Str("type", event.Type).
		Msg("notification received")
}
