package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"z-content-ai-api/internal/config"
	"z-content-ai-api/internal/domain/entity"
)

var tracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	maxLen int64
}

// NewProducer 创建消息生产者
func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client: client,
		maxLen: maxLen,
	}
}

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"data": string(data),
		},
	}).Result()

	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// PublishUsage 发布一条用量流水
func (p *Producer) PublishUsage(ctx context.Context, record *entity.UsageRecord) (string, error) {
	msg, err := NewMessage(record.ID, MessageTypeUsageRecord, record)
	if err != nil {
		return "", err
	}

	if record.RequestID != "" {
		msg.SetMetadata("request_id", record.RequestID)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.SetMetadata("trace_id", sc.TraceID().String())
	}
	return p.Publish(ctx, StreamUsage, msg)
}

// UsageStreamSink 把用量流水写入 Redis Stream，由 usage-worker 异步落库
type UsageStreamSink struct {
	producer *Producer
}

// NewUsageStreamSink 创建流写入目标
func NewUsageStreamSink(producer *Producer) *UsageStreamSink {
	return &UsageStreamSink{producer: producer}
}

// Name 实现 service.UsageSink
func (s *UsageStreamSink) Name() string {
	return config.UsageSinkStream
}

// Append 实现 service.UsageSink
func (s *UsageStreamSink) Append(ctx context.Context, record *entity.UsageRecord) error {
	_, err := s.producer.PublishUsage(ctx, record)
	return err
}
