package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"z-content-ai-api/internal/domain/entity"
	"z-content-ai-api/pkg/logger"
	"z-content-ai-api/pkg/metrics"
)

// UsageRecordWriter 用量流水落库接口，按记录 ID 幂等（postgres.UsageRecordRepository 实现）
type UsageRecordWriter interface {
	Create(ctx context.Context, record *entity.UsageRecord) error
}

// UsageConsumerConfig 用量流消费配置
type UsageConsumerConfig struct {
	Stream        Stream
	Group         ConsumerGroup
	ConsumerName  string
	BatchSize     int64
	BlockTimeout  time.Duration
	ClaimInterval time.Duration
	RetryLimit    int
	Backoff       BackoffConfig
}

// UsageConsumer 读取用量流并写入存储。
//
// 写入按记录 ID 幂等，重复投递与跨消费者认领最终只落一条流水，所以待确认消息
// 不区分属于谁：空闲超过退避时间就认领重写。投递次数达到上限或无法解析的消息
// 进入死信流后确认。
type UsageConsumer struct {
	client *redis.Client
	writer UsageRecordWriter
	cfg    UsageConsumerConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewUsageConsumer 创建用量流消费者
func NewUsageConsumer(client *redis.Client, writer UsageRecordWriter, cfg UsageConsumerConfig) *UsageConsumer {
	if cfg.Stream == "" {
		cfg.Stream = StreamUsage
	}
	if cfg.Group == "" {
		cfg.Group = ConsumerGroupUsageWriter
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = 30 * time.Second
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = DefaultBackoffConfig()
	}

	return &UsageConsumer{
		client: client,
		writer: writer,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Start 创建消费者组（已存在则复用）并在后台开始消费
func (c *UsageConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("usage consumer already running")
	}

	err := c.client.XGroupCreateMkStream(ctx, string(c.cfg.Stream), string(c.cfg.Group), "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.running = true
	go c.run(ctx, c.stopCh)
	return nil
}

// Stop 停止消费；未确认的消息留在组内，由下一次认领处理
func (c *UsageConsumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		close(c.stopCh)
		c.stopCh = make(chan struct{})
		c.running = false
	}
}

func (c *UsageConsumer) run(ctx context.Context, stop <-chan struct{}) {
	log := logger.FromContext(ctx)
	log.Info("usage consumer started",
		"stream", c.cfg.Stream,
		"group", c.cfg.Group,
		"consumer", c.cfg.ConsumerName,
	)

	nextRecover := time.Now()
	for {
		select {
		case <-ctx.Done():
			log.Info("usage consumer stopped due to context cancellation")
			return
		case <-stop:
			log.Info("usage consumer stopped")
			return
		default:
		}

		if !time.Now().Before(nextRecover) {
			c.recoverPending(ctx)
			nextRecover = time.Now().Add(c.cfg.ClaimInterval)
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    string(c.cfg.Group),
			Consumer: c.cfg.ConsumerName,
			Streams:  []string{string(c.cfg.Stream), ">"},
			Count:    c.cfg.BatchSize,
			Block:    c.cfg.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Error("failed to read usage stream", "error", err)
			select {
			case <-time.After(time.Second):
			case <-stop:
			case <-ctx.Done():
			}
			continue
		}

		for _, s := range streams {
			c.handleBatch(ctx, s.Messages)
		}
	}
}

// handleBatch 逐条写入，成功的消息在批末一次性确认
func (c *UsageConsumer) handleBatch(ctx context.Context, msgs []redis.XMessage) {
	ctx, span := tracer.Start(ctx, "usage_consumer.handleBatch",
		trace.WithAttributes(
			attribute.String("stream", string(c.cfg.Stream)),
			attribute.Int("batch.size", len(msgs)),
		))
	defer span.End()

	done := make([]string, 0, len(msgs))
	for _, xmsg := range msgs {
		msgCtx, record, err := decodeUsage(ctx, xmsg)
		if err != nil {
			// 解析失败重试也不会成功
			c.count("invalid")
			c.deadLetter(msgCtx, xmsg, err)
			continue
		}

		if err := c.writer.Create(msgCtx, record); err != nil {
			span.RecordError(err)
			c.count("failed")
			c.retryOrDeadLetter(msgCtx, xmsg, err)
			continue
		}

		done = append(done, xmsg.ID)
		c.count("success")
		logger.Debug(msgCtx, "usage record persisted",
			"record_id", record.ID,
			"provider", record.Provider,
			"total_tokens", record.TotalTokens,
		)
	}
	c.ack(ctx, done...)
}

func (c *UsageConsumer) retryOrDeadLetter(ctx context.Context, xmsg redis.XMessage, cause error) {
	deliveries := c.deliveries(ctx, xmsg.ID)
	if deliveries >= c.cfg.RetryLimit {
		logger.Warn(ctx, "usage record moved to DLQ after max deliveries",
			"message_id", xmsg.ID,
			"deliveries", deliveries,
			"error", cause.Error(),
		)
		c.deadLetter(ctx, xmsg, cause)
		return
	}
	logger.Warn(ctx, "usage record left pending for retry",
		"message_id", xmsg.ID,
		"deliveries", deliveries,
		"error", cause.Error(),
	)
}

// recoverPending 扫描组内全部待确认消息：空闲时间超过按投递次数计算的退避后认领，
// 超过投递上限的直接进入死信流，其余重新写入。
func (c *UsageConsumer) recoverPending(ctx context.Context) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: string(c.cfg.Stream),
		Group:  string(c.cfg.Group),
		Start:  "-",
		End:    "+",
		Count:  c.cfg.BatchSize,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.FromContext(ctx).Error("failed to query pending usage records", "error", err)
		}
		return
	}

	var retry []redis.XMessage
	for _, p := range pending {
		minIdle := c.cfg.Backoff.CalculateBackoff(int(p.RetryCount))
		if p.Idle < minIdle {
			continue
		}

		claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   string(c.cfg.Stream),
			Group:    string(c.cfg.Group),
			Consumer: c.cfg.ConsumerName,
			MinIdle:  minIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			logger.FromContext(ctx).Error("failed to claim pending usage record", "error", err, "message_id", p.ID)
			continue
		}

		for _, xmsg := range claimed {
			if int(p.RetryCount) >= c.cfg.RetryLimit {
				c.deadLetter(ctx, xmsg, fmt.Errorf("delivered %d times without success", p.RetryCount))
				continue
			}
			retry = append(retry, xmsg)
		}
	}

	if len(retry) > 0 {
		c.handleBatch(ctx, retry)
	}
}

// deliveries XPENDING 中记录的投递次数
func (c *UsageConsumer) deliveries(ctx context.Context, id string) int {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: string(c.cfg.Stream),
		Group:  string(c.cfg.Group),
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 0
	}
	return int(pending[0].RetryCount)
}

// deadLetter 原样保存消息数据与失败原因；写入死信流成功后才确认
func (c *UsageConsumer) deadLetter(ctx context.Context, xmsg redis.XMessage, cause error) {
	raw, _ := xmsg.Values["data"].(string)
	err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream.DLQStream(),
		Values: map[string]any{
			"original_stream": string(c.cfg.Stream),
			"message_id":      xmsg.ID,
			"data":            raw,
			"error":           cause.Error(),
			"failed_at":       time.Now().Unix(),
		},
	}).Err()
	if err != nil {
		logger.FromContext(ctx).Error("failed to move usage record to DLQ", "error", err, "message_id", xmsg.ID)
		return
	}
	c.ack(ctx, xmsg.ID)
	c.count("dlq")
}

func (c *UsageConsumer) ack(ctx context.Context, ids ...string) {
	if len(ids) == 0 {
		return
	}
	if err := c.client.XAck(ctx, string(c.cfg.Stream), string(c.cfg.Group), ids...).Err(); err != nil {
		logger.FromContext(ctx).Error("failed to ack usage records", "error", err, "count", len(ids))
	}
}

func (c *UsageConsumer) count(status string) {
	metrics.RedisStreamProcessed.WithLabelValues(string(c.cfg.Stream), status).Inc()
}

// WatchDeadLetters 每分钟检查死信流长度，超过阈值时告警
func (c *UsageConsumer) WatchDeadLetters(ctx context.Context, alertThreshold int64) {
	c.mu.Lock()
	stop := c.stopCh
	c.mu.Unlock()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	dlq := c.cfg.Stream.DLQStream()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			n, err := c.client.XLen(ctx, dlq).Result()
			if err != nil {
				continue
			}
			if n > alertThreshold {
				logger.Warn(ctx, "usage DLQ above threshold", "stream", dlq, "count", n)
			}
		}
	}
}

// decodeUsage 解析流消息中的用量流水，并把 request_id/trace_id 注入日志上下文
func decodeUsage(ctx context.Context, xmsg redis.XMessage) (context.Context, *entity.UsageRecord, error) {
	raw, ok := xmsg.Values["data"].(string)
	if !ok {
		return ctx, nil, fmt.Errorf("message %s has no data field", xmsg.ID)
	}

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return ctx, nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if reqID := msg.GetMetadata("request_id"); reqID != "" {
		ctx = logger.WithContext(ctx, logger.RequestIDKey, reqID)
	}
	if traceID := msg.GetMetadata("trace_id"); traceID != "" {
		ctx = logger.WithContext(ctx, logger.TraceIDKey, traceID)
	}
	if msg.Type != MessageTypeUsageRecord {
		return ctx, nil, fmt.Errorf("unexpected message type %q", msg.Type)
	}

	var record entity.UsageRecord
	if err := msg.UnmarshalPayload(&record); err != nil {
		return ctx, nil, fmt.Errorf("failed to decode usage record: %w", err)
	}
	if record.ID == "" {
		record.ID = msg.ID
	}
	if record.ID == "" {
		return ctx, nil, fmt.Errorf("usage record has no id")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = msg.CreatedAt
	}
	return ctx, &record, nil
}
