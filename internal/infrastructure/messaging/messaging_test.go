package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-content-ai-api/internal/config"
	"z-content-ai-api/internal/domain/entity"
	"z-content-ai-api/pkg/logger"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func testRecord(id string) *entity.UsageRecord {
	return &entity.UsageRecord{
		ID:               id,
		RequestID:        "req-1",
		Provider:         "MockProvider",
		Model:            "mock-model",
		ContentType:      "blog",
		PromptTokens:     12,
		CompletionTokens: 30,
		TotalTokens:      42,
		CreatedAt:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

type memoryWriter struct {
	mu      sync.Mutex
	records map[string]entity.UsageRecord
	err     error
}

func (w *memoryWriter) Create(_ context.Context, record *entity.UsageRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if w.records == nil {
		w.records = make(map[string]entity.UsageRecord)
	}
	w.records[record.ID] = *record
	return nil
}

func (w *memoryWriter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.records)
}

func TestUsageStreamSink_Append(t *testing.T) {
	rdb := newTestRedis(t)
	sink := NewUsageStreamSink(NewProducer(rdb, 0))
	ctx := context.Background()

	assert.Equal(t, config.UsageSinkStream, sink.Name())
	require.NoError(t, sink.Append(ctx, testRecord("rec-1")))

	entries, err := rdb.XRange(ctx, string(StreamUsage), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["data"].(string)), &msg))
	assert.Equal(t, "rec-1", msg.ID)
	assert.Equal(t, MessageTypeUsageRecord, msg.Type)
	assert.Equal(t, "req-1", msg.GetMetadata("request_id"))

	var got entity.UsageRecord
	require.NoError(t, msg.UnmarshalPayload(&got))
	assert.Equal(t, *testRecord("rec-1"), got)
}

func newTestConsumer(rdb *redis.Client, writer UsageRecordWriter, cfg UsageConsumerConfig) *UsageConsumer {
	cfg.ConsumerName = "test-worker"
	cfg.BlockTimeout = 20 * time.Millisecond
	return NewUsageConsumer(rdb, writer, cfg)
}

func pendingCount(t *testing.T, rdb *redis.Client) int64 {
	t.Helper()
	pending, err := rdb.XPending(context.Background(), string(StreamUsage), string(ConsumerGroupUsageWriter)).Result()
	if err != nil {
		return -1
	}
	return pending.Count
}

func TestUsageConsumer_PersistsUsageRecords(t *testing.T) {
	rdb := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer := &memoryWriter{}
	consumer := newTestConsumer(rdb, writer, UsageConsumerConfig{})
	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop()

	assert.Error(t, consumer.Start(ctx), "second start must fail")

	producer := NewProducer(rdb, 1000)
	for _, id := range []string{"rec-1", "rec-2", "rec-1"} {
		_, err := producer.PublishUsage(ctx, testRecord(id))
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return writer.Len() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return pendingCount(t, rdb) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestUsageConsumer_MovesToDLQAfterRetryLimit(t *testing.T) {
	rdb := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer := &memoryWriter{err: errors.New("database unavailable")}
	consumer := newTestConsumer(rdb, writer, UsageConsumerConfig{RetryLimit: 1})
	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop()

	_, err := NewProducer(rdb, 0).PublishUsage(ctx, testRecord("rec-dlq"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		n, err := rdb.XLen(ctx, StreamUsage.DLQStream()).Result()
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return pendingCount(t, rdb) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, writer.Len())

	entries, err := rdb.XRange(ctx, StreamUsage.DLQStream(), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "database unavailable", entries[0].Values["error"])
	assert.Contains(t, entries[0].Values["data"], "rec-dlq")
}

func TestUsageConsumer_DeadLettersUndecodableMessages(t *testing.T) {
	rdb := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer := &memoryWriter{}
	consumer := newTestConsumer(rdb, writer, UsageConsumerConfig{})
	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop()

	msg, err := NewMessage("m-1", "something_else", map[string]string{"k": "v"})
	require.NoError(t, err)
	_, err = NewProducer(rdb, 0).Publish(ctx, StreamUsage, msg)
	require.NoError(t, err)
	require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: string(StreamUsage),
		Values: map[string]any{"data": "{not json"},
	}).Err())

	assert.Eventually(t, func() bool {
		n, err := rdb.XLen(ctx, StreamUsage.DLQStream()).Result()
		return err == nil && n == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return pendingCount(t, rdb) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, writer.Len())
}

func TestUsageConsumer_ReclaimsRecordsFromStalledConsumer(t *testing.T) {
	rdb := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, rdb.XGroupCreateMkStream(ctx, string(StreamUsage), string(ConsumerGroupUsageWriter), "0").Err())
	_, err := NewProducer(rdb, 0).PublishUsage(ctx, testRecord("rec-stalled"))
	require.NoError(t, err)

	// 另一个消费者读走后没有确认
	_, err = rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    string(ConsumerGroupUsageWriter),
		Consumer: "crashed-worker",
		Streams:  []string{string(StreamUsage), ">"},
		Count:    10,
	}).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), pendingCount(t, rdb))

	writer := &memoryWriter{}
	consumer := newTestConsumer(rdb, writer, UsageConsumerConfig{
		ClaimInterval: 10 * time.Millisecond,
		Backoff:       BackoffConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2},
	})
	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop()

	assert.Eventually(t, func() bool { return writer.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return pendingCount(t, rdb) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestDecodeUsage_FillsMissingFields(t *testing.T) {
	rec := testRecord("")
	rec.CreatedAt = time.Time{}
	msg, err := NewMessage("msg-7", MessageTypeUsageRecord, rec)
	require.NoError(t, err)
	msg.SetMetadata("request_id", "req-9")
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	ctx, got, err := decodeUsage(context.Background(), redis.XMessage{ID: "1-0", Values: map[string]any{"data": string(data)}})
	require.NoError(t, err)
	assert.Equal(t, "msg-7", got.ID)
	assert.Equal(t, msg.CreatedAt, got.CreatedAt)
	assert.Equal(t, 42, got.TotalTokens)
	assert.Equal(t, "req-9", logger.StringFromContext(ctx, logger.RequestIDKey))
}

func TestDecodeUsage_Rejects(t *testing.T) {
	bad, err := json.Marshal(&Message{ID: "x", Type: MessageTypeUsageRecord, Payload: json.RawMessage(`"not an object"`)})
	require.NoError(t, err)
	noID, err := json.Marshal(&Message{Type: MessageTypeUsageRecord, Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)

	tests := []struct {
		name   string
		values map[string]any
	}{
		{"missing data", map[string]any{"other": "x"}},
		{"not json", map[string]any{"data": "{"}},
		{"bad payload", map[string]any{"data": string(bad)}},
		{"no id", map[string]any{"data": string(noID)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := decodeUsage(context.Background(), redis.XMessage{ID: "1-0", Values: tt.values})
			assert.Error(t, err)
		})
	}
}

func TestBackoffConfig_CalculateBackoff(t *testing.T) {
	cfg := BackoffConfig{Initial: time.Second, Max: 5 * time.Second, Multiplier: 2}

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.CalculateBackoff(tt.retry), "retry=%d", tt.retry)
	}
}

func TestConsumerGroup_WithPrefix(t *testing.T) {
	assert.Equal(t, ConsumerGroup("prod-cg-usage-writer"), ConsumerGroupUsageWriter.WithPrefix("prod-"))
	assert.Equal(t, ConsumerGroupUsageWriter, ConsumerGroupUsageWriter.WithPrefix(""))
}
