package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"z-content-ai-api/internal/domain/entity"
	"z-content-ai-api/internal/domain/service"
	"z-content-ai-api/pkg/logger"
	"z-content-ai-api/pkg/metrics"
)

// DefaultAdmissionWindow 默认滚动窗口长度
const DefaultAdmissionWindow = 60 * time.Second

const keyPrefix = "llm:admission"

// 脚本返回码
const (
	admitOK       = 0
	admitRequests = 1
	admitTokens   = 2
)

// admitScript 窗口裁剪、判定与占位在同一个脚本里原子完成。
// KEYS: req tok hold
// ARGV: now_ms cutoff_ms rpm tpm estimated member ttl_ms
//
// req 的成员是请求 ID，tok 与 hold 的成员是 "ID:tokens"。
var admitScript = redis.NewScript(`
local now = ARGV[1]
for i = 1, 3 do
  redis.call('ZREMRANGEBYSCORE', KEYS[i], '-inf', ARGV[2])
end

local requests = redis.call('ZCARD', KEYS[1])
if requests + 1 > tonumber(ARGV[3]) then
  return {1, requests, 0}
end

local tokens = 0
for _, m in ipairs(redis.call('ZRANGE', KEYS[2], 0, -1)) do
  local n = tonumber(string.match(m, ':(%d+)$'))
  if n then tokens = tokens + n end
end
local est = tonumber(ARGV[5])
if tokens + est > tonumber(ARGV[4]) then
  return {2, requests, tokens}
end

local member = ARGV[6]
local entry = member .. ':' .. ARGV[5]
redis.call('ZADD', KEYS[1], now, member)
redis.call('ZADD', KEYS[2], now, entry)
redis.call('ZADD', KEYS[3], now, entry)
for i = 1, 3 do
  redis.call('PEXPIRE', KEYS[i], ARGV[7])
end
return {0, requests + 1, tokens + est}
`)

// recordScript 用实际 Token 数替换 hold_id 对应的占位；其他占位保持不变。
// hold_id 为空或占位已过期时直接追加一条已确认记录。
// KEYS: req tok hold
// ARGV: now_ms cutoff_ms actual hold_id member ttl_ms
var recordScript = redis.NewScript(`
local now = ARGV[1]
for i = 1, 3 do
  redis.call('ZREMRANGEBYSCORE', KEYS[i], '-inf', ARGV[2])
end

local member = ARGV[5]
local hold = ARGV[4]
if hold ~= '' then
  local prefix = hold .. ':'
  for _, m in ipairs(redis.call('ZRANGE', KEYS[3], 0, -1)) do
    if string.sub(m, 1, #prefix) == prefix then
      redis.call('ZREM', KEYS[3], m)
      redis.call('ZREM', KEYS[2], m)
      redis.call('ZREM', KEYS[1], hold)
      member = hold
      break
    end
  end
end

redis.call('ZADD', KEYS[1], now, member)
redis.call('ZADD', KEYS[2], now, member .. ':' .. ARGV[3])
for i = 1, 3 do
  redis.call('PEXPIRE', KEYS[i], ARGV[6])
end
return 1
`)

// WindowAdmissionOption 选项
type WindowAdmissionOption func(*WindowAdmission)

// WithAdmissionWindow 设置窗口长度
func WithAdmissionWindow(window time.Duration) WindowAdmissionOption {
	return func(a *WindowAdmission) {
		if window > 0 {
			a.window = window
		}
	}
}

// WithAdmissionClock 替换时钟（测试用）
func WithAdmissionClock(now func() time.Time) WindowAdmissionOption {
	return func(a *WindowAdmission) {
		if now != nil {
			a.now = now
		}
	}
}

// WindowAdmission 多实例共享的滑动窗口准入控制，语义与进程内实现一致。
// 占位按 ctx 上的占位 ID 登记与确认。
// Redis 不可用时放行并记录告警。
type WindowAdmission struct {
	client *Client
	window time.Duration
	now    func() time.Time
	newID  func() string
}

// NewWindowAdmission 创建 Redis 准入控制
func NewWindowAdmission(client *Client, opts ...WindowAdmissionOption) *WindowAdmission {
	a := &WindowAdmission{
		client: client,
		window: DefaultAdmissionWindow,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// IsAdmissible 实现 routing.Admission
func (a *WindowAdmission) IsAdmissible(ctx context.Context, provider entity.Provider, estimatedTokens int) bool {
	ctx, span := tracer.Start(ctx, "admission.IsAdmissible")
	span.SetAttributes(
		attribute.String("admission.provider", provider.Name),
		attribute.Int("admission.estimated_tokens", estimatedTokens),
	)
	defer span.End()

	if estimatedTokens < 0 {
		estimatedTokens = 0
	}
	now := a.now()

	res, err := admitScript.Run(ctx, a.client.rdb, a.keys(provider.Name),
		now.UnixMilli(),
		now.Add(-a.window).UnixMilli(),
		provider.RateLimit.RequestsPerMinute,
		provider.RateLimit.TokensPerMinute,
		estimatedTokens,
		a.holdMember(ctx),
		a.ttl().Milliseconds(),
	).Int64Slice()
	if err != nil || len(res) != 3 {
		if err == nil {
			err = fmt.Errorf("unexpected admit reply: %v", res)
		}
		span.RecordError(err)
		metrics.AdmissionBackendErrorsTotal.WithLabelValues(provider.Name, "admit").Inc()
		logger.Warn(ctx, "admission store unavailable, request admitted without check",
			"provider", provider.Name,
			"error", err.Error(),
		)
		return true
	}

	code, requests, tokens := res[0], res[1], res[2]
	span.SetAttributes(
		attribute.Int64("admission.requests_in_window", requests),
		attribute.Int64("admission.tokens_in_window", tokens),
		attribute.Bool("admission.allowed", code == admitOK),
	)

	switch code {
	case admitRequests:
		metrics.AdmissionRejectedTotal.WithLabelValues(provider.Name, "requests").Inc()
		logger.Debug(ctx, "admission rejected",
			"provider", provider.Name,
			"reason", "requests",
			"requests_in_window", requests,
		)
		return false
	case admitTokens:
		metrics.AdmissionRejectedTotal.WithLabelValues(provider.Name, "tokens").Inc()
		logger.Debug(ctx, "admission rejected",
			"provider", provider.Name,
			"reason", "tokens",
			"tokens_in_window", tokens,
			"estimated_tokens", estimatedTokens,
		)
		return false
	}
	return true
}

// Record 实现 routing.Admission
func (a *WindowAdmission) Record(ctx context.Context, provider entity.Provider, actualTokens int) {
	ctx, span := tracer.Start(ctx, "admission.Record")
	span.SetAttributes(
		attribute.String("admission.provider", provider.Name),
		attribute.Int("admission.actual_tokens", actualTokens),
	)
	defer span.End()

	if actualTokens < 0 {
		actualTokens = 0
	}

	now := a.now()
	err := recordScript.Run(ctx, a.client.rdb, a.keys(provider.Name),
		now.UnixMilli(),
		now.Add(-a.window).UnixMilli(),
		actualTokens,
		service.AdmissionHoldFromContext(ctx),
		a.newID(),
		a.ttl().Milliseconds(),
	).Err()
	if err != nil {
		span.RecordError(err)
		metrics.AdmissionBackendErrorsTotal.WithLabelValues(provider.Name, "record").Inc()
		logger.Warn(ctx, "admission record failed",
			"provider", provider.Name,
			"actual_tokens", actualTokens,
			"error", err.Error(),
		)
	}
}

// Reset 清空 provider 的窗口
func (a *WindowAdmission) Reset(ctx context.Context, providerName string) error {
	ctx, span := tracer.Start(ctx, "admission.Reset")
	span.SetAttributes(attribute.String("admission.provider", providerName))
	defer span.End()

	return a.client.rdb.Del(ctx, a.keys(providerName)...).Err()
}

// keys 同一 provider 的三个 key 共用 hash tag，保证落在同一个 slot
func (a *WindowAdmission) keys(providerName string) []string {
	return []string{
		BuildAdmissionKey(providerName, "req"),
		BuildAdmissionKey(providerName, "tok"),
		BuildAdmissionKey(providerName, "hold"),
	}
}

// holdMember 占位成员使用 ctx 上的占位 ID，Record 才能找回同一条占位
func (a *WindowAdmission) holdMember(ctx context.Context) string {
	if id := service.AdmissionHoldFromContext(ctx); id != "" {
		return id
	}
	return a.newID()
}

func (a *WindowAdmission) ttl() time.Duration {
	return a.window * 2
}

// BuildAdmissionKey 构建准入窗口键
func BuildAdmissionKey(providerName, kind string) string {
	return fmt.Sprintf("%s:{%s}:%s", keyPrefix, providerName, kind)
}
