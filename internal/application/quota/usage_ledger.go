// Package quota 提供用量流水记账
package quota

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"z-content-ai-api/internal/domain/entity"
	"z-content-ai-api/internal/domain/service"
	apperrors "z-content-ai-api/pkg/errors"
	"z-content-ai-api/pkg/logger"
	"z-content-ai-api/pkg/metrics"
)

// UsageMeta 流水附带的请求上下文
type UsageMeta struct {
	RequestID   string
	ContentType string
	Duration    time.Duration
}

// LedgerOption 记账选项
type LedgerOption func(*UsageLedger)

// WithWriteTimeout 单个写入目标的超时
func WithWriteTimeout(d time.Duration) LedgerOption {
	return func(l *UsageLedger) {
		if d > 0 {
			l.writeTimeout = d
		}
	}
}

// WithLedgerClock 替换时钟（测试用）
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *UsageLedger) {
		if now != nil {
			l.now = now
		}
	}
}

// UsageLedger 把一次成功调用的用量追加到全部写入目标
type UsageLedger struct {
	sinks        []service.UsageSink
	writeTimeout time.Duration
	now          func() time.Time
	newID        func() string
}

// NewUsageLedger 创建记账器；sinks 为空时 LogUsage 为空操作
func NewUsageLedger(sinks []service.UsageSink, opts ...LedgerOption) *UsageLedger {
	l := &UsageLedger{
		sinks:        sinks,
		writeTimeout: 5 * time.Second,
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LogUsage 并发写入全部目标并等待全部完成。
// 任一目标失败返回 ErrUsageLoggingFailed（包装第一个错误），其余目标仍会写完。
func (l *UsageLedger) LogUsage(ctx context.Context, provider entity.Provider, result *entity.GenerationResult, meta UsageMeta) error {
	if l == nil || len(l.sinks) == 0 {
		return nil
	}
	if result == nil {
		return apperrors.ErrUsageLoggingFailed.WithDetail("result is nil")
	}

	record := l.buildRecord(provider, result, meta)

	var g errgroup.Group
	for _, sink := range l.sinks {
		g.Go(func() error {
			// 每个目标拿到独立副本
			rec := *record
			wctx, cancel := context.WithTimeout(ctx, l.writeTimeout)
			defer cancel()

			if err := sink.Append(wctx, &rec); err != nil {
				metrics.UsageLogFailedTotal.WithLabelValues(sink.Name()).Inc()
				logger.Warn(ctx, "usage sink append failed",
					"sink", sink.Name(),
					"provider", record.Provider,
					"model", record.Model,
					"error", err.Error(),
				)
				return fmt.Errorf("%s: %w", sink.Name(), err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return apperrors.ErrUsageLoggingFailed.WithError(err)
	}
	return nil
}

func (l *UsageLedger) buildRecord(provider entity.Provider, result *entity.GenerationResult, meta UsageMeta) *entity.UsageRecord {
	name := strings.TrimSpace(result.Provider)
	if name == "" {
		name = provider.Name
	}
	return &entity.UsageRecord{
		ID:               l.newID(),
		RequestID:        strings.TrimSpace(meta.RequestID),
		Provider:         name,
		Model:            strings.TrimSpace(result.Model),
		ContentType:      strings.TrimSpace(meta.ContentType),
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		TotalTokens:      result.Usage.TotalTokens,
		DurationMs:       int(meta.Duration.Milliseconds()),
		CreatedAt:        l.now().UTC(),
	}
}

// Sinks 返回已配置的写入目标名称
func (l *UsageLedger) Sinks() []string {
	out := make([]string, 0, len(l.sinks))
	for _, s := range l.sinks {
		out = append(out, s.Name())
	}
	return out
}
