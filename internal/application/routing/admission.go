package routing

import (
	"context"
	"sync"
	"time"

	"z-content-ai-api/internal/domain/entity"
	"z-content-ai-api/internal/domain/service"
	"z-content-ai-api/pkg/logger"
	"z-content-ai-api/pkg/metrics"
)

// DefaultWindow 默认滚动窗口长度
const DefaultWindow = 60 * time.Second

// 准入拒绝原因（指标标签）
const (
	RejectReasonRequests = "requests"
	RejectReasonTokens   = "tokens"
	RejectReasonUnknown  = "unknown_provider"
)

// Admission 按 provider 维度的滚动窗口准入控制。
//
// IsAdmissible 判断再加一次请求与 estimatedTokens 后是否仍在限额内，通过时以 ctx 上的
// 占位 ID（service.WithAdmissionHold）为该请求保留预估额度；Record 在调度完成后只用实际
// Token 数替换同一 ID 的占位，其他仍在执行的请求的占位保持不变。
// 没有占位 ID 的占位不会被 Record 释放，只随窗口过期；调度失败的请求同样随窗口过期。
// 两个方法都不返回错误。
type Admission interface {
	IsAdmissible(ctx context.Context, provider entity.Provider, estimatedTokens int) bool
	Record(ctx context.Context, provider entity.Provider, actualTokens int)
}

// EstimateTokens 调度前的 Token 预估：最大输出 + 固定开销 + prompt 长度/4
func EstimateTokens(req entity.GenerationRequest, overhead int) int {
	est := overhead
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		est += *req.MaxTokens
	}
	est += len(req.Prompt) / 4
	if req.SystemPrompt != nil {
		est += len(*req.SystemPrompt) / 4
	}
	if est < 0 {
		return 0
	}
	return est
}

type windowEntry struct {
	at     time.Time
	tokens int
	hold   string
}

// providerWindow 单个 provider 的窗口，独立加锁
type providerWindow struct {
	mu        sync.Mutex
	committed []windowEntry
	pending   []windowEntry
}

func (w *providerWindow) prune(cutoff time.Time) {
	w.committed = dropBefore(w.committed, cutoff)
	w.pending = dropBefore(w.pending, cutoff)
}

func (w *providerWindow) totals() (requests, tokens int) {
	for _, e := range w.committed {
		tokens += e.tokens
	}
	for _, e := range w.pending {
		tokens += e.tokens
	}
	return len(w.committed) + len(w.pending), tokens
}

// dropBefore 条目按时间追加，只需裁掉前缀
func dropBefore(entries []windowEntry, cutoff time.Time) []windowEntry {
	i := 0
	for i < len(entries) && !entries[i].at.After(cutoff) {
		i++
	}
	if i == 0 {
		return entries
	}
	return append(entries[:0], entries[i:]...)
}

// release 移除指定 ID 的占位，找不到时返回 false
func (w *providerWindow) release(holdID string) bool {
	if holdID == "" {
		return false
	}
	for i, e := range w.pending {
		if e.hold == holdID {
			w.pending = append(w.pending[:i], w.pending[i+1:]...)
			return true
		}
	}
	return false
}

// AdmissionOption 准入控制选项
type AdmissionOption func(*SlidingWindowAdmission)

// WithWindow 设置窗口长度
func WithWindow(window time.Duration) AdmissionOption {
	return func(a *SlidingWindowAdmission) {
		if window > 0 {
			a.window = window
		}
	}
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) AdmissionOption {
	return func(a *SlidingWindowAdmission) {
		if now != nil {
			a.now = now
		}
	}
}

// SlidingWindowAdmission 进程内滑动窗口准入控制
type SlidingWindowAdmission struct {
	window  time.Duration
	now     func() time.Time
	windows map[string]*providerWindow
}

// NewSlidingWindowAdmission 为注册表中每个 provider 创建独立窗口。
// windows 在构造后只读，热路径上没有跨 provider 的全局锁。
func NewSlidingWindowAdmission(registry *Registry, opts ...AdmissionOption) *SlidingWindowAdmission {
	a := &SlidingWindowAdmission{
		window:  DefaultWindow,
		now:     time.Now,
		windows: make(map[string]*providerWindow),
	}
	for _, opt := range opts {
		opt(a)
	}
	if registry != nil {
		for _, p := range registry.providers {
			a.windows[p.Name] = &providerWindow{}
		}
	}
	return a
}

// IsAdmissible 实现 Admission
func (a *SlidingWindowAdmission) IsAdmissible(ctx context.Context, provider entity.Provider, estimatedTokens int) bool {
	w, ok := a.windows[provider.Name]
	if !ok {
		metrics.AdmissionRejectedTotal.WithLabelValues(provider.Name, RejectReasonUnknown).Inc()
		return false
	}
	if estimatedTokens < 0 {
		estimatedTokens = 0
	}

	now := a.now()
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now.Add(-a.window))
	requests, tokens := w.totals()

	if requests+1 > provider.RateLimit.RequestsPerMinute {
		metrics.AdmissionRejectedTotal.WithLabelValues(provider.Name, RejectReasonRequests).Inc()
		logger.Debug(ctx, "admission rejected",
			"provider", provider.Name,
			"reason", RejectReasonRequests,
			"requests_in_window", requests,
		)
		return false
	}
	if tokens+estimatedTokens > provider.RateLimit.TokensPerMinute {
		metrics.AdmissionRejectedTotal.WithLabelValues(provider.Name, RejectReasonTokens).Inc()
		logger.Debug(ctx, "admission rejected",
			"provider", provider.Name,
			"reason", RejectReasonTokens,
			"tokens_in_window", tokens,
			"estimated_tokens", estimatedTokens,
		)
		return false
	}

	w.pending = append(w.pending, windowEntry{
		at:     now,
		tokens: estimatedTokens,
		hold:   service.AdmissionHoldFromContext(ctx),
	})
	return true
}

// Record 实现 Admission
func (a *SlidingWindowAdmission) Record(ctx context.Context, provider entity.Provider, actualTokens int) {
	w, ok := a.windows[provider.Name]
	if !ok {
		logger.Warn(ctx, "admission record for unknown provider", "provider", provider.Name)
		return
	}
	if actualTokens < 0 {
		actualTokens = 0
	}

	now := a.now()
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now.Add(-a.window))
	holdID := service.AdmissionHoldFromContext(ctx)
	if !w.release(holdID) {
		logger.Debug(ctx, "admission record without matching hold",
			"provider", provider.Name,
			"hold_id", holdID,
		)
	}
	w.committed = append(w.committed, windowEntry{at: now, tokens: actualTokens})
}

// WindowUsage 窗口内的占用情况
type WindowUsage struct {
	Requests        int `json:"requests"`
	Tokens          int `json:"tokens"`
	PendingRequests int `json:"pending_requests"`
}

// Usage 返回 provider 当前窗口占用，供观测使用
func (a *SlidingWindowAdmission) Usage(name string) (WindowUsage, bool) {
	w, ok := a.windows[name]
	if !ok {
		return WindowUsage{}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(a.now().Add(-a.window))
	requests, tokens := w.totals()
	return WindowUsage{
		Requests:        requests,
		Tokens:          tokens,
		PendingRequests: len(w.pending),
	}, true
}
