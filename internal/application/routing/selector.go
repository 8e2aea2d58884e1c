package routing

import (
	"context"
	"sort"

	"z-content-ai-api/internal/domain/entity"
	apperrors "z-content-ai-api/pkg/errors"
)

// Selector 为请求选择 provider
type Selector interface {
	SelectOptimalProvider(ctx context.Context, capability string, estimatedTokens int) (entity.Provider, error)
}

// Scorer 对候选 provider 打分，分值越低越优先
type Scorer func(p entity.Provider) float64

// SelectorOption 选择器选项
type SelectorOption func(*RegistrySelector)

// WithScorer 设置候选排序钩子（如按延迟、成本）。同分保持注册表顺序。
func WithScorer(scorer Scorer) SelectorOption {
	return func(s *RegistrySelector) {
		s.scorer = scorer
	}
}

// RegistrySelector 基于注册表与准入控制的确定性选择器
type RegistrySelector struct {
	registry  *Registry
	admission Admission
	scorer    Scorer
}

// NewSelector 创建选择器
func NewSelector(registry *Registry, admission Admission, opts ...SelectorOption) *RegistrySelector {
	s := &RegistrySelector{
		registry:  registry,
		admission: admission,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SelectOptimalProvider 能力过滤 -> 准入过滤 -> 按注册表顺序取第一个。
// 没有 provider 具备该能力时返回 ErrNoProviderConfigured；
// 有但全部被限流时返回 ErrAllProvidersSaturated。
//
// 准入检查在找到第一个可用 provider 后即停止，只有被选中的 provider 会保留额度。
func (s *RegistrySelector) SelectOptimalProvider(ctx context.Context, capability string, estimatedTokens int) (entity.Provider, error) {
	candidates := s.registry.FindByCapability(capability)
	if len(candidates) == 0 {
		return entity.Provider{}, apperrors.ErrNoProviderConfigured
	}

	if s.scorer != nil {
		sort.SliceStable(candidates, func(i, j int) bool {
			return s.scorer(candidates[i]) < s.scorer(candidates[j])
		})
	}

	for _, p := range candidates {
		if s.admission.IsAdmissible(ctx, p, estimatedTokens) {
			return p, nil
		}
	}

	return entity.Provider{}, apperrors.ErrAllProvidersSaturated.WithDetail("capability=" + capability)
}

// SelectorFunc 函数适配器
type SelectorFunc func(ctx context.Context, capability string, estimatedTokens int) (entity.Provider, error)

// SelectOptimalProvider 实现 Selector
func (f SelectorFunc) SelectOptimalProvider(ctx context.Context, capability string, estimatedTokens int) (entity.Provider, error) {
	return f(ctx, capability, estimatedTokens)
}
