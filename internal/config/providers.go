package config

import (
	"fmt"
	"strings"
	"time"

	"z-content-ai-api/internal/domain/entity"
	apperrors "z-content-ai-api/pkg/errors"
)

// ToProviders 把 provider 配置转换为领域实体，保持配置顺序
func (c LLMConfig) ToProviders() []entity.Provider {
	out := make([]entity.Provider, 0, len(c.Providers))
	for _, p := range c.Providers {
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = c.DefaultTimeout
		}
		out = append(out, entity.Provider{
			Name:         strings.TrimSpace(p.Name),
			APIKey:       p.APIKey,
			BaseURL:      strings.TrimSpace(p.BaseURL),
			Models:       trimAll(p.Models),
			Capabilities: trimAll(p.Capabilities),
			RateLimit: entity.RateLimitPolicy{
				RequestsPerMinute: p.RateLimit.RequestsPerMinute,
				TokensPerMinute:   p.RateLimit.TokensPerMinute,
			},
			Timeout: timeout,
		})
	}
	return out
}

// Validate 校验与 provider 无关的全局配置；provider 级校验由注册表完成
func Validate(cfg *Config) error {
	if cfg == nil {
		return apperrors.ErrInvalidConfig.WithDetail("config is nil")
	}

	switch cfg.LLM.AdmissionBackend {
	case AdmissionBackendMemory, AdmissionBackendRedis:
	default:
		return apperrors.ErrInvalidConfig.WithDetail(
			fmt.Sprintf("llm.admission_backend must be %q or %q, got %q",
				AdmissionBackendMemory, AdmissionBackendRedis, cfg.LLM.AdmissionBackend))
	}
	if cfg.LLM.Window <= 0 || cfg.LLM.Window > time.Hour {
		return apperrors.ErrInvalidConfig.WithDetail("llm.window must be in (0, 1h]")
	}
	if cfg.LLM.EstimateOverheadTokens < 0 {
		return apperrors.ErrInvalidConfig.WithDetail("llm.estimate_overhead_tokens must be >= 0")
	}
	if strings.TrimSpace(cfg.LLM.DefaultCapability) == "" {
		return apperrors.ErrInvalidConfig.WithDetail("llm.default_capability is required")
	}
	for name, ct := range cfg.LLM.ContentTypes {
		if ct.Temperature < 0 || ct.Temperature > 2 {
			return apperrors.ErrInvalidConfig.WithDetail(fmt.Sprintf("llm.content_types.%s.temperature out of range", name))
		}
		if ct.MaxTokens < 0 {
			return apperrors.ErrInvalidConfig.WithDetail(fmt.Sprintf("llm.content_types.%s.max_tokens must be >= 0", name))
		}
	}
	for _, sink := range cfg.Usage.Sinks {
		switch sink {
		case UsageSinkPostgres, UsageSinkStream:
		default:
			return apperrors.ErrInvalidConfig.WithDetail(fmt.Sprintf("unknown usage sink %q", sink))
		}
	}
	return nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
