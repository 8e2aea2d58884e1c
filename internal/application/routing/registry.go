// Package routing 提供 provider 注册表、准入控制与选择
package routing

import (
	"fmt"
	"strings"

	"z-content-ai-api/internal/domain/entity"
	apperrors "z-content-ai-api/pkg/errors"
)

// Registry 已配置 provider 的只读注册表，初始化后不再修改，请求路径无需加锁
type Registry struct {
	providers []entity.Provider
	byName    map[string]int
}

// NewRegistry 校验并创建注册表，配置错误在启动阶段直接失败
func NewRegistry(providers []entity.Provider) (*Registry, error) {
	r := &Registry{
		providers: make([]entity.Provider, 0, len(providers)),
		byName:    make(map[string]int, len(providers)),
	}

	for i, p := range providers {
		if err := validateProvider(p); err != nil {
			return nil, apperrors.ErrInvalidConfig.WithDetail(fmt.Sprintf("llm.providers[%d]: %s", i, err.Error()))
		}
		if _, dup := r.byName[p.Name]; dup {
			return nil, apperrors.ErrInvalidConfig.WithDetail(fmt.Sprintf("llm.providers[%d]: duplicate provider name %q", i, p.Name))
		}
		r.byName[p.Name] = len(r.providers)
		r.providers = append(r.providers, p.Clone())
	}

	return r, nil
}

func validateProvider(p entity.Provider) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(p.Models) == 0 {
		return fmt.Errorf("provider %q has no models", p.Name)
	}
	for _, m := range p.Models {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("provider %q has a blank model name", p.Name)
		}
	}
	if len(p.Capabilities) == 0 {
		return fmt.Errorf("provider %q has no capabilities", p.Name)
	}
	for _, c := range p.Capabilities {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("provider %q has a blank capability tag", p.Name)
		}
	}
	if p.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("provider %q requests_per_minute must be positive", p.Name)
	}
	if p.RateLimit.TokensPerMinute <= 0 {
		return fmt.Errorf("provider %q tokens_per_minute must be positive", p.Name)
	}
	return nil
}

// ListProviders 按配置顺序返回全部 provider
func (r *Registry) ListProviders() []entity.Provider {
	out := make([]entity.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.Clone())
	}
	return out
}

// FindByCapability 按配置顺序返回具备指定能力的 provider
func (r *Registry) FindByCapability(tag string) []entity.Provider {
	var out []entity.Provider
	for _, p := range r.providers {
		if p.HasCapability(tag) {
			out = append(out, p.Clone())
		}
	}
	return out
}

// Get 按名称查找 provider
func (r *Registry) Get(name string) (entity.Provider, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return entity.Provider{}, false
	}
	return r.providers[idx].Clone(), true
}

// Len provider 数量
func (r *Registry) Len() int {
	return len(r.providers)
}
