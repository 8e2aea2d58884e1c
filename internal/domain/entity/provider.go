// Package entity 定义领域实体
package entity

import "time"

// 内置能力标签
const (
	CapabilityTextGeneration = "text-generation"
	CapabilityCodeGeneration = "code-generation"
)

// RateLimitPolicy provider 在滚动窗口内允许的请求数与 Token 数
type RateLimitPolicy struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	TokensPerMinute   int `json:"tokens_per_minute"`
}

// Provider 已配置的 AI 后端，进程生命周期内不可变
type Provider struct {
	Name         string          `json:"name"`
	APIKey       string          `json:"-"`
	BaseURL      string          `json:"base_url"`
	Models       []string        `json:"models"`
	Capabilities []string        `json:"capabilities"`
	RateLimit    RateLimitPolicy `json:"rate_limit"`
	Timeout      time.Duration   `json:"timeout"`
}

// HasCapability 判断 provider 是否具备指定能力
func (p Provider) HasCapability(tag string) bool {
	for _, c := range p.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// SupportsModel 判断 provider 是否提供指定模型
func (p Provider) SupportsModel(model string) bool {
	for _, m := range p.Models {
		if m == model {
			return true
		}
	}
	return false
}

// DefaultModel 返回首个配置的模型
func (p Provider) DefaultModel() string {
	if len(p.Models) == 0 {
		return ""
	}
	return p.Models[0]
}

// ResolveModel 请求指定且 provider 支持时使用请求模型，否则回退到默认模型
func (p Provider) ResolveModel(requested string) string {
	if requested != "" && p.SupportsModel(requested) {
		return requested
	}
	return p.DefaultModel()
}

// Clone 深拷贝切片字段，防止调用方修改注册表内部状态
func (p Provider) Clone() Provider {
	cp := p
	cp.Models = append([]string(nil), p.Models...)
	cp.Capabilities = append([]string(nil), p.Capabilities...)
	return cp
}
