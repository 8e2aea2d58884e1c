package dto

import (
	"strings"
	"time"

	"z-content-ai-api/internal/domain/entity"
)

// GenerateRequest 原始生成请求，未设置的参数由内容类型模板补全
type GenerateRequest struct {
	Prompt       string   `json:"prompt" binding:"required"`
	SystemPrompt *string  `json:"system_prompt,omitempty"`
	Model        string   `json:"model,omitempty" binding:"max=128"`
	Temperature  *float32 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
	Capability   string   `json:"capability,omitempty" binding:"max=64"`
	ContentType  string   `json:"content_type,omitempty" binding:"max=64"`
}

// ToEntity 转换为领域请求
func (r *GenerateRequest) ToEntity() entity.GenerationRequest {
	return entity.GenerationRequest{
		Prompt:       r.Prompt,
		SystemPrompt: r.SystemPrompt,
		Model:        strings.TrimSpace(r.Model),
		Temperature:  r.Temperature,
		MaxTokens:    r.MaxTokens,
		Capability:   strings.TrimSpace(r.Capability),
		ContentType:  strings.TrimSpace(r.ContentType),
	}
}

// GenerateCodeRequest 代码生成请求
type GenerateCodeRequest struct {
	Prompt   string `json:"prompt" binding:"required"`
	Language string `json:"language,omitempty" binding:"max=32"`
}

// GenerateForTypeRequest 按内容类型生成请求，类型取自路径参数
type GenerateForTypeRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// TokenUsageResponse Token 用量
type TokenUsageResponse struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerationResponse 生成结果
type GenerationResponse struct {
	Content  string             `json:"content"`
	Model    string             `json:"model"`
	Provider string             `json:"provider"`
	Usage    TokenUsageResponse `json:"usage"`
}

// ToGenerationResponse 转换生成结果
func ToGenerationResponse(r *entity.GenerationResult) *GenerationResponse {
	if r == nil {
		return nil
	}
	return &GenerationResponse{
		Content:  r.Content,
		Model:    r.Model,
		Provider: r.Provider,
		Usage: TokenUsageResponse{
			PromptTokens:     r.Usage.PromptTokens,
			CompletionTokens: r.Usage.CompletionTokens,
			TotalTokens:      r.Usage.TotalTokens,
		},
	}
}

// WindowUsageResponse 当前窗口占用
type WindowUsageResponse struct {
	Requests        int `json:"requests"`
	Tokens          int `json:"tokens"`
	PendingRequests int `json:"pending_requests"`
}

// ProviderResponse provider 描述，不含密钥
type ProviderResponse struct {
	Name              string               `json:"name"`
	BaseURL           string               `json:"base_url,omitempty"`
	Models            []string             `json:"models"`
	Capabilities      []string             `json:"capabilities"`
	RequestsPerMinute int                  `json:"requests_per_minute"`
	TokensPerMinute   int                  `json:"tokens_per_minute"`
	TimeoutMs         int64                `json:"timeout_ms,omitempty"`
	Window            *WindowUsageResponse `json:"window,omitempty"`
}

// ToProviderResponse 转换 provider
func ToProviderResponse(p entity.Provider) *ProviderResponse {
	return &ProviderResponse{
		Name:              p.Name,
		BaseURL:           p.BaseURL,
		Models:            append([]string(nil), p.Models...),
		Capabilities:      append([]string(nil), p.Capabilities...),
		RequestsPerMinute: p.RateLimit.RequestsPerMinute,
		TokensPerMinute:   p.RateLimit.TokensPerMinute,
		TimeoutMs:         p.Timeout.Milliseconds(),
	}
}

// ProviderListResponse provider 列表
type ProviderListResponse struct {
	Providers []*ProviderResponse `json:"providers"`
}

// ContentTypeListResponse 已配置的内容类型
type ContentTypeListResponse struct {
	ContentTypes []string `json:"content_types"`
}

// UsageRecordResponse 用量流水
type UsageRecordResponse struct {
	ID               string `json:"id"`
	RequestID        string `json:"request_id,omitempty"`
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	ContentType      string `json:"content_type,omitempty"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	DurationMs       int    `json:"duration_ms"`
	CreatedAt        string `json:"created_at"`
}

// ToUsageRecordResponses 转换流水列表
func ToUsageRecordResponses(records []*entity.UsageRecord) []*UsageRecordResponse {
	out := make([]*UsageRecordResponse, 0, len(records))
	for _, r := range records {
		if r == nil {
			continue
		}
		out = append(out, &UsageRecordResponse{
			ID:               r.ID,
			RequestID:        r.RequestID,
			Provider:         r.Provider,
			Model:            r.Model,
			ContentType:      r.ContentType,
			PromptTokens:     r.PromptTokens,
			CompletionTokens: r.CompletionTokens,
			TotalTokens:      r.TotalTokens,
			DurationMs:       r.DurationMs,
			CreatedAt:        r.CreatedAt.Format(time.RFC3339),
		})
	}
	return out
}

// UsageSummaryResponse 用量汇总
type UsageSummaryResponse struct {
	Start     string                `json:"start"`
	End       string                `json:"end,omitempty"`
	Summaries []entity.UsageSummary `json:"summaries"`
}
