package entity

// GenerationRequest 一次生成请求。
// 可选字段使用指针区分“未设置”与零值，未设置的字段由模板补全后才会到达 Dispatcher。
type GenerationRequest struct {
	Prompt       string   `json:"prompt"`
	SystemPrompt *string  `json:"system_prompt,omitempty"`
	Model        string   `json:"model,omitempty"`
	Temperature  *float32 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
	Capability   string   `json:"capability,omitempty"`

	// ContentType 仅用于流水记录与日志，不参与选择
	ContentType string `json:"content_type,omitempty"`
}

// TokenUsage Token 用量，Total = Prompt + Completion
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewTokenUsage 构造用量并计算总数，负数按 0 处理
func NewTokenUsage(prompt, completion int) TokenUsage {
	if prompt < 0 {
		prompt = 0
	}
	if completion < 0 {
		completion = 0
	}
	return TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// GenerationResult 一次生成的结果，每次调用新建，归调用方所有
type GenerationResult struct {
	Content  string     `json:"content"`
	Model    string     `json:"model"`
	Provider string     `json:"provider"`
	Usage    TokenUsage `json:"usage"`
}

// StringPtr 返回字符串指针
func StringPtr(s string) *string { return &s }

// Float32Ptr 返回 float32 指针
func Float32Ptr(f float32) *float32 { return &f }

// IntPtr 返回 int 指针
func IntPtr(i int) *int { return &i }
