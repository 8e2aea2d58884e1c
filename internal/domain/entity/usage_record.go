package entity

import "time"

// UsageRecord 一次成功调用的用量流水，只追加不修改
type UsageRecord struct {
	ID               string    `json:"id" gorm:"type:uuid;primaryKey"`
	RequestID        string    `json:"request_id,omitempty" gorm:"type:varchar(64);index"`
	Provider         string    `json:"provider" gorm:"type:varchar(64);index;not null"`
	Model            string    `json:"model" gorm:"type:varchar(128);index;not null"`
	ContentType      string    `json:"content_type,omitempty" gorm:"type:varchar(64)"`
	PromptTokens     int       `json:"prompt_tokens" gorm:"not null;default:0"`
	CompletionTokens int       `json:"completion_tokens" gorm:"not null;default:0"`
	TotalTokens      int       `json:"total_tokens" gorm:"not null;default:0"`
	DurationMs       int       `json:"duration_ms" gorm:"not null;default:0"`
	CreatedAt        time.Time `json:"created_at" gorm:"index"`
}

// TableName 表名
func (UsageRecord) TableName() string {
	return "llm_usage_records"
}

// UsageSummary 按 provider/model 聚合的用量
type UsageSummary struct {
	Provider              string `json:"provider"`
	Model                 string `json:"model"`
	RequestCount          int64  `json:"request_count"`
	TotalPromptTokens     int64  `json:"total_prompt_tokens"`
	TotalCompletionTokens int64  `json:"total_completion_tokens"`
	TotalTokens           int64  `json:"total_tokens"`
}
