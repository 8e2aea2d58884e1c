package service

import (
	"context"

	"z-content-ai-api/internal/domain/entity"
)

// UsageSink 用量流水的写入目标（数据库、消息流等）。
// 约定：实现只追加，不修改或删除已有记录。
type UsageSink interface {
	Name() string
	Append(ctx context.Context, record *entity.UsageRecord) error
}
