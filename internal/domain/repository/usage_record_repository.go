package repository

import (
	"context"
	"time"

	"z-content-ai-api/internal/domain/entity"
)

// UsageFilter 流水查询条件，零值字段不参与过滤
type UsageFilter struct {
	Provider string
	Model    string
	// Start 含，End 不含
	Start time.Time
	End   time.Time
}

// UsageRecordRepository 用量流水仓储，只提供追加与查询
type UsageRecordRepository interface {
	Create(ctx context.Context, record *entity.UsageRecord) error
	List(ctx context.Context, filter UsageFilter, pagination Pagination) (*PagedResult[*entity.UsageRecord], error)
	Summarize(ctx context.Context, filter UsageFilter) ([]entity.UsageSummary, error)
}
