package postgres

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"z-content-ai-api/internal/config"
	"z-content-ai-api/internal/domain/entity"
	"z-content-ai-api/internal/domain/repository"
)

// UsageRecordRepository 用量流水仓储，同时作为 postgres 写入目标
type UsageRecordRepository struct {
	client *Client
}

// NewUsageRecordRepository 创建用量流水仓储
func NewUsageRecordRepository(client *Client) *UsageRecordRepository {
	return &UsageRecordRepository{client: client}
}

// Name 实现 service.UsageSink
func (r *UsageRecordRepository) Name() string {
	return config.UsageSinkPostgres
}

// Append 实现 service.UsageSink
func (r *UsageRecordRepository) Append(ctx context.Context, record *entity.UsageRecord) error {
	return r.Create(ctx, record)
}

// Create 追加一条流水；ID 已存在时忽略（流消费重放幂等）
func (r *UsageRecordRepository) Create(ctx context.Context, record *entity.UsageRecord) error {
	ctx, span := tracer.Start(ctx, "postgres.UsageRecordRepository.Create")
	span.SetAttributes(
		attribute.String("usage.provider", record.Provider),
		attribute.String("usage.model", record.Model),
	)
	defer span.End()

	if err := r.createQuery(r.client.db.WithContext(ctx), record).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create usage record: %w", err)
	}
	return nil
}

// List 分页查询流水，按时间倒序
func (r *UsageRecordRepository) List(ctx context.Context, filter repository.UsageFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.UsageRecord], error) {
	ctx, span := tracer.Start(ctx, "postgres.UsageRecordRepository.List")
	defer span.End()

	db := r.client.db.WithContext(ctx)

	var total int64
	if err := db.Model(&entity.UsageRecord{}).Scopes(filterScope(filter)).Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count usage records: %w", err)
	}

	var records []*entity.UsageRecord
	if err := r.listQuery(db, filter, pagination).Find(&records).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}

	return repository.NewPagedResult(records, total, pagination), nil
}

// Summarize 按 provider/model 聚合
func (r *UsageRecordRepository) Summarize(ctx context.Context, filter repository.UsageFilter) ([]entity.UsageSummary, error) {
	ctx, span := tracer.Start(ctx, "postgres.UsageRecordRepository.Summarize")
	defer span.End()

	var out []entity.UsageSummary
	if err := r.summaryQuery(r.client.db.WithContext(ctx), filter).Scan(&out).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to summarize usage records: %w", err)
	}
	if out == nil {
		out = []entity.UsageSummary{}
	}
	return out, nil
}

func (r *UsageRecordRepository) createQuery(db *gorm.DB, record *entity.UsageRecord) *gorm.DB {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(record)
}

func (r *UsageRecordRepository) listQuery(db *gorm.DB, filter repository.UsageFilter, pagination repository.Pagination) *gorm.DB {
	return db.Model(&entity.UsageRecord{}).
		Scopes(filterScope(filter)).
		Order("created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit())
}

func (r *UsageRecordRepository) summaryQuery(db *gorm.DB, filter repository.UsageFilter) *gorm.DB {
	return db.Model(&entity.UsageRecord{}).
		Scopes(filterScope(filter)).
		Select(`provider, model,
			COUNT(*) AS request_count,
			COALESCE(SUM(prompt_tokens), 0) AS total_prompt_tokens,
			COALESCE(SUM(completion_tokens), 0) AS total_completion_tokens,
			COALESCE(SUM(total_tokens), 0) AS total_tokens`).
		Group("provider, model").
		Order("provider, model")
}

func filterScope(filter repository.UsageFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if filter.Provider != "" {
			db = db.Where("provider = ?", filter.Provider)
		}
		if filter.Model != "" {
			db = db.Where("model = ?", filter.Model)
		}
		if !filter.Start.IsZero() {
			db = db.Where("created_at >= ?", filter.Start)
		}
		if !filter.End.IsZero() {
			db = db.Where("created_at < ?", filter.End)
		}
		return db
	}
}
