package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"z-content-ai-api/internal/domain/entity"
	"z-content-ai-api/internal/domain/repository"
	"z-content-ai-api/internal/interfaces/http/dto"
	"z-content-ai-api/pkg/logger"
)

// SummaryCache 汇总结果的读穿缓存（redis.Cache 实现）
type SummaryCache interface {
	GetOrLoad(ctx context.Context, key string, ttl time.Duration, out any, loader func(ctx context.Context) (any, error)) error
}

// UsageHandler 用量查询处理器
type UsageHandler struct {
	repo     repository.UsageRecordRepository
	cache    SummaryCache
	cacheTTL time.Duration
	now      func() time.Time
}

// NewUsageHandler 创建处理器；cache 可为 nil
func NewUsageHandler(repo repository.UsageRecordRepository, cache SummaryCache, cacheTTL time.Duration) *UsageHandler {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &UsageHandler{
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Summary 按 provider/model 汇总
// @Summary 用量汇总
// @Tags Usage
// @Produce json
// @Param provider query string false "provider"
// @Param model query string false "模型"
// @Param start query string false "起始时间 RFC3339，默认 24 小时前"
// @Param end query string false "结束时间 RFC3339"
// @Success 200 {object} dto.Response[dto.UsageSummaryResponse]
// @Router /v1/usage/summary [get]
func (h *UsageHandler) Summary(c *gin.Context) {
	ctx := c.Request.Context()

	filter, err := dto.BindUsageQuery(c, h.now().UTC())
	if err != nil {
		dto.BadRequest(c, err.Error())
		return
	}
	if h.repo == nil {
		dto.ServiceUnavailable(c, "usage store not configured")
		return
	}

	summaries, err := h.summarize(ctx, filter)
	if err != nil {
		logger.Error(ctx, "failed to summarize usage", err)
		dto.InternalError(c, "failed to summarize usage")
		return
	}

	resp := &dto.UsageSummaryResponse{
		Start:     filter.Start.Format(time.RFC3339),
		Summaries: summaries,
	}
	if !filter.End.IsZero() {
		resp.End = filter.End.Format(time.RFC3339)
	}
	dto.Success(c, resp)
}

// Records 分页查询流水
// @Summary 用量流水
// @Tags Usage
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页条数" default(20)
// @Success 200 {object} dto.Response[[]dto.UsageRecordResponse]
// @Router /v1/usage/records [get]
func (h *UsageHandler) Records(c *gin.Context) {
	ctx := c.Request.Context()

	filter, err := dto.BindUsageQuery(c, h.now().UTC())
	if err != nil {
		dto.BadRequest(c, err.Error())
		return
	}
	if h.repo == nil {
		dto.ServiceUnavailable(c, "usage store not configured")
		return
	}

	pageReq := dto.BindPage(c)
	result, err := h.repo.List(ctx, filter, pageReq.Pagination())
	if err != nil {
		logger.Error(ctx, "failed to list usage records", err)
		dto.InternalError(c, "failed to list usage records")
		return
	}

	meta := dto.NewPageMeta(pageReq.Page, pageReq.PageSize, int(result.Total))
	dto.SuccessWithPage(c, dto.ToUsageRecordResponses(result.Items), meta)
}

func (h *UsageHandler) summarize(ctx context.Context, filter repository.UsageFilter) ([]entity.UsageSummary, error) {
	if h.cache == nil {
		return h.repo.Summarize(ctx, filter)
	}

	var out []entity.UsageSummary
	err := h.cache.GetOrLoad(ctx, summaryCacheKey(filter), h.cacheTTL, &out, func(ctx context.Context) (any, error) {
		return h.repo.Summarize(ctx, filter)
	})
	if out == nil {
		out = []entity.UsageSummary{}
	}
	return out, err
}

// summaryCacheKey 默认窗口的起点按分钟取整，避免每次请求都生成新 key
func summaryCacheKey(filter repository.UsageFilter) string {
	end := "open"
	if !filter.End.IsZero() {
		end = filter.End.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("cache:usage:summary:%s:%s:%s:%s",
		filter.Provider,
		filter.Model,
		filter.Start.UTC().Truncate(time.Minute).Format(time.RFC3339),
		end,
	)
}
