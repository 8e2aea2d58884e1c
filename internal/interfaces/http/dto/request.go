package dto

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"z-content-ai-api/internal/domain/repository"
)

// PageRequest 分页请求参数
type PageRequest struct {
	Page     int `form:"page" json:"page"`
	PageSize int `form:"page_size" json:"page_size"`
}

// Normalize 规范化分页参数
func (r *PageRequest) Normalize() {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.PageSize < 1 {
		r.PageSize = 20
	}
	if r.PageSize > repository.MaxPageSize {
		r.PageSize = repository.MaxPageSize
	}
}

// Pagination 转换为仓储分页参数
func (r PageRequest) Pagination() repository.Pagination {
	return repository.NewPagination(r.Page, r.PageSize)
}

// BindPage 从 Gin Context 绑定分页参数
func BindPage(c *gin.Context) PageRequest {
	req := PageRequest{
		Page:     parseIntWithDefault(c.Query("page"), 1),
		PageSize: parseIntWithDefault(c.Query("page_size"), 20),
	}
	req.Normalize()
	return req
}

// parseIntWithDefault 解析整数，失败时返回默认值
func parseIntWithDefault(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// UsageQuery 用量查询参数，时间为 RFC3339
type UsageQuery struct {
	Provider string `form:"provider"`
	Model    string `form:"model"`
	Start    string `form:"start"`
	End      string `form:"end"`
}

// BindUsageQuery 绑定并解析用量查询参数；未给出 start 时默认最近 24 小时
func BindUsageQuery(c *gin.Context, now time.Time) (repository.UsageFilter, error) {
	var q UsageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		return repository.UsageFilter{}, err
	}

	filter := repository.UsageFilter{
		Provider: strings.TrimSpace(q.Provider),
		Model:    strings.TrimSpace(q.Model),
		Start:    now.Add(-24 * time.Hour),
	}
	if s := strings.TrimSpace(q.Start); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return filter, fmt.Errorf("invalid start: %w", err)
		}
		filter.Start = t
	}
	if e := strings.TrimSpace(q.End); e != "" {
		t, err := time.Parse(time.RFC3339, e)
		if err != nil {
			return filter, fmt.Errorf("invalid end: %w", err)
		}
		filter.End = t
	}
	if !filter.End.IsZero() && !filter.End.After(filter.Start) {
		return filter, fmt.Errorf("end must be after start")
	}
	return filter, nil
}
