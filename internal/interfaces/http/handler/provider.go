package handler

import (
	"github.com/gin-gonic/gin"

	"z-content-ai-api/internal/application/routing"
	"z-content-ai-api/internal/domain/entity"
	"z-content-ai-api/internal/interfaces/http/dto"
)

// ProviderLister provider 注册表的只读视图
type ProviderLister interface {
	ListProviders() []entity.Provider
}

// WindowUsageReader 进程内准入窗口的占用查询（Redis 后端不提供）
type WindowUsageReader interface {
	Usage(name string) (routing.WindowUsage, bool)
}

// ProviderHandler provider 查询处理器
type ProviderHandler struct {
	registry ProviderLister
	usage    WindowUsageReader
}

// NewProviderHandler 创建处理器；usage 可为 nil
func NewProviderHandler(registry ProviderLister, usage WindowUsageReader) *ProviderHandler {
	return &ProviderHandler{
		registry: registry,
		usage:    usage,
	}
}

// ListProviders 列出已配置 provider（按优先级）
// @Summary provider 列表
// @Tags Providers
// @Produce json
// @Success 200 {object} dto.Response[dto.ProviderListResponse]
// @Router /v1/providers [get]
func (h *ProviderHandler) ListProviders(c *gin.Context) {
	providers := h.registry.ListProviders()
	resp := &dto.ProviderListResponse{Providers: make([]*dto.ProviderResponse, 0, len(providers))}

	for _, p := range providers {
		item := dto.ToProviderResponse(p)
		if h.usage != nil {
			if u, ok := h.usage.Usage(p.Name); ok {
				item.Window = &dto.WindowUsageResponse{
					Requests:        u.Requests,
					Tokens:          u.Tokens,
					PendingRequests: u.PendingRequests,
				}
			}
		}
		resp.Providers = append(resp.Providers, item)
	}
	dto.Success(c, resp)
}
