// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"z-content-ai-api/internal/domain/entity"
	"z-content-ai-api/internal/interfaces/http/dto"
	"z-content-ai-api/pkg/logger"
)

// GenerationService 生成编排入口（generation.Service 实现）
type GenerationService interface {
	GenerateContent(ctx context.Context, req entity.GenerationRequest) (*entity.GenerationResult, error)
	GenerateCode(ctx context.Context, prompt, language string) (*entity.GenerationResult, error)
	GenerateContentForType(ctx context.Context, prompt, contentType string) (*entity.GenerationResult, error)
	ContentTypes() []string
}

// GenerationHandler 内容生成处理器
type GenerationHandler struct {
	svc GenerationService
}

// NewGenerationHandler 创建内容生成处理器
func NewGenerationHandler(svc GenerationService) *GenerationHandler {
	return &GenerationHandler{svc: svc}
}

// Generate 原始生成
// @Summary 内容生成
// @Description 选择可用 provider 生成内容，未设置的参数按内容类型模板补全
// @Tags Generation
// @Accept json
// @Produce json
// @Param body body dto.GenerateRequest true "生成请求"
// @Success 200 {object} dto.Response[dto.GenerationResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 429 {object} dto.ErrorResponse
// @Failure 502 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse
// @Router /v1/generate [post]
func (h *GenerationHandler) Generate(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	result, err := h.svc.GenerateContent(ctx, req.ToEntity())
	if err != nil {
		h.fail(c, "generate content failed", err)
		return
	}
	dto.Success(c, dto.ToGenerationResponse(result))
}

// GenerateCode 代码生成
// @Summary 代码生成
// @Tags Generation
// @Accept json
// @Produce json
// @Param body body dto.GenerateCodeRequest true "代码生成请求"
// @Success 200 {object} dto.Response[dto.GenerationResponse]
// @Router /v1/generate/code [post]
func (h *GenerationHandler) GenerateCode(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.GenerateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	result, err := h.svc.GenerateCode(ctx, req.Prompt, req.Language)
	if err != nil {
		h.fail(c, "generate code failed", err)
		return
	}
	dto.Success(c, dto.ToGenerationResponse(result))
}

// GenerateForType 按内容类型生成
// @Summary 按内容类型生成
// @Tags Generation
// @Accept json
// @Produce json
// @Param content_type path string true "内容类型"
// @Param body body dto.GenerateForTypeRequest true "生成请求"
// @Success 200 {object} dto.Response[dto.GenerationResponse]
// @Router /v1/generate/{content_type} [post]
func (h *GenerationHandler) GenerateForType(c *gin.Context) {
	ctx := c.Request.Context()
	contentType := c.Param("content_type")

	var req dto.GenerateForTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	result, err := h.svc.GenerateContentForType(ctx, req.Prompt, contentType)
	if err != nil {
		h.fail(c, "generate content for type failed", err, "content_type", contentType)
		return
	}
	dto.Success(c, dto.ToGenerationResponse(result))
}

// ListContentTypes 已配置的内容类型
// @Summary 内容类型列表
// @Tags Generation
// @Produce json
// @Success 200 {object} dto.Response[dto.ContentTypeListResponse]
// @Router /v1/content-types [get]
func (h *GenerationHandler) ListContentTypes(c *gin.Context) {
	dto.Success(c, &dto.ContentTypeListResponse{ContentTypes: h.svc.ContentTypes()})
}

func (h *GenerationHandler) fail(c *gin.Context, msg string, err error, args ...any) {
	logger.Warn(c.Request.Context(), msg, append(args, "error", err.Error())...)
	dto.FromError(c, err)
}
