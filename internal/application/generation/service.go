// Package generation 提供内容生成编排入口
package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"z-content-ai-api/internal/application/prompt"
	"z-content-ai-api/internal/application/quota"
	"z-content-ai-api/internal/application/routing"
	"z-content-ai-api/internal/domain/entity"
	"z-content-ai-api/internal/domain/service"
	apperrors "z-content-ai-api/pkg/errors"
	"z-content-ai-api/pkg/logger"
	"z-content-ai-api/pkg/metrics"
	"z-content-ai-api/pkg/tracer"
)

// UsageLogger 用量流水记账
type UsageLogger interface {
	LogUsage(ctx context.Context, provider entity.Provider, result *entity.GenerationResult, meta quota.UsageMeta) error
}

// Options 编排参数
type Options struct {
	// DefaultCapability 请求未指定能力时使用
	DefaultCapability string
	// EstimateOverheadTokens 准入预估的 prompt 固定开销
	EstimateOverheadTokens int
}

// Service 三个公开入口共享同一条 选择 -> 调度 -> 记账 路径。
// GenerateCode 与 GenerateContentForType 只负责构造请求，然后调用一次 GenerateContent。
type Service struct {
	templater  *prompt.Templater
	selector   routing.Selector
	admission  routing.Admission
	dispatcher service.Dispatcher
	ledger     UsageLogger
	opts       Options
}

// NewService 创建编排服务
func NewService(
	templater *prompt.Templater,
	selector routing.Selector,
	admission routing.Admission,
	dispatcher service.Dispatcher,
	ledger UsageLogger,
	opts Options,
) *Service {
	if strings.TrimSpace(opts.DefaultCapability) == "" {
		opts.DefaultCapability = entity.CapabilityTextGeneration
	}
	if opts.EstimateOverheadTokens < 0 {
		opts.EstimateOverheadTokens = 0
	}
	return &Service{
		templater:  templater,
		selector:   selector,
		admission:  admission,
		dispatcher: dispatcher,
		ledger:     ledger,
		opts:       opts,
	}
}

// GenerateContent 唯一的调度路径
func (s *Service) GenerateContent(ctx context.Context, req entity.GenerationRequest) (*entity.GenerationResult, error) {
	ctx = service.WithOperation(ctx, service.OperationGenerateContent)
	operation := service.OperationFromContext(ctx)
	ctx = logger.WithContext(ctx, logger.OperationKey, operation)

	ctx, span := tracer.Start(ctx, "generation.GenerateContent")
	defer span.End()

	start := time.Now()
	result, err := s.generate(ctx, req)

	status := "success"
	if err != nil {
		status = statusOf(err)
		tracer.RecordError(span, err)
	}
	metrics.GenerationTotal.WithLabelValues(operation, status).Inc()
	metrics.GenerationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	return result, err
}

func (s *Service) generate(ctx context.Context, req entity.GenerationRequest) (*entity.GenerationResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Capability) == "" {
		req.Capability = s.opts.DefaultCapability
	}

	req, err := s.templater.Fill(ctx, req)
	if err != nil {
		return nil, err
	}
	ctx = service.WithContentType(ctx, req.ContentType)
	ctx = logger.WithContext(ctx, logger.ContentTypeKey, req.ContentType)

	// 每次调度一个占位 ID，Record 只确认本请求的预估额度
	ctx = service.WithAdmissionHold(ctx, uuid.NewString())
	estimated := routing.EstimateTokens(req, s.opts.EstimateOverheadTokens)
	provider, err := s.selector.SelectOptimalProvider(ctx, req.Capability, estimated)
	if err != nil {
		logger.Warn(ctx, "no provider selected",
			"capability", req.Capability,
			"estimated_tokens", estimated,
			"error", err.Error(),
		)
		return nil, asAppError(err)
	}

	req.Model = provider.ResolveModel(req.Model)
	ctx = logger.WithContext(ctx, logger.ProviderKey, provider.Name)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("llm.provider", provider.Name),
		attribute.String("llm.model", req.Model),
		attribute.String("llm.capability", req.Capability),
		attribute.Int("llm.estimated_tokens", estimated),
	)

	started := time.Now()
	result, err := s.dispatcher.Dispatch(ctx, provider, req)
	if err != nil {
		logger.Error(ctx, "provider call failed", err, "model", req.Model)
		return nil, asProviderError(err, provider, req.Model)
	}
	if result == nil {
		return nil, apperrors.ErrProviderCallFailed.WithDetail(fmt.Sprintf("provider=%s model=%s: empty result", provider.Name, req.Model))
	}
	elapsed := time.Since(started)

	result.Provider = provider.Name
	if strings.TrimSpace(result.Model) == "" {
		result.Model = req.Model
	}
	result.Usage = entity.NewTokenUsage(result.Usage.PromptTokens, result.Usage.CompletionTokens)

	// 准入窗口与流水使用同一份 Token 数
	s.admission.Record(ctx, provider, result.Usage.TotalTokens)

	if s.ledger != nil {
		meta := quota.UsageMeta{
			RequestID:   logger.StringFromContext(ctx, logger.RequestIDKey),
			ContentType: req.ContentType,
			Duration:    elapsed,
		}
		if err := s.ledger.LogUsage(ctx, provider, result, meta); err != nil {
			logger.Warn(ctx, "usage logging failed", "error", err.Error())
		}
	}

	logger.Info(ctx, "content generated",
		"model", result.Model,
		"prompt_tokens", result.Usage.PromptTokens,
		"completion_tokens", result.Usage.CompletionTokens,
		"duration_ms", elapsed.Milliseconds(),
	)
	return result, nil
}

// GenerateCode 构造代码请求后转发到 GenerateContent
func (s *Service) GenerateCode(ctx context.Context, promptText, language string) (*entity.GenerationResult, error) {
	ctx = service.WithOperation(ctx, service.OperationGenerateCode)

	req, err := s.templater.BuildCodeRequest(ctx, promptText, language)
	if err != nil {
		countRejected(service.OperationGenerateCode, err)
		return nil, err
	}
	return s.GenerateContent(ctx, req)
}

// GenerateContentForType 按内容类型构造请求后转发到 GenerateContent
func (s *Service) GenerateContentForType(ctx context.Context, promptText, contentType string) (*entity.GenerationResult, error) {
	ctx = service.WithOperation(ctx, service.OperationGenerateContentForType)

	req, err := s.templater.BuildRequest(ctx, promptText, contentType)
	if err != nil {
		countRejected(service.OperationGenerateContentForType, err)
		return nil, err
	}
	return s.GenerateContent(ctx, req)
}

// ContentTypes 已注册的内容类型
func (s *Service) ContentTypes() []string {
	return s.templater.ContentTypes()
}

func validateRequest(req entity.GenerationRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return apperrors.ErrInvalidParam.WithDetail("prompt is required")
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return apperrors.ErrInvalidParam.WithDetail("temperature must be between 0 and 2")
	}
	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		return apperrors.ErrInvalidParam.WithDetail("max_tokens must be positive")
	}
	return nil
}

func asAppError(err error) error {
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.ErrInternalError.WithError(err)
}

func asProviderError(err error, provider entity.Provider, model string) error {
	if appErr := apperrors.AsAppError(err); appErr != nil && appErr.Code == apperrors.CodeProviderCallFailed {
		return err
	}
	return apperrors.ErrProviderCallFailed.
		WithDetail(fmt.Sprintf("provider=%s model=%s", provider.Name, model)).
		WithError(err)
}

func countRejected(operation string, err error) {
	metrics.GenerationTotal.WithLabelValues(operation, statusOf(err)).Inc()
}

func statusOf(err error) string {
	appErr := apperrors.AsAppError(err)
	if appErr == nil {
		return "error"
	}
	switch appErr.Code {
	case apperrors.CodeNoProviderConfigured:
		return "no_provider"
	case apperrors.CodeAllProvidersSaturated:
		return "saturated"
	case apperrors.CodeProviderCallFailed:
		return "provider_error"
	case apperrors.CodeInvalidParam, apperrors.CodeUnknownContentType:
		return "invalid"
	default:
		return "error"
	}
}
