package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	einocallbacks "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"

	"z-content-ai-api/internal/domain/entity"
	apperrors "z-content-ai-api/pkg/errors"
	"z-content-ai-api/pkg/metrics"
	"z-content-ai-api/pkg/tracer"
)

// DefaultTimeout provider 未配置超时时的调用上限
const DefaultTimeout = 60 * time.Second

// EinoDispatcher 通过 Eino ChatModel 调用 provider，实现 service.Dispatcher。
// 不做重试：超时、传输错误、空响应统一返回 ErrProviderCallFailed。
type EinoDispatcher struct {
	factory        ModelFactory
	defaultTimeout time.Duration
}

// NewEinoDispatcher 创建调度器
func NewEinoDispatcher(factory ModelFactory, defaultTimeout time.Duration) *EinoDispatcher {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &EinoDispatcher{
		factory:        factory,
		defaultTimeout: defaultTimeout,
	}
}

// Dispatch 实现 service.Dispatcher
func (d *EinoDispatcher) Dispatch(ctx context.Context, provider entity.Provider, req entity.GenerationRequest) (*entity.GenerationResult, error) {
	modelName := provider.ResolveModel(req.Model)

	ctx, span := tracer.Start(ctx, "llm.Dispatch")
	span.SetAttributes(
		attribute.String("llm.provider", provider.Name),
		attribute.String("llm.model", modelName),
	)
	defer span.End()

	start := time.Now()
	result, err := d.dispatch(ctx, provider, modelName, req)
	elapsed := time.Since(start).Seconds()

	metrics.LLMCallDuration.WithLabelValues(provider.Name, modelName).Observe(elapsed)
	if err != nil {
		metrics.LLMCallTotal.WithLabelValues(provider.Name, modelName, "error").Inc()
		tracer.RecordError(span, err)
		return nil, err
	}

	metrics.LLMCallTotal.WithLabelValues(provider.Name, modelName, "success").Inc()
	metrics.LLMTokensUsed.WithLabelValues(provider.Name, modelName, "prompt").Add(float64(result.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(provider.Name, modelName, "completion").Add(float64(result.Usage.CompletionTokens))
	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", result.Usage.PromptTokens),
		attribute.Int("llm.completion_tokens", result.Usage.CompletionTokens),
	)
	return result, nil
}

func (d *EinoDispatcher) dispatch(ctx context.Context, provider entity.Provider, modelName string, req entity.GenerationRequest) (*entity.GenerationResult, error) {
	callFailed := func(reason string, err error) error {
		e := apperrors.ErrProviderCallFailed.WithDetail(fmt.Sprintf("provider=%s model=%s: %s", provider.Name, modelName, reason))
		if err != nil {
			e = e.WithError(err)
		}
		return e
	}

	chatModel, err := d.factory.ChatModel(ctx, provider, modelName)
	if err != nil {
		return nil, callFailed("client unavailable", err)
	}

	timeout := provider.Timeout
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 挂载全局 callbacks（span、日志），ChatModel 内部触发
	callCtx = einocallbacks.InitCallbacks(callCtx, &einocallbacks.RunInfo{
		Name:      provider.Name,
		Type:      "OpenAICompatible",
		Component: components.ComponentOfChatModel,
	})

	msg, err := chatModel.Generate(callCtx, buildMessages(req), buildOptions(modelName, req)...)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, callFailed(fmt.Sprintf("timeout after %s", timeout), err)
		}
		return nil, callFailed("generate failed", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return nil, callFailed("empty response", nil)
	}

	return &entity.GenerationResult{
		Content:  msg.Content,
		Model:    modelName,
		Provider: provider.Name,
		Usage:    normalizeUsage(msg, req),
	}, nil
}

func buildMessages(req entity.GenerationRequest) []*schema.Message {
	msgs := make([]*schema.Message, 0, 2)
	if req.SystemPrompt != nil && strings.TrimSpace(*req.SystemPrompt) != "" {
		msgs = append(msgs, schema.SystemMessage(*req.SystemPrompt))
	}
	return append(msgs, schema.UserMessage(req.Prompt))
}

func buildOptions(modelName string, req entity.GenerationRequest) []model.Option {
	opts := []model.Option{model.WithModel(modelName)}
	if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(*req.Temperature))
	}
	if req.MaxTokens != nil {
		opts = append(opts, model.WithMaxTokens(*req.MaxTokens))
	}
	return opts
}

// normalizeUsage total 按 prompt+completion 重新计算；后端未返回用量时按文本长度估算
func normalizeUsage(msg *schema.Message, req entity.GenerationRequest) entity.TokenUsage {
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		u := msg.ResponseMeta.Usage
		if u.PromptTokens > 0 || u.CompletionTokens > 0 {
			return entity.NewTokenUsage(u.PromptTokens, u.CompletionTokens)
		}
	}

	promptChars := len(req.Prompt)
	if req.SystemPrompt != nil {
		promptChars += len(*req.SystemPrompt)
	}
	return entity.NewTokenUsage(estimateTokens(promptChars), estimateTokens(len(msg.Content)))
}

func estimateTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	if n := chars / 4; n > 0 {
		return n
	}
	return 1
}
