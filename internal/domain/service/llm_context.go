package service

import (
	"context"
	"strings"
)

type llmCtxKey string

const (
	llmCtxKeyOperation   llmCtxKey = "llm_operation"
	llmCtxKeyContentType llmCtxKey = "llm_content_type"
)

// 外部入口名称，用于指标与日志
const (
	OperationGenerateContent        = "generate_content"
	OperationGenerateCode           = "generate_code"
	OperationGenerateContentForType = "generate_content_for_type"
)

func WithOperation(ctx context.Context, operation string) context.Context {
	if ctx == nil {
		return nil
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		return ctx
	}
	// 外层入口优先：GenerateCode 转发到 GenerateContent 时保留 generate_code
	if _, ok := ctx.Value(llmCtxKeyOperation).(string); ok {
		return ctx
	}
	return context.WithValue(ctx, llmCtxKeyOperation, op)
}

func WithContentType(ctx context.Context, contentType string) context.Context {
	if ctx == nil {
		return nil
	}
	ct := strings.TrimSpace(contentType)
	if ct == "" {
		return ctx
	}
	return context.WithValue(ctx, llmCtxKeyContentType, ct)
}

func OperationFromContext(ctx context.Context) string {
	return stringFromContext(ctx, llmCtxKeyOperation)
}

func ContentTypeFromContext(ctx context.Context) string {
	return stringFromContext(ctx, llmCtxKeyContentType)
}

func stringFromContext(ctx context.Context, key llmCtxKey) string {
	if ctx == nil {
		return "unknown"
	}
	s, ok := ctx.Value(key).(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return strings.TrimSpace(s)
}
