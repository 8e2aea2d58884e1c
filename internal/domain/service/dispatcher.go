package service

import (
	"context"

	"z-content-ai-api/internal/domain/entity"
)

// Dispatcher 把补全后的请求发送到指定 provider 并返回归一化结果。
// 说明：该接口位于 domain/service，作为应用层与具体 LLM SDK 之间的 port。
// 约定：实现不做重试；任何传输失败统一返回 ErrProviderCallFailed。
type Dispatcher interface {
	Dispatch(ctx context.Context, provider entity.Provider, req entity.GenerationRequest) (*entity.GenerationResult, error)
}

// DispatcherFunc 函数适配器
type DispatcherFunc func(ctx context.Context, provider entity.Provider, req entity.GenerationRequest) (*entity.GenerationResult, error)

// Dispatch 实现 Dispatcher
func (f DispatcherFunc) Dispatch(ctx context.Context, provider entity.Provider, req entity.GenerationRequest) (*entity.GenerationResult, error) {
	return f(ctx, provider, req)
}
