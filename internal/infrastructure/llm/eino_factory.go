// Package llm 提供基于 Eino 的 provider 调度实现
package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"golang.org/x/sync/singleflight"

	"z-content-ai-api/internal/domain/entity"
)

// ModelFactory 按 (provider, model) 提供 ChatModel
type ModelFactory interface {
	ChatModel(ctx context.Context, provider entity.Provider, modelName string) (model.BaseChatModel, error)
}

// ModelConstructor 创建 ChatModel 的函数
type ModelConstructor func(ctx context.Context, cfg *openai.ChatModelConfig) (model.BaseChatModel, error)

// NewOpenAIChatModel 默认构造器：OpenAI 兼容接口
func NewOpenAIChatModel(ctx context.Context, cfg *openai.ChatModelConfig) (model.BaseChatModel, error) {
	cm, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return cm, nil
}

// FactoryOption 工厂选项
type FactoryOption func(*EinoFactory)

// WithModelConstructor 替换 ChatModel 构造器（测试用）
func WithModelConstructor(fn ModelConstructor) FactoryOption {
	return func(f *EinoFactory) {
		if fn != nil {
			f.newModel = fn
		}
	}
}

// EinoFactory 管理多个 Eino ChatModel 客户端实例
type EinoFactory struct {
	models   map[string]model.BaseChatModel
	mu       sync.RWMutex
	group    singleflight.Group
	newModel ModelConstructor
}

// NewEinoFactory 创建 Eino LLM 工厂
func NewEinoFactory(opts ...FactoryOption) *EinoFactory {
	f := &EinoFactory{
		models:   make(map[string]model.BaseChatModel),
		newModel: NewOpenAIChatModel,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ChatModel 惰性创建并缓存客户端；同一 key 的并发创建只执行一次
func (f *EinoFactory) ChatModel(ctx context.Context, provider entity.Provider, modelName string) (model.BaseChatModel, error) {
	if modelName == "" {
		modelName = provider.DefaultModel()
	}
	if modelName == "" {
		return nil, fmt.Errorf("provider %s has no model configured", provider.Name)
	}
	key := provider.Name + "/" + modelName

	f.mu.RLock()
	m, ok := f.models[key]
	f.mu.RUnlock()
	if ok {
		return m, nil
	}

	v, err, _ := f.group.Do(key, func() (any, error) {
		f.mu.RLock()
		cached, ok := f.models[key]
		f.mu.RUnlock()
		if ok {
			return cached, nil
		}

		// 超时由调度方的 context 控制，这里的 Timeout 只作为 HTTP 客户端兜底
		chatModel, err := f.newModel(ctx, &openai.ChatModelConfig{
			APIKey:  provider.APIKey,
			BaseURL: provider.BaseURL,
			Model:   modelName,
			Timeout: provider.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create eino chat model for %s: %w", key, err)
		}

		f.mu.Lock()
		f.models[key] = chatModel
		f.mu.Unlock()
		return chatModel, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(model.BaseChatModel), nil
}

// Len 已缓存的客户端数量
func (f *EinoFactory) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.models)
}
