//go:build wireinject
// +build wireinject

// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"github.com/google/wire"

	"z-content-ai-api/internal/application/generation"
	"z-content-ai-api/internal/application/routing"
	"z-content-ai-api/internal/config"
	"z-content-ai-api/internal/interfaces/http/handler"
	"z-content-ai-api/internal/interfaces/http/router"
)

// InitializeApp 初始化 API 网关（带路由器）
func InitializeApp(ctx context.Context, cfg *config.Config) (*router.Router, func(), error) {
	wire.Build(
		DataSet,
		OrchestrationSet,
		RouterSet,
	)
	return nil, nil, nil
}

// InitializeUsageWorker 初始化用量流水消费进程
func InitializeUsageWorker(ctx context.Context, cfg *config.Config) (*UsageWorker, func(), error) {
	wire.Build(
		ProvidePostgresClient,
		ProvideRedisClient,
		ProvideUsageConsumer,
		wire.Struct(new(UsageWorker), "*"),
	)
	return nil, nil, nil
}

// DataSet 存储与消息依赖，按配置决定是否连接
var DataSet = wire.NewSet(
	ProvidePostgresClientOptional,
	ProvideRedisClientOptional,
	ProvideMessagingProducer,
	ProvideUsageRepository,
)

// OrchestrationSet 注册表 -> 准入 -> 选择 -> 模板 -> 调度 -> 记账
var OrchestrationSet = wire.NewSet(
	ProvideRegistry,
	ProvideAdmission,
	ProvideSelector,
	ProvideTemplater,
	ProvideEinoFactory,
	ProvideDispatcher,
	ProvideUsageSinks,
	ProvideUsageLedger,
	ProvideGenerationService,
)

// RouterSet 处理器与路由
var RouterSet = wire.NewSet(
	ProvideWindowUsageReader,
	ProvideHealthHandler,
	ProvideUsageHandler,
	handler.NewGenerationHandler,
	handler.NewProviderHandler,
	wire.Bind(new(handler.GenerationService), new(*generation.Service)),
	wire.Bind(new(handler.ProviderLister), new(*routing.Registry)),
	wire.Struct(new(router.Handlers), "*"),
	router.New,
)
