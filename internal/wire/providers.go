package wire

import (
	"context"
	"fmt"
	"os"

	"z-content-ai-api/internal/application/generation"
	"z-content-ai-api/internal/application/prompt"
	"z-content-ai-api/internal/application/quota"
	"z-content-ai-api/internal/application/routing"
	"z-content-ai-api/internal/config"
	"z-content-ai-api/internal/domain/repository"
	"z-content-ai-api/internal/domain/service"
	"z-content-ai-api/internal/infrastructure/llm"
	"z-content-ai-api/internal/infrastructure/messaging"
	"z-content-ai-api/internal/infrastructure/persistence/postgres"
	"z-content-ai-api/internal/infrastructure/persistence/redis"
	"z-content-ai-api/internal/interfaces/http/handler"
	"z-content-ai-api/pkg/logger"
)

// UsageWorker 用量流水消费进程的依赖
type UsageWorker struct {
	Consumer *messaging.UsageConsumer
}

// needsRedis 准入或流水写入依赖 Redis 时必须可用
func needsRedis(cfg *config.Config) bool {
	return cfg.LLM.AdmissionBackend == config.AdmissionBackendRedis || cfg.Usage.HasSink(config.UsageSinkStream)
}

// ProvidePostgresClient 提供 PostgreSQL 客户端，按配置执行迁移
func ProvidePostgresClient(ctx context.Context, cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.Postgres.AutoMigrate {
		if err := client.AutoMigrate(ctx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvidePostgresClientOptional 未启用 postgres 写入目标时不连接数据库
func ProvidePostgresClientOptional(ctx context.Context, cfg *config.Config) (*postgres.Client, func(), error) {
	if !cfg.Usage.HasSink(config.UsageSinkPostgres) {
		logger.Info(ctx, "postgres usage sink disabled, usage queries unavailable")
		return nil, func() {}, nil
	}
	return ProvidePostgresClient(ctx, cfg)
}

// ProvideRedisClient 提供 Redis 客户端
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideRedisClientOptional Redis 只用于汇总缓存时连接失败不阻塞启动
func ProvideRedisClientOptional(ctx context.Context, cfg *config.Config) (*redis.Client, func(), error) {
	if needsRedis(cfg) {
		return ProvideRedisClient(cfg)
	}
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		logger.Warn(ctx, "redis not available, usage summary cache disabled", "error", err.Error())
		return nil, func() {}, nil
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideRegistry 按配置顺序构建 provider 注册表
func ProvideRegistry(ctx context.Context, cfg *config.Config) (*routing.Registry, error) {
	registry, err := routing.NewRegistry(cfg.LLM.ToProviders())
	if err != nil {
		return nil, err
	}
	if registry.Len() == 0 {
		logger.Warn(ctx, "no llm providers configured, generation requests will fail")
	}
	return registry, nil
}

// ProvideAdmission 按 llm.admission_backend 选择准入实现
func ProvideAdmission(ctx context.Context, cfg *config.Config, registry *routing.Registry, redisClient *redis.Client) routing.Admission {
	if cfg.LLM.AdmissionBackend == config.AdmissionBackendRedis && redisClient != nil {
		logger.Info(ctx, "using redis admission window", "window", cfg.LLM.Window.String())
		return redis.NewWindowAdmission(redisClient, redis.WithAdmissionWindow(cfg.LLM.Window))
	}
	return routing.NewSlidingWindowAdmission(registry, routing.WithWindow(cfg.LLM.Window))
}

// ProvideWindowUsageReader 仅进程内准入支持窗口占用查询
func ProvideWindowUsageReader(admission routing.Admission) handler.WindowUsageReader {
	if r, ok := admission.(handler.WindowUsageReader); ok {
		return r
	}
	return nil
}

// ProvideSelector 提供 provider 选择器
func ProvideSelector(registry *routing.Registry, admission routing.Admission) routing.Selector {
	return routing.NewSelector(registry, admission)
}

// ProvideTemplater 提供内容类型模板
func ProvideTemplater(cfg *config.Config) (*prompt.Templater, error) {
	return prompt.NewTemplater(cfg.LLM.ContentTypes, cfg.LLM.Code,
		prompt.WithDefaultContentType(cfg.LLM.DefaultContentType))
}

// ProvideDispatcher 提供基于 Eino 的调度器
func ProvideDispatcher(cfg *config.Config, factory *llm.EinoFactory) service.Dispatcher {
	return llm.NewEinoDispatcher(factory, cfg.LLM.DefaultTimeout)
}

// ProvideEinoFactory 提供 ChatModel 工厂
func ProvideEinoFactory() *llm.EinoFactory {
	return llm.NewEinoFactory()
}

// ProvideMessagingProducer 提供消息生产者；Redis 不可用时为 nil
func ProvideMessagingProducer(redisClient *redis.Client, cfg *config.Config) *messaging.Producer {
	if redisClient == nil {
		return nil
	}
	return messaging.NewProducer(redisClient.Redis(), int64(cfg.Messaging.RedisStream.MaxLen))
}

// ProvideUsageSinks 按 usage.sinks 的顺序组装写入目标
func ProvideUsageSinks(cfg *config.Config, pgClient *postgres.Client, producer *messaging.Producer) ([]service.UsageSink, error) {
	sinks := make([]service.UsageSink, 0, len(cfg.Usage.Sinks))
	for _, name := range cfg.Usage.Sinks {
		switch name {
		case config.UsageSinkPostgres:
			if pgClient == nil {
				return nil, fmt.Errorf("usage sink %q requires postgres", name)
			}
			sinks = append(sinks, postgres.NewUsageRecordRepository(pgClient))
		case config.UsageSinkStream:
			if producer == nil {
				return nil, fmt.Errorf("usage sink %q requires redis", name)
			}
			sinks = append(sinks, messaging.NewUsageStreamSink(producer))
		}
	}
	return sinks, nil
}

// ProvideUsageLedger 提供用量记账器
func ProvideUsageLedger(cfg *config.Config, sinks []service.UsageSink) *quota.UsageLedger {
	return quota.NewUsageLedger(sinks, quota.WithWriteTimeout(cfg.Usage.WriteTimeout))
}

// ProvideGenerationService 提供生成编排服务
func ProvideGenerationService(
	cfg *config.Config,
	templater *prompt.Templater,
	selector routing.Selector,
	admission routing.Admission,
	dispatcher service.Dispatcher,
	ledger *quota.UsageLedger,
) *generation.Service {
	return generation.NewService(templater, selector, admission, dispatcher, ledger, generation.Options{
		DefaultCapability:      cfg.LLM.DefaultCapability,
		EstimateOverheadTokens: cfg.LLM.EstimateOverheadTokens,
	})
}

// ProvideUsageRepository 未连接数据库时返回 nil 接口
func ProvideUsageRepository(pgClient *postgres.Client) repository.UsageRecordRepository {
	if pgClient == nil {
		return nil
	}
	return postgres.NewUsageRecordRepository(pgClient)
}

// ProvideUsageHandler 有 Redis 时启用汇总缓存
func ProvideUsageHandler(cfg *config.Config, repo repository.UsageRecordRepository, redisClient *redis.Client) *handler.UsageHandler {
	var cache handler.SummaryCache
	if redisClient != nil {
		cache = redis.NewCache(redisClient)
	}
	return handler.NewUsageHandler(repo, cache, cfg.Usage.SummaryCacheTTL)
}

// ProvideHealthHandler 只检查实际连接的依赖
func ProvideHealthHandler(cfg *config.Config, pgClient *postgres.Client, redisClient *redis.Client) *handler.HealthHandler {
	checks := make(map[string]handler.HealthChecker, 2)
	if pgClient != nil {
		checks["postgres"] = pgClient
	}
	if redisClient != nil {
		checks["redis"] = redisClient
	}
	return handler.NewHealthHandler(cfg.App.Version, checks)
}

// ProvideUsageConsumer 消费用量流并写入 PostgreSQL
func ProvideUsageConsumer(cfg *config.Config, redisClient *redis.Client, pgClient *postgres.Client) *messaging.UsageConsumer {
	streamCfg := cfg.Messaging.RedisStream
	return messaging.NewUsageConsumer(redisClient.Redis(), postgres.NewUsageRecordRepository(pgClient), messaging.UsageConsumerConfig{
		Stream:        messaging.StreamUsage,
		Group:         messaging.ConsumerGroupUsageWriter.WithPrefix(streamCfg.ConsumerGroupPrefix),
		ConsumerName:  hostnameConsumerName(),
		BatchSize:     int64(streamCfg.BatchSize),
		BlockTimeout:  streamCfg.BlockTimeout,
		ClaimInterval: streamCfg.ClaimInterval,
		RetryLimit:    streamCfg.RetryLimit,
		Backoff:       messaging.BackoffFromConfig(streamCfg.RetryBackoff),
	})
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "usage-worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
