package wire

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-content-ai-api/internal/application/routing"
	"z-content-ai-api/internal/config"
	"z-content-ai-api/internal/infrastructure/messaging"
	"z-content-ai-api/internal/infrastructure/persistence/redis"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.Version = "test"
	cfg.LLM.AdmissionBackend = config.AdmissionBackendMemory
	cfg.LLM.Window = time.Minute
	cfg.LLM.DefaultCapability = "text-generation"
	cfg.LLM.Providers = []config.ProviderConfig{{
		Name:         "MockProvider",
		Models:       []string{"mock-model"},
		Capabilities: []string{"text-generation"},
		RateLimit:    config.RateLimitPolicy{RequestsPerMinute: 10, TokensPerMinute: 1000},
	}}
	return cfg
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redis.NewClientWithRedis(rdb)
}

func TestProvideAdmission(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	registry, err := ProvideRegistry(ctx, cfg)
	require.NoError(t, err)

	memory := ProvideAdmission(ctx, cfg, registry, nil)
	assert.IsType(t, &routing.SlidingWindowAdmission{}, memory)
	assert.NotNil(t, ProvideWindowUsageReader(memory))

	cfg.LLM.AdmissionBackend = config.AdmissionBackendRedis
	shared := ProvideAdmission(ctx, cfg, registry, testRedis(t))
	assert.IsType(t, &redis.WindowAdmission{}, shared)
	assert.Nil(t, ProvideWindowUsageReader(shared))
}

func TestProvideRegistry_InvalidProvider(t *testing.T) {
	cfg := testConfig()
	cfg.LLM.Providers[0].Capabilities = nil

	_, err := ProvideRegistry(context.Background(), cfg)
	require.Error(t, err)
}

func TestProvideUsageSinks(t *testing.T) {
	cfg := testConfig()

	cfg.Usage.Sinks = nil
	sinks, err := ProvideUsageSinks(cfg, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, sinks)

	cfg.Usage.Sinks = []string{config.UsageSinkPostgres}
	_, err = ProvideUsageSinks(cfg, nil, nil)
	assert.Error(t, err)

	cfg.Usage.Sinks = []string{config.UsageSinkStream}
	_, err = ProvideUsageSinks(cfg, nil, nil)
	assert.Error(t, err)

	producer := ProvideMessagingProducer(testRedis(t), cfg)
	sinks, err = ProvideUsageSinks(cfg, nil, producer)
	require.NoError(t, err)
	require.Len(t, sinks, 1)
	assert.Equal(t, config.UsageSinkStream, sinks[0].Name())
	assert.IsType(t, &messaging.UsageStreamSink{}, sinks[0])
}

func TestProvideMessagingProducer_NoRedis(t *testing.T) {
	assert.Nil(t, ProvideMessagingProducer(nil, testConfig()))
}

func TestProvideUsageRepository_NilClient(t *testing.T) {
	// 未连接数据库时必须是 nil 接口，处理器据此返回 503
	assert.Nil(t, ProvideUsageRepository(nil))
}

func TestNeedsRedis(t *testing.T) {
	cfg := testConfig()
	assert.False(t, needsRedis(cfg))

	cfg.Usage.Sinks = []string{config.UsageSinkStream}
	assert.True(t, needsRedis(cfg))

	cfg = testConfig()
	cfg.LLM.AdmissionBackend = config.AdmissionBackendRedis
	assert.True(t, needsRedis(cfg))
}

func TestProvideTemplaterAndService(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.LLM.DefaultContentType = "blog"

	templater, err := ProvideTemplater(cfg)
	require.NoError(t, err)
	registry, err := ProvideRegistry(ctx, cfg)
	require.NoError(t, err)
	admission := ProvideAdmission(ctx, cfg, registry, nil)

	svc := ProvideGenerationService(cfg,
		templater,
		ProvideSelector(registry, admission),
		admission,
		ProvideDispatcher(cfg, ProvideEinoFactory()),
		ProvideUsageLedger(cfg, nil),
	)
	assert.NotNil(t, svc)
	assert.Contains(t, svc.ContentTypes(), "blog")
}
