package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-content-ai-api/internal/domain/entity"
	apperrors "z-content-ai-api/pkg/errors"
)

type fakeChatModel struct {
	mu       sync.Mutex
	reply    *schema.Message
	err      error
	delay    time.Duration
	lastMsgs []*schema.Message
	lastOpts *model.Options
}

func (m *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.lastMsgs = input
	m.lastOpts = model.GetCommonOptions(nil, opts...)
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.reply, nil
}

func (m *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

type staticFactory struct {
	model model.BaseChatModel
	err   error
}

func (f staticFactory) ChatModel(context.Context, entity.Provider, string) (model.BaseChatModel, error) {
	return f.model, f.err
}

func testProvider() entity.Provider {
	return entity.Provider{
		Name:         "MockProvider",
		APIKey:       "k",
		BaseURL:      "http://mock.local/v1",
		Models:       []string{"mock-model", "mock-large"},
		Capabilities: []string{entity.CapabilityTextGeneration},
		RateLimit:    entity.RateLimitPolicy{RequestsPerMinute: 10, TokensPerMinute: 10000},
	}
}

func testRequest() entity.GenerationRequest {
	return entity.GenerationRequest{
		Prompt:       "write a haiku",
		SystemPrompt: entity.StringPtr("You are a poet."),
		Model:        "mock-large",
		Temperature:  entity.Float32Ptr(0.8),
		MaxTokens:    entity.IntPtr(4000),
	}
}

func TestDispatch_NormalizesResult(t *testing.T) {
	fm := &fakeChatModel{reply: &schema.Message{
		Role:    schema.Assistant,
		Content: "autumn leaves falling",
		ResponseMeta: &schema.ResponseMeta{
			Usage: &schema.TokenUsage{PromptTokens: 9, CompletionTokens: 6, TotalTokens: 100},
		},
	}}
	d := NewEinoDispatcher(staticFactory{model: fm}, time.Second)

	res, err := d.Dispatch(context.Background(), testProvider(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "autumn leaves falling", res.Content)
	assert.Equal(t, "MockProvider", res.Provider)
	assert.Equal(t, "mock-large", res.Model)
	assert.Equal(t, entity.TokenUsage{PromptTokens: 9, CompletionTokens: 6, TotalTokens: 15}, res.Usage)

	require.Len(t, fm.lastMsgs, 2)
	assert.Equal(t, schema.System, fm.lastMsgs[0].Role)
	assert.Equal(t, "You are a poet.", fm.lastMsgs[0].Content)
	assert.Equal(t, schema.User, fm.lastMsgs[1].Role)

	require.NotNil(t, fm.lastOpts.Temperature)
	assert.InDelta(t, 0.8, *fm.lastOpts.Temperature, 1e-6)
	require.NotNil(t, fm.lastOpts.MaxTokens)
	assert.Equal(t, 4000, *fm.lastOpts.MaxTokens)
	require.NotNil(t, fm.lastOpts.Model)
	assert.Equal(t, "mock-large", *fm.lastOpts.Model)
}

func TestDispatch_EstimatesMissingUsage(t *testing.T) {
	fm := &fakeChatModel{reply: schema.AssistantMessage("0123456789abcdef", nil)}
	d := NewEinoDispatcher(staticFactory{model: fm}, time.Second)

	req := testRequest()
	req.SystemPrompt = nil
	req.Prompt = "12345678"
	res, err := d.Dispatch(context.Background(), testProvider(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Usage.PromptTokens)
	assert.Equal(t, 4, res.Usage.CompletionTokens)
	assert.Equal(t, 6, res.Usage.TotalTokens)
	assert.Len(t, fm.lastMsgs, 1)
}

func TestDispatch_UnknownModelFallsBackToDefault(t *testing.T) {
	fm := &fakeChatModel{reply: schema.AssistantMessage("ok", nil)}
	d := NewEinoDispatcher(staticFactory{model: fm}, time.Second)

	req := testRequest()
	req.Model = "gpt-unknown"
	res, err := d.Dispatch(context.Background(), testProvider(), req)
	require.NoError(t, err)
	assert.Equal(t, "mock-model", res.Model)
}

func TestDispatch_Failures(t *testing.T) {
	tests := []struct {
		name    string
		factory ModelFactory
		timeout time.Duration
		detail  string
	}{
		{
			name:    "transport error",
			factory: staticFactory{model: &fakeChatModel{err: errors.New("502 bad gateway")}},
			detail:  "generate failed",
		},
		{
			name:    "empty content",
			factory: staticFactory{model: &fakeChatModel{reply: schema.AssistantMessage("  ", nil)}},
			detail:  "empty response",
		},
		{
			name:    "nil message",
			factory: staticFactory{model: &fakeChatModel{}},
			detail:  "empty response",
		},
		{
			name:    "timeout",
			factory: staticFactory{model: &fakeChatModel{delay: time.Second, reply: schema.AssistantMessage("late", nil)}},
			timeout: 20 * time.Millisecond,
			detail:  "timeout",
		},
		{
			name:    "client creation",
			factory: staticFactory{err: errors.New("bad base url")},
			detail:  "client unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testProvider()
			p.Timeout = tt.timeout
			d := NewEinoDispatcher(tt.factory, time.Second)

			res, err := d.Dispatch(context.Background(), p, testRequest())
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, apperrors.Is(err, apperrors.ErrProviderCallFailed))

			appErr := apperrors.AsAppError(err)
			require.NotNil(t, appErr)
			assert.Contains(t, appErr.Detail, "provider=MockProvider")
			assert.Contains(t, appErr.Detail, tt.detail)
		})
	}
}

func TestEinoFactory_CachesPerProviderModel(t *testing.T) {
	var created int32
	f := NewEinoFactory(WithModelConstructor(func(_ context.Context, cfg *openai.ChatModelConfig) (model.BaseChatModel, error) {
		atomic.AddInt32(&created, 1)
		assert.Equal(t, "k", cfg.APIKey)
		assert.Equal(t, "http://mock.local/v1", cfg.BaseURL)
		return &fakeChatModel{}, nil
	}))
	ctx := context.Background()
	p := testProvider()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ChatModel(ctx, p, "mock-model")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, err := f.ChatModel(ctx, p, "")
	require.NoError(t, err)
	_, err = f.ChatModel(ctx, p, "mock-large")
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&created))
	assert.Equal(t, 2, f.Len())
}

func TestEinoFactory_ConstructorError(t *testing.T) {
	f := NewEinoFactory(WithModelConstructor(func(context.Context, *openai.ChatModelConfig) (model.BaseChatModel, error) {
		return nil, errors.New("boom")
	}))

	_, err := f.ChatModel(context.Background(), testProvider(), "mock-model")
	require.Error(t, err)
	assert.Zero(t, f.Len())

	p := testProvider()
	p.Models = nil
	_, err = f.ChatModel(context.Background(), p, "")
	require.Error(t, err)
}
