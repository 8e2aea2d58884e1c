// Package prompt 提供内容类型到提示词模板的映射
package prompt

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"z-content-ai-api/internal/config"
	"z-content-ai-api/internal/domain/entity"
	apperrors "z-content-ai-api/pkg/errors"
)

//go:embed templates/*.txt
var templatesFS embed.FS

// 内容类型模板的默认生成参数
const (
	DefaultTemperature float32 = 0.8
	DefaultMaxTokens           = 4000

	DefaultCodeTemperature float32 = 0.2
	DefaultCodeMaxTokens           = 4000
)

// 内置内容类型
const (
	ContentTypeBlog          = "blog"
	ContentTypeMarketingCopy = "marketing-copy"
	ContentTypeDocumentation = "documentation"
	ContentTypeSocialMedia   = "social-media"
	ContentTypeEmail         = "email"

	// ContentTypeCode 代码请求的内容类型，使用代码模板，不可在配置中覆盖
	ContentTypeCode = "code"
)

var builtinContentTypes = []string{
	ContentTypeBlog,
	ContentTypeMarketingCopy,
	ContentTypeDocumentation,
	ContentTypeSocialMedia,
	ContentTypeEmail,
}

type contentTemplate struct {
	tpl         einoprompt.ChatTemplate
	temperature float32
	maxTokens   int
}

type codeTemplate struct {
	plain       einoprompt.ChatTemplate
	withLang    einoprompt.ChatTemplate
	temperature float32
	maxTokens   int
	capability  string
}

// Templater 内容类型 -> {系统提示词模板, 默认温度, 默认最大输出}
type Templater struct {
	types       map[string]contentTemplate
	code        codeTemplate
	defaultType string
}

// Option 模板选项
type Option func(*Templater)

// WithDefaultContentType 设置原始 GenerateContent 请求补全参数时使用的内容类型
func WithDefaultContentType(contentType string) Option {
	return func(t *Templater) {
		if ct := normalize(contentType); ct != "" {
			t.defaultType = ct
		}
	}
}

// NewTemplater 合并内置模板与配置模板，并在启动时试渲染每个模板。
// 配置中的 temperature/max_tokens 为 0 视为未设置，沿用默认值。
func NewTemplater(types map[string]config.ContentTypeConfig, code config.CodeTemplateConfig, opts ...Option) (*Templater, error) {
	t := &Templater{
		types:       make(map[string]contentTemplate),
		defaultType: ContentTypeBlog,
	}
	for _, opt := range opts {
		opt(t)
	}

	userTpl, err := readTemplate("content.user.txt")
	if err != nil {
		return nil, err
	}

	for _, name := range builtinContentTypes {
		system, err := readTemplate(name + ".system.txt")
		if err != nil {
			return nil, err
		}
		t.types[name] = contentTemplate{
			tpl:         einoprompt.FromMessages(schema.FString, schema.SystemMessage(system), schema.UserMessage(userTpl)),
			temperature: DefaultTemperature,
			maxTokens:   DefaultMaxTokens,
		}
	}

	generic, err := readTemplate("generic.system.txt")
	if err != nil {
		return nil, err
	}
	for rawName, c := range types {
		name := normalize(rawName)
		if name == "" {
			return nil, apperrors.ErrInvalidConfig.WithDetail("llm.content_types: empty content type name")
		}
		if name == ContentTypeCode {
			return nil, apperrors.ErrInvalidConfig.WithDetail("llm.content_types: \"code\" is reserved, configure llm.code instead")
		}

		ct, ok := t.types[name]
		if !ok {
			ct = contentTemplate{
				tpl:         einoprompt.FromMessages(schema.FString, schema.SystemMessage(generic), schema.UserMessage(userTpl)),
				temperature: DefaultTemperature,
				maxTokens:   DefaultMaxTokens,
			}
		}
		if s := strings.TrimSpace(c.SystemPrompt); s != "" {
			ct.tpl = einoprompt.FromMessages(schema.FString, schema.SystemMessage(s), schema.UserMessage(userTpl))
		}
		if c.Temperature > 0 {
			ct.temperature = c.Temperature
		}
		if c.MaxTokens > 0 {
			ct.maxTokens = c.MaxTokens
		}
		t.types[name] = ct
	}

	if err := t.buildCode(code); err != nil {
		return nil, err
	}

	if _, ok := t.types[t.defaultType]; !ok {
		return nil, apperrors.ErrInvalidConfig.WithDetail(fmt.Sprintf("default content type %q has no template", t.defaultType))
	}
	if err := t.verify(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Templater) buildCode(code config.CodeTemplateConfig) error {
	plainSystem, err := readTemplate("code.system.txt")
	if err != nil {
		return err
	}
	langSystem, err := readTemplate("code_language.system.txt")
	if err != nil {
		return err
	}
	plainUser, err := readTemplate("code.user.txt")
	if err != nil {
		return err
	}
	langUser, err := readTemplate("code_language.user.txt")
	if err != nil {
		return err
	}
	if s := strings.TrimSpace(code.SystemPrompt); s != "" {
		plainSystem, langSystem = s, s
	}

	t.code = codeTemplate{
		plain:       einoprompt.FromMessages(schema.FString, schema.SystemMessage(plainSystem), schema.UserMessage(plainUser)),
		withLang:    einoprompt.FromMessages(schema.FString, schema.SystemMessage(langSystem), schema.UserMessage(langUser)),
		temperature: DefaultCodeTemperature,
		maxTokens:   DefaultCodeMaxTokens,
		capability:  entity.CapabilityTextGeneration,
	}
	if code.Temperature > 0 {
		t.code.temperature = code.Temperature
	}
	if code.MaxTokens > 0 {
		t.code.maxTokens = code.MaxTokens
	}
	if c := strings.TrimSpace(code.Capability); c != "" {
		t.code.capability = c
	}
	return nil
}

// verify 试渲染全部模板，占位符写错时启动失败
func (t *Templater) verify() error {
	ctx := context.Background()
	for name, ct := range t.types {
		if _, _, err := render(ctx, ct.tpl, map[string]any{"content_type": name, "prompt": "x"}); err != nil {
			return apperrors.ErrInvalidConfig.WithDetail(fmt.Sprintf("content type %q: %v", name, err))
		}
	}
	vars := map[string]any{"language": "go", "prompt": "x"}
	if _, _, err := render(ctx, t.code.plain, vars); err != nil {
		return apperrors.ErrInvalidConfig.WithDetail(fmt.Sprintf("code template: %v", err))
	}
	if _, _, err := render(ctx, t.code.withLang, vars); err != nil {
		return apperrors.ErrInvalidConfig.WithDetail(fmt.Sprintf("code template: %v", err))
	}
	return nil
}

// BuildRequest 按内容类型构造请求；未知内容类型直接失败，不回退到通用模板
func (t *Templater) BuildRequest(ctx context.Context, prompt, contentType string) (entity.GenerationRequest, error) {
	if strings.TrimSpace(prompt) == "" {
		return entity.GenerationRequest{}, apperrors.ErrInvalidParam.WithDetail("prompt is required")
	}
	name := normalize(contentType)
	ct, ok := t.types[name]
	if !ok {
		return entity.GenerationRequest{}, apperrors.ErrUnknownContentType.WithDetail(fmt.Sprintf("content_type=%q", contentType))
	}

	system, user, err := render(ctx, ct.tpl, map[string]any{"content_type": name, "prompt": prompt})
	if err != nil {
		return entity.GenerationRequest{}, apperrors.ErrInternalError.WithError(err)
	}

	return entity.GenerationRequest{
		Prompt:       user,
		SystemPrompt: entity.StringPtr(system),
		Temperature:  entity.Float32Ptr(ct.temperature),
		MaxTokens:    entity.IntPtr(ct.maxTokens),
		Capability:   entity.CapabilityTextGeneration,
		ContentType:  name,
	}, nil
}

// BuildCodeRequest 构造代码生成请求；language 非空时写入提示词
func (t *Templater) BuildCodeRequest(ctx context.Context, prompt, language string) (entity.GenerationRequest, error) {
	if strings.TrimSpace(prompt) == "" {
		return entity.GenerationRequest{}, apperrors.ErrInvalidParam.WithDetail("prompt is required")
	}

	tpl := t.code.plain
	lang := strings.TrimSpace(language)
	if lang != "" {
		tpl = t.code.withLang
	}
	system, user, err := render(ctx, tpl, map[string]any{"language": lang, "prompt": prompt})
	if err != nil {
		return entity.GenerationRequest{}, apperrors.ErrInternalError.WithError(err)
	}

	return entity.GenerationRequest{
		Prompt:       user,
		SystemPrompt: entity.StringPtr(system),
		Temperature:  entity.Float32Ptr(t.code.temperature),
		MaxTokens:    entity.IntPtr(t.code.maxTokens),
		Capability:   t.code.capability,
		ContentType:  ContentTypeCode,
	}, nil
}

// Fill 用内容类型模板补全请求中未设置的系统提示词、温度与最大输出。
// ContentType 为空时使用默认内容类型，为 code 时使用代码模板；已设置的字段保持不变。
func (t *Templater) Fill(ctx context.Context, req entity.GenerationRequest) (entity.GenerationRequest, error) {
	if req.SystemPrompt != nil && req.Temperature != nil && req.MaxTokens != nil {
		return req, nil
	}

	name := normalize(req.ContentType)
	if name == "" {
		name = t.defaultType
	}
	if name == ContentTypeCode {
		return t.fillCode(ctx, req)
	}
	ct, ok := t.types[name]
	if !ok {
		return req, apperrors.ErrUnknownContentType.WithDetail(fmt.Sprintf("content_type=%q", req.ContentType))
	}

	if req.SystemPrompt == nil {
		system, _, err := render(ctx, ct.tpl, map[string]any{"content_type": name, "prompt": req.Prompt})
		if err != nil {
			return req, apperrors.ErrInternalError.WithError(err)
		}
		req.SystemPrompt = entity.StringPtr(system)
	}
	if req.Temperature == nil {
		req.Temperature = entity.Float32Ptr(ct.temperature)
	}
	if req.MaxTokens == nil {
		req.MaxTokens = entity.IntPtr(ct.maxTokens)
	}
	if req.ContentType == "" {
		req.ContentType = name
	}
	return req, nil
}

func (t *Templater) fillCode(ctx context.Context, req entity.GenerationRequest) (entity.GenerationRequest, error) {
	if req.SystemPrompt == nil {
		system, _, err := render(ctx, t.code.plain, map[string]any{"language": "", "prompt": req.Prompt})
		if err != nil {
			return req, apperrors.ErrInternalError.WithError(err)
		}
		req.SystemPrompt = entity.StringPtr(system)
	}
	if req.Temperature == nil {
		req.Temperature = entity.Float32Ptr(t.code.temperature)
	}
	if req.MaxTokens == nil {
		req.MaxTokens = entity.IntPtr(t.code.maxTokens)
	}
	req.ContentType = ContentTypeCode
	return req, nil
}

// ContentTypes 返回已注册的内容类型（按名称排序）
func (t *Templater) ContentTypes() []string {
	out := make([]string, 0, len(t.types))
	for name := range t.types {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasContentType 判断内容类型是否已注册
func (t *Templater) HasContentType(contentType string) bool {
	_, ok := t.types[normalize(contentType)]
	return ok
}

func render(ctx context.Context, tpl einoprompt.ChatTemplate, vars map[string]any) (system string, user string, err error) {
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", "", err
	}
	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case schema.System:
			system = m.Content
		case schema.User:
			user = m.Content
		}
	}
	return system, user, nil
}

func readTemplate(name string) (string, error) {
	b, err := templatesFS.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("read prompt template %s: %w", name, err)
	}
	return strings.TrimSpace(string(b)), nil
}

func normalize(contentType string) string {
	return strings.ToLower(strings.TrimSpace(contentType))
}
