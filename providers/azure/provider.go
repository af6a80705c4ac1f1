package azure

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/internal/tlsutil"
	"github.com/BaSui01/llmgate/llm"
	"github.com/BaSui01/llmgate/providers"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultAPIVersion = "2024-02-01"
	defaultModel      = "gpt-4o"

	instrumentationName = "github.com/BaSui01/llmgate/providers/azure"
)

// AzureProvider 是 Azure OpenAI 的适配实现，覆盖 chat（阻塞/流式）、
// embeddings、图像生成、语音转写与 assistants 线程编排。
type AzureProvider struct {
	cfg    providers.AzureConfig
	client *http.Client
	// streamClient 不设整请求超时，长流的业务超时走 context
	streamClient *http.Client
	logger       *zap.Logger
	exchanger    *tokenExchanger
	observer     llm.CallObserver
	tracer       trace.Tracer
}

// Option 定制 Provider 的可替换部件。
type Option func(*AzureProvider)

// WithObserver 替换调用观测器（默认为结构化日志观测器）。
func WithObserver(o llm.CallObserver) Option {
	return func(p *AzureProvider) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithSecretResolver 替换联合身份 secret 的解析来源。
func WithSecretResolver(r SecretResolver) Option {
	return func(p *AzureProvider) {
		if r != nil {
			p.exchanger.secrets = r
		}
	}
}

// WithTokenCache 替换访问令牌缓存（如换成带 Redis 二级的实例）。
func WithTokenCache(c *TokenCache) Option {
	return func(p *AzureProvider) {
		if c != nil {
			p.exchanger.cache = c
		}
	}
}

// WithTokenCacheRedis 给默认令牌缓存接上 Redis 二级存储。
func WithTokenCacheRedis(rdb *redis.Client) Option {
	return func(p *AzureProvider) {
		p.exchanger.cache = NewTokenCache(rdb, p.logger)
	}
}

// WithHTTPClient 注入预构建的 HTTP 客户端（复用连接池、定制代理等）。
// 阻塞调用、流式调用与令牌交换共用该客户端。
func WithHTTPClient(c *http.Client) Option {
	return func(p *AzureProvider) {
		if c != nil {
			p.client = c
			p.streamClient = c
			p.exchanger.client = c
		}
	}
}

// NewAzureProvider 创建 Azure OpenAI Provider。
func NewAzureProvider(cfg providers.AzureConfig, logger *zap.Logger, opts ...Option) *AzureProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}

	p := &AzureProvider{
		cfg:          cfg,
		client:       tlsutil.SecureHTTPClient(cfg.Timeout),
		streamClient: tlsutil.StreamingHTTPClient(30 * time.Second),
		logger:       logger,
		observer:     llm.NewZapObserver(logger),
		tracer:       otel.Tracer(instrumentationName),
	}
	p.exchanger = &tokenExchanger{
		cfg:     cfg,
		cache:   NewTokenCache(nil, logger),
		secrets: EnvSecretResolver{},
		client:  tlsutil.SecureHTTPClient(30 * time.Second),
		logger:  logger,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *AzureProvider) Name() string { return providerName }

func (p *AzureProvider) SupportsNativeFunctionCalling() bool { return true }

// resolveAuth 把配置或 ctx 覆盖中的凭据解析为传输层认证材料。
// ctx 覆盖优先于配置；联合身份引用在这里触发令牌交换。
func (p *AzureProvider) resolveAuth(ctx context.Context) (authMaterial, error) {
	cred := p.configCredential()
	if c, ok := llm.CredentialOverrideFromContext(ctx); ok {
		cred = c
	}

	switch cred.Kind() {
	case llm.CredentialAPIKey:
		return authMaterial{apiKey: cred.Value()}, nil
	case llm.CredentialBearerToken:
		return authMaterial{bearerToken: cred.Value()}, nil
	case llm.CredentialFederated:
		tok, err := p.exchanger.Exchange(ctx, cred.SecretRef())
		if err != nil {
			return authMaterial{}, err
		}
		return authMaterial{bearerToken: tok}, nil
	default:
		return authMaterial{}, &llm.Error{
			Code:       llm.ErrInvalidConfig,
			Message:    "no credential configured: set api_key or ad_token",
			HTTPStatus: http.StatusUnprocessableEntity,
			Provider:   providerName,
		}
	}
}

func (p *AzureProvider) configCredential() llm.Credential {
	if p.cfg.APIKey != "" {
		return llm.APIKeyCredential(p.cfg.APIKey)
	}
	if p.cfg.ADToken != "" {
		return llm.TokenCredential(p.cfg.ADToken)
	}
	return llm.Credential{}
}

// effectiveTimeout 取单次调用超时：请求级 > 配置级。这是业务超时，
// 与连接级超时（HTTP 客户端自身）互相独立。
func (p *AzureProvider) effectiveTimeout(reqTimeout time.Duration) time.Duration {
	if reqTimeout > 0 {
		return reqTimeout
	}
	return p.cfg.Timeout
}

func (p *AzureProvider) effectiveAPIVersion(reqVersion string) string {
	if reqVersion != "" {
		return reqVersion
	}
	return p.cfg.APIVersion
}

// dropUnsupported 取"丢弃不支持参数"的生效值：调用级覆盖 > 配置默认。
func (p *AzureProvider) dropUnsupported(override *bool) bool {
	if override != nil {
		return *override
	}
	return p.cfg.DropParams
}

// dispatch 是所有能力共用的调用生命周期：解析凭据 → 组装传输配置 →
// PreCall 观测 → 上游调用 → PostCall 观测 → 指标与错误收敛。
// 阻塞与非阻塞入口最终都走到这里，保证两种模式语义一致。
func dispatch[T any](ctx context.Context, p *AzureProvider, capability, model, apiVer string,
	timeout time.Duration, input any, invoke func(ctx context.Context, cc clientConfig) (T, error)) (T, error) {

	var zero T
	start := time.Now()

	auth, err := p.resolveAuth(ctx)
	if err != nil {
		azureRequestsTotal.WithLabelValues(capability, "auth_error").Inc()
		return zero, wrapTransportError(err)
	}

	cc, err := buildClientConfig(p.cfg, model, p.cfg.APIVersion, auth, timeout)
	if err != nil {
		azureRequestsTotal.WithLabelValues(capability, "config_error").Inc()
		return zero, wrapTransportError(err)
	}
	// 请求级版本覆盖是纯替换，不动其他传输配置
	cc = cc.withAPIVersion(apiVer)

	info := llm.CallInfo{
		RequestID:   uuid.NewString(),
		Provider:    providerName,
		Capability:  capability,
		Model:       model,
		APIVersion:  cc.apiVersion,
		Endpoint:    firstNonEmpty(cc.baseURL, cc.endpoint),
		AuthSummary: auth.summary(),
		Input:       input,
	}

	ctx, span := p.tracer.Start(ctx, "azure."+capability, trace.WithAttributes(
		attribute.String("llm.provider", providerName),
		attribute.String("llm.model", model),
		attribute.String("llm.api_version", cc.apiVersion),
	))
	defer span.End()

	p.observer.PreCall(ctx, info)

	// 流式能力的生命周期超出 dispatch 返回点，超时由建流方自管，
	// 这里只给阻塞式调用套业务超时。
	callCtx := ctx
	if timeout > 0 && !strings.HasSuffix(capability, ".stream") {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := invoke(callCtx, cc)
	p.observer.PostCall(ctx, info, out, err)

	if err != nil {
		le := wrapTransportError(err)
		span.RecordError(le)
		azureRequestsTotal.WithLabelValues(capability, "error").Inc()
		return zero, le
	}

	azureRequestsTotal.WithLabelValues(capability, "ok").Inc()
	azureRequestDurationSeconds.WithLabelValues(capability).Observe(time.Since(start).Seconds())
	return out, nil
}

// goAsync 把阻塞调用包装成容量为 1 的结果通道。非阻塞路径不引入
// 任何独立逻辑，与阻塞路径对相同输入产出一致的结果。
func goAsync[T any](fn func() (T, error)) <-chan llm.AsyncResult[T] {
	ch := make(chan llm.AsyncResult[T], 1)
	go func() {
		v, err := fn()
		ch <- llm.AsyncResult[T]{Value: v, Err: err}
		close(ch)
	}()
	return ch
}

// HealthCheck 用一次最小 chat 请求探活，并捕获上游限流/区域响应头。
func (p *AzureProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	rateLimit := map[string]string{}

	model := providers.ChooseModel(nil, p.cfg.Model, defaultModel)
	_, err := dispatch(ctx, p, "health", model,
		p.cfg.APIVersion, p.cfg.Timeout, nil,
		func(ctx context.Context, cc clientConfig) (struct{}, error) {
			payload := map[string]any{
				"messages":   []map[string]any{{"role": "user", "content": "ping"}},
				"max_tokens": 1,
			}
			setPayloadModel(payload, cc, model)
			err := doJSON(ctx, p.client, http.MethodPost, cc.requestURL("/chat/completions"), cc, payload, nil,
				func(h http.Header) {
					for _, k := range []string{
						"x-ratelimit-remaining-requests",
						"x-ratelimit-remaining-tokens",
						"x-ms-region",
					} {
						if v := h.Get(k); v != "" {
							rateLimit[k] = v
						}
					}
				})
			return struct{}{}, err
		})

	latency := time.Since(start)
	status := &llm.HealthStatus{
		Healthy:   err == nil,
		Latency:   latency,
		RateLimit: rateLimit,
	}
	llm.ObserveProviderHealthCheck(providerName, status.Healthy, latency, err)
	return status, err
}
