package azure

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/llmgate/llm"
	"github.com/BaSui01/llmgate/providers"
)

const (
	defaultAuthorityHost = "https://login.microsoftonline.com"
	tokenScope           = "https://cognitiveservices.azure.com/.default"
	clientAssertionType  = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

	envClientID      = "AZURE_CLIENT_ID"
	envTenantID      = "AZURE_TENANT_ID"
	envAuthorityHost = "AZURE_AUTHORITY_HOST"
)

// SecretResolver 解析联合身份凭据引用的 secret（OIDC 断言）。
// 生产环境可接入外部 secret manager，缺省从环境变量读取。
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// EnvSecretResolver 把 secret 引用当作环境变量名来解析。
type EnvSecretResolver struct{}

func (EnvSecretResolver) ResolveSecret(_ context.Context, ref string) (string, error) {
	if v := os.Getenv(ref); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("secret %q not found in environment", ref)
}

// authMaterial 是解析完成的传输层认证材料，构造后不可变。
// 二者互斥：apiKey 走 api-key 头，bearerToken 走 Authorization 头。
type authMaterial struct {
	apiKey      string
	bearerToken string
}

func (a authMaterial) apply(h http.Header) {
	if a.apiKey != "" {
		h.Set("api-key", a.apiKey)
		return
	}
	if a.bearerToken != "" {
		h.Set("Authorization", "Bearer "+a.bearerToken)
	}
}

// summary 返回可安全记录的认证方式描述，绝不包含凭据内容。
func (a authMaterial) summary() string {
	switch {
	case a.apiKey != "":
		return "api-key"
	case a.bearerToken != "":
		return "bearer"
	default:
		return "none"
	}
}

// tokenExchanger 执行 OIDC 断言到 Azure AD 访问令牌的交换
// （client_credentials + jwt-bearer）。交换失败不在本层重试，
// 由调用方的传输层重试策略决定。
type tokenExchanger struct {
	cfg     providers.AzureConfig
	cache   *TokenCache
	secrets SecretResolver
	client  *http.Client
	logger  *zap.Logger
	group   singleflight.Group
	now     func() time.Time
}

type tokenResponse struct {
	AccessToken *string `json:"access_token"`
	ExpiresIn   *int64  `json:"expires_in"`
}

// Exchange 把 secret 引用换成访问令牌。命中缓存直接返回；
// 并发未命中经 singleflight 合并为一次上游交换。
func (t *tokenExchanger) Exchange(ctx context.Context, secretRef string) (string, error) {
	clientID := firstNonEmpty(t.cfg.ClientID, os.Getenv(envClientID))
	tenantID := firstNonEmpty(t.cfg.TenantID, os.Getenv(envTenantID))
	if clientID == "" || tenantID == "" {
		return "", &llm.Error{
			Code:       llm.ErrInvalidConfig,
			Message:    "federated credential requires AZURE_CLIENT_ID and AZURE_TENANT_ID",
			HTTPStatus: http.StatusUnprocessableEntity,
			Provider:   providerName,
		}
	}
	authority := strings.TrimRight(
		firstNonEmpty(t.cfg.AuthorityHost, os.Getenv(envAuthorityHost), defaultAuthorityHost), "/")

	assertion, err := t.secrets.ResolveSecret(ctx, secretRef)
	if err != nil {
		return "", &llm.Error{
			Code:       llm.ErrUnauthorized,
			Message:    "OIDC assertion could not be resolved: " + err.Error(),
			HTTPStatus: http.StatusUnauthorized,
			Provider:   providerName,
		}
	}
	if err := t.inspectAssertion(assertion); err != nil {
		return "", err
	}

	key := exchangeCacheKey(clientID, tenantID, authority, assertion)
	if tok, ok := t.cache.Get(ctx, key); ok {
		return tok, nil
	}

	v, err, _ := t.group.Do(key, func() (any, error) {
		// singleflight 合并期间可能已有人写入缓存
		if tok, ok := t.cache.Get(ctx, key); ok {
			return tok, nil
		}
		return t.exchange(ctx, authority, tenantID, clientID, assertion, key)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (t *tokenExchanger) exchange(ctx context.Context, authority, tenantID, clientID, assertion, cacheKey string) (string, error) {
	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("grant_type", "client_credentials")
	form.Set("scope", tokenScope)
	form.Set("client_assertion_type", clientAssertionType)
	form.Set("client_assertion", assertion)

	endpoint := authority + "/" + tenantID + "/oauth2/v2.0/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", wrapTransportError(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		azureTokenExchangeTotal.WithLabelValues("error").Inc()
		return "", wrapTransportError(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		azureTokenExchangeTotal.WithLabelValues("error").Inc()
		return "", &llm.Error{
			Code:       llm.ErrUnauthorized,
			Message:    "token exchange failed: " + string(body),
			HTTPStatus: resp.StatusCode,
			Provider:   providerName,
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == nil || tr.ExpiresIn == nil {
		azureTokenExchangeTotal.WithLabelValues("error").Inc()
		return "", &llm.Error{
			Code:       llm.ErrUnauthorized,
			Message:    "token exchange response missing access_token or expires_in",
			HTTPStatus: http.StatusUnprocessableEntity,
			Provider:   providerName,
		}
	}

	azureTokenExchangeTotal.WithLabelValues("ok").Inc()
	t.logger.Debug("federated token exchanged",
		zap.String("tenant_id", tenantID),
		zap.Int64("expires_in", *tr.ExpiresIn))
	t.cache.Set(ctx, cacheKey, *tr.AccessToken, time.Duration(*tr.ExpiresIn)*time.Second)
	return *tr.AccessToken, nil
}

// inspectAssertion 对 OIDC 断言做不验签的快速检查：已过期的断言
// 直接拒绝，避免一次注定失败的网络往返。不是 JWT 的值不拦截，
// 交给上游裁决。
func (t *tokenExchanger) inspectAssertion(assertion string) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(assertion, claims); err != nil {
		t.logger.Debug("OIDC assertion is not a parseable JWT", zap.Error(err))
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err == nil && exp != nil && exp.Before(t.now()) {
		return &llm.Error{
			Code:       llm.ErrUnauthorized,
			Message:    "OIDC assertion expired at " + exp.Format(time.RFC3339),
			HTTPStatus: http.StatusUnauthorized,
			Provider:   providerName,
		}
	}
	return nil
}

// exchangeCacheKey 对全部交换输入取 SHA-256，输入任一变化都会
// 产生新的缓存槽位。
func exchangeCacheKey(clientID, tenantID, authority, assertion string) string {
	payload, _ := json.Marshal(struct {
		ClientID      string `json:"client_id"`
		TenantID      string `json:"tenant_id"`
		AuthorityHost string `json:"authority_host"`
		Assertion     string `json:"assertion"`
	}{clientID, tenantID, authority, assertion})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
