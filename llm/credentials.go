package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// FederatedPrefix 标记一个凭据值为联合身份（OIDC）的 secret 引用，
// 而不是可直接使用的 bearer token。
const FederatedPrefix = "oidc/"

// CredentialKind 区分凭据的三种形态。每次请求只提供其中一种。
type CredentialKind int

const (
	CredentialNone        CredentialKind = iota
	CredentialAPIKey                     // 静态 API Key，直接透传
	CredentialBearerToken                // 可直接使用的 bearer token
	CredentialFederated                  // 联合身份引用，需要换取访问令牌
)

// Credential 表示单次请求的认证输入。解析后在请求范围内不可变。
// 注意：该结构仅通过 context 或配置传递，不会从 API JSON 反序列化，
// 避免前端直接注入敏感信息。
type Credential struct {
	kind  CredentialKind
	value string
}

// APIKeyCredential 构造静态 Key 凭据。
func APIKeyCredential(key string) Credential {
	return Credential{kind: CredentialAPIKey, value: key}
}

// TokenCredential 根据 token 值构造凭据：带 "oidc/" 前缀的值是联合身份引用，
// 否则作为 bearer token 透传。
func TokenCredential(token string) Credential {
	if strings.HasPrefix(token, FederatedPrefix) {
		return Credential{kind: CredentialFederated, value: token}
	}
	return Credential{kind: CredentialBearerToken, value: token}
}

func (c Credential) Kind() CredentialKind { return c.kind }
func (c Credential) Value() string        { return c.value }
func (c Credential) IsZero() bool         { return c.kind == CredentialNone }

// SecretRef 返回联合身份凭据携带的 secret 引用（去掉前缀）。
func (c Credential) SecretRef() string {
	return strings.TrimPrefix(c.value, FederatedPrefix)
}

func (c Credential) String() string {
	switch c.kind {
	case CredentialAPIKey:
		return "Credential{APIKey:***}"
	case CredentialBearerToken:
		return "Credential{BearerToken:***}"
	case CredentialFederated:
		// secret 引用本身不敏感，引用指向的内容才是
		return "Credential{Federated:" + c.value + "}"
	default:
		return "Credential{}"
	}
}

func (c Credential) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

type credentialOverrideKey struct{}

// WithCredentialOverride 在 ctx 中写入单次请求的凭据覆盖。
// 零值凭据不会改变 ctx。
func WithCredentialOverride(ctx context.Context, c Credential) context.Context {
	if c.IsZero() {
		return ctx
	}
	return context.WithValue(ctx, credentialOverrideKey{}, c)
}

// CredentialOverrideFromContext 从 ctx 读取凭据覆盖。
func CredentialOverrideFromContext(ctx context.Context) (Credential, bool) {
	v := ctx.Value(credentialOverrideKey{})
	if v == nil {
		return Credential{}, false
	}
	c, ok := v.(Credential)
	return c, ok
}
