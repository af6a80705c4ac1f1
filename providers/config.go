package providers

import "time"

// AzureConfig Azure OpenAI Provider 配置。
//
// 认证二选一：APIKey（静态 Key）或 ADToken（bearer token，
// 带 "oidc/" 前缀时视为联合身份 secret 引用，需要换取访问令牌）。
type AzureConfig struct {
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	ADToken string `json:"ad_token,omitempty" yaml:"ad_token,omitempty"`

	// Endpoint 是资源端点（https://<resource>.openai.azure.com）。
	// 已含 /openai/deployments 路径时按完整 base URL 处理；
	// 命中 AI Gateway 域名时路由改走 URL 路径。
	Endpoint   string `json:"endpoint" yaml:"endpoint"`
	APIVersion string `json:"api_version,omitempty" yaml:"api_version,omitempty"`

	// Model 是默认部署名（Azure 的 deployment 即按模型固定的路由目标）。
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxRetries 交给底层传输执行，本层只校验。
	// 保持宽类型以兼容 JSON/YAML 来源；非整数在建连前报 422 配置错误。
	MaxRetries any `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`

	// DropParams 控制 api-version 不支持的参数是丢弃还是整体拒绝，
	// 可被单次调用覆盖。
	DropParams bool `json:"drop_params,omitempty" yaml:"drop_params,omitempty"`

	// 联合身份标识，缺省回落到 AZURE_CLIENT_ID / AZURE_TENANT_ID /
	// AZURE_AUTHORITY_HOST 环境变量。前两者缺失是致命配置错误。
	ClientID      string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	TenantID      string `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	AuthorityHost string `json:"authority_host,omitempty" yaml:"authority_host,omitempty"`
}
