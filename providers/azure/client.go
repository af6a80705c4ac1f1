package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BaSui01/llmgate/llm"
	"github.com/BaSui01/llmgate/providers"
)

const (
	gatewayHostMarker     = "gateway.ai.cloudflare.com"
	deploymentsPathMarker = "/openai/deployments"
)

// clientConfig 是单次请求的传输配置，构造后不可变；请求之间共享的
// 只有底层连接池。endpoint 与 baseURL 互斥：前者按资源端点 +
// deployment 路径组装 URL，后者已是完整 base URL。
type clientConfig struct {
	endpoint   string
	baseURL    string
	deployment string
	apiVersion string
	auth       authMaterial
	timeout    time.Duration
	maxRetries int

	// AI Gateway 把模型编码进 URL 路径，负载中的 model 必须置为 null
	nullModel bool
}

// buildClientConfig 把 Provider 配置和本次请求的模型/版本收敛为
// 传输配置。所有配置类校验（含 max_retries 类型）都在这里、
// 任何网络调用之前完成。
func buildClientConfig(cfg providers.AzureConfig, model, apiVer string, auth authMaterial, timeout time.Duration) (clientConfig, error) {
	maxRetries, err := coerceMaxRetries(cfg.MaxRetries)
	if err != nil {
		return clientConfig{}, err
	}

	cc := clientConfig{
		apiVersion: apiVer,
		auth:       auth,
		timeout:    timeout,
		maxRetries: maxRetries,
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	switch {
	case strings.Contains(endpoint, gatewayHostMarker):
		cc.baseURL = endpoint + "/" + model
		cc.nullModel = true
	case strings.Contains(endpoint, deploymentsPathMarker):
		// 端点已自带 deployment 路径，按完整 base URL 使用
		cc.baseURL = endpoint
	default:
		cc.endpoint = endpoint
		cc.deployment = model
	}
	return cc, nil
}

// withAPIVersion 返回替换了 api-version 的副本。幂等：空值或相同值
// 不产生变化，重复应用与应用一次等价。
func (c clientConfig) withAPIVersion(v string) clientConfig {
	if v == "" || v == c.apiVersion {
		return c
	}
	c.apiVersion = v
	return c
}

// requestURL 组装 deployment 级能力（chat/embeddings/images/audio）
// 的完整请求地址。
func (c clientConfig) requestURL(path string) string {
	base := c.baseURL
	if base == "" {
		base = c.endpoint + "/openai/deployments/" + url.PathEscape(c.deployment)
	}
	u := base + path
	if c.apiVersion != "" {
		u += "?api-version=" + url.QueryEscape(c.apiVersion)
	}
	return u
}

// assistantsURL 组装 assistants 级资源（assistants/threads/runs）的
// 地址，这类资源不挂在 deployment 路径下。
func (c clientConfig) assistantsURL(path string) string {
	base := c.endpoint
	if base == "" {
		base = c.baseURL
	}
	u := base + "/openai" + path
	if c.apiVersion != "" {
		u += "?api-version=" + url.QueryEscape(c.apiVersion)
	}
	return u
}

// coerceMaxRetries 校验并收敛 max_retries。配置来源（JSON/YAML/代码）
// 不同，落进来的数值类型也不同；非整数或负数在建连前报 422。
func coerceMaxRetries(v any) (int, error) {
	const defaultMaxRetries = 2
	badValue := func() error {
		return &llm.Error{
			Code:       llm.ErrInvalidConfig,
			Message:    fmt.Sprintf("max_retries must be a non-negative integer, got %v (%T)", v, v),
			HTTPStatus: http.StatusUnprocessableEntity,
			Provider:   providerName,
		}
	}

	var n int
	switch value := v.(type) {
	case nil:
		return defaultMaxRetries, nil
	case int:
		n = value
	case int32:
		n = int(value)
	case int64:
		n = int(value)
	case float64:
		if value != float64(int(value)) {
			return 0, badValue()
		}
		n = int(value)
	case json.Number:
		i, err := value.Int64()
		if err != nil {
			return 0, badValue()
		}
		n = int(i)
	default:
		return 0, badValue()
	}
	if n < 0 {
		return 0, badValue()
	}
	return n, nil
}

// doJSON 发送 JSON 请求并把 2xx 响应解码到 out。非 2xx 统一走
// mapAzureError；可重试错误按 cc.maxRetries 在本层重试。
// headers 回调可拿到响应头（健康检查用）。
func doJSON(ctx context.Context, client *http.Client, method, rawURL string, cc clientConfig, payload any, out any, headers func(http.Header)) error {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return wrapTransportError(err)
		}
	}

	var lastErr *llm.Error
	for attempt := 0; attempt <= cc.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return wrapTransportError(ctx.Err())
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		lastErr = doJSONOnce(ctx, client, method, rawURL, cc, data, out, headers)
		if lastErr == nil || !lastErr.Retryable {
			break
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return nil
}

func doJSONOnce(ctx context.Context, client *http.Client, method, rawURL string, cc clientConfig, payload []byte, out any, headers func(http.Header)) *llm.Error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return wrapTransportError(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cc.auth.apply(req.Header)

	resp, err := client.Do(req)
	if err != nil {
		return wrapTransportError(err)
	}
	defer resp.Body.Close()

	if headers != nil {
		headers(resp.Header)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return wrapTransportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return mapAzureError(resp.StatusCode, string(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return wrapTransportError(fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}
