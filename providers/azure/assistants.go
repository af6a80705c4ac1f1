package azure

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/llm"
)

// Assistants API 的资源类型。wire 格式与 OpenAI v2 assistants 对齐，
// 但路由不挂 deployment 路径。

type Assistant struct {
	ID           string         `json:"id"`
	Object       string         `json:"object"`
	Name         string         `json:"name,omitempty"`
	Model        string         `json:"model,omitempty"`
	Instructions string         `json:"instructions,omitempty"`
	CreatedAt    int64          `json:"created_at,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type AssistantList struct {
	Object  string      `json:"object"`
	Data    []Assistant `json:"data"`
	FirstID string      `json:"first_id,omitempty"`
	LastID  string      `json:"last_id,omitempty"`
	HasMore bool        `json:"has_more"`
}

type Thread struct {
	ID        string         `json:"id"`
	Object    string         `json:"object"`
	CreatedAt int64          `json:"created_at,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type ThreadMessageText struct {
	Value string `json:"value"`
}

type ThreadMessageContent struct {
	Type string             `json:"type"`
	Text *ThreadMessageText `json:"text,omitempty"`
}

type ThreadMessage struct {
	ID        string                 `json:"id"`
	Object    string                 `json:"object"`
	ThreadID  string                 `json:"thread_id"`
	Role      string                 `json:"role"`
	Status    string                 `json:"status,omitempty"`
	CreatedAt int64                  `json:"created_at,omitempty"`
	Content   []ThreadMessageContent `json:"content,omitempty"`
	FileIDs   []string               `json:"file_ids,omitempty"`
	Metadata  map[string]any         `json:"metadata,omitempty"`
}

type ThreadMessageList struct {
	Object  string          `json:"object"`
	Data    []ThreadMessage `json:"data"`
	FirstID string          `json:"first_id,omitempty"`
	LastID  string          `json:"last_id,omitempty"`
	HasMore bool            `json:"has_more"`
}

type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Run struct {
	ID           string         `json:"id"`
	Object       string         `json:"object"`
	ThreadID     string         `json:"thread_id"`
	AssistantID  string         `json:"assistant_id"`
	Status       string         `json:"status"`
	Model        string         `json:"model,omitempty"`
	Instructions string         `json:"instructions,omitempty"`
	CreatedAt    int64          `json:"created_at,omitempty"`
	LastError    *RunError      `json:"last_error,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// RunThreadRequest 描述一次 run 的创建参数。
type RunThreadRequest struct {
	ThreadID               string         `json:"thread_id"`
	AssistantID            string         `json:"assistant_id"`
	Model                  string         `json:"model,omitempty"`
	Instructions           string         `json:"instructions,omitempty"`
	AdditionalInstructions string         `json:"additional_instructions,omitempty"`
	Tools                  []any          `json:"tools,omitempty"`
	Metadata               map[string]any `json:"metadata,omitempty"`
	APIVersion             string         `json:"api_version,omitempty"`
	Timeout                time.Duration  `json:"timeout,omitempty"`
}

// AssistantStreamEvent 是 run 流式执行的单个事件，data 保持原始 JSON，
// 由消费方按 event 类型自行解码。
type AssistantStreamEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Err   *llm.Error      `json:"error,omitempty"`
}

// runPollInterval run 轮询间隔。
const runPollInterval = 500 * time.Millisecond

// runTerminal 报告 run 状态是否已到达终态。
func runTerminal(status string) bool {
	switch status {
	case "completed", "failed", "cancelled", "expired", "requires_action", "incomplete":
		return true
	}
	return false
}

// ListAssistants 列出当前资源下的 assistants。
func (p *AzureProvider) ListAssistants(ctx context.Context) (*AssistantList, error) {
	return dispatch(ctx, p, "assistants.list", p.cfg.Model, p.cfg.APIVersion, p.cfg.Timeout, nil,
		func(ctx context.Context, cc clientConfig) (*AssistantList, error) {
			var out AssistantList
			if err := doJSON(ctx, p.client, http.MethodGet, cc.assistantsURL("/assistants"), cc, nil, &out, nil); err != nil {
				return nil, err
			}
			return &out, nil
		})
}

// CreateThread 创建新会话线程，可带初始消息与元数据。
func (p *AzureProvider) CreateThread(ctx context.Context, messages []map[string]any, metadata map[string]any) (*Thread, error) {
	return dispatch(ctx, p, "assistants.thread.create", p.cfg.Model, p.cfg.APIVersion, p.cfg.Timeout, metadata,
		func(ctx context.Context, cc clientConfig) (*Thread, error) {
			payload := map[string]any{}
			if len(messages) > 0 {
				payload["messages"] = messages
			}
			if len(metadata) > 0 {
				payload["metadata"] = metadata
			}
			var out Thread
			if err := doJSON(ctx, p.client, http.MethodPost, cc.assistantsURL("/threads"), cc, payload, &out, nil); err != nil {
				return nil, err
			}
			return &out, nil
		})
}

// GetThread 获取线程详情。
func (p *AzureProvider) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	return dispatch(ctx, p, "assistants.thread.get", p.cfg.Model, p.cfg.APIVersion, p.cfg.Timeout, threadID,
		func(ctx context.Context, cc clientConfig) (*Thread, error) {
			var out Thread
			if err := doJSON(ctx, p.client, http.MethodGet, cc.assistantsURL("/threads/"+url.PathEscape(threadID)), cc, nil, &out, nil); err != nil {
				return nil, err
			}
			return &out, nil
		})
}

// AddMessage 向线程追加消息。params 先过消息参数协商
// （见 NegotiateMessageParams），再发往上游。dropUnsupported 为 nil
// 时沿用配置默认。上游未返回 status 时按 completed 处理。
func (p *AzureProvider) AddMessage(ctx context.Context, threadID string, params map[string]any, dropUnsupported *bool) (*ThreadMessage, error) {
	payload, err := NegotiateMessageParams(params, p.dropUnsupported(dropUnsupported))
	if err != nil {
		return nil, err
	}

	return dispatch(ctx, p, "assistants.message.create", p.cfg.Model, p.cfg.APIVersion, p.cfg.Timeout, params,
		func(ctx context.Context, cc clientConfig) (*ThreadMessage, error) {
			var out ThreadMessage
			if err := doJSON(ctx, p.client, http.MethodPost, cc.assistantsURL("/threads/"+url.PathEscape(threadID)+"/messages"), cc, payload, &out, nil); err != nil {
				return nil, err
			}
			if out.Status == "" {
				out.Status = "completed"
			}
			return &out, nil
		})
}

// ListMessages 列出线程内的消息。
func (p *AzureProvider) ListMessages(ctx context.Context, threadID string) (*ThreadMessageList, error) {
	return dispatch(ctx, p, "assistants.message.list", p.cfg.Model, p.cfg.APIVersion, p.cfg.Timeout, threadID,
		func(ctx context.Context, cc clientConfig) (*ThreadMessageList, error) {
			var out ThreadMessageList
			if err := doJSON(ctx, p.client, http.MethodGet, cc.assistantsURL("/threads/"+url.PathEscape(threadID)+"/messages"), cc, nil, &out, nil); err != nil {
				return nil, err
			}
			return &out, nil
		})
}

// RunThread 创建 run 并轮询至终态（create-and-poll）。
// 轮询尊重 ctx 取消与业务超时。
func (p *AzureProvider) RunThread(ctx context.Context, req *RunThreadRequest) (*Run, error) {
	if req == nil || req.ThreadID == "" || req.AssistantID == "" {
		return nil, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    "run request requires thread_id and assistant_id",
			HTTPStatus: http.StatusBadRequest,
			Provider:   providerName,
		}
	}

	return dispatch(ctx, p, "assistants.run", firstNonEmpty(req.Model, p.cfg.Model),
		p.effectiveAPIVersion(req.APIVersion), p.effectiveTimeout(req.Timeout), req,
		func(ctx context.Context, cc clientConfig) (*Run, error) {
			var run Run
			if err := doJSON(ctx, p.client, http.MethodPost,
				cc.assistantsURL("/threads/"+url.PathEscape(req.ThreadID)+"/runs"), cc, runPayload(req), &run, nil); err != nil {
				return nil, err
			}

			for !runTerminal(run.Status) {
				select {
				case <-ctx.Done():
					return nil, wrapTransportError(ctx.Err())
				case <-time.After(runPollInterval):
				}
				if err := doJSON(ctx, p.client, http.MethodGet,
					cc.assistantsURL("/threads/"+url.PathEscape(req.ThreadID)+"/runs/"+url.PathEscape(run.ID)), cc, nil, &run, nil); err != nil {
					return nil, err
				}
			}
			return &run, nil
		})
}

// RunThreadAsync 是 RunThread 的非阻塞入口。
func (p *AzureProvider) RunThreadAsync(ctx context.Context, req *RunThreadRequest) <-chan llm.AsyncResult[*Run] {
	return goAsync(func() (*Run, error) { return p.RunThread(ctx, req) })
}

// RunThreadStream 以流式执行 run，事件按上游顺序交付。
// 建流错误同步返回；中断以带 Err 的收尾事件通知。
func (p *AzureProvider) RunThreadStream(ctx context.Context, req *RunThreadRequest) (<-chan AssistantStreamEvent, error) {
	if req == nil || req.ThreadID == "" || req.AssistantID == "" {
		return nil, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    "run request requires thread_id and assistant_id",
			HTTPStatus: http.StatusBadRequest,
			Provider:   providerName,
		}
	}

	return dispatch(ctx, p, "assistants.run.stream", firstNonEmpty(req.Model, p.cfg.Model),
		p.effectiveAPIVersion(req.APIVersion), p.effectiveTimeout(req.Timeout), req,
		func(ctx context.Context, cc clientConfig) (<-chan AssistantStreamEvent, error) {
			payload := runPayload(req)
			payload["stream"] = true
			return p.openRunStream(ctx, cc, cc.assistantsURL("/threads/"+url.PathEscape(req.ThreadID)+"/runs"), payload)
		})
}

func runPayload(req *RunThreadRequest) map[string]any {
	payload := map[string]any{"assistant_id": req.AssistantID}
	if req.Model != "" {
		payload["model"] = req.Model
	}
	if req.Instructions != "" {
		payload["instructions"] = req.Instructions
	}
	if req.AdditionalInstructions != "" {
		payload["additional_instructions"] = req.AdditionalInstructions
	}
	if len(req.Tools) > 0 {
		payload["tools"] = req.Tools
	}
	if len(req.Metadata) > 0 {
		payload["metadata"] = req.Metadata
	}
	return payload
}

func (p *AzureProvider) openRunStream(ctx context.Context, cc clientConfig, rawURL string, payload map[string]any) (<-chan AssistantStreamEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, wrapTransportError(err)
	}

	cancel := context.CancelFunc(func() {})
	if cc.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, cc.timeout)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(data))
	if err != nil {
		cancel()
		return nil, wrapTransportError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	cc.auth.apply(httpReq.Header)

	resp, err := p.streamClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, wrapTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, mapAzureError(resp.StatusCode, string(body))
	}

	ch := make(chan AssistantStreamEvent, 16)
	go func() {
		defer cancel()
		p.consumeRunStream(ctx, resp.Body, ch)
	}()
	return ch, nil
}

// consumeRunStream 解析 assistants 的 event/data 双行 SSE。
func (p *AzureProvider) consumeRunStream(ctx context.Context, body io.ReadCloser, ch chan<- AssistantStreamEvent) {
	defer close(ch)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var event string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			select {
			case ch <- AssistantStreamEvent{Event: event, Data: json.RawMessage(data)}:
			case <-ctx.Done():
				return
			}
			event = ""
		}
	}

	if err := scanner.Err(); err != nil {
		p.logger.Debug("assistant stream interrupted", zap.Error(err))
		terminal := AssistantStreamEvent{Err: wrapTransportError(err)}
		// 同 chat 流：终止错误不与 ctx.Done 竞争，先试无阻塞投递
		select {
		case ch <- terminal:
		default:
			select {
			case ch <- terminal:
			case <-ctx.Done():
			}
		}
	}
}
