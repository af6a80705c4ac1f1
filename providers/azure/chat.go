package azure

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/llm"
	"github.com/BaSui01/llmgate/providers"
)

// Azure chat 走 OpenAI 兼容的 wire 格式。

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	Name       string           `json:"name,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Index        int           `json:"index"`
		FinishReason string        `json:"finish_reason"`
		Message      openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIStreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role      string           `json:"role"`
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func convertMessages(msgs []llm.Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openAIMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			otc := openAIToolCall{ID: tc.ID, Type: "function"}
			otc.Function.Name = tc.Name
			otc.Function.Arguments = string(tc.Arguments)
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		out = append(out, om)
	}
	return out
}

func convertTools(tools []llm.ToolSchema) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  json.RawMessage(t.Parameters),
			},
		})
	}
	return out
}

// chatParams 把请求中显式设置的可选参数收敛成键值对，交给版本协商。
func chatParams(req *llm.ChatRequest) map[string]any {
	params := map[string]any{}
	if req.Temperature != 0 {
		params["temperature"] = req.Temperature
	}
	if req.TopP != 0 {
		params["top_p"] = req.TopP
	}
	if req.MaxTokens > 0 {
		params["max_tokens"] = req.MaxTokens
	}
	if req.N > 0 {
		params["n"] = req.N
	}
	if len(req.Stop) > 0 {
		params["stop"] = req.Stop
	}
	if len(req.Tools) > 0 {
		params["tools"] = convertTools(req.Tools)
	}
	if req.ToolChoice != "" {
		params["tool_choice"] = toolChoiceValue(req.ToolChoice)
	}
	if req.PresencePenalty != 0 {
		params["presence_penalty"] = req.PresencePenalty
	}
	if req.FrequencyPenalty != 0 {
		params["frequency_penalty"] = req.FrequencyPenalty
	}
	if len(req.LogitBias) > 0 {
		params["logit_bias"] = req.LogitBias
	}
	if req.Logprobs {
		params["logprobs"] = true
		if req.TopLogprobs > 0 {
			params["top_logprobs"] = req.TopLogprobs
		}
	}
	if req.ResponseFormat != nil {
		params["response_format"] = req.ResponseFormat
	}
	if req.Seed != nil {
		params["seed"] = *req.Seed
	}
	if req.User != "" {
		params["user"] = req.User
	}
	return params
}

// toolChoiceValue 把简写（auto/none/required）原样传递，
// 其余值按具名函数展开。
func toolChoiceValue(choice string) any {
	switch choice {
	case "auto", "none", "required":
		return choice
	default:
		return map[string]any{
			"type":     "function",
			"function": map[string]any{"name": choice},
		}
	}
}

func (p *AzureProvider) buildChatPayload(req *llm.ChatRequest, stream bool) (map[string]any, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    "chat request requires at least one message",
			HTTPStatus: http.StatusBadRequest,
			Provider:   providerName,
		}
	}

	accepted, err := NegotiateChatParams(
		p.effectiveAPIVersion(req.APIVersion),
		chatParams(req),
		p.dropUnsupported(req.DropParams),
	)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{"messages": convertMessages(req.Messages)}
	for k, v := range accepted {
		payload[k] = v
	}
	if stream {
		payload["stream"] = true
		payload["stream_options"] = map[string]any{"include_usage": true}
	}
	return payload, nil
}

// Completion 发起阻塞式聊天请求。
func (p *AzureProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	payload, err := p.buildChatPayload(req, false)
	if err != nil {
		return nil, err
	}
	model := providers.ChooseModel(req, p.cfg.Model, defaultModel)

	return dispatch(ctx, p, "chat", model, p.effectiveAPIVersion(req.APIVersion),
		p.effectiveTimeout(req.Timeout), req,
		func(ctx context.Context, cc clientConfig) (*llm.ChatResponse, error) {
			setPayloadModel(payload, cc, model)
			var raw openAIChatResponse
			if err := doJSON(ctx, p.client, http.MethodPost, cc.requestURL("/chat/completions"), cc, payload, &raw, nil); err != nil {
				return nil, err
			}
			return normalizeChatResponse(&raw, model), nil
		})
}

// CompletionAsync 以非阻塞方式执行与 Completion 完全相同的生命周期，
// 结果经容量为 1 的通道交付，绝不吞错。
func (p *AzureProvider) CompletionAsync(ctx context.Context, req *llm.ChatRequest) <-chan llm.AsyncResult[*llm.ChatResponse] {
	return goAsync(func() (*llm.ChatResponse, error) { return p.Completion(ctx, req) })
}

// Stream 发起流式聊天请求。建流错误（参数协商、凭据、上游非 2xx）
// 同步返回；通道只承载增量与收尾错误。
func (p *AzureProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	payload, err := p.buildChatPayload(req, true)
	if err != nil {
		return nil, err
	}
	model := providers.ChooseModel(req, p.cfg.Model, defaultModel)

	return dispatch(ctx, p, "chat.stream", model, p.effectiveAPIVersion(req.APIVersion),
		p.effectiveTimeout(req.Timeout), req,
		func(ctx context.Context, cc clientConfig) (<-chan llm.StreamChunk, error) {
			setPayloadModel(payload, cc, model)
			return p.openStream(ctx, cc, payload, model)
		})
}

func (p *AzureProvider) openStream(ctx context.Context, cc clientConfig, payload map[string]any, model string) (<-chan llm.StreamChunk, error) {
	return p.openSSE(ctx, cc, cc.requestURL("/chat/completions"), payload, func(ctx context.Context, body io.ReadCloser, ch chan<- llm.StreamChunk) {
		p.consumeSSE(ctx, body, ch, model)
	})
}

// openSSE 建立 SSE 连接并把消费循环放到独立 goroutine。
// 流的业务超时在这里落定，cancel 与消费循环同生共死。
func (p *AzureProvider) openSSE(ctx context.Context, cc clientConfig, rawURL string, payload any, consume func(ctx context.Context, body io.ReadCloser, ch chan<- llm.StreamChunk)) (<-chan llm.StreamChunk, error) {
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

	ch := make(chan llm.StreamChunk, 16)
	go func() {
		defer cancel()
		consume(ctx, resp.Body, ch)
	}()
	return ch, nil
}

// consumeSSE 逐行解析 text/event-stream，直到 [DONE] 或连接中断。
// 中断以带 Err 的收尾 chunk 通知消费方。
func (p *AzureProvider) consumeSSE(ctx context.Context, body io.ReadCloser, ch chan<- llm.StreamChunk, model string) {
	defer close(ch)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return
		}

		var raw openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &raw); err != nil {
			p.logger.Debug("skip malformed stream chunk", zap.Error(err))
			continue
		}

		base := llm.StreamChunk{
			ID:       raw.ID,
			Provider: providerName,
			Model:    firstNonEmpty(raw.Model, model),
		}
		if raw.Usage != nil {
			base.Usage = &llm.ChatUsage{
				PromptTokens:     raw.Usage.PromptTokens,
				CompletionTokens: raw.Usage.CompletionTokens,
				TotalTokens:      raw.Usage.TotalTokens,
			}
		}

		// n>1 时单条 data 可携带多个 choice，逐个投递；
		// 无 choice 的收尾 usage 块原样投递
		chunks := []llm.StreamChunk{}
		for _, choice := range raw.Choices {
			chunk := base
			chunk.Index = choice.Index
			chunk.FinishReason = choice.FinishReason
			chunk.Delta = llm.Message{
				Role:    llm.Role(choice.Delta.Role),
				Content: choice.Delta.Content,
			}
			for _, tc := range choice.Delta.ToolCalls {
				chunk.Delta.ToolCalls = append(chunk.Delta.ToolCalls, llm.ToolCall{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: json.RawMessage(tc.Function.Arguments),
				})
			}
			chunks = append(chunks, chunk)
		}
		if len(chunks) == 0 {
			chunks = append(chunks, base)
		}

		for _, chunk := range chunks {
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		terminal := llm.StreamChunk{Provider: providerName, Err: wrapTransportError(fmt.Errorf("stream interrupted: %w", err))}
		// 中断时 ctx 往往也已结束（典型：业务超时掐断读取），
		// 终止错误必须到达消费方，不能与 ctx.Done 竞争后被丢弃。
		// 通道有缓冲且归消费方所有，先试无阻塞投递。
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

// setPayloadModel 在发出前落定负载中的 model：AI Gateway 路由时模型
// 已编码进 URL，负载中显式置为 null。
func setPayloadModel(payload map[string]any, cc clientConfig, model string) {
	if cc.nullModel {
		payload["model"] = nil
		return
	}
	payload["model"] = model
}

func normalizeChatResponse(raw *openAIChatResponse, model string) *llm.ChatResponse {
	resp := &llm.ChatResponse{
		ID:       raw.ID,
		Provider: providerName,
		Model:    firstNonEmpty(raw.Model, model),
		Usage: llm.ChatUsage{
			PromptTokens:     raw.Usage.PromptTokens,
			CompletionTokens: raw.Usage.CompletionTokens,
			TotalTokens:      raw.Usage.TotalTokens,
		},
	}
	if raw.Created > 0 {
		resp.CreatedAt = time.Unix(raw.Created, 0)
	}
	for _, c := range raw.Choices {
		msg := llm.Message{
			Role:    llm.Role(c.Message.Role),
			Content: c.Message.Content,
		}
		for _, tc := range c.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
		}
		resp.Choices = append(resp.Choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message:      msg,
		})
	}
	return resp
}
