package azure

import (
	"fmt"
	"net/http"

	"github.com/BaSui01/llmgate/llm"
)

// supportedChatParams 是 chat 能力的参数白名单。
// 白名单之外的参数被静默忽略，既不转发也不报错。
var supportedChatParams = map[string]struct{}{
	"temperature":       {},
	"n":                 {},
	"stream":            {},
	"stop":              {},
	"max_tokens":        {},
	"tools":             {},
	"tool_choice":       {},
	"presence_penalty":  {},
	"frequency_penalty": {},
	"logit_bias":        {},
	"user":              {},
	"function_call":     {},
	"functions":         {},
	"top_p":             {},
	"logprobs":          {},
	"top_logprobs":      {},
	"response_format":   {},
	"seed":              {},
	"extra_headers":     {},
}

// paramDecision 是版本协商对单个参数的裁决。
type paramDecision int

const (
	decisionForward paramDecision = iota // 原样转发
	decisionDrop                         // 丢弃后继续（dropUnsupported 生效）
	decisionReject                       // 整体拒绝，不产出部分参数集
)

func unsupportedParam(format string, args ...any) *llm.Error {
	return &llm.Error{
		Code:       llm.ErrUnsupportedParams,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: http.StatusBadRequest,
		Provider:   providerName,
	}
}

// decideToolChoice 按目标版本裁决 tool_choice：
// 需要 2023-12-01（含）以后的版本；值为 "required" 时，
// 2024 年 05 月（含）以前的版本仍不支持。
func decideToolChoice(v apiVersion, value any, dropUnsupported bool) (paramDecision, *llm.Error) {
	if v.before("2023", "12", "01") {
		if dropUnsupported {
			return decisionDrop, nil
		}
		return decisionReject, unsupportedParam(
			"tool_choice is not supported by api_version %s; use 2023-12-01-preview or later, or enable drop_params", v)
	}
	if s, ok := value.(string); ok && s == "required" {
		if v.year == "2024" && v.month <= "05" {
			if dropUnsupported {
				return decisionDrop, nil
			}
			return decisionReject, unsupportedParam(
				"tool_choice=required is not supported by api_version %s; use 2024-06-01-preview or later, or enable drop_params", v)
		}
	}
	return decisionForward, nil
}

// NegotiateChatParams 依据目标 api-version 过滤 chat 参数。
//
// 返回的 map 是新分配的，入参不会被修改。协商失败时不返回部分结果：
// 要么全部接受（被丢弃的除外），要么整体报错。
func NegotiateChatParams(rawVersion string, params map[string]any, dropUnsupported bool) (map[string]any, error) {
	v, err := parseAPIVersion(rawVersion)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(params))
	for name, value := range params {
		if name == "tool_choice" {
			decision, derr := decideToolChoice(v, value, dropUnsupported)
			switch decision {
			case decisionForward:
				out[name] = value
			case decisionDrop:
				azureParamsDroppedTotal.WithLabelValues(name).Inc()
			case decisionReject:
				return nil, derr
			}
			continue
		}
		if _, ok := supportedChatParams[name]; ok {
			out[name] = value
		}
	}
	return out, nil
}

// NegotiateMessageParams 过滤 assistants 消息创建参数。
// 只认 role / content / metadata / attachments 四个键：
//   - content 必须是字符串，否则无条件拒绝；
//   - attachments 必须是对象列表，每项携带 file_id；
//     缺 file_id 的项按 dropUnsupported 丢弃或拒绝，列表整体
//     不是列表时无条件拒绝；
//   - 其余键静默忽略。
func NegotiateMessageParams(params map[string]any, dropUnsupported bool) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for name, value := range params {
		switch name {
		case "role", "metadata":
			out[name] = value
		case "content":
			s, ok := value.(string)
			if !ok {
				return nil, unsupportedParam("thread message content must be a string, got %T", value)
			}
			out["content"] = s
		case "attachments":
			fileIDs, err := extractAttachmentFileIDs(value, dropUnsupported)
			if err != nil {
				return nil, err
			}
			if len(fileIDs) > 0 {
				out["file_ids"] = fileIDs
			}
		}
	}
	return out, nil
}

func extractAttachmentFileIDs(value any, dropUnsupported bool) ([]string, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, unsupportedParam("attachments must be a list of objects, got %T", value)
	}
	fileIDs := make([]string, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if ok {
			if id, ok := obj["file_id"].(string); ok && id != "" {
				fileIDs = append(fileIDs, id)
				continue
			}
		}
		if dropUnsupported {
			azureParamsDroppedTotal.WithLabelValues("attachments").Inc()
			continue
		}
		return nil, unsupportedParam("attachment without file_id is not supported; enable drop_params to skip it")
	}
	return fileIDs, nil
}
