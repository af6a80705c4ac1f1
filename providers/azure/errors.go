package azure

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/BaSui01/llmgate/llm"
)

const providerName = "azure"

// mapAzureError 把上游 HTTP 错误翻译为统一错误码。
func mapAzureError(status int, msg string) *llm.Error {
	e := &llm.Error{
		Message:    msg,
		HTTPStatus: status,
		Provider:   providerName,
	}
	switch status {
	case http.StatusUnauthorized:
		e.Code = llm.ErrUnauthorized
	case http.StatusForbidden:
		e.Code = llm.ErrForbidden
	case http.StatusNotFound:
		// 通常是 deployment 名写错
		e.Code = llm.ErrInvalidRequest
	case http.StatusTooManyRequests:
		e.Code = llm.ErrRateLimited
		e.Retryable = true
	case http.StatusBadRequest:
		if strings.Contains(msg, "content_filter") || strings.Contains(msg, "content management policy") {
			e.Code = llm.ErrContentFiltered
		} else {
			e.Code = llm.ErrInvalidRequest
		}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		e.Code = llm.ErrUpstreamTimeout
		e.Retryable = true
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		e.Code = llm.ErrUpstreamError
		e.Retryable = true
	default:
		e.Code = llm.ErrUpstreamError
		e.Retryable = status >= 500
	}
	return e
}

// wrapTransportError 把任意失败收敛为 *llm.Error。
// 已经是 *llm.Error 的原样透出；上下文超时区分于普通网络错误。
func wrapTransportError(err error) *llm.Error {
	var le *llm.Error
	if errors.As(err, &le) {
		return le
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &llm.Error{
			Code:       llm.ErrUpstreamTimeout,
			Message:    "azure request timed out: " + err.Error(),
			HTTPStatus: http.StatusGatewayTimeout,
			Retryable:  true,
			Provider:   providerName,
		}
	}
	return &llm.Error{
		Code:       llm.ErrUpstreamError,
		Message:    "azure request failed: " + err.Error(),
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
		Provider:   providerName,
	}
}
