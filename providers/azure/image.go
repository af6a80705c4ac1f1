package azure

import (
	"context"
	"net/http"
	"time"

	"github.com/BaSui01/llmgate/llm"
)

type openAIImageResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		URL           string `json:"url"`
		B64JSON       string `json:"b64_json"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

// GenerateImage 调用图像生成（dall-e 系列 deployment）。
func (p *AzureProvider) GenerateImage(ctx context.Context, req *llm.ImageRequest) (*llm.ImageResponse, error) {
	if req == nil || req.Prompt == "" {
		return nil, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    "image request requires a prompt",
			HTTPStatus: http.StatusBadRequest,
			Provider:   providerName,
		}
	}
	model := firstNonEmpty(req.Model, p.cfg.Model)

	return dispatch(ctx, p, "image", model, p.effectiveAPIVersion(req.APIVersion),
		p.effectiveTimeout(req.Timeout), req,
		func(ctx context.Context, cc clientConfig) (*llm.ImageResponse, error) {
			payload := map[string]any{"prompt": req.Prompt}
			setPayloadModel(payload, cc, model)
			if req.N > 0 {
				payload["n"] = req.N
			}
			if req.Size != "" {
				payload["size"] = req.Size
			}
			if req.Quality != "" {
				payload["quality"] = req.Quality
			}
			if req.Style != "" {
				payload["style"] = req.Style
			}
			if req.ResponseFormat != "" {
				payload["response_format"] = req.ResponseFormat
			}

			var raw openAIImageResponse
			if err := doJSON(ctx, p.client, http.MethodPost, cc.requestURL("/images/generations"), cc, payload, &raw, nil); err != nil {
				return nil, err
			}

			resp := &llm.ImageResponse{Provider: providerName, Model: model}
			if raw.Created > 0 {
				resp.CreatedAt = time.Unix(raw.Created, 0)
			}
			for _, d := range raw.Data {
				resp.Images = append(resp.Images, llm.ImageData{
					URL:           d.URL,
					B64JSON:       d.B64JSON,
					RevisedPrompt: d.RevisedPrompt,
				})
			}
			return resp, nil
		})
}

// GenerateImageAsync 是 GenerateImage 的非阻塞入口。
func (p *AzureProvider) GenerateImageAsync(ctx context.Context, req *llm.ImageRequest) <-chan llm.AsyncResult[*llm.ImageResponse] {
	return goAsync(func() (*llm.ImageResponse, error) { return p.GenerateImage(ctx, req) })
}
