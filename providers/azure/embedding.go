package azure

import (
	"context"
	"net/http"
	"time"

	"github.com/BaSui01/llmgate/llm"
)

type openAIEmbeddingResponse struct {
	Object string `json:"object"`
	Model  string `json:"model"`
	Data   []struct {
		Index     int       `json:"index"`
		Object    string    `json:"object"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed 生成文本嵌入。与 chat 共享同一套凭据解析、URL 组装与错误收敛。
func (p *AzureProvider) Embed(ctx context.Context, req *llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	if req == nil || len(req.Input) == 0 {
		return nil, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    "embedding request requires non-empty input",
			HTTPStatus: http.StatusBadRequest,
			Provider:   providerName,
		}
	}
	model := firstNonEmpty(req.Model, p.cfg.Model)

	return dispatch(ctx, p, "embedding", model, p.effectiveAPIVersion(req.APIVersion),
		p.effectiveTimeout(req.Timeout), req,
		func(ctx context.Context, cc clientConfig) (*llm.EmbeddingResponse, error) {
			payload := map[string]any{"input": req.Input}
			setPayloadModel(payload, cc, model)
			if req.Dimensions > 0 {
				payload["dimensions"] = req.Dimensions
			}
			if req.EncodingFormat != "" {
				payload["encoding_format"] = req.EncodingFormat
			}

			var raw openAIEmbeddingResponse
			if err := doJSON(ctx, p.client, http.MethodPost, cc.requestURL("/embeddings"), cc, payload, &raw, nil); err != nil {
				return nil, err
			}

			resp := &llm.EmbeddingResponse{
				Provider:  providerName,
				Model:     firstNonEmpty(raw.Model, model),
				CreatedAt: time.Now(),
				Usage: llm.ChatUsage{
					PromptTokens: raw.Usage.PromptTokens,
					TotalTokens:  raw.Usage.TotalTokens,
				},
			}
			for _, d := range raw.Data {
				resp.Embeddings = append(resp.Embeddings, llm.EmbeddingData{
					Index:     d.Index,
					Object:    d.Object,
					Embedding: d.Embedding,
				})
			}
			return resp, nil
		})
}

// EmbedAsync 是 Embed 的非阻塞入口。
func (p *AzureProvider) EmbedAsync(ctx context.Context, req *llm.EmbeddingRequest) <-chan llm.AsyncResult[*llm.EmbeddingResponse] {
	return goAsync(func() (*llm.EmbeddingResponse, error) { return p.Embed(ctx, req) })
}
