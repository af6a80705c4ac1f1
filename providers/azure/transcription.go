package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/llmgate/llm"
)

type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		ID    int     `json:"id"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe 上传音频并转写（whisper 系列 deployment）。
// Audio 只被读取一次；重试由传输层负责，这里不重放请求体。
func (p *AzureProvider) Transcribe(ctx context.Context, req *llm.TranscriptionRequest) (*llm.TranscriptionResponse, error) {
	if req == nil || req.Audio == nil {
		return nil, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    "transcription request requires audio data",
			HTTPStatus: http.StatusBadRequest,
			Provider:   providerName,
		}
	}
	model := firstNonEmpty(req.Model, p.cfg.Model)

	return dispatch(ctx, p, "transcription", model, p.effectiveAPIVersion(req.APIVersion),
		p.effectiveTimeout(req.Timeout), req,
		func(ctx context.Context, cc clientConfig) (*llm.TranscriptionResponse, error) {
			body, contentType, err := buildTranscriptionForm(req, cc, model)
			if err != nil {
				return nil, wrapTransportError(err)
			}

			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cc.requestURL("/audio/transcriptions"), body)
			if err != nil {
				return nil, wrapTransportError(err)
			}
			httpReq.Header.Set("Content-Type", contentType)
			cc.auth.apply(httpReq.Header)

			resp, err := p.client.Do(httpReq)
			if err != nil {
				return nil, wrapTransportError(err)
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, wrapTransportError(err)
			}
			if resp.StatusCode != http.StatusOK {
				return nil, mapAzureError(resp.StatusCode, string(data))
			}

			var raw whisperResponse
			if err := json.Unmarshal(data, &raw); err != nil {
				return nil, wrapTransportError(fmt.Errorf("decode transcription: %w", err))
			}

			out := &llm.TranscriptionResponse{
				Provider:  providerName,
				Model:     model,
				Text:      raw.Text,
				Language:  raw.Language,
				Duration:  raw.Duration,
				CreatedAt: time.Now(),
			}
			for _, s := range raw.Segments {
				out.Segments = append(out.Segments, llm.TranscriptionSegment{
					ID:    s.ID,
					Start: s.Start,
					End:   s.End,
					Text:  s.Text,
				})
			}
			return out, nil
		})
}

// TranscribeAsync 是 Transcribe 的非阻塞入口。
func (p *AzureProvider) TranscribeAsync(ctx context.Context, req *llm.TranscriptionRequest) <-chan llm.AsyncResult[*llm.TranscriptionResponse] {
	return goAsync(func() (*llm.TranscriptionResponse, error) { return p.Transcribe(ctx, req) })
}

func buildTranscriptionForm(req *llm.TranscriptionRequest, cc clientConfig, model string) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	// 未命名的音频给一个唯一名字，便于上游侧日志对账
	fileName := req.FileName
	if fileName == "" {
		fileName = "audio-" + uuid.NewString() + ".mp3"
	}
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, req.Audio); err != nil {
		return nil, "", err
	}

	if !cc.nullModel {
		if err := w.WriteField("model", model); err != nil {
			return nil, "", err
		}
	}
	responseFormat := req.ResponseFormat
	if responseFormat == "" {
		responseFormat = "verbose_json"
	}
	if err := w.WriteField("response_format", responseFormat); err != nil {
		return nil, "", err
	}
	if req.Language != "" {
		if err := w.WriteField("language", req.Language); err != nil {
			return nil, "", err
		}
	}
	if req.Prompt != "" {
		if err := w.WriteField("prompt", req.Prompt); err != nil {
			return nil, "", err
		}
	}
	if req.Temperature != 0 {
		if err := w.WriteField("temperature", strconv.FormatFloat(float64(req.Temperature), 'f', -1, 32)); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
