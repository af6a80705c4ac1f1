package llm

import (
	"io"
	"time"
)

// EmbeddingRequest 表示生成嵌入的请求.
type EmbeddingRequest struct {
	Input          []string          `json:"input"`
	Model          string            `json:"model,omitempty"`
	APIVersion     string            `json:"api_version,omitempty"`
	Dimensions     int               `json:"dimensions,omitempty"`
	EncodingFormat string            `json:"encoding_format,omitempty"` // float or base64
	Timeout        time.Duration     `json:"timeout,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// EmbeddingData 表示单个嵌入结果.
type EmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
	Object    string    `json:"object,omitempty"`
}

// EmbeddingResponse 表示嵌入请求的响应.
type EmbeddingResponse struct {
	ID         string          `json:"id,omitempty"`
	Provider   string          `json:"provider"`
	Model      string          `json:"model"`
	Embeddings []EmbeddingData `json:"embeddings"`
	Usage      ChatUsage       `json:"usage"`
	CreatedAt  time.Time       `json:"created_at,omitempty"`
}

// ImageRequest 表示图像生成请求.
type ImageRequest struct {
	Prompt         string        `json:"prompt"`
	Model          string        `json:"model,omitempty"`
	APIVersion     string        `json:"api_version,omitempty"`
	N              int           `json:"n,omitempty"`
	Size           string        `json:"size,omitempty"`
	Quality        string        `json:"quality,omitempty"`
	Style          string        `json:"style,omitempty"`
	ResponseFormat string        `json:"response_format,omitempty"` // url or b64_json
	Timeout        time.Duration `json:"timeout,omitempty"`
}

// ImageData 表示单个生成图像的引用.
type ImageData struct {
	URL           string `json:"url,omitempty"`
	B64JSON       string `json:"b64_json,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// ImageResponse 表示图像生成响应.
type ImageResponse struct {
	Provider  string      `json:"provider"`
	Model     string      `json:"model,omitempty"`
	Images    []ImageData `json:"images"`
	CreatedAt time.Time   `json:"created_at,omitempty"`
}

// TranscriptionRequest 表示语音转写请求.
// Audio 只被读取一次；重试预算由底层传输负责，此处不做重放。
type TranscriptionRequest struct {
	Audio          io.Reader     `json:"-"`
	FileName       string        `json:"file_name,omitempty"`
	Model          string        `json:"model,omitempty"`
	APIVersion     string        `json:"api_version,omitempty"`
	Language       string        `json:"language,omitempty"`
	Prompt         string        `json:"prompt,omitempty"`
	ResponseFormat string        `json:"response_format,omitempty"`
	Temperature    float32       `json:"temperature,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`
}

// TranscriptionSegment 表示转写的时间片段.
type TranscriptionSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionResponse 表示语音转写响应.
type TranscriptionResponse struct {
	Provider  string                 `json:"provider"`
	Model     string                 `json:"model,omitempty"`
	Text      string                 `json:"text"`
	Language  string                 `json:"language,omitempty"`
	Duration  float64                `json:"duration,omitempty"`
	Segments  []TranscriptionSegment `json:"segments,omitempty"`
	CreatedAt time.Time              `json:"created_at,omitempty"`
}
