package azure

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/llmgate/llm"
)

func TestEmbed(t *testing.T) {
	var gotPath string
	var gotPayload map[string]any
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "text-embedding-3-small",
			"data": []map[string]any{
				{"index": 0, "object": "embedding", "embedding": []float64{0.1, 0.2}},
				{"index": 1, "object": "embedding", "embedding": []float64{0.3, 0.4}},
			},
			"usage": map[string]any{"prompt_tokens": 4, "total_tokens": 4},
		})
	}))

	resp, err := p.Embed(context.Background(), &llm.EmbeddingRequest{
		Input:      []string{"a", "b"},
		Model:      "text-embedding-3-small",
		Dimensions: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, "/openai/deployments/text-embedding-3-small/embeddings", gotPath)
	assert.EqualValues(t, 2, gotPayload["dimensions"])
	require.Len(t, resp.Embeddings, 2)
	assert.Equal(t, []float64{0.3, 0.4}, resp.Embeddings[1].Embedding)
	assert.Equal(t, 4, resp.Usage.TotalTokens)
	assert.Equal(t, "azure", resp.Provider)
}

func TestEmbedRequiresInput(t *testing.T) {
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should reach upstream")
	}))

	_, err := p.Embed(context.Background(), &llm.EmbeddingRequest{})
	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, llm.ErrInvalidRequest, le.Code)
}

func TestEmbedAsyncMatchesBlocking(t *testing.T) {
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"model": "text-embedding-3-small",
			"data":  []map[string]any{{"index": 0, "embedding": []float64{1}}},
			"usage": map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	req := &llm.EmbeddingRequest{Input: []string{"x"}}

	blocking, err := p.Embed(context.Background(), req)
	require.NoError(t, err)

	result := <-p.EmbedAsync(context.Background(), req)
	require.NoError(t, result.Err)
	// CreatedAt 取本地时间，比较时抹平
	blocking.CreatedAt = result.Value.CreatedAt
	assert.Equal(t, blocking, result.Value)
}

func TestGenerateImage(t *testing.T) {
	var gotPath string
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]any{
			"created": 1717000000,
			"data": []map[string]any{
				{"url": "https://img.example/1.png", "revised_prompt": "a cat, detailed"},
			},
		})
	}))

	resp, err := p.GenerateImage(context.Background(), &llm.ImageRequest{
		Prompt: "a cat",
		Model:  "dall-e-3",
		Size:   "1024x1024",
	})
	require.NoError(t, err)

	assert.Equal(t, "/openai/deployments/dall-e-3/images/generations", gotPath)
	require.Len(t, resp.Images, 1)
	assert.Equal(t, "https://img.example/1.png", resp.Images[0].URL)
	assert.Equal(t, "a cat, detailed", resp.Images[0].RevisedPrompt)
}

func TestGenerateImageRequiresPrompt(t *testing.T) {
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should reach upstream")
	}))

	_, err := p.GenerateImage(context.Background(), &llm.ImageRequest{})
	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, llm.ErrInvalidRequest, le.Code)
}

func TestTranscribe(t *testing.T) {
	var gotFileName, gotModel, gotFormat string
	var gotAudio []byte

	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			data, _ := io.ReadAll(part)
			switch part.FormName() {
			case "file":
				gotFileName = part.FileName()
				gotAudio = data
			case "model":
				gotModel = string(data)
			case "response_format":
				gotFormat = string(data)
			}
		}

		json.NewEncoder(w).Encode(map[string]any{
			"text":     "hello world",
			"language": "english",
			"duration": 1.5,
			"segments": []map[string]any{
				{"id": 0, "start": 0.0, "end": 1.5, "text": "hello world"},
			},
		})
	}))

	resp, err := p.Transcribe(context.Background(), &llm.TranscriptionRequest{
		Audio:    strings.NewReader("fake-audio-bytes"),
		FileName: "clip.wav",
		Model:    "whisper-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "clip.wav", gotFileName)
	assert.Equal(t, "fake-audio-bytes", string(gotAudio))
	assert.Equal(t, "whisper-1", gotModel)
	assert.Equal(t, "verbose_json", gotFormat)

	assert.Equal(t, "hello world", resp.Text)
	assert.Equal(t, 1.5, resp.Duration)
	require.Len(t, resp.Segments, 1)
	assert.Equal(t, 1.5, resp.Segments[0].End)
}

func TestTranscribeRequiresAudio(t *testing.T) {
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should reach upstream")
	}))

	_, err := p.Transcribe(context.Background(), &llm.TranscriptionRequest{})
	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, llm.ErrInvalidRequest, le.Code)
}
