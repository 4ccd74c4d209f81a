package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/promptsteer/promptsteer/internal/core/tensor"
)

const defaultEmbeddingsBaseURL = "https://api.openai.com/v1"

// APIError reports a non-2xx response from an embeddings endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("embeddings api returned %d: %s", e.StatusCode, e.Message)
}

// HTTPEncoder calls an OpenAI-compatible /embeddings endpoint.
type HTTPEncoder struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewHTTPEncoder returns an encoder with defaults applied.
func NewHTTPEncoder(baseURL, apiKey, model string) *HTTPEncoder {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		url = defaultEmbeddingsBaseURL
	}
	return &HTTPEncoder{
		BaseURL: url,
		APIKey:  strings.TrimSpace(apiKey),
		Model:   strings.TrimSpace(model),
	}
}

// Name identifies the encoder by model.
func (e *HTTPEncoder) Name() string {
	return "http-" + e.Model
}

type embeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// EncodeText requests the embedding of text. Every returned item becomes a
// row, ordered by index.
func (e *HTTPEncoder) EncodeText(ctx context.Context, text string) (tensor.Matrix, error) {
	if e == nil {
		return nil, fmt.Errorf("http encoder not configured")
	}
	if e.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(embeddingRequest{Input: text, Model: e.Model})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := strings.TrimRight(e.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	client := e.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, ErrEmptyEmbedding
	}
	sort.SliceStable(parsed.Data, func(i, j int) bool {
		return parsed.Data[i].Index < parsed.Data[j].Index
	})

	out := make(tensor.Matrix, 0, len(parsed.Data))
	for _, item := range parsed.Data {
		out = append(out, item.Embedding)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
