package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/khromalabs/ainara-sub000/internal/adapters/retry"
	"github.com/khromalabs/ainara-sub000/internal/ports"
)

// EmbeddingClient implements ports.EmbeddingService against an
// OpenAI-compatible /embeddings endpoint.
type EmbeddingClient struct {
	baseURL     string
	apiKey      string
	model       string
	dimensions  int
	httpClient  *http.Client
	retryConfig retry.BackoffConfig
}

func NewEmbeddingClient(baseURL, apiKey, model string, dimensions int) *EmbeddingClient {
	baseURL = strings.TrimSuffix(baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")

	return &EmbeddingClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retryConfig: retry.DefaultConfig(),
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (c *EmbeddingClient) Embed(ctx context.Context, text string) (*ports.EmbeddingResult, error) {
	results, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return results[0], nil
}

func (c *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([]*ports.EmbeddingResult, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embeddingRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var respBody []byte
	err = retry.WithBackoff(ctx, c.retryConfig, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/embeddings", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var response embeddingResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	results := make([]*ports.EmbeddingResult, len(response.Data))
	for _, d := range response.Data {
		if d.Index < 0 || d.Index >= len(results) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		results[d.Index] = &ports.EmbeddingResult{
			Embedding:  d.Embedding,
			Model:      response.Model,
			Dimensions: len(d.Embedding),
		}
	}
	for i, r := range results {
		if r == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return results, nil
}

func (c *EmbeddingClient) GetDimensions() int {
	return c.dimensions
}
