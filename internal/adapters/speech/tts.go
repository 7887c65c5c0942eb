// Package speech reaches the external TTS backend over an OpenAI-compatible
// /audio/speech endpoint. The engine only consumes the TTSService port;
// rendering and playback stay on the client side.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/khromalabs/ainara-sub000/internal/adapters/metrics"
	"github.com/khromalabs/ainara-sub000/internal/ports"
)

type TTSClient struct {
	baseURL    string
	apiKey     string
	model      string
	voice      string
	format     string
	httpClient *http.Client
}

func NewTTSClient(baseURL, apiKey, model, voice, format string) *TTSClient {
	baseURL = strings.TrimSuffix(baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	if format == "" {
		format = "mp3"
	}

	return &TTSClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		voice:   voice,
		format:  format,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize renders text to audio bytes.
func (c *TTSClient) Synthesize(ctx context.Context, text string) (*ports.TTSResult, error) {
	body, err := json.Marshal(speechRequest{
		Model:          c.model,
		Input:          text,
		Voice:          c.voice,
		ResponseFormat: c.format,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("TTS request failed: %w", err)
	}
	defer resp.Body.Close()
	metrics.TTSRequestDuration.Observe(time.Since(start).Seconds())

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read TTS response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("TTS error: %s - %s", resp.Status, string(audio))
	}

	return &ports.TTSResult{Audio: audio, Format: c.format}, nil
}
