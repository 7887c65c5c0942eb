package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/khromalabs/ainara-sub000/internal/adapters/circuitbreaker"
	"github.com/khromalabs/ainara-sub000/internal/ports"
)

const (
	// LLMTimeout is the maximum time to wait for LLM responses
	LLMTimeout = 2 * time.Minute
)

// Service implements ports.LLMService on top of the OpenAI-compatible client.
type Service struct {
	client            *Client
	tokenizer         *Tokenizer
	breaker           *circuitbreaker.Breaker
	contextWindow     int
	supportsReasoning bool
	modelID           string
}

// ServiceConfig controls model-capability derivation.
type ServiceConfig struct {
	// ContextWindow overrides the window derived from the model name (0 keeps it).
	ContextWindow int
	// ReasoningModels are model-name prefixes that accept reasoning_effort.
	ReasoningModels []string
}

// NewService creates a new LLM service
func NewService(client *Client, cfg ServiceConfig) *Service {
	modelID := NormalizeModelID(client.Model())

	window := cfg.ContextWindow
	if window <= 0 {
		window = ContextWindowFor(modelID)
	}

	reasoning := false
	for _, prefix := range cfg.ReasoningModels {
		if strings.HasPrefix(modelID, strings.ToLower(prefix)) {
			reasoning = true
			break
		}
	}

	return &Service{
		client:            client,
		tokenizer:         NewTokenizer(modelID),
		breaker:           circuitbreaker.New(5, 30*time.Second),
		contextWindow:     window,
		supportsReasoning: reasoning,
		modelID:           modelID,
	}
}

func (s *Service) Chat(ctx context.Context, messages []ports.LLMMessage, opts *ports.ChatOptions) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, LLMTimeout)
	defer cancel()

	var content string
	err := s.breaker.Do(ctx, func() error {
		response, err := s.client.Chat(ctx, s.convertMessages(messages), s.reasoningEffort(opts))
		if err != nil {
			return fmt.Errorf("chat request failed: %w", err)
		}
		if len(response.Choices) == 0 {
			return fmt.Errorf("no choices in response")
		}
		content = response.Choices[0].Message.Content
		return nil
	})
	return content, err
}

func (s *Service) ChatStream(parentCtx context.Context, messages []ports.LLMMessage, opts *ports.ChatOptions) (<-chan ports.LLMStreamChunk, error) {
	ctx, cancel := context.WithTimeout(parentCtx, LLMTimeout)

	clientChan, err := s.client.ChatStream(ctx, s.convertMessages(messages), s.reasoningEffort(opts))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("chat stream request failed: %w", err)
	}

	out := make(chan ports.LLMStreamChunk, 10)
	go func() {
		defer cancel()
		defer close(out)
		for chunk := range clientChan {
			converted := ports.LLMStreamChunk{
				Content: chunk.Content,
				Done:    chunk.Done,
				Err:     chunk.Error,
			}
			select {
			case out <- converted:
			case <-ctx.Done():
				return
			}
			if chunk.Done || chunk.Error != nil {
				return
			}
		}
	}()

	return out, nil
}

func (s *Service) TokenCount(role, text string) int {
	return s.tokenizer.Count(role, text)
}

func (s *Service) ContextWindow() int {
	return s.contextWindow
}

func (s *Service) SupportsReasoning() bool {
	return s.supportsReasoning
}

func (s *Service) ModelID() string {
	return s.modelID
}

// reasoningEffort buckets the heuristic scalar into the wire values the
// OpenAI-compatible API accepts.
func (s *Service) reasoningEffort(opts *ports.ChatOptions) string {
	if opts == nil || !s.supportsReasoning || opts.ReasoningEffort <= 0 {
		return ""
	}
	switch {
	case opts.ReasoningEffort < 0.25:
		return "low"
	case opts.ReasoningEffort < 0.5:
		return "medium"
	default:
		return "high"
	}
}

func (s *Service) convertMessages(messages []ports.LLMMessage) []ChatMessage {
	chatMessages := make([]ChatMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = ChatMessage{Role: msg.Role, Content: msg.Content}
	}
	return chatMessages
}
