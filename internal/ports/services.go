package ports

import (
	"context"

	"github.com/khromalabs/ainara-sub000/internal/domain/models"
)

// LLMMessage represents a message in the LLM conversation context
type LLMMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions tunes a single LLM call.
type ChatOptions struct {
	// ReasoningEffort in [0,1]; 0 means "do not request reasoning".
	// Ignored when the model does not support a reasoning parameter.
	ReasoningEffort float64
	// Temperature override; nil keeps the client default.
	Temperature *float64
}

// LLMStreamChunk represents a streaming chunk from the LLM
type LLMStreamChunk struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done"`
	Err     error  `json:"-"`
}

// LLMService defines the interface for LLM interactions
type LLMService interface {
	Chat(ctx context.Context, messages []LLMMessage, opts *ChatOptions) (string, error)
	ChatStream(ctx context.Context, messages []LLMMessage, opts *ChatOptions) (<-chan LLMStreamChunk, error)

	// TokenCount counts tokens for a message with the given role using the
	// active model's tokenizer.
	TokenCount(role, text string) int
	// ContextWindow is the token budget of the active model.
	ContextWindow() int
	// SupportsReasoning reports whether the model accepts a reasoning-effort hint.
	SupportsReasoning() bool
	// ModelID is the normalized identifier of the active model.
	ModelID() string
}

// EmbeddingResult represents the result of embedding generation
type EmbeddingResult struct {
	Embedding  []float32 `json:"embedding"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
}

// EmbeddingService defines the interface for generating embeddings
type EmbeddingService interface {
	Embed(ctx context.Context, text string) (*EmbeddingResult, error)
	EmbedBatch(ctx context.Context, texts []string) ([]*EmbeddingResult, error)
	GetDimensions() int
}

// TTSResult represents the result of text-to-speech
type TTSResult struct {
	Audio      []byte `json:"audio"`
	Format     string `json:"format"`
	DurationMs int    `json:"duration_ms"`
}

// TTSService defines the interface for Text-to-Speech
type TTSService interface {
	Synthesize(ctx context.Context, text string) (*TTSResult, error)
}

// AudioSink stores rendered audio and returns a client-reachable URL for it.
type AudioSink interface {
	Publish(audio []byte, format string) (url string, err error)
}

// SkillRegistry discovers and invokes capabilities on remote skill servers.
type SkillRegistry interface {
	// Capabilities fetches the skill manifest from the first responding
	// server, in priority order.
	Capabilities(ctx context.Context) ([]*models.SkillDescriptor, error)
	// Invoke runs a skill with JSON arguments. The result is either a
	// decoded JSON value or a plain string.
	Invoke(ctx context.Context, skillID string, args map[string]any) (any, error)
}

// IDGenerator produces unique IDs for new entities.
type IDGenerator interface {
	NewMessageID() string
	NewMemoryID() string
}
