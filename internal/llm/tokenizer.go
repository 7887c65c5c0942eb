package llm

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// messageOverheadTokens approximates the per-message framing cost of the
// chat format (role tag plus separators).
const messageOverheadTokens = 4

// Tokenizer counts tokens with the active model's encoding, falling back to
// cl100k_base for models tiktoken does not know.
type Tokenizer struct {
	once     sync.Once
	model    string
	encoding *tiktoken.Tiktoken
}

func NewTokenizer(model string) *Tokenizer {
	return &Tokenizer{model: model}
}

func (t *Tokenizer) init() {
	enc, err := tiktoken.EncodingForModel(t.model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return
		}
	}
	t.encoding = enc
}

// Count returns the token count of a chat message with the given role.
func (t *Tokenizer) Count(role, text string) int {
	t.once.Do(t.init)
	if t.encoding == nil {
		// crude fallback: one token per ~4 characters
		return len(text)/4 + messageOverheadTokens
	}
	n := len(t.encoding.Encode(text, nil, nil))
	if role != "" {
		n += messageOverheadTokens
	}
	return n
}

// contextWindows maps model-name fragments to context window sizes.
// Checked in order; first match wins.
var contextWindows = []struct {
	fragment string
	window   int
}{
	{"gpt-4o", 128000},
	{"gpt-4-turbo", 128000},
	{"gpt-4.1", 128000},
	{"gpt-4", 8192},
	{"gpt-3.5", 16384},
	{"o1", 200000},
	{"o3", 200000},
	{"claude", 200000},
	{"deepseek", 65536},
	{"qwen", 32768},
	{"llama", 32768},
	{"mistral", 32768},
}

// defaultContextWindow is assumed for unknown models.
const defaultContextWindow = 32768

// ContextWindowFor derives a context window from a model name.
func ContextWindowFor(model string) int {
	normalized := NormalizeModelID(model)
	for _, e := range contextWindows {
		if strings.Contains(normalized, e.fragment) {
			return e.window
		}
	}
	return defaultContextWindow
}

// NormalizeModelID lowercases a model name and strips any provider prefix
// ("openai/gpt-4o" becomes "gpt-4o").
func NormalizeModelID(model string) string {
	normalized := strings.ToLower(strings.TrimSpace(model))
	if idx := strings.LastIndex(normalized, "/"); idx >= 0 {
		normalized = normalized[idx+1:]
	}
	return normalized
}
