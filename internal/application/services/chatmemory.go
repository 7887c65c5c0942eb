package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/khromalabs/ainara-sub000/internal/domain"
	"github.com/khromalabs/ainara-sub000/internal/domain/models"
	"github.com/khromalabs/ainara-sub000/internal/ports"
)

// ChatMemory owns the conversation state for one context: an ordered message
// list whose first element is the single mutable system message, backed by
// the persistent message log. Token counts are computed at insertion with the
// active model's tokenizer. Persisted turns are mirrored into the
// conversation-log vector collection when one is attached.
type ChatMemory struct {
	mu       sync.RWMutex
	messages []*models.Message
	repo     ports.MessageRepository
	vectors  ports.VectorStore
	llm      ports.LLMService
	ids      ports.IDGenerator
}

// NewChatMemory builds the conversation state with the given system prompt
// and reloads up to historyLimit persisted messages behind it. vectors is the
// conversation-log index; nil disables semantic history search.
func NewChatMemory(ctx context.Context, systemPrompt string, repo ports.MessageRepository, vectors ports.VectorStore, llm ports.LLMService, ids ports.IDGenerator, historyLimit int) (*ChatMemory, error) {
	m := &ChatMemory{repo: repo, vectors: vectors, llm: llm, ids: ids}

	system := models.NewMessage(ids.NewMessageID(), models.MessageRoleSystem, systemPrompt,
		llm.TokenCount(string(models.MessageRoleSystem), systemPrompt))
	m.messages = []*models.Message{system}

	if repo != nil && historyLimit > 0 {
		history, err := repo.Latest(ctx, historyLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to reload conversation history: %w", err)
		}
		for _, msg := range history {
			if msg.Role == models.MessageRoleSystem {
				continue
			}
			if msg.Tokens == 0 {
				msg.Tokens = llm.TokenCount(string(msg.Role), msg.Content)
			}
			m.messages = append(m.messages, msg)
		}
	}
	return m, nil
}

// SetSystemMessage replaces the content of the system message at index 0
// and recounts its tokens.
func (m *ChatMemory) SetSystemMessage(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[0].Content = content
	m.messages[0].Tokens = m.llm.TokenCount(string(models.MessageRoleSystem), content)
}

// AddMessage appends a message, persisting user and assistant turns.
func (m *ChatMemory) AddMessage(ctx context.Context, role models.MessageRole, content string) (*models.Message, error) {
	msg := models.NewMessage(m.ids.NewMessageID(), role, content,
		m.llm.TokenCount(string(role), content))

	m.mu.Lock()
	m.messages = append(m.messages, msg)
	m.mu.Unlock()

	if m.repo != nil && (role == models.MessageRoleUser || role == models.MessageRoleAssistant) {
		if err := m.repo.Append(ctx, msg); err != nil {
			return msg, fmt.Errorf("failed to persist message: %w", err)
		}
		if m.vectors != nil {
			// The index is a derived projection of the log; a failed add
			// costs one search hit, not the turn.
			if err := m.vectors.Add(ctx, msg.ID, msg.Content, map[string]string{
				"role":      string(role),
				"timestamp": strconv.FormatInt(msg.Timestamp.UnixMilli(), 10),
			}); err != nil {
				log.Printf("warning: failed to index message %s: %v", msg.ID, err)
			}
		}
	}
	return msg, nil
}

// SearchHistory retrieves persisted messages semantically related to the
// query, best match first. Messages deleted from the log since indexing are
// skipped.
func (m *ChatMemory) SearchHistory(ctx context.Context, query string, topK int) ([]*models.Message, error) {
	if m.vectors == nil || m.repo == nil {
		return nil, nil
	}
	matches, err := m.vectors.Search(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("history search failed: %w", err)
	}

	out := make([]*models.Message, 0, len(matches))
	for _, match := range matches {
		msg, err := m.repo.GetByID(ctx, match.ID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// AddTransient appends a message to the in-memory state only. Guardrail
// correction turns use this so retries never pollute the persistent log.
func (m *ChatMemory) AddTransient(role models.MessageRole, content string) *models.Message {
	msg := models.NewMessage(m.ids.NewMessageID(), role, content,
		m.llm.TokenCount(string(role), content))

	m.mu.Lock()
	m.messages = append(m.messages, msg)
	m.mu.Unlock()
	return msg
}

// Repository exposes the backing message log for read-only passes.
func (m *ChatMemory) Repository() ports.MessageRepository {
	return m.repo
}

// Messages returns a snapshot of the conversation state.
func (m *ChatMemory) Messages() []*models.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Replace swaps the conversation state for a trimmed one. The new slice must
// still carry the system message at index 0.
func (m *ChatMemory) Replace(messages []*models.Message) {
	if len(messages) == 0 || messages[0].Role != models.MessageRoleSystem {
		log.Printf("warning: refusing to replace conversation state without a leading system message")
		return
	}
	m.mu.Lock()
	m.messages = messages
	m.mu.Unlock()
}

// RemoveWhere drops in-memory messages matching the predicate. The system
// message is never removed.
func (m *ChatMemory) RemoveWhere(match func(*models.Message) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.messages[:1]
	removed := 0
	for _, msg := range m.messages[1:] {
		if match(msg) {
			removed++
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	return removed
}

// TotalTokens sums the token counts of the current state.
func (m *ChatMemory) TotalTokens() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, msg := range m.messages {
		total += msg.Tokens
	}
	return total
}

// LLMMessages converts the state to the wire shape of an LLM call.
func (m *ChatMemory) LLMMessages() []ports.LLMMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ports.LLMMessage, 0, len(m.messages))
	for _, msg := range m.messages {
		out = append(out, ports.LLMMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return out
}

// RecentNonSystem returns up to limit trailing non-system messages,
// oldest first. Skill interpretation prompts use this as chat context.
func (m *ChatMemory) RecentNonSystem(limit int) []*models.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Message, 0, limit)
	for i := len(m.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if m.messages[i].Role == models.MessageRoleSystem {
			continue
		}
		out = append(out, m.messages[i])
	}
	// Collected newest first; restore chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
