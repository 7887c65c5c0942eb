package models

import (
	"time"
)

type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleTool      MessageRole = "tool"
)

// Message is a single entry of the conversation log. Tokens are computed
// with the active LLM's tokenizer at insertion time and travel with the
// message so that trimming never has to re-tokenize the whole history.
type Message struct {
	ID        string            `json:"id"`
	Role      MessageRole       `json:"role"`
	Content   string            `json:"content"`
	Tokens    int               `json:"tokens"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func NewMessage(id string, role MessageRole, content string, tokens int) *Message {
	return &Message{
		ID:        id,
		Role:      role,
		Content:   content,
		Tokens:    tokens,
		Timestamp: time.Now().UTC(),
	}
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	if m.Metadata != nil {
		c.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
