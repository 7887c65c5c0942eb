package models

import (
	"time"
)

type MemoryType string

const (
	MemoryTypeKey      MemoryType = "key"
	MemoryTypeExtended MemoryType = "extended"
)

type MemoryStatus string

const (
	MemoryStatusCurrent MemoryStatus = "current"
	MemoryStatusPast    MemoryStatus = "past"
)

// MaxRelevance is the hard ceiling on a memory's relevance score.
const MaxRelevance = 200.0

// Memory is a unit of long-term knowledge about the user. Text holds the
// raw, unnormalized memory; the vector store embeds a normalized form of it,
// but Text stays authoritative.
type Memory struct {
	ID               string            `json:"id"`
	Type             MemoryType        `json:"type"`
	Topic            string            `json:"topic"`
	Text             string            `json:"text"`
	Relevance        float64           `json:"relevance"`
	Status           MemoryStatus      `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
	LastUpdated      time.Time         `json:"last_updated"`
	SourceMessageIDs []string          `json:"source_message_ids,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

func NewMemory(id string, memType MemoryType, topic, text string) *Memory {
	now := time.Now().UTC()
	return &Memory{
		ID:          id,
		Type:        memType,
		Topic:       topic,
		Text:        text,
		Relevance:   1.0,
		Status:      MemoryStatusCurrent,
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// Reinforce bumps relevance by increment, capped at MaxRelevance, and
// refreshes the update timestamp.
func (m *Memory) Reinforce(increment float64) {
	m.Relevance += increment
	if m.Relevance > MaxRelevance {
		m.Relevance = MaxRelevance
	}
	m.LastUpdated = time.Now().UTC()
}

// AbsorbRelevance sums another memory's relevance into this one. Used when
// consolidating duplicates: the duplicate is deleted and its weight survives.
func (m *Memory) AbsorbRelevance(other *Memory) {
	m.Relevance += other.Relevance
	if m.Relevance > MaxRelevance {
		m.Relevance = MaxRelevance
	}
	m.LastUpdated = time.Now().UTC()
}

// MarkPast flags the memory as superseded by newer knowledge.
func (m *Memory) MarkPast() {
	m.Status = MemoryStatusPast
	m.LastUpdated = time.Now().UTC()
}

// IsKey reports whether this memory contributes to the user profile.
func (m *Memory) IsKey() bool {
	return m.Type == MemoryTypeKey
}

// Clone returns a deep copy of the memory.
func (m *Memory) Clone() *Memory {
	c := *m
	if m.SourceMessageIDs != nil {
		c.SourceMessageIDs = append([]string(nil), m.SourceMessageIDs...)
	}
	if m.Metadata != nil {
		c.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
