package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/khromalabs/ainara-sub000/internal/domain"
	"github.com/khromalabs/ainara-sub000/internal/domain/models"
	"github.com/khromalabs/ainara-sub000/internal/ports"
)

// Shared mock implementations for the services tests.

type mockIDGenerator struct {
	messageCounter int
	memoryCounter  int
}

func (m *mockIDGenerator) NewMessageID() string {
	m.messageCounter++
	return fmt.Sprintf("msg_test%d", m.messageCounter)
}

func (m *mockIDGenerator) NewMemoryID() string {
	m.memoryCounter++
	return fmt.Sprintf("mem_test%d", m.memoryCounter)
}

// mockLLM replies with queued responses and counts tokens as whitespace
// fields, which keeps test arithmetic readable.
type mockLLM struct {
	mu        sync.Mutex
	replies   []string
	requests  [][]ports.LLMMessage
	chatErr   error
	window    int
	reasoning bool
}

func newMockLLM(replies ...string) *mockLLM {
	return &mockLLM{replies: replies, window: 8192}
}

func (m *mockLLM) Chat(ctx context.Context, messages []ports.LLMMessage, opts *ports.ChatOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, messages)
	if m.chatErr != nil {
		return "", m.chatErr
	}
	if len(m.replies) == 0 {
		return "", domain.ErrLLMUnavailable
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return reply, nil
}

func (m *mockLLM) ChatStream(ctx context.Context, messages []ports.LLMMessage, opts *ports.ChatOptions) (<-chan ports.LLMStreamChunk, error) {
	reply, err := m.Chat(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	ch := make(chan ports.LLMStreamChunk, 2)
	ch <- ports.LLMStreamChunk{Content: reply}
	ch <- ports.LLMStreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func (m *mockLLM) TokenCount(role, text string) int {
	return len(strings.Fields(text))
}

func (m *mockLLM) ContextWindow() int { return m.window }

func (m *mockLLM) SupportsReasoning() bool { return m.reasoning }

func (m *mockLLM) ModelID() string { return "mock-model" }

// mockMessageRepo is an append-only in-memory message log.
type mockMessageRepo struct {
	mu       sync.Mutex
	messages []*models.Message
}

func newMockMessageRepo() *mockMessageRepo {
	return &mockMessageRepo{}
}

func (r *mockMessageRepo) Append(ctx context.Context, message *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

func (r *mockMessageRepo) GetByID(ctx context.Context, id string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *mockMessageRepo) List(ctx context.Context, limit, offset int) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if offset >= len(r.messages) {
		return nil, nil
	}
	out := r.messages[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]*models.Message(nil), out...), nil
}

func (r *mockMessageRepo) Latest(ctx context.Context, limit int) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]*models.Message(nil), r.messages...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *mockMessageRepo) Search(ctx context.Context, keyword string, limit int) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Message
	for _, m := range r.messages {
		if strings.Contains(m.Content, keyword) {
			out = append(out, m)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *mockMessageRepo) After(ctx context.Context, unixMillis int64, limit int) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Message
	for _, m := range r.messages {
		if m.Timestamp.UnixMilli() > unixMillis {
			out = append(out, m)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *mockMessageRepo) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages), nil
}

// mockMemoryRepo keeps memories in a map.
type mockMemoryRepo struct {
	mu    sync.Mutex
	store map[string]*models.Memory
}

func newMockMemoryRepo() *mockMemoryRepo {
	return &mockMemoryRepo{store: map[string]*models.Memory{}}
}

func (r *mockMemoryRepo) Create(ctx context.Context, memory *models.Memory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store[memory.ID] = memory
	return nil
}

func (r *mockMemoryRepo) GetByID(ctx context.Context, id string) (*models.Memory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.store[id]; ok {
		return m, nil
	}
	return nil, domain.ErrMemoryNotFound
}

func (r *mockMemoryRepo) Update(ctx context.Context, memory *models.Memory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[memory.ID]; !ok {
		return domain.ErrMemoryNotFound
	}
	r.store[memory.ID] = memory
	return nil
}

func (r *mockMemoryRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[id]; !ok {
		return domain.ErrMemoryNotFound
	}
	delete(r.store, id)
	return nil
}

func (r *mockMemoryRepo) List(ctx context.Context) ([]*models.Memory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Memory, 0, len(r.store))
	for _, m := range r.store {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *mockMemoryRepo) ListByStatus(ctx context.Context, status models.MemoryStatus) ([]*models.Memory, error) {
	all, _ := r.List(ctx)
	var out []*models.Memory
	for _, m := range all {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *mockMemoryRepo) TopKeyByRelevance(ctx context.Context, limit int) ([]*models.Memory, error) {
	all, _ := r.List(ctx)
	var keys []*models.Memory
	for _, m := range all {
		if m.IsKey() {
			keys = append(keys, m)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Relevance > keys[j].Relevance })
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (r *mockMemoryRepo) RecentCurrent(ctx context.Context, limit int) ([]*models.Memory, error) {
	all, _ := r.List(ctx)
	var current []*models.Memory
	for _, m := range all {
		if m.Status == models.MemoryStatusCurrent {
			current = append(current, m)
		}
	}
	sort.Slice(current, func(i, j int) bool { return current[i].LastUpdated.After(current[j].LastUpdated) })
	if limit > 0 && len(current) > limit {
		current = current[:limit]
	}
	return current, nil
}

func (r *mockMemoryRepo) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.store), nil
}

// mockMetaRepo is the key/value side-table.
type mockMetaRepo struct {
	mu     sync.Mutex
	values map[string]string
}

func newMockMetaRepo() *mockMetaRepo {
	return &mockMetaRepo{values: map[string]string{}}
}

func (r *mockMetaRepo) Get(ctx context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.values[key]; ok {
		return v, nil
	}
	return "", domain.ErrNotFound
}

func (r *mockMetaRepo) Set(ctx context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
	return nil
}

func (r *mockMetaRepo) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, key)
	return nil
}

// mockVectorStore scores by naive token overlap between the query and the
// indexed text, which is deterministic and good enough for ranking tests.
type mockVectorStore struct {
	mu       sync.Mutex
	entries  map[string]vectorEntry
	resets   int
	searches int
}

type vectorEntry struct {
	text     string
	metadata map[string]string
}

func newMockVectorStore() *mockVectorStore {
	return &mockVectorStore{entries: map[string]vectorEntry{}}
}

func (s *mockVectorStore) Add(ctx context.Context, id, text string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = vectorEntry{text: text, metadata: metadata}
	return nil
}

func (s *mockVectorStore) Delete(ctx context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.entries, id)
	}
	return nil
}

func (s *mockVectorStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = map[string]vectorEntry{}
	s.resets++
	return nil
}

func (s *mockVectorStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *mockVectorStore) Search(ctx context.Context, query string, topK int, filter map[string]string, excludeIDs []string) ([]ports.VectorMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches++

	excluded := map[string]bool{}
	for _, id := range excludeIDs {
		excluded[id] = true
	}
	queryTokens := map[string]bool{}
	for _, tok := range strings.Fields(query) {
		queryTokens[tok] = true
	}

	var matches []ports.VectorMatch
	for id, entry := range s.entries {
		if excluded[id] {
			continue
		}
		skip := false
		for k, v := range filter {
			if entry.metadata[k] != v {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		overlap := 0
		fields := strings.Fields(entry.text)
		for _, tok := range fields {
			if queryTokens[tok] {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		matches = append(matches, ports.VectorMatch{
			ID:         id,
			Content:    entry.text,
			Similarity: float64(overlap) / float64(len(fields)),
			Metadata:   entry.metadata,
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// timestamped builds a persisted message with a fixed timestamp.
func timestamped(id string, role models.MessageRole, content string, at time.Time) *models.Message {
	m := models.NewMessage(id, role, content, len(strings.Fields(content)))
	m.Timestamp = at
	return m
}
