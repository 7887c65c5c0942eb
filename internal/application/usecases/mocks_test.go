package usecases

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/khromalabs/ainara-sub000/internal/domain"
	"github.com/khromalabs/ainara-sub000/internal/domain/models"
	"github.com/khromalabs/ainara-sub000/internal/ports"
	"github.com/khromalabs/ainara-sub000/internal/protocol"
)

// Shared mock implementations for the conversation manager tests.

type mockIDGenerator struct {
	mu             sync.Mutex
	messageCounter int
	memoryCounter  int
}

func (m *mockIDGenerator) NewMessageID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messageCounter++
	return fmt.Sprintf("msg_test%d", m.messageCounter)
}

func (m *mockIDGenerator) NewMemoryID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memoryCounter++
	return fmt.Sprintf("mem_test%d", m.memoryCounter)
}

// mockLLM pops queued replies for Chat and ChatStream alike and counts
// tokens as whitespace fields. An optional gate blocks ChatStream until the
// test releases it.
type mockLLM struct {
	mu          sync.Mutex
	replies     []string
	window      int
	streamCalls int

	started chan struct{}
	gate    chan struct{}
}

func newMockLLM(replies ...string) *mockLLM {
	return &mockLLM{replies: replies, window: 1 << 20}
}

func (m *mockLLM) Chat(ctx context.Context, messages []ports.LLMMessage, opts *ports.ChatOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) == 0 {
		return "", domain.ErrLLMUnavailable
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return reply, nil
}

func (m *mockLLM) ChatStream(ctx context.Context, messages []ports.LLMMessage, opts *ports.ChatOptions) (<-chan ports.LLMStreamChunk, error) {
	m.mu.Lock()
	m.streamCalls++
	started, gate := m.started, m.gate
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

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

func (m *mockLLM) TokenCount(role, text string) int { return len(strings.Fields(text)) }
func (m *mockLLM) ContextWindow() int               { return m.window }
func (m *mockLLM) SupportsReasoning() bool          { return false }
func (m *mockLLM) ModelID() string                  { return "mock-model" }

type mockMessageRepo struct {
	mu       sync.Mutex
	messages []*models.Message
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
	return append([]*models.Message(nil), r.messages...), nil
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
	return nil, nil
}

func (r *mockMessageRepo) After(ctx context.Context, unixMillis int64, limit int) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Message
	for _, m := range r.messages {
		if m.Timestamp.UnixMilli() > unixMillis {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *mockMessageRepo) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages), nil
}

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
	r.store[memory.ID] = memory
	return nil
}

func (r *mockMemoryRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
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

// mockVectorStore scores by token overlap, enough for retrieval plumbing.
type mockVectorStore struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMockVectorStore() *mockVectorStore {
	return &mockVectorStore{entries: map[string]string{}}
}

func (s *mockVectorStore) Add(ctx context.Context, id, text string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = text
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
	s.entries = map[string]string{}
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
	excluded := map[string]bool{}
	for _, id := range excludeIDs {
		excluded[id] = true
	}
	queryTokens := map[string]bool{}
	for _, tok := range strings.Fields(query) {
		queryTokens[tok] = true
	}
	var matches []ports.VectorMatch
	for id, text := range s.entries {
		if excluded[id] {
			continue
		}
		overlap := 0
		fields := strings.Fields(text)
		for _, tok := range fields {
			if queryTokens[tok] {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		matches = append(matches, ports.VectorMatch{ID: id, Content: text, Similarity: float64(overlap) / float64(len(fields))})
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

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) (*ports.EmbeddingResult, error) {
	return &ports.EmbeddingResult{Embedding: []float32{1, 0}, Dimensions: 2}, nil
}

func (stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*ports.EmbeddingResult, error) {
	out := make([]*ports.EmbeddingResult, len(texts))
	for i := range texts {
		out[i] = &ports.EmbeddingResult{Embedding: []float32{1, 0}, Dimensions: 2}
	}
	return out, nil
}

func (stubEmbedder) GetDimensions() int { return 2 }

type mockSkills struct{}

func (mockSkills) Capabilities(ctx context.Context) ([]*models.SkillDescriptor, error) {
	return nil, nil
}

func (mockSkills) Invoke(ctx context.Context, skillID string, args map[string]any) (any, error) {
	return nil, domain.ErrSkillNotFound
}

type mockTTS struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (t *mockTTS) Synthesize(ctx context.Context, text string) (*ports.TTSResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	t.texts = append(t.texts, text)
	return &ports.TTSResult{Audio: []byte("audio"), Format: "mp3", DurationMs: 500}, nil
}

type mockAudioSink struct {
	mu        sync.Mutex
	published int
}

func (s *mockAudioSink) Publish(audio []byte, format string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published++
	return fmt.Sprintf("/api/v1/audio/clip%d", s.published), nil
}

// eventRecorder collects everything the manager emits.
type eventRecorder struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (r *eventRecorder) emit(ev protocol.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) all() []protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Event(nil), r.events...)
}

// streamedText reassembles the reply from the recorded stream events.
func (r *eventRecorder) streamedText() string {
	var sb strings.Builder
	for _, ev := range r.all() {
		sb.WriteString(ev.StreamText())
	}
	return sb.String()
}

func (r *eventRecorder) has(eventType, eventName string) bool {
	for _, ev := range r.all() {
		if ev.Type == eventType && ev.Event == eventName {
			return true
		}
	}
	return false
}
