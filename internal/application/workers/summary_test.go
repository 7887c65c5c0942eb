package workers

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/khromalabs/ainara-sub000/internal/application/services"
	"github.com/khromalabs/ainara-sub000/internal/config"
	"github.com/khromalabs/ainara-sub000/internal/domain"
	"github.com/khromalabs/ainara-sub000/internal/domain/models"
	"github.com/khromalabs/ainara-sub000/internal/ports"
	"github.com/khromalabs/ainara-sub000/internal/prompt"
)

// Mock implementations for the workers tests.

type mockLLM struct {
	mu      sync.Mutex
	replies []string
	window  int
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

func newSummaryWorkerFixture(t *testing.T, window int, replies ...string) (*SummaryWorker, *mockLLM, *mockMetaRepo) {
	t.Helper()
	prompts, err := prompt.NewRegistry()
	if err != nil {
		t.Fatalf("failed to build prompt registry: %v", err)
	}
	text, err := services.NewTextProcessor()
	if err != nil {
		t.Fatalf("failed to build text processor: %v", err)
	}
	llm := &mockLLM{replies: replies, window: window}
	meta := newMockMetaRepo()
	return NewSummaryWorker(llm, prompts, text, meta), llm, meta
}

func turnMessages(contents ...string) []*models.Message {
	out := make([]*models.Message, 0, len(contents))
	role := models.MessageRoleUser
	for i, c := range contents {
		out = append(out, models.NewMessage("m"+string(rune('a'+i)), role, c, len(strings.Fields(c))))
		if role == models.MessageRoleUser {
			role = models.MessageRoleAssistant
		} else {
			role = models.MessageRoleUser
		}
	}
	return out
}

func TestSummaryWorkerProducesPendingSummary(t *testing.T) {
	w, _, _ := newSummaryWorkerFixture(t, 8192, "The user planned a trip to Bergen.")
	w.Start(context.Background())

	w.Submit(turnMessages("I want to visit Bergen", "Bergen is lovely in the summer"))
	w.Stop()

	summary, ok := w.TakePending()
	if !ok {
		t.Fatal("no pending summary after the worker drained")
	}
	if summary != "The user planned a trip to Bergen." {
		t.Errorf("unexpected summary %q", summary)
	}
	if _, ok := w.TakePending(); ok {
		t.Error("pending slot not cleared by TakePending")
	}
}

func TestSummaryWorkerRequeuesOnFailure(t *testing.T) {
	w, _, _ := newSummaryWorkerFixture(t, 8192) // no replies: every call fails
	w.Start(context.Background())

	batch := turnMessages("first trimmed message", "second trimmed message")
	w.Submit(batch)
	w.Stop()

	if _, ok := w.TakePending(); ok {
		t.Error("failed run produced a pending summary")
	}
	w.mu.Lock()
	requeued := len(w.backlog)
	w.mu.Unlock()
	if requeued != len(batch) {
		t.Errorf("expected %d requeued messages, got %d", len(batch), requeued)
	}
}

func TestSummaryWorkerEmptySubmitIsNoop(t *testing.T) {
	w, llm, _ := newSummaryWorkerFixture(t, 8192, "unused")
	w.Start(context.Background())
	w.Submit(nil)
	w.Stop()

	if _, ok := w.TakePending(); ok {
		t.Error("empty submission produced a summary")
	}
	llm.mu.Lock()
	defer llm.mu.Unlock()
	if len(llm.replies) != 1 {
		t.Error("LLM called for an empty backlog")
	}
}

func TestSummaryWorkerIncludesCurrentSummary(t *testing.T) {
	w, _, meta := newSummaryWorkerFixture(t, 8192, "Updated summary.")
	meta.Set(context.Background(), ports.MetaCurrentSummary, "Earlier the user talked about hiking.")
	w.Start(context.Background())

	w.Submit(turnMessages("let us plan the next hike", "sounds good"))
	w.Stop()

	if _, ok := w.TakePending(); !ok {
		t.Fatal("no pending summary")
	}
}

func TestCapToBudgetTruncatesAtSentenceBoundary(t *testing.T) {
	w, _, _ := newSummaryWorkerFixture(t, 100)
	// Budget is 5 tokens; the full summary is 6.
	got := w.capToBudget("One two three. Four five six.", 5)
	if got != "One two three." {
		t.Errorf("expected truncation at the sentence boundary, got %q", got)
	}
}

func TestCapToBudgetKeepsFittingSummary(t *testing.T) {
	w, _, _ := newSummaryWorkerFixture(t, 100)
	summary := "Short enough."
	if got := w.capToBudget(summary, 5); got != summary {
		t.Errorf("fitting summary altered: %q", got)
	}
}

func TestCapToBudgetNeverReturnsEmpty(t *testing.T) {
	w, _, _ := newSummaryWorkerFixture(t, 100)
	// Even the first sentence exceeds the budget; the summary survives whole
	// rather than vanishing.
	summary := "One two three four five six seven."
	if got := w.capToBudget(summary, 2); got != summary {
		t.Errorf("oversized first sentence should keep the summary, got %q", got)
	}
}

func TestDecayWorkerRunsOnSubmit(t *testing.T) {
	listed := make(chan struct{}, 1)
	repo := &decaySpyRepo{listed: listed}
	prompts, err := prompt.NewRegistry()
	if err != nil {
		t.Fatalf("failed to build prompt registry: %v", err)
	}
	text, err := services.NewTextProcessor()
	if err != nil {
		t.Fatalf("failed to build text processor: %v", err)
	}
	engine := services.NewMemoryEngine(repo, newMockMetaRepo(), nil, &mockLLM{window: 8192}, prompts, text, nil, config.DefaultConfig().Memory)

	w := NewDecayWorker(engine)
	w.Start(context.Background())
	w.Submit()

	select {
	case <-listed:
	case <-time.After(2 * time.Second):
		t.Fatal("decay run never reached the memory store")
	}
	w.Stop()
}

// decaySpyRepo is an empty memory store that signals when decay lists it.
type decaySpyRepo struct {
	listed chan struct{}
}

func (r *decaySpyRepo) Create(ctx context.Context, m *models.Memory) error  { return nil }
func (r *decaySpyRepo) GetByID(ctx context.Context, id string) (*models.Memory, error) {
	return nil, domain.ErrMemoryNotFound
}
func (r *decaySpyRepo) Update(ctx context.Context, m *models.Memory) error { return nil }
func (r *decaySpyRepo) Delete(ctx context.Context, id string) error        { return nil }
func (r *decaySpyRepo) List(ctx context.Context) ([]*models.Memory, error) {
	select {
	case r.listed <- struct{}{}:
	default:
	}
	return nil, nil
}
func (r *decaySpyRepo) ListByStatus(ctx context.Context, s models.MemoryStatus) ([]*models.Memory, error) {
	return nil, nil
}
func (r *decaySpyRepo) TopKeyByRelevance(ctx context.Context, limit int) ([]*models.Memory, error) {
	return nil, nil
}
func (r *decaySpyRepo) RecentCurrent(ctx context.Context, limit int) ([]*models.Memory, error) {
	return nil, nil
}
func (r *decaySpyRepo) Count(ctx context.Context) (int, error) { return 0, nil }
