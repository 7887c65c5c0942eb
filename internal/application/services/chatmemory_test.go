package services

import (
	"context"
	"testing"

	"github.com/khromalabs/ainara-sub000/internal/domain/models"
)

func newTestChatMemory(t *testing.T, repo *mockMessageRepo) *ChatMemory {
	t.Helper()
	m, err := NewChatMemory(context.Background(), "You are a helpful assistant.", repo, nil, newMockLLM(), &mockIDGenerator{}, 50)
	if err != nil {
		t.Fatalf("failed to build chat memory: %v", err)
	}
	return m
}

func TestChatMemorySystemMessageFirst(t *testing.T) {
	m := newTestChatMemory(t, newMockMessageRepo())
	msgs := m.Messages()
	if len(msgs) != 1 || msgs[0].Role != models.MessageRoleSystem {
		t.Fatalf("expected a single system message, got %v", msgs)
	}
	if msgs[0].Tokens == 0 {
		t.Error("system message tokens not counted")
	}
}

func TestChatMemoryReloadsHistory(t *testing.T) {
	repo := newMockMessageRepo()
	ctx := context.Background()
	repo.Append(ctx, models.NewMessage("m1", models.MessageRoleUser, "hello there", 0))
	repo.Append(ctx, models.NewMessage("m2", models.MessageRoleAssistant, "hi, how can I help", 0))
	repo.Append(ctx, models.NewMessage("m3", models.MessageRoleSystem, "stale system snapshot", 3))

	m := newTestChatMemory(t, repo)
	msgs := m.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected system + 2 reloaded messages, got %d", len(msgs))
	}
	// Persisted system snapshots are not reloaded.
	for _, msg := range msgs[1:] {
		if msg.Role == models.MessageRoleSystem {
			t.Error("persisted system message leaked into the reloaded state")
		}
	}
	// Zero token counts are recomputed on reload.
	if msgs[1].Tokens != 2 {
		t.Errorf("expected recounted tokens 2, got %d", msgs[1].Tokens)
	}
}

func TestChatMemoryAddMessagePersists(t *testing.T) {
	repo := newMockMessageRepo()
	m := newTestChatMemory(t, repo)
	ctx := context.Background()

	if _, err := m.AddMessage(ctx, models.MessageRoleUser, "remember this"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if n, _ := repo.Count(ctx); n != 1 {
		t.Errorf("expected 1 persisted message, got %d", n)
	}
}

func TestChatMemoryIndexesPersistedTurns(t *testing.T) {
	repo := newMockMessageRepo()
	vectors := newMockVectorStore()
	m, err := NewChatMemory(context.Background(), "base", repo, vectors, newMockLLM(), &mockIDGenerator{}, 50)
	if err != nil {
		t.Fatalf("failed to build chat memory: %v", err)
	}
	ctx := context.Background()

	m.AddMessage(ctx, models.MessageRoleUser, "planning the marathon route")
	m.AddMessage(ctx, models.MessageRoleAssistant, "the coastal path is flat")
	m.AddTransient(models.MessageRoleUser, "correction turn")

	if vectors.Count() != 2 {
		t.Fatalf("expected 2 indexed messages, got %d", vectors.Count())
	}
	vectors.mu.Lock()
	for id, entry := range vectors.entries {
		if entry.metadata["role"] == "" {
			t.Errorf("indexed message %s carries no role metadata", id)
		}
	}
	vectors.mu.Unlock()
}

func TestChatMemorySearchHistory(t *testing.T) {
	repo := newMockMessageRepo()
	vectors := newMockVectorStore()
	m, err := NewChatMemory(context.Background(), "base", repo, vectors, newMockLLM(), &mockIDGenerator{}, 50)
	if err != nil {
		t.Fatalf("failed to build chat memory: %v", err)
	}
	ctx := context.Background()

	m.AddMessage(ctx, models.MessageRoleUser, "planning the marathon route")
	m.AddMessage(ctx, models.MessageRoleAssistant, "dinner was pasta")

	found, err := m.SearchHistory(ctx, "marathon route", 5)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(found) != 1 || found[0].Content != "planning the marathon route" {
		t.Fatalf("unexpected search result %v", found)
	}

	// Index entries whose message vanished from the log are skipped.
	vectors.Add(ctx, "msg_gone", "marathon training log", nil)
	found, err = m.SearchHistory(ctx, "marathon", 5)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	for _, msg := range found {
		if msg.ID == "msg_gone" {
			t.Error("orphaned index entry surfaced as a message")
		}
	}
}

func TestChatMemorySearchHistoryWithoutIndex(t *testing.T) {
	m := newTestChatMemory(t, newMockMessageRepo())
	found, err := m.SearchHistory(context.Background(), "anything", 5)
	if err != nil || found != nil {
		t.Errorf("expected nil results without an index, got %v, %v", found, err)
	}
}

func TestChatMemoryAddTransientDoesNotPersist(t *testing.T) {
	repo := newMockMessageRepo()
	m := newTestChatMemory(t, repo)

	m.AddTransient(models.MessageRoleUser, "correction turn")
	if n, _ := repo.Count(context.Background()); n != 0 {
		t.Errorf("transient message reached the persistent log: %d entries", n)
	}
	if len(m.Messages()) != 2 {
		t.Error("transient message missing from in-memory state")
	}
}

func TestChatMemorySetSystemMessageRecounts(t *testing.T) {
	m := newTestChatMemory(t, newMockMessageRepo())
	m.SetSystemMessage("one two three four")
	msgs := m.Messages()
	if msgs[0].Content != "one two three four" {
		t.Errorf("system content not replaced: %q", msgs[0].Content)
	}
	if msgs[0].Tokens != 4 {
		t.Errorf("system tokens not recounted, got %d", msgs[0].Tokens)
	}
}

func TestChatMemoryReplaceRequiresSystemMessage(t *testing.T) {
	m := newTestChatMemory(t, newMockMessageRepo())
	ctx := context.Background()
	m.AddMessage(ctx, models.MessageRoleUser, "a")

	bad := []*models.Message{models.NewMessage("x", models.MessageRoleUser, "orphan", 1)}
	m.Replace(bad)
	if msgs := m.Messages(); msgs[0].Role != models.MessageRoleSystem {
		t.Error("replace without a system message was accepted")
	}
}

func TestChatMemoryRemoveWhereKeepsSystem(t *testing.T) {
	m := newTestChatMemory(t, newMockMessageRepo())
	ctx := context.Background()
	m.AddMessage(ctx, models.MessageRoleUser, "keep me")
	m.AddMessage(ctx, models.MessageRoleAssistant, "drop me")

	removed := m.RemoveWhere(func(msg *models.Message) bool { return true })
	if removed != 2 {
		t.Errorf("expected 2 removals, got %d", removed)
	}
	msgs := m.Messages()
	if len(msgs) != 1 || msgs[0].Role != models.MessageRoleSystem {
		t.Errorf("system message did not survive RemoveWhere: %v", msgs)
	}
}

func TestChatMemoryTotalTokens(t *testing.T) {
	m := newTestChatMemory(t, newMockMessageRepo())
	ctx := context.Background()
	base := m.TotalTokens()
	m.AddMessage(ctx, models.MessageRoleUser, "two words")
	m.AddMessage(ctx, models.MessageRoleAssistant, "three more words")
	if got := m.TotalTokens(); got != base+5 {
		t.Errorf("expected %d tokens, got %d", base+5, got)
	}
}

func TestChatMemoryRecentNonSystem(t *testing.T) {
	m := newTestChatMemory(t, newMockMessageRepo())
	ctx := context.Background()
	m.AddMessage(ctx, models.MessageRoleUser, "first")
	m.AddMessage(ctx, models.MessageRoleAssistant, "second")
	m.AddMessage(ctx, models.MessageRoleUser, "third")

	recent := m.RecentNonSystem(2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(recent))
	}
	if recent[0].Content != "second" || recent[1].Content != "third" {
		t.Errorf("expected chronological tail [second third], got [%s %s]",
			recent[0].Content, recent[1].Content)
	}
}

func TestChatMemoryLLMMessages(t *testing.T) {
	m := newTestChatMemory(t, newMockMessageRepo())
	m.AddMessage(context.Background(), models.MessageRoleUser, "hi")

	wire := m.LLMMessages()
	if len(wire) != 2 {
		t.Fatalf("expected 2 wire messages, got %d", len(wire))
	}
	if wire[0].Role != "system" || wire[1].Role != "user" {
		t.Errorf("unexpected roles %s/%s", wire[0].Role, wire[1].Role)
	}
}
