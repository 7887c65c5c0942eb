package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/khromalabs/ainara-sub000/internal/domain"
	"github.com/khromalabs/ainara-sub000/internal/domain/models"
	"github.com/khromalabs/ainara-sub000/internal/ports"
	"github.com/khromalabs/ainara-sub000/internal/prompt"
	"github.com/khromalabs/ainara-sub000/shared/jsonutil"
)

// assimilationAction is the JSON protocol the extraction LLM replies with.
type assimilationAction struct {
	Action        string   `json:"action"`
	MemoryID      string   `json:"memory_id"`
	Text          string   `json:"text"`
	Target        string   `json:"target"`
	Topic         string   `json:"topic"`
	PastMemoryIDs []string `json:"past_memory_ids"`
	Duplicates    []string `json:"duplicates"`
}

// ProcessNewMessages runs the assimilation pass over every (user, assistant)
// turn newer than the processing watermark. The watermark is advanced before
// each turn is processed so a failing turn is skipped on the next pass
// instead of blocking progress forever.
func (e *MemoryEngine) ProcessNewMessages(ctx context.Context, messages ports.MessageRepository) error {
	if !e.Enabled(ctx) {
		return nil
	}

	var since int64
	if v, err := e.meta.Get(ctx, ports.MetaProfileLastProcessed); err == nil {
		since, _ = strconv.ParseInt(v, 10, 64)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	history, err := messages.After(ctx, since, 0)
	if err != nil {
		return fmt.Errorf("failed to load unprocessed messages: %w", err)
	}
	turns := pairTurns(history)
	if len(turns) == 0 {
		return nil
	}

	// Context for the first new turn comes from just before the watermark.
	var window []*models.Message
	if recent, err := messages.Latest(ctx, len(history)+2*e.cfg.ExtractionContextTurns); err == nil {
		for _, m := range recent {
			if m.Timestamp.UnixMilli() <= since {
				window = append(window, m)
			}
		}
	}

	var createdInBatch []*models.Memory
	for _, turn := range turns {
		watermark := turn.assistant.Timestamp.UnixMilli()
		if err := e.meta.Set(ctx, ports.MetaProfileLastProcessed, strconv.FormatInt(watermark, 10)); err != nil {
			return err
		}

		created, err := e.assimilateTurn(ctx, window, turn, createdInBatch)
		if err != nil {
			log.Printf("warning: memory assimilation skipped a turn: %v", err)
		}
		createdInBatch = append(createdInBatch, created...)

		window = append(window, turn.user, turn.assistant)
		if max := 2 * e.cfg.ExtractionContextTurns; len(window) > max {
			window = window[len(window)-max:]
		}
	}
	return nil
}

type conversationTurn struct {
	user      *models.Message
	assistant *models.Message
}

// pairTurns groups a chronological message list into (user, assistant)
// pairs, dropping unpaired leftovers.
func pairTurns(messages []*models.Message) []conversationTurn {
	var turns []conversationTurn
	var pendingUser *models.Message
	for _, m := range messages {
		switch m.Role {
		case models.MessageRoleUser:
			pendingUser = m
		case models.MessageRoleAssistant:
			if pendingUser != nil {
				turns = append(turns, conversationTurn{user: pendingUser, assistant: m})
				pendingUser = nil
			}
		}
	}
	return turns
}

// assimilateTurn issues one extraction LLM call for the turn and applies the
// returned action: past markings first, then the primary action, then
// duplicate consolidation.
func (e *MemoryEngine) assimilateTurn(ctx context.Context, contextMsgs []*models.Message, turn conversationTurn, batch []*models.Memory) ([]*models.Memory, error) {
	candidates, err := e.candidateMemories(ctx, turn.user.Content, batch)
	if err != nil {
		return nil, err
	}

	promptText, err := e.prompts.Render(prompt.MemoryAssimilation, map[string]any{
		"Conversation": formatConversation(contextMsgs, turn),
		"Candidates":   formatCandidates(candidates),
	})
	if err != nil {
		return nil, err
	}

	reply, err := e.llm.Chat(ctx, []ports.LLMMessage{{Role: "user", Content: promptText}}, nil)
	if err != nil {
		return nil, fmt.Errorf("extraction call failed: %w", err)
	}

	raw := jsonutil.ExtractRaw(reply)
	if raw == "" {
		return nil, domain.NewDomainError(domain.ErrLLMFormat, "no JSON object in extraction reply")
	}
	var action assimilationAction
	if err := json.Unmarshal([]byte(raw), &action); err != nil {
		return nil, domain.NewDomainError(domain.ErrLLMFormat, err.Error())
	}

	return e.applyAction(ctx, &action, turn)
}

func (e *MemoryEngine) applyAction(ctx context.Context, action *assimilationAction, turn conversationTurn) ([]*models.Memory, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range action.PastMemoryIDs {
		if err := e.markPast(ctx, id); err != nil {
			log.Printf("warning: failed to mark memory %s past: %v", id, err)
		}
	}

	var created []*models.Memory
	var kept *models.Memory
	switch strings.ToLower(strings.TrimSpace(action.Action)) {
	case "", "ignore":
	case "reinforce":
		m, err := e.reinforce(ctx, action.MemoryID, action.Text)
		if err != nil {
			return nil, err
		}
		kept = m
	case "create":
		m, err := e.create(ctx, action, turn)
		if err != nil {
			return nil, err
		}
		created = append(created, m)
		kept = m
	default:
		return nil, domain.NewDomainError(domain.ErrLLMFormat, "unknown assimilation action "+action.Action)
	}

	if len(action.Duplicates) > 0 {
		if kept == nil && action.MemoryID != "" {
			kept, _ = e.memories.GetByID(ctx, action.MemoryID)
		}
		e.consolidateDuplicates(ctx, kept, action.Duplicates)
	}
	return created, nil
}

func (e *MemoryEngine) markPast(ctx context.Context, id string) error {
	m, err := e.memories.GetByID(ctx, id)
	if err != nil {
		return err
	}
	m.MarkPast()
	if err := e.memories.Update(ctx, m); err != nil {
		return err
	}
	return e.reindexMemory(ctx, m)
}

func (e *MemoryEngine) reinforce(ctx context.Context, id, newText string) (*models.Memory, error) {
	m, err := e.memories.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("cannot reinforce memory %s: %w", id, err)
	}
	m.Reinforce(e.cfg.ReinforceIncrement)
	textChanged := false
	if newText = strings.TrimSpace(newText); newText != "" && newText != m.Text {
		m.Text = newText
		textChanged = true
	}
	if err := e.memories.Update(ctx, m); err != nil {
		return nil, err
	}
	if textChanged {
		if err := e.reindexMemory(ctx, m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (e *MemoryEngine) create(ctx context.Context, action *assimilationAction, turn conversationTurn) (*models.Memory, error) {
	text := strings.TrimSpace(action.Text)
	if text == "" {
		return nil, domain.NewDomainError(domain.ErrLLMFormat, "create action without text")
	}
	memType := models.MemoryTypeExtended
	if action.Target == string(models.MemoryTypeKey) {
		memType = models.MemoryTypeKey
	}

	m := models.NewMemory(e.ids.NewMemoryID(), memType, strings.TrimSpace(action.Topic), text)
	m.SourceMessageIDs = []string{turn.user.ID, turn.assistant.ID}
	if err := e.memories.Create(ctx, m); err != nil {
		return nil, err
	}
	if err := e.indexMemory(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// consolidateDuplicates folds duplicate memories' relevance into the kept
// one, then deletes them from both stores.
func (e *MemoryEngine) consolidateDuplicates(ctx context.Context, kept *models.Memory, duplicateIDs []string) {
	for _, id := range duplicateIDs {
		if kept != nil && id == kept.ID {
			continue
		}
		dup, err := e.memories.GetByID(ctx, id)
		if err != nil {
			log.Printf("warning: duplicate memory %s not found: %v", id, err)
			continue
		}
		if kept != nil {
			kept.AbsorbRelevance(dup)
		}
		if err := e.memories.Delete(ctx, id); err != nil {
			log.Printf("warning: failed to delete duplicate memory %s: %v", id, err)
			continue
		}
		if err := e.vectors.Delete(ctx, id); err != nil {
			log.Printf("warning: failed to unindex duplicate memory %s: %v", id, err)
		}
	}
	if kept != nil {
		if err := e.memories.Update(ctx, kept); err != nil {
			log.Printf("warning: failed to persist consolidated memory %s: %v", kept.ID, err)
		}
	}
}

// candidateMemories merges the semantic neighborhood of the user utterance
// with memories created earlier in the same batch, so one pass never creates
// the same fact twice.
func (e *MemoryEngine) candidateMemories(ctx context.Context, userText string, batch []*models.Memory) ([]*models.Memory, error) {
	topK := assimilationTopK(e.llm.ContextWindow())

	e.mu.RLock()
	matches, err := e.vectors.Search(ctx, e.text.Normalize(userText), topK, nil, nil)
	e.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("candidate search failed: %w", err)
	}

	seen := map[string]bool{}
	candidates := make([]*models.Memory, 0, len(matches)+len(batch))
	for _, b := range batch {
		seen[b.ID] = true
		candidates = append(candidates, b)
	}
	for _, match := range matches {
		if seen[match.ID] {
			continue
		}
		m, err := e.memories.GetByID(ctx, match.ID)
		if err != nil {
			log.Printf("warning: indexed memory %s missing from store: %v", match.ID, err)
			continue
		}
		seen[m.ID] = true
		candidates = append(candidates, m)
	}
	return candidates, nil
}

func formatConversation(contextMsgs []*models.Message, turn conversationTurn) string {
	var sb strings.Builder
	for _, m := range contextMsgs {
		writeTurnLine(&sb, m)
	}
	writeTurnLine(&sb, turn.user)
	writeTurnLine(&sb, turn.assistant)
	return strings.TrimSpace(sb.String())
}

func writeTurnLine(sb *strings.Builder, m *models.Message) {
	fmt.Fprintf(sb, "[%s] %s: %s\n", m.Timestamp.UTC().Format(time.RFC3339), m.Role, m.Content)
}

func formatCandidates(candidates []*models.Memory) string {
	if len(candidates) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for _, m := range candidates {
		fmt.Fprintf(&sb, "- id=%s type=%s topic=%q relevance=%.1f status=%s: %s\n",
			m.ID, m.Type, m.Topic, m.Relevance, m.Status, m.Text)
	}
	return strings.TrimSpace(sb.String())
}
