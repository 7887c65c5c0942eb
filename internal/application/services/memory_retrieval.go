package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/khromalabs/ainara-sub000/internal/domain/models"
	"github.com/khromalabs/ainara-sub000/internal/prompt"
	"github.com/khromalabs/ainara-sub000/internal/ports"
)

// pastMemoryCaution prefixes retrieved memories that are marked superseded.
const pastMemoryCaution = "(possibly outdated) "

// RetrievedMemory is one scored retrieval hit. Display carries the text to
// inject into the prompt, caution-prefixed for past memories.
type RetrievedMemory struct {
	Memory  *models.Memory
	Score   float64
	Display string
}

// GetRelevantMemories scores the semantic neighborhood of the query against
// stored relevance and recency. Queries without a single content word skip
// retrieval entirely.
func (e *MemoryEngine) GetRelevantMemories(ctx context.Context, query string, excludeIDs []string) ([]RetrievedMemory, error) {
	if !e.Enabled(ctx) || !e.text.HasContentWords(query) {
		return nil, nil
	}

	topK := retrievalTopK(e.llm.ContextWindow())

	e.mu.RLock()
	// Over-fetch: relevance and recency weighting reorders the neighborhood.
	matches, err := e.vectors.Search(ctx, e.text.Normalize(query), 3*topK, nil, excludeIDs)
	e.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("memory search failed: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	queryTokens := tokenSet(e.text.Normalize(query))
	now := time.Now().UTC()

	scored := make([]RetrievedMemory, 0, len(matches))
	for _, match := range matches {
		m, err := e.memories.GetByID(ctx, match.ID)
		if err != nil {
			log.Printf("warning: indexed memory %s missing from store: %v", match.ID, err)
			continue
		}

		semantic := match.Similarity
		relevance := m.Relevance
		if m.IsKey() || topicMatchesQuery(e.text.Normalize(m.Topic), queryTokens) {
			relevance *= e.cfg.KeyMemoryBoost
		}
		if relevance > models.MaxRelevance {
			relevance = models.MaxRelevance
		}

		w := e.cfg.RelevanceWeight
		base := semantic*(1-w) + (relevance/models.MaxRelevance)*w

		hours := now.Sub(m.LastUpdated).Hours()
		if hours < 0 {
			hours = 0
		}
		recency := 1 + (e.cfg.MaxRecencyBoost-1)*math.Exp(-e.cfg.RecencyDecayRate*hours)

		score := base * recency
		display := m.Text
		if m.Status == models.MemoryStatusPast {
			score *= e.cfg.PastMemoryPenalty
			display = pastMemoryCaution + display
		}

		scored = append(scored, RetrievedMemory{Memory: m, Score: score, Display: display})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// FormatMemoriesBlock renders retrieved memories for the system prompt.
func FormatMemoriesBlock(memories []RetrievedMemory) string {
	if len(memories) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, rm := range memories {
		sb.WriteString("- ")
		if rm.Memory.Topic != "" {
			sb.WriteString(rm.Memory.Topic)
			sb.WriteString(": ")
		}
		sb.WriteString(rm.Display)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

// GenerateUserProfileSummary narrates the highest-relevance key memories
// into a profile paragraph.
func (e *MemoryEngine) GenerateUserProfileSummary(ctx context.Context) (string, error) {
	limit := profileTopK(e.llm.ContextWindow())
	memories, err := e.memories.TopKeyByRelevance(ctx, limit)
	if err != nil {
		return "", fmt.Errorf("failed to load key memories: %w", err)
	}
	if len(memories) == 0 {
		return "", nil
	}

	promptText, err := e.prompts.Render(prompt.ProfileSummary, map[string]any{
		"Memories": formatMemoryFacts(memories),
	})
	if err != nil {
		return "", err
	}
	return e.llm.Chat(ctx, []ports.LLMMessage{{Role: "user", Content: promptText}}, nil)
}

// GenerateRecentMemoriesSummary narrates the most recently updated current
// memories.
func (e *MemoryEngine) GenerateRecentMemoriesSummary(ctx context.Context) (string, error) {
	limit := retrievalTopK(e.llm.ContextWindow())
	memories, err := e.memories.RecentCurrent(ctx, limit)
	if err != nil {
		return "", fmt.Errorf("failed to load recent memories: %w", err)
	}
	if len(memories) == 0 {
		return "", nil
	}

	promptText, err := e.prompts.Render(prompt.RecentMemoriesSummary, map[string]any{
		"Memories": formatMemoryFacts(memories),
	})
	if err != nil {
		return "", err
	}
	return e.llm.Chat(ctx, []ports.LLMMessage{{Role: "user", Content: promptText}}, nil)
}

func formatMemoryFacts(memories []*models.Memory) string {
	var sb strings.Builder
	for _, m := range memories {
		fmt.Fprintf(&sb, "- [%.1f] %s", m.Relevance, m.Text)
		if m.Topic != "" {
			fmt.Fprintf(&sb, " (topic: %s)", m.Topic)
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

func tokenSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, tok := range strings.Fields(text) {
		set[tok] = true
	}
	return set
}

// topicMatchesQuery treats a topic as relevant when any of its normalized
// words appears in the query.
func topicMatchesQuery(normalizedTopic string, queryTokens map[string]bool) bool {
	for _, tok := range strings.Fields(normalizedTopic) {
		if queryTokens[tok] {
			return true
		}
	}
	return false
}
