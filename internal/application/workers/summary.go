// Package workers holds the two background executors that run outside the
// turn: conversation summarization and memory relevance decay. Neither
// mutates conversation state directly.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/khromalabs/ainara-sub000/internal/application/services"
	"github.com/khromalabs/ainara-sub000/internal/domain"
	"github.com/khromalabs/ainara-sub000/internal/domain/models"
	"github.com/khromalabs/ainara-sub000/internal/ports"
	"github.com/khromalabs/ainara-sub000/internal/prompt"
)

// summaryWindowShare caps the summary at this share of the context window.
const summaryWindowShare = 0.05

// SummaryWorker folds trimmed-away messages into the running conversation
// summary on its own goroutine. Results land in a pending slot the
// Conversation Manager reads and clears atomically on the next turn; a
// failed run requeues its messages.
type SummaryWorker struct {
	llm     ports.LLMService
	prompts *prompt.Registry
	text    *services.TextProcessor
	meta    ports.MetadataRepository

	mu      sync.Mutex
	backlog []*models.Message
	pending string
	hasNew  bool

	kick chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup
}

func NewSummaryWorker(llm ports.LLMService, prompts *prompt.Registry, text *services.TextProcessor, meta ports.MetadataRepository) *SummaryWorker {
	return &SummaryWorker{
		llm:     llm,
		prompts: prompts,
		text:    text,
		meta:    meta,
		kick:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (w *SummaryWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-w.quit:
				// Drain what is queued before going down.
				w.runOnce(ctx)
				return
			case <-ctx.Done():
				return
			case <-w.kick:
				w.runOnce(ctx)
			}
		}
	}()
}

// Stop drains the current unit of work and waits for the goroutine.
func (w *SummaryWorker) Stop() {
	close(w.quit)
	w.wg.Wait()
}

// Submit queues messages for summarization. Never blocks the turn.
func (w *SummaryWorker) Submit(messages []*models.Message) {
	if len(messages) == 0 {
		return
	}
	w.mu.Lock()
	w.backlog = append(w.backlog, messages...)
	w.mu.Unlock()

	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// TakePending atomically reads and clears the new-summary slot.
func (w *SummaryWorker) TakePending() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.hasNew {
		return "", false
	}
	w.hasNew = false
	return w.pending, true
}

func (w *SummaryWorker) runOnce(ctx context.Context) {
	w.mu.Lock()
	batch := w.backlog
	w.backlog = nil
	w.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	summary, err := w.summarize(ctx, batch)
	if err != nil {
		log.Printf("warning: summary generation failed, requeueing %d messages: %v", len(batch), err)
		w.mu.Lock()
		w.backlog = append(batch, w.backlog...)
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.pending = summary
	w.hasNew = true
	w.mu.Unlock()
}

func (w *SummaryWorker) summarize(ctx context.Context, batch []*models.Message) (string, error) {
	current := w.currentSummary(ctx)
	budget := int(float64(w.llm.ContextWindow()) * summaryWindowShare)

	promptText, err := w.prompts.Render(prompt.ConversationSummary, map[string]any{
		"CurrentSummary": current,
		"Messages":       formatMessages(batch),
		// Rough words-per-token conversion keeps the model near the budget;
		// the hard cap below enforces it.
		"MaxWords": budget * 3 / 4,
	})
	if err != nil {
		return "", err
	}

	summary, err := w.llm.Chat(ctx, []ports.LLMMessage{{Role: "user", Content: promptText}}, nil)
	if err != nil {
		return "", fmt.Errorf("summary call failed: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", domain.NewDomainError(domain.ErrLLMFormat, "empty summary")
	}
	return w.capToBudget(summary, budget), nil
}

// capToBudget truncates an overlong summary at the last sentence boundary
// that still fits the token budget.
func (w *SummaryWorker) capToBudget(summary string, budget int) string {
	if budget <= 0 || w.llm.TokenCount("assistant", summary) <= budget {
		return summary
	}

	var sb strings.Builder
	for _, sentence := range w.text.Sentences(summary) {
		candidate := sb.String()
		if candidate != "" {
			candidate += " "
		}
		candidate += sentence
		if w.llm.TokenCount("assistant", candidate) > budget {
			break
		}
		sb.Reset()
		sb.WriteString(candidate)
	}
	if sb.Len() == 0 {
		return summary
	}
	return sb.String()
}

func (w *SummaryWorker) currentSummary(ctx context.Context) string {
	w.mu.Lock()
	if w.hasNew {
		pending := w.pending
		w.mu.Unlock()
		return pending
	}
	w.mu.Unlock()

	v, err := w.meta.Get(ctx, ports.MetaCurrentSummary)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Printf("warning: failed to read current summary: %v", err)
		}
		return ""
	}
	return v
}

func formatMessages(messages []*models.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	return strings.TrimSpace(sb.String())
}
