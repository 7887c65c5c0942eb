// Package usecases wires the engine's services into the per-turn workflow.
package usecases

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/khromalabs/ainara-sub000/internal/application/dispatch"
	"github.com/khromalabs/ainara-sub000/internal/application/services"
	"github.com/khromalabs/ainara-sub000/internal/application/workers"
	"github.com/khromalabs/ainara-sub000/internal/config"
	"github.com/khromalabs/ainara-sub000/internal/domain"
	"github.com/khromalabs/ainara-sub000/internal/domain/models"
	"github.com/khromalabs/ainara-sub000/internal/ports"
	"github.com/khromalabs/ainara-sub000/internal/prompt"
	"github.com/khromalabs/ainara-sub000/internal/protocol"
	"github.com/khromalabs/ainara-sub000/shared/jsonutil"
)

// GuardrailMarker flags a reply the model self-censored; marked turns are
// retried with the guardrail text as a corrective user message and stripped
// from the conversation afterwards.
const GuardrailMarker = "[AINARA GUARDRAIL]"

// EmitFunc delivers one event to the client. A non-nil error means the
// client went away and the turn should stop emitting.
type EmitFunc func(protocol.Event) error

// ConversationManager owns the turn: it builds the system prompt, trims
// context, drives the LLM through the dispatch middleware, fans events out,
// and schedules background work. Exactly one turn may be in flight.
type ConversationManager struct {
	chat       *services.ChatMemory
	memory     *services.MemoryEngine
	middleware *dispatch.Middleware
	llm        ports.LLMService
	prompts    *prompt.Registry
	text       *services.TextProcessor
	tts        ports.TTSService
	audio      ports.AudioSink
	summaries  *workers.SummaryWorker
	decay      *workers.DecayWorker
	meta       ports.MetadataRepository
	cfg        *config.Config

	mu       sync.Mutex
	inFlight bool

	narrativeMu    sync.RWMutex
	profileSummary string
	recentSummary  string
	currentSummary string
}

type ManagerDeps struct {
	Chat       *services.ChatMemory
	Memory     *services.MemoryEngine
	Middleware *dispatch.Middleware
	LLM        ports.LLMService
	Prompts    *prompt.Registry
	Text       *services.TextProcessor
	TTS        ports.TTSService
	Audio      ports.AudioSink
	Summaries  *workers.SummaryWorker
	Decay      *workers.DecayWorker
	Meta       ports.MetadataRepository
	Config     *config.Config
}

func NewConversationManager(deps ManagerDeps) *ConversationManager {
	return &ConversationManager{
		chat:       deps.Chat,
		memory:     deps.Memory,
		middleware: deps.Middleware,
		llm:        deps.LLM,
		prompts:    deps.Prompts,
		text:       deps.Text,
		tts:        deps.TTS,
		audio:      deps.Audio,
		summaries:  deps.Summaries,
		decay:      deps.Decay,
		meta:       deps.Meta,
		cfg:        deps.Config,
	}
}

// ChatContext implementation for the dispatch middleware.

func (cm *ConversationManager) ProfileSummary(ctx context.Context) string {
	cm.narrativeMu.RLock()
	defer cm.narrativeMu.RUnlock()
	return cm.profileSummary
}

func (cm *ConversationManager) ConversationSummary(ctx context.Context) string {
	cm.narrativeMu.RLock()
	defer cm.narrativeMu.RUnlock()
	return cm.currentSummary
}

func (cm *ConversationManager) RecentMessages(limit int) []*models.Message {
	return cm.chat.RecentNonSystem(limit)
}

// RefreshNarratives regenerates the cached profile and recency summaries.
// Called at startup and after each assimilation pass.
func (cm *ConversationManager) RefreshNarratives(ctx context.Context) {
	if !cm.memory.Enabled(ctx) {
		return
	}
	if profile, err := cm.memory.GenerateUserProfileSummary(ctx); err == nil {
		cm.narrativeMu.Lock()
		cm.profileSummary = profile
		cm.narrativeMu.Unlock()
	} else {
		log.Printf("warning: profile summary generation failed: %v", err)
	}
	if recent, err := cm.memory.GenerateRecentMemoriesSummary(ctx); err == nil {
		cm.narrativeMu.Lock()
		cm.recentSummary = recent
		cm.narrativeMu.Unlock()
	} else {
		log.Printf("warning: recent-memories summary generation failed: %v", err)
	}
}

// ProcessTurn runs one full user turn, emitting events as they are ready.
func (cm *ConversationManager) ProcessTurn(ctx context.Context, input string, emit EmitFunc) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return domain.ErrEmptyContent
	}

	cm.mu.Lock()
	if cm.inFlight {
		cm.mu.Unlock()
		return domain.ErrTurnInFlight
	}
	cm.inFlight = true
	cm.mu.Unlock()
	defer func() {
		cm.mu.Lock()
		cm.inFlight = false
		cm.mu.Unlock()
	}()

	if handled, err := cm.handleCommand(ctx, input, emit); handled {
		if err == nil {
			err = emit(protocol.Completed())
		}
		return err
	}

	cm.adoptPendingSummary(ctx)

	reasoning := cm.text.ReasoningLevel(input, cm.cfg.Memory.MaxReasoningLevel)

	var relevant []services.RetrievedMemory
	if len(strings.Fields(input)) > 3 {
		var err error
		relevant, err = cm.memory.GetRelevantMemories(ctx, input, nil)
		if err != nil {
			log.Printf("warning: memory retrieval failed: %v", err)
		}
	}

	if err := cm.composeSystemMessage(relevant); err != nil {
		return err
	}
	if _, err := cm.chat.AddMessage(ctx, models.MessageRoleUser, input); err != nil {
		log.Printf("warning: %v", err)
	}

	trimmedAway := cm.trimContext()

	if err := emit(protocol.LoadingStart(reasoning)); err != nil {
		return err
	}

	chunks, err := cm.streamWithGuardrails(ctx, reasoning, emit)
	if err != nil {
		emit(protocol.Error(err.Error()))
		emit(protocol.Completed())
		return err
	}

	reply, err := cm.emitChunks(ctx, chunks, emit)
	if err != nil {
		return err
	}

	if reply != "" {
		if _, err := cm.chat.AddMessage(ctx, models.MessageRoleAssistant, reply); err != nil {
			log.Printf("warning: %v", err)
		}
	}
	cm.chat.RemoveWhere(func(m *models.Message) bool {
		return strings.Contains(m.Content, GuardrailMarker)
	})

	if err := emit(protocol.LoadingStop()); err != nil {
		return err
	}
	if err := emit(protocol.Completed()); err != nil {
		return err
	}

	cm.summaries.Submit(trimmedAway)
	cm.afterTurn(ctx)
	return nil
}

// streamWithGuardrails drives the LLM through the middleware, buffering the
// output. A guardrail marker anywhere in the text retries the whole turn
// with the guardrail message appended as a corrective user turn.
func (cm *ConversationManager) streamWithGuardrails(ctx context.Context, reasoning float64, emit EmitFunc) ([]dispatch.Chunk, error) {
	maxAttempts := cm.cfg.Dispatch.MaxGuardrailRetries + 1
	opts := &ports.ChatOptions{ReasoningEffort: reasoning}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		stream, err := cm.llm.ChatStream(ctx, cm.chat.LLMMessages(), opts)
		if err != nil {
			return nil, err
		}

		var buffered []dispatch.Chunk
		guardrail := ""
		for chunk := range cm.middleware.Process(ctx, stream) {
			buffered = append(buffered, chunk)
			if chunk.Text != "" && strings.Contains(chunk.Text, GuardrailMarker) {
				guardrail = chunk.Text
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if guardrail == "" {
			return buffered, nil
		}

		log.Printf("warning: guardrail triggered on attempt %d/%d", attempt, maxAttempts)
		if attempt == maxAttempts {
			return nil, domain.NewDomainError(domain.ErrGuardrailExceeded,
				"the reply was blocked after repeated guardrail triggers")
		}
		cm.chat.AddTransient(models.MessageRoleUser, guardrail)
	}
	return nil, domain.ErrGuardrailExceeded
}

// emitChunks fans the committed middleware output to the client: structured
// events pass through, in-band loading signals become signal events, fenced
// document blocks become setView/content events, and outside those blocks
// text is streamed, sentence by sentence when TTS is attached. Returns the
// reconstructed assistant reply.
func (cm *ConversationManager) emitChunks(ctx context.Context, chunks []dispatch.Chunk, emit EmitFunc) (string, error) {
	var reply strings.Builder
	docs := newDocBlockSplitter()
	speaker := newSentenceBuffer(cm.text)
	activeSkill := ""

	stopSkill := func() error {
		if activeSkill == "" {
			return nil
		}
		err := emit(protocol.LoadingSkillStop(activeSkill))
		activeSkill = ""
		return err
	}

	emitText := func(text string) error {
		if cm.tts == nil {
			return emit(protocol.Stream(text, protocol.StreamFlags{}))
		}
		for _, sentence := range speaker.feed(text) {
			if err := cm.speak(ctx, sentence, emit); err != nil {
				return err
			}
		}
		return nil
	}

	for _, chunk := range chunks {
		if chunk.Event != nil {
			if err := stopSkill(); err != nil {
				return "", err
			}
			if err := emit(*chunk.Event); err != nil {
				return "", err
			}
			continue
		}
		if chunk.Text == "" {
			continue
		}

		if skillID, rest, ok := splitLoadingSignal(chunk.Text); ok {
			activeSkill = skillID
			if err := emit(protocol.LoadingSkillStart(skillID)); err != nil {
				return "", err
			}
			chunk.Text = rest
			if chunk.Text == "" {
				continue
			}
		} else if activeSkill != "" {
			if err := stopSkill(); err != nil {
				return "", err
			}
		}

		reply.WriteString(chunk.Text)
		for _, part := range docs.feed(chunk.Text) {
			switch {
			case part.viewFormat != "":
				if err := emit(protocol.SetDocumentView(part.viewFormat)); err != nil {
					return "", err
				}
			case part.document != "":
				if err := emit(protocol.Full(part.document)); err != nil {
					return "", err
				}
			case part.text != "":
				if err := emitText(part.text); err != nil {
					return "", err
				}
			}
		}
	}

	if err := stopSkill(); err != nil {
		return "", err
	}
	for _, part := range docs.finish() {
		switch {
		case part.document != "":
			if err := emit(protocol.Full(part.document)); err != nil {
				return "", err
			}
		case part.text != "":
			if err := emitText(part.text); err != nil {
				return "", err
			}
		}
	}
	if cm.tts != nil {
		if tail := speaker.finish(); tail != "" {
			if err := cm.speak(ctx, tail, emit); err != nil {
				return "", err
			}
		}
	}
	return strings.TrimSpace(reply.String()), nil
}

// speak renders one sentence to audio and emits it with its text. TTS
// failures degrade to plain text.
func (cm *ConversationManager) speak(ctx context.Context, sentence string, emit EmitFunc) error {
	spoken := services.StripTimestampPrefix(sentence)
	if strings.TrimSpace(spoken) == "" {
		return emit(protocol.Stream(sentence, protocol.StreamFlags{}))
	}

	result, err := cm.tts.Synthesize(ctx, spoken)
	if err != nil {
		log.Printf("warning: TTS synthesis failed: %v", err)
		return emit(protocol.Stream(sentence, protocol.StreamFlags{}))
	}
	url := ""
	if cm.audio != nil {
		if url, err = cm.audio.Publish(result.Audio, result.Format); err != nil {
			log.Printf("warning: failed to publish audio: %v", err)
			url = ""
		}
	}
	if url == "" {
		return emit(protocol.Stream(sentence, protocol.StreamFlags{}))
	}

	flags := protocol.StreamFlags{Audio: true}
	if result.DurationMs > 0 {
		seconds := float64(result.DurationMs) / 1000
		flags.Duration = &seconds
	}
	return emit(protocol.StreamWithAudio(sentence, flags, &protocol.StreamAudio{URL: url, Format: result.Format}))
}

// composeSystemMessage rebuilds the system message from the base template
// and whatever narrative material is available.
func (cm *ConversationManager) composeSystemMessage(relevant []services.RetrievedMemory) error {
	cm.narrativeMu.RLock()
	summary := cm.currentSummary
	profile := cm.profileSummary
	recent := cm.recentSummary
	cm.narrativeMu.RUnlock()

	content, err := cm.prompts.Render(prompt.SystemBase, map[string]any{
		"ConversationSummary": summary,
		"UserProfile":         profile,
		"RecentMemories":      recent,
		"RelevantMemories":    services.FormatMemoriesBlock(relevant),
	})
	if err != nil {
		return fmt.Errorf("failed to render system message: %w", err)
	}
	cm.chat.SetSystemMessage(content)
	return nil
}

// trimContext enforces the token budget: the system message and the most
// recent user+assistant pair always stay; older messages are kept newest to
// oldest while they fit, and everything from the first overflow on is handed
// to the summary worker.
func (cm *ConversationManager) trimContext() []*models.Message {
	window := cm.llm.ContextWindow()
	if cm.chat.TotalTokens() <= window {
		return nil
	}

	messages := cm.chat.Messages()
	system := messages[0]
	rest := messages[1:]

	// The just-appended user message plus the previous assistant reply.
	pinnedFrom := len(rest)
	seenUser := false
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i].Role == models.MessageRoleUser && !seenUser {
			seenUser = true
			pinnedFrom = i
			continue
		}
		if rest[i].Role == models.MessageRoleAssistant && seenUser {
			pinnedFrom = i
			break
		}
	}
	pinned := rest[pinnedFrom:]
	older := rest[:pinnedFrom]

	used := system.Tokens
	for _, m := range pinned {
		used += m.Tokens
	}

	var kept []*models.Message
	var overflow []*models.Message
	for i := len(older) - 1; i >= 0; i-- {
		if len(overflow) == 0 && used+older[i].Tokens <= window {
			used += older[i].Tokens
			kept = append(kept, older[i])
			continue
		}
		// First message that does not fit drags all older ones with it.
		overflow = append(overflow, older[i])
	}

	trimmed := []*models.Message{system}
	for i := len(kept) - 1; i >= 0; i-- {
		trimmed = append(trimmed, kept[i])
	}
	trimmed = append(trimmed, pinned...)
	cm.chat.Replace(trimmed)

	// Overflow was collected newest first; the summary reads oldest first.
	for i, j := 0, len(overflow)-1; i < j; i, j = i+1, j-1 {
		overflow[i], overflow[j] = overflow[j], overflow[i]
	}
	return overflow
}

// adoptPendingSummary moves a finished background summary into the live
// conversation state and persists it.
func (cm *ConversationManager) adoptPendingSummary(ctx context.Context) {
	if summary, ok := cm.summaries.TakePending(); ok {
		cm.narrativeMu.Lock()
		cm.currentSummary = summary
		cm.narrativeMu.Unlock()
		if err := cm.meta.Set(ctx, ports.MetaCurrentSummary, summary); err != nil {
			log.Printf("warning: failed to persist conversation summary: %v", err)
		}
		return
	}

	cm.narrativeMu.RLock()
	have := cm.currentSummary != ""
	cm.narrativeMu.RUnlock()
	if have {
		return
	}
	if v, err := cm.meta.Get(ctx, ports.MetaCurrentSummary); err == nil {
		cm.narrativeMu.Lock()
		cm.currentSummary = v
		cm.narrativeMu.Unlock()
	}
}

// afterTurn runs memory assimilation for the finished turn and advances the
// decay counter. Assimilation happens before the next turn can start, so it
// never interleaves with it.
func (cm *ConversationManager) afterTurn(ctx context.Context) {
	if err := cm.memory.ProcessNewMessages(ctx, cm.chat.Repository()); err != nil {
		log.Printf("warning: memory assimilation failed: %v", err)
	} else {
		cm.RefreshNarratives(ctx)
	}

	counter := 0
	if v, err := cm.meta.Get(ctx, ports.MetaDecayTurnCounter); err == nil {
		counter, _ = strconv.Atoi(v)
	} else if !errors.Is(err, domain.ErrNotFound) {
		log.Printf("warning: failed to read decay counter: %v", err)
	}
	counter++
	if counter >= cm.cfg.Memory.DecayIntervalTurns {
		cm.decay.Submit()
		counter = 0
	}
	if err := cm.meta.Set(ctx, ports.MetaDecayTurnCounter, strconv.Itoa(counter)); err != nil {
		log.Printf("warning: failed to persist decay counter: %v", err)
	}
}

// handleCommand intercepts slash commands before the LLM sees the input.
func (cm *ConversationManager) handleCommand(ctx context.Context, input string, emit EmitFunc) (bool, error) {
	if !strings.HasPrefix(input, "/") {
		return false, nil
	}
	command, args, _ := strings.Cut(input, " ")

	switch command {
	case "/memory":
		if err := cm.memory.SetEnabled(ctx, true); err != nil {
			return true, err
		}
		if err := emit(protocol.SetMemoryState(true)); err != nil {
			return true, err
		}
		return true, emit(protocol.Info("long-term memory enabled"))

	case "/nomemory":
		if err := cm.memory.SetEnabled(ctx, false); err != nil {
			return true, err
		}
		if err := emit(protocol.SetMemoryState(false)); err != nil {
			return true, err
		}
		return true, emit(protocol.Info("long-term memory disabled"))

	case "/testdocview":
		format, content, ok := strings.Cut(args, ",")
		if !ok {
			return true, emit(protocol.Error("usage: /testdocview <format>,<content>"))
		}
		if err := emit(protocol.SetDocumentView(strings.TrimSpace(format))); err != nil {
			return true, err
		}
		return true, emit(protocol.Full(content))

	case "/testnexus":
		spec, payload, _ := strings.Cut(args, " ")
		parts := strings.Split(spec, ",")
		if len(parts) != 3 {
			return true, emit(protocol.Error("usage: /testnexus <vendor>,<bundle>,<component> <json>"))
		}
		data := jsonutil.ParseJSON(payload)
		path := strings.Join([]string{parts[0], parts[1], parts[2]}, "/")
		return true, emit(protocol.RenderNexus(path, data, ""))

	default:
		return true, emit(protocol.Error("unknown command " + command))
	}
}

// splitLoadingSignal recognizes the in-band skill-loading chunk and returns
// the skill id plus any trailing text.
func splitLoadingSignal(text string) (skillID, rest string, ok bool) {
	if !strings.HasPrefix(text, dispatch.LoadingSignalPrefix) {
		return "", "", false
	}
	payload := text[len(dispatch.LoadingSignalPrefix):]
	skillID, rest, found := strings.Cut(payload, "\n")
	if !found {
		return strings.TrimSpace(payload), "", true
	}
	return strings.TrimSpace(skillID), rest, true
}
