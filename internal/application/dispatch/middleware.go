package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/khromalabs/ainara-sub000/internal/application/services"
	"github.com/khromalabs/ainara-sub000/internal/config"
	"github.com/khromalabs/ainara-sub000/internal/domain"
	"github.com/khromalabs/ainara-sub000/internal/domain/models"
	"github.com/khromalabs/ainara-sub000/internal/ports"
	"github.com/khromalabs/ainara-sub000/internal/prompt"
	"github.com/khromalabs/ainara-sub000/internal/protocol"
	"github.com/khromalabs/ainara-sub000/shared/jsonutil"
)

// LoadingSignalPrefix marks the in-band chunk that tells the client a skill
// started running; the skill id follows the separator.
const LoadingSignalPrefix = "_orakle_loading_signal_|"

// Chunk is one output of the middleware: either plain text for the reply
// stream or a structured event.
type Chunk struct {
	Text  string
	Event *protocol.Event
}

// ChatContext supplies optional conversational grounding for skill result
// interpretation.
type ChatContext interface {
	ProfileSummary(ctx context.Context) string
	ConversationSummary(ctx context.Context) string
	RecentMessages(limit int) []*models.Message
}

// Middleware consumes the raw LLM stream, executes embedded commands, and
// yields the merged reply stream.
type Middleware struct {
	matcher *services.Matcher
	skills  ports.SkillRegistry
	llm     ports.LLMService
	prompts *prompt.Registry
	chat    ChatContext
	cfg     config.DispatchConfig
}

func NewMiddleware(matcher *services.Matcher, skills ports.SkillRegistry, llm ports.LLMService, prompts *prompt.Registry, chat ChatContext, cfg config.DispatchConfig) *Middleware {
	return &Middleware{
		matcher: matcher,
		skills:  skills,
		llm:     llm,
		prompts: prompts,
		chat:    chat,
		cfg:     cfg,
	}
}

// BindChatContext attaches the conversational grounding source. The
// Conversation Manager both drives the middleware and serves as its chat
// context, so the binding happens after construction.
func (m *Middleware) BindChatContext(chat ChatContext) {
	m.chat = chat
}

// Process transforms the LLM stream. The returned channel closes when the
// input is exhausted or the context is cancelled.
func (m *Middleware) Process(ctx context.Context, in <-chan ports.LLMStreamChunk) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)

		emit := func(c Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		thinker := newThinkFilter()
		parser := newCommandParser()

		handleParsed := func(results []parseOutput) bool {
			for _, r := range results {
				if r.command != "" {
					if !m.processRequest(ctx, r.command, emit) {
						return false
					}
					continue
				}
				if r.text != "" && !emit(Chunk{Text: r.text}) {
					return false
				}
			}
			return true
		}

		handleThink := func(results []thinkOutput) bool {
			for _, t := range results {
				switch {
				case t.thinkingStart:
					ev := protocol.ThinkingStart()
					if !emit(Chunk{Event: &ev}) {
						return false
					}
				case t.thinkingStop:
					ev := protocol.ThinkingStop()
					if !emit(Chunk{Event: &ev}) {
						return false
					}
				case t.text != "":
					if !handleParsed(parser.feed(t.text)) {
						return false
					}
				}
			}
			return true
		}

		for chunk := range in {
			if chunk.Err != nil {
				ev := protocol.Error(chunk.Err.Error())
				emit(Chunk{Event: &ev})
				return
			}
			if chunk.Content != "" && !handleThink(thinker.feed(chunk.Content)) {
				return
			}
			if chunk.Done {
				break
			}
		}

		if !handleThink(thinker.finish()) {
			return
		}
		handleParsed(parser.finish())
	}()
	return out
}

// skillSelection is the JSON protocol of the selection LLM call.
type skillSelection struct {
	SkillID           string         `json:"skill_id"`
	Parameters        map[string]any `json:"parameters"`
	SkillIntention    string         `json:"skill_intention"`
	FrustrationLevel  float64        `json:"frustration_level"`
	FrustrationReason string         `json:"frustration_reason"`
}

// processRequest runs the full command pipeline for one captured query.
// Returns false only when the consumer went away.
func (m *Middleware) processRequest(ctx context.Context, query string, emit func(Chunk) bool) bool {
	matches, err := m.matcher.Match(ctx, query, m.cfg.MatchThreshold, m.cfg.MatchTopK)
	if err != nil {
		message := fmt.Sprintf("no skill can handle this request: %s", query)
		if !errors.Is(err, domain.ErrNoMatchingSkill) {
			message = fmt.Sprintf("skill matching failed: %v", err)
		}
		ev := protocol.Error(message)
		return emit(Chunk{Event: &ev})
	}

	selection, err := m.selectSkill(ctx, query, matches)
	if err != nil {
		ev := protocol.Error(fmt.Sprintf("skill selection failed: %v", err))
		return emit(Chunk{Event: &ev})
	}
	if selection.FrustrationLevel > 0 {
		log.Printf("warning: user frustration %.0f reported: %s", selection.FrustrationLevel, selection.FrustrationReason)
	}

	if intention := strings.TrimSpace(selection.SkillIntention); intention != "" {
		if !emit(Chunk{Text: intention + "\n"}) {
			return false
		}
	}
	if !emit(Chunk{Text: LoadingSignalPrefix + selection.SkillID + "\n"}) {
		return false
	}

	result, err := m.skills.Invoke(ctx, selection.SkillID, selection.Parameters)
	resultText := formatSkillResult(result, err)

	skill := findSkill(matches, selection.SkillID)
	if err == nil && skill != nil && skill.IsUI() {
		ev := protocol.RenderNexus(nexusComponentPath(skill), result, query)
		return emit(Chunk{Event: &ev})
	}

	return m.interpretResult(ctx, query, resultText, emit)
}

func (m *Middleware) selectSkill(ctx context.Context, query string, matches []services.MatchResult) (*skillSelection, error) {
	promptText, err := m.prompts.Render(prompt.SkillSelection, map[string]any{
		"Query":  query,
		"Skills": formatSkills(matches),
	})
	if err != nil {
		return nil, err
	}

	reply, err := m.llm.Chat(ctx, []ports.LLMMessage{{Role: "user", Content: promptText}}, nil)
	if err != nil {
		return nil, err
	}

	raw := jsonutil.ExtractRaw(reply)
	if raw == "" {
		return nil, domain.NewDomainError(domain.ErrLLMFormat, "no JSON object in selection reply")
	}
	var selection skillSelection
	if err := json.Unmarshal([]byte(raw), &selection); err != nil {
		return nil, domain.NewDomainError(domain.ErrLLMFormat, err.Error())
	}
	if findSkill(matches, selection.SkillID) == nil {
		return nil, domain.NewDomainError(domain.ErrSkillNotFound, "selected skill "+selection.SkillID+" is not a candidate")
	}
	return &selection, nil
}

// interpretResult streams a conversational rendering of the raw skill
// result, stripping any further think blocks.
func (m *Middleware) interpretResult(ctx context.Context, query, resultText string, emit func(Chunk) bool) bool {
	data := map[string]any{
		"Query":  query,
		"Result": resultText,
	}
	if m.chat != nil {
		data["Profile"] = m.chat.ProfileSummary(ctx)
		data["Summary"] = m.chat.ConversationSummary(ctx)
		data["Context"] = formatChatContext(m.chat.RecentMessages(m.cfg.ChatContextMessages))
	}

	promptText, err := m.prompts.Render(prompt.CommandInterpretation, data)
	if err != nil {
		ev := protocol.Error(fmt.Sprintf("failed to render interpretation prompt: %v", err))
		return emit(Chunk{Event: &ev})
	}

	stream, err := m.llm.ChatStream(ctx, []ports.LLMMessage{{Role: "user", Content: promptText}}, nil)
	if err != nil {
		ev := protocol.Error(fmt.Sprintf("skill interpretation failed: %v", err))
		return emit(Chunk{Event: &ev})
	}

	thinker := newThinkFilter()
	flush := func(results []thinkOutput) bool {
		for _, t := range results {
			if t.text != "" && !emit(Chunk{Text: t.text}) {
				return false
			}
		}
		return true
	}
	for chunk := range stream {
		if chunk.Err != nil {
			ev := protocol.Error(chunk.Err.Error())
			return emit(Chunk{Event: &ev})
		}
		if chunk.Content != "" && !flush(thinker.feed(chunk.Content)) {
			return false
		}
		if chunk.Done {
			break
		}
	}
	return flush(thinker.finish())
}

func formatSkills(matches []services.MatchResult) string {
	var sb strings.Builder
	for _, match := range matches {
		fmt.Fprintf(&sb, "- %s: %s\n", match.Skill.Name, strings.TrimSpace(match.Skill.Description))
		for _, p := range match.Skill.Parameters {
			required := "optional"
			if p.Required {
				required = "required"
			}
			fmt.Fprintf(&sb, "    %s (%s, %s): %s", p.Name, p.Type, required, p.Description)
			if p.Default != nil {
				fmt.Fprintf(&sb, " [default: %v]", p.Default)
			}
			sb.WriteString("\n")
		}
	}
	return strings.TrimSpace(sb.String())
}

func formatSkillResult(result any, err error) string {
	if err != nil {
		return err.Error()
	}
	switch v := result.(type) {
	case string:
		return v
	case nil:
		return "(no result)"
	default:
		return jsonutil.MustJSON(v)
	}
}

func formatChatContext(messages []*models.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, msg.Content)
	}
	return strings.TrimSpace(sb.String())
}

func findSkill(matches []services.MatchResult, skillID string) *models.SkillDescriptor {
	for _, match := range matches {
		if match.Skill.Name == skillID {
			return match.Skill
		}
	}
	return nil
}

func nexusComponentPath(skill *models.SkillDescriptor) string {
	if skill.UI == nil {
		return skill.Name
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{skill.UI.Vendor, skill.UI.Bundle, skill.UI.Component} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}
