// Package protocol defines the structured event stream the engine emits to
// clients. Events are tagged values; JSON serialization happens only at the
// transport boundary, as newline-terminated objects (NDJSON).
package protocol

import (
	"encoding/json"
	"io"
)

// Event type discriminators.
const (
	TypeSignal  = "signal"
	TypeMessage = "message"
	TypeUI      = "ui"
	TypeContent = "content"
)

// Event names per type.
const (
	EventLoading     = "loading"
	EventThinking    = "thinking"
	EventError       = "error"
	EventInfoMessage = "infoMessage"
	EventCompleted   = "completed"

	EventStream = "stream"

	EventSetView        = "setView"
	EventSetMemoryState = "setMemoryState"
	EventRenderNexus    = "renderNexus"

	EventFull = "full"
)

// Event is one entry of the NDJSON stream.
type Event struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Content any    `json:"content,omitempty"`
}

// LoadingContent signals the begin/end of a logical phase.
type LoadingContent struct {
	State     string   `json:"state"` // "start" or "stop"
	Reasoning *float64 `json:"reasoning,omitempty"`
	Kind      string   `json:"type,omitempty"` // "skill" while a skill runs
	SkillID   string   `json:"skill_id,omitempty"`
}

// ThinkingContent signals the model's internal-thought block boundaries.
type ThinkingContent struct {
	State string `json:"state"` // "start" or "stop"
}

// MessageContent carries a user-visible message (errors, info).
type MessageContent struct {
	Message string `json:"message"`
}

// StreamFlags qualifies a streamed reply chunk.
type StreamFlags struct {
	Command  bool     `json:"command"`
	Audio    bool     `json:"audio"`
	Duration *float64 `json:"duration,omitempty"`
	Skill    bool     `json:"skill,omitempty"`
}

// StreamAudio points at a rendered audio artifact for a chunk.
type StreamAudio struct {
	URL    string `json:"url"`
	Format string `json:"format"`
}

// StreamContent is one chunk of the assistant reply.
type StreamContent struct {
	Content string       `json:"content"`
	Flags   StreamFlags  `json:"flags"`
	Audio   *StreamAudio `json:"audio,omitempty"`
}

// SetViewContent switches the client into a dedicated view; subsequent
// content events belong to that view.
type SetViewContent struct {
	View   string `json:"view"`
	Format string `json:"format"`
}

// MemoryStateContent notifies the client of a memory toggle.
type MemoryStateContent struct {
	Enabled bool `json:"enabled"`
}

// NexusContent carries the result of a UI skill for client-side rendering.
type NexusContent struct {
	ComponentPath string `json:"component_path"`
	Data          any    `json:"data"`
	Query         string `json:"query"`
}

// FullContent is a complete document body.
type FullContent struct {
	Content string `json:"content"`
}

func LoadingStart(reasoning float64) Event {
	c := LoadingContent{State: "start"}
	if reasoning > 0 {
		c.Reasoning = &reasoning
	}
	return Event{Type: TypeSignal, Event: EventLoading, Content: c}
}

func LoadingSkillStart(skillID string) Event {
	return Event{Type: TypeSignal, Event: EventLoading, Content: LoadingContent{State: "start", Kind: "skill", SkillID: skillID}}
}

func LoadingStop() Event {
	return Event{Type: TypeSignal, Event: EventLoading, Content: LoadingContent{State: "stop"}}
}

func LoadingSkillStop(skillID string) Event {
	return Event{Type: TypeSignal, Event: EventLoading, Content: LoadingContent{State: "stop", Kind: "skill", SkillID: skillID}}
}

func ThinkingStart() Event {
	return Event{Type: TypeSignal, Event: EventThinking, Content: ThinkingContent{State: "start"}}
}

func ThinkingStop() Event {
	return Event{Type: TypeSignal, Event: EventThinking, Content: ThinkingContent{State: "stop"}}
}

func Error(message string) Event {
	return Event{Type: TypeSignal, Event: EventError, Content: MessageContent{Message: message}}
}

func Info(message string) Event {
	return Event{Type: TypeSignal, Event: EventInfoMessage, Content: MessageContent{Message: message}}
}

func Completed() Event {
	return Event{Type: TypeSignal, Event: EventCompleted}
}

func Stream(content string, flags StreamFlags) Event {
	return Event{Type: TypeMessage, Event: EventStream, Content: StreamContent{Content: content, Flags: flags}}
}

func StreamWithAudio(content string, flags StreamFlags, audio *StreamAudio) Event {
	return Event{Type: TypeMessage, Event: EventStream, Content: StreamContent{Content: content, Flags: flags, Audio: audio}}
}

func SetDocumentView(format string) Event {
	return Event{Type: TypeUI, Event: EventSetView, Content: SetViewContent{View: "document", Format: format}}
}

func SetMemoryState(enabled bool) Event {
	return Event{Type: TypeUI, Event: EventSetMemoryState, Content: MemoryStateContent{Enabled: enabled}}
}

func RenderNexus(componentPath string, data any, query string) Event {
	return Event{Type: TypeUI, Event: EventRenderNexus, Content: NexusContent{ComponentPath: componentPath, Data: data, Query: query}}
}

func Full(content string) Event {
	return Event{Type: TypeContent, Event: EventFull, Content: FullContent{Content: content}}
}

// Encode writes the event as one NDJSON line.
func (e Event) Encode(w io.Writer) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// StreamText extracts the content of a message/stream event, or "" for any
// other event. Used when reassembling the persisted assistant reply.
func (e Event) StreamText() string {
	if e.Type != TypeMessage || e.Event != EventStream {
		return ""
	}
	if c, ok := e.Content.(StreamContent); ok {
		return c.Content
	}
	return ""
}
