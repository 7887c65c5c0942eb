// Package prompt renders the engine's named prompt templates.
package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/khromalabs/ainara-sub000/internal/prompt/baselines"
)

// Registry holds the parsed prompt templates.
type Registry struct {
	templates *template.Template
}

// Template names.
const (
	SystemBase            = "system_base"
	SkillSelection        = "skill_selection"
	CommandInterpretation = "command_interpretation"
	MemoryAssimilation    = "memory_assimilation"
	ProfileSummary        = "profile_summary"
	RecentMemoriesSummary = "recent_memories_summary"
	ConversationSummary   = "conversation_summary"
)

var sources = map[string]string{
	SystemBase:            baselines.SystemBase,
	SkillSelection:        baselines.SkillSelection,
	CommandInterpretation: baselines.CommandInterpretation,
	MemoryAssimilation:    baselines.MemoryAssimilation,
	ProfileSummary:        baselines.ProfileSummary,
	RecentMemoriesSummary: baselines.RecentMemoriesSummary,
	ConversationSummary:   baselines.ConversationSummary,
}

// NewRegistry parses the baseline templates. Parsing failures are
// programming errors and abort startup.
func NewRegistry() (*Registry, error) {
	root := template.New("prompts")
	for name, src := range sources {
		if _, err := root.New(name).Parse(src); err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
	}
	return &Registry{templates: root}, nil
}

// Render executes the named template with the given context map.
func (r *Registry) Render(name string, ctx map[string]any) (string, error) {
	var sb strings.Builder
	if err := r.templates.ExecuteTemplate(&sb, name, ctx); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return strings.TrimSpace(sb.String()), nil
}
