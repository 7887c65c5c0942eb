package models

type SkillType string

const (
	SkillTypeRegular SkillType = "regular"
	SkillTypeUI      SkillType = "ui"
)

// SkillParameter describes one named argument of a skill.
type SkillParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// SkillUIInfo carries the frontend rendering hints of a UI ("nexus") skill.
type SkillUIInfo struct {
	Component string `json:"component"`
	Vendor    string `json:"vendor"`
	Bundle    string `json:"bundle"`
}

// SkillDescriptor is a capability advertised by a skill server.
type SkillDescriptor struct {
	Name             string           `json:"name"`
	Description      string           `json:"description"`
	MatcherInfo      string           `json:"matcher_info,omitempty"`
	Parameters       []SkillParameter `json:"parameters,omitempty"`
	Type             SkillType        `json:"type,omitempty"`
	UI               *SkillUIInfo     `json:"ui,omitempty"`
	EmbeddingsBoost  float64          `json:"embeddings_boost_factor,omitempty"`
}

// IsUI reports whether the skill's result should be rendered by the client
// instead of being interpreted by the LLM.
func (s *SkillDescriptor) IsUI() bool {
	return s.Type == SkillTypeUI || s.UI != nil
}

// BoostFactor returns the embeddings boost, defaulting to 1.0.
func (s *SkillDescriptor) BoostFactor() float64 {
	if s.EmbeddingsBoost <= 0 {
		return 1.0
	}
	return s.EmbeddingsBoost
}
