package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aaaton/golem/v4"
	"github.com/aaaton/golem/v4/dicts/en"
	"github.com/bbalet/stopwords"
	"github.com/jdkato/prose/v2"
)

// TextProcessor bundles the shallow NLP the engine needs: embedding-input
// normalization, the content-word gate for memory retrieval, sentence
// segmentation for TTS, and the reasoning-effort heuristic.
type TextProcessor struct {
	lemmatizer *golem.Lemmatizer
}

func NewTextProcessor() (*TextProcessor, error) {
	lemmatizer, err := golem.New(en.New())
	if err != nil {
		return nil, fmt.Errorf("failed to load lemmatizer dictionary: %w", err)
	}
	return &TextProcessor{lemmatizer: lemmatizer}, nil
}

// Normalize lowercases, strips stop words and punctuation, and lemmatizes
// the remaining tokens. Memories are embedded in this form; the original
// text stays authoritative in the relational store.
func (p *TextProcessor) Normalize(text string) string {
	cleaned := stopwords.CleanString(text, "en", false)
	fields := strings.Fields(cleaned)
	if len(fields) == 0 {
		return strings.TrimSpace(strings.ToLower(text))
	}

	lemmas := make([]string, 0, len(fields))
	for _, word := range fields {
		lemmas = append(lemmas, p.lemmatizer.Lemma(word))
	}
	return strings.Join(lemmas, " ")
}

var rolePrefixRe = regexp.MustCompile(`(?i)^(user|assistant|system)\s*:\s*`)

// HasContentWords reports whether the query carries at least one noun,
// proper noun, verb or adjective. Queries that fail the gate skip memory
// retrieval entirely. Only the last line matters: with timestamped
// multi-line history pasted in, the final line is the live utterance.
func (p *TextProcessor) HasContentWords(query string) bool {
	query = rolePrefixRe.ReplaceAllString(strings.TrimSpace(query), "")
	if idx := strings.LastIndex(query, "\n"); idx >= 0 {
		query = query[idx+1:]
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return false
	}

	doc, err := prose.NewDocument(query, prose.WithExtraction(false))
	if err != nil {
		// Tagging failure should not silence memory retrieval.
		return true
	}
	for _, tok := range doc.Tokens() {
		switch {
		case strings.HasPrefix(tok.Tag, "NN"),
			strings.HasPrefix(tok.Tag, "VB"),
			strings.HasPrefix(tok.Tag, "JJ"):
			return true
		}
	}
	return false
}

// Sentences splits text into complete sentences for incremental TTS.
func (p *TextProcessor) Sentences(text string) []string {
	doc, err := prose.NewDocument(text, prose.WithExtraction(false), prose.WithTagging(false))
	if err != nil {
		return []string{text}
	}
	sentences := make([]string, 0, len(doc.Sentences()))
	for _, s := range doc.Sentences() {
		if trimmed := strings.TrimSpace(s.Text); trimmed != "" {
			sentences = append(sentences, trimmed)
		}
	}
	return sentences
}

var timestampPrefixRe = regexp.MustCompile(`^\s*\[\d{1,2}:\d{2}\]\s*`)

// StripTimestampPrefix removes a leading [HH:MM] marker before synthesis.
func StripTimestampPrefix(text string) string {
	return timestampPrefixRe.ReplaceAllString(text, "")
}

// Verbs that signal the user wants multi-step thinking from the model.
var reasoningVerbs = map[string]bool{
	"explain": true, "analyze": true, "analyse": true, "compare": true,
	"evaluate": true, "justify": true, "reason": true, "deduce": true,
	"infer": true, "derive": true, "prove": true, "assess": true,
	"argue": true, "demonstrate": true, "solve": true, "calculate": true,
	"plan": true, "design": true, "debug": true, "optimize": true,
}

var interrogatives = map[string]bool{
	"why": true, "how": true,
}

var hypotheticalPhrases = []string{
	"what if", "suppose", "supposing", "imagine", "hypothetically",
	"assuming", "would it be",
}

// ReasoningLevel scores how much deliberate reasoning the query calls for,
// in [0, maxLevel]. Trivially short queries score zero.
func (p *TextProcessor) ReasoningLevel(query string, maxLevel float64) float64 {
	query = strings.TrimSpace(query)
	doc, err := prose.NewDocument(query, prose.WithExtraction(false))
	if err != nil {
		return 0
	}

	tokens := doc.Tokens()
	words := 0
	for _, tok := range tokens {
		if isWordTag(tok.Tag) {
			words++
		}
	}
	if words <= 3 {
		return 0
	}

	score := 0.0
	lowered := strings.ToLower(query)
	for _, phrase := range hypotheticalPhrases {
		if strings.Contains(lowered, phrase) {
			score += 1.0
			break
		}
	}

	sawRoot := false
	for i, tok := range tokens {
		lower := strings.ToLower(tok.Text)
		if i == 0 && interrogatives[lower] {
			score += 0.4
		}
		switch {
		case strings.HasPrefix(tok.Tag, "VB"):
			lemma := p.lemmatizer.Lemma(lower)
			if reasoningVerbs[lemma] {
				if !sawRoot {
					// First verb stands in for the sentence root.
					score += 1.0
				} else {
					score += 0.2
				}
			}
			sawRoot = true
		case tok.Tag == "JJR" || tok.Tag == "JJS" ||
			tok.Tag == "RBR" || tok.Tag == "RBS":
			score += 0.15
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score * maxLevel
}

func isWordTag(tag string) bool {
	if tag == "" {
		return false
	}
	c := tag[0]
	return c >= 'A' && c <= 'Z'
}
