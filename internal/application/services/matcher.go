package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/khromalabs/ainara-sub000/internal/domain"
	"github.com/khromalabs/ainara-sub000/internal/domain/models"
	"github.com/khromalabs/ainara-sub000/internal/ports"
)

// Matcher ranks registered skills against a natural-language request by
// embedding similarity. Per-string embeddings are cached on disk so that
// re-registering an unchanged skill set costs no embedding calls.
type Matcher struct {
	mu        sync.RWMutex
	embedder  ports.EmbeddingService
	cachePath string
	cache     map[string][]float32
	dirty     bool
	entries   map[string]*matcherEntry
}

type matcherEntry struct {
	skill      *models.SkillDescriptor
	embedding  []float32
	usageCount int
}

// MatchResult is one candidate skill with its boosted similarity score.
type MatchResult struct {
	Skill *models.SkillDescriptor
	Score float64
}

func NewMatcher(embedder ports.EmbeddingService, cachePath string) *Matcher {
	m := &Matcher{
		embedder:  embedder,
		cachePath: cachePath,
		cache:     map[string][]float32{},
		entries:   map[string]*matcherEntry{},
	}
	m.loadCache()
	return m
}

// Register replaces the skill registry with the given descriptors,
// embedding each one's matcher text.
func (m *Matcher) Register(ctx context.Context, skills []*models.SkillDescriptor) error {
	entries := make(map[string]*matcherEntry, len(skills))
	for _, skill := range skills {
		embedding, err := m.embed(ctx, embeddingInput(skill))
		if err != nil {
			return fmt.Errorf("failed to embed skill %s: %w", skill.Name, err)
		}
		entries[skill.Name] = &matcherEntry{skill: skill, embedding: embedding}
	}

	m.mu.Lock()
	// Usage counts survive re-registration; they break score ties.
	for name, entry := range entries {
		if prev, ok := m.entries[name]; ok {
			entry.usageCount = prev.usageCount
		}
	}
	m.entries = entries
	m.mu.Unlock()

	m.saveCache()
	return nil
}

// Match embeds the query and returns skills scoring at or above threshold,
// best first, at most topK.
func (m *Matcher) Match(ctx context.Context, query string, threshold float64, topK int) ([]MatchResult, error) {
	queryEmbedding, err := m.embed(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	m.saveCache()

	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]MatchResult, 0, len(m.entries))
	for _, entry := range m.entries {
		score := cosineSimilarity(queryEmbedding, entry.embedding) * entry.skill.BoostFactor()
		if score >= threshold {
			results = append(results, MatchResult{Skill: entry.skill, Score: score})
		}
	}
	if len(results) == 0 {
		return nil, domain.ErrNoMatchingSkill
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return m.entries[results[i].Skill.Name].usageCount > m.entries[results[j].Skill.Name].usageCount
	})
	if len(results) > topK {
		results = results[:topK]
	}
	for _, r := range results {
		m.entries[r.Skill.Name].usageCount++
	}
	return results, nil
}

func (m *Matcher) embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.RLock()
	cached, ok := m.cache[text]
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}

	result, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cache[text] = result.Embedding
	m.dirty = true
	m.mu.Unlock()
	return result.Embedding, nil
}

var boostKeywordRe = regexp.MustCompile(`\*\*([^*]+)\*\*`)

// embeddingInput builds the text a skill is indexed under: the skill's
// domain path weighted twice, boost keywords weighted six times, then the
// cleaned description and matcher hints.
func embeddingInput(skill *models.SkillDescriptor) string {
	var parts []string

	domainParts := splitSkillPath(skill.Name)
	if len(domainParts) > 0 {
		domainText := strings.Join(domainParts, " ")
		parts = append(parts, domainText, domainText)
	}

	for _, match := range boostKeywordRe.FindAllStringSubmatch(skill.Description, -1) {
		keyword := strings.TrimSpace(match[1])
		for i := 0; i < 6; i++ {
			parts = append(parts, keyword)
		}
	}

	cleaned := strings.TrimSpace(boostKeywordRe.ReplaceAllString(skill.Description, "$1"))
	if cleaned != "" {
		parts = append(parts, cleaned)
	}
	if info := strings.TrimSpace(skill.MatcherInfo); info != "" {
		parts = append(parts, info)
	}
	return strings.Join(parts, " ")
}

func splitSkillPath(name string) []string {
	return strings.FieldsFunc(name, func(r rune) bool {
		return r == '/' || r == '.' || r == '_' || r == '-'
	})
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func (m *Matcher) loadCache() {
	if m.cachePath == "" {
		return
	}
	data, err := os.ReadFile(m.cachePath)
	if err != nil {
		return
	}
	var cache map[string][]float32
	if err := msgpack.Unmarshal(data, &cache); err != nil {
		log.Printf("warning: discarding unreadable embedding cache %s: %v", m.cachePath, err)
		return
	}
	m.cache = cache
}

func (m *Matcher) saveCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cachePath == "" || !m.dirty {
		return
	}

	data, err := msgpack.Marshal(m.cache)
	if err != nil {
		log.Printf("warning: failed to encode embedding cache: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(m.cachePath), 0o755); err != nil {
		log.Printf("warning: failed to create cache directory: %v", err)
		return
	}
	if err := os.WriteFile(m.cachePath, data, 0o644); err != nil {
		log.Printf("warning: failed to persist embedding cache: %v", err)
		return
	}
	m.dirty = false
}
