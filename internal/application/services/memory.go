package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/khromalabs/ainara-sub000/internal/config"
	"github.com/khromalabs/ainara-sub000/internal/domain"
	"github.com/khromalabs/ainara-sub000/internal/domain/models"
	"github.com/khromalabs/ainara-sub000/internal/ports"
	"github.com/khromalabs/ainara-sub000/internal/prompt"
)

// MemoryEngine extracts, assimilates, reinforces, decays and retrieves
// long-term memories. The relational store is the source of truth; the
// vector index is a derived projection rebuilt from it on inconsistency.
type MemoryEngine struct {
	mu       sync.RWMutex
	memories ports.MemoryRepository
	meta     ports.MetadataRepository
	vectors  ports.VectorStore
	llm      ports.LLMService
	prompts  *prompt.Registry
	text     *TextProcessor
	ids      ports.IDGenerator
	cfg      config.MemoryConfig

	decayGroup singleflight.Group
}

func NewMemoryEngine(
	memories ports.MemoryRepository,
	meta ports.MetadataRepository,
	vectors ports.VectorStore,
	llm ports.LLMService,
	prompts *prompt.Registry,
	text *TextProcessor,
	ids ports.IDGenerator,
	cfg config.MemoryConfig,
) *MemoryEngine {
	return &MemoryEngine{
		memories: memories,
		meta:     meta,
		vectors:  vectors,
		llm:      llm,
		prompts:  prompts,
		text:     text,
		ids:      ids,
		cfg:      cfg,
	}
}

// Reconcile restores the vector index invariant at startup: on a row-count
// mismatch or an explicit reset flag it rebuilds the index from the
// relational store. An empty memory table with a processing watermark left
// behind means the database was reset by hand; the watermark is dropped and
// the index flagged for rebuild.
func (e *MemoryEngine) Reconcile(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	count, err := e.memories.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count memories: %w", err)
	}

	if count == 0 {
		if _, err := e.meta.Get(ctx, ports.MetaProfileLastProcessed); err == nil {
			log.Printf("warning: memory table empty but processing watermark present, assuming manual reset")
			if err := e.meta.Delete(ctx, ports.MetaProfileLastProcessed); err != nil {
				return err
			}
			if err := e.meta.Set(ctx, ports.MetaVectorDBNeedsReset, "1"); err != nil {
				return err
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}

	needsReset := false
	if v, err := e.meta.Get(ctx, ports.MetaVectorDBNeedsReset); err == nil {
		needsReset = v == "1"
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if !needsReset && e.vectors.Count() == count {
		return nil
	}

	log.Printf("warning: rebuilding vector index (%d rows, %d vectors, reset=%v)", count, e.vectors.Count(), needsReset)
	if err := e.vectors.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset vector index: %w", err)
	}
	all, err := e.memories.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list memories for rebuild: %w", err)
	}
	for _, m := range all {
		if err := e.indexMemory(ctx, m); err != nil {
			return err
		}
	}
	if err := e.meta.Delete(ctx, ports.MetaVectorDBNeedsReset); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return nil
}

// Enabled reports whether memory processing is active for this context.
// Memory is on by default; /nomemory turns it off persistently.
func (e *MemoryEngine) Enabled(ctx context.Context) bool {
	v, err := e.meta.Get(ctx, ports.MetaMemoryEnabled)
	if err != nil {
		return true
	}
	return v != "0"
}

func (e *MemoryEngine) SetEnabled(ctx context.Context, enabled bool) error {
	value := "1"
	if !enabled {
		value = "0"
	}
	return e.meta.Set(ctx, ports.MetaMemoryEnabled, value)
}

// Decay multiplies every current memory's relevance by the decay factor and
// every past memory's by its fourth power. Concurrent requests coalesce into
// one run.
func (e *MemoryEngine) Decay(ctx context.Context) error {
	_, err, _ := e.decayGroup.Do("decay", func() (any, error) {
		return nil, e.decayOnce(ctx)
	})
	return err
}

func (e *MemoryEngine) decayOnce(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	all, err := e.memories.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list memories for decay: %w", err)
	}

	factor := e.cfg.DecayFactor
	pastFactor := math.Pow(factor, 4)
	for _, m := range all {
		switch m.Status {
		case models.MemoryStatusPast:
			m.Relevance *= pastFactor
		default:
			m.Relevance *= factor
		}
		if err := e.memories.Update(ctx, m); err != nil {
			return fmt.Errorf("failed to persist decayed memory %s: %w", m.ID, err)
		}
	}
	return nil
}

// indexMemory writes the normalized projection of a memory into the vector
// store. Callers hold e.mu.
func (e *MemoryEngine) indexMemory(ctx context.Context, m *models.Memory) error {
	if err := e.vectors.Add(ctx, m.ID, e.text.Normalize(m.Text), memoryMetadata(m)); err != nil {
		return fmt.Errorf("failed to index memory %s: %w", m.ID, err)
	}
	return nil
}

// reindexMemory refreshes a memory whose text changed. Callers hold e.mu.
func (e *MemoryEngine) reindexMemory(ctx context.Context, m *models.Memory) error {
	if err := e.vectors.Delete(ctx, m.ID); err != nil {
		return err
	}
	return e.indexMemory(ctx, m)
}

func memoryMetadata(m *models.Memory) map[string]string {
	return map[string]string{
		"type":         string(m.Type),
		"topic":        m.Topic,
		"status":       string(m.Status),
		"relevance":    strconv.FormatFloat(m.Relevance, 'f', -1, 64),
		"created_at":   m.CreatedAt.UTC().Format(time.RFC3339),
		"last_updated": m.LastUpdated.UTC().Format(time.RFC3339),
	}
}

// Retrieval top-k scales with the active model's context window.
func retrievalTopK(window int) int {
	switch {
	case window <= 8192:
		return 5
	case window <= 32768:
		return 10
	default:
		return 20
	}
}

// Key-memory budget for the profile narrative.
func profileTopK(window int) int {
	switch {
	case window <= 8192:
		return 25
	case window <= 32768:
		return 50
	default:
		return 75
	}
}

// Candidate budget for the assimilation prompt.
func assimilationTopK(window int) int {
	switch {
	case window <= 8192:
		return 20
	case window <= 32768:
		return 35
	default:
		return 60
	}
}
