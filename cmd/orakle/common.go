package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/khromalabs/ainara-sub000/internal/adapters/audio"
	"github.com/khromalabs/ainara-sub000/internal/adapters/chromem"
	"github.com/khromalabs/ainara-sub000/internal/adapters/id"
	"github.com/khromalabs/ainara-sub000/internal/adapters/orakle"
	"github.com/khromalabs/ainara-sub000/internal/adapters/speech"
	"github.com/khromalabs/ainara-sub000/internal/adapters/sqlite"
	"github.com/khromalabs/ainara-sub000/internal/application/dispatch"
	"github.com/khromalabs/ainara-sub000/internal/application/services"
	"github.com/khromalabs/ainara-sub000/internal/application/usecases"
	"github.com/khromalabs/ainara-sub000/internal/application/workers"
	"github.com/khromalabs/ainara-sub000/internal/config"
	"github.com/khromalabs/ainara-sub000/internal/llm"
	"github.com/khromalabs/ainara-sub000/internal/ports"
	"github.com/khromalabs/ainara-sub000/internal/prompt"
)

// Version information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Shared global variables
var cfg *config.Config

// historyReloadLimit bounds how much persisted conversation is loaded back
// into the live state at startup.
const historyReloadLimit = 50

// engine bundles the wired components of one conversation context.
type engine struct {
	manager   *usecases.ConversationManager
	summaries *workers.SummaryWorker
	decay     *workers.DecayWorker
	audioSink *audio.Sink
	db        *sqlite.DB
}

// close drains the background workers and releases storage.
func (e *engine) close() {
	e.summaries.Stop()
	e.decay.Stop()
	if err := e.db.Close(); err != nil {
		log.Printf("warning: failed to close database: %v", err)
	}
}

// buildEngine wires a full conversation engine for the given context.
func buildEngine(ctx context.Context, contextID string, withAudio bool) (*engine, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	db, err := sqlite.Open(cfg.ContextDBPath(contextID))
	if err != nil {
		return nil, err
	}
	messageRepo := sqlite.NewMessageRepository(db)
	memoryRepo := sqlite.NewMemoryRepository(db)
	metaRepo := sqlite.NewMetadataRepository(db)

	llmClient := llm.NewClient(cfg.LLM.URL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens, cfg.LLM.Temperature)
	llmService := llm.NewService(llmClient, llm.ServiceConfig{
		ContextWindow:   cfg.LLM.ContextWindow,
		ReasoningModels: cfg.LLM.ReasoningModels,
	})
	embedder := llm.NewEmbeddingClient(cfg.Embedding.URL, cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimensions)

	vectorDB, err := chromem.Open(cfg.ContextVectorDir(contextID), embedder)
	if err != nil {
		db.Close()
		return nil, err
	}
	vectors, err := vectorDB.Collection(chromem.MemoryCollection)
	if err != nil {
		db.Close()
		return nil, err
	}
	logIndex, err := vectorDB.Collection(chromem.ConversationLogCollection)
	if err != nil {
		db.Close()
		return nil, err
	}

	prompts, err := prompt.NewRegistry()
	if err != nil {
		db.Close()
		return nil, err
	}
	text, err := services.NewTextProcessor()
	if err != nil {
		db.Close()
		return nil, err
	}
	idGen := id.New()

	memEngine := services.NewMemoryEngine(memoryRepo, metaRepo, vectors, llmService, prompts, text, idGen, cfg.Memory)
	if err := memEngine.Reconcile(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory reconciliation failed: %w", err)
	}

	matcher := services.NewMatcher(embedder, cfg.EmbeddingCachePath())
	skillClient := orakle.NewClient(cfg.Orakle.Servers,
		orakle.WithInvokeTimeout(time.Duration(cfg.Orakle.InvokeTimeout)*time.Second),
		orakle.WithRequestTimeout(time.Duration(cfg.Orakle.RequestTimeout)*time.Second),
	)
	if skills, err := skillClient.Capabilities(ctx); err != nil {
		log.Printf("warning: no skill server reachable, commands disabled: %v", err)
	} else if err := matcher.Register(ctx, skills); err != nil {
		log.Printf("warning: skill registration failed: %v", err)
	}

	systemPrompt, err := prompts.Render(prompt.SystemBase, map[string]any{})
	if err != nil {
		db.Close()
		return nil, err
	}
	chat, err := services.NewChatMemory(ctx, systemPrompt, messageRepo, logIndex, llmService, idGen, historyReloadLimit)
	if err != nil {
		db.Close()
		return nil, err
	}

	summaries := workers.NewSummaryWorker(llmService, prompts, text, metaRepo)
	summaries.Start(ctx)
	decay := workers.NewDecayWorker(memEngine)
	decay.Start(ctx)

	var tts ports.TTSService
	var sink *audio.Sink
	if withAudio && cfg.TTS.Enabled {
		tts = speech.NewTTSClient(cfg.TTS.URL, cfg.TTS.APIKey, cfg.TTS.Model, cfg.TTS.Voice, cfg.TTS.Format)
		sink = audio.NewSink("/api/v1/audio")
	}

	middleware := dispatch.NewMiddleware(matcher, skillClient, llmService, prompts, nil, cfg.Dispatch)
	manager := usecases.NewConversationManager(usecases.ManagerDeps{
		Chat:       chat,
		Memory:     memEngine,
		Middleware: middleware,
		LLM:        llmService,
		Prompts:    prompts,
		Text:       text,
		TTS:        tts,
		Audio:      sink,
		Summaries:  summaries,
		Decay:      decay,
		Meta:       metaRepo,
		Config:     cfg,
	})
	middleware.BindChatContext(manager)
	manager.RefreshNarratives(ctx)

	return &engine{
		manager:   manager,
		summaries: summaries,
		decay:     decay,
		audioSink: sink,
		db:        db,
	}, nil
}
