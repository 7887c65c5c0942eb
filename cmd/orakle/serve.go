package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpadapter "github.com/khromalabs/ainara-sub000/internal/adapters/http"
	"github.com/khromalabs/ainara-sub000/internal/adapters/tracing"
)

// serveCmd starts the HTTP API server
func serveCmd() *cobra.Command {
	var contextID string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the Orakle HTTP API server.

The server streams conversation turns as NDJSON over POST /api/v1/chat and
as event frames over the /api/v1/ws WebSocket.

Required configuration:
  - LLM endpoint (ORAKLE_LLM_URL)
  - Embedding endpoint (ORAKLE_EMBEDDING_URL)

Optional:
  - Skill servers (ORAKLE_SKILL_SERVERS)
  - TTS (ORAKLE_TTS_ENABLED)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), contextID)
		},
	}
	cmd.Flags().StringVar(&contextID, "context", "default", "conversation context to serve")
	return cmd
}

// runServer initializes and starts the HTTP API server
func runServer(ctx context.Context, contextID string) error {
	log.Println("Starting Orakle API server...")
	log.Printf("  HTTP:      http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("  LLM:       %s (%s)", cfg.LLM.URL, cfg.LLM.Model)
	log.Printf("  Embedding: %s (%s)", cfg.Embedding.URL, cfg.Embedding.Model)
	if len(cfg.Orakle.Servers) > 0 {
		log.Printf("  Skills:    %v", cfg.Orakle.Servers)
	}
	if cfg.TTS.Enabled {
		log.Printf("  TTS:       %s (%s)", cfg.TTS.URL, cfg.TTS.Voice)
	}
	log.Println()

	shutdown, err := tracing.InitTracer("orakle-api", cfg.Server.TraceSampleRatio)
	if err != nil {
		log.Printf("Warning: Failed to initialize tracing: %v", err)
	} else {
		defer func() {
			if err := shutdown(ctx); err != nil {
				log.Printf("Error shutting down tracer: %v", err)
			}
		}()
	}

	eng, err := buildEngine(ctx, contextID, true)
	if err != nil {
		return err
	}
	defer eng.close()

	server := httpadapter.NewServer(cfg, eng.manager, eng.audioSink)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Printf("Received %v, shutting down...", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}
