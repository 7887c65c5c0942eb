// Package http exposes the engine over chi: an NDJSON chat endpoint, a
// WebSocket feed, rendered audio, health and Prometheus metrics.
package http

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/khromalabs/ainara-sub000/internal/adapters/audio"
	"github.com/khromalabs/ainara-sub000/internal/adapters/http/handlers"
	"github.com/khromalabs/ainara-sub000/internal/adapters/http/middleware"
	"github.com/khromalabs/ainara-sub000/internal/application/usecases"
	"github.com/khromalabs/ainara-sub000/internal/config"
)

type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server
	manager    *usecases.ConversationManager
	audioSink  *audio.Sink
}

func NewServer(cfg *config.Config, manager *usecases.ConversationManager, audioSink *audio.Sink) *Server {
	s := &Server{
		config:    cfg,
		manager:   manager,
		audioSink: audioSink,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS(s.config.Server.CORSOrigins))
	r.Use(middleware.Metrics)

	healthHandler := handlers.NewHealthHandler(s.config.LLM.Model)
	r.Get("/health", healthHandler.Handle)
	r.Handle("/metrics", promhttp.Handler())

	chatHandler := handlers.NewChatHandler(s.manager)
	wsHandler := handlers.NewWSHandler(s.manager, s.config.Server.CORSOrigins)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/chat", chatHandler.Handle)
		r.Get("/ws", wsHandler.Handle)

		if s.audioSink != nil {
			audioHandler := handlers.NewAudioHandler(s.audioSink)
			r.Get("/audio/{id}", audioHandler.Get)
		}
	})

	s.router = r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for streaming responses
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Starting HTTP server on %s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	log.Println("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Router() *chi.Mux {
	return s.router
}
