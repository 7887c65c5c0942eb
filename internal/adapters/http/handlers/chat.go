// Package handlers implements the HTTP surface of the engine.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/khromalabs/ainara-sub000/internal/adapters/metrics"
	"github.com/khromalabs/ainara-sub000/internal/application/usecases"
	"github.com/khromalabs/ainara-sub000/internal/domain"
	"github.com/khromalabs/ainara-sub000/internal/protocol"
)

var tracer = otel.Tracer("orakle/http")

type ChatHandler struct {
	manager *usecases.ConversationManager
}

func NewChatHandler(manager *usecases.ConversationManager) *ChatHandler {
	return &ChatHandler{manager: manager}
}

type chatRequest struct {
	Message string `json:"message"`
}

// Handle streams the turn's events as NDJSON. The connection context cancels
// the turn when the client goes away.
func (h *ChatHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	emit := func(ev protocol.Event) error {
		if err := ev.Encode(w); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	ctx, span := tracer.Start(r.Context(), "conversation.turn")
	defer span.End()

	start := time.Now()
	err := h.manager.ProcessTurn(ctx, req.Message, emit)
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		// Headers are gone; surface what we can in-band.
		if errors.Is(err, domain.ErrTurnInFlight) || errors.Is(err, domain.ErrEmptyContent) {
			emit(protocol.Error(err.Error()))
			emit(protocol.Completed())
		}
	}
	span.SetAttributes(attribute.String("turn.status", status))
	metrics.TurnsTotal.WithLabelValues(status).Inc()
	metrics.TurnDuration.Observe(time.Since(start).Seconds())
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
