package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

type HealthHandler struct {
	model   string
	started time.Time
}

func NewHealthHandler(model string) *HealthHandler {
	return &HealthHandler{model: model, started: time.Now()}
}

func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"model":  h.model,
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}
