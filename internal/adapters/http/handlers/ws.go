package handlers

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/khromalabs/ainara-sub000/internal/application/usecases"
	"github.com/khromalabs/ainara-sub000/internal/protocol"
)

// WSHandler runs turns over a persistent WebSocket: the client sends
// {"message": "..."} frames, the engine answers with event frames.
type WSHandler struct {
	manager  *usecases.ConversationManager
	upgrader websocket.Upgrader
}

func NewWSHandler(manager *usecases.ConversationManager, allowedOrigins []string) *WSHandler {
	allowAny := false
	allowed := make(map[string]bool)
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAny = true
			continue
		}
		allowed[origin] = true
	}

	return &WSHandler{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return allowAny || allowed[r.Header.Get("Origin")]
			},
		},
	}
}

type wsRequest struct {
	Message string `json:"message"`
}

func (h *WSHandler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("warning: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Gorilla connections allow one concurrent writer.
	var writeMu sync.Mutex
	emit := func(ev protocol.Event) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(ev)
	}

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("warning: websocket read failed: %v", err)
			}
			return
		}

		if err := h.manager.ProcessTurn(r.Context(), req.Message, emit); err != nil {
			if emitErr := emit(protocol.Error(err.Error())); emitErr != nil {
				return
			}
			if emitErr := emit(protocol.Completed()); emitErr != nil {
				return
			}
		}
	}
}
