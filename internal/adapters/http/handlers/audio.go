package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/khromalabs/ainara-sub000/internal/adapters/audio"
)

// AudioHandler serves rendered TTS clips published by the audio sink.
type AudioHandler struct {
	sink *audio.Sink
}

func NewAudioHandler(sink *audio.Sink) *AudioHandler {
	return &AudioHandler{sink: sink}
}

func (h *AudioHandler) Get(w http.ResponseWriter, r *http.Request) {
	clipID := chi.URLParam(r, "id")
	data, format, ok := h.sink.Get(clipID)
	if !ok {
		writeError(w, http.StatusNotFound, "audio clip not found")
		return
	}

	w.Header().Set("Content-Type", audioContentType(format))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Write(data)
}

func audioContentType(format string) string {
	switch format {
	case "wav":
		return "audio/wav"
	case "opus":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	default:
		return "audio/mpeg"
	}
}
