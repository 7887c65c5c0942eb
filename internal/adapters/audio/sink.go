// Package audio keeps freshly rendered TTS clips in memory long enough for
// the client to fetch them over HTTP.
package audio

import (
	"sync"
	"time"

	"github.com/khromalabs/ainara-sub000/shared/id"
)

const (
	defaultTTL      = 5 * time.Minute
	defaultCapacity = 256
)

type clip struct {
	data    []byte
	format  string
	created time.Time
}

// Sink implements ports.AudioSink with a bounded in-memory store. Clips
// expire after a TTL; the oldest clip is evicted when the store is full.
type Sink struct {
	mu       sync.Mutex
	clips    map[string]clip
	ttl      time.Duration
	capacity int
	baseURL  string
}

// NewSink creates a sink whose published URLs are baseURL + "/" + id.
func NewSink(baseURL string) *Sink {
	return &Sink{
		clips:    make(map[string]clip),
		ttl:      defaultTTL,
		capacity: defaultCapacity,
		baseURL:  baseURL,
	}
}

func (s *Sink) Publish(data []byte, format string) (string, error) {
	clipID := id.NewAudio()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	s.clips[clipID] = clip{data: data, format: format, created: time.Now()}
	return s.baseURL + "/" + clipID, nil
}

// Get returns a stored clip, or false if it expired or never existed.
func (s *Sink) Get(clipID string) (data []byte, format string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, found := s.clips[clipID]
	if !found || time.Since(c.created) > s.ttl {
		delete(s.clips, clipID)
		return nil, "", false
	}
	return c.data, c.format, true
}

func (s *Sink) evictLocked() {
	now := time.Now()
	for clipID, c := range s.clips {
		if now.Sub(c.created) > s.ttl {
			delete(s.clips, clipID)
		}
	}
	for len(s.clips) >= s.capacity {
		oldestID := ""
		var oldest time.Time
		for clipID, c := range s.clips {
			if oldestID == "" || c.created.Before(oldest) {
				oldestID = clipID
				oldest = c.created
			}
		}
		delete(s.clips, oldestID)
	}
}
