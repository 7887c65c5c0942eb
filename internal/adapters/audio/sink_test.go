package audio

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestSinkPublishAndGet(t *testing.T) {
	s := NewSink("/api/v1/audio")

	url, err := s.Publish([]byte("mp3 bytes"), "mp3")
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if !strings.HasPrefix(url, "/api/v1/audio/") {
		t.Fatalf("unexpected clip URL %q", url)
	}

	clipID := strings.TrimPrefix(url, "/api/v1/audio/")
	data, format, ok := s.Get(clipID)
	if !ok {
		t.Fatal("published clip not found")
	}
	if !bytes.Equal(data, []byte("mp3 bytes")) || format != "mp3" {
		t.Errorf("clip round-trip lost data: %q %q", data, format)
	}
}

func TestSinkUnknownClip(t *testing.T) {
	s := NewSink("/api/v1/audio")
	if _, _, ok := s.Get("clip_missing"); ok {
		t.Error("unknown clip reported as present")
	}
}

func TestSinkExpiredClipIsDropped(t *testing.T) {
	s := NewSink("/api/v1/audio")
	url, err := s.Publish([]byte("stale"), "mp3")
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	clipID := strings.TrimPrefix(url, "/api/v1/audio/")

	s.mu.Lock()
	c := s.clips[clipID]
	c.created = time.Now().Add(-10 * time.Minute)
	s.clips[clipID] = c
	s.mu.Unlock()

	if _, _, ok := s.Get(clipID); ok {
		t.Fatal("expired clip still served")
	}
	s.mu.Lock()
	_, still := s.clips[clipID]
	s.mu.Unlock()
	if still {
		t.Error("expired clip not removed from the store")
	}
}

func TestSinkEvictsOldestAtCapacity(t *testing.T) {
	s := NewSink("/api/v1/audio")
	s.capacity = 2

	first, _ := s.Publish([]byte("one"), "mp3")
	firstID := strings.TrimPrefix(first, "/api/v1/audio/")

	// Back-date the first clip so eviction order is unambiguous.
	s.mu.Lock()
	c := s.clips[firstID]
	c.created = time.Now().Add(-time.Minute)
	s.clips[firstID] = c
	s.mu.Unlock()

	second, _ := s.Publish([]byte("two"), "mp3")
	third, _ := s.Publish([]byte("three"), "mp3")

	if _, _, ok := s.Get(firstID); ok {
		t.Error("oldest clip survived eviction")
	}
	for _, url := range []string{second, third} {
		clipID := strings.TrimPrefix(url, "/api/v1/audio/")
		if _, _, ok := s.Get(clipID); !ok {
			t.Errorf("recent clip %s evicted", clipID)
		}
	}
}
