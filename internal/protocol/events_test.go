package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestEncodeWritesOneNDJSONLine(t *testing.T) {
	var buf bytes.Buffer
	if err := Stream("hello", StreamFlags{}).Encode(&buf); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	line := buf.String()
	if !strings.HasSuffix(line, "\n") {
		t.Fatal("encoded event missing trailing newline")
	}
	if strings.Count(line, "\n") != 1 {
		t.Fatalf("expected a single line, got %q", line)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("line is not valid JSON: %v", err)
	}
	if decoded["type"] != TypeMessage || decoded["event"] != EventStream {
		t.Errorf("unexpected envelope %v", decoded)
	}
}

func TestCompletedOmitsContent(t *testing.T) {
	var buf bytes.Buffer
	if err := Completed().Encode(&buf); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if strings.Contains(buf.String(), "content") {
		t.Errorf("completed event should carry no content: %s", buf.String())
	}
}

func TestStreamText(t *testing.T) {
	if got := Stream("a chunk", StreamFlags{}).StreamText(); got != "a chunk" {
		t.Errorf("stream text lost: %q", got)
	}
	audio := &StreamAudio{URL: "/api/v1/audio/clip1", Format: "mp3"}
	if got := StreamWithAudio("spoken", StreamFlags{Audio: true}, audio).StreamText(); got != "spoken" {
		t.Errorf("audio chunk text lost: %q", got)
	}
	for _, e := range []Event{LoadingStop(), Error("boom"), Completed(), Full("doc")} {
		if got := e.StreamText(); got != "" {
			t.Errorf("%s/%s leaked stream text %q", e.Type, e.Event, got)
		}
	}
}

func TestLoadingStartReasoning(t *testing.T) {
	e := LoadingStart(0.6)
	c, ok := e.Content.(LoadingContent)
	if !ok || c.Reasoning == nil || *c.Reasoning != 0.6 {
		t.Errorf("reasoning hint not carried: %+v", e.Content)
	}
	e = LoadingStart(0)
	if c := e.Content.(LoadingContent); c.Reasoning != nil {
		t.Error("zero reasoning should be omitted")
	}
}
