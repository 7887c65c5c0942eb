package usecases

import (
	"reflect"
	"testing"

	"github.com/khromalabs/ainara-sub000/internal/application/services"
)

func feedDoc(d *docBlockSplitter, chunks ...string) []docPart {
	var out []docPart
	for _, c := range chunks {
		out = append(out, d.feed(c)...)
	}
	return append(out, d.finish()...)
}

func TestDocSplitterPlainText(t *testing.T) {
	out := feedDoc(newDocBlockSplitter(), "just ", "a reply")
	want := []docPart{{text: "just "}, {text: "a reply"}}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("expected %v, got %v", want, out)
	}
}

func TestDocSplitterFencedBlock(t *testing.T) {
	out := feedDoc(newDocBlockSplitter(),
		"Here you go:\n```markdown\n# Title\n\nBody.\n```\nAnything else?")
	want := []docPart{
		{text: "Here you go:\n"},
		{viewFormat: "markdown"},
		{document: "# Title\n\nBody."},
		{text: "Anything else?"},
	}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("expected %#v, got %#v", want, out)
	}
}

func TestDocSplitterEmptyLanguageDefaultsToText(t *testing.T) {
	out := feedDoc(newDocBlockSplitter(), "```\nraw\n```\n")
	var format string
	for _, p := range out {
		if p.viewFormat != "" {
			format = p.viewFormat
		}
	}
	if format != "text" {
		t.Errorf("expected default format text, got %q", format)
	}
}

func TestDocSplitterBodyDeliveredWhole(t *testing.T) {
	// The body must arrive as a single part even when streamed in pieces.
	out := feedDoc(newDocBlockSplitter(),
		"```json\n", "{\"a\":", " 1}", "\n``", "`\n")
	var docs []string
	for _, p := range out {
		if p.document != "" {
			docs = append(docs, p.document)
		}
	}
	if len(docs) != 1 || docs[0] != "{\"a\": 1}" {
		t.Errorf("expected one whole document, got %v", docs)
	}
}

func TestDocSplitterFenceSplitAcrossChunks(t *testing.T) {
	out := feedDoc(newDocBlockSplitter(), "text `", "``md\ncontent\n```\n")
	want := []docPart{
		{text: "text "},
		{viewFormat: "md"},
		{document: "content"},
	}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("expected %#v, got %#v", want, out)
	}
}

func TestDocSplitterViewWaitsForFenceLine(t *testing.T) {
	d := newDocBlockSplitter()
	out := d.feed("```mark")
	for _, p := range out {
		if p.viewFormat != "" {
			t.Fatalf("view emitted before the fence line completed: %q", p.viewFormat)
		}
	}
	out = append(out, d.feed("down\nbody\n```\n")...)
	out = append(out, d.finish()...)
	var format string
	for _, p := range out {
		if p.viewFormat != "" {
			format = p.viewFormat
		}
	}
	if format != "markdown" {
		t.Errorf("expected format markdown, got %q", format)
	}
}

func TestDocSplitterUnterminatedBlockYieldsBody(t *testing.T) {
	out := feedDoc(newDocBlockSplitter(), "```yaml\nkey: value\n")
	var doc string
	for _, p := range out {
		if p.document != "" {
			doc = p.document
		}
	}
	if doc != "key: value" {
		t.Errorf("expected unterminated body delivered, got %q", doc)
	}
}

func newTestSentenceBuffer(t *testing.T) *sentenceBuffer {
	t.Helper()
	text, err := services.NewTextProcessor()
	if err != nil {
		t.Fatalf("failed to build text processor: %v", err)
	}
	return newSentenceBuffer(text)
}

func TestSentenceBufferHoldsIncompleteSentence(t *testing.T) {
	sb := newTestSentenceBuffer(t)
	if got := sb.feed("The weather today is"); got != nil {
		t.Errorf("incomplete sentence released early: %v", got)
	}
	if got := sb.feed(" sunny. Tomorrow will"); len(got) != 1 || got[0] != "The weather today is sunny." {
		t.Errorf("expected first complete sentence, got %v", got)
	}
	if tail := sb.finish(); tail != "Tomorrow will" {
		t.Errorf("expected trailing fragment from finish, got %q", tail)
	}
}

func TestSentenceBufferFinishEmpty(t *testing.T) {
	sb := newTestSentenceBuffer(t)
	sb.feed("One sentence only")
	if tail := sb.finish(); tail != "One sentence only" {
		t.Errorf("unexpected tail %q", tail)
	}
	if tail := sb.finish(); tail != "" {
		t.Errorf("finish after drain should be empty, got %q", tail)
	}
}
