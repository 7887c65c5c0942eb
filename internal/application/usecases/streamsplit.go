package usecases

import (
	"strings"

	"github.com/khromalabs/ainara-sub000/internal/application/services"
)

const docFence = "```"

// docPart is one output of the document-block splitter: plain text, a
// view switch, or a complete document body.
type docPart struct {
	text       string
	viewFormat string
	document   string
}

// docBlockSplitter recognizes fenced blocks (```lang ... ```) in the reply
// stream. The fence language becomes the document format; the body is
// buffered and delivered whole.
type docBlockSplitter struct {
	inside bool
	buf    string
}

func newDocBlockSplitter() *docBlockSplitter {
	return &docBlockSplitter{}
}

func (d *docBlockSplitter) feed(text string) []docPart {
	d.buf += text
	var out []docPart

	for {
		idx := strings.Index(d.buf, docFence)
		if idx < 0 {
			if !d.inside {
				// Hold back a partial fence split across chunks.
				keep := len(d.buf) - fencePrefixLen(d.buf)
				if keep > 0 {
					out = append(out, docPart{text: d.buf[:keep]})
					d.buf = d.buf[keep:]
				}
			}
			return out
		}

		if d.inside {
			out = append(out, docPart{document: strings.TrimRight(d.buf[:idx], "\n")})
			d.buf = strings.TrimPrefix(d.buf[idx+len(docFence):], "\n")
			d.inside = false
			continue
		}

		// The format is the rest of the fence line; wait for it to complete.
		nl := strings.Index(d.buf[idx:], "\n")
		if nl < 0 {
			if idx > 0 {
				out = append(out, docPart{text: d.buf[:idx]})
				d.buf = d.buf[idx:]
			}
			return out
		}
		if idx > 0 {
			out = append(out, docPart{text: d.buf[:idx]})
		}
		format := strings.TrimSpace(d.buf[idx+len(docFence) : idx+nl])
		if format == "" {
			format = "text"
		}
		out = append(out, docPart{viewFormat: format})
		d.buf = d.buf[idx+nl+1:]
		d.inside = true
	}
}

// finish drains the splitter; an unterminated block still yields its body.
func (d *docBlockSplitter) finish() []docPart {
	buf := d.buf
	d.buf = ""
	if d.inside {
		d.inside = false
		if body := strings.TrimRight(buf, "\n"); body != "" {
			return []docPart{{document: body}}
		}
		return nil
	}
	if buf == "" {
		return nil
	}
	return []docPart{{text: buf}}
}

func fencePrefixLen(s string) int {
	max := len(docFence) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, docFence[:n]) {
			return n
		}
	}
	return 0
}

// sentenceBuffer accumulates streamed text and releases only complete
// sentences, so TTS never renders a half-spoken clause.
type sentenceBuffer struct {
	text *services.TextProcessor
	buf  string
}

func newSentenceBuffer(text *services.TextProcessor) *sentenceBuffer {
	return &sentenceBuffer{text: text}
}

func (s *sentenceBuffer) feed(chunk string) []string {
	s.buf += chunk
	sentences := s.text.Sentences(s.buf)
	if len(sentences) <= 1 {
		return nil
	}

	// The last sentence may still be growing; hold it back.
	last := sentences[len(sentences)-1]
	if idx := strings.LastIndex(s.buf, last); idx >= 0 {
		s.buf = s.buf[idx:]
	} else {
		s.buf = last
	}
	return sentences[:len(sentences)-1]
}

func (s *sentenceBuffer) finish() string {
	tail := strings.TrimSpace(s.buf)
	s.buf = ""
	return tail
}
