// Package dispatch parses the LLM output stream, detects embedded skill
// commands, executes them, and streams the interpreted results back inline.
package dispatch

import (
	"regexp"
	"strings"
)

const (
	openSentinel = "<<<ORAKLE"

	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// closeSentinelRe matches a complete close line mid-stream. At end of stream
// closeSentinelEOFRe additionally accepts a close without a trailing newline.
var (
	closeSentinelRe    = regexp.MustCompile(`(?m)^[ \t]*ORAKLE;?[ \t]*\r?\n`)
	closeSentinelEOFRe = regexp.MustCompile(`(?m)^[ \t]*ORAKLE;?[ \t]*\r?\n?$`)
)

// parseOutput is one result of feeding text to the command parser: either
// plain text to pass downstream or a captured command body.
type parseOutput struct {
	text    string
	command string
}

type parserState int

const (
	stateText parserState = iota
	stateCommand
)

// commandParser is the sentinel state machine. It buffers just enough text
// to never flush a partial opening sentinel split across chunks.
type commandParser struct {
	state parserState
	buf   strings.Builder
}

func newCommandParser() *commandParser {
	return &commandParser{}
}

func (p *commandParser) feed(text string) []parseOutput {
	var out []parseOutput
	p.buf.WriteString(text)

	for {
		switch p.state {
		case stateText:
			buffered := p.buf.String()
			idx := strings.Index(buffered, openSentinel)
			if idx < 0 {
				// Hold back any suffix that could still grow into the
				// opening sentinel.
				keep := len(buffered) - prefixLen(buffered, openSentinel)
				if keep > 0 {
					out = append(out, parseOutput{text: buffered[:keep]})
					p.buf.Reset()
					p.buf.WriteString(buffered[keep:])
				}
				return out
			}
			if idx > 0 {
				out = append(out, parseOutput{text: buffered[:idx]})
			}
			p.buf.Reset()
			p.buf.WriteString(buffered[idx+len(openSentinel):])
			p.state = stateCommand

		case stateCommand:
			buffered := p.buf.String()
			loc := closeSentinelRe.FindStringIndex(buffered)
			if loc == nil {
				return out
			}
			out = append(out, parseOutput{command: strings.TrimSpace(buffered[:loc[0]])})
			p.buf.Reset()
			p.buf.WriteString(buffered[loc[1]:])
			p.state = stateText
		}
	}
}

// finish drains the parser at end of stream. An unterminated command whose
// close sentinel only lacks the trailing newline still counts; anything else
// left in a command buffer is flushed back as plain text, sentinel included.
func (p *commandParser) finish() []parseOutput {
	buffered := p.buf.String()
	p.buf.Reset()

	switch p.state {
	case stateCommand:
		p.state = stateText
		if loc := closeSentinelEOFRe.FindStringIndex(buffered); loc != nil {
			var out []parseOutput
			out = append(out, parseOutput{command: strings.TrimSpace(buffered[:loc[0]])})
			if rest := buffered[loc[1]:]; rest != "" {
				out = append(out, parseOutput{text: rest})
			}
			return out
		}
		if buffered == "" {
			return []parseOutput{{text: openSentinel}}
		}
		return []parseOutput{{text: openSentinel + buffered}}
	default:
		if buffered == "" {
			return nil
		}
		return []parseOutput{{text: buffered}}
	}
}

// thinkFilter suppresses <think>…</think> content, reporting block
// boundaries to the caller. An unbalanced open discards everything after it.
type thinkFilter struct {
	inThink bool
	pending string
}

// thinkOutput is the filtered result of one feed call.
type thinkOutput struct {
	text          string
	thinkingStart bool
	thinkingStop  bool
}

func newThinkFilter() *thinkFilter {
	return &thinkFilter{}
}

func (f *thinkFilter) feed(text string) []thinkOutput {
	var out []thinkOutput
	f.pending += text

	for {
		if f.inThink {
			idx := strings.Index(f.pending, thinkClose)
			if idx < 0 {
				// Keep only a possible partial close tag.
				f.pending = tailPossiblePrefix(f.pending, thinkClose)
				return out
			}
			f.pending = f.pending[idx+len(thinkClose):]
			f.inThink = false
			out = append(out, thinkOutput{thinkingStop: true})
			continue
		}

		idx := strings.Index(f.pending, thinkOpen)
		if idx < 0 {
			keep := len(f.pending) - prefixLen(f.pending, thinkOpen)
			if keep > 0 {
				out = append(out, thinkOutput{text: f.pending[:keep]})
				f.pending = f.pending[keep:]
			}
			return out
		}
		if idx > 0 {
			out = append(out, thinkOutput{text: f.pending[:idx]})
		}
		f.pending = f.pending[idx+len(thinkOpen):]
		f.inThink = true
		out = append(out, thinkOutput{thinkingStart: true})
	}
}

// finish drains the filter. Inside an unbalanced think block the remainder
// is dropped.
func (f *thinkFilter) finish() []thinkOutput {
	defer func() { f.pending = ""; f.inThink = false }()
	if f.inThink {
		return []thinkOutput{{thinkingStop: true}}
	}
	if f.pending == "" {
		return nil
	}
	return []thinkOutput{{text: f.pending}}
}

func tailPossiblePrefix(s, tag string) string {
	return s[len(s)-prefixLen(s, tag):]
}

// prefixLen returns the length of the longest suffix of s that is a proper
// prefix of tag.
func prefixLen(s, tag string) int {
	max := len(tag) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}
