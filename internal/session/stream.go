package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// streamLineType identifies the type of a stream-json line from the agent CLI.
type streamLineType string

const (
	// lineSystem is emitted once at session start with init metadata.
	lineSystem streamLineType = "system"
	// lineAssistant contains assistant messages (text and tool calls).
	lineAssistant streamLineType = "assistant"
	// lineUser contains tool results sent back to the model.
	lineUser streamLineType = "user"
	// lineResult marks the end of one response; the process may keep
	// running and wait for further input.
	lineResult streamLineType = "result"
)

// streamLine is a single JSONL line of the agent CLI's stream-json output.
// The Type field determines which other fields are populated.
type streamLine struct {
	Type    streamLineType `json:"type"`
	Subtype string         `json:"subtype,omitempty"`

	Message *streamMessage `json:"message,omitempty"`

	// Result fields (populated when Type == "result").
	IsError  bool   `json:"is_error,omitempty"`
	Result   string `json:"result,omitempty"`
	NumTurns int    `json:"num_turns,omitempty"`
}

// streamMessage is the message body within an assistant or user line.
type streamMessage struct {
	Role    string         `json:"role,omitempty"`
	Content []contentBlock `json:"content,omitempty"`
}

// contentBlock is one content block within a message. Only "text" blocks
// represent agent-visible output; tool_use and tool_result blocks are
// control traffic and never reach the turn buffer.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// textContent returns concatenated text from all text content blocks.
func (l *streamLine) textContent() string {
	if l.Message == nil {
		return ""
	}
	var parts []string
	for _, b := range l.Message.Content {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "")
}

// maxScannerBuffer is the maximum line length the decoder can handle (1MB).
// Tool results embedded in the stream can be very large.
const maxScannerBuffer = 1 << 20

// streamDecoder reads JSONL stream lines from an io.Reader line-by-line.
type streamDecoder struct {
	scanner *bufio.Scanner
}

// newStreamDecoder creates a decoder that reads JSONL from r. The scanner
// buffer is sized to handle lines up to 1MB.
func newStreamDecoder(r io.Reader) *streamDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScannerBuffer)
	return &streamDecoder{scanner: scanner}
}

// next reads and decodes the next stream line. Returns nil and io.EOF at
// end of stream, or nil and a decode error for malformed JSON lines.
// Empty and whitespace-only lines are skipped automatically.
func (d *streamDecoder) next() (*streamLine, error) {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" {
			continue
		}
		var sl streamLine
		if err := json.Unmarshal([]byte(line), &sl); err != nil {
			return nil, fmt.Errorf("decoding stream line: %w", err)
		}
		return &sl, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}
	return nil, io.EOF
}
