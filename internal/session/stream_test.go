package session

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamDecoderNext(t *testing.T) {
	input := `
{"type":"system","subtype":"init"}

{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}]}}
{"type":"result","num_turns":1}
`
	d := newStreamDecoder(strings.NewReader(input))

	line, err := d.next()
	require.NoError(t, err)
	assert.Equal(t, lineSystem, line.Type)

	line, err = d.next()
	require.NoError(t, err)
	assert.Equal(t, lineAssistant, line.Type)
	assert.Equal(t, "hello world", line.textContent())

	line, err = d.next()
	require.NoError(t, err)
	assert.Equal(t, lineResult, line.Type)
	assert.Equal(t, 1, line.NumTurns)

	_, err = d.next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamDecoderMalformedLine(t *testing.T) {
	d := newStreamDecoder(strings.NewReader("{not json}\n"))
	_, err := d.next()
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}

func TestTextContentIgnoresToolBlocks(t *testing.T) {
	line := &streamLine{
		Type: lineAssistant,
		Message: &streamMessage{
			Content: []contentBlock{
				{Type: "tool_use"},
				{Type: "text", Text: "visible"},
				{Type: "tool_result"},
			},
		},
	}
	assert.Equal(t, "visible", line.textContent())
}

func TestTextContentNilMessage(t *testing.T) {
	line := &streamLine{Type: lineResult}
	assert.Empty(t, line.textContent())
}
