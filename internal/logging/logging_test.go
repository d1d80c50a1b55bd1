package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// restoreDefaults resets the global logger state after a test mutates it.
func restoreDefaults(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		log.SetLevel(log.InfoLevel)
		log.SetOutput(os.Stderr)
		log.SetFormatter(log.TextFormatter)
	})
}

func TestSetupLevels(t *testing.T) {
	restoreDefaults(t)

	tests := []struct {
		name    string
		verbose bool
		quiet   bool
		want    log.Level
	}{
		{"default is info", false, false, log.InfoLevel},
		{"verbose is debug", true, false, log.DebugLevel},
		{"quiet is error", false, true, log.ErrorLevel},
		{"quiet wins over verbose", true, true, log.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Setup(tt.verbose, tt.quiet, false)
			assert.Equal(t, tt.want, log.GetLevel())
		})
	}
}

func TestNewAddsPrefix(t *testing.T) {
	restoreDefaults(t)

	var buf bytes.Buffer
	Setup(false, false, false)
	SetOutput(&buf)

	logger := New("turn")
	logger.Info("resolved")

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, "turn")
	assert.Contains(t, out, "resolved")
}

func TestSetupJSONFormat(t *testing.T) {
	restoreDefaults(t)

	var buf bytes.Buffer
	Setup(false, false, true)
	SetOutput(&buf)

	New("loop").Info("started", "task", "lt-1")

	assert.Contains(t, buf.String(), `"msg":"started"`)
}
