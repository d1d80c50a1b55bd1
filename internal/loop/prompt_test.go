package loop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopdeck/loopdeck/internal/parse"
)

func TestWorkerPromptFirstIteration(t *testing.T) {
	cfg := Config{MaxTurns: 3, TaskDescription: "Refactor the session manager."}

	prompt, err := WorkerPrompt(cfg, 1, "")
	require.NoError(t, err)

	assert.Contains(t, prompt, "iteration 1 of 3")
	assert.Contains(t, prompt, "Refactor the session manager.")
	assert.Contains(t, prompt, `"files_modified"`)
	assert.NotContains(t, prompt, "Reviewer Feedback")
}

func TestWorkerPromptFoldsFeedback(t *testing.T) {
	cfg := Config{MaxTurns: 3, TaskDescription: "Refactor it."}

	prompt, err := WorkerPrompt(cfg, 2, "  Add error handling to Start.  ")
	require.NoError(t, err)

	assert.Contains(t, prompt, "iteration 2 of 3")
	assert.Contains(t, prompt, "Reviewer Feedback")
	assert.Contains(t, prompt, "Add error handling to Start.")
}

func TestWorkerPromptSurvivesTemplateSyntaxInTask(t *testing.T) {
	cfg := Config{
		MaxTurns:        2,
		TaskDescription: "Render {{ .Name }} and ${HOME} correctly.",
	}

	prompt, err := WorkerPrompt(cfg, 1, "")
	require.NoError(t, err)
	assert.Contains(t, prompt, "{{ .Name }}")
	assert.Contains(t, prompt, "${HOME}")
}

func TestReviewerPromptListsFiles(t *testing.T) {
	cfg := Config{MaxTurns: 3, TaskDescription: "Fix the bug."}
	summary := parse.Summary{
		FilesModified: []string{"a.go", "b.go"},
		Note:          "patched both files",
	}

	prompt, err := ReviewerPrompt(cfg, 1, summary)
	require.NoError(t, err)

	assert.Contains(t, prompt, "- a.go")
	assert.Contains(t, prompt, "- b.go")
	assert.Contains(t, prompt, "patched both files")
	assert.Contains(t, prompt, "DECISION: approve")
	assert.Contains(t, prompt, "DECISION: request_changes")
}

func TestReviewerPromptEmptySummary(t *testing.T) {
	cfg := Config{MaxTurns: 3, TaskDescription: "Fix the bug."}

	prompt, err := ReviewerPrompt(cfg, 1, parse.Summary{})
	require.NoError(t, err)

	assert.Contains(t, prompt, "no summary note")
	assert.NotContains(t, prompt, "Files modified:")
}
