package loop

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/loopdeck/loopdeck/internal/parse"
)

// The built-in prompt templates use [[ and ]] as delimiters so that {{ and }}
// appearing in task descriptions (Go templates, JSON, shell substitutions)
// are never misinterpreted as template actions.

// workerTemplate is rendered for every implementation turn. From the second
// iteration on, the previous reviewer feedback is folded in so the worker
// addresses it instead of starting from scratch.
const workerTemplate = `You are the worker agent on iteration [[.Iteration]] of [[.MaxTurns]].

## Task

[[.TaskDescription]]
[[if .Feedback]]
## Reviewer Feedback From the Previous Iteration

The reviewer requested changes. Address every point below:

[[.Feedback]]
[[end]]
## Instructions

1. Implement the task described above.
2. When you are done, end your reply with a single JSON object summarizing
   the work, on its own lines:

   {"files_modified": ["path/one", "path/two"], "note": "what was done"}

3. List only files you actually changed. Keep the note to a few sentences.
`

// reviewerTemplate is rendered for every review turn.
const reviewerTemplate = `You are the reviewer agent. A worker just finished iteration [[.Iteration]] of [[.MaxTurns]] on the task below.

## Task

[[.TaskDescription]]

## Worker Summary
[[if .FilesModified]]
Files modified:
[[range .FilesModified]]- [[.]]
[[end]][[end]]
[[.Note]]

## Instructions

Review the work against the task. Then end your reply with a single line:

DECISION: approve
DECISION: reject: <reason>
DECISION: request_changes: <what must change>

Use approve only when the task is fully done. Use reject only for work that
is unsalvageable. Otherwise use request_changes with concrete, actionable
feedback.
`

type workerContext struct {
	Iteration       int
	MaxTurns        int
	TaskDescription string
	Feedback        string
}

type reviewerContext struct {
	Iteration       int
	MaxTurns        int
	TaskDescription string
	FilesModified   []string
	Note            string
}

var (
	workerTmpl   = template.Must(template.New("worker").Delims("[[", "]]").Parse(workerTemplate))
	reviewerTmpl = template.Must(template.New("reviewer").Delims("[[", "]]").Parse(reviewerTemplate))
)

// WorkerPrompt renders the implementation prompt for the given iteration.
// feedback is the previous reviewer feedback, empty on the first iteration.
func WorkerPrompt(cfg Config, iteration int, feedback string) (string, error) {
	return render(workerTmpl, workerContext{
		Iteration:       iteration,
		MaxTurns:        cfg.MaxTurns,
		TaskDescription: cfg.TaskDescription,
		Feedback:        strings.TrimSpace(feedback),
	})
}

// ReviewerPrompt renders the review prompt for a completed worker turn.
func ReviewerPrompt(cfg Config, iteration int, summary parse.Summary) (string, error) {
	note := strings.TrimSpace(summary.Note)
	if note == "" {
		note = "(the worker provided no summary note)"
	}
	return render(reviewerTmpl, reviewerContext{
		Iteration:       iteration,
		MaxTurns:        cfg.MaxTurns,
		TaskDescription: cfg.TaskDescription,
		FilesModified:   summary.FilesModified,
		Note:            note,
	})
}

func render(tmpl *template.Template, ctx any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
