package e2e_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}
	t.Parallel()

	tp := newTestProject(t)
	out := tp.runExpectSuccess("version")
	assert.Contains(t, out, "loopdeck")
}

func TestVersionCommandJSON(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}
	t.Parallel()

	tp := newTestProject(t)
	out := tp.runExpectSuccess("version", "--json")
	assert.Contains(t, out, `"version"`)
}

func TestStatusWithNoHistory(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}
	t.Parallel()

	tp := newTestProject(t)
	out := tp.runExpectSuccess("status")
	assert.Contains(t, out, "no loops recorded")
}

func TestRunLoopToApproval(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}
	t.Parallel()

	tp := newTestProject(t)
	out := tp.runExpectSuccess("run", "--task", "add a readme")

	assert.Contains(t, out, "iteration 1")
	assert.Contains(t, out, "approve")
	assert.Contains(t, out, "loop finished: approved")

	// The run is persisted, visible via status.
	out = tp.runExpectSuccess("status")
	assert.Contains(t, out, "approved")
	assert.Contains(t, out, "1 iteration(s)")

	// The history record landed under the configured data dir.
	entries, err := os.ReadDir(filepath.Join(tp.Dir, ".loopdeck", "history", "default"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunFailsWithUnknownAgent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}
	t.Parallel()

	tp := newTestProject(t)
	tp.writeConfig(`[loop]
worker_agent = "missing"
reviewer_agent = "missing"
`)

	out, err := tp.run("run", "--task", "anything").CombinedOutput()
	require.Error(t, err)
	assert.Contains(t, string(out), "missing")
}
