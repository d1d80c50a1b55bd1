package e2e_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// testProject is an isolated directory with a built loopdeck binary, a
// loopdeck.toml, and the mock agent on PATH.
type testProject struct {
	Dir        string
	BinaryPath string
	t          *testing.T
}

// newTestProject builds the loopdeck binary into a fresh temp directory and
// copies the mock agent next to it.
func newTestProject(t *testing.T) *testProject {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("E2E tests with shell mock agents are not supported on Windows")
	}

	dir := t.TempDir()

	binary := filepath.Join(dir, "loopdeck")
	build := exec.Command("go", "build", "-o", binary, "./cmd/loopdeck")
	build.Dir = projectRoot()
	out, err := build.CombinedOutput()
	require.NoError(t, err, "building loopdeck: %s", string(out))

	mockDir := filepath.Join(dir, "mock-agents")
	copyMockAgents(t, mockDir)

	tp := &testProject{Dir: dir, BinaryPath: binary, t: t}
	tp.writeConfig(defaultTestConfig)
	return tp
}

// projectRoot returns the repository root, two directories above this file.
func projectRoot() string {
	_, thisFile, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(thisFile), "..", "..")
}

// copyMockAgents copies the scripts from testdata/mock-agents/ to destDir
// and marks them executable.
func copyMockAgents(t *testing.T, destDir string) {
	t.Helper()
	srcDir := filepath.Join(projectRoot(), "testdata", "mock-agents")
	require.NoError(t, os.MkdirAll(destDir, 0o755))

	entries, err := os.ReadDir(srcDir)
	require.NoError(t, err, "reading mock-agents dir")

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, readErr := os.ReadFile(filepath.Join(srcDir, entry.Name()))
		require.NoError(t, readErr)
		dst := filepath.Join(destDir, entry.Name())
		require.NoError(t, os.WriteFile(dst, data, 0o600))
		require.NoError(t, os.Chmod(dst, 0o755))
	}
}

const defaultTestConfig = `[loop]
max_turns = 3
data_dir = ".loopdeck/history"
worker_agent = "claude"
reviewer_agent = "claude"

[agents.claude]
command = "claude"
`

// writeConfig writes content to loopdeck.toml in tp.Dir.
func (tp *testProject) writeConfig(content string) {
	tp.t.Helper()
	err := os.WriteFile(filepath.Join(tp.Dir, "loopdeck.toml"), []byte(content), 0o644)
	require.NoError(tp.t, err)
}

// run creates an exec.Cmd for loopdeck with the mock agents prepended to
// PATH and the project directory as working directory.
func (tp *testProject) run(args ...string) *exec.Cmd {
	cmd := exec.Command(tp.BinaryPath, args...)
	cmd.Dir = tp.Dir
	cmd.Env = append(os.Environ(),
		"PATH="+filepath.Join(tp.Dir, "mock-agents")+string(os.PathListSeparator)+os.Getenv("PATH"),
		"NO_COLOR=1",
	)
	return cmd
}

// runExpectSuccess runs loopdeck and requires a zero exit status.
func (tp *testProject) runExpectSuccess(args ...string) string {
	tp.t.Helper()
	out, err := tp.run(args...).CombinedOutput()
	require.NoError(tp.t, err, "loopdeck %s failed:\n%s", strings.Join(args, " "), string(out))
	return string(out)
}
