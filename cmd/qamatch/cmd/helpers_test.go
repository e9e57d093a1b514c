package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// isolate points every config, data and store location at temp dirs and
// selects the offline embedder. It returns the project directory.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("QAMATCH_HOME", home)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("QAMATCH_STORE_BACKEND", "sqlite")
	t.Setenv("QAMATCH_STORE_PATH", filepath.Join(home, "qa.db"))
	t.Setenv("QAMATCH_EMBEDDINGS_PROVIDER", "static")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("NO_COLOR", "1")
	return t.TempDir()
}

// run executes the root command with args and returns stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// mustRun is run that fails the test on error.
func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	stdout, stderr, err := run(t, args...)
	require.NoError(t, err, "stderr: %s", stderr)
	return stdout
}

var sampleJSONL = strings.Join([]string{
	`{"text_chunk": "Вопрос: Что такое GPA? Ответ: GPA это средний балл."}`,
	`{"text_chunk": "Вопрос: Где находится общежитие? Ответ: Общежитие находится на улице Абая 10."}`,
	`{"text_chunk": "Вопрос: How do I reset my password? Ответ: Use the reset link on the login page."}`,
}, "\n") + "\n"

// buildIndex stages sampleJSONL and builds the index.
func buildIndex(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kb.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(sampleJSONL), 0o644))
	mustRun(t, "ingest", "stage", path)
	mustRun(t, "ingest", "build")
}
