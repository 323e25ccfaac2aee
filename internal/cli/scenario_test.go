package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hswatch/internal/harness"
)

var scenariosDir = filepath.Join("..", "harness", "testdata", "scenarios")

func executeScenario(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewScenarioCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestScenarioDirectoryPasses(t *testing.T) {
	out, err := executeScenario(t, "text", scenariosDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Failed: 0")
	assert.NotContains(t, out, "✗")
}

func TestScenarioJSON(t *testing.T) {
	out, err := executeScenario(t, "json", filepath.Join(scenariosDir, "reset_bound.yaml"))
	require.NoError(t, err)

	var resp struct {
		Status string              `json:"status"`
		Data   harness.SuiteResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
}

func TestScenarioFailureExitCode(t *testing.T) {
	doc := `name: wrong_count
description: Asserts a reset that never happens
tables:
  appmon:
    - {name: SCH, cycle_limit: 5, action: processor-reset}
steps:
  - liveness: {SCH: 1}
    ticks: 2
assertions:
  - {type: resets, count: 1}
`
	path := filepath.Join(t.TempDir(), "wrong_count.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	out, err := executeScenario(t, "text", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_count")
	assert.Contains(t, out, "Failed: 1")
}

func TestScenarioMissingPath(t *testing.T) {
	_, err := executeScenario(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestScenarioEmptyDirectory(t *testing.T) {
	out, err := executeScenario(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}
