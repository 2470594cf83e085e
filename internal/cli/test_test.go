package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var harnessScenarios = filepath.Join("..", "harness", "testdata", "scenarios")

func TestTestCommand_HarnessScenariosMatchGoldens(t *testing.T) {
	r := runCLI(t, "--format", "json", "test", harnessScenarios)
	require.NoError(t, r.Err, "stdout: %s", r.Stdout)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(r.Stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.Data.Failed)
	assert.Equal(t, resp.Data.Total, resp.Data.Passed)
	require.NotZero(t, resp.Data.Total)
	for _, s := range resp.Data.Scenarios {
		assert.Equal(t, "match", s.Golden, s.Name)
	}
}

func TestTestCommand_Filter(t *testing.T) {
	r := runCLI(t, "test", harnessScenarios, "--filter", "lock_now")
	require.NoError(t, r.Err)
	assert.Contains(t, r.Stdout, "✓ lock_now")
	assert.Contains(t, r.Stdout, "1 passed, 0 failed, 1 total")
}

func TestTestCommand_InvalidFilter(t *testing.T) {
	r := runCLI(t, "test", harnessScenarios, "--filter", "[")
	require.Error(t, r.Err)
	assert.Equal(t, ExitCommandError, GetExitCode(r.Err))
}

func TestTestCommand_MissingPath(t *testing.T) {
	r := runCLI(t, "test", "/nonexistent/scenarios")
	require.Error(t, r.Err)
	assert.Equal(t, ExitCommandError, GetExitCode(r.Err))
	assert.Contains(t, r.Stdout, "scenario path not found")
}

func TestTestCommand_MissingArgs(t *testing.T) {
	r := runCLI(t, "test")
	require.Error(t, r.Err)
	assert.Contains(t, r.Err.Error(), "requires at least 1 arg")
}

func TestTestCommand_EmptyDir(t *testing.T) {
	r := runCLI(t, "test", t.TempDir())
	require.NoError(t, r.Err)
	assert.Contains(t, r.Stdout, "No scenarios found.")
}

func TestTestCommand_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	scenario := `name: failing
flow:
  - do: lock
    expect: SUCCESS
  - do: lock
    expect: SUCCESS
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "failing.yaml"), []byte(scenario), 0o600))

	r := runCLI(t, "test", dir)
	require.Error(t, r.Err)
	assert.Equal(t, ExitFailure, GetExitCode(r.Err))
	assert.True(t, IsReported(r.Err))
	assert.Contains(t, r.Stdout, "✗ failing")
	assert.Contains(t, r.Stdout, "expected SUCCESS, got ALREADY_LOCKED")
}

func TestTestCommand_UpdateThenMatch(t *testing.T) {
	dir := t.TempDir()
	scenariosDir := filepath.Join(dir, "scenarios")
	require.NoError(t, os.MkdirAll(scenariosDir, 0o755))
	scenario := `name: disable_twice
flow:
  - do: disable
    expect: SUCCESS
  - do: disable
    expect: ALREADY_EXISTS
`
	require.NoError(t, os.WriteFile(filepath.Join(scenariosDir, "disable_twice.yml"), []byte(scenario), 0o600))

	r := runCLI(t, "test", scenariosDir, "--update")
	require.NoError(t, r.Err)
	assert.Contains(t, r.Stdout, "✓ disable_twice (golden updated)")

	golden, err := os.ReadFile(filepath.Join(dir, "golden", "disable_twice.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name": "disable_twice"`)

	r = runCLI(t, "--format", "json", "test", scenariosDir)
	require.NoError(t, r.Err)
	assert.Contains(t, r.Stdout, `"golden":"match"`)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "disable_twice.golden"), []byte("{}\n"), 0o644))
	r = runCLI(t, "test", scenariosDir)
	require.Error(t, r.Err)
	assert.Contains(t, r.Stdout, "trace does not match golden file")
}

func TestTestCommand_GoldenDirFlag(t *testing.T) {
	goldenDir := t.TempDir()
	r := runCLI(t, "test", harnessScenarios, "--filter", "lock_now", "--golden-dir", goldenDir, "--update")
	require.NoError(t, r.Err)

	written, err := os.ReadFile(filepath.Join(goldenDir, "lock_now.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join("..", "harness", "testdata", "golden", "lock_now.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))
}
