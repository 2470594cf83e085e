package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestScenarios_Golden(t *testing.T) {
	for _, name := range []string{"lock_now", "lock_on_var_state", "authenticated_variable"} {
		t.Run(name, func(t *testing.T) {
			result, err := RunWithGolden(t, loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestScenarios_AllPass(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)
			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	s := loadTestScenario(t, "authenticated_variable")

	r1, err := Run(s)
	require.NoError(t, err)
	r2, err := Run(s)
	require.NoError(t, err)

	b1, err := MarshalSnapshot(s.Name, r1)
	require.NoError(t, err)
	b2, err := MarshalSnapshot(s.Name, r2)
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(b2))
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: mismatch
namespaces: {vendor: 3b389299-abaf-433b-a4a9-23c84402fcad}
flow:
  - do: register
    policy: {namespace: vendor, name: Var, lock: lock_now}
  - do: write
    variable: {namespace: vendor, name: Var, attributes: NV, data: "01"}
    expect: SUCCESS
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected SUCCESS, got WRITE_PROTECTED")
}

func TestRun_SetupMustSucceed(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: bad_setup
setup:
  - do: lock
  - do: lock
flow:
  - do: dump
`))
	require.NoError(t, err)

	_, err = Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ALREADY_LOCKED")
}

func TestRun_SetupTraced(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: setup_traced
session: boot-7
setup:
  - do: disable
flow:
  - do: disable
    expect: ALREADY_EXISTS
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 2)
	assert.Equal(t, "setup", result.Trace[0].Phase)
	assert.Equal(t, "flow", result.Trace[1].Phase)
	assert.Equal(t, 2, result.Trace[1].Seq)
	assert.Equal(t, "boot-7", result.State.Session)
}

func TestRun_MalformedStepIsError(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: malformed
flow:
  - do: write
    variable: {namespace: nowhere, name: Var, data: "01"}
`))
	require.NoError(t, err)

	_, err = Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `namespace "nowhere"`)
}

func TestRun_InertTriggerNeverLocks(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: inert_trigger
namespaces: {vendor: 3b389299-abaf-433b-a4a9-23c84402fcad}
flow:
  - do: register
    policy:
      namespace: vendor
      name: Target
      lock: lock_on_var_state
      trigger: {namespace: vendor, name: Trigger, value: "0101"}
    expect: SUCCESS
  - do: write
    variable: {namespace: vendor, name: Trigger, attributes: NV, data: "01"}
    expect: SUCCESS
  - do: write
    variable: {namespace: vendor, name: Target, attributes: NV, data: "01"}
    expect: SUCCESS
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
