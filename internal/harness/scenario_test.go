package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ResolvesBundles(t *testing.T) {
	s := loadTestScenario(t, "lock_now")
	require.Len(t, s.Bundles, 1)
	assert.Equal(t, filepath.Join("testdata", "bundles", "platform.cue"), s.Bundles[0])
	assert.Equal(t, "lock_now", s.Name)
	assert.Len(t, s.Flow, 12)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_AbsoluteBundleKept(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: s\nbundles: [/abs/b.cue]\nflow:\n  - do: lock\n"), 0o600))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/abs/b.cue"}, s.Bundles)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "name: x\nflwo: []\n", "field flwo not found"},
		{"missing name", "flow:\n  - do: lock\n", "name is required"},
		{"empty flow", "name: x\n", "flow must have at least one step"},
		{"missing do", "name: x\nflow:\n  - expect: SUCCESS\n", "flow[0]: do is required"},
		{"unknown step", "name: x\nflow:\n  - do: reboot\n", `unknown step "reboot"`},
		{"register without policy", "name: x\nflow:\n  - do: register\n", "policy is required for register"},
		{"write without variable", "name: x\nflow:\n  - do: write\n", "variable is required for write"},
		{"auth_write without signer", "name: x\nflow:\n  - do: auth_write\n    variable: {namespace: a, name: b}\n", "signer is required"},
		{"setup with expect", "name: x\nsetup:\n  - do: lock\n    expect: SUCCESS\nflow:\n  - do: lock\n", "setup steps cannot set expect"},
		{"unknown assertion", "name: x\nflow:\n  - do: lock\nassertions:\n  - type: vibes\n", `unknown assertion type "vibes"`},
		{"empty state assertion", "name: x\nflow:\n  - do: lock\nassertions:\n  - type: state\n", "state assertion needs"},
		{"outcome_count without outcome", "name: x\nflow:\n  - do: lock\nassertions:\n  - type: outcome_count\n", "outcome is required"},
		{"trace_order without steps", "name: x\nflow:\n  - do: lock\nassertions:\n  - type: trace_order\n", "steps list is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
