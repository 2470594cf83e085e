package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const vendorGUID = "3b389299-abaf-433b-a4a9-23c84402fcad"

// cliRun is the captured outcome of one CLI invocation.
type cliRun struct {
	Stdout string
	Stderr string
	Err    error
}

// env runs commands against one database, like consecutive invocations
// of the binary.
type env struct {
	t  *testing.T
	db string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return &env{t: t, db: filepath.Join(t.TempDir(), "varpol.db")}
}

func (e *env) run(args ...string) cliRun {
	e.t.Helper()
	return runCLI(e.t, append([]string{"--db", e.db}, args...)...)
}

// runJSON runs with --format json and decodes the response envelope.
func (e *env) runJSON(args ...string) (cliRun, response) {
	e.t.Helper()
	r := e.run(append([]string{"--format", "json"}, args...)...)
	var resp response
	require.NoError(e.t, json.Unmarshal([]byte(r.Stdout), &resp), "stdout: %s", r.Stdout)
	return r, resp
}

func runCLI(t *testing.T, args ...string) cliRun {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return cliRun{Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
}

// response is CLIResponse with the payload left raw for typed decoding.
type response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

func decodeData[T any](t *testing.T, resp response) T {
	t.Helper()
	require.Equal(t, "ok", resp.Status, "error: %+v", resp.Error)
	var v T
	require.NoError(t, json.Unmarshal(resp.Data, &v))
	return v
}
