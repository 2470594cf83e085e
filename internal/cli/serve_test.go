package cli

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/varpol/internal/config"
	"github.com/roach88/varpol/internal/engine"
	"github.com/roach88/varpol/internal/ir"
	"github.com/roach88/varpol/internal/mailbox"
	"github.com/roach88/varpol/internal/server"
)

func newServeFixture(t *testing.T, readyToBoot bool, bundles ...string) (*runtime, *mailbox.Client, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "varpol.db")
	cfg.Engine.LockAtReadyToBoot = readyToBoot
	cfg.Log.Level = "error"

	ctx := context.Background()
	rt, err := openRuntime(ctx, &cfg, io.Discard)
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	srv, err := prepareServer(ctx, rt, bundles)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return rt, mailbox.NewClient(server.NewHTTPTransport(ts.URL, ts.Client())), ts
}

func TestServe_MailboxRegistersIntoJournal(t *testing.T) {
	rt, client, _ := newServeFixture(t, false, platformBundle)
	ctx := context.Background()

	enabled, err := client.IsEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	table, err := client.Dump(ctx)
	require.NoError(t, err)
	policies, err := ir.ParsePolicyTable(table)
	require.NoError(t, err)
	assert.Len(t, policies, 3)

	vendor := ir.MustParseNamespace(vendorGUID)
	require.NoError(t, client.Register(ctx, ir.NewPolicy(vendor, "Extra", ir.LockNow)))
	require.NoError(t, client.Lock(ctx))

	st, err := rt.store.LoadSession(ctx)
	require.NoError(t, err)
	assert.True(t, st.Locked)
	records, err := rt.store.LoadPolicies(ctx, st.ID)
	require.NoError(t, err)
	assert.Len(t, records, 4)
}

func TestServe_ReadyToBootLocks(t *testing.T) {
	rt, client, _ := newServeFixture(t, true, platformBundle)
	ctx := context.Background()

	assert.True(t, rt.engine.IsLocked())

	err := client.Register(ctx, ir.NewPolicy(ir.MustParseNamespace(vendorGUID), "Late", ir.LockNow))
	require.Error(t, err)
	assert.True(t, engine.IsWriteProtected(err))

	table, err := client.Dump(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, table)
}

func TestServe_MetricsEndpoint(t *testing.T) {
	_, client, ts := newServeFixture(t, false, platformBundle)
	_, err := client.IsEnabled(context.Background())
	require.NoError(t, err)

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "varpol_registered_policies 3")
	assert.Contains(t, string(body), `varpol_mailbox_commands_total{command="is_enabled",status="SUCCESS"} 1`)
}

func TestServe_BadBundle(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "varpol.db")
	rt, err := openRuntime(context.Background(), &cfg, io.Discard)
	require.NoError(t, err)
	defer rt.Close()

	_, err = prepareServer(context.Background(), rt, []string{filepath.Join("testdata", "duplicate.cue")})
	require.Error(t, err)
	assert.True(t, engine.IsAlreadyExists(err))
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	serveCmd, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	for _, name := range []string{"listen", "bundle", "ready-to-boot"} {
		assert.NotNil(t, serveCmd.Flags().Lookup(name), name)
	}
}
