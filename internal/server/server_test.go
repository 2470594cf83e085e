package server

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/varpol/internal/engine"
	"github.com/roach88/varpol/internal/ir"
	"github.com/roach88/varpol/internal/mailbox"
	"github.com/roach88/varpol/internal/metrics"
)

var testNamespace = ir.MustParseNamespace("3b389299-abaf-433b-a4a9-23c84402fcad")

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	engine *engine.Engine
	server *httptest.Server
	client *mailbox.Client
	http   *http.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	eng := engine.New(nil, engine.WithMetrics(m))
	d := mailbox.NewDispatcher(eng, mailbox.WithMetrics(m))
	srv := httptest.NewServer(New(d, WithMetrics(reg), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))).Handler())

	hc := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	t.Cleanup(func() {
		hc.CloseIdleConnections()
		srv.Close()
	})
	return &fixture{
		engine: eng,
		server: srv,
		client: mailbox.NewClient(NewHTTPTransport(srv.URL, hc)),
		http:   hc,
	}
}

func TestMailboxOverHTTP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := ir.NewPolicy(testNamespace, "Var1", ir.LockNow)
	require.NoError(t, f.client.Register(ctx, p))
	assert.True(t, engine.IsAlreadyExists(f.client.Register(ctx, p)))

	table, err := f.client.Dump(ctx)
	require.NoError(t, err)
	parsed, err := ir.ParsePolicyTable(table)
	require.NoError(t, err)
	assert.Equal(t, []ir.Policy{p}, parsed)

	require.NoError(t, f.client.Lock(ctx))
	assert.True(t, f.engine.IsLocked())
	assert.True(t, engine.IsAccessDenied(f.client.Disable(ctx)))

	enabled, err := f.client.IsEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestMailbox_ShortRequest(t *testing.T) {
	f := newFixture(t)
	resp, err := f.http.Post(f.server.URL+"/mailbox", ContentType, bytes.NewReader([]byte("VCPC")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err = NewHTTPTransport(f.server.URL, f.http).Communicate(context.Background(), []byte{1, 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
}

func TestMailbox_TooLarge(t *testing.T) {
	f := newFixture(t)
	body := make([]byte, MaxRequestSize+1)
	resp, err := f.http.Post(f.server.URL+"/mailbox", ContentType, bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestMailbox_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	resp, err := f.http.Get(f.server.URL + "/mailbox")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.client.Lock(context.Background()))

	resp, err := f.http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `varpol_mailbox_commands_total{command="lock",status="SUCCESS"} 1`)
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	srv := httptest.NewServer(New(mailbox.NewDispatcher(engine.New(nil))).Handler())
	defer srv.Close()
	hc := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}

	resp, err := hc.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	health, err := hc.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	body, _ := io.ReadAll(health.Body)
	assert.Equal(t, "ok\n", string(body))
}

func TestServe_GracefulShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(mailbox.NewDispatcher(engine.New(nil)), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	hc := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	c := mailbox.NewClient(NewHTTPTransport("http://"+ln.Addr().String()+"/", hc))
	enabled, err := c.IsEnabled(context.Background())
	require.NoError(t, err)
	assert.True(t, enabled)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestStart_ListenError(t *testing.T) {
	err := New(nil, WithAddr("256.0.0.1:bad")).Start(context.Background())
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "listen 256.0.0.1:bad"))
}
