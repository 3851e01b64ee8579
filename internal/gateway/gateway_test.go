// ABOUTME: Tests for the gateway's HTTP API and lifecycle
// ABOUTME: Uses an httptest fake of the agent runtime and an in-memory history store

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentgate/internal/auth"
	"github.com/2389/agentgate/internal/config"
	"github.com/2389/agentgate/internal/store"
	"github.com/2389/agentgate/internal/subscription"
)

const testIdentity = "0xabc"

// fakeRuntime is an httptest stand-in for the agent runtime service.
type fakeRuntime struct {
	mu      sync.Mutex
	agents  string
	stopped []string
	set     map[string]json.RawMessage
	server  *httptest.Server
}

func newFakeRuntime(t *testing.T) *fakeRuntime {
	t.Helper()
	f := &fakeRuntime{
		agents: `{"agents":[{"id":"a1","name":"trump","clients":["twitter"]}]}`,
		set:    make(map[string]json.RawMessage),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /agents", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, f.agents)
	})
	mux.HandleFunc("POST /agents/{id}/stop", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.stopped = append(f.stopped, r.PathValue("id"))
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"status":"stopped"}`)
	})
	mux.HandleFunc("POST /agents/{id}/set", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.set[r.PathValue("id")] = body
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"status":"started"}`)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRuntime) stoppedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopped...)
}

func (f *fakeRuntime) setCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.set)
}

func testConfig(t *testing.T, runtimeURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = ":memory:"
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "container_mount", "subscription.json")
	cfg.Runtime.BaseURL = runtimeURL
	cfg.Runtime.Timeout = 2 * time.Second
	return cfg
}

func newTestGatewayWithConfig(t *testing.T, cfg *config.Config) *Gateway {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	gw, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		gw.idempotency.Close()
		_ = gw.store.Close()
	})
	return gw
}

func newTestGateway(t *testing.T) (*Gateway, *fakeRuntime) {
	t.Helper()
	rt := newFakeRuntime(t)
	return newTestGatewayWithConfig(t, testConfig(t, rt.server.URL)), rt
}

// do sends a request through the full handler chain.
func do(t *testing.T, gw *Gateway, method, path, identity, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if identity != "" {
		req.Header.Set(auth.DefaultIdentityHeader, identity)
	}
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := do(t, gw, http.MethodGet, "/health", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"Everything is fine!"}`, rec.Body.String())
}

func TestReady(t *testing.T) {
	gw, rt := newTestGateway(t)

	rec := do(t, gw, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rt.server.Close()
	rec = do(t, gw, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORS(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := do(t, gw, http.MethodGet, "/health", "", "")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, gw, http.MethodOptions, "/subscribe", "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), auth.DefaultIdentityHeader)
}

func TestCORS_ConfiguredOrigin(t *testing.T) {
	rt := newFakeRuntime(t)
	cfg := testConfig(t, rt.server.URL)
	cfg.Server.CORSOrigin = "https://app.example.com"
	gw := newTestGatewayWithConfig(t, cfg)

	rec := do(t, gw, http.MethodGet, "/health", "", "")
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMethodNotAllowed(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := do(t, gw, http.MethodGet, "/subscribe", testIdentity, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestIndexAndNotFound(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := do(t, gw, http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<h1>agentgate</h1>")

	rec = do(t, gw, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExampleAgent(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := do(t, gw, http.MethodGet, "/agents/example", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "eliza", decode(t, rec)["name"])
}

func TestManifest(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := do(t, gw, http.MethodGet, "/manifest", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var m Manifest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, "agentgate", m.Name)

	uris := make([]string, 0, len(m.Endpoints))
	for _, e := range m.Endpoints {
		uris = append(uris, e.URI)
	}
	assert.Contains(t, uris, "/subscribe")
	assert.Contains(t, uris, "/metrics")
}

func TestListAgents_RelaysRuntime(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := do(t, gw, http.MethodGet, "/agents", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"agents":[{"id":"a1","name":"trump","clients":["twitter"]}]}`, rec.Body.String())
}

func TestListAgents_RuntimeDown(t *testing.T) {
	gw, rt := newTestGateway(t)
	rt.server.Close()

	rec := do(t, gw, http.MethodGet, "/agents", "", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "agent runtime unavailable", body["message"])
	assert.NotContains(t, rec.Body.String(), "127.0.0.1")
}

func TestStopAgent(t *testing.T) {
	gw, rt := newTestGateway(t)

	rec := do(t, gw, http.MethodPost, "/agents/stop", "", `{"agent_id":"a1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"stopped"}`, rec.Body.String())
	assert.Equal(t, []string{"a1"}, rt.stoppedIDs())

	rec = do(t, gw, http.MethodPost, "/agents/stop", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "agent_id is required", decode(t, rec)["message"])

	rec = do(t, gw, http.MethodPost, "/agents/stop", "", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStopAgent_OwnerOnly(t *testing.T) {
	gw, rt := newTestGateway(t)
	require.NoError(t, gw.store.SetAgentOwner(context.Background(), "a1", testIdentity))

	rec := do(t, gw, http.MethodPost, "/agents/stop", "", `{"agent_id":"a1"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, msgNotAgentOwner, decode(t, rec)["message"])

	rec = do(t, gw, http.MethodPost, "/agents/stop", "0xother", `{"agent_id":"a1"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rt.stoppedIDs(), "runtime must not see a refused stop")

	rec = do(t, gw, http.MethodPost, "/agents/stop", testIdentity, `{"agent_id":"a1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a1"}, rt.stoppedIDs())
}

func TestSubscribe_DefaultsToOnePeriod(t *testing.T) {
	gw, _ := newTestGateway(t)

	before := time.Now().Unix()
	rec := do(t, gw, http.MethodPost, "/subscribe", testIdentity, "")
	after := time.Now().Unix()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SubscribeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "updated", resp.Status)
	assert.GreaterOrEqual(t, resp.End, before+2592000)
	assert.LessOrEqual(t, resp.End, after+2592000)
	assert.Equal(t, []CostResponse{{Currency: "ProcessingUnits", Used: 1}}, resp.Costs)
}

func TestSubscribe_MonthsAreAdditive(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := do(t, gw, http.MethodPost, "/subscribe", testIdentity, `{"months":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var first SubscribeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	rec = do(t, gw, http.MethodPost, "/subscribe", testIdentity, `{"months":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var second SubscribeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))

	assert.Equal(t, first.End+2*2592000, second.End)
	assert.Equal(t, int64(2), second.Costs[0].Used)
}

func TestSubscribe_Validation(t *testing.T) {
	gw, _ := newTestGateway(t)

	for _, body := range []string{`{"months":0}`, `{"months":-1}`, `{"periods":1201}`, `{"months":"two"}`} {
		rec := do(t, gw, http.MethodPost, "/subscribe", testIdentity, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "error", decode(t, rec)["status"])
	}

	// Nothing was written for the rejected requests.
	rec := do(t, gw, http.MethodGet, "/subscription", testIdentity, "")
	assert.Equal(t, "Subscription is over", decode(t, rec)["message"])
}

func TestSubscribe_PastMaxExpiry(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()
	require.NoError(t, gw.ledger.Write(ctx, subscription.Ledger{testIdentity: subscription.MaxExpiryUnix}))

	rec := do(t, gw, http.MethodPost, "/subscribe", testIdentity, `{"months":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", decode(t, rec)["status"])
	assert.Equal(t, subscription.MaxExpiryUnix, gw.ledger.Read(ctx)[testIdentity])
}

func TestSubscribe_IdempotencyKey(t *testing.T) {
	gw, _ := newTestGateway(t)

	send := func(identity, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/subscribe", strings.NewReader(`{"months":2}`))
		req.Header.Set(auth.DefaultIdentityHeader, identity)
		req.Header.Set(IdempotencyKeyHeader, key)
		rec := httptest.NewRecorder()
		gw.Handler().ServeHTTP(rec, req)
		return rec
	}

	first := send(testIdentity, "purchase-1")
	require.Equal(t, http.StatusOK, first.Code)

	retry := send(testIdentity, "purchase-1")
	require.Equal(t, http.StatusOK, retry.Code)
	assert.Equal(t, "true", retry.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), retry.Body.String())

	// Only one extension was recorded.
	exts, err := gw.store.ListExtensions(context.Background(), testIdentity, 0)
	require.NoError(t, err)
	assert.Len(t, exts, 1)

	// Keys are scoped per identity.
	other := send("0xother", "purchase-1")
	require.Equal(t, http.StatusOK, other.Code)
	assert.Empty(t, other.Header().Get("Idempotent-Replayed"))

	// A new key extends again.
	next := send(testIdentity, "purchase-2")
	require.Equal(t, http.StatusOK, next.Code)
	assert.NotEqual(t, first.Body.String(), next.Body.String())
}

func TestSubscribe_IdempotencyKeyPending(t *testing.T) {
	gw, _ := newTestGateway(t)
	gw.idempotency.Reserve(testIdentity + "\x00" + "in-flight")

	req := httptest.NewRequest(http.MethodPost, "/subscribe", nil)
	req.Header.Set(auth.DefaultIdentityHeader, testIdentity)
	req.Header.Set(IdempotencyKeyHeader, "in-flight")
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubscribe_MissingIdentity(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := do(t, gw, http.MethodPost, "/subscribe", "", `{"months":1}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"status":"error","message":"identity is required"}`, rec.Body.String())
}

func TestSubscription_Status(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := do(t, gw, http.MethodGet, "/subscription", testIdentity, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"error","message":"Subscription is over"}`, rec.Body.String())

	do(t, gw, http.MethodPost, "/subscribe", testIdentity, `{"months":1}`)

	rec = do(t, gw, http.MethodGet, "/subscription", testIdentity, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SubscriptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, testIdentity, resp.Identity)
	assert.Greater(t, resp.RemainingSeconds, int64(2590000))

	// Another identity is unaffected.
	rec = do(t, gw, http.MethodGet, "/subscription", "0xother", "")
	assert.Equal(t, "error", decode(t, rec)["status"])
}

func TestSubscriptionHistory(t *testing.T) {
	gw, _ := newTestGateway(t)

	do(t, gw, http.MethodPost, "/subscribe", testIdentity, `{"months":1}`)
	do(t, gw, http.MethodPost, "/subscribe", testIdentity, `{"months":3}`)

	rec := do(t, gw, http.MethodGet, "/subscription/history", testIdentity, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Extensions, 2)
	assert.Equal(t, 3, resp.Extensions[0].Periods)
	assert.Equal(t, resp.Extensions[1].End, resp.Extensions[0].PreviousEnd)

	rec = do(t, gw, http.MethodGet, "/subscription/history?limit=x", testIdentity, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartAgent_RequiresSubscription(t *testing.T) {
	gw, rt := newTestGateway(t)

	rec := do(t, gw, http.MethodPost, "/agents/start", testIdentity, `{"agent_id":"a1","character":{"name":"eliza"}}`)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.JSONEq(t, `{"status":"error","message":"Subscription is over"}`, rec.Body.String())
	assert.Zero(t, rt.setCalls())

	action := store.AuditGuardRejected
	entries, err := gw.store.ListAuditLog(context.Background(), store.AuditFilter{Action: &action})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStartAgent_ActiveSubscription(t *testing.T) {
	gw, rt := newTestGateway(t)
	do(t, gw, http.MethodPost, "/subscribe", testIdentity, `{"months":1}`)

	character := `{"name":"eliza","clients":["twitter"]}`
	rec := do(t, gw, http.MethodPost, "/agents/start", testIdentity, `{"agent_id":"a b","character":`+character+`}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status":"started"}`, rec.Body.String())

	rt.mu.Lock()
	sent := rt.set["a b"]
	rt.mu.Unlock()
	assert.JSONEq(t, character, string(sent))

	owner, err := gw.store.GetAgentOwner(context.Background(), "a b")
	require.NoError(t, err)
	assert.Equal(t, testIdentity, owner.Identity)
}

func TestStartAgent_Validation(t *testing.T) {
	gw, rt := newTestGateway(t)
	do(t, gw, http.MethodPost, "/subscribe", testIdentity, "")

	tests := map[string]string{
		"missing agent":     `{"character":{"name":"eliza"}}`,
		"missing character": `{"agent_id":"a1"}`,
		"null character":    `{"agent_id":"a1","character":null}`,
		"empty character":   `{"agent_id":"a1","character":{}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := do(t, gw, http.MethodPost, "/agents/start", testIdentity, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Zero(t, rt.setCalls())
}

func TestStartAgent_RuntimeFailure(t *testing.T) {
	gw, rt := newTestGateway(t)
	do(t, gw, http.MethodPost, "/subscribe", testIdentity, "")
	rt.server.Close()

	rec := do(t, gw, http.MethodPost, "/agents/start", testIdentity, `{"agent_id":"a1","character":{"name":"eliza"}}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	_, err := gw.store.GetAgentOwner(context.Background(), "a1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJWTIdentity(t *testing.T) {
	rt := newFakeRuntime(t)
	cfg := testConfig(t, rt.server.URL)
	cfg.Auth.JWTSecret = "test-secret"
	gw := newTestGatewayWithConfig(t, cfg)

	// The identity header is not trusted once tokens are configured.
	rec := do(t, gw, http.MethodPost, "/subscribe", testIdentity, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := auth.NewTokens([]byte("test-secret")).Issue(testIdentity, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/subscribe", bytes.NewReader(nil))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	gw.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	gw, _ := newTestGateway(t)
	do(t, gw, http.MethodPost, "/subscribe", testIdentity, "")

	rec := do(t, gw, http.MethodGet, "/metrics", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agentgate_subscription_extensions_total")
}

func TestMetricsDisabled(t *testing.T) {
	rt := newFakeRuntime(t)
	cfg := testConfig(t, rt.server.URL)
	cfg.Metrics.Enabled = false
	gw := newTestGatewayWithConfig(t, cfg)

	rec := do(t, gw, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSweeps(t *testing.T) {
	gw, _ := newTestGateway(t)
	gw.Loop().Sweep(context.Background())

	rec := do(t, gw, http.MethodGet, "/reconcile/sweeps", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SweepsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "idle", resp.State)
	assert.Equal(t, "1h0m0s", resp.Interval)
	require.Len(t, resp.Sweeps, 1)
	assert.Equal(t, 1, resp.Sweeps[0].Listed)
	assert.Equal(t, 1, resp.Sweeps[0].Stopped)
}

func TestRun_SweepsAndShutsDown(t *testing.T) {
	gw, rt := newTestGateway(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	// a1 has no owner, so the startup sweep stops it.
	require.Eventually(t, func() bool {
		return len(rt.stoppedIDs()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRun_ReconcileDisabled(t *testing.T) {
	rt := newFakeRuntime(t)
	cfg := testConfig(t, rt.server.URL)
	cfg.Reconcile.Enabled = false
	gw := newTestGatewayWithConfig(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, gw.Run(ctx))

	assert.Empty(t, rt.stoppedIDs())
}

func TestRun_ListenFailure(t *testing.T) {
	rt := newFakeRuntime(t)
	cfg := testConfig(t, rt.server.URL)
	cfg.Server.HTTPAddr = "not-an-address"
	gw := newTestGatewayWithConfig(t, cfg)

	err := gw.Run(context.Background())
	assert.Error(t, err)
}
