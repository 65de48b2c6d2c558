package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/pagebot/internal/store"
	"github.com/roelfdiedericks/pagebot/internal/webhook"
)

type countingHandler struct {
	events int
}

func (c *countingHandler) HandleEvents(_ context.Context, events []webhook.Event) {
	c.events += len(events)
}

func newTestServer(t *testing.T, delay time.Duration) (*httptest.Server, *store.FileStore, *countingHandler) {
	t.Helper()
	st := store.Open(filepath.Join(t.TempDir(), "bot_db.json"))
	events := &countingHandler{}
	wh := webhook.NewHandler("tok", "", events, nil)
	s := NewServer(&ServerConfig{FailureDelay: delay}, wh, st)

	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return ts, st, events
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestWebhookRoutes(t *testing.T) {
	ts, _, events := newTestServer(t, -1)

	code, body := get(t, ts.URL+"/webhook?hub.mode=subscribe&hub.verify_token=tok&hub.challenge=xyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "xyz", body)

	resp, err := http.Post(ts.URL+"/webhook", "application/json",
		strings.NewReader(`{"object":"page","entry":[{"messaging":[{"sender":{"id":"U1"},"message":{"text":"/hi"}}]}]}`))
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "EVENT_RECEIVED", string(data))
	assert.Equal(t, 1, events.events)

	resp, err = http.Post(ts.URL+"/webhook", "application/json", strings.NewReader(`{"object":"user"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	ts, st, _ := newTestServer(t, -1)
	_, _, err := st.AddMember("U1", time.Now())
	require.NoError(t, err)
	require.NoError(t, st.Subscribe("U1"))

	code, body := get(t, ts.URL+"/health")
	require.Equal(t, http.StatusOK, code)

	var health healthResponse
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	assert.Equal(t, healthResponse{Status: "ok", Members: 1, Subscribers: 1}, health)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t, -1)
	get(t, ts.URL+"/health")

	code, body := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "pagebot_http_requests_total")
}

func TestFailedVerificationIsRateLimited(t *testing.T) {
	ts, _, _ := newTestServer(t, time.Minute)

	code, _ := get(t, ts.URL+"/webhook?hub.mode=subscribe&hub.verify_token=bad&hub.challenge=1")
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = get(t, ts.URL+"/webhook?hub.mode=subscribe&hub.verify_token=tok&hub.challenge=1")
	assert.Equal(t, http.StatusTooManyRequests, code)

	// other routes are unaffected
	code, _ = get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
}

func serve(h http.Handler, method, target, remote string, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = remote
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBackoffIgnoresForwardedHeaders(t *testing.T) {
	st := store.Open(filepath.Join(t.TempDir(), "bot_db.json"))
	events := &countingHandler{}
	h := NewServer(&ServerConfig{FailureDelay: time.Minute}, webhook.NewHandler("tok", "", events, nil), st).Routes()

	spoofed := map[string]string{"X-Forwarded-For": "31.13.24.1", "X-Real-IP": "31.13.24.1"}
	rec := serve(h, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=bad&hub.challenge=1", "6.6.6.6:4000", "", spoofed)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(h, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=tok&hub.challenge=ok", "31.13.24.1:443", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = serve(h, http.MethodPost, "/webhook", "31.13.24.1:443",
		`{"object":"page","entry":[{"messaging":[{"sender":{"id":"U1"},"message":{"text":"/hi"}}]}]}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, events.events)

	// the failing peer itself is still backed off
	rec = serve(h, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=tok&hub.challenge=1", "6.6.6.6:4001", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestDeliveriesAreNeverBackedOff(t *testing.T) {
	st := store.Open(filepath.Join(t.TempDir(), "bot_db.json"))
	events := &countingHandler{}
	h := NewServer(&ServerConfig{FailureDelay: time.Minute}, webhook.NewHandler("tok", "", events, nil), st).Routes()

	rec := serve(h, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=bad&hub.challenge=1", "31.13.24.1:443", "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(h, http.MethodPost, "/webhook", "31.13.24.1:443",
		`{"object":"page","entry":[{"messaging":[{"sender":{"id":"U1"},"message":{"text":"/hi"}}]}]}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "EVENT_RECEIVED", rec.Body.String())
	assert.Equal(t, 1, events.events)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(50 * time.Millisecond)
	assert.False(t, rl.IsLimited("1.2.3.4"))

	rl.RecordFailure("1.2.3.4")
	assert.True(t, rl.IsLimited("1.2.3.4"))
	assert.False(t, rl.IsLimited("5.6.7.8"))

	rl.ClearFailure("1.2.3.4")
	assert.False(t, rl.IsLimited("1.2.3.4"))

	rl.RecordFailure("1.2.3.4")
	time.Sleep(60 * time.Millisecond)
	assert.False(t, rl.IsLimited("1.2.3.4"))
}

func TestStartStop(t *testing.T) {
	st := store.Open(filepath.Join(t.TempDir(), "bot_db.json"))
	s := NewServer(&ServerConfig{Listen: "127.0.0.1:0"}, webhook.NewHandler("tok", "", nil, nil), st)
	require.NoError(t, s.Start())

	code, _ := get(t, "http://"+s.Addr()+"/health")
	assert.Equal(t, http.StatusOK, code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/webhook", normalizePath("/webhook"))
	assert.Equal(t, "/health", normalizePath("/health"))
	assert.Equal(t, "other", normalizePath("/wp-admin/login.php"))
}
