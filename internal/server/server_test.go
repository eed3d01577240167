package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signwatch/internal/auth"
	"signwatch/internal/config"
	"signwatch/internal/pipeline"
	"signwatch/internal/violations"
)

type fakeStatus struct{}

func (fakeStatus) Stats() pipeline.Stats {
	return pipeline.Stats{FramesCaptured: 10, FramesEmitted: 8, Running: true}
}

type fakeClients int

func (c fakeClients) ClientCount() int { return int(c) }

type fakeViolations struct {
	events []violations.Event
	err    error
	limit  int
}

func (f *fakeViolations) RecentViolations(limit int) ([]violations.Event, error) {
	f.limit = limit
	return f.events, f.err
}

type fakeMetrics struct{ samples []pipeline.MetricsSample }

func (f fakeMetrics) RecentMetrics(limit int) ([]pipeline.MetricsSample, error) {
	return f.samples[:min(limit, len(f.samples))], nil
}

func newAuth(t *testing.T, enabled bool) *auth.Authenticator {
	t.Helper()
	a, err := auth.NewAuthenticator(config.AuthConfig{
		Enabled: enabled, Username: "admin", Password: "pw", JWTSecret: "k", TokenTTL: time.Hour,
	})
	require.NoError(t, err)
	return a
}

func do(h http.Handler, method, target, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := NewRouter(Deps{}, zerolog.Nop())
	rec := do(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatus(t *testing.T) {
	h := NewRouter(Deps{
		Pipeline: fakeStatus{},
		Engine:   "mock",
		Variant:  "mock",
		Camera:   "synthetic",
		Clients:  fakeClients(2),
	}, zerolog.Nop())

	rec := do(h, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "mock", resp.Engine)
	assert.Equal(t, "synthetic", resp.Camera)
	assert.Equal(t, 2, resp.Clients)
	assert.Equal(t, uint64(10), resp.Pipeline.FramesCaptured)
	assert.True(t, resp.Pipeline.Running)
}

func TestViolations(t *testing.T) {
	store := &fakeViolations{events: []violations.Event{{ID: "b"}, {ID: "a"}}}
	h := NewRouter(Deps{Violations: store}, zerolog.Nop())

	rec := do(h, http.MethodGet, "/api/violations?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, store.limit)

	var events []violations.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].ID)

	do(h, http.MethodGet, "/api/violations", "")
	assert.Equal(t, defaultLimit, store.limit)
	do(h, http.MethodGet, "/api/violations?limit=999999", "")
	assert.Equal(t, maxLimit, store.limit)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/violations?limit=-1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/violations?limit=x", "").Code)

	store.err = errors.New("disk gone")
	assert.Equal(t, http.StatusInternalServerError, do(h, http.MethodGet, "/api/violations", "").Code)
}

func TestMetrics(t *testing.T) {
	h := NewRouter(Deps{}, zerolog.Nop())
	assert.Equal(t, http.StatusServiceUnavailable, do(h, http.MethodGet, "/api/metrics", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(h, http.MethodGet, "/api/violations", "").Code)

	h = NewRouter(Deps{Metrics: fakeMetrics{samples: []pipeline.MetricsSample{{FPS: 30}, {FPS: 29}}}}, zerolog.Nop())
	rec := do(h, http.MethodGet, "/api/metrics?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"fps":30`)
	assert.NotContains(t, rec.Body.String(), `"fps":29`)
}

func TestLoginAndProtectedRoutes(t *testing.T) {
	h := NewRouter(Deps{Pipeline: fakeStatus{}, Auth: newAuth(t, true)}, zerolog.Nop())

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/status", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "").Code)

	rec := do(h, http.MethodPost, "/api/login", `{"username":"admin","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/login", `{`).Code)

	rec = do(h, http.MethodPost, "/api/login", `{"username":"admin","password":"pw"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var login loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)

	rec = do(h, http.MethodGet, "/api/status", "", "Authorization", "Bearer "+login.Token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginDisabled(t *testing.T) {
	h := NewRouter(Deps{Auth: newAuth(t, false)}, zerolog.Nop())
	rec := do(h, http.MethodPost, "/api/login", `{"username":"admin","password":"pw"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVideoRoutesAreMounted(t *testing.T) {
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	mjpeg := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	h := NewRouter(Deps{WebSocket: ws, MJPEG: mjpeg}, zerolog.Nop())
	assert.Equal(t, http.StatusTeapot, do(h, http.MethodGet, "/ws", "").Code)
	assert.Equal(t, http.StatusAccepted, do(h, http.MethodGet, "/stream.mjpeg", "").Code)
}
