package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenantmedia/pulpit/internal/adapters/identity"
	"github.com/covenantmedia/pulpit/internal/adapters/signal"
	"github.com/covenantmedia/pulpit/internal/app"
	"github.com/covenantmedia/pulpit/internal/app/bridge"
	"github.com/covenantmedia/pulpit/internal/app/orch"
	"github.com/covenantmedia/pulpit/internal/config"
	"github.com/covenantmedia/pulpit/internal/domain"
)

func newTestRouter(t *testing.T) (*gin.Engine, *app.Registry, *identity.Verifier) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Mode:       "test",
		StaticPath: "./web",
		Auth: config.AuthConfig{
			Secret:   "router-test-secret",
			TokenTTL: time.Hour,
		},
	}
	reg := app.NewRegistry()
	verifier := identity.NewVerifier(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	br := bridge.New(nil, func(bridge.Result) {}, bridge.Options{})
	o := &orch.Orchestrator{Registry: reg, Bridge: br, Policy: app.SimplePolicy{}}
	ctl := signal.NewSignalWSController(o, verifier, config.SignalConfig{SendBuffer: 8})

	return SetupRouter(cfg, reg, br, verifier, ctl), reg, verifier
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	r, _, verifier := newTestRouter(t)

	body := bytes.NewBufferString(`{"subject":"shepherd01","name":"Pastor John"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/login", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Contains(t, resp.Personas, "shepherd")

	p, err := verifier.Verify(context.Background(), resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "shepherd01", p.Subject)
	assert.Equal(t, "Pastor John", p.Name)
}

func TestLoginRejectsBadRequests(t *testing.T) {
	r, _, _ := newTestRouter(t)

	cases := []struct {
		name string
		body string
	}{
		{"no body", ""},
		{"empty subject", `{"subject":""}`},
		{"subject too long", `{"subject":"` + strings.Repeat("x", 80) + `"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewBufferString(tc.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestSessionEndpoints(t *testing.T) {
	r, reg, _ := newTestRouter(t)

	owner, err := domain.NewPrincipal("shepherd01", "")
	require.NoError(t, err)
	sess := reg.Create(*owner, domain.PersonaByName("scholar"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Sessions []domain.SessionInfo `json:"sessions"`
		Count    int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, sess.ID, list.Sessions[0].ID)
	assert.Equal(t, "scholar", list.Sessions[0].Persona)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/"+string(sess.ID), nil))
	require.Equal(t, http.StatusOK, w.Code)
	var info domain.SessionInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, sess.ID, info.ID)
	assert.Equal(t, "negotiating", info.State)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/no-such-session", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthz(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var health struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 0, health.Sessions)
}

func TestClientTokenCookieIssued(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var ct *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "ct" {
			ct = c
		}
	}
	require.NotNil(t, ct, "every response carries the client token cookie")
	assert.NotEmpty(t, ct.Value)
	assert.True(t, ct.HttpOnly)

	// A returning browser keeps its token.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.AddCookie(&http.Cookie{Name: "ct", Value: ct.Value})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		assert.NotEqual(t, "ct", c.Name, "existing token must not be reissued")
	}
}

func TestMetricsEndpointExposed(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pulpit_")
}
