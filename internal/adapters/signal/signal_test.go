package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	webrtcv4 "github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenantmedia/pulpit/internal/adapters/identity"
	"github.com/covenantmedia/pulpit/internal/app"
	"github.com/covenantmedia/pulpit/internal/app/orch"
	"github.com/covenantmedia/pulpit/internal/config"
	"github.com/covenantmedia/pulpit/internal/core"
	"github.com/covenantmedia/pulpit/internal/domain"
)

type stubMedia struct {
	mu     sync.Mutex
	closed bool

	onClosed func()
}

func (m *stubMedia) Start(context.Context) error { return nil }

func (m *stubMedia) Close() {
	m.mu.Lock()
	already := m.closed
	m.closed = true
	cb := m.onClosed
	m.mu.Unlock()
	if !already && cb != nil {
		cb()
	}
}

func (m *stubMedia) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *stubMedia) Negotiate(webrtcv4.SessionDescription) (*webrtcv4.SessionDescription, error) {
	return &webrtcv4.SessionDescription{Type: webrtcv4.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (m *stubMedia) AddICECandidate(webrtcv4.ICECandidateInit) error  { return nil }
func (m *stubMedia) OnICECandidate(func(webrtcv4.ICECandidateInit))   {}
func (m *stubMedia) OnTranscript(func(string))                        {}
func (m *stubMedia) OnAudioFrame(func(*rtp.Packet))                   {}
func (m *stubMedia) OnClosed(cb func())                               { m.onClosed = cb }

type stubBridge struct{}

func (b *stubBridge) Submit(domain.SessionID, domain.RequestID, core.Prompt) error {
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *orch.Orchestrator, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	o := &orch.Orchestrator{
		Registry:      app.NewRegistry(),
		Bridge:        &stubBridge{},
		Policy:        app.SimplePolicy{},
		EvictionGrace: time.Minute,
		Media: func(domain.SessionID) (core.MediaConnection, error) {
			return &stubMedia{}, nil
		},
	}
	verifier := identity.NewVerifier("signal-test-secret", time.Hour)
	token, err := verifier.Issue("tester", "Tester")
	require.NoError(t, err)

	ctl := NewSignalWSController(o, verifier, config.SignalConfig{
		ReadLimit:       32768,
		IdleTimeout:     time.Minute,
		SendBuffer:      8,
		FramesPerSecond: 100,
	})
	r := gin.New()
	r.GET("/api/ws/signal", ctl.HandleSignal)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, o, token
}

func dialSignal(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) core.Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f core.Frame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

func TestHandleSignalRejectsAnonymous(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/ws/signal")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleSignalRejectsGarbageToken(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/ws/signal?token=not-a-jwt")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOfferAnswerOverWire(t *testing.T) {
	srv, o, token := newTestServer(t)
	ws := dialSignal(t, srv, token)

	require.NoError(t, ws.WriteJSON(core.Frame{
		Kind:    core.KindOffer,
		Payload: core.Payload(core.OfferPayload{SDP: "offer-sdp"}),
	}))

	f := readFrame(t, ws)
	require.Equal(t, core.KindAnswer, f.Kind)
	require.NotEmpty(t, f.SessionID)
	var answer core.AnswerPayload
	require.NoError(t, json.Unmarshal(f.Payload, &answer))
	assert.Equal(t, "answer-sdp", answer.SDP)

	info, err := o.Registry.Snapshot(f.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "active", info.State)
	assert.Equal(t, "tester", info.Owner)
}

func TestPingPongOverWire(t *testing.T) {
	srv, _, token := newTestServer(t)
	ws := dialSignal(t, srv, token)

	require.NoError(t, ws.WriteJSON(core.Frame{Kind: core.KindPing}))
	f := readFrame(t, ws)
	assert.Equal(t, core.KindPong, f.Kind)
}

func TestMalformedFrameGetsErrorNotFatal(t *testing.T) {
	srv, _, token := newTestServer(t)
	ws := dialSignal(t, srv, token)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f := readFrame(t, ws)
	require.Equal(t, core.KindError, f.Kind)
	var notice core.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Payload, &notice))
	assert.Equal(t, "bad_payload", notice.Code)

	// The channel survives a bad frame.
	require.NoError(t, ws.WriteJSON(core.Frame{Kind: core.KindPing}))
	f = readFrame(t, ws)
	assert.Equal(t, core.KindPong, f.Kind)
}

func TestClientCloseFrameEndsSession(t *testing.T) {
	srv, o, token := newTestServer(t)
	ws := dialSignal(t, srv, token)

	require.NoError(t, ws.WriteJSON(core.Frame{
		Kind:    core.KindOffer,
		Payload: core.Payload(core.OfferPayload{SDP: "offer-sdp"}),
	}))
	f := readFrame(t, ws)
	require.Equal(t, core.KindAnswer, f.Kind)
	sid := f.SessionID

	require.NoError(t, ws.WriteJSON(core.Frame{SessionID: sid, Kind: core.KindClose}))

	require.Eventually(t, func() bool {
		info, err := o.Registry.Snapshot(sid)
		return err == nil && info.State == "closed"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseForForeignSessionIsIgnored(t *testing.T) {
	srv, o, token := newTestServer(t)
	wsA := dialSignal(t, srv, token)
	wsB := dialSignal(t, srv, token)

	require.NoError(t, wsA.WriteJSON(core.Frame{
		Kind:    core.KindOffer,
		Payload: core.Payload(core.OfferPayload{SDP: "offer-sdp"}),
	}))
	f := readFrame(t, wsA)
	sid := f.SessionID

	// B never opened sid; its close frame must not touch A's session.
	require.NoError(t, wsB.WriteJSON(core.Frame{SessionID: sid, Kind: core.KindClose}))
	require.NoError(t, wsB.WriteJSON(core.Frame{Kind: core.KindPing}))
	readFrame(t, wsB)

	info, err := o.Registry.Snapshot(sid)
	require.NoError(t, err)
	assert.Equal(t, "active", info.State)
}

func TestDisconnectClosesOwnedSessions(t *testing.T) {
	srv, o, token := newTestServer(t)
	ws := dialSignal(t, srv, token)

	require.NoError(t, ws.WriteJSON(core.Frame{
		Kind:    core.KindOffer,
		Payload: core.Payload(core.OfferPayload{SDP: "offer-sdp"}),
	}))
	f := readFrame(t, ws)
	sid := f.SessionID

	require.NoError(t, ws.Close())

	require.Eventually(t, func() bool {
		info, err := o.Registry.Snapshot(sid)
		if errors.Is(err, core.ErrNotFound) {
			return true
		}
		return err == nil && info.State == "closed"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTrySendBackpressureAndClose(t *testing.T) {
	c := &wsSignalConn{
		send: make(chan core.Frame, 2),
		sids: make(map[domain.SessionID]struct{}),
	}

	require.NoError(t, c.TrySend(core.Frame{Kind: core.KindPong}))
	require.NoError(t, c.TrySend(core.Frame{Kind: core.KindPong}))
	err := c.TrySend(core.Frame{Kind: core.KindPong})
	assert.ErrorIs(t, err, ErrBackpressure)

	// Closing flips TrySend to a terminal error.
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	err = c.TrySend(core.Frame{Kind: core.KindPong})
	assert.ErrorIs(t, err, core.ErrChannelClosed)
}

func TestFrameRateLimiterWindow(t *testing.T) {
	rl := NewFrameRateLimiter(3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(), "attempt %d should pass", i+1)
	}
	assert.False(t, rl.Allow(), "window is full")

	time.Sleep(80 * time.Millisecond)
	assert.True(t, rl.Allow(), "window slid past the old attempts")
}

func TestFrameRateLimiterDisabled(t *testing.T) {
	rl := NewFrameRateLimiter(0, time.Second)
	for i := 0; i < 100; i++ {
		require.True(t, rl.Allow())
	}
}
