package signal

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/covenantmedia/pulpit/internal/app/orch"
	"github.com/covenantmedia/pulpit/internal/config"
	"github.com/covenantmedia/pulpit/internal/core"
	"github.com/covenantmedia/pulpit/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type SignalWSController struct {
	Orch     *orch.Orchestrator
	Identity core.Identity
	Cfg      config.SignalConfig
}

func NewSignalWSController(o *orch.Orchestrator, id core.Identity, cfg config.SignalConfig) *SignalWSController {
	return &SignalWSController{
		Orch:     o,
		Identity: id,
		Cfg:      cfg,
	}
}

// wsSignalConn is one signaling channel. It also remembers which sessions
// were opened over it, so a dropped channel can take them down.
type wsSignalConn struct {
	conn    *websocket.Conn
	send    chan core.Frame
	owner   domain.Principal
	limiter *FrameRateLimiter

	mu     sync.RWMutex
	closed bool
	sids   map[domain.SessionID]struct{}
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrChannelClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *wsSignalConn) remember(sid domain.SessionID) {
	c.mu.Lock()
	c.sids[sid] = struct{}{}
	c.mu.Unlock()
}

func (c *wsSignalConn) forget(sid domain.SessionID) {
	c.mu.Lock()
	delete(c.sids, sid)
	c.mu.Unlock()
}

func (c *wsSignalConn) owns(sid domain.SessionID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sids[sid]
	return ok
}

func (c *wsSignalConn) sessions() []domain.SessionID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.SessionID, 0, len(c.sids))
	for sid := range c.sids {
		out = append(out, sid)
	}
	return out
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal authenticates the caller, upgrades to websocket and runs
// the channel until either side goes away.
func (ctl *SignalWSController) HandleSignal(c *gin.Context) {
	principal, err := ctl.authenticate(c)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("rejected WS connection")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	log.Info().Str("module", "signal").Str("subject", principal.Subject).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &wsSignalConn{
		conn:    ws,
		send:    make(chan core.Frame, ctl.Cfg.SendBuffer),
		owner:   *principal,
		limiter: NewFrameRateLimiter(ctl.Cfg.FramesPerSecond, time.Second),
		sids:    make(map[domain.SessionID]struct{}),
	}

	// The handler blocks in readPump: returning would cancel the request
	// context under the hijacked connection and kill the pumps.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go ctl.writePump(ctx, conn)
	ctl.readPump(ctx, conn)
}

// authenticate accepts the token as a query parameter, because browser
// websockets cannot set headers, or as a bearer header for everyone else.
func (ctl *SignalWSController) authenticate(c *gin.Context) (*domain.Principal, error) {
	token := c.Query("token")
	if token == "" {
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	return ctl.Identity.Verify(c.Request.Context(), token)
}
