package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/covenantmedia/pulpit/internal/core"
	"github.com/covenantmedia/pulpit/internal/domain"
	"github.com/covenantmedia/pulpit/internal/metrics"
)

const writeTimeout = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *wsSignalConn) {
	// Protocol pings keep the read deadline on the far side alive.
	pingEvery := ctl.Cfg.IdleTimeout * 9 / 10
	if pingEvery <= 0 {
		pingEvery = 30 * time.Second
	}
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		case f, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			data, err := json.Marshal(f)
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump marshal")
				continue
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
			metrics.RecordFrame("out")
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, c *wsSignalConn) {
	defer func() {
		// A dropped channel takes its sessions with it.
		for _, sid := range c.sessions() {
			ctl.Orch.CloseSession(sid, domain.CloseDisconnect)
		}
		log.Info().Str("module", "signal").Str("subject", c.owner.Subject).Msg("readPump closing")
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	idle := ctl.Cfg.IdleTimeout
	if idle <= 0 {
		idle = time.Minute
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("subject", c.owner.Subject).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("subject", c.owner.Subject).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(idle))
			if !c.limiter.Allow() {
				log.Warn().Str("module", "signal").Str("subject", c.owner.Subject).Msg("inbound frame over rate limit")
				continue
			}
			ctl.handleFrame(ctx, c, data)
		}
	}
}

func (ctl *SignalWSController) handleFrame(ctx context.Context, c *wsSignalConn, data []byte) {
	var f core.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "", "bad_payload", "malformed frame")
		return
	}
	metrics.RecordFrame("in")

	switch f.Kind {
	case core.KindOffer:
		ctl.handleOffer(ctx, c, f)
	case core.KindCandidate:
		ctl.handleCandidate(c, f)
	case core.KindClose:
		ctl.handleClose(c, f)
	case core.KindPing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", string(f.Kind)).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) sendError(c *wsSignalConn, sid domain.SessionID, code, msg string) {
	_ = c.TrySend(core.Frame{
		SessionID: sid,
		Kind:      core.KindError,
		Payload:   core.Payload(core.ErrorPayload{Code: code, Message: msg}),
	})
}
