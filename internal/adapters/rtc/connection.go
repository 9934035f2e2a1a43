package rtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/covenantmedia/pulpit/internal/core"
	"github.com/covenantmedia/pulpit/internal/domain"
)

// TranscriptChannel is the data channel label clients send transcript
// lines on.
const TranscriptChannel = "transcript"

type WebRTCConnection struct {
	pc  *webrtc.PeerConnection
	sid domain.SessionID

	onICE        func(webrtc.ICECandidateInit)
	onTranscript func(string)
	onAudioFrame func(*rtp.Packet)
	onClosed     func()

	cancel     context.CancelFunc
	closed     atomic.Bool
	closeOnce  sync.Once
	notifyOnce sync.Once
}

var _ core.MediaConnection = (*WebRTCConnection)(nil)

// Config builds the peer configuration from the configured STUN urls.
func Config(stunURLs []string) webrtc.Configuration {
	if len(stunURLs) == 0 {
		stunURLs = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunURLs},
		},
	}
}

func NewWebRTCConnection(cfg webrtc.Configuration, sid domain.SessionID) (*WebRTCConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &WebRTCConnection{pc: pc, sid: sid}, nil
}

// Start wires the pion callbacks. Set the On* handlers before calling it.
func (c *WebRTCConnection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateDisconnected ||
			s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			cancel()
			c.notifyClosed()
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("sid", string(c.sid)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		go c.pumpFrames(ctx, track)
	})

	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != TranscriptChannel {
			log.Warn().Str("module", "webrtc").Str("sid", string(c.sid)).
				Str("label", dc.Label()).Msg("ignoring unexpected data channel")
			return
		}
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if c.onTranscript != nil {
				c.onTranscript(string(msg.Data))
			}
		})
	})

	return nil
}

// pumpFrames reads RTP from a remote track and feeds the ingest callback
// until the track or the session dies.
func (c *WebRTCConnection) pumpFrames(ctx context.Context, track *webrtc.TrackRemote) {
	logger := log.With().
		Str("module", "webrtc").
		Str("sid", string(c.sid)).
		Str("track_id", track.ID()).
		Logger()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("track read loop ended")
			return
		}
		if c.onAudioFrame != nil {
			c.onAudioFrame(pkt)
		}
	}
}

// Negotiate applies the client's offer and returns the local answer once
// ICE gathering finished.
func (c *WebRTCConnection) Negotiate(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote description (%v): %w", err, core.ErrNegotiationFailed)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer (%v): %w", err, core.ErrNegotiationFailed)
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description (%v): %w", err, core.ErrNegotiationFailed)
	}
	<-gatherComplete

	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.cancel != nil {
			c.cancel()
		}
		if err := c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "webrtc").Str("sid", string(c.sid)).Msg("close error")
		} else {
			log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Msg("closed")
		}
		c.notifyClosed()
	})
}

// notifyClosed fires the application callback exactly once, whether the
// close came from us or from the peer going away.
func (c *WebRTCConnection) notifyClosed() {
	c.notifyOnce.Do(func() {
		c.closed.Store(true)
		if c.onClosed != nil {
			c.onClosed()
		}
	})
}

func (c *WebRTCConnection) IsClosed() bool {
	return c.closed.Load()
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// OnICECandidate sets a callback for newly gathered local ICE candidates.
func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }

// OnTranscript sets the callback for inbound transcript lines.
func (c *WebRTCConnection) OnTranscript(fn func(string)) { c.onTranscript = fn }

// OnAudioFrame sets the callback for inbound RTP frames.
func (c *WebRTCConnection) OnAudioFrame(fn func(*rtp.Packet)) { c.onAudioFrame = fn }

// OnClosed sets application-level callback for cleanup.
func (c *WebRTCConnection) OnClosed(fn func()) { c.onClosed = fn }
