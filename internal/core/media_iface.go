package core

import (
	"context"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool
	// Negotiate applies the remote offer and returns the local answer with
	// ICE candidates gathered.
	Negotiate(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTranscript sets a callback for transcript lines from the data channel.
	OnTranscript(func(text string))
	// OnAudioFrame sets a callback for inbound RTP audio frames.
	OnAudioFrame(func(pkt *rtp.Packet))
	// OnClosed sets a callback for cleanup media session.
	OnClosed(func())
}
