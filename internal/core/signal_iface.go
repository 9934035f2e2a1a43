package core

import (
	"encoding/json"

	"github.com/covenantmedia/pulpit/internal/domain"
)

// FrameKind discriminates signaling envelopes on the wire.
type FrameKind string

const (
	KindOffer     FrameKind = "offer"
	KindAnswer    FrameKind = "answer"
	KindCandidate FrameKind = "candidate"
	KindClose     FrameKind = "close"
	KindAIResult  FrameKind = "ai_result"
	KindError     FrameKind = "error"
	KindPing      FrameKind = "ping"
	KindPong      FrameKind = "pong"
)

// Frame is the immutable signaling envelope. Received and sent, never mutated.
type Frame struct {
	SessionID domain.SessionID `json:"session_id,omitempty"`
	Kind      FrameKind        `json:"type"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
}

// Payload marshals a known-safe payload struct for a Frame.
func Payload(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// OfferPayload opens a session; persona is optional.
type OfferPayload struct {
	SDP     string `json:"sdp"`
	Persona string `json:"persona,omitempty"`
}

type AnswerPayload struct {
	SDP string `json:"sdp"`
}

// ResultPayload carries one completed AI response back to the client.
type ResultPayload struct {
	RequestID domain.RequestID `json:"request_id"`
	Text      string           `json:"text"`
}

// ErrorPayload is a failure notice; code matches the error taxonomy.
// RequestID is set when the failure concerns one submitted prompt.
type ErrorPayload struct {
	Code      string           `json:"code"`
	Message   string           `json:"message"`
	RequestID domain.RequestID `json:"request_id,omitempty"`
}

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
