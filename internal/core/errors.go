package core

import "errors"

// Shared failure taxonomy. Adapters wrap these with %w so callers can
// branch on errors.Is without knowing the transport underneath.
var (
	// ErrConnectionRejected: channel open without a verified principal.
	ErrConnectionRejected = errors.New("connection rejected")
	// ErrChannelClosed: send to a channel that no longer exists.
	ErrChannelClosed = errors.New("channel closed")
	// ErrNotFound: registry lookup for an unknown session id.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidTransition: state move outside the forward-only order.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrNegotiationFailed: media offer/answer handshake failure.
	ErrNegotiationFailed = errors.New("negotiation failed")
	// ErrQueueFull: bridge backpressure, surfaced to the submitter.
	ErrQueueFull = errors.New("bridge queue full")

	// ErrRetryable and ErrFatal classify external completion failures.
	// Retryable is retried inside the bridge; exhausting the retry
	// budget reclassifies the failure as fatal.
	ErrRetryable = errors.New("retryable completion failure")
	ErrFatal     = errors.New("fatal completion failure")
)
