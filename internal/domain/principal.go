// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxSubjectLen     = 64
	MaxDisplayNameLen = 36
)

var (
	ErrSubjectEmpty       = errors.New("subject empty")
	ErrSubjectTooLong     = errors.New("subject too long")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

// Principal is the authenticated identity behind a control channel.
// Verification happens at the boundary; this is just its outcome.
type Principal struct {
	Subject string `json:"subject"`
	Name    string `json:"name"`
}

// NewPrincipal is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewPrincipal(subject, name string) (*Principal, error) {
	if len(subject) == 0 {
		return nil, ErrSubjectEmpty
	}
	if len(subject) > MaxSubjectLen {
		return nil, ErrSubjectTooLong
	}
	if len(name) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	if name == "" {
		name = subject
	}
	return &Principal{Subject: subject, Name: name}, nil
}
