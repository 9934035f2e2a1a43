package app

import "github.com/covenantmedia/pulpit/internal/domain"

type PressureAction int

const (
	DropPrompt PressureAction = iota
	NotifyClient
	KickSession
)

// Policy decides what happens to a prompt the bridge refused because its
// queue was full. streak counts consecutive refusals for the session.
type Policy interface {
	OnQueueFull(sid domain.SessionID, streak int) PressureAction
}

// SimplePolicy tells the client once, drops quietly while the queue stays
// full, and kicks a session that keeps flooding past KickAfter refusals.
type SimplePolicy struct {
	KickAfter int
}

func (p SimplePolicy) OnQueueFull(_ domain.SessionID, streak int) PressureAction {
	if p.KickAfter > 0 && streak >= p.KickAfter {
		return KickSession
	}
	if streak == 1 {
		return NotifyClient
	}
	return DropPrompt
}
