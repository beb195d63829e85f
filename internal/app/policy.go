package app

import (
	"github.com/Swaymbhu-git/SlateAssist/internal/core"
	"github.com/Swaymbhu-git/SlateAssist/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickConnection
	DropFrame
)

// Policy decides what happens to a connection whose send buffer is full
// during fan-out.
type Policy interface {
	OnBackPressure(roomID domain.RoomID, connID core.ConnID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(roomID domain.RoomID, connID core.ConnID) BackpressureAction {
	return KickConnection
}
