package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAccessDenied means the user is not on the room's member list,
	// or was removed from it. The connection is closed with this reason.
	ErrAccessDenied = errors.New("access denied")

	// ErrNotAMember means the sender never joined the live session.
	ErrNotAMember = errors.New("not a member of this session")

	// ErrDuplicateConnection means a connection id was registered twice.
	ErrDuplicateConnection = errors.New("duplicate connection")

	// ErrInvalidToken means auth token validation failed.
	ErrInvalidToken = errors.New("invalid token")

	ErrRoomNotFound = errors.New("room not found")
	ErrUserNotFound = errors.New("user not found")

	// ErrOwnerKick means an attempt to revoke the owner's own membership.
	ErrOwnerKick = errors.New("owner cannot be kicked")
)

// StaleRevisionError is returned when an edit's base revision no longer
// matches the session's head. It carries the authoritative state so the
// originating client can rebase; it is never broadcast.
type StaleRevisionError struct {
	CurrentRevision uint64
	CurrentBuffer   string
}

func (e *StaleRevisionError) Error() string {
	return fmt.Sprintf("stale revision: head is %d", e.CurrentRevision)
}
