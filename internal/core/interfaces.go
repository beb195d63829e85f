package core

import (
	"context"
	"encoding/json"

	"github.com/Swaymbhu-git/SlateAssist/internal/domain"
)

// Frame is a raw payload delivered to a connection (JSON on the wire).
type Frame []byte

// ConnID identifies a single live transport connection. One user may
// hold several (tabs, devices).
type ConnID string

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Execution is the latest run snapshot of a room: what was submitted
// and what the execution service returned. Advisory state, not part of
// the ordered edit stream.
type Execution struct {
	Input  json.RawMessage `json:"input"`
	Output json.RawMessage `json:"output"`
}

// MembershipStore is the persistence collaborator for room membership.
// The live layer only reads it; the REST surface mutates it.
type MembershipStore interface {
	GetRoom(ctx context.Context, roomID domain.RoomID) (*domain.MembershipRecord, error)
}

// SnapshotStore receives the code buffer when a session tears down.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, roomID domain.RoomID, buffer string, revision uint64) error
}

// TokenValidator is the auth collaborator used at join time.
type TokenValidator interface {
	Validate(token string) (domain.UserID, error)
}

// UserStore resolves user identity to profile data.
type UserStore interface {
	GetUser(ctx context.Context, id domain.UserID) (*domain.User, error)
}

// CodeRunner is the opaque code-execution collaborator. It takes the
// client's submission as-is and returns the service's response as-is.
type CodeRunner interface {
	Run(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

// Assistant is the opaque AI-chat collaborator.
type Assistant interface {
	Ask(ctx context.Context, prompt string) (string, error)
}
