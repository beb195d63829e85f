package app

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/Swaymbhu-git/SlateAssist/internal/core"
	"github.com/Swaymbhu-git/SlateAssist/internal/domain"
)

// Wire event types pushed to room members.
const (
	EventParticipantJoined = "participant-joined"
	EventParticipantLeft   = "participant-left"
	EventEditApplied       = "edit-applied"
	EventRunResult         = "run-result"
)

type participantEvent struct {
	Type string      `json:"type"`
	User domain.User `json:"user"`
}

type editEvent struct {
	Type     string        `json:"type"`
	Revision uint64        `json:"revision"`
	Payload  string        `json:"payload"`
	Author   domain.UserID `json:"author"`
}

type runEvent struct {
	Type   string          `json:"type"`
	Author domain.UserID   `json:"author"`
	Input  json.RawMessage `json:"input"`
	Output json.RawMessage `json:"output"`
}

// Router validates inbound room traffic and fans accepted mutations out
// to every eligible connection. Fan-out closures run at the room's
// serialization point, so recipients observe events in acceptance
// order. A rejected mutation never produces a partial broadcast.
type Router struct {
	registry *Registry
	sessions *Sessions
	members  core.MembershipStore
	policy   Policy
}

func NewRouter(registry *Registry, sessions *Sessions, members core.MembershipStore, policy Policy) *Router {
	return &Router{registry: registry, sessions: sessions, members: members, policy: policy}
}

// Join admits a connection into a room. Unlike every other message the
// sender is not yet a participant, so admission is checked against the
// persisted membership record. Returns the catch-up state for the new
// connection.
func (r *Router) Join(ctx context.Context, connID core.ConnID, roomID domain.RoomID, user *domain.User, conn core.SignalConnection) (SessionState, error) {
	rec, err := r.members.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return SessionState{}, domain.ErrAccessDenied
		}
		return SessionState{}, err
	}
	if !rec.IsMember(user.ID) {
		return SessionState{}, domain.ErrAccessDenied
	}
	if err := r.registry.Register(connID, user.ID, roomID, conn); err != nil {
		return SessionState{}, err
	}
	state := r.sessions.AddParticipant(roomID, user, func() {
		r.broadcast(roomID, connID, participantEvent{Type: EventParticipantJoined, User: *user})
	})
	log.Info().Str("module", "app.router").Str("conn", string(connID)).Str("user", string(user.ID)).Str("room", string(roomID)).Msg("joined")
	return state, nil
}

// Edit applies a last-writer edit. The applied event is echo-suppressed
// for the originating connection; a stale revision goes back to the
// originator only and is never broadcast.
func (r *Router) Edit(connID core.ConnID, roomID domain.RoomID, userID domain.UserID, payload string, baseRevision uint64) (uint64, error) {
	return r.sessions.ApplyEdit(roomID, userID, payload, baseRevision, func(revision uint64) {
		r.broadcast(roomID, connID, editEvent{
			Type:     EventEditApplied,
			Revision: revision,
			Payload:  payload,
			Author:   userID,
		})
	})
}

// Execute records a run snapshot and pushes it to everyone, the
// originator included: all participants see the same result panel.
func (r *Router) Execute(roomID domain.RoomID, userID domain.UserID, run *core.Execution) error {
	return r.sessions.RecordExecution(roomID, userID, run, func() {
		r.broadcast(roomID, "", runEvent{
			Type:   EventRunResult,
			Author: userID,
			Input:  run.Input,
			Output: run.Output,
		})
	})
}

// Leave handles an explicit leave or a transport close. The participant
// disappears only when their last connection is gone.
func (r *Router) Leave(connID core.ConnID) {
	userID, roomID, ok := r.registry.Lookup(connID)
	if !ok {
		return
	}
	r.registry.Unregister(connID)
	if len(r.registry.ConnectionsFor(userID, roomID)) > 0 {
		return
	}
	r.DropParticipant(roomID, userID)
}

// DropParticipant removes a user from the live session and tells the
// remaining members. Used by the leave path and by membership
// enforcement after a kick.
func (r *Router) DropParticipant(roomID domain.RoomID, userID domain.UserID) {
	r.sessions.RemoveParticipant(roomID, userID, func() {
		r.broadcast(roomID, "", participantEvent{
			Type: EventParticipantLeft,
			User: domain.User{ID: userID},
		})
	})
}

func (r *Router) broadcast(roomID domain.RoomID, except core.ConnID, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("broadcast marshal")
		return
	}
	var dropped []ConnSnap
	for _, snap := range r.registry.RoomConnections(roomID) {
		if snap.ID == except {
			continue
		}
		if err := snap.Conn.TrySend(b); err != nil {
			dropped = append(dropped, snap)
		}
	}
	if r.policy == nil {
		return
	}
	for _, slow := range dropped {
		switch r.policy.OnBackPressure(roomID, slow.ID) {
		case KickConnection:
			log.Warn().Str("module", "app.router").Str("conn", string(slow.ID)).Str("room", string(roomID)).Msg("kicking slow connection")
			slow.Conn.Close()
		case MarkSlow, DropFrame, NoAction:
		}
	}
}
