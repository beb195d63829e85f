package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/Swaymbhu-git/SlateAssist/internal/core"
	"github.com/Swaymbhu-git/SlateAssist/internal/domain"
)

// Per-connection protocol states. Transitions are driven only by the
// connection's own readPump, so no locking is needed.
type connState int

const (
	stateConnected connState = iota
	stateJoined
	stateClosed
)

type client struct {
	id    core.ConnID
	conn  *wsConn
	state connState

	user   *domain.User
	roomID domain.RoomID
}

func (ctl *Controller) handleMessage(ctx context.Context, cl *client, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(cl, "bad_payload")
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(ctx, cl, data)
	case "edit":
		ctl.handleEdit(cl, data)
	case "execute":
		ctl.handleExecute(ctx, cl, data)
	case "leave":
		ctl.handleLeave(cl)
	case "ping":
		ctl.sendJSON(cl, map[string]any{"type": "pong"})
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown message")
		ctl.sendError(cl, "unknown_type")
	}
}

// handleJoin moves the connection from connected to joined: the token
// must validate and the persisted member list must include the user.
// Anything else closes the connection with access-denied.
func (ctl *Controller) handleJoin(ctx context.Context, cl *client, data []byte) {
	if cl.state != stateConnected {
		ctl.sendError(cl, "already_joined")
		return
	}
	var p struct {
		Type  string `json:"type"`
		Room  string `json:"roomId"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Room == "" {
		ctl.sendError(cl, "bad_payload")
		return
	}

	userID, err := ctl.Auth.Validate(p.Token)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(cl.id)).Msg("join token rejected")
		ctl.closeDenied(cl)
		return
	}
	user, err := ctl.Users.GetUser(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(userID)).Msg("join user lookup failed")
		ctl.closeDenied(cl)
		return
	}

	roomID := domain.RoomID(p.Room)
	state, err := ctl.Router.Join(ctx, cl.id, roomID, user, cl.conn)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(cl.id)).Str("room", p.Room).Msg("join rejected")
		ctl.closeDenied(cl)
		return
	}

	cl.user = user
	cl.roomID = roomID
	cl.state = stateJoined
	log.Info().Str("module", "signal").Str("conn", string(cl.id)).Str("user", string(user.ID)).Str("room", p.Room).Msg("join")

	resp := struct {
		Type     string          `json:"type"`
		Room     domain.RoomID   `json:"roomId"`
		Revision uint64          `json:"revision"`
		Buffer   string          `json:"buffer"`
		Members  []domain.User   `json:"participants"`
		LastRun  *core.Execution `json:"lastRun,omitempty"`
	}{
		Type:     "room-state",
		Room:     roomID,
		Revision: state.Revision,
		Buffer:   state.Buffer,
		Members:  state.Participants,
		LastRun:  state.LastRun,
	}
	ctl.sendJSON(cl, resp)
}

func (ctl *Controller) handleEdit(cl *client, data []byte) {
	if cl.state != stateJoined {
		ctl.sendError(cl, "not_joined")
		return
	}
	if !ctl.limiter.Allow(cl.user.ID) {
		ctl.sendError(cl, "rate_limited")
		return
	}
	var p struct {
		Type         string `json:"type"`
		Room         string `json:"roomId"`
		BaseRevision uint64 `json:"baseRevision"`
		Payload      string `json:"payload"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(cl, "bad_payload")
		return
	}
	if p.Room != "" && domain.RoomID(p.Room) != cl.roomID {
		ctl.sendError(cl, "wrong_room")
		return
	}

	_, err := ctl.Router.Edit(cl.id, cl.roomID, cl.user.ID, p.Payload, p.BaseRevision)
	if err == nil {
		return
	}
	var stale *domain.StaleRevisionError
	switch {
	case errors.As(err, &stale):
		// Rebase material goes to the originator only.
		ctl.sendJSON(cl, struct {
			Type            string `json:"type"`
			CurrentRevision uint64 `json:"currentRevision"`
			CurrentBuffer   string `json:"currentBuffer"`
		}{
			Type:            "edit-rejected",
			CurrentRevision: stale.CurrentRevision,
			CurrentBuffer:   stale.CurrentBuffer,
		})
	case errors.Is(err, domain.ErrNotAMember):
		ctl.closeDenied(cl)
	default:
		log.Error().Err(err).Str("module", "signal").Str("conn", string(cl.id)).Msg("edit failed")
		ctl.sendError(cl, "edit_failed")
	}
}

func (ctl *Controller) handleExecute(ctx context.Context, cl *client, data []byte) {
	if cl.state != stateJoined {
		ctl.sendError(cl, "not_joined")
		return
	}
	if !ctl.limiter.Allow(cl.user.ID) {
		ctl.sendError(cl, "rate_limited")
		return
	}
	var p struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &p); err != nil || len(p.Payload) == 0 {
		ctl.sendError(cl, "bad_payload")
		return
	}

	// The external run call is blocking I/O; it happens here, outside
	// any room lock. Only the finished snapshot enters the session.
	output, err := ctl.Runner.Run(ctx, p.Payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(cl.id)).Msg("code execution failed")
		ctl.sendError(cl, "execution_failed")
		return
	}
	run := &core.Execution{Input: p.Payload, Output: output}
	if err := ctl.Router.Execute(cl.roomID, cl.user.ID, run); err != nil {
		if errors.Is(err, domain.ErrNotAMember) {
			ctl.closeDenied(cl)
			return
		}
		ctl.sendError(cl, "execution_failed")
	}
}

// handleLeave is terminal. A closed connection cannot rejoin, so
// leaving also drops the transport.
func (ctl *Controller) handleLeave(cl *client) {
	ctl.sendJSON(cl, map[string]any{"type": "left"})
	ctl.onClose(cl)
}

// onClose runs exactly once per connection, from leave or from the
// transport closing underneath us.
func (ctl *Controller) onClose(cl *client) {
	if cl.state == stateClosed {
		return
	}
	if cl.state == stateJoined {
		ctl.Router.Leave(cl.id)
	}
	cl.state = stateClosed
	cl.conn.Close()
}

func (ctl *Controller) closeDenied(cl *client) {
	ctl.sendJSON(cl, map[string]any{"type": "error", "error": "access_denied"})
	ctl.onClose(cl)
}

func (ctl *Controller) sendError(cl *client, code string) {
	ctl.sendJSON(cl, map[string]any{"type": "error", "error": code})
}

func (ctl *Controller) sendJSON(cl *client, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	// Direct replies carry rebase material and catch-up state; a full
	// buffer must at least leave a trace.
	if err := cl.conn.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(cl.id)).Msg("direct reply dropped")
	}
}
