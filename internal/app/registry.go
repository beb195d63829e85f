package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Swaymbhu-git/SlateAssist/internal/core"
	"github.com/Swaymbhu-git/SlateAssist/internal/domain"
)

type connEntry struct {
	UserID domain.UserID
	RoomID domain.RoomID
	Conn   core.SignalConnection
}

// ConnSnap is a read-only view of one live connection, used for fan-out.
type ConnSnap struct {
	ID     core.ConnID
	UserID domain.UserID
	Conn   core.SignalConnection
}

// Registry tracks live connections per user and per room. It never
// closes adapter-owned resources except through ForceDisconnect, and
// even then the adapter confirms closure by calling Unregister.
type Registry struct {
	mu    sync.RWMutex
	conns map[core.ConnID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[core.ConnID]*connEntry)}
}

func (r *Registry) Register(id core.ConnID, userID domain.UserID, roomID domain.RoomID, conn core.SignalConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		return domain.ErrDuplicateConnection
	}
	r.conns[id] = &connEntry{UserID: userID, RoomID: roomID, Conn: conn}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("user", string(userID)).Str("room", string(roomID)).Msg("registered connection")
	return nil
}

// Unregister is idempotent: removing an absent connection is a no-op.
func (r *Registry) Unregister(id core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return
	}
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unregistered connection")
}

func (r *Registry) Lookup(id core.ConnID) (domain.UserID, domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return "", "", false
	}
	return e.UserID, e.RoomID, true
}

// ConnectionsFor returns the live connection handles of one user in one
// room. Possibly empty, never nil-panics on unknown users.
func (r *Registry) ConnectionsFor(userID domain.UserID, roomID domain.RoomID) []core.SignalConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.SignalConnection
	for _, e := range r.conns {
		if e.UserID == userID && e.RoomID == roomID {
			out = append(out, e.Conn)
		}
	}
	return out
}

// RoomConnections snapshots every live connection in a room.
func (r *Registry) RoomConnections(roomID domain.RoomID) []ConnSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConnSnap, 0, len(r.conns))
	for id, e := range r.conns {
		if e.RoomID == roomID {
			out = append(out, ConnSnap{ID: id, UserID: e.UserID, Conn: e.Conn})
		}
	}
	return out
}

// ForceDisconnect signals every connection of the user in the room to
// close. The transport confirms each closure by calling Unregister, so
// the entries are not removed here. Safe when the user has no live
// connection.
func (r *Registry) ForceDisconnect(userID domain.UserID, roomID domain.RoomID) {
	conns := r.ConnectionsFor(userID, roomID)
	for _, c := range conns {
		c.Close()
	}
	if len(conns) > 0 {
		log.Info().Str("module", "app.registry").Str("user", string(userID)).Str("room", string(roomID)).Int("conns", len(conns)).Msg("forced disconnect")
	}
}
