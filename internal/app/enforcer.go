package app

import (
	"github.com/rs/zerolog/log"

	"github.com/Swaymbhu-git/SlateAssist/internal/domain"
)

// Enforcer reconciles out-of-band membership changes from the REST
// surface with live socket state. It is the only bridge between the
// persistence layer's transaction boundaries and the live layer.
type Enforcer struct {
	registry *Registry
	router   *Router
}

func NewEnforcer(registry *Registry, router *Router) *Enforcer {
	return &Enforcer{registry: registry, router: router}
}

// OnInvite requires no socket action: the new member still has to join
// explicitly, and the join path re-reads the membership record.
func (e *Enforcer) OnInvite(roomID domain.RoomID, userID domain.UserID) {
	log.Info().Str("module", "app.enforcer").Str("room", string(roomID)).Str("user", string(userID)).Msg("invite recorded")
}

// OnKick closes every live connection of the user in the room, then
// removes them from the session. Once it returns the router rejects any
// further message from that user for the room until a fresh invite and
// join re-admit them. No-op when the user has no live connection.
func (e *Enforcer) OnKick(roomID domain.RoomID, userID domain.UserID) {
	e.registry.ForceDisconnect(userID, roomID)
	e.router.DropParticipant(roomID, userID)
	log.Info().Str("module", "app.enforcer").Str("room", string(roomID)).Str("user", string(userID)).Msg("kick enforced")
}
