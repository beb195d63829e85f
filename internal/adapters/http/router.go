package http

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Swaymbhu-git/SlateAssist/internal/adapters/signal"
	"github.com/Swaymbhu-git/SlateAssist/internal/config"
)

// SetupRouter wires the REST surface and the websocket endpoint.
// Everything under /api/rooms requires a bearer token; the websocket
// authenticates itself inside the join message instead.
func SetupRouter(ctx context.Context, cfg *config.Config, api *API, ws *signal.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	log.Info().Str("module", "adapters.http").Msg("router setup")

	auth := r.Group("/api/auth")
	auth.POST("/register", api.Register)
	auth.POST("/login", api.Login)

	rooms := r.Group("/api/rooms")
	rooms.Use(AuthMiddleware(api.Tokens))
	rooms.POST("", api.CreateRoom)
	rooms.GET("/:roomId", api.GetRoom)
	rooms.POST("/invite", api.InviteUser)
	rooms.POST("/kick", api.KickUser)
	rooms.POST("/run", api.RunCode)
	rooms.POST("/ask-ai", api.AskAI)

	r.GET("/api/ws", func(c *gin.Context) {
		ws.HandleWS(ctx, c)
	})

	return r
}
