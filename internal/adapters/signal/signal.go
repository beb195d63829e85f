package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Swaymbhu-git/SlateAssist/internal/app"
	"github.com/Swaymbhu-git/SlateAssist/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

// Controller owns the websocket endpoint and drives the per-connection
// protocol state machine on top of the broadcast router.
type Controller struct {
	Router    *app.Router
	Enforcer  *app.Enforcer
	Auth      core.TokenValidator
	Users     core.UserStore
	Runner    core.CodeRunner
	ReadLimit int64

	limiter *RateLimiter
}

func NewController(router *app.Router, enforcer *app.Enforcer, auth core.TokenValidator, users core.UserStore, runner core.CodeRunner, readLimit int64) *Controller {
	return &Controller{
		Router:    router,
		Enforcer:  enforcer,
		Auth:      auth,
		Users:     users,
		Runner:    runner,
		ReadLimit: readLimit,
		limiter:   NewRateLimiter(defaultMessageLimit, defaultMessageWindow),
	}
}

// wsConn wraps a websocket with a buffered outbound channel. TrySend
// never blocks: a full buffer is a backpressure error the router's
// policy reacts to.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Close stops accepting frames and closes the send channel. The
// writePump drains what is already buffered and tears down the socket,
// so replies enqueued right before Close still reach the peer.
func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades the request and runs the connection until it closes.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	cl := &client{
		id:    core.ConnID(uuid.NewString()),
		conn:  conn,
		state: stateConnected,
	}
	log.Info().Str("module", "signal").Str("conn", string(cl.id)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, cl)
	}()
}
