// Package signal serves the signaling WebSocket: one connection per client,
// JSON envelopes in both directions.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dkeye/VideoRoom/internal/app"
	"github.com/dkeye/VideoRoom/internal/app/orch"
	"github.com/dkeye/VideoRoom/internal/core"
	"github.com/dkeye/VideoRoom/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Options configure admission and flow control of signaling connections.
type Options struct {
	AppID       string
	TokenSecret []byte

	// MessagesPerSecond and MessageBurst bound what one connection may send.
	MessagesPerSecond float64
	MessageBurst      int
	// JoinLimit join attempts are allowed per participant in JoinInterval.
	JoinLimit    int
	JoinInterval time.Duration

	ReadLimit  int64
	PingPeriod time.Duration
	SendQueue  int
}

func (o *Options) withDefaults() {
	if o.MessagesPerSecond <= 0 {
		o.MessagesPerSecond = 20
	}
	if o.MessageBurst <= 0 {
		o.MessageBurst = 40
	}
	if o.JoinLimit <= 0 {
		o.JoinLimit = 5
	}
	if o.JoinInterval <= 0 {
		o.JoinInterval = time.Minute
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 16
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 32
	}
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Opts    Options
	Joins   *RoomRateLimiter
	Metrics *app.Metrics
}

func NewSignalWSController(o *orch.Orchestrator, opts Options, metrics *app.Metrics) *SignalWSController {
	opts.withDefaults()
	return &SignalWSController{
		Orch:    o,
		Opts:    opts,
		Joins:   NewRoomRateLimiter(opts.JoinLimit, opts.JoinInterval),
		Metrics: metrics,
	}
}

type WsSignalConn struct {
	conn    *websocket.Conn
	send    chan core.Frame
	limiter *rate.Limiter

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection until the peer
// goes away, ctx ends or the session is kicked.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("client_token", c.GetString("client_token")).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.Opts.ReadLimit)

	conn := &WsSignalConn{
		conn:    ws,
		send:    make(chan core.Frame, ctl.Opts.SendQueue),
		limiter: rate.NewLimiter(rate.Limit(ctl.Opts.MessagesPerSecond), ctl.Opts.MessageBurst),
	}

	user := ctl.Orch.Registry.GetOrCreateUser(sid)
	sess := core.NewMemberSession(domain.NewMember(user)).UpdateSignal(conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.BindSignal(sid, sess, cancel)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}
