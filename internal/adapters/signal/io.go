package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoRoom/internal/core"
	"github.com/dkeye/VideoRoom/internal/protocol"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Info().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump owns the session: when it returns the member is removed from its
// room and the registry forgets it.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Orch.Disconnect(sid)
		cancel()
		c.Close()
	}()

	pongWait := ctl.Opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctl.handleSignal(ctx, sid, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.send(c, protocol.ErrorReply(protocol.Message{}, protocol.CodeBadPayload, "malformed message"))
		return
	}
	if ctl.Metrics != nil {
		ctl.Metrics.SignalMessages.WithLabelValues(msg.Type).Inc()
	}
	if c.limiter != nil && !c.limiter.Allow() {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("type", msg.Type).Msg("rate limited")
		ctl.send(c, protocol.ErrorReply(msg, protocol.CodeRateLimited, "too many messages"))
		return
	}

	switch msg.Type {
	case protocol.TypeJoin:
		ctl.handleJoin(ctx, sid, c, msg)
	case protocol.TypeLeave:
		ctl.handleLeave(sid, c, msg)
	case protocol.TypePing:
		ctl.handlePing(c, msg)
	case protocol.TypeOffer:
		ctl.handleOffer(ctx, sid, c, msg)
	case protocol.TypeAnswer:
		ctl.handleAnswer(sid, c, msg)
	case protocol.TypeSubscribe:
		ctl.handleSubscribe(sid, c, msg)
	case protocol.TypeUnpublish:
		ctl.handleUnpublish(sid, c, msg)
	default:
		log.Warn().Str("module", "signal").Str("type", msg.Type).Msg("unknown signal")
		ctl.send(c, protocol.ErrorReply(msg, protocol.CodeBadPayload, "unknown message type"))
	}
}

func (ctl *SignalWSController) send(c core.SignalConnection, msg protocol.Message) {
	b, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("send marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", msg.Type).Msg("send")
	}
}
