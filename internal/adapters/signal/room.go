package signal

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoRoom/internal/auth"
	"github.com/dkeye/VideoRoom/internal/core"
	"github.com/dkeye/VideoRoom/internal/domain"
	"github.com/dkeye/VideoRoom/internal/protocol"
)

func (ctl *SignalWSController) handleJoin(
	ctx context.Context,
	sid core.SessionID,
	conn core.SignalConnection,
	msg protocol.Message,
) {
	if msg.Room == "" {
		ctl.send(conn, protocol.ErrorReply(msg, protocol.CodeBadPayload, "room required"))
		return
	}
	uid, err := domain.ParseUserID(string(msg.UID))
	if err != nil {
		ctl.send(conn, protocol.ErrorReply(msg, protocol.CodeBadPayload, err.Error()))
		return
	}
	if ctl.Opts.AppID != "" && msg.AppID != ctl.Opts.AppID {
		ctl.reject(conn, msg, "app_id", protocol.CodeUnauthorized, "unknown app id")
		return
	}
	if _, err := auth.Verify(ctl.Opts.TokenSecret, msg.Token, msg.AppID, msg.Room); err != nil {
		reason := "token"
		if errors.Is(err, auth.ErrTokenExpired) {
			reason = "token_expired"
		}
		ctl.reject(conn, msg, reason, protocol.CodeUnauthorized, err.Error())
		return
	}

	limitKey := uid
	if limitKey == "" {
		limitKey = domain.UserID(sid)
	}
	if !ctl.Joins.Allow(limitKey) {
		ctl.reject(conn, msg, "rate", protocol.CodeRateLimited, "too many join attempts")
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(msg.Room)).Msg("join")
	assigned, tracks, err := ctl.Orch.Join(ctx, sid, msg.Room, uid, msg.Name)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("join failed")
		ctl.fail(conn, msg, err)
		return
	}

	resp := protocol.Reply(msg, protocol.TypeJoined)
	resp.Room = msg.Room
	resp.UID = assigned
	resp.Tracks = tracks
	ctl.send(conn, resp)
}

func (ctl *SignalWSController) reject(conn core.SignalConnection, msg protocol.Message, reason, code, text string) {
	log.Warn().Str("module", "signal").Str("room", string(msg.Room)).Str("reason", reason).Msg("join rejected")
	if ctl.Metrics != nil {
		ctl.Metrics.JoinsRejected.WithLabelValues(reason).Inc()
	}
	ctl.send(conn, protocol.ErrorReply(msg, code, text))
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(
	sid core.SessionID,
	conn core.SignalConnection,
	msg protocol.Message,
) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	ctl.Orch.Leave(sid)
	ctl.send(conn, protocol.Reply(msg, protocol.TypeLeft))
}
