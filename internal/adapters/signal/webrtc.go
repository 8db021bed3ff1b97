package signal

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoRoom/internal/core"
	"github.com/dkeye/VideoRoom/internal/domain"
	"github.com/dkeye/VideoRoom/internal/protocol"
)

// handleOffer answers an offer for the publisher connection.
func (ctl *SignalWSController) handleOffer(
	ctx context.Context,
	sid core.SessionID,
	conn core.SignalConnection,
	msg protocol.Message,
) {
	if msg.SDP == "" {
		ctl.send(conn, protocol.ErrorReply(msg, protocol.CodeBadPayload, "sdp required"))
		return
	}
	answer, err := ctl.Orch.HandleOffer(ctx, sid, msg.SDP)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("webrtc apply offer")
		ctl.fail(conn, msg, err)
		return
	}
	resp := protocol.Reply(msg, protocol.TypeAnswer)
	resp.SDP = answer
	ctl.send(conn, resp)
}

// handleAnswer completes a server offer on the subscriber connection.
func (ctl *SignalWSController) handleAnswer(
	sid core.SessionID,
	conn core.SignalConnection,
	msg protocol.Message,
) {
	if err := ctl.Orch.HandleAnswer(sid, msg.ReplyTo, msg.SDP); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("webrtc apply answer")
		ctl.fail(conn, msg, err)
	}
}

func (ctl *SignalWSController) handleSubscribe(
	sid core.SessionID,
	conn core.SignalConnection,
	msg protocol.Message,
) {
	kind, err := domain.ParseMediaKind(string(msg.Kind))
	if err != nil || msg.UID == "" {
		ctl.send(conn, protocol.ErrorReply(msg, protocol.CodeBadPayload, "uid and kind required"))
		return
	}
	trackID, err := ctl.Orch.Subscribe(sid, msg.UID, kind)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("uid", string(msg.UID)).Msg("subscribe")
		ctl.fail(conn, msg, err)
		return
	}
	resp := protocol.Reply(msg, protocol.TypeSubscribed)
	resp.UID = msg.UID
	resp.Kind = kind
	resp.TrackID = trackID
	ctl.send(conn, resp)
}

func (ctl *SignalWSController) handleUnpublish(
	sid core.SessionID,
	conn core.SignalConnection,
	msg protocol.Message,
) {
	if err := ctl.Orch.Unpublish(sid, msg.TrackIDs); err != nil {
		ctl.fail(conn, msg, err)
		return
	}
	ctl.send(conn, protocol.Reply(msg, protocol.TypeAck))
}
