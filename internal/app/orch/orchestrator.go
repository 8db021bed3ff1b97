// Package orch coordinates membership, media negotiation and relaying for
// every channel hosted by the server.
package orch

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoRoom/internal/app"
	"github.com/dkeye/VideoRoom/internal/app/sfu"
	"github.com/dkeye/VideoRoom/internal/core"
	"github.com/dkeye/VideoRoom/internal/domain"
	"github.com/dkeye/VideoRoom/internal/protocol"
)

var (
	ErrNoSession     = errors.New("no signal session")
	ErrNotJoined     = errors.New("not joined to a channel")
	ErrTrackNotFound = errors.New("track not published")
)

// MediaFactory creates a server-side peer connection for a session.
type MediaFactory func(sid core.SessionID) (core.MediaConnection, error)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	Relays   *sfu.RelayManager
	NewMedia MediaFactory
	Metrics  *app.Metrics

	negMu sync.Mutex
	negs  map[core.SessionID]*negotiation
}

// Send delivers msg to one session. Failures are logged only: the session is
// gone or its queue is full, and broadcasts handle the latter.
func (o *Orchestrator) Send(sid core.SessionID, msg protocol.Message) {
	sess, ok := o.Registry.GetSession(sid)
	if !ok || sess.Signal() == nil {
		return
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode")
		return
	}
	if err := sess.Signal().TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Str("type", msg.Type).Msg("send failed")
	}
}

// Broadcast sends msg to every member of roomName except from and applies the
// backpressure policy to members that could not take it.
func (o *Orchestrator) Broadcast(roomName domain.RoomName, from core.SessionID, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode")
		return
	}
	o.OnFrame(roomName, from, data)
}

func (o *Orchestrator) OnFrame(roomName domain.RoomName, from core.SessionID, data core.Frame) {
	room, ok := o.Rooms.Get(roomName)
	if !ok {
		return
	}

	res := room.Broadcast(from, data)
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			for _, snap := range o.Registry.MembersOfRoom(roomName) {
				if snap.Session == slow {
					log.Warn().Str("module", "orch").Str("sid", string(snap.SID)).Msg("kicking slow member")
					o.KickBySID(snap.SID)
				}
			}
		case app.NoAction:
		}
	}
}
