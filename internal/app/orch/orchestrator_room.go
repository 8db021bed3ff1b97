package orch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoRoom/internal/core"
	"github.com/dkeye/VideoRoom/internal/domain"
	"github.com/dkeye/VideoRoom/internal/protocol"
)

// Join adds sid to roomName as uid (a fresh id when empty) and returns the
// assigned id plus the tracks already published in the room. A session that
// is in another room leaves it first; another session holding uid in the
// room is kicked.
func (o *Orchestrator) Join(ctx context.Context, sid core.SessionID, roomName domain.RoomName, uid domain.UserID, name string) (domain.UserID, []domain.TrackInfo, error) {
	if from, _, ok := o.Registry.RoomOf(sid); ok {
		o.Leave(sid)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(from)).Msg("left previous room")
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return "", nil, ErrNoSession
	}
	if uid == "" {
		uid = domain.NewUserID()
	}

	room := o.Rooms.GetOrCreate(roomName)
	if other, ok := room.SessionOf(uid); ok && other != sid {
		log.Info().Str("module", "orch").Str("uid", string(uid)).Str("old_sid", string(other)).Msg("uid rejoined, kicking old session")
		o.KickBySID(other)
		room = o.Rooms.GetOrCreate(roomName)
	}
	if err := o.Registry.AssignIdentity(sid, uid, name); err != nil {
		return "", nil, err
	}

	sub, err := o.NewMedia(sid)
	if err != nil {
		return "", nil, fmt.Errorf("subscriber connection: %w", err)
	}
	if err := sub.Start(ctx); err != nil {
		sub.Close()
		return "", nil, fmt.Errorf("subscriber connection: %w", err)
	}
	sess.UpdateSubscriber(sub)

	tracks := o.PublishedIn(roomName, sid)
	room.AddMember(sid, sess)
	o.Registry.UpdateRoom(sid, roomName)
	if o.Metrics != nil {
		o.Metrics.Members.Inc()
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("uid", string(uid)).Str("room", string(roomName)).Int("tracks", len(tracks)).Msg("joined")
	return uid, tracks, nil
}

// Leave removes sid from its room, tears down its media and tells the
// remaining members. The signal connection stays open.
func (o *Orchestrator) Leave(sid core.SessionID) {
	roomName, sess, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	uid := sess.Meta().User.ID

	o.cleanupMedia(sid, roomName)
	o.cleanupMembership(sid, roomName)

	o.Broadcast(roomName, sid, protocol.Message{Type: protocol.TypeMemberLeft, Room: roomName, UID: uid})
	if room, ok := o.Rooms.Get(roomName); ok && room.MemberCount() == 0 {
		o.Rooms.StopRoom(roomName)
		log.Info().Str("module", "orch").Str("room", string(roomName)).Msg("room empty, stopped")
	}
}

// KickBySID removes sid from its room and closes its signal session.
func (o *Orchestrator) KickBySID(sid core.SessionID) {
	o.Leave(sid)
	if o.Registry.Cancel(sid) && o.Metrics != nil {
		o.Metrics.Kicks.Inc()
	}
}

// Disconnect is called once the signal connection of sid is gone.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	o.Leave(sid)
	if sess, ok := o.Registry.GetSession(sid); ok {
		closeMedia(sess)
	}
	o.Registry.Unbind(sid)
}

func (o *Orchestrator) cleanupMembership(sid core.SessionID, roomName domain.RoomName) {
	if room, ok := o.Rooms.Get(roomName); ok {
		room.RemoveMember(sid)
	}
	o.Registry.RemoveRoom(sid)
	if o.Metrics != nil {
		o.Metrics.Members.Dec()
	}
}

// EvictRoom kicks every member of name and drops the room.
func (o *Orchestrator) EvictRoom(name domain.RoomName) {
	for _, snap := range o.Registry.MembersOfRoom(name) {
		o.KickBySID(snap.SID)
	}
	o.Rooms.StopRoom(name)
}

// PublishedIn lists the tracks published in roomName by members other than
// except.
func (o *Orchestrator) PublishedIn(roomName domain.RoomName, except core.SessionID) []domain.TrackInfo {
	if o.Relays == nil {
		return nil
	}
	var out []domain.TrackInfo
	for _, snap := range o.Registry.MembersOfRoom(roomName) {
		if snap.SID == except {
			continue
		}
		for _, key := range o.Relays.RelaysOf(snap.SID) {
			if relay, ok := o.Relays.Relay(key); ok {
				out = append(out, relay.Info)
			}
		}
	}
	return out
}
