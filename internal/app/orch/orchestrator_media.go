package orch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoRoom/internal/app/sfu"
	"github.com/dkeye/VideoRoom/internal/core"
	"github.com/dkeye/VideoRoom/internal/domain"
	"github.com/dkeye/VideoRoom/internal/protocol"
)

// HandleOffer answers a publisher offer from sid, creating its publisher
// connection on first use.
func (o *Orchestrator) HandleOffer(ctx context.Context, sid core.SessionID, sdp string) (string, error) {
	if _, _, ok := o.Registry.RoomOf(sid); !ok {
		return "", ErrNotJoined
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return "", ErrNoSession
	}

	pub := sess.Publisher()
	if pub == nil || pub.IsClosed() {
		var err error
		pub, err = o.NewMedia(sid)
		if err != nil {
			return "", fmt.Errorf("publisher connection: %w", err)
		}
		o.BindMediaHandlers(pub, sid)
		if err := pub.Start(ctx); err != nil {
			pub.Close()
			return "", fmt.Errorf("publisher connection: %w", err)
		}
		sess.UpdatePublisher(pub)
	}

	answer, err := pub.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
	if err != nil {
		return "", fmt.Errorf("apply offer: %w", err)
	}
	return answer.SDP, nil
}

func (o *Orchestrator) BindMediaHandlers(mc core.MediaConnection, sid core.SessionID) {
	mc.OnTrack(func(trackCtx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		o.OnTrack(trackCtx, sid, track)
	})
	mc.OnClosed(func() { o.OnMediaDisconnect(sid) })
}

// OnMediaDisconnect is called when the publisher connection of sid fails or
// closes: everything it published is withdrawn.
func (o *Orchestrator) OnMediaDisconnect(sid core.SessionID) {
	for _, key := range o.Relays.RelaysOf(sid) {
		o.unpublish(key)
	}
}

// OnTrack is called when a new remote media track appears for a given session.
func (o *Orchestrator) OnTrack(ctx context.Context, sid core.SessionID, track *webrtc.TrackRemote) {
	roomName, sess, ok := o.Registry.RoomOf(sid)
	if !ok {
		log.Info().Str("module", "sfu").Str("sid", string(sid)).Msg("OnTrack: no room for sid")
		return
	}
	kind, err := domain.ParseMediaKind(track.Kind().String())
	if err != nil {
		log.Warn().Err(err).Str("module", "sfu").Str("sid", string(sid)).Msg("OnTrack: unsupported kind")
		return
	}
	uid := sess.Meta().User.ID
	key := sfu.TrackKey{SID: sid, Kind: kind}
	info := domain.TrackInfo{Owner: uid, Kind: kind, TrackID: track.ID(), StreamID: track.StreamID()}

	replaced := o.Relays.StartRelay(ctx, key, info, track)
	o.detachOutTracks(replaced)

	o.Broadcast(roomName, sid, protocol.Message{
		Type:    protocol.TypePublished,
		Room:    roomName,
		UID:     uid,
		Kind:    kind,
		TrackID: info.TrackID,
	})
}

// Subscribe starts forwarding owner's track of kind to sid and renegotiates
// sid's subscriber connection. It returns the forwarded track id.
func (o *Orchestrator) Subscribe(sid core.SessionID, owner domain.UserID, kind domain.MediaKind) (string, error) {
	roomName, sess, ok := o.Registry.RoomOf(sid)
	if !ok {
		return "", ErrNotJoined
	}
	room, ok := o.Rooms.Get(roomName)
	if !ok {
		return "", ErrNotJoined
	}
	ownerSID, ok := room.SessionOf(owner)
	if !ok {
		return "", ErrTrackNotFound
	}
	key := sfu.TrackKey{SID: ownerSID, Kind: kind}
	relay, ok := o.Relays.Relay(key)
	if !ok {
		return "", ErrTrackNotFound
	}
	sub := sess.Subscriber()
	if sub == nil {
		return "", ErrNotJoined
	}

	if old, ok := o.Relays.RemoveSubscriber(key, sid); ok && old.Sender != nil {
		_ = sub.RemoveSender(old.Sender)
	}

	local, err := webrtc.NewTrackLocalStaticRTP(relay.Codec, relay.Info.TrackID, string(owner))
	if err != nil {
		return "", fmt.Errorf("out track: %w", err)
	}
	sender, err := sub.AddLocalTrack(local)
	if err != nil {
		return "", fmt.Errorf("add out track: %w", err)
	}
	if err := o.Relays.AddSubscriber(key, sid, sfu.NewOutTrack(local, sender)); err != nil {
		_ = sub.RemoveSender(sender)
		return "", ErrTrackNotFound
	}
	go o.readSenderRTCP(key, sender)

	o.requestKeyframe(key)
	o.negotiate(sid)
	log.Info().Str("module", "sfu").Str("sid", string(sid)).Str("owner", string(owner)).Str("kind", string(kind)).Msg("subscribed")
	return relay.Info.TrackID, nil
}

// Unpublish withdraws the tracks of sid with the given ids.
func (o *Orchestrator) Unpublish(sid core.SessionID, trackIDs []string) error {
	if _, _, ok := o.Registry.RoomOf(sid); !ok {
		return ErrNotJoined
	}
	for _, id := range trackIDs {
		key, ok := o.Relays.FindTrack(sid, id)
		if !ok {
			log.Debug().Str("module", "sfu").Str("sid", string(sid)).Str("track_id", id).Msg("unpublish: unknown track")
			continue
		}
		o.unpublish(key)
	}
	return nil
}

func (o *Orchestrator) unpublish(key sfu.TrackKey) {
	relay, ok := o.Relays.Relay(key)
	if !ok {
		return
	}
	o.detachOutTracks(o.Relays.StopRelay(key))

	roomName, _, ok := o.Registry.RoomOf(key.SID)
	if !ok {
		return
	}
	o.Broadcast(roomName, key.SID, protocol.Message{
		Type:    protocol.TypeUnpublished,
		Room:    roomName,
		UID:     relay.Info.Owner,
		Kind:    key.Kind,
		TrackID: relay.Info.TrackID,
	})
}

// detachOutTracks removes out tracks from their subscriber connections.
func (o *Orchestrator) detachOutTracks(outs map[core.SessionID]*sfu.OutTrack) {
	for dst, ot := range outs {
		sess, ok := o.Registry.GetSession(dst)
		if !ok || ot.Sender == nil {
			continue
		}
		sub := sess.Subscriber()
		if sub == nil || sub.IsClosed() {
			continue
		}
		if err := sub.RemoveSender(ot.Sender); err != nil {
			log.Warn().Err(err).Str("module", "sfu").Str("dst_sid", string(dst)).Msg("remove out track")
			continue
		}
		o.negotiate(dst)
	}
}

// cleanupMedia stops what sid publishes and receives and closes both of its
// peer connections.
func (o *Orchestrator) cleanupMedia(sid core.SessionID, roomName domain.RoomName) {
	if o.Relays != nil {
		for _, key := range o.Relays.RelaysOf(sid) {
			o.detachOutTracks(o.Relays.StopRelay(key))
		}
		for _, snap := range o.Registry.MembersOfRoom(roomName) {
			for _, key := range o.Relays.RelaysOf(snap.SID) {
				o.Relays.RemoveSubscriber(key, sid)
			}
		}
	}
	o.forgetNegotiation(sid)
	if sess, ok := o.Registry.GetSession(sid); ok {
		closeMedia(sess)
	}
}

func closeMedia(sess core.MemberSession) {
	if pub := sess.Publisher(); pub != nil {
		sess.UpdatePublisher(nil)
		pub.Close()
	}
	if sub := sess.Subscriber(); sub != nil {
		sess.UpdateSubscriber(nil)
		sub.Close()
	}
}

// readSenderRTCP drains feedback for an out track and passes keyframe
// requests on to the publisher.
func (o *Orchestrator) readSenderRTCP(key sfu.TrackKey, sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				log.Debug().Err(err).Str("module", "sfu").Msg("sender rtcp ended")
			}
			return
		}
		for _, p := range pkts {
			switch p.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				o.requestKeyframe(key)
			}
		}
	}
}

func (o *Orchestrator) requestKeyframe(key sfu.TrackKey) {
	if key.Kind != domain.MediaVideo {
		return
	}
	relay, ok := o.Relays.Relay(key)
	if !ok {
		return
	}
	sess, ok := o.Registry.GetSession(key.SID)
	if !ok || sess.Publisher() == nil {
		return
	}
	err := sess.Publisher().WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(relay.SSRC)}})
	if err != nil {
		log.Debug().Err(err).Str("module", "sfu").Str("sid", string(key.SID)).Msg("keyframe request")
	}
}
