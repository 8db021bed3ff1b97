package orch

import (
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoRoom/internal/core"
	"github.com/dkeye/VideoRoom/internal/protocol"
)

// negotiation tracks the server-initiated offer of one subscriber connection.
// Only one offer is outstanding at a time; changes made meanwhile are folded
// into a follow-up offer.
type negotiation struct {
	inFlight bool
	again    bool
	offerID  string
}

func (o *Orchestrator) negotiate(sid core.SessionID) {
	o.negMu.Lock()
	if o.negs == nil {
		o.negs = make(map[core.SessionID]*negotiation)
	}
	n, ok := o.negs[sid]
	if !ok {
		n = &negotiation{}
		o.negs[sid] = n
	}
	if n.inFlight {
		n.again = true
		o.negMu.Unlock()
		return
	}
	n.inFlight = true
	n.offerID = uuid.NewString()
	offerID := n.offerID
	o.negMu.Unlock()

	if err := o.sendOffer(sid, offerID); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("subscriber offer")
		o.negMu.Lock()
		if n, ok := o.negs[sid]; ok {
			n.inFlight = false
			n.again = false
		}
		o.negMu.Unlock()
	}
}

func (o *Orchestrator) sendOffer(sid core.SessionID, offerID string) error {
	sess, ok := o.Registry.GetSession(sid)
	if !ok || sess.Subscriber() == nil {
		return ErrNotJoined
	}
	offer, err := sess.Subscriber().CreateAndSetOffer()
	if err != nil {
		return err
	}
	o.Send(sid, protocol.Message{Type: protocol.TypeOffer, ID: offerID, SDP: offer.SDP})
	return nil
}

// HandleAnswer applies the client's answer to the outstanding subscriber
// offer and sends a follow-up offer if changes piled up.
func (o *Orchestrator) HandleAnswer(sid core.SessionID, replyTo, sdp string) error {
	sess, ok := o.Registry.GetSession(sid)
	if !ok || sess.Subscriber() == nil {
		return ErrNotJoined
	}

	o.negMu.Lock()
	n, ok := o.negs[sid]
	if ok && replyTo != "" && replyTo != n.offerID {
		o.negMu.Unlock()
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("reply_to", replyTo).Msg("answer to stale offer ignored")
		return nil
	}
	o.negMu.Unlock()

	err := sess.Subscriber().ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})

	o.negMu.Lock()
	again := false
	if n, ok := o.negs[sid]; ok {
		n.inFlight = false
		again = n.again
		n.again = false
	}
	o.negMu.Unlock()

	if again {
		o.negotiate(sid)
	}
	return err
}

func (o *Orchestrator) forgetNegotiation(sid core.SessionID) {
	o.negMu.Lock()
	delete(o.negs, sid)
	o.negMu.Unlock()
}
