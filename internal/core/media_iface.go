package core

import (
	"context"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// MediaConnection is one server-side peer connection of a member. Every member
// has two: the publisher connection carries the member's own tracks in, the
// subscriber connection carries other members' tracks out.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool
	// ApplyOfferAndCreateAnswer answers a client offer. ICE gathering is
	// complete when it returns.
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// CreateAndSetOffer starts a server-side negotiation.
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// AddLocalTrack attaches a local track to the underlying PeerConnection.
	AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	RemoveSender(*webrtc.RTPSender) error
	// WriteRTCP sends feedback to the remote peer, e.g. keyframe requests.
	WriteRTCP([]rtcp.Packet) error
	// OnClosed sets a callback for cleanup media session.
	OnClosed(func())
}
