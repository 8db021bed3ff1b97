// Package protocol defines the JSON envelope spoken between videoroom clients
// and the room server over the signaling WebSocket.
package protocol

import (
	"encoding/json"

	"github.com/dkeye/VideoRoom/internal/domain"
)

// Message types. Requests carry ID; replies carry ReplyTo.
const (
	TypeJoin        = "join"        // client -> server
	TypeJoined      = "joined"      // server -> client, reply to join
	TypeLeave       = "leave"       // client -> server
	TypeLeft        = "left"        // server -> client, reply to leave
	TypeOffer       = "offer"       // both directions
	TypeAnswer      = "answer"      // both directions
	TypeSubscribe   = "subscribe"   // client -> server
	TypeSubscribed  = "subscribed"  // server -> client, reply to subscribe
	TypeUnpublish   = "unpublish"   // client -> server
	TypeAck         = "ack"         // server -> client, generic reply
	TypePublished   = "published"   // server -> client, room event
	TypeUnpublished = "unpublished" // server -> client, room event
	TypeMemberLeft  = "member_left" // server -> client, room event
	TypePing        = "ping"
	TypePong        = "pong"
	TypeError       = "error"
)

// Error codes carried in Message.Code.
const (
	CodeBadPayload   = "bad_payload"
	CodeUnauthorized = "unauthorized"
	CodeRateLimited  = "rate_limited"
	CodeNotJoined    = "not_joined"
	CodeNotFound     = "not_found"
	CodeInternal     = "internal"
)

// Message is the single envelope for every signaling message.
type Message struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`       // request id
	ReplyTo string `json:"reply_to,omitempty"` // request id this message answers

	Room  domain.RoomName `json:"room,omitempty"`
	AppID string          `json:"app_id,omitempty"`
	Token string          `json:"token,omitempty"`
	UID   domain.UserID   `json:"uid,omitempty"`
	Name  string          `json:"name,omitempty"`

	SDP      string           `json:"sdp,omitempty"`
	Kind     domain.MediaKind `json:"kind,omitempty"`
	TrackID  string           `json:"track_id,omitempty"`
	TrackIDs []string         `json:"track_ids,omitempty"`

	// Tracks lists what is already published in the room, sent with joined.
	Tracks []domain.TrackInfo `json:"tracks,omitempty"`

	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// Decode parses a raw frame.
func Decode(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}

// Encode serializes a message.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Reply builds a reply of the given type to req.
func Reply(req Message, typ string) Message {
	return Message{Type: typ, ReplyTo: req.ID}
}

// ErrorReply builds an error reply to req.
func ErrorReply(req Message, code, text string) Message {
	return Message{Type: TypeError, ReplyTo: req.ID, Code: code, Error: text}
}
