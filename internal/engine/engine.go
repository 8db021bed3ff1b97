// Package engine is the boundary between the conferencing core and the RTC
// engine that performs signaling, transport and media. The core only talks to
// these interfaces; internal/adapters/rtcclient implements them on pion.
package engine

import (
	"context"

	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/dkeye/VideoRoom/internal/domain"
)

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Disconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Disconnecting:
		return "DISCONNECTING"
	}
	return "UNKNOWN"
}

// Container is a render target owned by the presentation layer.
type Container interface {
	// Attach starts a new rendering for trackID and returns the sink its
	// packets are written to.
	Attach(trackID string) media.Writer
	// HasRendering reports whether a rendering is currently attached.
	HasRendering() bool
	// RemoveRendering detaches and closes the current rendering, if any.
	RemoveRendering()
}

// Track is a single local or remote media stream.
type Track interface {
	ID() string
	Kind() domain.MediaKind
	// Play renders the track into c.
	Play(c Container) error
	// Stop ends local rendering. The track itself stays usable.
	Stop()
}

// LocalTrack is a track backed by a local capture source.
type LocalTrack interface {
	Track
	// Close releases the capture source. A closed track cannot be republished.
	Close()
}

// Listener is the handle of an event subscription.
type Listener interface {
	// Release detaches the handler. Safe to call more than once.
	Release()
}

type JoinOptions struct {
	AppID   string
	Channel domain.RoomName
	Token   string
	// UID is the requested participant id; empty lets the server assign one.
	UID domain.UserID
}

type (
	StateHandler       func(prev, cur ConnectionState)
	PublishedHandler   func(uid domain.UserID, kind domain.MediaKind)
	UnpublishedHandler func(uid domain.UserID, kind domain.MediaKind)
	LeftHandler        func(uid domain.UserID)
)

// Client is one session with the RTC service.
type Client interface {
	ConnectionState() ConnectionState
	OnConnectionStateChange(fn StateHandler) Listener

	Join(ctx context.Context, opts JoinOptions) (domain.UserID, error)
	Leave(ctx context.Context) error

	Publish(ctx context.Context, tracks ...LocalTrack) error
	Unpublish(ctx context.Context, tracks ...LocalTrack) error
	// Subscribe requests delivery of uid's published track of the given kind.
	Subscribe(ctx context.Context, uid domain.UserID, kind domain.MediaKind) (Track, error)

	OnUserPublished(fn PublishedHandler) Listener
	OnUserUnpublished(fn UnpublishedHandler) Listener
	OnUserLeft(fn LeftHandler) Listener
}

// Devices acquires local capture sources.
type Devices interface {
	MicrophoneAndCamera(ctx context.Context) (audio, video LocalTrack, err error)
	Screen(ctx context.Context) (LocalTrack, error)
}

// ClientConfig mirrors the mode/codec pair a client is created with.
type ClientConfig struct {
	Mode  string `mapstructure:"mode"`
	Codec string `mapstructure:"codec"`
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{Mode: "rtc", Codec: "vp8"}
}
