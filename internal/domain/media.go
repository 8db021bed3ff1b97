package domain

import "fmt"

// MediaKind is the kind of a published track.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

func (k MediaKind) String() string { return string(k) }

// ParseMediaKind validates a kind received from the wire.
func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(s) {
	case MediaAudio, MediaVideo:
		return MediaKind(s), nil
	}
	return "", fmt.Errorf("unknown media kind %q", s)
}

// TrackInfo describes a track published into a room.
type TrackInfo struct {
	Owner    UserID    `json:"uid"`
	Kind     MediaKind `json:"kind"`
	TrackID  string    `json:"track_id"`
	StreamID string    `json:"stream_id"`
}
