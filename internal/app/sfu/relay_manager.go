package sfu

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoRoom/internal/core"
	"github.com/dkeye/VideoRoom/internal/domain"
)

var ErrNoRelay = errors.New("no relay for track")

// TrackKey identifies a published track: one per member and kind.
type TrackKey struct {
	SID  core.SessionID
	Kind domain.MediaKind
}

type RelayManager struct {
	mu     sync.RWMutex
	relays map[TrackKey]*Relay

	active    prometheus.Gauge
	forwarded prometheus.Counter
}

// NewRelayManager takes optional metrics; either may be nil.
func NewRelayManager(active prometheus.Gauge, forwarded prometheus.Counter) *RelayManager {
	return &RelayManager{
		relays:    make(map[TrackKey]*Relay),
		active:    active,
		forwarded: forwarded,
	}
}

// StartRelay creates a Relay for key and starts its loop. A relay already
// running for key is replaced; its out tracks are returned so the caller can
// detach them from the subscriber connections.
func (m *RelayManager) StartRelay(ctx context.Context, key TrackKey, info domain.TrackInfo, src *webrtc.TrackRemote) map[core.SessionID]*OutTrack {
	_, replaced := m.start(ctx, key, info, src, src.Codec().RTPCodecCapability, src.SSRC())
	return replaced
}

func (m *RelayManager) start(
	ctx context.Context,
	key TrackKey,
	info domain.TrackInfo,
	src PacketSource,
	codec webrtc.RTPCodecCapability,
	ssrc webrtc.SSRC,
) (*Relay, map[core.SessionID]*OutTrack) {
	logger := log.With().
		Str("module", "relay").
		Str("sid", string(key.SID)).
		Str("kind", string(key.Kind)).
		Str("track_id", info.TrackID).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := newRelay(info, src, cancel)
	relay.Codec = codec
	relay.SSRC = ssrc
	relay.forwarded = m.forwarded

	var replaced map[core.SessionID]*OutTrack
	m.mu.Lock()
	if old, ok := m.relays[key]; ok {
		logger.Info().Msg("replacing existing relay")
		replaced = old.detachAll()
		if old.cancel != nil {
			old.cancel()
		}
	} else if m.active != nil {
		m.active.Inc()
	}
	m.relays[key] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")

	go relay.loop(relayCtx, &logger)
	return relay, replaced
}

// AddSubscriber attaches an OutTrack to the relay of key for dst.
func (m *RelayManager) AddSubscriber(key TrackKey, dst core.SessionID, ot *OutTrack) error {
	relay, ok := m.Relay(key)
	if !ok {
		return ErrNoRelay
	}
	relay.AddOutTrack(dst, ot)
	return nil
}

// RemoveSubscriber detaches dst from the relay of key.
func (m *RelayManager) RemoveSubscriber(key TrackKey, dst core.SessionID) (*OutTrack, bool) {
	relay, ok := m.Relay(key)
	if !ok {
		return nil, false
	}
	return relay.RemoveOutTrack(dst)
}

// StopRelay stops a relay, removes it from the manager and returns the out
// tracks it was feeding.
func (m *RelayManager) StopRelay(key TrackKey) map[core.SessionID]*OutTrack {
	m.mu.Lock()
	relay, ok := m.relays[key]
	if ok {
		delete(m.relays, key)
		if m.active != nil {
			m.active.Dec()
		}
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if relay.cancel != nil {
		relay.cancel()
	}
	return relay.detachAll()
}

func (m *RelayManager) Relay(key TrackKey) (*Relay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	relay, ok := m.relays[key]
	return relay, ok
}

// HasRelay reports whether a relay exists for key.
func (m *RelayManager) HasRelay(key TrackKey) bool {
	_, ok := m.Relay(key)
	return ok
}

// RelaysOf returns the keys of every relay published by sid.
func (m *RelayManager) RelaysOf(sid core.SessionID) []TrackKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []TrackKey
	for _, kind := range []domain.MediaKind{domain.MediaAudio, domain.MediaVideo} {
		key := TrackKey{SID: sid, Kind: kind}
		if _, ok := m.relays[key]; ok {
			out = append(out, key)
		}
	}
	return out
}

// FindTrack finds the relay of sid that carries trackID.
func (m *RelayManager) FindTrack(sid core.SessionID, trackID string) (TrackKey, bool) {
	for _, key := range m.RelaysOf(sid) {
		if relay, ok := m.Relay(key); ok && relay.Info.TrackID == trackID {
			return key, true
		}
	}
	return TrackKey{}, false
}

func (m *RelayManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.relays)
}
