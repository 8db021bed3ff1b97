// Package conference owns the conferencing session: join, media publishing,
// screen sharing and teardown against an engine.Client.
package conference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoRoom/internal/domain"
	"github.com/dkeye/VideoRoom/internal/engine"
)

const DefaultStateTimeout = 10 * time.Second

type Options struct {
	AppID   string
	Channel domain.RoomName
	Token   string
	// UID is the requested participant id; empty lets the service assign one.
	UID domain.UserID
	// StateTimeout bounds every wait for a connection state.
	StateTimeout time.Duration
}

// Handlers receive remote participant events for the lifetime of a session.
// They run on the engine's event goroutine.
type Handlers struct {
	OnRemoteTrack       func(uid domain.UserID, kind domain.MediaKind, track engine.Track)
	OnRemoteUnpublished func(uid domain.UserID, kind domain.MediaKind)
	OnParticipantLeft   func(uid domain.UserID)
}

// LocalTracks are the capture tracks owned by the session. Any of them may be nil.
type LocalTracks struct {
	Audio  engine.LocalTrack
	Camera engine.LocalTrack
	Screen engine.LocalTrack
}

// Manager drives one session. Lifecycle methods must not run concurrently with
// each other; callers serialize them through a Queue. Accessors are safe to
// call from any goroutine.
type Manager struct {
	client  engine.Client
	devices engine.Devices
	opts    Options
	logger  zerolog.Logger

	mu        sync.RWMutex
	joined    bool
	uid       domain.UserID
	tracks    LocalTracks
	published map[engine.LocalTrack]bool
	listeners []engine.Listener
	cancel    context.CancelFunc
}

func NewManager(client engine.Client, devices engine.Devices, opts Options) *Manager {
	if opts.StateTimeout <= 0 {
		opts.StateTimeout = DefaultStateTimeout
	}
	return &Manager{
		client:    client,
		devices:   devices,
		opts:      opts,
		logger:    log.With().Str("module", "conference").Str("channel", string(opts.Channel)).Logger(),
		published: make(map[engine.LocalTrack]bool),
	}
}

// Connect joins the channel, publishes microphone and camera and returns the
// local participant id. On failure the partial session is kept so that a
// following Disconnect can release it.
func (m *Manager) Connect(ctx context.Context, h Handlers) (domain.UserID, error) {
	if m.Joined() {
		return "", ErrAlreadyConnected
	}
	if err := m.waitForState(ctx, engine.Disconnected); err != nil {
		m.logger.Error().Err(err).Msg("client not ready to join")
		return "", err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	// Listeners go in before the join so events for members already in the
	// channel are not missed.
	listeners := m.listen(sessCtx, h)

	uid, err := m.client.Join(ctx, engine.JoinOptions{
		AppID:   m.opts.AppID,
		Channel: m.opts.Channel,
		Token:   m.opts.Token,
		UID:     m.opts.UID,
	})
	if err != nil {
		cancel()
		for _, l := range listeners {
			l.Release()
		}
		err = fmt.Errorf("%w: %w", ErrJoinFailure, err)
		m.logger.Error().Err(err).Msg("join")
		return "", err
	}

	m.mu.Lock()
	m.joined = true
	m.uid = uid
	m.listeners = listeners
	m.cancel = cancel
	m.mu.Unlock()
	m.logger.Info().Str("uid", string(uid)).Msg("joined")

	audio, video, err := m.devices.MicrophoneAndCamera(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrMediaAcquisition, err)
		m.logger.Error().Err(err).Msg("microphone and camera")
		return uid, err
	}
	m.mu.Lock()
	m.tracks.Audio = audio
	m.tracks.Camera = video
	m.mu.Unlock()

	if err := m.client.Publish(ctx, audio, video); err != nil {
		err = fmt.Errorf("%w: %w", ErrPublishFailure, err)
		m.logger.Error().Err(err).Msg("publish")
		return uid, err
	}
	m.setPublished(true, audio, video)
	m.logger.Info().Str("audio", audio.ID()).Str("video", video.ID()).Msg("published local tracks")
	return uid, nil
}

func (m *Manager) listen(ctx context.Context, h Handlers) []engine.Listener {
	onPublished := m.client.OnUserPublished(func(uid domain.UserID, kind domain.MediaKind) {
		subCtx, cancel := context.WithTimeout(ctx, m.opts.StateTimeout)
		defer cancel()
		track, err := m.client.Subscribe(subCtx, uid, kind)
		if err != nil {
			m.logger.Error().Err(err).Str("uid", string(uid)).Stringer("kind", kind).Msg("subscribe")
			return
		}
		m.logger.Debug().Str("uid", string(uid)).Stringer("kind", kind).Str("track", track.ID()).Msg("subscribed")
		if h.OnRemoteTrack != nil {
			h.OnRemoteTrack(uid, kind, track)
		}
	})
	onUnpublished := m.client.OnUserUnpublished(func(uid domain.UserID, kind domain.MediaKind) {
		m.logger.Debug().Str("uid", string(uid)).Stringer("kind", kind).Msg("remote unpublished")
		if h.OnRemoteUnpublished != nil {
			h.OnRemoteUnpublished(uid, kind)
		}
	})
	onLeft := m.client.OnUserLeft(func(uid domain.UserID) {
		m.logger.Debug().Str("uid", string(uid)).Msg("remote left")
		if h.OnParticipantLeft != nil {
			h.OnParticipantLeft(uid)
		}
	})
	return []engine.Listener{onPublished, onUnpublished, onLeft}
}

// Disconnect tears the session down: stops and releases every local track,
// unpublishes what was published and leaves the channel. Tracks that were
// never acquired are skipped. The session is cleared even when a step fails.
func (m *Manager) Disconnect(ctx context.Context) error {
	if !m.Joined() {
		return ErrNotConnected
	}
	// A lost connection leaves nothing to unpublish or leave on the engine
	// side, only local state to release.
	lost := m.client.ConnectionState() == engine.Disconnected
	if !lost {
		if err := m.waitForState(ctx, engine.Connected); err != nil {
			m.logger.Error().Err(err).Msg("client not ready to leave")
			return err
		}
	}

	m.mu.Lock()
	listeners := m.listeners
	cancel := m.cancel
	tracks := m.tracks
	m.listeners = nil
	m.cancel = nil
	m.mu.Unlock()

	for _, l := range listeners {
		l.Release()
	}
	if cancel != nil {
		cancel()
	}

	var toUnpublish []engine.LocalTrack
	for _, t := range []engine.LocalTrack{tracks.Audio, tracks.Camera, tracks.Screen} {
		if t == nil {
			continue
		}
		t.Stop()
		t.Close()
		if m.isPublished(t) {
			toUnpublish = append(toUnpublish, t)
		}
	}

	var errs []error
	if lost {
		m.logger.Warn().Msg("connection already lost, releasing local session")
		toUnpublish = nil
	}
	if len(toUnpublish) > 0 {
		if err := m.client.Unpublish(ctx, toUnpublish...); err != nil {
			err = fmt.Errorf("%w: %w", ErrUnpublishFailure, err)
			m.logger.Error().Err(err).Msg("unpublish on disconnect")
			errs = append(errs, err)
		}
	}
	if !lost {
		if err := m.client.Leave(ctx); err != nil {
			err = fmt.Errorf("%w: %w", ErrLeaveFailure, err)
			m.logger.Error().Err(err).Msg("leave")
			errs = append(errs, err)
		}
	}

	m.mu.Lock()
	m.joined = false
	m.uid = ""
	m.tracks = LocalTracks{}
	m.published = make(map[engine.LocalTrack]bool)
	m.mu.Unlock()

	m.logger.Info().Msg("left")
	return errors.Join(errs...)
}

// StartScreenShare swaps the published camera for a screen track. The camera
// track is kept so StopScreenShare can restore it.
func (m *Manager) StartScreenShare(ctx context.Context) (engine.LocalTrack, error) {
	if !m.Joined() || m.client.ConnectionState() != engine.Connected {
		return nil, ErrNotConnected
	}
	if m.ScreenSharing() {
		return nil, ErrScreenShareActive
	}

	screen, err := m.devices.Screen(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrMediaAcquisition, err)
		m.logger.Error().Err(err).Msg("screen")
		return nil, err
	}

	camera := m.LocalTracks().Camera
	if camera != nil && m.isPublished(camera) {
		if err := m.client.Unpublish(ctx, camera); err != nil {
			screen.Stop()
			screen.Close()
			err = fmt.Errorf("%w: %w", ErrUnpublishFailure, err)
			m.logger.Error().Err(err).Msg("unpublish camera")
			return nil, err
		}
		m.setPublished(false, camera)
	}

	if err := m.client.Publish(ctx, screen); err != nil {
		screen.Stop()
		screen.Close()
		err = fmt.Errorf("%w: %w", ErrPublishFailure, err)
		m.logger.Error().Err(err).Msg("publish screen")
		m.republishCamera(ctx)
		return nil, err
	}

	m.mu.Lock()
	m.tracks.Screen = screen
	m.published[screen] = true
	m.mu.Unlock()
	m.logger.Info().Str("track", screen.ID()).Msg("screen share started")
	return screen, nil
}

// StopScreenShare ends an active screen share and republishes the camera.
// Without an active share it does nothing.
func (m *Manager) StopScreenShare(ctx context.Context) error {
	screen := m.LocalTracks().Screen
	if screen == nil {
		return nil
	}
	if m.isPublished(screen) {
		if err := m.client.Unpublish(ctx, screen); err != nil {
			err = fmt.Errorf("%w: %w", ErrUnpublishFailure, err)
			m.logger.Error().Err(err).Msg("unpublish screen")
			return err
		}
	}
	screen.Stop()
	screen.Close()

	m.mu.Lock()
	m.tracks.Screen = nil
	delete(m.published, screen)
	m.mu.Unlock()
	m.logger.Info().Str("track", screen.ID()).Msg("screen share stopped")

	return m.republishCamera(ctx)
}

func (m *Manager) republishCamera(ctx context.Context) error {
	camera := m.LocalTracks().Camera
	if camera == nil || m.isPublished(camera) {
		return nil
	}
	if err := m.client.Publish(ctx, camera); err != nil {
		err = fmt.Errorf("%w: %w", ErrPublishFailure, err)
		m.logger.Error().Err(err).Msg("republish camera")
		return err
	}
	m.setPublished(true, camera)
	return nil
}

// waitForState blocks until the client reports want, ctx ends or the state
// timeout elapses.
func (m *Manager) waitForState(ctx context.Context, want engine.ConnectionState) error {
	reached := make(chan struct{}, 1)
	l := m.client.OnConnectionStateChange(func(_, cur engine.ConnectionState) {
		if cur == want {
			select {
			case reached <- struct{}{}:
			default:
			}
		}
	})
	defer l.Release()

	if m.client.ConnectionState() == want {
		return nil
	}

	timer := time.NewTimer(m.opts.StateTimeout)
	defer timer.Stop()
	select {
	case <-reached:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: waiting for %s, have %s", ErrConnectionTimeout, want, m.client.ConnectionState())
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) setPublished(v bool, tracks ...engine.LocalTrack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tracks {
		if v {
			m.published[t] = true
		} else {
			delete(m.published, t)
		}
	}
}

func (m *Manager) isPublished(t engine.LocalTrack) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.published[t]
}

// Joined reports whether a session exists, including a partially set up one.
func (m *Manager) Joined() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.joined
}

func (m *Manager) LocalUID() domain.UserID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uid
}

func (m *Manager) LocalTracks() LocalTracks {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracks
}

func (m *Manager) ScreenSharing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracks.Screen != nil
}

// State is the engine's current connection state.
func (m *Manager) State() engine.ConnectionState {
	return m.client.ConnectionState()
}
