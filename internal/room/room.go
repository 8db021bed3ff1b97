// Package room ties the session, the roster and the render surfaces together
// for one conferencing view.
package room

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoRoom/internal/conference"
	"github.com/dkeye/VideoRoom/internal/domain"
	"github.com/dkeye/VideoRoom/internal/engine"
	"github.com/dkeye/VideoRoom/internal/render"
	"github.com/dkeye/VideoRoom/internal/roster"
)

type Config struct {
	Client     engine.Client
	Devices    engine.Devices
	Session    conference.Options
	Containers render.ContainerFactory
}

// Room owns one session and everything shown for it. Every lifecycle change
// goes through a single operation queue.
type Room struct {
	manager *conference.Manager
	queue   *conference.Queue
	roster  *roster.Roster
	gallery *render.Gallery
	logger  zerolog.Logger

	unsubscribe func()
}

// New wires a room. ctx bounds every queued operation.
func New(ctx context.Context, cfg Config) *Room {
	r := &Room{
		manager: conference.NewManager(cfg.Client, cfg.Devices, cfg.Session),
		queue:   conference.NewQueue(ctx),
		roster:  roster.New(),
		gallery: render.NewGallery(cfg.Containers),
		logger:  log.With().Str("module", "room").Str("channel", string(cfg.Session.Channel)).Logger(),
	}
	r.unsubscribe = r.roster.Subscribe(r.gallery.Sync)
	return r
}

// Mount queues the session setup: join, publish local media, add the local
// participant.
func (r *Room) Mount() *conference.Pending {
	return r.queue.Submit("setup", func(ctx context.Context) error {
		uid, err := r.manager.Connect(ctx, conference.Handlers{
			OnRemoteTrack:       r.roster.Publish,
			OnRemoteUnpublished: r.roster.Unpublish,
			OnParticipantLeft:   r.roster.Leave,
		})
		if err != nil {
			r.logger.Error().Err(err).Msg("setup failed")
			return err
		}
		tracks := r.manager.LocalTracks()
		r.roster.JoinLocal(uid, tracks.Audio, tracks.Camera)
		r.logger.Info().Str("uid", string(uid)).Msg("mounted")
		return nil
	})
}

// Unmount queues the teardown. The roster is cleared even if leaving fails.
func (r *Room) Unmount() *conference.Pending {
	return r.queue.Submit("cleanup", func(ctx context.Context) error {
		var err error
		if r.manager.Joined() {
			err = r.manager.Disconnect(ctx)
			if err != nil {
				r.logger.Error().Err(err).Msg("cleanup failed")
			}
		}
		r.roster.Clear()
		return err
	})
}

func (r *Room) StartScreenShare() *conference.Pending {
	return r.queue.Submit("start-screen-share", func(ctx context.Context) error {
		screen, err := r.manager.StartScreenShare(ctx)
		if err != nil {
			r.logger.Error().Err(err).Msg("start screen share")
			return err
		}
		return r.roster.SetLocalVideo(screen)
	})
}

func (r *Room) StopScreenShare() *conference.Pending {
	return r.queue.Submit("stop-screen-share", func(ctx context.Context) error {
		if !r.manager.ScreenSharing() {
			return nil
		}
		err := r.manager.StopScreenShare(ctx)
		if err != nil {
			r.logger.Error().Err(err).Msg("stop screen share")
		}
		if !r.manager.ScreenSharing() {
			if serr := r.roster.SetLocalVideo(r.manager.LocalTracks().Camera); serr != nil && err == nil {
				err = serr
			}
		}
		return err
	})
}

// ScreenSharing reports whether the local participant currently shows the
// screen track.
func (r *Room) ScreenSharing() bool {
	screen := r.manager.LocalTracks().Screen
	if screen == nil {
		return false
	}
	local, ok := r.roster.Get(r.roster.LocalID())
	return ok && local.Video == engine.Track(screen)
}

func (r *Room) CanStartScreenShare() bool {
	return r.manager.Joined() && r.manager.State() == engine.Connected && !r.ScreenSharing()
}

func (r *Room) CanStopScreenShare() bool {
	return r.ScreenSharing()
}

func (r *Room) Select(uid domain.UserID) error { return r.roster.Select(uid) }

func (r *Room) Roster() *roster.Roster { return r.roster }

func (r *Room) Gallery() *render.Gallery { return r.gallery }

func (r *Room) LocalID() domain.UserID { return r.roster.LocalID() }

func (r *Room) State() engine.ConnectionState { return r.manager.State() }

// Close waits for queued operations and releases the surfaces. Call Unmount
// first to leave the channel.
func (r *Room) Close() {
	r.queue.Close()
	r.unsubscribe()
	r.gallery.Close()
}
