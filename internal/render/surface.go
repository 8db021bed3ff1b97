// Package render binds participants' video tracks to render containers.
package render

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoRoom/internal/domain"
	"github.com/dkeye/VideoRoom/internal/engine"
)

// Surface renders one participant's video reference into its container.
type Surface struct {
	container engine.Container
	logger    zerolog.Logger

	mu     sync.Mutex
	track  engine.Track
	closed bool
}

func NewSurface(uid domain.UserID, c engine.Container) *Surface {
	return &Surface{
		container: c,
		logger:    log.With().Str("module", "render").Str("uid", string(uid)).Logger(),
	}
}

// Set switches the surface to track. Setting the track already shown does
// nothing; nil tears the current one down and clears the container. Play
// failures are logged.
func (s *Surface) Set(track engine.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || track == s.track {
		return
	}
	s.teardownLocked()
	if track == nil {
		s.container.RemoveRendering()
		return
	}

	if s.container.HasRendering() {
		s.container.RemoveRendering()
	}
	// Remembered even if Play fails so the next change stops it.
	s.track = track
	if err := track.Play(s.container); err != nil {
		s.logger.Warn().Err(err).Str("track", track.ID()).Msg("play failed")
		return
	}
	s.logger.Debug().Str("track", track.ID()).Msg("playing")
}

// Track is the reference the surface was last set to.
func (s *Surface) Track() engine.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *Surface) Container() engine.Container { return s.container }

// Close stops the current track and clears the container. Further Set calls
// are ignored.
func (s *Surface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.teardownLocked()
	s.container.RemoveRendering()
}

func (s *Surface) teardownLocked() {
	if s.track == nil {
		return
	}
	s.track.Stop()
	s.track = nil
}
