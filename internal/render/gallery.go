package render

import (
	"sync"

	"github.com/dkeye/VideoRoom/internal/domain"
	"github.com/dkeye/VideoRoom/internal/engine"
	"github.com/dkeye/VideoRoom/internal/roster"
)

// ContainerFactory hands out a container per participant.
type ContainerFactory interface {
	NewContainer(uid domain.UserID) engine.Container
	ReleaseContainer(uid domain.UserID)
}

// Gallery keeps one Surface per roster entry. It is driven by roster
// snapshots only.
type Gallery struct {
	factory ContainerFactory

	mu       sync.Mutex
	surfaces map[domain.UserID]*Surface
	closed   bool
}

func NewGallery(factory ContainerFactory) *Gallery {
	return &Gallery{
		factory:  factory,
		surfaces: make(map[domain.UserID]*Surface),
	}
}

// Sync reconciles surfaces with a roster snapshot. Its signature matches
// roster.Roster.Subscribe.
func (g *Gallery) Sync(ps []roster.Participant) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}

	seen := make(map[domain.UserID]struct{}, len(ps))
	for _, p := range ps {
		seen[p.ID] = struct{}{}
		s, ok := g.surfaces[p.ID]
		if !ok {
			s = NewSurface(p.ID, g.factory.NewContainer(p.ID))
			g.surfaces[p.ID] = s
		}
		s.Set(p.Video)
	}
	for uid, s := range g.surfaces {
		if _, ok := seen[uid]; ok {
			continue
		}
		s.Close()
		delete(g.surfaces, uid)
		g.factory.ReleaseContainer(uid)
	}
}

func (g *Gallery) Surface(uid domain.UserID) (*Surface, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.surfaces[uid]
	return s, ok
}

func (g *Gallery) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.surfaces)
}

// Close tears down every surface.
func (g *Gallery) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	for uid, s := range g.surfaces {
		s.Close()
		g.factory.ReleaseContainer(uid)
	}
	g.surfaces = make(map[domain.UserID]*Surface)
}
