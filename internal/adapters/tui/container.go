package tui

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/dkeye/VideoRoom/internal/domain"
	"github.com/dkeye/VideoRoom/internal/engine"
)

// Stats is what a rendering has received so far.
type Stats struct {
	TrackID string
	Packets uint64
	Bytes   uint64
	Since   time.Time
	Last    time.Time
}

// Bitrate in kbit/s over the lifetime of the rendering.
func (s Stats) Bitrate() float64 {
	d := s.Last.Sub(s.Since).Seconds()
	if d <= 0 {
		return 0
	}
	return float64(s.Bytes) * 8 / d / 1000
}

// rendering counts packets instead of decoding them; a terminal cannot show
// the frames.
type rendering struct {
	trackID string
	since   time.Time
	packets atomic.Uint64
	bytes   atomic.Uint64
	last    atomic.Int64
	closed  atomic.Bool
}

func (r *rendering) WriteRTP(p *rtp.Packet) error {
	if r.closed.Load() {
		return nil
	}
	r.packets.Add(1)
	r.bytes.Add(uint64(len(p.Payload)))
	r.last.Store(time.Now().UnixNano())
	return nil
}

func (r *rendering) Close() error {
	r.closed.Store(true)
	return nil
}

func (r *rendering) stats() Stats {
	s := Stats{
		TrackID: r.trackID,
		Packets: r.packets.Load(),
		Bytes:   r.bytes.Load(),
		Since:   r.since,
	}
	if last := r.last.Load(); last != 0 {
		s.Last = time.Unix(0, last)
	}
	return s
}

// Container is the terminal stand-in for a video element.
type Container struct {
	mu      sync.Mutex
	current *rendering
}

var _ engine.Container = (*Container)(nil)

func (c *Container) Attach(trackID string) media.Writer {
	r := &rendering{trackID: trackID, since: time.Now()}
	c.mu.Lock()
	prev := c.current
	c.current = r
	c.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return r
}

func (c *Container) HasRendering() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

func (c *Container) RemoveRendering() {
	c.mu.Lock()
	r := c.current
	c.current = nil
	c.mu.Unlock()
	if r != nil {
		_ = r.Close()
	}
}

// Stats of the current rendering; false when nothing is attached.
func (c *Container) Stats() (Stats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Stats{}, false
	}
	return c.current.stats(), true
}

// Containers hands out one Container per participant and remembers them so
// the view can read their stats.
type Containers struct {
	mu    sync.Mutex
	byUID map[domain.UserID]*Container
}

func NewContainers() *Containers {
	return &Containers{byUID: make(map[domain.UserID]*Container)}
}

func (f *Containers) NewContainer(uid domain.UserID) engine.Container {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &Container{}
	f.byUID[uid] = c
	return c
}

func (f *Containers) ReleaseContainer(uid domain.UserID) {
	f.mu.Lock()
	delete(f.byUID, uid)
	f.mu.Unlock()
}

func (f *Containers) Get(uid domain.UserID) (*Container, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byUID[uid]
	return c, ok
}
