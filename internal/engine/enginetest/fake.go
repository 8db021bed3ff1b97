// Package enginetest provides in-memory fakes of the engine boundary.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/dkeye/VideoRoom/internal/domain"
	"github.com/dkeye/VideoRoom/internal/engine"
)

var ErrTrackClosed = errors.New("track closed")

// Track is a fake local/remote track.
type Track struct {
	id   string
	kind domain.MediaKind

	mu      sync.Mutex
	plays   int
	stops   int
	closed  bool
	PlayErr error
}

func NewTrack(id string, kind domain.MediaKind) *Track {
	return &Track{id: id, kind: kind}
}

func (t *Track) ID() string             { return t.id }
func (t *Track) Kind() domain.MediaKind { return t.kind }

func (t *Track) Play(c engine.Container) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.PlayErr != nil {
		return t.PlayErr
	}
	if t.closed {
		return ErrTrackClosed
	}
	t.plays++
	c.Attach(t.id)
	return nil
}

func (t *Track) Stop() {
	t.mu.Lock()
	t.stops++
	t.mu.Unlock()
}

func (t *Track) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

func (t *Track) Plays() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.plays
}

func (t *Track) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

func (t *Track) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Devices hands out fake capture tracks.
type Devices struct {
	mu        sync.Mutex
	n         int
	CameraErr error
	ScreenErr error
	Acquired  []*Track
}

func (d *Devices) MicrophoneAndCamera(ctx context.Context) (engine.LocalTrack, engine.LocalTrack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.CameraErr != nil {
		return nil, nil, d.CameraErr
	}
	d.n++
	a := NewTrack(fmt.Sprintf("mic-%d", d.n), domain.MediaAudio)
	v := NewTrack(fmt.Sprintf("cam-%d", d.n), domain.MediaVideo)
	d.Acquired = append(d.Acquired, a, v)
	return a, v, nil
}

func (d *Devices) Screen(ctx context.Context) (engine.LocalTrack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ScreenErr != nil {
		return nil, d.ScreenErr
	}
	d.n++
	s := NewTrack(fmt.Sprintf("screen-%d", d.n), domain.MediaVideo)
	d.Acquired = append(d.Acquired, s)
	return s, nil
}

// Client is a scriptable engine.Client.
type Client struct {
	state engine.StateNotifier

	mu        sync.Mutex
	calls     []string
	published map[string]engine.LocalTrack
	subs      int
	remote    map[string]*Track

	UID          domain.UserID
	JoinErr      error
	LeaveErr     error
	PublishErr   error
	UnpublishErr error
	SubscribeErr error
	// BeforeJoin, when set, runs at the start of Join (tests use it to block).
	BeforeJoin func(ctx context.Context)
	// HoldState keeps Join/Leave from moving the state, to exercise timeouts.
	HoldState bool

	onPublished   engine.HandlerSet[engine.PublishedHandler]
	onUnpublished engine.HandlerSet[engine.UnpublishedHandler]
	onLeft        engine.HandlerSet[engine.LeftHandler]
}

func NewClient(uid domain.UserID) *Client {
	return &Client{
		UID:       uid,
		published: make(map[string]engine.LocalTrack),
		remote:    make(map[string]*Track),
	}
}

func (c *Client) record(call string) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
}

// Calls returns the engine calls made so far, in order.
func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// SetState forces the connection state.
func (c *Client) SetState(s engine.ConnectionState) { c.state.Set(s) }

func (c *Client) ConnectionState() engine.ConnectionState { return c.state.State() }

func (c *Client) OnConnectionStateChange(fn engine.StateHandler) engine.Listener {
	return c.state.Subscribe(fn)
}

func (c *Client) Join(ctx context.Context, opts engine.JoinOptions) (domain.UserID, error) {
	if c.BeforeJoin != nil {
		c.BeforeJoin(ctx)
	}
	c.record("join:" + string(opts.Channel))
	if c.JoinErr != nil {
		return "", c.JoinErr
	}
	if !c.HoldState {
		c.state.Set(engine.Connecting)
		c.state.Set(engine.Connected)
	}
	if opts.UID != "" {
		return opts.UID, nil
	}
	return c.UID, nil
}

func (c *Client) Leave(ctx context.Context) error {
	c.record("leave")
	if c.LeaveErr != nil {
		return c.LeaveErr
	}
	if !c.HoldState {
		c.state.Set(engine.Disconnecting)
		c.state.Set(engine.Disconnected)
	}
	c.mu.Lock()
	c.published = make(map[string]engine.LocalTrack)
	c.mu.Unlock()
	return nil
}

func (c *Client) Publish(ctx context.Context, tracks ...engine.LocalTrack) error {
	for _, t := range tracks {
		c.record("publish:" + t.ID())
	}
	if c.PublishErr != nil {
		return c.PublishErr
	}
	c.mu.Lock()
	for _, t := range tracks {
		c.published[t.ID()] = t
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) Unpublish(ctx context.Context, tracks ...engine.LocalTrack) error {
	for _, t := range tracks {
		c.record("unpublish:" + t.ID())
	}
	if c.UnpublishErr != nil {
		return c.UnpublishErr
	}
	c.mu.Lock()
	for _, t := range tracks {
		delete(c.published, t.ID())
	}
	c.mu.Unlock()
	return nil
}

// Published reports whether a local track is currently published.
func (c *Client) Published(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.published[id]
	return ok
}

func (c *Client) Subscribe(ctx context.Context, uid domain.UserID, kind domain.MediaKind) (engine.Track, error) {
	c.record(fmt.Sprintf("subscribe:%s:%s", uid, kind))
	if c.SubscribeErr != nil {
		return nil, c.SubscribeErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs++
	t := NewTrack(fmt.Sprintf("%s-%s-%d", uid, kind, c.subs), kind)
	c.remote[string(uid)+"/"+string(kind)] = t
	return t, nil
}

// RemoteTrack returns the last track handed out by Subscribe for uid/kind.
func (c *Client) RemoteTrack(uid domain.UserID, kind domain.MediaKind) *Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote[string(uid)+"/"+string(kind)]
}

func (c *Client) OnUserPublished(fn engine.PublishedHandler) engine.Listener {
	return c.onPublished.Add(fn)
}

func (c *Client) OnUserUnpublished(fn engine.UnpublishedHandler) engine.Listener {
	return c.onUnpublished.Add(fn)
}

func (c *Client) OnUserLeft(fn engine.LeftHandler) engine.Listener {
	return c.onLeft.Add(fn)
}

// ListenerCount reports how many event handlers are still registered.
func (c *Client) ListenerCount() int {
	return c.onPublished.Len() + c.onUnpublished.Len() + c.onLeft.Len()
}

func (c *Client) EmitPublished(uid domain.UserID, kind domain.MediaKind) {
	for _, fn := range c.onPublished.Snapshot() {
		fn(uid, kind)
	}
}

func (c *Client) EmitUnpublished(uid domain.UserID, kind domain.MediaKind) {
	for _, fn := range c.onUnpublished.Snapshot() {
		fn(uid, kind)
	}
}

func (c *Client) EmitLeft(uid domain.UserID) {
	for _, fn := range c.onLeft.Snapshot() {
		fn(uid)
	}
}

// Container records renderings attached to it.
type Container struct {
	mu       sync.Mutex
	current  string
	attached []string
	removed  int
}

func (c *Container) Attach(trackID string) media.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = trackID
	c.attached = append(c.attached, trackID)
	return nopWriter{}
}

func (c *Container) HasRendering() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != ""
}

func (c *Container) RemoveRendering() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != "" {
		c.current = ""
		c.removed++
	}
}

// Current is the track id rendered right now, or "".
func (c *Container) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Container) Attached() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.attached...)
}

func (c *Container) Removed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removed
}

type nopWriter struct{}

func (nopWriter) WriteRTP(*rtp.Packet) error { return nil }
func (nopWriter) Close() error               { return nil }
