// Package rtcclient implements the engine boundary on pion/webrtc, talking
// to roomserver over its signaling WebSocket.
package rtcclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoRoom/internal/adapters/rtc"
	"github.com/dkeye/VideoRoom/internal/conference"
	"github.com/dkeye/VideoRoom/internal/core"
	"github.com/dkeye/VideoRoom/internal/domain"
	"github.com/dkeye/VideoRoom/internal/engine"
	"github.com/dkeye/VideoRoom/internal/protocol"
)

var (
	ErrBusy             = errors.New("client is not disconnected")
	ErrNotJoined        = errors.New("client is not connected")
	ErrUnsupportedTrack = errors.New("track was not created by this engine")
)

type Options struct {
	ServerURL  string
	ICEServers []string
	Config     engine.ClientConfig
	// Name is the display name sent on join.
	Name   string
	Dialer *websocket.Dialer
}

// Client is a pion-based engine.Client. Each join opens a session with two
// peer connections: the publisher carries local tracks to the server, the
// subscriber receives the tracks this client subscribed to.
type Client struct {
	opts Options

	state       engine.StateNotifier
	published   engine.HandlerSet[engine.PublishedHandler]
	unpublished engine.HandlerSet[engine.UnpublishedHandler]
	left        engine.HandlerSet[engine.LeftHandler]

	mu   sync.Mutex
	sess *session
}

var _ engine.Client = (*Client)(nil)

func New(opts Options) *Client {
	if opts.Config.Mode == "" {
		opts.Config = engine.DefaultClientConfig()
	}
	return &Client{opts: opts}
}

func (c *Client) ConnectionState() engine.ConnectionState { return c.state.State() }

func (c *Client) OnConnectionStateChange(fn engine.StateHandler) engine.Listener {
	return c.state.Subscribe(fn)
}

func (c *Client) OnUserPublished(fn engine.PublishedHandler) engine.Listener {
	return c.published.Add(fn)
}

func (c *Client) OnUserUnpublished(fn engine.UnpublishedHandler) engine.Listener {
	return c.unpublished.Add(fn)
}

func (c *Client) OnUserLeft(fn engine.LeftHandler) engine.Listener {
	return c.left.Add(fn)
}

func (c *Client) Join(ctx context.Context, opts engine.JoinOptions) (domain.UserID, error) {
	if !c.state.CompareAndSet(engine.Disconnected, engine.Connecting) {
		return "", ErrBusy
	}
	s, err := c.connect(ctx)
	if err != nil {
		c.state.Set(engine.Disconnected)
		return "", err
	}

	reply, err := s.sig.request(ctx, protocol.Message{
		Type:  protocol.TypeJoin,
		Room:  opts.Channel,
		AppID: opts.AppID,
		Token: opts.Token,
		UID:   opts.UID,
		Name:  c.opts.Name,
	})
	if err != nil {
		s.close()
		c.state.Set(engine.Disconnected)
		return "", fmt.Errorf("join %s: %w", opts.Channel, err)
	}
	s.uid = reply.UID

	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
	c.state.Set(engine.Connected)

	for _, t := range reply.Tracks {
		c.emitPublished(s, t.Owner, t.Kind)
	}
	s.markJoined()
	log.Info().Str("module", "rtcclient").Str("uid", string(s.uid)).Str("channel", string(opts.Channel)).Int("tracks", len(reply.Tracks)).Msg("joined")
	return s.uid, nil
}

func (c *Client) connect(ctx context.Context) (*session, error) {
	sig, err := dialSignal(ctx, c.opts.Dialer, c.opts.ServerURL)
	if err != nil {
		return nil, err
	}
	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		ctx:          sessCtx,
		cancel:       cancel,
		sig:          sig,
		rtcConfig:    rtc.WebRTCConfig(c.opts.ICEServers),
		events:       conference.NewQueue(sessCtx),
		negotiations: conference.NewQueue(sessCtx),
		senders:      make(map[string]*webrtc.RTPSender),
		arrived:      make(map[string]*RemoteTrack),
		waiters:      make(map[string]chan *RemoteTrack),
		joined:       make(chan struct{}),
	}
	// Room events wait until join completed so that handlers see a
	// connected client.
	s.events.Submit("await-join", func(ctx context.Context) error {
		select {
		case <-s.joined:
		case <-sig.Done():
		case <-ctx.Done():
		}
		return nil
	})

	sub, err := rtc.NewWebRTCConnection(s.rtcConfig, core.SessionID("subscriber"))
	if err != nil {
		s.close()
		return nil, fmt.Errorf("subscriber connection: %w", err)
	}
	sub.OnTrack(func(_ context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.onTrack(track)
	})
	if err := sub.Start(sessCtx); err != nil {
		sub.Close()
		s.close()
		return nil, fmt.Errorf("subscriber connection: %w", err)
	}
	s.sub = sub

	go sig.run(
		func(msg protocol.Message) { c.onMessage(s, msg) },
		func(err error) { c.onSocketClosed(s, err) },
	)
	return s, nil
}

func (c *Client) Leave(ctx context.Context) error {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()
	if s == nil {
		return ErrNotJoined
	}

	c.state.Set(engine.Disconnecting)
	_, err := s.sig.request(ctx, protocol.Message{Type: protocol.TypeLeave})
	s.close()
	c.state.Set(engine.Disconnected)
	if err != nil && !errors.Is(err, ErrClosed) {
		return fmt.Errorf("leave: %w", err)
	}
	log.Info().Str("module", "rtcclient").Str("uid", string(s.uid)).Msg("left")
	return nil
}

func (c *Client) onSocketClosed(s *session, err error) {
	c.mu.Lock()
	lost := c.sess == s
	if lost {
		c.sess = nil
	}
	c.mu.Unlock()
	if !lost {
		return
	}
	log.Warn().Err(err).Str("module", "rtcclient").Msg("signaling connection lost")
	s.close()
	c.state.Set(engine.Disconnected)
}

// active returns the session while connected.
func (c *Client) active() (*session, error) {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil || c.state.State() != engine.Connected {
		return nil, ErrNotJoined
	}
	return s, nil
}

func (c *Client) onMessage(s *session, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeOffer:
		s.negotiations.Submit("subscriber-offer", func(ctx context.Context) error {
			return s.answerOffer(msg)
		})
	case protocol.TypePublished:
		c.emitPublished(s, msg.UID, msg.Kind)
	case protocol.TypeUnpublished:
		s.forget(msg.TrackID)
		s.emit("unpublished", func() {
			for _, fn := range c.unpublished.Snapshot() {
				fn(msg.UID, msg.Kind)
			}
		})
	case protocol.TypeMemberLeft:
		s.emit("member-left", func() {
			for _, fn := range c.left.Snapshot() {
				fn(msg.UID)
			}
		})
	case protocol.TypePong:
	default:
		log.Debug().Str("module", "rtcclient").Str("type", msg.Type).Msg("unhandled message")
	}
}

func (c *Client) emitPublished(s *session, uid domain.UserID, kind domain.MediaKind) {
	s.emit("published", func() {
		for _, fn := range c.published.Snapshot() {
			fn(uid, kind)
		}
	})
}

func (c *Client) Publish(ctx context.Context, tracks ...engine.LocalTrack) error {
	s, err := c.active()
	if err != nil {
		return err
	}
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	pub, err := s.publisher()
	if err != nil {
		return err
	}
	added := 0
	for _, t := range tracks {
		lt, ok := t.(*LocalTrack)
		if !ok {
			return ErrUnsupportedTrack
		}
		if lt.Closed() {
			return ErrTrackClosed
		}
		if _, dup := s.senders[lt.ID()]; dup {
			continue
		}
		sender, err := pub.AddLocalTrack(lt.TrackLocal())
		if err != nil {
			return fmt.Errorf("add track %s: %w", lt.ID(), err)
		}
		s.senders[lt.ID()] = sender
		go drainRTCP(sender)
		added++
	}
	if added == 0 {
		return nil
	}
	return s.renegotiate(ctx, pub)
}

func (c *Client) Unpublish(ctx context.Context, tracks ...engine.LocalTrack) error {
	s, err := c.active()
	if err != nil {
		return err
	}
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	if s.pub == nil {
		return nil
	}
	var ids []string
	for _, t := range tracks {
		sender, ok := s.senders[t.ID()]
		if !ok {
			continue
		}
		if err := s.pub.RemoveSender(sender); err != nil {
			return fmt.Errorf("remove track %s: %w", t.ID(), err)
		}
		delete(s.senders, t.ID())
		ids = append(ids, t.ID())
	}
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.sig.request(ctx, protocol.Message{Type: protocol.TypeUnpublish, TrackIDs: ids}); err != nil {
		return fmt.Errorf("unpublish: %w", err)
	}
	return s.renegotiate(ctx, s.pub)
}

func (c *Client) Subscribe(ctx context.Context, uid domain.UserID, kind domain.MediaKind) (engine.Track, error) {
	s, err := c.active()
	if err != nil {
		return nil, err
	}
	reply, err := s.sig.request(ctx, protocol.Message{Type: protocol.TypeSubscribe, UID: uid, Kind: kind})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s/%s: %w", uid, kind, err)
	}
	t, err := s.awaitTrack(ctx, reply.TrackID)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s/%s: %w", uid, kind, err)
	}
	return t, nil
}

// session is the state of one join.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	uid    domain.UserID

	sig       *signalConn
	rtcConfig webrtc.Configuration
	sub       *rtc.WebRTCConnection

	pubMu   sync.Mutex
	pub     *rtc.WebRTCConnection
	senders map[string]*webrtc.RTPSender

	events       *conference.Queue
	negotiations *conference.Queue
	joined       chan struct{}
	joinedOK     atomic.Bool

	trackMu sync.Mutex
	arrived map[string]*RemoteTrack
	waiters map[string]chan *RemoteTrack

	closeOnce sync.Once
}

func (s *session) markJoined() {
	s.joinedOK.Store(true)
	close(s.joined)
}

// emit queues a room event. Events of a session that never joined are
// dropped.
func (s *session) emit(name string, fn func()) {
	s.events.Submit(name, func(context.Context) error {
		if s.joinedOK.Load() {
			fn()
		}
		return nil
	})
}

func (s *session) publisher() (*rtc.WebRTCConnection, error) {
	if s.pub != nil {
		return s.pub, nil
	}
	pub, err := rtc.NewWebRTCConnection(s.rtcConfig, core.SessionID("publisher"))
	if err != nil {
		return nil, fmt.Errorf("publisher connection: %w", err)
	}
	if err := pub.Start(s.ctx); err != nil {
		pub.Close()
		return nil, fmt.Errorf("publisher connection: %w", err)
	}
	s.pub = pub
	return pub, nil
}

func (s *session) renegotiate(ctx context.Context, pub *rtc.WebRTCConnection) error {
	offer, err := pub.CreateAndSetOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	reply, err := s.sig.request(ctx, protocol.Message{Type: protocol.TypeOffer, SDP: offer.SDP})
	if err != nil {
		return fmt.Errorf("offer: %w", err)
	}
	if err := pub.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: reply.SDP}); err != nil {
		return fmt.Errorf("apply answer: %w", err)
	}
	return nil
}

func (s *session) answerOffer(msg protocol.Message) error {
	answer, err := s.sub.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP})
	if err != nil {
		return fmt.Errorf("apply subscriber offer: %w", err)
	}
	return s.sig.send(protocol.Message{Type: protocol.TypeAnswer, ReplyTo: msg.ID, SDP: answer.SDP})
}

func (s *session) onTrack(track *webrtc.TrackRemote) {
	kind, err := domain.ParseMediaKind(track.Kind().String())
	if err != nil {
		log.Warn().Err(err).Str("module", "rtcclient").Msg("remote track of unknown kind")
		return
	}
	s.deliver(newRemoteTrack(track.ID(), kind, domain.UserID(track.StreamID()), track))
}

// deliver hands t to a waiting Subscribe or keeps it until one asks.
func (s *session) deliver(t *RemoteTrack) {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	if ch, ok := s.waiters[t.ID()]; ok {
		delete(s.waiters, t.ID())
		ch <- t
		return
	}
	s.arrived[t.ID()] = t
}

func (s *session) forget(trackID string) {
	s.trackMu.Lock()
	delete(s.arrived, trackID)
	s.trackMu.Unlock()
}

func (s *session) awaitTrack(ctx context.Context, trackID string) (*RemoteTrack, error) {
	s.trackMu.Lock()
	if t, ok := s.arrived[trackID]; ok {
		delete(s.arrived, trackID)
		s.trackMu.Unlock()
		return t, nil
	}
	ch := make(chan *RemoteTrack, 1)
	s.waiters[trackID] = ch
	s.trackMu.Unlock()

	select {
	case t := <-ch:
		return t, nil
	case <-s.sig.Done():
		s.dropWaiter(trackID, ch)
		return nil, ErrClosed
	case <-ctx.Done():
		s.dropWaiter(trackID, ch)
		return nil, ctx.Err()
	}
}

func (s *session) dropWaiter(trackID string, ch chan *RemoteTrack) {
	s.trackMu.Lock()
	if s.waiters[trackID] == ch {
		delete(s.waiters, trackID)
	}
	s.trackMu.Unlock()
}

// close tears the session down. Queued events still run; their handlers see
// a client that is no longer connected.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.sig.Close()
		s.cancel()
		s.pubMu.Lock()
		if s.pub != nil {
			s.pub.Close()
		}
		s.pubMu.Unlock()
		if s.sub != nil {
			s.sub.Close()
		}
		s.negotiations.Close()
		s.events.Close()
	})
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
