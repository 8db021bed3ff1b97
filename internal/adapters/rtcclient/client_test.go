package rtcclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VideoRoom/internal/domain"
	"github.com/dkeye/VideoRoom/internal/engine"
	"github.com/dkeye/VideoRoom/internal/protocol"
)

// fakeServer speaks just enough of the signaling protocol for the client.
type fakeServer struct {
	t      *testing.T
	tracks []domain.TrackInfo
	reject bool

	mu   sync.Mutex
	conn *websocket.Conn
	got  []string
}

func (f *fakeServer) handler(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conn = ws
	f.mu.Unlock()
	for {
		var msg protocol.Message
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		f.mu.Lock()
		f.got = append(f.got, msg.Type)
		f.mu.Unlock()

		var reply protocol.Message
		switch msg.Type {
		case protocol.TypeJoin:
			if f.reject {
				reply = protocol.ErrorReply(msg, protocol.CodeUnauthorized, "bad token")
			} else {
				reply = protocol.Reply(msg, protocol.TypeJoined)
				reply.UID = "me"
				reply.Tracks = f.tracks
			}
		case protocol.TypeLeave:
			reply = protocol.Reply(msg, protocol.TypeLeft)
		case protocol.TypeSubscribe:
			reply = protocol.ErrorReply(msg, protocol.CodeNotFound, "track not published")
		default:
			continue
		}
		f.push(reply)
	}
}

func (f *fakeServer) push(msg protocol.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NoError(f.t, f.conn.WriteJSON(msg))
}

func (f *fakeServer) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.conn.Close()
}

func startServer(t *testing.T, f *fakeServer) *Client {
	t.Helper()
	f.t = t
	srv := httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(srv.Close)
	return New(Options{ServerURL: "ws" + strings.TrimPrefix(srv.URL, "http")})
}

func joinOpts() engine.JoinOptions {
	return engine.JoinOptions{AppID: "app", Channel: "Test-Channel", Token: "tok"}
}

type stateLog struct {
	mu   sync.Mutex
	seen []engine.ConnectionState
}

func (l *stateLog) add(_, cur engine.ConnectionState) {
	l.mu.Lock()
	l.seen = append(l.seen, cur)
	l.mu.Unlock()
}

func (l *stateLog) get() []engine.ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]engine.ConnectionState(nil), l.seen...)
}

func TestJoinReportsExistingTracksAndLeaves(t *testing.T) {
	f := &fakeServer{tracks: []domain.TrackInfo{
		{Owner: "A", Kind: domain.MediaAudio, TrackID: "a1"},
		{Owner: "A", Kind: domain.MediaVideo, TrackID: "v1"},
	}}
	c := startServer(t, f)

	states := &stateLog{}
	c.OnConnectionStateChange(states.add)
	published := make(chan string, 4)
	c.OnUserPublished(func(uid domain.UserID, kind domain.MediaKind) {
		assert.Equal(t, engine.Connected, c.ConnectionState())
		published <- string(uid) + "/" + string(kind)
	})

	uid, err := c.Join(context.Background(), joinOpts())
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("me"), uid)
	assert.Equal(t, "A/audio", <-published)
	assert.Equal(t, "A/video", <-published)

	left := make(chan domain.UserID, 1)
	c.OnUserLeft(func(uid domain.UserID) { left <- uid })
	f.push(protocol.Message{Type: protocol.TypeMemberLeft, UID: "A"})
	select {
	case got := <-left:
		assert.Equal(t, domain.UserID("A"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("member_left not delivered")
	}

	require.NoError(t, c.Leave(context.Background()))
	assert.Equal(t, []engine.ConnectionState{engine.Connecting, engine.Connected, engine.Disconnecting, engine.Disconnected}, states.get())
	assert.ErrorIs(t, c.Leave(context.Background()), ErrNotJoined)
}

func TestJoinRejected(t *testing.T) {
	c := startServer(t, &fakeServer{reject: true})

	_, err := c.Join(context.Background(), joinOpts())
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, engine.Disconnected, c.ConnectionState())
}

func TestJoinWhileConnectedIsBusy(t *testing.T) {
	c := startServer(t, &fakeServer{})
	_, err := c.Join(context.Background(), joinOpts())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Leave(context.Background()) })

	_, err = c.Join(context.Background(), joinOpts())
	assert.ErrorIs(t, err, ErrBusy)
}

func TestSocketLossDisconnects(t *testing.T) {
	f := &fakeServer{}
	c := startServer(t, f)
	_, err := c.Join(context.Background(), joinOpts())
	require.NoError(t, err)

	f.drop()
	assert.Eventually(t, func() bool {
		return c.ConnectionState() == engine.Disconnected
	}, 2*time.Second, 10*time.Millisecond)
	_, err = c.Subscribe(context.Background(), "A", domain.MediaVideo)
	assert.ErrorIs(t, err, ErrNotJoined)
}

func TestSubscribeRejected(t *testing.T) {
	c := startServer(t, &fakeServer{})
	_, err := c.Join(context.Background(), joinOpts())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Leave(context.Background()) })

	_, err = c.Subscribe(context.Background(), "ghost", domain.MediaVideo)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestOperationsRequireJoin(t *testing.T) {
	c := New(Options{ServerURL: "ws://127.0.0.1:0"})
	assert.ErrorIs(t, c.Publish(context.Background()), ErrNotJoined)
	assert.ErrorIs(t, c.Unpublish(context.Background()), ErrNotJoined)
	_, err := c.Subscribe(context.Background(), "A", domain.MediaAudio)
	assert.ErrorIs(t, err, ErrNotJoined)
}

type chanReader chan *rtp.Packet

func (c chanReader) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	p, ok := <-c
	if !ok {
		return nil, nil, io.EOF
	}
	return p, nil, nil
}

type sinkWriter struct {
	mu   sync.Mutex
	pkts []*rtp.Packet
}

func (s *sinkWriter) WriteRTP(p *rtp.Packet) error {
	s.mu.Lock()
	s.pkts = append(s.pkts, p)
	s.mu.Unlock()
	return nil
}

func (s *sinkWriter) Close() error { return nil }

func (s *sinkWriter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pkts)
}

type sinkContainer struct{ w *sinkWriter }

func (c *sinkContainer) Attach(string) media.Writer { return c.w }
func (c *sinkContainer) HasRendering() bool         { return true }
func (c *sinkContainer) RemoveRendering()           {}

func TestRemoteTrackPumpsWhilePlaying(t *testing.T) {
	src := make(chanReader)
	track := newRemoteTrack("v1", domain.MediaVideo, "A", src)
	sink := &sinkWriter{}

	require.NoError(t, track.Play(&sinkContainer{w: sink}))
	src <- &rtp.Packet{}
	src <- &rtp.Packet{}
	assert.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, time.Millisecond)
	track.Stop()
	src <- &rtp.Packet{}
	close(src)

	<-track.done
	assert.Equal(t, 2, sink.count())
	assert.ErrorIs(t, track.Play(&sinkContainer{w: sink}), ErrTrackEnded)
}

func TestDevicesWithoutFiles(t *testing.T) {
	d := &Devices{Codec: "vp9"}
	audio, video, err := d.MicrophoneAndCamera(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.MediaAudio, audio.Kind())
	assert.Equal(t, domain.MediaVideo, video.Kind())
	assert.True(t, strings.HasPrefix(video.ID(), "cam-"))

	video.Close()
	video.Close()
	assert.ErrorIs(t, video.Play(&sinkContainer{w: &sinkWriter{}}), ErrTrackClosed)
	audio.Close()

	screen, err := d.Screen(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(screen.ID(), "screen-"))
	screen.Close()
}

func TestDevicesErrors(t *testing.T) {
	_, _, err := (&Devices{Codec: "av1"}).MicrophoneAndCamera(context.Background())
	assert.True(t, errors.Is(err, ErrUnsupportedCodec))

	_, err = (&Devices{ScreenFile: "screen.mp4"}).Screen(context.Background())
	assert.ErrorContains(t, err, "unsupported media file")

	_, err = (&Devices{ScreenFile: "missing.ivf"}).Screen(context.Background())
	assert.Error(t, err)
}

type stepSource struct {
	mu sync.Mutex
	n  int
}

func (s *stepSource) NextSample() (media.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return media.Sample{Data: []byte{byte(s.n)}, Duration: time.Millisecond}, nil
}

func (s *stepSource) Close() error { return nil }

func TestLocalTrackPreview(t *testing.T) {
	codec, err := VideoCapability("vp8")
	require.NoError(t, err)
	track, err := newLocalTrack("cam-x", domain.MediaVideo, codec, &stepSource{})
	require.NoError(t, err)

	sink := &sinkWriter{}
	require.NoError(t, track.Play(&sinkContainer{w: sink}))
	assert.Eventually(t, func() bool { return sink.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	track.Close()
	assert.True(t, track.Closed())
}

func TestOggParserSkipsHeaderPages(t *testing.T) {
	var buf bytes.Buffer
	w, err := oggwriter.NewWith(&buf, 48000, 2)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		pkt := &rtp.Packet{Header: rtp.Header{Timestamp: 5000 + uint32(i)*960}, Payload: []byte{0xf8, byte(i)}}
		require.NoError(t, w.WriteRTP(pkt))
	}

	p, err := newOggParser(&buf)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		s, err := p.next()
		require.NoError(t, err)
		assert.Equal(t, []byte{0xf8, byte(i)}, s.Data)
		if i > 0 {
			assert.Equal(t, 20*time.Millisecond, s.Duration)
		}
	}
	_, err = p.next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestOggPageDurationNeverUnderflows(t *testing.T) {
	p := &oggParser{}
	assert.Equal(t, 20*time.Millisecond, p.pageDuration(960))
	assert.Zero(t, p.pageDuration(480))
	assert.Equal(t, 20*time.Millisecond, p.pageDuration(1440))
	assert.Zero(t, p.pageDuration(0))
	assert.Equal(t, uint64(1440), p.lastGranule)
}
