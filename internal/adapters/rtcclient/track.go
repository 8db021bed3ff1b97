package rtcclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoRoom/internal/domain"
	"github.com/dkeye/VideoRoom/internal/engine"
)

var (
	ErrTrackClosed = errors.New("track closed")
	ErrTrackEnded  = errors.New("remote track ended")
)

type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// RemoteTrack is a track received on the subscriber connection. Its packets
// are read continuously and copied to the container it plays in, if any.
type RemoteTrack struct {
	id    string
	kind  domain.MediaKind
	owner domain.UserID

	mu   sync.Mutex
	sink media.Writer
	done chan struct{}
}

func newRemoteTrack(id string, kind domain.MediaKind, owner domain.UserID, src rtpReader) *RemoteTrack {
	t := &RemoteTrack{id: id, kind: kind, owner: owner, done: make(chan struct{})}
	go t.pump(src)
	return t
}

func (t *RemoteTrack) ID() string             { return t.id }
func (t *RemoteTrack) Kind() domain.MediaKind { return t.kind }
func (t *RemoteTrack) Owner() domain.UserID   { return t.owner }

func (t *RemoteTrack) Play(c engine.Container) error {
	select {
	case <-t.done:
		return ErrTrackEnded
	default:
	}
	sink := c.Attach(t.id)
	t.mu.Lock()
	t.sink = sink
	t.mu.Unlock()
	return nil
}

func (t *RemoteTrack) Stop() {
	t.mu.Lock()
	t.sink = nil
	t.mu.Unlock()
}

func (t *RemoteTrack) pump(src rtpReader) {
	defer close(t.done)
	for {
		pkt, _, err := src.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "rtcclient").Str("track_id", t.id).Msg("remote track ended")
			return
		}
		t.mu.Lock()
		sink := t.sink
		t.mu.Unlock()
		if sink == nil {
			continue
		}
		if err := sink.WriteRTP(pkt); err != nil {
			log.Debug().Err(err).Str("module", "rtcclient").Str("track_id", t.id).Msg("render write")
		}
	}
}

// sampleSource yields paced media samples, e.g. frames read from a file.
type sampleSource interface {
	NextSample() (media.Sample, error)
	Close() error
}

// LocalTrack is a captured track published through a TrackLocalStaticSample.
// Without a source the track is published but carries no media.
type LocalTrack struct {
	id    string
	kind  domain.MediaKind
	track *webrtc.TrackLocalStaticSample
	src   sampleSource

	mu     sync.Mutex
	sink   media.Writer
	seq    uint16
	ts     uint32
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newLocalTrack(id string, kind domain.MediaKind, codec webrtc.RTPCodecCapability, src sampleSource) (*LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(codec, id, "local")
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &LocalTrack{
		id:     id,
		kind:   kind,
		track:  track,
		src:    src,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.pump(ctx, codec.ClockRate)
	return t, nil
}

func (t *LocalTrack) ID() string             { return t.id }
func (t *LocalTrack) Kind() domain.MediaKind { return t.kind }

// TrackLocal is what gets added to the publisher connection.
func (t *LocalTrack) TrackLocal() webrtc.TrackLocal { return t.track }

// Play shows a local preview in c.
func (t *LocalTrack) Play(c engine.Container) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTrackClosed
	}
	t.sink = c.Attach(t.id)
	return nil
}

func (t *LocalTrack) Stop() {
	t.mu.Lock()
	t.sink = nil
	t.mu.Unlock()
}

func (t *LocalTrack) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close stops the source. Safe to call more than once.
func (t *LocalTrack) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.sink = nil
	t.mu.Unlock()

	t.cancel()
	<-t.done
	if t.src != nil {
		if err := t.src.Close(); err != nil {
			log.Warn().Err(err).Str("module", "rtcclient").Str("track_id", t.id).Msg("close source")
		}
	}
}

func (t *LocalTrack) pump(ctx context.Context, clockRate uint32) {
	defer close(t.done)
	if t.src == nil {
		return
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		sample, err := t.src.NextSample()
		if err != nil {
			log.Warn().Err(err).Str("module", "rtcclient").Str("track_id", t.id).Msg("source ended")
			return
		}
		if err := t.track.WriteSample(sample); err != nil {
			log.Debug().Err(err).Str("module", "rtcclient").Str("track_id", t.id).Msg("write sample")
		}
		t.preview(sample, clockRate)
		timer.Reset(sample.Duration)
	}
}

// preview hands the sample to the local rendering as one unpacketized RTP
// packet.
func (t *LocalTrack) preview(sample media.Sample, clockRate uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	t.ts += uint32(sample.Duration.Seconds() * float64(clockRate))
	if t.sink == nil {
		return
	}
	pkt := &rtp.Packet{
		Header:  rtp.Header{Version: 2, SequenceNumber: t.seq, Timestamp: t.ts},
		Payload: sample.Data,
	}
	if err := t.sink.WriteRTP(pkt); err != nil {
		log.Debug().Err(err).Str("module", "rtcclient").Str("track_id", t.id).Msg("preview write")
	}
}
