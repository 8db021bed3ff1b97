package sfu

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VideoRoom/internal/core"
	"github.com/dkeye/VideoRoom/internal/domain"
)

type chanSource chan *rtp.Packet

func (c chanSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-c
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, nil, nil
}

var opus = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}

func outTrack(t *testing.T, id string) *OutTrack {
	t.Helper()
	tr, err := webrtc.NewTrackLocalStaticRTP(opus, id, "stream")
	require.NoError(t, err)
	return NewOutTrack(tr, nil)
}

func newManager() (*RelayManager, prometheus.Gauge, prometheus.Counter) {
	active := prometheus.NewGauge(prometheus.GaugeOpts{Name: "active"})
	forwarded := prometheus.NewCounter(prometheus.CounterOpts{Name: "forwarded"})
	return NewRelayManager(active, forwarded), active, forwarded
}

func info(uid domain.UserID, kind domain.MediaKind, id string) domain.TrackInfo {
	return domain.TrackInfo{Owner: uid, Kind: kind, TrackID: id, StreamID: string(uid)}
}

func TestRelayFanOutSkipsDeleted(t *testing.T) {
	m, _, forwarded := newManager()
	src := make(chanSource)
	key := TrackKey{SID: "pub", Kind: domain.MediaAudio}
	relay, _ := m.start(context.Background(), key, info("alice", domain.MediaAudio, "mic-1"), src, opus, 1)

	ok1, ok2, gone := outTrack(t, "a"), outTrack(t, "b"), outTrack(t, "c")
	require.NoError(t, m.AddSubscriber(key, "s1", ok1))
	require.NoError(t, m.AddSubscriber(key, "s2", ok2))
	require.NoError(t, m.AddSubscriber(key, "s3", gone))
	gone.MarkDelete()

	src <- &rtp.Packet{Header: rtp.Header{SequenceNumber: 1}}
	src <- &rtp.Packet{Header: rtp.Header{SequenceNumber: 2}}

	assert.Eventually(t, func() bool { return testutil.ToFloat64(forwarded) == 4 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return relay.Subscribers() == 2 }, time.Second, 5*time.Millisecond)
	_, ok := relay.OutTrack("s3")
	assert.False(t, ok)
	close(src)
}

func TestRelaySourceEndMarksOutTracksDeleted(t *testing.T) {
	m, _, _ := newManager()
	src := make(chanSource)
	key := TrackKey{SID: "pub", Kind: domain.MediaVideo}
	_, _ = m.start(context.Background(), key, info("alice", domain.MediaVideo, "cam-1"), src, opus, 1)
	ot := outTrack(t, "a")
	require.NoError(t, m.AddSubscriber(key, "s1", ot))

	close(src)
	assert.Eventually(t, func() bool { return ot.GetState() == TrackStateDelete }, time.Second, 5*time.Millisecond)
}

func TestStopRelayReturnsOutTracks(t *testing.T) {
	m, active, _ := newManager()
	src := make(chanSource)
	defer close(src)
	key := TrackKey{SID: "pub", Kind: domain.MediaVideo}
	m.start(context.Background(), key, info("alice", domain.MediaVideo, "cam-1"), src, opus, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(active))

	ot := outTrack(t, "a")
	require.NoError(t, m.AddSubscriber(key, "s1", ot))

	found, ok := m.FindTrack("pub", "cam-1")
	require.True(t, ok)
	assert.Equal(t, key, found)

	outs := m.StopRelay(key)
	assert.Equal(t, map[core.SessionID]*OutTrack{"s1": ot}, outs)
	assert.Equal(t, TrackStateDelete, ot.GetState())
	assert.False(t, m.HasRelay(key))
	assert.Zero(t, testutil.ToFloat64(active))
	assert.Nil(t, m.StopRelay(key))
	assert.ErrorIs(t, m.AddSubscriber(key, "s2", outTrack(t, "b")), ErrNoRelay)
}

func TestStartRelayReplacesExisting(t *testing.T) {
	m, active, _ := newManager()
	first, second := make(chanSource), make(chanSource)
	defer close(first)
	defer close(second)
	key := TrackKey{SID: "pub", Kind: domain.MediaVideo}

	m.start(context.Background(), key, info("alice", domain.MediaVideo, "cam-1"), first, opus, 1)
	ot := outTrack(t, "a")
	require.NoError(t, m.AddSubscriber(key, "s1", ot))

	_, replaced := m.start(context.Background(), key, info("alice", domain.MediaVideo, "screen-2"), second, opus, 2)
	assert.Contains(t, replaced, core.SessionID("s1"))
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, float64(1), testutil.ToFloat64(active))

	relay, ok := m.Relay(key)
	require.True(t, ok)
	assert.Equal(t, "screen-2", relay.Info.TrackID)
	assert.Equal(t, webrtc.SSRC(2), relay.SSRC)
	assert.Equal(t, []TrackKey{key}, m.RelaysOf("pub"))
}

func TestRemoveSubscriber(t *testing.T) {
	m, _, _ := newManager()
	src := make(chanSource)
	defer close(src)
	key := TrackKey{SID: "pub", Kind: domain.MediaAudio}
	relay, _ := m.start(context.Background(), key, info("alice", domain.MediaAudio, "mic-1"), src, opus, 1)
	ot := outTrack(t, "a")
	require.NoError(t, m.AddSubscriber(key, "s1", ot))

	got, ok := m.RemoveSubscriber(key, "s1")
	require.True(t, ok)
	assert.Same(t, ot, got)
	assert.Zero(t, relay.Subscribers())
	_, ok = m.RemoveSubscriber(key, "s1")
	assert.False(t, ok)
}
