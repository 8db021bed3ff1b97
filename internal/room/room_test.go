package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VideoRoom/internal/conference"
	"github.com/dkeye/VideoRoom/internal/domain"
	"github.com/dkeye/VideoRoom/internal/engine"
	"github.com/dkeye/VideoRoom/internal/engine/enginetest"
)

type containers struct {
	mu   sync.Mutex
	made map[domain.UserID]*enginetest.Container
}

func (f *containers) NewContainer(uid domain.UserID) engine.Container {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.made == nil {
		f.made = make(map[domain.UserID]*enginetest.Container)
	}
	c := &enginetest.Container{}
	f.made[uid] = c
	return c
}

func (f *containers) ReleaseContainer(domain.UserID) {}

func (f *containers) get(uid domain.UserID) *enginetest.Container {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.made[uid]
}

type fixture struct {
	room       *Room
	client     *enginetest.Client
	devices    *enginetest.Devices
	containers *containers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		client:     enginetest.NewClient("L"),
		devices:    &enginetest.Devices{},
		containers: &containers{},
	}
	f.room = New(context.Background(), Config{
		Client:  f.client,
		Devices: f.devices,
		Session: conference.Options{
			AppID:        "app",
			Channel:      "Test-Channel",
			Token:        "tok",
			StateTimeout: 100 * time.Millisecond,
		},
		Containers: f.containers,
	})
	t.Cleanup(f.room.Close)
	return f
}

func wait(t *testing.T, p *conference.Pending) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.Wait(ctx)
}

func TestMountAddsLocalParticipant(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, wait(t, f.room.Mount()))

	assert.Equal(t, domain.UserID("L"), f.room.LocalID())
	local, ok := f.room.Roster().Get("L")
	require.True(t, ok)
	assert.Equal(t, "mic-1", local.Audio.ID())
	assert.Equal(t, "cam-1", local.Video.ID())
	assert.Equal(t, "cam-1", f.containers.get("L").Current())
	assert.True(t, f.room.CanStartScreenShare())
	assert.False(t, f.room.CanStopScreenShare())
}

func TestOverlappingMountUnmountAreSerialized(t *testing.T) {
	f := newFixture(t)

	var (
		mu       sync.Mutex
		inFlight int
		maxSeen  int
	)
	f.client.BeforeJoin = func(context.Context) {
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
	}

	first := f.room.Mount()
	cleanup := f.room.Unmount()
	second := f.room.Mount()

	require.NoError(t, wait(t, first))
	require.NoError(t, wait(t, cleanup))
	require.NoError(t, wait(t, second))

	var lifecycle []string
	for _, c := range f.client.Calls() {
		if c == "join:Test-Channel" || c == "leave" {
			lifecycle = append(lifecycle, c)
		}
	}
	assert.Equal(t, []string{"join:Test-Channel", "leave", "join:Test-Channel"}, lifecycle)
	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 1, f.room.Roster().Len())
}

func TestRemoteAudioThenVideoMakesOneEntry(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, wait(t, f.room.Mount()))

	f.client.EmitPublished("A", domain.MediaAudio)
	f.client.EmitPublished("A", domain.MediaVideo)

	snap := f.room.Roster().Snapshot()
	require.Len(t, snap, 2)
	a := snap[1]
	assert.Equal(t, domain.UserID("A"), a.ID)
	assert.Same(t, f.client.RemoteTrack("A", domain.MediaAudio), a.Audio)
	assert.Same(t, f.client.RemoteTrack("A", domain.MediaVideo), a.Video)
	assert.Equal(t, a.Video.ID(), f.containers.get("A").Current())
}

func TestRemoteLeaveRemovesEntry(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, wait(t, f.room.Mount()))
	f.client.EmitPublished("A", domain.MediaAudio)
	f.client.EmitPublished("A", domain.MediaVideo)
	f.client.EmitPublished("B", domain.MediaVideo)
	require.NoError(t, f.room.Select("A"))

	f.client.EmitLeft("A")

	var ids []domain.UserID
	for _, p := range f.room.Roster().Snapshot() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []domain.UserID{"L", "B"}, ids)
	sel, ok := f.room.Roster().Selected()
	require.True(t, ok)
	assert.Equal(t, domain.UserID("L"), sel.ID)
}

func TestRemoteUnpublishKeepsEntry(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, wait(t, f.room.Mount()))
	f.client.EmitPublished("A", domain.MediaAudio)
	f.client.EmitPublished("A", domain.MediaVideo)
	video := f.client.RemoteTrack("A", domain.MediaVideo)

	f.client.EmitUnpublished("A", domain.MediaVideo)

	a, ok := f.room.Roster().Get("A")
	require.True(t, ok)
	assert.Nil(t, a.Video)
	assert.NotNil(t, a.Audio)
	assert.Equal(t, 1, video.Stops())
	assert.False(t, f.containers.get("A").HasRendering())
}

func TestScreenShareRoundTrip(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, wait(t, f.room.Mount()))
	camera := f.devices.Acquired[1]

	require.NoError(t, wait(t, f.room.StartScreenShare()))
	assert.True(t, f.room.ScreenSharing())
	assert.False(t, f.room.CanStartScreenShare())
	assert.True(t, f.room.CanStopScreenShare())
	local, _ := f.room.Roster().Get("L")
	screenID := local.Video.ID()
	assert.Equal(t, "screen-2", screenID)
	assert.False(t, f.client.Published("cam-1"))
	assert.True(t, f.client.Published(screenID))
	assert.Equal(t, screenID, f.containers.get("L").Current())
	assert.Equal(t, 1, camera.Stops())

	require.NoError(t, wait(t, f.room.StopScreenShare()))
	assert.False(t, f.room.ScreenSharing())
	local, _ = f.room.Roster().Get("L")
	assert.Same(t, camera, local.Video)
	assert.True(t, f.client.Published("cam-1"))
	assert.False(t, f.client.Published(screenID))
	assert.Equal(t, "cam-1", f.containers.get("L").Current())
}

func TestStopScreenShareWithoutShare(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, wait(t, f.room.Mount()))
	before := f.client.Calls()

	require.NoError(t, wait(t, f.room.StopScreenShare()))
	assert.Equal(t, before, f.client.Calls())
}

func TestUnmountAfterFailedMount(t *testing.T) {
	f := newFixture(t)
	f.devices.CameraErr = errors.New("permission denied")

	err := wait(t, f.room.Mount())
	require.ErrorIs(t, err, conference.ErrMediaAcquisition)

	require.NoError(t, wait(t, f.room.Unmount()))
	assert.Equal(t, []string{"join:Test-Channel", "leave"}, f.client.Calls())
	assert.Zero(t, f.room.Roster().Len())
}

func TestUnmountWithoutMount(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, wait(t, f.room.Unmount()))
	assert.Empty(t, f.client.Calls())
}

func TestMountTimesOutWhileBusy(t *testing.T) {
	f := newFixture(t)
	f.client.SetState(engine.Connecting)

	err := wait(t, f.room.Mount())
	assert.ErrorIs(t, err, conference.ErrConnectionTimeout)
	assert.Empty(t, f.client.Calls())

	f.client.SetState(engine.Disconnected)
	require.NoError(t, wait(t, f.room.Mount()))
}

func TestUnmountClearsRoster(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, wait(t, f.room.Mount()))
	f.client.EmitPublished("A", domain.MediaVideo)

	require.NoError(t, wait(t, f.room.Unmount()))
	assert.Zero(t, f.room.Roster().Len())
	assert.Zero(t, f.room.Gallery().Len())
	assert.Zero(t, f.client.ListenerCount())
	assert.Equal(t, engine.Disconnected, f.room.State())
}
