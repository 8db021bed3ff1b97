package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VideoRoom/internal/conference"
	"github.com/dkeye/VideoRoom/internal/domain"
	"github.com/dkeye/VideoRoom/internal/engine/enginetest"
	"github.com/dkeye/VideoRoom/internal/room"
)

type fixture struct {
	room       *room.Room
	client     *enginetest.Client
	containers *Containers
}

func mounted(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{client: enginetest.NewClient("L"), containers: NewContainers()}
	f.room = room.New(context.Background(), room.Config{
		Client:  f.client,
		Devices: &enginetest.Devices{},
		Session: conference.Options{
			AppID:        "app",
			Channel:      "Test-Channel",
			Token:        "tok",
			StateTimeout: 100 * time.Millisecond,
		},
		Containers: f.containers,
	})
	t.Cleanup(f.room.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.room.Mount().Wait(ctx))
	return f
}

func press(t *testing.T, m model, key string) (model, tea.Cmd) {
	t.Helper()
	var msg tea.KeyMsg
	switch key {
	case "left":
		msg = tea.KeyMsg{Type: tea.KeyLeft}
	case "right":
		msg = tea.KeyMsg{Type: tea.KeyRight}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	next, cmd := m.Update(msg)
	return next.(model), cmd
}

// run executes cmd and feeds its message back into the model.
func run(t *testing.T, m model, cmd tea.Cmd) (model, tea.Cmd) {
	t.Helper()
	require.NotNil(t, cmd)
	next, cmd := m.Update(cmd())
	return next.(model), cmd
}

func TestContainerCountsCurrentRendering(t *testing.T) {
	c := &Container{}
	_, ok := c.Stats()
	assert.False(t, ok)

	first := c.Attach("cam-1")
	require.NoError(t, first.WriteRTP(&rtp.Packet{Payload: make([]byte, 100)}))
	second := c.Attach("screen-1")
	require.NoError(t, first.WriteRTP(&rtp.Packet{Payload: make([]byte, 100)}))
	require.NoError(t, second.WriteRTP(&rtp.Packet{Payload: make([]byte, 10)}))

	s, ok := c.Stats()
	require.True(t, ok)
	assert.Equal(t, "screen-1", s.TrackID)
	assert.Equal(t, uint64(1), s.Packets)
	assert.Equal(t, uint64(10), s.Bytes)

	c.RemoveRendering()
	assert.False(t, c.HasRendering())
}

func TestContainersReleased(t *testing.T) {
	f := NewContainers()
	f.NewContainer("A")
	_, ok := f.Get("A")
	assert.True(t, ok)
	f.ReleaseContainer("A")
	_, ok = f.Get("A")
	assert.False(t, ok)
}

func TestSelectionFollowsKeys(t *testing.T) {
	f := mounted(t)
	f.client.EmitPublished("R", domain.MediaVideo)
	require.Eventually(t, func() bool { return f.room.Roster().Len() == 2 }, time.Second, 5*time.Millisecond)

	m := newModel(f.room, f.containers, "Test-Channel")
	assert.Len(t, m.participants, 2)

	m, _ = press(t, m, "2")
	assert.Equal(t, domain.UserID("R"), m.selected)
	m, _ = press(t, m, "right")
	assert.Equal(t, domain.UserID("L"), m.selected)
	m, _ = press(t, m, "left")
	assert.Equal(t, domain.UserID("R"), m.selected)
	m, _ = press(t, m, "9")
	assert.Equal(t, domain.UserID("R"), m.selected)

	view := m.View()
	assert.Contains(t, view, "L (you)")
	assert.Contains(t, view, "Test-Channel")
}

func TestPrimaryDisplayShowsSelectedStats(t *testing.T) {
	f := mounted(t)
	m := newModel(f.room, f.containers, "Test-Channel")
	m, _ = press(t, m, "1")
	assert.Equal(t, domain.UserID("L"), m.selected)
	view := m.View()
	assert.Contains(t, view, "cam-1")
	assert.Contains(t, view, "0 B")

	c, ok := f.containers.Get("L")
	require.True(t, ok)
	w := c.Attach("cam-2")
	for i := 0; i < 1500; i++ {
		require.NoError(t, w.WriteRTP(&rtp.Packet{Payload: []byte{1}}))
	}
	view = m.View()
	assert.Contains(t, view, "cam-2")
	assert.Contains(t, view, "1.5K")

	c.RemoveRendering()
	assert.Contains(t, m.View(), "No video")
}

func TestScreenShareKeys(t *testing.T) {
	f := mounted(t)
	m := newModel(f.room, f.containers, "Test-Channel")
	assert.True(t, m.canStart)
	assert.False(t, m.canStop)

	m, cmd := press(t, m, "x")
	assert.Nil(t, cmd, "stop is disabled while not sharing")

	m, cmd = press(t, m, "s")
	assert.True(t, m.busy)
	_, again := press(t, m, "s")
	assert.Nil(t, again, "no second request while one is pending")

	m, _ = run(t, m, cmd)
	assert.False(t, m.busy)
	assert.Empty(t, m.lastError)
	assert.True(t, m.canStop)
	assert.False(t, m.canStart)
	assert.True(t, strings.Contains(m.View(), "mic screen"))

	m, cmd = press(t, m, "x")
	m, _ = run(t, m, cmd)
	assert.True(t, m.canStart)
	assert.False(t, m.canStop)
}

func TestQuitLeavesChannel(t *testing.T) {
	f := mounted(t)
	m := newModel(f.room, f.containers, "Test-Channel")

	m, cmd := press(t, m, "q")
	assert.True(t, m.leaving)
	_, ignored := press(t, m, "s")
	assert.Nil(t, ignored)

	msg := cmd()
	require.IsType(t, leftMsg{}, msg)
	assert.NoError(t, msg.(leftMsg).err)
	assert.Zero(t, f.room.Roster().Len())

	_, quit := m.Update(msg)
	require.NotNil(t, quit)
	assert.Equal(t, tea.Quit(), quit())
}

func TestOperationErrorIsShown(t *testing.T) {
	f := mounted(t)
	m := newModel(f.room, f.containers, "Test-Channel")
	next, _ := m.Update(opDoneMsg{name: "join", err: conference.ErrNotConnected})
	m = next.(model)
	assert.Contains(t, m.View(), "join")
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "2.5M", formatNumber(2_500_000))
	assert.Equal(t, "12 B", formatBytes(12))
	assert.Equal(t, "1.5 MB", formatBytes(1_500_000))
	assert.Equal(t, "abcdefghi...", truncate("abcdefghijklmnop", 12))
}
