// Package tui is the terminal front end of the conferencing client: a strip
// of participants, the selected one in the primary display and the
// screen-share controls.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoRoom/internal/conference"
	"github.com/dkeye/VideoRoom/internal/domain"
	"github.com/dkeye/VideoRoom/internal/engine"
	"github.com/dkeye/VideoRoom/internal/roster"
)

// Room is the part of room.Room the UI drives.
type Room interface {
	Roster() *roster.Roster
	LocalID() domain.UserID
	State() engine.ConnectionState
	Select(uid domain.UserID) error
	CanStartScreenShare() bool
	CanStopScreenShare() bool
	StartScreenShare() *conference.Pending
	StopScreenShare() *conference.Pending
	Unmount() *conference.Pending
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true)

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	disabledKeyStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("238"))

	tileStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)

	activeTileStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("10")).
			Padding(0, 1)

	primaryStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1).
			Width(60)
)

const refreshInterval = 250 * time.Millisecond

type tickMsg time.Time

// opDoneMsg reports a queued room operation that settled.
type opDoneMsg struct {
	name string
	err  error
}

type leftMsg struct{ err error }

type model struct {
	room       Room
	containers *Containers
	channel    domain.RoomName

	participants []roster.Participant
	selected     domain.UserID
	state        engine.ConnectionState
	canStart     bool
	canStop      bool
	busy         bool

	lastError string
	leaving   bool
	width     int
}

func newModel(r Room, containers *Containers, channel domain.RoomName) model {
	m := model{room: r, containers: containers, channel: channel}
	m.refresh()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.SetWindowTitle("VideoRoom - "+string(m.channel)),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitCmd turns a queued operation into a message once it settles.
func waitCmd(name string, p *conference.Pending) tea.Cmd {
	return func() tea.Msg {
		<-p.Done()
		return opDoneMsg{name: name, err: p.Err()}
	}
}

func (m *model) refresh() {
	m.participants = m.room.Roster().Snapshot()
	if sel, ok := m.room.Roster().Selected(); ok {
		m.selected = sel.ID
	} else {
		m.selected = ""
	}
	m.state = m.room.State()
	m.canStart = m.room.CanStartScreenShare()
	m.canStop = m.room.CanStopScreenShare()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		m.refresh()
		return m, tickCmd()

	case opDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.lastError = fmt.Sprintf("%s: %v", msg.name, msg.err)
		} else {
			m.lastError = ""
		}
		m.refresh()
		return m, nil

	case leftMsg:
		if msg.err != nil {
			log.Warn().Err(msg.err).Str("module", "tui").Msg("leave on quit")
		}
		return m, tea.Quit
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.leaving {
		return m, nil
	}
	switch key := msg.String(); key {
	case "ctrl+c", "q":
		m.leaving = true
		p := m.room.Unmount()
		return m, func() tea.Msg {
			<-p.Done()
			return leftMsg{err: p.Err()}
		}

	case "left", "h", "shift+tab":
		return m.moveSelection(-1), nil

	case "right", "l", "tab":
		return m.moveSelection(1), nil

	case "s":
		if m.busy || !m.room.CanStartScreenShare() {
			return m, nil
		}
		m.busy = true
		return m, waitCmd("start screen share", m.room.StartScreenShare())

	case "x":
		if m.busy || !m.room.CanStopScreenShare() {
			return m, nil
		}
		m.busy = true
		return m, waitCmd("stop screen share", m.room.StopScreenShare())

	default:
		if len(key) == 1 && key[0] >= '1' && key[0] <= '9' {
			return m.selectIndex(int(key[0] - '1')), nil
		}
	}
	return m, nil
}

func (m model) moveSelection(step int) model {
	if len(m.participants) == 0 {
		return m
	}
	cur := 0
	for i, p := range m.participants {
		if p.ID == m.selected {
			cur = i
			break
		}
	}
	n := len(m.participants)
	return m.selectIndex(((cur+step)%n + n) % n)
}

func (m model) selectIndex(i int) model {
	if i < 0 || i >= len(m.participants) {
		return m
	}
	if err := m.room.Select(m.participants[i].ID); err != nil {
		m.lastError = err.Error()
		return m
	}
	m.refresh()
	return m
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("VideoRoom"))
	b.WriteString(dimStyle.Render(fmt.Sprintf(" - %s [%s]", m.channel, m.state)))
	b.WriteString("\n\n")

	b.WriteString(m.renderStrip())
	b.WriteString("\n")
	b.WriteString(m.renderPrimary())

	if m.lastError != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Error: " + m.lastError))
	}
	if m.leaving {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("Leaving..."))
	}

	b.WriteString("\n\n")
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m model) renderStrip() string {
	if len(m.participants) == 0 {
		return dimStyle.Render("No participants")
	}
	tiles := make([]string, 0, len(m.participants))
	for i, p := range m.participants {
		label := fmt.Sprintf("%d %s", i+1, m.label(p.ID))
		media := mediaMarks(p)
		style := tileStyle
		text := normalStyle.Render(label)
		if p.ID == m.selected {
			style = activeTileStyle
			text = selectedStyle.Render(label)
		}
		tiles = append(tiles, style.Render(text+"\n"+dimStyle.Render(media)))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tiles...)
}

func (m model) label(uid domain.UserID) string {
	name := truncate(string(uid), 14)
	if uid == m.room.LocalID() {
		name += " (you)"
	}
	return name
}

func mediaMarks(p roster.Participant) string {
	audio, video := "-", "-"
	if p.Audio != nil {
		audio = "mic"
	}
	if p.Video != nil {
		video = "cam"
		if strings.HasPrefix(p.Video.ID(), "screen") {
			video = "screen"
		}
	}
	return audio + " " + video
}

func (m model) renderPrimary() string {
	var content strings.Builder
	sel, ok := m.room.Roster().Get(m.selected)
	if !ok {
		content.WriteString(dimStyle.Render("Nothing selected"))
		return primaryStyle.Render(content.String())
	}
	content.WriteString(selectedStyle.Render(m.label(sel.ID)))
	content.WriteString("\n")

	c, ok := m.containers.Get(sel.ID)
	var stats Stats
	if ok {
		stats, ok = c.Stats()
	}
	if !ok {
		content.WriteString(dimStyle.Render("No video"))
		return primaryStyle.Render(content.String())
	}
	content.WriteString(dimStyle.Render("Track:   "))
	content.WriteString(normalStyle.Render(stats.TrackID))
	content.WriteString("\n")
	content.WriteString(dimStyle.Render("Packets: "))
	content.WriteString(normalStyle.Render(formatNumber(int64(stats.Packets))))
	content.WriteString("\n")
	content.WriteString(dimStyle.Render("Data:    "))
	content.WriteString(normalStyle.Render(formatBytes(int64(stats.Bytes))))
	content.WriteString("\n")
	content.WriteString(dimStyle.Render("Rate:    "))
	content.WriteString(normalStyle.Render(fmt.Sprintf("%.0f kbit/s", stats.Bitrate())))
	return primaryStyle.Render(content.String())
}

func (m model) renderHelp() string {
	sep := helpStyle.Render("  ")
	actions := []string{
		keyStyle.Render("←/→") + helpStyle.Render(" select"),
		keyStyle.Render("1-9") + helpStyle.Render(" jump"),
		renderKey("s", "share screen", m.canStart && !m.busy),
		renderKey("x", "stop sharing", m.canStop && !m.busy),
		keyStyle.Render("q") + helpStyle.Render(" leave"),
	}
	return strings.Join(actions, sep)
}

func renderKey(key, label string, enabled bool) string {
	if enabled {
		return keyStyle.Render(key) + helpStyle.Render(" "+label)
	}
	return disabledKeyStyle.Render(key + " " + label)
}

func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

func formatBytes(b int64) string {
	if b >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(b)/1_000_000_000)
	}
	if b >= 1_000_000 {
		return fmt.Sprintf("%.1f MB", float64(b)/1_000_000)
	}
	if b >= 1_000 {
		return fmt.Sprintf("%.1f KB", float64(b)/1_000)
	}
	return fmt.Sprintf("%d B", b)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// Run mounts the room, shows it until the user quits and leaves the channel
// on the way out.
func Run(ctx context.Context, r Room, containers *Containers, channel domain.RoomName, mount *conference.Pending) error {
	m := newModel(r, containers, channel)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	go func() {
		<-mount.Done()
		p.Send(opDoneMsg{name: "join", err: mount.Err()})
	}()

	_, err := p.Run()
	return err
}
