// Package tui provides the live pool dashboard.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/firefly-engineering/browserpool/internal/health"
	"github.com/firefly-engineering/browserpool/internal/instance"
	"github.com/firefly-engineering/browserpool/internal/server"
)

// SnapshotMsg carries one full slot listing from the stream.
type SnapshotMsg struct {
	Timestamp time.Time
	Instances []instance.Slot
}

// ErrMsg reports a stream or action failure.
type ErrMsg struct {
	Err error
}

// releasedMsg confirms a release issued from the dashboard.
type releasedMsg struct {
	instanceID string
}

// Releaser returns a slot to the pool without an ownership check.
type Releaser func(ctx context.Context, instanceID string) error

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	statusStyles = map[instance.Status]lipgloss.Style{
		instance.StatusIdle:      lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		instance.StatusStarting:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		instance.StatusAllocated: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		instance.StatusCrashed:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

var columns = []table.Column{
	{Title: "INSTANCE", Width: 12},
	{Title: "PORT", Width: 6},
	{Title: "STATUS", Width: 10},
	{Title: "MODE", Width: 9},
	{Title: "AGENT", Width: 20},
	{Title: "EXPIRES IN", Width: 11},
	{Title: "HEARTBEAT", Width: 11},
}

// Model is the bubbletea model for the dashboard.
type Model struct {
	table    table.Model
	source   string
	slots    []instance.Slot
	updated  time.Time
	err      error
	notice   string
	release  Releaser
	quitting bool
}

// NewDashboard creates a dashboard for the server at source. release may
// be nil, which disables the release key.
func NewDashboard(source string, release Releaser) Model {
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))
	t.SetStyles(styles)

	return Model{
		table:   t,
		source:  source,
		release: release,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetHeight(max(msg.Height-6, 3))
		return m, nil

	case SnapshotMsg:
		m.slots = msg.Instances
		m.updated = msg.Timestamp
		m.err = nil
		m.table.SetRows(slotRows(msg.Instances, msg.Timestamp))
		return m, nil

	case ErrMsg:
		m.err = msg.Err
		return m, nil

	case releasedMsg:
		m.notice = fmt.Sprintf("released %s", msg.instanceID)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit

		case "x":
			if cmd := m.releaseSelected(); cmd != nil {
				return m, cmd
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) releaseSelected() tea.Cmd {
	if m.release == nil {
		return nil
	}
	row := m.table.SelectedRow()
	if len(row) == 0 || row[2] == string(instance.StatusIdle) {
		return nil
	}
	id := row[0]
	release := m.release
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := release(ctx, id); err != nil {
			return ErrMsg{Err: err}
		}
		return releasedMsg{instanceID: id}
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("browserpool - " + m.source))
	b.WriteString("\n")
	b.WriteString(summary(m.slots))
	if !m.updated.IsZero() {
		b.WriteString(fmt.Sprintf("  (updated %s)", m.updated.Local().Format("15:04:05")))
	}
	b.WriteString("\n\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render("error: " + m.err.Error()))
		b.WriteString("\n")
	} else if m.notice != "" {
		b.WriteString(m.notice)
		b.WriteString("\n")
	}

	help := "[↑/↓] Move  [q] Quit"
	if m.release != nil {
		help = "[↑/↓] Move  [x] Release  [q] Quit"
	}
	b.WriteString(helpStyle.Render(help))
	return b.String()
}

// summary renders the slot count per status, e.g. "2/5 allocated".
func summary(slots []instance.Slot) string {
	if slots == nil {
		return "waiting for first snapshot..."
	}
	counts := make(map[instance.Status]int)
	for _, s := range slots {
		counts[s.Status]++
	}
	parts := []string{fmt.Sprintf("%d/%d allocated", counts[instance.StatusAllocated], len(slots))}
	for _, status := range instance.Statuses {
		if status == instance.StatusAllocated || counts[status] == 0 {
			continue
		}
		parts = append(parts, statusStyles[status].Render(fmt.Sprintf("%d %s", counts[status], status)))
	}
	return strings.Join(parts, " · ")
}

// slotRows renders slots as table rows relative to now.
func slotRows(slots []instance.Slot, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(slots))
	for _, s := range slots {
		rows = append(rows, table.Row{
			s.InstanceID,
			fmt.Sprintf("%d", s.Port),
			string(s.Status),
			orDash(string(s.Mode)),
			orDash(s.AgentID),
			expiresIn(s, now),
			heartbeatAge(s, now),
		})
	}
	return rows
}

func expiresIn(s instance.Slot, now time.Time) string {
	if s.ExpiresAt.IsZero() {
		return "-"
	}
	if !s.ExpiresAt.After(now) {
		return "expired"
	}
	return health.FormatDuration(s.ExpiresAt.Sub(now))
}

func heartbeatAge(s instance.Slot, now time.Time) string {
	if s.LastHeartbeat.IsZero() {
		if s.Status == instance.StatusAllocated {
			return "never"
		}
		return "-"
	}
	return health.FormatDuration(now.Sub(s.LastHeartbeat)) + " ago"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Streamer delivers snapshots until its context ends.
type Streamer interface {
	Stream(ctx context.Context, fn func(server.StatusUpdate) error) error
}

// RunDashboard shows the dashboard until the user quits or ctx ends.
func RunDashboard(ctx context.Context, source string, s Streamer, release Releaser) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewDashboard(source, release), tea.WithAltScreen(), tea.WithContext(ctx))

	go func() {
		err := s.Stream(ctx, func(u server.StatusUpdate) error {
			p.Send(SnapshotMsg{Timestamp: u.Timestamp, Instances: u.Instances})
			return nil
		})
		if err == nil && ctx.Err() == nil {
			err = fmt.Errorf("stream closed by server")
		}
		if err != nil {
			p.Send(ErrMsg{Err: err})
		}
	}()

	_, err := p.Run()
	if ctx.Err() != nil && err != nil {
		// Parent cancellation is a normal exit.
		return nil
	}
	return err
}
