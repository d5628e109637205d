package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/devboot/internal/indicator"
	"github.com/muurk/devboot/internal/status"
)

// snapshotMsg carries a status update into the model.
type snapshotMsg struct {
	snap status.Snapshot
	at   time.Time
}

// sourceClosedMsg ends the monitor when the feed stops.
type sourceClosedMsg struct{}

// MonitorModel is a live view of the device status. It renders whatever
// snapshots arrive on its source channel and exits when the channel closes
// or the user presses q.
type MonitorModel struct {
	Title   string
	source  <-chan status.Snapshot
	snap    status.Snapshot
	updated time.Time
	have    bool
	closed  bool
	Spinner spinner.Model
	now     func() time.Time
}

// NewMonitor creates a monitor fed by source.
func NewMonitor(title string, source <-chan status.Snapshot) MonitorModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(PrimaryColor)
	return MonitorModel{Title: title, source: source, Spinner: s, now: time.Now}
}

func (m MonitorModel) waitForSnapshot() tea.Cmd {
	source, now := m.source, m.now
	return func() tea.Msg {
		snap, ok := <-source
		if !ok {
			return sourceClosedMsg{}
		}
		return snapshotMsg{snap: snap, at: now()}
	}
}

// Init implements tea.Model
func (m MonitorModel) Init() tea.Cmd {
	return tea.Batch(m.Spinner.Tick, m.waitForSnapshot())
}

// Update implements tea.Model
func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil

	case snapshotMsg:
		m.snap, m.updated, m.have = msg.snap, msg.at, true
		return m, m.waitForSnapshot()

	case sourceClosedMsg:
		m.closed = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// Snapshot returns the last status received.
func (m MonitorModel) Snapshot() (status.Snapshot, bool) { return m.snap, m.have }

// View implements tea.Model
func (m MonitorModel) View() string {
	var b strings.Builder
	b.WriteString(HeaderTitleStyle.Render(strings.ToUpper(m.Title)))
	b.WriteString("\n\n")

	if !m.have {
		b.WriteString("  " + m.Spinner.View() + " Waiting for status...\n")
		return b.String()
	}

	s := m.snap
	mode := "access point"
	if s.ClientMode {
		mode = "client"
	}
	led := indicator.ColorFor(s)

	rows := []struct{ key, value string }{
		{"Mode", mode},
		{"Network ready", yesNo(s.NetworkReady)},
		{"Link", s.Link.String()},
		{"Supervisor", s.Supervisor.String()},
		{"Address", orDash(s.Address)},
		{"Firmware upgrade", yesNo(s.FirmwareUpgradeInProgress)},
		{"Time synced", yesNo(s.TimeSynced)},
		{"Indicator", Swatch(led.Hex()) + " " + indicator.Describe(led)},
	}
	for _, r := range rows {
		b.WriteString(ResultKeyStyle.Render("  "+r.key+":") + " " + ResultValueStyle.Render(r.value) + "\n")
	}

	b.WriteString("\n")
	footer := fmt.Sprintf("updated %s", m.updated.Format("15:04:05"))
	if m.closed {
		footer += " (feed closed)"
	} else {
		footer = m.Spinner.View() + " " + footer
	}
	b.WriteString(StepNoteStyle.Render("  " + footer + "  ·  q to quit"))
	b.WriteString("\n")
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return StepCompleteStyle.Render(SuccessMarker + " yes")
	}
	return ErrorMessageStyle.Render(FailureMarker + " no")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// RunMonitor shows the monitor until ctx is done, the source closes or the
// user quits.
func RunMonitor(ctx context.Context, title string, source <-chan status.Snapshot) error {
	p := tea.NewProgram(NewMonitor(title, source), tea.WithAltScreen())
	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	_, err := p.Run()
	return err
}
