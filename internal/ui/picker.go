package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/devboot/internal/mdns"
)

// ScanFunc discovers devices for the picker.
type ScanFunc func(ctx context.Context) ([]*mdns.Device, error)

type scanDoneMsg struct {
	devices []*mdns.Device
	err     error
}

// pickerKeyMap defines key bindings for the device list
type pickerKeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Enter  key.Binding
	Rescan key.Binding
	Manual key.Binding
	Quit   key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k pickerKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Enter, k.Rescan, k.Manual, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k pickerKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Enter},
		{k.Rescan, k.Manual, k.Quit},
	}
}

// manualKeyMap defines key bindings while typing a URL
type manualKeyMap struct {
	Confirm key.Binding
	Cancel  key.Binding
}

func (m manualKeyMap) ShortHelp() []key.Binding  { return []key.Binding{m.Confirm, m.Cancel} }
func (m manualKeyMap) FullHelp() [][]key.Binding { return [][]key.Binding{m.ShortHelp()} }

// deviceItem wraps a Device for use with bubbles/list
type deviceItem struct {
	device *mdns.Device
}

func (d deviceItem) FilterValue() string { return d.device.Name() + " " + d.device.IP }

func (d deviceItem) Title() string { return d.device.Name() }

func (d deviceItem) Description() string {
	version := d.device.GetMetadata(mdns.MarkerKey)
	if version == "" {
		version = "unknown"
	}
	return fmt.Sprintf("%s • %s • %s", d.device.BaseURL(), orDash(d.device.GetMetadata("mode")), version)
}

// PickerModel lets the user choose a device dashboard: discovered over
// mDNS, or typed in by hand for devices hosting their own access point.
type PickerModel struct {
	scan     ScanFunc
	scanning bool
	err      error
	chosen   string

	manual bool
	input  textinput.Model

	devices    list.Model
	spinner    spinner.Model
	help       help.Model
	keys       pickerKeyMap
	manualKeys manualKeyMap
}

// NewPicker creates a picker that runs scan on start and on rescan.
func NewPicker(scan ScanFunc) PickerModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = StepRunningStyle

	input := textinput.New()
	input.Placeholder = "http://192.168.1.1"
	input.CharLimit = 128
	input.Width = 40

	devices := list.New([]list.Item{}, list.NewDefaultDelegate(), MinTerminalWidth, 12)
	devices.Title = "Discovered devices"
	devices.SetShowStatusBar(false)
	devices.SetShowHelp(false)
	devices.Styles.Title = HeaderTitleStyle

	return PickerModel{
		scan:     scan,
		scanning: true,
		input:    input,
		devices:  devices,
		spinner:  s,
		help:     help.New(),
		keys: pickerKeyMap{
			Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "move up")),
			Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "move down")),
			Enter:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "watch")),
			Rescan: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "rescan")),
			Manual: key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "enter URL")),
			Quit:   key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
		},
		manualKeys: manualKeyMap{
			Confirm: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "confirm")),
			Cancel:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
		},
	}
}

func (m PickerModel) startScan() tea.Cmd {
	scan := m.scan
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		devices, err := scan(context.Background())
		return scanDoneMsg{devices: devices, err: err}
	})
}

// Init starts the first scan.
func (m PickerModel) Init() tea.Cmd {
	return m.startScan()
}

// Update handles messages and updates the model
func (m PickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.manual {
			return m.updateManual(msg)
		}
		return m.updateList(msg)

	case tea.WindowSizeMsg:
		m.devices.SetSize(msg.Width-4, msg.Height-8)
		return m, nil

	case scanDoneMsg:
		m.scanning = false
		m.err = msg.err
		items := make([]list.Item, len(msg.devices))
		for i, d := range msg.devices {
			items[i] = deviceItem{device: d}
		}
		return m, m.devices.SetItems(items)

	case spinner.TickMsg:
		if !m.scanning {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m PickerModel) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Enter):
		if item, ok := m.devices.SelectedItem().(deviceItem); ok {
			m.chosen = item.device.BaseURL()
			return m, tea.Quit
		}
		return m, nil

	case key.Matches(msg, m.keys.Rescan):
		if m.scanning {
			return m, nil
		}
		m.scanning = true
		m.err = nil
		return m, tea.Batch(m.devices.SetItems(nil), m.startScan())

	case key.Matches(msg, m.keys.Manual):
		m.manual = true
		m.input.SetValue("")
		return m, m.input.Focus()
	}

	var cmd tea.Cmd
	m.devices, cmd = m.devices.Update(msg)
	return m, cmd
}

func (m PickerModel) updateManual(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.manualKeys.Cancel):
		m.manual = false
		m.input.Blur()
		return m, nil

	case key.Matches(msg, m.manualKeys.Confirm):
		value := strings.TrimSpace(m.input.Value())
		if value == "" {
			return m, nil
		}
		if !strings.Contains(value, "://") {
			value = "http://" + value
		}
		m.chosen = value
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// Chosen returns the dashboard URL the user picked, or "".
func (m PickerModel) Chosen() string { return m.chosen }

// View renders the picker
func (m PickerModel) View() string {
	var b strings.Builder
	b.WriteString("\n")

	switch {
	case m.manual:
		b.WriteString(HeaderTitleStyle.Render("Dashboard URL: "))
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString("  " + m.help.View(m.manualKeys))

	case m.scanning:
		b.WriteString("  " + m.spinner.View() + " Scanning for devboot devices...\n\n")
		b.WriteString("  " + m.help.View(m.keys))

	case m.err != nil:
		b.WriteString("  " + ErrorMessageStyle.Render(FailureMarker+" Scan failed: "+m.err.Error()))
		b.WriteString("\n\n  " + m.help.View(m.keys))

	case len(m.devices.Items()) == 0:
		b.WriteString("  " + WarningTitleStyle.Render(WarningMarker+" No devices found"))
		b.WriteString("\n\n")
		b.WriteString(StepNoteStyle.Render("  Only client-mode devices announce themselves. A device hosting\n  its own access point is at its gateway address; press m to enter it."))
		b.WriteString("\n\n  " + m.help.View(m.keys))

	default:
		b.WriteString(m.devices.View())
		b.WriteString("\n  " + m.help.View(m.keys))
	}

	return lipgloss.NewStyle().MaxWidth(MaxContentWidth).Render(b.String()) + "\n"
}

// RunPicker shows the picker and returns the chosen dashboard URL, or ""
// when the user quit without choosing.
func RunPicker(scan ScanFunc) (string, error) {
	final, err := tea.NewProgram(NewPicker(scan)).Run()
	if err != nil {
		return "", err
	}
	return final.(PickerModel).Chosen(), nil
}
