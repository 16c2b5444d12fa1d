package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/emunwa/internal/backend"
)

// ErrCanceled is returned when the user quits the discovery view.
var ErrCanceled = errors.New("discovery canceled")

// Messages forwarded from the backend listener
type deviceFoundMsg struct{ name string }
type discoveryDoneMsg struct{}

// DiscoverySource is the part of *backend.Backend the discovery view uses.
type DiscoverySource interface {
	Subscribe(l backend.Listener) (cancel func())
	RequestDiscovery() bool
}

// discoveryKeyMap defines key bindings for the discovery screen
type discoveryKeyMap struct {
	Quit key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k discoveryKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k discoveryKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Quit}}
}

// DiscoveryModel shows a spinner while discovery runs and lists each
// emulator as it is announced.
type DiscoveryModel struct {
	endpoint string
	events   <-chan tea.Msg

	spinner spinner.Model
	help    help.Model
	keys    discoveryKeyMap

	devices  []string
	done     bool
	canceled bool
	width    int
}

// NewDiscoveryModel creates a model reading backend events from events.
func NewDiscoveryModel(endpoint string, events <-chan tea.Msg) DiscoveryModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return DiscoveryModel{
		endpoint: endpoint,
		events:   events,
		spinner:  s,
		help:     help.New(),
		keys: discoveryKeyMap{
			Quit: key.NewBinding(
				key.WithKeys("q", "esc", "ctrl+c"),
				key.WithHelp("q", "cancel"),
			),
		},
		width: GetTerminalWidth(),
	}
}

// waitForEvent blocks until the backend sends the next event.
func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}

// Init implements tea.Model
func (m DiscoveryModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

// Update implements tea.Model
func (m DiscoveryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case deviceFoundMsg:
		m.devices = append(m.devices, msg.name)
		return m, waitForEvent(m.events)

	case discoveryDoneMsg:
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			m.canceled = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = clampWidth(msg.Width, nil)
		m.help.Width = m.width

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model
func (m DiscoveryModel) View() string {
	if m.done || m.canceled {
		// The final list is printed by the caller.
		return ""
	}

	var b strings.Builder
	b.WriteString(StatusStyle.Render(fmt.Sprintf("%s Probing %s...", m.spinner.View(), m.endpoint)))
	b.WriteString("\n")
	for _, name := range m.devices {
		b.WriteString(DeviceStyle.Render(DeviceMarker + " " + name))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(HintStyle.Render(m.help.View(m.keys)))
	b.WriteString("\n")
	return b.String()
}

// Devices returns the names announced so far.
func (m DiscoveryModel) Devices() []string {
	return append([]string(nil), m.devices...)
}

// Done reports whether discovery finished.
func (m DiscoveryModel) Done() bool {
	return m.done
}

// Canceled reports whether the user quit before discovery finished.
func (m DiscoveryModel) Canceled() bool {
	return m.canceled
}

// RunDiscovery requests discovery from src and shows its progress until
// the attempt settles. in and out are the program's terminal.
func RunDiscovery(ctx context.Context, src DiscoverySource, endpoint string, in io.Reader, out io.Writer) ([]string, error) {
	events := make(chan tea.Msg, 64)
	cancel := src.Subscribe(backend.ListenerFuncs{
		OnDevice: func(name string) { events <- deviceFoundMsg{name: name} },
		OnDone:   func() { events <- discoveryDoneMsg{} },
	})
	defer cancel()

	if !src.RequestDiscovery() {
		return nil, backend.ErrClosed
	}

	p := tea.NewProgram(NewDiscoveryModel(endpoint, events),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	)
	final, err := p.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, fmt.Errorf("discovery view failed: %w", err)
	}

	m := final.(DiscoveryModel)
	if m.Canceled() {
		return m.Devices(), ErrCanceled
	}
	return m.Devices(), nil
}
