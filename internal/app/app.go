// Package app contains the root application model.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"

	"github.com/zjrosen/fedhost/internal/boundary"
	"github.com/zjrosen/fedhost/internal/composer"
	"github.com/zjrosen/fedhost/internal/keys"
	"github.com/zjrosen/fedhost/internal/log"
	"github.com/zjrosen/fedhost/internal/pubsub"
	"github.com/zjrosen/fedhost/internal/sharedstate"
	"github.com/zjrosen/fedhost/internal/ui/logoverlay"
	"github.com/zjrosen/fedhost/internal/ui/styles"
	"github.com/zjrosen/fedhost/internal/ui/toaster"
)

// Config configures the root model.
type Config struct {
	Host *composer.Composer
	// StartPath is the first path shown, "/" when empty.
	StartPath     string
	ShowStatusBar bool
	// Debug enables the log overlay (ctrl+x).
	Debug bool
	// StartTimeout bounds the wait for the initial shared state.
	StartTimeout time.Duration
}

// Model is the root application state.
type Model struct {
	host      *composer.Composer
	startPath string
	startWait time.Duration

	keys    keys.KeyMap
	help    help.Model
	spinner spinner.Model
	toaster toaster.Model

	debugMode  bool
	logOverlay logoverlay.Model
	logs       *log.LogListener

	ctx     context.Context
	cancel  context.CancelFunc
	changes *pubsub.ContinuousListener[composer.Change]

	width      int
	height     int
	focus      int
	showStatus bool
	showHelp   bool
	started    bool
}

// startedMsg reports the result of the initial mount.
type startedMsg struct{ err error }

// navigatedMsg reports the result of a key-driven navigation.
type navigatedMsg struct{ err error }

// New creates the root model. The host is started from Init.
func New(cfg Config) Model {
	if cfg.StartPath == "" {
		cfg.StartPath = "/"
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 10 * time.Second
	}
	if zone.DefaultManager == nil {
		zone.NewGlobal()
	}
	ctx, cancel := context.WithCancel(context.Background())

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(styles.SpinnerColor)

	m := Model{
		host:       cfg.Host,
		startPath:  cfg.StartPath,
		startWait:  cfg.StartTimeout,
		keys:       keys.DefaultKeyMap(),
		help:       help.New(),
		spinner:    sp,
		toaster:    toaster.New(),
		debugMode:  cfg.Debug,
		logOverlay: logoverlay.New(),
		ctx:        ctx,
		cancel:     cancel,
		changes:    pubsub.NewContinuousListener[composer.Change](ctx, cfg.Host),
		showStatus: cfg.ShowStatusBar,
	}
	if cfg.Debug {
		m.logs = log.NewListener(ctx)
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	host, path, wait := m.host, m.startPath, m.startWait
	ctx := m.ctx
	start := func() tea.Msg {
		startCtx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		return startedMsg{err: host.Start(startCtx, path)}
	}
	cmds := []tea.Cmd{start, m.changes.Listen(), m.spinner.Tick}
	if m.logs != nil {
		cmds = append(cmds, m.logs.Listen())
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.logOverlay.SetSize(msg.Width, msg.Height)
		return m, nil

	case startedMsg:
		m.started = true
		if msg.err != nil {
			log.ErrorErr(log.CatUI, "Host failed to start", msg.err)
			return m.toast("Host failed to start: "+msg.err.Error(), toaster.StyleError)
		}
		return m, nil

	case navigatedMsg:
		if msg.err != nil {
			return m.toast("Navigation failed: "+msg.err.Error(), toaster.StyleError)
		}
		m.focus = 0
		return m, nil

	case pubsub.Event[composer.Change]:
		model, cmd := m.handleChange(msg.Payload)
		return model, tea.Batch(cmd, m.changes.Listen())

	case log.LogEvent:
		m.logOverlay.Append(msg.Payload)
		if m.logs == nil {
			return m, nil
		}
		return m, m.logs.Listen()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case toaster.DismissMsg:
		m.toaster = m.toaster.Update(msg)
		return m, nil

	case logoverlay.CloseMsg:
		return m, nil

	case tea.MouseMsg:
		return m.handleMouse(msg), nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// handleMouse focuses the region under a left click.
func (m Model) handleMouse(msg tea.MouseMsg) Model {
	if msg.Button != tea.MouseButtonLeft || msg.Action != tea.MouseActionRelease {
		return m
	}
	for i, b := range m.host.Regions() {
		if z := zone.Get(regionZone(b.Name())); z != nil && z.InBounds(msg) {
			m.focus = i
			break
		}
	}
	return m
}

func regionZone(name string) string {
	return "region:" + name
}

func (m Model) handleChange(ch composer.Change) (Model, tea.Cmd) {
	switch ch.Reason {
	case composer.ReasonFault:
		if rec, ok := ch.Payload.(boundary.FaultRecord); ok {
			return m.toast(fmt.Sprintf("%s failed during %s", rec.Module, rec.Phase), toaster.StyleError)
		}
	case composer.ReasonError:
		if e, ok := ch.Payload.(sharedstate.UpdateError); ok {
			return m.toast(fmt.Sprintf("Update from %s failed: %s", e.SourceModule, e.Message), toaster.StyleError)
		}
	case composer.ReasonNavigate:
		m.clampFocus()
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.debugMode && key.Matches(msg, m.keys.ToggleLog) {
		m.logOverlay.Toggle()
		return m, nil
	}
	if m.logOverlay.Visible() {
		var cmd tea.Cmd
		m.logOverlay, cmd = m.logOverlay.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		return m, nil

	case key.Matches(msg, m.keys.ToggleStatus):
		m.showStatus = !m.showStatus
		return m, nil

	case key.Matches(msg, m.keys.NextRegion):
		if n := len(m.host.Regions()); n > 0 {
			m.focus = (m.focus + 1) % n
		}
		return m, nil

	case key.Matches(msg, m.keys.PrevRegion):
		if n := len(m.host.Regions()); n > 0 {
			m.focus = (m.focus - 1 + n) % n
		}
		return m, nil

	case key.Matches(msg, m.keys.Route):
		idx := int(msg.String()[0] - '1')
		routes := m.host.Routes()
		if idx >= len(routes) {
			return m, nil
		}
		return m, m.navigate(routes[idx].Path)

	case key.Matches(msg, m.keys.Retry):
		b := m.focused()
		if b == nil {
			return m, nil
		}
		if err := b.Retry(m.ctx); err != nil {
			if errors.Is(err, boundary.ErrNotFaulted) {
				return m.toast(b.Title()+" has not failed", toaster.StyleInfo)
			}
			return m.toast(err.Error(), toaster.StyleError)
		}
		return m.toast("Retrying "+b.Title(), toaster.StyleInfo)

	case key.Matches(msg, m.keys.RetryAll):
		n := m.host.RetryFaulted(m.ctx)
		if n == 0 {
			return m.toast("No failed regions", toaster.StyleInfo)
		}
		return m.toast(fmt.Sprintf("Retrying %d region(s)", n), toaster.StyleInfo)
	}

	// Everything else is a module action: focused region first.
	k := msg.String()
	if b := m.focused(); b != nil && b.Trigger(k) {
		return m, nil
	}
	m.host.Trigger(k)
	return m, nil
}

func (m Model) navigate(path string) tea.Cmd {
	host, ctx := m.host, m.ctx
	return func() tea.Msg {
		_, err := host.Navigate(ctx, path)
		return navigatedMsg{err: err}
	}
}

func (m Model) toast(message string, style toaster.Style) (Model, tea.Cmd) {
	var cmd tea.Cmd
	m.toaster, cmd = m.toaster.Show(message, style, toaster.DefaultDuration)
	return m, cmd
}

func (m *Model) clampFocus() {
	n := len(m.host.Regions())
	if m.focus >= n {
		m.focus = max(n-1, 0)
	}
}

func (m Model) focused() *boundary.Boundary {
	regions := m.host.Regions()
	if m.focus < 0 || m.focus >= len(regions) {
		return nil
	}
	return regions[m.focus]
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 {
		return ""
	}

	var sections []string
	if !m.started {
		sections = append(sections, styles.PlaceholderStyle.Render(m.spinner.View()+" Loading shared state..."))
	}
	for i, b := range m.host.Regions() {
		view := b.View(m.width, boundary.ViewOptions{
			Focused:      i == m.focus,
			LoadingFrame: m.spinner.View(),
		})
		sections = append(sections, zone.Mark(regionZone(b.Name()), view))
	}
	body := strings.Join(sections, "\n")

	footer := ""
	if m.showHelp {
		footer = m.help.FullHelpView(m.keys.FullHelp())
	} else if m.showStatus {
		footer = m.statusBar()
	}
	view := fit(body, footer, m.width, m.height)

	if m.toaster.Visible() {
		view = m.toaster.Overlay(view, m.width, m.height)
	}
	if m.debugMode && m.logOverlay.Visible() {
		view = m.logOverlay.Overlay(view)
	}
	return zone.Scan(view)
}

func (m Model) statusBar() string {
	match := m.host.Current()
	st := m.host.Store().Snapshot()

	parts := []string{match.Path}
	if match.NotFound() && m.started {
		parts[0] += " (not found)"
	}
	if name := st.Record.String("name"); name != "" {
		user := name
		if role := st.Record.String("role"); role != "" {
			user += " · " + role
		}
		parts = append(parts, user)
	}
	if st.Loading {
		parts = append(parts, m.spinner.View()+" loading")
	}
	left := styles.StatusBarStyle.Render(strings.Join(parts, "  │  "))
	if st.LastError != "" {
		left += styles.ErrorStyle.Render(" " + styles.TruncateString(st.LastError, 40))
	}

	var hints []string
	for _, b := range m.keys.ShortHelp() {
		hints = append(hints, styles.KeyHintStyle.Render(b.Help().Key)+" "+styles.HintTextStyle.Render(b.Help().Desc))
	}
	if b := m.focused(); b != nil {
		for _, a := range b.Actions() {
			hints = append(hints, styles.KeyHintStyle.Render(a.Key)+" "+styles.HintTextStyle.Render(a.Label))
		}
	}
	right := strings.Join(hints, "  ")

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		return styles.TruncateString(left, m.width)
	}
	return left + strings.Repeat(" ", gap) + right
}

// fit clips body to the rows left over by footer and pins footer to the
// last rows.
func fit(body, footer string, width, height int) string {
	lines := strings.Split(body, "\n")
	var footerLines []string
	if footer != "" {
		footerLines = strings.Split(footer, "\n")
	}
	room := height - len(footerLines)
	if room < 0 {
		room = 0
	}
	if len(lines) > room {
		lines = lines[:room]
	}
	for len(lines) < room {
		lines = append(lines, "")
	}
	for i, l := range lines {
		lines[i] = styles.TruncateString(l, width)
	}
	return strings.Join(append(lines, footerLines...), "\n")
}

// Close stops the listeners. The host is closed by its owner.
func (m *Model) Close() {
	m.cancel()
}
