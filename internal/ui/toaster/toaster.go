// Package toaster shows short notifications over the host view.
package toaster

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/fedhost/internal/ui/overlay"
	"github.com/zjrosen/fedhost/internal/ui/styles"
)

// Style selects the border color and glyph.
type Style int

const (
	StyleSuccess Style = iota
	StyleError
	StyleInfo
	StyleWarn
)

// DefaultDuration is how long a toast stays up.
const DefaultDuration = 4 * time.Second

// Model holds the toaster state. The zero value shows nothing.
type Model struct {
	message string
	style   Style
	visible bool
	// seq ties a DismissMsg to the toast that scheduled it.
	seq int
}

// New creates a new toaster model.
func New() Model {
	return Model{}
}

// Show displays message and returns the command that dismisses it after d.
// A newer toast is not dismissed by an older toast's timer.
func (m Model) Show(message string, style Style, d time.Duration) (Model, tea.Cmd) {
	m.seq++
	m.message = message
	m.style = style
	m.visible = true
	seq := m.seq
	return m, tea.Tick(d, func(time.Time) tea.Msg { return DismissMsg{seq: seq} })
}

// Update handles DismissMsg.
func (m Model) Update(msg tea.Msg) Model {
	if d, ok := msg.(DismissMsg); ok && d.seq == m.seq {
		m.visible = false
		m.message = ""
	}
	return m
}

// Visible returns whether a toast is showing.
func (m Model) Visible() bool {
	return m.visible
}

// Message returns the current toast text.
func (m Model) Message() string {
	return m.message
}

// View renders the toast box.
func (m Model) View() string {
	if !m.visible || m.message == "" {
		return ""
	}
	style := lipgloss.NewStyle().Padding(0, 1).Border(lipgloss.RoundedBorder())
	glyph := "✓"
	switch m.style {
	case StyleError:
		style = style.BorderForeground(styles.ToastBorderErrorColor)
		glyph = "✗"
	case StyleInfo:
		style = style.BorderForeground(styles.ToastBorderInfoColor)
		glyph = "i"
	case StyleWarn:
		style = style.BorderForeground(styles.ToastBorderWarnColor)
		glyph = "!"
	default:
		style = style.BorderForeground(styles.ToastBorderSuccessColor)
	}
	return style.Render(glyph + " " + m.message)
}

// Overlay draws the toast in the bottom-right corner of bg, above the
// status bar.
func (m Model) Overlay(bg string, width, height int) string {
	if !m.visible || m.message == "" {
		return bg
	}
	return overlay.Place(overlay.Config{
		Width:    width,
		Height:   height,
		Position: overlay.BottomRight,
		PadX:     1,
		PadY:     1,
	}, m.View(), bg)
}

// DismissMsg hides the toast that scheduled it.
type DismissMsg struct {
	seq int
}
