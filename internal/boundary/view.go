package boundary

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/zjrosen/fedhost/internal/module"
	"github.com/zjrosen/fedhost/internal/ui/styles"
)

// ViewOptions carries host-side presentation state.
type ViewOptions struct {
	Focused bool
	// LoadingFrame prefixes the loading placeholder, usually a spinner frame.
	LoadingFrame string
}

// View renders the region at width. A mounted module that fails to render
// faults the boundary and the fallback is returned instead.
func (b *Boundary) View(width int, opts ViewOptions) string {
	inner := width - 2
	if inner < 1 {
		inner = 1
	}

	b.mu.Lock()
	state, mod, gen := b.state, b.mod, b.gen
	b.mu.Unlock()

	var content string
	switch state {
	case StateMounted:
		out, err := renderSafely(b.cfg.Name, mod, inner)
		if err != nil {
			b.enterFault(gen, PhaseRender, err)
			return b.View(width, opts)
		}
		content = out
	case StateFaulted:
		return b.fallback(width)
	case StateUnmounted:
		return ""
	default:
		content = b.placeholder(opts.LoadingFrame)
	}

	border := styles.BorderDefaultColor
	if opts.Focused {
		border = styles.BorderFocusColor
	}
	return styles.RenderRegion(content, b.cfg.Title, width, 0, border, styles.OverlayTitleColor)
}

func (b *Boundary) placeholder(frame string) string {
	msg := fmt.Sprintf("Loading %s...", b.cfg.Title)
	if frame != "" {
		msg = frame + " " + msg
	}
	return styles.PlaceholderStyle.Render(msg)
}

func (b *Boundary) fallback(width int) string {
	rec, _ := b.Fault()
	inner := width - 4
	if inner < 10 {
		inner = 10
	}

	var lines []string
	var color lipgloss.TerminalColor
	var title string
	switch b.cfg.Kind {
	case KindLayout:
		color = styles.LayoutFallbackColor
		title = b.cfg.Title
		lines = append(lines, styles.ErrorStyle.Render(b.cfg.Title+" failed to load, using fallback"))
	default:
		color = styles.PageFallbackColor
		title = b.cfg.Title + " unavailable"
		lines = append(lines,
			styles.ErrorStyle.Render(b.cfg.Title+" unavailable"),
			"",
			"This module failed to load. This could be due to:",
			"  - network connectivity issues",
			"  - module server not running",
			"  - configuration problems",
		)
	}

	if rec.Err != nil {
		detail := fmt.Sprintf("%s error: %v", rec.Phase, rec.Err)
		lines = append(lines, "", styles.FaultDetailStyle.Render(wordwrap.String(detail, inner)))
	}
	lines = append(lines, "", styles.KeyHintStyle.Render("r")+" "+styles.HintTextStyle.Render("try again"))

	return styles.RenderRegion(strings.Join(lines, "\n"), title, width, 0, color, color)
}

func renderSafely(name string, mod module.Module, width int) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = "", recovered(name, r)
		}
	}()
	return mod.Render(width)
}
