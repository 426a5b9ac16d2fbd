// Package markdown renders fragment markdown for the terminal.
package markdown

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

// noMarginStyle removes document margins so fragments sit flush in their
// region. It inherits from auto (dark/light detection).
const noMarginStyle = `{
	"document": {
		"margin": 0,
		"block_prefix": "",
		"block_suffix": ""
	}
}`

// Renderer wraps glamour, keeping one term renderer per wrap width.
type Renderer struct {
	mu        sync.Mutex
	byWidth   map[int]*glamour.TermRenderer
	autoStyle bool
}

// New creates a renderer. autoStyle detects the terminal background; tests
// pass false to get the plain "notty" style.
func New(autoStyle bool) *Renderer {
	return &Renderer{byWidth: make(map[int]*glamour.TermRenderer), autoStyle: autoStyle}
}

// Render transforms markdown to styled terminal output wrapped at width.
func (r *Renderer) Render(md string, width int) (string, error) {
	tr, err := r.renderer(width)
	if err != nil {
		return "", err
	}
	out, err := tr.Render(md)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

func (r *Renderer) renderer(width int) (*glamour.TermRenderer, error) {
	if width < 1 {
		width = 80
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if tr, ok := r.byWidth[width]; ok {
		return tr, nil
	}
	style := glamour.WithStandardStyle("notty")
	if r.autoStyle {
		style = glamour.WithAutoStyle()
	}
	tr, err := glamour.NewTermRenderer(
		style,
		glamour.WithStylesFromJSONBytes([]byte(noMarginStyle)),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, err
	}
	r.byWidth[width] = tr
	return tr, nil
}
