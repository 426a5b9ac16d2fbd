// Package keys contains keybinding definitions.
package keys

import (
	"slices"

	"github.com/charmbracelet/bubbles/key"
)

// KeyMap defines the host keybindings. Keys not bound here go to the
// focused region's module actions.
type KeyMap struct {
	NextRegion key.Binding
	PrevRegion key.Binding
	Route      key.Binding

	Retry    key.Binding
	RetryAll key.Binding

	ToggleStatus key.Binding
	ToggleLog    key.Binding
	Help         key.Binding
	Quit         key.Binding
}

// DefaultKeyMap returns the default keybindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		NextRegion: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "next region"),
		),
		PrevRegion: key.NewBinding(
			key.WithKeys("shift+tab"),
			key.WithHelp("shift+tab", "previous region"),
		),
		Route: key.NewBinding(
			key.WithKeys("1", "2", "3", "4", "5", "6", "7", "8", "9"),
			key.WithHelp("1-9", "go to route"),
		),
		Retry: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "retry region"),
		),
		RetryAll: key.NewBinding(
			key.WithKeys("R"),
			key.WithHelp("R", "retry all failed"),
		),
		ToggleStatus: key.NewBinding(
			key.WithKeys("w"),
			key.WithHelp("w", "toggle status bar"),
		),
		ToggleLog: key.NewBinding(
			key.WithKeys("ctrl+x"),
			key.WithHelp("ctrl+x", "logs"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp returns keybindings for the short help view.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.NextRegion, k.Retry, k.Help, k.Quit}
}

// FullHelp returns keybindings for the full help view.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.NextRegion, k.PrevRegion, k.Route},
		{k.Retry, k.RetryAll},
		{k.ToggleStatus, k.ToggleLog, k.Help, k.Quit},
	}
}

// Reserved reports whether k is taken by a host binding. Module actions on
// a reserved key are unreachable.
func (k KeyMap) Reserved(s string) bool {
	for _, group := range k.FullHelp() {
		for _, b := range group {
			if slices.Contains(b.Keys(), s) {
				return true
			}
		}
	}
	return false
}
