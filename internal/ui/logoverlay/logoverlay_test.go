package logoverlay

import (
	"fmt"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(s string) tea.KeyMsg {
	switch s {
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func shown() Model {
	m := New()
	m.SetSize(100, 40)
	m.Append("2026-10-18T10:00:00 [DEBUG] [registry] loading module=headerMfe\n")
	m.Append("2026-10-18T10:00:01 [INFO] [host] navigated path=/orders\n")
	m.Append("2026-10-18T10:00:02 [ERROR] [store] persist failed error=HTTP 500\n")
	m.Toggle()
	return m
}

func TestHiddenByDefault(t *testing.T) {
	m := New()
	assert.False(t, m.Visible())
	assert.Empty(t, m.View())
	assert.Equal(t, "bg", m.Overlay("bg"))
}

func TestShowsBufferedEntries(t *testing.T) {
	m := shown()
	view := m.View()

	assert.Contains(t, view, "Logs")
	assert.Contains(t, view, "loading module=headerMfe")
	assert.Contains(t, view, "persist failed")
}

func TestLevelFilter(t *testing.T) {
	m := shown()
	m, _ = m.Update(key("e"))

	view := m.View()
	assert.NotContains(t, view, "loading module")
	assert.NotContains(t, view, "navigated")
	assert.Contains(t, view, "persist failed")
}

func TestClear(t *testing.T) {
	m := shown()
	m, _ = m.Update(key("c"))

	assert.Zero(t, m.Len())
	assert.Contains(t, m.View(), "No logs to display")
}

func TestEscCloses(t *testing.T) {
	m := shown()
	m, cmd := m.Update(key("esc"))

	require.NotNil(t, cmd)
	assert.False(t, m.Visible())
	assert.IsType(t, CloseMsg{}, cmd())
}

func TestBufferIsBounded(t *testing.T) {
	m := New()
	for i := 0; i < maxEntries+25; i++ {
		m.Append(fmt.Sprintf("[INFO] line %d", i))
	}
	require.Equal(t, maxEntries, m.Len())
	assert.True(t, strings.HasSuffix(m.entries[0], "line 25"))
}
