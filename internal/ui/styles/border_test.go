package styles

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testColorRed   = lipgloss.Color("#FF0000")
	testColorGreen = lipgloss.Color("#00FF00")
)

func TestRenderRegion_Basic(t *testing.T) {
	result := RenderRegion("content", "Header", 20, 5, testColorGreen, testColorGreen)

	assert.Contains(t, result, "╭")
	assert.Contains(t, result, "╮")
	assert.Contains(t, result, "╰")
	assert.Contains(t, result, "╯")

	lines := strings.Split(result, "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "Header")
	assert.Contains(t, lines[1], "content")
}

func TestRenderRegion_SizesToContent(t *testing.T) {
	result := RenderRegion("one\ntwo\nthree", "Orders", 20, 0, testColorRed, testColorRed)

	require.Len(t, strings.Split(result, "\n"), 5)
}

func TestRenderRegion_LinesHaveEqualWidth(t *testing.T) {
	result := RenderRegion("short\na much longer line that will not fit", "T", 16, 0, testColorRed, testColorRed)

	for i, line := range strings.Split(result, "\n") {
		assert.Equal(t, 16, lipgloss.Width(line), "line %d: %q", i, line)
	}
}

func TestRenderRegion_LongTitleTruncated(t *testing.T) {
	result := RenderRegion("x", "This Is A Very Long Title That Should Be Truncated", 20, 3, testColorRed, testColorRed)

	lines := strings.Split(result, "\n")
	assert.Equal(t, 20, lipgloss.Width(lines[0]))
	assert.Contains(t, lines[0], "...")
}

func TestRenderRegion_EmptyTitle(t *testing.T) {
	result := RenderRegion("x", "", 10, 3, testColorRed, testColorRed)

	assert.True(t, strings.HasPrefix(result, "╭────────╮"))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "hello", TruncateString("hello", 10))
	assert.Equal(t, "hell...", TruncateString("hello world", 7))
	assert.Equal(t, "he", TruncateString("hello", 2))
	assert.Equal(t, "", TruncateString("hello", 0))
}
