package overlay

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlace_Positions(t *testing.T) {
	bg := strings.Repeat("AAAAAA\n", 4) + "AAAAAA"
	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{"center", Config{Width: 6, Height: 5, Position: Center}, []string{"AAAAAA", "AAAAAA", "AAXXAA", "AAAAAA", "AAAAAA"}},
		{"top padded", Config{Width: 6, Height: 5, Position: Top, PadY: 1}, []string{"AAAAAA", "AAXXAA", "AAAAAA", "AAAAAA", "AAAAAA"}},
		{"bottom", Config{Width: 6, Height: 5, Position: Bottom}, []string{"AAAAAA", "AAAAAA", "AAAAAA", "AAAAAA", "AAXXAA"}},
		{"bottom right", Config{Width: 6, Height: 5, Position: BottomRight, PadX: 1, PadY: 1}, []string{"AAAAAA", "AAAAAA", "AAAAAA", "AAAXXA", "AAAAAA"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Split(Place(tt.cfg, "XX", bg), "\n")
			require.Equal(t, tt.want, got)
		})
	}
}

func TestPlace_PadsShortBackground(t *testing.T) {
	got := strings.Split(Place(Config{Width: 4, Height: 3, Position: Bottom}, "X", "AAAA"), "\n")
	require.Len(t, got, 3)
	assert.Equal(t, "AAAA", got[0])
	assert.Contains(t, got[2], "X")
}

func TestPlace_OversizedForegroundClampsToOrigin(t *testing.T) {
	got := strings.Split(Place(Config{Width: 3, Height: 2, Position: Center}, "XXXXX", "AAA\nAAA"), "\n")
	assert.True(t, strings.HasPrefix(got[0], "XXXXX"))
}

func TestPlace_KeepsStyledBackground(t *testing.T) {
	styled := lipgloss.NewStyle().Bold(true).Render("BBBBBB")
	out := Place(Config{Width: 6, Height: 1, Position: Center}, "X", styled)

	assert.Equal(t, 6, lipgloss.Width(out))
	assert.Contains(t, out, "X")
}
