package keys

import (
	"testing"

	"github.com/charmbracelet/bubbles/key"
	"github.com/stretchr/testify/require"
)

func TestDefaultKeyMap_Assignments(t *testing.T) {
	k := DefaultKeyMap()
	tests := []struct {
		name     string
		binding  key.Binding
		expected []string
	}{
		{"next region", k.NextRegion, []string{"tab"}},
		{"previous region", k.PrevRegion, []string{"shift+tab"}},
		{"retry", k.Retry, []string{"r"}},
		{"retry all", k.RetryAll, []string{"R"}},
		{"log overlay", k.ToggleLog, []string{"ctrl+x"}},
		{"quit", k.Quit, []string{"q", "ctrl+c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.binding.Keys())
			require.NotEmpty(t, tt.binding.Help().Desc)
		})
	}
	require.Len(t, k.Route.Keys(), 9)
}

func TestFullHelp_CoversEveryBinding(t *testing.T) {
	k := DefaultKeyMap()
	count := 0
	for _, group := range k.FullHelp() {
		count += len(group)
	}
	require.Equal(t, 9, count)
}

func TestReserved(t *testing.T) {
	k := DefaultKeyMap()
	for _, s := range []string{"q", "r", "R", "tab", "3", "ctrl+x", "?", "w"} {
		require.True(t, k.Reserved(s), s)
	}
	for _, s := range []string{"p", "o", "v", "enter"} {
		require.False(t, k.Reserved(s), s)
	}
}
