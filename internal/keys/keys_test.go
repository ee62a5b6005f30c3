package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		spec string
		want Combo
	}{
		{spec: "enter", want: Combo{Key: "enter"}},
		{spec: "Return", want: Combo{Key: "enter"}},
		{spec: "Cmd+Space", want: Combo{Modifiers: []string{"meta"}, Key: "space"}},
		{spec: "ctrl-c", want: Combo{Modifiers: []string{"ctrl"}, Key: "c"}},
		{spec: "control+shift+T", want: Combo{Modifiers: []string{"ctrl", "shift"}, Key: "t"}},
		{spec: "option+arrow_left", want: Combo{Modifiers: []string{"alt"}, Key: "left"}},
		{spec: "pgdn", want: Combo{Key: "page_down"}},
		{spec: "F11", want: Combo{Key: "f11"}},
		{spec: "-", want: Combo{Key: "-"}},
		{spec: "shift", want: Combo{Modifiers: []string{"shift"}}},
		{spec: " esc ", want: Combo{Key: "escape"}},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := Parse(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, spec := range []string{"", "ctrl+", "ctrl+a+b", "hyper", "enter+tab"} {
		t.Run(spec, func(t *testing.T) {
			_, err := Parse(spec)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestComboString(t *testing.T) {
	combo, err := Parse("command+shift+z")
	require.NoError(t, err)
	assert.Equal(t, "meta+shift+z", combo.String())
}
