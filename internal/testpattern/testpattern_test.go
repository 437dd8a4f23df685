package testpattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/ledwall/internal/layout"
	"github.com/coreman2200/ledwall/internal/topology"
)

// gen builds a 2x1 grid of 2px panels; the second panel is upside down.
func gen(t *testing.T) *layout.Generation {
	t.Helper()
	top, err := topology.Validate(&topology.Raw{
		Grid: topology.RawGrid{GridWidth: 2, GridHeight: 1, PanelWidth: 2, PanelHeight: 2, WiringPattern: "sequential"},
		Panels: []topology.RawPanel{
			{ID: 0, Position: []int{0, 0}},
			{ID: 1, Rotation: 180, Position: []int{1, 0}},
		},
	})
	require.NoError(t, err)
	var a layout.Active
	g, err := a.Publish(top)
	require.NoError(t, err)
	return g
}

func lit(buf []byte) []int {
	var out []int
	for i := 0; i+2 < len(buf); i += 3 {
		if buf[i]|buf[i+1]|buf[i+2] != 0 {
			out = append(out, i/3)
		}
	}
	return out
}

func TestParse(t *testing.T) {
	k, err := Parse("panel_id")
	require.NoError(t, err)
	assert.Equal(t, PanelID, k)

	_, err = Parse("plane_z")
	assert.Error(t, err)
	assert.Len(t, Kinds(), 6)
}

func TestRunner_IndexSweep(t *testing.T) {
	g := gen(t)
	r := NewRunner(Plan{Kind: IndexSweep})
	buf := make([]byte, 4*2*3)

	var order []int
	for r.Step(g, buf) {
		px := lit(buf)
		require.Len(t, px, 1)
		assert.Equal(t, len(order), g.Table.Index(px[0]), "LED %d lit", len(order))
		order = append(order, px[0])
	}
	assert.Len(t, order, g.Table.LEDCount())
}

func TestRunner_RGBChannelsHold(t *testing.T) {
	g := gen(t)
	r := NewRunner(Plan{Kind: RGBChannels, Hold: 2})
	buf := make([]byte, 4*2*3)

	var firsts [][3]byte
	for r.Step(g, buf) {
		firsts = append(firsts, [3]byte{buf[0], buf[1], buf[2]})
	}
	assert.Equal(t, [][3]byte{
		{255, 0, 0}, {255, 0, 0},
		{0, 255, 0}, {0, 255, 0},
		{0, 0, 255}, {0, 0, 255},
	}, firsts)
}

func TestRunner_None(t *testing.T) {
	assert.False(t, NewRunner(Plan{}).Step(gen(t), make([]byte, 24)))
}

func TestFill_PanelIDMarksFirstLED(t *testing.T) {
	g := gen(t)
	buf := make([]byte, 4*2*3)
	Fill(PanelID, g, buf)

	white := func(x, y int) bool {
		i := (y*4 + x) * 3
		return buf[i] == 255 && buf[i+1] == 255 && buf[i+2] == 255
	}
	// panel 0 starts top-left; the rotated panel 1 starts at its bottom-right.
	assert.True(t, white(0, 0))
	assert.True(t, white(3, 1))
	assert.False(t, white(2, 0))
	assert.Len(t, lit(buf), 8, "every pixel carries its panel colour")
}

func TestFill_Static(t *testing.T) {
	g := gen(t)
	buf := make([]byte, 4*2*3)

	Fill(SolidWhite, g, buf)
	assert.Len(t, lit(buf), 8)

	Fill(Black, g, buf)
	assert.Empty(t, lit(buf))

	Fill(Gradient, g, buf)
	assert.NotEqual(t, buf[0:3], buf[3:6], "hue changes across the canvas")
}
