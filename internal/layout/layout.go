package layout

import (
	"fmt"

	"github.com/coreman2200/ledwall/internal/topology"
)

// StructuralError means a validated topology could not be mapped. It points at
// a validation bug rather than bad input.
type StructuralError struct {
	X, Y int
	Cell topology.Cell
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("layout: no panel at cell %s for canvas pixel (%d,%d)", e.Cell, e.X, e.Y)
}

// Rotate maps panel-local (lx, ly) to physical local coordinates on a square
// panel of edge w.
func Rotate(lx, ly, w int, r topology.Rotation) (px, py int) {
	switch r {
	case topology.Rot90:
		return w - 1 - ly, lx
	case topology.Rot180:
		return w - 1 - lx, w - 1 - ly
	case topology.Rot270:
		return ly, w - 1 - lx
	default:
		return lx, ly
	}
}

// Offset is the position of physical (px, py) along a panel's data line.
func Offset(px, py, w int, p topology.WiringPattern) int {
	switch p {
	case topology.Snake:
		if py%2 == 1 {
			px = w - 1 - px
		}
		return py*w + px
	case topology.VerticalSnake:
		if px%2 == 1 {
			py = w - 1 - py
		}
		return px*w + py
	default:
		return py*w + px
	}
}

// Table maps canvas pixels (row-major) to LED indexes. Read-only once built.
type Table struct {
	width, height int
	leds          int
	idx           []int
}

func (t *Table) Width() int    { return t.width }
func (t *Table) Height() int   { return t.height }
func (t *Table) Len() int      { return len(t.idx) }
func (t *Table) LEDCount() int { return t.leds }

// At returns the LED index for canvas pixel (x, y).
func (t *Table) At(x, y int) int { return t.idx[y*t.width+x] }

// Index returns the LED index for row-major canvas pixel i.
func (t *Table) Index(i int) int { return t.idx[i] }

// NewTable wraps a precomputed width x height index slice for leds LEDs.
// Unlike Build it does not check coverage or range; consumers must bound
// every index against LEDCount.
func NewTable(width, height, leds int, idx []int) (*Table, error) {
	if width <= 0 || height <= 0 || len(idx) != width*height {
		return nil, fmt.Errorf("table of %d entries for a %dx%d canvas", len(idx), width, height)
	}
	return &Table{width: width, height: height, leds: leds, idx: append([]int(nil), idx...)}, nil
}

// Build compiles every canvas pixel of top into its LED index.
func Build(top *topology.Topology) (*Table, error) {
	g := top.Grid
	w := g.PanelWidth
	cw, ch := top.CanvasWidth(), top.CanvasHeight()
	per := top.PixelsPerPanel()

	// cell -> panel lookup, -1 for empty
	cells := make([]int, g.GridWidth*g.GridHeight)
	for i := range cells {
		cells[i] = -1
	}
	for i, p := range top.Panels {
		if p.Position.X < 0 || p.Position.X >= g.GridWidth || p.Position.Y < 0 || p.Position.Y >= g.GridHeight {
			continue
		}
		cells[p.Position.Y*g.GridWidth+p.Position.X] = i
	}

	t := &Table{width: cw, height: ch, leds: top.LEDCount(), idx: make([]int, cw*ch)}
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			c := topology.Cell{X: x / w, Y: y / g.PanelHeight}
			pi := cells[c.Y*g.GridWidth+c.X]
			if pi < 0 {
				return nil, &StructuralError{X: x, Y: y, Cell: c}
			}
			p := top.Panels[pi]
			px, py := Rotate(x%w, y%g.PanelHeight, w, p.Rotation)
			t.idx[y*cw+x] = p.ID*per + Offset(px, py, w, g.Wiring)
		}
	}
	return t, nil
}
