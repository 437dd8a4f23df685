// Package topology describes how square LED panels are arranged in a grid and
// daisy-chained together. Everything downstream consumes only a validated
// *Topology; the loosely shaped Raw document exists for config files.
package topology

import "fmt"

// Rotation is a clockwise panel rotation in degrees.
type Rotation int

const (
	Rot0   Rotation = 0
	Rot90  Rotation = 90
	Rot180 Rotation = 180
	Rot270 Rotation = 270
)

func (r Rotation) Valid() bool {
	switch r {
	case Rot0, Rot90, Rot180, Rot270:
		return true
	}
	return false
}

// WiringPattern is the order a panel's local pixels are chained in.
type WiringPattern string

const (
	Sequential    WiringPattern = "sequential"
	Snake         WiringPattern = "snake"
	VerticalSnake WiringPattern = "vertical_snake"
)

// DefaultWiring is applied when a document leaves wiring_pattern empty.
const DefaultWiring = Snake

func (p WiringPattern) Valid() bool {
	switch p {
	case Sequential, Snake, VerticalSnake:
		return true
	}
	return false
}

// Cell is a panel position in grid units, 0-indexed from the top-left.
type Cell struct{ X, Y int }

func (c Cell) String() string { return fmt.Sprintf("[%d, %d]", c.X, c.Y) }

type GridSpec struct {
	GridWidth   int // panels across
	GridHeight  int // panels down
	PanelWidth  int // pixels
	PanelHeight int // pixels
	Wiring      WiringPattern
}

type PanelSpec struct {
	ID       int
	Rotation Rotation
	Position Cell
}

// Topology is a validated grid plus its panels ordered by ID.
// It is never mutated once returned by Validate.
type Topology struct {
	Grid   GridSpec
	Panels []PanelSpec
}

func (t *Topology) CanvasWidth() int  { return t.Grid.GridWidth * t.Grid.PanelWidth }
func (t *Topology) CanvasHeight() int { return t.Grid.GridHeight * t.Grid.PanelHeight }

// PixelsPerPanel is also the LED index stride between chained panels.
func (t *Topology) PixelsPerPanel() int { return t.Grid.PanelWidth * t.Grid.PanelHeight }

func (t *Topology) LEDCount() int { return len(t.Panels) * t.PixelsPerPanel() }

// PanelAt returns the panel occupying cell c.
func (t *Topology) PanelAt(c Cell) (PanelSpec, bool) {
	for _, p := range t.Panels {
		if p.Position == c {
			return p, true
		}
	}
	return PanelSpec{}, false
}

// Raw converts the topology back into its document form.
func (t *Topology) Raw() *Raw {
	r := &Raw{
		Grid: RawGrid{
			GridWidth:     t.Grid.GridWidth,
			GridHeight:    t.Grid.GridHeight,
			PanelWidth:    t.Grid.PanelWidth,
			PanelHeight:   t.Grid.PanelHeight,
			WiringPattern: string(t.Grid.Wiring),
		},
		Panels: make([]RawPanel, 0, len(t.Panels)),
	}
	for _, p := range t.Panels {
		r.Panels = append(r.Panels, RawPanel{
			ID:       p.ID,
			Rotation: int(p.Rotation),
			Position: []int{p.Position.X, p.Position.Y},
		})
	}
	return r
}

// Raw is the unvalidated document shape shared by YAML and JSON configs.
type Raw struct {
	Grid   RawGrid    `yaml:"grid" json:"grid"`
	Panels []RawPanel `yaml:"panels" json:"panels"`
}

type RawGrid struct {
	GridWidth     int    `yaml:"grid_width" json:"grid_width"`
	GridHeight    int    `yaml:"grid_height" json:"grid_height"`
	PanelWidth    int    `yaml:"panel_width" json:"panel_width"`
	PanelHeight   int    `yaml:"panel_height" json:"panel_height"`
	WiringPattern string `yaml:"wiring_pattern,omitempty" json:"wiring_pattern,omitempty"`
}

type RawPanel struct {
	ID       int   `yaml:"id" json:"id"`
	Rotation int   `yaml:"rotation" json:"rotation"`
	Position []int `yaml:"position,flow" json:"position"`
}
