package topology

import (
	"fmt"
	"sort"
)

// Rule names the invariant a document violated.
type Rule string

const (
	RuleDimensions    Rule = "dimensions"
	RuleSquarePanels  Rule = "square_panels"
	RuleRotation      Rule = "rotation"
	RuleWiringPattern Rule = "wiring_pattern"
	RuleTiling        Rule = "tiling"
	RulePanelIDs      Rule = "panel_ids"
)

// ValidationError rejects a whole document. No partial topology accompanies it.
type ValidationError struct {
	Rule   Rule
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid topology (%s): %s", e.Rule, e.Detail)
}

func invalid(rule Rule, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

// Validate checks raw against every topology rule, in a fixed order, and
// returns the first violation. It has no side effects on raw.
func Validate(raw *Raw) (*Topology, error) {
	if raw == nil {
		return nil, invalid(RuleDimensions, "empty document")
	}
	g := raw.Grid
	if g.GridWidth <= 0 || g.GridHeight <= 0 {
		return nil, invalid(RuleDimensions, "grid must be at least 1x1 panels, got %dx%d", g.GridWidth, g.GridHeight)
	}
	if g.PanelWidth <= 0 || g.PanelHeight <= 0 {
		return nil, invalid(RuleDimensions, "panel size must be positive, got %dx%d", g.PanelWidth, g.PanelHeight)
	}
	if g.PanelWidth != g.PanelHeight {
		return nil, invalid(RuleSquarePanels, "panels must be square, got %dx%d", g.PanelWidth, g.PanelHeight)
	}

	for i, p := range raw.Panels {
		if !Rotation(p.Rotation).Valid() {
			return nil, invalid(RuleRotation, "panel %d: rotation %d not in [0 90 180 270]", i, p.Rotation)
		}
	}

	wiring := WiringPattern(g.WiringPattern)
	if wiring == "" {
		wiring = DefaultWiring
	}
	if !wiring.Valid() {
		return nil, invalid(RuleWiringPattern, "unknown wiring pattern %q", g.WiringPattern)
	}

	want := g.GridWidth * g.GridHeight
	seen := make(map[Cell]int, len(raw.Panels))
	panels := make([]PanelSpec, 0, len(raw.Panels))
	for i, p := range raw.Panels {
		if len(p.Position) != 2 {
			return nil, invalid(RuleTiling, "panel %d: position must be [x, y]", i)
		}
		c := Cell{X: p.Position[0], Y: p.Position[1]}
		if c.X < 0 || c.Y < 0 || c.X >= g.GridWidth || c.Y >= g.GridHeight {
			return nil, invalid(RuleTiling, "panel %d: position %s outside %dx%d grid", i, c, g.GridWidth, g.GridHeight)
		}
		if prev, dup := seen[c]; dup {
			return nil, invalid(RuleTiling, "panels %d and %d both occupy %s", prev, i, c)
		}
		seen[c] = i
		panels = append(panels, PanelSpec{ID: p.ID, Rotation: Rotation(p.Rotation), Position: c})
	}
	if len(panels) != want {
		return nil, invalid(RuleTiling, "%d panels cannot tile a %dx%d grid (need %d)", len(panels), g.GridWidth, g.GridHeight, want)
	}

	ids := make(map[int]bool, len(panels))
	for _, p := range panels {
		if p.ID < 0 || p.ID >= len(panels) {
			return nil, invalid(RulePanelIDs, "panel id %d outside [0, %d)", p.ID, len(panels))
		}
		if ids[p.ID] {
			return nil, invalid(RulePanelIDs, "duplicate panel id %d", p.ID)
		}
		ids[p.ID] = true
	}

	sort.Slice(panels, func(i, j int) bool { return panels[i].ID < panels[j].ID })

	return &Topology{
		Grid: GridSpec{
			GridWidth:   g.GridWidth,
			GridHeight:  g.GridHeight,
			PanelWidth:  g.PanelWidth,
			PanelHeight: g.PanelHeight,
			Wiring:      wiring,
		},
		Panels: panels,
	}, nil
}
