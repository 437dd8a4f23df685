// Package testpattern draws calibration images into canvas-space buffers.
package testpattern

import (
	"fmt"
	"math"

	"github.com/coreman2200/ledwall/internal/layout"
)

type Kind string

const (
	None        Kind = ""
	Black       Kind = "black"
	IndexSweep  Kind = "index_sweep"
	RGBChannels Kind = "rgb_channels"
	PanelID     Kind = "panel_id"
	SolidWhite  Kind = "solid_white"
	Gradient    Kind = "gradient"
)

var kinds = []Kind{Black, IndexSweep, RGBChannels, PanelID, SolidWhite, Gradient}

func Kinds() []Kind { return append([]Kind(nil), kinds...) }

func Parse(s string) (Kind, error) {
	for _, k := range kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return None, fmt.Errorf("unknown test pattern %q", s)
}

// panelLevel keeps panel_id at a safe current draw with every LED lit.
const panelLevel = 0.25

// phases is how many distinct images kind shows on g.
func phases(k Kind, g *layout.Generation) int {
	switch k {
	case IndexSweep:
		return g.Table.LEDCount()
	case RGBChannels:
		return 3
	default:
		return 1
	}
}

// Fill draws the first image of kind into buf (canvas sized).
func Fill(k Kind, g *layout.Generation, buf []byte) { draw(k, 0, g, buf) }

func draw(k Kind, phase int, g *layout.Generation, buf []byte) {
	clear(buf)
	t := g.Table
	n := t.Len()
	switch k {
	case IndexSweep:
		if i := pixelFor(t, phase); i >= 0 {
			buf[i*3], buf[i*3+1], buf[i*3+2] = 255, 255, 255
		}
	case RGBChannels:
		for i := 0; i < n; i++ {
			buf[i*3+phase%3] = 255
		}
	case SolidWhite:
		for i := range buf {
			buf[i] = 255
		}
	case Gradient:
		w := t.Width()
		for i := 0; i < n; i++ {
			h := float64(i%w) / float64(w)
			r, gr, b := hsvToRGB(h, 1, 1)
			buf[i*3], buf[i*3+1], buf[i*3+2] = byte(r*255), byte(gr*255), byte(b*255)
		}
	case PanelID:
		panels := g.Topology.Panels
		per := g.Topology.PixelsPerPanel()
		for i := 0; i < n; i++ {
			id := t.Index(i) / per
			h := float64(id) / float64(len(panels))
			r, gr, b := hsvToRGB(h, 1, panelLevel)
			buf[i*3], buf[i*3+1], buf[i*3+2] = byte(r*255), byte(gr*255), byte(b*255)
		}
		// mark the first LED of every panel so rotation shows
		for _, p := range panels {
			if i := pixelFor(t, p.ID*per); i >= 0 {
				buf[i*3], buf[i*3+1], buf[i*3+2] = 255, 255, 255
			}
		}
	}
}

// pixelFor returns the canvas pixel driving LED idx, or -1.
func pixelFor(t *layout.Table, idx int) int {
	for i := 0; i < t.Len(); i++ {
		if t.Index(i) == idx {
			return i
		}
	}
	return -1
}

type Plan struct {
	Kind Kind
	Hold int // ticks per image, at least 1
}

// Runner steps through a pattern one tick at a time.
type Runner struct {
	plan Plan
	tick int
}

func NewRunner(plan Plan) *Runner {
	if plan.Hold < 1 {
		plan.Hold = 1
	}
	return &Runner{plan: plan}
}

func (r *Runner) Kind() Kind { return r.plan.Kind }

// Step fills canvas with the current image; returns false once the pattern
// has been fully shown, leaving canvas untouched.
func (r *Runner) Step(g *layout.Generation, canvas []byte) bool {
	phase := r.tick / r.plan.Hold
	if r.plan.Kind == None || phase >= phases(r.plan.Kind, g) {
		return false
	}
	draw(r.plan.Kind, phase, g, canvas)
	r.tick++
	return true
}

func hsvToRGB(h, s, v float64) (float64, float64, float64) {
	h = math.Mod(h, 1)
	i := int(h * 6.0)
	f := h*6.0 - float64(i)
	p := v * (1.0 - s)
	q := v * (1.0 - f*s)
	t := v * (1.0 - (1.0-f)*s)
	switch i % 6 {
	case 0:
		return v, t, p
	case 1:
		return q, v, p
	case 2:
		return p, v, t
	case 3:
		return p, q, v
	case 4:
		return t, p, v
	default:
		return v, p, q
	}
}
