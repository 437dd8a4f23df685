package render

import (
	"time"

	"github.com/coreman2200/ledwall/internal/led"
)

// Status is a point-in-time view of the display loop.
type Status struct {
	State                 string   `json:"state"`
	FPS                   float64  `json:"fps"`
	TargetFPS             int      `json:"target_fps"`
	Brightness            float64  `json:"brightness"`
	QueueDepth            int      `json:"queue_depth"`
	Generation            uint64   `json:"generation"`
	SinkMode              led.Mode `json:"sink_mode"`
	Rendered              uint64   `json:"rendered"`
	Dropped               uint64   `json:"dropped"`
	Mismatched            uint64   `json:"mismatched"`
	Skipped               uint64   `json:"skipped"`
	SinkErrors            uint64   `json:"sink_errors"`
	ConsecutiveSinkErrors uint64   `json:"consecutive_sink_errors"`
	Degraded              bool     `json:"degraded"`
	LastTickMS            float64  `json:"last_tick_ms"`
	LastSource            Source   `json:"last_source,omitempty"`
	PowerLimited          uint64   `json:"power_limited"`
	TestPattern           string   `json:"test_pattern,omitempty"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.State = e.state.String()
	s.TargetFPS = e.fps
	s.Brightness = e.brightness
	s.SinkMode = e.sink.Mode()
	s.FPS = rollingFPS(e.ticks, time.Now())
	if e.runner != nil {
		s.TestPattern = string(e.runner.Kind())
	}
	s.QueueDepth = e.queue.Len()
	if g := e.active.Load(); g != nil {
		s.Generation = g.ID
	}
	return s
}

// rollingFPS is the tick rate over the window ending at now.
func rollingFPS(ticks []time.Time, now time.Time) float64 {
	n := 0
	for _, t := range ticks {
		if now.Sub(t) <= fpsWindow {
			n++
		}
	}
	if n < 2 {
		return float64(n)
	}
	first := ticks[len(ticks)-n]
	span := ticks[len(ticks)-1].Sub(first).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(n-1) / span
}
