package diagnostics

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Severity string

const (
	Info Severity = "info"
	Warn Severity = "warning"
	Err  Severity = "error"
)

type Diagnostic struct {
	Time           time.Time      `json:"time"`
	Severity       Severity       `json:"severity"`
	Code           string         `json:"code"`
	Summary        string         `json:"summary"`
	Detail         string         `json:"detail,omitempty"`
	LikelyCauses   []string       `json:"likely_causes,omitempty"`
	SuggestedFixes []string       `json:"suggested_fixes,omitempty"`
	Evidence       map[string]any `json:"evidence,omitempty"`
}

// Publisher accepts diagnostics. A nil Publisher is valid for Emit.
type Publisher interface {
	Publish(d Diagnostic)
}

// Emit publishes d when p is non-nil.
func Emit(p Publisher, d Diagnostic) {
	if p != nil {
		p.Publish(d)
	}
}

const (
	keepRecent = 50
	subBuffer  = 16
)

// Hub fans diagnostics out to subscribers and keeps the most recent ones
// for late joiners. Slow subscribers miss messages rather than block.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan Diagnostic]struct{}
	recent []Diagnostic
}

func NewHub() *Hub { return &Hub{subs: map[chan Diagnostic]struct{}{}} }

func (h *Hub) Publish(d Diagnostic) {
	if d.Time.IsZero() {
		d.Time = time.Now()
	}
	log.WithLevel(level(d.Severity)).Str("code", d.Code).Str("detail", d.Detail).Msg(d.Summary)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.recent = append(h.recent, d)
	if len(h.recent) > keepRecent {
		h.recent = h.recent[len(h.recent)-keepRecent:]
	}
	for c := range h.subs {
		select {
		case c <- d:
		default:
		}
	}
}

// Subscribe returns a channel of new diagnostics and a func to stop.
func (h *Hub) Subscribe() (<-chan Diagnostic, func()) {
	c := make(chan Diagnostic, subBuffer)
	h.mu.Lock()
	h.subs[c] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return c, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, c)
			h.mu.Unlock()
			close(c)
		})
	}
}

func (h *Hub) Recent() []Diagnostic {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Diagnostic(nil), h.recent...)
}

func level(s Severity) zerolog.Level {
	switch s {
	case Err:
		return zerolog.ErrorLevel
	case Warn:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}
