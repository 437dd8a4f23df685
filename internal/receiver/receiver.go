// Package receiver turns transport payloads into queued frames. Every
// transport decodes its own framing and then calls Receiver.Ingest, so
// validation and enqueueing behave the same everywhere.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coreman2200/ledwall/internal/frame"
	"github.com/coreman2200/ledwall/internal/layout"
)

var (
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrTruncatedPayload  = errors.New("truncated payload")
	ErrBadHeader         = errors.New("bad frame header")
	ErrNoTopology        = errors.New("no active topology")
	ErrQueueClosed       = errors.New("frame queue closed")
)

// Reason is the short code used for a rejection on the wire and in stats.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, ErrTruncatedPayload):
		return "truncated_payload"
	case errors.Is(err, ErrBadHeader):
		return "bad_header"
	case errors.Is(err, ErrNoTopology):
		return "no_topology"
	case errors.Is(err, ErrQueueClosed):
		return "queue_closed"
	default:
		return "error"
	}
}

// SourceStats counts what one transport delivered.
type SourceStats struct {
	Source    string            `json:"source"`
	Accepted  uint64            `json:"accepted"`
	Evicted   uint64            `json:"evicted"`
	Rejected  map[string]uint64 `json:"rejected,omitempty"`
	LastFrame time.Time         `json:"last_frame,omitempty"`
}

type Receiver struct {
	active *layout.Active
	queue  *frame.Queue
	seq    atomic.Uint64

	mu    sync.Mutex
	stats map[string]*SourceStats
}

func New(active *layout.Active, q *frame.Queue) *Receiver {
	return &Receiver{active: active, queue: q, stats: map[string]*SourceStats{}}
}

// Canvas returns the canvas size of the active generation.
func (r *Receiver) Canvas() (w, h int, ok bool) {
	g := r.active.Load()
	if g == nil {
		return 0, 0, false
	}
	w, h = g.CanvasSize()
	return w, h, true
}

// Ingest validates one payload against the canvas in effect right now and
// pushes it to the queue. raw is copied, so callers may reuse it.
func (r *Receiver) Ingest(raw []byte, width, height int, source string) (*frame.Frame, error) {
	cw, ch, ok := r.Canvas()
	if !ok {
		return nil, r.reject(source, ErrNoTopology)
	}
	if width != cw || height != ch {
		return nil, r.reject(source, fmt.Errorf("%w: got %dx%d, canvas is %dx%d", ErrDimensionMismatch, width, height, cw, ch))
	}
	if want := frame.Size(width, height); len(raw) != want {
		return nil, r.reject(source, fmt.Errorf("%w: got %d bytes, want %d", ErrTruncatedPayload, len(raw), want))
	}

	f := &frame.Frame{
		Width:    width,
		Height:   height,
		Pix:      append([]byte(nil), raw...),
		Seq:      r.seq.Add(1),
		Received: time.Now(),
		Source:   source,
	}
	res := r.queue.Push(f)
	if res == frame.Closed {
		return nil, r.reject(source, ErrQueueClosed)
	}

	r.mu.Lock()
	st := r.source(source)
	st.Accepted++
	if res == frame.Evicted {
		st.Evicted++
	}
	st.LastFrame = f.Received
	r.mu.Unlock()
	return f, nil
}

func (r *Receiver) reject(source string, err error) error {
	reason := Reason(err)
	r.mu.Lock()
	st := r.source(source)
	if st.Rejected == nil {
		st.Rejected = map[string]uint64{}
	}
	st.Rejected[reason]++
	r.mu.Unlock()
	log.Debug().Err(err).Str("source", source).Str("reason", reason).Msg("frame rejected")
	return err
}

// source must be called with mu held.
func (r *Receiver) source(name string) *SourceStats {
	st, ok := r.stats[name]
	if !ok {
		st = &SourceStats{Source: name}
		r.stats[name] = st
	}
	return st
}

// Stats returns a snapshot per source, sorted by name.
func (r *Receiver) Stats() []SourceStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SourceStats, 0, len(r.stats))
	for _, st := range r.stats {
		cp := *st
		if st.Rejected != nil {
			cp.Rejected = make(map[string]uint64, len(st.Rejected))
			for k, v := range st.Rejected {
				cp.Rejected[k] = v
			}
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// ReadFrames reads back-to-back canvas-sized payloads from rd until EOF or
// cancellation. The frame size is taken from the active generation before
// every read, so a topology swap takes effect on the next frame. A short
// trailing read is reported as a truncated payload and ends the stream.
func (r *Receiver) ReadFrames(ctx context.Context, rd io.Reader, source string) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		w, h, ok := r.Canvas()
		if !ok {
			return ErrNoTopology
		}
		buf := make([]byte, frame.Size(w, h))
		n, err := io.ReadFull(rd, buf)
		switch {
		case err == nil:
			_, _ = r.Ingest(buf, w, h, source)
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, io.ErrUnexpectedEOF):
			_, _ = r.Ingest(buf[:n], w, h, source)
			return nil
		default:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read %s: %w", source, err)
		}
	}
}
