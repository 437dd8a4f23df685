// Package render runs the display loop: it takes the newest frame, maps it
// through the active generation's table and writes the result to a sink.
package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	diag "github.com/coreman2200/ledwall/internal/diagnostics"
	"github.com/coreman2200/ledwall/internal/frame"
	"github.com/coreman2200/ledwall/internal/layout"
	"github.com/coreman2200/ledwall/internal/led"
	"github.com/coreman2200/ledwall/internal/testpattern"
)

type State int32

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

var (
	ErrRunning  = errors.New("display loop already running")
	ErrFPSRange = fmt.Errorf("fps must be in [%d, %d]", MinFPS, MaxFPS)
)

// Generations hands out the generation in effect. *layout.Active is the
// production source.
type Generations interface {
	Load() *layout.Generation
}

// Source says where a tick's pixels came from.
type Source string

const (
	SourceNone     Source = ""
	SourceTest     Source = "test"
	SourceQueue    Source = "queue"
	SourceHeld     Source = "held"
	SourceFallback Source = "fallback"
)

// Observer sees every mapped tick. The buffers are only valid during the call.
type Observer func(g *layout.Generation, canvas, out []byte)

// Options configure an Engine. Zero values pick the defaults; a zero
// Brightness means full brightness.
type Options struct {
	FPS                  int
	PopTimeout           time.Duration
	Brightness           float64
	Fallback             testpattern.Kind
	SinkFailureThreshold int
	Limiter              Limiter
	Diag                 diag.Publisher
}

const (
	DefaultFPS                  = 60
	MinFPS                      = 1
	MaxFPS                      = 1000
	DefaultPopTimeout           = 5 * time.Millisecond
	DefaultSinkFailureThreshold = 10
	fpsWindow                   = time.Second
)

// Engine is the single consumer of the frame queue.
type Engine struct {
	active Generations
	queue  *frame.Queue
	diag   diag.Publisher

	// tickMu serialises ticks; the buffers below belong to whoever holds it.
	tickMu sync.Mutex
	canvas []byte
	out    []byte
	held   *frame.Frame
	genID  uint64

	mu         sync.Mutex
	sink       led.Sink
	fps        int
	popTimeout time.Duration
	brightness float64
	fallback   testpattern.Kind
	threshold  int
	limiter    Limiter
	runner     *testpattern.Runner
	observers  []Observer
	stats      Status
	ticks      []time.Time

	state   State
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	fpsKick chan struct{}
}

func NewEngine(active Generations, q *frame.Queue, sink led.Sink, o Options) (*Engine, error) {
	if active == nil || q == nil || sink == nil {
		return nil, errors.New("engine needs a generation holder, a queue and a sink")
	}
	if o.FPS <= 0 {
		o.FPS = DefaultFPS
	}
	if o.FPS > MaxFPS {
		o.FPS = MaxFPS
	}
	if o.PopTimeout <= 0 {
		o.PopTimeout = DefaultPopTimeout
	}
	if o.SinkFailureThreshold <= 0 {
		o.SinkFailureThreshold = DefaultSinkFailureThreshold
	}
	if o.Brightness == 0 {
		o.Brightness = 1
	}
	if o.Fallback == testpattern.None {
		o.Fallback = testpattern.Black
	}
	return &Engine{
		active:     active,
		queue:      q,
		diag:       o.Diag,
		sink:       sink,
		fps:        o.FPS,
		popTimeout: o.PopTimeout,
		brightness: clamp(o.Brightness, 0, 1),
		fallback:   o.Fallback,
		threshold:  o.SinkFailureThreshold,
		limiter:    o.Limiter,
		fpsKick:    make(chan struct{}, 1),
	}, nil
}

// Start runs the loop in its own goroutine until ctx ends or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Running {
		return ErrRunning
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.state = Running
	e.wg.Add(1)
	go e.loop(ctx)
	log.Info().Int("fps", e.fps).Str("sink", string(e.sink.Mode())).Msg("display loop started")
	return nil
}

// Stop waits for the in-flight tick, then returns the engine to Idle.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.wg.Wait()
	log.Info().Msg("display loop stopped")
}

func (e *Engine) loop(ctx context.Context) {
	defer func() {
		e.mu.Lock()
		e.state = Idle
		e.mu.Unlock()
		e.wg.Done()
	}()

	period := e.period()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.fpsKick:
			period = e.period()
			ticker.Reset(period)
		case <-ticker.C:
			if err := e.RenderOnce(); err != nil {
				log.Debug().Err(err).Msg("tick")
			}
		}
	}
}

func (e *Engine) period() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p := time.Second / time.Duration(max(e.fps, MinFPS)); p > 0 {
		return p
	}
	return time.Nanosecond
}

// RenderOnce runs one tick. A tick that renders nothing returns an error
// describing why; the loop treats every such error as recoverable.
func (e *Engine) RenderOnce() error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	start := time.Now()

	g := e.active.Load()
	if g == nil {
		e.count(func(s *Status) { s.Skipped++ })
		return errors.New("no active topology")
	}
	w, h := g.CanvasSize()
	if g.ID != e.genID {
		e.adopt(g)
	}

	pix, src, err := e.pick(g, w, h)
	if err != nil {
		return err
	}

	e.mu.Lock()
	sink := e.sink
	brightness := e.brightness
	limiter := e.limiter
	e.mu.Unlock()

	t := g.Table
	leds := t.LEDCount()
	if t.Len() != w*h || len(pix) != w*h*3 || sink.Count() != leds {
		e.count(func(s *Status) { s.Skipped++ })
		log.Warn().Uint64("generation", g.ID).Int("table", t.Len()).Int("pixels", len(pix)/3).
			Int("sink_leds", sink.Count()).Int("leds", leds).Msg("tick skipped: table, frame and sink disagree")
		return errors.New("table size mismatch")
	}
	clear(e.out)
	for i := 0; i < t.Len(); i++ {
		idx := t.Index(i)
		if idx < 0 || idx >= leds {
			e.count(func(s *Status) { s.Skipped++ })
			log.Warn().Uint64("generation", g.ID).Int("pixel", i).Int("index", idx).Msg("tick skipped: index out of range")
			return fmt.Errorf("index %d out of range", idx)
		}
		copy(e.out[idx*3:idx*3+3], pix[i*3:i*3+3])
	}

	if brightness < 1 {
		scale(e.out, brightness)
	}
	limited := limiter.Apply(e.out)

	e.notify(g, pix)
	serr := sink.Submit(e.out)
	e.record(start, src, limited, serr)
	return serr
}

// adopt resizes buffers for a new generation and drops a held frame that no
// longer fits.
func (e *Engine) adopt(g *layout.Generation) {
	w, h := g.CanvasSize()
	e.canvas = make([]byte, frame.Size(w, h))
	e.out = make([]byte, g.Table.LEDCount()*3)
	if e.held != nil && !e.held.Matches(w, h) {
		e.held = nil
	}
	e.genID = g.ID
	log.Info().Uint64("generation", g.ID).Int("width", w).Int("height", h).Msg("display loop adopted generation")
}

// pick chooses this tick's pixels: a running test pattern, then the newest
// queued frame, then the last frame shown, then the fallback pattern.
func (e *Engine) pick(g *layout.Generation, w, h int) ([]byte, Source, error) {
	e.mu.Lock()
	runner := e.runner
	fallback := e.fallback
	timeout := e.popTimeout
	e.mu.Unlock()

	if runner != nil {
		if runner.Step(g, e.canvas) {
			return e.canvas, SourceTest, nil
		}
		e.mu.Lock()
		if e.runner == runner {
			e.runner = nil
		}
		e.mu.Unlock()
		diag.Emit(e.diag, diag.Diagnostic{Severity: diag.Info, Code: "TEST.DONE", Summary: "Test complete", Detail: string(runner.Kind())})
	}

	if f, ok := e.queue.PopLatest(timeout); ok {
		if !f.Matches(w, h) {
			e.count(func(s *Status) { s.Mismatched++; s.Dropped++ })
			log.Debug().Uint64("seq", f.Seq).Int("width", f.Width).Int("height", f.Height).
				Int("canvas_width", w).Int("canvas_height", h).Msg("frame dropped: canvas changed")
			return nil, SourceNone, errors.New("frame does not match canvas")
		}
		e.held = f
		return f.Pix, SourceQueue, nil
	}
	if e.held != nil {
		return e.held.Pix, SourceHeld, nil
	}
	testpattern.Fill(fallback, g, e.canvas)
	return e.canvas, SourceFallback, nil
}

func (e *Engine) notify(g *layout.Generation, canvas []byte) {
	e.mu.Lock()
	obs := e.observers
	e.mu.Unlock()
	for _, fn := range obs {
		fn(g, canvas, e.out)
	}
}

func (e *Engine) record(start time.Time, src Source, limited bool, serr error) {
	now := time.Now()
	e.mu.Lock()
	s := &e.stats
	s.LastTickMS = float64(now.Sub(start).Microseconds()) / 1000.0
	s.LastSource = src
	if limited {
		s.PowerLimited++
	}
	e.ticks = append(e.ticks, now)
	cut := 0
	for cut < len(e.ticks) && now.Sub(e.ticks[cut]) > fpsWindow {
		cut++
	}
	e.ticks = e.ticks[cut:]

	var report *diag.Diagnostic
	if serr != nil {
		s.SinkErrors++
		s.Dropped++
		s.ConsecutiveSinkErrors++
		if s.ConsecutiveSinkErrors == uint64(e.threshold) {
			s.Degraded = true
			report = &diag.Diagnostic{
				Severity:       diag.Err,
				Code:           "SINK.DEGRADED",
				Summary:        "LED output failing",
				Detail:         serr.Error(),
				LikelyCauses:   []string{"SPI device unplugged or busy", "LED count does not match the chain"},
				SuggestedFixes: []string{"check wiring and power", "check spi.dev in the config"},
				Evidence:       map[string]any{"consecutive": s.ConsecutiveSinkErrors, "mode": string(e.sink.Mode())},
			}
		}
	} else {
		s.Rendered++
		if s.Degraded {
			report = &diag.Diagnostic{Severity: diag.Info, Code: "SINK.RECOVERED", Summary: "LED output recovered"}
		}
		s.Degraded = false
		s.ConsecutiveSinkErrors = 0
	}
	e.mu.Unlock()

	if serr != nil {
		log.Debug().Err(serr).Msg("sink submit failed")
	}
	if report != nil {
		diag.Emit(e.diag, *report)
	}
}

func (e *Engine) count(fn func(s *Status)) {
	e.mu.Lock()
	fn(&e.stats)
	e.mu.Unlock()
}

// Observe registers fn for every mapped tick.
func (e *Engine) Observe(fn Observer) {
	e.mu.Lock()
	e.observers = append(e.observers, fn)
	e.mu.Unlock()
}

func (e *Engine) SetBrightness(v float64) {
	e.mu.Lock()
	e.brightness = clamp(v, 0, 1)
	e.mu.Unlock()
}

// SetFPS changes the tick rate. Values outside [MinFPS, MaxFPS] are
// rejected and the current rate is kept.
func (e *Engine) SetFPS(fps int) error {
	if fps < MinFPS || fps > MaxFPS {
		return fmt.Errorf("%w, got %d", ErrFPSRange, fps)
	}
	e.mu.Lock()
	e.fps = fps
	e.mu.Unlock()
	select {
	case e.fpsKick <- struct{}{}:
	default:
	}
	return nil
}

func (e *Engine) SetLimiter(l Limiter) {
	e.mu.Lock()
	e.limiter = l
	e.mu.Unlock()
}

// SetTestPattern starts kind, replacing any running pattern. None stops it.
func (e *Engine) SetTestPattern(kind testpattern.Kind, hold int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if kind == testpattern.None {
		e.runner = nil
		return
	}
	e.runner = testpattern.NewRunner(testpattern.Plan{Kind: kind, Hold: hold})
}

// SetSink swaps the output and returns the previous one, which the caller
// owns. The next tick writes to s.
func (e *Engine) SetSink(s led.Sink) led.Sink {
	e.mu.Lock()
	defer e.mu.Unlock()
	old := e.sink
	e.sink = s
	e.stats.ConsecutiveSinkErrors = 0
	e.stats.Degraded = false
	return old
}

func (e *Engine) Sink() led.Sink {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sink
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
