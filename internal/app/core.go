// Package app assembles the wall: generation holder, queue, receivers,
// display loop, sink, HTTP surface and topology store.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/ledwall/internal/config"
	diag "github.com/coreman2200/ledwall/internal/diagnostics"
	"github.com/coreman2200/ledwall/internal/frame"
	"github.com/coreman2200/ledwall/internal/layout"
	"github.com/coreman2200/ledwall/internal/led"
	"github.com/coreman2200/ledwall/internal/receiver"
	"github.com/coreman2200/ledwall/internal/render"
	"github.com/coreman2200/ledwall/internal/server"
	"github.com/coreman2200/ledwall/internal/testpattern"
	"github.com/coreman2200/ledwall/internal/topology"
)

var ErrNoTopology = errors.New("no topology configured")

type Core struct {
	Cfg      *config.Config
	Active   *layout.Active
	Queue    *frame.Queue
	Receiver *receiver.Receiver
	Hub      *diag.Hub
	Engine   *render.Engine
	Server   *server.Server
	Store    config.Store // nil when store.kind is none
	UDP      *receiver.UDP
	Pipe     *receiver.Pipe

	redis *config.RedisStore

	// mu serialises topology proposals from HTTP and Redis.
	mu  sync.Mutex
	raw *topology.Raw

	closeOnce sync.Once
}

// New builds a Core from cfg. The stored topology wins over the inline one.
// A topology that fails to map is fatal here.
func New(ctx context.Context, cfg *config.Config) (*Core, error) {
	c := &Core{Cfg: cfg, Active: &layout.Active{}, Hub: diag.NewHub()}

	if err := c.openStore(ctx); err != nil {
		return nil, err
	}
	raw, err := c.initialTopology(ctx)
	if err != nil {
		c.closeStore()
		return nil, err
	}
	top, err := topology.Validate(raw)
	if err != nil {
		c.closeStore()
		return nil, fmt.Errorf("startup topology: %w", err)
	}
	g, err := c.Active.Publish(top)
	if err != nil {
		c.closeStore()
		return nil, fmt.Errorf("startup topology: %w", err)
	}
	c.raw = top.Raw()

	c.Queue = frame.NewQueue(cfg.Queue.Capacity)
	c.Receiver = receiver.New(c.Active, c.Queue)

	sink, err := led.Open(sinkOptions(cfg), g.Table.LEDCount())
	if err != nil {
		c.closeStore()
		return nil, err
	}
	fallback, err := testpattern.Parse(cfg.Fallback)
	if err != nil {
		log.Warn().Err(err).Msg("fallback pattern; using black")
		fallback = testpattern.Black
	}
	c.Engine, err = render.NewEngine(c.Active, c.Queue, sink, render.Options{
		FPS:                  cfg.FPS,
		PopTimeout:           time.Duration(cfg.Queue.PopTimeoutMS) * time.Millisecond,
		Fallback:             fallback,
		SinkFailureThreshold: cfg.SinkFailureThreshold,
		Limiter: render.Limiter{
			WhiteCap:   cfg.Power.WhiteCap,
			ChanMA:     cfg.Power.ChanMA,
			BudgetAmps: cfg.Power.LimitAmps,
			Knee:       cfg.Power.Knee,
		},
		Diag: c.Hub,
	})
	if err != nil {
		_ = sink.Close()
		c.closeStore()
		return nil, err
	}
	c.Engine.SetBrightness(cfg.Brightness)

	if cfg.Transports.UDPAddr != "" {
		c.UDP = receiver.NewUDP(cfg.Transports.UDPAddr, c.Receiver)
	}
	if cfg.Transports.PipePath != "" {
		c.Pipe = receiver.NewPipe(cfg.Transports.PipePath, c.Receiver)
	}
	c.Server = server.New(server.Deps{
		Active:   c.Active,
		Receiver: c.Receiver,
		Engine:   c.Engine,
		Queue:    c.Queue,
		Hub:      c.Hub,
		Control:  c,
	})

	w, h := g.CanvasSize()
	log.Info().
		Uint64("generation", g.ID).
		Int("width", w).Int("height", h).
		Int("leds", g.Table.LEDCount()).
		Str("sink", string(sink.Mode())).
		Msg("wall ready")
	return c, nil
}

func sinkOptions(cfg *config.Config) led.Options {
	return led.Options{
		Driver:       cfg.Driver,
		Dev:          cfg.SPI.Dev,
		SpeedHz:      cfg.SPI.SpeedHz,
		ColorOrder:   cfg.ColorOrder,
		ConsoleWidth: cfg.ConsoleWidth,
	}
}

func (c *Core) openStore(ctx context.Context) error {
	sc := c.Cfg.Store
	switch sc.Kind {
	case "file":
		c.Store = config.NewFileStore(sc.Path)
	case "redis":
		instance := sc.Instance
		if instance == "" {
			instance, _ = os.Hostname()
		}
		rs, err := config.NewRedisStore(&redis.Options{Addr: sc.RedisAddr}, instance)
		if err != nil {
			return err
		}
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rs.Ping(pctx); err != nil {
			_ = rs.Close()
			return fmt.Errorf("redis %s: %w", sc.RedisAddr, err)
		}
		c.redis = rs
		c.Store = rs
		log.Info().Str("addr", sc.RedisAddr).Str("instance", instance).Msg("redis topology store")
	}
	return nil
}

func (c *Core) closeStore() {
	if c.redis != nil {
		_ = c.redis.Close()
	}
}

func (c *Core) initialTopology(ctx context.Context) (*topology.Raw, error) {
	if c.Store != nil {
		raw, err := c.Store.Load(ctx)
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, config.ErrNotFound) {
			return nil, fmt.Errorf("load topology: %w", err)
		}
	}
	if c.Cfg.Topology == nil {
		return nil, ErrNoTopology
	}
	return c.Cfg.Topology, nil
}

// Topology returns the document behind the active generation.
func (c *Core) Topology() *topology.Raw {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw
}

// ApplyTopology validates raw, publishes it and persists it. A rejected
// proposal leaves the running generation alone. When the publish succeeds
// but the save fails, the new generation is returned with the error.
func (c *Core) ApplyTopology(ctx context.Context, raw *topology.Raw) (*layout.Generation, error) {
	return c.apply(ctx, raw, true)
}

func (c *Core) apply(ctx context.Context, raw *topology.Raw, persist bool) (*layout.Generation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	top, err := topology.Validate(raw)
	if err != nil {
		var verr *topology.ValidationError
		if errors.As(err, &verr) {
			diag.Emit(c.Hub, diag.Diagnostic{
				Severity: diag.Warn, Code: "TOPOLOGY.REJECTED", Summary: "Topology proposal rejected",
				Detail: verr.Detail, Evidence: map[string]any{"rule": string(verr.Rule)},
			})
		}
		return nil, err
	}

	prev := c.Active.Load()
	g, err := c.Active.Publish(top)
	if err != nil {
		diag.Emit(c.Hub, diag.Diagnostic{
			Severity: diag.Err, Code: "TOPOLOGY.STRUCTURAL", Summary: "Topology could not be mapped",
			Detail: err.Error(),
		})
		return nil, err
	}
	c.raw = top.Raw()

	if prev == nil || prev.Table.LEDCount() != g.Table.LEDCount() {
		c.reopenSink(g.Table.LEDCount())
	}

	w, h := g.CanvasSize()
	diag.Emit(c.Hub, diag.Diagnostic{
		Severity: diag.Info, Code: "TOPOLOGY.APPLIED", Summary: "Topology applied",
		Evidence: map[string]any{"generation": g.ID, "width": w, "height": h, "leds": g.Table.LEDCount()},
	})

	if persist && c.Store != nil {
		if err := c.Store.Save(ctx, c.raw); err != nil {
			return g, fmt.Errorf("persist topology: %w", err)
		}
	}
	return g, nil
}

// reopenSink replaces the sink for a new LED count. The old sink is closed
// first so a hardware port can be reopened; ticks in between are skipped
// because the counts disagree.
func (c *Core) reopenSink(count int) {
	old := c.Engine.Sink()
	if err := old.Close(); err != nil {
		log.Warn().Err(err).Msg("close sink")
	}
	s, err := led.Open(sinkOptions(c.Cfg), count)
	if err != nil {
		log.Error().Err(err).Int("leds", count).Msg("reopen sink")
		return
	}
	c.Engine.SetSink(s)
	log.Info().Int("leds", count).Str("sink", string(s.Mode())).Msg("sink reopened")
}

// watch applies topologies saved by other instances sharing the Redis key.
func (c *Core) watch(ctx context.Context) error {
	sub, err := c.redis.Watch(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()
	log.Info().Msg("watching redis for topology changes")
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if _, err := c.apply(ctx, raw, false); err != nil {
				log.Warn().Err(err).Msg("remote topology rejected")
			}
		case err, ok := <-sub.Errors():
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("topology event")
		}
	}
}

// Run starts the display loop and every configured transport, and blocks
// until ctx ends or a transport fails. It shuts everything down before
// returning.
func (c *Core) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := c.Engine.Start(ctx); err != nil {
		return err
	}

	errc := make(chan error, 5)
	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errc <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}
	if c.UDP != nil {
		spawn("udp", c.UDP.Listen)
	}
	if c.Pipe != nil {
		spawn("pipe", c.Pipe.Listen)
	}
	if c.redis != nil {
		spawn("redis watch", c.watch)
	}
	if addr := c.Cfg.Transports.HTTPAddr; addr != "" {
		spawn("http", func(ctx context.Context) error { return c.Server.Run(ctx, addr) })
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	// Every transport returns once ctx is done.
	wg.Wait()
	c.Shutdown()

	select {
	case err := <-errc:
		return err
	default:
		return nil
	}
}

// Shutdown closes adapters, stops the display loop and releases the sink.
// It is safe to call more than once.
func (c *Core) Shutdown() {
	c.closeOnce.Do(func() {
		if c.UDP != nil {
			_ = c.UDP.Close()
		}
		if c.Pipe != nil {
			_ = c.Pipe.Close()
		}
		c.Server.Close()
		c.Engine.Stop()
		c.Queue.Close()
		if err := c.Engine.Sink().Close(); err != nil {
			log.Warn().Err(err).Msg("close sink")
		}
		c.closeStore()
	})
}
