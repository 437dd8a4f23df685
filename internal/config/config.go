package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/coreman2200/ledwall/internal/render"
	"github.com/coreman2200/ledwall/internal/topology"
)

type PowerCfg struct {
	LimitAmps float64 `yaml:"limit_amps"`
	WhiteCap  float64 `yaml:"white_cap"`
	ChanMA    float64 `yaml:"chan_ma"`
	Knee      float64 `yaml:"knee,omitempty"`
}

type SPI struct {
	Dev     string `yaml:"dev"`      // e.g. /dev/spidev0.0, empty for the first port
	SpeedHz int    `yaml:"speed_hz"` // e.g. 2400000
}

type QueueCfg struct {
	Capacity     int `yaml:"capacity"`
	PopTimeoutMS int `yaml:"pop_timeout_ms"`
}

type Transports struct {
	HTTPAddr string `yaml:"http_addr"`
	UDPAddr  string `yaml:"udp_addr,omitempty"`  // empty disables
	PipePath string `yaml:"pipe_path,omitempty"` // empty disables
}

type StoreCfg struct {
	Kind      string `yaml:"kind"` // file | redis | none
	Path      string `yaml:"path,omitempty"`
	RedisAddr string `yaml:"redis_addr,omitempty"`
	Instance  string `yaml:"instance,omitempty"`
}

type Config struct {
	Driver       string  `yaml:"driver"` // spi | console | sim
	ColorOrder   string  `yaml:"color_order"`
	Brightness   float64 `yaml:"brightness"`
	FPS          int     `yaml:"fps"`
	Fallback     string  `yaml:"fallback_pattern"`
	ConsoleWidth int     `yaml:"console_width,omitempty"`

	SinkFailureThreshold int `yaml:"sink_failure_threshold"`

	SPI        SPI        `yaml:"spi,omitempty"`
	Power      PowerCfg   `yaml:"power"`
	Queue      QueueCfg   `yaml:"queue"`
	Transports Transports `yaml:"transports"`
	Store      StoreCfg   `yaml:"store"`

	// Topology is used when the store holds no document yet.
	Topology *topology.Raw `yaml:"topology,omitempty"`
}

func Default() *Config {
	return &Config{
		Driver:               "sim",
		ColorOrder:           "GRB",
		Brightness:           0.8,
		FPS:                  60,
		Fallback:             "black",
		SinkFailureThreshold: 10,
		SPI:                  SPI{SpeedHz: 2400000},
		Power:                powerDefaults(render.DefaultLimiter()),
		Queue:                QueueCfg{Capacity: 2, PopTimeoutMS: 5},
		Transports:           Transports{HTTPAddr: ":8080", UDPAddr: ":7777"},
		Store:                StoreCfg{Kind: "none"},
	}
}

func powerDefaults(l render.Limiter) PowerCfg {
	return PowerCfg{LimitAmps: l.BudgetAmps, WhiteCap: l.WhiteCap, ChanMA: l.ChanMA, Knee: l.Knee}
}

// Load reads path on top of Default. Fields missing from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// Validate checks settings. The inline topology is checked separately, when
// it is applied.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Driver) {
	case "spi", "hardware", "console", "sim", "mock":
	default:
		return fmt.Errorf("driver must be spi, console or sim, got %q", c.Driver)
	}
	if c.FPS < render.MinFPS || c.FPS > render.MaxFPS {
		return fmt.Errorf("fps must be in [%d, %d], got %d", render.MinFPS, render.MaxFPS, c.FPS)
	}
	if c.Brightness < 0 || c.Brightness > 1 {
		return fmt.Errorf("brightness must be in [0, 1], got %g", c.Brightness)
	}
	if c.Queue.Capacity < 1 {
		return fmt.Errorf("queue.capacity must be at least 1, got %d", c.Queue.Capacity)
	}
	switch c.Store.Kind {
	case "none", "":
	case "file":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for a file store")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store.redis_addr is required for a redis store")
		}
	default:
		return fmt.Errorf("store.kind must be file, redis or none, got %q", c.Store.Kind)
	}
	return nil
}
