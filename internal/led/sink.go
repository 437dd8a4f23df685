// Package led drives the physical LED chain, or stands in for it.
package led

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Mode names the kind of sink in use.
type Mode string

const (
	ModeHardware Mode = "hardware"
	ModeMock     Mode = "mock"
	ModeConsole  Mode = "console"
)

// Sink is an LED output. Submit takes 3 bytes (R, G, B) per LED in chain
// order; len(rgb) must be 3 * Count().
type Sink interface {
	Submit(rgb []byte) error
	Mode() Mode
	Count() int
	Close() error
}

// SinkError wraps a failed write with the sink that produced it.
type SinkError struct {
	Mode Mode
	Err  error
}

func (e *SinkError) Error() string { return fmt.Sprintf("%s sink: %v", e.Mode, e.Err) }
func (e *SinkError) Unwrap() error { return e.Err }

func checkLen(m Mode, rgb []byte, count int) error {
	if len(rgb) != count*3 {
		return &SinkError{Mode: m, Err: fmt.Errorf("rgb length %d does not match count %d", len(rgb), count)}
	}
	return nil
}

// Options selects and configures a sink.
type Options struct {
	Driver       string // spi | hardware | console | sim | mock
	Dev          string // SPI port name, empty for the first one
	SpeedHz      int    // SPI clock; the LED bit rate is a third of it
	ColorOrder   string // wire order of the strip, e.g. GRB
	ConsoleWidth int
}

// Open returns the sink named by o.Driver for count LEDs. A hardware sink that
// fails to initialise falls back to the simulator.
func Open(o Options, count int) (Sink, error) {
	if count <= 0 {
		return nil, fmt.Errorf("invalid LED count: %d", count)
	}
	switch strings.ToLower(o.Driver) {
	case "sim", "mock", "":
		return NewSim(count), nil
	case "console":
		return NewConsole(count, o.ConsoleWidth), nil
	case "spi", "hardware":
		hw, err := OpenHardware(o, count)
		if err != nil {
			log.Warn().Err(err).
				Str("driver", "spi").
				Str("dev", o.Dev).
				Int("speed_hz", o.SpeedHz).
				Msg("SPI init failed; falling back to SIM")
			return NewSim(count), nil
		}
		return hw, nil
	default:
		log.Warn().Str("driver", o.Driver).Msg("unknown driver; using SIM")
		return NewSim(count), nil
	}
}
