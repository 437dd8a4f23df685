package led

import (
	"fmt"
	"strings"
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/host/v3"
)

const DefaultSpeedHz = 2_400_000

// Hardware writes WS2812B frames over SPI using the NRZ encoder.
type Hardware struct {
	mu    sync.Mutex
	port  spi.PortCloser
	dev   *nrzled.Dev
	count int
	perm  [3]int // input channel fed to each of nrzled's R, G, B slots
	buf   []byte
}

// OpenHardware initialises the host drivers and opens the SPI port.
func OpenHardware(o Options, count int) (*Hardware, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	p, err := spireg.Open(o.Dev)
	if err != nil {
		return nil, fmt.Errorf("open spi %q: %w", o.Dev, err)
	}
	hw, err := NewHardware(p, o, count)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	return hw, nil
}

// NewHardware drives count LEDs on an already opened port.
func NewHardware(p spi.PortCloser, o Options, count int) (*Hardware, error) {
	if count <= 0 {
		return nil, fmt.Errorf("invalid LED count: %d", count)
	}
	speed := o.SpeedHz
	if speed <= 0 {
		speed = DefaultSpeedHz
	}
	perm, err := channelPerm(o.ColorOrder)
	if err != nil {
		return nil, err
	}
	d, err := nrzled.NewSPI(p, &nrzled.Opts{
		NumPixels: count,
		Channels:  3,
		Freq:      physic.Frequency(speed/3) * physic.Hertz,
	})
	if err != nil {
		return nil, fmt.Errorf("nrzled: %w", err)
	}
	return &Hardware{port: p, dev: d, count: count, perm: perm, buf: make([]byte, count*3)}, nil
}

// channelPerm maps a strip's wire order onto nrzled input slots. nrzled
// sends each pixel as G, R, B, so a GRB strip needs no reordering.
func channelPerm(order string) ([3]int, error) {
	if order == "" {
		order = "GRB"
	}
	order = strings.ToUpper(order)
	idx := func(c byte) int { return strings.IndexByte("RGB", c) }
	if len(order) != 3 || idx(order[0]) < 0 || idx(order[1]) < 0 || idx(order[2]) < 0 ||
		order[0] == order[1] || order[1] == order[2] || order[0] == order[2] {
		return [3]int{}, fmt.Errorf("invalid color order %q", order)
	}
	return [3]int{idx(order[1]), idx(order[0]), idx(order[2])}, nil
}

func (h *Hardware) Mode() Mode { return ModeHardware }
func (h *Hardware) Count() int { return h.count }

func (h *Hardware) Submit(rgb []byte) error {
	if err := checkLen(ModeHardware, rgb, h.count); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dev == nil {
		return &SinkError{Mode: ModeHardware, Err: fmt.Errorf("closed")}
	}
	for i := 0; i < len(rgb); i += 3 {
		h.buf[i+0] = rgb[i+h.perm[0]]
		h.buf[i+1] = rgb[i+h.perm[1]]
		h.buf[i+2] = rgb[i+h.perm[2]]
	}
	if _, err := h.dev.Write(h.buf); err != nil {
		return &SinkError{Mode: ModeHardware, Err: err}
	}
	return nil
}

// Close blanks the chain and releases the port.
func (h *Hardware) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dev == nil {
		return nil
	}
	herr := h.dev.Halt()
	perr := h.port.Close()
	h.dev = nil
	if herr != nil {
		return herr
	}
	return perr
}
