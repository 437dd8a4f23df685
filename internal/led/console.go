package led

import (
	"image"
	"image/color"
	"sync"

	"periph.io/x/extra/devices/screen"
)

const defaultConsoleWidth = 100

// Console prints the head of the chain as ANSI colour blocks. It is what runs
// on a machine without an SPI port.
type Console struct {
	mu    sync.Mutex
	dev   *screen.Dev
	count int
	img   *image.NRGBA
}

func NewConsole(count, width int) *Console {
	if width <= 0 {
		width = defaultConsoleWidth
	}
	if width > count {
		width = count
	}
	return &Console{
		dev:   screen.New(width),
		count: count,
		img:   image.NewNRGBA(image.Rect(0, 0, width, 1)),
	}
}

func (c *Console) Mode() Mode { return ModeConsole }
func (c *Console) Count() int { return c.count }

func (c *Console) Submit(rgb []byte) error {
	if err := checkLen(ModeConsole, rgb, c.count); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.img.Bounds().Dx()
	for i := 0; i < w; i++ {
		c.img.SetNRGBA(i, 0, color.NRGBA{R: rgb[i*3], G: rgb[i*3+1], B: rgb[i*3+2], A: 255})
	}
	if err := c.dev.Draw(c.dev.Bounds(), c.img, image.Point{}); err != nil {
		return &SinkError{Mode: ModeConsole, Err: err}
	}
	return nil
}

func (c *Console) Close() error { return c.dev.Halt() }
