//go:build linux || darwin || freebsd || netbsd || openbsd

package receiver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// Pipe reads raw canvas payloads from a named FIFO.
type Pipe struct {
	Path string
	rx   *Receiver

	mu sync.Mutex
	f  *os.File
}

func NewPipe(path string, rx *Receiver) *Pipe { return &Pipe{Path: path, rx: rx} }

// ensureFIFO creates the FIFO when missing and refuses anything else at Path.
func (p *Pipe) ensureFIFO() error {
	fi, err := os.Stat(p.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := unix.Mkfifo(p.Path, 0o660); err != nil {
			return fmt.Errorf("mkfifo %s: %w", p.Path, err)
		}
		log.Info().Str("path", p.Path).Msg("created named pipe")
		return nil
	case err != nil:
		return err
	case fi.Mode()&fs.ModeNamedPipe == 0:
		return fmt.Errorf("%s exists and is not a named pipe", p.Path)
	}
	return nil
}

// Listen reads frames until ctx is cancelled or Close is called. The FIFO is
// held open read-write so writers can come and go without an EOF; each
// writer must send whole frames.
func (p *Pipe) Listen(ctx context.Context) error {
	if err := p.ensureFIFO(); err != nil {
		return err
	}
	f, err := os.OpenFile(p.Path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", p.Path, err)
	}
	p.mu.Lock()
	p.f = f
	p.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = p.Close() })
	defer stop()

	log.Info().Str("path", p.Path).Msg("pipe frame receiver started")
	err = p.rx.ReadFrames(ctx, f, "pipe")
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.f == nil {
		return nil
	}
	err := p.f.Close()
	p.f = nil
	return err
}
