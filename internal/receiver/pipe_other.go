//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package receiver

import (
	"context"
	"errors"
)

type Pipe struct {
	Path string
	rx   *Receiver
}

func NewPipe(path string, rx *Receiver) *Pipe { return &Pipe{Path: path, rx: rx} }

func (p *Pipe) Listen(ctx context.Context) error {
	return errors.New("named pipe receiver not supported on this platform")
}

func (p *Pipe) Close() error { return nil }
