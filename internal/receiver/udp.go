package receiver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// Magic opens every frame datagram.
	Magic      = "LEDF"
	HeaderSize = 8

	maxDatagram  = 65535
	readDeadline = time.Second
)

// DecodeDatagram splits a frame datagram into its payload and declared size.
// Payload length is not checked here; Ingest does that.
func DecodeDatagram(b []byte) (payload []byte, width, height int, err error) {
	if len(b) < HeaderSize {
		return nil, 0, 0, fmt.Errorf("%w: %d byte packet", ErrBadHeader, len(b))
	}
	if string(b[:4]) != Magic {
		return nil, 0, 0, fmt.Errorf("%w: magic %x", ErrBadHeader, b[:4])
	}
	width = int(binary.BigEndian.Uint16(b[4:6]))
	height = int(binary.BigEndian.Uint16(b[6:8]))
	return b[HeaderSize:], width, height, nil
}

// EncodeDatagram builds a frame datagram for a width x height payload.
func EncodeDatagram(width, height int, pix []byte) []byte {
	b := make([]byte, HeaderSize+len(pix))
	copy(b, Magic)
	binary.BigEndian.PutUint16(b[4:6], uint16(width))
	binary.BigEndian.PutUint16(b[6:8], uint16(height))
	copy(b[HeaderSize:], pix)
	return b
}

// UDP receives one frame per datagram.
type UDP struct {
	Addr string
	rx   *Receiver

	mu   sync.Mutex
	conn *net.UDPConn
}

func NewUDP(addr string, rx *Receiver) *UDP { return &UDP{Addr: addr, rx: rx} }

// Bind opens the socket. Listen calls it when needed.
func (u *UDP) Bind() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		return nil
	}
	la, err := net.ResolveUDPAddr("udp", u.Addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", u.Addr, err)
	}
	c, err := net.ListenUDP("udp", la)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", u.Addr, err)
	}
	u.conn = c
	return nil
}

// LocalAddr is the bound address, or nil before Bind.
func (u *UDP) LocalAddr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

// Listen reads datagrams until ctx is cancelled or Close is called.
func (u *UDP) Listen(ctx context.Context) error {
	if err := u.Bind(); err != nil {
		return err
	}
	u.mu.Lock()
	c := u.conn
	u.mu.Unlock()

	log.Info().Str("addr", c.LocalAddr().String()).Msg("udp frame receiver started")
	buf := make([]byte, maxDatagram)
	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = c.SetReadDeadline(time.Now().Add(readDeadline))
		n, from, err := c.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("udp read")
			continue
		}
		payload, w, h, err := DecodeDatagram(buf[:n])
		if err != nil {
			_ = u.rx.reject("udp", err)
			log.Debug().Str("from", from.String()).Msg("dropping datagram")
			continue
		}
		_, _ = u.rx.Ingest(payload, w, h, "udp")
	}
}

func (u *UDP) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	return err
}
