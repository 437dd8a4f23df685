package led

import (
	"sync"

	"github.com/rs/zerolog/log"
)

const simLogEvery = 300

// Sim keeps the last submitted buffer in memory. Tests can make it fail.
type Sim struct {
	mu      sync.Mutex
	count   int
	last    []byte
	submits uint64
	fail    error
	closed  bool
}

func NewSim(count int) *Sim { return &Sim{count: count, last: make([]byte, count*3)} }

func (s *Sim) Mode() Mode { return ModeMock }
func (s *Sim) Count() int { return s.count }

func (s *Sim) Submit(rgb []byte) error {
	if err := checkLen(ModeMock, rgb, s.count); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return &SinkError{Mode: ModeMock, Err: s.fail}
	}
	copy(s.last, rgb)
	s.submits++
	if s.submits%simLogEvery == 1 {
		log.Debug().Uint64("submits", s.submits).Int("lit", lit(s.last)).Msg("sim frame")
	}
	return nil
}

// SetFail makes every following Submit return err; nil clears it.
func (s *Sim) SetFail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

// Last returns a copy of the most recent buffer.
func (s *Sim) Last() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.last...)
}

func (s *Sim) Submits() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}

// Lit counts LEDs with any channel on in the last buffer.
func (s *Sim) Lit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lit(s.last)
}

func (s *Sim) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Sim) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func lit(rgb []byte) int {
	n := 0
	for i := 0; i+2 < len(rgb); i += 3 {
		if rgb[i]|rgb[i+1]|rgb[i+2] != 0 {
			n++
		}
	}
	return n
}
