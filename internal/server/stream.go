package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/ledwall/internal/layout"
)

// handleDiagWS replays recent diagnostics, then streams new ones until the
// client goes away.
func (s *Server) handleDiagWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, stop := s.Hub.Subscribe()
	defer stop()
	for _, d := range s.Hub.Recent() {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(d); err != nil {
			return
		}
	}

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-s.done:
			return
		case d, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(d); err != nil {
				log.Debug().Err(err).Msg("write diagnostic")
				return
			}
		}
	}
}

type previewFrame struct {
	T          int64  `json:"t"`
	Generation uint64 `json:"generation"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RGB        []byte `json:"rgb"`
}

func (s *Server) handlePreviewWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.preview[conn] = true
	s.mu.Unlock()

	go func() {
		defer s.dropPreview(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) dropPreview(c *websocket.Conn) {
	s.mu.Lock()
	delete(s.preview, c)
	s.mu.Unlock()
	_ = c.Close()
}

// observe runs on the display loop, so it only copies the canvas and hands
// it to the pump. At most one preview per interval is taken.
func (s *Server) observe(g *layout.Generation, canvas, _ []byte) {
	now := time.Now()
	s.mu.Lock()
	if len(s.preview) == 0 || now.Sub(s.lastPreview) < previewInterval {
		s.mu.Unlock()
		return
	}
	s.lastPreview = now
	s.mu.Unlock()

	w, h := g.CanvasSize()
	pf := previewFrame{
		T:          now.UnixNano(),
		Generation: g.ID,
		Width:      w,
		Height:     h,
		RGB:        append([]byte(nil), canvas...),
	}
	for {
		select {
		case s.previewCh <- pf:
			return
		default:
		}
		select {
		case <-s.previewCh:
		default:
		}
	}
}

func (s *Server) pumpPreview() {
	for {
		select {
		case <-s.done:
			return
		case pf := <-s.previewCh:
			b, err := json.Marshal(pf)
			if err != nil {
				continue
			}
			s.broadcastPreview(b)
		}
	}
}

func (s *Server) broadcastPreview(b []byte) {
	s.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(s.preview))
	for c := range s.preview {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			log.Debug().Err(err).Msg("write preview")
			s.dropPreview(c)
		}
	}
}
