package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/ledwall/internal/receiver"
)

const (
	sourceHTTP = "http"
	sourceWS   = "websocket"
)

type frameAck struct {
	Seq uint64 `json:"seq"`
}

// frameDims resolves the declared frame size: X-Frame-Width/X-Frame-Height
// headers first, then width/height query parameters, then the live canvas.
func (s *Server) frameDims(r *http.Request) (w, h int, declared bool, err error) {
	ws, hs := r.Header.Get("X-Frame-Width"), r.Header.Get("X-Frame-Height")
	if ws == "" && hs == "" {
		ws, hs = r.URL.Query().Get("width"), r.URL.Query().Get("height")
	}
	if ws == "" && hs == "" {
		w, h, _ = s.Receiver.Canvas()
		return w, h, false, nil
	}
	if w, err = strconv.Atoi(ws); err != nil {
		return 0, 0, true, fmt.Errorf("%w: width %q", receiver.ErrBadHeader, ws)
	}
	if h, err = strconv.Atoi(hs); err != nil {
		return 0, 0, true, fmt.Errorf("%w: height %q", receiver.ErrBadHeader, hs)
	}
	return w, h, true, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, receiver.ErrDimensionMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, receiver.ErrTruncatedPayload), errors.Is(err, receiver.ErrBadHeader):
		return http.StatusBadRequest
	case errors.Is(err, receiver.ErrNoTopology), errors.Is(err, receiver.ErrQueueClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	fw, fh, _, err := s.frameDims(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: receiver.Reason(err), Detail: err.Error()})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "payload_too_large", Detail: err.Error()})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "read_failed", Detail: err.Error()})
		return
	}
	f, err := s.Receiver.Ingest(body, fw, fh, sourceHTTP)
	if err != nil {
		writeJSON(w, statusFor(err), errorBody{Error: receiver.Reason(err), Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, frameAck{Seq: f.Seq})
}

// handleFramesWS takes one binary frame per message and answers each with
// an ack or an error object. Without declared dimensions every message is
// checked against the canvas in effect when it arrives.
func (s *Server) handleFramesWS(w http.ResponseWriter, r *http.Request) {
	fw, fh, declared, err := s.frameDims(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: receiver.Reason(err), Detail: err.Error()})
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBody)

	session := uuid.NewString()
	l := log.With().Str("session", session).Logger()
	l.Info().Str("remote", r.RemoteAddr).Msg("frame stream opened")
	defer l.Info().Msg("frame stream closed")

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			_ = conn.WriteJSON(errorBody{Error: "binary_expected"})
			continue
		}
		if !declared {
			fw, fh, _ = s.Receiver.Canvas()
		}
		f, err := s.Receiver.Ingest(data, fw, fh, sourceWS)
		if err != nil {
			err = conn.WriteJSON(errorBody{Error: receiver.Reason(err), Detail: err.Error()})
		} else {
			err = conn.WriteJSON(frameAck{Seq: f.Seq})
		}
		if err != nil {
			l.Debug().Err(err).Msg("write ack")
			return
		}
	}
}
