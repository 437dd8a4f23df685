package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coreman2200/ledwall/internal/config"
	diag "github.com/coreman2200/ledwall/internal/diagnostics"
	"github.com/coreman2200/ledwall/internal/frame"
	"github.com/coreman2200/ledwall/internal/layout"
	"github.com/coreman2200/ledwall/internal/receiver"
	"github.com/coreman2200/ledwall/internal/render"
	"github.com/coreman2200/ledwall/internal/testpattern"
	"github.com/coreman2200/ledwall/internal/topology"
)

type canvasInfo struct {
	Generation uint64 `json:"generation"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Panels     int    `json:"panels"`
	LEDs       int    `json:"leds"`
}

func canvasOf(g *layout.Generation) *canvasInfo {
	if g == nil {
		return nil
	}
	w, h := g.CanvasSize()
	return &canvasInfo{
		Generation: g.ID,
		Width:      w,
		Height:     h,
		Panels:     len(g.Topology.Panels),
		LEDs:       g.Table.LEDCount(),
	}
}

type statusBody struct {
	render.Status
	Canvas    *canvasInfo            `json:"canvas,omitempty"`
	Queue     frame.QueueStats       `json:"queue"`
	Receivers []receiver.SourceStats `json:"receivers"`
	UptimeS   float64                `json:"uptime_s"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusBody{
		Status:    s.Engine.Status(),
		Canvas:    canvasOf(s.generation()),
		Queue:     s.Queue.Stats(),
		Receivers: s.Receiver.Stats(),
		UptimeS:   time.Since(s.start).Seconds(),
	})
}

func (s *Server) generation() *layout.Generation { return s.Active.Load() }

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	raw := s.Control.Topology()
	if raw == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no_topology"})
		return
	}
	if r.URL.Query().Get("format") == "yaml" {
		b, err := config.Encode("topology.yaml", raw)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "encode_failed", Detail: err.Error()})
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(b)
		return
	}
	writeJSON(w, http.StatusOK, raw)
}

type applyResult struct {
	canvasInfo
	Persisted bool   `json:"persisted"`
	Warning   string `json:"warning,omitempty"`
}

// handlePutConfig validates and installs a new topology document. A
// rejected document leaves the running generation untouched.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConfigBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "read_failed", Detail: err.Error()})
		return
	}
	name := "topology.json"
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		name = "topology.yaml"
	}
	raw, err := config.Decode(name, b)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_document", Detail: err.Error()})
		return
	}

	g, err := s.Control.ApplyTopology(r.Context(), raw)
	var verr *topology.ValidationError
	var serr *layout.StructuralError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_failed", Rule: string(verr.Rule), Detail: verr.Detail})
		return
	case errors.As(err, &serr):
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "structural_error", Detail: serr.Error()})
		return
	case err != nil && g == nil:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "apply_failed", Detail: err.Error()})
		return
	}

	res := applyResult{canvasInfo: *canvasOf(g), Persisted: err == nil}
	if err != nil {
		// Installed but not saved; the wall runs it until restart.
		res.Warning = err.Error()
	}
	writeJSON(w, http.StatusOK, res)
}

type controlMsg struct {
	Brightness *float64 `json:"brightness,omitempty"`
	FPS        *int     `json:"fps,omitempty"`
	RunTest    *string  `json:"runTest,omitempty"`
	Hold       int      `json:"hold,omitempty"`
}

type controlState struct {
	Canvas     *canvasInfo `json:"canvas,omitempty"`
	Driver     string      `json:"driver"`
	Brightness float64     `json:"brightness"`
	FPS        int         `json:"fps"`
	Test       string      `json:"test,omitempty"`
}

func (s *Server) handleControlWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	_ = conn.WriteJSON(s.controlState())
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Err(err).Msg("bad control message")
			continue
		}
		s.applyControl(msg)
		if err := conn.WriteJSON(s.controlState()); err != nil {
			return
		}
	}
}

func (s *Server) applyControl(msg controlMsg) {
	if msg.Brightness != nil {
		s.Engine.SetBrightness(*msg.Brightness)
	}
	if msg.FPS != nil {
		if err := s.Engine.SetFPS(*msg.FPS); err != nil {
			diag.Emit(s.Hub, diag.Diagnostic{
				Severity: diag.Warn, Code: "CONTROL.INVALID", Summary: "Control value rejected",
				Detail: err.Error(), Evidence: map[string]any{"fps": *msg.FPS},
			})
		}
	}
	if msg.RunTest == nil {
		return
	}
	kind := testpattern.None
	var err error
	if name := *msg.RunTest; name != "" && name != "none" {
		kind, err = testpattern.Parse(name)
	}
	if err != nil {
		diag.Emit(s.Hub, diag.Diagnostic{
			Severity: diag.Warn, Code: "TEST.UNKNOWN", Summary: "Unknown test name",
			Evidence: map[string]any{"name": *msg.RunTest},
		})
		return
	}
	s.Engine.SetTestPattern(kind, msg.Hold)
	if kind != testpattern.None {
		diag.Emit(s.Hub, diag.Diagnostic{Severity: diag.Info, Code: "TEST.RUNNING", Summary: "Running test", Detail: string(kind)})
	}
}

func (s *Server) controlState() controlState {
	st := s.Engine.Status()
	return controlState{
		Canvas:     canvasOf(s.generation()),
		Driver:     string(st.SinkMode),
		Brightness: st.Brightness,
		FPS:        st.TargetFPS,
		Test:       st.TestPattern,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.Engine.Status()
	leds := 0
	if g := s.generation(); g != nil {
		leds = g.Table.LEDCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":      st.State,
		"rendered":   st.Rendered,
		"uptime_s":   time.Since(s.start).Seconds(),
		"count":      leds,
		"fps":        st.FPS,
		"brightness": st.Brightness,
		"degraded":   st.Degraded,
	})
}
