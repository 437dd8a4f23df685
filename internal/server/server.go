// Package server is the HTTP and websocket surface of the wall: frame
// ingestion, status, configuration and the diagnostic/preview streams.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	diag "github.com/coreman2200/ledwall/internal/diagnostics"
	"github.com/coreman2200/ledwall/internal/frame"
	"github.com/coreman2200/ledwall/internal/layout"
	"github.com/coreman2200/ledwall/internal/receiver"
	"github.com/coreman2200/ledwall/internal/render"
	"github.com/coreman2200/ledwall/internal/topology"
)

// Controller is the control path behind PUT /config.
type Controller interface {
	Topology() *topology.Raw
	ApplyTopology(ctx context.Context, raw *topology.Raw) (*layout.Generation, error)
}

type Deps struct {
	Active   *layout.Active
	Receiver *receiver.Receiver
	Engine   *render.Engine
	Queue    *frame.Queue
	Hub      *diag.Hub
	Control  Controller
}

const (
	maxFrameBody    = 16 << 20
	maxConfigBody   = 1 << 20
	previewInterval = 50 * time.Millisecond
	writeWait       = 200 * time.Millisecond
)

type Server struct {
	Deps
	start    time.Time
	upgrader websocket.Upgrader
	router   chi.Router

	mu      sync.Mutex
	preview map[*websocket.Conn]bool
	closed  bool

	lastPreview time.Time
	previewCh   chan previewFrame
	done        chan struct{}
}

func New(d Deps) *Server {
	s := &Server{
		Deps:      d,
		start:     time.Now(),
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		preview:   map[*websocket.Conn]bool{},
		previewCh: make(chan previewFrame, 1),
		done:      make(chan struct{}),
	}
	s.router = s.routes()
	if d.Engine != nil {
		d.Engine.Observe(s.observe)
	}
	go s.pumpPreview()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(withCORS)

	r.Post("/frame", s.handleFrame)
	r.Get("/ws/frames", s.handleFramesWS)
	r.Get("/status", s.handleStatus)
	r.Get("/config", s.handleGetConfig)
	r.Put("/config", s.handlePutConfig)
	r.Get("/ws/diag", s.handleDiagWS)
	r.Get("/ws/preview", s.handlePreviewWS)
	r.Get("/ws/control", s.handleControlWS)
	r.Get("/health", s.handleHealth)
	return r
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server starting")
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Close()
	return srv.Shutdown(sctx)
}

// Close stops the preview pump and drops websocket preview clients.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	for c := range s.preview {
		_ = c.Close()
		delete(s.preview, c)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Rule   string `json:"rule,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("http")
	})
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Frame-Width, X-Frame-Height")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.ServeHTTP(w, r)
	})
}
