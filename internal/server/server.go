// Package server exposes the interpreter over HTTP: the browser page and its
// audio worklet, a WebSocket upgrade on any path, and a separate admin
// listener with /health and /metrics.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/live-interpreter/internal/logging"
	"github.com/live-interpreter/internal/metrics"
	"github.com/live-interpreter/internal/transport"
	"github.com/live-interpreter/internal/voice"
)

//go:embed static
var static embed.FS

// maxMessageBytes bounds a single client frame.
const maxMessageBytes = 1 << 20

// assets maps the two public paths besides "/" to their file and type.
var assets = map[string]struct{ file, contentType string }{
	"/":                   {"static/index.html", "text/html; charset=utf-8"},
	"/index.html":         {"static/index.html", "text/html; charset=utf-8"},
	"/audio-processor.js": {"static/audio-processor.js", "application/javascript"},
}

// Server owns the public and admin listeners.
type Server struct {
	registry *voice.Registry
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	start    time.Time

	public *http.Server
	admin  *http.Server
}

// New builds a server for addr. adminAddr may be empty to disable the admin
// listener.
func New(addr, adminAddr string, reg *voice.Registry, m *metrics.Metrics) *Server {
	s := &Server{
		registry: reg,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		start: time.Now(),
	}
	s.public = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if adminAddr != "" {
		s.admin = &http.Server{
			Addr:              adminAddr,
			Handler:           s.AdminHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return s
}

// Handler serves the page, the worklet and WebSocket upgrades. Everything
// else is 404.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			s.serveWS(w, r)
			return
		}
		a, ok := assets[r.URL.Path]
		if !ok || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		b, err := static.ReadFile(a.file)
		if err != nil {
			http.Error(w, "Error loading file", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", a.contentType)
		w.Write(b)
	})
}

// AdminHandler serves /health and /metrics.
func (s *Server) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":          "ok",
		"uptime":          time.Since(s.start).Round(time.Second).String(),
		"active_sessions": s.registry.Len(),
	})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("server: websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	ws.SetReadLimit(maxMessageBytes)
	conn := transport.NewConn(ws)
	sess := s.registry.Open(conn)
	defer func() {
		s.registry.Close(sess)
		conn.Close()
	}()

	ctx := logging.WithFields(context.Background(), "session_id", sess.ID, "remote", r.RemoteAddr)
	logging.InfowCtx(ctx, "server: client connected")
	for {
		m, err := conn.Read()
		if err != nil {
			if errors.Is(err, transport.ErrInvalidMessage) {
				s.metrics.RecordInvalidMessage()
				logging.WarnwCtx(ctx, "server: dropping malformed message", "err", err)
				continue
			}
			logging.InfowCtx(ctx, "server: client disconnected", "err", err)
			return
		}
		if err := sess.Handle(ctx, m); err != nil {
			s.metrics.RecordInvalidMessage()
			logging.WarnwCtx(ctx, "server: rejected message", "event", m.Event, "err", err)
		}
	}
}

// Start begins serving in background goroutines.
func (s *Server) Start() {
	serve := func(name string, srv *http.Server) {
		logging.Infow("server: listening", "listener", name, "addr", srv.Addr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Errorw("server: listener failed", "listener", name, "err", err)
			}
		}()
	}
	serve("public", s.public)
	if s.admin != nil {
		serve("admin", s.admin)
	}
}

// Stop stops accepting connections. Hijacked WebSocket connections are not
// closed here; the registry shutdown takes care of the sessions.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error
	if err := s.public.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.admin != nil {
		if err := s.admin.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
