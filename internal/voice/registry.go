package voice

import (
	"context"
	"sync"
	"time"

	"github.com/live-interpreter/internal/logging"
	"github.com/live-interpreter/internal/metrics"
)

// RegistryOptions holds the per-session settings the registry applies to
// every new connection.
type RegistryOptions struct {
	// MinFrames is used as given; zero honors every non-empty drain.
	MinFrames      int
	CallTimeout    time.Duration
	SourceLanguage string
	TargetLanguage string
	EmitErrors     bool
	Archive        Archiver
	Metrics        *metrics.Metrics
}

// Registry owns every live Session, keyed by session ID.
type Registry struct {
	caps Capabilities
	opts RegistryOptions

	// base outlives every connection so a disconnect never cancels a remote
	// call; Shutdown cancels it once the grace period is over.
	base     context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(caps Capabilities, opts RegistryOptions) *Registry {
	base, cancel := context.WithCancel(context.Background())
	return &Registry{
		caps:     caps,
		opts:     opts,
		base:     base,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Open creates and registers a Session that writes events to out.
func (r *Registry) Open(out Emitter) *Session {
	s := NewSession(r.caps, out, SessionOptions{
		MinFrames:      r.opts.MinFrames,
		SourceLanguage: r.opts.SourceLanguage,
		TargetLanguage: r.opts.TargetLanguage,
		Orchestrator: OrchestratorOptions{
			CallTimeout: r.opts.CallTimeout,
			EmitErrors:  r.opts.EmitErrors,
			Archive:     r.opts.Archive,
			Metrics:     r.opts.Metrics,
			Base:        r.base,
			Tracker:     &r.inflight,
		},
	})
	r.mu.Lock()
	r.sessions[s.ID] = s
	n := len(r.sessions)
	r.mu.Unlock()
	r.opts.Metrics.RecordSessionOpened(n)
	logging.Infow("registry: session opened", "session_id", s.ID, "active_sessions", n)
	return s
}

// Close force-drains the session's buffer and removes it. Calling Close
// more than once is a no-op.
func (r *Registry) Close(s *Session) { r.close(s, TriggerDisconnect) }

func (r *Registry) close(s *Session, t Trigger) {
	r.mu.Lock()
	if _, ok := r.sessions[s.ID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, s.ID)
	n := len(r.sessions)
	r.mu.Unlock()

	buffered := s.Buffered()
	submitted := s.close(t)
	r.opts.Metrics.RecordSessionClosed(n)
	logging.Infow("registry: session closed", "session_id", s.ID, "trigger", t.String(),
		"buffered_frames", buffered, "drained", submitted, "active_sessions", n)
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown force-drains and removes every session, then waits for in-flight
// utterances until ctx is done. Their events still reach the connected
// clients. Remote calls still running at that point are cancelled.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()
	for _, s := range all {
		r.close(s, TriggerShutdown)
	}

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	defer r.cancel()
	select {
	case <-done:
		logging.Infow("registry: shutdown complete", "sessions", len(all))
		return nil
	case <-ctx.Done():
		logging.Warnw("registry: shutdown timed out with utterances in flight", "err", ctx.Err())
		return ctx.Err()
	}
}
