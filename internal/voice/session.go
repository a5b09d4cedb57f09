package voice

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/live-interpreter/internal/logging"
	"github.com/live-interpreter/internal/metrics"
	"github.com/live-interpreter/internal/transport"
)

// Default language tags used until a client sends client-ready.
const (
	DefaultSourceLanguage = "de-DE"
	DefaultTargetLanguage = "en-US"
)

// sendTimeout bounds a single event write to a slow client.
const sendTimeout = 10 * time.Second

// Session is the state for one client connection: its language pair, the
// accumulator for the current speaker turn, and its orchestrator. A closed
// session drops every event instead of writing it. A session draining for
// server shutdown still delivers the final utterance's events, but accepts no
// new audio.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu             sync.Mutex
	sourceLanguage string
	targetLanguage string

	acc     *Accumulator
	orch    *Orchestrator
	out     Emitter
	metrics *metrics.Metrics

	drainMu  sync.Mutex
	draining atomic.Bool
	closed   atomic.Bool
}

// SessionOptions configures NewSession.
type SessionOptions struct {
	MinFrames      int
	SourceLanguage string
	TargetLanguage string
	Orchestrator   OrchestratorOptions
}

func NewSession(caps Capabilities, out Emitter, opts SessionOptions) *Session {
	if opts.SourceLanguage == "" {
		opts.SourceLanguage = DefaultSourceLanguage
	}
	if opts.TargetLanguage == "" {
		opts.TargetLanguage = DefaultTargetLanguage
	}
	s := &Session{
		ID:             uuid.NewString(),
		CreatedAt:      time.Now(),
		sourceLanguage: opts.SourceLanguage,
		targetLanguage: opts.TargetLanguage,
		acc:            NewAccumulator(opts.MinFrames),
		out:            out,
		metrics:        opts.Orchestrator.Metrics,
	}
	s.orch = NewOrchestrator(caps, s.emit, opts.Orchestrator)
	return s
}

// Languages returns the current source and target tags.
func (s *Session) Languages() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourceLanguage, s.targetLanguage
}

func (s *Session) State() State { return s.orch.State() }

func (s *Session) Closed() bool { return s.closed.Load() }

// Buffered is the number of frames waiting for the next drain.
func (s *Session) Buffered() int { return s.acc.Len() }

// Wait blocks until the in-flight utterance, if any, has finished.
func (s *Session) Wait() { s.orch.Wait() }

func (s *Session) fields() []interface{} {
	src, dst := s.Languages()
	return logging.SessionFields(s.ID, src, dst)
}

// Configure replaces the language pair and acknowledges with server-ready.
// Empty tags keep the current value. An utterance already in flight keeps
// the languages it was submitted with.
func (s *Session) Configure(ctx context.Context, sourceLanguage, targetLanguage string) {
	s.mu.Lock()
	if sourceLanguage != "" {
		s.sourceLanguage = sourceLanguage
	}
	if targetLanguage != "" {
		s.targetLanguage = targetLanguage
	}
	s.mu.Unlock()
	logging.Infow("session: configured", s.fields()...)
	s.emit(ctx, transport.ServerReady())
}

// AppendAudio buffers one PCM frame.
func (s *Session) AppendAudio(frame []byte) {
	if s.closed.Load() || s.draining.Load() {
		return
	}
	s.acc.Append(frame)
	s.metrics.RecordFrame()
}

// EndOfSpeech drains the accumulator and submits the utterance. It reports
// whether an utterance was submitted.
func (s *Session) EndOfSpeech() bool { return s.drain(TriggerEndOfSpeech) }

// Handle dispatches one client message.
func (s *Session) Handle(ctx context.Context, m transport.Message) error {
	switch m.Event {
	case transport.EventClientReady:
		s.Configure(ctx, m.SourceLanguage, m.TargetLanguage)
	case transport.EventAudio:
		pcm, err := m.PCM()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		s.AppendAudio(pcm)
	case transport.EventEndOfSpeech:
		s.EndOfSpeech()
	default:
		return fmt.Errorf("%w: unknown event %q", ErrInvalidInput, m.Event)
	}
	return nil
}

func (s *Session) drain(t Trigger) bool {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()
	if s.draining.Load() && !t.Forced() {
		return false
	}
	return s.submit(t)
}

func (s *Session) submit(t Trigger) bool {
	frames, ok := s.acc.Drain(t)
	if len(frames) == 0 {
		return false
	}
	kv := append(s.fields(), "trigger", t.String(), "frames", len(frames))
	if !ok {
		logging.Debugw("session: discarding short utterance", kv...)
		s.metrics.RecordUtteranceDropped(metrics.DropBelowThreshold)
		return false
	}
	src, dst := s.Languages()
	u := NewUtterance(frames, src, dst)
	if !s.orch.Submit(u) {
		logging.Infow("session: utterance dropped, still processing previous one", kv...)
		s.metrics.RecordUtteranceDropped(metrics.DropBusy)
		return false
	}
	s.metrics.RecordUtteranceSubmitted()
	return true
}

// close performs the forced drain for t and closes the session. On
// disconnect the session is closed first, so the drained utterance still
// runs but its events are discarded. On shutdown the connection is still
// open: the session stops taking audio, submits what it holds and is
// closed only once that utterance has finished.
func (s *Session) close(t Trigger) bool {
	if t != TriggerShutdown {
		if !s.closed.CompareAndSwap(false, true) {
			return false
		}
		return s.drain(t)
	}

	s.drainMu.Lock()
	if s.closed.Load() || !s.draining.CompareAndSwap(false, true) {
		s.drainMu.Unlock()
		return false
	}
	submitted := s.submit(t)
	s.drainMu.Unlock()
	go func() {
		s.orch.Wait()
		s.closed.Store(true)
	}()
	return submitted
}

func (s *Session) emit(ctx context.Context, m transport.Message) {
	if s.closed.Load() || s.out == nil {
		logging.Debugw("session: dropping event for closed session", "session_id", s.ID, "event", m.Event)
		return
	}
	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := s.out.Send(sctx, m); err != nil {
		logging.Warnw("session: send failed", "session_id", s.ID, "event", m.Event, "err", err)
		return
	}
	s.metrics.RecordEvent(m.Event)
}
