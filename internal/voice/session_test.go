package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/live-interpreter/internal/metrics"
	"github.com/live-interpreter/internal/transport"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestRegistry(f *fakeCaps, m *metrics.Metrics) *Registry {
	return NewRegistry(f.caps(), RegistryOptions{
		MinFrames:   DefaultMinFrames,
		CallTimeout: time.Second,
		Metrics:     m,
	})
}

// Scenario: a configured session receives 25 frames and an end of speech.
func TestSessionTranslatesUtterance(t *testing.T) {
	f := newFakeCaps()
	r := newTestRegistry(f, nil)
	out := newFakeEmitter()
	s := r.Open(out)
	ctx := context.Background()

	if err := s.Handle(ctx, transport.ClientReady("de-DE", "en-US")); err != nil {
		t.Fatalf("client-ready: %v", err)
	}
	for i := 0; i < 25; i++ {
		if err := s.Handle(ctx, transport.Audio([]byte{byte(i), 0})); err != nil {
			t.Fatalf("audio: %v", err)
		}
	}
	if err := s.Handle(ctx, transport.EndOfSpeech()); err != nil {
		t.Fatalf("end-of-speech: %v", err)
	}
	s.Wait()

	got := out.eventNames()
	want := []string{transport.EventServerReady, transport.EventTranscriptPair, transport.EventAudioContent}
	if len(got) != len(want) {
		t.Fatalf("events: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: want=%s got=%s", i, want[i], got[i])
		}
	}
	if len(f.recognized[0].audio) != 50 {
		t.Fatalf("recognize got %d bytes, want 50", len(f.recognized[0].audio))
	}
	if f.recognized[0].audio[2] != 1 {
		t.Fatalf("frames out of order: %v", f.recognized[0].audio[:6])
	}
	pair := out.Events()[1]
	if pair.SourceText != "Hallo" || pair.TranslatedText != "Hello" {
		t.Fatalf("pair: %+v", pair)
	}
	if s.Buffered() != 0 {
		t.Fatalf("buffer not emptied")
	}
}

// Scenario: 10 frames is below the threshold and treated as noise.
func TestSessionDropsShortUtterance(t *testing.T) {
	f := newFakeCaps()
	m := metrics.New()
	r := newTestRegistry(f, m)
	out := newFakeEmitter()
	s := r.Open(out)

	appendFrames(s, 10)
	if s.EndOfSpeech() {
		t.Fatalf("short utterance should not be submitted")
	}
	s.Wait()
	if rec, _, _ := f.counts(); rec != 0 {
		t.Fatalf("recognize called %d times", rec)
	}
	if n := len(out.Events()); n != 0 {
		t.Fatalf("events: %v", out.eventNames())
	}
	if s.Buffered() != 0 {
		t.Fatalf("buffer should be cleared, has %d", s.Buffered())
	}
	if v := testutil.ToFloat64(m.UtterancesDropped.WithLabelValues(metrics.DropBelowThreshold)); v != 1 {
		t.Fatalf("dropped counter=%v", v)
	}
}

// Scenario: a second trigger arrives while the first utterance is in flight.
func TestSessionSingleFlight(t *testing.T) {
	f := newFakeCaps()
	f.gate = make(chan struct{})
	r := newTestRegistry(f, nil)
	s := r.Open(newFakeEmitter())

	appendFrames(s, 20)
	if !s.EndOfSpeech() {
		t.Fatalf("first trigger should submit")
	}
	waitStarted(t, f)
	if s.State() != StateSubmitting {
		t.Fatalf("state while recognizing: %s", s.State())
	}
	appendFrames(s, 30)
	if s.EndOfSpeech() {
		t.Fatalf("second trigger should be rejected while busy")
	}
	if s.Buffered() != 0 {
		t.Fatalf("rejected frames should be dropped")
	}
	close(f.gate)
	s.Wait()
	if rec, _, _ := f.counts(); rec != 1 {
		t.Fatalf("recognize called %d times, want 1", rec)
	}
}

// Scenario: the client disconnects with 22 frames buffered.
func TestRegistryCloseForcesDrainAndDiscardsLateResults(t *testing.T) {
	f := newFakeCaps()
	f.gate = make(chan struct{})
	m := metrics.New()
	r := newTestRegistry(f, m)
	out := newFakeEmitter()
	s := r.Open(out)

	appendFrames(s, 22)
	r.Close(s)
	r.Close(s)
	waitStarted(t, f)
	if _, ok := r.Get(s.ID); ok || r.Len() != 0 {
		t.Fatalf("session still registered")
	}
	if !s.Closed() {
		t.Fatalf("session should be closed")
	}

	close(f.gate)
	s.Wait()
	rec, tr, syn := f.counts()
	if rec != 1 || tr != 1 || syn != 1 {
		t.Fatalf("calls: recognize=%d translate=%d synthesize=%d", rec, tr, syn)
	}
	if n := len(out.Events()); n != 0 {
		t.Fatalf("late results reached a closed session: %v", out.eventNames())
	}
	if v := testutil.ToFloat64(m.SessionsClosed); v != 1 {
		t.Fatalf("sessions closed=%v", v)
	}
}

func TestRegistryCloseBelowThresholdStillDrains(t *testing.T) {
	f := newFakeCaps()
	r := newTestRegistry(f, nil)
	s := r.Open(newFakeEmitter())
	appendFrames(s, 3)
	r.Close(s)
	s.Wait()
	if rec, _, _ := f.counts(); rec != 1 {
		t.Fatalf("forced drain should bypass the threshold, recognize=%d", rec)
	}
}

func TestSessionRejectsInvalidMessages(t *testing.T) {
	r := newTestRegistry(newFakeCaps(), nil)
	s := r.Open(newFakeEmitter())
	ctx := context.Background()

	odd := transport.Message{Event: transport.EventAudio, Data: "AA=="}
	if err := s.Handle(ctx, odd); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("odd-length audio: want ErrInvalidInput got %v", err)
	}
	if err := s.Handle(ctx, transport.Message{Event: "bogus"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown event: want ErrInvalidInput got %v", err)
	}
	if s.Buffered() != 0 {
		t.Fatalf("invalid audio was buffered")
	}
}

func TestSessionConfigureKeepsInFlightLanguages(t *testing.T) {
	f := newFakeCaps()
	f.gate = make(chan struct{})
	r := newTestRegistry(f, nil)
	s := r.Open(newFakeEmitter())
	ctx := context.Background()

	if src, dst := s.Languages(); src != DefaultSourceLanguage || dst != DefaultTargetLanguage {
		t.Fatalf("defaults: %s %s", src, dst)
	}
	appendFrames(s, 20)
	s.EndOfSpeech()
	waitStarted(t, f)
	s.Configure(ctx, "fr-FR", "")
	close(f.gate)
	s.Wait()

	if tr := f.translated[0]; tr.src != "de" || tr.dst != "en" {
		t.Fatalf("in-flight utterance used new languages: %+v", tr)
	}
	if src, dst := s.Languages(); src != "fr-FR" || dst != DefaultTargetLanguage {
		t.Fatalf("configure: %s %s", src, dst)
	}
}

func TestSessionSendFailureIsNotFatal(t *testing.T) {
	f := newFakeCaps()
	r := newTestRegistry(f, nil)
	out := newFakeEmitter()
	out.err = ErrTransport
	s := r.Open(out)
	appendFrames(s, 20)
	if !s.EndOfSpeech() {
		t.Fatalf("submit failed")
	}
	s.Wait()
	if s.State() != StateIdle {
		t.Fatalf("state after failed sends: %s", s.State())
	}
	if _, _, syn := f.counts(); syn != 1 {
		t.Fatalf("pipeline should finish despite send errors")
	}
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	f := newFakeCaps()
	r := newTestRegistry(f, nil)

	const n = 8
	outs := make([]*fakeEmitter, n)
	sessions := make([]*Session, n)
	for i := range sessions {
		outs[i] = newFakeEmitter()
		sessions[i] = r.Open(outs[i])
	}
	var wg sync.WaitGroup
	for i := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			appendFrames(s, 20)
			s.EndOfSpeech()
			s.Wait()
		}(sessions[i])
	}
	wg.Wait()
	for i, out := range outs {
		if got := out.eventNames(); len(got) != 2 {
			t.Fatalf("session %d events: %v", i, got)
		}
	}
	if rec, _, _ := f.counts(); rec != n {
		t.Fatalf("recognize=%d want %d", rec, n)
	}
	if r.Len() != n {
		t.Fatalf("registry len=%d", r.Len())
	}
}

func TestRegistryShutdownWaitsForInFlight(t *testing.T) {
	f := newFakeCaps()
	f.gate = make(chan struct{})
	r := newTestRegistry(f, nil)
	a := r.Open(newFakeEmitter())
	b := r.Open(newFakeEmitter())
	appendFrames(a, 5)
	appendFrames(b, 5)

	done := make(chan error, 1)
	go func() { done <- r.Shutdown(context.Background()) }()
	waitStarted(t, f)
	waitStarted(t, f)
	select {
	case <-done:
		t.Fatalf("shutdown returned with utterances in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(f.gate)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("shutdown did not finish")
	}
	if r.Len() != 0 {
		t.Fatalf("sessions left after shutdown: %d", r.Len())
	}
}

func TestRegistryShutdownDeliversFinalUtterance(t *testing.T) {
	f := newFakeCaps()
	r := newTestRegistry(f, nil)
	out := newFakeEmitter()
	s := r.Open(out)
	appendFrames(s, 25)

	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	rec, tr, syn := f.counts()
	if rec != 1 || tr != 1 || syn != 1 {
		t.Fatalf("calls: recognize=%d translate=%d synthesize=%d", rec, tr, syn)
	}
	got := out.eventNames()
	if len(got) != 2 || got[0] != transport.EventTranscriptPair || got[1] != transport.EventAudioContent {
		t.Fatalf("events=%v want [transcript-pair audioContent]", got)
	}

	// audio arriving after the shutdown drain is ignored
	appendFrames(s, 25)
	if s.EndOfSpeech() || s.Buffered() != 0 {
		t.Fatalf("draining session accepted new audio")
	}
	deadline := time.Now().Add(2 * time.Second)
	for !s.Closed() {
		if time.Now().After(deadline) {
			t.Fatalf("session not closed after its final utterance")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegistryShutdownHonorsDeadline(t *testing.T) {
	f := newFakeCaps()
	f.gate = make(chan struct{})
	defer close(f.gate)
	r := newTestRegistry(f, nil)
	appendFrames(r.Open(newFakeEmitter()), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded got %v", err)
	}
}
