package voice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/live-interpreter/internal/transport"
)

// fakeEmitter records every event it is asked to send.
type fakeEmitter struct {
	mu     sync.Mutex
	events []transport.Message
	ch     chan transport.Message
	err    error
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{ch: make(chan transport.Message, 64)}
}

func (f *fakeEmitter) Send(_ context.Context, m transport.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, m)
	f.ch <- m
	return nil
}

func (f *fakeEmitter) Events() []transport.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.Message, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeEmitter) eventNames() []string {
	var names []string
	for _, m := range f.Events() {
		names = append(names, m.Event)
	}
	return names
}

type recognizeCall struct {
	audio    []byte
	language string
}

type translateCall struct {
	text, src, dst string
}

// fakeCaps implements all three capabilities. Each stage can be overridden;
// gate, when set, blocks Recognize until it is closed.
type fakeCaps struct {
	mu          sync.Mutex
	recognized  []recognizeCall
	translated  []translateCall
	synthesized []string

	segments    []string
	recognizeE  error
	translation string
	translateE  error
	audio       []byte
	synthE      error

	gate    chan struct{}
	started chan struct{}
}

func newFakeCaps() *fakeCaps {
	return &fakeCaps{
		segments:    []string{"Hallo"},
		translation: "Hello",
		audio:       []byte("ID3-mp3"),
		started:     make(chan struct{}, 16),
	}
}

func (f *fakeCaps) caps() Capabilities {
	return Capabilities{Recognizer: f, Translator: f, Synthesizer: f}
}

func (f *fakeCaps) Recognize(_ context.Context, audio []byte, language string) ([]string, error) {
	f.mu.Lock()
	f.recognized = append(f.recognized, recognizeCall{audio: audio, language: language})
	gate := f.gate
	segs, err := f.segments, f.recognizeE
	f.mu.Unlock()
	f.started <- struct{}{}
	if gate != nil {
		<-gate
	}
	return segs, err
}

func (f *fakeCaps) Translate(_ context.Context, text, src, dst string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.translated = append(f.translated, translateCall{text: text, src: src, dst: dst})
	return f.translation, f.translateE
}

func (f *fakeCaps) Synthesize(_ context.Context, text, _ string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synthesized = append(f.synthesized, text)
	return f.audio, f.synthE
}

func (f *fakeCaps) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recognized), len(f.translated), len(f.synthesized)
}

// fakeArchive keeps saved utterances and merged annotations in memory.
type fakeArchive struct {
	mu     sync.Mutex
	saved  []Utterance
	fields map[string]map[string]interface{}
}

func (a *fakeArchive) SaveUtterance(u Utterance) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, u)
	if a.fields == nil {
		a.fields = map[string]map[string]interface{}{}
	}
	a.fields[u.CorrelationID] = map[string]interface{}{}
	return nil
}

func (a *fakeArchive) Annotate(cid string, updates map[string]interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range updates {
		a.fields[cid][k] = v
	}
	return nil
}

func appendFrames(s *Session, count int) {
	for i := 0; i < count; i++ {
		s.AppendAudio([]byte{byte(i), 0})
	}
}

// waitStarted blocks until Recognize has been entered once.
func waitStarted(t *testing.T, f *fakeCaps) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("recognize was not called")
	}
}
