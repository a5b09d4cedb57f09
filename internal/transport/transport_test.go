package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDecodeClientEvents(t *testing.T) {
	m, err := Decode([]byte(`{"event":"client-ready","sourceLanguage":"fr-FR","targetLanguage":"es-ES"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Event != EventClientReady || m.SourceLanguage != "fr-FR" || m.TargetLanguage != "es-ES" {
		t.Fatalf("unexpected message: %+v", m)
	}

	m, err = Decode([]byte(`{"event":"audio","data":"AAABAA=="}`))
	if err != nil {
		t.Fatalf("Decode audio: %v", err)
	}
	pcm, err := m.PCM()
	if err != nil {
		t.Fatalf("PCM: %v", err)
	}
	if len(pcm) != 4 || pcm[2] != 1 {
		t.Fatalf("unexpected pcm: %v", pcm)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, in := range []string{`not json`, `{}`, `{"data":"AA=="}`} {
		if _, err := Decode([]byte(in)); !errors.Is(err, ErrInvalidMessage) {
			t.Fatalf("Decode(%q): want ErrInvalidMessage got %v", in, err)
		}
	}
	odd := Message{Event: EventAudio, Data: "AA=="}
	if _, err := odd.PCM(); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("odd-length audio should be rejected, got %v", err)
	}
	bad := Message{Event: EventAudio, Data: "%%%"}
	if _, err := bad.PCM(); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("bad base64 should be rejected, got %v", err)
	}
}

func TestTranscriptPairKeepsEmptyTranslation(t *testing.T) {
	b, err := json.Marshal(TranscriptPair("Hallo", ""))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out map[string]interface{}
	_ = json.Unmarshal(b, &out)
	if _, ok := out["translatedText"]; !ok {
		t.Fatalf("translatedText missing: %s", b)
	}
	b, _ = json.Marshal(ServerReady())
	if string(b) != `{"event":"server-ready"}` {
		t.Fatalf("server-ready encoding: %s", b)
	}
}

// echoServer upgrades and writes every received message back to the client.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewConn(ws)
		defer c.Close()
		for {
			m, err := c.Read()
			if err != nil {
				return
			}
			if pcm, perr := m.PCM(); perr == nil && m.Event == EventAudio {
				m = Audio(pcm)
			}
			if err := c.Send(context.Background(), m); err != nil {
				return
			}
		}
	}))
}

func TestConnRoundTripPreservesOrder(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, srv.URL)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	sent := []Message{ClientReady("de-DE", "en-US"), Audio([]byte{1, 0, 2, 0}), EndOfSpeech()}
	for _, m := range sent {
		if err := c.Send(ctx, m); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if err := c.SendBinary(ctx, []byte{3, 0}); err != nil {
		t.Fatalf("SendBinary: %v", err)
	}
	want := []string{EventClientReady, EventAudio, EventEndOfSpeech, EventAudio}
	for i, ev := range want {
		m, err := c.Read()
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		if m.Event != ev {
			t.Fatalf("message %d: want=%s got=%s", i, ev, m.Event)
		}
	}
}

func TestSendAfterCloseIsNoop(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()
	c, err := Dial(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Send(context.Background(), ServerReady()); err != nil {
		t.Fatalf("send after close should be a no-op, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
