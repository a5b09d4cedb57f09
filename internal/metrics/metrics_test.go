package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordersUpdateCollectors(t *testing.T) {
	m := New()
	m.RecordSessionOpened(1)
	m.RecordSessionOpened(2)
	m.RecordSessionClosed(1)
	m.RecordUtteranceDropped(DropBusy)
	m.RecordRemoteCall("recognize", "ok", 0.2)

	if got := testutil.ToFloat64(m.ActiveSessions); got != 1 {
		t.Fatalf("active sessions: want=1 got=%v", got)
	}
	if got := testutil.ToFloat64(m.SessionsOpened); got != 2 {
		t.Fatalf("sessions opened: want=2 got=%v", got)
	}
	if got := testutil.ToFloat64(m.UtterancesDropped.WithLabelValues(DropBusy)); got != 1 {
		t.Fatalf("busy drops: want=1 got=%v", got)
	}
	if got := testutil.ToFloat64(m.RemoteCalls.WithLabelValues("recognize", "ok")); got != 1 {
		t.Fatalf("remote calls: want=1 got=%v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordFrame()
	m.RecordEvent("server-ready")
	m.RecordRemoteCall("translate", "error", 1)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RecordFrame()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "interpreter_audio_frames_received_total 1") {
		t.Fatalf("frames counter missing from exposition:\n%s", body)
	}
}
