package metrics

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{path: "", want: "/"},
		{path: "/", want: "/"},
		{path: "/api/sessions", want: "/api/sessions"},
		{path: "/api/sessions/stream_abc/", want: "/api/sessions/:id"},
		{path: "/api/sessions/9b2c4e1f-6a7d-4f7e-8c1a-0d5b3e2f1a9c", want: "/api/sessions/:id"},
		{path: "api/history/123", want: "/api/history/:id"},
	}
	for _, tc := range cases {
		if got := normalizePath(tc.path); got != tc.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestObserveRequestAccumulates(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("get", "/api/sessions/stream_a", 200, 50*time.Millisecond)
	recorder.ObserveRequest("GET", "/api/sessions/stream_b", 200, 25*time.Millisecond)

	label := requestLabel{method: "GET", path: "/api/sessions/:id", status: "200"}
	if got := recorder.requestCount[label]; got != 2 {
		t.Fatalf("expected 2 requests, got %d", got)
	}
	if got := recorder.requestDuration[label]; got != 75*time.Millisecond {
		t.Fatalf("expected 75ms, got %s", got)
	}
}

func TestSessionLifecycleCounters(t *testing.T) {
	recorder := New()

	recorder.SessionStarted()
	recorder.SessionStarted()
	recorder.SessionStopped("stopped")
	recorder.SessionStopped("encoder-exit")
	recorder.SessionStopped("stopped")
	recorder.SessionStartFailed("launch")
	recorder.EncoderExited(1)
	recorder.PreviewFrame()

	if got := recorder.ActiveSessions(); got != 0 {
		t.Fatalf("gauge must not go negative, got %d", got)
	}
	events := recorder.SessionEventCounts()
	if events["start"] != 2 || events["stop"] != 3 || events["start_failed"] != 1 {
		t.Fatalf("unexpected events %+v", events)
	}
	if failures := recorder.StartFailureCounts(); failures["launch"] != 1 {
		t.Fatalf("unexpected failures %+v", failures)
	}

	recorder.SetDroppedEventsFunc(func() uint64 { return 7 })
	var buf bytes.Buffer
	recorder.Write(&buf)
	body := buf.String()
	for _, want := range []string{
		`studio_session_events_total{event="start"} 2`,
		`studio_session_stops_total{reason="encoder-exit"} 1`,
		`studio_session_stops_total{reason="stopped"} 2`,
		`studio_session_start_failures_total{stage="launch"} 1`,
		`studio_encoder_exits_total{code="1"} 1`,
		`studio_active_sessions 0`,
		`studio_preview_frames_total 1`,
		`studio_events_dropped_total 7`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in output:\n%s", want, body)
		}
	}
}

func TestRecorderConcurrentUse(t *testing.T) {
	recorder := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.SessionStarted()
			recorder.ObserveRequest(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)
			recorder.SessionStopped("shutdown")
		}()
	}
	wg.Wait()
	if recorder.ActiveSessions() != 0 {
		t.Fatalf("expected 0 active sessions, got %d", recorder.ActiveSessions())
	}
	if recorder.SessionEventCounts()["stop"] != 16 {
		t.Fatal("expected 16 stops")
	}
}

func TestHandlerServesTextFormat(t *testing.T) {
	recorder := New()
	recorder.SessionStarted()

	rr := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "studio_active_sessions 1") {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}

	recorder.Reset()
	if recorder.ActiveSessions() != 0 {
		t.Fatal("expected reset gauge")
	}
}
