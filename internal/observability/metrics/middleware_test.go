package metrics

import (
	"bufio"
	"bytes"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPMiddlewareRecordsRequests(t *testing.T) {
	recorder := New()
	handler := HTTPMiddleware(recorder, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/stream_1f2e3d/stop", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var buf bytes.Buffer
	recorder.Write(&buf)

	expected := `studio_http_requests_total{method="POST",path="/api/sessions/:id/stop",status="418"} 1`
	if !strings.Contains(buf.String(), expected) {
		t.Fatalf("expected metrics output to contain %q, got %q", expected, buf.String())
	}
}

type hijackableWriter struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (w *hijackableWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.hijacked = true
	return nil, nil, nil
}

func TestResponseRecorderPreservesHijack(t *testing.T) {
	underlying := &hijackableWriter{ResponseRecorder: httptest.NewRecorder()}
	rr := NewResponseRecorder(underlying)

	if _, _, err := rr.Hijack(); err != nil {
		t.Fatalf("Hijack: %v", err)
	}
	if !underlying.hijacked {
		t.Fatal("expected hijack to reach the underlying writer")
	}

	plain := NewResponseRecorder(httptest.NewRecorder())
	if _, _, err := plain.Hijack(); err != http.ErrNotSupported {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
	if plain.Status() != http.StatusOK {
		t.Fatalf("expected default status 200, got %d", plain.Status())
	}
}

func TestResponseRecorderKeepsFirstStatusAndCountsBytes(t *testing.T) {
	underlying := httptest.NewRecorder()
	rr := NewResponseRecorder(underlying)

	if _, err := rr.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// A late WriteHeader cannot change what the client already received.
	rr.WriteHeader(http.StatusInternalServerError)
	if _, err := rr.Write([]byte(" world")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if rr.Status() != http.StatusOK {
		t.Fatalf("expected implicit 200, got %d", rr.Status())
	}
	if rr.BytesWritten() != int64(len("hello world")) {
		t.Fatalf("unexpected byte count %d", rr.BytesWritten())
	}
	if rr.Unwrap() != underlying {
		t.Fatal("expected Unwrap to return the wrapped writer")
	}

	explicit := NewResponseRecorder(httptest.NewRecorder())
	explicit.WriteHeader(http.StatusNotFound)
	explicit.WriteHeader(http.StatusOK)
	if explicit.Status() != http.StatusNotFound {
		t.Fatalf("expected first status to stick, got %d", explicit.Status())
	}
}

func TestHijackRecordsSwitchingProtocols(t *testing.T) {
	rr := NewResponseRecorder(&hijackableWriter{ResponseRecorder: httptest.NewRecorder()})
	if _, _, err := rr.Hijack(); err != nil {
		t.Fatalf("Hijack: %v", err)
	}
	if rr.Status() != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101 after hijack, got %d", rr.Status())
	}
}
