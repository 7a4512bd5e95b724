package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRespectsCustomWriter(t *testing.T) {
	var buf bytes.Buffer

	logger := New(Config{Writer: &buf})
	logger.Info("custom writer")

	if buf.Len() == 0 {
		t.Fatalf("expected output in custom writer, got none")
	}
}

func TestResolveFormat(t *testing.T) {
	var buf bytes.Buffer
	testCases := []struct {
		input    string
		expected LogFormat
	}{
		{input: "text", expected: FormatText},
		{input: " JSON ", expected: FormatJSON},
		{input: "auto", expected: FormatJSON},
		{input: "", expected: FormatJSON},
		{input: "yaml", expected: FormatJSON},
	}
	for _, tc := range testCases {
		if got := resolveFormat(tc.input, &buf); got != tc.expected {
			t.Errorf("resolveFormat(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestAutoFormatWritesJSONToBuffers(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Writer: &buf, Format: "auto"}).Info("hello")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("expected json output, got %q: %v", buf.String(), err)
	}
	if payload["msg"] != "hello" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected slog.Level
	}{
		{name: "debug", input: "debug", expected: slog.LevelDebug},
		{name: "warning", input: "warning", expected: slog.LevelWarn},
		{name: "warn", input: "warn", expected: slog.LevelWarn},
		{name: "error", input: "error", expected: slog.LevelError},
		{name: "info", input: "info", expected: slog.LevelInfo},
		{name: "empty", input: "", expected: slog.LevelInfo},
		{name: "mixed case", input: " DeBuG ", expected: slog.LevelDebug},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := parseLevel(tc.input).Level(); got != tc.expected {
				t.Fatalf("expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	WithComponent(logger, "encoder").Info("component set")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to unmarshal log output: %v", err)
	}
	if payload["component"] != "encoder" {
		t.Fatalf("expected component \"encoder\", got %v", payload["component"])
	}
	if got := WithComponent(nil, "anything"); got != nil {
		t.Fatalf("expected nil logger, got %v", got)
	}
}

func TestWithContextAnnotatesLogger(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithSessionID(ctx, " stream_1 ")
	ctx = ContextWithSessionID(ctx, "   ")

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	WithContext(ctx, logger).Info("hello")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to unmarshal log output: %v", err)
	}
	if payload["request_id"] != "req-1" {
		t.Fatalf("expected request_id to be set, got %v", payload["request_id"])
	}
	if payload["session_id"] != "stream_1" {
		t.Fatalf("expected session_id to be set, got %v", payload["session_id"])
	}
}

func TestInitSetsDefaultLogger(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	var buf bytes.Buffer
	logger := Init(Config{Writer: &buf, Format: string(FormatText), Level: "debug"})
	if logger != slog.Default() {
		t.Fatalf("expected Init to replace the default logger")
	}

	slog.Debug("hello world")
	if !strings.Contains(buf.String(), "hello world") {
		t.Fatalf("expected text output to include message, got %q", buf.String())
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	middleware := RequestLogger(RequestLoggerConfig{
		Logger: logger,
		Skip:   func(r *http.Request) bool { return r.URL.Path == "/healthz" },
	})
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"id":"stream_1"}`))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Fatalf("expected skipped request to be silent, got %q", buf.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode log entry: %v", err)
	}
	if payload["status"] != float64(http.StatusAccepted) {
		t.Fatalf("expected status %d, got %v", http.StatusAccepted, payload["status"])
	}
	if payload["remote_addr"] != "127.0.0.1:1234" {
		t.Fatalf("expected remote_addr to be recorded, got %v", payload["remote_addr"])
	}
	if payload["path"] != "/api/sessions" {
		t.Fatalf("expected path to be logged, got %v", payload["path"])
	}
	if payload["bytes"] != float64(len(`{"id":"stream_1"}`)) {
		t.Fatalf("expected response size to be logged, got %v", payload["bytes"])
	}
}

func TestMirrorHandler(t *testing.T) {
	var buf bytes.Buffer
	var mirrored []string
	base := New(Config{Writer: &buf, Level: "debug", Format: "json"})
	logger := slog.New(NewMirrorHandler(base.Handler(), slog.LevelWarn, func(level, message string) {
		mirrored = append(mirrored, level+":"+message)
	})).With("component", "test")

	logger.Info("quiet")
	logger.Warn("loud")
	logger.Error("louder")

	if got := strings.Join(mirrored, ","); got != "warn:loud,error:louder" {
		t.Fatalf("unexpected mirrored records %q", got)
	}
	if strings.Count(buf.String(), "\n") != 3 {
		t.Fatalf("expected every record in the base output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), `"component":"test"`) {
		t.Fatalf("expected attrs to reach the base handler, got %q", buf.String())
	}
}
