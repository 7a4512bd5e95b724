// Package metrics keeps in-process counters and renders them in the
// Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates HTTP and session lifecycle metrics. It satisfies the
// session package's Metrics interface.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	sessionEvents   map[string]uint64
	stopReasons     map[string]uint64
	startFailures   map[string]uint64
	encoderExits    map[string]uint64
	activeSessions  atomic.Int64
	previewFrames   atomic.Uint64

	// droppedEvents reports events lost to slow observers; set by the
	// caller that owns the broadcaster.
	droppedEvents func() uint64
}

var defaultRecorder = New()

// New constructs an empty Recorder.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		sessionEvents:   make(map[string]uint64),
		stopReasons:     make(map[string]uint64),
		startFailures:   make(map[string]uint64),
		encoderExits:    make(map[string]uint64),
	}
}

// Default returns the process-wide recorder.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and duration by method,
// normalized path and status.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: strconv.Itoa(status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// SessionStarted records a session reaching streaming.
func (r *Recorder) SessionStarted() {
	r.increment(r.sessionEvents, "start")
	r.activeSessions.Add(1)
}

// SessionStopped records the end of a session that had reached streaming.
func (r *Recorder) SessionStopped(reason string) {
	r.increment(r.sessionEvents, "stop")
	r.increment(r.stopReasons, reason)
	decrementGauge(&r.activeSessions)
}

// SessionStartFailed records a failed start by the stage that failed.
func (r *Recorder) SessionStartFailed(stage string) {
	r.increment(r.sessionEvents, "start_failed")
	r.increment(r.startFailures, stage)
}

// EncoderExited records an encoder exit that was not caused by a kill.
func (r *Recorder) EncoderExited(code int) {
	r.increment(r.encoderExits, strconv.Itoa(code))
}

// PreviewFrame counts published preview images.
func (r *Recorder) PreviewFrame() {
	r.previewFrames.Add(1)
}

// SetDroppedEventsFunc installs the source for the dropped events counter.
func (r *Recorder) SetDroppedEventsFunc(fn func() uint64) {
	r.mu.Lock()
	r.droppedEvents = fn
	r.mu.Unlock()
}

func (r *Recorder) increment(counter map[string]uint64, key string) {
	key = normalizeName(key)
	r.mu.Lock()
	counter[key]++
	r.mu.Unlock()
}

// ActiveSessions exposes the streaming sessions gauge.
func (r *Recorder) ActiveSessions() int64 {
	return r.activeSessions.Load()
}

// SessionEventCounts returns a copy of the lifecycle event counters.
func (r *Recorder) SessionEventCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyCounts(r.sessionEvents)
}

// StartFailureCounts returns a copy of the start failure counters by stage.
func (r *Recorder) StartFailureCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyCounts(r.startFailures)
}

// Reset clears every counter. Intended for tests.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.sessionEvents = make(map[string]uint64)
	r.stopReasons = make(map[string]uint64)
	r.startFailures = make(map[string]uint64)
	r.encoderExits = make(map[string]uint64)
	r.activeSessions.Store(0)
	r.previewFrames.Store(0)
}

// Handler serves the recorder in Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics with label sets sorted for stable output.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()

	fmt.Fprintln(w, "# HELP studio_http_requests_total Total number of HTTP requests processed")
	fmt.Fprintln(w, "# TYPE studio_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "studio_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n",
			label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP studio_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE studio_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "studio_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n",
			label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	writeCounter(w, "studio_session_events_total", "Session lifecycle events by type", "event", r.sessionEvents)
	writeCounter(w, "studio_session_stops_total", "Streaming sessions stopped by reason", "reason", r.stopReasons)
	writeCounter(w, "studio_session_start_failures_total", "Failed session starts by stage", "stage", r.startFailures)
	writeCounter(w, "studio_encoder_exits_total", "Encoder exits not caused by a stop, by exit code", "code", r.encoderExits)

	fmt.Fprintln(w, "# HELP studio_active_sessions Current number of streaming sessions")
	fmt.Fprintln(w, "# TYPE studio_active_sessions gauge")
	fmt.Fprintf(w, "studio_active_sessions %d\n", r.activeSessions.Load())

	fmt.Fprintln(w, "# HELP studio_preview_frames_total Preview images published")
	fmt.Fprintln(w, "# TYPE studio_preview_frames_total counter")
	fmt.Fprintf(w, "studio_preview_frames_total %d\n", r.previewFrames.Load())

	if r.droppedEvents != nil {
		fmt.Fprintln(w, "# HELP studio_events_dropped_total Events dropped because an observer fell behind")
		fmt.Fprintln(w, "# TYPE studio_events_dropped_total counter")
		fmt.Fprintf(w, "studio_events_dropped_total %d\n", r.droppedEvents())
	}
}

func writeCounter(w io.Writer, name, help, labelName string, counts map[string]uint64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(w, "%s{%s=\"%s\"} %d\n", name, labelName, key, counts[key])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// normalizePath collapses identifier-like segments so session ids do not
// explode label cardinality.
func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part != "" && looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if strings.HasPrefix(segment, "stream_") || len(segment) >= 16 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// Handler exposes the default recorder.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
