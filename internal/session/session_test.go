package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"livestream-studio/internal/encoder"
	"livestream-studio/internal/events"
	"livestream-studio/internal/models"
	"livestream-studio/internal/surface"
)

type fakeStream struct {
	closed atomic.Bool
	audio  string
}

func (s *fakeStream) Read([]byte) (int, error) { return 0, io.EOF }
func (s *fakeStream) Close() error             { s.closed.Store(true); return nil }
func (s *fakeStream) Format() string           { return surface.FormatMJPEG }
func (s *fakeStream) AudioSource() string      { return s.audio }

type fakeSurface struct {
	mu          sync.Mutex
	calls       []string
	launchErr   error
	navigateErr error
	captureErr  error
	// blockLaunch makes Launch wait for ctx cancellation.
	blockLaunch bool
	launched    chan struct{}
	stream      *fakeStream
	snapshot    []byte
	captureOpts surface.CaptureOptions
	closes      int
	// closeGate, when set, holds Close until it is closed.
	closeGate chan struct{}
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{launched: make(chan struct{}, 1), stream: &fakeStream{}}
}

func (f *fakeSurface) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeSurface) Launch(ctx context.Context, _ surface.Viewport) error {
	f.record("launch")
	select {
	case f.launched <- struct{}{}:
	default:
	}
	if f.blockLaunch {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.launchErr
}

func (f *fakeSurface) NavigateAndWaitReady(context.Context, string, time.Duration) error {
	f.record("navigate")
	return f.navigateErr
}

func (f *fakeSurface) CaptureMediaStream(_ context.Context, opts surface.CaptureOptions) (surface.MediaStream, error) {
	f.record("capture")
	f.mu.Lock()
	f.captureOpts = opts
	f.mu.Unlock()
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	return f.stream, nil
}

func (f *fakeSurface) TakeSnapshot(context.Context, surface.Region) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeSurface) Close() error {
	f.mu.Lock()
	f.closes++
	f.calls = append(f.calls, "close")
	gate := f.closeGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return nil
}

func (f *fakeSurface) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeSurface) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeProcess struct {
	done     chan struct{}
	exitOnce sync.Once
	mu       sync.Mutex
	status   encoder.ExitStatus
	kills    atomic.Int32
	piped    atomic.Bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) PipeInputFrom(io.Reader) { p.piped.Store(true) }
func (p *fakeProcess) Done() <-chan struct{}   { return p.done }

func (p *fakeProcess) ExitStatus() encoder.ExitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *fakeProcess) ExitErr() error {
	status := p.ExitStatus()
	if status.Clean || status.Killed {
		return nil
	}
	return &encoder.ExitError{Code: status.Code}
}

func (p *fakeProcess) exit(status encoder.ExitStatus) {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.status = status
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *fakeProcess) Kill() error {
	p.kills.Add(1)
	p.exit(encoder.ExitStatus{Code: -1, Killed: true})
	return nil
}

type fakePipeline struct {
	mu          sync.Mutex
	spawnErr    error
	spawns      int
	proc        *fakeProcess
	diagnostics io.Writer
	args        []string
	// spawnGate, when set, holds Spawn until it is closed.
	spawnGate chan struct{}
}

func (p *fakePipeline) BuildArguments(cfg models.SessionConfig, in encoder.Input) ([]string, error) {
	return encoder.BuildArguments(encoder.Options{}, cfg, in)
}

func (p *fakePipeline) Spawn(_ context.Context, args []string, diagnostics io.Writer) (Process, error) {
	p.mu.Lock()
	gate := p.spawnGate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spawns++
	p.args = args
	if p.spawnErr != nil {
		return nil, p.spawnErr
	}
	p.proc = newFakeProcess()
	p.diagnostics = diagnostics
	return p.proc, nil
}

func (p *fakePipeline) spawnCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spawns
}

func (p *fakePipeline) current() (*fakeProcess, io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.proc, p.diagnostics
}

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]events.Event
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{events: make(map[string][]events.Event)}
}

func (p *recordingPublisher) Publish(topic string, evt events.Event) {
	p.mu.Lock()
	p.events[topic] = append(p.events[topic], evt)
	p.mu.Unlock()
}

func (p *recordingPublisher) topic(name string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events[name]...)
}

func (p *recordingPublisher) count(name string, typ events.Type) int {
	n := 0
	for _, evt := range p.topic(name) {
		if evt.Type == typ {
			n++
		}
	}
	return n
}

type countingMetrics struct {
	started, stopped, failed, exited, previews atomic.Int32
}

func (m *countingMetrics) SessionStarted()           { m.started.Add(1) }
func (m *countingMetrics) SessionStopped(string)     { m.stopped.Add(1) }
func (m *countingMetrics) SessionStartFailed(string) { m.failed.Add(1) }
func (m *countingMetrics) EncoderExited(int)         { m.exited.Add(1) }
func (m *countingMetrics) PreviewFrame()             { m.previews.Add(1) }

type harness struct {
	surface   *fakeSurface
	pipeline  *fakePipeline
	publisher *recordingPublisher
	metrics   *countingMetrics
	summaries chan Summary
}

func newHarness() *harness {
	return &harness{
		surface:   newFakeSurface(),
		pipeline:  &fakePipeline{},
		publisher: newRecordingPublisher(),
		metrics:   &countingMetrics{},
		summaries: make(chan Summary, 4),
	}
}

func (h *harness) session(settings Settings) *Session {
	return New("stream_test", validConfig(), settings, Dependencies{
		Surface:    h.surface,
		Pipeline:   h.pipeline,
		Publisher:  h.publisher,
		Metrics:    h.metrics,
		OnTerminal: func(s Summary) { h.summaries <- s },
	})
}

func validConfig() models.SessionConfig {
	return models.SessionConfig{
		DestinationKey: "abc123",
		Resolution:     "1280x720",
		FrameRate:      30,
		Bitrate:        "2500k",
	}
}

func statusSequence(evts []events.Event) []string {
	var out []string
	for _, evt := range evts {
		switch evt.Type {
		case events.TypeStatusChange:
			out = append(out, string(evt.Status))
		case events.TypeEnded:
			out = append(out, "ended:"+evt.Reason)
		case events.TypeWarning:
			out = append(out, "warning")
		}
	}
	return out
}

func waitForStatus(t *testing.T, sess *Session, want models.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess.Status().Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session did not reach %s, still %s", want, sess.Status().Status)
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness()
	sess := h.session(Settings{CompositorURL: "http://127.0.0.1:8080/compositor"})

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap := sess.Status()
	if snap.Status != models.StatusStreaming {
		t.Fatalf("expected streaming, got %s", snap.Status)
	}
	if snap.StartedAt == nil {
		t.Fatal("expected startedAt while streaming")
	}
	if snap.Config.KeyFingerprint == "" || strings.Contains(snap.Config.KeyFingerprint, "abc123") {
		t.Fatalf("unexpected key fingerprint %q", snap.Config.KeyFingerprint)
	}
	proc, _ := h.pipeline.current()
	if !proc.piped.Load() {
		t.Fatal("expected capture stream piped into the encoder")
	}

	if err := sess.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := sess.Status(); got.Status != models.StatusStopped || got.StartedAt != nil || got.Uptime != 0 {
		t.Fatalf("unexpected snapshot after stop: %+v", got)
	}
	if proc.kills.Load() != 1 {
		t.Fatalf("expected encoder killed once, got %d", proc.kills.Load())
	}
	if !h.surface.stream.closed.Load() {
		t.Fatal("expected capture stream closed")
	}
	if h.surface.closeCount() != 1 {
		t.Fatalf("expected surface closed once, got %d", h.surface.closeCount())
	}

	want := []string{"starting", "streaming", "stopping", "stopped", "ended:stopped"}
	if got := statusSequence(h.publisher.topic("stream_test")); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected event sequence %v", got)
	}
	summary := <-h.summaries
	if summary.Reason != ReasonStopped || summary.ExitCode == nil {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if h.metrics.started.Load() != 1 || h.metrics.stopped.Load() != 1 {
		t.Fatalf("unexpected metrics started=%d stopped=%d", h.metrics.started.Load(), h.metrics.stopped.Load())
	}
	if h.publisher.count(events.GlobalTopic, events.TypeLog) == 0 {
		t.Fatal("expected log lines mirrored to the global topic")
	}
}

func TestStartWhileStreamingFails(t *testing.T) {
	h := newHarness()
	sess := h.session(Settings{})
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sess.Stop(context.Background())

	err := sess.Start(context.Background())
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if h.pipeline.spawnCount() != 1 {
		t.Fatalf("expected one spawn, got %d", h.pipeline.spawnCount())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness()
	sess := h.session(Settings{})

	if err := sess.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on idle: %v", err)
	}
	if len(h.publisher.topic("stream_test")) != 0 {
		t.Fatal("stop on idle session must not publish")
	}

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sess.Stop(context.Background()); err != nil {
				t.Errorf("Stop: %v", err)
			}
		}()
	}
	wg.Wait()
	if err := sess.Stop(context.Background()); err != nil {
		t.Fatalf("Stop after stop: %v", err)
	}

	if n := h.publisher.count("stream_test", events.TypeEnded); n != 1 {
		t.Fatalf("expected one ended event, got %d", n)
	}
	if h.surface.closeCount() != 1 {
		t.Fatalf("expected surface closed once, got %d", h.surface.closeCount())
	}
}

func TestRestartAfterStop(t *testing.T) {
	h := newHarness()
	sess := h.session(Settings{})
	for i := 0; i < 2; i++ {
		if err := sess.Start(context.Background()); err != nil {
			t.Fatalf("Start #%d: %v", i, err)
		}
		if err := sess.Stop(context.Background()); err != nil {
			t.Fatalf("Stop #%d: %v", i, err)
		}
	}
	if h.pipeline.spawnCount() != 2 || h.surface.closeCount() != 2 {
		t.Fatalf("expected two full lifecycles, spawns=%d closes=%d", h.pipeline.spawnCount(), h.surface.closeCount())
	}
}

func TestStartFailureStages(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name      string
		configure func(h *harness)
		wantCalls []string
		spawns    int
	}{
		{
			name:      "launch",
			configure: func(h *harness) { h.surface.launchErr = boom },
			wantCalls: []string{"launch", "close"},
		},
		{
			name:      "navigate",
			configure: func(h *harness) { h.surface.navigateErr = boom },
			wantCalls: []string{"launch", "navigate", "close"},
		},
		{
			name:      "capture",
			configure: func(h *harness) { h.surface.captureErr = boom },
			wantCalls: []string{"launch", "navigate", "capture", "close"},
		},
		{
			name:      "spawn",
			configure: func(h *harness) { h.pipeline.spawnErr = boom },
			wantCalls: []string{"launch", "navigate", "capture", "close"},
			spawns:    1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			tc.configure(h)
			sess := h.session(Settings{})

			err := sess.Start(context.Background())
			if !errors.Is(err, boom) {
				t.Fatalf("expected wrapped failure, got %v", err)
			}
			if got := sess.Status().Status; got != models.StatusStopped {
				t.Fatalf("expected stopped, got %s", got)
			}
			if got := h.surface.callLog(); strings.Join(got, ",") != strings.Join(tc.wantCalls, ",") {
				t.Fatalf("unexpected surface calls %v", got)
			}
			if h.pipeline.spawnCount() != tc.spawns {
				t.Fatalf("expected %d spawns, got %d", tc.spawns, h.pipeline.spawnCount())
			}
			if tc.name == "spawn" && !h.surface.stream.closed.Load() {
				t.Fatal("expected capture stream closed after spawn failure")
			}
			evts := h.publisher.topic("stream_test")
			last := evts[len(evts)-1]
			if last.Type != events.TypeEnded || last.Reason != ReasonStartFailed {
				t.Fatalf("expected terminal start-failed event, got %+v", last)
			}
			if h.metrics.failed.Load() != 1 || h.metrics.stopped.Load() != 0 {
				t.Fatalf("unexpected metrics failed=%d stopped=%d", h.metrics.failed.Load(), h.metrics.stopped.Load())
			}
			summary := <-h.summaries
			if !errors.Is(summary.Err, boom) {
				t.Fatalf("expected summary error, got %v", summary.Err)
			}
		})
	}
}

func TestEncoderExitTearsDown(t *testing.T) {
	h := newHarness()
	sess := h.session(Settings{})
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	proc, _ := h.pipeline.current()
	proc.exit(encoder.ExitStatus{Code: 1})

	waitForStatus(t, sess, models.StatusStopped)
	summary := <-h.summaries
	if summary.Reason != ReasonEncoderExit {
		t.Fatalf("expected encoder-exit reason, got %s", summary.Reason)
	}
	if summary.ExitCode == nil || *summary.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %v", summary.ExitCode)
	}
	if !errors.Is(summary.Err, encoder.ErrEncoderExit) {
		t.Fatalf("expected encoder exit error, got %v", summary.Err)
	}

	want := []string{"starting", "streaming", "warning", "stopping", "stopped", "ended:encoder-exit"}
	got := statusSequence(h.publisher.topic("stream_test"))
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected event sequence %v", got)
	}
	for _, evt := range h.publisher.topic("stream_test") {
		if evt.Type == events.TypeWarning && (evt.Warning.ExitCode == nil || *evt.Warning.ExitCode != 1) {
			t.Fatalf("expected warning with exit code 1, got %+v", evt.Warning)
		}
	}
	if h.surface.closeCount() != 1 {
		t.Fatalf("expected surface closed once, got %d", h.surface.closeCount())
	}
	if h.metrics.exited.Load() != 1 {
		t.Fatalf("expected encoder exit metric, got %d", h.metrics.exited.Load())
	}
	if err := sess.Stop(context.Background()); err != nil {
		t.Fatalf("Stop after exit: %v", err)
	}
	if n := h.publisher.count("stream_test", events.TypeEnded); n != 1 {
		t.Fatalf("expected one ended event, got %d", n)
	}
}

func TestCleanEncoderExitHasNoWarning(t *testing.T) {
	h := newHarness()
	sess := h.session(Settings{})
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	proc, _ := h.pipeline.current()
	proc.exit(encoder.ExitStatus{Clean: true})

	waitForStatus(t, sess, models.StatusStopped)
	if n := h.publisher.count("stream_test", events.TypeWarning); n != 0 {
		t.Fatalf("expected no warning, got %d", n)
	}
	summary := <-h.summaries
	if summary.Reason != ReasonEncoderExit || summary.Err != nil {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestStopDuringStart(t *testing.T) {
	h := newHarness()
	h.surface.blockLaunch = true
	sess := h.session(Settings{})

	startErr := make(chan error, 1)
	go func() { startErr <- sess.Start(context.Background()) }()
	<-h.surface.launched

	if err := sess.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	err := <-startErr
	if !errors.Is(err, ErrStartInterrupted) {
		t.Fatalf("expected ErrStartInterrupted, got %v", err)
	}
	if got := sess.Status().Status; got != models.StatusStopped {
		t.Fatalf("expected stopped, got %s", got)
	}
	if h.surface.closeCount() != 1 {
		t.Fatalf("expected surface closed, got %d", h.surface.closeCount())
	}
	if h.pipeline.spawnCount() != 0 {
		t.Fatal("encoder must not spawn after an interrupted launch")
	}
	evts := h.publisher.topic("stream_test")
	if last := evts[len(evts)-1]; last.Type != events.TypeEnded || last.Reason != ReasonStopped {
		t.Fatalf("expected ended:stopped last, got %+v", last)
	}
	if h.metrics.failed.Load() != 0 {
		t.Fatal("interrupted start must not count as a failure")
	}
}

func TestStatsFromDiagnostics(t *testing.T) {
	h := newHarness()
	sess := h.session(Settings{})
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sess.Stop(context.Background())

	_, diagnostics := h.pipeline.current()
	if _, err := io.WriteString(diagnostics, "frame=  100 fps= 30 q=28.0 size=1024kB time=00:00:03.33 bitrate=2500.5kbits/s speed=1x\r"); err != nil {
		t.Fatalf("write diagnostics: %v", err)
	}
	got := sess.Status().Stats
	if got.FPS != 30 || got.Bitrate != 2500.5 {
		t.Fatalf("unexpected stats %+v", got)
	}
	if n := h.publisher.count("stream_test", events.TypeStats); n != 1 {
		t.Fatalf("expected one stats event, got %d", n)
	}

	if _, err := io.WriteString(diagnostics, "Error while opening encoder\n"); err != nil {
		t.Fatalf("write diagnostics: %v", err)
	}
	found := false
	for _, evt := range h.publisher.topic(events.GlobalTopic) {
		if evt.Log != nil && evt.Log.Level == "warn" && strings.Contains(evt.Log.Message, "Error while opening encoder") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected error-like encoder output mirrored as a warning")
	}
}

func TestPreviewFramesStopBeforeTerminalEvent(t *testing.T) {
	h := newHarness()
	h.surface.snapshot = []byte("jpeg-bytes")
	sess := h.session(Settings{PreviewInterval: 5 * time.Millisecond})
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.publisher.count("stream_test", events.TypePreviewFrame) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no preview frame published")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := sess.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	evts := h.publisher.topic("stream_test")
	if last := evts[len(evts)-1]; last.Type != events.TypeEnded {
		t.Fatalf("expected ended to be the last event, got %s", last.Type)
	}
	stoppingSeen := false
	for _, evt := range evts {
		if evt.Type == events.TypeStatusChange && evt.Status == models.StatusStopping {
			stoppingSeen = true
		}
		if stoppingSeen && evt.Type == events.TypePreviewFrame {
			t.Fatal("preview frame published after teardown began")
		}
	}
	if h.metrics.previews.Load() == 0 {
		t.Fatal("expected preview metric")
	}
}

func TestStopHonoursContextWhileWaiting(t *testing.T) {
	h := newHarness()
	h.surface.blockLaunch = true
	h.surface.closeGate = make(chan struct{})
	sess := h.session(Settings{})

	go sess.Start(context.Background())
	<-h.surface.launched

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sess.Stop(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(h.surface.closeGate)
	// The cancelled start still tears down.
	waitForStatus(t, sess, models.StatusStopped)
}

func TestConcurrentStartsOnlyOneProceeds(t *testing.T) {
	h := newHarness()
	gate := make(chan struct{})
	h.pipeline.spawnGate = gate
	sess := h.session(Settings{})

	const callers = 8
	var (
		wg      sync.WaitGroup
		ready   sync.WaitGroup
		results = make(chan error, callers)
	)
	ready.Add(callers)
	release := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ready.Done()
			<-release
			results <- sess.Start(context.Background())
		}()
	}
	ready.Wait()
	close(release)

	// Every loser returns while the winner is held in Spawn.
	var rejected int
	for rejected < callers-1 {
		select {
		case err := <-results:
			if !errors.Is(err, ErrAlreadyRunning) {
				t.Fatalf("expected ErrAlreadyRunning, got %v", err)
			}
			rejected++
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d starts rejected", rejected)
		}
	}
	close(gate)
	wg.Wait()
	close(results)

	for err := range results {
		if err != nil {
			t.Fatalf("winning start failed: %v", err)
		}
	}
	if n := h.pipeline.spawnCount(); n != 1 {
		t.Fatalf("expected one spawn, got %d", n)
	}
	if got := sess.Status().Status; got != models.StatusStreaming {
		t.Fatalf("expected streaming, got %s", got)
	}
	if err := sess.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestPageAudioReachesEncoder(t *testing.T) {
	h := newHarness()
	h.surface.stream.audio = "studio_0a1b.monitor"
	sess := h.session(Settings{})
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sess.Stop(context.Background())

	h.pipeline.mu.Lock()
	joined := strings.Join(h.pipeline.args, " ")
	h.pipeline.mu.Unlock()
	if !strings.Contains(joined, "-f pulse -i studio_0a1b.monitor") {
		t.Fatalf("expected the page audio source in %q", joined)
	}
	if strings.Contains(joined, "anullsrc") {
		t.Fatalf("silence must not be mixed in when page audio is available: %q", joined)
	}

	h.surface.mu.Lock()
	opts := h.surface.captureOpts
	h.surface.mu.Unlock()
	if opts.FrameRate != 30 {
		t.Fatalf("expected capture at the session frame rate, got %d", opts.FrameRate)
	}
}
