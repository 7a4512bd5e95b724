// Package session runs broadcast sessions: one rendering surface feeding one
// encoder process, with telemetry and previews fanned out as events.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"livestream-studio/internal/encoder"
	"livestream-studio/internal/events"
	"livestream-studio/internal/models"
	"livestream-studio/internal/preview"
	"livestream-studio/internal/stats"
	"livestream-studio/internal/surface"
)

// Teardown reasons carried by the ended event and history.
const (
	ReasonStopped     = "stopped"
	ReasonEncoderExit = "encoder-exit"
	ReasonStartFailed = "start-failed"
	ReasonShutdown    = "shutdown"
)

// Start stages reported when acquisition fails.
const (
	stageLaunch   = "launch"
	stageNavigate = "navigate"
	stageCapture  = "capture"
	stageSpawn    = "spawn"
	stageStart    = "start"
)

var encoderErrorLine = regexp.MustCompile(`(?i)\b(error|invalid|failed|could not)\b`)

// Settings are the process-wide knobs applied to every session.
type Settings struct {
	CompositorURL     string
	NavigationTimeout time.Duration
	// CaptureTimeout bounds the capture attach step. Zero leaves it bounded
	// only by the start context.
	CaptureTimeout    time.Duration
	CaptureMode       surface.CaptureMode
	ScreencastQuality int
	PreviewInterval   time.Duration
	PreviewRegion     surface.Region
}

// Dependencies are the collaborators owned by or shared with one session.
type Dependencies struct {
	Surface   Surface
	Pipeline  Pipeline
	Publisher Publisher
	Metrics   Metrics
	Logger    *slog.Logger
	// OnTerminal runs after the terminal events are published and before
	// Stop returns.
	OnTerminal func(Summary)
}

// Summary describes a finished lifecycle.
type Summary struct {
	ID        string
	Config    models.SessionConfig
	StartedAt time.Time
	EndedAt   time.Time
	Reason    string
	Stats     models.Stats
	ExitCode  *int
	Err       error
}

// Session is the state machine for one broadcast. The mutex guards status
// and the resource handles and is never held across I/O. Handles are set
// only while the session is starting, streaming or tearing down.
type Session struct {
	id       string
	cfg      models.SessionConfig
	settings Settings
	deps     Dependencies
	logger   *slog.Logger

	mu            sync.Mutex
	status        models.Status
	startedAt     time.Time
	stats         models.Stats
	surfaceLive   bool
	stream        surface.MediaStream
	proc          Process
	sampler       *preview.Sampler
	statsAttached bool

	startCancel   context.CancelFunc
	startDone     chan struct{}
	stopRequested bool

	teardownDone   chan struct{}
	teardownReason string
	teardownCause  error
	lifecycleStart time.Time
}

// New builds an idle session. cfg should already be validated.
func New(id string, cfg models.SessionConfig, settings Settings, deps Dependencies) *Session {
	if deps.Publisher == nil {
		deps.Publisher = nopPublisher{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if settings.NavigationTimeout <= 0 {
		settings.NavigationTimeout = surface.DefaultNavigationTimeout
	}
	if settings.CaptureMode == "" {
		settings.CaptureMode = surface.CaptureScreencast
	}
	return &Session{
		id:       id,
		cfg:      cfg.WithDefaults(),
		settings: settings,
		deps:     deps,
		logger:   logger.With("session_id", id, "key_fingerprint", encoder.Fingerprint(cfg.DestinationKey)),
		status:   models.StatusIdle,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Config returns the session config with defaults applied.
func (s *Session) Config() models.SessionConfig {
	return s.cfg
}

// Start acquires the surface and the encoder and begins streaming. Any
// failure tears down whatever was acquired before the error is returned.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if !s.status.Startable() {
		status := s.status
		s.mu.Unlock()
		return fmt.Errorf("%w: session %s is %s", ErrAlreadyRunning, s.id, status)
	}
	startCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.status = models.StatusStarting
	s.startCancel = cancel
	s.startDone = done
	s.stopRequested = false
	s.stats = models.Stats{}
	s.teardownReason = ""
	s.teardownCause = nil
	s.lifecycleStart = time.Now().UTC()
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.startCancel = nil
		s.mu.Unlock()
		close(done)
	}()

	s.deps.Publisher.Publish(s.id, events.StatusChanged(s.id, models.StatusStarting))
	s.log(slog.LevelInfo, "session starting",
		"resolution", s.cfg.Resolution, "framerate", s.cfg.FrameRate, "bitrate", s.cfg.Bitrate)

	stage, err := s.acquire(startCtx)
	if err != nil {
		s.mu.Lock()
		interrupted := s.stopRequested
		s.mu.Unlock()
		reason := ReasonStartFailed
		if interrupted {
			reason = ReasonStopped
			err = fmt.Errorf("%w: %w", ErrStartInterrupted, err)
		} else {
			s.deps.Metrics.SessionStartFailed(stage)
			s.log(slog.LevelError, "session start failed", "stage", stage, "error", err)
		}
		s.teardown(reason, err)
		return fmt.Errorf("start session %s: %w", s.id, err)
	}
	return nil
}

// acquire performs the start sequence in order and returns the failing stage.
func (s *Session) acquire(ctx context.Context) (string, error) {
	// New applied WithDefaults, so the resolution always parses.
	res, _ := models.ParseResolution(s.cfg.Resolution)

	// Close is safe after a partial launch, so the surface counts as held
	// from here on.
	s.mu.Lock()
	s.surfaceLive = true
	s.mu.Unlock()
	if err := s.deps.Surface.Launch(ctx, surface.Viewport{Width: res.Width, Height: res.Height}); err != nil {
		return stageLaunch, err
	}
	if err := s.deps.Surface.NavigateAndWaitReady(ctx, s.settings.CompositorURL, s.settings.NavigationTimeout); err != nil {
		return stageNavigate, err
	}

	captureCtx := ctx
	if s.settings.CaptureTimeout > 0 {
		var cancel context.CancelFunc
		captureCtx, cancel = context.WithTimeout(ctx, s.settings.CaptureTimeout)
		defer cancel()
	}
	stream, err := s.deps.Surface.CaptureMediaStream(captureCtx, surface.CaptureOptions{
		Mode:      s.settings.CaptureMode,
		Quality:   s.settings.ScreencastQuality,
		Timeout:   s.settings.CaptureTimeout,
		FrameRate: s.cfg.FrameRate,
	})
	if err != nil {
		return stageCapture, err
	}
	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()

	args, err := s.deps.Pipeline.BuildArguments(s.cfg, encoder.Input{AudioSource: stream.AudioSource()})
	if err != nil {
		return stageSpawn, err
	}
	proc, err := s.deps.Pipeline.Spawn(ctx, args, stats.NewLineWriter(s.handleDiagnosticLine))
	if err != nil {
		return stageSpawn, err
	}
	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()

	proc.PipeInputFrom(stream)

	s.mu.Lock()
	s.statsAttached = true
	s.mu.Unlock()

	sampler := preview.New(preview.Config{
		Interval: s.settings.PreviewInterval,
		Region:   s.settings.PreviewRegion,
	}, s.deps.Surface, s.isStreaming, s.emitPreview)
	s.mu.Lock()
	s.sampler = sampler
	s.mu.Unlock()
	sampler.Start(context.Background())

	if err := ctx.Err(); err != nil {
		return stageStart, err
	}

	s.mu.Lock()
	s.status = models.StatusStreaming
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()
	s.deps.Publisher.Publish(s.id, events.StatusChanged(s.id, models.StatusStreaming))
	s.deps.Metrics.SessionStarted()
	s.log(slog.LevelInfo, "session streaming")

	go s.watchEncoder(proc)
	return "", nil
}

// Stop tears the session down. It is a no-op on an idle or stopped session,
// waits for a teardown already in progress, and interrupts a start in
// progress. ctx only bounds the wait; teardown itself always completes.
func (s *Session) Stop(ctx context.Context) error {
	return s.stop(ctx, ReasonStopped)
}

func (s *Session) stop(ctx context.Context, reason string) error {
	for {
		s.mu.Lock()
		switch s.status {
		case models.StatusIdle, models.StatusStopped:
			s.mu.Unlock()
			return nil
		case models.StatusStopping:
			done := s.teardownDone
			s.mu.Unlock()
			return wait(ctx, done)
		case models.StatusStarting:
			cancel := s.startCancel
			done := s.startDone
			s.stopRequested = true
			s.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			if err := wait(ctx, done); err != nil {
				return err
			}
			// Start either tore down or reached streaming; look again.
		case models.StatusStreaming:
			claimed := s.claimTeardownLocked(reason, nil)
			done := s.teardownDone
			s.mu.Unlock()
			if claimed {
				s.release()
				return nil
			}
			return wait(ctx, done)
		default:
			s.mu.Unlock()
			return nil
		}
	}
}

// Status returns a point-in-time snapshot without side effects.
func (s *Session) Status() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := models.Snapshot{
		ID:     s.id,
		Status: s.status,
		Stats:  s.stats,
		Config: publicConfig(s.cfg),
	}
	if s.status == models.StatusStreaming && !s.startedAt.IsZero() {
		started := s.startedAt
		snap.StartedAt = &started
		snap.Uptime = time.Since(started)
	}
	return snap
}

func publicConfig(cfg models.SessionConfig) models.PublicConfig {
	return models.PublicConfig{
		KeyFingerprint:       encoder.Fingerprint(cfg.DestinationKey),
		Resolution:           cfg.Resolution,
		FrameRate:            cfg.FrameRate,
		Bitrate:              cfg.Bitrate,
		Preset:               cfg.Preset,
		HardwareAcceleration: cfg.HardwareAcceleration,
	}
}

func (s *Session) teardown(reason string, cause error) {
	s.mu.Lock()
	claimed := s.claimTeardownLocked(reason, cause)
	done := s.teardownDone
	s.mu.Unlock()
	if claimed {
		s.release()
		return
	}
	if done != nil {
		<-done
	}
}

// claimTeardownLocked moves the session to stopping. It returns false when
// the session is already stopping or has nothing to release.
func (s *Session) claimTeardownLocked(reason string, cause error) bool {
	switch s.status {
	case models.StatusStarting, models.StatusStreaming:
	default:
		return false
	}
	s.status = models.StatusStopping
	s.teardownDone = make(chan struct{})
	s.teardownReason = reason
	s.teardownCause = cause
	return true
}

// release runs the fixed teardown order. Only the goroutine that claimed
// the teardown calls it.
func (s *Session) release() {
	s.deps.Publisher.Publish(s.id, events.StatusChanged(s.id, models.StatusStopping))

	s.mu.Lock()
	sampler := s.sampler
	s.sampler = nil
	s.mu.Unlock()
	if sampler != nil {
		sampler.Stop()
	}

	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()
	if stream != nil {
		if err := stream.Close(); err != nil {
			s.logger.Warn("close capture stream", "error", err)
		}
	}

	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.mu.Unlock()
	var exitCode *int
	if proc != nil {
		if err := proc.Kill(); err != nil {
			s.logger.Warn("kill encoder", "error", err)
		}
		status := proc.ExitStatus()
		code := status.Code
		exitCode = &code
		if !status.Killed {
			s.deps.Metrics.EncoderExited(code)
		}
	}

	s.mu.Lock()
	closeSurface := s.surfaceLive
	s.surfaceLive = false
	s.mu.Unlock()
	if closeSurface {
		if err := s.deps.Surface.Close(); err != nil {
			s.logger.Warn("close surface", "error", err)
		}
	}

	s.mu.Lock()
	startedAt := s.startedAt
	if startedAt.IsZero() {
		startedAt = s.lifecycleStart
	}
	wasStreaming := !s.startedAt.IsZero()
	summary := Summary{
		ID:        s.id,
		Config:    s.cfg,
		StartedAt: startedAt,
		EndedAt:   time.Now().UTC(),
		Reason:    s.teardownReason,
		Stats:     s.stats,
		ExitCode:  exitCode,
		Err:       s.teardownCause,
	}
	s.status = models.StatusStopped
	s.startedAt = time.Time{}
	s.statsAttached = false
	done := s.teardownDone
	s.mu.Unlock()

	if wasStreaming {
		s.deps.Metrics.SessionStopped(summary.Reason)
	}
	s.log(slog.LevelInfo, "session stopped", "reason", summary.Reason)
	s.deps.Publisher.Publish(s.id, events.StatusChanged(s.id, models.StatusStopped))
	s.deps.Publisher.Publish(s.id, events.Ended(s.id, summary.Reason))

	if s.deps.OnTerminal != nil {
		s.deps.OnTerminal(summary)
	}
	close(done)
}

// watchEncoder turns an encoder exit into a teardown. Exits caused by a
// teardown in progress are ignored.
func (s *Session) watchEncoder(proc Process) {
	<-proc.Done()

	s.mu.Lock()
	if s.proc != proc || s.status != models.StatusStreaming {
		s.mu.Unlock()
		return
	}
	exitErr := proc.ExitErr()
	claimed := s.claimTeardownLocked(ReasonEncoderExit, exitErr)
	s.mu.Unlock()
	if !claimed {
		return
	}

	if exitErr != nil {
		code := -1
		var typed *encoder.ExitError
		if errors.As(exitErr, &typed) {
			code = typed.Code
		}
		s.deps.Publisher.Publish(s.id, events.EncoderWarning(s.id, exitErr.Error(), code))
		s.log(slog.LevelWarn, "encoder exited unexpectedly", "code", code)
	} else {
		s.log(slog.LevelInfo, "encoder finished")
	}
	s.release()
}

func (s *Session) isStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == models.StatusStreaming
}

// emitPreview publishes under the lock so no frame can follow the status
// change that ends streaming.
func (s *Session) emitPreview(image []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != models.StatusStreaming {
		return
	}
	s.deps.Publisher.Publish(s.id, events.PreviewFrame(s.id, image))
	s.deps.Metrics.PreviewFrame()
}

func (s *Session) handleDiagnosticLine(line string) {
	update := stats.Extract(line)
	if update.Empty() {
		if encoderErrorLine.MatchString(line) {
			s.log(slog.LevelWarn, "encoder: "+line)
		} else {
			s.logger.Debug("encoder output", "line", line)
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.statsAttached {
		return
	}
	s.stats = update.Apply(s.stats, time.Now().UTC())
	s.deps.Publisher.Publish(s.id, events.StatsUpdated(s.id, s.stats))
}

// log writes to the structured logger and mirrors the line to the global
// topic for observers.
func (s *Session) log(level slog.Level, msg string, attrs ...any) {
	s.logger.Log(context.Background(), level, msg, attrs...)
	s.deps.Publisher.Publish(events.GlobalTopic, events.Log(s.id, levelName(level), msg))
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

func wait(ctx context.Context, done <-chan struct{}) error {
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
