package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"livestream-studio/internal/encoder"
	"livestream-studio/internal/history"
	"livestream-studio/internal/models"
)

const historyWriteTimeout = 5 * time.Second

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Settings   Settings
	Pipeline   Pipeline
	NewSurface func() Surface
	Publisher  Publisher
	History    history.Store
	Metrics    Metrics
	Logger     *slog.Logger
	// SingleSession allows at most one registered session, for capture
	// sources such as an X display that sessions cannot share.
	SingleSession bool
	// NewID overrides id generation in tests.
	NewID func() string
}

// Manager is the control surface used by the API and CLI. It owns the
// registry, creates sessions on demand and removes them once their
// teardown has finished.
type Manager struct {
	cfg      ManagerConfig
	registry *Registry
	logger   *slog.Logger

	// createMu makes the SingleSession check and the registration atomic.
	createMu sync.Mutex
}

// NewManager constructs a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if cfg.NewSurface == nil {
		return nil, fmt.Errorf("surface factory is required")
	}
	if cfg.Publisher == nil {
		cfg.Publisher = nopPublisher{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.History == nil {
		cfg.History = history.NewMemoryStore(0)
	}
	if cfg.NewID == nil {
		cfg.NewID = NewID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{cfg: cfg, logger: logger}
	m.registry = NewRegistry(m.build)
	return m, nil
}

// NewID returns a fresh session identifier.
func NewID() string {
	return "stream_" + uuid.NewString()
}

func (m *Manager) build(id string, cfg models.SessionConfig) *Session {
	return New(id, cfg, m.cfg.Settings, Dependencies{
		Surface:    m.cfg.NewSurface(),
		Pipeline:   m.cfg.Pipeline,
		Publisher:  m.cfg.Publisher,
		Metrics:    m.cfg.Metrics,
		Logger:     m.logger,
		OnTerminal: m.finish,
	})
}

// Registry exposes the underlying registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// CreateAndStart validates cfg, registers a new session and starts it. A
// validation failure happens before anything is registered or acquired. A
// start failure has already torn the session down when it is returned.
func (m *Manager) CreateAndStart(ctx context.Context, cfg models.SessionConfig) (models.Snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return models.Snapshot{}, err
	}
	sess, err := m.register(cfg)
	if err != nil {
		return models.Snapshot{}, err
	}
	if err := sess.Start(ctx); err != nil {
		// Finish has removed it already unless start never got going.
		m.registry.Remove(sess.ID())
		return sess.Status(), err
	}
	return sess.Status(), nil
}

func (m *Manager) register(cfg models.SessionConfig) (*Session, error) {
	m.createMu.Lock()
	defer m.createMu.Unlock()
	if m.cfg.SingleSession {
		if live := m.registry.ListAll(); len(live) > 0 {
			return nil, fmt.Errorf("%w: session %s holds the display", ErrCaptureBusy, live[0].ID())
		}
	}
	return m.registry.Create(m.cfg.NewID(), cfg)
}

// Stop stops the session with id.
func (m *Manager) Stop(ctx context.Context, id string) error {
	sess, ok := m.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess.Stop(ctx)
}

// Status returns the snapshot for id.
func (m *Manager) Status(id string) (models.Snapshot, error) {
	sess, ok := m.registry.Get(id)
	if !ok {
		return models.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess.Status(), nil
}

// ListAll returns snapshots of every registered session ordered by id.
func (m *Manager) ListAll() []models.Snapshot {
	sessions := m.registry.ListAll()
	out := make([]models.Snapshot, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Status())
	}
	return out
}

// History returns finished sessions, newest first.
func (m *Manager) History(ctx context.Context, limit int) ([]history.Entry, error) {
	return m.cfg.History.List(ctx, limit)
}

// Shutdown stops every session concurrently.
func (m *Manager) Shutdown(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, sess := range m.registry.ListAll() {
		sess := sess
		group.Go(func() error {
			if err := sess.stop(groupCtx, ReasonShutdown); err != nil {
				return fmt.Errorf("stop %s: %w", sess.ID(), err)
			}
			return nil
		})
	}
	return group.Wait()
}

// finish runs once per lifecycle after the terminal events are out.
func (m *Manager) finish(summary Summary) {
	m.registry.Remove(summary.ID)

	entry := history.Entry{
		SessionID:      summary.ID,
		KeyFingerprint: encoder.Fingerprint(summary.Config.DestinationKey),
		Resolution:     summary.Config.Resolution,
		FrameRate:      summary.Config.FrameRate,
		Bitrate:        summary.Config.Bitrate,
		Preset:         summary.Config.Preset,
		StartedAt:      summary.StartedAt,
		EndedAt:        summary.EndedAt,
		Reason:         summary.Reason,
		ExitCode:       summary.ExitCode,
		LastFPS:        summary.Stats.FPS,
		LastBitrate:    summary.Stats.Bitrate,
	}
	if summary.Err != nil {
		entry.Error = summary.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if err := m.cfg.History.Record(ctx, entry); err != nil {
		m.logger.Warn("record session history", "session_id", summary.ID, "error", err)
	}
}
