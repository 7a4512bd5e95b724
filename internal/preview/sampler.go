// Package preview periodically samples low-quality stills of a running
// session for monitoring.
package preview

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"livestream-studio/internal/surface"
)

// DefaultInterval matches the preview cadence of the studio UI.
const DefaultInterval = 2 * time.Second

// Snapshotter captures a still image. An empty result means "nothing this
// tick" and is not an error.
type Snapshotter interface {
	TakeSnapshot(ctx context.Context, region surface.Region) []byte
}

// Config tunes a Sampler.
type Config struct {
	Interval time.Duration
	Region   surface.Region
}

// Counters reports sampler activity.
type Counters struct {
	Ticks   uint64
	Skipped uint64
	Emitted uint64
}

// Sampler requests a snapshot on every tick and hands non-empty results to
// emit. At most one snapshot is outstanding; ticks that arrive while one is
// in flight are skipped, not queued.
type Sampler struct {
	cfg    Config
	source Snapshotter
	active func() bool
	emit   func([]byte)

	mu      sync.Mutex
	cancel  context.CancelFunc
	loopWG  sync.WaitGroup
	shotWG  sync.WaitGroup
	running bool

	inFlight atomic.Bool
	ticks    atomic.Uint64
	skipped  atomic.Uint64
	emitted  atomic.Uint64
}

// New builds a sampler. active is consulted before every snapshot and again
// before emitting, so nothing is emitted once it reports false.
func New(cfg Config, source Snapshotter, active func() bool, emit func([]byte)) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if active == nil {
		active = func() bool { return true }
	}
	return &Sampler{cfg: cfg, source: source, active: active, emit: emit}
}

// Start launches the sampling loop. Calling Start on a running sampler is a
// no-op.
func (s *Sampler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.loopWG.Add(1)
	go s.loop(loopCtx)
}

// Stop cancels the loop and waits for any in-flight snapshot to finish.
// It is safe to call more than once.
func (s *Sampler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.running = false
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.loopWG.Wait()
	s.shotWG.Wait()
}

// Counters returns a snapshot of the activity counters.
func (s *Sampler) Counters() Counters {
	return Counters{
		Ticks:   s.ticks.Load(),
		Skipped: s.skipped.Load(),
		Emitted: s.emitted.Load(),
	}
}

func (s *Sampler) loop(ctx context.Context) {
	defer s.loopWG.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sampler) tick(ctx context.Context) {
	s.ticks.Add(1)
	if ctx.Err() != nil || !s.active() {
		s.skipped.Add(1)
		return
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		return
	}
	s.shotWG.Add(1)
	go func() {
		defer s.shotWG.Done()
		defer s.inFlight.Store(false)
		image := s.source.TakeSnapshot(ctx, s.cfg.Region)
		if len(image) == 0 || ctx.Err() != nil || !s.active() {
			return
		}
		s.emitted.Add(1)
		if s.emit != nil {
			s.emit(image)
		}
	}()
}
