package session

import (
	"context"
	"errors"
	"io"
	"time"

	"livestream-studio/internal/encoder"
	"livestream-studio/internal/events"
	"livestream-studio/internal/models"
	"livestream-studio/internal/surface"
)

var (
	// ErrAlreadyRunning is returned by Start on a session that is not idle
	// or stopped.
	ErrAlreadyRunning = errors.New("session already running")
	// ErrDuplicateSession is returned when an id is already registered.
	ErrDuplicateSession = errors.New("duplicate session")
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrCaptureBusy is returned when the capture source can serve only one
	// session and another one holds it.
	ErrCaptureBusy = errors.New("capture source busy")
	// ErrStartInterrupted is returned by Start when Stop cancelled it.
	ErrStartInterrupted = errors.New("session start interrupted")
)

// Surface is the rendering surface a session drives.
type Surface interface {
	Launch(ctx context.Context, vp surface.Viewport) error
	NavigateAndWaitReady(ctx context.Context, url string, timeout time.Duration) error
	CaptureMediaStream(ctx context.Context, opts surface.CaptureOptions) (surface.MediaStream, error)
	TakeSnapshot(ctx context.Context, region surface.Region) []byte
	Close() error
}

// Process is a running encoder.
type Process interface {
	PipeInputFrom(r io.Reader)
	Done() <-chan struct{}
	ExitStatus() encoder.ExitStatus
	ExitErr() error
	Kill() error
}

// Pipeline builds encoder arguments and spawns encoder processes.
type Pipeline interface {
	BuildArguments(cfg models.SessionConfig, in encoder.Input) ([]string, error)
	Spawn(ctx context.Context, args []string, diagnostics io.Writer) (Process, error)
}

// Publisher receives session events. Publish must not block.
type Publisher interface {
	Publish(topic string, evt events.Event)
}

// Metrics receives lifecycle counters.
type Metrics interface {
	SessionStarted()
	SessionStopped(reason string)
	SessionStartFailed(stage string)
	EncoderExited(code int)
	PreviewFrame()
}

// EncoderPipeline adapts an *encoder.Adapter to Pipeline.
type EncoderPipeline struct {
	*encoder.Adapter
}

func (p EncoderPipeline) Spawn(ctx context.Context, args []string, diagnostics io.Writer) (Process, error) {
	proc, err := p.Adapter.Spawn(ctx, args, diagnostics)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, events.Event) {}

type nopMetrics struct{}

func (nopMetrics) SessionStarted()           {}
func (nopMetrics) SessionStopped(string)     {}
func (nopMetrics) SessionStartFailed(string) {}
func (nopMetrics) EncoderExited(int)         {}
func (nopMetrics) PreviewFrame()             {}
