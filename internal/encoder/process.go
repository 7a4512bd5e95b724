package encoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"livestream-studio/internal/models"
)

const (
	pipeBufferSize = 64 * 1024
	// waitDelay bounds how long Wait keeps draining stderr after the
	// process has been killed.
	waitDelay = 5 * time.Second
)

// CommandFunc builds the command for a spawn. It matches exec.CommandContext
// so tests can substitute another binary.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Adapter builds arguments for and spawns encoder processes. It holds no
// per-session state and may be shared between sessions.
type Adapter struct {
	opts    Options
	command CommandFunc
	logger  *slog.Logger
}

// AdapterOption customises an Adapter.
type AdapterOption func(*Adapter)

// WithCommandFunc overrides how processes are constructed.
func WithCommandFunc(fn CommandFunc) AdapterOption {
	return func(a *Adapter) {
		if fn != nil {
			a.command = fn
		}
	}
}

// WithLogger sets the logger used for process lifecycle messages.
func WithLogger(logger *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAdapter constructs an Adapter for the given options.
func NewAdapter(opts Options, options ...AdapterOption) *Adapter {
	a := &Adapter{
		opts:    opts.withDefaults(),
		command: exec.CommandContext,
		logger:  slog.Default(),
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

// Options returns the effective options.
func (a *Adapter) Options() Options {
	return a.opts
}

// BuildArguments returns the argument list for cfg and in using the adapter
// options.
func (a *Adapter) BuildArguments(cfg models.SessionConfig, in Input) ([]string, error) {
	return BuildArguments(a.opts, cfg, in)
}

// Spawn starts the encoder binary with args. Diagnostic output (stderr) is
// copied to diagnostics; once Done is closed no further writes happen.
// The process lifetime is not tied to ctx, which only gates the start.
func (a *Adapter) Spawn(ctx context.Context, args []string, diagnostics io.Writer) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := a.command(procCtx, a.opts.Binary, args...)
	if diagnostics != nil {
		cmd.Stderr = diagnostics
	}
	cmd.WaitDelay = waitDelay

	var stdin io.WriteCloser
	if a.opts.InputMode != InputDisplay {
		pipe, err := cmd.StdinPipe()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("%w: stdin pipe: %w", ErrSpawn, err)
		}
		stdin = pipe
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: start %s: %w", ErrSpawn, a.opts.Binary, err)
	}

	proc := &Process{
		cmd:    cmd,
		cancel: cancel,
		done:   make(chan struct{}),
		stdin:  stdin,
		logger: a.logger.With("pid", cmd.Process.Pid),
	}
	proc.logger.Debug("encoder started", "binary", a.opts.Binary)

	go func() {
		err := cmd.Wait()
		proc.setExit(err)
		status := proc.ExitStatus()
		if status.Clean {
			proc.logger.Info("encoder exited")
		} else {
			proc.logger.Warn("encoder exited with error", "code", status.Code, "killed", status.Killed, "error", err)
		}
		cancel()
		close(proc.done)
	}()
	return proc, nil
}

// ExitStatus describes how a process ended.
type ExitStatus struct {
	Code   int
	Clean  bool
	Killed bool
	Err    error
}

// Process is one running encoder.
type Process struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}
	stdin  io.WriteCloser
	logger *slog.Logger

	killOnce sync.Once
	pipeOnce sync.Once
	killed   atomic.Bool

	mu   sync.Mutex
	exit ExitStatus
}

// Done is closed after the process has exited and its diagnostic output has
// been drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitStatus returns the exit details. It is only meaningful after Done.
func (p *Process) ExitStatus() ExitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

// ExitErr returns an *ExitError for a non-zero exit that was not caused by
// Kill, and nil otherwise.
func (p *Process) ExitErr() error {
	status := p.ExitStatus()
	if status.Clean || status.Killed {
		return nil
	}
	return &ExitError{Code: status.Code, Err: status.Err}
}

// Stdin exposes the input sink, or nil when the encoder reads a display.
func (p *Process) Stdin() io.WriteCloser {
	return p.stdin
}

// PipeInputFrom copies r into the process input until either side closes.
// Writes block while ffmpeg is not reading, so frames are never queued here.
// It is a no-op for display input and after the first call.
func (p *Process) PipeInputFrom(r io.Reader) {
	if p.stdin == nil || r == nil {
		return
	}
	p.pipeOnce.Do(func() {
		go func() {
			buf := make([]byte, pipeBufferSize)
			_, err := io.CopyBuffer(p.stdin, r, buf)
			_ = p.stdin.Close()
			if err != nil && !p.killed.Load() && !errors.Is(err, io.ErrClosedPipe) {
				p.logger.Debug("encoder input pipe ended", "error", err)
			}
		}()
	})
}

// Kill terminates the process if it is still running and waits for it to
// exit. It is safe to call more than once.
func (p *Process) Kill() error {
	p.killOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		p.killed.Store(true)
		p.cancel()
	})
	<-p.done
	return nil
}

func (p *Process) setExit(err error) {
	status := ExitStatus{Err: err, Killed: p.killed.Load()}
	if err == nil {
		status.Clean = true
	} else {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status.Code = exitErr.ExitCode()
		} else {
			status.Code = -1
		}
	}
	p.mu.Lock()
	p.exit = status
	p.mu.Unlock()
}
