// Package audio manages the PulseAudio null sinks that carry page audio from
// a browser to its encoder. Each browser plays into a sink of its own and the
// encoder records the sink's monitor source.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	DefaultBinary = "pactl"
	DefaultPrefix = "studio"
)

// ErrSinkUnavailable marks a sink that could not be loaded.
var ErrSinkUnavailable = errors.New("audio sink unavailable")

// CommandFunc builds a pactl invocation. It matches exec.CommandContext so
// tests can substitute another binary.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Sink is a loaded null sink.
type Sink struct {
	Name   string
	Module int
}

// Monitor names the source that records what is played into the sink.
func (s Sink) Monitor() string {
	if s.Name == "" {
		return ""
	}
	return s.Name + ".monitor"
}

// Sinks loads and unloads null sinks through pactl.
type Sinks struct {
	binary  string
	prefix  string
	command CommandFunc
	logger  *slog.Logger
}

// Option customises Sinks.
type Option func(*Sinks)

// WithCommandFunc overrides how pactl is invoked.
func WithCommandFunc(fn CommandFunc) Option {
	return func(s *Sinks) {
		if fn != nil {
			s.command = fn
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sinks) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSinks returns a sink manager using binary, or pactl when empty. Sink
// names start with prefix.
func NewSinks(binary, prefix string, options ...Option) *Sinks {
	if strings.TrimSpace(binary) == "" {
		binary = DefaultBinary
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultPrefix
	}
	s := &Sinks{
		binary:  strings.TrimSpace(binary),
		prefix:  strings.TrimSpace(prefix),
		command: exec.CommandContext,
		logger:  slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Create loads a fresh null sink with a unique name.
func (s *Sinks) Create(ctx context.Context) (Sink, error) {
	name := s.prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	cmd := s.command(ctx, s.binary,
		"load-module", "module-null-sink",
		"sink_name="+name,
		"sink_properties=device.description="+name,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return Sink{}, fmt.Errorf("%w: load %s: %w: %s", ErrSinkUnavailable, name, err, strings.TrimSpace(stderr.String()))
	}
	module, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return Sink{}, fmt.Errorf("%w: unexpected module index %q", ErrSinkUnavailable, strings.TrimSpace(string(out)))
	}
	s.logger.Debug("audio sink loaded", "sink", name, "module", module)
	return Sink{Name: name, Module: module}, nil
}

// Remove unloads sink. Removing the zero Sink is a no-op.
func (s *Sinks) Remove(ctx context.Context, sink Sink) error {
	if sink.Name == "" {
		return nil
	}
	cmd := s.command(ctx, s.binary, "unload-module", strconv.Itoa(sink.Module))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("unload audio sink %s: %w: %s", sink.Name, err, strings.TrimSpace(string(out)))
	}
	s.logger.Debug("audio sink unloaded", "sink", sink.Name, "module", sink.Module)
	return nil
}
