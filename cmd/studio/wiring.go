package main

import (
	"log/slog"

	"livestream-studio/internal/audio"
	"livestream-studio/internal/config"
	"livestream-studio/internal/deps"
	"livestream-studio/internal/encoder"
	"livestream-studio/internal/session"
	"livestream-studio/internal/surface"
)

func encoderOptions(cfg *config.Config) (encoder.Options, error) {
	mode, err := encoder.ParseInputMode(cfg.Encoder.InputMode)
	if err != nil {
		return encoder.Options{}, err
	}
	return encoder.Options{
		Binary:    cfg.Encoder.Binary,
		IngestURL: cfg.Encoder.IngestURL,
		InputMode: mode,
		Display:   cfg.Encoder.Display,
	}, nil
}

// sessionSettings maps the config onto per-session settings. Display input
// grabs the X display, so the surface does not stream frames.
func sessionSettings(cfg *config.Config, mode encoder.InputMode) session.Settings {
	capture := surface.CaptureScreencast
	if mode == encoder.InputDisplay {
		capture = surface.CaptureDisplay
	}
	return session.Settings{
		CompositorURL:     cfg.Surface.CompositorURL,
		NavigationTimeout: cfg.Surface.NavigationTimeout.Std(),
		CaptureTimeout:    cfg.Surface.CaptureTimeout.Std(),
		CaptureMode:       capture,
		ScreencastQuality: cfg.Surface.ScreencastQuality,
		PreviewInterval:   cfg.Preview.Interval.Std(),
	}
}

// audioSinks returns the sink manager when page audio is enabled.
func audioSinks(cfg *config.Config, logger *slog.Logger) *audio.Sinks {
	if !cfg.Audio.Enabled {
		return nil
	}
	return audio.NewSinks(cfg.Audio.Pactl, cfg.Audio.SinkPrefix, audio.WithLogger(logger))
}

// surfaceOptions configures the browser. Display input needs a visible
// window on the grabbed display.
func surfaceOptions(cfg *config.Config, mode encoder.InputMode, sinks *audio.Sinks, logger *slog.Logger) surface.Options {
	opts := surface.Options{
		ExecPath:        deps.ResolveChrome(cfg.Surface.ChromePath),
		Headless:        cfg.Surface.Headless,
		NoSandbox:       cfg.Surface.NoSandbox,
		SnapshotQuality: cfg.Surface.SnapshotQuality,
		Logger:          logger,
	}
	// A nil *audio.Sinks in the interface would look configured.
	if sinks != nil {
		opts.Audio = sinks
	}
	if mode == encoder.InputDisplay {
		opts.Headless = false
		opts.Display = cfg.Encoder.Display
	}
	return opts
}
