package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"livestream-studio/internal/encoder"
)

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return fmt.Errorf("server.addr %q: %w", c.Server.Addr, err)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("server.tls_cert and server.tls_key must be set together")
	}
	if c.Server.ShutdownTimeout < 0 {
		return errors.New("server.shutdown_timeout must not be negative")
	}
	switch c.Logging.Format {
	case "", "auto", "json", "text":
	default:
		return fmt.Errorf("logging.format %q must be auto, json or text", c.Logging.Format)
	}
	if err := c.validateSurface(); err != nil {
		return err
	}
	if err := c.validateEncoder(); err != nil {
		return err
	}
	if c.Audio.Enabled && strings.TrimSpace(c.Audio.Pactl) == "" {
		return errors.New("audio.pactl must be set when audio is enabled")
	}
	if c.Preview.Interval <= 0 {
		return errors.New("preview.interval must be positive")
	}
	if c.Events.Buffer <= 0 {
		return errors.New("events.buffer must be positive")
	}
	if c.Events.RedisMaxLen < 0 {
		return errors.New("events.redis_max_len must not be negative")
	}
	return c.validateHistory()
}

func (c *Config) validateSurface() error {
	if c.Surface.NavigationTimeout <= 0 {
		return errors.New("surface.navigation_timeout must be positive")
	}
	if c.Surface.CaptureTimeout < 0 {
		return errors.New("surface.capture_timeout must not be negative")
	}
	for name, quality := range map[string]int{
		"surface.snapshot_quality":   c.Surface.SnapshotQuality,
		"surface.screencast_quality": c.Surface.ScreencastQuality,
	} {
		if quality < 1 || quality > 100 {
			return fmt.Errorf("%s must be between 1 and 100", name)
		}
	}
	parsed, err := url.Parse(c.Surface.CompositorURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("surface.compositor_url %q is not an absolute URL", c.Surface.CompositorURL)
	}
	return nil
}

func (c *Config) validateEncoder() error {
	if strings.TrimSpace(c.Encoder.Binary) == "" {
		return errors.New("encoder.binary must be set")
	}
	if _, err := encoder.ParseInputMode(c.Encoder.InputMode); err != nil {
		return fmt.Errorf("encoder.input_mode: %w", err)
	}
	if strings.TrimSpace(c.Encoder.IngestURL) == "" {
		return errors.New("encoder.ingest_url must be set")
	}
	return nil
}

func (c *Config) validateHistory() error {
	switch c.History.Driver {
	case "memory":
	case "sqlite", "postgres":
		if strings.TrimSpace(c.History.DSN) == "" {
			return fmt.Errorf("history.dsn is required for the %s driver", c.History.Driver)
		}
	default:
		return fmt.Errorf("history.driver %q must be memory, sqlite or postgres", c.History.Driver)
	}
	return nil
}
