package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type lookupFunc func(key string) (string, bool)

// applyEnv overlays STUDIO_* variables onto the decoded file values.
func (c *Config) applyEnv(lookup lookupFunc) error {
	get := func(key string) (string, bool) {
		value, ok := lookup(key)
		if !ok {
			return "", false
		}
		value = strings.TrimSpace(value)
		return value, value != ""
	}

	textVars := []struct {
		key  string
		dest *string
	}{
		{"STUDIO_ADDR", &c.Server.Addr},
		{"STUDIO_TLS_CERT", &c.Server.TLSCert},
		{"STUDIO_TLS_KEY", &c.Server.TLSKey},
		{"STUDIO_LOG_LEVEL", &c.Logging.Level},
		{"STUDIO_LOG_FORMAT", &c.Logging.Format},
		{"STUDIO_CHROME_PATH", &c.Surface.ChromePath},
		{"STUDIO_COMPOSITOR_URL", &c.Surface.CompositorURL},
		{"STUDIO_FFMPEG", &c.Encoder.Binary},
		{"STUDIO_INGEST_URL", &c.Encoder.IngestURL},
		{"STUDIO_INPUT_MODE", &c.Encoder.InputMode},
		{"STUDIO_DISPLAY", &c.Encoder.Display},
		{"STUDIO_PACTL", &c.Audio.Pactl},
		{"STUDIO_REDIS_ADDR", &c.Events.RedisAddr},
		{"STUDIO_HISTORY_DRIVER", &c.History.Driver},
		{"STUDIO_HISTORY_DSN", &c.History.DSN},
		{"STUDIO_OVERLAY_LAYOUT", &c.Overlay.LayoutFile},
		{"STUDIO_WORK_DIR", &c.Runtime.WorkDir},
	}
	for _, entry := range textVars {
		if value, ok := get(entry.key); ok {
			*entry.dest = value
		}
	}

	bools := []struct {
		key  string
		dest *bool
	}{
		{"STUDIO_HEADLESS", &c.Surface.Headless},
		{"STUDIO_NO_SANDBOX", &c.Surface.NoSandbox},
		{"STUDIO_AUDIO", &c.Audio.Enabled},
	}
	for _, entry := range bools {
		if value, ok := get(entry.key); ok {
			parsed, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("parse %s: %w", entry.key, err)
			}
			*entry.dest = parsed
		}
	}

	durations := []struct {
		key  string
		dest *Duration
	}{
		{"STUDIO_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout},
		{"STUDIO_NAVIGATION_TIMEOUT", &c.Surface.NavigationTimeout},
		{"STUDIO_CAPTURE_TIMEOUT", &c.Surface.CaptureTimeout},
		{"STUDIO_PREVIEW_INTERVAL", &c.Preview.Interval},
	}
	for _, entry := range durations {
		if value, ok := get(entry.key); ok {
			parsed, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("parse %s: %w", entry.key, err)
			}
			*entry.dest = Duration(parsed)
		}
	}
	return nil
}
